package stats

import (
	"reflect"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

type Counter_t int64
type Nanos_t int64

func (c *Counter_t) Inc() {
	atomic.AddInt64((*int64)(c), 1)
}

func (c *Counter_t) Get() int64 {
	return atomic.LoadInt64((*int64)(c))
}

func (n *Nanos_t) Add(d time.Duration) {
	atomic.AddInt64((*int64)(n), int64(d))
}

func (n *Nanos_t) Get() time.Duration {
	return time.Duration(atomic.LoadInt64((*int64)(n)))
}

// Stats2String prints every Counter_t and Nanos_t field of the struct st.
func Stats2String(st interface{}) string {
	v := reflect.ValueOf(st)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Int()
			s += "\n\t#" + v.Type().Field(i).Name + ": " + humanize.Comma(n)
		}
		if strings.HasSuffix(t, "Nanos_t") {
			n := v.Field(i).Int()
			s += "\n\t#" + v.Type().Field(i).Name + ": " + time.Duration(n).String()
		}
	}
	return s + "\n"
}
