package accnt

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type Accnt_t struct {
	// nanoseconds
	Userns int64
	Sysns  int64
	// for getting consistent snapshot of both times; not always needed
	sync.Mutex
}

type Rusage_t struct {
	Utime time.Duration
	Stime time.Duration
}

func (r Rusage_t) String() string {
	return fmt.Sprintf("{user %v sys %v}", r.Utime, r.Stime)
}

func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

// Sleep_time discounts the time a thread spent blocked since since from
// its system time.
func (a *Accnt_t) Sleep_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

func (a *Accnt_t) Add(n *Accnt_t) {
	u := atomic.LoadInt64(&n.Userns)
	s := atomic.LoadInt64(&n.Sysns)
	a.Lock()
	atomic.AddInt64(&a.Userns, u)
	atomic.AddInt64(&a.Sysns, s)
	a.Unlock()
}

func (a *Accnt_t) Fetch() Rusage_t {
	a.Lock()
	ru := a.To_rusage()
	a.Unlock()
	return ru
}

func (a *Accnt_t) To_rusage() Rusage_t {
	return Rusage_t{
		Utime: time.Duration(atomic.LoadInt64(&a.Userns)),
		Stime: time.Duration(atomic.LoadInt64(&a.Sysns)),
	}
}
