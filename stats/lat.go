package stats

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
)

// Lat_t keeps the most recent samples of a latency in a ring.
type Lat_t struct {
	sync.Mutex
	samples []float64
	next    int
	n       uint64
}

func MkLat(nsample int) *Lat_t {
	if nsample <= 0 {
		nsample = 1
	}
	return &Lat_t{samples: make([]float64, 0, nsample)}
}

func (l *Lat_t) Add(d time.Duration) {
	l.Lock()
	defer l.Unlock()
	l.n++
	if len(l.samples) < cap(l.samples) {
		l.samples = append(l.samples, float64(d))
		return
	}
	l.samples[l.next] = float64(d)
	l.next = (l.next + 1) % len(l.samples)
}

func (l *Lat_t) Summary() Summary_t {
	l.Lock()
	data := stats.Float64Data(append([]float64(nil), l.samples...))
	n := l.n
	l.Unlock()
	return Summarize(data, n)
}

type Summary_t struct {
	N    uint64
	Mean time.Duration
	P50  time.Duration
	P99  time.Duration
	Max  time.Duration
}

// Summarize computes a summary of data, which holds nanoseconds; n is the
// total number of samples ever observed.
func Summarize(data stats.Float64Data, n uint64) Summary_t {
	s := Summary_t{N: n}
	if data.Len() == 0 {
		return s
	}
	mean, _ := data.Mean()
	p50, _ := data.Percentile(50)
	p99, _ := data.Percentile(99)
	max, _ := data.Max()
	s.Mean = time.Duration(mean)
	s.P50 = time.Duration(p50)
	s.P99 = time.Duration(p99)
	s.Max = time.Duration(max)
	return s
}

func (s Summary_t) String() string {
	return fmt.Sprintf("n %v mean %v p50 %v p99 %v max %v", humanize.Comma(int64(s.N)), s.Mean, s.P50, s.P99, s.Max)
}

// Fraction summarizes samples that are ratios in [0,1].
func Fraction(xs []float64) (mean, min float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	mean, _ = stats.Mean(xs)
	min, _ = stats.Min(xs)
	return mean, min
}
