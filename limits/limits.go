package limits

import "sync/atomic"

type Sysatomic_t int64

type Syslimit_t struct {
	// live processes system-wide
	Sysprocs Sysatomic_t
	// live children of a single process; protected by the wait registry
	Noproc int
	// distinct futex addresses per process; protected by the futex map lock
	Futexes int
}

func MkSysLimit(sysprocs, noproc, futexes int) *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: Sysatomic_t(sysprocs),
		Noproc:   noproc,
		Futexes:  futexes,
	}
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64((*int64)(s), n)
}

func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64((*int64)(s), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), n)
	return false
}

// returns false if the limit has been reached.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}

func (s *Sysatomic_t) Left() int64 {
	return atomic.LoadInt64((*int64)(s))
}
