package sched

import (
	"github.com/google/btree"

	"ksched/defs"
)

// qent_t is a run queue entry. Queues hold thread ids; the machine's
// thread arena maps them back to threads.
type qent_t struct {
	dl  Ticks_t
	seq uint64
	tid defs.Tid_t
}

func edfless(a, b qent_t) bool {
	if a.dl != b.dl {
		return a.dl < b.dl
	}
	return a.seq < b.seq
}

func fifoless(a, b qent_t) bool {
	return a.seq < b.seq
}

// runq_t is an ordered run queue: by (deadline, arrival) for EDF, by
// arrival alone for FIFO.
type runq_t struct {
	t *btree.BTreeG[qent_t]
}

func mkedfq() *runq_t {
	return &runq_t{t: btree.NewG[qent_t](8, edfless)}
}

func mkfifoq() *runq_t {
	return &runq_t{t: btree.NewG[qent_t](8, fifoless)}
}

func (q *runq_t) push(e qent_t) {
	if _, dup := q.t.ReplaceOrInsert(e); dup {
		panic("runq: duplicate entry")
	}
}

func (q *runq_t) pop() (qent_t, bool) {
	return q.t.DeleteMin()
}

func (q *runq_t) peek() (qent_t, bool) {
	return q.t.Min()
}

func (q *runq_t) remove(e qent_t) bool {
	_, ok := q.t.Delete(e)
	return ok
}

func (q *runq_t) has(e qent_t) bool {
	return q.t.Has(e)
}

func (q *runq_t) len() int {
	return q.t.Len()
}

func (q *runq_t) iter(f func(qent_t) bool) {
	q.t.Ascend(func(e qent_t) bool {
		return f(e)
	})
}
