package hashtable

import (
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/constraints"
)

// Hashtable_t maps integer ids (pids, tids) to values. Readers never
// lock; writers lock one bucket. Buckets keep elements sorted by key
// hash.
type Hashtable_t[K constraints.Integer, V any] struct {
	table []*bucket_t[K, V]
	n     atomic.Int64
}

type elem_t[K constraints.Integer, V any] struct {
	key     K
	value   V
	keyHash uint32
	next    atomic.Pointer[elem_t[K, V]]
}

type bucket_t[K constraints.Integer, V any] struct {
	sync.Mutex
	first atomic.Pointer[elem_t[K, V]]
}

func MkHash[K constraints.Integer, V any](size int) *Hashtable_t[K, V] {
	ht := &Hashtable_t[K, V]{}
	ht.table = make([]*bucket_t[K, V], size)
	for i := range ht.table {
		ht.table[i] = &bucket_t[K, V]{}
	}
	return ht
}

func (ht *Hashtable_t[K, V]) String() string {
	s := ""
	for i, b := range ht.table {
		if b.first.Load() != nil {
			s += fmt.Sprintf("b %d:\n", i)
			for e := b.first.Load(); e != nil; e = e.next.Load() {
				s += fmt.Sprintf("(%v, %v), ", e.keyHash, e.key)
			}
			s += "\n"
		}
	}
	return s
}

func (ht *Hashtable_t[K, V]) Size() int {
	return int(ht.n.Load())
}

func (ht *Hashtable_t[K, V]) Get(key K) (V, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts key if it is absent and returns (value, true). If key is
// present it returns the existing value and false.
func (ht *Hashtable_t[K, V]) Set(key K, value V) (V, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	add := func(last *elem_t[K, V]) {
		n := &elem_t[K, V]{key: key, value: value, keyHash: kh}
		if last == nil {
			n.next.Store(b.first.Load())
			b.first.Store(n)
		} else {
			n.next.Store(last.next.Load())
			last.next.Store(n)
		}
		ht.n.Add(1)
	}

	var last *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			return e.value, false
		}
		if kh < e.keyHash {
			add(last)
			return value, true
		}
		last = e
	}
	add(last)
	return value, true
}

func (ht *Hashtable_t[K, V]) Del(key K) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()

	var last *elem_t[K, V]
	for e := b.first.Load(); e != nil; e = e.next.Load() {
		if e.keyHash == kh && e.key == key {
			if last == nil {
				b.first.Store(e.next.Load())
			} else {
				last.next.Store(e.next.Load())
			}
			ht.n.Add(-1)
			return
		}
		if kh < e.keyHash {
			panic("del of non-existing key")
		}
		last = e
	}
	panic("del of non-existing key")
}

// Iter calls f on every element until f returns true. Iter observes a
// consistent view of each bucket but not of the whole table.
func (ht *Hashtable_t[K, V]) Iter(f func(K, V) bool) bool {
	for _, b := range ht.table {
		for e := b.first.Load(); e != nil; e = e.next.Load() {
			if f(e.key, e.value) {
				return true
			}
		}
	}
	return false
}

func (ht *Hashtable_t[K, V]) Elems() []V {
	vs := make([]V, 0, ht.Size())
	ht.Iter(func(_ K, v V) bool {
		vs = append(vs, v)
		return false
	})
	return vs
}

func (ht *Hashtable_t[K, V]) hash(keyHash uint32) int {
	return int(keyHash % uint32(len(ht.table)))
}

func khash[K constraints.Integer](key K) uint32 {
	return uint32(2654435761) * uint32(key)
}
