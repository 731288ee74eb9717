package hashtable

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(t *testing.T, ht *Hashtable_t[int, int], n int) {
	for i := 0; i < n; i++ {
		ht.Set(i, i)
		v, ok := ht.Get(i)
		require.True(t, ok, "%v key", i)
		require.Equal(t, i, v, "%v val", i)
	}
}

const SZ = 10

func TestSimple(t *testing.T) {
	ht := MkHash[int, int](SZ)

	fill(t, ht, 3*SZ)
	assert.Equal(t, 3*SZ, ht.Size())
	for i := 1; i < 3*SZ; i++ {
		ht.Del(i)
		v, ok := ht.Get(0)
		assert.True(t, ok)
		assert.Equal(t, 0, v)
		_, ok = ht.Get(i)
		assert.False(t, ok, "%v key", i)
	}
	assert.Equal(t, 1, ht.Size())
	assert.Panics(t, func() { ht.Del(7) })
}

func TestSetExisting(t *testing.T) {
	ht := MkHash[int, string](SZ)
	v, ok := ht.Set(5, "a")
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	v, ok = ht.Set(5, "b")
	assert.False(t, ok)
	assert.Equal(t, "a", v)
}

func TestIter(t *testing.T) {
	ht := MkHash[int, int](SZ)
	fill(t, ht, 25)
	sum := 0
	ht.Iter(func(k, v int) bool {
		sum += v
		return false
	})
	assert.Equal(t, 300, sum)
	n := 0
	stopped := ht.Iter(func(k, v int) bool {
		n++
		return n == 3
	})
	assert.True(t, stopped)
	assert.Equal(t, 3, n)
	assert.Len(t, ht.Elems(), 25)
}

const NPROC = 4

func doop(t *testing.T, ht *Hashtable_t[int, int], k int, v int) {
	_, b := ht.Set(k, v)
	assert.True(t, b, "%v key already exists", k)
	r, ok := ht.Get(k)
	assert.True(t, ok, "%v key", k)
	assert.Equal(t, v, r)
	ht.Del(k)
	_, ok = ht.Get(k)
	assert.False(t, ok, "%v key", k)
}

func TestManyReaderOneWriter(t *testing.T) {
	ht := MkHash[int, int](SZ)
	fill(t, ht, SZ)

	var wg sync.WaitGroup
	done := int32(0)
	var nreads, nwrites atomic.Int64
	for p := 0; p < NPROC; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(id)))
			for atomic.LoadInt32(&done) == 0 {
				v := r.Intn(SZ)
				if id == 0 {
					doop(t, ht, 1000+v, v)
					nwrites.Add(1)
				} else {
					x, ok := ht.Get(v)
					if !ok || x != v {
						t.Errorf("%v key", v)
						return
					}
					nreads.Add(1)
				}
			}
		}(p)
	}
	time.Sleep(100 * time.Millisecond)
	atomic.StoreInt32(&done, 1)
	wg.Wait()
	assert.Greater(t, nreads.Load(), int64(0))
	assert.Greater(t, nwrites.Load(), int64(0))
}
