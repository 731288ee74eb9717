package vm

import (
	"sort"
	"sync/atomic"

	"github.com/sasha-s/go-deadlock"

	"ksched/defs"
)

const (
	PGSHIFT  = 12
	PGSIZE   = 1 << PGSHIFT
	PGOFFSET = PGSIZE - 1
	PGMASK   = ^uintptr(PGOFFSET)
	pgwords  = PGSIZE / 4
)

type Page_t [pgwords]uint32

type Vmseg_t struct {
	Start uintptr
	End   uintptr
}

// Vm_t is a user address space: a sorted list of anonymous regions backed
// by pages allocated on first touch.
type Vm_t struct {
	// lock for regions and pages
	deadlock.Mutex

	regions []Vmseg_t
	pages   map[uintptr]*Page_t
	freed   bool

	pgfltaken bool
}

func Mkvm() *Vm_t {
	return &Vm_t{pages: make(map[uintptr]*Page_t)}
}

func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

func pgrounddown(va uintptr) uintptr {
	return va & PGMASK
}

func pgroundup(va uintptr) uintptr {
	return (va + PGOFFSET) & PGMASK
}

// Vmadd_anon maps [start, start+sz) rounded out to pages.
func (as *Vm_t) Vmadd_anon(start, sz uintptr) defs.Err_t {
	if sz == 0 {
		return -defs.EINVAL
	}
	s := pgrounddown(start)
	e := pgroundup(start + sz)
	if e <= s {
		return -defs.EINVAL
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if as.freed {
		return -defs.EFAULT
	}
	for _, r := range as.regions {
		if s < r.End && r.Start < e {
			return -defs.EEXIST
		}
	}
	as.regions = append(as.regions, Vmseg_t{s, e})
	sort.Slice(as.regions, func(i, j int) bool {
		return as.regions[i].Start < as.regions[j].Start
	})
	return 0
}

func (as *Vm_t) _mapped(va uintptr) bool {
	as.Lockassert_pmap()
	i := sort.Search(len(as.regions), func(i int) bool {
		return as.regions[i].End > va
	})
	return i < len(as.regions) && as.regions[i].Start <= va
}

// Userword returns the kernel's handle on the 32-bit user word at va,
// allocating its page on first touch.
func (as *Vm_t) Userword(va uintptr) (*uint32, defs.Err_t) {
	if va%4 != 0 {
		return nil, -defs.EINVAL
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if as.freed || !as._mapped(va) {
		return nil, -defs.EFAULT
	}
	pva := pgrounddown(va)
	pg, ok := as.pages[pva]
	if !ok {
		pg = &Page_t{}
		as.pages[pva] = pg
	}
	return &pg[(va&PGOFFSET)/4], 0
}

func (as *Vm_t) Load32(va uintptr) (uint32, defs.Err_t) {
	p, err := as.Userword(va)
	if err != 0 {
		return 0, err
	}
	return atomic.LoadUint32(p), 0
}

func (as *Vm_t) Store32(va uintptr, v uint32) defs.Err_t {
	p, err := as.Userword(va)
	if err != 0 {
		return err
	}
	atomic.StoreUint32(p, v)
	return 0
}

// Fork returns a private copy of the address space.
func (as *Vm_t) Fork() (*Vm_t, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if as.freed {
		return nil, -defs.EFAULT
	}
	n := Mkvm()
	n.regions = append([]Vmseg_t(nil), as.regions...)
	for va, pg := range as.pages {
		npg := &Page_t{}
		for i := range pg {
			npg[i] = atomic.LoadUint32(&pg[i])
		}
		n.pages[va] = npg
	}
	return n, 0
}

// Uvmfree releases every region and page.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	as.regions = nil
	as.pages = nil
	as.freed = true
}

func (as *Vm_t) Freed() bool {
	as.Lock()
	defer as.Unlock()
	return as.freed
}

// Npages returns the number of resident pages.
func (as *Vm_t) Npages() int {
	as.Lock()
	defer as.Unlock()
	return len(as.pages)
}
