package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/montanaflynn/stats"
	exprand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"ksched/config"
	db "ksched/debug"
	"ksched/defs"
	"ksched/kernel"
	"ksched/proc"
	"ksched/sched"
	"ksched/vm"
)

const (
	FUTEXVA   = 0x10000000
	NSPIN     = 50 // traps per spin job
	MAXSVC    = 8
	PERIOD    = 20 // in ticks
	PBUDGET   = 2
	NPINGPONG = 16
)

var (
	cfgpath = flag.String("config", "", "yaml config file")
	nticks  = flag.Int("ticks", 2000, "ticks to run")
	lambda  = flag.Float64("lambda", 0.2, "mean spawns per tick")
	nrt     = flag.Int("periodic", 2, "periodic tasks")
	seed    = flag.Int64("seed", 0, "random seed; 0 uses the time")
)

// spin traps into the kernel argv[1] times, as a compute-bound program
// taking timer interrupts would.
func spin(u *proc.Uctx_t) int {
	n := NSPIN
	if len(u.Argv) > 1 {
		n, _ = strconv.Atoi(u.Argv[1])
	}
	for i := 0; i < n; i++ {
		u.Trap(defs.TIMER, 0)
	}
	return 0
}

func sleeper(u *proc.Uctx_t) int {
	us := 1000
	if len(u.Argv) > 1 {
		us, _ = strconv.Atoi(u.Argv[1])
	}
	if u.Usleep(us) != 0 {
		return 1
	}
	return 0
}

// forker forks two spinning children and waits for both.
func forker(u *proc.Uctx_t) int {
	for i := 0; i < 2; i++ {
		if _, err := u.Fork(spin); err != 0 {
			return 1
		}
	}
	for i := 0; i < 2; i++ {
		if _, st, err := u.Waitpid(defs.WAIT_ANY, 0); err != 0 || defs.Wexitstatus(st) != 0 {
			return 2
		}
	}
	return 0
}

// pingpong bounces a futex word between the main thread and a helper.
func pingpong(u *proc.Uctx_t) int {
	if err := u.Mmap(FUTEXVA, vm.PGSIZE); err != 0 {
		return 1
	}
	turn := func(u *proc.Uctx_t, mine uint32) int {
		for i := 0; i < NPINGPONG; i++ {
			for {
				v, err := u.Load32(FUTEXVA)
				if err != 0 {
					return 1
				}
				if v == mine {
					break
				}
				u.Futex(FUTEXVA, defs.FUTEX_WAIT, v, 0)
			}
			u.Store32(FUTEXVA, mine^1)
			u.Futex(FUTEXVA, defs.FUTEX_WAKE, 1, 0)
		}
		return 0
	}
	stack := uintptr(proc.USTACKTOP - proc.USTACKSZ/2)
	_, err := u.Spawnthread(stack, func(u *proc.Uctx_t) int {
		return turn(u, 1)
	}, 0, defs.FORK_THREAD)
	if err != 0 {
		return 2
	}
	return turn(u, 0)
}

// periodic runs a few jobs, each a short burst of work followed by a
// sleep until the next release.
func periodic(u *proc.Uctx_t) int {
	tick := int(u.T.Machine().Cfg.Tick / time.Microsecond)
	for {
		for i := 0; i < 4; i++ {
			u.Trap(defs.TIMER, 0)
		}
		if u.Usleep(PERIOD*tick) != 0 {
			return 0
		}
	}
}

func images() proc.Images_t {
	return proc.Images_t{
		"/bin/spin":     spin,
		"/bin/sleep":    sleeper,
		"/bin/forker":   forker,
		"/bin/pingpong": pingpong,
		"/bin/periodic": periodic,
		"/bin/bad":      nil,
	}
}

type workload_t struct {
	path string
	argv func(r *rand.Rand) []string
}

func zipf(r *rand.Rand) uint64 {
	z := rand.NewZipf(r, 2.0, 1.0, MAXSVC-1)
	return z.Uint64() + 1
}

var workloads = []workload_t{
	{"/bin/spin", func(r *rand.Rand) []string {
		return []string{strconv.Itoa(int(zipf(r)) * NSPIN / 4)}
	}},
	{"/bin/sleep", func(r *rand.Rand) []string {
		return []string{strconv.Itoa(int(r.ExpFloat64() * 2000))}
	}},
	{"/bin/forker", func(r *rand.Rand) []string { return nil }},
	{"/bin/pingpong", func(r *rand.Rand) []string { return nil }},
}

func main() {
	flag.Parse()
	cfg, err := config.Load(*cfgpath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	r := rand.New(rand.NewSource(*seed))
	// drive ticks from here so arrivals line up with them
	cfg.Manual = true

	k, err := kernel.Boot(cfg, images())
	if err != nil {
		fmt.Fprintf(os.Stderr, "boot: %v\n", err)
		os.Exit(1)
	}
	defer k.Shutdown()

	for i := 0; i < *nrt; i++ {
		rt := sched.Rt_t{Period: PERIOD, Deadline: PERIOD, Budget: PBUDGET}
		if _, err := k.Spawn_rt("/bin/periodic", sched.PERIODIC, rt); err != 0 {
			db.DPrintf(db.ALWAYS, "periodic %d refused: %v", i, err)
		}
	}
	if _, err := k.Spawn("/bin/bad"); err != -defs.ENOEXEC {
		db.DFatalf("spawn /bin/bad: %v", err)
	}

	arrivals := distuv.Poisson{Lambda: *lambda, Src: exprand.NewSource(uint64(*seed))}
	var nspawn, nfail int
	var nprocs []float64
	start := time.Now()
	for tick := 0; tick < *nticks; tick++ {
		n := int(arrivals.Rand())
		for i := 0; i < n; i++ {
			w := workloads[r.Intn(len(workloads))]
			if _, err := k.Spawn(w.path, w.argv(r)...); err != 0 {
				nfail++
			} else {
				nspawn++
			}
		}
		k.M.Tick()
		nprocs = append(nprocs, float64(k.Nprocs()))
		time.Sleep(cfg.Tick)
	}
	db.DPrintf(db.SIM, "arrivals done, %d procs", k.Nprocs())
	// let stragglers finish
	for i := 0; i < 10*PERIOD && k.Nprocs() > 1+*nrt; i++ {
		k.M.Tick()
		time.Sleep(cfg.Tick)
	}

	fmt.Printf("=== %v ticks in %v, seed %d\n", humanize.Comma(int64(*nticks)), time.Since(start).Round(time.Millisecond), *seed)
	fmt.Printf("spawned %v failed %v\n", humanize.Comma(int64(nspawn)), humanize.Comma(int64(nfail)))
	mean, _ := stats.Mean(nprocs)
	p99, _ := stats.Percentile(nprocs, 99)
	hi, _ := stats.Max(nprocs)
	fmt.Printf("procs per tick: mean %.2f p99 %.0f max %.0f\n", mean, p99, hi)
	fmt.Println(k.Stats())
}
