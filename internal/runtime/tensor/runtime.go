package tensor

import (
	"sync"
	"sync/atomic"
)

// workers bounds goroutine parallelism for Linear and MatMul. Work is split
// by output row, so results are identical for every worker count.
var workers atomic.Int32

func init() { workers.Store(1) }

// SetWorkers sets the kernel worker limit. Values below 1 mean sequential.
func SetWorkers(n int) {
	workers.Store(int32(min(max(n, 1), int(^uint32(0)>>1))))
}

// Workers reports the current kernel worker limit.
func Workers() int { return getWorkers() }

func getWorkers() int { return max(int(workers.Load()), 1) }

// parallelFor runs fn over [0, n) in at most maxWorkers contiguous chunks.
func parallelFor(n, maxWorkers int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}

	maxWorkers = min(maxWorkers, n)
	if maxWorkers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup

	chunk := (n + maxWorkers - 1) / maxWorkers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Go(func() { fn(lo, hi) })
	}

	wg.Wait()
}
