package ops

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

// convWorkers bounds how many goroutines Conv2D spreads output channels
// over. 0 and 1 both mean sequential. Wired to runtime.conv_workers.
var convWorkers atomic.Int32

// SetConvWorkers sets the Conv2D worker limit. Negative values clamp to 0.
func SetConvWorkers(n int) {
	convWorkers.Store(int32(min(max(n, 0), int(^uint32(0)>>1))))
}

func getConvWorkers() int { return int(convWorkers.Load()) }

// parallelFor runs fn over [0, n) in at most workers contiguous chunks.
func parallelFor(n, workers int, fn func(lo, hi int)) {
	workers = min(workers, n)
	if workers <= 1 {
		fn(0, n)
		return
	}

	var wg sync.WaitGroup

	chunk := (n + workers - 1) / workers
	for lo := 0; lo < n; lo += chunk {
		hi := min(lo+chunk, n)
		wg.Go(func() { fn(lo, hi) })
	}

	wg.Wait()
}

// im2col patch matrices are pooled by power-of-two capacity, from 1Ki up
// to 64Mi floats. Larger requests are allocated and dropped.
const (
	minScratchBits = 10
	maxScratchBits = 26
)

var scratchPools [maxScratchBits - minScratchBits + 1]sync.Pool

func scratchClass(n int) int {
	return max(bits.Len(uint(max(n-1, 0))), minScratchBits) - minScratchBits
}

// getScratch returns a zeroed slice of length n. Release it with putScratch.
func getScratch(n int) []float32 {
	cls := scratchClass(n)
	if cls >= len(scratchPools) {
		return make([]float32, n)
	}

	if buf, ok := scratchPools[cls].Get().([]float32); ok {
		buf = buf[:n]
		clear(buf)

		return buf
	}

	return make([]float32, n, 1<<(cls+minScratchBits))
}

func putScratch(buf []float32) {
	c := cap(buf)

	cls := scratchClass(c)
	if cls >= len(scratchPools) || c != 1<<(cls+minScratchBits) {
		return
	}

	scratchPools[cls].Put(buf[:c]) //nolint:staticcheck // slice header allocation is fine here
}
