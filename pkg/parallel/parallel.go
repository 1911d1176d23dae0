// Package parallel splits index ranges across goroutines. Each call owns
// its goroutines; nothing outlives For.
package parallel

import (
	"runtime"
	"sync"
)

// MinChunk is the smallest range handed to a single goroutine. Inputs
// shorter than this run on the calling goroutine.
const MinChunk = 512

// Workers returns n if positive, otherwise runtime.NumCPU().
func Workers(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// For calls fn over disjoint half-open ranges that together cover [0, n).
// fn must only write to output slots inside its own range.
func For(n, workers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	workers = Workers(workers)
	chunks := (n + MinChunk - 1) / MinChunk
	if chunks > workers {
		chunks = workers
	}
	if chunks <= 1 {
		fn(0, n)
		return
	}

	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fn(start, end)
		}(start, end)
	}
	wg.Wait()
}
