package raster

import (
	"image"
	"runtime"
	"sync"

	"github.com/pbnjay/memory"
)

const (
	minBlockRows = 16
	maxBlockRows = 512
)

func DefaultWorkers() int { return runtime.NumCPU() }

// BlockRows picks how many image rows go into each block (and each
// strip of a written file), so that all the blocks in flight at once
// fit comfortably into the memory of the machine.
func BlockRows(width, nWorkers int) int {
	if width <= 0 {
		return minBlockRows
	}
	if nWorkers < 1 {
		nWorkers = 1
	}

	budget := memory.TotalMemory() / 8 // don't take more than an eighth of the box
	if budget == 0 {
		budget = 1 << 30
	}

	// A block exists as float64s a few times over while it is being
	// read, warped and encoded.
	perRow := uint64(width) * 8 * 4
	rows := int(budget / uint64(nWorkers) / perRow)

	if rows < minBlockRows {
		return minBlockRows
	} else if rows > maxBlockRows {
		return maxBlockRows
	}
	return rows
}

// Bands splits r into full-width horizontal bands of the given height;
// the last may be shorter.
func Bands(r image.Rectangle, rows int) []image.Rectangle {
	if rows < 1 {
		rows = 1
	}
	bands := []image.Rectangle{}
	for y := r.Min.Y; y < r.Max.Y; y += rows {
		bands = append(bands, image.Rect(r.Min.X, y, r.Max.X, imin(y+rows, r.Max.Y)))
	}
	return bands
}

type blockResult struct {
	I   int
	Err error
}

// ForEachBlock uses a pool of goroutines to run fn over every block
// index in [0,nBlocks). Each fn must only touch its own block's
// output. If any fail, the error from the lowest numbered block is
// returned.
func ForEachBlock(nBlocks, nWorkers int, fn func(i int) error) error {
	if nWorkers < 1 {
		nWorkers = 1
	}

	var wg sync.WaitGroup
	jobsChan := make(chan int, nBlocks)
	resultsChan := make(chan blockResult, nBlocks)

	// Kick off worker pool
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()
			for job := range jobsChan {
				resultsChan <- blockResult{job, fn(job)}
			}
		}()
	}

	// Feed in jobs
	for i := 0; i < nBlocks; i++ {
		jobsChan <- i
	}

	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	// results processor
	var first *blockResult
	for result := range resultsChan {
		if result.Err != nil && (first == nil || result.I < first.I) {
			r := result
			first = &r
		}
	}
	if first != nil {
		return first.Err
	}
	return nil
}

func imin(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func imax(a, b int) int {
	if a > b {
		return a
	}
	return b
}
