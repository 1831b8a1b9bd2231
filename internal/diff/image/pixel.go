package image

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"visual-regression/internal/raster"
)

type PixelDiff struct {
	tolerance Tolerance
	workers   int
}

func NewPixelDiff(tolerance Tolerance) *PixelDiff {
	return &PixelDiff{
		tolerance: tolerance,
	}
}

// WithWorkers fixes the number of row partitions. Zero means GOMAXPROCS.
func (p *PixelDiff) WithWorkers(n int) *PixelDiff {
	return &PixelDiff{
		tolerance: p.tolerance,
		workers:   n,
	}
}

func (p *PixelDiff) Tolerance() Tolerance {
	return p.tolerance
}

func (p *PixelDiff) Compare(baseline *raster.Raster, actual *raster.Raster) *Result {
	if !baseline.SameShape(actual) {
		return &Result{
			Matches:       false,
			ShapeMismatch: true,
		}
	}

	mask := NewMask(actual.Width, actual.Height)

	if baseline == actual {
		return &Result{
			Matches: true,
			Mask:    mask,
		}
	}

	limit := squaredLimit(p.tolerance.Threshold)

	numWorkers := p.numWorkers(actual.Height)
	rowsPerWorker := actual.Height / numWorkers

	var mismatchCount int64
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = actual.Height
		}

		go func(startY int, endY int) {
			defer wg.Done()
			p.processRows(baseline, actual, mask, limit, startY, endY, &mismatchCount)
		}(startY, endY)
	}

	wg.Wait()

	count := int(mismatchCount)
	result := &Result{
		Matches:       count <= p.tolerance.MaxDiffPixels,
		MismatchCount: count,
		Mask:          mask,
	}
	if count > 0 {
		result.Regions = Regions(mask)
	}
	return result
}

func (p *PixelDiff) numWorkers(height int) int {
	n := p.workers
	if n <= 0 {
		// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
		// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
		n = runtime.GOMAXPROCS(0)
	}
	if n > height {
		n = height
	}
	if n < 1 {
		n = 1
	}
	return n
}

func (p *PixelDiff) processRows(baseline *raster.Raster, actual *raster.Raster, mask *Mask, limit int, startY int, endY int, mismatchCount *int64) {
	var local int64

	for y := startY; y < endY; y++ {
		rowStart := actual.Offset(0, y)

		for x := 0; x < actual.Width; x++ {
			offset := rowStart + x*4

			if squaredDistance(baseline.Pix[offset:offset+4:offset+4], actual.Pix[offset:offset+4:offset+4]) > limit {
				mask.Set(x, y)
				local++
			}
		}
	}

	atomic.AddInt64(mismatchCount, local)
}

const maxSquaredDistance = 4 * 255 * 255

// squaredLimit returns the largest s with math.Sqrt(s) <= threshold, so that a squared
// distance above it agrees with Distance(a, b) > threshold.
func squaredLimit(threshold float64) int {
	if threshold >= math.Sqrt(maxSquaredDistance) {
		return maxSquaredDistance
	}
	s := int(threshold * threshold)
	for s < maxSquaredDistance && math.Sqrt(float64(s+1)) <= threshold {
		s++
	}
	for s >= 0 && math.Sqrt(float64(s)) > threshold {
		s--
	}
	return s
}

func squaredDistance(a []uint8, b []uint8) int {
	dr := int(a[0]) - int(b[0])
	dg := int(a[1]) - int(b[1])
	db := int(a[2]) - int(b[2])
	da := int(a[3]) - int(b[3])
	return dr*dr + dg*dg + db*db + da*da
}

// Distance is the Euclidean distance between two RGBA8 pixels.
func Distance(a [4]uint8, b [4]uint8) float64 {
	return math.Sqrt(float64(squaredDistance(a[:], b[:])))
}
