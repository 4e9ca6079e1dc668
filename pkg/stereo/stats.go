package stereo

import (
	"fmt"
	"image"
	"math"

	"github.com/codahale/hdrhistogram"
	"gonum.org/v1/gonum/stat"

	"github.com/abworrall/stereo-pprc/pkg/raster"
)

// Statistics summarize the valid pixels of an image.
type Statistics struct {
	Count     int64
	Min, Max  float64
	Mean      float64
	StdDev    float64
	PctLow    float64 // 2nd percentile, if computed
	PctHigh   float64 // 98th percentile, if computed
	HasPctile bool
}

func (s Statistics) String() string {
	str := fmt.Sprintf("stats[n=%d, [%g,%g], mean %g, sd %g", s.Count, s.Min, s.Max, s.Mean, s.StdDev)
	if s.HasPctile {
		str += fmt.Sprintf(", p2-98 [%g,%g]", s.PctLow, s.PctHigh)
	}
	return str + "]"
}

// Range is the span of values that should map onto [0,1].
func (s Statistics) Range(mode RangeMode) (lo, hi float64) {
	lo, hi = s.Min, s.Max
	switch mode {
	case RangeStdDev:
		lo = math.Max(s.Min, s.Mean-2*s.StdDev)
		hi = math.Min(s.Max, s.Mean+2*s.StdDev)
	case RangePercentile:
		if s.HasPctile {
			lo, hi = s.PctLow, s.PctHigh
		}
	}
	return lo, hi
}

type StatsOptions struct {
	Workers     int
	BlockRows   int
	Percentiles bool
}

// Percentiles come from a histogram over [min,max] at this many buckets;
// three significant figures are plenty to pick a stretch.
const (
	histogramSteps   = 1000000
	histogramSigFigs = 3
)

type blockStats struct {
	n        int64
	mean, m2 float64 // m2 is the sum of squared deviations from the mean
	min, max float64
}

// merge combines two partial results (Chan et al's parallel variance).
func (a blockStats) merge(b blockStats) blockStats {
	if a.n == 0 {
		return b
	} else if b.n == 0 {
		return a
	}
	n := a.n + b.n
	delta := b.mean - a.mean
	return blockStats{
		n:    n,
		mean: a.mean + delta*float64(b.n)/float64(n),
		m2:   a.m2 + b.m2 + delta*delta*float64(a.n)*float64(b.n)/float64(n),
		min:  math.Min(a.min, b.min),
		max:  math.Max(a.max, b.max),
	}
}

// ComputeStatistics makes one pass over the valid pixels (two, if
// percentiles are wanted), a block at a time.
func ComputeStatistics(img MaskedImage, opts StatsOptions) (Statistics, error) {
	bounds := img.Bounds()
	rows := opts.BlockRows
	if rows <= 0 {
		rows = raster.BlockRows(bounds.Dx(), opts.Workers)
	}
	bands := raster.Bands(bounds, rows)

	partials := make([]blockStats, len(bands))
	err := raster.ForEachBlock(len(bands), opts.Workers, func(i int) error {
		mg, err := img.MaskedBlock(bands[i])
		if err != nil {
			return err
		}
		vals := make([]float64, 0, mg.CountValid())
		for y := 0; y < mg.Dy(); y++ {
			valid := mg.ValidRow(y)
			for x, v := range mg.Row(y) {
				if valid[x] {
					vals = append(vals, v)
				}
			}
		}
		if len(vals) == 0 {
			return nil
		}

		bs := blockStats{n: int64(len(vals)), mean: vals[0], min: vals[0], max: vals[0]}
		if len(vals) > 1 {
			var variance float64
			bs.mean, variance = stat.MeanVariance(vals, nil)
			bs.m2 = variance * float64(len(vals)-1)
		}
		for _, v := range vals {
			bs.min = math.Min(bs.min, v)
			bs.max = math.Max(bs.max, v)
		}
		partials[i] = bs
		return nil
	})
	if err != nil {
		return Statistics{}, err
	}

	// Merge in order, so the answer doesn't depend on scheduling
	total := blockStats{}
	for _, p := range partials {
		total = total.merge(p)
	}

	s := Statistics{Count: total.n}
	if total.n == 0 {
		return s, nil
	}
	s.Min, s.Max, s.Mean = total.min, total.max, total.mean
	s.StdDev = math.Sqrt(total.m2 / float64(total.n))

	if opts.Percentiles {
		s.PctLow, s.PctHigh, err = percentiles(img, bands, opts.Workers, s.Min, s.Max)
		if err != nil {
			return Statistics{}, err
		}
		s.HasPctile = true
	}

	return s, nil
}

// percentiles bins the valid values into an HDR histogram over
// [min,max], a histogram per block, merged at the end. Bins are offset
// by one, as the histogram can't track zero.
func percentiles(img MaskedImage, bands []image.Rectangle, nWorkers int, min, max float64) (lo, hi float64, err error) {
	if max <= min {
		return min, max, nil
	}
	scale := histogramSteps / (max - min)

	hists := make([]*hdrhistogram.Histogram, len(bands))
	err = raster.ForEachBlock(len(bands), nWorkers, func(i int) error {
		mg, err := img.MaskedBlock(bands[i])
		if err != nil {
			return err
		}
		h := hdrhistogram.New(1, histogramSteps+1, histogramSigFigs)
		for y := 0; y < mg.Dy(); y++ {
			valid := mg.ValidRow(y)
			for x, v := range mg.Row(y) {
				if valid[x] {
					if err := h.RecordValue(1 + int64((v-min)*scale)); err != nil {
						return err
					}
				}
			}
		}
		hists[i] = h
		return nil
	})
	if err != nil {
		return 0, 0, err
	}

	all := hdrhistogram.New(1, histogramSteps+1, histogramSigFigs)
	for _, h := range hists {
		all.Merge(h)
	}

	lo = min + float64(all.ValueAtQuantile(2)-1)/scale
	hi = min + float64(all.ValueAtQuantile(98)-1)/scale
	return math.Max(lo, min), math.Min(hi, max), nil
}
