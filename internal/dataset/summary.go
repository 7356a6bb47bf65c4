package dataset

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Summary describes the traces of a dataset.
type Summary struct {
	Traces int
	// Splits counts traces per split value; rows without a split count
	// under "".
	Splits map[string]int

	MinSamples int
	MaxSamples int

	// Peak absolute amplitude per trace, over all channels.
	PeakMean   float64
	PeakStdDev float64
	PeakMax    float64
}

// SplitNames returns the split values in sorted order.
func (s Summary) SplitNames() []string {
	names := make([]string, 0, len(s.Splits))
	for k := range s.Splits {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Summary reads every waveform and summarises the dataset. Waveforms read
// here populate the cache when it is active.
func (d *Dataset) Summary() (Summary, error) {
	s := Summary{Traces: d.Len(), Splits: make(map[string]int)}
	if d.meta.Has(SplitColumn) {
		splits, err := d.meta.Column(SplitColumn)
		if err != nil {
			return s, err
		}
		for _, v := range splits {
			s.Splits[v]++
		}
	}
	if d.Len() == 0 {
		return s, nil
	}

	peaks := make([]float64, d.Len())
	s.MinSamples = math.MaxInt
	for i := range peaks {
		wf, _, err := d.raw(i)
		if err != nil {
			return s, err
		}
		_, samples := wf.Dims()
		s.MinSamples = min(s.MinSamples, samples)
		s.MaxSamples = max(s.MaxSamples, samples)
		if !wf.IsEmpty() {
			peaks[i] = floats.Norm(wf.RawMatrix().Data, math.Inf(1))
		}
	}

	s.PeakMean, s.PeakStdDev = stat.MeanStdDev(peaks, nil)
	s.PeakMax = floats.Max(peaks)
	return s, nil
}
