package dataset

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/seisbench/internal/archive"
	"github.com/banshee-data/seisbench/internal/config"
	"github.com/banshee-data/seisbench/internal/metadata"
	"github.com/banshee-data/seisbench/internal/writer"
)

// DummyOptions sizes the generated dummy dataset. Zero fields take the
// defaults below.
type DummyOptions struct {
	Traces   int
	Channels int
	Samples  int
	Seed     uint64
}

const (
	defaultDummyTraces   = 100
	defaultDummyChannels = 3
	defaultDummySamples  = 1200
	defaultDummySeed     = 42
)

func (o DummyOptions) withDefaults() DummyOptions {
	if o.Traces <= 0 {
		o.Traces = defaultDummyTraces
	}
	if o.Channels <= 0 {
		o.Channels = defaultDummyChannels
	}
	if o.Samples <= 0 {
		o.Samples = defaultDummySamples
	}
	if o.Seed == 0 {
		o.Seed = defaultDummySeed
	}
	return o
}

// DummyFormat is the data format of dummy traces.
var DummyFormat = writer.DataFormat{
	ComponentOrder: "ZNE",
	DimensionOrder: "CW",
	SamplingRate:   100,
	Measurement:    "velocity",
	Unit:           "counts",
}

// Trace is one generated trace, shaped for writer.AddTrace.
type Trace struct {
	Meta     map[string]any
	Waveform *mat.Dense
}

// DummyTraces generates a deterministic set of noise traces with random
// source and receiver coordinates. The first 60% of traces are "train", the
// next 10% "dev" and the rest "test".
func DummyTraces(opts DummyOptions) []Trace {
	opts = opts.withDefaults()
	src := rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)
	coord := distuv.Uniform{Min: -20, Max: 20, Src: src}
	magnitude := distuv.Uniform{Min: 1, Max: 5, Src: src}
	amplitude := distuv.Uniform{Min: 0.5, Max: 2, Src: src}

	traces := make([]Trace, opts.Traces)
	for i := range traces {
		noise := distuv.Normal{Mu: 0, Sigma: amplitude.Rand(), Src: src}
		data := make([]float64, opts.Channels*opts.Samples)
		for j := range data {
			data[j] = noise.Rand()
		}

		split := "test"
		switch {
		case i < opts.Traces*6/10:
			split = "train"
		case i < opts.Traces*7/10:
			split = "dev"
		}

		traces[i] = Trace{
			Meta: map[string]any{
				TraceNameColumn:          fmt.Sprintf("dummy_%04d", i),
				SplitColumn:              split,
				"source_latitude":        coord.Rand(),
				"source_longitude":       coord.Rand(),
				"source_magnitude":       magnitude.Rand(),
				"receiver_latitude":      coord.Rand(),
				"receiver_longitude":     coord.Rand(),
				"trace_sampling_rate_hz": DummyFormat.SamplingRate,
			},
			Waveform: mat.NewDense(opts.Channels, opts.Samples, data),
		}
	}
	return traces
}

// NewDummy builds an in-memory dataset from DummyTraces.
func NewDummy(opts DummyOptions, cfg *config.DatasetConfig) (*Dataset, error) {
	meta := metadata.New(TraceNameColumn)
	arch := archive.NewMemory(DummyFormat.Attrs())
	for _, tr := range DummyTraces(opts) {
		row := make(map[string]string, len(tr.Meta))
		for k, v := range tr.Meta {
			switch x := v.(type) {
			case float64:
				row[k] = metadata.FormatFloat(x)
			default:
				row[k] = fmt.Sprint(x)
			}
		}
		name := row[TraceNameColumn]
		if _, err := arch.Put(name, tr.Waveform); err != nil {
			return nil, err
		}
		meta.Append(row, TraceNameColumn)
	}
	return New(meta, arch, cfg)
}
