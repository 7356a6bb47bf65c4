package writer

import "github.com/banshee-data/seisbench/internal/metadata"

// DataFormat describes how the waveforms of a dataset are laid out. The
// fields are written once as attributes of the waveform archive.
type DataFormat struct {
	ComponentOrder     string
	DimensionOrder     string
	SamplingRate       float64
	Measurement        string
	Unit               string
	InstrumentResponse string
}

// IsZero reports whether no option was set.
func (f DataFormat) IsZero() bool {
	return f == DataFormat{}
}

// Attrs renders the set options as string attributes.
func (f DataFormat) Attrs() map[string]string {
	attrs := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set("component_order", f.ComponentOrder)
	set("dimension_order", f.DimensionOrder)
	if f.SamplingRate > 0 {
		set("sampling_rate", metadata.FormatFloat(f.SamplingRate))
	}
	set("measurement", f.Measurement)
	set("unit", f.Unit)
	set("instrument_response", f.InstrumentResponse)
	return attrs
}
