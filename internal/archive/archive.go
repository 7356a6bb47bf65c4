// Package archive stores waveform arrays for a dataset.
//
// The on-disk format is HDF5. Traces of equal shape are packed into bucket
// datasets /data/bucket<K> shaped (traces, channels, samples); a trace is
// addressed by its location "bucket<K>$<index>,:<channels>,:<samples>".
// Data format attributes are stored once on the /data_format group. An
// in-memory archive with the same contract backs tests and synthetic
// datasets.
package archive

import (
	"errors"
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrTraceNotFound is returned when a location is not present in an archive.
	ErrTraceNotFound = errors.New("trace not found in archive")
	// ErrEmptyWaveform is returned for waveforms without channels or samples.
	ErrEmptyWaveform = errors.New("waveform has no samples")
)

// HDF5 groups.
const (
	DataGroup   = "/data"
	FormatGroup = "/data_format"
)

// Writer accepts waveforms for a single archive file.
type Writer interface {
	// Put stores one waveform of shape (channels, samples) and returns the
	// location Reader.Get serves it from.
	Put(key string, waveform mat.Matrix) (string, error)
	Close() error
}

// Reader serves waveforms by location. Implementations are safe for
// concurrent use.
type Reader interface {
	Get(location string) (*mat.Dense, error)
	// Attrs returns the data format attributes of the archive.
	Attrs() map[string]string
	Close() error
}

// ValidateKey rejects keys that cannot be used as a trace name.
func ValidateKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/\x00") {
		return fmt.Errorf("invalid trace key %q", key)
	}
	return nil
}

// ValidateWaveform rejects waveforms with a zero dimension.
func ValidateWaveform(m mat.Matrix) error {
	if m == nil {
		return ErrEmptyWaveform
	}
	if r, c := m.Dims(); r == 0 || c == 0 {
		return fmt.Errorf("%w: shape (%d, %d)", ErrEmptyWaveform, r, c)
	}
	return nil
}

func flatten(m mat.Matrix) (rows, cols int, data []float64) {
	rows, cols = m.Dims()
	data = make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data = append(data, m.At(i, j))
		}
	}
	return rows, cols, data
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
