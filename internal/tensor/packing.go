package tensor

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// ErrEmptySequence is returned when there is nothing to pack.
var ErrEmptySequence = errors.New("tensor: empty sequence")

// PadPackedSequence packs matrices of shape (length_i, width_i) into one block
// of shape (N, max length, max width). Each matrix lands in the top-left corner
// of its slab and everything else stays zero. Inputs are not modified.
func PadPackedSequence(seq []mat.Matrix) (*Dense3, error) {
	if len(seq) == 0 {
		return nil, ErrEmptySequence
	}

	maxRows, maxCols := 0, 0
	for _, m := range seq {
		r, c := dims(m)
		maxRows = max(maxRows, r)
		maxCols = max(maxCols, c)
	}

	out := NewDense3(len(seq), maxRows, maxCols, nil)
	for n, m := range seq {
		r, c := dims(m)
		base := n * maxRows * maxCols
		for i := 0; i < r; i++ {
			row := base + i*maxCols
			for j := 0; j < c; j++ {
				out.data[row+j] = m.At(i, j)
			}
		}
	}
	return out, nil
}

// dims treats nil and empty matrices as 0x0.
func dims(m mat.Matrix) (int, int) {
	if m == nil {
		return 0, 0
	}
	if d, ok := m.(*mat.Dense); ok && d.IsEmpty() {
		return 0, 0
	}
	return m.Dims()
}
