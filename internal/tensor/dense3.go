// Package tensor holds the three-axis waveform blocks returned by datasets
// and the packing of ragged two-dimensional sequences into such blocks.
package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Dense3 is a row-major three-axis array of float64.
type Dense3 struct {
	shape [3]int
	data  []float64
}

// NewDense3 allocates a zero-filled block of shape (a, b, c). If data is
// non-nil it is used as backing storage and must have length a*b*c.
func NewDense3(a, b, c int, data []float64) *Dense3 {
	if a < 0 || b < 0 || c < 0 {
		panic(fmt.Sprintf("tensor: negative dimension (%d, %d, %d)", a, b, c))
	}
	n := a * b * c
	if data == nil {
		data = make([]float64, n)
	} else if len(data) != n {
		panic(fmt.Sprintf("tensor: data length %d does not match shape (%d, %d, %d)", len(data), a, b, c))
	}
	return &Dense3{shape: [3]int{a, b, c}, data: data}
}

// Shape returns the extent of each axis.
func (t *Dense3) Shape() [3]int { return t.shape }

// Size returns the number of elements.
func (t *Dense3) Size() int { return len(t.data) }

// RawData exposes the row-major backing slice.
func (t *Dense3) RawData() []float64 { return t.data }

func (t *Dense3) offset(i, j, k int) int {
	if i < 0 || i >= t.shape[0] || j < 0 || j >= t.shape[1] || k < 0 || k >= t.shape[2] {
		panic(fmt.Sprintf("tensor: index (%d, %d, %d) out of range for shape %v", i, j, k, t.shape))
	}
	return (i*t.shape[1]+j)*t.shape[2] + k
}

// At returns the element at (i, j, k).
func (t *Dense3) At(i, j, k int) float64 { return t.data[t.offset(i, j, k)] }

// Set stores v at (i, j, k).
func (t *Dense3) Set(i, j, k int, v float64) { t.data[t.offset(i, j, k)] = v }

// Slice copies the two-dimensional slab at index i of the first axis.
func (t *Dense3) Slice(i int) *mat.Dense {
	rows, cols := t.shape[1], t.shape[2]
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	start := t.offset(i, 0, 0)
	buf := make([]float64, rows*cols)
	copy(buf, t.data[start:start+rows*cols])
	return mat.NewDense(rows, cols, buf)
}

// Permute returns a copy with axes reordered so that output axis n is input
// axis axes[n].
func (t *Dense3) Permute(axes []int) (*Dense3, error) {
	if len(axes) != 3 {
		return nil, fmt.Errorf("tensor: permutation needs 3 axes, got %d", len(axes))
	}
	var seen [3]bool
	for _, a := range axes {
		if a < 0 || a > 2 || seen[a] {
			return nil, fmt.Errorf("tensor: invalid axis permutation %v", axes)
		}
		seen[a] = true
	}

	out := NewDense3(t.shape[axes[0]], t.shape[axes[1]], t.shape[axes[2]], nil)
	var src [3]int
	for i := 0; i < out.shape[0]; i++ {
		src[axes[0]] = i
		for j := 0; j < out.shape[1]; j++ {
			src[axes[1]] = j
			for k := 0; k < out.shape[2]; k++ {
				src[axes[2]] = k
				out.data[(i*out.shape[1]+j)*out.shape[2]+k] = t.data[(src[0]*t.shape[1]+src[1])*t.shape[2]+src[2]]
			}
		}
	}
	return out, nil
}
