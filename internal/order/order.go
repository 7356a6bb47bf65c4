// Package order resolves permutations between channel orderings such as
// "ZNE" and "NEZ".
//
// The same arithmetic validates axis orders ("NCW", "CWN") for returned
// waveform blocks, so it is kept free of any storage or caching concern.
package order

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidOrder is returned when an ordering is empty, contains duplicate
// labels, or does not match the label set it is compared against.
var ErrInvalidOrder = errors.New("invalid ordering")

// Labels is an ordering given either as a string of single-character labels
// ("ZNE") or as a slice of single-character strings ([]string{"Z", "N", "E"}).
type Labels interface {
	string | []string
}

// Split normalises an ordering to a slice of labels.
func Split[L Labels](o L) []string {
	switch v := any(o).(type) {
	case string:
		return strings.Split(v, "")
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	}
	return nil
}

// Validate checks that a single ordering is non-empty and free of duplicates.
func Validate[L Labels](o L) error {
	return validate(Split(o))
}

func validate(labels []string) error {
	if len(labels) == 0 {
		return fmt.Errorf("%w: empty ordering", ErrInvalidOrder)
	}
	seen := make(map[string]bool, len(labels))
	for _, l := range labels {
		if len(l) != 1 {
			return fmt.Errorf("%w: label %q is not a single character", ErrInvalidOrder, l)
		}
		if seen[l] {
			return fmt.Errorf("%w: duplicate label %q in %q", ErrInvalidOrder, l, strings.Join(labels, ""))
		}
		seen[l] = true
	}
	return nil
}

// GetOrderMapping returns the permutation m such that target[i] == source[m[i]].
// Indexing data ordered as source with m yields data ordered as target.
func GetOrderMapping[S, T Labels](source S, target T) ([]int, error) {
	src := Split(source)
	dst := Split(target)

	if len(src) != len(dst) {
		return nil, fmt.Errorf("%w: length mismatch between %q and %q", ErrInvalidOrder, strings.Join(src, ""), strings.Join(dst, ""))
	}
	if err := validate(src); err != nil {
		return nil, err
	}
	if err := validate(dst); err != nil {
		return nil, err
	}

	index := make(map[string]int, len(src))
	for i, l := range src {
		index[l] = i
	}

	mapping := make([]int, len(dst))
	for i, l := range dst {
		j, ok := index[l]
		if !ok {
			return nil, fmt.Errorf("%w: %q and %q use different labels", ErrInvalidOrder, strings.Join(src, ""), strings.Join(dst, ""))
		}
		mapping[i] = j
	}
	return mapping, nil
}
