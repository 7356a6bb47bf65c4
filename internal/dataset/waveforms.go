package dataset

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/seisbench/internal/config"
	"github.com/banshee-data/seisbench/internal/order"
	"github.com/banshee-data/seisbench/internal/tensor"
)

// Preload reads every uncached waveform, using up to preload_workers
// concurrent archive reads. It is a no-op when caching is inactive. Every
// row is resolved before the first read starts, and all reads have finished
// when Preload returns.
func (d *Dataset) Preload(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}

	type job struct {
		row      int
		location string
	}
	var jobs []job
	d.cacheMu.Lock()
	for i := 0; i < d.Len(); i++ {
		if d.cache[i] != nil {
			continue
		}
		loc, _, err := d.traceKey(i)
		if err != nil {
			d.cacheMu.Unlock()
			return err
		}
		jobs = append(jobs, job{row: i, location: loc})
	}
	cache := d.cache
	d.cacheMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, j := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			wf, err := d.arch.Get(j.location)
			if err != nil {
				return fmt.Errorf("failed to preload trace %q: %w", j.location, err)
			}
			d.cacheMu.Lock()
			cache[j.row] = wf
			d.cacheMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// traceKey returns the archive location and stored channel order of row i.
// The location is the trace_location cell, falling back to trace_name.
func (d *Dataset) traceKey(i int) (string, []string, error) {
	name, err := d.meta.Get(i, TraceNameColumn)
	if err != nil {
		return "", nil, err
	}
	loc := name
	if d.meta.Has(TraceLocationColumn) {
		if l, _ := d.meta.Get(i, TraceLocationColumn); l != "" {
			loc = l
		}
	}
	native := d.nativeOrder
	if d.meta.Has(ComponentOrderColumn) {
		if o, _ := d.meta.Get(i, ComponentOrderColumn); o != "" {
			native = o
		}
	}
	if err := order.Validate(native); err != nil {
		return "", nil, fmt.Errorf("trace %q: %w", name, err)
	}
	return loc, order.Split(native), nil
}

// raw returns the stored waveform of row i and its channel order, going
// through the cache when it is active.
func (d *Dataset) raw(i int) (*mat.Dense, []string, error) {
	if i < 0 || i >= d.Len() {
		return nil, nil, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, d.Len())
	}
	loc, native, err := d.traceKey(i)
	if err != nil {
		return nil, nil, err
	}

	if d.cache != nil {
		d.cacheMu.Lock()
		wf := d.cache[i]
		d.cacheMu.Unlock()
		if wf != nil {
			return wf, native, nil
		}
	}

	wf, err := d.arch.Get(loc)
	if err != nil {
		return nil, nil, err
	}
	if d.cache != nil {
		d.cacheMu.Lock()
		d.cache[i] = wf
		d.cacheMu.Unlock()
	}
	return wf, native, nil
}

// reorder copies wf from the native channel order into the component order.
// Components missing from the native order are zero; extra ones are dropped.
func (d *Dataset) reorder(wf *mat.Dense, native []string) (*mat.Dense, error) {
	target := order.Split(d.componentOrder)
	rows, samples := wf.Dims()
	if rows != len(native) {
		return nil, fmt.Errorf("%w: %d channels stored, order %q names %d",
			order.ErrInvalidOrder, rows, strings.Join(native, ""), len(native))
	}
	if samples == 0 {
		return &mat.Dense{}, nil
	}
	out := mat.NewDense(len(target), samples, nil)

	if mapping, err := order.GetOrderMapping(native, target); err == nil {
		for i, src := range mapping {
			out.SetRow(i, wf.RawRowView(src))
		}
		return out, nil
	}

	index := make(map[string]int, len(native))
	for i, c := range native {
		index[c] = i
	}
	found := 0
	for i, c := range target {
		if src, ok := index[c]; ok {
			out.SetRow(i, wf.RawRowView(src))
			found++
		}
	}
	if found == 0 {
		return nil, fmt.Errorf("%w: no component of %q in stored order %q",
			order.ErrInvalidOrder, d.componentOrder, strings.Join(native, ""))
	}
	return out, nil
}

// GetSample returns trace i as (channels, samples) in the component order,
// transposed when the dimension order puts samples before channels, along
// with its metadata row.
func (d *Dataset) GetSample(i int) (*mat.Dense, map[string]string, error) {
	wf, native, err := d.raw(i)
	if err != nil {
		return nil, nil, err
	}
	out, err := d.reorder(wf, native)
	if err != nil {
		return nil, nil, err
	}
	if !out.IsEmpty() && strings.Index(d.dimensionOrder, "W") < strings.Index(d.dimensionOrder, "C") {
		out = mat.DenseCopyOf(out.T())
	}
	return out, d.meta.Row(i), nil
}

// GetWaveforms returns the waveforms of the rows selected by mask (all rows
// when mask is nil) as one block in the dimension order. Traces of differing
// length are zero-padded to the longest. The sample extent comes from the
// selected traces only, so an empty selection has zero samples as well as
// zero traces.
func (d *Dataset) GetWaveforms(mask []bool) (*tensor.Dense3, error) {
	if mask != nil && len(mask) != d.Len() {
		return nil, fmt.Errorf("mask has %d entries, dataset has %d traces", len(mask), d.Len())
	}

	var seq []mat.Matrix
	for i := 0; i < d.Len(); i++ {
		if mask != nil && !mask[i] {
			continue
		}
		wf, native, err := d.raw(i)
		if err != nil {
			return nil, err
		}
		out, err := d.reorder(wf, native)
		if err != nil {
			return nil, err
		}
		seq = append(seq, out)
	}

	var block *tensor.Dense3
	if len(seq) == 0 {
		block = tensor.NewDense3(0, len(order.Split(d.componentOrder)), 0, nil)
	} else {
		var err error
		if block, err = tensor.PadPackedSequence(seq); err != nil {
			return nil, err
		}
	}

	if d.dimensionOrder == config.DefaultDimensionOrder {
		return block, nil
	}
	axes, err := order.GetOrderMapping(config.DefaultDimensionOrder, d.dimensionOrder)
	if err != nil {
		return nil, err
	}
	return block.Permute(axes)
}
