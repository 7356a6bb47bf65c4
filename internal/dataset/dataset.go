// Package dataset serves waveforms and metadata from a dataset directory.
//
// A Dataset pairs a metadata table with a waveform archive. Row i of the
// table describes trace i. Waveforms may be cached in their stored channel
// order; the cache is co-indexed with the table, so every filter drops the
// same rows from both.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/seisbench/internal/archive"
	"github.com/banshee-data/seisbench/internal/config"
	"github.com/banshee-data/seisbench/internal/fsutil"
	"github.com/banshee-data/seisbench/internal/metadata"
	"github.com/banshee-data/seisbench/internal/monitoring"
	"github.com/banshee-data/seisbench/internal/order"
	"github.com/banshee-data/seisbench/internal/region"
	"github.com/banshee-data/seisbench/internal/writer"
)

// Metadata columns with a fixed meaning.
const (
	TraceNameColumn      = writer.TraceNameKey
	TraceLocationColumn  = writer.TraceLocationKey
	ComponentOrderColumn = "trace_component_order"
	SplitColumn          = "split"
)

// ErrIndexOutOfRange is returned for a trace index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("trace index out of range")

// Dataset is a filtered view over a metadata table and a waveform archive.
// It is not safe for concurrent use, apart from the internal fan-out of
// Preload.
type Dataset struct {
	meta *metadata.Table
	arch archive.Reader

	// cache[i] holds the stored waveform of row i, nil until loaded. The
	// slice itself is nil when caching is inactive.
	cacheMu sync.Mutex
	cache   []*mat.Dense

	componentOrder string
	dimensionOrder string
	nativeOrder    string
	workers        int
}

// New wraps meta and arch. Unless cfg sets native_component_order, the
// archive's component_order attribute is the stored channel order. With
// caching active and lazy loading disabled all waveforms are read before New
// returns.
func New(meta *metadata.Table, arch archive.Reader, cfg *config.DatasetConfig) (*Dataset, error) {
	if cfg != nil {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid dataset configuration: %w", err)
		}
	}
	if !meta.Has(TraceNameColumn) && meta.Len() > 0 {
		return nil, fmt.Errorf("%w: %q", metadata.ErrUnknownColumn, TraceNameColumn)
	}

	d := &Dataset{
		meta:           meta,
		arch:           arch,
		componentOrder: cfg.GetComponentOrder(),
		dimensionOrder: cfg.GetDimensionOrder(),
		nativeOrder:    cfg.GetNativeComponentOrder(),
		workers:        cfg.GetPreloadWorkers(),
	}
	if cfg == nil || cfg.NativeComponentOrder == nil {
		if o := arch.Attrs()["component_order"]; o != "" {
			if err := order.Validate(o); err != nil {
				return nil, fmt.Errorf("archive component_order: %w", err)
			}
			d.nativeOrder = o
		}
	}

	switch {
	case cfg.GetCache():
		d.cache = make([]*mat.Dense, meta.Len())
		if !cfg.GetLazyLoad() {
			if err := d.Preload(context.Background()); err != nil {
				return nil, err
			}
		}
	case !cfg.GetLazyLoad():
		monitoring.Warnf("Skipping preloading of waveforms as cache is set to inactive")
	}
	return d, nil
}

// Load opens the metadata.csv and waveforms.hdf5 written by writer.Write in dir.
func Load(dir string, cfg *config.DatasetConfig) (*Dataset, error) {
	meta, err := metadata.ReadFile(fsutil.OSFileSystem{}, filepath.Join(dir, writer.MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}
	arch, err := archive.OpenHDF5(filepath.Join(dir, writer.WaveformFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open waveforms: %w", err)
	}
	d, err := New(meta, arch, cfg)
	if err != nil {
		arch.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the waveform archive.
func (d *Dataset) Close() error {
	return d.arch.Close()
}

// Len returns the number of traces.
func (d *Dataset) Len() int { return d.meta.Len() }

// Metadata returns the live metadata table. Columns may be added or
// overwritten; rows must only be removed through Filter.
func (d *Dataset) Metadata() *metadata.Table { return d.meta }

// CacheLen returns the number of cached waveforms.
func (d *Dataset) CacheLen() int {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	n := 0
	for _, wf := range d.cache {
		if wf != nil {
			n++
		}
	}
	return n
}

// ComponentOrder returns the channel order of returned waveforms.
func (d *Dataset) ComponentOrder() string { return d.componentOrder }

// DimensionOrder returns the axis order of GetWaveforms results.
func (d *Dataset) DimensionOrder() string { return d.dimensionOrder }

// SetComponentOrder changes the channel order of returned waveforms. Cached
// data is unaffected.
func (d *Dataset) SetComponentOrder(o string) error {
	if err := order.Validate(o); err != nil {
		return err
	}
	d.componentOrder = o
	return nil
}

// SetDimensionOrder changes the axis order of GetWaveforms results. o must be
// a permutation of "NCW".
func (d *Dataset) SetDimensionOrder(o string) error {
	if _, err := order.GetOrderMapping(config.DefaultDimensionOrder, o); err != nil {
		return err
	}
	d.dimensionOrder = o
	return nil
}

// Filter keeps the rows where mask is true. Cached waveforms of dropped rows
// are evicted and the survivors re-indexed in step with the metadata.
func (d *Dataset) Filter(mask []bool) error {
	meta, err := d.meta.Filter(mask)
	if err != nil {
		return err
	}

	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	if d.cache != nil {
		cache := make([]*mat.Dense, 0, meta.Len())
		for i, keep := range mask {
			if keep {
				cache = append(cache, d.cache[i])
			}
		}
		d.cache = cache
	}
	d.meta = meta
	return nil
}

// RegionFilterReceiver keeps traces whose receiver lies in domain.
func (d *Dataset) RegionFilterReceiver(domain region.Domain) error {
	return d.regionFilter("receiver", domain)
}

// RegionFilterSource keeps traces whose source lies in domain.
func (d *Dataset) RegionFilterSource(domain region.Domain) error {
	return d.regionFilter("source", domain)
}

func (d *Dataset) regionFilter(prefix string, domain region.Domain) error {
	lats, err := d.meta.Float(prefix + "_latitude")
	if err != nil {
		return err
	}
	lons, err := d.meta.Float(prefix + "_longitude")
	if err != nil {
		return err
	}
	mask, err := region.Mask(domain, lats, lons)
	if err != nil {
		return err
	}
	return d.Filter(mask)
}

// SplitMask marks the rows belonging to split, e.g. "train".
func (d *Dataset) SplitMask(split string) ([]bool, error) {
	values, err := d.meta.Column(SplitColumn)
	if err != nil {
		return nil, err
	}
	mask := make([]bool, len(values))
	for i, v := range values {
		mask[i] = v == split
	}
	return mask, nil
}

// FilterSplit keeps only the rows of split.
func (d *Dataset) FilterSplit(split string) error {
	mask, err := d.SplitMask(split)
	if err != nil {
		return err
	}
	return d.Filter(mask)
}
