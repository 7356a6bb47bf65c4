package dataset

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/seisbench/internal/archive"
	"github.com/banshee-data/seisbench/internal/config"
	"github.com/banshee-data/seisbench/internal/metadata"
	"github.com/banshee-data/seisbench/internal/order"
	"github.com/banshee-data/seisbench/internal/region"
	"github.com/banshee-data/seisbench/internal/tensor"
	"github.com/banshee-data/seisbench/internal/testutil"
	"github.com/banshee-data/seisbench/internal/writer"
)

func newDummy(t *testing.T, cfg *config.DatasetConfig) *Dataset {
	t.Helper()
	d, err := NewDummy(DummyOptions{}, cfg)
	require.NoError(t, err)
	return d
}

func cacheConfig(cache, lazyload bool) *config.DatasetConfig {
	return config.DefaultDatasetConfig().WithCache(cache, lazyload)
}

func halfMask(n int) []bool {
	mask := make([]bool, n)
	for i := range mask {
		mask[i] = float64(i) < float64(n)/2
	}
	return mask
}

func countTrue(mask []bool) int {
	n := 0
	for _, m := range mask {
		if m {
			n++
		}
	}
	return n
}

func put(t *testing.T, arch *archive.Memory, name string, wf mat.Matrix) {
	t.Helper()
	_, err := arch.Put(name, wf)
	require.NoError(t, err)
}

func channel(t *tensor.Dense3, n, c int) []float64 {
	return mat.Row(nil, c, t.Slice(n))
}

func TestLazyload(t *testing.T) {
	d := newDummy(t, cacheConfig(true, true))
	assert.Equal(t, 0, d.CacheLen())

	d = newDummy(t, cacheConfig(true, false))
	assert.Equal(t, d.Len(), d.CacheLen())
	assert.Equal(t, 100, d.Len())
}

func TestFilterAndCacheEvict(t *testing.T) {
	d := newDummy(t, cacheConfig(true, false))
	require.Equal(t, d.Len(), d.CacheLen())

	mask := halfMask(d.Len())
	require.NoError(t, d.Filter(mask))

	assert.Equal(t, countTrue(mask), d.Len())
	assert.Equal(t, d.Len(), d.CacheLen())

	// Cached rows still line up with their metadata.
	ref := DummyTraces(DummyOptions{})
	for i := 0; i < d.Len(); i++ {
		wf, _, err := d.GetSample(i)
		require.NoError(t, err)
		name, err := d.Metadata().Get(i, TraceNameColumn)
		require.NoError(t, err)
		assert.Equal(t, ref[i].Meta[TraceNameColumn], name)
		assert.True(t, mat.Equal(ref[i].Waveform, wf), "trace %d", i)
	}
}

func TestFilterMaskLength(t *testing.T) {
	d := newDummy(t, nil)
	err := d.Filter(make([]bool, 3))
	assert.ErrorIs(t, err, metadata.ErrMaskLength)
	assert.Equal(t, 100, d.Len())
}

func TestFilterLazyCache(t *testing.T) {
	d := newDummy(t, cacheConfig(true, true))
	for _, i := range []int{0, 1, 60, 99} {
		_, _, err := d.GetSample(i)
		require.NoError(t, err)
	}
	require.Equal(t, 4, d.CacheLen())

	mask := make([]bool, d.Len())
	mask[1], mask[60], mask[70] = true, true, true
	require.NoError(t, d.Filter(mask))

	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 2, d.CacheLen())
}

func TestRegionFilter(t *testing.T) {
	// Receiver + circle domain
	d := newDummy(t, nil)
	n := d.Len()
	lat := make([]float64, n)
	lon := floats.Span(make([]float64, n), -10, 10)
	require.NoError(t, d.Metadata().SetFloat("receiver_latitude", lat))
	require.NoError(t, d.Metadata().SetFloat("receiver_longitude", lon))

	domain, err := region.NewCircleDomain(0, 0, 1, 5)
	require.NoError(t, err)
	require.NoError(t, d.RegionFilterReceiver(domain))

	want := 0
	for _, l := range lon {
		if 1 < math.Abs(l) && math.Abs(l) < 5 {
			want++
		}
	}
	assert.Equal(t, want, d.Len())

	// Source + rectangle domain
	d = newDummy(t, nil)
	rng := rand.New(rand.NewPCG(42, 42))
	lat = make([]float64, n)
	lon = make([]float64, n)
	for i := range lat {
		lat[i] = rng.Float64()*40 - 20
		lon[i] = rng.Float64()*40 - 20
	}
	require.NoError(t, d.Metadata().SetFloat("source_latitude", lat))
	require.NoError(t, d.Metadata().SetFloat("source_longitude", lon))

	rect := region.RectangleDomain{MinLatitude: -5, MaxLatitude: 5, MinLongitude: 10, MaxLongitude: 15}
	require.NoError(t, d.RegionFilterSource(rect))

	want = 0
	for i := range lat {
		if -5 <= lat[i] && lat[i] <= 5 && 10 <= lon[i] && lon[i] <= 15 {
			want++
		}
	}
	assert.Equal(t, want, d.Len())
}

func TestRegionFilterMissingColumns(t *testing.T) {
	meta := metadata.New(TraceNameColumn)
	meta.Append(map[string]string{TraceNameColumn: "a"})
	d, err := New(meta, archive.NewMemory(nil), nil)
	require.NoError(t, err)

	err = d.RegionFilterSource(region.RectangleDomain{MinLatitude: -1, MaxLatitude: 1, MinLongitude: -1, MaxLongitude: 1})
	assert.ErrorIs(t, err, metadata.ErrUnknownColumn)
}

func TestGetWaveforms(t *testing.T) {
	d := newDummy(t, nil)

	waveforms, err := d.GetWaveforms(nil)
	require.NoError(t, err)
	assert.Equal(t, [3]int{d.Len(), 3, 1200}, waveforms.Shape())

	require.NoError(t, d.SetComponentOrder("ZEN"))
	zen, err := d.GetWaveforms(nil)
	require.NoError(t, err)
	for n := 0; n < d.Len(); n++ {
		assert.Equal(t, channel(waveforms, n, 1), channel(zen, n, 2))
		assert.Equal(t, channel(waveforms, n, 2), channel(zen, n, 1))
		assert.Equal(t, channel(waveforms, n, 0), channel(zen, n, 0))
	}

	mask := halfMask(d.Len())
	masked, err := d.GetWaveforms(mask)
	require.NoError(t, err)
	assert.Equal(t, countTrue(mask), masked.Shape()[0])

	require.NoError(t, d.SetDimensionOrder("CWN"))
	cwn, err := d.GetWaveforms(nil)
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 1200, d.Len()}, cwn.Shape())
	assert.Equal(t, zen.At(7, 1, 300), cwn.At(1, 300, 7))
}

func TestComponentOrderKeepsCacheCanonical(t *testing.T) {
	d := newDummy(t, cacheConfig(true, false))
	before, _, err := d.GetSample(5)
	require.NoError(t, err)

	require.NoError(t, d.SetComponentOrder("ENZ"))
	_, _, err = d.GetSample(5)
	require.NoError(t, err)
	require.NoError(t, d.SetComponentOrder("ZNE"))

	after, _, err := d.GetSample(5)
	require.NoError(t, err)
	assert.True(t, mat.Equal(before, after))
}

func TestSetOrderValidation(t *testing.T) {
	d := newDummy(t, nil)
	assert.Error(t, d.SetComponentOrder("ZZE"))
	assert.Error(t, d.SetComponentOrder(""))
	assert.Error(t, d.SetDimensionOrder("NCX"))
	assert.Error(t, d.SetDimensionOrder("NC"))
	assert.Equal(t, "ZNE", d.ComponentOrder())
	assert.Equal(t, "NCW", d.DimensionOrder())
}

func TestGetWaveformsEmptyMask(t *testing.T) {
	d := newDummy(t, nil)
	wf, err := d.GetWaveforms(make([]bool, d.Len()))
	require.NoError(t, err)
	// No selected trace, so no sample extent either.
	assert.Equal(t, [3]int{0, 3, 0}, wf.Shape())

	require.NoError(t, d.SetDimensionOrder("CWN"))
	wf, err = d.GetWaveforms(make([]bool, d.Len()))
	require.NoError(t, err)
	assert.Equal(t, [3]int{3, 0, 0}, wf.Shape())

	_, err = d.GetWaveforms([]bool{true})
	assert.Error(t, err)
}

func TestLazyloadCacheWarning(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	d := newDummy(t, cacheConfig(false, false))
	assert.Contains(t, logs.String(), "Skipping preloading of waveforms as cache is set to inactive")
	assert.Equal(t, 0, d.CacheLen())
}

func TestNoCache(t *testing.T) {
	logs := testutil.CaptureLogs(t)
	meta := metadata.New(TraceNameColumn)
	arch := archive.NewMemory(nil)
	for _, tr := range DummyTraces(DummyOptions{Traces: 4, Samples: 10}) {
		name := tr.Meta[TraceNameColumn].(string)
		put(t, arch, name, tr.Waveform)
		meta.Append(map[string]string{TraceNameColumn: name})
	}

	d, err := New(meta, arch, cacheConfig(false, true))
	require.NoError(t, err)
	assert.Zero(t, logs.Count("Skipping preloading"))

	_, err = d.GetWaveforms(nil)
	require.NoError(t, err)
	_, err = d.GetWaveforms(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, d.CacheLen())
	assert.Equal(t, 8, arch.Reads())
	assert.NoError(t, d.Preload(context.Background()))
	assert.Equal(t, 0, d.CacheLen())
}

func TestLazyCacheReadsOnce(t *testing.T) {
	meta := metadata.New(TraceNameColumn)
	arch := archive.NewMemory(nil)
	for _, tr := range DummyTraces(DummyOptions{Traces: 4, Samples: 10}) {
		name := tr.Meta[TraceNameColumn].(string)
		put(t, arch, name, tr.Waveform)
		meta.Append(map[string]string{TraceNameColumn: name})
	}

	d, err := New(meta, arch, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, _, err := d.GetSample(2)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, d.CacheLen())
	assert.Equal(t, 1, arch.Reads())

	require.NoError(t, d.Preload(context.Background()))
	assert.Equal(t, 4, d.CacheLen())
	assert.Equal(t, 4, arch.Reads())
}

func TestPreloadCanceled(t *testing.T) {
	d := newDummy(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := d.Preload(ctx)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPreloadMissingTrace(t *testing.T) {
	meta := metadata.New(TraceNameColumn)
	meta.Append(map[string]string{TraceNameColumn: "missing"})
	_, err := New(meta, archive.NewMemory(nil), cacheConfig(true, false))
	assert.ErrorIs(t, err, archive.ErrTraceNotFound)
}

// gatedReader holds every Get until release is closed.
type gatedReader struct {
	archive.Reader
	release chan struct{}
	started atomic.Int32
}

func (g *gatedReader) Get(location string) (*mat.Dense, error) {
	g.started.Add(1)
	<-g.release
	return g.Reader.Get(location)
}

func dummyTable(t *testing.T, n int) (*metadata.Table, *archive.Memory, []Trace) {
	t.Helper()
	meta := metadata.New(TraceNameColumn, ComponentOrderColumn)
	arch := archive.NewMemory(nil)
	traces := DummyTraces(DummyOptions{Traces: n, Samples: 10})
	for _, tr := range traces {
		name := tr.Meta[TraceNameColumn].(string)
		put(t, arch, name, tr.Waveform)
		meta.Append(map[string]string{TraceNameColumn: name, ComponentOrderColumn: "ZNE"})
	}
	return meta, arch, traces
}

func TestPreloadInvalidOrderThenFilter(t *testing.T) {
	meta, arch, traces := dummyTable(t, 6)
	orders, err := meta.Column(ComponentOrderColumn)
	require.NoError(t, err)
	orders[3] = "ZZE"
	require.NoError(t, meta.SetString(ComponentOrderColumn, orders))
	gate := &gatedReader{Reader: arch, release: make(chan struct{})}

	d, err := New(meta, gate, cacheConfig(true, true))
	require.NoError(t, err)

	err = d.Preload(context.Background())
	assert.ErrorIs(t, err, order.ErrInvalidOrder)
	assert.Zero(t, gate.started.Load(), "no read starts before every row resolves")

	require.NoError(t, d.Filter(halfMask(d.Len())))
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, 0, d.CacheLen())

	close(gate.release)
	require.NoError(t, d.Preload(context.Background()))
	assert.Equal(t, 3, d.CacheLen())
	for i := 0; i < d.Len(); i++ {
		wf, _, err := d.GetSample(i)
		require.NoError(t, err)
		assert.True(t, mat.Equal(traces[i].Waveform, wf), "trace %d", i)
	}
}

func TestPreloadReadErrorThenFilter(t *testing.T) {
	meta, arch, traces := dummyTable(t, 8)
	meta.Append(map[string]string{TraceNameColumn: "missing", ComponentOrderColumn: "ZNE"})

	cfg := cacheConfig(true, true)
	workers := 2
	cfg.PreloadWorkers = &workers
	d, err := New(meta, arch, cfg)
	require.NoError(t, err)

	err = d.Preload(context.Background())
	assert.ErrorIs(t, err, archive.ErrTraceNotFound)

	// Reads have settled, so the cache can be re-indexed right away.
	mask := make([]bool, d.Len())
	for i := 0; i < len(traces); i += 2 {
		mask[i] = true
	}
	require.NoError(t, d.Filter(mask))
	assert.Equal(t, 4, d.Len())
	assert.LessOrEqual(t, d.CacheLen(), d.Len())

	require.NoError(t, d.Preload(context.Background()))
	assert.Equal(t, 4, d.CacheLen())
	for i := 0; i < d.Len(); i++ {
		wf, _, err := d.GetSample(i)
		require.NoError(t, err)
		assert.True(t, mat.Equal(traces[2*i].Waveform, wf), "trace %d", i)
	}
}

func TestNativeOrderFromArchive(t *testing.T) {
	arch := archive.NewMemory(map[string]string{"component_order": "ENZ"})
	put(t, arch, "a", mat.NewDense(3, 2, []float64{1, 1, 2, 2, 3, 3}))
	meta := metadata.New(TraceNameColumn)
	meta.Append(map[string]string{TraceNameColumn: "a"})

	d, err := New(meta, arch, nil)
	require.NoError(t, err)
	wf, _, err := d.GetSample(0)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{3, 3, 2, 2, 1, 1}), wf))

	// An explicit native order wins over the archive.
	zne := "ZNE"
	d, err = New(meta, arch, &config.DatasetConfig{NativeComponentOrder: &zne})
	require.NoError(t, err)
	wf, _, err = d.GetSample(0)
	require.NoError(t, err)
	assert.True(t, mat.Equal(mat.NewDense(3, 2, []float64{1, 1, 2, 2, 3, 3}), wf))

	bad := archive.NewMemory(map[string]string{"component_order": "ZZ"})
	_, err = New(meta, bad, nil)
	assert.ErrorIs(t, err, order.ErrInvalidOrder)
}

func TestChannelCountMismatch(t *testing.T) {
	arch := archive.NewMemory(nil)
	put(t, arch, "two", mat.NewDense(2, 3, nil))
	meta := metadata.New(TraceNameColumn)
	meta.Append(map[string]string{TraceNameColumn: "two"})

	d, err := New(meta, arch, nil)
	require.NoError(t, err)
	_, _, err = d.GetSample(0)
	assert.ErrorIs(t, err, order.ErrInvalidOrder)
}

func TestMissingComponentsArePadded(t *testing.T) {
	meta := metadata.New(TraceNameColumn, ComponentOrderColumn)
	arch := archive.NewMemory(nil)

	put(t, arch, "full", mat.NewDense(3, 4, []float64{
		1, 1, 1, 1,
		2, 2, 2, 2,
		3, 3, 3, 3,
	}))
	meta.Append(map[string]string{TraceNameColumn: "full", ComponentOrderColumn: "ENZ"})

	put(t, arch, "vertical", mat.NewDense(1, 6, []float64{9, 9, 9, 9, 9, 9}))
	meta.Append(map[string]string{TraceNameColumn: "vertical", ComponentOrderColumn: "Z"})

	d, err := New(meta, arch, nil)
	require.NoError(t, err)

	wf, err := d.GetWaveforms(nil)
	require.NoError(t, err)
	assert.Equal(t, [3]int{2, 3, 6}, wf.Shape())

	// Stored ENZ, returned ZNE; shorter trace padded with zeros.
	assert.Equal(t, []float64{3, 3, 3, 3, 0, 0}, channel(wf, 0, 0))
	assert.Equal(t, []float64{2, 2, 2, 2, 0, 0}, channel(wf, 0, 1))
	assert.Equal(t, []float64{1, 1, 1, 1, 0, 0}, channel(wf, 0, 2))

	assert.Equal(t, []float64{9, 9, 9, 9, 9, 9}, channel(wf, 1, 0))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, channel(wf, 1, 1))
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, channel(wf, 1, 2))

	require.NoError(t, d.SetComponentOrder("RT"))
	_, err = d.GetWaveforms(nil)
	assert.Error(t, err)
}

func TestGetSample(t *testing.T) {
	d := newDummy(t, nil)

	wf, row, err := d.GetSample(0)
	require.NoError(t, err)
	r, c := wf.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 1200, c)
	assert.Equal(t, "dummy_0000", row[TraceNameColumn])
	assert.Equal(t, "train", row[SplitColumn])

	require.NoError(t, d.SetDimensionOrder("NWC"))
	wt, _, err := d.GetSample(0)
	require.NoError(t, err)
	assert.True(t, mat.Equal(wf.T(), wt))

	_, _, err = d.GetSample(d.Len())
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, _, err = d.GetSample(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestSplits(t *testing.T) {
	d := newDummy(t, nil)
	mask, err := d.SplitMask("dev")
	require.NoError(t, err)
	assert.Equal(t, 10, countTrue(mask))

	require.NoError(t, d.FilterSplit("test"))
	assert.Equal(t, 30, d.Len())

	unique, err := d.Metadata().Unique(SplitColumn)
	require.NoError(t, err)
	assert.Equal(t, []string{"test"}, unique)
}

func TestSummary(t *testing.T) {
	d := newDummy(t, nil)
	s, err := d.Summary()
	require.NoError(t, err)

	assert.Equal(t, 100, s.Traces)
	assert.Equal(t, map[string]int{"train": 60, "dev": 10, "test": 30}, s.Splits)
	assert.Equal(t, []string{"dev", "test", "train"}, s.SplitNames())
	assert.Equal(t, 1200, s.MinSamples)
	assert.Equal(t, 1200, s.MaxSamples)
	assert.Greater(t, s.PeakMean, 0.0)
	assert.GreaterOrEqual(t, s.PeakMax, s.PeakMean)
	assert.Equal(t, 100, d.CacheLen())
}

func TestDummyIsDeterministic(t *testing.T) {
	a := DummyTraces(DummyOptions{Traces: 5, Samples: 20})
	b := DummyTraces(DummyOptions{Traces: 5, Samples: 20})
	c := DummyTraces(DummyOptions{Traces: 5, Samples: 20, Seed: 7})
	require.Len(t, a, 5)
	for i := range a {
		assert.Equal(t, a[i].Meta, b[i].Meta)
		assert.True(t, mat.Equal(a[i].Waveform, b[i].Waveform))
	}
	assert.False(t, mat.Equal(a[0].Waveform, c[0].Waveform))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	bad := "ZZ"
	_, err := NewDummy(DummyOptions{}, &config.DatasetConfig{ComponentOrder: &bad})
	assert.Error(t, err)

	_, err = New(metadata.New("split"), archive.NewMemory(nil), nil)
	require.NoError(t, err)
	meta := metadata.New("split")
	meta.Append(map[string]string{"split": "train"})
	_, err = New(meta, archive.NewMemory(nil), nil)
	assert.ErrorIs(t, err, metadata.ErrUnknownColumn)
}

func TestLoadWrittenDataset(t *testing.T) {
	testutil.CaptureLogs(t)
	dir := filepath.Join(t.TempDir(), "dummy")
	traces := DummyTraces(DummyOptions{Traces: 6, Samples: 50})

	err := writer.Write(dir, func(w *writer.Writer) error {
		for _, tr := range traces {
			if err := w.AddTrace(tr.Meta, tr.Waveform); err != nil {
				return err
			}
		}
		return nil
	}, writer.WithDataFormat(DummyFormat))
	require.NoError(t, err)

	d, err := Load(dir, cacheConfig(true, false))
	require.NoError(t, err)
	defer d.Close()

	loc, err := d.Metadata().Get(5, TraceLocationColumn)
	require.NoError(t, err)
	assert.Equal(t, "bucket0$5,:3,:50", loc)
	assert.Equal(t, 6, d.Len())
	assert.Equal(t, 6, d.CacheLen())
	for i, tr := range traces {
		wf, row, err := d.GetSample(i)
		require.NoError(t, err)
		assert.Equal(t, tr.Meta[TraceNameColumn], row[TraceNameColumn])
		assert.True(t, mat.EqualApprox(tr.Waveform, wf, 0), "trace %d", i)
	}
}

func TestLoadWrittenDummyDefaults(t *testing.T) {
	testutil.CaptureLogs(t)
	dir := filepath.Join(t.TempDir(), "dummy")
	traces := DummyTraces(DummyOptions{})

	err := writer.Write(dir, func(w *writer.Writer) error {
		for _, tr := range traces {
			if err := w.AddTrace(tr.Meta, tr.Waveform); err != nil {
				return err
			}
		}
		return nil
	}, writer.WithDataFormat(DummyFormat))
	require.NoError(t, err)

	d, err := Load(dir, nil)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 100, d.Len())
	assert.Equal(t, 0, d.CacheLen())

	waveforms, err := d.GetWaveforms(nil)
	require.NoError(t, err)
	assert.Equal(t, [3]int{100, 3, 1200}, waveforms.Shape())
	assert.Equal(t, 100, d.CacheLen())
	for _, i := range []int{0, 23, 33, 99} {
		wf, row, err := d.GetSample(i)
		require.NoError(t, err)
		assert.Equal(t, traces[i].Meta[TraceNameColumn], row[TraceNameColumn])
		assert.True(t, mat.Equal(traces[i].Waveform, wf), "trace %d", i)
	}

	require.NoError(t, d.FilterSplit("dev"))
	assert.Equal(t, 10, d.Len())
	assert.Equal(t, 10, d.CacheLen())
}
