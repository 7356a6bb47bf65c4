package archive

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/scigolib/hdf5"
	"gonum.org/v1/gonum/mat"
)

// DefaultBucketSize is the number of traces packed into one bucket dataset.
const DefaultBucketSize = 1024

// bucket buffers traces of one shape until it is written as
// /data/bucket<id>.
type bucket struct {
	id       int
	channels int
	samples  int
	n        int
	data     []float64
}

func (b *bucket) name() string { return "bucket" + strconv.Itoa(b.id) }

// HDF5Writer writes traces to a new HDF5 file. Traces are buffered per shape
// and written a bucket at a time, so the file is only complete after Close.
type HDF5Writer struct {
	fw         *hdf5.FileWriter
	path       string
	bucketSize int
	keys       map[string]bool
	open       map[[2]int]*bucket
	next       int
}

// HDF5Option configures an HDF5Writer.
type HDF5Option func(*HDF5Writer)

// WithBucketSize sets how many traces share a bucket dataset.
func WithBucketSize(n int) HDF5Option {
	return func(w *HDF5Writer) {
		if n > 0 {
			w.bucketSize = n
		}
	}
}

// CreateHDF5 creates (or truncates) an HDF5 archive. attrs are written once
// to the /data_format group.
func CreateHDF5(filename string, attrs map[string]string, opts ...HDF5Option) (*HDF5Writer, error) {
	fw, err := hdf5.CreateForWrite(filename, hdf5.CreateTruncate)
	if err != nil {
		return nil, fmt.Errorf("failed to create waveform archive %s: %w", filename, err)
	}
	if err := writeFormat(fw, attrs); err != nil {
		fw.Close()
		return nil, err
	}
	if _, err := fw.CreateGroup(DataGroup); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to create %s group: %w", DataGroup, err)
	}

	w := &HDF5Writer{
		fw:         fw,
		path:       filename,
		bucketSize: DefaultBucketSize,
		keys:       make(map[string]bool),
		open:       make(map[[2]int]*bucket),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

func writeFormat(fw *hdf5.FileWriter, attrs map[string]string) error {
	g, err := fw.CreateGroup(FormatGroup)
	if err != nil {
		return fmt.Errorf("failed to create %s group: %w", FormatGroup, err)
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := g.WriteAttribute(k, attrs[k]); err != nil {
			return fmt.Errorf("failed to write data format attribute %q: %w", k, err)
		}
	}
	return nil
}

// Put buffers one trace and returns its bucket location.
func (w *HDF5Writer) Put(key string, waveform mat.Matrix) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if err := ValidateWaveform(waveform); err != nil {
		return "", fmt.Errorf("trace %q: %w", key, err)
	}
	if w.keys[key] {
		return "", fmt.Errorf("trace %q already stored", key)
	}

	rows, cols, data := flatten(waveform)
	shape := [2]int{rows, cols}
	b := w.open[shape]
	if b == nil {
		b = &bucket{id: w.next, channels: rows, samples: cols}
		w.next++
		w.open[shape] = b
	}
	b.data = append(b.data, data...)
	loc := fmt.Sprintf("%s$%d,:%d,:%d", b.name(), b.n, rows, cols)
	b.n++
	w.keys[key] = true

	if b.n >= w.bucketSize {
		delete(w.open, shape)
		if err := w.writeBucket(b); err != nil {
			return "", err
		}
	}
	return loc, nil
}

func (w *HDF5Writer) writeBucket(b *bucket) error {
	dims := []uint64{uint64(b.n), uint64(b.channels), uint64(b.samples)}
	ds, err := w.fw.CreateDataset(path.Join(DataGroup, b.name()), hdf5.Float64, dims)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", b.name(), err)
	}
	if err := ds.Write(b.data); err != nil {
		return fmt.Errorf("failed to write dataset %s: %w", b.name(), err)
	}
	b.data = nil
	return nil
}

// Close writes the partially filled buckets and closes the file.
func (w *HDF5Writer) Close() error {
	pending := make([]*bucket, 0, len(w.open))
	for _, b := range w.open {
		pending = append(pending, b)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].id < pending[j].id })
	w.open = make(map[[2]int]*bucket)

	var firstErr error
	for _, b := range pending {
		if err := w.writeBucket(b); err != nil {
			firstErr = err
			break
		}
	}
	if err := w.fw.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close waveform archive %s: %w", w.path, err)
	}
	return firstErr
}

// HDF5Reader reads traces from an HDF5 archive.
type HDF5Reader struct {
	mu      sync.Mutex
	file    *hdf5.File
	buckets map[string]*hdf5.Dataset
	attrs   map[string]string
}

// OpenHDF5 opens an archive and indexes its bucket datasets.
func OpenHDF5(filename string) (*HDF5Reader, error) {
	f, err := hdf5.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open waveform archive %s: %w", filename, err)
	}

	r := &HDF5Reader{
		file:    f,
		buckets: make(map[string]*hdf5.Dataset),
		attrs:   make(map[string]string),
	}
	dataPrefix := strings.TrimPrefix(DataGroup, "/") + "/"
	formatName := strings.TrimPrefix(FormatGroup, "/")
	var attrErr error
	f.Walk(func(p string, obj hdf5.Object) {
		p = strings.Trim(p, "/")
		switch o := obj.(type) {
		case *hdf5.Dataset:
			if strings.HasPrefix(p, dataPrefix) {
				r.buckets[strings.TrimPrefix(p, dataPrefix)] = o
			}
		case *hdf5.Group:
			if p == formatName {
				attrErr = r.readFormat(o)
			}
		}
	})
	if attrErr != nil {
		f.Close()
		return nil, attrErr
	}
	return r, nil
}

func (r *HDF5Reader) readFormat(g *hdf5.Group) error {
	attrs, err := g.Attributes()
	if err != nil {
		return fmt.Errorf("failed to read data format: %w", err)
	}
	for _, a := range attrs {
		v, err := a.ReadValue()
		if err != nil {
			return fmt.Errorf("failed to read data format attribute %q: %w", a.Name, err)
		}
		switch s := v.(type) {
		case string:
			r.attrs[a.Name] = s
		case []string:
			r.attrs[a.Name] = strings.Join(s, "")
		default:
			r.attrs[a.Name] = fmt.Sprint(v)
		}
	}
	return nil
}

// Get reads the trace at location as (channels, samples).
func (r *HDF5Reader) Get(location string) (*mat.Dense, error) {
	name, index, channels, samples, err := ParseLocation(location)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ds, ok := r.buckets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTraceNotFound, location)
	}
	raw, err := ds.ReadSlice(
		[]uint64{uint64(index), 0, 0},
		[]uint64{1, uint64(channels), uint64(samples)},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %q: %w", location, err)
	}
	data, ok := raw.([]float64)
	if !ok {
		return nil, fmt.Errorf("trace %q: unexpected sample type %T", location, raw)
	}
	if len(data) != channels*samples {
		return nil, fmt.Errorf("trace %q: read %d samples, want %d", location, len(data), channels*samples)
	}
	return mat.NewDense(channels, samples, data), nil
}

// Attrs returns a copy of the data format attributes.
func (r *HDF5Reader) Attrs() map[string]string {
	return copyAttrs(r.attrs)
}

// Buckets returns the indexed bucket names in sorted order.
func (r *HDF5Reader) Buckets() []string {
	names := make([]string, 0, len(r.buckets))
	for k := range r.buckets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Close closes the underlying file.
func (r *HDF5Reader) Close() error {
	return r.file.Close()
}

// ParseLocation splits "bucket<K>$<index>,:<channels>,:<samples>".
func ParseLocation(location string) (bucket string, index, channels, samples int, err error) {
	bad := func() (string, int, int, int, error) {
		return "", 0, 0, 0, fmt.Errorf("%w: malformed location %q", ErrTraceNotFound, location)
	}
	bucket, rest, ok := strings.Cut(location, "$")
	if !ok || bucket == "" {
		return bad()
	}
	parts := strings.Split(rest, ",")
	if len(parts) != 3 || !strings.HasPrefix(parts[1], ":") || !strings.HasPrefix(parts[2], ":") {
		return bad()
	}
	if index, err = strconv.Atoi(parts[0]); err != nil || index < 0 {
		return bad()
	}
	if channels, err = strconv.Atoi(parts[1][1:]); err != nil || channels <= 0 {
		return bad()
	}
	if samples, err = strconv.Atoi(parts[2][1:]); err != nil || samples <= 0 {
		return bad()
	}
	return bucket, index, channels, samples, nil
}
