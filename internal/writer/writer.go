// Package writer produces datasets on disk: a metadata table and a waveform
// archive written under ".partial" names and promoted to their final names
// only when the session ends cleanly.
//
// A session that ends with an error (or a panic) leaves the partial files in
// place, logs the failure, and hands the original error back to the caller.
// Use Write for the scoped form:
//
//	err := writer.Write(dir, func(w *writer.Writer) error {
//		return w.AddTrace(map[string]any{"trace_name": "dummy"}, waveform)
//	})
package writer

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/seisbench/internal/archive"
	"github.com/banshee-data/seisbench/internal/fsutil"
	"github.com/banshee-data/seisbench/internal/metadata"
	"github.com/banshee-data/seisbench/internal/monitoring"
	"github.com/banshee-data/seisbench/internal/timeutil"
)

// Artifact names inside the target directory.
const (
	MetadataFile  = "metadata.csv"
	WaveformFile  = "waveforms.hdf5"
	PartialSuffix = ".partial"
)

// Metadata columns maintained by the writer. trace_name identifies a trace;
// trace_location is where the archive stored its waveform.
const (
	TraceNameKey     = "trace_name"
	TraceLocationKey = "trace_location"
)

var (
	// ErrMissingTraceName is returned when trace metadata has no trace_name.
	ErrMissingTraceName = errors.New("trace metadata has no trace_name")
	// ErrDuplicateTrace is returned when a trace_name was already written.
	ErrDuplicateTrace = errors.New("duplicate trace_name")
	// ErrSessionClosed is returned when a finished session is used again.
	ErrSessionClosed = errors.New("writer session is closed")
)

// State is the lifecycle position of a session.
type State int

const (
	StateOpen State = iota
	StateClosing
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// SessionRecorder persists session lifecycle events. *catalog.Catalog
// implements it.
type SessionRecorder interface {
	BeginSession(id, path, state string, startedAt time.Time) error
	FinishSession(id, state string, traces int, finishedAt time.Time, errMsg string) error
}

// ArchiveFactory creates the waveform archive at the given path. attrs are
// the data format attributes of the session.
type ArchiveFactory func(path string, attrs map[string]string) (archive.Writer, error)

func createHDF5(path string, attrs map[string]string) (archive.Writer, error) {
	return archive.CreateHDF5(path, attrs)
}

// Writer is one transactional write session.
type Writer struct {
	dir        string
	fs         fsutil.FileSystem
	clock      timeutil.Clock
	newArchive ArchiveFactory
	recorder   SessionRecorder
	format     DataFormat

	id        string
	state     State
	startedAt time.Time
	meta      *metadata.Table
	names     map[string]bool
	arch      archive.Writer
}

// Option configures a Writer.
type Option func(*Writer)

// WithDataFormat records how waveforms are laid out.
func WithDataFormat(f DataFormat) Option {
	return func(w *Writer) { w.format = f }
}

// WithRecorder records the session, for example in a catalog.
func WithRecorder(r SessionRecorder) Option {
	return func(w *Writer) { w.recorder = r }
}

// WithFileSystem replaces the filesystem used for the directory and metadata.
func WithFileSystem(fs fsutil.FileSystem) Option {
	return func(w *Writer) { w.fs = fs }
}

// WithClock replaces the clock used for session timestamps.
func WithClock(c timeutil.Clock) Option {
	return func(w *Writer) { w.clock = c }
}

// WithArchiveFactory replaces the HDF5 archive, mostly for tests.
func WithArchiveFactory(f ArchiveFactory) Option {
	return func(w *Writer) { w.newArchive = f }
}

// Open starts a session, creating dir and its parents if needed. No files are
// created until the first trace is added.
func Open(dir string, opts ...Option) (*Writer, error) {
	w := &Writer{
		dir:        filepath.Clean(dir),
		fs:         fsutil.OSFileSystem{},
		clock:      timeutil.RealClock{},
		newArchive: createHDF5,
		id:         uuid.NewString(),
		meta:       metadata.New(TraceNameKey),
		names:      make(map[string]bool),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.fs.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create dataset directory %s: %w", w.dir, err)
	}
	w.startedAt = w.clock.Now()
	if w.recorder != nil {
		if err := w.recorder.BeginSession(w.id, w.dir, StateOpen.String(), w.startedAt); err != nil {
			return nil, err
		}
	}
	w.state = StateOpen
	return w, nil
}

// ID returns the session identifier.
func (w *Writer) ID() string { return w.id }

// Dir returns the target directory.
func (w *Writer) Dir() string { return w.dir }

// State returns the current lifecycle state.
func (w *Writer) State() State { return w.state }

// Len returns the number of traces added so far.
func (w *Writer) Len() int { return w.meta.Len() }

func (w *Writer) partial(name string) string {
	return filepath.Join(w.dir, name+PartialSuffix)
}

// AddTrace appends one metadata row and one waveform of shape
// (channels, samples). meta must contain a unique trace_name; the row also
// gets the trace_location the archive assigned.
func (w *Writer) AddTrace(meta map[string]any, waveform mat.Matrix) error {
	if w.state != StateOpen {
		return ErrSessionClosed
	}

	row := make(map[string]string, len(meta))
	for k, v := range meta {
		row[k] = formatValue(v)
	}
	name := row[TraceNameKey]
	if name == "" {
		return ErrMissingTraceName
	}
	if w.names[name] {
		return fmt.Errorf("%w: %q", ErrDuplicateTrace, name)
	}
	if err := archive.ValidateKey(name); err != nil {
		return err
	}
	if err := archive.ValidateWaveform(waveform); err != nil {
		return fmt.Errorf("trace %q: %w", name, err)
	}

	if w.arch == nil {
		arch, err := w.newArchive(w.partial(WaveformFile), w.format.Attrs())
		if err != nil {
			return err
		}
		w.arch = arch
	}
	loc, err := w.arch.Put(name, waveform)
	if err != nil {
		return err
	}
	row[TraceLocationKey] = loc

	w.meta.Append(row, TraceNameKey)
	w.names[name] = true
	return nil
}

// Finish ends the session. With a nil cause the partial files are flushed
// and renamed to their final names. With a non-nil cause they are flushed
// and left in place, the failure is logged, and cause is returned unchanged.
func (w *Writer) Finish(cause error) error {
	if w.state != StateOpen {
		return ErrSessionClosed
	}
	w.state = StateClosing

	err := w.flush()
	if cause == nil && err == nil {
		err = w.commit()
	}

	failure := cause
	if failure == nil {
		failure = err
	} else if err != nil {
		monitoring.Logf("failed to flush partial files in %s: %v", w.dir, err)
	}
	if failure != nil {
		w.state = StateFailed
		monitoring.Errorf("Error in downloading dataset to %s (session %s): %v", w.dir, w.id, failure)
	} else {
		w.state = StateCommitted
		monitoring.Logf("Wrote %d traces to %s", w.meta.Len(), w.dir)
	}

	if w.recorder != nil {
		msg := ""
		if failure != nil {
			msg = failure.Error()
		}
		if rerr := w.recorder.FinishSession(w.id, w.state.String(), w.meta.Len(), w.clock.Now(), msg); rerr != nil {
			monitoring.Logf("failed to record session %s: %v", w.id, rerr)
		}
	}

	if cause != nil {
		return cause
	}
	return err
}

// flush writes the metadata buffer and closes the archive, both under their
// partial names. A session without traces leaves no files behind.
func (w *Writer) flush() error {
	if w.meta.Len() == 0 {
		return w.discardArchive()
	}
	if w.format.IsZero() {
		monitoring.Warnf("No data format options specified. Waveforms in %s carry no layout attributes.", w.dir)
	}

	var errs []error
	if err := w.meta.WriteFile(w.fs, w.partial(MetadataFile)); err != nil {
		errs = append(errs, err)
	}
	if w.arch != nil {
		if err := w.arch.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// discardArchive closes and removes an archive that received no rows.
func (w *Writer) discardArchive() error {
	if w.arch == nil {
		return nil
	}
	cerr := w.arch.Close()
	w.arch = nil
	name := w.partial(WaveformFile)
	if w.fs.Exists(name) {
		if err := w.fs.Remove(name); err != nil {
			return errors.Join(cerr, fmt.Errorf("failed to remove %s: %w", name, err))
		}
	}
	return cerr
}

func (w *Writer) commit() error {
	if w.meta.Len() == 0 {
		return nil
	}
	for _, name := range []string{WaveformFile, MetadataFile} {
		if err := w.fs.Rename(w.partial(name), filepath.Join(w.dir, name)); err != nil {
			return fmt.Errorf("failed to finalize %s: %w", name, err)
		}
	}
	return nil
}

// Write runs fn inside a session on dir. The session commits when fn returns
// nil. When fn returns an error or panics, the partial files are kept, the
// failure is logged, and the error is returned (or the panic resumed).
func Write(dir string, fn func(w *Writer) error, opts ...Option) (err error) {
	w, err := Open(dir, opts...)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			w.Finish(fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	return w.Finish(fn(w))
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return metadata.FormatFloat(x)
	case float32:
		return metadata.FormatFloat(float64(x))
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}
