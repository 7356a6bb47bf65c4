package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/banshee-data/seisbench/internal/fsutil"
)

// Write encodes the table as CSV with a header row.
func (t *Table) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.columns); err != nil {
		return fmt.Errorf("failed to write metadata header: %w", err)
	}
	record := make([]string, len(t.columns))
	for r := 0; r < t.rows; r++ {
		for c := range t.columns {
			record[c] = t.cells[c][r]
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write metadata row %d: %w", r, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read decodes a CSV table with a header row.
func Read(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata header: %w", err)
	}

	t := New(header...)
	if len(t.columns) != len(header) {
		return nil, fmt.Errorf("duplicate column in metadata header %v", header)
	}
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read metadata row %d: %w", t.rows, err)
		}
		for c := range t.columns {
			t.cells[c] = append(t.cells[c], record[c])
		}
		t.rows++
	}
	return t, nil
}

// WriteFile writes the table to path.
func (t *Table) WriteFile(fsys fsutil.FileSystem, path string) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a table from path.
func ReadFile(fsys fsutil.FileSystem, path string) (*Table, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return Read(f)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
