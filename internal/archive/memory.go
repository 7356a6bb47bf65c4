package archive

import (
	"fmt"
	"sort"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Memory is an in-memory archive implementing both Writer and Reader. A
// trace's location is its key.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]*mat.Dense
	attrs map[string]string
	reads int
}

// NewMemory creates an empty in-memory archive with the given data format
// attributes.
func NewMemory(attrs map[string]string) *Memory {
	return &Memory{
		data:  make(map[string]*mat.Dense),
		attrs: copyAttrs(attrs),
	}
}

// Put stores a copy of waveform under key.
func (m *Memory) Put(key string, waveform mat.Matrix) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	if err := ValidateWaveform(waveform); err != nil {
		return "", fmt.Errorf("trace %q: %w", key, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[key]; ok {
		return "", fmt.Errorf("trace %q already stored", key)
	}
	m.data[key] = mat.DenseCopyOf(waveform)
	return key, nil
}

// Get returns a copy of the stored waveform.
func (m *Memory) Get(location string) (*mat.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.data[location]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTraceNotFound, location)
	}
	m.reads++
	return mat.DenseCopyOf(wf), nil
}

// Attrs returns a copy of the data format attributes.
func (m *Memory) Attrs() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyAttrs(m.attrs)
}

// Reads returns how many successful Get calls were served.
func (m *Memory) Reads() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads
}

// Keys returns the stored keys in sorted order.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }
