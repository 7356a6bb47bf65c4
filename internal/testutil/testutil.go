// Package testutil provides shared test utilities and fixtures.
package testutil

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/banshee-data/seisbench/internal/monitoring"
)

// LogBuffer collects lines written through the monitoring logger.
type LogBuffer struct {
	mu    sync.Mutex
	lines []string
}

// CaptureLogs redirects monitoring.Logf into a buffer until the test ends.
// Tests using it must not run in parallel with other log-capturing tests.
func CaptureLogs(t testing.TB) *LogBuffer {
	t.Helper()
	buf := &LogBuffer{}
	original := monitoring.Logf
	monitoring.SetLogger(buf.logf)
	t.Cleanup(func() { monitoring.Logf = original })
	return buf
}

func (b *LogBuffer) logf(format string, v ...interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, fmt.Sprintf(format, v...))
}

// Lines returns a copy of the captured lines.
func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.lines))
	copy(out, b.lines)
	return out
}

// String joins the captured lines.
func (b *LogBuffer) String() string {
	return strings.Join(b.Lines(), "\n")
}

// Count returns how many lines contain substr.
func (b *LogBuffer) Count(substr string) int {
	n := 0
	for _, l := range b.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}
