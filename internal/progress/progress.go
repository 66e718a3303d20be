package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

type Bar struct {
	label      string
	total      int64
	current    int64
	width      int
	writer     io.Writer
	mu         sync.Mutex
	enabled    bool
	lastUpdate time.Time
}

// New returns a bar writing to stderr. It stays silent when stderr is not
// a terminal so logs and piped output are not polluted.
func New(label string, total int64) *Bar {
	return NewWithWriter(label, total, os.Stderr, isTerminal(os.Stderr))
}

func NewWithWriter(label string, total int64, w io.Writer, enabled bool) *Bar {
	return &Bar{
		label:      label,
		total:      total,
		width:      40,
		writer:     w,
		enabled:    enabled,
		lastUpdate: time.Now(),
	}
}

func isTerminal(f *os.File) bool {
	fileInfo, err := f.Stat()
	if err != nil {
		return false
	}
	// Check if the file is a terminal (character device)
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}

// SetTotal adjusts the expected count, e.g. once a partial pre-scan is
// overtaken by the real walk.
func (b *Bar) SetTotal(total int64) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.total = total
	b.mu.Unlock()
}

func (b *Bar) Increment() {
	if b == nil || !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.current++
	if b.current > b.total {
		b.total = b.current
	}

	// Update at most every 100ms to reduce flickering
	now := time.Now()
	if now.Sub(b.lastUpdate) > 100*time.Millisecond || b.current == b.total {
		b.lastUpdate = now
		b.render()
	}
}

// render must be called with mu already locked
func (b *Bar) render() {
	if b.total == 0 {
		return
	}

	percent := float64(b.current) / float64(b.total) * 100
	filledWidth := int(float64(b.width) * float64(b.current) / float64(b.total))

	if filledWidth > b.width {
		filledWidth = b.width
	}

	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", b.width-filledWidth)

	// Clear the line and write progress
	fmt.Fprintf(b.writer, "\r\033[K%-8s [%s] %3d%% (%d/%d)",
		b.label, bar, int(percent), b.current, b.total)
}

func (b *Bar) Finish() {
	if b == nil || !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.current = b.total
	b.render()
	fmt.Fprintf(b.writer, "\n")
}
