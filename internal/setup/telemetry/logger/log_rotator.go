package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// LogRotator writes to a log file and keeps it from growing past roughly
// twice maxLines by periodically rewriting it with only the newest lines.
type LogRotator struct {
	mu       sync.Mutex
	writer   io.Writer
	buffer   *RingBuffer
	pending  int // Lines written since the file was last rewritten
	filePath string
}

// NewLogRotator creates a new LogRotator. A non-positive maxLines disables rotation.
func NewLogRotator(writer io.Writer, maxLines int, filePath string) *LogRotator {
	rotator := &LogRotator{
		writer:   writer,
		filePath: filePath,
	}

	if maxLines > 0 {
		rotator.buffer = NewRingBuffer(maxLines)
	}

	return rotator
}

// Write implements io.Writer.
func (w *LogRotator) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.writer.Write(p)
	if err != nil || w.buffer == nil {
		return n, err
	}

	for line := range strings.SplitSeq(strings.TrimRight(string(p), "\n"), "\n") {
		if line == "" {
			continue
		}

		w.buffer.Add(line)
		w.pending++
	}

	if w.pending >= w.buffer.Cap()*2 {
		if err := w.rotate(); err != nil {
			return n, fmt.Errorf("failed to rotate log file: %w", err)
		}

		w.pending = w.buffer.Len()
	}

	return n, nil
}

// rotate replaces the file with the buffered lines and reopens it for appending.
func (w *LogRotator) rotate() error {
	lines := w.buffer.Lines()
	if len(lines) == 0 {
		return nil
	}

	temp, err := os.CreateTemp(filepath.Dir(w.filePath), "rotate-*.log")
	if err != nil {
		return err
	}

	_, err = temp.WriteString(strings.Join(lines, "\n") + "\n")
	if err == nil {
		err = temp.Sync()
	}

	if closeErr := temp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		os.Remove(temp.Name())
		return err
	}

	if closer, ok := w.writer.(io.Closer); ok {
		closer.Close()
	}

	if err := os.Rename(temp.Name(), w.filePath); err != nil {
		return err
	}

	file, err := os.OpenFile(w.filePath, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	w.writer = file

	return nil
}
