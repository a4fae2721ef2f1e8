package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DailyFileWriter appends log lines to log_YYYY_MM_DD.json inside a directory,
// switching to a new file when the local date changes.
type DailyFileWriter struct {
	dir  string
	now  func() time.Time
	mu   sync.Mutex
	day  string
	file *os.File
}

// NewDailyFileWriter creates the log directory if needed
func NewDailyFileWriter(dir string) (*DailyFileWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &DailyFileWriter{dir: dir, now: time.Now}, nil
}

// Write implements io.Writer
func (w *DailyFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	day := w.now().Format("2006_01_02")
	if w.file == nil || day != w.day {
		if w.file != nil {
			w.file.Close()
		}
		f, err := os.OpenFile(filepath.Join(w.dir, "log_"+day+".json"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			w.file = nil
			return 0, err
		}
		w.file = f
		w.day = day
	}
	return w.file.Write(p)
}

// Close closes the current file
func (w *DailyFileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
