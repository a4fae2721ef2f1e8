package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxNameAttempts = 100

// UniqueName inserts a millisecond timestamp before the extension:
// report.pdf -> report_20260314093015123.pdf. attempt > 0 appends a counter
// for names that collide within the same millisecond.
func UniqueName(name string, t time.Time, attempt int) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := fmt.Sprintf("%s%03d", t.Format("20060102150405"), t.Nanosecond()/int(time.Millisecond))
	if attempt > 0 {
		return fmt.Sprintf("%s_%s-%d%s", stem, stamp, attempt, ext)
	}
	return fmt.Sprintf("%s_%s%s", stem, stamp, ext)
}

// CreateExclusive creates dir/name without ever replacing an existing entry.
// When the name is taken it falls back to UniqueName candidates. The caller
// owns the returned file and must remove it on a failed write.
func CreateExclusive(dir, name string, now func() time.Time) (*os.File, string, error) {
	if now == nil {
		now = time.Now
	}

	candidate := name
	stamp := now()
	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		fullPath := filepath.Join(dir, candidate)
		f, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return f, candidate, nil
		}
		if !os.IsExist(err) {
			return nil, "", err
		}
		candidate = UniqueName(name, stamp, attempt)
	}
	return nil, "", fmt.Errorf("no free name for %s after %d attempts", name, maxNameAttempts)
}
