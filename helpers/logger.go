package helpers

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"sjsage522/pricetracker/logger"
)

// ChangeLogger receives formatted entries describing a stored change.
// Implementations must never fail the caller.
type ChangeLogger interface {
	LogChange(entries ...string)
}

// ChangeLog appends change entries to a file with a timestamp
type ChangeLog struct {
	mu   sync.Mutex
	file string
	now  func() time.Time
}

// NewChangeLog creates a change log writing to file
func NewChangeLog(file string) *ChangeLog {
	return &ChangeLog{
		file: file,
		now:  time.Now,
	}
}

// LogChange writes one block per call, entries separated by blank lines
func (l *ChangeLog) LogChange(entries ...string) {
	if len(entries) == 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.file, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		logger.LogError("changelog", err, "failed to open %s", l.file)
		return
	}
	defer f.Close()

	timestamp := l.now().Format("2006-01-02 15:04:05")
	block := fmt.Sprintf("[%s]\n%s\n\n", timestamp, strings.Join(entries, "\n\n"))
	if _, err := f.WriteString(block); err != nil {
		logger.LogError("changelog", err, "failed to write %s", l.file)
	}
}

// NopChangeLog discards all entries
type NopChangeLog struct{}

// LogChange implements ChangeLogger
func (NopChangeLog) LogChange(...string) {}
