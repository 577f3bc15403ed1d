package progress

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// JSONLLog stores one JSON outcome per line. The whole log is mirrored in
// memory; progress logs stay small enough for that.
type JSONLLog struct {
	mu      sync.RWMutex
	f       *os.File
	path    string
	entries []Outcome
	skipped int
}

var _ Log = (*JSONLLog)(nil)

// OpenJSONL opens path for appending, loading existing entries. Lines that
// do not parse (for example a torn final write) are skipped and counted.
func OpenJSONL(path string) (*JSONLLog, error) {
	l := &JSONLLog{path: path}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, failure.Wrap(failure.KindIO, "progress", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var o Outcome
		if err := json.Unmarshal(line, &o); err != nil {
			l.skipped++
			continue
		}
		l.entries = append(l.entries, o)
	}
	if err := sc.Err(); err != nil {
		return nil, failure.Wrap(failure.KindIO, "progress", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, failure.Wrap(failure.KindIO, "progress", err)
	}
	// A torn last line would otherwise swallow the next record.
	if len(data) > 0 && data[len(data)-1] != '\n' {
		if _, err := f.Write([]byte("\n")); err != nil {
			f.Close()
			return nil, failure.Wrap(failure.KindIO, "progress", err)
		}
	}
	l.f = f
	return l, nil
}

// Path returns the file backing the log.
func (l *JSONLLog) Path() string { return l.path }

// Skipped returns how many unreadable lines were ignored at open.
func (l *JSONLLog) Skipped() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.skipped
}

func (l *JSONLLog) Append(o Outcome) (Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return Outcome{}, failure.New(failure.KindIO, "progress", "log is closed")
	}

	o.Seq = 1
	if n := len(l.entries); n > 0 {
		o.Seq = l.entries[n-1].Seq + 1
	}
	line, err := json.Marshal(o)
	if err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", fmt.Errorf("encode outcome: %w", err))
	}
	line = append(line, '\n')
	if _, err := l.f.Write(line); err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", err)
	}
	if err := l.f.Sync(); err != nil {
		return Outcome{}, failure.Wrap(failure.KindIO, "progress", err)
	}
	l.entries = append(l.entries, o)
	return o, nil
}

func (l *JSONLLog) Since(seq int64) ([]Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Outcome
	for _, o := range l.entries {
		if o.Seq > seq {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *JSONLLog) Recent(n int) ([]Outcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 {
		return nil, nil
	}
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	return append([]Outcome(nil), l.entries[start:]...), nil
}

func (l *JSONLLog) Last() (Outcome, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return Outcome{}, false, nil
	}
	return l.entries[len(l.entries)-1], true, nil
}

func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}
