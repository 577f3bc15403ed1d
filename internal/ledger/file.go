package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// DefaultFile is the ledger file name inside a project directory.
const DefaultFile = "prd.json"

// ErrExists is returned by Init when a ledger is already present.
var ErrExists = errors.New("ledger already exists")

// Load reads and validates a ledger. A malformed or invalid ledger is a
// config error; an unreadable file is an I/O error.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Newf(failure.KindConfig, "ledger", "no ledger at %s (run `ralph init`)", path)
		}
		return nil, failure.Wrap(failure.KindIO, "ledger", err)
	}
	return Parse(data)
}

// Parse decodes and validates ledger JSON.
func Parse(data []byte) (*Ledger, error) {
	var l Ledger
	if err := json.Unmarshal(bytes.TrimSpace(data), &l); err != nil {
		return nil, failure.Wrap(failure.KindConfig, "ledger", fmt.Errorf("invalid JSON: %w", err))
	}
	// Hand-written files predating the version marker.
	if l.Version == 0 {
		l.Version = SchemaVersion
	}
	if l.Stories == nil {
		l.Stories = []Story{}
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return &l, nil
}

// Save writes the ledger atomically. Failures are I/O errors.
func Save(path string, l *Ledger) error {
	if l.Version == 0 {
		l.Version = SchemaVersion
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return failure.Wrap(failure.KindIO, "ledger", err)
	}
	data = append(data, '\n')
	if err := WriteFileAtomic(path, data, 0644); err != nil {
		return failure.Wrap(failure.KindIO, "ledger", err)
	}
	return nil
}

// Init scaffolds an empty ledger in dir. It refuses to overwrite.
func Init(dir, project string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", failure.Wrap(failure.KindIO, "ledger", err)
	}
	path := filepath.Join(dir, DefaultFile)
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("%s: %w", path, ErrExists)
	}
	if project == "" {
		project = filepath.Base(dir)
	}
	l := &Ledger{
		Version: SchemaVersion,
		Project: project,
		Stories: []Story{},
	}
	return path, Save(path, l)
}

// WriteFileAtomic writes data to path through a temp file in the same
// directory followed by a rename. On failure the original file is left
// unchanged.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, ".ralph-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := f.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	success = true
	return nil
}
