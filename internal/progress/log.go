package progress

import (
	"fmt"
	"path/filepath"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// Backend names.
const (
	BackendJSONL  = "jsonl"
	BackendSQLite = "sqlite"
)

// Log is an append-only store of outcomes. Implementations are safe for
// one writer and concurrent readers.
type Log interface {
	// Append assigns the next sequence number and persists o.
	Append(o Outcome) (Outcome, error)
	// Since returns outcomes with Seq > seq, oldest first.
	Since(seq int64) ([]Outcome, error)
	// Recent returns up to n of the newest outcomes, oldest first.
	Recent(n int) ([]Outcome, error)
	// Last returns the newest outcome.
	Last() (Outcome, bool, error)
	Close() error
}

// DefaultPath returns the conventional log file for a backend.
func DefaultPath(dir, backend string) string {
	if backend == BackendSQLite {
		return filepath.Join(dir, "progress.db")
	}
	return filepath.Join(dir, "progress.jsonl")
}

// Open opens or creates a log.
func Open(backend, path string) (Log, error) {
	switch backend {
	case "", BackendJSONL:
		return OpenJSONL(path)
	case BackendSQLite:
		return OpenSQLite(path)
	default:
		return nil, failure.New(failure.KindConfig, "progress", fmt.Sprintf("unknown backend %q", backend))
	}
}
