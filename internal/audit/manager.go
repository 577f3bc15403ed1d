package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ralph/internal/failure"
)

// Status is the lifecycle of a background audit.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const defaultRetain = 16

// Request starts an audit.
type Request struct {
	Path     string
	Sections []string
	Format   string
}

// State is a snapshot of one audit. Report and Rendered are set once the
// audit completes.
type State struct {
	ID         string     `json:"audit_id"`
	Root       string     `json:"path"`
	Sections   []Section  `json:"sections"`
	Format     Format     `json:"format"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty"`
	Report     *Report    `json:"report,omitempty"`
	Rendered   string     `json:"rendered,omitempty"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// DefaultRoot is audited when a request names no path.
	DefaultRoot string

	// Retain bounds how many audits are remembered. Defaults to 16.
	Retain int

	Scanner *Scanner
	Logger  *zap.Logger
}

// Manager runs audits in the background and keeps their results.
type Manager struct {
	defaultRoot string
	retain      int
	scanner     *Scanner
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	audits map[string]*State
	order  []string
}

// NewManager creates a Manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retain <= 0 {
		cfg.Retain = defaultRetain
	}
	if cfg.Scanner == nil {
		cfg.Scanner = &Scanner{Logger: cfg.Logger}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		defaultRoot: cfg.DefaultRoot,
		retain:      cfg.Retain,
		scanner:     cfg.Scanner,
		logger:      cfg.Logger,
		ctx:         ctx,
		cancel:      cancel,
		audits:      make(map[string]*State),
	}
}

// Start validates req and begins the audit. The audit outlives the caller's
// request; Close cancels it.
func (m *Manager) Start(req Request) (State, error) {
	root, err := ResolveRoot(req.Path, m.defaultRoot)
	if err != nil {
		return State{}, err
	}
	sections, err := ParseSections(req.Sections)
	if err != nil {
		return State{}, err
	}
	format, err := ParseFormat(req.Format)
	if err != nil {
		return State{}, err
	}
	if m.ctx.Err() != nil {
		return State{}, failure.New(failure.KindCancelled, "audit", "audit manager is closed")
	}

	st := &State{
		ID:        "audit-" + uuid.NewString(),
		Root:      root,
		Sections:  sections,
		Format:    format,
		Status:    StatusPending,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.audits[st.ID] = st
	m.order = append(m.order, st.ID)
	m.evictLocked()
	snapshot := *st
	m.mu.Unlock()

	m.logger.Info("audit started",
		zap.String("audit_id", st.ID),
		zap.String("root", root),
		zap.Int("sections", len(sections)),
	)

	m.wg.Add(1)
	go m.run(st.ID, root, sections, format)
	return snapshot, nil
}

func (m *Manager) run(id, root string, sections []Section, format Format) {
	defer m.wg.Done()

	m.update(id, func(st *State) { st.Status = StatusRunning })
	report, err := m.scanner.Scan(m.ctx, root, sections, func(pct int) {
		m.update(id, func(st *State) { st.Progress = pct })
	})

	rendered := ""
	if err == nil && format == FormatMarkdown {
		rendered = Markdown(report)
	}
	now := time.Now().UTC()
	m.update(id, func(st *State) {
		st.FinishedAt = &now
		if err != nil {
			st.Status = StatusFailed
			st.Error = err.Error()
			return
		}
		st.Status = StatusCompleted
		st.Progress = 100
		st.Report = report
		st.Rendered = rendered
	})
	if err != nil {
		m.logger.Warn("audit failed", zap.String("audit_id", id), zap.Error(err))
	}
}

func (m *Manager) update(id string, fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.audits[id]; ok {
		fn(st)
	}
}

// Get returns a snapshot of the audit with id.
func (m *Manager) Get(id string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.audits[id]
	if !ok {
		return State{}, failure.Newf(failure.KindInvalidArgument, "audit", "audit not found: %s", id)
	}
	return *st, nil
}

// List returns snapshots of the remembered audits, oldest first.
func (m *Manager) List() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]State, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.audits[id])
	}
	return out
}

// Close cancels running audits and waits for them to stop.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// evictLocked drops the oldest finished audits beyond the retain limit.
// Running audits are never dropped.
func (m *Manager) evictLocked() {
	for i := 0; len(m.order) > m.retain && i < len(m.order); {
		st := m.audits[m.order[i]]
		if st.Status == StatusCompleted || st.Status == StatusFailed {
			delete(m.audits, st.ID)
			m.order = append(m.order[:i], m.order[i+1:]...)
			continue
		}
		i++
	}
}
