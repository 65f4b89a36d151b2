package artifact

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sameehj/gencad/pkg/errinfo"
)

const (
	DefaultSuffix = ".py"
	DefaultTTL    = 30 * time.Second
)

// Artifact is a validated script persisted for the engine to read.
type Artifact struct {
	ID        string
	Path      string
	CreatedAt time.Time
	TTL       time.Duration
}

// Expired reports whether the artifact outlived its TTL at now.
func (a *Artifact) Expired(now time.Time) bool {
	return now.Sub(a.CreatedAt) >= a.TTL
}

// CleanupFunc observes the result of a cleanup. err is nil on success or a
// CleanupWarning.
type CleanupFunc func(a *Artifact, err error)

// Manager owns artifacts from creation to deletion.
type Manager struct {
	dir    string
	suffix string
	ttl    time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*scheduled
	wg      sync.WaitGroup
}

type scheduled struct {
	artifact *Artifact
	timer    *time.Timer
	notify   CleanupFunc
	once     sync.Once
}

// NewManager stores artifacts in dir (os.TempDir when empty).
func NewManager(dir, suffix string, ttl time.Duration) *Manager {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{dir: dir, suffix: suffix, ttl: ttl, pending: make(map[string]*scheduled)}
}

// SetLogger enables debug and warning logs for file operations.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// TTL is the lifetime given to every persisted artifact.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Persist writes source to a uniquely named file that outlives the call.
func (m *Manager) Persist(source string) (*Artifact, error) {
	id := uuid.NewString()
	f, err := os.CreateTemp(m.dir, "gencad-"+id[:8]+"-*"+m.suffix)
	if err != nil {
		return nil, errinfo.Wrap(err, errinfo.KindIOFailure, "error saving temporary script")
	}
	if _, err := f.WriteString(source); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return nil, errinfo.Wrap(err, errinfo.KindIOFailure, "error saving temporary script")
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return nil, errinfo.Wrap(err, errinfo.KindIOFailure, "error saving temporary script")
	}
	a := &Artifact{ID: id, Path: f.Name(), CreatedAt: time.Now(), TTL: m.ttl}
	m.logDebug("artifact_persisted", "id", a.ID, "path", a.Path)
	return a, nil
}

// Cleanup deletes the artifact if it still exists. Failures come back as a
// CleanupWarning and are never fatal.
func (m *Manager) Cleanup(a *Artifact) error {
	if a == nil {
		return nil
	}
	err := os.Remove(a.Path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		m.logDebug("artifact_removed", "id", a.ID, "path", a.Path)
		return nil
	}
	m.logWarn("artifact_cleanup_failed", "id", a.ID, "path", a.Path, "error", err)
	return errinfo.Wrap(err, errinfo.KindCleanupWarning, "could not clean up temporary file")
}

// ScheduleCleanup deletes the artifact once its TTL elapses, whether or not
// the engine has finished reading it.
func (m *Manager) ScheduleCleanup(a *Artifact, notify CleanupFunc) {
	var delay time.Duration
	if now := time.Now(); !a.Expired(now) {
		delay = a.CreatedAt.Add(a.TTL).Sub(now)
	}
	s := &scheduled{artifact: a, notify: notify}
	m.mu.Lock()
	m.pending[a.ID] = s
	m.wg.Add(1)
	s.timer = time.AfterFunc(delay, func() { m.fire(s) })
	m.mu.Unlock()
}

func (m *Manager) fire(s *scheduled) {
	s.once.Do(func() {
		defer m.wg.Done()
		m.mu.Lock()
		delete(m.pending, s.artifact.ID)
		m.mu.Unlock()

		err := m.Cleanup(s.artifact)
		if s.notify != nil {
			s.notify(s.artifact, err)
		}
	})
}

// Pending returns the number of scheduled cleanups not yet run.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Flush runs every pending cleanup now.
func (m *Manager) Flush() {
	m.mu.Lock()
	items := make([]*scheduled, 0, len(m.pending))
	for _, s := range m.pending {
		items = append(items, s)
	}
	m.mu.Unlock()

	for _, s := range items {
		s.timer.Stop()
		m.fire(s)
	}
}

// Wait blocks until every scheduled cleanup has run or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) logDebug(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Debug(msg, args...)
	}
}

func (m *Manager) logWarn(msg string, args ...any) {
	if m.logger != nil {
		m.logger.Warn(msg, args...)
	}
}
