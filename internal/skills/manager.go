package skills

import (
	"context"
	"log/slog"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/wisty/jimi/internal/models"
)

// Manager owns the immutable-at-runtime set of loaded SkillSpecs plus
// their fsnotify-driven hot reload, grounded on the teacher's
// internal/skills/manager.go. SkillSpecs in the returned slice are
// never mutated in place; a reload swaps in a freshly parsed slice.
type Manager struct {
	dir    string
	logger *slog.Logger

	mu     sync.RWMutex
	skills []models.SkillSpec

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// NewManager loads every SKILL.md that LoadDir finds under dir and
// starts a watcher that reloads the set when an entry directly inside
// dir is created, written, removed or renamed. The watch is not
// recursive: editing a SKILL.md inside a skill's own subdirectory does
// not trigger a reload. Parse errors for individual
// files are logged and the file is skipped, per spec's "loaded once at
// startup" semantics applied per-file rather than aborting the load.
func NewManager(dir string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{dir: dir, logger: logger.With("component", "skills.manager")}
	m.reload()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return m, nil // hot reload is best-effort; static load already succeeded
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return m, nil
	}
	m.watcher = watcher

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go m.watchLoop(ctx)

	return m, nil
}

// Skills returns the currently loaded set (immutable snapshot).
func (m *Manager) Skills() []models.SkillSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.SkillSpec, len(m.skills))
	copy(out, m.skills)
	return out
}

// Close stops the watcher goroutine.
func (m *Manager) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) reload() {
	specs, errs := LoadDir(m.dir)
	for _, err := range errs {
		m.logger.Warn("skipping unparseable skill file", "error", err)
	}
	m.mu.Lock()
	m.skills = specs
	m.mu.Unlock()
}

func (m *Manager) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				m.reload()
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skill watcher error", "error", err)
		}
	}
}
