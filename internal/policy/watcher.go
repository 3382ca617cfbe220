package policy

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/handoffhq/handoff/internal/apperr"
	"github.com/handoffhq/handoff/internal/obslog"
	"go.uber.org/zap"
)

// Watcher hot-reloads each workspace's compiled policy on file change,
// caching the compiled result per workspace root so the tool handler
// never re-reads disk on the evaluation hot path.
type Watcher struct {
	mu                     sync.RWMutex
	compiled               map[string]*CompiledPolicy
	fsw                    *fsnotify.Watcher
	log                    *obslog.Logger
	globalCommandAllowlist []string
}

// NewWatcher constructs a Watcher with no workspaces registered yet.
// globalCommandAllowlist is the server-level ceiling every workspace's
// allowed_commands is filtered against on every load and reload.
func NewWatcher(log *obslog.Logger, globalCommandAllowlist []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, apperr.Wrap(apperr.Policy, "create fsnotify watcher", err)
	}
	return &Watcher{
		compiled:               make(map[string]*CompiledPolicy),
		fsw:                    fsw,
		log:                    log,
		globalCommandAllowlist: globalCommandAllowlist,
	}, nil
}

// Watch begins tracking workspaceRoot's policy file: it loads the
// current policy synchronously (so Get is immediately usable) and adds
// the workspace's .handoff directory to the fsnotify watch set.
func (w *Watcher) Watch(workspaceRoot string) (*CompiledPolicy, error) {
	cp, loadErr := Load(workspaceRoot, w.globalCommandAllowlist)
	if loadErr != nil {
		w.log.Warn("policy load failed, falling back to deny-all",
			zap.String("workspace_root", workspaceRoot), zap.Error(loadErr))
	}

	w.mu.Lock()
	w.compiled[workspaceRoot] = cp
	w.mu.Unlock()

	dir := filepath.Join(workspaceRoot, ".handoff")
	if err := w.fsw.Add(dir); err != nil {
		// The directory may not exist yet (no settings.json has ever been
		// written); that's fine, the workspace simply stays deny-all until
		// one appears under a directory we can watch.
		w.log.Debug("policy directory not watchable yet",
			zap.String("dir", dir), zap.Error(err))
	}

	return cp, nil
}

// Get returns the cached compiled policy for workspaceRoot, or DenyAll
// if the workspace was never registered.
func (w *Watcher) Get(workspaceRoot string) *CompiledPolicy {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if cp, ok := w.compiled[workspaceRoot]; ok {
		return cp
	}
	return DenyAll()
}

// Run processes fsnotify events until ctx is cancelled, reloading and
// recompiling the affected workspace's policy on every write/create/
// remove/rename event touching its settings.json.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.fsw.Close()
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != "settings.json" {
				continue
			}
			w.reload(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("policy watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload(settingsPath string) {
	workspaceRoot := filepath.Dir(filepath.Dir(settingsPath)) // .handoff/settings.json -> workspace root
	cp, err := Load(workspaceRoot, w.globalCommandAllowlist)
	if err != nil {
		w.log.Warn("policy reload failed, falling back to deny-all",
			zap.String("workspace_root", workspaceRoot), zap.Error(err))
	}
	w.mu.Lock()
	w.compiled[workspaceRoot] = cp
	w.mu.Unlock()
	w.log.Info("policy reloaded", zap.String("workspace_root", workspaceRoot), zap.Bool("enabled", cp.Enabled))
}
