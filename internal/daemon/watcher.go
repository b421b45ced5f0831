package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a debounced filesystem change.
type EventKind int

const (
	// EventRef is a change to a branch ref (HEAD moved).
	EventRef EventKind = iota
	// EventPlan is a change under a docs/plans directory.
	EventPlan
	// EventDesign is a change under ui/designs/sets.
	EventDesign
	// EventTeams is a change under the agent teams directory.
	EventTeams
	// EventTasks is a change under the agent tasks directory.
	EventTasks
)

// Event is one coalesced filesystem change.
type Event struct {
	Kind EventKind
	Path string
}

// Watcher wraps fsnotify with a debounce window: bursts touching the same
// path inside the window collapse to one logical event.
type Watcher struct {
	fsw      *fsnotify.Watcher
	debounce time.Duration
	teamsDir string
	tasksDir string
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer

	// Events carries debounced, classified events.
	Events chan Event

	cache *SyncCache
}

// NewWatcher builds a watcher over the agent teams/tasks directories and,
// via WatchWorktree, each active worktree's refs, plans, and designs.
func NewWatcher(cache *SyncCache, teamsDir, tasksDir string, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsw:      fsw,
		debounce: debounce,
		teamsDir: teamsDir,
		tasksDir: tasksDir,
		logger:   logger,
		pending:  make(map[string]struct{}),
		Events:   make(chan Event, 256),
		cache:    cache,
	}

	w.addDir(teamsDir)
	w.addDir(tasksDir)
	w.addSubdirs(teamsDir)
	w.addSubdirs(tasksDir)
	return w, nil
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// addDir registers a directory, tolerating missing paths — they get picked
// up on the next discovery pass.
func (w *Watcher) addDir(dir string) {
	if dir == "" {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Debug("watch add failed", "dir", dir, "error", err)
	}
}

func (w *Watcher) addSubdirs(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.addDir(filepath.Join(dir, entry.Name()))
		}
	}
}

// WatchWorktree registers the watch points for one active worktree:
// the branch ref (with git-dir fallbacks), plan directories, and designs.
func (w *Watcher) WatchWorktree(wt *WorktreeInfo) {
	refPath := filepath.Join(wt.WorktreePath, ".git", "refs", "heads", wt.Branch)
	if wt.BranchRefPath != nil {
		refPath = *wt.BranchRefPath
	}
	// Refs are replaced whole, so watch the containing directory.
	w.addDir(filepath.Dir(refPath))

	if wt.GitDirPath != nil {
		w.addDir(*wt.GitDirPath)
	} else {
		w.addDir(filepath.Join(wt.WorktreePath, ".git"))
	}

	w.addDir(filepath.Join(wt.WorktreePath, "docs", "plans"))
	repoRoot := filepath.Dir(filepath.Dir(wt.WorktreePath))
	w.addDir(filepath.Join(repoRoot, "docs", "plans"))

	w.addDir(filepath.Join(wt.WorktreePath, "ui", "designs", "sets"))
}

// Run pumps raw fsnotify events through the debouncer until the context is
// cancelled.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			// New team/task subdirectories need their own watch.
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.addDir(event.Name)
				}
			}
			w.enqueue(event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

// enqueue adds a path to the pending set and (re)arms the flush timer.
func (w *Watcher) enqueue(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[path] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for path := range w.pending {
		paths = append(paths, path)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	for _, path := range paths {
		if event, ok := w.classify(path); ok {
			select {
			case w.Events <- event:
			default:
				w.logger.Warn("watch event dropped, channel full", "path", path)
			}
		}
	}
}

// classify maps a changed path to a logical event kind.
func (w *Watcher) classify(path string) (Event, bool) {
	switch {
	case w.teamsDir != "" && strings.HasPrefix(path, w.teamsDir+string(filepath.Separator)):
		return Event{Kind: EventTeams, Path: path}, true
	case w.tasksDir != "" && strings.HasPrefix(path, w.tasksDir+string(filepath.Separator)):
		return Event{Kind: EventTasks, Path: path}, true
	case w.cache.FindWorktreeByDesignPath(path) != nil:
		return Event{Kind: EventDesign, Path: path}, true
	case isPlanFile(path) && w.cache.FindWorktreeByPlanPath(path) != nil:
		return Event{Kind: EventPlan, Path: path}, true
	case w.cache.FindWorktreeByRefPath(path) != nil:
		return Event{Kind: EventRef, Path: path}, true
	default:
		return Event{}, false
	}
}

func isPlanFile(path string) bool {
	return strings.HasSuffix(path, ".md") && strings.Contains(path, string(filepath.Separator)+"plans"+string(filepath.Separator))
}
