package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/antigravity-dev/tina/internal/config"
	"github.com/antigravity-dev/tina/internal/journal"
	"github.com/antigravity-dev/tina/internal/store"
	"github.com/antigravity-dev/tina/internal/telemetry"
)

// Daemon owns the projection loop: worktree discovery, watchers, sync
// passes, and the HTTP surface.
type Daemon struct {
	cfg       *config.Config
	client    *store.Client
	journal   *journal.Journal
	syncer    *Syncer
	cache     *SyncCache
	telemetry *telemetry.Recorder
	logger    *slog.Logger
	nodeID    string
}

// New connects to the store, registers the node, and wires the subsystems.
// A store connect failure here is fatal — the daemon is pointless without
// its projection target.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := store.Connect(ctx, cfg.Store.DeploymentURL)
	if err != nil {
		return nil, fmt.Errorf("store connect: %w", err)
	}

	nodeID, err := client.RegisterNode(ctx, cfg.Store.NodeName, runtime.GOOS, cfg.Store.AuthToken)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("register node: %w", err)
	}

	jrnl, err := journal.Open(cfg.Daemon.JournalDB)
	if err != nil {
		logger.Warn("telemetry journal unavailable, continuing without it", "error", err)
		jrnl = nil
	}

	recorder := telemetry.NewRecorder(client, jrnl, "tina-daemon", logger)
	cache := NewSyncCache()
	syncer := NewSyncer(client, cache, recorder, cfg.Daemon.TeamsDir, cfg.Daemon.TasksDir, logger)

	return &Daemon{
		cfg:       cfg,
		client:    client,
		journal:   jrnl,
		syncer:    syncer,
		cache:     cache,
		telemetry: recorder,
		logger:    logger,
		nodeID:    nodeID,
	}, nil
}

// Close releases the store connection and journal.
func (d *Daemon) Close() {
	if d.journal != nil {
		d.journal.Close()
	}
	d.client.Close()
}

// Run is the daemon main loop. It blocks until the context is cancelled.
// Individual sync failures are logged and retried on the next tick; the
// loop never exits on one.
func (d *Daemon) Run(ctx context.Context) error {
	lock, err := AcquireLock(d.cfg.Daemon.PidFile + ".lock")
	if err != nil {
		return err
	}
	defer ReleaseLock(lock)

	watcher, err := NewWatcher(d.cache, d.cfg.Daemon.TeamsDir, d.cfg.Daemon.TasksDir, d.cfg.Daemon.DebounceWindow.Duration, d.logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	go watcher.Run(ctx)

	httpSrv := NewHTTPServer(d.client, d.logger.With("component", "http"))
	go func() {
		if err := httpSrv.Serve(ctx, d.cfg.Daemon.HTTPPort); err != nil {
			d.logger.Error("http server error", "error", err)
		}
	}()

	d.refreshWorktrees(ctx, watcher)
	if err := d.syncer.SyncAll(ctx); err != nil {
		d.logger.Warn("initial sync failed", "error", err)
	}
	d.syncAllWorktrees(ctx)

	ticker := time.NewTicker(d.cfg.Daemon.TickInterval.Duration)
	defer ticker.Stop()
	heartbeat := time.NewTicker(60 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopping")
			return nil

		case <-heartbeat.C:
			if err := d.client.Heartbeat(ctx, d.nodeID); err != nil {
				d.logger.Warn("heartbeat failed", "error", err)
			}

		case <-ticker.C:
			d.refreshWorktrees(ctx, watcher)
			if err := d.syncer.SyncAll(ctx); err != nil {
				d.logger.Warn("periodic sync failed", "error", err)
			}
			d.syncAllWorktrees(ctx)

		case event := <-watcher.Events:
			d.handleEvent(ctx, event)
		}
	}
}

func (d *Daemon) refreshWorktrees(ctx context.Context, watcher *Watcher) {
	worktrees, err := d.syncer.DiscoverWorktrees(ctx)
	if err != nil {
		d.logger.Warn("worktree discovery failed", "error", err)
		return
	}
	d.cache.SetWorktrees(worktrees)
	for i := range worktrees {
		watcher.WatchWorktree(&worktrees[i])
	}
}

func (d *Daemon) syncAllWorktrees(ctx context.Context) {
	for _, wt := range d.cache.Worktrees() {
		if err := d.syncer.SyncCommits(ctx, wt.OrchestrationID, wt.CurrentPhase, wt.WorktreePath, wt.Branch); err != nil {
			d.logger.Warn("commit sync failed", "orchestration", wt.OrchestrationID, "error", err)
		}
		if err := d.syncer.SyncDesignMetadata(ctx, wt.OrchestrationID, wt.ProjectID, wt.WorktreePath); err != nil {
			d.logger.Warn("design sync failed", "orchestration", wt.OrchestrationID, "error", err)
		}
	}
}

func (d *Daemon) handleEvent(ctx context.Context, event Event) {
	switch event.Kind {
	case EventTeams, EventTasks:
		if err := d.syncer.SyncAll(ctx); err != nil {
			d.logger.Warn("sync after team/task change failed", "error", err)
		}

	case EventRef:
		if wt := d.cache.FindWorktreeByRefPath(event.Path); wt != nil {
			if err := d.syncer.SyncCommits(ctx, wt.OrchestrationID, wt.CurrentPhase, wt.WorktreePath, wt.Branch); err != nil {
				d.logger.Warn("commit sync failed", "orchestration", wt.OrchestrationID, "error", err)
			}
		}

	case EventPlan:
		if wt := d.cache.FindWorktreeByPlanPath(event.Path); wt != nil {
			if err := d.syncer.SyncPlan(ctx, wt.OrchestrationID, event.Path); err != nil {
				d.logger.Warn("plan sync failed", "path", event.Path, "error", err)
			}
		}

	case EventDesign:
		if wt := d.cache.FindWorktreeByDesignPath(event.Path); wt != nil {
			if err := d.syncer.SyncDesignMetadata(ctx, wt.OrchestrationID, wt.ProjectID, wt.WorktreePath); err != nil {
				d.logger.Warn("design sync failed", "orchestration", wt.OrchestrationID, "error", err)
			}
		}
	}
}

// --- Background process management (tina-session daemon start/stop/status) ---

// WritePidFile records the daemon's pid.
func WritePidFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// ReadPidFile returns the recorded pid, or 0 when absent.
func ReadPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// IsRunning reports whether the recorded daemon process is alive.
func IsRunning(pidFile string) (int, bool) {
	pid, err := ReadPidFile(pidFile)
	if err != nil || pid <= 0 {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	// Signal 0 checks existence without side effects.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// StartBackground re-invokes the current binary with `daemon run` detached
// from the terminal and records its pid.
func StartBackground(pidFile string) (int, error) {
	if pid, running := IsRunning(pidFile); running {
		return pid, fmt.Errorf("daemon already running (pid %d)", pid)
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := exec.Command(executable, "daemon", "run")
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}

	if err := WritePidFile(pidFile, cmd.Process.Pid); err != nil {
		cmd.Process.Kill()
		return 0, err
	}
	// Let the child run detached.
	go cmd.Wait()
	return cmd.Process.Pid, nil
}

// StopBackground terminates the recorded daemon process.
func StopBackground(pidFile string) error {
	pid, running := IsRunning(pidFile)
	if !running {
		os.Remove(pidFile)
		return fmt.Errorf("daemon not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon (pid %d): %w", pid, err)
	}
	os.Remove(pidFile)
	return nil
}
