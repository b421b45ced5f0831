// Package daemon implements the projection daemon: filesystem watchers,
// sync passes that project local artifacts into the document store, the
// HTTP surface, and the terminal relay.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/antigravity-dev/tina/internal/git"
	"github.com/antigravity-dev/tina/internal/state"
	"github.com/antigravity-dev/tina/internal/store"
	"github.com/antigravity-dev/tina/internal/telemetry"
)

// orchestratorPhaseKey is the cache sentinel for orchestrator-level tasks
// that have no phase.
const orchestratorPhaseKey = "__orchestrator__"

// skipEventThrottle bounds projection.skip events to one per key per window.
const skipEventThrottle = 60 * time.Second

// WorktreeInfo describes one active orchestration's local checkout.
type WorktreeInfo struct {
	OrchestrationID string
	ProjectID       *string
	Feature         string
	WorktreePath    string
	Branch          string
	CurrentPhase    string
	GitDirPath      *string
	BranchRefPath   *string
}

// TaskCacheEntry holds the projected fields of one task; when a snapshot
// equals the cached entry the write is suppressed.
type TaskCacheEntry struct {
	Status      string
	Subject     string
	Description string
	Owner       *string
	BlockedBy   *string
	Metadata    *string
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (e TaskCacheEntry) equal(other TaskCacheEntry) bool {
	return e.Status == other.Status &&
		e.Subject == other.Subject &&
		e.Description == other.Description &&
		equalStrPtr(e.Owner, other.Owner) &&
		equalStrPtr(e.BlockedBy, other.BlockedBy) &&
		equalStrPtr(e.Metadata, other.Metadata)
}

type taskCacheKey struct {
	orchestrationID string
	phaseKey        string
	taskID          string
}

type memberCacheKey struct {
	orchestrationID string
	phaseNumber     string
	agentName       string
}

// SyncCache caches projected state so no-op writes are suppressed. It is
// exclusively owned by the daemon process.
type SyncCache struct {
	taskState            map[taskCacheKey]TaskCacheEntry
	teamMemberState      map[memberCacheKey]string
	teamMembers          map[string]map[string]state.Agent
	teamDirNameByID      map[string]string
	lastCommitSha        map[string]string
	skipEventLastEmitted map[string]int64
	worktrees            []WorktreeInfo
}

// NewSyncCache returns an empty cache.
func NewSyncCache() *SyncCache {
	return &SyncCache{
		taskState:            make(map[taskCacheKey]TaskCacheEntry),
		teamMemberState:      make(map[memberCacheKey]string),
		teamMembers:          make(map[string]map[string]state.Agent),
		teamDirNameByID:      make(map[string]string),
		lastCommitSha:        make(map[string]string),
		skipEventLastEmitted: make(map[string]int64),
	}
}

// SetWorktrees replaces the active worktree list.
func (c *SyncCache) SetWorktrees(worktrees []WorktreeInfo) {
	c.worktrees = worktrees
}

// Worktrees returns the active worktree list.
func (c *SyncCache) Worktrees() []WorktreeInfo {
	return c.worktrees
}

// LastCommitSha returns the cached anchor for an orchestration.
func (c *SyncCache) LastCommitSha(orchestrationID string) (string, bool) {
	sha, ok := c.lastCommitSha[orchestrationID]
	return sha, ok
}

// FindWorktreeByRefPath matches a watch event path against each worktree's
// branch ref (or its git dir HEAD / packed-refs fallbacks). Directory-level
// events may surface an ancestor of the watched leaf, so ancestors match
// too.
func (c *SyncCache) FindWorktreeByRefPath(refPath string) *WorktreeInfo {
	for i := range c.worktrees {
		wt := &c.worktrees[i]

		expected := filepath.Join(wt.WorktreePath, ".git", "refs", "heads", wt.Branch)
		if wt.BranchRefPath != nil {
			expected = *wt.BranchRefPath
		}

		if expected == refPath || isAncestor(refPath, expected) {
			return wt
		}
		if wt.GitDirPath != nil {
			gitDir := *wt.GitDirPath
			if refPath == filepath.Join(gitDir, "HEAD") || refPath == filepath.Join(gitDir, "packed-refs") {
				return wt
			}
		}
	}
	return nil
}

// FindWorktreeByPlanPath matches a plan file path against each worktree's
// docs/plans directory, falling back to the repository-root equivalent
// (planners sometimes write there while execution runs in the worktree).
func (c *SyncCache) FindWorktreeByPlanPath(planPath string) *WorktreeInfo {
	for i := range c.worktrees {
		wt := &c.worktrees[i]

		plansDir := filepath.Join(wt.WorktreePath, "docs", "plans")
		if isAncestor(plansDir, planPath) {
			return wt
		}

		repoRoot := filepath.Dir(filepath.Dir(wt.WorktreePath))
		if repoRoot != "." && isAncestor(filepath.Join(repoRoot, "docs", "plans"), planPath) {
			return wt
		}
	}
	return nil
}

// FindWorktreeByDesignPath matches a design file path against each
// worktree's ui/designs/sets directory.
func (c *SyncCache) FindWorktreeByDesignPath(designPath string) *WorktreeInfo {
	for i := range c.worktrees {
		wt := &c.worktrees[i]
		setsDir := filepath.Join(wt.WorktreePath, "ui", "designs", "sets")
		if isAncestor(setsDir, designPath) {
			return wt
		}
	}
	return nil
}

// isAncestor reports whether path is, or is an ancestor of, target.
func isAncestor(path, target string) bool {
	rel, err := filepath.Rel(path, target)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func phaseCacheKey(phaseNumber *string) string {
	if phaseNumber == nil || strings.TrimSpace(*phaseNumber) == "" {
		return orchestratorPhaseKey
	}
	return *phaseNumber
}

// shouldEmitSkipEvent throttles projection.skip events to at most one per
// key per 60-second window.
func shouldEmitSkipEvent(cache *SyncCache, key string, nowUnix int64) bool {
	if last, ok := cache.skipEventLastEmitted[key]; ok && nowUnix-last < int64(skipEventThrottle.Seconds()) {
		return false
	}
	cache.skipEventLastEmitted[key] = nowUnix
	return true
}

// maybeAdvanceLastCommitSha advances the anchor to the newest commit, but
// only when every write in the batch succeeded — a partial failure leaves
// the cache so the next pass retries the same batch.
func maybeAdvanceLastCommitSha(cache *SyncCache, orchestrationID string, commits []git.Commit, allWritesSucceeded bool) {
	if !allWritesSucceeded || len(commits) == 0 {
		return
	}
	cache.lastCommitSha[orchestrationID] = commits[0].Sha
}

// formatPhaseNumber renders a store phase number as its canonical string:
// trailing zeroes trimmed, no trailing dot.
func formatPhaseNumber(phase float64) (string, bool) {
	if math.IsNaN(phase) || math.IsInf(phase, 0) {
		return "", false
	}
	if phase == math.Trunc(phase) {
		return strconv.FormatFloat(phase, 'f', 0, 64), true
	}
	s := strconv.FormatFloat(phase, 'f', -1, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimSuffix(s, ".")
	}
	return s, true
}

// Syncer runs the projection passes against the store.
type Syncer struct {
	client    *store.Client
	cache     *SyncCache
	telemetry *telemetry.Recorder
	teamsDir  string
	tasksDir  string
	logger    *slog.Logger
}

// NewSyncer builds a syncer. telemetry may be nil.
func NewSyncer(client *store.Client, cache *SyncCache, recorder *telemetry.Recorder, teamsDir, tasksDir string, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		client:    client,
		cache:     cache,
		telemetry: recorder,
		teamsDir:  teamsDir,
		tasksDir:  tasksDir,
		logger:    logger,
	}
}

func (s *Syncer) emitEvent(ctx context.Context, span *telemetry.Span, eventType, message string, attrs map[string]any) {
	if s.telemetry == nil {
		return
	}
	var attrsJSON *string
	if attrs != nil {
		if data, err := json.Marshal(attrs); err == nil {
			attrsJSON = store.StrPtr(string(data))
		}
	}
	s.telemetry.EmitEvent(ctx, span, eventType, "info", message, attrsJSON)
}

func (s *Syncer) startSpan(operation string) *telemetry.Span {
	if s.telemetry == nil {
		return nil
	}
	return s.telemetry.StartSpan(operation)
}

func (s *Syncer) endSpan(ctx context.Context, span *telemetry.Span, status string, errorCode, errorDetail *string) {
	if s.telemetry == nil || span == nil {
		return
	}
	s.telemetry.EndSpan(ctx, span, status, errorCode, errorDetail)
}

// resolveLocalTeamDirName resolves the local ~/.claude/{teams,tasks}
// directory name for a team, caching by team id.
func (s *Syncer) resolveLocalTeamDirName(team *store.ActiveTeamRecord) (string, error) {
	if dirName, ok := s.cache.teamDirNameByID[team.ID]; ok {
		return dirName, nil
	}
	if strings.TrimSpace(team.LocalDirName) == "" {
		return "", fmt.Errorf("empty local_dir_name for team_id=%s team_name=%s", team.ID, team.TeamName)
	}
	s.cache.teamDirNameByID[team.ID] = team.LocalDirName
	return team.LocalDirName, nil
}

// SyncTeamMembers projects one team's config.json members: removed members
// produce agent_shutdown events, current ones are upserted, and rows
// outside the active set are pruned from the store.
func (s *Syncer) SyncTeamMembers(ctx context.Context, team *store.ActiveTeamRecord) error {
	span := s.startSpan("daemon.sync_team_members")

	localDirName, err := s.resolveLocalTeamDirName(team)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("team_dir_unresolved"), store.StrPtr(err.Error()))
		return err
	}

	teamConfig, err := state.LoadTeamConfig(s.teamsDir, localDirName)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("team_config_unreadable"), store.StrPtr(err.Error()))
		return err
	}

	orchestrationID := team.OrchestrationID
	phaseNumber := "0"
	if team.PhaseNumber != nil {
		phaseNumber = *team.PhaseNumber
	}
	now := time.Now().UTC().Format(time.RFC3339)

	currentMembers := make(map[string]state.Agent, len(teamConfig.Members))
	for _, member := range teamConfig.Members {
		currentMembers[member.Name] = member
	}

	// Members present in the previous snapshot but gone now have shut down.
	if previous, ok := s.cache.teamMembers[team.ID]; ok {
		for name, agent := range previous {
			if _, stillHere := currentMembers[name]; !stillHere {
				if err := s.recordShutdownEvent(ctx, orchestrationID, phaseNumber, &agent); err != nil {
					s.logger.Error("failed to record shutdown event", "agent", name, "error", err)
				}
			}
		}
	}

	// Drop cache entries for members no longer active in this phase.
	for key := range s.cache.teamMemberState {
		if key.orchestrationID == orchestrationID && key.phaseNumber == phaseNumber {
			if _, stillHere := currentMembers[key.agentName]; !stillHere {
				delete(s.cache.teamMemberState, key)
			}
		}
	}

	activeNames := make([]string, 0, len(currentMembers))
	for name := range currentMembers {
		activeNames = append(activeNames, name)
	}
	sort.Strings(activeNames)
	if err := s.client.PrunePhaseMembers(ctx, orchestrationID, phaseNumber, activeNames); err != nil {
		s.logger.Error("failed to prune stale team members",
			"orchestration", orchestrationID, "phase", phaseNumber, "error", err)
	}

	for _, member := range teamConfig.Members {
		cacheKey := memberCacheKey{orchestrationID, phaseNumber, member.Name}
		if _, synced := s.cache.teamMemberState[cacheKey]; synced {
			continue
		}

		joinedAt := time.UnixMilli(member.JoinedAt).UTC().Format(time.RFC3339)
		record := &store.TeamMemberRecord{
			OrchestrationID: orchestrationID,
			PhaseNumber:     phaseNumber,
			AgentName:       member.Name,
			AgentType:       store.StrPtr(member.AgentType),
			Model:           store.StrPtr(member.Model),
			JoinedAt:        &joinedAt,
			TmuxPaneID:      member.TmuxPaneID,
			RecordedAt:      now,
		}

		if _, err := s.client.UpsertTeamMember(ctx, record); err != nil {
			s.logger.Error("failed to sync team member", "agent", member.Name, "error", err)
			continue
		}
		s.cache.teamMemberState[cacheKey] = now
		s.logger.Debug("synced team member", "agent", member.Name, "orchestration", orchestrationID)
		s.emitEvent(ctx, span, "projection.write", "team member synced", map[string]any{
			"team_id":             team.ID,
			"team_name":           team.TeamName,
			"local_team_dir_name": localDirName,
			"agent_name":          member.Name,
			"orchestration_id":    orchestrationID,
			"phase_number":        phaseNumber,
		})
	}

	s.cache.teamMembers[team.ID] = currentMembers
	s.endSpan(ctx, span, "ok", nil, nil)
	return nil
}

func (s *Syncer) recordShutdownEvent(ctx context.Context, orchestrationID, phaseNumber string, agent *state.Agent) error {
	detail, _ := json.Marshal(map[string]any{
		"agent_name":           agent.Name,
		"agent_type":           agent.AgentType,
		"shutdown_detected_at": time.Now().UTC().Format(time.RFC3339),
	})
	event := &store.OrchestrationEventRecord{
		OrchestrationID: orchestrationID,
		PhaseNumber:     store.StrPtr(phaseNumber),
		EventType:       "agent_shutdown",
		Source:          "tina-daemon",
		Summary:         fmt.Sprintf("%s shutdown", agent.Name),
		Detail:          store.StrPtr(string(detail)),
		RecordedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if _, err := s.client.RecordEvent(ctx, event); err != nil {
		return err
	}
	s.logger.Info("recorded shutdown event", "agent", agent.Name, "orchestration", orchestrationID)
	return nil
}

// SyncTasks projects task files for every active team. Unchanged tasks are
// counted and reported as one coalesced projection.skip per batch.
func (s *Syncer) SyncTasks(ctx context.Context, activeTeams []store.ActiveTeamRecord) error {
	span := s.startSpan("daemon.sync_tasks")
	nowUnix := time.Now().Unix()

	for i := range activeTeams {
		team := &activeTeams[i]
		localDirName, err := s.resolveLocalTeamDirName(team)
		if err != nil {
			s.endSpan(ctx, span, "error", store.StrPtr("team_dir_unresolved"), store.StrPtr(err.Error()))
			return err
		}

		taskTeamDir := filepath.Join(s.tasksDir, localDirName)
		if _, err := os.Stat(taskTeamDir); err != nil {
			key := fmt.Sprintf("task_dir_missing:%s:%s", team.ID, localDirName)
			if shouldEmitSkipEvent(s.cache, key, nowUnix) {
				s.emitEvent(ctx, span, "projection.skip", "task directory not found", map[string]any{
					"team_id":             team.ID,
					"team_name":           team.TeamName,
					"local_team_dir_name": localDirName,
					"reason":              "task_dir_missing",
				})
			}
			continue
		}

		if err := s.syncTaskDir(ctx, span, team.OrchestrationID, team.PhaseNumber, taskTeamDir); err != nil {
			s.endSpan(ctx, span, "error", store.StrPtr("task_sync_failed"), store.StrPtr(err.Error()))
			return err
		}
	}

	s.endSpan(ctx, span, "ok", nil, nil)
	return nil
}

func (s *Syncer) syncTaskDir(ctx context.Context, span *telemetry.Span, orchestrationID string, phaseNumber *string, taskDir string) error {
	tasks, problems := state.LoadTaskFiles(taskDir)
	for _, problem := range problems {
		s.logger.Warn("task file skipped", "error", problem)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	unchanged := 0

	for _, task := range tasks {
		var blockedByJSON *string
		if len(task.BlockedBy) > 0 {
			data, err := json.Marshal(task.BlockedBy)
			if err != nil {
				return fmt.Errorf("marshal blocked_by for task %s: %w", task.ID, err)
			}
			blockedByJSON = store.StrPtr(string(data))
		}

		var metadataJSON *string
		if len(task.Metadata) > 0 && string(task.Metadata) != "null" {
			metadataJSON = store.StrPtr(string(task.Metadata))
		}

		cacheKey := taskCacheKey{orchestrationID, phaseCacheKey(phaseNumber), task.ID}
		current := TaskCacheEntry{
			Status:      string(task.Status),
			Subject:     task.Subject,
			Description: task.Description,
			Owner:       task.Owner,
			BlockedBy:   blockedByJSON,
			Metadata:    metadataJSON,
		}

		if cached, ok := s.cache.taskState[cacheKey]; ok && cached.equal(current) {
			unchanged++
			continue
		}

		event := &store.TaskEventRecord{
			OrchestrationID: orchestrationID,
			PhaseNumber:     phaseNumber,
			TaskID:          task.ID,
			Subject:         task.Subject,
			Description:     store.StrPtr(task.Description),
			Status:          string(task.Status),
			Owner:           task.Owner,
			BlockedBy:       blockedByJSON,
			Metadata:        metadataJSON,
			RecordedAt:      now,
		}

		if _, err := s.client.RecordTaskEvent(ctx, event); err != nil {
			s.logger.Error("failed to sync task event", "task_id", task.ID, "error", err)
			continue
		}
		s.cache.taskState[cacheKey] = current
		s.logger.Debug("synced task event", "task_id", task.ID, "status", task.Status)
		s.emitEvent(ctx, span, "projection.write", "task event written", map[string]any{
			"task_id":          task.ID,
			"orchestration_id": orchestrationID,
			"status":           string(task.Status),
		})
	}

	// One coalesced skip per batch instead of one event per unchanged task.
	if unchanged > 0 {
		key := fmt.Sprintf("unchanged_cache:%s:%s", orchestrationID, phaseCacheKey(phaseNumber))
		if shouldEmitSkipEvent(s.cache, key, time.Now().Unix()) {
			s.emitEvent(ctx, span, "projection.skip", "unchanged task batch skipped", map[string]any{
				"orchestration_id": orchestrationID,
				"phase_number":     phaseNumber,
				"reason":           "unchanged_cache_batch",
				"unchanged_tasks":  unchanged,
				"total_tasks":      len(tasks),
			})
		}
	}

	return nil
}

// resolveLivePhaseNumber refreshes the phase for an orchestration from the
// store; the cached value may be stale when the agent progressed while the
// daemon was syncing.
func (s *Syncer) resolveLivePhaseNumber(ctx context.Context, orchestrationID, fallback string) string {
	entries, err := s.client.ListOrchestrations(ctx)
	if err != nil {
		s.logger.Warn("failed to resolve live phase, using cached phase",
			"orchestration", orchestrationID, "error", err)
		return fallback
	}
	for _, entry := range entries {
		if entry.ID == orchestrationID {
			if formatted, ok := formatPhaseNumber(entry.Record.CurrentPhase); ok {
				return formatted
			}
		}
	}
	return fallback
}

// SyncCommits projects new commits on a worktree's branch. The first pass
// for an orchestration initializes the anchor at HEAD and writes nothing —
// history is never back-filled. The anchor only advances when the whole
// batch was written.
func (s *Syncer) SyncCommits(ctx context.Context, orchestrationID, cachedPhaseNumber, worktreePath, branch string) error {
	span := s.startSpan("daemon.sync_commits")

	lastSha, ok := s.cache.lastCommitSha[orchestrationID]
	if !ok {
		anchorSha, err := git.HeadSha(worktreePath)
		if err != nil {
			s.endSpan(ctx, span, "error", store.StrPtr("head_unresolvable"), store.StrPtr(err.Error()))
			return err
		}
		s.cache.lastCommitSha[orchestrationID] = anchorSha
		s.emitEvent(ctx, span, "projection.skip", "initialized commit anchor at HEAD", map[string]any{
			"orchestration_id": orchestrationID,
			"reason":           "initialized_head_anchor",
			"head_sha":         anchorSha,
		})
		s.endSpan(ctx, span, "ok", nil, nil)
		return nil
	}

	newCommits, err := git.NewCommits(worktreePath, branch, lastSha)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("git_log_failed"), store.StrPtr(err.Error()))
		return err
	}

	if len(newCommits) == 0 {
		s.emitEvent(ctx, span, "projection.skip", "no new commits to sync", map[string]any{
			"orchestration_id": orchestrationID,
			"reason":           "no_new_commits",
		})
		s.endSpan(ctx, span, "ok", nil, nil)
		return nil
	}

	s.logger.Info("syncing new commits", "orchestration", orchestrationID, "count", len(newCommits))

	phaseNumber := s.resolveLivePhaseNumber(ctx, orchestrationID, cachedPhaseNumber)
	if phaseNumber != cachedPhaseNumber {
		s.logger.Info("resolved newer phase for commit sync",
			"orchestration", orchestrationID,
			"cached_phase", cachedPhaseNumber,
			"live_phase", phaseNumber)
	}
	for i := range s.cache.worktrees {
		if s.cache.worktrees[i].OrchestrationID == orchestrationID {
			s.cache.worktrees[i].CurrentPhase = phaseNumber
		}
	}

	allWritesSucceeded := true
	var firstWriteError error
	for _, commit := range newCommits {
		record := &store.CommitRecord{
			OrchestrationID: orchestrationID,
			PhaseNumber:     phaseNumber,
			Sha:             commit.Sha,
			ShortSha:        store.StrPtr(commit.ShortSha),
			Subject:         store.StrPtr(commit.Subject),
		}

		if _, err := s.client.RecordCommit(ctx, record); err != nil {
			allWritesSucceeded = false
			firstWriteError = err
			s.logger.Error("failed to record commit", "sha", commit.ShortSha, "error", err)
			break
		}
		s.logger.Debug("recorded commit", "sha", commit.ShortSha, "orchestration", orchestrationID)
		s.emitEvent(ctx, span, "projection.write", "commit written", map[string]any{
			"orchestration_id": orchestrationID,
			"sha":              commit.ShortSha,
		})
	}

	maybeAdvanceLastCommitSha(s.cache, orchestrationID, newCommits, allWritesSucceeded)

	if firstWriteError != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("store_write_failed"), store.StrPtr(firstWriteError.Error()))
		return fmt.Errorf("record commit batch: %w", firstWriteError)
	}

	s.endSpan(ctx, span, "ok", nil, nil)
	return nil
}

var planFilenamePattern = regexp.MustCompile(`-phase-(\d+)\.md$`)

// ExtractPhaseFromPlanFilename reads the phase number out of a plan
// filename like "2026-02-10-my-feature-phase-1.md".
func ExtractPhaseFromPlanFilename(filename string) (string, error) {
	matches := planFilenamePattern.FindStringSubmatch(filename)
	if matches == nil {
		return "", fmt.Errorf("filename does not match phase pattern: %s", filename)
	}
	return matches[1], nil
}

// SyncPlan reads a plan file and upserts it keyed by (orchestration, phase
// extracted from the filename).
func (s *Syncer) SyncPlan(ctx context.Context, orchestrationID, planPath string) error {
	span := s.startSpan("daemon.sync_plan")

	content, err := os.ReadFile(planPath)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("plan_unreadable"), store.StrPtr(err.Error()))
		return fmt.Errorf("read plan file: %w", err)
	}

	filename := filepath.Base(planPath)
	phaseNumber, err := ExtractPhaseFromPlanFilename(filename)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("plan_filename_unparseable"), store.StrPtr(err.Error()))
		return err
	}

	record := &store.PlanRecord{
		OrchestrationID: orchestrationID,
		PhaseNumber:     phaseNumber,
		PlanPath:        planPath,
		Content:         string(content),
	}
	if _, err := s.client.UpsertPlan(ctx, record); err != nil {
		s.logger.Error("failed to sync plan", "plan", filename, "error", err)
		s.endSpan(ctx, span, "error", store.StrPtr("store_write_failed"), store.StrPtr(err.Error()))
		return nil
	}

	s.logger.Info("synced plan", "plan", filename, "orchestration", orchestrationID)
	s.emitEvent(ctx, span, "projection.write", "plan written", map[string]any{
		"orchestration_id": orchestrationID,
		"filename":         filename,
	})
	s.endSpan(ctx, span, "ok", nil, nil)
	return nil
}

// SyncAll refreshes active teams from the store, then syncs team members
// and tasks. Called on startup and whenever teams/tasks change on disk.
func (s *Syncer) SyncAll(ctx context.Context) error {
	span := s.startSpan("daemon.sync_all")

	activeTeams, err := s.client.ListActiveTeams(ctx)
	if err != nil {
		s.endSpan(ctx, span, "error", store.StrPtr("list_teams_failed"), store.StrPtr(err.Error()))
		return err
	}
	s.logger.Info("fetched active teams from store", "count", len(activeTeams))

	for i := range activeTeams {
		if err := s.SyncTeamMembers(ctx, &activeTeams[i]); err != nil {
			s.logger.Warn("failed to sync team", "team", activeTeams[i].TeamName, "error", err)
		}
	}

	if err := s.SyncTasks(ctx, activeTeams); err != nil {
		s.logger.Warn("failed to sync tasks", "error", err)
	}

	s.endSpan(ctx, span, "ok", nil, nil)
	return nil
}

// DiscoverWorktrees lists non-complete orchestrations from the store and
// keeps those whose worktree path exists locally.
func (s *Syncer) DiscoverWorktrees(ctx context.Context) ([]WorktreeInfo, error) {
	entries, err := s.client.ListOrchestrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("query orchestrations: %w", err)
	}

	var worktrees []WorktreeInfo
	for _, entry := range entries {
		record := entry.Record
		if strings.EqualFold(record.Status, "complete") {
			continue
		}
		if record.WorktreePath == nil {
			s.logger.Debug("orchestration has no worktree_path, skipping", "feature", record.FeatureName)
			continue
		}
		if _, err := os.Stat(*record.WorktreePath); err != nil {
			s.logger.Warn("worktree path does not exist",
				"feature", record.FeatureName, "path", *record.WorktreePath)
			continue
		}

		currentPhase, _ := formatPhaseNumber(record.CurrentPhase)
		worktrees = append(worktrees, WorktreeInfo{
			OrchestrationID: entry.ID,
			ProjectID:       record.ProjectID,
			Feature:         record.FeatureName,
			WorktreePath:    *record.WorktreePath,
			Branch:          record.Branch,
			CurrentPhase:    currentPhase,
		})
	}

	s.logger.Info("discovered active worktrees", "count", len(worktrees))
	return worktrees, nil
}
