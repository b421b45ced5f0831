package store

import (
	"context"
	"encoding/json"
)

// Store function paths. Mutations and queries are addressed by
// "<table>:<operation>" names.
const (
	fnRegisterNode         = "nodes:register"
	fnHeartbeat            = "nodes:heartbeat"
	fnListNodes            = "nodes:list"
	fnFindOrCreateProject  = "projects:findOrCreateByRepoPath"
	fnUpsertOrchestration  = "orchestrations:upsert"
	fnListOrchestrations   = "orchestrations:list"
	fnOrchestrationDetail  = "orchestrations:detail"
	fnGetByFeature         = "orchestrations:getByFeature"
	fnUpsertPhase          = "phases:upsert"
	fnGetPhaseStatus       = "phases:getStatus"
	fnSubscribePhaseStatus = "phases:getStatus"
	fnRecordTaskEvent      = "taskEvents:record"
	fnRecordEvent          = "events:record"
	fnListEvents           = "events:list"
	fnUpsertTeamMember     = "teamMembers:upsert"
	fnPrunePhaseMembers    = "teamMembers:prunePhase"
	fnListWithPaneIDs      = "teamMembers:listWithPaneIds"
	fnRegisterTeam         = "teams:register"
	fnListActiveTeams      = "teams:listActive"
	fnGetTeamByName        = "teams:getByName"
	fnClaimAction          = "actions:claim"
	fnCompleteAction       = "actions:complete"
	fnPendingActions       = "actions:pendingForNode"
	fnUpsertSupervisor     = "supervisorStates:upsert"
	fnGetSupervisor        = "supervisorStates:get"
	fnRecordCommit         = "commits:record"
	fnListCommits          = "commits:list"
	fnUpsertPlan           = "plans:upsert"
	fnListPlans            = "plans:list"
	fnUpsertTerminal       = "terminalSessions:upsert"
	fnMarkTerminalEnded    = "terminalSessions:markEnded"
	fnListActiveTerminals  = "terminalSessions:listActive"
	fnRecordSpan           = "telemetry:recordSpan"
	fnRecordTelemetryEvent = "telemetry:recordEvent"
	fnRecordRollup         = "telemetry:recordRollup"
	fnListDesigns          = "designs:list"
	fnCreateDesign         = "designs:create"
	fnListVariations       = "designs:listVariations"
	fnCreateVariation      = "designs:createVariation"
)

func mutateID(ctx context.Context, c *Client, op string, record any) (string, error) {
	args, err := toArgs(record)
	if err != nil {
		return "", opErr(op, "%v", err)
	}
	raw, err := c.Mutation(ctx, op, args)
	if err != nil {
		return "", err
	}
	return extractID(op, raw)
}

// RegisterNode registers this machine and returns its node id. The auth
// token is hashed before it goes on the wire.
func (c *Client) RegisterNode(ctx context.Context, name, osName, authToken string) (string, error) {
	reg := NodeRegistration{Name: name, OS: osName, AuthTokenHash: HashToken(authToken)}
	return mutateID(ctx, c, fnRegisterNode, &reg)
}

// Heartbeat refreshes the node's liveness timestamp.
func (c *Client) Heartbeat(ctx context.Context, nodeID string) error {
	_, err := c.Mutation(ctx, fnHeartbeat, map[string]any{"nodeId": nodeID})
	return err
}

// ListNodes lists all registered nodes.
func (c *Client) ListNodes(ctx context.Context) ([]NodeRecord, error) {
	raw, err := c.Query(ctx, fnListNodes, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]NodeRecord](fnListNodes, raw)
}

// FindOrCreateProject resolves a project id by repo path, creating it if
// absent.
func (c *Client) FindOrCreateProject(ctx context.Context, name, repoPath string) (string, error) {
	raw, err := c.Mutation(ctx, fnFindOrCreateProject, map[string]any{
		"name":     name,
		"repoPath": repoPath,
	})
	if err != nil {
		return "", err
	}
	return extractID(fnFindOrCreateProject, raw)
}

// UpsertOrchestration writes the orchestration row, returning its id.
// Upserting the same record twice yields the same id.
func (c *Client) UpsertOrchestration(ctx context.Context, record *OrchestrationRecord) (string, error) {
	return mutateID(ctx, c, fnUpsertOrchestration, record)
}

// ListOrchestrations lists all orchestrations with their ids.
func (c *Client) ListOrchestrations(ctx context.Context) ([]OrchestrationListEntry, error) {
	raw, err := c.Query(ctx, fnListOrchestrations, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]OrchestrationListEntry](fnListOrchestrations, raw)
}

// GetOrchestrationDetail fetches the record plus phases, tasks, and team
// members.
func (c *Client) GetOrchestrationDetail(ctx context.Context, id string) (*OrchestrationDetailResponse, error) {
	raw, err := c.Query(ctx, fnOrchestrationDetail, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	detail, err := decode[OrchestrationDetailResponse](fnOrchestrationDetail, raw)
	if err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetByFeature finds the orchestration for an exact feature name, or nil.
func (c *Client) GetByFeature(ctx context.Context, feature string) (*OrchestrationListEntry, error) {
	raw, err := c.Query(ctx, fnGetByFeature, map[string]any{"featureName": feature})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	entry, err := decode[OrchestrationListEntry](fnGetByFeature, raw)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// UpsertPhase writes a phase row keyed by (orchestration, phase number).
func (c *Client) UpsertPhase(ctx context.Context, record *PhaseRecord) (string, error) {
	return mutateID(ctx, c, fnUpsertPhase, record)
}

// GetPhaseStatus reads one phase's status, or nil if absent.
func (c *Client) GetPhaseStatus(ctx context.Context, orchestrationID, phase string) (*PhaseStatusRecord, error) {
	raw, err := c.Query(ctx, fnGetPhaseStatus, map[string]any{
		"orchestrationId": orchestrationID,
		"phaseNumber":     phase,
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	status, err := decode[PhaseStatusRecord](fnGetPhaseStatus, raw)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// SubscribePhaseStatus streams updates for one phase's status. Consumers
// decode each update with ParsePhaseStatus.
func (c *Client) SubscribePhaseStatus(ctx context.Context, orchestrationID, phase string) (*Subscription, error) {
	return c.Subscribe(ctx, fnSubscribePhaseStatus, map[string]any{
		"orchestrationId": orchestrationID,
		"phaseNumber":     phase,
	})
}

// ParsePhaseStatus decodes one subscription update; a null update means the
// phase row does not exist yet.
func ParsePhaseStatus(raw json.RawMessage) (*PhaseStatusRecord, error) {
	if isNull(raw) {
		return nil, nil
	}
	status, err := decode[PhaseStatusRecord]("parsePhaseStatus", raw)
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// RecordTaskEvent appends one task projection event.
func (c *Client) RecordTaskEvent(ctx context.Context, record *TaskEventRecord) (string, error) {
	return mutateID(ctx, c, fnRecordTaskEvent, record)
}

// RecordEvent appends one orchestration event.
func (c *Client) RecordEvent(ctx context.Context, record *OrchestrationEventRecord) (string, error) {
	return mutateID(ctx, c, fnRecordEvent, record)
}

// ListEvents lists orchestration events, optionally filtered by type and
// time, newest first.
func (c *Client) ListEvents(ctx context.Context, orchestrationID string, eventType *string, since *string, limit *int) ([]OrchestrationEventRecord, error) {
	args := map[string]any{"orchestrationId": orchestrationID}
	if eventType != nil {
		args["eventType"] = *eventType
	}
	if since != nil {
		args["since"] = *since
	}
	if limit != nil {
		args["limit"] = *limit
	}
	raw, err := c.Query(ctx, fnListEvents, args)
	if err != nil {
		return nil, err
	}
	return decode[[]OrchestrationEventRecord](fnListEvents, raw)
}

// UpsertTeamMember writes one member row keyed by
// (orchestration, phase, agent name).
func (c *Client) UpsertTeamMember(ctx context.Context, record *TeamMemberRecord) (string, error) {
	return mutateID(ctx, c, fnUpsertTeamMember, record)
}

// PrunePhaseMembers deletes member rows for the phase outside the active
// name set.
func (c *Client) PrunePhaseMembers(ctx context.Context, orchestrationID, phase string, activeNames []string) error {
	_, err := c.Mutation(ctx, fnPrunePhaseMembers, map[string]any{
		"orchestrationId": orchestrationID,
		"phaseNumber":     phase,
		"activeNames":     activeNames,
	})
	return err
}

// ListTeamMembersWithPanes lists members that carry a tmux pane id.
func (c *Client) ListTeamMembersWithPanes(ctx context.Context, orchestrationID string) ([]TeamMemberRecord, error) {
	raw, err := c.Query(ctx, fnListWithPaneIDs, map[string]any{"orchestrationId": orchestrationID})
	if err != nil {
		return nil, err
	}
	return decode[[]TeamMemberRecord](fnListWithPaneIDs, raw)
}

// RegisterTeam registers a phase team, returning its id.
func (c *Client) RegisterTeam(ctx context.Context, record *RegisterTeamRecord) (string, error) {
	return mutateID(ctx, c, fnRegisterTeam, record)
}

// ListActiveTeams lists teams whose orchestration is not complete.
func (c *Client) ListActiveTeams(ctx context.Context) ([]ActiveTeamRecord, error) {
	raw, err := c.Query(ctx, fnListActiveTeams, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]ActiveTeamRecord](fnListActiveTeams, raw)
}

// GetTeamByName fetches one registered team, or nil.
func (c *Client) GetTeamByName(ctx context.Context, teamName string) (*ActiveTeamRecord, error) {
	raw, err := c.Query(ctx, fnGetTeamByName, map[string]any{"teamName": teamName})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	team, err := decode[ActiveTeamRecord](fnGetTeamByName, raw)
	if err != nil {
		return nil, err
	}
	return &team, nil
}

// ClaimAction atomically moves a pending inbound action to claimed.
func (c *Client) ClaimAction(ctx context.Context, actionID string) (*ClaimResult, error) {
	raw, err := c.Mutation(ctx, fnClaimAction, map[string]any{"actionId": actionID})
	if err != nil {
		return nil, err
	}
	result, err := decode[ClaimResult](fnClaimAction, raw)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// CompleteAction records the outcome of a claimed inbound action.
func (c *Client) CompleteAction(ctx context.Context, actionID, result string, success bool) error {
	_, err := c.Mutation(ctx, fnCompleteAction, map[string]any{
		"actionId": actionID,
		"result":   result,
		"success":  success,
	})
	return err
}

// SubscribePendingActions streams pending inbound actions for a node.
func (c *Client) SubscribePendingActions(ctx context.Context, nodeID string) (*Subscription, error) {
	return c.Subscribe(ctx, fnPendingActions, map[string]any{"nodeId": nodeID})
}

// UpsertSupervisorState stores the serialized supervisor state blob for a
// feature.
func (c *Client) UpsertSupervisorState(ctx context.Context, blob *SupervisorStateBlob) (string, error) {
	return mutateID(ctx, c, fnUpsertSupervisor, blob)
}

// GetSupervisorState fetches the stored blob, or nil.
func (c *Client) GetSupervisorState(ctx context.Context, nodeID, feature string) (*SupervisorStateBlob, error) {
	raw, err := c.Query(ctx, fnGetSupervisor, map[string]any{
		"nodeId":  nodeID,
		"feature": feature,
	})
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	blob, err := decode[SupervisorStateBlob](fnGetSupervisor, raw)
	if err != nil {
		return nil, err
	}
	return &blob, nil
}

// RecordCommit writes one commit row; the store deduplicates by sha, so
// replaying a batch is safe.
func (c *Client) RecordCommit(ctx context.Context, record *CommitRecord) (string, error) {
	return mutateID(ctx, c, fnRecordCommit, record)
}

// ListCommits lists projected commits for an orchestration.
func (c *Client) ListCommits(ctx context.Context, orchestrationID string) ([]CommitRecord, error) {
	raw, err := c.Query(ctx, fnListCommits, map[string]any{"orchestrationId": orchestrationID})
	if err != nil {
		return nil, err
	}
	return decode[[]CommitRecord](fnListCommits, raw)
}

// UpsertPlan writes a plan document keyed by (orchestration, phase).
func (c *Client) UpsertPlan(ctx context.Context, record *PlanRecord) (string, error) {
	return mutateID(ctx, c, fnUpsertPlan, record)
}

// ListPlans lists plan documents for an orchestration.
func (c *Client) ListPlans(ctx context.Context, orchestrationID string) ([]PlanRecord, error) {
	raw, err := c.Query(ctx, fnListPlans, map[string]any{"orchestrationId": orchestrationID})
	if err != nil {
		return nil, err
	}
	return decode[[]PlanRecord](fnListPlans, raw)
}

// UpsertTerminalSession writes an ad-hoc terminal session row.
func (c *Client) UpsertTerminalSession(ctx context.Context, record *TerminalSessionRecord) (string, error) {
	return mutateID(ctx, c, fnUpsertTerminal, record)
}

// MarkTerminalEnded marks a session ended at the given epoch millis.
func (c *Client) MarkTerminalEnded(ctx context.Context, sessionName string, endedAt float64) error {
	_, err := c.Mutation(ctx, fnMarkTerminalEnded, map[string]any{
		"sessionName": sessionName,
		"endedAt":     endedAt,
	})
	return err
}

// ListActiveTerminalSessions lists ad-hoc sessions still marked active.
func (c *Client) ListActiveTerminalSessions(ctx context.Context) ([]TerminalSessionRecord, error) {
	raw, err := c.Query(ctx, fnListActiveTerminals, nil)
	if err != nil {
		return nil, err
	}
	return decode[[]TerminalSessionRecord](fnListActiveTerminals, raw)
}

// RecordSpan writes one telemetry span; the store deduplicates by span id.
func (c *Client) RecordSpan(ctx context.Context, record *SpanRecord) (string, error) {
	return mutateID(ctx, c, fnRecordSpan, record)
}

// RecordTelemetryEvent writes one telemetry event.
func (c *Client) RecordTelemetryEvent(ctx context.Context, record *TelemetryEventRecord) (string, error) {
	return mutateID(ctx, c, fnRecordTelemetryEvent, record)
}

// RecordRollup writes one aggregated telemetry window.
func (c *Client) RecordRollup(ctx context.Context, record *RollupRecord) (string, error) {
	return mutateID(ctx, c, fnRecordRollup, record)
}

// ListDesigns lists designs for a project, optionally filtered by status.
func (c *Client) ListDesigns(ctx context.Context, projectID string, status *string) ([]DesignRecord, error) {
	args := map[string]any{"projectId": projectID}
	if status != nil {
		args["status"] = *status
	}
	raw, err := c.Query(ctx, fnListDesigns, args)
	if err != nil {
		return nil, err
	}
	return decode[[]DesignRecord](fnListDesigns, raw)
}

// CreateDesign creates a design row and returns its id.
func (c *Client) CreateDesign(ctx context.Context, projectID, title, prompt string) (string, error) {
	raw, err := c.Mutation(ctx, fnCreateDesign, map[string]any{
		"projectId": projectID,
		"title":     title,
		"prompt":    prompt,
	})
	if err != nil {
		return "", err
	}
	return extractID(fnCreateDesign, raw)
}

// ListVariations lists variations of a design.
func (c *Client) ListVariations(ctx context.Context, designID string) ([]VariationRecord, error) {
	raw, err := c.Query(ctx, fnListVariations, map[string]any{"designId": designID})
	if err != nil {
		return nil, err
	}
	return decode[[]VariationRecord](fnListVariations, raw)
}

// CreateVariation creates a variation row keyed by slug.
func (c *Client) CreateVariation(ctx context.Context, designID, slug, title string) (string, error) {
	raw, err := c.Mutation(ctx, fnCreateVariation, map[string]any{
		"designId": designID,
		"slug":     slug,
		"title":    title,
	})
	if err != nil {
		return "", err
	}
	return extractID(fnCreateVariation, raw)
}

func isNull(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	s := string(raw)
	return s == "null"
}
