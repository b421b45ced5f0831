package store

// Domain records exchanged with the document store. Field names are
// camelCase on the wire; optional strings and numbers are pointers so an
// absent field is distinguishable from an empty or zero one and omitted
// from the argument bag entirely.

// NodeRegistration registers this machine with the store.
type NodeRegistration struct {
	Name          string `json:"name"`
	OS            string `json:"os"`
	AuthTokenHash string `json:"authTokenHash"`
}

// NodeRecord is a registered node.
type NodeRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	OS       string `json:"os"`
	LastSeen *float64 `json:"lastSeen,omitempty"`
}

// OrchestrationRecord is one orchestration run for one feature.
type OrchestrationRecord struct {
	NodeID           string   `json:"nodeId"`
	ProjectID        *string  `json:"projectId,omitempty"`
	FeatureName      string   `json:"featureName"`
	DesignDocPath    string   `json:"designDocPath"`
	Branch           string   `json:"branch"`
	WorktreePath     *string  `json:"worktreePath,omitempty"`
	TotalPhases      float64  `json:"totalPhases"`
	CurrentPhase     float64  `json:"currentPhase"`
	Status           string   `json:"status"`
	StartedAt        string   `json:"startedAt"`
	CompletedAt      *string  `json:"completedAt,omitempty"`
	TotalElapsedMins *float64 `json:"totalElapsedMins,omitempty"`
	PolicySnapshot   *string  `json:"policySnapshot,omitempty"`
}

// OrchestrationListEntry pairs a store document id with its record.
type OrchestrationListEntry struct {
	ID       string              `json:"id"`
	NodeName string              `json:"nodeName"`
	Record   OrchestrationRecord `json:"record"`
}

// PhaseRecord is one phase row of an orchestration.
type PhaseRecord struct {
	OrchestrationID string   `json:"orchestrationId"`
	PhaseNumber     string   `json:"phaseNumber"`
	Status          string   `json:"status"`
	PlanPath        *string  `json:"planPath,omitempty"`
	GitRange        *string  `json:"gitRange,omitempty"`
	PlanningMins    *float64 `json:"planningMins,omitempty"`
	ExecutionMins   *float64 `json:"executionMins,omitempty"`
	ReviewMins      *float64 `json:"reviewMins,omitempty"`
	StartedAt       *string  `json:"startedAt,omitempty"`
	CompletedAt     *string  `json:"completedAt,omitempty"`
}

// PhaseStatusRecord is the queryable status of one phase.
type PhaseStatusRecord struct {
	OrchestrationID string  `json:"orchestrationId"`
	PhaseNumber     string  `json:"phaseNumber"`
	Status          string  `json:"status"`
	PlanPath        *string `json:"planPath,omitempty"`
	GitRange        *string `json:"gitRange,omitempty"`
}

// TaskEventRecord is the append-only projection of one task snapshot.
type TaskEventRecord struct {
	OrchestrationID string  `json:"orchestrationId"`
	PhaseNumber     *string `json:"phaseNumber,omitempty"`
	TaskID          string  `json:"taskId"`
	Subject         string  `json:"subject"`
	Description     *string `json:"description,omitempty"`
	Status          string  `json:"status"`
	Owner           *string `json:"owner,omitempty"`
	BlockedBy       *string `json:"blockedBy,omitempty"`
	Metadata        *string `json:"metadata,omitempty"`
	RecordedAt      string  `json:"recordedAt"`
}

// OrchestrationEventRecord is one entry in the orchestration event log.
type OrchestrationEventRecord struct {
	OrchestrationID string  `json:"orchestrationId"`
	PhaseNumber     *string `json:"phaseNumber,omitempty"`
	EventType       string  `json:"eventType"`
	Source          string  `json:"source"`
	Summary         string  `json:"summary"`
	Detail          *string `json:"detail,omitempty"`
	RecordedAt      string  `json:"recordedAt"`
}

// TeamMemberRecord is one agent's membership in a phase team.
type TeamMemberRecord struct {
	OrchestrationID string  `json:"orchestrationId"`
	PhaseNumber     string  `json:"phaseNumber"`
	AgentName       string  `json:"agentName"`
	AgentType       *string `json:"agentType,omitempty"`
	Model           *string `json:"model,omitempty"`
	JoinedAt        *string `json:"joinedAt,omitempty"`
	TmuxPaneID      *string `json:"tmuxPaneId,omitempty"`
	RecordedAt      string  `json:"recordedAt"`
}

// RegisterTeamRecord registers a phase team with the store.
type RegisterTeamRecord struct {
	TeamName        string  `json:"teamName"`
	OrchestrationID string  `json:"orchestrationId"`
	LeadSessionID   string  `json:"leadSessionId"`
	LocalDirName    string  `json:"localDirName"`
	TmuxSessionName *string `json:"tmuxSessionName,omitempty"`
	PhaseNumber     *string `json:"phaseNumber,omitempty"`
	ParentTeamID    *string `json:"parentTeamId,omitempty"`
	CreatedAt       float64 `json:"createdAt"`
}

// ActiveTeamRecord is a registered team joined with its orchestration.
type ActiveTeamRecord struct {
	ID                  string  `json:"id"`
	TeamName            string  `json:"teamName"`
	OrchestrationID     string  `json:"orchestrationId"`
	LeadSessionID       string  `json:"leadSessionId"`
	LocalDirName        string  `json:"localDirName"`
	TmuxSessionName     *string `json:"tmuxSessionName,omitempty"`
	PhaseNumber         *string `json:"phaseNumber,omitempty"`
	ParentTeamID        *string `json:"parentTeamId,omitempty"`
	CreatedAt           float64 `json:"createdAt"`
	OrchestrationStatus string  `json:"orchestrationStatus"`
	FeatureName         string  `json:"featureName"`
}

// CommitRecord is one projected commit, deduplicated by sha.
type CommitRecord struct {
	OrchestrationID string  `json:"orchestrationId"`
	PhaseNumber     string  `json:"phaseNumber"`
	Sha             string  `json:"sha"`
	ShortSha        *string `json:"shortSha,omitempty"`
	Subject         *string `json:"subject,omitempty"`
}

// PlanRecord is one plan document, upserted by (orchestration, phase).
type PlanRecord struct {
	OrchestrationID string `json:"orchestrationId"`
	PhaseNumber     string `json:"phaseNumber"`
	PlanPath        string `json:"planPath"`
	Content         string `json:"content"`
}

// TerminalSessionRecord is an ad-hoc interactive session.
type TerminalSessionRecord struct {
	SessionName    string   `json:"sessionName"`
	TmuxPaneID     string   `json:"tmuxPaneId"`
	Label          string   `json:"label"`
	Cli            string   `json:"cli"`
	Status         string   `json:"status"` // active | ended
	ContextType    *string  `json:"contextType,omitempty"`
	ContextID      *string  `json:"contextId,omitempty"`
	ContextSummary *string  `json:"contextSummary,omitempty"`
	CreatedAt      float64  `json:"createdAt"`
	EndedAt        *float64 `json:"endedAt,omitempty"`
}

// SpanRecord is one telemetry span.
type SpanRecord struct {
	TraceID         string   `json:"traceId"`
	SpanID          string   `json:"spanId"`
	ParentSpanID    *string  `json:"parentSpanId,omitempty"`
	OrchestrationID *string  `json:"orchestrationId,omitempty"`
	FeatureName     *string  `json:"featureName,omitempty"`
	PhaseNumber     *string  `json:"phaseNumber,omitempty"`
	TeamName        *string  `json:"teamName,omitempty"`
	TaskID          *string  `json:"taskId,omitempty"`
	Source          string   `json:"source"`
	Operation       string   `json:"operation"`
	StartedAt       string   `json:"startedAt"`
	EndedAt         *string  `json:"endedAt,omitempty"`
	DurationMs      *float64 `json:"durationMs,omitempty"`
	Status          string   `json:"status"`
	ErrorCode       *string  `json:"errorCode,omitempty"`
	ErrorDetail     *string  `json:"errorDetail,omitempty"`
	Attrs           *string  `json:"attrs,omitempty"`
	RecordedAt      string   `json:"recordedAt"`
}

// TelemetryEventRecord is one telemetry event.
type TelemetryEventRecord struct {
	TraceID         string  `json:"traceId"`
	SpanID          string  `json:"spanId"`
	ParentSpanID    *string `json:"parentSpanId,omitempty"`
	OrchestrationID *string `json:"orchestrationId,omitempty"`
	FeatureName     *string `json:"featureName,omitempty"`
	PhaseNumber     *string `json:"phaseNumber,omitempty"`
	TeamName        *string `json:"teamName,omitempty"`
	TaskID          *string `json:"taskId,omitempty"`
	Source          string  `json:"source"`
	EventType       string  `json:"eventType"`
	Severity        string  `json:"severity"`
	Message         string  `json:"message"`
	Status          *string `json:"status,omitempty"`
	Attrs           *string `json:"attrs,omitempty"`
	RecordedAt      string  `json:"recordedAt"`
}

// RollupRecord is one aggregated telemetry window.
type RollupRecord struct {
	WindowStart     string   `json:"windowStart"`
	WindowEnd       string   `json:"windowEnd"`
	GranularityMin  int      `json:"granularityMin"`
	Source          string   `json:"source"`
	Operation       string   `json:"operation"`
	OrchestrationID *string  `json:"orchestrationId,omitempty"`
	PhaseNumber     *string  `json:"phaseNumber,omitempty"`
	SpanCount       int      `json:"spanCount"`
	ErrorCount      int      `json:"errorCount"`
	EventCount      int      `json:"eventCount"`
	P95DurationMs   *float64 `json:"p95DurationMs,omitempty"`
	MaxDurationMs   *float64 `json:"maxDurationMs,omitempty"`
}

// ClaimResult is the outcome of claiming an inbound action.
type ClaimResult struct {
	Success bool    `json:"success"`
	Reason  *string `json:"reason,omitempty"`
}

// DesignRecord is a design created from workbench metadata.
type DesignRecord struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Prompt string `json:"prompt"`
}

// VariationRecord is one variation of a design.
type VariationRecord struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Title string `json:"title"`
}

// OrchestrationDetailResponse is the full detail view of one orchestration.
type OrchestrationDetailResponse struct {
	ID          string              `json:"id"`
	NodeName    string              `json:"nodeName"`
	Record      OrchestrationRecord `json:"record"`
	Phases      []PhaseRecord       `json:"phases"`
	Tasks       []TaskEventRecord   `json:"tasks"`
	TeamMembers []TeamMemberRecord  `json:"teamMembers"`
}

// SupervisorStateBlob is the store copy of the on-disk supervisor state.
type SupervisorStateBlob struct {
	NodeID    string `json:"nodeId"`
	Feature   string `json:"feature"`
	StateJSON string `json:"stateJson"`
	UpdatedAt string `json:"updatedAt"`
}

// StrPtr returns a pointer to s, for optional record fields.
func StrPtr(s string) *string { return &s }

// FloatPtr returns a pointer to f, for optional record fields.
func FloatPtr(f float64) *float64 { return &f }
