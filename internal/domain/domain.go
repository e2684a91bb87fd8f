package domain

type Client struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Assessment struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Phase       int    `json:"phase,omitempty"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// SignoffProcess tracks the validation gate sequence for one
// assessment. 1:1 with the assessment; mutated only by the engine.
// Cycle starts at 1 and increments on every restart; approvals only
// count toward completion when stamped with the current cycle.
type SignoffProcess struct {
	ID              string `json:"id"`
	AssessmentID    string `json:"assessment_id"`
	Stage           string `json:"stage"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	Cycle           int    `json:"cycle"`
	CreatedAt       string `json:"created_at" format:"date-time"`
	UpdatedAt       string `json:"updated_at" format:"date-time"`
}

// ValidationRecord is one validating party's live decision for a
// stage. At most one record per (process, role); resubmission
// overwrites.
type ValidationRecord struct {
	ID          string `json:"id"`
	ProcessID   string `json:"process_id"`
	Role        string `json:"role"`
	ValidatorID string `json:"validator_id"`
	Decision    string `json:"decision" enum:"approved,rejected"`
	Comment     string `json:"comment,omitempty"`
	Cycle       int    `json:"cycle"`
	SubmittedAt string `json:"submitted_at" format:"date-time"`
}

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

type ScopeSelection struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	ItemID       string `json:"item_id"`
	Selected     bool   `json:"selected"`
	Relevance    string `json:"relevance,omitempty"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type StepResponse struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	StepID       string `json:"step_id"`
	FitStatus    string `json:"fit_status" enum:"FIT,CONFIGURE,GAP,NOT_APPLICABLE,PENDING"`
	Notes        string `json:"notes,omitempty"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

const (
	FitStatusFit           = "FIT"
	FitStatusConfigure     = "CONFIGURE"
	FitStatusGap           = "GAP"
	FitStatusNotApplicable = "NOT_APPLICABLE"
	FitStatusPending       = "PENDING"
)

type GapResolution struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	GapID        string `json:"gap_id"`
	Resolution   string `json:"resolution,omitempty"`
	Approved     bool   `json:"approved"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type IntegrationPoint struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	Name         string `json:"name"`
	System       string `json:"system,omitempty"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type MigrationObject struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	ObjectName   string `json:"object_name"`
	SourceSystem string `json:"source_system,omitempty"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type OCMImpact struct {
	ID           string `json:"id"`
	AssessmentID string `json:"assessment_id"`
	Area         string `json:"area"`
	Severity     string `json:"severity,omitempty"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

// Entity type keys shared by change requests and the impact engine.
const (
	EntityScopeSelection   = "scope_selection"
	EntityStepResponse     = "step_response"
	EntityGapResolution    = "gap_resolution"
	EntityIntegrationPoint = "integration_point"
	EntityMigrationObject  = "data_migration_object"
	EntityOCMImpact        = "ocm_impact"
)

// SnapshotPayload is the denormalized capture of every
// classification-bearing record at snapshot time.
type SnapshotPayload struct {
	ScopeSelections   []ScopeSelection   `json:"scope_selections"`
	StepResponses     []StepResponse     `json:"step_responses"`
	GapResolutions    []GapResolution    `json:"gap_resolutions"`
	IntegrationPoints []IntegrationPoint `json:"integration_points"`
	MigrationObjects  []MigrationObject  `json:"migration_objects"`
	OCMImpacts        []OCMImpact        `json:"ocm_impacts"`
}

type SnapshotStatistics struct {
	ScopeTotal        int `json:"scope_total"`
	ScopeSelected     int `json:"scope_selected"`
	StepTotal         int `json:"step_total"`
	StepFit           int `json:"step_fit"`
	StepConfigure     int `json:"step_configure"`
	StepGap           int `json:"step_gap"`
	StepNotApplicable int `json:"step_not_applicable"`
	StepPending       int `json:"step_pending"`
	GapTotal          int `json:"gap_total"`
	GapApproved       int `json:"gap_approved"`
	IntegrationCount  int `json:"integration_count"`
	MigrationCount    int `json:"migration_count"`
	OCMCount          int `json:"ocm_count"`
}

// Snapshot is immutable once created; a new edit requires a new
// version. Keyed by (assessment_id, version), version starts at 1.
type Snapshot struct {
	AssessmentID string             `json:"assessment_id"`
	Version      int                `json:"version"`
	Reason       string             `json:"reason,omitempty"`
	Fingerprint  string             `json:"fingerprint"`
	Statistics   SnapshotStatistics `json:"statistics"`
	Payload      SnapshotPayload    `json:"payload"`
	CreatedBy    string             `json:"created_by"`
	CreatedAt    string             `json:"created_at" format:"date-time"`
}

// UnlockedEntity names one record a change request reopens for edit.
type UnlockedEntity struct {
	EntityType string `json:"entity_type" enum:"scope_selection,step_response,gap_resolution,integration_point,data_migration_object,ocm_impact"`
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason,omitempty"`
}

// ChangeRequest carries the risk assessed at creation time. The
// recorded risk is frozen; later edits to live data never alter it.
type ChangeRequest struct {
	ID              string           `json:"id"`
	AssessmentID    string           `json:"assessment_id"`
	BaselineVersion int              `json:"baseline_version"`
	Title           string           `json:"title"`
	Reason          string           `json:"reason,omitempty"`
	Status          string           `json:"status" enum:"open,closed"`
	RiskLevel       string           `json:"risk_level" enum:"low,medium,high"`
	Breakdown       map[string]int   `json:"breakdown"`
	Unlocked        []UnlockedEntity `json:"unlocked"`
	CreatedBy       string           `json:"created_by"`
	CreatedAt       string           `json:"created_at" format:"date-time"`
}

const (
	ChangeRequestOpen   = "open"
	ChangeRequestClosed = "closed"
)

// ScopeChange is one scope delta record between two phases.
type ScopeChange struct {
	ItemID          string `json:"item_id"`
	ChangeType      string `json:"change_type" enum:"added,removed,modified"`
	Phase1Selected  bool   `json:"phase1_selected"`
	Phase2Selected  bool   `json:"phase2_selected"`
	Phase1Relevance string `json:"phase1_relevance,omitempty"`
	Phase2Relevance string `json:"phase2_relevance,omitempty"`
}

// ClassificationChange is one fit-status delta record between two
// phases, carrying both sides for display.
type ClassificationChange struct {
	StepID         string `json:"step_id"`
	ChangeType     string `json:"change_type" enum:"added,removed,modified"`
	PreviousStatus string `json:"previous_status,omitempty"`
	NewStatus      string `json:"new_status,omitempty"`
}

const (
	ChangeAdded    = "added"
	ChangeRemoved  = "removed"
	ChangeModified = "modified"
)

// PhaseLink connects two assessments for the same client. Keyed by
// the ordered pair (phase1, phase2); deltas are computed once at
// link-creation time.
type PhaseLink struct {
	ID                  string                 `json:"id"`
	ClientID            string                 `json:"client_id"`
	Phase1AssessmentID  string                 `json:"phase1_assessment_id"`
	Phase2AssessmentID  string                 `json:"phase2_assessment_id"`
	ScopeDelta          []ScopeChange          `json:"scope_delta"`
	ClassificationDelta []ClassificationChange `json:"classification_delta"`
	CreatedBy           string                 `json:"created_by"`
	CreatedAt           string                 `json:"created_at" format:"date-time"`
}

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	AssessmentID string `json:"assessment_id,omitempty"`
	EntityKind   string `json:"entity_kind"`
	EntityID     string `json:"entity_id,omitempty"`
	ActorID      string `json:"actor_id"`
	Payload      string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
