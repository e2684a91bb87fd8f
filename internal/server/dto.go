package server

import (
	"encoding/json"

	"gateline/internal/domain"
	"gateline/internal/engine"
)

// Request payloads

type CreateClientRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateAssessmentRequest struct {
	ID          *string `json:"id,omitempty"`
	ClientID    string  `json:"client_id"`
	Name        string  `json:"name"`
	Phase       int     `json:"phase,omitempty"`
	Description *string `json:"description,omitempty"`
}

type ScopeSelectionRequest struct {
	ItemID    string `json:"item_id"`
	Selected  bool   `json:"selected"`
	Relevance string `json:"relevance,omitempty"`
}

type StepResponseRequest struct {
	StepID    string `json:"step_id"`
	FitStatus string `json:"fit_status" enum:"FIT,CONFIGURE,GAP,NOT_APPLICABLE,PENDING"`
	Notes     string `json:"notes,omitempty"`
}

type GapResolutionRequest struct {
	GapID      string `json:"gap_id"`
	Resolution string `json:"resolution,omitempty"`
	Approved   bool   `json:"approved"`
}

type IntegrationPointRequest struct {
	ID     *string `json:"id,omitempty"`
	Name   string  `json:"name"`
	System string  `json:"system,omitempty"`
}

type MigrationObjectRequest struct {
	ID           *string `json:"id,omitempty"`
	ObjectName   string  `json:"object_name"`
	SourceSystem string  `json:"source_system,omitempty"`
}

type OCMImpactRequest struct {
	ID       *string `json:"id,omitempty"`
	Area     string  `json:"area"`
	Severity string  `json:"severity,omitempty"`
}

type SubmitValidationRequest struct {
	Role        string `json:"role" enum:"area_lead,technical_lead_primary,technical_lead_secondary,cross_functional_lead,executive_sponsor,partner_executive"`
	Decision    string `json:"decision" enum:"approved,rejected"`
	ValidatorID string `json:"validator_id,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type CreateSnapshotRequest struct {
	Reason string `json:"reason,omitempty"`
}

type CreateChangeRequestRequest struct {
	BaselineVersion int                     `json:"baseline_version"`
	Title           string                  `json:"title"`
	Reason          string                  `json:"reason,omitempty"`
	Unlocked        []domain.UnlockedEntity `json:"unlocked"`
}

type LinkPhasesRequest struct {
	Phase1AssessmentID string `json:"phase1_assessment_id"`
	Phase2AssessmentID string `json:"phase2_assessment_id"`
	ClientID           string `json:"client_id"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type SubmitValidationResponse struct {
	Stage     string                  `json:"stage"`
	Completed bool                    `json:"completed"`
	Record    domain.ValidationRecord `json:"record"`
}

// SnapshotResponse is snapshot metadata; the payload is only returned
// by the single-snapshot endpoint.
type SnapshotResponse struct {
	AssessmentID string                    `json:"assessment_id"`
	Version      int                       `json:"version"`
	Reason       string                    `json:"reason,omitempty"`
	Fingerprint  string                    `json:"fingerprint"`
	Statistics   domain.SnapshotStatistics `json:"statistics"`
	CreatedBy    string                    `json:"created_by"`
	CreatedAt    string                    `json:"created_at" format:"date-time"`
}

type VerifySnapshotResponse struct {
	AssessmentID string `json:"assessment_id"`
	Version      int    `json:"version"`
	Fingerprint  string `json:"fingerprint"`
	Valid        bool   `json:"valid"`
}

type EventResponse struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts" format:"date-time"`
	Type         string         `json:"type"`
	AssessmentID string         `json:"assessment_id,omitempty"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id,omitempty"`
	ActorID      string         `json:"actor_id"`
	Payload      map[string]any `json:"payload"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// Conversion helpers

func snapshotResponse(s domain.Snapshot) SnapshotResponse {
	return SnapshotResponse{
		AssessmentID: s.AssessmentID,
		Version:      s.Version,
		Reason:       s.Reason,
		Fingerprint:  s.Fingerprint,
		Statistics:   s.Statistics,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
	}
}

func mapSnapshots(items []domain.Snapshot) []SnapshotResponse {
	out := make([]SnapshotResponse, 0, len(items))
	for _, s := range items {
		out = append(out, snapshotResponse(s))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:           e.ID,
		TS:           e.TS,
		Type:         e.Type,
		AssessmentID: e.AssessmentID,
		EntityKind:   e.EntityKind,
		EntityID:     e.EntityID,
		ActorID:      e.ActorID,
		Payload:      decodeJSONMap(e.Payload),
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func submitResponse(res engine.SubmitResult) SubmitValidationResponse {
	return SubmitValidationResponse{
		Stage:     res.Stage,
		Completed: res.StageCompleted,
		Record:    res.Record,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strVal(in *string) string {
	if in == nil {
		return ""
	}
	return *in
}
