package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/stage"
)

// ensureEditable refuses register edits on a completed sign-off
// unless an open change request has unlocked the (type, id) pair.
// Before completion the registers are freely editable.
func (e Engine) ensureEditable(ctx context.Context, assessmentID, entityType string, keys ...string) error {
	p, err := e.Repo.GetSignoffProcess(ctx, assessmentID)
	if err != nil {
		return err
	}
	if stage.Stage(p.Stage) != stage.Completed {
		return nil
	}
	for _, key := range keys {
		if key == "" {
			continue
		}
		ok, err := e.Repo.HasOpenUnlock(ctx, assessmentID, entityType, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("%w: assessment is signed off; %s %s is locked without an open change request", ErrPrecondition, entityType, firstNonEmpty(keys))
}

func firstNonEmpty(keys []string) string {
	for _, k := range keys {
		if k != "" {
			return k
		}
	}
	return ""
}

func (e Engine) UpsertScopeSelection(ctx context.Context, s domain.ScopeSelection, actorID string) (domain.ScopeSelection, error) {
	if s.ItemID == "" {
		return s, fmt.Errorf("%w: item id is required", ErrPrecondition)
	}
	if err := e.ensureEditable(ctx, s.AssessmentID, domain.EntityScopeSelection, s.ItemID, s.ID); err != nil {
		return s, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertScopeSelectionTx(ctx, tx, s); err != nil {
		return s, fmt.Errorf("upsert scope selection: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "scope_selection.upserted", s.AssessmentID, domain.EntityScopeSelection, s.ItemID, actorID, events.EventPayload{"selected": s.Selected, "relevance": s.Relevance}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

func (e Engine) UpsertStepResponse(ctx context.Context, s domain.StepResponse, actorID string) (domain.StepResponse, error) {
	if s.StepID == "" {
		return s, fmt.Errorf("%w: step id is required", ErrPrecondition)
	}
	if !validFitStatus(s.FitStatus) {
		return s, fmt.Errorf("%w: unknown fit status %q", ErrPrecondition, s.FitStatus)
	}
	if err := e.ensureEditable(ctx, s.AssessmentID, domain.EntityStepResponse, s.StepID, s.ID); err != nil {
		return s, err
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	s.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertStepResponseTx(ctx, tx, s); err != nil {
		return s, fmt.Errorf("upsert step response: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "step_response.upserted", s.AssessmentID, domain.EntityStepResponse, s.StepID, actorID, events.EventPayload{"fit_status": s.FitStatus}); err != nil {
		return s, err
	}
	return s, tx.Commit()
}

func validFitStatus(status string) bool {
	switch status {
	case domain.FitStatusFit, domain.FitStatusConfigure, domain.FitStatusGap, domain.FitStatusNotApplicable, domain.FitStatusPending:
		return true
	}
	return false
}

func (e Engine) UpsertGapResolution(ctx context.Context, g domain.GapResolution, actorID string) (domain.GapResolution, error) {
	if g.GapID == "" {
		return g, fmt.Errorf("%w: gap id is required", ErrPrecondition)
	}
	if err := e.ensureEditable(ctx, g.AssessmentID, domain.EntityGapResolution, g.GapID, g.ID); err != nil {
		return g, err
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return g, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertGapResolutionTx(ctx, tx, g); err != nil {
		return g, fmt.Errorf("upsert gap resolution: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "gap_resolution.upserted", g.AssessmentID, domain.EntityGapResolution, g.GapID, actorID, events.EventPayload{"approved": g.Approved}); err != nil {
		return g, err
	}
	return g, tx.Commit()
}

func (e Engine) UpsertIntegrationPoint(ctx context.Context, p domain.IntegrationPoint, actorID string) (domain.IntegrationPoint, error) {
	if p.Name == "" {
		return p, fmt.Errorf("%w: name is required", ErrPrecondition)
	}
	if err := e.ensureEditable(ctx, p.AssessmentID, domain.EntityIntegrationPoint, p.ID); err != nil {
		return p, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return p, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertIntegrationPointTx(ctx, tx, p); err != nil {
		return p, fmt.Errorf("upsert integration point: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "integration_point.upserted", p.AssessmentID, domain.EntityIntegrationPoint, p.ID, actorID, events.EventPayload{"name": p.Name}); err != nil {
		return p, err
	}
	return p, tx.Commit()
}

func (e Engine) UpsertMigrationObject(ctx context.Context, m domain.MigrationObject, actorID string) (domain.MigrationObject, error) {
	if m.ObjectName == "" {
		return m, fmt.Errorf("%w: object name is required", ErrPrecondition)
	}
	if err := e.ensureEditable(ctx, m.AssessmentID, domain.EntityMigrationObject, m.ID); err != nil {
		return m, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertMigrationObjectTx(ctx, tx, m); err != nil {
		return m, fmt.Errorf("upsert migration object: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "migration_object.upserted", m.AssessmentID, domain.EntityMigrationObject, m.ID, actorID, events.EventPayload{"object_name": m.ObjectName}); err != nil {
		return m, err
	}
	return m, tx.Commit()
}

func (e Engine) UpsertOCMImpact(ctx context.Context, o domain.OCMImpact, actorID string) (domain.OCMImpact, error) {
	if o.Area == "" {
		return o, fmt.Errorf("%w: area is required", ErrPrecondition)
	}
	if err := e.ensureEditable(ctx, o.AssessmentID, domain.EntityOCMImpact, o.ID); err != nil {
		return o, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	o.UpdatedAt = e.nowStr()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertOCMImpactTx(ctx, tx, o); err != nil {
		return o, fmt.Errorf("upsert ocm impact: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "ocm_impact.upserted", o.AssessmentID, domain.EntityOCMImpact, o.ID, actorID, events.EventPayload{"area": o.Area}); err != nil {
		return o, err
	}
	return o, tx.Commit()
}
