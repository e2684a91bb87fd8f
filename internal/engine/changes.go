package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/impact"
	"gateline/internal/repo"
)

// ChangeRequestOptions are parameters for reopening parts of an
// approved assessment.
type ChangeRequestOptions struct {
	AssessmentID    string
	BaselineVersion int
	Title           string
	Reason          string
	Unlocked        []domain.UnlockedEntity
	ActorID         string
}

// CreateChangeRequest computes the impact of the requested unlocks
// against the baseline snapshot and freezes the result into the
// record. The recorded risk is never recomputed afterwards.
func (e Engine) CreateChangeRequest(ctx context.Context, opts ChangeRequestOptions) (domain.ChangeRequest, error) {
	if opts.Title == "" {
		return domain.ChangeRequest{}, fmt.Errorf("%w: title is required", ErrPrecondition)
	}
	if len(opts.Unlocked) == 0 {
		return domain.ChangeRequest{}, fmt.Errorf("%w: at least one unlocked entity is required", ErrPrecondition)
	}
	if _, err := e.Repo.GetAssessment(ctx, opts.AssessmentID); err != nil {
		return domain.ChangeRequest{}, err
	}
	baseline, err := e.Repo.GetSnapshot(ctx, opts.AssessmentID, opts.BaselineVersion)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.ChangeRequest{}, fmt.Errorf("%w: baseline snapshot v%d does not belong to assessment %s", ErrPrecondition, opts.BaselineVersion, opts.AssessmentID)
		}
		return domain.ChangeRequest{}, err
	}
	for _, u := range opts.Unlocked {
		ok, err := e.Repo.EntityExists(ctx, u.EntityType, u.EntityID, opts.AssessmentID)
		if err != nil {
			return domain.ChangeRequest{}, fmt.Errorf("%w: %v", ErrPrecondition, err)
		}
		if !ok {
			return domain.ChangeRequest{}, fmt.Errorf("%w: %s %s does not resolve within assessment %s", ErrIntegrity, u.EntityType, u.EntityID, opts.AssessmentID)
		}
	}

	summary := impact.Compute(opts.Unlocked, baseline.Payload, impact.Thresholds{EscalationCount: e.escalationThreshold()})
	cr := domain.ChangeRequest{
		ID:              uuid.NewString(),
		AssessmentID:    opts.AssessmentID,
		BaselineVersion: baseline.Version,
		Title:           opts.Title,
		Reason:          opts.Reason,
		Status:          domain.ChangeRequestOpen,
		RiskLevel:       summary.RiskLevel,
		Breakdown:       summary.Breakdown,
		Unlocked:        opts.Unlocked,
		CreatedBy:       opts.ActorID,
		CreatedAt:       e.nowStr(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return cr, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertChangeRequestTx(ctx, tx, cr); err != nil {
		return cr, fmt.Errorf("insert change request: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "change_request.created", cr.AssessmentID, "change_request", cr.ID, opts.ActorID, events.EventPayload{"risk_level": cr.RiskLevel, "baseline_version": cr.BaselineVersion, "unlocked": len(cr.Unlocked)}); err != nil {
		return cr, err
	}
	return cr, tx.Commit()
}

func (e Engine) ListChangeRequests(ctx context.Context, assessmentID string) ([]domain.ChangeRequest, error) {
	return e.Repo.ListChangeRequests(ctx, assessmentID)
}

// CloseChangeRequest relocks the entities the request had opened.
func (e Engine) CloseChangeRequest(ctx context.Context, id, actorID string) (domain.ChangeRequest, error) {
	cr, err := e.Repo.GetChangeRequest(ctx, id)
	if err != nil {
		return cr, err
	}
	if cr.Status == domain.ChangeRequestClosed {
		return cr, fmt.Errorf("%w: change request %s is already closed", ErrPrecondition, id)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return cr, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetChangeRequestStatus(ctx, tx, id, domain.ChangeRequestClosed); err != nil {
		return cr, err
	}
	if err := e.Events.Append(ctx, tx, "change_request.closed", cr.AssessmentID, "change_request", cr.ID, actorID, nil); err != nil {
		return cr, err
	}
	if err := tx.Commit(); err != nil {
		return cr, err
	}
	cr.Status = domain.ChangeRequestClosed
	return cr, nil
}
