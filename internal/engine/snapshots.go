package engine

import (
	"context"
	"fmt"

	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/snapshot"
)

// CreateSnapshot captures the assessment's classification data into
// the next version. Version assignment (max+1) and the insert share
// one transaction; a concurrent writer taking the same version trips
// the unique key and the whole capture retries.
func (e Engine) CreateSnapshot(ctx context.Context, assessmentID, reason, actorID string) (domain.Snapshot, error) {
	if _, err := e.Repo.GetAssessment(ctx, assessmentID); err != nil {
		return domain.Snapshot{}, err
	}
	var s domain.Snapshot
	err := e.withConflictRetry(func() error {
		payload, stats, fp, err := snapshot.Build(ctx, e.Repo, assessmentID)
		if err != nil {
			return err
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		version, err := e.Repo.NextSnapshotVersionTx(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		s = domain.Snapshot{
			AssessmentID: assessmentID,
			Version:      version,
			Reason:       reason,
			Fingerprint:  fp,
			Statistics:   stats,
			Payload:      payload,
			CreatedBy:    actorID,
			CreatedAt:    e.nowStr(),
		}
		if err := e.Repo.InsertSnapshotTx(ctx, tx, s); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "snapshot.created", assessmentID, "snapshot", fmt.Sprintf("v%d", version), actorID, events.EventPayload{"version": version, "fingerprint": fp, "reason": reason}); err != nil {
			return err
		}
		return tx.Commit()
	})
	return s, err
}

func (e Engine) ListSnapshots(ctx context.Context, assessmentID string) ([]domain.Snapshot, error) {
	return e.Repo.ListSnapshots(ctx, assessmentID)
}

// GetSnapshot returns the given version, or the latest when version
// is zero or negative.
func (e Engine) GetSnapshot(ctx context.Context, assessmentID string, version int) (domain.Snapshot, error) {
	if version <= 0 {
		return e.Repo.LatestSnapshot(ctx, assessmentID)
	}
	return e.Repo.GetSnapshot(ctx, assessmentID, version)
}

// VerifySnapshot recomputes the stored payload's fingerprint. A
// mismatch is an integrity failure and is reported, never recovered.
func (e Engine) VerifySnapshot(ctx context.Context, assessmentID string, version int) (domain.Snapshot, error) {
	s, err := e.GetSnapshot(ctx, assessmentID, version)
	if err != nil {
		return s, err
	}
	if err := snapshot.Verify(s); err != nil {
		return s, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return s, nil
}
