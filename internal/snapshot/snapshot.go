// Package snapshot assembles the denormalized capture of an
// assessment's classification data. It reads through the narrow
// Source interface only, so it has no storage dependency and can be
// tested with in-memory fixtures; version assignment and persistence
// belong to the caller.
package snapshot

import (
	"context"
	"fmt"
	"strings"

	"gateline/internal/domain"
	"gateline/internal/fingerprint"
)

// Source is the read capability the engine needs to capture an
// assessment. Implementations must return the records current at call
// time; empty slices are valid.
type Source interface {
	ScopeSelections(ctx context.Context, assessmentID string) ([]domain.ScopeSelection, error)
	StepResponses(ctx context.Context, assessmentID string) ([]domain.StepResponse, error)
	GapResolutions(ctx context.Context, assessmentID string) ([]domain.GapResolution, error)
	IntegrationPoints(ctx context.Context, assessmentID string) ([]domain.IntegrationPoint, error)
	MigrationObjects(ctx context.Context, assessmentID string) ([]domain.MigrationObject, error)
	OCMImpacts(ctx context.Context, assessmentID string) ([]domain.OCMImpact, error)
}

// Build captures the payload, derived statistics and fingerprint for
// an assessment. An assessment with no records yields a valid zeroed
// capture, not an error.
func Build(ctx context.Context, src Source, assessmentID string) (domain.SnapshotPayload, domain.SnapshotStatistics, string, error) {
	var p domain.SnapshotPayload
	var err error
	if p.ScopeSelections, err = src.ScopeSelections(ctx, assessmentID); err != nil {
		return p, domain.SnapshotStatistics{}, "", fmt.Errorf("read scope selections: %w", err)
	}
	if p.StepResponses, err = src.StepResponses(ctx, assessmentID); err != nil {
		return p, domain.SnapshotStatistics{}, "", fmt.Errorf("read step responses: %w", err)
	}
	if p.GapResolutions, err = src.GapResolutions(ctx, assessmentID); err != nil {
		return p, domain.SnapshotStatistics{}, "", fmt.Errorf("read gap resolutions: %w", err)
	}
	if p.IntegrationPoints, err = src.IntegrationPoints(ctx, assessmentID); err != nil {
		return p, domain.SnapshotStatistics{}, "", fmt.Errorf("read integration points: %w", err)
	}
	if p.MigrationObjects, err = src.MigrationObjects(ctx, assessmentID); err != nil {
		return p, domain.SnapshotStatistics{}, "", fmt.Errorf("read migration objects: %w", err)
	}
	if p.OCMImpacts, err = src.OCMImpacts(ctx, assessmentID); err != nil {
		return p, domain.SnapshotStatistics{}, "", fmt.Errorf("read ocm impacts: %w", err)
	}
	return p, Statistics(p), fingerprint.Compute(p), nil
}

// Statistics derives the aggregate counts for a payload.
func Statistics(p domain.SnapshotPayload) domain.SnapshotStatistics {
	s := domain.SnapshotStatistics{
		ScopeTotal:       len(p.ScopeSelections),
		StepTotal:        len(p.StepResponses),
		GapTotal:         len(p.GapResolutions),
		IntegrationCount: len(p.IntegrationPoints),
		MigrationCount:   len(p.MigrationObjects),
		OCMCount:         len(p.OCMImpacts),
	}
	for _, sel := range p.ScopeSelections {
		if sel.Selected {
			s.ScopeSelected++
		}
	}
	for _, r := range p.StepResponses {
		switch strings.ToUpper(r.FitStatus) {
		case domain.FitStatusFit:
			s.StepFit++
		case domain.FitStatusConfigure:
			s.StepConfigure++
		case domain.FitStatusGap:
			s.StepGap++
		case domain.FitStatusNotApplicable:
			s.StepNotApplicable++
		default:
			s.StepPending++
		}
	}
	for _, g := range p.GapResolutions {
		if g.Approved {
			s.GapApproved++
		}
	}
	return s
}

// Verify recomputes the fingerprint over a stored snapshot's payload
// and compares it against the recorded one. A mismatch means the
// immutable record was altered; it is fatal, never coerced.
func Verify(s domain.Snapshot) error {
	got := fingerprint.Compute(s.Payload)
	if got != s.Fingerprint {
		return fmt.Errorf("snapshot %s v%d fingerprint mismatch: stored %s, computed %s", s.AssessmentID, s.Version, s.Fingerprint, got)
	}
	return nil
}
