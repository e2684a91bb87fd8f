package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"gateline/internal/delta"
	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/repo"
)

// LinkPhases connects two assessments of the same client and computes
// the scope and classification deltas once, at link time. Self-links
// and duplicate ordered pairs are refused.
func (e Engine) LinkPhases(ctx context.Context, phase1ID, phase2ID, clientID, actorID string) (domain.PhaseLink, error) {
	if phase1ID == phase2ID {
		return domain.PhaseLink{}, fmt.Errorf("%w: cannot link an assessment to itself", ErrPrecondition)
	}
	a1, err := e.Repo.GetAssessment(ctx, phase1ID)
	if err != nil {
		return domain.PhaseLink{}, err
	}
	a2, err := e.Repo.GetAssessment(ctx, phase2ID)
	if err != nil {
		return domain.PhaseLink{}, err
	}
	if a1.ClientID != clientID || a2.ClientID != clientID {
		return domain.PhaseLink{}, fmt.Errorf("%w: both assessments must belong to client %s", ErrPrecondition, clientID)
	}
	if _, err := e.Repo.GetPhaseLinkByPair(ctx, phase1ID, phase2ID); err == nil {
		return domain.PhaseLink{}, fmt.Errorf("%w: phases %s and %s are already linked", ErrPrecondition, phase1ID, phase2ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.PhaseLink{}, err
	}

	scope1, err := e.Repo.ScopeSelections(ctx, phase1ID)
	if err != nil {
		return domain.PhaseLink{}, err
	}
	scope2, err := e.Repo.ScopeSelections(ctx, phase2ID)
	if err != nil {
		return domain.PhaseLink{}, err
	}
	steps1, err := e.Repo.StepResponses(ctx, phase1ID)
	if err != nil {
		return domain.PhaseLink{}, err
	}
	steps2, err := e.Repo.StepResponses(ctx, phase2ID)
	if err != nil {
		return domain.PhaseLink{}, err
	}

	l := domain.PhaseLink{
		ID:                  uuid.NewString(),
		ClientID:            clientID,
		Phase1AssessmentID:  phase1ID,
		Phase2AssessmentID:  phase2ID,
		ScopeDelta:          delta.ScopeDelta(scope1, scope2),
		ClassificationDelta: delta.ClassificationDelta(steps1, steps2),
		CreatedBy:           actorID,
		CreatedAt:           e.nowStr(),
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return l, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertPhaseLinkTx(ctx, tx, l); err != nil {
		return l, err
	}
	if err := e.Events.Append(ctx, tx, "phase_link.created", phase2ID, "phase_link", l.ID, actorID, events.EventPayload{"phase1": phase1ID, "phase2": phase2ID}); err != nil {
		return l, err
	}
	return l, tx.Commit()
}

// PhaseSummary is one assessment's current classification posture as
// shown in the cross-phase report.
type PhaseSummary struct {
	AssessmentID string  `json:"assessment_id"`
	Name         string  `json:"name"`
	Phase        int     `json:"phase,omitempty"`
	StepTotal    int     `json:"step_total"`
	FitRate      float64 `json:"fit_rate"`
}

// CrossPhaseView aggregates every link an assessment participates in.
type CrossPhaseView struct {
	Links     []domain.PhaseLink `json:"links"`
	Summaries []PhaseSummary     `json:"phase_summaries"`
	Insights  []string           `json:"insights"`
}

// CrossPhaseSummary is the read-only reporting aggregation. With no
// links it returns an explicit empty-insights message, not an error.
func (e Engine) CrossPhaseSummary(ctx context.Context, assessmentID string) (CrossPhaseView, error) {
	if _, err := e.Repo.GetAssessment(ctx, assessmentID); err != nil {
		return CrossPhaseView{}, err
	}
	links, err := e.Repo.ListPhaseLinks(ctx, assessmentID)
	if err != nil {
		return CrossPhaseView{}, err
	}
	view := CrossPhaseView{Links: links}
	if len(links) == 0 {
		view.Insights = []string{"No linked phases; nothing to compare yet."}
		return view, nil
	}

	steps := map[string][]domain.StepResponse{}
	seen := map[string]bool{}
	for _, l := range links {
		for _, id := range []string{l.Phase1AssessmentID, l.Phase2AssessmentID} {
			if seen[id] {
				continue
			}
			seen[id] = true
			a, err := e.Repo.GetAssessment(ctx, id)
			if err != nil {
				return view, err
			}
			s, err := e.Repo.StepResponses(ctx, id)
			if err != nil {
				return view, err
			}
			steps[id] = s
			view.Summaries = append(view.Summaries, PhaseSummary{
				AssessmentID: id,
				Name:         a.Name,
				Phase:        a.Phase,
				StepTotal:    len(s),
				FitRate:      delta.FitRate(s),
			})
		}
	}

	thresholds := delta.InsightThresholds{MaterialChangePoints: e.materialChangePoints()}
	for _, l := range links {
		view.Insights = append(view.Insights, delta.Insights(steps[l.Phase1AssessmentID], steps[l.Phase2AssessmentID], l.ScopeDelta, l.ClassificationDelta, thresholds)...)
	}
	return view, nil
}
