package impact

import (
	"fmt"
	"testing"

	"gateline/internal/domain"
)

func baseline() domain.SnapshotPayload {
	return domain.SnapshotPayload{
		StepResponses: []domain.StepResponse{
			{ID: "sr-fit", StepID: "step-fit", FitStatus: domain.FitStatusFit},
			{ID: "sr-gap", StepID: "step-gap", FitStatus: domain.FitStatusGap},
			{ID: "sr-config", StepID: "step-config", FitStatus: domain.FitStatusConfigure},
		},
	}
}

func unlock(entityType, id string) domain.UnlockedEntity {
	return domain.UnlockedEntity{EntityType: entityType, EntityID: id}
}

func TestEmptyUnlockIsLow(t *testing.T) {
	s := Compute(nil, baseline(), Thresholds{EscalationCount: 10})
	if s.RiskLevel != RiskLow || len(s.Breakdown) != 0 {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestGapResolutionIsHigh(t *testing.T) {
	s := Compute([]domain.UnlockedEntity{unlock(domain.EntityGapResolution, "g1")}, baseline(), Thresholds{})
	if s.RiskLevel != RiskHigh {
		t.Fatalf("gap unlock risk = %s", s.RiskLevel)
	}
}

func TestStepResponseDependsOnBaselineClassification(t *testing.T) {
	fit := Compute([]domain.UnlockedEntity{unlock(domain.EntityStepResponse, "sr-fit")}, baseline(), Thresholds{})
	if fit.RiskLevel != RiskLow {
		t.Fatalf("FIT step unlock risk = %s", fit.RiskLevel)
	}
	gap := Compute([]domain.UnlockedEntity{unlock(domain.EntityStepResponse, "sr-gap")}, baseline(), Thresholds{})
	if gap.RiskLevel != RiskMedium {
		t.Fatalf("GAP step unlock risk = %s", gap.RiskLevel)
	}
	unknown := Compute([]domain.UnlockedEntity{unlock(domain.EntityStepResponse, "missing")}, baseline(), Thresholds{})
	if unknown.RiskLevel != RiskMedium {
		t.Fatalf("unknown step unlock risk = %s", unknown.RiskLevel)
	}
}

func TestMaxNotAverage(t *testing.T) {
	entities := []domain.UnlockedEntity{unlock(domain.EntityGapResolution, "g1")}
	for i := 0; i < 50; i++ {
		entities = append(entities, unlock(domain.EntityScopeSelection, fmt.Sprintf("scope-%d", i)))
	}
	s := Compute(entities, baseline(), Thresholds{EscalationCount: 100})
	if s.RiskLevel != RiskHigh {
		t.Fatalf("many low-risk unlocks diluted the level to %s", s.RiskLevel)
	}
	if s.Breakdown[domain.EntityScopeSelection] != 50 || s.Breakdown[domain.EntityGapResolution] != 1 {
		t.Fatalf("breakdown %+v", s.Breakdown)
	}
}

func TestEscalationThreshold(t *testing.T) {
	var entities []domain.UnlockedEntity
	for i := 0; i < 11; i++ {
		entities = append(entities, unlock(domain.EntityScopeSelection, fmt.Sprintf("scope-%d", i)))
	}
	s := Compute(entities, baseline(), Thresholds{EscalationCount: 10})
	if s.RiskLevel != RiskMedium || !s.Escalated {
		t.Fatalf("expected escalation to medium, got %+v", s)
	}
	// At the threshold exactly, no escalation.
	s = Compute(entities[:10], baseline(), Thresholds{EscalationCount: 10})
	if s.RiskLevel != RiskLow || s.Escalated {
		t.Fatalf("unexpected escalation at threshold, got %+v", s)
	}
	// Disabled threshold never escalates.
	s = Compute(entities, baseline(), Thresholds{})
	if s.Escalated {
		t.Fatalf("escalation fired with disabled threshold")
	}
}

func TestMonotoneInEntityCount(t *testing.T) {
	var entities []domain.UnlockedEntity
	prev := RiskLow
	for i := 0; i < 30; i++ {
		entities = append(entities, unlock(domain.EntityScopeSelection, fmt.Sprintf("scope-%d", i)))
		s := Compute(entities, baseline(), Thresholds{EscalationCount: 10})
		if riskRank[s.RiskLevel] < riskRank[prev] {
			t.Fatalf("risk decreased from %s to %s at %d entities", prev, s.RiskLevel, len(entities))
		}
		prev = s.RiskLevel
	}
}

func TestHighDoesNotEscalatePastHigh(t *testing.T) {
	var entities []domain.UnlockedEntity
	for i := 0; i < 20; i++ {
		entities = append(entities, unlock(domain.EntityGapResolution, fmt.Sprintf("g-%d", i)))
	}
	s := Compute(entities, baseline(), Thresholds{EscalationCount: 5})
	if s.RiskLevel != RiskHigh {
		t.Fatalf("risk = %s", s.RiskLevel)
	}
}
