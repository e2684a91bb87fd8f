// Package impact classifies the risk of reopening parts of an
// approved assessment. Compute is deterministic and side-effect
// free; the caller freezes the result into the change request.
package impact

import (
	"strings"

	"gateline/internal/domain"
)

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

var riskRank = map[string]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2}

// Thresholds holds the tunable escalation rule. Unlocking more than
// EscalationCount entities at once raises the level one step
// regardless of type; zero disables the rule.
type Thresholds struct {
	EscalationCount int
}

// Summary is the frozen result of one impact computation.
type Summary struct {
	RiskLevel string         `json:"risk_level"`
	Breakdown map[string]int `json:"breakdown"`
	Escalated bool           `json:"escalated"`
}

// Compute derives the risk of unlocking the given entities against a
// baseline snapshot payload. The overall level is the maximum across
// individual contributions, never an average: a single high-risk
// unlock is not diluted by many low-risk ones.
func Compute(entities []domain.UnlockedEntity, baseline domain.SnapshotPayload, t Thresholds) Summary {
	breakdown := map[string]int{}
	level := RiskLow
	for _, e := range entities {
		breakdown[e.EntityType]++
		level = maxRisk(level, entityRisk(e, baseline))
	}
	escalated := false
	if t.EscalationCount > 0 && len(entities) > t.EscalationCount {
		level = escalate(level)
		escalated = true
	}
	return Summary{RiskLevel: level, Breakdown: breakdown, Escalated: escalated}
}

func entityRisk(e domain.UnlockedEntity, baseline domain.SnapshotPayload) string {
	switch e.EntityType {
	case domain.EntityGapResolution:
		return RiskHigh
	case domain.EntityStepResponse:
		if status, ok := baselineFitStatus(baseline, e.EntityID); ok && strings.EqualFold(status, domain.FitStatusFit) {
			return RiskLow
		}
		// Not FIT at approval time, or unknown to the baseline.
		return RiskMedium
	case domain.EntityIntegrationPoint, domain.EntityMigrationObject:
		return RiskMedium
	default:
		// scope_selection, ocm_impact
		return RiskLow
	}
}

func baselineFitStatus(p domain.SnapshotPayload, stepResponseID string) (string, bool) {
	for _, r := range p.StepResponses {
		if r.ID == stepResponseID || r.StepID == stepResponseID {
			return r.FitStatus, true
		}
	}
	return "", false
}

func maxRisk(a, b string) string {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

func escalate(level string) string {
	switch level {
	case RiskLow:
		return RiskMedium
	case RiskMedium:
		return RiskHigh
	default:
		return RiskHigh
	}
}
