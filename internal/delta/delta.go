// Package delta computes cross-phase diffs between two assessments'
// scope-selection and step-response sets, and derives trend insight
// sentences from them. Every function is pure; it works identically
// over live or snapshotted data.
package delta

import (
	"fmt"
	"sort"
	"strings"

	"gateline/internal/domain"
)

// ScopeDelta classifies every scope item appearing in either phase.
// An item selected only in phase 2 is added; selected only in phase 1
// is removed; selected in both with differing relevance is modified.
// Deselection takes precedence over a relevance change, so a
// deselected item reports removed, never modified. Items unchanged in
// both phases carry no record.
func ScopeDelta(phase1, phase2 []domain.ScopeSelection) []domain.ScopeChange {
	byID1 := scopeByItem(phase1)
	byID2 := scopeByItem(phase2)
	ids := unionKeys(keysOfScope(byID1), keysOfScope(byID2))

	var changes []domain.ScopeChange
	for _, id := range ids {
		s1, ok1 := byID1[id]
		s2, ok2 := byID2[id]
		sel1 := ok1 && s1.Selected
		sel2 := ok2 && s2.Selected
		change := domain.ScopeChange{
			ItemID:          id,
			Phase1Selected:  sel1,
			Phase2Selected:  sel2,
			Phase1Relevance: s1.Relevance,
			Phase2Relevance: s2.Relevance,
		}
		switch {
		case sel2 && !sel1:
			change.ChangeType = domain.ChangeAdded
		case sel1 && !sel2:
			change.ChangeType = domain.ChangeRemoved
		case sel1 && sel2 && s1.Relevance != s2.Relevance:
			change.ChangeType = domain.ChangeModified
		default:
			continue
		}
		changes = append(changes, change)
	}
	return changes
}

// ClassificationDelta compares fit-status values for every step with
// a response in either phase, carrying both sides for display.
func ClassificationDelta(phase1, phase2 []domain.StepResponse) []domain.ClassificationChange {
	byStep1 := stepsByID(phase1)
	byStep2 := stepsByID(phase2)
	ids := unionKeys(keysOfSteps(byStep1), keysOfSteps(byStep2))

	var changes []domain.ClassificationChange
	for _, id := range ids {
		r1, ok1 := byStep1[id]
		r2, ok2 := byStep2[id]
		switch {
		case ok2 && !ok1:
			changes = append(changes, domain.ClassificationChange{
				StepID: id, ChangeType: domain.ChangeAdded, NewStatus: normalize(r2.FitStatus),
			})
		case ok1 && !ok2:
			changes = append(changes, domain.ClassificationChange{
				StepID: id, ChangeType: domain.ChangeRemoved, PreviousStatus: normalize(r1.FitStatus),
			})
		case normalize(r1.FitStatus) != normalize(r2.FitStatus):
			changes = append(changes, domain.ClassificationChange{
				StepID: id, ChangeType: domain.ChangeModified,
				PreviousStatus: normalize(r1.FitStatus), NewStatus: normalize(r2.FitStatus),
			})
		}
	}
	return changes
}

// FitRate returns the percentage of FIT responses over all responses,
// matched case-insensitively. An empty set has a rate of zero.
func FitRate(responses []domain.StepResponse) float64 {
	if len(responses) == 0 {
		return 0
	}
	fit := 0
	for _, r := range responses {
		if strings.EqualFold(r.FitStatus, domain.FitStatusFit) {
			fit++
		}
	}
	return float64(fit) / float64(len(responses)) * 100
}

// InsightThresholds tunes the trend wording. A FIT-rate shift smaller
// than MaterialChangePoints (in percentage points) reads as no
// material change.
type InsightThresholds struct {
	MaterialChangePoints float64
}

// Insights renders ordered human-readable trend sentences from the
// two phases' responses and the computed deltas.
func Insights(phase1, phase2 []domain.StepResponse, scope []domain.ScopeChange, classification []domain.ClassificationChange, t InsightThresholds) []string {
	rate1 := FitRate(phase1)
	rate2 := FitRate(phase2)
	diff := rate2 - rate1

	var out []string
	switch {
	case diff >= t.MaterialChangePoints:
		out = append(out, fmt.Sprintf("FIT rate improved from %.1f%% to %.1f%% (+%.1f points).", rate1, rate2, diff))
	case -diff >= t.MaterialChangePoints:
		out = append(out, fmt.Sprintf("FIT rate declined from %.1f%% to %.1f%% (-%.1f points).", rate1, rate2, -diff))
	default:
		out = append(out, fmt.Sprintf("No material change in FIT rate (%.1f%% to %.1f%%).", rate1, rate2))
	}

	added, removed, modified := countChanges(scope)
	if added+removed+modified > 0 {
		out = append(out, fmt.Sprintf("Scope shifted: %d item(s) added, %d removed, %d re-flagged.", added, removed, modified))
	} else {
		out = append(out, "Scope is unchanged between phases.")
	}

	cAdded, cRemoved, cModified := countClassificationChanges(classification)
	if cAdded+cRemoved+cModified > 0 {
		out = append(out, fmt.Sprintf("Classification drift: %d response(s) added, %d removed, %d changed status.", cAdded, cRemoved, cModified))
	}
	return out
}

func countChanges(changes []domain.ScopeChange) (added, removed, modified int) {
	for _, c := range changes {
		switch c.ChangeType {
		case domain.ChangeAdded:
			added++
		case domain.ChangeRemoved:
			removed++
		case domain.ChangeModified:
			modified++
		}
	}
	return
}

func countClassificationChanges(changes []domain.ClassificationChange) (added, removed, modified int) {
	for _, c := range changes {
		switch c.ChangeType {
		case domain.ChangeAdded:
			added++
		case domain.ChangeRemoved:
			removed++
		case domain.ChangeModified:
			modified++
		}
	}
	return
}

func normalize(status string) string {
	return strings.ToUpper(strings.TrimSpace(status))
}

func scopeByItem(items []domain.ScopeSelection) map[string]domain.ScopeSelection {
	m := make(map[string]domain.ScopeSelection, len(items))
	for _, s := range items {
		m[s.ItemID] = s
	}
	return m
}

func stepsByID(items []domain.StepResponse) map[string]domain.StepResponse {
	m := make(map[string]domain.StepResponse, len(items))
	for _, r := range items {
		m[r.StepID] = r
	}
	return m
}

func keysOfScope(m map[string]domain.ScopeSelection) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func keysOfSteps(m map[string]domain.StepResponse) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func unionKeys(a, b []string) []string {
	seen := map[string]bool{}
	for _, k := range a {
		seen[k] = true
	}
	for _, k := range b {
		seen[k] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
