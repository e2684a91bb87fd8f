package delta

import (
	"strings"
	"testing"

	"gateline/internal/domain"
)

func sel(item string, selected bool, relevance string) domain.ScopeSelection {
	return domain.ScopeSelection{ItemID: item, Selected: selected, Relevance: relevance}
}

func resp(step, status string) domain.StepResponse {
	return domain.StepResponse{StepID: step, FitStatus: status}
}

func TestScopeDeltaIdenticalSetsEmpty(t *testing.T) {
	p := []domain.ScopeSelection{sel("a", true, "core"), sel("b", false, "")}
	if got := ScopeDelta(p, p); len(got) != 0 {
		t.Fatalf("expected empty delta, got %+v", got)
	}
}

func TestScopeDeltaAdded(t *testing.T) {
	p1 := []domain.ScopeSelection{sel("a", true, "core")}
	p2 := []domain.ScopeSelection{sel("a", true, "core"), sel("b", true, "core")}
	got := ScopeDelta(p1, p2)
	if len(got) != 1 || got[0].ChangeType != domain.ChangeAdded || got[0].ItemID != "b" {
		t.Fatalf("expected exactly one added record, got %+v", got)
	}
}

func TestScopeDeltaDeselectionIsRemovedNotModified(t *testing.T) {
	p1 := []domain.ScopeSelection{sel("a", true, "core")}
	p2 := []domain.ScopeSelection{sel("a", false, "optional")}
	got := ScopeDelta(p1, p2)
	if len(got) != 1 || got[0].ChangeType != domain.ChangeRemoved {
		t.Fatalf("deselection must report removed, got %+v", got)
	}
}

func TestScopeDeltaModifiedOnlyWhenBothSelected(t *testing.T) {
	p1 := []domain.ScopeSelection{sel("a", true, "core")}
	p2 := []domain.ScopeSelection{sel("a", true, "optional")}
	got := ScopeDelta(p1, p2)
	if len(got) != 1 || got[0].ChangeType != domain.ChangeModified {
		t.Fatalf("expected modified, got %+v", got)
	}
	if got[0].Phase1Relevance != "core" || got[0].Phase2Relevance != "optional" {
		t.Fatalf("relevance values not carried: %+v", got[0])
	}
}

func TestScopeDeltaDeselectedInBothIsSilent(t *testing.T) {
	p1 := []domain.ScopeSelection{sel("a", false, "x")}
	p2 := []domain.ScopeSelection{sel("a", false, "y")}
	if got := ScopeDelta(p1, p2); len(got) != 0 {
		t.Fatalf("deselected-in-both must carry no record, got %+v", got)
	}
}

func TestClassificationDelta(t *testing.T) {
	p1 := []domain.StepResponse{resp("s1", "FIT"), resp("s2", "GAP"), resp("s3", "FIT")}
	p2 := []domain.StepResponse{resp("s1", "fit"), resp("s2", "CONFIGURE"), resp("s4", "FIT")}
	got := ClassificationDelta(p1, p2)
	byStep := map[string]domain.ClassificationChange{}
	for _, c := range got {
		byStep[c.StepID] = c
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 changes, got %+v", got)
	}
	if c := byStep["s2"]; c.ChangeType != domain.ChangeModified || c.PreviousStatus != "GAP" || c.NewStatus != "CONFIGURE" {
		t.Fatalf("s2 change %+v", c)
	}
	if c := byStep["s3"]; c.ChangeType != domain.ChangeRemoved || c.PreviousStatus != "FIT" {
		t.Fatalf("s3 change %+v", c)
	}
	if c := byStep["s4"]; c.ChangeType != domain.ChangeAdded || c.NewStatus != "FIT" {
		t.Fatalf("s4 change %+v", c)
	}
	if _, ok := byStep["s1"]; ok {
		t.Fatal("case-only status difference must not report modified")
	}
}

func TestFitRate(t *testing.T) {
	if r := FitRate(nil); r != 0 {
		t.Fatalf("empty rate = %f", r)
	}
	responses := []domain.StepResponse{
		resp("s1", "FIT"), resp("s2", "fit"), resp("s3", "Fit"),
		resp("s4", "GAP"), resp("s5", "CONFIGURE"),
	}
	if r := FitRate(responses); r != 60 {
		t.Fatalf("rate = %f, want 60", r)
	}
}

func TestInsightsImprovement(t *testing.T) {
	// Phase 1: 6 FIT, 2 GAP, 2 CONFIGURE -> 60%. Phase 2: 8 FIT, 1 GAP,
	// 1 CONFIGURE -> 80%, with one newly added response id.
	var p1, p2 []domain.StepResponse
	for i := 0; i < 6; i++ {
		p1 = append(p1, resp(step(i), "FIT"))
	}
	p1 = append(p1, resp("g1", "GAP"), resp("g2", "GAP"), resp("c1", "CONFIGURE"), resp("c2", "CONFIGURE"))
	for i := 0; i < 6; i++ {
		p2 = append(p2, resp(step(i), "FIT"))
	}
	p2 = append(p2, resp("g1", "FIT"), resp("c1", "FIT"), resp("g2", "GAP"), resp("new-step", "CONFIGURE"))

	cls := ClassificationDelta(p1, p2)
	added := 0
	for _, c := range cls {
		if c.ChangeType == domain.ChangeAdded {
			added++
		}
	}
	if added != 1 {
		t.Fatalf("expected exactly one added classification record, got %+v", cls)
	}
	// c2 has no response in phase 2.
	removed := 0
	for _, c := range cls {
		if c.ChangeType == domain.ChangeRemoved {
			removed++
		}
	}
	if removed != 1 {
		t.Fatalf("expected one removed record, got %+v", cls)
	}

	insights := Insights(p1, p2, nil, cls, InsightThresholds{MaterialChangePoints: 1})
	if len(insights) == 0 {
		t.Fatal("no insights")
	}
	if !strings.Contains(insights[0], "improved from 60.0% to 80.0%") || !strings.Contains(insights[0], "+20.0 points") {
		t.Fatalf("unexpected trend sentence %q", insights[0])
	}
}

func TestInsightsDeclineAndFlat(t *testing.T) {
	p1 := []domain.StepResponse{resp("s1", "FIT"), resp("s2", "FIT")}
	p2 := []domain.StepResponse{resp("s1", "FIT"), resp("s2", "GAP")}
	decline := Insights(p1, p2, nil, nil, InsightThresholds{MaterialChangePoints: 1})
	if !strings.Contains(decline[0], "declined") {
		t.Fatalf("expected decline sentence, got %q", decline[0])
	}
	flat := Insights(p1, p1, nil, nil, InsightThresholds{MaterialChangePoints: 1})
	if !strings.Contains(flat[0], "No material change") {
		t.Fatalf("expected flat sentence, got %q", flat[0])
	}
}

func TestInsightsScopeSentence(t *testing.T) {
	scope := []domain.ScopeChange{
		{ItemID: "a", ChangeType: domain.ChangeAdded},
		{ItemID: "b", ChangeType: domain.ChangeRemoved},
	}
	out := Insights(nil, nil, scope, nil, InsightThresholds{MaterialChangePoints: 1})
	found := false
	for _, s := range out {
		if strings.Contains(s, "1 item(s) added, 1 removed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("scope sentence missing from %v", out)
	}
}

func step(i int) string {
	return string(rune('a'+i)) + "-step"
}
