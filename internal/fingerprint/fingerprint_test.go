package fingerprint

import (
	"testing"

	"gateline/internal/domain"
)

func samplePayload() domain.SnapshotPayload {
	return domain.SnapshotPayload{
		ScopeSelections: []domain.ScopeSelection{
			{ItemID: "scope-1", Selected: true, Relevance: "core"},
			{ItemID: "scope-2", Selected: false},
		},
		StepResponses: []domain.StepResponse{
			{StepID: "step-1", FitStatus: domain.FitStatusFit},
			{StepID: "step-2", FitStatus: domain.FitStatusGap, Notes: "needs extension"},
		},
		GapResolutions: []domain.GapResolution{
			{GapID: "gap-1", Resolution: "custom report", Approved: true},
		},
		IntegrationPoints: []domain.IntegrationPoint{
			{ID: "int-1", Name: "payroll feed", System: "legacy-hr"},
		},
		MigrationObjects: []domain.MigrationObject{
			{ID: "mig-1", ObjectName: "customers", SourceSystem: "crm"},
		},
		OCMImpacts: []domain.OCMImpact{
			{ID: "ocm-1", Area: "finance", Severity: "medium"},
		},
	}
}

func TestReflexive(t *testing.T) {
	p := samplePayload()
	if Compute(p) != Compute(p) {
		t.Fatal("fingerprint not deterministic")
	}
	if !Equal(p, samplePayload()) {
		t.Fatal("identical payloads not equal")
	}
}

func TestOrderIndependent(t *testing.T) {
	a := samplePayload()
	b := samplePayload()
	b.ScopeSelections[0], b.ScopeSelections[1] = b.ScopeSelections[1], b.ScopeSelections[0]
	b.StepResponses[0], b.StepResponses[1] = b.StepResponses[1], b.StepResponses[0]
	if Compute(a) != Compute(b) {
		t.Fatal("reordering unordered collections changed the fingerprint")
	}
}

func TestScalarChangeChangesFingerprint(t *testing.T) {
	base := Compute(samplePayload())

	p := samplePayload()
	p.ScopeSelections[1].Selected = true
	if Compute(p) == base {
		t.Fatal("scope selection flip not reflected")
	}

	p = samplePayload()
	p.StepResponses[0].FitStatus = domain.FitStatusConfigure
	if Compute(p) == base {
		t.Fatal("fit status change not reflected")
	}

	p = samplePayload()
	p.GapResolutions[0].Approved = false
	if Compute(p) == base {
		t.Fatal("gap approval change not reflected")
	}
}

func TestCollectionsDoNotBleed(t *testing.T) {
	// A record moving between sections must not hash identically.
	a := domain.SnapshotPayload{ScopeSelections: []domain.ScopeSelection{{ItemID: "x"}}}
	b := domain.SnapshotPayload{StepResponses: []domain.StepResponse{{StepID: "x"}}}
	if Compute(a) == Compute(b) {
		t.Fatal("sections collide")
	}
}

func TestDelimitersInFreeTextDoNotForgeRecords(t *testing.T) {
	// A note carrying a newline plus a well-formed line must not hash
	// like a payload that really contains that second record.
	a := domain.SnapshotPayload{
		StepResponses: []domain.StepResponse{
			{StepID: "s1", FitStatus: domain.FitStatusFit, Notes: "x\nSTEP|s2|FIT|"},
		},
	}
	b := domain.SnapshotPayload{
		StepResponses: []domain.StepResponse{
			{StepID: "s1", FitStatus: domain.FitStatusFit, Notes: "x"},
			{StepID: "s2", FitStatus: domain.FitStatusFit},
		},
	}
	if Equal(a, b) {
		t.Fatal("note with embedded delimiters collides with a real record")
	}

	// Same for pipes splitting a field in two.
	c := domain.SnapshotPayload{
		GapResolutions: []domain.GapResolution{{GapID: "g1", Resolution: "a|b", Approved: true}},
	}
	d := domain.SnapshotPayload{
		GapResolutions: []domain.GapResolution{{GapID: "g1|a", Resolution: "b", Approved: true}},
	}
	if Equal(c, d) {
		t.Fatal("pipe inside a field shifts the field boundary")
	}

	// Escaping must stay injective for literal backslashes too.
	e := domain.SnapshotPayload{
		StepResponses: []domain.StepResponse{{StepID: "s1", FitStatus: domain.FitStatusFit, Notes: `x\n`}},
	}
	f := domain.SnapshotPayload{
		StepResponses: []domain.StepResponse{{StepID: "s1", FitStatus: domain.FitStatusFit, Notes: "x\n"}},
	}
	if Equal(e, f) {
		t.Fatal(`literal \n collides with a newline`)
	}
}

func TestEmptyPayloadStable(t *testing.T) {
	if Compute(domain.SnapshotPayload{}) != Compute(domain.SnapshotPayload{}) {
		t.Fatal("empty payload fingerprint unstable")
	}
	if Compute(domain.SnapshotPayload{}) == Compute(samplePayload()) {
		t.Fatal("empty equals non-empty")
	}
}
