package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/domain"
	"gateline/internal/engine"
	"gateline/internal/migrate"
	"gateline/internal/repo"
	"gateline/internal/stage"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("client-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.CreateClient(ctx, "client-1", "Test Client", "tester"); err != nil {
		t.Fatalf("create client: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func newAssessment(t *testing.T, env testEnv, id string, phase int) domain.Assessment {
	t.Helper()
	a, err := env.Engine.CreateAssessment(env.Ctx, engine.AssessmentCreateOptions{
		ID:       id,
		ClientID: "client-1",
		Name:     "Assessment " + id,
		Phase:    phase,
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("create assessment: %v", err)
	}
	return a
}

func approve(t *testing.T, env testEnv, assessmentID string, role stage.Role, validator string) engine.SubmitResult {
	t.Helper()
	res, err := env.Engine.SubmitValidation(env.Ctx, assessmentID, role, validator, domain.DecisionApproved, "")
	if err != nil {
		t.Fatalf("approve %s: %v", role, err)
	}
	return res
}

// fullApproval is the canonical happy path: one approval per role in
// sequence ends at completed.
var fullApproval = []struct {
	role      stage.Role
	validator string
}{
	{stage.RoleAreaLead, "area-1"},
	{stage.RoleTechnicalPrimary, "tech-1"},
	{stage.RoleTechnicalSecondary, "tech-2"},
	{stage.RoleCrossFunctionalLead, "xfn-1"},
	{stage.RoleExecutiveSponsor, "exec-1"},
	{stage.RolePartnerExecutive, "partner-1"},
}

func TestFullApprovalSequenceCompletes(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a1", 1)

	var last engine.SubmitResult
	for _, step := range fullApproval {
		last = approve(t, env, a.ID, step.role, step.validator)
	}
	if last.Stage != string(stage.Completed) || !last.StageCompleted {
		t.Fatalf("expected completed, got %s (completed=%v)", last.Stage, last.StageCompleted)
	}

	// Removing any single step leaves the process short of completed.
	for skip := range fullApproval {
		b := newAssessment(t, env, "a1-skip-"+fullApproval[skip].validator, 1)
		for i, step := range fullApproval {
			if i == skip {
				continue
			}
			// Later submissions land on the wrong stage once one is
			// missing; that is the point.
			_, _ = env.Engine.SubmitValidation(env.Ctx, b.ID, step.role, step.validator, domain.DecisionApproved, "")
		}
		view, err := env.Engine.GetSignoff(env.Ctx, b.ID)
		if err != nil {
			t.Fatal(err)
		}
		if view.Process.Stage == string(stage.Completed) {
			t.Fatalf("skipping %s still reached completed", fullApproval[skip].role)
		}
	}
}

func TestLazyStageEntry(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a2", 1)

	// Completing area must leave the process at area_validation_complete,
	// not eagerly in technical_validation_in_progress.
	res := approve(t, env, a.ID, stage.RoleAreaLead, "area-1")
	if res.Stage != string(stage.AreaComplete) {
		t.Fatalf("expected %s after area approval, got %s", stage.AreaComplete, res.Stage)
	}
	view, err := env.Engine.GetSignoff(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Process.Stage != string(stage.AreaComplete) {
		t.Fatalf("process advanced eagerly to %s", view.Process.Stage)
	}

	// The technical stage is entered by its first submission.
	res = approve(t, env, a.ID, stage.RoleTechnicalPrimary, "tech-1")
	if res.Stage != string(stage.TechnicalInProgress) {
		t.Fatalf("expected %s after first technical approval, got %s", stage.TechnicalInProgress, res.Stage)
	}
}

func TestBothTechnicalValidatorsRequired(t *testing.T) {
	for _, order := range [][]stage.Role{
		{stage.RoleTechnicalPrimary, stage.RoleTechnicalSecondary},
		{stage.RoleTechnicalSecondary, stage.RoleTechnicalPrimary},
	} {
		env := newTestEnv(t)
		a := newAssessment(t, env, "a3", 1)
		approve(t, env, a.ID, stage.RoleAreaLead, "area-1")

		res := approve(t, env, a.ID, order[0], "tech-1")
		if res.StageCompleted {
			t.Fatalf("one technical approval (%s) completed the stage", order[0])
		}
		res = approve(t, env, a.ID, order[1], "tech-2")
		if !res.StageCompleted || res.Stage != string(stage.TechnicalComplete) {
			t.Fatalf("both approvals should complete technical, got %s", res.Stage)
		}
	}
}

func TestWrongStageSubmissionIsPrecondition(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a4", 1)

	_, err := env.Engine.SubmitValidation(env.Ctx, a.ID, stage.RoleExecutiveSponsor, "exec-1", domain.DecisionApproved, "")
	if !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}
}

func TestRejectionAndRestart(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a5", 1)
	approve(t, env, a.ID, stage.RoleAreaLead, "area-1")

	res, err := env.Engine.SubmitValidation(env.Ctx, a.ID, stage.RoleTechnicalPrimary, "tech-1", domain.DecisionRejected, "missing evidence")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if res.Stage != string(stage.Rejected) {
		t.Fatalf("expected rejected, got %s", res.Stage)
	}
	view, err := env.Engine.GetSignoff(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if view.Process.RejectionReason != "missing evidence" {
		t.Fatalf("rejection reason not stored: %q", view.Process.RejectionReason)
	}

	// No submission is accepted while rejected.
	if _, err := env.Engine.SubmitValidation(env.Ctx, a.ID, stage.RoleTechnicalSecondary, "tech-2", domain.DecisionApproved, ""); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("expected precondition while rejected, got %v", err)
	}

	p, err := env.Engine.RestartSignoff(env.Ctx, a.ID, "tester")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p.Stage != string(stage.NotStarted) || p.RejectionReason != "" {
		t.Fatalf("restart left process at %s (%q)", p.Stage, p.RejectionReason)
	}

	// Restart is only reachable from rejected.
	if _, err := env.Engine.RestartSignoff(env.Ctx, a.ID, "tester"); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("expected precondition on double restart, got %v", err)
	}
}

func TestRestartDiscardsPriorCycleApprovals(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a5b", 1)

	// First cycle: the secondary technical validator approves before
	// the primary rejects the whole run.
	approve(t, env, a.ID, stage.RoleAreaLead, "area-1")
	approve(t, env, a.ID, stage.RoleTechnicalSecondary, "tech-2")
	if _, err := env.Engine.SubmitValidation(env.Ctx, a.ID, stage.RoleTechnicalPrimary, "tech-1", domain.DecisionRejected, "scope wrong"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	p, err := env.Engine.RestartSignoff(env.Ctx, a.ID, "tester")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	if p.Cycle != 2 {
		t.Fatalf("restart should open cycle 2, got %d", p.Cycle)
	}

	// Second cycle: the secondary's old approval must not carry over,
	// so a single fresh primary approval cannot complete the stage.
	approve(t, env, a.ID, stage.RoleAreaLead, "area-1")
	res := approve(t, env, a.ID, stage.RoleTechnicalPrimary, "tech-1")
	if res.StageCompleted {
		t.Fatalf("technical stage completed with one fresh approval, stage %s", res.Stage)
	}
	if res.Stage != string(stage.TechnicalInProgress) {
		t.Fatalf("expected %s, got %s", stage.TechnicalInProgress, res.Stage)
	}

	// Both fresh approvals complete it as usual.
	res = approve(t, env, a.ID, stage.RoleTechnicalSecondary, "tech-2")
	if !res.StageCompleted || res.Stage != string(stage.TechnicalComplete) {
		t.Fatalf("expected %s completed, got %s (completed=%v)", stage.TechnicalComplete, res.Stage, res.StageCompleted)
	}
}

func TestResubmissionOverwritesBeforeCompletion(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a6", 1)
	approve(t, env, a.ID, stage.RoleAreaLead, "area-1")
	approve(t, env, a.ID, stage.RoleTechnicalPrimary, "tech-1")

	// The primary revokes the approval before the secondary shows up.
	res, err := env.Engine.SubmitValidation(env.Ctx, a.ID, stage.RoleTechnicalPrimary, "tech-1", domain.DecisionRejected, "second thoughts")
	if err != nil {
		t.Fatal(err)
	}
	if res.Stage != string(stage.Rejected) {
		t.Fatalf("revocation should reject the process, got %s", res.Stage)
	}
	view, err := env.Engine.GetSignoff(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, r := range view.Records {
		if r.Role == string(stage.RoleTechnicalPrimary) {
			count++
			if r.Decision != domain.DecisionRejected {
				t.Fatalf("resubmission did not overwrite, decision %s", r.Decision)
			}
		}
	}
	if count != 1 {
		t.Fatalf("expected a single live record per role, got %d", count)
	}
}

func seedRegisters(t *testing.T, env testEnv, assessmentID string) {
	t.Helper()
	for _, s := range []domain.ScopeSelection{
		{AssessmentID: assessmentID, ItemID: "scope-1", Selected: true, Relevance: "core"},
		{AssessmentID: assessmentID, ItemID: "scope-2", Selected: true, Relevance: "edge"},
		{AssessmentID: assessmentID, ItemID: "scope-3", Selected: false},
	} {
		if _, err := env.Engine.UpsertScopeSelection(env.Ctx, s, "tester"); err != nil {
			t.Fatalf("seed scope: %v", err)
		}
	}
	for _, s := range []domain.StepResponse{
		{AssessmentID: assessmentID, StepID: "step-1", FitStatus: domain.FitStatusFit},
		{AssessmentID: assessmentID, StepID: "step-2", FitStatus: domain.FitStatusGap},
		{AssessmentID: assessmentID, StepID: "step-3", FitStatus: domain.FitStatusConfigure},
	} {
		if _, err := env.Engine.UpsertStepResponse(env.Ctx, s, "tester"); err != nil {
			t.Fatalf("seed step: %v", err)
		}
	}
	if _, err := env.Engine.UpsertGapResolution(env.Ctx, domain.GapResolution{AssessmentID: assessmentID, GapID: "gap-1", Resolution: "customize", Approved: true}, "tester"); err != nil {
		t.Fatalf("seed gap: %v", err)
	}
}

func TestSnapshotVersioningAndFingerprintStability(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a7", 1)
	seedRegisters(t, env, a.ID)

	s1, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "baseline", "tester")
	if err != nil {
		t.Fatalf("snapshot 1: %v", err)
	}
	s2, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "again", "tester")
	if err != nil {
		t.Fatalf("snapshot 2: %v", err)
	}
	if s1.Version != 1 || s2.Version != 2 {
		t.Fatalf("expected versions 1,2 got %d,%d", s1.Version, s2.Version)
	}
	if s1.Fingerprint != s2.Fingerprint {
		t.Fatalf("unmodified data changed fingerprint: %s vs %s", s1.Fingerprint, s2.Fingerprint)
	}
	if s1.Statistics.StepTotal != 3 || s1.Statistics.StepFit != 1 || s1.Statistics.ScopeSelected != 2 {
		t.Fatalf("unexpected statistics: %+v", s1.Statistics)
	}

	// An edit changes the fingerprint of the next version.
	if _, err := env.Engine.UpsertStepResponse(env.Ctx, domain.StepResponse{AssessmentID: a.ID, StepID: "step-2", FitStatus: domain.FitStatusFit}, "tester"); err != nil {
		t.Fatal(err)
	}
	s3, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "after fix", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if s3.Fingerprint == s2.Fingerprint {
		t.Fatal("edit did not change the fingerprint")
	}

	if _, err := env.Engine.VerifySnapshot(env.Ctx, a.ID, s3.Version); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestEmptyAssessmentSnapshotIsValid(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a8", 1)

	s, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "empty", "tester")
	if err != nil {
		t.Fatalf("empty snapshot should succeed: %v", err)
	}
	if s.Version != 1 || s.Statistics != (domain.SnapshotStatistics{}) {
		t.Fatalf("expected zeroed statistics at v1, got v%d %+v", s.Version, s.Statistics)
	}
}

func TestVerifySnapshotDetectsTampering(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a9", 1)
	seedRegisters(t, env, a.ID)
	s, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "baseline", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DB.Exec(`UPDATE snapshots SET payload_json=replace(payload_json,'core','edge') WHERE assessment_id=? AND version=?`, a.ID, s.Version); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.VerifySnapshot(env.Ctx, a.ID, s.Version); !errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("expected integrity error, got %v", err)
	}
}

func TestChangeRequestFreezesRisk(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a10", 1)
	seedRegisters(t, env, a.ID)
	base, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "baseline", "tester")
	if err != nil {
		t.Fatal(err)
	}

	cr, err := env.Engine.CreateChangeRequest(env.Ctx, engine.ChangeRequestOptions{
		AssessmentID:    a.ID,
		BaselineVersion: base.Version,
		Title:           "reopen gap",
		Unlocked: []domain.UnlockedEntity{
			{EntityType: domain.EntityGapResolution, EntityID: "gap-1"},
			{EntityType: domain.EntityScopeSelection, EntityID: "scope-1"},
		},
		ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create change request: %v", err)
	}
	if cr.RiskLevel != "high" {
		t.Fatalf("gap unlock must be high risk, got %s", cr.RiskLevel)
	}
	if cr.Breakdown[domain.EntityGapResolution] != 1 || cr.Breakdown[domain.EntityScopeSelection] != 1 {
		t.Fatalf("unexpected breakdown: %v", cr.Breakdown)
	}

	// Later edits must not alter the stored record.
	if _, err := env.Engine.UpsertGapResolution(env.Ctx, domain.GapResolution{AssessmentID: a.ID, GapID: "gap-1", Resolution: "standard", Approved: false}, "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetChangeRequest(env.Ctx, cr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RiskLevel != "high" {
		t.Fatalf("recorded risk drifted to %s", got.RiskLevel)
	}
}

func TestChangeRequestBaselineAndResolutionChecks(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a11", 1)
	seedRegisters(t, env, a.ID)
	base, err := env.Engine.CreateSnapshot(env.Ctx, a.ID, "baseline", "tester")
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.Engine.CreateChangeRequest(env.Ctx, engine.ChangeRequestOptions{
		AssessmentID:    a.ID,
		BaselineVersion: base.Version + 5,
		Title:           "bad baseline",
		Unlocked:        []domain.UnlockedEntity{{EntityType: domain.EntityScopeSelection, EntityID: "scope-1"}},
		ActorID:         "tester",
	})
	if !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("missing baseline should be a precondition error, got %v", err)
	}

	_, err = env.Engine.CreateChangeRequest(env.Ctx, engine.ChangeRequestOptions{
		AssessmentID:    a.ID,
		BaselineVersion: base.Version,
		Title:           "phantom entity",
		Unlocked:        []domain.UnlockedEntity{{EntityType: domain.EntityScopeSelection, EntityID: "no-such-item"}},
		ActorID:         "tester",
	})
	if !errors.Is(err, engine.ErrIntegrity) {
		t.Fatalf("unresolvable entity should be an integrity error, got %v", err)
	}
}

func TestCompletionLocksRegistersUntilUnlocked(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a12", 1)
	seedRegisters(t, env, a.ID)
	for _, step := range fullApproval {
		approve(t, env, a.ID, step.role, step.validator)
	}

	// Completion snapshot was captured automatically.
	snaps, err := env.Engine.ListSnapshots(env.Ctx, a.ID)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("expected one completion snapshot, got %d (%v)", len(snaps), err)
	}

	_, err = env.Engine.UpsertScopeSelection(env.Ctx, domain.ScopeSelection{AssessmentID: a.ID, ItemID: "scope-1", Selected: false}, "tester")
	if !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("locked edit should fail, got %v", err)
	}

	cr, err := env.Engine.CreateChangeRequest(env.Ctx, engine.ChangeRequestOptions{
		AssessmentID:    a.ID,
		BaselineVersion: snaps[0].Version,
		Title:           "drop scope-1",
		Unlocked:        []domain.UnlockedEntity{{EntityType: domain.EntityScopeSelection, EntityID: "scope-1"}},
		ActorID:         "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertScopeSelection(env.Ctx, domain.ScopeSelection{AssessmentID: a.ID, ItemID: "scope-1", Selected: false}, "tester"); err != nil {
		t.Fatalf("unlocked edit should pass: %v", err)
	}
	// Still locked for entities the request did not unlock.
	if _, err := env.Engine.UpsertScopeSelection(env.Ctx, domain.ScopeSelection{AssessmentID: a.ID, ItemID: "scope-2", Selected: false}, "tester"); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("other entities must stay locked, got %v", err)
	}

	if _, err := env.Engine.CloseChangeRequest(env.Ctx, cr.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertScopeSelection(env.Ctx, domain.ScopeSelection{AssessmentID: a.ID, ItemID: "scope-1", Selected: true}, "tester"); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("closing the request must relock, got %v", err)
	}
}

func seedSteps(t *testing.T, env testEnv, assessmentID string, statuses map[string]string) {
	t.Helper()
	for stepID, status := range statuses {
		if _, err := env.Engine.UpsertStepResponse(env.Ctx, domain.StepResponse{AssessmentID: assessmentID, StepID: stepID, FitStatus: status}, "tester"); err != nil {
			t.Fatalf("seed step %s: %v", stepID, err)
		}
		if _, err := env.Engine.UpsertScopeSelection(env.Ctx, domain.ScopeSelection{AssessmentID: assessmentID, ItemID: "item-" + stepID, Selected: true}, "tester"); err != nil {
			t.Fatalf("seed scope %s: %v", stepID, err)
		}
	}
}

func TestLinkPhasesAndCrossPhaseSummary(t *testing.T) {
	env := newTestEnv(t)
	p1 := newAssessment(t, env, "phase1", 1)
	p2 := newAssessment(t, env, "phase2", 2)

	// Phase 1: 10 responses, 6 FIT -> 60%.
	steps1 := map[string]string{}
	for i := 1; i <= 6; i++ {
		steps1[stepID(i)] = domain.FitStatusFit
	}
	steps1[stepID(7)] = domain.FitStatusGap
	steps1[stepID(8)] = domain.FitStatusGap
	steps1[stepID(9)] = domain.FitStatusConfigure
	steps1[stepID(10)] = domain.FitStatusConfigure
	seedSteps(t, env, p1.ID, steps1)

	// Phase 2: 10 responses, 8 FIT -> 80%, one id newly added.
	steps2 := map[string]string{}
	for i := 2; i <= 9; i++ {
		steps2[stepID(i)] = domain.FitStatusFit
	}
	steps2[stepID(10)] = domain.FitStatusGap
	steps2["step-new"] = domain.FitStatusConfigure
	seedSteps(t, env, p2.ID, steps2)

	link, err := env.Engine.LinkPhases(env.Ctx, p1.ID, p2.ID, "client-1", "tester")
	if err != nil {
		t.Fatalf("link phases: %v", err)
	}
	added := 0
	for _, c := range link.ClassificationDelta {
		if c.ChangeType == domain.ChangeAdded {
			added++
		}
	}
	if added != 1 {
		t.Fatalf("expected exactly one added classification record: got %d", added)
	}

	view, err := env.Engine.CrossPhaseSummary(env.Ctx, p1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(view.Links) != 1 || len(view.Summaries) != 2 {
		t.Fatalf("expected 1 link, 2 summaries: %d, %d", len(view.Links), len(view.Summaries))
	}
	for _, s := range view.Summaries {
		switch s.AssessmentID {
		case p1.ID:
			if s.FitRate != 60.0 {
				t.Fatalf("phase 1 FIT rate %v, want 60", s.FitRate)
			}
		case p2.ID:
			if s.FitRate != 80.0 {
				t.Fatalf("phase 2 FIT rate %v, want 80", s.FitRate)
			}
		}
	}
	found := false
	for _, in := range view.Insights {
		if strings.Contains(in, "improved") && strings.Contains(in, "+20.0 points") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a +20.0 points improvement insight, got %v", view.Insights)
	}
}

func TestLinkPhasesPreconditions(t *testing.T) {
	env := newTestEnv(t)
	p1 := newAssessment(t, env, "p1", 1)
	p2 := newAssessment(t, env, "p2", 2)

	if _, err := env.Engine.LinkPhases(env.Ctx, p1.ID, p1.ID, "client-1", "tester"); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("self-link must fail, got %v", err)
	}
	if _, err := env.Engine.LinkPhases(env.Ctx, p1.ID, p2.ID, "other-client", "tester"); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("foreign client must fail, got %v", err)
	}
	if _, err := env.Engine.LinkPhases(env.Ctx, p1.ID, p2.ID, "client-1", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.LinkPhases(env.Ctx, p1.ID, p2.ID, "client-1", "tester"); !errors.Is(err, engine.ErrPrecondition) {
		t.Fatalf("duplicate link must fail, got %v", err)
	}
}

func TestCrossPhaseSummaryWithoutLinks(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "alone", 1)

	view, err := env.Engine.CrossPhaseSummary(env.Ctx, a.ID)
	if err != nil {
		t.Fatalf("no links is not an error: %v", err)
	}
	if len(view.Insights) != 1 || !strings.Contains(view.Insights[0], "No linked phases") {
		t.Fatalf("expected the explicit empty message, got %v", view.Insights)
	}
}

func stepID(i int) string {
	return "step-" + string(rune('0'+i/10)) + string(rune('0'+i%10))
}

func TestEventTrail(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a13", 1)
	approve(t, env, a.ID, stage.RoleAreaLead, "area-1")

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 50, a.ID, "", "", "")
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]bool{}
	for _, e := range evts {
		types[e.Type] = true
	}
	for _, want := range []string{"assessment.created", "signoff.stage.entered", "signoff.validation.submitted", "signoff.stage.advanced"} {
		if !types[want] {
			t.Fatalf("missing event %s in %v", want, types)
		}
	}
}

func TestStageWriteConflictSurfacesAfterRetries(t *testing.T) {
	env := newTestEnv(t)
	a := newAssessment(t, env, "a14", 1)
	if _, err := env.Engine.Repo.GetSignoffProcess(env.Ctx, a.ID); err != nil {
		t.Fatal(err)
	}
	// A stale optimistic write is reported as a conflict by the repo.
	tx, err := env.Engine.DB.Begin()
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	p, err := env.Engine.Repo.GetSignoffProcessTx(env.Ctx, tx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	err = env.Engine.Repo.UpdateStageTx(env.Ctx, tx, p.ID, string(stage.AreaInProgress), string(stage.AreaComplete), "", env.Engine.Now().UTC().Format(time.RFC3339))
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected conflict on stale stage, got %v", err)
	}
}
