package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"gateline/internal/domain"
	"gateline/internal/events"
	"gateline/internal/stage"
)

// SubmitResult reports where the sign-off process landed after one
// submission. StageCompleted is true when this submission closed its
// stage; Signoff is the full process state after commit.
type SubmitResult struct {
	Stage          string `json:"stage"`
	StageCompleted bool   `json:"completed"`
	Record         domain.ValidationRecord
	Process        domain.SignoffProcess
}

// SubmitValidation accepts one validation submission and drives
// exactly one of three outcomes: lazy entry into the role's
// in-progress stage, rejection short-circuit, or approval with a
// completion check that re-reads every record for the stage inside
// the same transaction. Transient write conflicts are retried a
// bounded number of times.
func (e Engine) SubmitValidation(ctx context.Context, assessmentID string, role stage.Role, validatorID, decision, comment string) (SubmitResult, error) {
	if !stage.ValidRole(role) {
		return SubmitResult{}, fmt.Errorf("%w: unknown validator role %q", ErrPrecondition, role)
	}
	if decision != domain.DecisionApproved && decision != domain.DecisionRejected {
		return SubmitResult{}, fmt.Errorf("%w: decision must be approved or rejected", ErrPrecondition)
	}
	if validatorID == "" {
		return SubmitResult{}, fmt.Errorf("%w: validator id is required", ErrPrecondition)
	}
	var res SubmitResult
	err := e.withConflictRetry(func() error {
		var err error
		res, err = e.submitValidation(ctx, assessmentID, role, validatorID, decision, comment)
		return err
	})
	if err != nil {
		return res, err
	}
	if res.Stage == string(stage.Completed) && e.Config != nil && e.Config.Signoff.SnapshotOnCompletion {
		if _, snapErr := e.CreateSnapshot(ctx, assessmentID, "sign-off completed", validatorID); snapErr != nil {
			return res, fmt.Errorf("completion snapshot: %w", snapErr)
		}
	}
	return res, nil
}

func (e Engine) submitValidation(ctx context.Context, assessmentID string, role stage.Role, validatorID, decision, comment string) (SubmitResult, error) {
	rs, _ := stage.StageForRole(role)
	now := e.nowStr()

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SubmitResult{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetSignoffProcessTx(ctx, tx, assessmentID)
	if err != nil {
		return SubmitResult{}, err
	}
	cur := stage.Stage(p.Stage)

	// Lazy stage entry: the stage is entered on first submission, not
	// eagerly when the prior one completes.
	if cur == rs.EntryFrom {
		if err := e.Repo.UpdateStageTx(ctx, tx, p.ID, string(cur), string(rs.InProgress), "", now); err != nil {
			return SubmitResult{}, err
		}
		if err := e.Events.Append(ctx, tx, "signoff.stage.entered", assessmentID, "signoff_process", p.ID, validatorID, events.EventPayload{"from": string(cur), "to": string(rs.InProgress)}); err != nil {
			return SubmitResult{}, err
		}
		cur = rs.InProgress
	}
	if cur != rs.InProgress {
		return SubmitResult{}, fmt.Errorf("%w: role %s submits at stage %s, process is at %s", ErrPrecondition, role, rs.InProgress, cur)
	}

	rec := domain.ValidationRecord{
		ID:          uuid.NewString(),
		ProcessID:   p.ID,
		Role:        string(role),
		ValidatorID: validatorID,
		Decision:    decision,
		Comment:     comment,
		Cycle:       p.Cycle,
		SubmittedAt: now,
	}
	if err := e.Repo.UpsertValidationRecordTx(ctx, tx, rec); err != nil {
		return SubmitResult{}, fmt.Errorf("upsert validation record: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "signoff.validation.submitted", assessmentID, "validation_record", string(role), validatorID, events.EventPayload{"decision": decision, "stage": string(cur)}); err != nil {
		return SubmitResult{}, err
	}

	if decision == domain.DecisionRejected {
		if !stage.CanTransition(cur, stage.Rejected) {
			return SubmitResult{}, fmt.Errorf("%w: stage %s cannot reject", ErrPrecondition, cur)
		}
		if err := e.Repo.UpdateStageTx(ctx, tx, p.ID, string(cur), string(stage.Rejected), comment, now); err != nil {
			return SubmitResult{}, err
		}
		if err := e.Events.Append(ctx, tx, "signoff.rejected", assessmentID, "signoff_process", p.ID, validatorID, events.EventPayload{"stage": string(cur), "reason": comment}); err != nil {
			return SubmitResult{}, err
		}
		if err := tx.Commit(); err != nil {
			return SubmitResult{}, err
		}
		p.Stage = string(stage.Rejected)
		p.RejectionReason = comment
		p.UpdatedAt = now
		return SubmitResult{Stage: p.Stage, Record: rec, Process: p}, nil
	}

	// Re-read the full record set for the stage; never trust the
	// caller's view of who has approved.
	records, err := e.Repo.ListValidationRecordsTx(ctx, tx, p.ID)
	if err != nil {
		return SubmitResult{}, err
	}
	if !allApproved(records, stage.RolesForStage(cur), p.Cycle) {
		if err := tx.Commit(); err != nil {
			return SubmitResult{}, err
		}
		p.UpdatedAt = now
		return SubmitResult{Stage: string(cur), Record: rec, Process: p}, nil
	}

	if err := e.Repo.UpdateStageTx(ctx, tx, p.ID, string(cur), string(rs.Complete), "", now); err != nil {
		return SubmitResult{}, err
	}
	if err := e.Events.Append(ctx, tx, "signoff.stage.advanced", assessmentID, "signoff_process", p.ID, validatorID, events.EventPayload{"from": string(cur), "to": string(rs.Complete)}); err != nil {
		return SubmitResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return SubmitResult{}, err
	}
	p.Stage = string(rs.Complete)
	p.RejectionReason = ""
	p.UpdatedAt = now
	return SubmitResult{Stage: p.Stage, StageCompleted: true, Record: rec, Process: p}, nil
}

// allApproved checks every required role against the live records.
// Records stamped with an earlier cycle are leftovers from a rejected
// run and never count.
func allApproved(records []domain.ValidationRecord, roles []stage.Role, cycle int) bool {
	byRole := make(map[string]domain.ValidationRecord, len(records))
	for _, r := range records {
		if r.Cycle != cycle {
			continue
		}
		byRole[r.Role] = r
	}
	for _, role := range roles {
		r, ok := byRole[string(role)]
		if !ok || r.Decision != domain.DecisionApproved {
			return false
		}
	}
	return true
}

// RestartSignoff takes a rejected process back to not_started and
// opens a new cycle. Prior-cycle validation records stay for audit;
// they no longer count toward stage completion.
func (e Engine) RestartSignoff(ctx context.Context, assessmentID, actorID string) (domain.SignoffProcess, error) {
	var p domain.SignoffProcess
	err := e.withConflictRetry(func() error {
		now := e.nowStr()
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		p, err = e.Repo.GetSignoffProcessTx(ctx, tx, assessmentID)
		if err != nil {
			return err
		}
		if !stage.CanTransition(stage.Stage(p.Stage), stage.NotStarted) {
			return fmt.Errorf("%w: restart requires a rejected process, stage is %s", ErrPrecondition, p.Stage)
		}
		if err := e.Repo.RestartProcessTx(ctx, tx, p.ID, p.Stage, string(stage.NotStarted), now); err != nil {
			return err
		}
		if err := e.Events.Append(ctx, tx, "signoff.restarted", assessmentID, "signoff_process", p.ID, actorID, events.EventPayload{"cycle": p.Cycle + 1}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		p.Stage = string(stage.NotStarted)
		p.RejectionReason = ""
		p.Cycle++
		p.UpdatedAt = now
		return nil
	})
	return p, err
}

// SignoffView is the process together with its live validation
// records.
type SignoffView struct {
	Process domain.SignoffProcess     `json:"process"`
	Records []domain.ValidationRecord `json:"records"`
	Pending []string                  `json:"pending_roles"`
}

// GetSignoff returns the process, its validation records, and the
// roles still outstanding for the current stage.
func (e Engine) GetSignoff(ctx context.Context, assessmentID string) (SignoffView, error) {
	p, err := e.Repo.GetSignoffProcess(ctx, assessmentID)
	if err != nil {
		return SignoffView{}, err
	}
	records, err := e.Repo.ListValidationRecords(ctx, p.ID)
	if err != nil {
		return SignoffView{}, err
	}
	approved := map[string]bool{}
	for _, r := range records {
		if r.Cycle == p.Cycle && r.Decision == domain.DecisionApproved {
			approved[r.Role] = true
		}
	}
	var pending []string
	for _, role := range stage.RolesForStage(stage.Stage(p.Stage)) {
		if !approved[string(role)] {
			pending = append(pending, string(role))
		}
	}
	return SignoffView{Process: p, Records: records, Pending: pending}, nil
}
