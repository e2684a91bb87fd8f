package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gateline/internal/domain"
)

func (r Repo) InsertSignoffProcess(ctx context.Context, tx *sql.Tx, p domain.SignoffProcess) error {
	if p.Cycle == 0 {
		p.Cycle = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO signoff_processes(id,assessment_id,stage,rejection_reason,cycle,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.AssessmentID, p.Stage, nullable(p.RejectionReason), p.Cycle, p.CreatedAt, p.UpdatedAt)
	return err
}

func scanProcess(scan func(dest ...any) error) (domain.SignoffProcess, error) {
	var p domain.SignoffProcess
	var reason sql.NullString
	err := scan(&p.ID, &p.AssessmentID, &p.Stage, &reason, &p.Cycle, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if reason.Valid {
		p.RejectionReason = reason.String
	}
	return p, nil
}

const processCols = `id,assessment_id,stage,rejection_reason,cycle,created_at,updated_at`

func (r Repo) GetSignoffProcess(ctx context.Context, assessmentID string) (domain.SignoffProcess, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+processCols+` FROM signoff_processes WHERE assessment_id=?`, assessmentID)
	return scanProcess(row.Scan)
}

func (r Repo) GetSignoffProcessTx(ctx context.Context, tx *sql.Tx, assessmentID string) (domain.SignoffProcess, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+processCols+` FROM signoff_processes WHERE assessment_id=?`, assessmentID)
	return scanProcess(row.Scan)
}

// UpdateStageTx writes the new stage guarded by an optimistic check on
// the stage read earlier in the same transaction: if another writer
// moved the process first, zero rows match and ErrConflict surfaces.
func (r Repo) UpdateStageTx(ctx context.Context, tx *sql.Tx, processID, fromStage, toStage, rejectionReason, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE signoff_processes SET stage=?, rejection_reason=?, updated_at=? WHERE id=? AND stage=?`,
		toStage, nullable(rejectionReason), now, processID, fromStage)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage moved away from %s: %w", fromStage, ErrConflict)
	}
	return nil
}

// RestartProcessTx resets a process to the starting stage and opens a
// new cycle, so records stamped with earlier cycles stop counting
// toward completion. Same optimistic guard as UpdateStageTx.
func (r Repo) RestartProcessTx(ctx context.Context, tx *sql.Tx, processID, fromStage, toStage, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE signoff_processes SET stage=?, rejection_reason=NULL, cycle=cycle+1, updated_at=? WHERE id=? AND stage=?`,
		toStage, now, processID, fromStage)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("stage moved away from %s: %w", fromStage, ErrConflict)
	}
	return nil
}

// UpsertValidationRecordTx keeps at most one live record per
// (process, role); resubmission overwrites, including records left
// over from earlier cycles.
func (r Repo) UpsertValidationRecordTx(ctx context.Context, tx *sql.Tx, v domain.ValidationRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO validation_records(id,process_id,role,validator_id,decision,comment,cycle,submitted_at) VALUES (?,?,?,?,?,?,?,?)
ON CONFLICT(process_id, role) DO UPDATE SET validator_id=excluded.validator_id, decision=excluded.decision, comment=excluded.comment, cycle=excluded.cycle, submitted_at=excluded.submitted_at`,
		v.ID, v.ProcessID, v.Role, v.ValidatorID, v.Decision, nullable(v.Comment), v.Cycle, v.SubmittedAt)
	return err
}

func scanValidationRecord(scan func(dest ...any) error) (domain.ValidationRecord, error) {
	var v domain.ValidationRecord
	var comment sql.NullString
	err := scan(&v.ID, &v.ProcessID, &v.Role, &v.ValidatorID, &v.Decision, &comment, &v.Cycle, &v.SubmittedAt)
	if err == sql.ErrNoRows {
		return v, ErrNotFound
	}
	if err != nil {
		return v, err
	}
	if comment.Valid {
		v.Comment = comment.String
	}
	return v, nil
}

const validationCols = `id,process_id,role,validator_id,decision,comment,cycle,submitted_at`

func (r Repo) ListValidationRecords(ctx context.Context, processID string) ([]domain.ValidationRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+validationCols+` FROM validation_records WHERE process_id=? ORDER BY submitted_at ASC, id ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectValidationRecords(rows)
}

// ListValidationRecordsTx re-reads the live records inside the
// caller's transaction. Stage completion must use this view, not the
// caller's earlier one.
func (r Repo) ListValidationRecordsTx(ctx context.Context, tx *sql.Tx, processID string) ([]domain.ValidationRecord, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+validationCols+` FROM validation_records WHERE process_id=? ORDER BY submitted_at ASC, id ASC`, processID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectValidationRecords(rows)
}

func collectValidationRecords(rows *sql.Rows) ([]domain.ValidationRecord, error) {
	var res []domain.ValidationRecord
	for rows.Next() {
		v, err := scanValidationRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
