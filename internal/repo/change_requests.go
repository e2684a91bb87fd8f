package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gateline/internal/domain"
)

func (r Repo) InsertChangeRequestTx(ctx context.Context, tx *sql.Tx, cr domain.ChangeRequest) error {
	breakdown, err := json.Marshal(cr.Breakdown)
	if err != nil {
		return err
	}
	unlocked, err := json.Marshal(cr.Unlocked)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO change_requests(id,assessment_id,baseline_version,title,reason,status,risk_level,breakdown_json,unlocked_json,created_by,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		cr.ID, cr.AssessmentID, cr.BaselineVersion, cr.Title, nullable(cr.Reason), cr.Status, cr.RiskLevel, string(breakdown), string(unlocked), cr.CreatedBy, cr.CreatedAt)
	return err
}

const changeRequestCols = `id,assessment_id,baseline_version,title,COALESCE(reason,''),status,risk_level,breakdown_json,unlocked_json,created_by,created_at`

func scanChangeRequest(scan func(dest ...any) error) (domain.ChangeRequest, error) {
	var cr domain.ChangeRequest
	var breakdown, unlocked string
	err := scan(&cr.ID, &cr.AssessmentID, &cr.BaselineVersion, &cr.Title, &cr.Reason, &cr.Status, &cr.RiskLevel, &breakdown, &unlocked, &cr.CreatedBy, &cr.CreatedAt)
	if err == sql.ErrNoRows {
		return cr, ErrNotFound
	}
	if err != nil {
		return cr, err
	}
	if err := json.Unmarshal([]byte(breakdown), &cr.Breakdown); err != nil {
		return cr, fmt.Errorf("decode change request breakdown: %w", err)
	}
	if err := json.Unmarshal([]byte(unlocked), &cr.Unlocked); err != nil {
		return cr, fmt.Errorf("decode change request unlocks: %w", err)
	}
	return cr, nil
}

func (r Repo) GetChangeRequest(ctx context.Context, id string) (domain.ChangeRequest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+changeRequestCols+` FROM change_requests WHERE id=?`, id)
	return scanChangeRequest(row.Scan)
}

func (r Repo) ListChangeRequests(ctx context.Context, assessmentID string) ([]domain.ChangeRequest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+changeRequestCols+` FROM change_requests WHERE assessment_id=? ORDER BY created_at DESC, id DESC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ChangeRequest
	for rows.Next() {
		cr, err := scanChangeRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, cr)
	}
	return res, rows.Err()
}

func (r Repo) SetChangeRequestStatus(ctx context.Context, tx *sql.Tx, id, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE change_requests SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// HasOpenUnlock reports whether any open change request for the
// assessment unlocks the given entity.
func (r Repo) HasOpenUnlock(ctx context.Context, assessmentID, entityType, entityID string) (bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT unlocked_json FROM change_requests WHERE assessment_id=? AND status=?`, assessmentID, domain.ChangeRequestOpen)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return false, err
		}
		var unlocked []domain.UnlockedEntity
		if err := json.Unmarshal([]byte(raw), &unlocked); err != nil {
			return false, fmt.Errorf("decode change request unlocks: %w", err)
		}
		for _, u := range unlocked {
			if u.EntityType == entityType && u.EntityID == entityID {
				return true, nil
			}
		}
	}
	return false, rows.Err()
}
