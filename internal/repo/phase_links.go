package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"gateline/internal/domain"
)

func (r Repo) InsertPhaseLinkTx(ctx context.Context, tx *sql.Tx, l domain.PhaseLink) error {
	scope, err := json.Marshal(l.ScopeDelta)
	if err != nil {
		return err
	}
	classification, err := json.Marshal(l.ClassificationDelta)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO phase_links(id,client_id,phase1_assessment_id,phase2_assessment_id,scope_delta_json,classification_delta_json,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		l.ID, l.ClientID, l.Phase1AssessmentID, l.Phase2AssessmentID, string(scope), string(classification), l.CreatedBy, l.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("phase pair already linked: %w", ErrConflict)
	}
	return err
}

const phaseLinkCols = `id,client_id,phase1_assessment_id,phase2_assessment_id,scope_delta_json,classification_delta_json,created_by,created_at`

func scanPhaseLink(scan func(dest ...any) error) (domain.PhaseLink, error) {
	var l domain.PhaseLink
	var scope, classification string
	err := scan(&l.ID, &l.ClientID, &l.Phase1AssessmentID, &l.Phase2AssessmentID, &scope, &classification, &l.CreatedBy, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if err := json.Unmarshal([]byte(scope), &l.ScopeDelta); err != nil {
		return l, fmt.Errorf("decode scope delta: %w", err)
	}
	if err := json.Unmarshal([]byte(classification), &l.ClassificationDelta); err != nil {
		return l, fmt.Errorf("decode classification delta: %w", err)
	}
	return l, nil
}

func (r Repo) GetPhaseLink(ctx context.Context, id string) (domain.PhaseLink, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+phaseLinkCols+` FROM phase_links WHERE id=?`, id)
	return scanPhaseLink(row.Scan)
}

func (r Repo) GetPhaseLinkByPair(ctx context.Context, phase1ID, phase2ID string) (domain.PhaseLink, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+phaseLinkCols+` FROM phase_links WHERE phase1_assessment_id=? AND phase2_assessment_id=?`, phase1ID, phase2ID)
	return scanPhaseLink(row.Scan)
}

// ListPhaseLinks returns every link the assessment participates in,
// either side.
func (r Repo) ListPhaseLinks(ctx context.Context, assessmentID string) ([]domain.PhaseLink, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+phaseLinkCols+` FROM phase_links WHERE phase1_assessment_id=? OR phase2_assessment_id=? ORDER BY created_at ASC, id ASC`, assessmentID, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PhaseLink
	for rows.Next() {
		l, err := scanPhaseLink(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}
