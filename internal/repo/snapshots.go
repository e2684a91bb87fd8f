package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"gateline/internal/domain"
)

// NextSnapshotVersionTx reads the current max version inside the
// caller's transaction. Paired with the primary key on
// (assessment_id, version), concurrent captures cannot both claim the
// same number: the loser hits the key and surfaces ErrConflict.
func (r Repo) NextSnapshotVersionTx(ctx context.Context, tx *sql.Tx, assessmentID string) (int, error) {
	var max int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(version),0) FROM snapshots WHERE assessment_id=?`, assessmentID).Scan(&max)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r Repo) InsertSnapshotTx(ctx context.Context, tx *sql.Tx, s domain.Snapshot) error {
	stats, err := json.Marshal(s.Statistics)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(s.Payload)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO snapshots(assessment_id,version,reason,fingerprint,statistics_json,payload_json,created_by,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		s.AssessmentID, s.Version, nullable(s.Reason), s.Fingerprint, string(stats), string(payload), s.CreatedBy, s.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("snapshot version %d already captured: %w", s.Version, ErrConflict)
	}
	return err
}

func (r Repo) GetSnapshot(ctx context.Context, assessmentID string, version int) (domain.Snapshot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT assessment_id,version,COALESCE(reason,''),fingerprint,statistics_json,payload_json,created_by,created_at FROM snapshots WHERE assessment_id=? AND version=?`, assessmentID, version)
	return scanSnapshot(row.Scan)
}

func (r Repo) LatestSnapshot(ctx context.Context, assessmentID string) (domain.Snapshot, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT assessment_id,version,COALESCE(reason,''),fingerprint,statistics_json,payload_json,created_by,created_at FROM snapshots WHERE assessment_id=? ORDER BY version DESC LIMIT 1`, assessmentID)
	return scanSnapshot(row.Scan)
}

func scanSnapshot(scan func(dest ...any) error) (domain.Snapshot, error) {
	var s domain.Snapshot
	var stats, payload string
	err := scan(&s.AssessmentID, &s.Version, &s.Reason, &s.Fingerprint, &stats, &payload, &s.CreatedBy, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal([]byte(stats), &s.Statistics); err != nil {
		return s, fmt.Errorf("decode snapshot statistics: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &s.Payload); err != nil {
		return s, fmt.Errorf("decode snapshot payload: %w", err)
	}
	return s, nil
}

// ListSnapshots returns snapshot metadata without payloads, newest
// first.
func (r Repo) ListSnapshots(ctx context.Context, assessmentID string) ([]domain.Snapshot, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT assessment_id,version,COALESCE(reason,''),fingerprint,statistics_json,created_by,created_at FROM snapshots WHERE assessment_id=? ORDER BY version DESC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Snapshot
	for rows.Next() {
		var s domain.Snapshot
		var stats string
		if err := rows.Scan(&s.AssessmentID, &s.Version, &s.Reason, &s.Fingerprint, &stats, &s.CreatedBy, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(stats), &s.Statistics); err != nil {
			return nil, fmt.Errorf("decode snapshot statistics: %w", err)
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
