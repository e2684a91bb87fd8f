package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gateline/internal/config"
	"gateline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// ErrConflict marks unique-key violations and transient serialization
// failures surfaced from the datastore.
var ErrConflict = errors.New("conflict")

func (r Repo) EnsureClient(ctx context.Context, tx *sql.Tx, id, name, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO clients(id,name,created_at) VALUES (?,?,?) ON CONFLICT(id) DO NOTHING`, id, name, now)
	return err
}

func (r Repo) GetClient(ctx context.Context, id string) (domain.Client, error) {
	var c domain.Client
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM clients ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpsertClientConfig(ctx context.Context, clientID string, cfg *config.Config) error {
	return upsertClientConfig(ctx, r.DB, nil, clientID, cfg)
}

func (r Repo) UpsertClientConfigTx(ctx context.Context, tx *sql.Tx, clientID string, cfg *config.Config) error {
	return upsertClientConfig(ctx, nil, tx, clientID, cfg)
}

func upsertClientConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, clientID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Client.ID = clientID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO client_configs(client_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(client_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, clientID, string(payload), now, now)
	return err
}

func (r Repo) GetClientConfig(ctx context.Context, clientID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM client_configs WHERE client_id=?`, clientID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Client.ID == "" {
		cfg.Client.ID = clientID
	}
	return &cfg, cfg.Validate()
}

func (r Repo) InsertAssessment(ctx context.Context, tx *sql.Tx, a domain.Assessment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assessments(id,client_id,name,phase,status,description,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ClientID, a.Name, nullableInt(a.Phase), a.Status, nullable(a.Description), a.CreatedAt)
	return err
}

func scanAssessment(scan func(dest ...any) error) (domain.Assessment, error) {
	var a domain.Assessment
	var phase sql.NullInt64
	var desc sql.NullString
	err := scan(&a.ID, &a.ClientID, &a.Name, &phase, &a.Status, &desc, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if phase.Valid {
		a.Phase = int(phase.Int64)
	}
	if desc.Valid {
		a.Description = desc.String
	}
	return a, nil
}

const assessmentCols = `id,client_id,name,phase,status,description,created_at`

func (r Repo) GetAssessment(ctx context.Context, id string) (domain.Assessment, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assessmentCols+` FROM assessments WHERE id=?`, id)
	return scanAssessment(row.Scan)
}

func (r Repo) GetAssessmentTx(ctx context.Context, tx *sql.Tx, id string) (domain.Assessment, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+assessmentCols+` FROM assessments WHERE id=?`, id)
	return scanAssessment(row.Scan)
}

func (r Repo) ListAssessments(ctx context.Context, clientID string) ([]domain.Assessment, error) {
	query := `SELECT ` + assessmentCols + ` FROM assessments`
	var args []any
	if clientID != "" {
		query += ` WHERE client_id=?`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) LatestEvents(ctx context.Context, limit int, assessmentID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if assessmentID != "" {
		clauses = append(clauses, "assessment_id=?")
		args = append(args, assessmentID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(assessment_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.AssessmentID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt(v int) any {
	if v == 0 {
		return nil
	}
	return v
}
