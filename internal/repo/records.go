package repo

import (
	"context"
	"database/sql"
	"fmt"

	"gateline/internal/domain"
)

// The register accessors below double as the snapshot source: Repo
// satisfies snapshot.Source.

func (r Repo) UpsertScopeSelectionTx(ctx context.Context, tx *sql.Tx, s domain.ScopeSelection) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO scope_selections(id,assessment_id,item_id,selected,relevance,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(assessment_id, item_id) DO UPDATE SET selected=excluded.selected, relevance=excluded.relevance, updated_at=excluded.updated_at`,
		s.ID, s.AssessmentID, s.ItemID, boolInt(s.Selected), nullable(s.Relevance), s.UpdatedAt)
	return err
}

func (r Repo) ScopeSelections(ctx context.Context, assessmentID string) ([]domain.ScopeSelection, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assessment_id,item_id,selected,COALESCE(relevance,''),updated_at FROM scope_selections WHERE assessment_id=? ORDER BY item_id ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScopeSelection
	for rows.Next() {
		var s domain.ScopeSelection
		var selected int
		if err := rows.Scan(&s.ID, &s.AssessmentID, &s.ItemID, &selected, &s.Relevance, &s.UpdatedAt); err != nil {
			return nil, err
		}
		s.Selected = selected != 0
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpsertStepResponseTx(ctx context.Context, tx *sql.Tx, s domain.StepResponse) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO step_responses(id,assessment_id,step_id,fit_status,notes,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(assessment_id, step_id) DO UPDATE SET fit_status=excluded.fit_status, notes=excluded.notes, updated_at=excluded.updated_at`,
		s.ID, s.AssessmentID, s.StepID, s.FitStatus, nullable(s.Notes), s.UpdatedAt)
	return err
}

func (r Repo) StepResponses(ctx context.Context, assessmentID string) ([]domain.StepResponse, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assessment_id,step_id,fit_status,COALESCE(notes,''),updated_at FROM step_responses WHERE assessment_id=? ORDER BY step_id ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StepResponse
	for rows.Next() {
		var s domain.StepResponse
		if err := rows.Scan(&s.ID, &s.AssessmentID, &s.StepID, &s.FitStatus, &s.Notes, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) UpsertGapResolutionTx(ctx context.Context, tx *sql.Tx, g domain.GapResolution) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO gap_resolutions(id,assessment_id,gap_id,resolution,approved,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(assessment_id, gap_id) DO UPDATE SET resolution=excluded.resolution, approved=excluded.approved, updated_at=excluded.updated_at`,
		g.ID, g.AssessmentID, g.GapID, nullable(g.Resolution), boolInt(g.Approved), g.UpdatedAt)
	return err
}

func (r Repo) GapResolutions(ctx context.Context, assessmentID string) ([]domain.GapResolution, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assessment_id,gap_id,COALESCE(resolution,''),approved,updated_at FROM gap_resolutions WHERE assessment_id=? ORDER BY gap_id ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GapResolution
	for rows.Next() {
		var g domain.GapResolution
		var approved int
		if err := rows.Scan(&g.ID, &g.AssessmentID, &g.GapID, &g.Resolution, &approved, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.Approved = approved != 0
		res = append(res, g)
	}
	return res, rows.Err()
}

func (r Repo) UpsertIntegrationPointTx(ctx context.Context, tx *sql.Tx, p domain.IntegrationPoint) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO integration_points(id,assessment_id,name,system,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, system=excluded.system, updated_at=excluded.updated_at`,
		p.ID, p.AssessmentID, p.Name, nullable(p.System), p.UpdatedAt)
	return err
}

func (r Repo) IntegrationPoints(ctx context.Context, assessmentID string) ([]domain.IntegrationPoint, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assessment_id,name,COALESCE(system,''),updated_at FROM integration_points WHERE assessment_id=? ORDER BY id ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IntegrationPoint
	for rows.Next() {
		var p domain.IntegrationPoint
		if err := rows.Scan(&p.ID, &p.AssessmentID, &p.Name, &p.System, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpsertMigrationObjectTx(ctx context.Context, tx *sql.Tx, m domain.MigrationObject) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO migration_objects(id,assessment_id,object_name,source_system,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET object_name=excluded.object_name, source_system=excluded.source_system, updated_at=excluded.updated_at`,
		m.ID, m.AssessmentID, m.ObjectName, nullable(m.SourceSystem), m.UpdatedAt)
	return err
}

func (r Repo) MigrationObjects(ctx context.Context, assessmentID string) ([]domain.MigrationObject, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assessment_id,object_name,COALESCE(source_system,''),updated_at FROM migration_objects WHERE assessment_id=? ORDER BY id ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.MigrationObject
	for rows.Next() {
		var m domain.MigrationObject
		if err := rows.Scan(&m.ID, &m.AssessmentID, &m.ObjectName, &m.SourceSystem, &m.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) UpsertOCMImpactTx(ctx context.Context, tx *sql.Tx, o domain.OCMImpact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ocm_impacts(id,assessment_id,area,severity,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET area=excluded.area, severity=excluded.severity, updated_at=excluded.updated_at`,
		o.ID, o.AssessmentID, o.Area, nullable(o.Severity), o.UpdatedAt)
	return err
}

func (r Repo) OCMImpacts(ctx context.Context, assessmentID string) ([]domain.OCMImpact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,assessment_id,area,COALESCE(severity,''),updated_at FROM ocm_impacts WHERE assessment_id=? ORDER BY id ASC`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OCMImpact
	for rows.Next() {
		var o domain.OCMImpact
		if err := rows.Scan(&o.ID, &o.AssessmentID, &o.Area, &o.Severity, &o.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

var registerTables = map[string]struct {
	table string
	key   string
}{
	domain.EntityScopeSelection:   {table: "scope_selections", key: "item_id"},
	domain.EntityStepResponse:     {table: "step_responses", key: "step_id"},
	domain.EntityGapResolution:    {table: "gap_resolutions", key: "gap_id"},
	domain.EntityIntegrationPoint: {table: "integration_points", key: "id"},
	domain.EntityMigrationObject:  {table: "migration_objects", key: "id"},
	domain.EntityOCMImpact:        {table: "ocm_impacts", key: "id"},
}

// EntityExists resolves an (entity type, entity id) reference within
// one assessment, matching either the row id or the register's
// natural key.
func (r Repo) EntityExists(ctx context.Context, entityType, entityID, assessmentID string) (bool, error) {
	spec, ok := registerTables[entityType]
	if !ok {
		return false, fmt.Errorf("unknown entity type %s", entityType)
	}
	query := fmt.Sprintf(`SELECT 1 FROM %s WHERE assessment_id=? AND (id=? OR %s=?) LIMIT 1`, spec.table, spec.key)
	var n int
	err := r.DB.QueryRowContext(ctx, query, assessmentID, entityID, entityID).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
