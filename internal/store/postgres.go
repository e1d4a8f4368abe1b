package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gso-insight/indicator-cli/internal/db"
	"github.com/gso-insight/indicator-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO document_runs (id, document, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_run_status": `UPDATE document_runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_report": `UPDATE document_runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, document, status, report, created_at, updated_at FROM document_runs WHERE id = $1`,
	"insert_phase":      `INSERT INTO document_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_phase":    `UPDATE document_phases SET status = $1, detail = $2 WHERE id = $3`,
	"get_indicator":     `SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated FROM indicator_records WHERE family = $1 AND province = $2 AND year = $3 AND quarter = $4 AND month = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS document_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	document   JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS document_phases (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES document_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	detail     TEXT,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS indicator_records (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	family       TEXT NOT NULL,
	province     TEXT NOT NULL,
	year         INTEGER NOT NULL,
	quarter      INTEGER NOT NULL DEFAULT 0,
	month        INTEGER NOT NULL DEFAULT 0,
	fields       JSONB NOT NULL,
	data_status  TEXT NOT NULL,
	data_source  TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMPTZ NOT NULL,
	UNIQUE (family, province, year, quarter, month)
);

CREATE INDEX IF NOT EXISTS idx_document_runs_status ON document_runs(status);
CREATE INDEX IF NOT EXISTS idx_document_phases_run_id ON document_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_indicator_records_series ON indicator_records(family, province, year, quarter, month);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, doc model.Document) (*model.DocumentRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal document")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO document_runs (id, document, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, docJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.DocumentRun{
		ID:        id,
		Document:  doc,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunReport(ctx context.Context, runID string, status model.RunStatus, report *model.ExtractionReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal report")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE document_runs SET report = $1, status = $2, updated_at = $3 WHERE id = $4`,
		reportJSON, string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run report %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.DocumentRun, error) {
	var r model.DocumentRun
	var docJSON []byte
	var reportNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, document, status, report, created_at, updated_at FROM document_runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &docJSON, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(docJSON, &r.Document); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal document")
	}
	if reportNull != nil {
		r.Report = &model.ExtractionReport{}
		if err := json.Unmarshal(*reportNull, r.Report); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal report")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DocumentRun, error) {
	query := `SELECT id, document, status, report, created_at, updated_at FROM document_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.SourceURL != "" {
		query += fmt.Sprintf(` AND document->>'source_url' = $%d`, argIdx)
		args = append(args, filter.SourceURL)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.DocumentRun
	for rows.Next() {
		var r model.DocumentRun
		var docJSON []byte
		var reportNull *[]byte

		if err := rows.Scan(&r.ID, &docJSON, &r.Status, &reportNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(docJSON, &r.Document); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal document")
		}
		if reportNull != nil {
			r.Report = &model.ExtractionReport{}
			if err := json.Unmarshal(*reportNull, r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO document_phases (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *PostgresStore) CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, detail string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE document_phases SET status = $1, detail = $2 WHERE id = $3`,
		string(status), detail, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete phase %s", phaseID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("phase not found: %s", phaseID)
	}
	return nil
}

// UpsertIndicator resolves the candidate against the stored record for the
// same period key inside a transaction. The existing row is locked with
// SELECT ... FOR UPDATE so concurrent merges for one key serialize. A lost
// insert race against a concurrent first writer is retried once against the
// now-visible row.
func (s *PostgresStore) UpsertIndicator(ctx context.Context, candidate model.IndicatorRecord, merge model.MergeFunc) (model.IndicatorRecord, model.MergeOutcome, error) {
	for attempt := 0; attempt < 2; attempt++ {
		merged, outcome, lostRace, err := s.upsertOnce(ctx, candidate, merge)
		if err != nil {
			return model.IndicatorRecord{}, model.MergeOutcome{}, err
		}
		if !lostRace {
			return merged, outcome, nil
		}
	}
	return model.IndicatorRecord{}, model.MergeOutcome{}, eris.Errorf("postgres: upsert indicator %s: concurrent insert race", candidate.Key.Label())
}

func (s *PostgresStore) upsertOnce(ctx context.Context, candidate model.IndicatorRecord, merge model.MergeFunc) (model.IndicatorRecord, model.MergeOutcome, bool, error) {
	var zero model.IndicatorRecord
	k := candidate.Key

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return zero, model.MergeOutcome{}, false, eris.Wrap(err, "postgres: upsert indicator: begin")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated
		 FROM indicator_records
		 WHERE family = $1 AND province = $2 AND year = $3 AND quarter = $4 AND month = $5
		 FOR UPDATE`,
		k.Family, k.Province, k.Year, k.Quarter, k.Month,
	)
	existing, err := scanIndicator(row)
	if err != nil {
		return zero, model.MergeOutcome{}, false, eris.Wrap(err, "postgres: upsert indicator: lock")
	}

	merged, outcome := merge(existing, candidate)
	if !outcome.Changed() {
		return merged, outcome, false, nil
	}

	fieldsJSON, err := json.Marshal(merged.Fields)
	if err != nil {
		return zero, model.MergeOutcome{}, false, eris.Wrap(err, "postgres: marshal fields")
	}

	if existing == nil {
		merged.ID = uuid.New().String()
		tag, err := tx.Exec(ctx,
			`INSERT INTO indicator_records (id, family, province, year, quarter, month, fields, data_status, data_source, last_updated)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 ON CONFLICT (family, province, year, quarter, month) DO NOTHING`,
			merged.ID, k.Family, k.Province, k.Year, k.Quarter, k.Month,
			fieldsJSON, string(merged.DataStatus), merged.DataSource, merged.LastUpdated,
		)
		if err != nil {
			return zero, model.MergeOutcome{}, false, eris.Wrap(err, "postgres: insert indicator")
		}
		if tag.RowsAffected() == 0 {
			// Another writer inserted the key between our empty lock
			// query and the insert.
			return zero, model.MergeOutcome{}, true, nil
		}
	} else {
		merged.ID = existing.ID
		if _, err := tx.Exec(ctx,
			`UPDATE indicator_records SET fields = $1, data_status = $2, data_source = $3, last_updated = $4 WHERE id = $5`,
			fieldsJSON, string(merged.DataStatus), merged.DataSource, merged.LastUpdated, merged.ID,
		); err != nil {
			return zero, model.MergeOutcome{}, false, eris.Wrap(err, "postgres: update indicator")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return zero, model.MergeOutcome{}, false, eris.Wrap(err, "postgres: upsert indicator: commit")
	}
	return merged, outcome, false, nil
}

func (s *PostgresStore) GetIndicator(ctx context.Context, key model.PeriodKey) (*model.IndicatorRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated
		 FROM indicator_records
		 WHERE family = $1 AND province = $2 AND year = $3 AND quarter = $4 AND month = $5`,
		key.Family, key.Province, key.Year, key.Quarter, key.Month,
	)
	rec, err := scanIndicator(row)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get indicator")
	}
	return rec, nil
}

func (s *PostgresStore) ListIndicators(ctx context.Context, filter IndicatorFilter) ([]model.IndicatorRecord, error) {
	query := `SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated FROM indicator_records WHERE true`
	args := []any{}
	argIdx := 1

	add := func(clause string, val any) {
		query += fmt.Sprintf(clause, argIdx)
		args = append(args, val)
		argIdx++
	}

	if filter.Family != "" {
		add(` AND family = $%d`, filter.Family)
	}
	if filter.Province != "" {
		add(` AND province = $%d`, filter.Province)
	}
	if filter.Year != 0 {
		add(` AND year = $%d`, filter.Year)
	}
	if filter.Quarter != 0 || filter.ExactPeriod {
		add(` AND quarter = $%d`, filter.Quarter)
	}
	if filter.Month != 0 || filter.ExactPeriod {
		add(` AND month = $%d`, filter.Month)
	}
	if filter.Status != "" {
		add(` AND data_status = $%d`, string(filter.Status))
	}
	query += ` ORDER BY family, province, year, quarter, month`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	add(` LIMIT $%d`, limit)
	if filter.Offset > 0 {
		add(` OFFSET $%d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list indicators")
	}
	defer rows.Close()

	var records []model.IndicatorRecord
	for rows.Next() {
		rec, err := scanIndicator(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan indicator")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list indicators iterate")
}

// ImportIndicators bulk-loads records, replacing whatever is stored for
// each period key. It bypasses the merge policy: imports are trusted
// administrative backfills, not extractions.
func (s *PostgresStore) ImportIndicators(ctx context.Context, records []model.IndicatorRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	rows := make([][]any, 0, len(records))
	now := time.Now().UTC()
	for i, rec := range records {
		if rec.Key.Family == "" || rec.Key.Year == 0 {
			return 0, eris.Errorf("postgres: import indicators: record %d has incomplete period key", i)
		}
		if !rec.DataStatus.Valid() {
			return 0, eris.Errorf("postgres: import indicators: record %d has invalid data status %q", i, rec.DataStatus)
		}
		fieldsJSON, err := json.Marshal(rec.Fields)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: import indicators: marshal record %d", i)
		}
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		updated := rec.LastUpdated
		if updated.IsZero() {
			updated = now
		}
		rows = append(rows, []any{
			id, rec.Key.Family, rec.Key.Province, rec.Key.Year, rec.Key.Quarter, rec.Key.Month,
			string(fieldsJSON), string(rec.DataStatus), rec.DataSource, updated,
		})
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "indicator_records",
		Columns:      []string{"id", "family", "province", "year", "quarter", "month", "fields", "data_status", "data_source", "last_updated"},
		ConflictKeys: []string{"family", "province", "year", "quarter", "month"},
		UpdateCols:   []string{"fields", "data_status", "data_source", "last_updated"},
	}, rows)
}

// scanIndicator reads one indicator row. Returns (nil, nil) on no rows so
// callers can treat absence as "no existing record".
func scanIndicator(row pgx.Row) (*model.IndicatorRecord, error) {
	var rec model.IndicatorRecord
	var fieldsJSON []byte

	err := row.Scan(
		&rec.ID, &rec.Key.Family, &rec.Key.Province, &rec.Key.Year, &rec.Key.Quarter, &rec.Key.Month,
		&fieldsJSON, &rec.DataStatus, &rec.DataSource, &rec.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal fields")
	}
	return &rec, nil
}
