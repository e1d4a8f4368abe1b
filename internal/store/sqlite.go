package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gso-insight/indicator-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	// Upserts take an explicit write lock on a dedicated connection, so a
	// single connection avoids table-lock contention with the pool.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS document_runs (
	id         TEXT PRIMARY KEY,
	document   TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	report     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS document_phases (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES document_runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	detail     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS indicator_records (
	id           TEXT PRIMARY KEY,
	family       TEXT NOT NULL,
	province     TEXT NOT NULL,
	year         INTEGER NOT NULL,
	quarter      INTEGER NOT NULL DEFAULT 0,
	month        INTEGER NOT NULL DEFAULT 0,
	fields       TEXT NOT NULL,
	data_status  TEXT NOT NULL,
	data_source  TEXT NOT NULL DEFAULT '',
	last_updated DATETIME NOT NULL,
	UNIQUE (family, province, year, quarter, month)
);

CREATE INDEX IF NOT EXISTS idx_document_runs_status ON document_runs(status);
CREATE INDEX IF NOT EXISTS idx_document_phases_run_id ON document_phases(run_id);
CREATE INDEX IF NOT EXISTS idx_indicator_records_series ON indicator_records(family, province, year, quarter, month);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, doc model.Document) (*model.DocumentRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal document")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO document_runs (id, document, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, string(docJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.DocumentRun{
		ID:        id,
		Document:  doc,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunReport(ctx context.Context, runID string, status model.RunStatus, report *model.ExtractionReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal report")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE document_runs SET report = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(reportJSON), string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run report %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.DocumentRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, document, status, report, created_at, updated_at FROM document_runs WHERE id = ?`,
		runID,
	)
	return scanRun(row)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.DocumentRun, error) {
	query := `SELECT id, document, status, report, created_at, updated_at FROM document_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.SourceURL != "" {
		query += ` AND json_extract(document, '$.source_url') = ?`
		args = append(args, filter.SourceURL)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.DocumentRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO document_phases (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.PhaseStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert phase for run %s", runID)
	}

	return &model.RunPhase{
		ID:        id,
		RunID:     runID,
		Name:      name,
		Status:    model.PhaseStatusRunning,
		StartedAt: now,
	}, nil
}

func (s *SQLiteStore) CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, detail string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE document_phases SET status = ?, detail = ? WHERE id = ?`,
		string(status), detail, phaseID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete phase %s", phaseID)
	}
	return checkRowsAffected(res, "phase", phaseID)
}

// UpsertIndicator resolves the candidate against the stored record for the
// same period key. BEGIN IMMEDIATE takes the write lock up front so the
// read-merge-write cycle is serialized across connections.
func (s *SQLiteStore) UpsertIndicator(ctx context.Context, candidate model.IndicatorRecord, merge model.MergeFunc) (model.IndicatorRecord, model.MergeOutcome, error) {
	var zero model.IndicatorRecord
	k := candidate.Key

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: upsert indicator: conn")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: upsert indicator: begin")
	}
	committed := false
	defer func() {
		if !committed {
			conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK")
		}
	}()

	row := conn.QueryRowContext(ctx,
		`SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated
		 FROM indicator_records
		 WHERE family = ? AND province = ? AND year = ? AND quarter = ? AND month = ?`,
		k.Family, k.Province, k.Year, k.Quarter, k.Month,
	)
	existing, err := scanIndicatorSQL(row)
	if err != nil {
		return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: upsert indicator: lookup")
	}

	merged, outcome := merge(existing, candidate)
	if !outcome.Changed() {
		return merged, outcome, nil
	}

	fieldsJSON, err := json.Marshal(merged.Fields)
	if err != nil {
		return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: marshal fields")
	}

	if existing == nil {
		merged.ID = uuid.New().String()
		_, err = conn.ExecContext(ctx,
			`INSERT INTO indicator_records (id, family, province, year, quarter, month, fields, data_status, data_source, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			merged.ID, k.Family, k.Province, k.Year, k.Quarter, k.Month,
			string(fieldsJSON), string(merged.DataStatus), merged.DataSource, merged.LastUpdated,
		)
		if err != nil {
			return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: insert indicator")
		}
	} else {
		merged.ID = existing.ID
		_, err = conn.ExecContext(ctx,
			`UPDATE indicator_records SET fields = ?, data_status = ?, data_source = ?, last_updated = ? WHERE id = ?`,
			string(fieldsJSON), string(merged.DataStatus), merged.DataSource, merged.LastUpdated, merged.ID,
		)
		if err != nil {
			return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: update indicator")
		}
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return zero, model.MergeOutcome{}, eris.Wrap(err, "sqlite: upsert indicator: commit")
	}
	committed = true
	return merged, outcome, nil
}

func (s *SQLiteStore) GetIndicator(ctx context.Context, key model.PeriodKey) (*model.IndicatorRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated
		 FROM indicator_records
		 WHERE family = ? AND province = ? AND year = ? AND quarter = ? AND month = ?`,
		key.Family, key.Province, key.Year, key.Quarter, key.Month,
	)
	rec, err := scanIndicatorSQL(row)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get indicator")
	}
	return rec, nil
}

func (s *SQLiteStore) ListIndicators(ctx context.Context, filter IndicatorFilter) ([]model.IndicatorRecord, error) {
	query := `SELECT id, family, province, year, quarter, month, fields, data_status, data_source, last_updated FROM indicator_records WHERE 1=1`
	var args []any

	if filter.Family != "" {
		query += ` AND family = ?`
		args = append(args, filter.Family)
	}
	if filter.Province != "" {
		query += ` AND province = ?`
		args = append(args, filter.Province)
	}
	if filter.Year != 0 {
		query += ` AND year = ?`
		args = append(args, filter.Year)
	}
	if filter.Quarter != 0 || filter.ExactPeriod {
		query += ` AND quarter = ?`
		args = append(args, filter.Quarter)
	}
	if filter.Month != 0 || filter.ExactPeriod {
		query += ` AND month = ?`
		args = append(args, filter.Month)
	}
	if filter.Status != "" {
		query += ` AND data_status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY family, province, year, quarter, month`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list indicators")
	}
	defer rows.Close()

	var records []model.IndicatorRecord
	for rows.Next() {
		rec, err := scanIndicatorSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan indicator")
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list indicators iterate")
}

// ImportIndicators bulk-loads records, replacing whatever is stored for
// each period key. Imports bypass the merge policy.
func (s *SQLiteStore) ImportIndicators(ctx context.Context, records []model.IndicatorRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import indicators: begin")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	var n int64
	for i, rec := range records {
		if rec.Key.Family == "" || rec.Key.Year == 0 {
			return 0, eris.Errorf("sqlite: import indicators: record %d has incomplete period key", i)
		}
		if !rec.DataStatus.Valid() {
			return 0, eris.Errorf("sqlite: import indicators: record %d has invalid data status %q", i, rec.DataStatus)
		}
		fieldsJSON, err := json.Marshal(rec.Fields)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import indicators: marshal record %d", i)
		}
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		updated := rec.LastUpdated
		if updated.IsZero() {
			updated = now
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO indicator_records (id, family, province, year, quarter, month, fields, data_status, data_source, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (family, province, year, quarter, month)
			 DO UPDATE SET fields = excluded.fields, data_status = excluded.data_status, data_source = excluded.data_source, last_updated = excluded.last_updated`,
			id, rec.Key.Family, rec.Key.Province, rec.Key.Year, rec.Key.Quarter, rec.Key.Month,
			string(fieldsJSON), string(rec.DataStatus), rec.DataSource, updated,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import indicators: record %d", i)
		}
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import indicators: commit")
	}
	return n, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.DocumentRun, error) {
	var r model.DocumentRun
	var docJSON string
	var reportJSON sql.NullString

	err := row.Scan(&r.ID, &docJSON, &r.Status, &reportJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(docJSON), &r.Document); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal document")
	}
	if reportJSON.Valid {
		r.Report = &model.ExtractionReport{}
		if err := json.Unmarshal([]byte(reportJSON.String), r.Report); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal report")
		}
	}
	return &r, nil
}

func scanIndicatorSQL(row scannable) (*model.IndicatorRecord, error) {
	var rec model.IndicatorRecord
	var fieldsJSON string

	err := row.Scan(
		&rec.ID, &rec.Key.Family, &rec.Key.Province, &rec.Key.Year, &rec.Key.Quarter, &rec.Key.Month,
		&fieldsJSON, &rec.DataStatus, &rec.DataSource, &rec.LastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
		return nil, eris.Wrap(err, "unmarshal fields")
	}
	return &rec, nil
}
