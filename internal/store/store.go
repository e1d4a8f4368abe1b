// Package store persists indicator records and document run audit trails.
// Two drivers are supported: Postgres (pgxpool) and SQLite (modernc).
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/gso-insight/indicator-cli/internal/model"
)

// RunFilter specifies criteria for listing document runs.
type RunFilter struct {
	Status    model.RunStatus `json:"status,omitempty"`
	SourceURL string          `json:"source_url,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// IndicatorFilter specifies criteria for listing indicator records.
// Zero values mean "any". Quarter and Month filter on the stored
// dimension, where 0 marks a coarser period, so callers that want
// annual records only should set ExactPeriod.
type IndicatorFilter struct {
	Family      string           `json:"family,omitempty"`
	Province    string           `json:"province,omitempty"`
	Year        int              `json:"year,omitempty"`
	Quarter     int              `json:"quarter,omitempty"`
	Month       int              `json:"month,omitempty"`
	Status      model.DataStatus `json:"status,omitempty"`
	ExactPeriod bool             `json:"exact_period,omitempty"`
	Limit       int              `json:"limit,omitempty"`
	Offset      int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Document runs
	CreateRun(ctx context.Context, doc model.Document) (*model.DocumentRun, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	UpdateRunReport(ctx context.Context, runID string, status model.RunStatus, report *model.ExtractionReport) error
	GetRun(ctx context.Context, runID string) (*model.DocumentRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.DocumentRun, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, detail string) error

	// Indicator records. UpsertIndicator runs merge inside the per-key
	// critical section and persists the result; GetIndicator returns
	// (nil, nil) when no record exists for the key.
	UpsertIndicator(ctx context.Context, candidate model.IndicatorRecord, merge model.MergeFunc) (model.IndicatorRecord, model.MergeOutcome, error)
	GetIndicator(ctx context.Context, key model.PeriodKey) (*model.IndicatorRecord, error)
	ListIndicators(ctx context.Context, filter IndicatorFilter) ([]model.IndicatorRecord, error)
	ImportIndicators(ctx context.Context, records []model.IndicatorRecord) (int64, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open constructs a Store for the configured driver.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "postgres":
		return NewPostgres(ctx, dsn, nil)
	case "sqlite":
		return NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
}
