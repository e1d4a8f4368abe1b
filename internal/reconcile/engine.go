package reconcile

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/model"
)

// Upserter is the slice of the storage layer the engine needs: an
// atomic read-merge-write per period key.
type Upserter interface {
	UpsertIndicator(ctx context.Context, candidate model.IndicatorRecord, merge model.MergeFunc) (model.IndicatorRecord, model.MergeOutcome, error)
}

// Engine applies the merge policy through the store.
type Engine struct {
	store Upserter
	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewEngine returns a reconciliation engine over the given store.
func NewEngine(store Upserter) *Engine {
	return &Engine{store: store, nowFunc: time.Now}
}

// Reconcile merges one candidate record into storage and returns the
// persisted record plus what the merge did. LastUpdated is stamped here
// so the policy function stays pure.
func (e *Engine) Reconcile(ctx context.Context, candidate model.IndicatorRecord) (model.IndicatorRecord, model.MergeOutcome, error) {
	if !candidate.DataStatus.Valid() {
		return model.IndicatorRecord{}, model.MergeOutcome{}, eris.Errorf(
			"reconcile: invalid data status %q", candidate.DataStatus)
	}
	if candidate.Key.Family == "" || candidate.Key.Year == 0 {
		return model.IndicatorRecord{}, model.MergeOutcome{}, eris.Errorf(
			"reconcile: incomplete period key %+v", candidate.Key)
	}

	candidate.LastUpdated = e.nowFunc().UTC()

	merged, outcome, err := e.store.UpsertIndicator(ctx, candidate, Merge)
	if err != nil {
		return model.IndicatorRecord{}, model.MergeOutcome{}, eris.Wrap(err, "reconcile: upsert")
	}

	zap.L().Info("record reconciled",
		zap.String("family", candidate.Key.Family),
		zap.String("period", candidate.Key.Label()),
		zap.String("action", string(outcome.Action)),
		zap.Int("fields_written", len(outcome.FieldsWritten)),
		zap.Int("fields_blocked", len(outcome.FieldsBlocked)),
	)
	return merged, outcome, nil
}
