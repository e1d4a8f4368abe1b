package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gso-insight/indicator-cli/internal/model"
)

// BatchResult pairs one document with its run outcome.
type BatchResult struct {
	DocumentID string
	Report     *model.ExtractionReport
	Err        error
}

// RunBatch processes documents concurrently, bounded by the configured
// worker count. One document failing never cancels the others; each
// result carries its own error.
func (p *Pipeline) RunBatch(ctx context.Context, docs []model.Document) []BatchResult {
	workers := p.cfg.Pipeline.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]BatchResult, len(docs))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, doc := range docs {
		g.Go(func() error {
			report, err := p.Run(gCtx, doc)
			results[i] = BatchResult{DocumentID: doc.ID, Report: report, Err: err}
			if err != nil {
				zap.L().Error("batch: document failed",
					zap.String("document", doc.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
