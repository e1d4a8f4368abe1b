package pipeline

import (
	"context"
	"strings"

	"github.com/gso-insight/indicator-cli/internal/classify"
	"github.com/gso-insight/indicator-cli/internal/model"
)

// stubClassifier drives classification from keyword tables without an
// LLM. classifyErr, when set, fails every chunk whose text contains
// failOn.
type stubClassifier struct {
	keywords    map[string][]string
	classifyErr error
	failOn      string
	calls       int
}

func newStubClassifier() *stubClassifier {
	return &stubClassifier{
		keywords: map[string][]string{
			"grdp": {"grdp", "tổng sản phẩm"},
			"cpi":  {"cpi", "chỉ số giá"},
		},
	}
}

func (s *stubClassifier) Candidates(chunk model.Chunk) []string {
	text := strings.ToLower(chunk.Text + " " + chunk.Section)
	var out []string
	for fam, kws := range s.keywords {
		for _, kw := range kws {
			if strings.Contains(text, kw) {
				out = append(out, fam)
				break
			}
		}
	}
	return out
}

func (s *stubClassifier) ClassifyChunk(ctx context.Context, chunk model.Chunk, families []string) (map[string]classify.Relevance, error) {
	s.calls++
	if s.classifyErr != nil && (s.failOn == "" || strings.Contains(chunk.Text, s.failOn)) {
		return nil, s.classifyErr
	}
	out := make(map[string]classify.Relevance, len(families))
	for _, fam := range families {
		out[fam] = classify.Relevance{Relevant: true, Confidence: 0.9}
	}
	return out, nil
}

// failingReconciler fails every merge, standing in for a lost database.
type failingReconciler struct {
	err error
}

func (f *failingReconciler) Reconcile(ctx context.Context, candidate model.IndicatorRecord) (model.IndicatorRecord, model.MergeOutcome, error) {
	return model.IndicatorRecord{}, model.MergeOutcome{}, f.err
}

// selectiveReconciler fails merges coming from one source and delegates
// the rest, so batch tests can fault a single document.
type selectiveReconciler struct {
	inner   Reconciler
	failSrc string
	err     error
}

func (s *selectiveReconciler) Reconcile(ctx context.Context, candidate model.IndicatorRecord) (model.IndicatorRecord, model.MergeOutcome, error) {
	if candidate.DataSource == s.failSrc {
		return model.IndicatorRecord{}, model.MergeOutcome{}, s.err
	}
	return s.inner.Reconcile(ctx, candidate)
}
