// Package pipeline orchestrates document extraction end to end: segment,
// classify, extract, validate, reconcile, report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/classify"
	"github.com/gso-insight/indicator-cli/internal/config"
	"github.com/gso-insight/indicator-cli/internal/extract"
	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/reconcile"
	"github.com/gso-insight/indicator-cli/internal/segment"
	"github.com/gso-insight/indicator-cli/internal/store"
	"github.com/gso-insight/indicator-cli/internal/validate"
)

// Classifier decides which indicator families a chunk reports on.
type Classifier interface {
	Candidates(chunk model.Chunk) []string
	ClassifyChunk(ctx context.Context, chunk model.Chunk, families []string) (map[string]classify.Relevance, error)
}

// Reconciler merges one candidate record into storage.
type Reconciler interface {
	Reconcile(ctx context.Context, candidate model.IndicatorRecord) (model.IndicatorRecord, model.MergeOutcome, error)
}

// Pipeline runs the extraction stages for one document at a time.
type Pipeline struct {
	cfg        *config.Config
	store      store.Store
	registry   *model.FamilyRegistry
	segmenter  *segment.Segmenter
	classifier Classifier
	extractor  *extract.Extractor
	reconciler Reconciler
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, registry *model.FamilyRegistry, classifier Classifier) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      st,
		registry:   registry,
		segmenter:  segment.New(cfg.Segment.MaxChunkLen),
		classifier: classifier,
		extractor:  extract.New(registry),
		reconciler: reconcile.NewEngine(st),
	}
}

// Run executes the full extraction pipeline for a single document. A
// report is produced for every document, including ones that extracted
// nothing; an empty document simply segments into zero chunks.
// Recoverable problems become report warnings, and only store failures
// or a misconfigured pipeline abort.
func (p *Pipeline) Run(ctx context.Context, doc model.Document) (*model.ExtractionReport, error) {
	log := zap.L().With(zap.String("document", doc.ID), zap.String("source", doc.SourceURL))

	status := model.DataStatus(p.cfg.Pipeline.DefaultStatus)
	if !status.Valid() {
		return nil, &FatalError{Reason: fmt.Sprintf("invalid default data status %q", p.cfg.Pipeline.DefaultStatus)}
	}
	if doc.DefaultYear == 0 {
		doc.DefaultYear = time.Now().Year()
	}

	log.Info("pipeline: starting extraction")

	report := &model.ExtractionReport{
		DocumentID: doc.ID,
		SourceURL:  doc.SourceURL,
		StartedAt:  time.Now().UTC(),
	}

	run, err := p.store.CreateRun(ctx, doc)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	setStatus := func(s model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, s); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() (string, error)) error {
		phase, phaseErr := p.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		detail, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		phaseStatus := model.PhaseStatusComplete
		if fnErr != nil {
			phaseStatus = model.PhaseStatusFailed
			detail = fnErr.Error()
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.String("detail", detail),
			)
		}

		if phase != nil {
			_ = p.store.CompletePhase(ctx, phase.ID, phaseStatus, detail)
		}
		return fnErr
	}

	// ===== Phase 1: Segmentation =====
	setStatus(model.RunStatusSegmenting)

	var chunks []model.Chunk
	_ = trackPhase("1_segment", func() (string, error) {
		normalized := segment.Normalize(doc.Content)
		chunks = p.segmenter.Split(normalized)
		report.Chunks = len(chunks)
		return fmt.Sprintf("%d chunks", len(chunks)), nil
	})

	// ===== Phase 2: Classification =====
	setStatus(model.RunStatusClassifying)

	candidates := make(map[string][]model.ExtractionCandidate)
	_ = trackPhase("2_classify", func() (string, error) {
		relevant := 0
		for _, chunk := range chunks {
			families := p.classifier.Candidates(chunk)
			if len(families) == 0 {
				continue
			}
			decisions, classifyErr := p.classifier.ClassifyChunk(ctx, chunk, families)
			if classifyErr != nil {
				// The chunk stays unclassified; the rest of the
				// document proceeds.
				report.AddWarning(model.ReportWarning{
					Kind:    model.WarnClassifierUnavailable,
					ChunkIx: chunk.Index,
					Message: classifyErr.Error(),
				})
				var ce *classify.ClassificationError
				if errors.As(classifyErr, &ce) && ce.Unavailable {
					log.Warn("pipeline: classifier unavailable", zap.Int("chunk", chunk.Index))
				}
				continue
			}
			matched := false
			for fam, rel := range decisions {
				if !rel.Relevant {
					continue
				}
				matched = true
				candidates[fam] = append(candidates[fam], model.ExtractionCandidate{
					Family:     fam,
					Chunk:      chunk,
					Confidence: rel.Confidence,
				})
			}
			if matched {
				relevant++
			}
		}
		return fmt.Sprintf("%d relevant chunks, %d families", relevant, len(candidates)), nil
	})

	families := make([]string, 0, len(candidates))
	for fam := range candidates {
		families = append(families, fam)
	}
	sort.Strings(families)

	// ===== Phase 3: Extraction =====
	setStatus(model.RunStatusExtracting)

	extracted := make(map[string][]extract.FieldResult)
	_ = trackPhase("3_extract", func() (string, error) {
		total := 0
		for _, fam := range families {
			spec := p.registry.ByKey(fam)
			if spec == nil {
				continue
			}
			results := p.extractor.ForFamily(spec, candidates[fam])
			if len(results) > 0 {
				extracted[fam] = results
				total += len(results)
			}
		}
		return fmt.Sprintf("%d fields from %d families", total, len(extracted)), nil
	})

	// ===== Phase 4: Validation =====
	setStatus(model.RunStatusValidating)

	validated := make(map[string]validate.Result)
	_ = trackPhase("4_validate", func() (string, error) {
		accepted, dropped := 0, 0
		for _, fam := range families {
			results, ok := extracted[fam]
			if !ok {
				continue
			}
			vres := validate.Apply(p.registry.ByKey(fam), results)
			validated[fam] = vres
			accepted += len(vres.Fields)
			dropped += len(vres.Rejected)

			p.reportFamily(report, fam, results, vres)
		}
		return fmt.Sprintf("%d fields accepted, %d dropped", accepted, dropped), nil
	})

	// ===== Phase 5: Reconciliation =====
	setStatus(model.RunStatusReconciling)

	reconcileErr := trackPhase("5_reconcile", func() (string, error) {
		merged := 0
		for _, fam := range families {
			vres, ok := validated[fam]
			if !ok || len(vres.Fields) == 0 {
				continue
			}

			key := p.periodFor(fam, doc, extracted[fam])
			candidate := model.IndicatorRecord{
				Key:        key,
				Fields:     vres.Fields,
				DataStatus: status,
				DataSource: doc.SourceURL,
			}

			_, outcome, recErr := p.reconciler.Reconcile(ctx, candidate)
			if recErr != nil {
				return "", recErr
			}
			if outcome.Action == model.MergeNarrowed {
				report.AddWarning(model.ReportWarning{
					Kind:    model.WarnReconcileNarrowed,
					Family:  fam,
					Message: fmt.Sprintf("%s %s: fields %v kept at higher precedence", fam, key.Label(), outcome.FieldsBlocked),
				})
			}
			report.Families = append(report.Families, model.FamilyOutcome{
				Family:         fam,
				RelevantChunks: len(candidates[fam]),
				FieldsAccepted: len(vres.Fields),
				FieldsDropped:  len(vres.Rejected),
				Merge:          outcome,
				PeriodLabel:    key.Label(),
			})
			merged++
		}
		return fmt.Sprintf("%d records reconciled", merged), nil
	})

	// ===== Finalize =====
	report.FinishedAt = time.Now().UTC()

	finalStatus := model.RunStatusComplete
	if reconcileErr != nil {
		finalStatus = model.RunStatusFailed
	}
	if saveErr := p.store.UpdateRunReport(ctx, run.ID, finalStatus, report); saveErr != nil {
		log.Warn("pipeline: failed to save report", zap.Error(saveErr))
	}

	log.Info("pipeline: extraction finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(finalStatus)),
		zap.Int("chunks", report.Chunks),
		zap.Int("entries", len(report.Entries)),
		zap.Int("families", len(report.Families)),
		zap.Int("warnings", len(report.Warnings)),
	)

	if reconcileErr != nil {
		return report, eris.Wrap(reconcileErr, "pipeline: reconcile")
	}
	return report, nil
}

// reportFamily records the fate of every extracted field of one family.
func (p *Pipeline) reportFamily(report *model.ExtractionReport, fam string, results []extract.FieldResult, vres validate.Result) {
	rejected := make(map[string]validate.Rejection, len(vres.Rejected))
	for _, rej := range vres.Rejected {
		rejected[rej.Field] = rej
	}

	for _, fr := range results {
		entry := model.ReportEntry{
			Family:      fam,
			Field:       fr.Field,
			RawSpan:     fr.Raw,
			ChunkOffset: fr.Chunk.Offset,
		}
		if rej, ok := rejected[fr.Field]; ok {
			entry.RejectionReason = rej.Reason
		} else {
			v := vres.Fields[fr.Field]
			entry.Accepted = true
			entry.ParsedValue = v.Number
			entry.ParsedText = v.Text
			entry.Unit = v.Unit
		}
		report.AddEntry(entry)

		if fr.Err != nil {
			report.AddWarning(model.ReportWarning{
				Kind:    model.WarnNumberParse,
				Family:  fam,
				ChunkIx: fr.Chunk.Index,
				Message: fmt.Sprintf("%s: %v", fr.Field, fr.Err),
			})
		}
	}

	for _, w := range vres.Warnings {
		report.AddWarning(model.ReportWarning{
			Kind:    model.WarnCrossField,
			Family:  fam,
			Message: w,
		})
	}
}

// periodFor derives the reporting period of one family's record. The
// chunks that produced the fields vote, and the most frequent explicit
// period wins, so a single breakdown line ("trong đó quý I tăng ...")
// cannot rekey a cumulative record. A document-level period from the
// title is the fallback, then the ingest default year as an annual
// record.
func (p *Pipeline) periodFor(fam string, doc model.Document, results []extract.FieldResult) model.PeriodKey {
	key := model.PeriodKey{Family: fam, Province: p.cfg.Pipeline.DefaultProvince, Year: doc.DefaultYear}

	type span struct{ year, quarter, month int }
	votes := make(map[span]int)
	var seen []span
	for _, r := range results {
		year, quarter, month := extract.Period(r.Chunk.Section+"\n"+r.Chunk.Text, doc.DefaultYear)
		if quarter == 0 && month == 0 {
			continue
		}
		s := span{year, quarter, month}
		if votes[s] == 0 {
			seen = append(seen, s)
		}
		votes[s]++
	}
	// Ties go to the earliest chunk's period.
	var best span
	for _, s := range seen {
		if votes[s] > votes[best] {
			best = s
		}
	}
	if votes[best] > 0 {
		key.Year, key.Quarter, key.Month = best.year, best.quarter, best.month
		return key
	}

	key.Year, key.Quarter, key.Month = extract.Period(doc.Title, doc.DefaultYear)
	return key
}
