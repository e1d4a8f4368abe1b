package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gso-insight/indicator-cli/internal/config"
	"github.com/gso-insight/indicator-cli/internal/extract"
	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/store"
)

func f64(v float64) *float64 { return &v }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Segment.MaxChunkLen = 1800
	cfg.Pipeline.Workers = 2
	cfg.Pipeline.DefaultProvince = "Hà Nội"
	cfg.Pipeline.DefaultStatus = "estimated"
	return cfg
}

func testRegistry(t *testing.T) *model.FamilyRegistry {
	t.Helper()
	reg, err := model.NewFamilyRegistry([]model.FamilySpec{
		{
			Key:      "grdp",
			Name:     "Tổng sản phẩm trên địa bàn",
			Keywords: []string{"grdp", "tổng sản phẩm"},
			Fields: []model.FieldSpec{
				{
					Name: "actual_value",
					Kind: model.KindNumber,
					Unit: "tỷ đồng",
					Min:  f64(1000),
					Max:  f64(500000),
					Templates: []model.TemplateSpec{
						{Pattern: `(?:GRDP|tổng sản phẩm)[^.]*?đạt\s+([\d.,]+\s*tỷ đồng)`},
					},
				},
				{
					Name: "growth_rate",
					Kind: model.KindPercent,
					Unit: "%",
					Min:  f64(-10),
					Max:  f64(30),
					Templates: []model.TemplateSpec{
						{Pattern: `tăng\s+([\d.,]+\s*%)`},
						{Pattern: `giảm\s+([\d.,]+\s*%)`, Negate: true},
					},
				},
			},
		},
		{
			Key:      "cpi",
			Name:     "Chỉ số giá tiêu dùng",
			Keywords: []string{"cpi", "chỉ số giá"},
			Fields: []model.FieldSpec{
				{
					Name: "change_mom",
					Kind: model.KindPercent,
					Unit: "%",
					Min:  f64(-10),
					Max:  f64(10),
					Templates: []model.TemplateSpec{
						{Pattern: `CPI[^.]*?tăng\s+([\d.,]+\s*%)\s*so với tháng trước`},
					},
				},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

const sampleBulletin = `BÁO CÁO TÌNH HÌNH KINH TẾ - XÃ HỘI QUÝ III NĂM 2025

1. Tổng sản phẩm trên địa bàn

GRDP quý III năm 2025 ước đạt 114.792 tỷ đồng, tăng 8,01% so với cùng kỳ năm trước.

2. Chỉ số giá tiêu dùng

CPI tháng 9 tăng 0,29% so với tháng trước.

3. Hoạt động văn hóa

Các hoạt động văn hóa nghệ thuật diễn ra sôi nổi trong dịp lễ Quốc khánh.`

func sampleDocument() model.Document {
	return model.Document{
		ID:          "doc-q3",
		Title:       "Báo cáo tình hình kinh tế - xã hội quý III năm 2025",
		Content:     sampleBulletin,
		SourceURL:   "https://thongke.hanoi.gov.vn/bao-cao-quy-3",
		DefaultYear: 2025,
	}
}

func TestPipeline_Run_EndToEnd(t *testing.T) {
	st := newTestStore(t)
	p := New(testConfig(), st, testRegistry(t), newStubClassifier())
	ctx := context.Background()

	report, err := p.Run(ctx, sampleDocument())
	require.NoError(t, err)
	require.NotNil(t, report)

	assert.Equal(t, "doc-q3", report.DocumentID)
	assert.Greater(t, report.Chunks, 3)
	assert.Empty(t, report.Warnings)

	accepted := report.Accepted()
	require.Len(t, accepted, 3)

	// GRDP lands on Q3/2025 derived from the chunk text.
	grdp, err := st.GetIndicator(ctx, model.PeriodKey{Family: "grdp", Province: "Hà Nội", Year: 2025, Quarter: 3})
	require.NoError(t, err)
	require.NotNil(t, grdp)
	assert.Equal(t, model.StatusEstimated, grdp.DataStatus)
	assert.Equal(t, "https://thongke.hanoi.gov.vn/bao-cao-quy-3", grdp.DataSource)
	assert.InDelta(t, 114792, *grdp.Field("actual_value").Number, 1e-9)
	assert.InDelta(t, 8.01, *grdp.Field("growth_rate").Number, 1e-9)

	// CPI is monthly: tháng 9.
	cpi, err := st.GetIndicator(ctx, model.PeriodKey{Family: "cpi", Province: "Hà Nội", Year: 2025, Month: 9})
	require.NoError(t, err)
	require.NotNil(t, cpi)
	assert.InDelta(t, 0.29, *cpi.Field("change_mom").Number, 1e-9)

	require.Len(t, report.Families, 2)
	for _, fam := range report.Families {
		assert.Equal(t, model.MergeInserted, fam.Merge.Action)
	}

	// The run record carries the persisted report.
	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Report)
	assert.Equal(t, report.Chunks, runs[0].Report.Chunks)
}

func TestPipeline_Run_ClassifierUnavailableIsPartial(t *testing.T) {
	st := newTestStore(t)
	cls := newStubClassifier()
	cls.classifyErr = errors.New("anthropic: request timed out")
	cls.failOn = "CPI"

	p := New(testConfig(), st, testRegistry(t), cls)
	ctx := context.Background()

	report, err := p.Run(ctx, sampleDocument())
	require.NoError(t, err)

	// The CPI chunk was skipped with a warning; GRDP still extracted.
	require.NotEmpty(t, report.Warnings)
	assert.Equal(t, model.WarnClassifierUnavailable, report.Warnings[0].Kind)

	grdp, err := st.GetIndicator(ctx, model.PeriodKey{Family: "grdp", Province: "Hà Nội", Year: 2025, Quarter: 3})
	require.NoError(t, err)
	require.NotNil(t, grdp)

	cpi, err := st.GetIndicator(ctx, model.PeriodKey{Family: "cpi", Province: "Hà Nội", Year: 2025, Month: 9})
	require.NoError(t, err)
	assert.Nil(t, cpi)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestPipeline_Run_NoRelevantChunks(t *testing.T) {
	st := newTestStore(t)
	p := New(testConfig(), st, testRegistry(t), newStubClassifier())
	ctx := context.Background()

	doc := sampleDocument()
	doc.Content = "Thời tiết hôm nay nắng đẹp. Các hoạt động diễn ra bình thường."

	report, err := p.Run(ctx, doc)
	require.NoError(t, err)
	assert.Empty(t, report.Entries)
	assert.Empty(t, report.Families)

	records, err := st.ListIndicators(ctx, store.IndicatorFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestPipeline_Run_EmptyDocumentYieldsEmptyReport(t *testing.T) {
	st := newTestStore(t)
	p := New(testConfig(), st, testRegistry(t), newStubClassifier())

	doc := sampleDocument()
	doc.Content = "   \n\n  "

	// A document with nothing in it still completes: zero chunks, zero
	// entries, and a persisted report.
	report, err := p.Run(context.Background(), doc)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Zero(t, report.Chunks)
	assert.Empty(t, report.Entries)
	assert.Empty(t, report.Families)

	runs, listErr := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Report)
	assert.Zero(t, runs[0].Report.Chunks)
}

func TestPipeline_Run_InvalidDefaultStatusIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.DefaultStatus = "guessed"
	p := New(cfg, newTestStore(t), testRegistry(t), newStubClassifier())

	_, err := p.Run(context.Background(), sampleDocument())
	var fatal *FatalError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, fatal.Reason, "invalid default data status")
}

func TestPipeline_Run_ReconcileFailureMarksRunFailed(t *testing.T) {
	st := newTestStore(t)
	p := New(testConfig(), st, testRegistry(t), newStubClassifier())
	p.reconciler = &failingReconciler{err: errors.New("database gone")}

	report, err := p.Run(context.Background(), sampleDocument())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database gone")

	// The report is still emitted and persisted on the failed run.
	require.NotNil(t, report)
	assert.NotEmpty(t, report.Entries)

	runs, listErr := st.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, listErr)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Report)
}

func TestPipeline_PeriodFor_BreakdownLineDoesNotRekey(t *testing.T) {
	p := New(testConfig(), newTestStore(t), testRegistry(t), newStubClassifier())
	doc := model.Document{ID: "doc-9t", Title: "Báo cáo 9 tháng năm 2025", DefaultYear: 2025}

	// Two chunks carry the cumulative nine-month marker; one carries a
	// quarterly breakdown line. The record stays keyed on Q3.
	results := []extract.FieldResult{
		{Field: "actual_value", Chunk: model.Chunk{Text: "GRDP 9 tháng năm 2025 ước đạt 114.792 tỷ đồng"}},
		{Field: "growth_rate", Chunk: model.Chunk{Text: "tốc độ tăng 9 tháng đạt 8,01% so với cùng kỳ"}},
		{Field: "growth_q1", Chunk: model.Chunk{Text: "trong đó quý I tăng 8,80%"}},
	}

	key := p.periodFor("grdp", doc, results)
	assert.Equal(t, 2025, key.Year)
	assert.Equal(t, 3, key.Quarter)
	assert.Zero(t, key.Month)
}

func TestPipeline_RunBatch_IsolatesFailures(t *testing.T) {
	st := newTestStore(t)
	p := New(testConfig(), st, testRegistry(t), newStubClassifier())

	good := sampleDocument()
	bad := sampleDocument()
	bad.ID = "doc-broken"
	bad.SourceURL = "https://thongke.hanoi.gov.vn/bao-cao-hong"
	other := sampleDocument()
	other.ID = "doc-q2"
	other.Title = "Báo cáo quý II năm 2025"
	other.Content = "GRDP quý II năm 2025 ước đạt 105.210 tỷ đồng, tăng 7,52% so với cùng kỳ."

	// Only the middle document's merges fail.
	p.reconciler = &selectiveReconciler{inner: p.reconciler, failSrc: bad.SourceURL, err: errors.New("database gone")}

	results := p.RunBatch(context.Background(), []model.Document{good, bad, other})
	require.Len(t, results, 3)

	assert.Equal(t, "doc-q3", results[0].DocumentID)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "doc-broken", results[1].DocumentID)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)

	q2, err := st.GetIndicator(context.Background(), model.PeriodKey{Family: "grdp", Province: "Hà Nội", Year: 2025, Quarter: 2})
	require.NoError(t, err)
	require.NotNil(t, q2)
	assert.InDelta(t, 105210, *q2.Field("actual_value").Number, 1e-9)
}
