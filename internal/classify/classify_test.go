package classify

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gso-insight/indicator-cli/internal/config"
	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/resilience"
)

func testRegistry(t *testing.T) *model.FamilyRegistry {
	t.Helper()
	reg, err := model.NewFamilyRegistry([]model.FamilySpec{
		{
			Key:      "grdp",
			Name:     "GRDP",
			Keywords: []string{"grdp", "tổng sản phẩm"},
			Fields: []model.FieldSpec{
				{Name: "actual_value", Templates: []model.TemplateSpec{{Pattern: `đạt\s+([\d.,]+)`}}},
			},
		},
		{
			Key:      "cpi",
			Name:     "CPI",
			Keywords: []string{"cpi", "chỉ số giá"},
			Fields: []model.FieldSpec{
				{Name: "change_yoy", Templates: []model.TemplateSpec{{Pattern: `tăng\s+([\d.,]+)`}}},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Anthropic.Model = "claude-haiku-4-5-20251001"
	cfg.Classify.RequestsPerMinute = 6000
	cfg.Classify.MaxRetries = 2
	cfg.Classify.MinConfidence = 0.5
	return cfg
}

func newTestClassifier(t *testing.T, client *mockAnthropicClient) *Classifier {
	t.Helper()
	return New(client, testRegistry(t), testConfig())
}

func TestCandidatesPrefilter(t *testing.T) {
	c := newTestClassifier(t, &mockAnthropicClient{})

	cands := c.Candidates(model.Chunk{Text: "GRDP 9 tháng ước đạt 114.792 tỷ đồng"})
	assert.Equal(t, []string{"grdp"}, cands)

	cands = c.Candidates(model.Chunk{Text: "chỉ số giá tiêu dùng tăng nhẹ", Section: "tổng sản phẩm trên địa bàn"})
	assert.Equal(t, []string{"grdp", "cpi"}, cands)

	cands = c.Candidates(model.Chunk{Text: "thời tiết hôm nay nắng đẹp"})
	assert.Empty(t, cands)
}

func TestClassifyChunkNoCandidates(t *testing.T) {
	client := &mockAnthropicClient{}
	c := newTestClassifier(t, client)

	out, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "x"}, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	client.AssertNotCalled(t, "CreateMessage")
}

func TestClassifyChunkParsesResponse(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"grdp": {"relevant": true, "confidence": 0.9, "reason": "reports regional product"}}`), nil)
	c := newTestClassifier(t, client)

	out, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp"}, []string{"grdp"})
	require.NoError(t, err)
	assert.True(t, out["grdp"].Relevant)
	assert.InDelta(t, 0.9, out["grdp"].Confidence, 0.001)
}

func TestClassifyChunkToleratesFencedJSON(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse("Here is my answer:\n```json\n{\"grdp\": {\"relevant\": false, \"confidence\": 0.8}}\n```"), nil)
	c := newTestClassifier(t, client)

	out, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp"}, []string{"grdp"})
	require.NoError(t, err)
	assert.False(t, out["grdp"].Relevant)
}

func TestClassifyChunkLowConfidenceNotRelevant(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"grdp": {"relevant": true, "confidence": 0.3}}`), nil)
	c := newTestClassifier(t, client)

	out, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp"}, []string{"grdp"})
	require.NoError(t, err)
	assert.False(t, out["grdp"].Relevant)
}

func TestClassifyChunkPartialResponseRejectsChunk(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"grdp": {"relevant": true, "confidence": 0.9}}`), nil)
	c := newTestClassifier(t, client)

	// The response answers for grdp but stays silent on cpi. A partial
	// answer rejects the whole chunk rather than defaulting the missing
	// family to not relevant.
	out, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp chỉ số giá"}, []string{"grdp", "cpi"})
	require.Error(t, err)
	assert.Nil(t, out)
	var cerr *ClassificationError
	require.ErrorAs(t, err, &cerr)
	assert.False(t, cerr.Unavailable)
}

func TestClassifyChunkNumeralInReasonFailsClosed(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(textResponse(`{"grdp": {"relevant": true, "confidence": 0.95, "reason": "grdp is 114792 billion"}}`), nil)
	c := newTestClassifier(t, client)

	out, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp"}, []string{"grdp"})
	require.NoError(t, err)
	assert.False(t, out["grdp"].Relevant, "a numeral in a text field must mark the family not relevant")
}

func TestClassifyChunkSchemaViolationRejectsChunk(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"relevant as string", `{"grdp": {"relevant": "yes", "confidence": 0.9}}`},
		{"confidence out of range", `{"grdp": {"relevant": true, "confidence": 7.5}}`},
		{"unknown family key", `{"grdp": {"relevant": true, "confidence": 0.9}, "weather": {"relevant": true, "confidence": 1}}`},
		{"extra property", `{"grdp": {"relevant": true, "confidence": 0.9, "value": 114792}}`},
		{"missing confidence", `{"grdp": {"relevant": true}}`},
		{"not json", `the chunk is about GRDP`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockAnthropicClient{}
			client.On("CreateMessage", mock.Anything, mock.Anything).
				Return(textResponse(tt.body), nil)
			c := newTestClassifier(t, client)

			_, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp"}, []string{"grdp"})
			require.Error(t, err)
			var cerr *ClassificationError
			require.ErrorAs(t, err, &cerr)
			assert.False(t, cerr.Unavailable)
		})
	}
}

func TestClassifyChunkUnavailable(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(eris.New("overloaded"), 529))
	c := newTestClassifier(t, client)
	c.retryCfg.InitialBackoff = 1
	c.retryCfg.MaxBackoff = 1

	_, err := c.ClassifyChunk(context.Background(), model.Chunk{Text: "grdp"}, []string{"grdp"})
	require.Error(t, err)
	var cerr *ClassificationError
	require.ErrorAs(t, err, &cerr)
	assert.True(t, cerr.Unavailable)
	// Retried up to MaxRetries attempts.
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestClassifyChunkBreakerShortCircuits(t *testing.T) {
	client := &mockAnthropicClient{}
	client.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewTransientError(eris.New("down"), 503))
	c := newTestClassifier(t, client)
	c.retryCfg.MaxAttempts = 1
	c.breaker = resilience.NewBreaker(2, time.Hour)

	chunk := model.Chunk{Text: "grdp"}
	for i := 0; i < 2; i++ {
		_, err := c.ClassifyChunk(context.Background(), chunk, []string{"grdp"})
		require.Error(t, err)
	}
	// Third call is rejected without touching the client.
	_, err := c.ClassifyChunk(context.Background(), chunk, []string{"grdp"})
	require.Error(t, err)
	client.AssertNumberOfCalls(t, "CreateMessage", 2)
}
