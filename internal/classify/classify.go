// Package classify decides which indicator families a chunk is relevant
// to. A keyword prefilter picks candidate families without any LLM
// involvement; one LLM call per chunk then confirms or rejects each
// candidate. The model answers yes/no plus a confidence and is never
// asked for, nor trusted with, a numeric value.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/gso-insight/indicator-cli/internal/config"
	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/resilience"
	"github.com/gso-insight/indicator-cli/pkg/anthropic"
)

// Relevance is the classifier's verdict for one family on one chunk.
type Relevance struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
}

// relevanceWire adds the optional free-text reason for fail-closed
// numeral screening; it never leaves this package.
type relevanceWire struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Classifier confirms chunk relevance through an LLM collaborator.
type Classifier struct {
	client        anthropic.Client
	registry      *model.FamilyRegistry
	model         string
	minConfidence float64
	timeout       time.Duration
	limiter       *rate.Limiter
	retryCfg      resilience.RetryConfig
	breaker       *resilience.Breaker
}

// New builds a Classifier from config. The rate limiter and circuit
// breaker are shared across all chunks of all documents in the process.
func New(client anthropic.Client, registry *model.FamilyRegistry, cfg config.Config) *Classifier {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.MaxAttempts = cfg.Classify.MaxRetries
	retryCfg.OnRetry = resilience.RetryLogger("classify")

	rpm := cfg.Classify.RequestsPerMinute
	if rpm <= 0 {
		rpm = 50
	}

	return &Classifier{
		client:        client,
		registry:      registry,
		model:         cfg.Anthropic.Model,
		minConfidence: cfg.Classify.MinConfidence,
		timeout:       time.Duration(cfg.Classify.TimeoutSecs) * time.Second,
		limiter:       rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm),
		retryCfg:      retryCfg,
		breaker:       resilience.NewBreaker(5, 30*time.Second),
	}
}

// Candidates returns the families whose keyword dictionary matches the
// chunk. This is pure string matching, cheap enough to run on every
// chunk, and bounds what the LLM call has to confirm.
func (c *Classifier) Candidates(chunk model.Chunk) []string {
	text := strings.ToLower(chunk.Text + " " + chunk.Section)
	var out []string
	for _, fam := range c.registry.Families() {
		for _, kw := range fam.Keywords {
			if strings.Contains(text, kw) {
				out = append(out, fam.Key)
				break
			}
		}
	}
	return out
}

// ClassifyChunk confirms which candidate families the chunk is actually
// about. One call covers all candidates. The error, when non-nil, is
// always a *ClassificationError; the chunk is skipped, never the
// document.
func (c *Classifier) ClassifyChunk(ctx context.Context, chunk model.Chunk, families []string) (map[string]Relevance, error) {
	if len(families) == 0 {
		return map[string]Relevance{}, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ClassificationError{Unavailable: true, Reason: err.Error()}
	}
	if err := c.breaker.Allow(); err != nil {
		return nil, &ClassificationError{Unavailable: true, Reason: err.Error()}
	}

	callCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := resilience.Do(callCtx, c.retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return c.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     c.model,
			MaxTokens: 1024,
			System:    anthropic.BuildCachedSystemBlocks(c.systemPrompt()),
			Messages: []anthropic.Message{
				{Role: "user", Content: buildUserPrompt(chunk, families)},
			},
		})
	})
	c.breaker.Record(err, resilience.IsTransient(err))
	if err != nil {
		zap.L().Warn("classifier call failed",
			zap.Int("chunk", chunk.Index),
			zap.Error(err),
		)
		return nil, &ClassificationError{Unavailable: true, Reason: err.Error()}
	}
	resp.Usage.LogCost(c.model, "classify")

	return c.parseResponse(resp.Text(), families)
}

// parseResponse applies the strict response contract. Failure modes and
// their handling:
//   - unparseable, schema-violating, or partial response: the whole
//     chunk is rejected (*ClassificationError, not unavailable);
//   - numeral in the reason string: that family is not relevant, the
//     model does not get to smuggle numbers past the regex layer;
//   - confidence below the configured floor: not relevant.
func (c *Classifier) parseResponse(text string, families []string) (map[string]Relevance, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, &ClassificationError{Reason: err.Error()}
	}
	if err := validateAgainstSchema(buildRelevanceSchema(families), raw); err != nil {
		return nil, &ClassificationError{Reason: err.Error()}
	}

	var wire map[string]relevanceWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ClassificationError{Reason: err.Error()}
	}

	out := make(map[string]Relevance, len(families))
	for _, fam := range families {
		w, ok := wire[fam]
		if !ok {
			// Unreachable once the schema requires every family, but the
			// contract holds even if validation is loosened.
			return nil, &ClassificationError{Reason: fmt.Sprintf("response missing family %q", fam)}
		}
		if containsDigit(w.Reason) {
			zap.L().Warn("classifier reason contains numerals, marking not relevant",
				zap.String("family", fam),
			)
			out[fam] = Relevance{}
			continue
		}
		rel := w.Relevant && w.Confidence >= c.minConfidence
		out[fam] = Relevance{Relevant: rel, Confidence: w.Confidence}
	}
	return out, nil
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}

// systemPrompt renders the family rubric. It is identical for every
// chunk, so the client caches it server-side.
func (c *Classifier) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify excerpts of Vietnamese statistical news reports. ")
	b.WriteString("For each requested indicator family, decide whether the excerpt reports data for that family. ")
	b.WriteString("Answer with a single JSON object mapping each requested family key to ")
	b.WriteString(`{"relevant": bool, "confidence": number between 0 and 1, "reason": short english phrase}. `)
	b.WriteString("Never include digits in the reason. Never extract or repeat numeric values. ")
	b.WriteString("Output only the JSON object.\n\nFamilies:\n")
	for _, fam := range c.registry.Families() {
		fmt.Fprintf(&b, "- %s: %s (keywords: %s)\n", fam.Key, fam.Name, strings.Join(fam.Keywords, ", "))
	}
	return b.String()
}

func buildUserPrompt(chunk model.Chunk, families []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Requested families: %s\n", strings.Join(families, ", "))
	if chunk.Section != "" {
		fmt.Fprintf(&b, "Section: %s\n", chunk.Section)
	}
	b.WriteString("Excerpt:\n")
	b.WriteString(chunk.Text)
	return b.String()
}
