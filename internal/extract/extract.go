// Package extract applies the ordered regex templates of a family
// descriptor to classified chunks. Every number that leaves this package
// is traceable to an exact source span; no value is ever generated by
// the language model.
package extract

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/vnnum"
)

// FieldResult is the outcome of extracting one field of one family.
type FieldResult struct {
	Field string
	// Raw is the matched capture span in the source chunk.
	Raw string
	// Value is set when normalization succeeded.
	Value model.FieldValue
	// Chunk is the chunk the span came from.
	Chunk model.Chunk
	// Err carries the numeral parse failure, if any. The field is
	// dropped but the failure is reported, never fatal.
	Err error
}

// Extractor runs template extraction for one family registry.
type Extractor struct {
	registry *model.FamilyRegistry
}

// New returns an Extractor over the given registry.
func New(registry *model.FamilyRegistry) *Extractor {
	return &Extractor{registry: registry}
}

// ForFamily extracts every field of the family from the candidate
// chunks. Templates are tried in declaration order and chunks in
// document order; the first match for a field wins, later matches are
// ignored. Fields with no match are simply absent from the result.
func (e *Extractor) ForFamily(spec *model.FamilySpec, candidates []model.ExtractionCandidate) []FieldResult {
	var out []FieldResult
	for i := range spec.Fields {
		field := &spec.Fields[i]
		res, ok := extractField(field, candidates)
		if !ok {
			continue
		}
		out = append(out, res)
	}
	if len(out) > 0 {
		zap.L().Debug("fields extracted",
			zap.String("family", spec.Key),
			zap.Int("fields", len(out)),
		)
	}
	return out
}

func extractField(field *model.FieldSpec, candidates []model.ExtractionCandidate) (FieldResult, bool) {
	for ti := range field.Templates {
		tpl := &field.Templates[ti]
		for _, cand := range candidates {
			m := tpl.Regexp().FindStringSubmatchIndex(cand.Chunk.Text)
			if m == nil || m[2] < 0 {
				continue
			}
			raw := cand.Chunk.Text[m[2]:m[3]]
			res := FieldResult{
				Field: field.Name,
				Raw:   raw,
				Chunk: cand.Chunk,
			}

			if field.Kind == model.KindText {
				res.Value = model.FieldValue{
					Text: strings.TrimSpace(raw),
					Span: raw,
				}
				return res, true
			}

			v, err := vnnum.Parse(raw)
			if err != nil {
				res.Err = err
				return res, true
			}
			n := v.Number
			if tpl.Negate {
				n = -n
			}
			res.Value = model.FieldValue{
				Number: &n,
				Unit:   v.Unit,
				Span:   raw,
			}
			return res, true
		}
	}
	return FieldResult{}, false
}
