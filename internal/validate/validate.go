// Package validate type-coerces and sanity-checks extracted field
// values. Each field passes or fails on its own; a bad value never
// discards the rest of the extraction. Cross-field checks only warn.
package validate

import (
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/extract"
	"github.com/gso-insight/indicator-cli/internal/model"
)

// Rejection records one dropped field and why.
type Rejection struct {
	Field  string
	Raw    string
	Reason string
}

// Result is the validated field set of one family extraction.
type Result struct {
	// Fields holds the accepted values keyed by field name.
	Fields map[string]model.FieldValue
	// Rejected lists dropped fields for the extraction report.
	Rejected []Rejection
	// Warnings lists cross-field inconsistencies. The participating
	// fields stay accepted.
	Warnings []string
}

// Apply validates extracted field results against the family spec.
func Apply(spec *model.FamilySpec, results []extract.FieldResult) Result {
	out := Result{Fields: make(map[string]model.FieldValue)}

	for _, r := range results {
		field := spec.FieldByName(r.Field)
		if field == nil {
			// Extraction only produces fields the descriptor declares,
			// so a miss here is a programming error worth surfacing.
			out.Rejected = append(out.Rejected, Rejection{
				Field: r.Field, Raw: r.Raw, Reason: "field not in family spec",
			})
			continue
		}

		if rej, ok := checkField(field, r); !ok {
			out.Rejected = append(out.Rejected, rej)
			zap.L().Debug("field rejected",
				zap.String("family", spec.Key),
				zap.String("field", rej.Field),
				zap.String("reason", rej.Reason),
			)
			continue
		}
		out.Fields[r.Field] = r.Value
	}

	for _, check := range spec.Checks {
		if msg := runCheck(check, out.Fields); msg != "" {
			out.Warnings = append(out.Warnings, msg)
		}
	}

	return out
}

func checkField(field *model.FieldSpec, r extract.FieldResult) (Rejection, bool) {
	if r.Err != nil {
		return Rejection{Field: r.Field, Raw: r.Raw, Reason: r.Err.Error()}, false
	}

	if field.Kind == model.KindText {
		if strings.TrimSpace(r.Value.Text) == "" {
			return Rejection{Field: r.Field, Raw: r.Raw, Reason: "empty text"}, false
		}
		return Rejection{}, true
	}

	if r.Value.Number == nil {
		return Rejection{Field: r.Field, Raw: r.Raw, Reason: "no numeric value"}, false
	}
	n := *r.Value.Number
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return Rejection{Field: r.Field, Raw: r.Raw, Reason: "value is not finite"}, false
	}

	if !unitCompatible(field, r.Value.Unit) {
		return Rejection{
			Field: r.Field, Raw: r.Raw,
			Reason: fmt.Sprintf("unit %q does not match expected %q", r.Value.Unit, field.Unit),
		}, false
	}

	if field.Min != nil && n < *field.Min {
		return Rejection{
			Field: r.Field, Raw: r.Raw,
			Reason: fmt.Sprintf("value %g below plausible minimum %g", n, *field.Min),
		}, false
	}
	if field.Max != nil && n > *field.Max {
		return Rejection{
			Field: r.Field, Raw: r.Raw,
			Reason: fmt.Sprintf("value %g above plausible maximum %g", n, *field.Max),
		}, false
	}

	return Rejection{}, true
}

// unitCompatible reports whether the unit captured alongside a numeral
// satisfies the field's expected unit. A bare numeral (no unit captured)
// is accepted: many templates anchor on context words instead of unit
// suffixes. "tỷ" counts as "tỷ đồng".
func unitCompatible(field *model.FieldSpec, got string) bool {
	if got == "" {
		return true
	}
	if field.Kind == model.KindPercent {
		return got == "%"
	}
	want := field.Unit
	if want == "" || got == want {
		return true
	}
	return canonicalUnit(got) == canonicalUnit(want)
}

func canonicalUnit(u string) string {
	switch u {
	case "tỷ", "tỷ đồng":
		return "tỷ đồng"
	case "triệu đồng", "triệu":
		return "triệu đồng"
	default:
		return u
	}
}

func runCheck(check model.CheckSpec, fields map[string]model.FieldValue) string {
	switch check.Kind {
	case model.CheckShareSum:
		sum := 0.0
		for _, name := range check.Fields {
			v, ok := fields[name]
			if !ok || v.Number == nil {
				// Partial share sets cannot be summed meaningfully.
				return ""
			}
			sum += *v.Number
		}
		tol := check.Tolerance
		if tol == 0 {
			tol = 1
		}
		if math.Abs(sum-check.Total) > tol {
			return fmt.Sprintf("shares %s sum to %.2f, expected %.2f ± %.2f",
				strings.Join(check.Fields, "+"), sum, check.Total, tol)
		}
	case model.CheckSignBalance:
		plus, pok := fields[check.Plus]
		minus, mok := fields[check.Minus]
		result, rok := fields[check.Result]
		if !pok || !mok || !rok || plus.Number == nil || minus.Number == nil || result.Number == nil {
			return ""
		}
		diff := *plus.Number - *minus.Number
		if diff > 0 && *result.Number < 0 || diff < 0 && *result.Number > 0 {
			return fmt.Sprintf("%s sign disagrees with %s-%s = %.2f",
				check.Result, check.Plus, check.Minus, diff)
		}
	}
	return ""
}
