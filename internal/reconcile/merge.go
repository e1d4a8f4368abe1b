// Package reconcile implements the data-status precedence merge policy
// and drives the upsert of extracted records into storage. The policy
// itself is a pure function; the store runs it inside the per-period
// critical section so concurrent documents for the same period cannot
// lose updates.
package reconcile

import (
	"sort"

	"github.com/gso-insight/indicator-cli/internal/model"
)

// Merge resolves a candidate against the existing record for the same
// period key. Policy:
//
//  1. No existing record: the candidate is inserted as-is.
//  2. Candidate precedence >= existing: candidate's non-null fields
//     overwrite, and existing non-null fields the candidate misses are
//     kept. A precedence upgrade therefore retains the detail the
//     lower-precedence record contributed.
//  3. Candidate precedence < existing: only fills currently-null
//     fields; every non-null field it would have overwritten is
//     blocked and the write narrows.
//
// Merging never reduces the number of non-null fields.
func Merge(existing *model.IndicatorRecord, candidate model.IndicatorRecord) (model.IndicatorRecord, model.MergeOutcome) {
	if existing == nil {
		written := make([]string, 0, len(candidate.Fields))
		for name, v := range candidate.Fields {
			if !v.IsNull() {
				written = append(written, name)
			}
		}
		sort.Strings(written)
		return candidate, model.MergeOutcome{
			Action:        model.MergeInserted,
			FieldsWritten: written,
		}
	}

	merged := *existing
	merged.Fields = make(map[string]model.FieldValue, len(existing.Fields)+len(candidate.Fields))
	for name, v := range existing.Fields {
		merged.Fields[name] = v
	}

	var written, blocked []string

	if candidate.DataStatus.Rank() >= existing.DataStatus.Rank() {
		for name, v := range candidate.Fields {
			if v.IsNull() {
				continue
			}
			if old, ok := merged.Fields[name]; ok && !old.IsNull() && equalValue(old, v) {
				continue
			}
			merged.Fields[name] = v
			written = append(written, name)
		}
		statusChanged := candidate.DataStatus != existing.DataStatus
		if len(written) == 0 && !statusChanged {
			return *existing, model.MergeOutcome{Action: model.MergeUnchanged}
		}
		merged.DataStatus = candidate.DataStatus
		merged.DataSource = candidate.DataSource
		merged.LastUpdated = candidate.LastUpdated
		sort.Strings(written)
		return merged, model.MergeOutcome{
			Action:        model.MergeOverwrote,
			FieldsWritten: written,
		}
	}

	// Lower precedence: null-fill only.
	for name, v := range candidate.Fields {
		if v.IsNull() {
			continue
		}
		if old, ok := merged.Fields[name]; ok && !old.IsNull() {
			blocked = append(blocked, name)
			continue
		}
		merged.Fields[name] = v
		written = append(written, name)
	}
	sort.Strings(written)
	sort.Strings(blocked)
	if len(written) == 0 {
		return *existing, model.MergeOutcome{
			Action:        model.MergeUnchanged,
			FieldsBlocked: blocked,
		}
	}
	// Status and source stay at the higher-precedence record's values;
	// the timestamp still moves because fields were filled.
	merged.LastUpdated = candidate.LastUpdated
	return merged, model.MergeOutcome{
		Action:        model.MergeNarrowed,
		FieldsWritten: written,
		FieldsBlocked: blocked,
	}
}

func equalValue(a, b model.FieldValue) bool {
	if (a.Number == nil) != (b.Number == nil) {
		return false
	}
	if a.Number != nil && *a.Number != *b.Number {
		return false
	}
	return a.Text == b.Text && a.Unit == b.Unit
}
