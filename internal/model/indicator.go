package model

import (
	"fmt"
	"time"
)

// DataStatus marks the trust level of a reported figure. Precedence:
// official > estimated > forecast. A lower-precedence extraction never
// overwrites a non-null field written at higher precedence.
type DataStatus string

const (
	StatusOfficial  DataStatus = "official"
	StatusEstimated DataStatus = "estimated"
	StatusForecast  DataStatus = "forecast"
)

// statusRank orders statuses for merge decisions; higher wins.
var statusRank = map[DataStatus]int{
	StatusForecast:  1,
	StatusEstimated: 2,
	StatusOfficial:  3,
}

// Rank returns the precedence rank of s, or 0 for an unknown status so
// that unrecognized statuses always lose a merge.
func (s DataStatus) Rank() int {
	return statusRank[s]
}

// Valid reports whether s is one of the three known statuses.
func (s DataStatus) Valid() bool {
	return statusRank[s] != 0
}

// PeriodType identifies the reporting interval granularity.
type PeriodType string

const (
	PeriodYear    PeriodType = "year"
	PeriodQuarter PeriodType = "quarter"
	PeriodMonth   PeriodType = "month"
)

// PeriodKey identifies one reporting interval for one indicator family.
// Quarter and Month are 0 when the period is coarser than that dimension.
type PeriodKey struct {
	Family   string `json:"family"`
	Province string `json:"province"`
	Year     int    `json:"year"`
	Quarter  int    `json:"quarter,omitempty"`
	Month    int    `json:"month,omitempty"`
}

// PeriodType derives the granularity from which dimensions are set.
func (k PeriodKey) PeriodType() PeriodType {
	switch {
	case k.Month != 0:
		return PeriodMonth
	case k.Quarter != 0:
		return PeriodQuarter
	default:
		return PeriodYear
	}
}

// Label renders the key the way Vietnamese statistical reports name
// periods, e.g. "Quý 3/2025" or "Tháng 9/2025".
func (k PeriodKey) Label() string {
	switch k.PeriodType() {
	case PeriodMonth:
		return fmt.Sprintf("Tháng %d/%d", k.Month, k.Year)
	case PeriodQuarter:
		return fmt.Sprintf("Quý %d/%d", k.Quarter, k.Year)
	default:
		return fmt.Sprintf("Năm %d", k.Year)
	}
}

// End returns the last day of the reporting period. Used as the record
// timestamp when a report covers a closed interval.
func (k PeriodKey) End() time.Time {
	switch k.PeriodType() {
	case PeriodMonth:
		return time.Date(k.Year, time.Month(k.Month)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	case PeriodQuarter:
		return time.Date(k.Year, time.Month(k.Quarter*3)+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	default:
		return time.Date(k.Year, 12, 31, 0, 0, 0, 0, time.UTC)
	}
}

// FieldValue is one extracted field of an indicator record. Number is nil
// for text fields. Span preserves the exact source text the value was
// pulled from, so every persisted figure is traceable.
type FieldValue struct {
	Number *float64 `json:"number,omitempty"`
	Text   string   `json:"text,omitempty"`
	Unit   string   `json:"unit,omitempty"`
	Span   string   `json:"span,omitempty"`
}

// IsNull reports whether the field carries no value.
func (v FieldValue) IsNull() bool {
	return v.Number == nil && v.Text == ""
}

// Num is a convenience constructor for numeric field values.
func Num(n float64) FieldValue {
	return FieldValue{Number: &n}
}

// IndicatorRecord is the generic period-indexed record for any indicator
// family. Which fields may appear in Fields is governed by the family's
// descriptor; there is one record per (family, province, year, quarter,
// month) tuple in storage.
type IndicatorRecord struct {
	ID          string                `json:"id,omitempty"`
	Key         PeriodKey             `json:"key"`
	Fields      map[string]FieldValue `json:"fields"`
	DataStatus  DataStatus            `json:"data_status"`
	DataSource  string                `json:"data_source"`
	LastUpdated time.Time             `json:"last_updated"`
}

// Field returns the named field, or a null FieldValue when absent.
func (r *IndicatorRecord) Field(name string) FieldValue {
	return r.Fields[name]
}

// SetField stores a field value, allocating the map on first use.
func (r *IndicatorRecord) SetField(name string, v FieldValue) {
	if r.Fields == nil {
		r.Fields = make(map[string]FieldValue)
	}
	r.Fields[name] = v
}

// NonNullCount counts fields carrying a value. Merging is information
// non-decreasing, so this never shrinks across a reconciliation.
func (r *IndicatorRecord) NonNullCount() int {
	n := 0
	for _, v := range r.Fields {
		if !v.IsNull() {
			n++
		}
	}
	return n
}

// MergeAction describes what a reconciliation pass did with a candidate.
type MergeAction string

const (
	MergeInserted  MergeAction = "inserted"
	MergeOverwrote MergeAction = "overwrote"
	MergeNarrowed  MergeAction = "narrowed"
	MergeUnchanged MergeAction = "unchanged"
)

// MergeOutcome reports the result of reconciling one candidate record.
type MergeOutcome struct {
	Action        MergeAction `json:"action"`
	FieldsWritten []string    `json:"fields_written,omitempty"`
	FieldsBlocked []string    `json:"fields_blocked,omitempty"`
}

// Changed reports whether the pass wrote anything.
func (o MergeOutcome) Changed() bool {
	return o.Action != MergeUnchanged
}

// MergeFunc resolves a candidate against the existing record for the same
// period key (nil when none exists). Implementations must be pure: the
// store runs them inside the per-key critical section.
type MergeFunc func(existing *IndicatorRecord, candidate IndicatorRecord) (IndicatorRecord, MergeOutcome)
