package model

import "time"

// ReportEntry records the fate of one extracted field: the exact source
// span, the parsed value, and whether validation accepted it.
type ReportEntry struct {
	Family          string   `json:"family"`
	Field           string   `json:"field"`
	RawSpan         string   `json:"raw_span"`
	ParsedValue     *float64 `json:"parsed_value,omitempty"`
	ParsedText      string   `json:"parsed_text,omitempty"`
	Unit            string   `json:"unit,omitempty"`
	ChunkOffset     int      `json:"chunk_offset"`
	Accepted        bool     `json:"accepted"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
}

// WarningKind classifies non-fatal report warnings.
type WarningKind string

const (
	WarnClassifierUnavailable WarningKind = "classifier_unavailable"
	WarnCrossField            WarningKind = "cross_field"
	WarnNumberParse           WarningKind = "number_parse"
	WarnReconcileNarrowed     WarningKind = "reconcile_narrowed"
)

// ReportWarning is a recoverable problem noted during a run. Warnings
// never abort the document; they exist for audit.
type ReportWarning struct {
	Kind    WarningKind `json:"kind"`
	Family  string      `json:"family,omitempty"`
	ChunkIx int         `json:"chunk_index,omitempty"`
	Message string      `json:"message"`
}

// FamilyOutcome summarizes what happened for one indicator family.
type FamilyOutcome struct {
	Family         string       `json:"family"`
	RelevantChunks int          `json:"relevant_chunks"`
	FieldsAccepted int          `json:"fields_accepted"`
	FieldsDropped  int          `json:"fields_dropped"`
	Merge          MergeOutcome `json:"merge"`
	PeriodLabel    string       `json:"period_label,omitempty"`
}

// ExtractionReport is the per-document audit trail. Every run produces
// one, including runs that extracted nothing or failed partway.
type ExtractionReport struct {
	DocumentID string          `json:"document_id"`
	SourceURL  string          `json:"source_url"`
	Chunks     int             `json:"chunks"`
	Entries    []ReportEntry   `json:"entries,omitempty"`
	Warnings   []ReportWarning `json:"warnings,omitempty"`
	Families   []FamilyOutcome `json:"families,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// AddEntry appends a field entry.
func (r *ExtractionReport) AddEntry(e ReportEntry) {
	r.Entries = append(r.Entries, e)
}

// AddWarning appends a warning.
func (r *ExtractionReport) AddWarning(w ReportWarning) {
	r.Warnings = append(r.Warnings, w)
}

// Accepted returns the entries that passed validation.
func (r *ExtractionReport) Accepted() []ReportEntry {
	var out []ReportEntry
	for _, e := range r.Entries {
		if e.Accepted {
			out = append(out, e)
		}
	}
	return out
}
