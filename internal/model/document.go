package model

import "time"

// Document is the unit of work supplied by the ingest collaborator.
// The pipeline never fetches content itself.
type Document struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	SourceURL   string `json:"source_url"`
	DefaultYear int    `json:"default_year"`
}

// Chunk is a semantically coherent slice of a normalized document.
// Offset is the rune offset into the normalized text, kept so report
// spans stay traceable back to the source.
type Chunk struct {
	Index   int    `json:"index"`
	Text    string `json:"text"`
	Offset  int    `json:"offset"`
	Section string `json:"section,omitempty"`
}

// ExtractionCandidate pairs a chunk with a family the classifier confirmed.
// It is ephemeral: produced by classification, consumed by extraction.
type ExtractionCandidate struct {
	Family     string
	Chunk      Chunk
	Confidence float64
}

// RunStatus tracks a document run through the pipeline.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusSegmenting  RunStatus = "segmenting"
	RunStatusClassifying RunStatus = "classifying"
	RunStatusExtracting  RunStatus = "extracting"
	RunStatusValidating  RunStatus = "validating"
	RunStatusReconciling RunStatus = "reconciling"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// PhaseStatus tracks a single pipeline phase within a run.
type PhaseStatus string

const (
	PhaseStatusRunning  PhaseStatus = "running"
	PhaseStatusComplete PhaseStatus = "complete"
	PhaseStatusFailed   PhaseStatus = "failed"
	PhaseStatusSkipped  PhaseStatus = "skipped"
)

// DocumentRun is the persisted audit record of one pipeline invocation.
type DocumentRun struct {
	ID        string            `json:"id"`
	Document  Document          `json:"document"`
	Status    RunStatus         `json:"status"`
	Report    *ExtractionReport `json:"report,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RunPhase is one tracked phase of a document run.
type RunPhase struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Name      string      `json:"name"`
	Status    PhaseStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}
