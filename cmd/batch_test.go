package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/pipeline"
)

func TestLoadBatchDocuments(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	write("b-danang.txt", "BÁO CÁO THÁNG 9 NĂM 2025\nNội dung báo cáo.")
	write("a-hanoi.md", "TÌNH HÌNH KINH TẾ - XÃ HỘI QUÝ III\nGRDP đạt mức tăng khá.")
	write("notes.json", `{"ignored": true}`)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	docs, err := loadBatchDocuments(dir, 2025)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "a-hanoi", docs[0].ID)
	assert.Equal(t, "TÌNH HÌNH KINH TẾ - XÃ HỘI QUÝ III", docs[0].Title)
	assert.Equal(t, 2025, docs[0].DefaultYear)
	assert.Contains(t, docs[0].Content, "GRDP")

	assert.Equal(t, "b-danang", docs[1].ID)
	assert.Equal(t, "BÁO CÁO THÁNG 9 NĂM 2025", docs[1].Title)
}

func TestLoadBatchJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	lines := `{"id":"hanoi-q3","title":"Quý III","content":"GRDP tăng 8,01%.","default_year":2025}

{"id":"danang-t9","content":"CPI tháng 9 tăng 0,29%."}
`
	require.NoError(t, os.WriteFile(path, []byte(lines), 0o644))

	docs, err := loadBatchJSONL(path, 2024)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "hanoi-q3", docs[0].ID)
	assert.Equal(t, 2025, docs[0].DefaultYear)
	assert.Equal(t, "danang-t9", docs[1].ID)
	assert.Equal(t, 2024, docs[1].DefaultYear, "batch year fills in missing default_year")
}

func TestLoadBatchJSONL_MissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"content":"x"}`), 0o644))

	_, err := loadBatchJSONL(path, 2025)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no id")
}

func TestLoadBatchJSONL_BadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{broken\n"), 0o644))

	_, err := loadBatchJSONL(path, 2025)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestLoadBatchDocuments_MissingDir(t *testing.T) {
	_, err := loadBatchDocuments(filepath.Join(t.TempDir(), "nope"), 2025)
	assert.Error(t, err)
}

func TestFormatBatchResults(t *testing.T) {
	results := []pipeline.BatchResult{
		{
			DocumentID: "hanoi-q3",
			Report: &model.ExtractionReport{
				Chunks:   12,
				Entries:  []model.ReportEntry{{Family: "grdp"}, {Family: "cpi"}},
				Families: []model.FamilyOutcome{{Family: "grdp"}},
			},
		},
		{DocumentID: "empty-doc", Err: eris.New("document content is empty")},
	}

	var buf bytes.Buffer
	formatBatchResults(&buf, results)

	output := buf.String()
	assert.Contains(t, output, "DOCUMENT")
	assert.Contains(t, output, "hanoi-q3")
	assert.Contains(t, output, "ok")
	assert.Contains(t, output, "empty-doc")
	assert.Contains(t, output, "failed: document content is empty")
}

func TestCountFailed(t *testing.T) {
	results := []pipeline.BatchResult{
		{DocumentID: "a"},
		{DocumentID: "b", Err: eris.New("boom")},
		{DocumentID: "c"},
	}
	assert.Equal(t, 1, countFailed(results))
}
