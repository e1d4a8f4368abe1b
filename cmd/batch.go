package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/pipeline"
)

var (
	batchDir   string
	batchFile  string
	batchYear  int
	batchLimit int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run extraction for a batch of documents",
	Long:  "Processes documents concurrently up to the configured worker count. Input is either a directory of .txt/.md files (one document each) or a JSONL file with one document object per line.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if (batchDir == "") == (batchFile == "") {
			return eris.New("exactly one of --dir and --file is required")
		}

		env, err := initPipeline(ctx, "extract")
		if err != nil {
			return err
		}
		defer env.Close()

		var docs []model.Document
		if batchFile != "" {
			docs, err = loadBatchJSONL(batchFile, batchYear)
		} else {
			docs, err = loadBatchDocuments(batchDir, batchYear)
		}
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			zap.L().Info("no documents found", zap.String("input", batchDir+batchFile))
			return nil
		}
		if batchLimit > 0 && len(docs) > batchLimit {
			docs = docs[:batchLimit]
		}

		zap.L().Info("processing batch",
			zap.Int("documents", len(docs)),
			zap.Int("workers", cfg.Pipeline.Workers),
		)

		results := env.Pipeline.RunBatch(ctx, docs)
		formatBatchResults(os.Stdout, results)

		if n := countFailed(results); n > 0 {
			return eris.Errorf("batch: %d of %d documents failed", n, len(results))
		}
		return nil
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchDir, "dir", "", "directory of document files")
	batchCmd.Flags().StringVar(&batchFile, "file", "", "JSONL file with one document per line")
	batchCmd.Flags().IntVar(&batchYear, "year", 0, "default reporting year for all documents (default: current year)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of documents to process (0 = all)")
	rootCmd.AddCommand(batchCmd)
}

// loadBatchJSONL reads one document object per line. Blank lines are
// skipped. Documents without a default year inherit the batch year.
func loadBatchJSONL(path string, year int) ([]model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	if year == 0 {
		year = time.Now().Year()
	}

	var docs []model.Document
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var doc model.Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, eris.Wrapf(err, "%s line %d", path, line)
		}
		if doc.ID == "" {
			return nil, eris.Errorf("%s line %d: document has no id", path, line)
		}
		if doc.DefaultYear == 0 {
			doc.DefaultYear = year
		}
		docs = append(docs, doc)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return docs, nil
}

// loadBatchDocuments reads every .txt and .md file in dir, in name order.
// The file name becomes the document ID and the first line its title.
func loadBatchDocuments(dir string, year int) ([]model.Document, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "read directory %s", dir)
	}
	if year == 0 {
		year = time.Now().Year()
	}

	var docs []model.Document
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".txt" && ext != ".md" {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "read document %s", e.Name())
		}

		text := string(content)
		title := ""
		if i := strings.IndexByte(text, '\n'); i > 0 {
			title = strings.TrimSpace(text[:i])
		}

		docs = append(docs, model.Document{
			ID:          strings.TrimSuffix(e.Name(), ext),
			Title:       title,
			Content:     text,
			DefaultYear: year,
		})
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

func countFailed(results []pipeline.BatchResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// formatBatchResults writes a per-document summary table to out.
func formatBatchResults(out io.Writer, results []pipeline.BatchResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DOCUMENT\tCHUNKS\tENTRIES\tFAMILIES\tWARNINGS\tSTATUS")
	_, _ = fmt.Fprintln(w, "--------\t------\t-------\t--------\t--------\t------")

	for _, r := range results {
		if r.Err != nil {
			_, _ = fmt.Fprintf(w, "%s\t-\t-\t-\t-\tfailed: %s\n", r.DocumentID, r.Err)
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\tok\n",
			r.DocumentID,
			r.Report.Chunks,
			len(r.Report.Entries),
			len(r.Report.Families),
			len(r.Report.Warnings),
		)
	}
	_ = w.Flush()
}
