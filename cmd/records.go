package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/store"
)

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Inspect and import indicator records",
}

// -- records list --

var recordsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored indicator records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		family, _ := cmd.Flags().GetString("family")
		province, _ := cmd.Flags().GetString("province")
		year, _ := cmd.Flags().GetInt("year")
		quarter, _ := cmd.Flags().GetInt("quarter")
		month, _ := cmd.Flags().GetInt("month")
		status, _ := cmd.Flags().GetString("status")
		annual, _ := cmd.Flags().GetBool("annual")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		filter := store.IndicatorFilter{
			Family:      family,
			Province:    province,
			Year:        year,
			Quarter:     quarter,
			Month:       month,
			Status:      model.DataStatus(status),
			ExactPeriod: annual,
			Limit:       limit,
		}

		records, err := st.ListIndicators(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "records list")
		}

		if len(records) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		}

		formatRecordsList(os.Stdout, records)
		return nil
	},
}

// -- records import --

var recordsImportFile string

var recordsImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk import indicator records from a JSON file",
	Long:  "Imports a JSON array of indicator records as-is, replacing any existing record for the same period. Merge precedence is not applied; this is a trusted backfill path.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("query"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		data, err := os.ReadFile(recordsImportFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", recordsImportFile)
		}

		var records []model.IndicatorRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return eris.Wrapf(err, "parse %s", recordsImportFile)
		}
		if len(records) == 0 {
			return eris.New("no records in file")
		}

		n, err := st.ImportIndicators(ctx, records)
		if err != nil {
			return eris.Wrap(err, "import records")
		}

		zap.L().Info("import complete",
			zap.Int64("imported", n),
			zap.String("file", recordsImportFile),
		)
		return nil
	},
}

func init() {
	recordsListCmd.Flags().String("family", "", "filter by indicator family key")
	recordsListCmd.Flags().String("province", "", "filter by province")
	recordsListCmd.Flags().Int("year", 0, "filter by year")
	recordsListCmd.Flags().Int("quarter", 0, "filter by quarter (1-4)")
	recordsListCmd.Flags().Int("month", 0, "filter by month (1-12)")
	recordsListCmd.Flags().String("status", "", "filter by data status (official, estimated, forecast)")
	recordsListCmd.Flags().Bool("annual", false, "only annual records (quarter and month unset)")
	recordsListCmd.Flags().Int("limit", 50, "max number of records to display")
	recordsListCmd.Flags().Bool("json", false, "output full records as JSON")

	recordsImportCmd.Flags().StringVar(&recordsImportFile, "file", "", "path to JSON records file (required)")
	_ = recordsImportCmd.MarkFlagRequired("file")

	recordsCmd.AddCommand(recordsListCmd)
	recordsCmd.AddCommand(recordsImportCmd)
	rootCmd.AddCommand(recordsCmd)
}

// formatRecordsList writes a tabular record summary to out.
func formatRecordsList(out io.Writer, records []model.IndicatorRecord) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FAMILY\tPROVINCE\tPERIOD\tFIELDS\tSTATUS\tUPDATED")
	_, _ = fmt.Fprintln(w, "------\t--------\t------\t------\t------\t-------")

	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Key.Family,
			r.Key.Province,
			r.Key.Label(),
			r.NonNullCount(),
			r.DataStatus,
			r.LastUpdated.Format("2006-01-02"),
		)
	}
	_ = w.Flush()
}
