package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gso-insight/indicator-cli/internal/model"
	"github.com/gso-insight/indicator-cli/internal/registry"
)

var familiesCmd = &cobra.Command{
	Use:   "families",
	Short: "Inspect indicator family descriptors",
}

var familiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured indicator families",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(cfg.Families.Path)
		if err != nil {
			return err
		}

		formatFamiliesList(os.Stdout, reg)
		return nil
	},
}

var familiesValidateFile string

var familiesValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a family descriptor file",
	Long:  "Loads and compiles a descriptor file without touching the store, so descriptor edits can be checked before deployment.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		reg, err := registry.Load(familiesValidateFile)
		if err != nil {
			return err
		}

		zap.L().Info("descriptor file valid",
			zap.String("file", familiesValidateFile),
			zap.Int("families", reg.Len()),
		)
		return nil
	},
}

func init() {
	familiesValidateCmd.Flags().StringVar(&familiesValidateFile, "file", "", "path to descriptor YAML (required)")
	_ = familiesValidateCmd.MarkFlagRequired("file")

	familiesCmd.AddCommand(familiesListCmd)
	familiesCmd.AddCommand(familiesValidateCmd)
	rootCmd.AddCommand(familiesCmd)
}

// formatFamiliesList writes a tabular family summary to out.
func formatFamiliesList(out io.Writer, reg *model.FamilyRegistry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY\tNAME\tFIELDS\tCHECKS\tKEYWORDS")
	_, _ = fmt.Fprintln(w, "---\t----\t------\t------\t--------")

	for _, fam := range reg.Families() {
		keywords := strings.Join(fam.Keywords, ", ")
		if len(keywords) > 40 {
			keywords = keywords[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
			fam.Key, fam.Name, len(fam.Fields), len(fam.Checks), keywords)
	}
	_ = w.Flush()
}
