package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/soaringjerry/Mindwell/internal/assessment"
)

var variantsDir string

var variantsCmd = &cobra.Command{
	Use:   "variants",
	Short: "Inspect assessment variant definitions",
}

var variantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the variants the server would load",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadVariants()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTITLE\tQUESTIONS\tSTAGED")
		for _, v := range catalog.List() {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%t\n", v.ID, v.Title, len(v.Questions), v.Staged())
		}
		return tw.Flush()
	},
}

var variantsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Parse and check every variant definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := loadVariants()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d variants ok\n", len(catalog.List()))
		return nil
	},
}

// loadVariants prefers --dir, then MINDWELL_VARIANTS_DIR, then the built-in set.
func loadVariants() (*assessment.Catalog, error) {
	dir := variantsDir
	if dir == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dir = cfg.VariantsDir
	}
	catalog, err := assessment.LoadCatalog(dir)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	return catalog, nil
}

func init() {
	variantsCmd.PersistentFlags().StringVar(&variantsDir, "dir", "", "directory of variant YAML files")
	variantsCmd.AddCommand(variantsListCmd)
	variantsCmd.AddCommand(variantsValidateCmd)
}
