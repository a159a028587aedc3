package cli

import (
	"fmt"
	"strings"

	"github.com/gear6io/annolake/server/schema"
	"github.com/gear6io/annolake/server/stats"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats <dataset>",
	Short: "Show the precomputed statistics of a dataset",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var statsComputeCmd = &cobra.Command{
	Use:   "compute <dataset>",
	Short: "Compute column histograms and store them in stats.json",
	Long: `Compute one histogram per column and replace stats.json. Columns are given
as group.table.column, optionally followed by =label.

Examples:
  annolake stats compute coco --column objects.objects.category_name=Categories
  annolake stats compute dota --column main.db.score --bins 20`,
	Args: cobra.ExactArgs(1),
	RunE: runStatsCompute,
}

type statsOptions struct {
	columns []string
	bins    int
}

var statsOpts = &statsOptions{}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.AddCommand(statsComputeCmd)

	statsComputeCmd.Flags().StringSliceVar(&statsOpts.columns, "column", nil, "column to summarize (group.table.column[=label])")
	statsComputeCmd.Flags().IntVar(&statsOpts.bins, "bins", stats.DefaultBins, "bins of numerical histograms")
	_ = statsComputeCmd.MarkFlagRequired("column")
}

func runStats(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ds, err := e.openDataset(args[0])
	if err != nil {
		e.display.Error("Cannot open dataset %s: %v", args[0], err)
		return err
	}
	loaded, err := ds.Stats()
	if err != nil {
		e.display.Error("Cannot read statistics: %v", err)
		return err
	}

	if e.display.Structured() {
		return e.display.JSON(loaded)
	}
	if len(loaded) == 0 {
		e.display.Info("Dataset %s has no statistics", ds.Info.Name)
		return nil
	}
	rows := make([][]string, 0, len(loaded))
	for _, s := range loaded {
		rng := ""
		if len(s.Range) == 2 {
			rng = fmt.Sprintf("%g..%g", s.Range[0], s.Range[1])
		}
		rows = append(rows, []string{s.Name, string(s.Type), fmt.Sprint(len(s.Histogram)), rng})
	}
	return e.display.Table([]string{"Name", "Type", "Bins", "Range"}, rows)
}

func runStatsCompute(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	ds, err := e.openDataset(args[0])
	if err != nil {
		e.display.Error("Cannot open dataset %s: %v", args[0], err)
		return err
	}

	computed := make([]stats.DatasetStat, 0, len(statsOpts.columns))
	for _, arg := range statsOpts.columns {
		col, err := parseColumn(arg)
		if err != nil {
			return err
		}
		stat, err := stats.Compute(ds.Handle, col, statsOpts.bins)
		if err != nil {
			e.display.Error("Cannot summarize %s: %v", arg, err)
			return err
		}
		computed = append(computed, stat)
	}

	if err := stats.Save(ds.Paths.GetBasePath(), computed); err != nil {
		return err
	}
	e.display.Success("Stored %d statistics for %s", len(computed), ds.Info.Name)
	return nil
}

func parseColumn(arg string) (stats.Column, error) {
	ref, label, _ := strings.Cut(arg, "=")
	parts := strings.SplitN(ref, ".", 3)
	if len(parts) != 3 {
		return stats.Column{}, fmt.Errorf("column %q is not group.table.column", arg)
	}
	group, err := schema.ParseGroup(parts[0])
	if err != nil {
		return stats.Column{}, err
	}
	return stats.Column{Group: group, Table: parts[1], Name: parts[2], Label: label}, nil
}
