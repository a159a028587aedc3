package cli

import (
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "List the datasets of the library",
	Long: `List every valid dataset of the library. Directories that do not hold a
readable spec.json are skipped.

Examples:
  annolake datasets
  annolake datasets --stats --format json`,
	Args: cobra.NoArgs,
	RunE: runDatasets,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model files of the library",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

type datasetsOptions struct {
	stats bool
}

var datasetsOpts = &datasetsOptions{}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	rootCmd.AddCommand(modelsCmd)

	datasetsCmd.Flags().BoolVar(&datasetsOpts.stats, "stats", false, "load precomputed statistics")
}

func runDatasets(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	entries, err := e.library.List(datasetsOpts.stats)
	if err != nil {
		e.display.Error("Failed to list datasets: %v", err)
		return err
	}

	if e.display.Structured() {
		infos := make([]any, 0, len(entries))
		for _, entry := range entries {
			infos = append(infos, entry.Info)
		}
		return e.display.JSON(infos)
	}
	if len(entries) == 0 {
		e.display.Info("No datasets in %s", e.paths.GetLibraryPath())
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			entry.Info.ID,
			entry.Info.Name,
			strconv.Itoa(entry.Info.NumElements),
			joinSplits(entry.Info.Splits),
			strconv.Itoa(len(entry.Info.Stats)),
		})
	}
	return e.display.Table([]string{"ID", "Name", "Items", "Splits", "Stats"}, rows)
}

func runModels(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	models, err := e.library.Models(e.cfg.Library.ModelExtensions)
	if err != nil {
		e.display.Error("Failed to list models: %v", err)
		return err
	}

	if e.display.Structured() {
		return e.display.JSON(models)
	}
	if len(models) == 0 {
		e.display.Info("No models in %s", e.paths.GetModelsPath())
		return nil
	}
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		rows = append(rows, []string{m})
	}
	return e.display.Table([]string{"Model"}, rows)
}

func joinSplits(splits []string) string {
	return strings.Join(splits, ",")
}
