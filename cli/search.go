package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gear6io/annolake/server/item"
	"github.com/gear6io/annolake/server/search"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <dataset>",
	Short: "Rank the items of a dataset by embedding distance",
	Long: `Rank the items of a dataset by the distance between their stored embeddings
and a query vector, or the stored vector of another item.

Examples:
  annolake search coco --model clip --vector 0.1,0.3,0.2
  annolake search coco --model clip --item 000139 --top-k 5 --items`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

var embeddingCmd = &cobra.Command{
	Use:   "embedding <dataset> <item>",
	Short: "Print the stored embedding of an item",
	Args:  cobra.ExactArgs(2),
	RunE:  runEmbedding,
}

type searchOptions struct {
	model  string
	vector string
	text   string
	itemID string
	topK   int
	metric string
	items  bool
}

var searchOpts = &searchOptions{}

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(embeddingCmd)

	for _, c := range []*cobra.Command{searchCmd, embeddingCmd} {
		c.Flags().StringVar(&searchOpts.model, "model", "", "embedding table or model name")
		_ = c.MarkFlagRequired("model")
	}
	searchCmd.Flags().StringVar(&searchOpts.vector, "vector", "", "comma-separated query vector")
	searchCmd.Flags().StringVar(&searchOpts.text, "text", "", "text query")
	searchCmd.Flags().StringVar(&searchOpts.itemID, "item", "", "use the stored vector of this item as the query")
	searchCmd.Flags().IntVar(&searchOpts.topK, "top-k", 0, "number of results (default: search.default_top_k)")
	searchCmd.Flags().StringVar(&searchOpts.metric, "metric", "", "l2 or cosine (default: search.metric)")
	searchCmd.Flags().BoolVar(&searchOpts.items, "items", false, "print the assembled items")
}

func runSearch(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	metricName := searchOpts.metric
	if metricName == "" {
		metricName = e.cfg.Search.Metric
	}
	metric, err := search.ParseMetric(metricName)
	if err != nil {
		return err
	}
	topK := searchOpts.topK
	if topK == 0 {
		topK = e.cfg.Search.DefaultTopK
	}

	ds, err := e.openDataset(args[0])
	if err != nil {
		e.display.Error("Cannot open dataset %s: %v", args[0], err)
		return err
	}
	engine := search.NewEngine(ds.Handle, search.WithMetric(metric), search.WithLogger(e.logger))

	var results []search.Result
	if searchOpts.itemID != "" {
		results, err = engine.SearchByItem(cmd.Context(), searchOpts.model, searchOpts.itemID, topK)
	} else {
		var query search.Query
		if query.Vector, err = parseVector(searchOpts.vector); err != nil {
			return err
		}
		query.Text = searchOpts.text
		results, err = engine.Search(cmd.Context(), searchOpts.model, query, topK)
	}
	if err != nil {
		e.display.Error("Search failed: %v", err)
		return err
	}

	if searchOpts.items {
		items, err := search.Items(item.NewAssembler(ds.Handle), results)
		if err != nil {
			return err
		}
		return e.display.JSON(items)
	}

	if e.display.Structured() {
		return e.display.JSON(results)
	}
	rows := make([][]string, 0, len(results))
	for i, r := range results {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.ItemID, strconv.FormatFloat(r.Distance, 'f', 4, 64)})
	}
	return e.display.Table([]string{"Rank", "Item", "Distance"}, rows)
}

func runEmbedding(cmd *cobra.Command, args []string) error {
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
	vec, err := search.NewEngine(ds.Handle).GetEmbedding(searchOpts.model, args[1])
	if err != nil {
		e.display.Error("No embedding: %v", err)
		return err
	}
	return e.display.JSON(vec)
}

func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}
