package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gear6io/annolake/server/item"
	"github.com/spf13/cobra"
)

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Read or replace one item of a dataset",
}

var itemGetCmd = &cobra.Command{
	Use:   "get <dataset> <item>",
	Short: "Print an assembled item as JSON",
	Args:  cobra.ExactArgs(2),
	RunE:  runItemGet,
}

var itemPutCmd = &cobra.Command{
	Use:   "put <dataset> <item> [file]",
	Short: "Replace an item with the JSON read from a file or stdin",
	Long: `Replace everything stored for an item with a JSON item, as printed by
"item get". Omitted views, objects or embeddings are left untouched; empty
ones remove the stored rows.

Examples:
  annolake item get coco 000139 > item.json
  annolake item put coco 000139 item.json`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runItemPut,
}

var itemsCmd = &cobra.Command{
	Use:   "items <dataset>",
	Short: "List a page of items",
	Args:  cobra.ExactArgs(1),
	RunE:  runItems,
}

type itemsOptions struct {
	split  string
	offset int
	limit  int
}

var itemsOpts = &itemsOptions{}

func init() {
	rootCmd.AddCommand(itemCmd)
	rootCmd.AddCommand(itemsCmd)
	itemCmd.AddCommand(itemGetCmd)
	itemCmd.AddCommand(itemPutCmd)

	itemsCmd.Flags().StringVar(&itemsOpts.split, "split", "", "only list this split")
	itemsCmd.Flags().IntVar(&itemsOpts.offset, "offset", 0, "items to skip")
	itemsCmd.Flags().IntVar(&itemsOpts.limit, "limit", 20, "page size, 0 for all")
}

func runItemGet(cmd *cobra.Command, args []string) error {
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

	it, err := item.NewAssembler(ds.Handle).GetItem(args[1])
	if err != nil {
		e.display.Error("Cannot read item %s: %v", args[1], err)
		return err
	}
	return e.display.JSON(it)
}

func runItemPut(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	var in io.Reader = cmd.InOrStdin()
	if len(args) == 3 {
		f, err := os.Open(args[2])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var it item.DatasetItem
	if err := json.NewDecoder(in).Decode(&it); err != nil {
		e.display.Error("Invalid item JSON: %v", err)
		return fmt.Errorf("decode item: %w", err)
	}

	ds, err := e.openDataset(args[0])
	if err != nil {
		e.display.Error("Cannot open dataset %s: %v", args[0], err)
		return err
	}
	if err := item.NewAssembler(ds.Handle).PutItem(args[1], &it); err != nil {
		e.display.Error("Cannot write item %s: %v", args[1], err)
		return err
	}
	e.display.Success("Replaced item %s", args[1])
	return nil
}

func runItems(cmd *cobra.Command, args []string) error {
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

	page, err := item.NewAssembler(ds.Handle).ListItems(itemsOpts.split, itemsOpts.offset, itemsOpts.limit)
	if err != nil {
		e.display.Error("Cannot list items: %v", err)
		return err
	}

	if e.display.Structured() {
		return e.display.JSON(page)
	}
	rows := make([][]string, 0, len(page.Items))
	for _, it := range page.Items {
		rows = append(rows, []string{it.ID, it.Split, strconv.Itoa(len(it.Views)), strconv.Itoa(len(it.Objects))})
	}
	if err := e.display.Table([]string{"ID", "Split", "Views", "Objects"}, rows); err != nil {
		return err
	}
	e.display.Info("Items %d-%d of %d", page.Offset+1, page.Offset+len(page.Items), page.Total)
	return nil
}
