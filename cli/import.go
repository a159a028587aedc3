package cli

import (
	"os"
	"strconv"
	"time"

	"github.com/gear6io/annolake/server/exporter"
	"github.com/gear6io/annolake/server/importer"
	"github.com/gear6io/annolake/server/paths"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a source dataset into the library",
	Long: `Import a source dataset into the library.

Formats:
- image: a folder of images, one subdirectory per split
- dota:  DOTA v2 images with horizontal bounding box labels
- coco:  COCO images with instances_<split>.json annotation files

Examples:
  annolake import image ./photos --name photos --splits train,val
  annolake import dota --images ./dota/images --objects ./dota/labelTxt --name dota --splits train,val
  annolake import coco --images ./coco/images --objects ./coco/annotations --name coco --splits val2017`,
}

var importImageCmd = &cobra.Command{
	Use:   "image <dir>",
	Short: "Import a folder of images without annotations",
	Args:  cobra.ExactArgs(1),
	RunE:  runImportImage,
}

var importDOTACmd = &cobra.Command{
	Use:   "dota",
	Short: "Import a DOTA dataset",
	Args:  cobra.NoArgs,
	RunE:  runImportFormat("dota"),
}

var importCOCOCmd = &cobra.Command{
	Use:   "coco",
	Short: "Import a COCO dataset",
	Args:  cobra.NoArgs,
	RunE:  runImportFormat("coco"),
}

type importOptions struct {
	name        string
	description string
	dir         string
	splits      []string
	images      string
	objects     string
	copyMedia   bool
	flushItems  int
}

var importOpts = &importOptions{}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.AddCommand(importImageCmd)
	importCmd.AddCommand(importDOTACmd)
	importCmd.AddCommand(importCOCOCmd)

	importCmd.PersistentFlags().StringVar(&importOpts.name, "name", "", "dataset name")
	importCmd.PersistentFlags().StringVar(&importOpts.description, "description", "", "dataset description")
	importCmd.PersistentFlags().StringVar(&importOpts.dir, "dir", "", "dataset directory name inside the library (default: the name)")
	importCmd.PersistentFlags().StringSliceVar(&importOpts.splits, "splits", []string{importer.FlatSplit}, "splits to import")
	importCmd.PersistentFlags().BoolVar(&importOpts.copyMedia, "copy-media", true, "copy media into the dataset instead of referencing it")
	importCmd.PersistentFlags().IntVar(&importOpts.flushItems, "flush-items", importer.DefaultFlushItems, "items buffered per part file")

	for _, c := range []*cobra.Command{importDOTACmd, importCOCOCmd} {
		c.Flags().StringVar(&importOpts.images, "images", "", "image directory")
		c.Flags().StringVar(&importOpts.objects, "objects", "", "annotation directory")
		_ = c.MarkFlagRequired("images")
		_ = c.MarkFlagRequired("objects")
	}
}

func runImportImage(cmd *cobra.Command, args []string) error {
	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	imp, err := importer.NewImageImporter(importOpts.name, importOpts.description, args[0], importOpts.splits,
		importer.WithThumbnailSize(e.cfg.Import.ThumbnailSize))
	if err != nil {
		e.display.Error("Cannot import %s: %v", args[0], err)
		return err
	}
	return runImport(cmd, e, imp)
}

func runImportFormat(format string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		defer e.close()

		dirs := map[string]string{
			importer.ImageDir:   importOpts.images,
			importer.ObjectsDir: importOpts.objects,
		}
		thumbs := importer.WithThumbnailSize(e.cfg.Import.ThumbnailSize)

		var imp importer.Importer
		switch format {
		case "dota":
			imp, err = importer.NewDOTAImporter(importOpts.name, importOpts.description, dirs, importOpts.splits, thumbs)
		default:
			imp, err = importer.NewCOCOImporter(importOpts.name, importOpts.description, dirs, importOpts.splits, thumbs)
		}
		if err != nil {
			e.display.Error("Cannot import %s dataset: %v", format, err)
			return err
		}
		return runImport(cmd, e, imp)
	}
}

func runImport(cmd *cobra.Command, e *env, imp importer.Importer) error {
	name := importOpts.dir
	if name == "" {
		name = importOpts.name
	}
	if err := paths.ValidateName("dataset", name); err != nil {
		e.display.Error("Invalid dataset directory %q: %v", name, err)
		return err
	}
	dir := e.paths.GetDatasetPath(name)
	if _, err := os.Stat(dir); err == nil {
		e.display.Error("Dataset directory %s already exists", dir)
		return os.ErrExist
	}

	copyMedia := importOpts.copyMedia
	if !cmd.Flags().Changed("copy-media") {
		copyMedia = e.cfg.Import.CopyMedia
	}
	driver := importer.NewDriver(e.logger, copyMedia, e.storageOptions()...)
	driver.SetFlushItems(importOpts.flushItems)

	start := time.Now()
	ds, err := driver.Import(cmd.Context(), imp, dir)
	if err != nil {
		if ds != nil {
			e.display.Warning("Import stopped after %d items", ds.Info.NumElements)
		}
		e.display.Error("Import failed: %v", err)
		return err
	}

	if e.display.Structured() {
		return e.display.JSON(ds.Info)
	}
	e.display.Success("Imported %s (%s) in %s", ds.Info.Name, ds.Info.ID, time.Since(start).Round(time.Millisecond))
	return e.display.Table([]string{"ID", "Name", "Items", "Splits", "Path"}, [][]string{{
		ds.Info.ID, ds.Info.Name, strconv.Itoa(ds.Info.NumElements), joinSplits(ds.Info.Splits), dir,
	}})
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a dataset to a source format",
	Long: `Export a dataset of the library to a source format.

Examples:
  annolake export dota dota-v2 ./out
  annolake export coco 01J9Z8... ./out`,
}

var exportDOTACmd = &cobra.Command{
	Use:   "dota <dataset> <dir>",
	Short: "Export to DOTA horizontal bounding box labels",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport("dota"),
}

var exportCOCOCmd = &cobra.Command{
	Use:   "coco <dataset> <dir>",
	Short: "Export to COCO instances files",
	Args:  cobra.ExactArgs(2),
	RunE:  runExport("coco"),
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportDOTACmd)
	exportCmd.AddCommand(exportCOCOCmd)
}

func runExport(format string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
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

		var exp exporter.Exporter
		switch format {
		case "dota":
			exp = exporter.NewDOTAExporter(e.logger)
		default:
			exp = exporter.NewCOCOExporter(e.logger)
		}

		if err := exp.ExportDataset(cmd.Context(), ds.Paths.GetBasePath(), args[1]); err != nil {
			e.display.Error("Export failed: %v", err)
			return err
		}
		e.display.Success("Exported %s to %s", ds.Info.Name, args[1])
		return nil
	}
}
