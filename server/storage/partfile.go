package storage

import (
	"context"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/gear6io/annolake/pkg/errors"
	"github.com/gear6io/annolake/server/schema"
)

// compressionCodec maps a configured codec name to its parquet codec
func compressionCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	case "gzip", "gz":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	default:
		return compress.Codecs.Uncompressed, errors.New(ErrUnsupportedCodec, "unsupported compression type", nil).AddContext("compression", name)
	}
}

// writePartFile encodes rows and writes them as one parquet file. A failed
// write removes the partial file.
func writePartFile(path string, table schema.DatasetTable, rows []Row, mem memory.Allocator, props *parquet.WriterProperties) error {
	rec, err := buildRecord(mem, table, rows)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return errors.New(ErrWriteFailed, "failed to create part file", err).AddContext("path", path)
	}

	w, err := pqarrow.NewFileWriter(rec.Schema(), f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		f.Close()
		os.Remove(path)
		return errors.New(ErrWriteFailed, "failed to create parquet writer", err).AddContext("path", path)
	}

	if err := w.Write(rec); err != nil {
		w.Close()
		os.Remove(path)
		return errors.New(ErrWriteFailed, "failed to write record", err).AddContext("path", path)
	}

	// Closing the writer also closes the file
	if err := w.Close(); err != nil {
		os.Remove(path)
		return errors.New(ErrWriteFailed, "failed to close parquet writer", err).AddContext("path", path)
	}
	return nil
}

// readPartFile decodes every row of a part file together with the file's
// physical schema.
func readPartFile(path string, mem memory.Allocator) ([]Row, *arrow.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.New(ErrStorageCorruption, "failed to open part file", err).AddContext("path", path)
	}
	defer f.Close()

	tbl, err := pqarrow.ReadTable(context.Background(), f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, nil, errors.New(ErrStorageCorruption, "malformed part file", err).AddContext("path", path)
	}
	defer tbl.Release()

	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	rows := make([]Row, 0, tbl.NumRows())
	for tr.Next() {
		rows = append(rows, recordRows(tr.Record())...)
	}
	return rows, tbl.Schema(), nil
}
