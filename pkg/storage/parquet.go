package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/writer"
)

// parquetWriters is the number of goroutines marshalling rows into pages.
const parquetWriters = 4

// WriteFeatureParquet writes recs to path as a parquet file. The file is written next to path and renamed into place, so readers never
// observe a partial snapshot.
func WriteFeatureParquet(path string, recs []FeatureRecord, compression string) (err error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	pw, err := writer.NewParquetWriterFromWriter(f, new(FeatureRecord), parquetWriters)
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = codec

	for _, r := range recs {
		if err := pw.Write(r); err != nil {
			return fmt.Errorf("write parquet row: %w", err)
		}
	}

	if err := stopWriter(pw); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	return os.Rename(tmp, path)
}

// ReadFeatureParquet loads every record of the snapshot at path.
func ReadFeatureParquet(path string) ([]FeatureRecord, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(FeatureRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("create parquet reader: %w", err)
	}
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	recs := make([]FeatureRecord, n)
	if n == 0 {
		return recs, nil
	}
	if err := pr.Read(&recs); err != nil {
		return nil, fmt.Errorf("read parquet rows: %w", err)
	}
	return recs, nil
}

// stopWriter finalizes pw; the library panics on some footer errors.
func stopWriter(pw *writer.ParquetWriter) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parquet writer panicked during WriteStop: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet: %w", err)
	}
	return nil
}

func compressionCodec(compression string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compression) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compression)
	}
}
