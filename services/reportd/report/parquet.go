package report

import (
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"launchpad/integrations/exports"
)

type parquetRow struct {
	Sequence     int64  `parquet:"name=sequence, type=INT64"`
	RecordedAt   string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
	Buyer        string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	StageID      int64  `parquet:"name=stage_id, type=INT64"`
	StableAmount string `parquet:"name=stable_amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset        string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	AmountIn     string `parquet:"name=amount_in, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, records []exports.ContributionRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("report: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("report: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, record := range records {
		pr := &parquetRow{
			Sequence:     int64(record.Sequence),
			RecordedAt:   record.RecordedAt.UTC().Format(time.RFC3339),
			Buyer:        record.Buyer,
			StageID:      int64(record.StageID),
			StableAmount: record.StableAmount,
			Asset:        record.Asset,
			AmountIn:     record.AmountIn,
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("report: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("report: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("report: close parquet file: %w", err)
	}
	return nil
}
