package exports

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/dbourene/kinjo-production/internal/production"
)

// quarterRecord is the parquet schema of one 15-minute row.
type quarterRecord struct {
	TimestampMillis int64   `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Date            string  `parquet:"name=date, type=BYTE_ARRAY, convertedtype=UTF8"`
	Time            string  `parquet:"name=time, type=BYTE_ARRAY, convertedtype=UTF8"`
	ValueWh         float64 `parquet:"name=value_wh, type=DOUBLE"`
	IntervalLength  string  `parquet:"name=interval_length, type=BYTE_ARRAY, convertedtype=UTF8"`
	InstallationID  string  `parquet:"name=installation_id, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ParquetExporter writes the quarter-hour rows as a parquet file.
type ParquetExporter struct {
	compression parquet.CompressionCodec
}

// NewParquetExporter accepts SNAPPY, GZIP or NONE. Empty means SNAPPY.
func NewParquetExporter(compression string) (*ParquetExporter, error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return nil, err
	}
	return &ParquetExporter{compression: codec}, nil
}

func (*ParquetExporter) Extension() string { return "parquet" }

func (*ParquetExporter) ContentType() string { return "application/vnd.apache.parquet" }

func (e *ParquetExporter) Export(_ production.HourlySeries, rows []production.QuarterHourRow) (out []byte, err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(quarterRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	pw.CompressionType = e.compression

	for _, r := range rows {
		rec := quarterRecord{
			TimestampMillis: r.Timestamp.UnixMilli(),
			Date:            r.Date(),
			Time:            r.Time(),
			ValueWh:         r.ValueWh,
			IntervalLength:  r.IntervalLength,
			InstallationID:  r.InstallationID,
		}
		if err := pw.Write(rec); err != nil {
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}

	// WriteStop can panic on schema mismatches.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("parquet writer panicked: %v", r)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return buf.Bytes(), nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "", "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return parquet.CompressionCodec_UNCOMPRESSED, fmt.Errorf("unsupported parquet compression %q", name)
	}
}
