// Package recon materialises windowed activity reports from the operation
// journal, in both CSV and parquet form, for downstream reconciliation
// against the debt facility's books.
package recon

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

// Row is one journalled operation in report form.
type Row struct {
	ID        string
	Kind      string
	Actor     string
	Subject   string
	Amount    string
	Detail    string
	CreatedAt time.Time
}

// Report names the files written for one window.
type Report struct {
	CSVPath     string
	ParquetPath string
	Rows        int
}

// Reporter writes activity reports under a fixed output directory.
type Reporter struct {
	outputDir string
}

// NewReporter constructs a Reporter rooted at outputDir.
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// Write materialises the rows for the given window. The window bounds only
// name the files; callers select the rows.
func (r *Reporter) Write(start, end time.Time, rows []Row) (*Report, error) {
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("recon: create output dir: %w", err)
	}
	base := fmt.Sprintf("activity_%s_%s", start.UTC().Format("20060102T150405Z"), end.UTC().Format("20060102T150405Z"))
	csvPath := filepath.Join(r.outputDir, base+".csv")
	if err := writeCSV(csvPath, rows); err != nil {
		return nil, err
	}
	parquetPath := filepath.Join(r.outputDir, base+".parquet")
	if err := writeParquet(parquetPath, rows); err != nil {
		return nil, err
	}
	return &Report{CSVPath: csvPath, ParquetPath: parquetPath, Rows: len(rows)}, nil
}

var csvHeader = []string{"id", "kind", "actor", "subject", "amount", "detail", "created_at"}

func writeCSV(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	if err := w.Write(csvHeader); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.ID,
			row.Kind,
			row.Actor,
			row.Subject,
			row.Amount,
			row.Detail,
			row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

type parquetRow struct {
	ID        string `parquet:"name=id, type=UTF8"`
	Kind      string `parquet:"name=kind, type=UTF8"`
	Actor     string `parquet:"name=actor, type=UTF8"`
	Subject   string `parquet:"name=subject, type=UTF8"`
	Amount    string `parquet:"name=amount, type=UTF8"`
	Detail    string `parquet:"name=detail, type=UTF8"`
	CreatedAt string `parquet:"name=created_at, type=UTF8"`
}

func writeParquet(path string, rows []Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			ID:        row.ID,
			Kind:      row.Kind,
			Actor:     row.Actor,
			Subject:   row.Subject,
			Amount:    row.Amount,
			Detail:    row.Detail,
			CreatedAt: row.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet: %w", err)
	}
	return nil
}
