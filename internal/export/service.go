package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/entity"
	"github.com/gurigacaferi/skeneri-i-faturave-sub001/internal/repository"
)

// Service flattens an owner's processed line items into accounting
// exports.
type Service struct {
	jobs repository.JobRepository
	log  *zap.Logger
}

func NewService(jobs repository.JobRepository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{jobs: jobs, log: logger}
}

var headers = []string{
	"Date",
	"Category",
	"Item",
	"Quantity",
	"Unit",
	"Amount",
	"Tax Code",
	"Tax %",
	"Merchant",
}

// collect pulls every processed job for the owner and flattens the line
// items inside the date window. A window edge left nil is open on that
// side; the item date string sorts lexicographically as a date.
func (s *Service) collect(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]entity.LineItem, error) {
	jobs, err := s.jobs.ListByOwner(ctx, ownerID, constants.JobStateProcessed)
	if err != nil {
		return nil, eris.Wrap(err, "list processed jobs")
	}

	var fromStr, toStr string
	if from != nil {
		fromStr = from.UTC().Format("2006-01-02")
	}
	if to != nil {
		toStr = to.UTC().Format("2006-01-02")
	}

	items := make([]entity.LineItem, 0)
	for _, job := range jobs {
		for _, item := range job.Result {
			if fromStr != "" && (item.Date == "" || item.Date < fromStr) {
				continue
			}
			if toStr != "" && item.Date > toStr {
				continue
			}
			items = append(items, item)
		}
	}
	return items, nil
}

// XLSX renders the owner's processed line items as a workbook.
func (s *Service) XLSX(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]byte, error) {
	start := time.Now()

	items, err := s.collect(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Line Items"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, eris.Wrap(err, "create sheet")
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, eris.Wrap(err, "drop default sheet")
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for rowIdx, item := range items {
		row := rowIdx + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, item.Date)
		write(2, string(item.Category))
		write(3, item.Name)
		write(4, item.Quantity)
		write(5, item.Unit)
		write(6, item.Amount)
		write(7, string(item.TaxCode))
		write(8, item.TaxPercentage)
		write(9, item.Merchant)
	}

	_ = f.SetColWidth(sheet, "A", "A", 12)
	_ = f.SetColWidth(sheet, "B", "B", 22)
	_ = f.SetColWidth(sheet, "C", "C", 32)
	_ = f.SetColWidth(sheet, "F", "F", 12)
	_ = f.SetColWidth(sheet, "I", "I", 26)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, eris.Wrap(err, "write workbook")
	}

	s.log.Info("export.xlsx.ok",
		zap.String("owner_id", ownerID.String()),
		zap.Int("rows", len(items)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

// CSV renders the same rows as RFC 4180 CSV.
func (s *Service) CSV(ctx context.Context, ownerID uuid.UUID, from, to *time.Time) ([]byte, error) {
	items, err := s.collect(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(headers); err != nil {
		return nil, eris.Wrap(err, "write header")
	}
	for _, item := range items {
		record := []string{
			item.Date,
			string(item.Category),
			item.Name,
			formatFloat(item.Quantity),
			item.Unit,
			formatFloat(item.Amount),
			string(item.TaxCode),
			formatFloat(item.TaxPercentage),
			item.Merchant,
		}
		if err := w.Write(record); err != nil {
			return nil, eris.Wrap(err, "write record")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, eris.Wrap(err, "flush csv")
	}

	s.log.Info("export.csv.ok",
		zap.String("owner_id", ownerID.String()),
		zap.Int("rows", len(items)),
	)
	return buf.Bytes(), nil
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return fmt.Sprintf("%.2f", f)
}
