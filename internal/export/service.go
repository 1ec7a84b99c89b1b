package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"invoice-scanner/internal/repository"
)

// Service is a tiny façade over the invoice repository that produces
// XLSX bytes for exports.
type Service struct {
	invoices repository.InvoiceRepository
	logger   *slog.Logger
}

func NewService(invoices repository.InvoiceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, logger: logger}
}

// ExportInvoicesXLSX returns an XLSX workbook (as bytes) for the latest
// stored invoices, one row per line item. limit caps how many invoices
// are included; values <= 0 fall back to the listing default.
func (s *Service) ExportInvoicesXLSX(ctx context.Context, limit int) ([]byte, error) {
	start := time.Now()

	invoices, err := s.invoices.ListInvoices(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	f := excelize.NewFile()
	const sheet = "Invoices"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	// The workbook is created with a default sheet we do not use.
	_ = f.DeleteSheet("Sheet1")

	headers := []string{
		"Invoice ID",
		"Invoice Number",
		"Date",
		"Merchant",
		"Item",
		"Category",
		"Item Price",
		"Invoice Total",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	write := func(col, row int, v any) {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		_ = f.SetCellValue(sheet, cell, v)
	}

	row := 2
	rows := 0
	for _, inv := range invoices {
		number := ""
		if inv.InvoiceNumber != nil {
			number = *inv.InvoiceNumber
		}
		if len(inv.Items) == 0 {
			// Invoices without line items still get a row so totals
			// are not silently dropped from the report.
			write(1, row, inv.ID)
			write(2, row, number)
			write(3, row, inv.Date)
			write(4, row, inv.MerchantName)
			write(8, row, inv.TotalAmount)
			row++
			rows++
			continue
		}
		for _, it := range inv.Items {
			write(1, row, inv.ID)
			write(2, row, number)
			write(3, row, inv.Date)
			write(4, row, inv.MerchantName)
			write(5, row, it.Name)
			write(6, row, it.CategoryName)
			write(7, row, it.Price)
			write(8, row, inv.TotalAmount)
			row++
			rows++
		}
	}

	_ = f.SetColWidth(sheet, "A", "B", 14)
	_ = f.SetColWidth(sheet, "C", "C", 14)
	_ = f.SetColWidth(sheet, "D", "D", 28)
	_ = f.SetColWidth(sheet, "E", "E", 36)
	_ = f.SetColWidth(sheet, "F", "F", 22)
	_ = f.SetColWidth(sheet, "G", "H", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"invoices", len(invoices),
		"rows", rows,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}
