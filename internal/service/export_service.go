package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"tai-ledger-api/internal/engine"
	"tai-ledger-api/internal/models"
)

const (
	exportSheet      = "Transactions"
	XLSXContentType  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	exportDateLayout = "2006-01-02 15:04:05"
)

var exportHeaders = []string{"ID", "Date", "Type", "Direction", "Amount", "Currency", "Status", "Description"}

// ExportService renders an account's history as a spreadsheet.
type ExportService interface {
	ExportTransactions(ctx context.Context, accountID int64) (*bytes.Buffer, error)
}

type exportService struct {
	log engine.TransactionLog
}

func NewExportService(log engine.TransactionLog) ExportService {
	return &exportService{log: log}
}

func (s *exportService) ExportTransactions(ctx context.Context, accountID int64) (*bytes.Buffer, error) {
	txs, err := s.log.ListFor(ctx, accountID, 0)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("failed to remove default sheet: %w", err)
	}

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	for i, tx := range txs {
		row := []interface{}{
			tx.ID,
			tx.CreatedAt.UTC().Format(exportDateLayout),
			string(tx.Type),
			direction(tx, accountID),
			tx.Amount.StringFixed(engine.AmountScale),
			string(tx.Currency),
			string(tx.Status),
			tx.Description,
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 8)
	_ = f.SetColWidth(exportSheet, "B", "B", 20)
	_ = f.SetColWidth(exportSheet, "C", "D", 18)
	_ = f.SetColWidth(exportSheet, "E", "E", 18)
	_ = f.SetColWidth(exportSheet, "F", "G", 10)
	_ = f.SetColWidth(exportSheet, "H", "H", 50)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to render workbook: %w", err)
	}
	return buf, nil
}

// direction is relative to the exporting account: a row it only appears in
// as counterparty is listed from the owner's perspective.
func direction(tx *models.Transaction, accountID int64) string {
	if tx.UserID != accountID {
		return "related"
	}
	if tx.Type.Credits() {
		return "credit"
	}
	return "debit"
}
