package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/models"
	"tillsync/internal/store"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Sales Queue"

// Exporter dumps the local queue into an Excel workbook so a store
// manager can reconcile offline revenue without database access.
type Exporter struct {
	store  *store.Store
	path   string
	logger zerolog.Logger
}

func NewExporter(st *store.Store, cfg config.ExportConfig, logger *zerolog.Logger) *Exporter {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "export").Logger()
	}
	return &Exporter{store: st, path: cfg.Path, logger: l}
}

// WriteQueue streams the queue workbook into w, optionally filtered by
// status.
func (e *Exporter) WriteQueue(ctx context.Context, w io.Writer, status models.SaleStatus) error {
	f, err := e.buildWorkbook(ctx, status)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %v", err)
	}
	return nil
}

// ExportQueueFile writes the workbook into the configured export
// directory and returns the file path.
func (e *Exporter) ExportQueueFile(ctx context.Context, status models.SaleStatus) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	f, err := e.buildWorkbook(ctx, status)
	if err != nil {
		return "", err
	}
	defer f.Close()

	fileName := fmt.Sprintf("queue_export_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(e.path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving export file: %v", err)
	}

	e.logger.Info().Str("path", filePath).Msg("queue exported")
	return filePath, nil
}

func (e *Exporter) buildWorkbook(ctx context.Context, status models.SaleStatus) (*excelize.File, error) {
	sales, err := e.store.ListSales(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("error listing sales: %v", err)
	}

	f := excelize.NewFile()
	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	headers := []string{"Local ID", "Status", "Retry Count", "Total", "Currency",
		"Payment", "Created At", "Last Attempt", "Remote ID", "Last Error"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheetName, cell, h)
	}

	style, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	_ = f.SetCellStyle(sheetName, "A1", "J1", style)

	for row, sale := range sales {
		values := e.saleRow(sale)
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "J", 18)
	_ = f.DeleteSheet("Sheet1")

	return f, nil
}

func (e *Exporter) saleRow(sale models.QueuedSale) []interface{} {
	var total, currency, payment string
	if payload, err := sale.DecodePayload(); err == nil {
		total = formatMinorUnits(payload.Total)
		currency = payload.Currency
		payment = payload.PaymentMethod
	}

	var lastAttempt string
	if sale.LastAttemptAt != nil {
		lastAttempt = sale.LastAttemptAt.Format(time.RFC3339)
	}
	var remoteID string
	if sale.RemoteID != nil {
		remoteID = *sale.RemoteID
	}
	var lastError string
	if sale.LastError != nil {
		lastError = *sale.LastError
	}

	return []interface{}{
		sale.LocalID,
		string(sale.Status),
		sale.RetryCount,
		total,
		currency,
		payment,
		sale.CreatedAt.Format(time.RFC3339),
		lastAttempt,
		remoteID,
		lastError,
	}
}

func formatMinorUnits(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d", sign, amount/100, amount%100)
}
