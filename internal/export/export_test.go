package export

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/models"
	"tillsync/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newExportEnv(t *testing.T) (*store.Store, *Exporter) {
	t.Helper()

	logger := zerolog.Nop()
	dir := t.TempDir()
	st, err := store.NewStore(filepath.Join(dir, "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	exporter := NewExporter(st, config.ExportConfig{Path: filepath.Join(dir, "exports")}, &logger)
	return st, exporter
}

func enqueueSale(t *testing.T, st *store.Store, total int64) int64 {
	t.Helper()
	payload := models.SalePayload{
		Lines:         []models.SaleLine{{SKU: "ESP-01", Name: "Espresso", Quantity: 1, UnitPrice: total, LineTotal: total}},
		Subtotal:      total,
		Total:         total,
		Currency:      "EUR",
		PaymentMethod: "cash",
		CompletedAt:   time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	id, err := st.Enqueue(context.Background(), string(raw))
	require.NoError(t, err)
	return id
}

func TestWriteQueueWorkbook(t *testing.T) {
	st, exporter := newExportEnv(t)
	ctx := context.Background()

	enqueueSale(t, st, 902)
	id2 := enqueueSale(t, st, 1250)
	require.NoError(t, st.MarkUploading(ctx, id2, time.Now()))
	require.NoError(t, st.MarkSynced(ctx, id2, "srv-2"))

	var buf bytes.Buffer
	require.NoError(t, exporter.WriteQueue(ctx, &buf, ""))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Local ID", rows[0][0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "queued", rows[1][1])
	assert.Equal(t, "9.02", rows[1][3])
	assert.Equal(t, "synced", rows[2][1])
	assert.Equal(t, "srv-2", rows[2][8])
}

func TestWriteQueueStatusFilter(t *testing.T) {
	st, exporter := newExportEnv(t)
	ctx := context.Background()

	enqueueSale(t, st, 500)
	id := enqueueSale(t, st, 700)
	require.NoError(t, st.MarkUploading(ctx, id, time.Now()))
	require.NoError(t, st.MarkFailedPermanent(ctx, id, "rejected"))

	var buf bytes.Buffer
	require.NoError(t, exporter.WriteQueue(ctx, &buf, models.StatusFailed))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "failed", rows[1][1])
	assert.Equal(t, "rejected", rows[1][9])
}

func TestExportQueueFile(t *testing.T) {
	st, exporter := newExportEnv(t)

	enqueueSale(t, st, 100)

	path, err := exporter.ExportQueueFile(context.Background(), "")
	require.NoError(t, err)
	assert.FileExists(t, path)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestFormatMinorUnits(t *testing.T) {
	assert.Equal(t, "9.02", formatMinorUnits(902))
	assert.Equal(t, "0.05", formatMinorUnits(5))
	assert.Equal(t, "-1.50", formatMinorUnits(-150))
}
