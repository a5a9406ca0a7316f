package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tillsync/internal/events"
	"tillsync/internal/models"
	"tillsync/internal/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKicker struct{ kicks int }

func (f *fakeKicker) Kick() { f.kicks++ }

type svcEnv struct {
	store  *store.Store
	bus    *events.EventBus
	kicker *fakeKicker
	svc    *SaleService
}

func newSvcEnv(t *testing.T) *svcEnv {
	t.Helper()

	logger := zerolog.Nop()
	st, err := store.NewStore(filepath.Join(t.TempDir(), "queue.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	bus := events.NewEventBus()
	kicker := &fakeKicker{}
	svc := NewSaleService(st, bus, kicker, "EUR", &logger)

	return &svcEnv{store: st, bus: bus, kicker: kicker, svc: svc}
}

func validSale() *models.SalePayload {
	return &models.SalePayload{
		Lines: []models.SaleLine{
			{SKU: "ESP-01", Name: "Espresso", Quantity: 2, UnitPrice: 250, LineTotal: 500},
			{SKU: "CRS-02", Name: "Croissant", Quantity: 1, UnitPrice: 320, LineTotal: 320},
		},
		Subtotal:      820,
		TaxTotal:      82,
		Total:         902,
		Currency:      "EUR",
		PaymentMethod: "card",
		CompletedAt:   time.Now().UTC(),
	}
}

func TestEnqueueSale(t *testing.T) {
	env := newSvcEnv(t)

	var enqueued []events.SaleEventPayload
	env.bus.Subscribe(events.EventSaleEnqueued, func(ev *events.Event) error {
		var p events.SaleEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		enqueued = append(enqueued, p)
		return nil
	})

	id, err := env.svc.EnqueueSale(context.Background(), validSale())
	require.NoError(t, err)
	assert.Equal(t, int64(1), id)

	sale, err := env.store.GetSale(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueued, sale.Status)

	decoded, err := sale.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, int64(902), decoded.Total)
	assert.Len(t, decoded.Lines, 2)

	require.Len(t, enqueued, 1)
	assert.Equal(t, id, enqueued[0].LocalID)
	assert.Equal(t, 1, env.kicker.kicks)
}

func TestEnqueueSaleDefaultsCurrency(t *testing.T) {
	env := newSvcEnv(t)

	sale := validSale()
	sale.Currency = ""
	id, err := env.svc.EnqueueSale(context.Background(), sale)
	require.NoError(t, err)

	stored, err := env.store.GetSale(context.Background(), id)
	require.NoError(t, err)
	decoded, err := stored.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, "EUR", decoded.Currency)
}

func TestValidateSale(t *testing.T) {
	env := newSvcEnv(t)

	tests := []struct {
		name    string
		mutate  func(*models.SalePayload)
		wantErr error
	}{
		{
			name:    "no lines",
			mutate:  func(s *models.SalePayload) { s.Lines = nil },
			wantErr: ErrEmptySale,
		},
		{
			name:    "zero quantity",
			mutate:  func(s *models.SalePayload) { s.Lines[0].Quantity = 0 },
			wantErr: ErrInvalidSale,
		},
		{
			name:    "nameless line",
			mutate:  func(s *models.SalePayload) { s.Lines[0].SKU = ""; s.Lines[0].Name = "" },
			wantErr: ErrInvalidSale,
		},
		{
			name:    "subtotal mismatch",
			mutate:  func(s *models.SalePayload) { s.Subtotal = 999 },
			wantErr: ErrInvalidSale,
		},
		{
			name:    "total mismatch",
			mutate:  func(s *models.SalePayload) { s.Total = 100 },
			wantErr: ErrInvalidSale,
		},
		{
			name:    "missing completed_at",
			mutate:  func(s *models.SalePayload) { s.CompletedAt = time.Time{} },
			wantErr: ErrInvalidSale,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sale := validSale()
			tt.mutate(sale)
			_, err := env.svc.EnqueueSale(context.Background(), sale)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestListSalesRejectsUnknownStatus(t *testing.T) {
	env := newSvcEnv(t)

	_, err := env.svc.ListSales(context.Background(), "exploded")
	assert.ErrorIs(t, err, ErrUnknownStatus)

	sales, err := env.svc.ListSales(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestRetrySale(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	id, err := env.svc.EnqueueSale(ctx, validSale())
	require.NoError(t, err)

	// Retry only applies to failed records
	err = env.svc.RetrySale(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, env.store.MarkUploading(ctx, id, time.Now()))
	require.NoError(t, env.store.MarkFailedTransient(ctx, id, "timeout", time.Now().Add(time.Hour)))

	kicksBefore := env.kicker.kicks
	require.NoError(t, env.svc.RetrySale(ctx, id))

	sale, err := env.store.GetSale(ctx, id)
	require.NoError(t, err)
	assert.True(t, sale.ManualRetry)
	assert.Equal(t, kicksBefore+1, env.kicker.kicks)
}

func TestClearLocalState(t *testing.T) {
	env := newSvcEnv(t)
	ctx := context.Background()

	id, err := env.svc.EnqueueSale(ctx, validSale())
	require.NoError(t, err)

	// Unsynced sales block the reset without force
	err = env.svc.ClearLocalState(ctx, false)
	assert.ErrorIs(t, err, store.ErrUnsyncedRemain)

	var cleared int
	env.bus.Subscribe(events.EventQueueCleared, func(*events.Event) error {
		cleared++
		return nil
	})

	require.NoError(t, env.svc.ClearLocalState(ctx, true))
	assert.Equal(t, 1, cleared)

	_, err = env.store.GetSale(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
