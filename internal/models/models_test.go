package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaleStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SaleStatus
		allowed  bool
	}{
		{StatusQueued, StatusUploading, true},
		{StatusQueued, StatusSynced, false},
		{StatusUploading, StatusSynced, true},
		{StatusUploading, StatusFailed, true},
		{StatusUploading, StatusQueued, true}, // crash recovery
		{StatusFailed, StatusUploading, true},
		{StatusFailed, StatusSynced, false},
		{StatusSynced, StatusUploading, false},
		{StatusSynced, StatusFailed, false},
	}

	for _, c := range cases {
		assert.Equal(t, c.allowed, c.from.CanTransition(c.to), "%s -> %s", c.from, c.to)
	}
}

func TestSaleStatusValid(t *testing.T) {
	assert.True(t, StatusQueued.Valid())
	assert.True(t, StatusFailed.Valid())
	assert.False(t, SaleStatus("pending").Valid())
	assert.False(t, SaleStatus("").Valid())
}

func TestSaleStatusTerminal(t *testing.T) {
	assert.True(t, StatusSynced.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.False(t, StatusQueued.Terminal())
	assert.False(t, StatusUploading.Terminal())
}

func TestQueuedSaleDecodePayload(t *testing.T) {
	payload := SalePayload{
		Lines: []SaleLine{
			{SKU: "SKU-1", Name: "Coffee", Quantity: 2, UnitPrice: 250, LineTotal: 500},
		},
		Subtotal:      500,
		TaxTotal:      100,
		Total:         600,
		Currency:      "EUR",
		PaymentMethod: "card",
		CompletedAt:   time.Now().UTC().Truncate(time.Second),
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	sale := &QueuedSale{LocalID: 1, Payload: string(raw), Status: StatusQueued}
	decoded, err := sale.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, payload.Total, decoded.Total)
	assert.Len(t, decoded.Lines, 1)
	assert.Equal(t, "Coffee", decoded.Lines[0].Name)

	sale.Payload = "not json"
	_, err = sale.DecodePayload()
	assert.Error(t, err)
}
