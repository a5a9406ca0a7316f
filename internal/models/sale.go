package models

import (
	"encoding/json"
	"time"
)

// QueuedSale is one captured transaction awaiting confirmation by the
// central server. The payload is an immutable snapshot taken at sale
// completion; retries always resubmit the same bytes.
type QueuedSale struct {
	LocalID       int64      `json:"local_id"`
	RemoteID      *string    `json:"remote_id,omitempty"`
	Payload       string     `json:"payload"`
	Status        SaleStatus `json:"status"`
	RetryCount    int        `json:"retry_count"`
	Retryable     bool       `json:"retryable"`
	ManualRetry   bool       `json:"manual_retry"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
}

// SalePayload is the sale snapshot as captured by the register.
type SalePayload struct {
	Lines         []SaleLine `json:"lines"`
	Subtotal      int64      `json:"subtotal"`
	TaxTotal      int64      `json:"tax_total"`
	Total         int64      `json:"total"`
	Currency      string     `json:"currency"`
	PaymentMethod string     `json:"payment_method"`
	CustomerRef   string     `json:"customer_ref,omitempty"`
	CompletedAt   time.Time  `json:"completed_at"`
}

// SaleLine is a single line item. Amounts are in minor currency units.
type SaleLine struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	LineTotal int64  `json:"line_total"`
}

// DecodePayload parses the stored payload snapshot.
func (s *QueuedSale) DecodePayload() (SalePayload, error) {
	var p SalePayload
	err := json.Unmarshal([]byte(s.Payload), &p)
	return p, err
}
