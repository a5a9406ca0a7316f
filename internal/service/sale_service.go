package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"tillsync/internal/domain"
	"tillsync/internal/events"
	"tillsync/internal/models"
	"tillsync/internal/store"

	"github.com/rs/zerolog"
)

var (
	// ErrEmptySale возвращается для продажи без единой позиции
	ErrEmptySale = errors.New("sale has no lines")

	// ErrInvalidSale возвращается при нарушении инвариантов продажи
	ErrInvalidSale = errors.New("invalid sale")

	// ErrUnknownStatus возвращается для неизвестного фильтра статуса
	ErrUnknownStatus = errors.New("unknown sale status")
)

// Kicker requests a sync pass outside the regular schedule.
type Kicker interface {
	Kick()
}

// SaleService is the write path of the engine: it validates captured
// sales, commits them to the durable queue and nudges the scheduler.
// Enqueue never talks to the network; a sale is accepted the moment
// it is on disk.
type SaleService struct {
	store     *store.Store
	eventBus  domain.EventPublisher
	scheduler Kicker
	currency  string
	logger    *zerolog.Logger
}

func NewSaleService(st *store.Store, eventBus domain.EventPublisher, scheduler Kicker, currency string, logger *zerolog.Logger) *SaleService {
	return &SaleService{
		store:     st,
		eventBus:  eventBus,
		scheduler: scheduler,
		currency:  currency,
		logger:    logger,
	}
}

// ValidateSale checks the invariants of a captured sale.
func (s *SaleService) ValidateSale(sale *models.SalePayload) error {
	if len(sale.Lines) == 0 {
		return ErrEmptySale
	}

	var linesTotal int64
	for i, line := range sale.Lines {
		if line.SKU == "" && line.Name == "" {
			return fmt.Errorf("%w: line %d has neither sku nor name", ErrInvalidSale, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d has non-positive quantity", ErrInvalidSale, i)
		}
		if line.LineTotal < 0 {
			return fmt.Errorf("%w: line %d has negative total", ErrInvalidSale, i)
		}
		linesTotal += line.LineTotal
	}

	if sale.Total < 0 {
		return fmt.Errorf("%w: negative total", ErrInvalidSale)
	}
	if linesTotal != sale.Subtotal {
		return fmt.Errorf("%w: line totals %d do not add up to subtotal %d", ErrInvalidSale, linesTotal, sale.Subtotal)
	}
	if sale.Subtotal+sale.TaxTotal != sale.Total {
		return fmt.Errorf("%w: subtotal %d plus tax %d does not equal total %d",
			ErrInvalidSale, sale.Subtotal, sale.TaxTotal, sale.Total)
	}
	if sale.CompletedAt.IsZero() {
		return fmt.Errorf("%w: completed_at is required", ErrInvalidSale)
	}

	return nil
}

// EnqueueSale validates and durably queues a captured sale, returning
// its local id.
func (s *SaleService) EnqueueSale(ctx context.Context, sale *models.SalePayload) (int64, error) {
	if sale.Currency == "" {
		sale.Currency = s.currency
	}
	if err := s.ValidateSale(sale); err != nil {
		return 0, err
	}

	// Снимок сериализуется один раз; повторные отправки шлют те же байты
	payload, err := json.Marshal(sale)
	if err != nil {
		return 0, fmt.Errorf("encode sale payload: %w", err)
	}

	localID, err := s.store.Enqueue(ctx, string(payload))
	if err != nil {
		return 0, err
	}

	s.logger.Info().Int64("local_id", localID).Int64("total", sale.Total).
		Str("currency", sale.Currency).Msg("sale captured")

	if s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventSaleEnqueued, events.SaleEventPayload{
			LocalID: localID,
			Status:  string(models.StatusQueued),
		})
	}
	if s.scheduler != nil {
		s.scheduler.Kick()
	}

	return localID, nil
}

// GetSale returns one queue record by local id.
func (s *SaleService) GetSale(ctx context.Context, localID int64) (*models.QueuedSale, error) {
	return s.store.GetSale(ctx, localID)
}

// ListSales returns queue records ordered by local id, optionally
// filtered by status.
func (s *SaleService) ListSales(ctx context.Context, status string) ([]models.QueuedSale, error) {
	filter := models.SaleStatus(status)
	if status != "" && !filter.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatus, status)
	}
	return s.store.ListSales(ctx, filter)
}

// RetrySale marks a failed sale for immediate retry, bypassing the
// backoff window, and kicks a pass.
func (s *SaleService) RetrySale(ctx context.Context, localID int64) error {
	if err := s.store.MarkManualRetry(ctx, localID); err != nil {
		return err
	}

	s.logger.Info().Int64("local_id", localID).Msg("manual retry requested")
	if s.scheduler != nil {
		s.scheduler.Kick()
	}
	return nil
}

// ClearLocalState wipes the local queue. Refuses while unsynced sales
// remain unless force is set; forcing discards captured revenue data
// and is logged accordingly.
func (s *SaleService) ClearLocalState(ctx context.Context, force bool) error {
	if err := s.store.ClearAll(ctx, force); err != nil {
		return err
	}

	if force {
		s.logger.Warn().Msg("local state cleared with force, unsynced sales discarded")
	} else {
		s.logger.Info().Msg("local state cleared")
	}

	if s.eventBus != nil {
		_ = s.eventBus.PublishJSON(events.EventQueueCleared, nil)
	}
	return nil
}
