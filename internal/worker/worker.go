package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"tillsync/internal/config"
	"tillsync/internal/events"
	"tillsync/internal/metrics"
	"tillsync/internal/models"
	"tillsync/internal/remote"
	"tillsync/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrOffline is returned when a pass is skipped or aborted because the
// terminal has no connectivity. Not an error of the queue itself; the
// records keep their state and no retry counters move.
var ErrOffline = errors.New("terminal is offline")

// Submitter uploads one captured sale to the central server.
type Submitter interface {
	SubmitSale(ctx context.Context, localID int64, payload string) (remote.SubmitResult, error)
}

// ConnectivitySource exposes the debounced online/offline signal.
type ConnectivitySource interface {
	IsOnline() bool
}

// SyncWorker drains the local sales queue in strict local_id order.
// Only one pass runs at a time; callers that request a pass while one
// is in flight wait for that pass and share its outcome.
type SyncWorker struct {
	store         *store.Store
	submitter     Submitter
	conn          ConnectivitySource
	redis         *redis.Client
	bus           *events.EventBus
	retryPolicy   RetryPolicy
	batchSize     int
	retention     time.Duration
	submitTimeout time.Duration
	deadLetterKey string
	logger        zerolog.Logger

	mu          sync.Mutex
	running     bool
	waiters     []chan error
	lastPassErr string
}

// NewSyncWorker builds a worker with sane defaults.
func NewSyncWorker(st *store.Store, submitter Submitter, conn ConnectivitySource, redisClient *redis.Client, bus *events.EventBus, cfg config.SyncConfig, logger *zerolog.Logger) *SyncWorker {
	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "sync_worker").Logger()
	}

	retry := RetryPolicy{
		MaxRetries:    cfg.MaxRetries,
		InitialDelay:  time.Duration(cfg.BackoffBaseSec) * time.Second,
		MaxDelay:      time.Duration(cfg.BackoffMaxSec) * time.Second,
		BackoffFactor: 2,
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = models.DefaultMaxRetries
	}

	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = models.DefaultBatchSize
	}
	retentionDays := cfg.RetentionDays
	if retentionDays == 0 {
		retentionDays = models.DefaultRetentionDays
	}
	submitTimeout := time.Duration(cfg.SubmitTimeoutSec) * time.Second
	if submitTimeout == 0 {
		submitTimeout = time.Duration(models.DefaultSubmitTimeoutSec) * time.Second
	}

	return &SyncWorker{
		store:         st,
		submitter:     submitter,
		conn:          conn,
		redis:         redisClient,
		bus:           bus,
		retryPolicy:   retry,
		batchSize:     batchSize,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		submitTimeout: submitTimeout,
		deadLetterKey: "tillsync:deadletter",
		logger:        l,
	}
}

type passStats struct {
	submitted int
	synced    int
	failed    int
}

// RunPass executes one sync pass. Concurrent callers coalesce: when a
// pass is already running they block until it finishes and receive its
// result instead of starting a second pass.
func (w *SyncWorker) RunPass(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		ch := make(chan error, 1)
		w.waiters = append(w.waiters, ch)
		w.mu.Unlock()
		select {
		case err := <-ch:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	w.running = true
	w.mu.Unlock()

	err := w.pass(ctx)

	w.mu.Lock()
	w.running = false
	waiters := w.waiters
	w.waiters = nil
	w.mu.Unlock()

	for _, ch := range waiters {
		ch <- err
	}
	return err
}

// IsSyncing reports whether a pass is currently in flight.
func (w *SyncWorker) IsSyncing() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastPassError returns the most recent pass-level error message.
// Empty after a pass that ran to completion.
func (w *SyncWorker) LastPassError() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPassErr
}

func (w *SyncWorker) setLastPassError(msg string) {
	w.mu.Lock()
	w.lastPassErr = msg
	w.mu.Unlock()
}

func (w *SyncWorker) pass(ctx context.Context) error {
	if !w.conn.IsOnline() {
		// Отсутствие связи не наказывает записи: счетчики и backoff
		// не двигаются, проход просто не начинается.
		w.logger.Debug().Msg("sync pass skipped, terminal offline")
		metrics.IncPass("offline")
		return ErrOffline
	}

	start := time.Now()
	var stats passStats

	// Записи, застрявшие в uploading после краха или обрыва прохода,
	// возвращаются в queued перед выборкой.
	if _, err := w.store.RecoverInFlight(ctx); err != nil {
		w.setLastPassError(err.Error())
		metrics.IncPass("failed")
		return fmt.Errorf("recover in-flight sales: %w", err)
	}

	eligible, err := w.store.EligibleForSync(ctx, w.retryPolicy.MaxRetries, time.Now(), w.batchSize)
	if err != nil {
		w.setLastPassError(err.Error())
		metrics.IncPass("failed")
		return fmt.Errorf("select eligible sales: %w", err)
	}

	var aborted bool
	var passErr error
	for i := range eligible {
		if ctx.Err() != nil {
			aborted = true
			passErr = ctx.Err()
			break
		}
		if !w.conn.IsOnline() {
			// Потеря связи посреди прохода прерывает остаток.
			// Нетронутые записи остаются как есть.
			aborted = true
			passErr = ErrOffline
			break
		}
		w.processSale(ctx, &eligible[i], &stats)
	}

	w.purgeRetention(ctx)

	if !aborted {
		if err := w.store.SetLastSyncAt(ctx, time.Now()); err != nil {
			w.logger.Error().Err(err).Msg("failed to record last sync time")
		}
	}

	w.finishPass(ctx, start, stats, aborted, passErr)
	return passErr
}

// processSale drives one record through uploading to its outcome. The
// submission itself is detached from the pass context: once started it
// runs to its own timeout, otherwise a cancelled pass would strand the
// record in uploading until the next recovery.
func (w *SyncWorker) processSale(ctx context.Context, sale *models.QueuedSale, stats *passStats) {
	dctx := context.WithoutCancel(ctx)

	if err := w.store.MarkUploading(dctx, sale.LocalID, time.Now()); err != nil {
		w.logger.Warn().Err(err).Int64("local_id", sale.LocalID).Msg("transition refused, sale skipped this pass")
		return
	}
	stats.submitted++

	submitCtx, cancel := context.WithTimeout(dctx, w.submitTimeout)
	result, err := w.submitter.SubmitSale(submitCtx, sale.LocalID, sale.Payload)
	cancel()

	switch {
	case err == nil:
		if markErr := w.store.MarkSynced(dctx, sale.LocalID, result.RemoteID); markErr != nil {
			w.logger.Error().Err(markErr).Int64("local_id", sale.LocalID).Msg("failed to mark sale synced")
			return
		}
		stats.synced++
		if result.Duplicate {
			metrics.IncSubmission("duplicate")
		} else {
			metrics.IncSubmission("synced")
		}
		w.logger.Info().Int64("local_id", sale.LocalID).Str("remote_id", result.RemoteID).Msg("sale synced")
		_ = w.bus.PublishJSON(events.EventSaleSynced, events.SaleEventPayload{
			LocalID:  sale.LocalID,
			RemoteID: result.RemoteID,
			Status:   string(models.StatusSynced),
		})

	case remote.IsPermanent(err):
		if markErr := w.store.MarkFailedPermanent(dctx, sale.LocalID, err.Error()); markErr != nil {
			w.logger.Error().Err(markErr).Int64("local_id", sale.LocalID).Msg("failed to mark permanent rejection")
			return
		}
		stats.failed++
		metrics.IncSubmission("rejected")
		w.pushDeadLetter(dctx, sale, err)
		w.logger.Error().Err(err).Int64("local_id", sale.LocalID).Msg("sale rejected by server, manual intervention required")
		_ = w.bus.PublishJSON(events.EventSaleFailed, events.SaleEventPayload{
			LocalID:    sale.LocalID,
			Status:     string(models.StatusFailed),
			RetryCount: sale.RetryCount,
			Error:      err.Error(),
		})

	default:
		attempt := sale.RetryCount + 1
		next := time.Now().Add(w.retryPolicy.NextDelayJittered(attempt))
		if markErr := w.store.MarkFailedTransient(dctx, sale.LocalID, err.Error(), next); markErr != nil {
			w.logger.Error().Err(markErr).Int64("local_id", sale.LocalID).Msg("failed to mark transient failure")
			return
		}
		stats.failed++
		metrics.IncSubmission("transient")
		w.logger.Warn().Err(err).Int64("local_id", sale.LocalID).Int("retry_count", attempt).
			Time("next_attempt_at", next).Msg("sale submission failed, will retry")
		_ = w.bus.PublishJSON(events.EventSaleFailed, events.SaleEventPayload{
			LocalID:    sale.LocalID,
			Status:     string(models.StatusFailed),
			RetryCount: attempt,
			Error:      err.Error(),
		})
	}
}

func (w *SyncWorker) purgeRetention(ctx context.Context) {
	purged, err := w.store.PurgeSynced(context.WithoutCancel(ctx), time.Now().Add(-w.retention))
	if err != nil {
		w.logger.Error().Err(err).Msg("failed to purge synced sales")
		return
	}
	if purged > 0 {
		w.logger.Info().Int64("count", purged).Msg("purged synced sales past retention")
	}
}

func (w *SyncWorker) finishPass(ctx context.Context, start time.Time, stats passStats, aborted bool, passErr error) {
	var errMsg string
	result := "completed"
	switch {
	case aborted && errors.Is(passErr, ErrOffline):
		result = "aborted"
		errMsg = "connectivity lost mid-pass"
	case aborted:
		result = "aborted"
		errMsg = passErr.Error()
	}
	w.setLastPassError(errMsg)

	metrics.IncPass(result)
	metrics.ObservePassDuration(time.Since(start))
	if counts, err := w.store.CountsByStatus(context.WithoutCancel(ctx)); err == nil {
		for _, st := range []models.SaleStatus{models.StatusQueued, models.StatusUploading, models.StatusSynced, models.StatusFailed} {
			metrics.SetQueueDepth(string(st), counts[st])
		}
	}

	w.logger.Info().
		Int("submitted", stats.submitted).
		Int("synced", stats.synced).
		Int("failed", stats.failed).
		Bool("aborted", aborted).
		Dur("duration", time.Since(start)).
		Msg("sync pass finished")

	_ = w.bus.PublishJSON(events.EventSyncPassCompleted, events.PassEventPayload{
		Submitted: stats.submitted,
		Synced:    stats.synced,
		Failed:    stats.failed,
		Aborted:   aborted,
		Error:     errMsg,
	})
}

// pushDeadLetter mirrors permanently rejected sales into redis so an
// operator can inspect them without querying the terminal database.
func (w *SyncWorker) pushDeadLetter(ctx context.Context, sale *models.QueuedSale, cause error) {
	if w.redis == nil {
		return
	}
	entry := struct {
		LocalID    int64     `json:"local_id"`
		Payload    string    `json:"payload"`
		RetryCount int       `json:"retry_count"`
		Error      string    `json:"error"`
		FailedAt   time.Time `json:"failed_at"`
	}{
		LocalID:    sale.LocalID,
		Payload:    sale.Payload,
		RetryCount: sale.RetryCount,
		Error:      cause.Error(),
		FailedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		w.logger.Error().Err(err).Int64("local_id", sale.LocalID).Msg("failed to encode dead letter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("local_id", sale.LocalID).Msg("failed to push dead letter")
	}
}
