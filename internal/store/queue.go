package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tillsync/internal/models"
)

const saleColumns = `local_id, remote_id, payload, status, retry_count, retryable, manual_retry,
              created_at, last_attempt_at, next_attempt_at, last_error`

// Enqueue durably appends a captured sale with the next local_id from
// the persisted cursor. The insert and the cursor bump commit in one
// transaction; when Enqueue returns without error the sale is on disk.
func (s *Store) Enqueue(ctx context.Context, payload string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin enqueue tx: %w", err)
	}
	defer tx.Rollback()

	var localID int64
	if err := tx.QueryRowContext(ctx, `SELECT next_local_id FROM sync_cursor WHERE id = 1`).Scan(&localID); err != nil {
		return 0, fmt.Errorf("failed to read local id cursor: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sync_cursor SET next_local_id = next_local_id + 1 WHERE id = 1`); err != nil {
		return 0, fmt.Errorf("failed to advance local id cursor: %w", err)
	}

	query := `INSERT INTO queued_sales (local_id, payload, status, retry_count, created_at)
              VALUES (?, ?, ?, 0, ?)`
	if _, err := tx.ExecContext(ctx, query, localID, payload, models.StatusQueued, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("failed to insert queued sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit enqueue: %w", err)
	}

	s.logger.Debug().Int64("local_id", localID).Msg("sale enqueued")
	return localID, nil
}

// GetSale возвращает запись очереди по local_id
func (s *Store) GetSale(ctx context.Context, localID int64) (*models.QueuedSale, error) {
	query := `SELECT ` + saleColumns + ` FROM queued_sales WHERE local_id = ?`
	sale, err := scanSale(s.db.QueryRowContext(ctx, query, localID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queued sale %d: %w", localID, err)
	}
	return sale, nil
}

// ListSales возвращает записи очереди по возрастанию local_id.
// Пустой фильтр возвращает все записи.
func (s *Store) ListSales(ctx context.Context, status models.SaleStatus) ([]models.QueuedSale, error) {
	query := `SELECT ` + saleColumns + ` FROM queued_sales`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY local_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queued sales: %w", err)
	}
	defer rows.Close()

	return collectSales(rows)
}

// EligibleForSync возвращает записи, подлежащие отправке в этом
// проходе: queued, failed с истекшим backoff (в пределах maxRetries),
// и failed с запрошенным ручным повтором. Порядок строго по local_id.
func (s *Store) EligibleForSync(ctx context.Context, maxRetries int, now time.Time, limit int) ([]models.QueuedSale, error) {
	query := `SELECT ` + saleColumns + ` FROM queued_sales
              WHERE status = ?
                 OR (status = ? AND manual_retry = 1)
                 OR (status = ? AND retryable = 1 AND retry_count < ?
                     AND (next_attempt_at IS NULL OR next_attempt_at <= ?))
              ORDER BY local_id ASC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query,
		models.StatusQueued, models.StatusFailed, models.StatusFailed, maxRetries, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible sales: %w", err)
	}
	defer rows.Close()

	return collectSales(rows)
}

// MarkUploading переводит запись в uploading перед отправкой.
// Условие на текущий статус защищает от конкурирующих переходов.
func (s *Store) MarkUploading(ctx context.Context, localID int64, attemptAt time.Time) error {
	query := `UPDATE queued_sales
              SET status = ?, manual_retry = 0, last_attempt_at = ?
              WHERE local_id = ? AND status IN (?, ?)`
	res, err := s.db.ExecContext(ctx, query,
		models.StatusUploading, attemptAt.UTC(), localID, models.StatusQueued, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark uploading %d: %w", localID, err)
	}
	return requireTransition(res, localID)
}

// MarkSynced фиксирует подтверждение сервера: remote_id записан,
// last_error очищен. Единственный путь к терминальному статусу.
func (s *Store) MarkSynced(ctx context.Context, localID int64, remoteID string) error {
	query := `UPDATE queued_sales
              SET status = ?, remote_id = ?, last_error = NULL, next_attempt_at = NULL
              WHERE local_id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query, models.StatusSynced, remoteID, localID, models.StatusUploading)
	if err != nil {
		return fmt.Errorf("failed to mark synced %d: %w", localID, err)
	}
	return requireTransition(res, localID)
}

// MarkFailedTransient записывает временный сбой: retry_count растет,
// следующая попытка после backoff-окна.
func (s *Store) MarkFailedTransient(ctx context.Context, localID int64, errMsg string, nextAttemptAt time.Time) error {
	query := `UPDATE queued_sales
              SET status = ?, last_error = ?, retry_count = retry_count + 1, next_attempt_at = ?
              WHERE local_id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query,
		models.StatusFailed, errMsg, nextAttemptAt.UTC(), localID, models.StatusUploading)
	if err != nil {
		return fmt.Errorf("failed to mark transient failure %d: %w", localID, err)
	}
	return requireTransition(res, localID)
}

// MarkFailedPermanent записывает отказ сервера, который повтор не
// исправит: запись исключается из автоматических повторов и ждет
// ручного вмешательства.
func (s *Store) MarkFailedPermanent(ctx context.Context, localID int64, errMsg string) error {
	query := `UPDATE queued_sales
              SET status = ?, last_error = ?, retryable = 0, next_attempt_at = NULL
              WHERE local_id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query, models.StatusFailed, errMsg, localID, models.StatusUploading)
	if err != nil {
		return fmt.Errorf("failed to mark permanent failure %d: %w", localID, err)
	}
	return requireTransition(res, localID)
}

// MarkManualRetry помечает failed-запись для немедленного повтора в
// обход backoff. Счетчики не сбрасываются.
func (s *Store) MarkManualRetry(ctx context.Context, localID int64) error {
	query := `UPDATE queued_sales SET manual_retry = 1 WHERE local_id = ? AND status = ?`
	res, err := s.db.ExecContext(ctx, query, localID, models.StatusFailed)
	if err != nil {
		return fmt.Errorf("failed to mark manual retry %d: %w", localID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check manual retry %d: %w", localID, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecoverInFlight возвращает записи, оставшиеся в uploading после
// краха или обрыва прохода, обратно в queued. Исход той отправки
// неизвестен; повтор с тем же idempotency-ключом безопасен.
func (s *Store) RecoverInFlight(ctx context.Context) (int64, error) {
	query := `UPDATE queued_sales SET status = ? WHERE status = ?`
	res, err := s.db.ExecContext(ctx, query, models.StatusQueued, models.StatusUploading)
	if err != nil {
		return 0, fmt.Errorf("failed to recover in-flight sales: %w", err)
	}
	recovered, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recovered sales: %w", err)
	}
	if recovered > 0 {
		s.logger.Warn().Int64("count", recovered).Msg("recovered in-flight sales to queued")
	}
	return recovered, nil
}

// CountsByStatus возвращает количество записей в каждом статусе
func (s *Store) CountsByStatus(ctx context.Context) (map[models.SaleStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queued_sales GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sales by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.SaleStatus]int)
	for rows.Next() {
		var status models.SaleStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// PurgeSynced удаляет synced-записи старше окна хранения.
// Удаляются только подтвержденные сервером записи.
func (s *Store) PurgeSynced(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `DELETE FROM queued_sales
              WHERE status = ? AND last_attempt_at IS NOT NULL AND last_attempt_at <= ?`
	res, err := s.db.ExecContext(ctx, query, models.StatusSynced, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced sales: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged sales: %w", err)
	}
	return purged, nil
}

// ClearAll сбрасывает локальное состояние. Без force отказывается,
// пока в очереди остаются несинхронизированные продажи. Курсор
// local_id не сбрасывается: идентификаторы никогда не переиспользуются.
func (s *Store) ClearAll(ctx context.Context, force bool) error {
	if !force {
		var unsynced int
		query := `SELECT COUNT(*) FROM queued_sales WHERE status != ?`
		if err := s.db.QueryRowContext(ctx, query, models.StatusSynced).Scan(&unsynced); err != nil {
			return fmt.Errorf("failed to count unsynced sales: %w", err)
		}
		if unsynced > 0 {
			return fmt.Errorf("%w: %d records", ErrUnsyncedRemain, unsynced)
		}
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM queued_sales`); err != nil {
		return fmt.Errorf("failed to clear queued sales: %w", err)
	}
	s.logger.Warn().Bool("force", force).Msg("local sales queue cleared")
	return nil
}

func requireTransition(res sql.Result, localID int64) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition for %d: %w", localID, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: sale %d", ErrBadTransition, localID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSale(row rowScanner) (*models.QueuedSale, error) {
	var sale models.QueuedSale
	err := row.Scan(
		&sale.LocalID,
		&sale.RemoteID,
		&sale.Payload,
		&sale.Status,
		&sale.RetryCount,
		&sale.Retryable,
		&sale.ManualRetry,
		&sale.CreatedAt,
		&sale.LastAttemptAt,
		&sale.NextAttemptAt,
		&sale.LastError,
	)
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func collectSales(rows *sql.Rows) ([]models.QueuedSale, error) {
	var sales []models.QueuedSale
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queued sale: %w", err)
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}
