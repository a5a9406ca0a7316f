package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tillsync/internal/models"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrNotFound возвращается, когда запись с таким local_id отсутствует
	ErrNotFound = errors.New("queued sale not found")

	// ErrUnsyncedRemain возвращается при попытке сброса с несинхронизированными продажами
	ErrUnsyncedRemain = errors.New("unsynced sales remain in queue")

	// ErrBadTransition возвращается при недопустимом переходе статуса
	ErrBadTransition = errors.New("status transition not allowed")
)

// Store владеет локальной базой очереди продаж. Единственный
// разделяемый изменяемый ресурс движка: все переходы статусов
// выполняются атомарными UPDATE с условием на текущий статус.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewStore(path string, logger *zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// synchronous=FULL: потеря записи enqueue означает потерю продажи
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var l zerolog.Logger
	if logger != nil {
		l = logger.With().Str("component", "store").Logger()
		l.Info().Str("path", path).Msg("queue database initialized")
	}

	return &Store{db: db, logger: l}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS queued_sales (
            local_id INTEGER PRIMARY KEY,
            remote_id TEXT,
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'queued',
            retry_count INTEGER NOT NULL DEFAULT 0,
            retryable INTEGER NOT NULL DEFAULT 1,
            manual_retry INTEGER NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            last_attempt_at DATETIME,
            next_attempt_at DATETIME,
            last_error TEXT
        )`,

		`CREATE TABLE IF NOT EXISTS sync_cursor (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            next_local_id INTEGER NOT NULL
        )`,
		`INSERT OR IGNORE INTO sync_cursor (id, next_local_id) VALUES (1, 1)`,

		`CREATE TABLE IF NOT EXISTS sync_meta (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_queued_sales_status ON queued_sales(status)`,
		`CREATE INDEX IF NOT EXISTS idx_queued_sales_next_attempt ON queued_sales(next_attempt_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// GetMeta возвращает значение ключа из sync_meta, пустую строку если ключа нет
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta записывает значение ключа в sync_meta
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	query := `INSERT INTO sync_meta (key, value) VALUES (?, ?)
              ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := s.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// EnsureTerminalID возвращает стабильный идентификатор терминала.
// Конфигурационное значение имеет приоритет; иначе берем сохраненный,
// иначе генерируем и сохраняем новый.
func (s *Store) EnsureTerminalID(ctx context.Context, configured string) (string, error) {
	if configured != "" {
		if err := s.SetMeta(ctx, models.MetaKeyTerminalID, configured); err != nil {
			return "", err
		}
		return configured, nil
	}

	stored, err := s.GetMeta(ctx, models.MetaKeyTerminalID)
	if err != nil {
		return "", err
	}
	if stored != "" {
		return stored, nil
	}

	generated := uuid.NewString()
	if err := s.SetMeta(ctx, models.MetaKeyTerminalID, generated); err != nil {
		return "", err
	}
	s.logger.Info().Str("terminal_id", generated).Msg("generated terminal id")
	return generated, nil
}

// SetLastSyncAt сохраняет время последнего завершенного прохода
func (s *Store) SetLastSyncAt(ctx context.Context, at time.Time) error {
	return s.SetMeta(ctx, models.MetaKeyLastSyncAt, at.UTC().Format(time.RFC3339Nano))
}

// LastSyncAt возвращает время последнего завершенного прохода, nil если его не было
func (s *Store) LastSyncAt(ctx context.Context) (*time.Time, error) {
	raw, err := s.GetMeta(ctx, models.MetaKeyLastSyncAt)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse last sync time: %w", err)
	}
	return &t, nil
}

// QueryRowContext exposes the underlying DB for tests.
func (s *Store) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *Store) Close() error {
	return s.db.Close()
}
