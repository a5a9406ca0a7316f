package models

const (
	// DefaultSyncIntervalSec интервал автоматической синхронизации
	DefaultSyncIntervalSec = 30

	// DefaultProbeIntervalSec интервал проверки доступности сервера
	DefaultProbeIntervalSec = 10

	// DefaultOfflineThreshold число подряд неудачных проб до перехода в offline
	DefaultOfflineThreshold = 2

	// DefaultMaxRetries потолок автоматических повторов перед ручным вмешательством
	DefaultMaxRetries = 8

	// DefaultBackoffBaseSec базовая задержка экспоненциального backoff
	DefaultBackoffBaseSec = 5

	// DefaultBackoffMaxSec максимальная задержка между повторами
	DefaultBackoffMaxSec = 600

	// DefaultSubmitTimeoutSec таймаут одной отправки продажи
	DefaultSubmitTimeoutSec = 15

	// DefaultRetentionDays срок хранения synced записей до удаления
	DefaultRetentionDays = 7

	// DefaultSnapshotTTL время жизни кэшированного снапшота статуса в Redis
	DefaultSnapshotTTL = 60 // секунд

	// DefaultBatchSize максимум записей, читаемых за один проход
	DefaultBatchSize = 100
)

const (
	// MetaKeyTerminalID ключ идентификатора терминала в sync_meta
	MetaKeyTerminalID = "terminal_id"

	// MetaKeyLastSyncAt ключ времени последнего успешного прохода в sync_meta
	MetaKeyLastSyncAt = "last_sync_at"
)
