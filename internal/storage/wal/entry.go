// Пакет wal — журнал намерений (write-ahead log) для операций,
// затрагивающих одновременно blob и индекс метаданных.
// Каждая транзакция — отдельный файл {tx_id}.wal.json в WAL_DIR.
// Незавершённые (pending) записи после рестарта указывают, какие
// операции были прерваны и какой blob/запись нужно довести до
// согласованного состояния.
package wal

import (
	"time"
)

// OperationType — тип операции, записываемой в WAL.
type OperationType string

const (
	// OpUpload — загрузка: запись blob, затем добавление в индекс
	OpUpload OperationType = "upload"
	// OpDelete — удаление: удаление blob, затем удаление из индекса
	OpDelete OperationType = "delete"
)

// TransactionStatus — статус транзакции WAL.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция отменена
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Entry — запись WAL. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// FileID — идентификатор файла (id записи индекса)
	FileID string `json:"file_id"`

	// StoredName — имя blob-файла, затрагиваемого операцией
	StoredName string `json:"stored_name"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// walFileName возвращает имя файла WAL для данной транзакции.
func walFileName(txID string) string {
	return txID + walSuffix
}
