// Пакет index — потокобезопасный индекс метаданных файлов,
// персистентный в одном JSON-документе (metadata.json).
//
// Индекс — единственный источник истины для поиска и листинга.
// В памяти хранится упорядоченная копия документа (порядок вставки),
// на диске — JSON-массив FileRecord.
//
// Все мутации (Append, Remove) выполняются под эксклюзивной блокировкой
// на всё время цикла read-modify-write: новое состояние сначала
// атомарно записывается на диск, и только после успешной записи
// подменяет состояние в памяти. При ошибке записи индекс не меняется.
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bigkaa/goartstore/storage-bucket/internal/domain/model"
)

// FileName — имя документа индекса в директории хранения.
const FileName = "metadata.json"

var (
	// ErrNotFound — запись с таким id отсутствует в индексе.
	ErrNotFound = errors.New("запись не найдена в индексе")
	// ErrDuplicateID — запись с таким id уже существует.
	ErrDuplicateID = errors.New("запись с таким id уже существует")
	// ErrWrite — документ индекса не удалось перезаписать на диске.
	ErrWrite = errors.New("ошибка записи документа индекса")
)

// Index — упорядоченный индекс метаданных с персистентностью в JSON.
// sync.RWMutex: конкурентное чтение, эксклюзивная мутация.
type Index struct {
	mu      sync.RWMutex
	path    string
	records []model.FileRecord // порядок вставки; срез не изменяется на месте
	pos     map[string]int     // id → позиция в records
	size    uint64             // суммарный размер всех записей
	ready   bool
	logger  *slog.Logger
}

// Open загружает индекс из документа path.
// Отсутствующий или пустой документ — пустой индекс.
// Непустой документ, который не удаётся разобрать, — ошибка:
// перезаписывать его пустым состоянием нельзя.
func Open(path string, logger *slog.Logger) (*Index, error) {
	records, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		path:   path,
		logger: logger.With(slog.String("component", "index")),
	}
	if err := idx.load(records); err != nil {
		return nil, fmt.Errorf("документ индекса %s: %w", path, err)
	}
	idx.ready = true

	idx.logger.Info("Индекс метаданных загружен",
		slog.Int("files", len(idx.records)),
		slog.String("path", path),
	)

	return idx, nil
}

// load заполняет состояние в памяти. Проверяет уникальность id.
func (idx *Index) load(records []model.FileRecord) error {
	pos := make(map[string]int, len(records))
	var size uint64
	for i, rec := range records {
		if rec.ID == "" {
			return fmt.Errorf("запись %d без id", i)
		}
		if _, ok := pos[rec.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
		}
		pos[rec.ID] = i
		size += rec.Size
	}

	idx.records = records
	idx.pos = pos
	idx.size = size
	return nil
}

// IsReady возвращает true, если индекс загружен.
func (idx *Index) IsReady() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.ready
}

// Path возвращает путь к документу индекса.
func (idx *Index) Path() string {
	return idx.path
}

// Append добавляет запись в конец индекса и перезаписывает документ.
func (idx *Index) Append(rec model.FileRecord) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.pos[rec.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateID, rec.ID)
	}

	next := make([]model.FileRecord, len(idx.records), len(idx.records)+1)
	copy(next, idx.records)
	next = append(next, rec)

	if err := writeDocument(idx.path, next); err != nil {
		idx.logger.Error("Ошибка записи документа индекса",
			slog.String("op", "append"),
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	idx.records = next
	idx.pos[rec.ID] = len(next) - 1
	idx.size += rec.Size
	return nil
}

// Remove удаляет запись по id и перезаписывает документ.
func (idx *Index) Remove(id string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	i, ok := idx.pos[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	removed := idx.records[i]

	next := make([]model.FileRecord, 0, len(idx.records)-1)
	next = append(next, idx.records[:i]...)
	next = append(next, idx.records[i+1:]...)

	if err := writeDocument(idx.path, next); err != nil {
		idx.logger.Error("Ошибка записи документа индекса",
			slog.String("op", "remove"),
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}

	idx.records = next
	delete(idx.pos, id)
	for j := i; j < len(next); j++ {
		idx.pos[next[j].ID] = j
	}
	idx.size -= removed.Size
	return nil
}

// Find возвращает копию записи по id.
func (idx *Index) Find(id string) (model.FileRecord, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	i, ok := idx.pos[id]
	if !ok {
		return model.FileRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return idx.records[i], nil
}

// Contains проверяет наличие записи с указанным id.
func (idx *Index) Contains(id string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.pos[id]
	return ok
}

// List возвращает окно [offset, offset+limit) в порядке вставки.
// Выход за границы не ошибка: окно обрезается, отрицательные
// значения считаются нулём. Результат никогда не nil.
func (idx *Index) List(offset, limit int) []model.FileRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	total := len(idx.records)
	offset = max(offset, 0)
	limit = max(limit, 0)

	if offset >= total {
		return []model.FileRecord{}
	}
	end := total
	if limit < total-offset {
		end = offset + limit
	}

	out := make([]model.FileRecord, end-offset)
	copy(out, idx.records[offset:end])
	return out
}

// Snapshot возвращает копию всех записей в порядке вставки.
func (idx *Index) Snapshot() []model.FileRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]model.FileRecord, len(idx.records))
	copy(out, idx.records)
	return out
}

// Count возвращает количество записей в индексе.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// TotalSize возвращает суммарный размер всех записей в байтах.
func (idx *Index) TotalSize() uint64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.size
}
