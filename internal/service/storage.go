// Пакет service — бизнес-логика Storage Bucket.
// storage.go — координатор хранилища: связывает blob-хранилище,
// индекс метаданных и WAL в операции загрузки, чтения и удаления.
//
// Порядок шагов выбран так, чтобы после любого сбоя на диске не
// оставалось blob без записи в индексе, которую нельзя обнаружить:
//   - upload: blob → индекс; при ошибке индекса blob удаляется
//   - delete: blob → индекс; между шагами возможна только запись без blob,
//     которую видит reconcile и доводит Recover по WAL
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/storage-bucket/internal/api/middleware"
	"github.com/bigkaa/goartstore/storage-bucket/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/index"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/wal"
)

// Имена операций для ошибок, логов и метрик.
const (
	opUpload = "upload"
	opGet    = "get"
	opInfo   = "info"
	opDelete = "delete"
	opList   = "list"
)

// UploadParams — параметры загрузки файла.
type UploadParams struct {
	// Reader — поток данных файла
	Reader io.Reader
	// OriginalName — имя файла, переданное клиентом
	OriginalName string
	// ContentType — MIME-тип из заголовка multipart part
	ContentType string
	// Size — заявленный размер в байтах (-1, если неизвестен)
	Size int64
}

// RecoverResult — результат восстановления по WAL при старте.
type RecoverResult struct {
	// Pending — количество незавершённых транзакций
	Pending int
	// UploadsRolledBack — прерванные загрузки, blob которых удалён
	UploadsRolledBack int
	// DeletesCompleted — прерванные удаления, доведённые до конца
	DeletesCompleted int
	// Errors — транзакции, которые не удалось обработать (остались pending)
	Errors int
}

// StorageService — координатор хранилища.
type StorageService struct {
	store       *blobstore.BlobStore
	idx         *index.Index
	walEngine   *wal.WAL
	maxFileSize int64
	logger      *slog.Logger
}

// NewStorageService создаёт координатор хранилища.
func NewStorageService(
	store *blobstore.BlobStore,
	idx *index.Index,
	walEngine *wal.WAL,
	maxFileSize int64,
	logger *slog.Logger,
) *StorageService {
	s := &StorageService{
		store:       store,
		idx:         idx,
		walEngine:   walEngine,
		maxFileSize: maxFileSize,
		logger:      logger.With(slog.String("component", "storage_service")),
	}
	s.updateGauges()
	return s
}

// MaxFileSize возвращает максимальный размер файла в байтах.
func (s *StorageService) MaxFileSize() int64 {
	return s.maxFileSize
}

// Upload сохраняет файл: blob на диск, затем запись в индекс.
//
// Поток:
//  1. Проверка размера и MIME-типа (до любых изменений на диске)
//  2. WAL StartTransaction
//  3. Запись blob {id}{ext} (temp → fsync → rename), не длиннее MAX_FILE_SIZE
//  4. index.Append
//  5. WAL Commit
//
// При ошибке индекса blob удаляется (компенсирующее удаление).
func (s *StorageService) Upload(ctx context.Context, params UploadParams) (*model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if params.Size > s.maxFileSize {
		return nil, s.fail(newError(KindValidation, opUpload, ErrPayloadTooLarge,
			fmt.Errorf("%d байт при максимуме %d", params.Size, s.maxFileSize)))
	}

	mimeType := detectContentType(params.ContentType)
	if !model.IsMimeTypeAllowed(mimeType) {
		return nil, s.fail(newError(KindValidation, opUpload, ErrUnsupportedMediaType,
			fmt.Errorf("%q", mimeType)))
	}

	fileID := uuid.New().String()
	ext := blobstore.Extension(params.OriginalName)
	storedName := blobstore.StoredName(fileID, ext)

	walEntry, err := s.walEngine.StartTransaction(wal.OpUpload, fileID, storedName)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, s.fail(newError(KindIO, opUpload, ErrStorage, err))
	}

	put, err := s.store.Put(params.Reader, fileID, ext, s.maxFileSize)
	if err != nil {
		s.rollback(walEntry)
		switch {
		case errors.Is(err, blobstore.ErrTooLarge):
			return nil, s.fail(newError(KindValidation, opUpload, ErrPayloadTooLarge,
				fmt.Errorf("больше %d байт", s.maxFileSize)))
		case errors.Is(err, blobstore.ErrSource):
			s.logger.Warn("Поток загрузки прерван",
				slog.String("file_id", fileID),
				slog.String("error", err.Error()),
			)
			return nil, s.fail(newError(KindValidation, opUpload, ErrInvalidBody, err))
		}
		s.logger.Error("Ошибка сохранения blob",
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return nil, s.fail(newError(KindIO, opUpload, ErrStorage, err))
	}

	rec := model.FileRecord{
		ID:           fileID,
		OriginalName: params.OriginalName,
		StoredName:   put.StoredName,
		MimeType:     mimeType,
		Size:         uint64(put.Size),
		UploadedAt:   time.Now().UTC(),
	}

	if err := s.idx.Append(rec); err != nil {
		s.compensate(walEntry, put.StoredName)
		return nil, s.fail(newError(KindIndexWrite, opUpload, ErrIndexWrite, err))
	}

	if err := s.walEngine.Commit(walEntry.TransactionID); err != nil {
		// Данные уже согласованы, коммит WAL — best effort
		s.logger.Error("Ошибка коммита WAL (данные сохранены)",
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
	}

	middleware.OperationsTotal.WithLabelValues(opUpload, "success").Inc()
	s.updateGauges()

	s.logger.Info("Файл загружен",
		slog.String("file_id", fileID),
		slog.String("filename", rec.OriginalName),
		slog.String("mime_type", rec.MimeType),
		slog.Uint64("size", rec.Size),
	)

	return &rec, nil
}

// Open возвращает запись и открытый blob для потокового чтения.
// Вызывающий код обязан закрыть файл.
func (s *StorageService) Open(ctx context.Context, id string) (*os.File, model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, model.FileRecord{}, err
	}

	rec, err := s.idx.Find(id)
	if err != nil {
		return nil, model.FileRecord{}, s.fail(newError(KindNotFound, opGet, ErrFileNotFound, err))
	}

	f, err := s.store.Open(rec.StoredName)
	if err != nil {
		return nil, model.FileRecord{}, s.fail(s.blobError(opGet, rec, err))
	}

	middleware.OperationsTotal.WithLabelValues(opGet, "success").Inc()
	return f, rec, nil
}

// Get возвращает запись и содержимое файла целиком.
func (s *StorageService) Get(ctx context.Context, id string) ([]byte, model.FileRecord, error) {
	f, rec, err := s.Open(ctx, id)
	if err != nil {
		return nil, model.FileRecord{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, model.FileRecord{}, s.fail(newError(KindIO, opGet, ErrStorage, err))
	}
	return data, rec, nil
}

// Info возвращает метаданные файла без обращения к blob.
func (s *StorageService) Info(ctx context.Context, id string) (model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return model.FileRecord{}, err
	}

	rec, err := s.idx.Find(id)
	if err != nil {
		return model.FileRecord{}, newError(KindNotFound, opInfo, ErrFileNotFound, err)
	}
	return rec, nil
}

// Delete удаляет файл: сначала blob, затем запись в индексе.
//
// Если blob уже отсутствует (рассинхронизация), это логируется,
// а запись всё равно удаляется. Если не удаётся сохранить индекс,
// WAL-транзакция остаётся pending и будет доведена Recover при старте.
func (s *StorageService) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rec, err := s.idx.Find(id)
	if err != nil {
		return s.fail(newError(KindNotFound, opDelete, ErrFileNotFound, err))
	}

	walEntry, err := s.walEngine.StartTransaction(wal.OpDelete, rec.ID, rec.StoredName)
	if err != nil {
		s.logger.Error("Ошибка создания WAL-транзакции",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return s.fail(newError(KindIO, opDelete, ErrStorage, err))
	}

	if err := s.store.Delete(rec.StoredName); err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			s.rollback(walEntry)
			s.logger.Error("Ошибка удаления blob",
				slog.String("file_id", rec.ID),
				slog.String("stored_name", rec.StoredName),
				slog.String("error", err.Error()),
			)
			return s.fail(newError(KindIO, opDelete, ErrStorage, err))
		}
		if !s.idx.Contains(rec.ID) {
			// Параллельное удаление того же файла уже завершилось
			s.rollback(walEntry)
			return s.fail(newError(KindNotFound, opDelete, ErrFileNotFound, nil))
		}
		s.logger.Warn("Рассинхронизация: blob отсутствует, удаляется только запись",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
	}

	if err := s.idx.Remove(rec.ID); err != nil {
		if errors.Is(err, index.ErrNotFound) {
			s.commit(walEntry)
			return s.fail(newError(KindNotFound, opDelete, ErrFileNotFound, err))
		}
		s.logger.Error("Blob удалён, запись осталась в индексе",
			slog.String("file_id", rec.ID),
			slog.String("tx_id", walEntry.TransactionID),
			slog.String("error", err.Error()),
		)
		return s.fail(newError(KindIndexWrite, opDelete, ErrIndexWrite, err))
	}

	s.commit(walEntry)

	middleware.OperationsTotal.WithLabelValues(opDelete, "success").Inc()
	s.updateGauges()

	s.logger.Info("Файл удалён",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalName),
	)

	return nil
}

// List возвращает окно записей [offset, offset+limit) в порядке загрузки.
func (s *StorageService) List(ctx context.Context, offset, limit int) ([]model.FileRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if offset < 0 || limit < 0 {
		return nil, newError(KindValidation, opList, ErrInvalidPage,
			fmt.Errorf("offset=%d limit=%d", offset, limit))
	}
	return s.idx.List(offset, limit), nil
}

// Stats возвращает количество файлов и их суммарный размер.
func (s *StorageService) Stats() (files int, bytes uint64) {
	return s.idx.Count(), s.idx.TotalSize()
}

// Recover доводит до согласованного состояния операции, прерванные
// аварийным завершением. Вызывается при старте до приёма запросов.
//
//   - upload без записи в индексе: blob удаляется, транзакция откатывается
//   - upload с записью: транзакция фиксируется
//   - delete без blob: запись удаляется, транзакция фиксируется
//   - delete с blob: удаление не начиналось, транзакция откатывается
func (s *StorageService) Recover() (*RecoverResult, error) {
	pending, err := s.walEngine.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("чтение WAL: %w", err)
	}

	result := &RecoverResult{Pending: len(pending)}
	for _, entry := range pending {
		log := s.logger.With(
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("file_id", entry.FileID),
		)

		switch entry.Operation {
		case wal.OpUpload:
			if s.idx.Contains(entry.FileID) {
				s.commit(entry)
				continue
			}
			if err := s.store.Delete(entry.StoredName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
				log.Error("Не удалось удалить blob прерванной загрузки", slog.String("error", err.Error()))
				result.Errors++
				continue
			}
			s.rollback(entry)
			result.UploadsRolledBack++
			log.Info("Прерванная загрузка откачена")

		case wal.OpDelete:
			if s.store.Exists(entry.StoredName) {
				s.rollback(entry)
				continue
			}
			if err := s.idx.Remove(entry.FileID); err != nil && !errors.Is(err, index.ErrNotFound) {
				log.Error("Не удалось завершить прерванное удаление", slog.String("error", err.Error()))
				result.Errors++
				continue
			}
			s.commit(entry)
			result.DeletesCompleted++
			log.Info("Прерванное удаление завершено")

		default:
			log.Warn("Неизвестная операция в WAL")
			s.rollback(entry)
		}
	}

	if _, err := s.walEngine.CleanCommitted(); err != nil {
		s.logger.Warn("Ошибка очистки WAL", slog.String("error", err.Error()))
	}
	s.updateGauges()

	if result.Pending > 0 {
		s.logger.Info("Восстановление по WAL завершено",
			slog.Int("pending", result.Pending),
			slog.Int("uploads_rolled_back", result.UploadsRolledBack),
			slog.Int("deletes_completed", result.DeletesCompleted),
			slog.Int("errors", result.Errors),
		)
	}

	return result, nil
}

// blobError классифицирует ошибку открытия blob для существующей записи.
func (s *StorageService) blobError(op string, rec model.FileRecord, err error) *Error {
	if !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("Ошибка чтения blob",
			slog.String("file_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return newError(KindIO, op, ErrStorage, err)
	}

	// Запись могла исчезнуть вместе с blob при параллельном удалении
	if !s.idx.Contains(rec.ID) {
		return newError(KindNotFound, op, ErrFileNotFound, nil)
	}

	s.logger.Error("Рассинхронизация: запись есть, blob отсутствует",
		slog.String("file_id", rec.ID),
		slog.String("stored_name", rec.StoredName),
	)
	return newError(KindBlobMissing, op, ErrBlobMissing, err)
}

// compensate удаляет записанный blob и откатывает WAL.
// Если blob удалить не удалось, транзакция остаётся pending для Recover.
func (s *StorageService) compensate(entry *wal.Entry, storedName string) {
	if err := s.store.Delete(storedName); err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		s.logger.Error("Компенсирующее удаление blob не удалось",
			slog.String("tx_id", entry.TransactionID),
			slog.String("stored_name", storedName),
			slog.String("error", err.Error()),
		)
		return
	}
	s.rollback(entry)
}

// commit фиксирует WAL-транзакцию (best effort).
func (s *StorageService) commit(entry *wal.Entry) {
	if err := s.walEngine.Commit(entry.TransactionID); err != nil {
		s.logger.Error("Ошибка коммита WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

// rollback откатывает WAL-транзакцию (best effort).
func (s *StorageService) rollback(entry *wal.Entry) {
	if err := s.walEngine.Rollback(entry.TransactionID); err != nil {
		s.logger.Error("Ошибка отката WAL",
			slog.String("tx_id", entry.TransactionID),
			slog.String("error", err.Error()),
		)
	}
}

// fail учитывает ошибку операции в метриках.
func (s *StorageService) fail(err *Error) error {
	middleware.OperationsTotal.WithLabelValues(err.Op, err.Kind.String()).Inc()
	return err
}

// updateGauges обновляет gauge-метрики по текущему состоянию индекса.
func (s *StorageService) updateGauges() {
	files, bytes := s.Stats()
	middleware.FilesTotal.Set(float64(files))
	middleware.StorageBytes.Set(float64(bytes))
}

// detectContentType нормализует Content-Type из заголовка multipart part.
// Если не указан — используется application/octet-stream.
func detectContentType(contentType string) string {
	if contentType == "" {
		return "application/octet-stream"
	}
	// Убираем параметры (charset и т.д.)
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = contentType[:idx]
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
