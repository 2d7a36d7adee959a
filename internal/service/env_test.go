package service

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bigkaa/goartstore/storage-bucket/internal/domain/model"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/index"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/wal"
)

// testEnv — окружение для тестов сервисного слоя.
type testEnv struct {
	dir    string
	store  *blobstore.BlobStore
	idx    *index.Index
	wal    *wal.WAL
	svc    *StorageService
	logger *slog.Logger
}

// testLogger возвращает логгер для тестов (вывод только ошибок).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestEnv создаёт хранилище во временной директории.
func newTestEnv(t *testing.T, maxFileSize int64) *testEnv {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()

	store, err := blobstore.New(dir)
	if err != nil {
		t.Fatalf("Ошибка создания BlobStore: %v", err)
	}
	idx, err := index.Open(filepath.Join(dir, index.FileName), logger)
	if err != nil {
		t.Fatalf("Ошибка открытия индекса: %v", err)
	}
	walEngine, err := wal.New(filepath.Join(dir, ".wal"), logger)
	if err != nil {
		t.Fatalf("Ошибка создания WAL: %v", err)
	}

	return &testEnv{
		dir:    dir,
		store:  store,
		idx:    idx,
		wal:    walEngine,
		svc:    NewStorageService(store, idx, walEngine, maxFileSize, logger),
		logger: logger,
	}
}

// upload загружает файл с указанным содержимым и завершает тест при ошибке.
func (e *testEnv) upload(t *testing.T, name, contentType, content string) *model.FileRecord {
	t.Helper()

	rec, err := e.svc.Upload(context.Background(), UploadParams{
		Reader:       bytes.NewReader([]byte(content)),
		OriginalName: name,
		ContentType:  contentType,
		Size:         int64(len(content)),
	})
	if err != nil {
		t.Fatalf("Ошибка загрузки %s: %v", name, err)
	}
	return rec
}

// blobNames возвращает имена blob-файлов без документа индекса.
func (e *testEnv) blobNames(t *testing.T) []string {
	t.Helper()

	names, err := e.store.Names()
	if err != nil {
		t.Fatalf("Ошибка листинга: %v", err)
	}
	out := make([]string, 0, len(names))
	for _, name := range names {
		if name != index.FileName {
			out = append(out, name)
		}
	}
	return out
}
