// Точка входа Storage Bucket — HTTP-сервиса хранения файлов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/storage-bucket/internal/api/handlers"
	"github.com/bigkaa/goartstore/storage-bucket/internal/config"
	"github.com/bigkaa/goartstore/storage-bucket/internal/server"
	"github.com/bigkaa/goartstore/storage-bucket/internal/service"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/dirlock"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/index"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из .env и переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Storage Bucket запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("upload_dir", cfg.UploadDir),
		slog.Int64("max_file_size", cfg.MaxFileSize),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Storage Bucket завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Storage Bucket остановлен")
}

// run инициализирует компоненты, запускает фоновые процессы и HTTP-сервер.
// Возвращает управление после graceful shutdown.
func run(cfg *config.Config, logger *slog.Logger) error {
	// --- Инициализация компонентов ---

	// 1. Blob-хранилище (создаёт UPLOAD_DIR)
	store, err := blobstore.New(cfg.UploadDir)
	if err != nil {
		return fmt.Errorf("инициализация blob-хранилища: %w", err)
	}

	// Один процесс на директорию: индекс переписывается целиком
	lock, err := dirlock.Acquire(cfg.UploadDir)
	if err != nil {
		return err
	}
	defer lock.Release()
	logger.Info("Директория хранения захвачена", slog.String("owner", lock.Owner()))

	// 2. Индекс метаданных: повреждённый metadata.json останавливает запуск
	idx, err := index.Open(filepath.Join(cfg.UploadDir, index.FileName), logger)
	if err != nil {
		return fmt.Errorf("загрузка индекса: %w", err)
	}
	logger.Info("Индекс метаданных загружен",
		slog.Int("files", idx.Count()),
		slog.Uint64("bytes", idx.TotalSize()),
	)

	// 3. WAL-движок
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("инициализация WAL: %w", err)
	}

	// 4. Координатор хранилища и восстановление по WAL
	storageSvc := service.NewStorageService(store, idx, walEngine, cfg.MaxFileSize, logger)
	if _, err := storageSvc.Recover(); err != nil {
		return fmt.Errorf("восстановление WAL: %w", err)
	}

	registerDiskMetrics(cfg.UploadDir, logger)

	// 5. Фоновые процессы
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 5.1 GC — очистка временных файлов и WAL
	gcSvc := service.NewGCService(store, walEngine, cfg.GCInterval, cfg.GCTempMaxAge, logger)
	gcSvc.Start(ctx)
	defer gcSvc.Stop()

	// 5.2 Reconciliation — фоновая сверка
	reconcileSvc := service.NewReconcileService(store, idx, cfg.ReconcileInterval, logger)
	reconcileSvc.Start(ctx)
	defer reconcileSvc.Stop()

	// 6. Handlers
	docsHandler, err := handlers.NewDocsHandler(ctx)
	if err != nil {
		return err
	}
	apiHandler := handlers.NewAPIHandler(
		handlers.NewFilesHandler(storageSvc, logger),
		handlers.NewMaintenanceHandler(reconcileSvc),
		handlers.NewHealthHandler(cfg.UploadDir, cfg.WALDir, idx),
		docsHandler,
	)

	// 7. HTTP-сервер; блокируется до сигнала завершения
	srv := server.New(cfg, logger, apiHandler)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("ошибка сервера: %w", err)
	}

	logger.Info("Остановка фоновых процессов...")
	return nil
}
