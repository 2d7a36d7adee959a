// gc.go — сервис фоновой очистки (Garbage Collection) служебных файлов.
//
// GC выполняет две задачи:
//  1. Удаляет временные файлы (*.tmp) в директории хранения, оставшиеся
//     после аварийного завершения посреди записи blob или индекса
//  2. Удаляет завершённые (committed/rolled_back) записи WAL
//
// Запускается как горутина с периодическим тикером (GC_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/wal"
)

// Prometheus метрики GC
var (
	// gcRunsTotal — количество запусков GC.
	gcRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_gc_runs_total",
		Help: "Общее количество запусков GC",
	})

	// gcTempRemovedTotal — количество удалённых временных файлов.
	gcTempRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_gc_temp_removed_total",
		Help: "Общее количество временных файлов, удалённых GC",
	})

	// gcWALCleanedTotal — количество удалённых завершённых WAL-записей.
	gcWALCleanedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_gc_wal_cleaned_total",
		Help: "Общее количество завершённых WAL-записей, удалённых GC",
	})

	// gcDurationSeconds — длительность выполнения GC.
	gcDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sb_gc_duration_seconds",
		Help:    "Длительность выполнения GC в секундах",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})
)

// GCResult — результат одного запуска GC.
type GCResult struct {
	// TempRemoved — количество удалённых временных файлов
	TempRemoved int
	// WALCleaned — количество удалённых WAL-записей
	WALCleaned int
	// Errors — количество ошибок
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// GCService — сервис фоновой очистки служебных файлов.
type GCService struct {
	store      *blobstore.BlobStore
	walEngine  *wal.WAL
	interval   time.Duration
	tempMaxAge time.Duration
	logger     *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewGCService создаёт сервис GC.
// tempMaxAge — минимальный возраст временного файла для удаления:
// более молодые файлы могут принадлежать идущей записи.
func NewGCService(
	store *blobstore.BlobStore,
	walEngine *wal.WAL,
	interval time.Duration,
	tempMaxAge time.Duration,
	logger *slog.Logger,
) *GCService {
	return &GCService{
		store:      store,
		walEngine:  walEngine,
		interval:   interval,
		tempMaxAge: tempMaxAge,
		logger:     logger.With(slog.String("component", "gc")),
	}
}

// Start запускает фоновую горутину GC с периодическим тикером.
// Вызывается один раз при старте приложения.
func (gc *GCService) Start(ctx context.Context) {
	gcCtx, cancel := context.WithCancel(ctx)
	gc.cancel = cancel
	gc.done = make(chan struct{})

	go gc.run(gcCtx)

	gc.logger.Info("GC запущен",
		slog.String("interval", gc.interval.String()),
		slog.String("temp_max_age", gc.tempMaxAge.String()),
	)
}

// Stop останавливает фоновый процесс GC.
func (gc *GCService) Stop() {
	if gc.cancel != nil {
		gc.cancel()
		<-gc.done
	}
	gc.logger.Info("GC остановлен")
}

// run — основной цикл фоновой горутины.
func (gc *GCService) run(ctx context.Context) {
	defer close(gc.done)

	// Первый запуск — сразу после старта
	gc.RunOnce()

	ticker := time.NewTicker(gc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			gc.RunOnce()
		}
	}
}

// RunOnce выполняет один цикл GC.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (gc *GCService) RunOnce() *GCResult {
	gc.mu.Lock()
	defer gc.mu.Unlock()

	start := time.Now()
	result := &GCResult{}

	gc.logger.Debug("GC запуск начат")

	removed, err := gc.store.RemoveStaleTemp(gc.tempMaxAge)
	if err != nil {
		gc.logger.Error("GC: ошибка удаления временных файлов",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.TempRemoved = removed

	cleaned, err := gc.walEngine.CleanCommitted()
	if err != nil {
		gc.logger.Error("GC: ошибка очистки WAL",
			slog.String("error", err.Error()),
		)
		result.Errors++
	}
	result.WALCleaned = cleaned

	result.Duration = time.Since(start)

	gcRunsTotal.Inc()
	gcTempRemovedTotal.Add(float64(result.TempRemoved))
	gcWALCleanedTotal.Add(float64(result.WALCleaned))
	gcDurationSeconds.Observe(result.Duration.Seconds())

	gc.logger.Info("GC завершён",
		slog.Int("temp_removed", result.TempRemoved),
		slog.Int("wal_cleaned", result.WALCleaned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}
