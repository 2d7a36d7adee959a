// reconcile.go — сервис фоновой сверки (Reconciliation) blob-файлов и индекса.
//
// Reconciliation сравнивает:
//   - blob-файлы в директории хранения с записями индекса
//   - размер blob на диске с размером в записи
//
// Обнаруживает проблемы:
//   - orphaned_blob: blob на диске без записи в индексе
//   - missing_blob: запись в индексе, но blob нет
//   - size_mismatch: размер blob не совпадает с записью
//
// Только отчёт: ничего не исправляет. Запускается при старте,
// с периодическим тикером (RECONCILE_INTERVAL) и вручную через API.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/blobstore"
	"github.com/bigkaa/goartstore/storage-bucket/internal/storage/index"
)

// statConcurrency — число параллельных stat при проверке размеров.
const statConcurrency = 8

// Prometheus метрики Reconciliation
var (
	// reconcileRunsTotal — количество запусков reconciliation.
	reconcileRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sb_reconcile_runs_total",
		Help: "Общее количество запусков reconciliation",
	})

	// reconcileIssuesTotal — количество обнаруженных проблем по типу.
	reconcileIssuesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sb_reconcile_issues_total",
		Help: "Общее количество проблем, обнаруженных reconciliation",
	}, []string{"type"})

	// reconcileDurationSeconds — длительность выполнения reconciliation.
	reconcileDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sb_reconcile_duration_seconds",
		Help:    "Длительность выполнения reconciliation в секундах",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
	})
)

// IssueType — тип проблемы, найденной сверкой.
type IssueType string

const (
	// IssueOrphanedBlob — blob на диске без записи в индексе.
	IssueOrphanedBlob IssueType = "orphaned_blob"
	// IssueMissingBlob — запись в индексе без blob на диске.
	IssueMissingBlob IssueType = "missing_blob"
	// IssueSizeMismatch — размер blob не совпадает с записью.
	IssueSizeMismatch IssueType = "size_mismatch"
)

// ReconcileIssue — одна найденная проблема.
type ReconcileIssue struct {
	Type        IssueType `json:"type"`
	FileID      string    `json:"file_id,omitempty"`
	StoredName  string    `json:"stored_name"`
	Description string    `json:"description"`
}

// ReconcileSummary — сводка по типам проблем.
type ReconcileSummary struct {
	OK             int `json:"ok"`
	OrphanedBlobs  int `json:"orphaned_blobs"`
	MissingBlobs   int `json:"missing_blobs"`
	SizeMismatches int `json:"size_mismatches"`
}

// ReconcileReport — результат одного цикла сверки.
type ReconcileReport struct {
	StartedAt    time.Time        `json:"started_at"`
	CompletedAt  time.Time        `json:"completed_at"`
	FilesChecked int              `json:"files_checked"`
	Issues       []ReconcileIssue `json:"issues"`
	Summary      ReconcileSummary `json:"summary"`
}

// ReconcileService — сервис фоновой сверки хранилища.
type ReconcileService struct {
	store    *blobstore.BlobStore
	idx      *index.Index
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex // защита от параллельного запуска
	inProcess bool       // reconciliation в процессе выполнения
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewReconcileService создаёт сервис reconciliation.
func NewReconcileService(
	store *blobstore.BlobStore,
	idx *index.Index,
	interval time.Duration,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		store:    store,
		idx:      idx,
		interval: interval,
		logger:   logger.With(slog.String("component", "reconcile")),
	}
}

// Start запускает фоновую горутину: первый цикл сразу, далее по тикеру.
// При interval <= 0 выполняется только стартовый цикл.
func (rs *ReconcileService) Start(ctx context.Context) {
	rsCtx, cancel := context.WithCancel(ctx)
	rs.cancel = cancel
	rs.done = make(chan struct{})

	go rs.run(rsCtx)

	rs.logger.Info("Reconciliation запущена",
		slog.String("interval", rs.interval.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего цикла.
func (rs *ReconcileService) Stop() {
	if rs.cancel != nil {
		rs.cancel()
		<-rs.done
	}
	rs.logger.Info("Reconciliation остановлена")
}

// IsInProgress возвращает true, если reconciliation выполняется.
func (rs *ReconcileService) IsInProgress() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.inProcess
}

// run — основной цикл фоновой горутины.
func (rs *ReconcileService) run(ctx context.Context) {
	defer close(rs.done)

	rs.RunOnce(ctx)
	if rs.interval <= 0 {
		return
	}

	ticker := time.NewTicker(rs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rs.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл reconciliation.
// Потокобезопасен: если reconciliation уже выполняется, возвращает nil, true.
//
// Возвращает:
//   - *ReconcileReport — результат сверки (nil при ошибке чтения директории)
//   - bool — true если reconciliation уже выполнялась (skipped)
func (rs *ReconcileService) RunOnce(ctx context.Context) (*ReconcileReport, bool) {
	rs.mu.Lock()
	if rs.inProcess {
		rs.mu.Unlock()
		rs.logger.Warn("Reconciliation уже выполняется, пропуск")
		return nil, true
	}
	rs.inProcess = true
	rs.mu.Unlock()

	defer func() {
		rs.mu.Lock()
		rs.inProcess = false
		rs.mu.Unlock()
	}()

	startedAt := time.Now().UTC()
	rs.logger.Info("Reconciliation начата")

	issues, checked, err := rs.reconcile(ctx)
	if err != nil {
		rs.logger.Error("Reconciliation прервана", slog.String("error", err.Error()))
		return nil, false
	}

	completedAt := time.Now().UTC()
	duration := completedAt.Sub(startedAt)

	summary := ReconcileSummary{}
	for _, issue := range issues {
		switch issue.Type {
		case IssueOrphanedBlob:
			summary.OrphanedBlobs++
		case IssueMissingBlob:
			summary.MissingBlobs++
		case IssueSizeMismatch:
			summary.SizeMismatches++
		}
		reconcileIssuesTotal.WithLabelValues(string(issue.Type)).Inc()
	}
	summary.OK = max(checked-summary.MissingBlobs-summary.SizeMismatches, 0)

	reconcileRunsTotal.Inc()
	reconcileDurationSeconds.Observe(duration.Seconds())

	level := slog.LevelInfo
	if len(issues) > 0 {
		level = slog.LevelWarn
	}
	rs.logger.Log(ctx, level, "Reconciliation завершена",
		slog.Int("files_checked", checked),
		slog.Int("issues", len(issues)),
		slog.Int("ok", summary.OK),
		slog.Duration("duration", duration),
	)

	return &ReconcileReport{
		StartedAt:    startedAt,
		CompletedAt:  completedAt,
		FilesChecked: checked,
		Issues:       issues,
		Summary:      summary,
	}, false
}

// reconcile сравнивает снимок индекса с содержимым директории хранения.
// Возвращает найденные проблемы (отсортированы по имени blob)
// и количество проверенных записей.
func (rs *ReconcileService) reconcile(ctx context.Context) ([]ReconcileIssue, int, error) {
	// Снимок индекса берётся до листинга директории: blob, загруженный
	// между шагами, может быть ошибочно показан как orphaned_blob.
	records := rs.idx.Snapshot()

	names, err := rs.store.Names()
	if err != nil {
		return nil, 0, err
	}
	onDisk := make(map[string]bool, len(names))
	for _, name := range names {
		if name == index.FileName {
			continue
		}
		onDisk[name] = true
	}

	// Размеры blob проверяются параллельно; результат i относится к records[i]
	found := make([]*ReconcileIssue, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statConcurrency)

	for i, rec := range records {
		if !onDisk[rec.StoredName] {
			found[i] = &ReconcileIssue{
				Type:        IssueMissingBlob,
				FileID:      rec.ID,
				StoredName:  rec.StoredName,
				Description: "Запись в индексе без blob на диске",
			}
			continue
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			size, err := rs.store.Size(rec.StoredName)
			if err != nil {
				if errors.Is(err, blobstore.ErrNotFound) {
					// Удалён между листингом и stat
					return nil
				}
				rs.logger.Warn("Ошибка получения размера blob",
					slog.String("stored_name", rec.StoredName),
					slog.String("error", err.Error()),
				)
				return nil
			}
			if uint64(size) != rec.Size {
				found[i] = &ReconcileIssue{
					Type:        IssueSizeMismatch,
					FileID:      rec.ID,
					StoredName:  rec.StoredName,
					Description: "Размер blob на диске не совпадает с записью в индексе",
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	issues := make([]ReconcileIssue, 0)
	referenced := make(map[string]bool, len(records))
	for i, rec := range records {
		referenced[rec.StoredName] = true
		if found[i] != nil {
			issues = append(issues, *found[i])
		}
	}

	for name := range onDisk {
		if referenced[name] {
			continue
		}
		issues = append(issues, ReconcileIssue{
			Type:        IssueOrphanedBlob,
			StoredName:  name,
			Description: "Blob на диске без записи в индексе",
		})
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].StoredName < issues[j].StoredName
	})

	return issues, len(records), nil
}
