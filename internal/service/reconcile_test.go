package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReconcileRunOnce_NoIssues(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	env.upload(t, "a.txt", "text/plain", "hello")
	env.upload(t, "b.json", "application/json", "{}")

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, skipped := rs.RunOnce(context.Background())

	if skipped {
		t.Fatal("Reconciliation не должна быть пропущена")
	}
	if report == nil {
		t.Fatal("Ожидался отчёт")
	}
	if report.FilesChecked != 2 {
		t.Errorf("FilesChecked: хотели 2, получили %d", report.FilesChecked)
	}
	if len(report.Issues) != 0 {
		t.Errorf("Ожидалось 0 проблем, получено %+v", report.Issues)
	}
	if report.Summary.OK != 2 {
		t.Errorf("Summary.OK: хотели 2, получили %d", report.Summary.OK)
	}
	if report.CompletedAt.Before(report.StartedAt) {
		t.Error("CompletedAt раньше StartedAt")
	}
}

func TestReconcileRunOnce_EmptyDirectory(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, _ := rs.RunOnce(context.Background())

	if report == nil || report.FilesChecked != 0 || len(report.Issues) != 0 {
		t.Errorf("Неожиданный отчёт для пустого хранилища: %+v", report)
	}
	if report != nil && report.Issues == nil {
		t.Error("Issues должен быть пустым списком, а не nil")
	}
}

func TestReconcileRunOnce_OrphanedBlob(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	env.upload(t, "a.txt", "text/plain", "hello")

	if err := os.WriteFile(filepath.Join(env.dir, "stray.bin"), []byte("x"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, _ := rs.RunOnce(context.Background())

	if len(report.Issues) != 1 {
		t.Fatalf("Ожидалась 1 проблема, получено %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.Type != IssueOrphanedBlob || issue.StoredName != "stray.bin" || issue.FileID != "" {
		t.Errorf("Неожиданная проблема: %+v", issue)
	}
	if report.Summary.OrphanedBlobs != 1 || report.Summary.OK != 1 {
		t.Errorf("Неожиданная сводка: %+v", report.Summary)
	}

	// Только отчёт: blob не удаляется
	if !env.store.Exists("stray.bin") {
		t.Error("Reconciliation не должна удалять файлы")
	}
}

func TestReconcileRunOnce_MissingBlob(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	rec := env.upload(t, "a.txt", "text/plain", "hello")

	if err := os.Remove(filepath.Join(env.dir, rec.StoredName)); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, _ := rs.RunOnce(context.Background())

	if len(report.Issues) != 1 {
		t.Fatalf("Ожидалась 1 проблема, получено %+v", report.Issues)
	}
	issue := report.Issues[0]
	if issue.Type != IssueMissingBlob || issue.FileID != rec.ID {
		t.Errorf("Неожиданная проблема: %+v", issue)
	}
	if report.Summary.MissingBlobs != 1 || report.Summary.OK != 0 {
		t.Errorf("Неожиданная сводка: %+v", report.Summary)
	}
	if !env.idx.Contains(rec.ID) {
		t.Error("Reconciliation не должна менять индекс")
	}
}

func TestReconcileRunOnce_SizeMismatch(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	rec := env.upload(t, "a.txt", "text/plain", "hello")
	env.upload(t, "b.txt", "text/plain", "world")

	if err := os.WriteFile(filepath.Join(env.dir, rec.StoredName), []byte("hello, world"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, _ := rs.RunOnce(context.Background())

	if len(report.Issues) != 1 {
		t.Fatalf("Ожидалась 1 проблема, получено %+v", report.Issues)
	}
	if report.Issues[0].Type != IssueSizeMismatch || report.Issues[0].FileID != rec.ID {
		t.Errorf("Неожиданная проблема: %+v", report.Issues[0])
	}
	if report.Summary.SizeMismatches != 1 || report.Summary.OK != 1 {
		t.Errorf("Неожиданная сводка: %+v", report.Summary)
	}
}

func TestReconcileRunOnce_SkipsServiceFiles(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	env.upload(t, "a.txt", "text/plain", "hello")

	// Временные и скрытые файлы, документ индекса и WAL не являются blob
	for _, name := range []string{"leftover.txt.tmp", ".hidden", "metadata.json.tmp"} {
		if err := os.WriteFile(filepath.Join(env.dir, name), []byte("x"), 0o640); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, _ := rs.RunOnce(context.Background())

	if len(report.Issues) != 0 {
		t.Errorf("Служебные файлы не должны считаться проблемами: %+v", report.Issues)
	}
}

func TestReconcileRunOnce_ConcurrentProtection(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)

	rs.mu.Lock()
	rs.inProcess = true
	rs.mu.Unlock()

	if !rs.IsInProgress() {
		t.Fatal("IsInProgress должен вернуть true")
	}

	report, skipped := rs.RunOnce(context.Background())
	if !skipped || report != nil {
		t.Error("Параллельный запуск должен быть пропущен")
	}

	rs.mu.Lock()
	rs.inProcess = false
	rs.mu.Unlock()

	if _, skipped := rs.RunOnce(context.Background()); skipped {
		t.Error("После завершения reconciliation запуск не должен пропускаться")
	}
}

func TestReconcileRunOnce_CancelledContext(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)
	env.upload(t, "a.txt", "text/plain", "hello")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rs := NewReconcileService(env.store, env.idx, time.Hour, env.logger)
	report, skipped := rs.RunOnce(ctx)
	if skipped || report != nil {
		t.Errorf("Отменённая сверка не должна возвращать отчёт: %+v", report)
	}
	if rs.IsInProgress() {
		t.Error("Флаг выполнения должен быть сброшен")
	}
}

func TestReconcileStartStop(t *testing.T) {
	env := newTestEnv(t, testMaxFileSize)

	rs := NewReconcileService(env.store, env.idx, 0, env.logger)
	rs.Start(context.Background())
	rs.Stop()

	if rs.IsInProgress() {
		t.Error("После Stop сверка не должна выполняться")
	}
}
