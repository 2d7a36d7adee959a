// health.go — обработчики health endpoints: /storage/health для клиентов
// и /health/live, /health/ready для проверок Kubernetes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/storage-bucket/internal/config"
)

const (
	// statusFail — строковая константа для статуса "fail" в health checks.
	statusFail = "fail"

	// serviceName — имя сервиса в ответах health endpoints.
	serviceName = "storage-bucket"
)

// IndexReadinessChecker — интерфейс для проверки готовности индекса.
type IndexReadinessChecker interface {
	IsReady() bool
}

// HealthHandler реализует health endpoints.
type HealthHandler struct {
	version string
	// uploadDir — директория blob-файлов и индекса
	uploadDir string
	// walDir — путь к директории WAL
	walDir string
	// idx — индекс для проверки готовности
	idx IndexReadinessChecker
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(uploadDir, walDir string, idx IndexReadinessChecker) *HealthHandler {
	return &HealthHandler{
		version:   config.Version,
		uploadDir: uploadDir,
		walDir:    walDir,
		idx:       idx,
	}
}

// StorageHealth обрабатывает GET /storage/health.
// Всегда 200: процесс отвечает на запросы.
func (h *HealthHandler) StorageHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": formatTime(time.Now()),
	})
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": formatTime(time.Now()),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: директория хранения, WAL директория, готовность индекса.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := checkWritable(h.uploadDir, "Директория хранения недоступна для записи")
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Без WAL загрузки и удаления продолжают работать, но без восстановления
	walCheck := checkWritable(h.walDir, "Директория WAL недоступна для записи")
	if walCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	indexCheck := map[string]any{"status": "ok"}
	if h.idx != nil && !h.idx.IsReady() {
		indexCheck = map[string]any{
			"status":  statusFail,
			"message": "Индекс метаданных не загружен",
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": formatTime(time.Now()),
		"version":   h.version,
		"service":   serviceName,
		"checks": map[string]any{
			"filesystem": fsCheck,
			"wal":        walCheck,
			"index":      indexCheck,
		},
	})
}

// checkWritable проверяет доступность директории на запись.
// В ответ попадает только message, без пути и текста системной ошибки.
func checkWritable(dir, failMessage string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": failMessage,
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}

// timestampLayout — ISO 8601 в UTC с миллисекундами: 2024-01-02T03:04:05.678Z.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// formatTime форматирует время для API-ответов.
func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
