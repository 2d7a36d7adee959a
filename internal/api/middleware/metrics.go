// Пакет middleware — HTTP middleware Storage Bucket: логирование запросов
// и Prometheus метрики.
//
// metrics.go — регистрирует HTTP метрики (sb_http_requests_total,
// sb_http_request_duration_seconds) и бизнес-метрики хранилища
// (sb_files_total, sb_storage_bytes, sb_operations_total), которые
// обновляются из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// unmatchedPath — лейбл пути для запросов, не попавших ни в один маршрут.
const unmatchedPath = "unmatched"

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sb_http_requests_total",
			Help: "Общее количество HTTP-запросов к Storage Bucket",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sb_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Storage Bucket в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики (экспортируются для обновления из сервисного слоя)
var (
	// FilesTotal — текущее количество файлов в индексе (gauge).
	FilesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sb_files_total",
			Help: "Текущее количество файлов в индексе",
		},
	)

	// StorageBytes — суммарный размер хранимых файлов (gauge).
	StorageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sb_storage_bytes",
			Help: "Суммарный размер хранимых файлов в байтах",
		},
	)

	// OperationsTotal — количество файловых операций по результату.
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sb_operations_total",
			Help: "Общее количество файловых операций",
		},
		[]string{"operation", "result"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого маршрута.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			// Шаблон маршрута известен только после маршрутизации
			path := routePattern(r)
			status := strconv.Itoa(responseStatus(ww))

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// routePattern возвращает шаблон маршрута chi (/storage/files/{id})
// вместо фактического пути, чтобы id не попадали в лейблы метрик.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return unmatchedPath
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return unmatchedPath
}
