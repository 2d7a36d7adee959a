// logging.go — журнал HTTP-запросов Storage Bucket через slog.
// Статус и размер ответа снимаются обёрткой chi WrapResponseWriter.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// quietPrefixes — служебные пути (проверки kubelet, scrape Prometheus,
// документация), успешные запросы к которым пишутся на уровне DEBUG.
var quietPrefixes = []string{"/health/", "/metrics", "/docs"}

// RequestLogger возвращает middleware, логирующий каждый HTTP-запрос:
// метод, путь, шаблон маршрута, статус, длительность, размеры запроса
// и ответа, remote_addr, request_id.
//
// Уровень: ERROR для 5xx, WARN для 4xx, иначе INFO;
// успешные служебные запросы — DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := responseStatus(ww)
			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("route", routePattern(r)),
				slog.Int("status", status),
				slog.Duration("duration", time.Since(start)),
				slog.Int("bytes", ww.BytesWritten()),
				slog.String("remote_addr", r.RemoteAddr),
				slog.String("request_id", chimw.GetReqID(r.Context())),
			}
			// Размер тела известен только при заданном Content-Length
			if r.ContentLength > 0 {
				attrs = append(attrs, slog.Int64("request_bytes", r.ContentLength))
			}

			logger.LogAttrs(r.Context(), requestLevel(r.URL.Path, status), "HTTP запрос", attrs...)
		})
	}
}

// requestLevel выбирает уровень записи по пути и статус-коду.
func requestLevel(path string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest:
		return slog.LevelWarn
	}
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return slog.LevelDebug
		}
	}
	return slog.LevelInfo
}

// responseStatus возвращает статус ответа; 200, если handler ничего не записал.
func responseStatus(ww chimw.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
