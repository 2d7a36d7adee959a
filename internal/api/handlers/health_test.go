package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// readiness — заглушка IndexReadinessChecker.
type readiness bool

func (r readiness) IsReady() bool { return bool(r) }

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestStorageHealth(t *testing.T) {
	env := newAPIEnv(t, 1<<20)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/storage/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeMap(t, rec)
	require.Equal(t, "healthy", body["status"])
	ts, ok := body["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	require.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, ts)
}

func TestFormatTime(t *testing.T) {
	moscow := time.FixedZone("MSK", 3*60*60)
	tests := []struct {
		name string
		in   time.Time
		want string
	}{
		{name: "миллисекунды", in: time.Date(2024, 1, 2, 3, 4, 5, 678_900_000, time.UTC), want: "2024-01-02T03:04:05.678Z"},
		{name: "ровная секунда", in: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), want: "2024-01-02T03:04:05.000Z"},
		{name: "перевод в UTC", in: time.Date(2024, 1, 2, 6, 4, 5, 0, moscow), want: "2024-01-02T03:04:05.000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, formatTime(tt.in))
		})
	}
}

func TestHealthLive(t *testing.T) {
	env := newAPIEnv(t, 1<<20)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeMap(t, rec)
	require.Equal(t, "ok", body["status"])
	require.Equal(t, serviceName, body["service"])
}

func TestHealthReady(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		handler    *HealthHandler
		wantCode   int
		wantStatus string
	}{
		{
			name:       "всё доступно",
			handler:    NewHealthHandler(dir, dir, readiness(true)),
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "индекс не загружен",
			handler:    NewHealthHandler(dir, dir, readiness(false)),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: statusFail,
		},
		{
			name:       "директория хранения отсутствует",
			handler:    NewHealthHandler(filepath.Join(dir, "missing"), dir, readiness(true)),
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: statusFail,
		},
		{
			name:       "WAL недоступен",
			handler:    NewHealthHandler(dir, filepath.Join(dir, "missing"), readiness(true)),
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			tt.handler.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			require.Equal(t, tt.wantCode, rec.Code)
			body := decodeMap(t, rec)
			require.Equal(t, tt.wantStatus, body["status"])
			require.NotContains(t, rec.Body.String(), dir)
		})
	}
}
