package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// envKeys — все переменные окружения, читаемые Load.
var envKeys = []string{
	"ENV_FILE", "PORT", "UPLOAD_DIR", "WAL_DIR", "MAX_FILE_SIZE",
	"RECONCILE_INTERVAL", "GC_INTERVAL", "GC_TEMP_MAX_AGE",
	"LOG_LEVEL", "LOG_FORMAT",
	"HTTP_READ_TIMEOUT", "HTTP_WRITE_TIMEOUT", "HTTP_IDLE_TIMEOUT",
	"SHUTDOWN_TIMEOUT",
}

// clearAllEnvVars очищает все переменные конфигурации для чистого теста
// и восстанавливает исходные значения после завершения теста.
// ENV_FILE указывает на несуществующий файл, чтобы .env рабочей
// директории не влиял на тест.
func clearAllEnvVars(t *testing.T) {
	t.Helper()

	originals := make(map[string]string)
	origSet := make(map[string]bool)
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			originals[k] = v
			origSet[k] = true
		}
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range envKeys {
			if origSet[k] {
				os.Setenv(k, originals[k])
			} else {
				os.Unsetenv(k)
			}
		}
	})

	os.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "absent.env"))
}

// setEnvVars устанавливает переменные окружения для теста.
func setEnvVars(vars map[string]string) {
	for k, v := range vars {
		os.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: неожиданная ошибка: %v", err)
	}

	wantDir, _ := filepath.Abs("uploads")
	if cfg.Port != 5100 {
		t.Errorf("Port: ожидалось 5100, получено %d", cfg.Port)
	}
	if cfg.UploadDir != wantDir {
		t.Errorf("UploadDir: ожидалось %s, получено %s", wantDir, cfg.UploadDir)
	}
	if cfg.WALDir != filepath.Join(wantDir, ".wal") {
		t.Errorf("WALDir: ожидалось %s, получено %s", filepath.Join(wantDir, ".wal"), cfg.WALDir)
	}
	if cfg.MaxFileSize != 104857600 {
		t.Errorf("MaxFileSize: ожидалось 104857600, получено %d", cfg.MaxFileSize)
	}
	if cfg.ReconcileInterval != 6*time.Hour {
		t.Errorf("ReconcileInterval: ожидалось 6h, получено %s", cfg.ReconcileInterval)
	}
	if cfg.GCInterval != time.Hour || cfg.GCTempMaxAge != time.Hour {
		t.Errorf("GC: ожидалось 1h/1h, получено %s/%s", cfg.GCInterval, cfg.GCTempMaxAge)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel: ожидалось INFO, получено %s", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: ожидалось json, получено %s", cfg.LogFormat)
	}
	if cfg.ReadTimeout != 30*time.Second || cfg.WriteTimeout != 60*time.Second || cfg.IdleTimeout != 120*time.Second {
		t.Errorf("HTTP таймауты: получено %s/%s/%s", cfg.ReadTimeout, cfg.WriteTimeout, cfg.IdleTimeout)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 10s, получено %s", cfg.ShutdownTimeout)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearAllEnvVars(t)
	dir := t.TempDir()
	setEnvVars(map[string]string{
		"PORT":               "8080",
		"UPLOAD_DIR":         dir,
		"WAL_DIR":            "/var/lib/wal",
		"MAX_FILE_SIZE":      "1024",
		"RECONCILE_INTERVAL": "0",
		"GC_INTERVAL":        "15m",
		"GC_TEMP_MAX_AGE":    "30m",
		"LOG_LEVEL":          "debug",
		"LOG_FORMAT":         "text",
		"SHUTDOWN_TIMEOUT":   "3s",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: неожиданная ошибка: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port: ожидалось 8080, получено %d", cfg.Port)
	}
	if cfg.UploadDir != dir {
		t.Errorf("UploadDir: ожидалось %s, получено %s", dir, cfg.UploadDir)
	}
	if cfg.WALDir != "/var/lib/wal" {
		t.Errorf("WALDir: ожидалось /var/lib/wal, получено %s", cfg.WALDir)
	}
	if cfg.MaxFileSize != 1024 {
		t.Errorf("MaxFileSize: ожидалось 1024, получено %d", cfg.MaxFileSize)
	}
	if cfg.ReconcileInterval != 0 {
		t.Errorf("ReconcileInterval: ожидалось 0, получено %s", cfg.ReconcileInterval)
	}
	if cfg.GCInterval != 15*time.Minute || cfg.GCTempMaxAge != 30*time.Minute {
		t.Errorf("GC: получено %s/%s", cfg.GCInterval, cfg.GCTempMaxAge)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.LogFormat != "text" {
		t.Errorf("Логирование: получено %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout: ожидалось 3s, получено %s", cfg.ShutdownTimeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"порт не число", "PORT", "abc"},
		{"порт 0", "PORT", "0"},
		{"порт больше 65535", "PORT", "70000"},
		{"размер не число", "MAX_FILE_SIZE", "10MB"},
		{"размер 0", "MAX_FILE_SIZE", "0"},
		{"размер отрицательный", "MAX_FILE_SIZE", "-1"},
		{"интервал сверки", "RECONCILE_INTERVAL", "often"},
		{"отрицательный интервал сверки", "RECONCILE_INTERVAL", "-1h"},
		{"интервал GC 0", "GC_INTERVAL", "0s"},
		{"возраст temp", "GC_TEMP_MAX_AGE", "1 hour"},
		{"уровень логов", "LOG_LEVEL", "verbose"},
		{"формат логов", "LOG_FORMAT", "xml"},
		{"read timeout", "HTTP_READ_TIMEOUT", "x"},
		{"shutdown timeout", "SHUTDOWN_TIMEOUT", "10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearAllEnvVars(t)
			os.Setenv(tt.key, tt.val)

			_, err := Load()
			if err == nil {
				t.Fatalf("ожидалась ошибка для %s=%q", tt.key, tt.val)
			}
			if !strings.HasPrefix(err.Error(), tt.key) {
				t.Errorf("ошибка должна начинаться с имени переменной %s: %v", tt.key, err)
			}
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	clearAllEnvVars(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	content := "MAX_FILE_SIZE=2048\nLOG_FORMAT=text\n"
	if err := os.WriteFile(envFile, []byte(content), 0o600); err != nil {
		t.Fatalf("ошибка записи .env: %v", err)
	}
	os.Setenv("ENV_FILE", envFile)
	// Переменная окружения имеет приоритет над .env
	os.Setenv("LOG_FORMAT", "json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: неожиданная ошибка: %v", err)
	}

	if cfg.MaxFileSize != 2048 {
		t.Errorf("MaxFileSize из .env: ожидалось 2048, получено %d", cfg.MaxFileSize)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat: окружение должно перекрывать .env, получено %s", cfg.LogFormat)
	}
}

func TestLoad_DotEnvMalformed(t *testing.T) {
	clearAllEnvVars(t)

	envFile := filepath.Join(t.TempDir(), "bad.env")
	if err := os.WriteFile(envFile, []byte("BAD-KEY=1\n"), 0o600); err != nil {
		t.Fatalf("ошибка записи .env: %v", err)
	}
	os.Setenv("ENV_FILE", envFile)

	if _, err := Load(); err == nil {
		t.Fatal("ожидалась ошибка для некорректного .env")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"Error", slog.LevelError},
	}

	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if err != nil {
			t.Errorf("parseLogLevel(%q): неожиданная ошибка: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q): ожидалось %s, получено %s", tt.input, tt.want, got)
		}
	}
}

func TestSetupLogger(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		logger := SetupLogger(&Config{LogLevel: slog.LevelWarn, LogFormat: format})
		if logger == nil {
			t.Fatalf("SetupLogger(%s) вернул nil", format)
		}
		if logger.Enabled(t.Context(), slog.LevelInfo) {
			t.Errorf("SetupLogger(%s): INFO не должен быть включён при уровне WARN", format)
		}
	}
}
