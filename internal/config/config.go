// Пакет config — загрузка и валидация конфигурации Storage Bucket
// из переменных окружения. Перед чтением окружения подгружается
// файл .env (если есть); заданные в окружении значения не перекрываются.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Storage Bucket.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Абсолютный путь к директории хранения (blob + metadata.json)
	UploadDir string
	// Путь к директории WAL
	WALDir string
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Интервал автоматической сверки (0 — только при старте)
	ReconcileInterval time.Duration
	// Интервал запуска GC
	GCInterval time.Duration
	// Минимальный возраст временного файла для удаления GC
	GCTempMaxAge time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймауты HTTP-сервера
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из .env и переменных окружения,
// валидирует значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	// ENV_FILE — путь к .env (по умолчанию .env в рабочей директории)
	if err := loadDotEnv(getEnvDefault("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// PORT — порт HTTP-сервера (по умолчанию 5100)
	port, err := getEnvInt("PORT", 5100)
	if err != nil {
		return nil, fmt.Errorf("PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// UPLOAD_DIR — директория хранения (по умолчанию ./uploads)
	cfg.UploadDir, err = filepath.Abs(getEnvDefault("UPLOAD_DIR", "uploads"))
	if err != nil {
		return nil, fmt.Errorf("UPLOAD_DIR: %w", err)
	}

	// WAL_DIR — директория WAL (по умолчанию <UPLOAD_DIR>/.wal)
	cfg.WALDir = getEnvDefault("WAL_DIR", filepath.Join(cfg.UploadDir, ".wal"))

	// MAX_FILE_SIZE — максимальный размер файла (по умолчанию 100 MB)
	maxFileSize, err := getEnvInt64("MAX_FILE_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// RECONCILE_INTERVAL — интервал сверки (по умолчанию 6h, 0 — отключить тикер)
	cfg.ReconcileInterval, err = getEnvDuration("RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("RECONCILE_INTERVAL: %w", err)
	}
	if cfg.ReconcileInterval < 0 {
		return nil, fmt.Errorf("RECONCILE_INTERVAL: значение не может быть отрицательным")
	}

	// GC_INTERVAL — интервал GC (по умолчанию 1h)
	cfg.GCInterval, err = getEnvDuration("GC_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("GC_INTERVAL: %w", err)
	}
	if cfg.GCInterval <= 0 {
		return nil, fmt.Errorf("GC_INTERVAL: значение должно быть положительным")
	}

	// GC_TEMP_MAX_AGE — возраст временного файла для удаления (по умолчанию 1h)
	cfg.GCTempMaxAge, err = getEnvDuration("GC_TEMP_MAX_AGE", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("GC_TEMP_MAX_AGE: %w", err)
	}

	// LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	// LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// HTTP_READ_TIMEOUT / HTTP_WRITE_TIMEOUT / HTTP_IDLE_TIMEOUT
	cfg.ReadTimeout, err = getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.WriteTimeout, err = getEnvDuration("HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.IdleTimeout, err = getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HTTP_IDLE_TIMEOUT: %w", err)
	}

	// SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// loadDotEnv подгружает переменные из файла path.
// Отсутствие файла не ошибка.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("ошибка чтения %s: %w", path, err)
	}
	return nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
