// disk_usage.go — ёмкость диска под директорией хранения.
// Платформозависимый код для Unix-подобных систем.
package main

import (
	"fmt"
	"log/slog"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// getDiskUsage возвращает информацию о дисковом пространстве в директории.
// Возвращает total, used, available в байтах.
func getDiskUsage(path string) (total, used, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - available

	return total, used, available, nil
}

// registerDiskMetrics регистрирует gauge sb_disk_available_bytes,
// вычисляемый при каждом сборе метрик.
func registerDiskMetrics(uploadDir string, logger *slog.Logger) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "sb_disk_available_bytes",
		Help: "Свободное место на диске директории хранения в байтах",
	}, func() float64 {
		_, _, available, err := getDiskUsage(uploadDir)
		if err != nil {
			logger.Warn("Не удалось получить ёмкость диска", slog.String("error", err.Error()))
			return 0
		}
		return float64(available)
	})
}
