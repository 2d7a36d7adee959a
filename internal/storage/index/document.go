// document.go — чтение и атомарная запись документа индекса (metadata.json).
// Паттерн записи: JSON → temp файл → fsync → atomic rename → fsync директории.
// После аварийного завершения на диске остаётся либо предыдущая,
// либо новая версия документа, но не усечённый JSON.
package index

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bigkaa/goartstore/storage-bucket/internal/domain/model"
)

// readDocument читает документ индекса.
// Отсутствующий или пустой файл — пустой список.
func readDocument(path string) ([]model.FileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []model.FileRecord{}, nil
		}
		return nil, fmt.Errorf("ошибка чтения документа индекса %s: %w", path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []model.FileRecord{}, nil
	}

	var records []model.FileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("ошибка десериализации документа индекса %s: %w", path, err)
	}
	if records == nil {
		records = []model.FileRecord{}
	}

	return records, nil
}

// writeDocument атомарно перезаписывает документ индекса.
func writeDocument(path string, records []model.FileRecord) error {
	if records == nil {
		records = []model.FileRecord{}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации индекса: %w", err)
	}

	tmpPath := path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	// Документ уже заменён: ошибка fsync директории не должна
	// приводить к расхождению памяти и диска, поэтому игнорируется.
	_ = syncDir(filepath.Dir(path))

	return nil
}

// syncDir фиксирует на диске запись директории после rename.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
