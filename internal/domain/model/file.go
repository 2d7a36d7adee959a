// Пакет model — доменные модели Storage Bucket.
// FileRecord — единая структура метаданных файла, используется
// как in-memory представление, как элемент metadata.json на диске
// и как тело API-ответов.
package model

import (
	"time"
)

// FileRecord — метаданные одного хранимого объекта.
// Создаётся один раз при загрузке и больше не изменяется.
type FileRecord struct {
	// ID — уникальный идентификатор файла (UUID v4)
	ID string `json:"id"`

	// OriginalName — имя файла, переданное клиентом.
	// Не доверенное значение, используется только для отображения
	// и Content-Disposition.
	OriginalName string `json:"originalName"`

	// StoredName — имя blob-файла на диске: {id}{ext}
	StoredName string `json:"storedName"`

	// MimeType — MIME-тип, заявленный клиентом (из allow-list)
	MimeType string `json:"mimeType"`

	// Size — размер содержимого в байтах, совпадает с размером blob
	Size uint64 `json:"size"`

	// UploadedAt — дата и время загрузки (UTC)
	UploadedAt time.Time `json:"uploadedAt"`
}

// AllowedMimeTypes — фиксированный список допустимых MIME-типов.
// Через окружение не настраивается.
var AllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/gif",
	"image/webp",
	"application/pdf",
	"text/plain",
	"application/json",
	"application/zip",
	"video/mp4",
	"audio/mpeg",
}

// IsMimeTypeAllowed проверяет, входит ли MIME-тип в allow-list.
func IsMimeTypeAllowed(mimeType string) bool {
	for _, allowed := range AllowedMimeTypes {
		if allowed == mimeType {
			return true
		}
	}
	return false
}
