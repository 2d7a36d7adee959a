// files.go — HTTP handlers для файловых операций Storage Bucket.
// Upload, Download, Info, List, Delete.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/storage-bucket/internal/api/errors"
	"github.com/bigkaa/goartstore/storage-bucket/internal/service"
)

const (
	// multipartOverhead — запас на заголовки multipart сверх MAX_FILE_SIZE.
	multipartOverhead = 1 << 20

	// defaultListLimit — limit по умолчанию для GET /storage/files.
	defaultListLimit = 100

	// uploadField — имя поля multipart с содержимым файла.
	uploadField = "file"
)

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	svc    *service.StorageService
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(svc *service.StorageService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		svc:    svc,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /storage/upload.
// Multipart form: file (обязательно). Тело читается потоком,
// без буферизации формы в памяти или во временных файлах.
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.svc.MaxFileSize()+multipartOverhead)

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Ожидается тело multipart/form-data")
		return
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if isBodyTooLarge(err) {
				apierrors.FileTooLarge(w, "Размер файла превышает допустимый")
				return
			}
			apierrors.ValidationError(w, "Некорректное тело multipart")
			return
		}

		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}

		rec, err := h.svc.Upload(r.Context(), service.UploadParams{
			Reader:       part,
			OriginalName: part.FileName(),
			ContentType:  part.Header.Get("Content-Type"),
			Size:         -1,
		})
		_ = part.Close()
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, rec)
		return
	}

	apierrors.ValidationError(w, "Поле 'file' обязательно")
}

// DownloadFile обрабатывает GET /storage/files/{id}.
// Отдаёт содержимое файла целиком, без поддержки Range.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	f, rec, err := h.svc.Open(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	size := int64(rec.Size)
	if fi, err := f.Stat(); err == nil {
		size = fi.Size()
	}

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", contentDisposition(rec.OriginalName))
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f); err != nil {
		// Заголовки уже отправлены, остаётся только залогировать
		h.logger.Warn("Ошибка отправки содержимого файла",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// GetFileInfo обрабатывает GET /storage/files/{id}/info.
func (h *FilesHandler) GetFileInfo(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Info(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// DeleteFile обрабатывает DELETE /storage/files/{id}.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "File deleted successfully",
	})
}

// ListFiles обрабатывает GET /storage/files?limit=&offset=.
// Оба параметра необязательны: limit=100, offset=0.
func (h *FilesHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	var limit, offset *int

	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &limit); err != nil {
		apierrors.ValidationError(w, "Параметр limit должен быть целым числом")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", query, &offset); err != nil {
		apierrors.ValidationError(w, "Параметр offset должен быть целым числом")
		return
	}

	l, o := defaultListLimit, 0
	if limit != nil {
		l = *limit
	}
	if offset != nil {
		o = *offset
	}

	records, err := h.svc.List(r.Context(), o, l)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Подробности ошибок ввода-вывода пишутся только в лог.
func (h *FilesHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case isBodyTooLarge(err), errors.Is(err, service.ErrPayloadTooLarge):
		apierrors.FileTooLarge(w, "Размер файла превышает допустимый")
		return
	case errors.Is(err, service.ErrUnsupportedMediaType):
		apierrors.UnsupportedMediaType(w, "Недопустимый тип файла")
		return
	case errors.Is(err, service.ErrInvalidBody):
		apierrors.ValidationError(w, "Тело запроса прервано или повреждено")
		return
	case errors.Is(err, service.ErrInvalidPage):
		apierrors.ValidationError(w, "Параметры limit и offset не могут быть отрицательными")
		return
	}

	switch service.KindOf(err) {
	case service.KindValidation:
		apierrors.ValidationError(w, "Некорректный запрос")
	case service.KindNotFound, service.KindBlobMissing:
		apierrors.NotFound(w, "Файл не найден")
	default:
		h.logger.Error("Ошибка обработки запроса",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка хранилища")
	}
}

// isBodyTooLarge проверяет, прервано ли чтение тела лимитом MaxBytesReader.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// contentDisposition формирует заголовок inline с именем файла.
// Кавычки и обратные слэши экранируются, переводы строк удаляются;
// для не-ASCII имён добавляется filename* (RFC 6266, RFC 5987).
func contentDisposition(name string) string {
	name = strings.NewReplacer("\r", "", "\n", "").Replace(name)

	var b strings.Builder
	ascii := true
	for _, c := range name {
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteRune(c)
		case c > 0x7e || c < 0x20:
			ascii = false
			b.WriteByte('_')
		default:
			b.WriteRune(c)
		}
	}

	header := `inline; filename="` + b.String() + `"`
	if !ascii {
		header += "; filename*=UTF-8''" + extValue(name)
	}
	return header
}

// extValue кодирует значение ext-value: всё, что не attr-char, в %XX.
func extValue(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := range len(s) {
		c := s[i]
		if isAttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

// isAttrChar — attr-char из RFC 5987.
func isAttrChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	return strings.IndexByte("!#$&+-.^_`|~", c) >= 0
}

// writeJSON вспомогательная функция для записи JSON-ответа.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}
