// docs.go — OpenAPI 3 документ Storage Bucket, GET /docs/openapi.json
// и страница Swagger UI на GET /docs.
// Документ собирается в коде через kin-openapi и валидируется при создании.
package handlers

import (
	"context"
	_ "embed"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/bigkaa/goartstore/storage-bucket/internal/config"
	"github.com/bigkaa/goartstore/storage-bucket/internal/domain/model"
)

const (
	fileRecordRef = "#/components/schemas/FileRecord"
	errorRef      = "#/components/schemas/Error"
)

// swaggerPage — Swagger UI, читающий /docs/openapi.json.
//
//go:embed swagger.html
var swaggerPage []byte

// DocsHandler отдаёт OpenAPI документ и Swagger UI.
type DocsHandler struct {
	body []byte
}

// NewDocsHandler собирает и валидирует OpenAPI документ.
func NewDocsHandler(ctx context.Context) (*DocsHandler, error) {
	doc := NewOpenAPIDoc()
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("некорректный OpenAPI документ: %w", err)
	}
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("сериализация OpenAPI документа: %w", err)
	}
	return &DocsHandler{body: body}, nil
}

// OpenAPI обрабатывает GET /docs/openapi.json.
func (h *DocsHandler) OpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.body)
}

// UI обрабатывает GET /docs.
func (h *DocsHandler) UI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(swaggerPage)
}

// NewOpenAPIDoc описывает HTTP API хранилища.
func NewOpenAPIDoc() *openapi3.T {
	fileRecord := openapi3.NewObjectSchema().
		WithProperty("id", openapi3.NewUUIDSchema()).
		WithProperty("originalName", openapi3.NewStringSchema()).
		WithProperty("storedName", openapi3.NewStringSchema()).
		WithProperty("mimeType", openapi3.NewStringSchema().WithEnum(mimeEnum()...)).
		WithProperty("size", openapi3.NewInt64Schema().WithMin(0)).
		WithProperty("uploadedAt", openapi3.NewDateTimeSchema()).
		WithRequired([]string{"id", "originalName", "storedName", "mimeType", "size", "uploadedAt"})

	apiError := openapi3.NewObjectSchema().
		WithProperty("error", openapi3.NewObjectSchema().
			WithProperty("code", openapi3.NewStringSchema()).
			WithProperty("message", openapi3.NewStringSchema()).
			WithRequired([]string{"code", "message"})).
		WithRequired([]string{"error"})

	doc := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:   "Storage Bucket API",
			Version: config.Version,
		},
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{
				"FileRecord": openapi3.NewSchemaRef("", fileRecord),
				"Error":      openapi3.NewSchemaRef("", apiError),
			},
		},
	}

	recordRef := openapi3.NewSchemaRef(fileRecordRef, fileRecord)
	errRef := openapi3.NewSchemaRef(errorRef, apiError)
	errorResponse := func(description string) *openapi3.Response {
		return openapi3.NewResponse().WithDescription(description).WithJSONSchemaRef(errRef)
	}
	idParam := openapi3.NewPathParameter("id").
		WithSchema(openapi3.NewUUIDSchema()).
		WithDescription("Идентификатор файла")

	upload := openapi3.NewOperation()
	upload.OperationID = "uploadFile"
	upload.Summary = "Загрузка файла"
	upload.Tags = []string{"files"}
	upload.RequestBody = &openapi3.RequestBodyRef{Value: openapi3.NewRequestBody().
		WithRequired(true).
		WithFormDataSchema(openapi3.NewObjectSchema().
			WithProperty(uploadField, openapi3.NewStringSchema().WithFormat("binary")).
			WithRequired([]string{uploadField}))}
	upload.AddResponse(http.StatusCreated, openapi3.NewResponse().
		WithDescription("Файл сохранён").WithJSONSchemaRef(recordRef))
	upload.AddResponse(http.StatusBadRequest, errorResponse("Нет поля file, превышен размер или недопустимый тип"))
	upload.AddResponse(http.StatusInternalServerError, errorResponse("Ошибка хранилища"))
	doc.AddOperation("/storage/upload", http.MethodPost, upload)

	list := openapi3.NewOperation()
	list.OperationID = "listFiles"
	list.Summary = "Список файлов в порядке загрузки"
	list.Tags = []string{"files"}
	list.AddParameter(openapi3.NewQueryParameter("limit").
		WithSchema(openapi3.NewIntegerSchema().WithMin(0)).
		WithDescription("Максимум записей, по умолчанию 100"))
	list.AddParameter(openapi3.NewQueryParameter("offset").
		WithSchema(openapi3.NewIntegerSchema().WithMin(0)).
		WithDescription("Смещение, по умолчанию 0"))
	list.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Записи файлов").
		WithJSONSchema(openapi3.NewArraySchema().WithItems(fileRecord)))
	list.AddResponse(http.StatusBadRequest, errorResponse("Некорректные limit или offset"))
	doc.AddOperation("/storage/files", http.MethodGet, list)

	download := openapi3.NewOperation()
	download.OperationID = "downloadFile"
	download.Summary = "Содержимое файла"
	download.Tags = []string{"files"}
	download.AddParameter(idParam)
	download.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Содержимое файла с исходным Content-Type").
		WithContent(openapi3.NewContentWithSchema(
			openapi3.NewStringSchema().WithFormat("binary"),
			[]string{"application/octet-stream"},
		)))
	download.AddResponse(http.StatusNotFound, errorResponse("Файл не найден"))
	doc.AddOperation("/storage/files/{id}", http.MethodGet, download)

	remove := openapi3.NewOperation()
	remove.OperationID = "deleteFile"
	remove.Summary = "Удаление файла"
	remove.Tags = []string{"files"}
	remove.AddParameter(idParam)
	remove.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Файл удалён").
		WithJSONSchema(openapi3.NewObjectSchema().
			WithProperty("message", openapi3.NewStringSchema())))
	remove.AddResponse(http.StatusNotFound, errorResponse("Файл не найден"))
	remove.AddResponse(http.StatusInternalServerError, errorResponse("Ошибка хранилища"))
	doc.AddOperation("/storage/files/{id}", http.MethodDelete, remove)

	info := openapi3.NewOperation()
	info.OperationID = "getFileInfo"
	info.Summary = "Метаданные файла"
	info.Tags = []string{"files"}
	info.AddParameter(idParam)
	info.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Запись файла").WithJSONSchemaRef(recordRef))
	info.AddResponse(http.StatusNotFound, errorResponse("Файл не найден"))
	doc.AddOperation("/storage/files/{id}/info", http.MethodGet, info)

	health := openapi3.NewOperation()
	health.OperationID = "storageHealth"
	health.Summary = "Состояние сервиса"
	health.Tags = []string{"system"}
	health.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Сервис работает").
		WithJSONSchema(openapi3.NewObjectSchema().
			WithProperty("status", openapi3.NewStringSchema()).
			WithProperty("timestamp", openapi3.NewDateTimeSchema())))
	doc.AddOperation("/storage/health", http.MethodGet, health)

	reconcile := openapi3.NewOperation()
	reconcile.OperationID = "reconcile"
	reconcile.Summary = "Сверка blob-файлов с индексом"
	reconcile.Tags = []string{"maintenance"}
	reconcile.AddResponse(http.StatusOK, openapi3.NewResponse().
		WithDescription("Отчёт о сверке").
		WithJSONSchema(openapi3.NewObjectSchema()))
	reconcile.AddResponse(http.StatusConflict, errorResponse("Сверка уже выполняется"))
	doc.AddOperation("/storage/maintenance/reconcile", http.MethodPost, reconcile)

	return doc
}

// mimeEnum возвращает список разрешённых MIME-типов для enum схемы.
func mimeEnum() []any {
	values := make([]any, 0, len(model.AllowedMimeTypes))
	for _, m := range model.AllowedMimeTypes {
		values = append(values, m)
	}
	return values
}
