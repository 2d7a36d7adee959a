// handler.go — APIHandler собирает доменные handler'ы и регистрирует
// их маршруты в chi router.
package handlers

import (
	"github.com/go-chi/chi/v5"
)

// APIHandler — единая точка регистрации всех endpoints API.
type APIHandler struct {
	files       *FilesHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
	docs        *DocsHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
	docs *DocsHandler,
) *APIHandler {
	return &APIHandler{
		files:       files,
		maintenance: maintenance,
		health:      health,
		docs:        docs,
	}
}

// Register монтирует маршруты API в router.
func (h *APIHandler) Register(r chi.Router) {
	r.Route("/storage", func(r chi.Router) {
		// --- File Operations ---
		r.Post("/upload", h.files.UploadFile)
		r.Get("/files", h.files.ListFiles)
		r.Get("/files/{id}", h.files.DownloadFile)
		r.Delete("/files/{id}", h.files.DeleteFile)
		r.Get("/files/{id}/info", h.files.GetFileInfo)

		// --- System ---
		r.Get("/health", h.health.StorageHealth)

		// --- Maintenance ---
		r.Post("/maintenance/reconcile", h.maintenance.Reconcile)
	})

	// --- Health ---
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	// --- Docs ---
	r.Get("/docs", h.docs.UI)
	r.Get("/docs/openapi.json", h.docs.OpenAPI)
}
