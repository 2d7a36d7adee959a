// maintenance.go — обработчик POST /storage/maintenance/reconcile.
// Делегирует сверку в ReconcileService.
package handlers

import (
	"context"
	"net/http"

	apierrors "github.com/bigkaa/goartstore/storage-bucket/internal/api/errors"
	"github.com/bigkaa/goartstore/storage-bucket/internal/service"
)

// ReconcileRunner — интерфейс для запуска reconciliation.
// Позволяет тестировать handler без полного ReconcileService.
type ReconcileRunner interface {
	// RunOnce выполняет один цикл reconciliation.
	// Возвращает отчёт и флаг "уже выполняется".
	RunOnce(ctx context.Context) (*service.ReconcileReport, bool)
}

// MaintenanceHandler — обработчик endpoints обслуживания.
type MaintenanceHandler struct {
	reconciler ReconcileRunner
}

// NewMaintenanceHandler создаёт обработчик maintenance endpoints.
func NewMaintenanceHandler(reconciler ReconcileRunner) *MaintenanceHandler {
	return &MaintenanceHandler{reconciler: reconciler}
}

// Reconcile обрабатывает POST /storage/maintenance/reconcile.
// Запускает синхронный цикл reconciliation и возвращает отчёт.
// Если reconciliation уже выполняется — 409 RECONCILE_IN_PROGRESS.
func (h *MaintenanceHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, inProgress := h.reconciler.RunOnce(r.Context())
	if inProgress {
		apierrors.ReconcileInProgress(w, "Reconciliation уже выполняется")
		return
	}
	if report == nil {
		apierrors.InternalError(w, "Не удалось выполнить reconciliation")
		return
	}

	writeJSON(w, http.StatusOK, report)
}
