package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
	"github.com/medflow/medflow-pharmacy/pkg/logger"
	"github.com/medflow/medflow-pharmacy/pkg/permissions"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// Handler serves the pharmacy API. Tenant and caller identity are resolved
// by middleware further up the chain.
type Handler struct {
	svc    *service.Services
	jobs   *service.Jobs
	logger *logger.Logger
}

// New creates the pharmacy API handler.
func New(svc *service.Services, jobs *service.Jobs, log *logger.Logger) *Handler {
	return &Handler{
		svc:    svc,
		jobs:   jobs,
		logger: log.WithComponent("http"),
	}
}

// Routes returns the router to mount under /api/v1/pharmacy.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	can := httputil.RequirePermission

	r.Route("/drugs", func(r chi.Router) {
		r.With(can(permissions.DrugsRead)).Get("/", h.ListDrugs)
		r.With(can(permissions.DrugsManage)).Post("/", h.CreateDrug)
		r.With(can(permissions.DrugsRead)).Get("/{id}", h.GetDrug)
		r.With(can(permissions.DrugsManage)).Patch("/{id}", h.UpdateDrug)
		r.With(can(permissions.DrugsRead)).Get("/{id}/stock", h.DrugStock)
		r.With(can(permissions.DrugsLifecycle)).Post("/{id}/phase-out", h.PhaseOutDrug)
		r.With(can(permissions.DrugsLifecycle)).Post("/{id}/archive", h.ArchiveDrug)
		r.With(can(permissions.DrugsLifecycle)).Post("/{id}/reactivate", h.ReactivateDrug)
	})

	r.Route("/inventory", func(r chi.Router) {
		r.With(can(permissions.InventoryRead)).Get("/", h.ListInventory)
		r.With(can(permissions.InventoryAdjust)).Post("/adjust", h.AdjustStock)
		r.With(can(permissions.InventoryAdjust)).Post("/import", h.ImportStock)
		r.With(can(permissions.InventoryRead)).Get("/{id}", h.GetInventory)
		r.With(can(permissions.InventoryAdjust)).Put("/{id}/quantity", h.SetQuantity)
		r.With(can(permissions.InventoryAdjust)).Patch("/{id}/minimum-level", h.SetMinimumLevel)
		r.With(can(permissions.InventoryAdjust)).Delete("/{id}", h.DeleteInventory)
	})

	r.Route("/requests", func(r chi.Router) {
		r.With(can(permissions.RequestsRead)).Get("/", h.ListRequests)
		r.With(can(permissions.RequestsCreate)).Post("/", h.CreateRequest)
		r.With(can(permissions.RequestsRead)).Get("/{id}", h.GetRequest)
		r.With(can(permissions.RequestsPreapprove)).Post("/{id}/preapprove", h.PreapproveRequest)
		r.With(can(permissions.RequestsApprove)).Post("/{id}/approve", h.ApproveRequest)
		r.With(can(permissions.RequestsReject)).Post("/{id}/reject", h.RejectRequest)
		r.With(can(permissions.RequestsReceive)).Post("/{id}/confirm-receipt", h.ConfirmReceipt)
		r.With(can(permissions.RequestsCancel)).Post("/{id}/cancel", h.CancelRequest)
		r.With(can(permissions.RequestsRead)).Post("/{id}/notes", h.AddRequestNote)
	})

	r.Route("/prescriptions", func(r chi.Router) {
		r.With(can(permissions.PrescriptionsRead)).Get("/", h.ListPrescriptions)
		r.With(can(permissions.PrescriptionsManage)).Post("/", h.CreatePrescription)
		r.With(can(permissions.PrescriptionsRead)).Get("/{id}", h.GetPrescription)
		r.With(can(permissions.PrescriptionsRead)).Get("/{id}/dispensings", h.ListDispensings)
		r.With(can(permissions.PrescriptionsManage)).Post("/{id}/drugs", h.AddPrescriptionDrug)
		r.With(can(permissions.PrescriptionsManage)).Patch("/{id}/drugs/{drugId}", h.UpdatePrescriptionDrug)
		r.With(can(permissions.PrescriptionsManage)).Delete("/{id}/drugs/{drugId}", h.RemovePrescriptionDrug)
		r.With(can(permissions.PrescriptionsManage)).Post("/{id}/suspend", h.SuspendPrescription)
		r.With(can(permissions.PrescriptionsManage)).Post("/{id}/cancel", h.CancelPrescription)
		r.With(can(permissions.PrescriptionsManage)).Post("/{id}/resume", h.ResumePrescription)
		r.With(can(permissions.PrescriptionsDispense)).Post("/{id}/dispense", h.Dispense)
	})

	r.With(can(permissions.AlertsRead)).Get("/alerts", h.ListAlerts)
	r.With(can(permissions.AlertsManage)).Post("/alerts/{id}/acknowledge", h.AcknowledgeAlert)
	r.With(can(permissions.AuditRead)).Get("/audit", h.ListAudit)
	r.With(can(permissions.JobsRun)).Post("/jobs/{name}/run", h.RunJob)

	return r
}

// decode reads and validates a JSON body.
func decode(r *http.Request, v interface{}) error {
	if err := httputil.DecodeJSON(r, v); err != nil {
		return err
	}
	return httputil.Validate(v)
}

// page reads limit and offset, clamping limit to [1, maxLimit].
func page(r *http.Request) (int, int) {
	q := r.URL.Query()
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset, err := strconv.Atoi(q.Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// parseDate parses an optional YYYY-MM-DD field.
func parseDate(field string, v *string) (*time.Time, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return nil, nil
	}
	d, err := domain.ParseDate(strings.TrimSpace(*v))
	if err != nil {
		return nil, errors.ValidationField(field, "must be a date in YYYY-MM-DD format")
	}
	return &d, nil
}
