package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
)

// ListAlerts lists stock alerts. Filters: alert_type, status, drug_id.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	q := r.URL.Query()

	alerts, total, err := h.svc.Alerts.List(r.Context(), domain.AlertFilter{
		AlertType: domain.AlertType(q.Get("alert_type")),
		Status:    domain.AlertStatus(q.Get("status")),
		DrugID:    q.Get("drug_id"),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, r, http.StatusOK, alerts, httputil.NewMeta(limit, offset, total))
}

// AcknowledgeAlert acknowledges an alert
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Alerts.Acknowledge(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.NoContent(w)
}

// ListAudit returns audit entries newest first. Filters: table, record_id,
// actor_id, limit.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	entries, err := h.svc.Audit.List(r.Context(), domain.AuditFilter{
		TableName: q.Get("table"),
		RecordID:  q.Get("record_id"),
		ActorID:   q.Get("actor_id"),
		Limit:     limit,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, entries)
}

// RunJob runs a maintenance job now for the tenant of the request.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	n, err := h.jobs.Run(r.Context(), name)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, "messages.job_completed", map[string]interface{}{
		"job":      name,
		"affected": n,
	})
}
