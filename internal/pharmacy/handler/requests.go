package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/internal/pharmacy/service"
	"github.com/medflow/medflow-pharmacy/pkg/httputil"
)

type createSupplyRequest struct {
	Kind          string `json:"kind" validate:"required,oneof=internal external"`
	OriginID      string `json:"origin_id"`
	DestinationID string `json:"destination_id"`
	Items         []struct {
		DrugID   string `json:"drug_id" validate:"required"`
		Quantity int    `json:"quantity" validate:"gt=0"`
	} `json:"items" validate:"required,min=1,dive"`
	Note string `json:"note" validate:"max=2000"`
}

type itemQuantity struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity *int   `json:"quantity,omitempty" validate:"omitempty,gte=0"`
}

// transitionRequest is the body of approve and confirm-receipt. Items left
// out take the default quantity for the step.
type transitionRequest struct {
	Items []itemQuantity `json:"items" validate:"dive"`
	Note  string         `json:"note" validate:"max=2000"`
}

func (req transitionRequest) quantities() []service.ItemQuantity {
	out := make([]service.ItemQuantity, 0, len(req.Items))
	for _, it := range req.Items {
		out = append(out, service.ItemQuantity{ItemID: it.ItemID, Quantity: it.Quantity})
	}
	return out
}

type noteRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=2000"`
}

type addNoteRequest struct {
	Message string `json:"message" validate:"required,max=2000"`
}

// ListRequests lists supply requests. Filters: kind, status, hospital_id,
// origin_id, destination_id, requested_by.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	q := r.URL.Query()

	reqs, total, err := h.svc.Requests.List(r.Context(), domain.RequestFilter{
		Kind:          domain.RequestKind(q.Get("kind")),
		Status:        domain.RequestStatus(q.Get("status")),
		HospitalID:    q.Get("hospital_id"),
		OriginID:      q.Get("origin_id"),
		DestinationID: q.Get("destination_id"),
		RequestedBy:   q.Get("requested_by"),
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSONWithMeta(w, r, http.StatusOK, reqs, httputil.NewMeta(limit, offset, total))
}

// CreateRequest opens an internal or external supply request
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createSupplyRequest
	if err := decode(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	in := service.CreateRequestInput{
		Kind:          domain.RequestKind(req.Kind),
		OriginID:      req.OriginID,
		DestinationID: req.DestinationID,
		Note:          req.Note,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.RequestItemInput{DrugID: it.DrugID, Quantity: it.Quantity})
	}

	created, err := h.svc.Requests.Create(r.Context(), in)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, r, "messages.request_created", created)
}

// GetRequest gets a supply request with its items and notes
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := h.svc.Requests.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, r, http.StatusOK, req)
}

func (h *Handler) PreapproveRequest(w http.ResponseWriter, r *http.Request) {
	var body noteRequest
	h.transition(w, r, &body, "messages.request_preapproved", func(ctx context.Context, id string) (*domain.SupplyRequest, error) {
		return h.svc.Requests.Preapprove(ctx, id, body.Note)
	})
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body transitionRequest
	h.transition(w, r, &body, "messages.request_approved", func(ctx context.Context, id string) (*domain.SupplyRequest, error) {
		return h.svc.Requests.Approve(ctx, id, body.quantities(), body.Note)
	})
}

func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	h.transition(w, r, &body, "messages.request_rejected", func(ctx context.Context, id string) (*domain.SupplyRequest, error) {
		return h.svc.Requests.Reject(ctx, id, body.Reason)
	})
}

func (h *Handler) ConfirmReceipt(w http.ResponseWriter, r *http.Request) {
	var body transitionRequest
	h.transition(w, r, &body, "messages.request_fulfilled", func(ctx context.Context, id string) (*domain.SupplyRequest, error) {
		return h.svc.Requests.ConfirmReceipt(ctx, id, body.quantities(), body.Note)
	})
}

func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var body reasonRequest
	h.transition(w, r, &body, "messages.request_cancelled", func(ctx context.Context, id string) (*domain.SupplyRequest, error) {
		return h.svc.Requests.Cancel(ctx, id, body.Reason)
	})
}

func (h *Handler) AddRequestNote(w http.ResponseWriter, r *http.Request) {
	var body addNoteRequest
	h.transition(w, r, &body, "messages.updated", func(ctx context.Context, id string) (*domain.SupplyRequest, error) {
		return h.svc.Requests.AddNote(ctx, id, body.Message)
	})
}

// transition decodes an optional body into v and runs fn for the request
// in the path. An empty body is accepted.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, v interface{}, messageKey string, fn func(context.Context, string) (*domain.SupplyRequest, error)) {
	if r.ContentLength != 0 {
		if err := decode(r, v); err != nil {
			httputil.Error(w, r, err)
			return
		}
	} else if err := httputil.Validate(v); err != nil {
		httputil.Error(w, r, err)
		return
	}

	req, err := fn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Message(w, r, http.StatusOK, messageKey, req)
}
