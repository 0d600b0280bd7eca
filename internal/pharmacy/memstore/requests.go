package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// SupplyRequestStore implements service.SupplyRequestStore. Requests are
// stored as deep copies so snapshots never share mutable items.
type SupplyRequestStore struct{ s *Store }

func copyRequest(req *domain.SupplyRequest) domain.SupplyRequest {
	cp := *req
	cp.Notes = append(domain.Notes{}, req.Notes...)
	cp.Items = make([]*domain.SupplyRequestItem, len(req.Items))
	for i, it := range req.Items {
		item := *it
		item.Allocations = append(domain.Allocations{}, it.Allocations...)
		cp.Items[i] = &item
	}
	return cp
}

func putRequest(st *state, req *domain.SupplyRequest) {
	st.requests[req.ID] = copyRequest(req)
}

func (r *SupplyRequestStore) Create(ctx context.Context, req *domain.SupplyRequest) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.requests[req.ID]; ok {
			return errors.Conflict("supply request already exists")
		}
		seen := map[string]bool{}
		for _, it := range req.Items {
			if seen[it.DrugID] {
				return errors.Conflict("drug is listed more than once")
			}
			seen[it.DrugID] = true
		}
		putRequest(st, req)
		return nil
	})
}

func (r *SupplyRequestStore) GetByID(_ context.Context, id string) (*domain.SupplyRequest, error) {
	var out *domain.SupplyRequest
	err := r.s.read(func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return errors.NotFound("supply request")
		}
		cp := copyRequest(&req)
		out = &cp
		return nil
	})
	return out, err
}

func (r *SupplyRequestStore) GetForUpdate(ctx context.Context, id string) (*domain.SupplyRequest, error) {
	return r.GetByID(ctx, id)
}

// Update writes the request header; items are written through UpdateItem.
func (r *SupplyRequestStore) Update(ctx context.Context, req *domain.SupplyRequest) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.requests[req.ID]
		if !ok {
			return errors.NotFound("supply request")
		}
		next := copyRequest(req)
		next.Items = cur.Items
		st.requests[req.ID] = next
		return nil
	})
}

func (r *SupplyRequestStore) UpdateItem(ctx context.Context, it *domain.SupplyRequestItem) error {
	return r.s.write(ctx, func(st *state) error {
		cur, ok := st.requests[it.RequestID]
		if !ok {
			return errors.NotFound("supply request")
		}
		next := copyRequest(&cur)
		for i, existing := range next.Items {
			if existing.ID == it.ID {
				item := *it
				item.Allocations = append(domain.Allocations{}, it.Allocations...)
				next.Items[i] = &item
				st.requests[it.RequestID] = next
				return nil
			}
		}
		return errors.NotFound("supply request item")
	})
}

func (r *SupplyRequestStore) List(_ context.Context, f domain.RequestFilter) ([]*domain.SupplyRequest, int64, error) {
	var out []*domain.SupplyRequest
	err := r.s.read(func(st *state) error {
		for _, req := range st.requests {
			req := req
			switch {
			case f.Kind != "" && req.Kind != f.Kind,
				f.Status != "" && req.Status != f.Status,
				f.HospitalID != "" && req.HospitalID != f.HospitalID,
				f.OriginID != "" && req.Origin.ID != f.OriginID,
				f.DestinationID != "" && req.Destination.ID != f.DestinationID,
				f.RequestedBy != "" && req.RequestedBy != f.RequestedBy:
				continue
			}
			cp := copyRequest(&req)
			out = append(out, &cp)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), int64(len(out)), err
}

func (r *SupplyRequestStore) InTransit(_ context.Context, drugID string) (int, error) {
	total := 0
	err := r.s.read(func(st *state) error {
		for _, req := range st.requests {
			if req.Status != domain.RequestApproved {
				continue
			}
			for _, it := range req.Items {
				if it.DrugID == drugID && it.ApprovedQty != nil {
					total += *it.ApprovedQty
				}
			}
		}
		return nil
	})
	return total, err
}

func (r *SupplyRequestStore) ListStalePending(_ context.Context, before time.Time) ([]*domain.SupplyRequest, error) {
	var out []*domain.SupplyRequest
	err := r.s.read(func(st *state) error {
		for _, req := range st.requests {
			if req.Status == domain.RequestPending && req.CreatedAt.Before(before) {
				cp := copyRequest(&req)
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, err
}
