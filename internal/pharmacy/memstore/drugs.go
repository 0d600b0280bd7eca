package memstore

import (
	"context"
	"sort"
	"strings"

	"github.com/medflow/medflow-pharmacy/internal/pharmacy/domain"
	"github.com/medflow/medflow-pharmacy/pkg/errors"
)

// DrugStore implements service.DrugStore.
type DrugStore struct{ s *Store }

func (r *DrugStore) Create(ctx context.Context, d *domain.Drug) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.drugs[d.ID]; ok {
			return errors.Conflict("drug already exists")
		}
		st.drugs[d.ID] = *d
		return nil
	})
}

func (r *DrugStore) GetByID(_ context.Context, id string) (*domain.Drug, error) {
	var out *domain.Drug
	err := r.s.read(func(st *state) error {
		d, ok := st.drugs[id]
		if !ok {
			return errors.NotFound("drug")
		}
		out = &d
		return nil
	})
	return out, err
}

// GetForUpdate is GetByID; transactions are already serialized.
func (r *DrugStore) GetForUpdate(ctx context.Context, id string) (*domain.Drug, error) {
	return r.GetByID(ctx, id)
}

func (r *DrugStore) Update(ctx context.Context, d *domain.Drug) error {
	return r.s.write(ctx, func(st *state) error {
		if _, ok := st.drugs[d.ID]; !ok {
			return errors.NotFound("drug")
		}
		st.drugs[d.ID] = *d
		return nil
	})
}

func (r *DrugStore) UpdateStatus(ctx context.Context, id string, status domain.DrugStatus) error {
	return r.s.write(ctx, func(st *state) error {
		d, ok := st.drugs[id]
		if !ok {
			return errors.NotFound("drug")
		}
		d.Status = status
		d.UpdatedAt = r.s.now().UTC()
		st.drugs[id] = d
		return nil
	})
}

func (r *DrugStore) List(_ context.Context, f domain.DrugFilter) ([]*domain.Drug, int64, error) {
	var out []*domain.Drug
	err := r.s.read(func(st *state) error {
		search := strings.ToLower(f.Search)
		for _, d := range st.drugs {
			d := d
			if f.Status != "" && d.Status != f.Status {
				continue
			}
			if f.Category != "" && (d.Category == nil || *d.Category != f.Category) {
				continue
			}
			if search != "" && !strings.Contains(strings.ToLower(d.Name), search) &&
				(d.GenericName == nil || !strings.Contains(strings.ToLower(*d.GenericName), search)) {
				continue
			}
			out = append(out, &d)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return page(out, f.Limit, f.Offset), int64(len(out)), err
}
