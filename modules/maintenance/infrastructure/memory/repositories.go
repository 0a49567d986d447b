package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
)

type requestRepository struct {
	store *Store
}

func (r *requestRepository) Insert(ctx context.Context, req *request.Request) error {
	return r.store.update(ctx, func(t *tx) error {
		if _, ok := t.state.requests[req.ID]; ok {
			return fmt.Errorf("insert maintenance request: %s already exists", req.ID)
		}
		t.state.requests[req.ID] = req.Clone()
		return nil
	})
}

func (r *requestRepository) GetByID(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	var out *request.Request
	err := r.store.view(ctx, func(st *state) error {
		req, ok := st.requests[id]
		if !ok {
			return request.ErrNotFound
		}
		out = req.Clone()
		return nil
	})
	return out, err
}

func (r *requestRepository) List(ctx context.Context, params request.FindParams) ([]*request.Request, error) {
	var out []*request.Request
	err := r.store.view(ctx, func(st *state) error {
		for _, req := range st.requests {
			if params.CompanyID != uuid.Nil && req.CompanyID != params.CompanyID {
				continue
			}
			if params.Status != "" && req.Status != params.Status {
				continue
			}
			out = append(out, req.Clone())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return paginate(out, params.Limit, params.Offset), nil
}

func (r *requestRepository) CompareAndSwap(ctx context.Context, next *request.Request, expectedVersion int64) error {
	if next.Version != expectedVersion+1 {
		return fmt.Errorf("compare and swap: next version %d does not follow %d", next.Version, expectedVersion)
	}
	return r.store.update(ctx, func(t *tx) error {
		cur, ok := t.state.requests[next.ID]
		if !ok {
			return request.ErrNotFound
		}
		if cur.Version != expectedVersion {
			return request.ErrStaleVersion
		}
		t.state.requests[next.ID] = next.Clone()
		return nil
	})
}

func (r *requestRepository) CountActiveByTechnician(ctx context.Context, technicianID uuid.UUID) (int, error) {
	n := 0
	err := r.store.view(ctx, func(st *state) error {
		for _, req := range st.requests {
			if req.HoldsTechnician() && *req.AssignedTechnicianID == technicianID {
				n++
			}
		}
		return nil
	})
	return n, err
}

type technicianRepository struct {
	store *Store
}

func cloneTechnician(t *technician.Technician) *technician.Technician {
	cp := *t
	cp.Specializations = append([]string(nil), t.Specializations...)
	return &cp
}

func (r *technicianRepository) Upsert(ctx context.Context, tech *technician.Technician) error {
	return r.store.update(ctx, func(t *tx) error {
		next := cloneTechnician(tech)
		next.Specializations = technician.NormalizeSpecializations(next.Specializations)
		if cur, ok := t.state.technicians[tech.ID]; ok {
			next.ActiveJobCount = cur.ActiveJobCount
		}
		t.state.technicians[tech.ID] = next
		return nil
	})
}

func (r *technicianRepository) GetByID(ctx context.Context, id uuid.UUID) (*technician.Technician, error) {
	var out *technician.Technician
	err := r.store.view(ctx, func(st *state) error {
		tech, ok := st.technicians[id]
		if !ok {
			return technician.ErrNotFound
		}
		out = cloneTechnician(tech)
		return nil
	})
	return out, err
}

func (r *technicianRepository) ListCandidates(ctx context.Context, filter technician.CandidateFilter) ([]*technician.Technician, error) {
	var only map[uuid.UUID]struct{}
	if len(filter.IDs) > 0 {
		only = make(map[uuid.UUID]struct{}, len(filter.IDs))
		for _, id := range filter.IDs {
			only[id] = struct{}{}
		}
	}

	var out []*technician.Technician
	err := r.store.view(ctx, func(st *state) error {
		for id, tech := range st.technicians {
			if only != nil {
				if _, ok := only[id]; !ok {
					continue
				}
			}
			if !tech.Eligible() || !tech.HasSpecialization(filter.Specialization) {
				continue
			}
			out = append(out, cloneTechnician(tech))
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, err
}

func (r *technicianRepository) ReserveSlot(ctx context.Context, id uuid.UUID) error {
	return r.modify(ctx, id, func(tech *technician.Technician) error {
		if !tech.Eligible() {
			return technician.ErrNoCapacity
		}
		tech.ActiveJobCount++
		return nil
	})
}

func (r *technicianRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	return r.modify(ctx, id, func(tech *technician.Technician) error {
		if tech.ActiveJobCount > 0 {
			tech.ActiveJobCount--
		}
		return nil
	})
}

func (r *technicianRepository) UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) error {
	return r.modify(ctx, id, func(tech *technician.Technician) error {
		tech.Latitude, tech.Longitude = lat, lng
		tech.LocationUpdatedAt = at.UTC()
		return nil
	})
}

func (r *technicianRepository) modify(ctx context.Context, id uuid.UUID, fn func(*technician.Technician) error) error {
	return r.store.update(ctx, func(t *tx) error {
		cur, ok := t.state.technicians[id]
		if !ok {
			return technician.ErrNotFound
		}
		next := cloneTechnician(cur)
		if err := fn(next); err != nil {
			return err
		}
		t.state.technicians[id] = next
		return nil
	})
}

type auditRepository struct {
	store *Store
}

// Append refuses anything but the next version, matching the unique
// (request_id, version) key of the SQL table.
func (r *auditRepository) Append(ctx context.Context, rec *audit.Record) error {
	return r.store.update(ctx, func(t *tx) error {
		trail := t.state.audit[rec.RequestID]
		if rec.Version != int64(len(trail))+1 {
			return request.ErrStaleVersion
		}
		cp := *rec
		t.state.audit[rec.RequestID] = append(trail, &cp)
		return nil
	})
}

func (r *auditRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*audit.Record, error) {
	var out []*audit.Record
	err := r.store.view(ctx, func(st *state) error {
		trail := st.audit[requestID]
		out = make([]*audit.Record, 0, len(trail))
		for _, rec := range trail {
			cp := *rec
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
