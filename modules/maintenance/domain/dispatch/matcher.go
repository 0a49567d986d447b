package dispatch

import (
	"bytes"
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

// ErrNoAvailableTechnician is an expected outcome: the request stays open for
// manual dispatch.
var ErrNoAvailableTechnician = serrors.NewError(
	"MAINT_NO_AVAILABLE_TECHNICIAN",
	"no technician currently available",
	"Maintenance.Dispatch.NoTechnician",
)

type Result struct {
	TechnicianID uuid.UUID `json:"technician_id"`
	DistanceKm   float64   `json:"distance_km"`
}

// RoundedDistance is the distance rounded to metres, for display and payloads.
func (r Result) RoundedDistance() decimal.Decimal {
	return decimal.NewFromFloat(r.DistanceKm).Round(3)
}

type Query struct {
	Latitude       float64
	Longitude      float64
	Specialization string
	// Exclude drops technicians that already lost a reservation race.
	Exclude map[uuid.UUID]struct{}
}

// FindNearest picks the closest eligible technician from pool. Ties on distance
// go to the higher rating, then the lower active_job_count, then the lower id.
// The pool is only read.
func FindNearest(q Query, pool []*technician.Technician) (Result, error) {
	var (
		best     *technician.Technician
		bestDist float64
	)
	for _, t := range pool {
		if t == nil || !t.Eligible() || !t.HasSpecialization(q.Specialization) {
			continue
		}
		if _, skip := q.Exclude[t.ID]; skip {
			continue
		}
		d := Haversine(q.Latitude, q.Longitude, t.Latitude, t.Longitude)
		if best == nil || better(t, d, best, bestDist) {
			best, bestDist = t, d
		}
	}
	if best == nil {
		return Result{}, ErrNoAvailableTechnician
	}
	return Result{TechnicianID: best.ID, DistanceKm: bestDist}, nil
}

func better(a *technician.Technician, da float64, b *technician.Technician, db float64) bool {
	if da != db {
		return da < db
	}
	if a.Rating != b.Rating {
		return a.Rating > b.Rating
	}
	if a.ActiveJobCount != b.ActiveJobCount {
		return a.ActiveJobCount < b.ActiveJobCount
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

// Locator narrows the candidate pool by position before FindNearest runs.
type Locator interface {
	Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]uuid.UUID, error)
	Update(ctx context.Context, id uuid.UUID, lat, lng float64) error
	Remove(ctx context.Context, id uuid.UUID) error
}
