package technician

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

var (
	ErrNotFound = serrors.NewError("MAINT_TECHNICIAN_NOT_FOUND", "technician not found", "Maintenance.Errors.TechnicianNotFound")
	// ErrNoCapacity is returned when a slot cannot be reserved: the technician
	// is inactive, unavailable, or already at max_concurrent_jobs.
	ErrNoCapacity = serrors.NewError("MAINT_TECHNICIAN_UNAVAILABLE", "technician has no free capacity", "Maintenance.Errors.TechnicianUnavailable")
)

type Technician struct {
	ID                uuid.UUID `json:"id"`
	Name              string    `json:"name"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	Specializations   []string  `json:"specializations"`
	IsActive          bool      `json:"is_active"`
	IsAvailable       bool      `json:"is_available"`
	Rating            float64   `json:"rating"`
	ActiveJobCount    int       `json:"active_job_count"`
	MaxConcurrentJobs int       `json:"max_concurrent_jobs"`
	LocationUpdatedAt time.Time `json:"location_updated_at"`
}

func (t *Technician) HasSpecialization(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return true
	}
	for _, have := range t.Specializations {
		if strings.ToLower(strings.TrimSpace(have)) == s {
			return true
		}
	}
	return false
}

func (t *Technician) HasCapacity() bool {
	return t.ActiveJobCount < t.MaxConcurrentJobs
}

// Eligible reports whether the technician may be offered new work at all.
func (t *Technician) Eligible() bool {
	return t.IsActive && t.IsAvailable && t.HasCapacity()
}

// NormalizeSpecializations lowercases, trims and de-duplicates in place order.
func NormalizeSpecializations(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

type CandidateFilter struct {
	Specialization string
	// IDs restricts the result to these technicians when non-empty.
	IDs []uuid.UUID
}

type Repository interface {
	Upsert(ctx context.Context, t *Technician) error
	GetByID(ctx context.Context, id uuid.UUID) (*Technician, error)
	// ListCandidates returns active, available technicians with free capacity.
	ListCandidates(ctx context.Context, filter CandidateFilter) ([]*Technician, error)
	// ReserveSlot increments active_job_count if capacity allows, else ErrNoCapacity.
	ReserveSlot(ctx context.Context, id uuid.UUID) error
	ReleaseSlot(ctx context.Context, id uuid.UUID) error
	UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) error
}
