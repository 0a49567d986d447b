package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
)

// RegisterTechnician creates or updates a technician profile. The active job
// count of an existing technician is kept.
func (s *RequestService) RegisterTechnician(ctx context.Context, cmd RegisterTechnicianCommand) (_ *technician.Technician, err error) {
	ctx, span := startSpan(ctx, "RegisterTechnician")
	defer func() { endSpan(span, err) }()

	if err := validate(ctx, cmd); err != nil {
		return nil, mapError(err)
	}
	if cmd.ID == uuid.Nil {
		cmd.ID = uuid.New()
	}
	if cmd.MaxConcurrentJobs == 0 {
		cmd.MaxConcurrentJobs = s.defaultCapacity
	}
	t := &technician.Technician{
		ID:                cmd.ID,
		Name:              cmd.Name,
		Latitude:          cmd.Latitude,
		Longitude:         cmd.Longitude,
		Specializations:   technician.NormalizeSpecializations(cmd.Specializations),
		IsActive:          cmd.IsActive,
		IsAvailable:       cmd.IsAvailable,
		Rating:            cmd.Rating,
		MaxConcurrentJobs: cmd.MaxConcurrentJobs,
		LocationUpdatedAt: s.clock(),
	}

	var stored *technician.Technician
	err = s.repos.Tx.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repos.Technicians.Upsert(txCtx, t); err != nil {
			return err
		}
		stored, err = s.repos.Technicians.GetByID(txCtx, t.ID)
		return err
	})
	if err != nil {
		return nil, mapError(err)
	}

	s.syncLocator(ctx, stored)
	logWithFields(ctx, logrus.InfoLevel, "maintenance.technician.registered", logrus.Fields{
		"technician_id": stored.ID,
		"capacity":      stored.MaxConcurrentJobs,
	})
	return stored, nil
}

func (s *RequestService) GetTechnician(ctx context.Context, id uuid.UUID) (*technician.Technician, error) {
	t, err := s.repos.Technicians.GetByID(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return t, nil
}

// UpdateTechnicianLocation stores the last known position and mirrors it into
// the geo index.
func (s *RequestService) UpdateTechnicianLocation(ctx context.Context, id uuid.UUID, lat, lng float64) (err error) {
	ctx, span := startSpan(ctx, "UpdateTechnicianLocation", attribute.String("maintenance.technician_id", id.String()))
	defer func() { endSpan(span, err) }()

	if err := validateLocation(&request.Location{Latitude: lat, Longitude: lng}); err != nil {
		return mapError(err)
	}
	var stored *technician.Technician
	err = s.repos.Tx.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repos.Technicians.UpdateLocation(txCtx, id, lat, lng, s.clock()); err != nil {
			return err
		}
		stored, err = s.repos.Technicians.GetByID(txCtx, id)
		return err
	})
	if err != nil {
		return mapError(err)
	}
	s.syncLocator(ctx, stored)
	return nil
}

// syncLocator keeps the geo index in line with the stored row. Index failures
// only degrade dispatch to a full scan, so they are logged, not returned.
func (s *RequestService) syncLocator(ctx context.Context, t *technician.Technician) {
	if s.locator == nil || t == nil {
		return
	}
	var err error
	if t.IsActive {
		err = s.locator.Update(ctx, t.ID, t.Latitude, t.Longitude)
	} else {
		err = s.locator.Remove(ctx, t.ID)
	}
	if err != nil {
		logWithFields(ctx, logrus.WarnLevel, "maintenance.technician.locator_sync_failed", logrus.Fields{
			"technician_id": t.ID,
			"error":         err.Error(),
		})
	}
}

// CapacityReport compares the stored slot counter of a technician with the
// requests that currently hold them.
type CapacityReport struct {
	TechnicianID      uuid.UUID `json:"technician_id"`
	ActiveJobCount    int       `json:"active_job_count"`
	HeldByRequests    int       `json:"held_by_requests"`
	MaxConcurrentJobs int       `json:"max_concurrent_jobs"`
	Consistent        bool      `json:"consistent"`
}

// CheckTechnicianCapacity reads the counter and the active requests in one
// transaction. Drift is logged; the counter is not repaired here.
func (s *RequestService) CheckTechnicianCapacity(ctx context.Context, id uuid.UUID) (_ *CapacityReport, err error) {
	ctx, span := startSpan(ctx, "CheckTechnicianCapacity", attribute.String("maintenance.technician_id", id.String()))
	defer func() { endSpan(span, err) }()

	report := &CapacityReport{TechnicianID: id}
	err = s.repos.Tx.InTx(ctx, func(txCtx context.Context) error {
		t, err := s.repos.Technicians.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		held, err := s.repos.Requests.CountActiveByTechnician(txCtx, id)
		if err != nil {
			return err
		}
		report.ActiveJobCount = t.ActiveJobCount
		report.MaxConcurrentJobs = t.MaxConcurrentJobs
		report.HeldByRequests = held
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	report.Consistent = report.ActiveJobCount == report.HeldByRequests
	if !report.Consistent {
		logWithFields(ctx, logrus.WarnLevel, "maintenance.technician.capacity_drift", logrus.Fields{
			"technician_id":    id,
			"active_job_count": report.ActiveJobCount,
			"held_by_requests": report.HeldByRequests,
		})
	}
	return report, nil
}
