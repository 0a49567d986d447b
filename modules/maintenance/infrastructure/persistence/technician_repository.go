package persistence

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

const technicianColumns = `
	id, name, latitude, longitude, specializations, is_active, is_available,
	rating::float8, active_job_count, max_concurrent_jobs, location_updated_at`

const (
	upsertTechnicianQuery = `
	INSERT INTO maintenance_technicians (
		id, name, latitude, longitude, specializations, is_active, is_available,
		rating, active_job_count, max_concurrent_jobs, location_updated_at
	)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	ON CONFLICT (id) DO UPDATE SET
		name = EXCLUDED.name,
		latitude = EXCLUDED.latitude,
		longitude = EXCLUDED.longitude,
		specializations = EXCLUDED.specializations,
		is_active = EXCLUDED.is_active,
		is_available = EXCLUDED.is_available,
		rating = EXCLUDED.rating,
		max_concurrent_jobs = EXCLUDED.max_concurrent_jobs,
		location_updated_at = EXCLUDED.location_updated_at,
		updated_at = now()`

	selectTechnicianQuery = `SELECT ` + technicianColumns + ` FROM maintenance_technicians`

	candidatesQuery = selectTechnicianQuery + `
	 WHERE is_active AND is_available
	   AND active_job_count < max_concurrent_jobs
	   AND ($1::text = '' OR $1::text = ANY(specializations))
	   AND (cardinality($2::uuid[]) = 0 OR id = ANY($2::uuid[]))
	 ORDER BY id`

	reserveSlotQuery = `
	UPDATE maintenance_technicians
	   SET active_job_count = active_job_count + 1, updated_at = now()
	 WHERE id = $1
	   AND is_active AND is_available
	   AND active_job_count < max_concurrent_jobs`

	releaseSlotQuery = `
	UPDATE maintenance_technicians
	   SET active_job_count = GREATEST(active_job_count - 1, 0), updated_at = now()
	 WHERE id = $1`

	updateLocationQuery = `
	UPDATE maintenance_technicians
	   SET latitude = $2, longitude = $3, location_updated_at = $4, updated_at = now()
	 WHERE id = $1`
)

type TechnicianRepository struct{}

func NewTechnicianRepository() technician.Repository {
	return &TechnicianRepository{}
}

func (r *TechnicianRepository) Upsert(ctx context.Context, t *technician.Technician) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, upsertTechnicianQuery,
		pgUUID(t.ID),
		t.Name,
		t.Latitude,
		t.Longitude,
		technician.NormalizeSpecializations(t.Specializations),
		t.IsActive,
		t.IsAvailable,
		t.Rating,
		t.ActiveJobCount,
		t.MaxConcurrentJobs,
		t.LocationUpdatedAt.UTC(),
	); err != nil {
		return errors.Wrap(err, "upsert technician")
	}
	return nil
}

func (r *TechnicianRepository) GetByID(ctx context.Context, id uuid.UUID) (*technician.Technician, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	t, err := scanTechnician(tx.QueryRow(ctx, selectTechnicianQuery+` WHERE id = $1`, pgUUID(id)))
	if isNoRows(err) {
		return nil, technician.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get technician %s", id)
	}
	return t, nil
}

func (r *TechnicianRepository) ListCandidates(ctx context.Context, filter technician.CandidateFilter) ([]*technician.Technician, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]pgtype.UUID, 0, len(filter.IDs))
	for _, id := range filter.IDs {
		ids = append(ids, pgUUID(id))
	}

	rows, err := tx.Query(ctx, candidatesQuery, strings.ToLower(strings.TrimSpace(filter.Specialization)), ids)
	if err != nil {
		return nil, errors.Wrap(err, "list technician candidates")
	}
	defer rows.Close()

	var out []*technician.Technician
	for rows.Next() {
		t, err := scanTechnician(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan technician")
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list technician candidates")
	}
	return out, nil
}

func (r *TechnicianRepository) ReserveSlot(ctx context.Context, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, reserveSlotQuery, pgUUID(id))
	if isConstraintViolation(err, pgCheckViolation, technicianCapacity) {
		return technician.ErrNoCapacity
	}
	if err != nil {
		return errors.Wrap(err, "reserve technician slot")
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return technician.ErrNoCapacity
}

func (r *TechnicianRepository) ReleaseSlot(ctx context.Context, id uuid.UUID) error {
	return r.exec(ctx, "release technician slot", releaseSlotQuery, pgUUID(id))
}

func (r *TechnicianRepository) UpdateLocation(ctx context.Context, id uuid.UUID, lat, lng float64, at time.Time) error {
	return r.exec(ctx, "update technician location", updateLocationQuery, pgUUID(id), lat, lng, at.UTC())
}

func (r *TechnicianRepository) exec(ctx context.Context, op, sql string, args ...any) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return errors.Wrap(err, op)
	}
	if tag.RowsAffected() == 0 {
		return technician.ErrNotFound
	}
	return nil
}

func scanTechnician(row pgx.Row) (*technician.Technician, error) {
	var (
		t  technician.Technician
		id pgtype.UUID
	)
	if err := row.Scan(
		&id, &t.Name, &t.Latitude, &t.Longitude, &t.Specializations, &t.IsActive, &t.IsAvailable,
		&t.Rating, &t.ActiveJobCount, &t.MaxConcurrentJobs, &t.LocationUpdatedAt,
	); err != nil {
		return nil, err
	}
	t.ID = uuid.UUID(id.Bytes)
	t.LocationUpdatedAt = t.LocationUpdatedAt.UTC()
	return &t, nil
}
