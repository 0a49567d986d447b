package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/repo"
)

const requestColumns = `
	id, company_id, branch_id, customer_id, status, priority, category, description,
	assigned_technician_id, latitude, longitude,
	sla_accept_due, sla_arrive_due, sla_complete_due,
	accepted_at, started_at, completed_at, closed_at,
	version, created_at, updated_at`

const (
	insertRequestQuery = `
	INSERT INTO maintenance_requests (` + requestColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`

	selectRequestQuery = `SELECT ` + requestColumns + ` FROM maintenance_requests`

	// The version predicate is the compare-and-swap.
	casRequestQuery = `
	UPDATE maintenance_requests
	   SET status = $3,
	       priority = $4,
	       category = $5,
	       description = $6,
	       assigned_technician_id = $7,
	       latitude = $8,
	       longitude = $9,
	       sla_accept_due = $10,
	       sla_arrive_due = $11,
	       sla_complete_due = $12,
	       accepted_at = $13,
	       started_at = $14,
	       completed_at = $15,
	       closed_at = $16,
	       updated_at = $17,
	       version = version + 1
	 WHERE id = $1 AND version = $2`

	countActiveByTechnicianQuery = `
	SELECT count(*) FROM maintenance_requests
	 WHERE assigned_technician_id = $1
	   AND status IN ('assigned', 'in_progress', 'waiting')`
)

type RequestRepository struct{}

func NewRequestRepository() request.Repository {
	return &RequestRepository{}
}

func (r *RequestRepository) Insert(ctx context.Context, req *request.Request) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	lat, lng := pgLocation(req.Location)
	if _, err := tx.Exec(ctx, insertRequestQuery,
		pgUUID(req.ID),
		pgUUID(req.CompanyID),
		pgUUID(req.BranchID),
		pgUUID(req.CustomerID),
		string(req.Status),
		string(req.Priority),
		req.Category,
		req.Description,
		pgNullUUID(req.AssignedTechnicianID),
		lat,
		lng,
		req.SLAAcceptDue.UTC(),
		req.SLAArriveDue.UTC(),
		req.SLACompleteDue.UTC(),
		pgTime(req.AcceptedAt),
		pgTime(req.StartedAt),
		pgTime(req.CompletedAt),
		pgTime(req.ClosedAt),
		req.Version,
		req.CreatedAt.UTC(),
		req.UpdatedAt.UTC(),
	); err != nil {
		return errors.Wrap(err, "insert maintenance request")
	}
	return nil
}

func (r *RequestRepository) GetByID(ctx context.Context, id uuid.UUID) (*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	req, err := scanRequest(tx.QueryRow(ctx, selectRequestQuery+` WHERE id = $1`, pgUUID(id)))
	if isNoRows(err) {
		return nil, request.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get maintenance request %s", id)
	}
	return req, nil
}

func (r *RequestRepository) List(ctx context.Context, params request.FindParams) ([]*request.Request, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if params.CompanyID != uuid.Nil {
		args = append(args, pgUUID(params.CompanyID))
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}
	if params.Status != "" {
		args = append(args, string(params.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	q := selectRequestQuery
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id " + repo.FormatLimitOffset(params.Limit, params.Offset)

	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "list maintenance requests")
	}
	defer rows.Close()

	var out []*request.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan maintenance request")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list maintenance requests")
	}
	return out, nil
}

func (r *RequestRepository) CompareAndSwap(ctx context.Context, next *request.Request, expectedVersion int64) error {
	if next.Version != expectedVersion+1 {
		return fmt.Errorf("compare and swap: next version %d does not follow %d", next.Version, expectedVersion)
	}
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	lat, lng := pgLocation(next.Location)
	tag, err := tx.Exec(ctx, casRequestQuery,
		pgUUID(next.ID),
		expectedVersion,
		string(next.Status),
		string(next.Priority),
		next.Category,
		next.Description,
		pgNullUUID(next.AssignedTechnicianID),
		lat,
		lng,
		next.SLAAcceptDue.UTC(),
		next.SLAArriveDue.UTC(),
		next.SLACompleteDue.UTC(),
		pgTime(next.AcceptedAt),
		pgTime(next.StartedAt),
		pgTime(next.CompletedAt),
		pgTime(next.ClosedAt),
		next.UpdatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrap(err, "update maintenance request")
	}
	if tag.RowsAffected() == 0 {
		return request.ErrStaleVersion
	}
	return nil
}

func (r *RequestRepository) CountActiveByTechnician(ctx context.Context, technicianID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	if err := tx.QueryRow(ctx, countActiveByTechnicianQuery, pgUUID(technicianID)).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count active requests")
	}
	return n, nil
}

func scanRequest(row pgx.Row) (*request.Request, error) {
	var (
		req                               request.Request
		id, company, branch, cust         pgtype.UUID
		assigned                          pgtype.UUID
		status, priority                  string
		lat, lng                          pgtype.Float8
		acceptDue, arriveDue, completeDue time.Time
		accepted, started                 pgtype.Timestamptz
		completed, closed                 pgtype.Timestamptz
	)
	if err := row.Scan(
		&id, &company, &branch, &cust, &status, &priority, &req.Category, &req.Description,
		&assigned, &lat, &lng,
		&acceptDue, &arriveDue, &completeDue,
		&accepted, &started, &completed, &closed,
		&req.Version, &req.CreatedAt, &req.UpdatedAt,
	); err != nil {
		return nil, err
	}

	req.ID = uuid.UUID(id.Bytes)
	req.CompanyID = uuid.UUID(company.Bytes)
	req.BranchID = uuid.UUID(branch.Bytes)
	req.CustomerID = uuid.UUID(cust.Bytes)
	req.Status = request.Status(status)
	req.Priority = request.Priority(priority)
	req.AssignedTechnicianID = asUUIDPtr(assigned)
	req.Location = asLocation(lat, lng)
	req.SLAAcceptDue = acceptDue.UTC()
	req.SLAArriveDue = arriveDue.UTC()
	req.SLACompleteDue = completeDue.UTC()
	req.AcceptedAt = asTimePtr(accepted)
	req.StartedAt = asTimePtr(started)
	req.CompletedAt = asTimePtr(completed)
	req.ClosedAt = asTimePtr(closed)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	return &req, nil
}
