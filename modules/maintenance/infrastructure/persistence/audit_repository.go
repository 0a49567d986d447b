package persistence

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pkg/errors"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

// The audit table only ever sees INSERT and SELECT from this package.
const (
	insertAuditQuery = `
	INSERT INTO maintenance_request_audit (
		id, request_id, version, operation, old_snapshot, new_snapshot, diff,
		actor_id, actor_role, transition, created_at
	)
	VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7::jsonb,$8,$9,$10,$11)`

	listAuditQuery = `
	SELECT id, request_id, version, operation, old_snapshot, new_snapshot, diff,
	       actor_id, actor_role, COALESCE(transition, ''), created_at
	  FROM maintenance_request_audit
	 WHERE request_id = $1
	 ORDER BY version ASC`
)

type AuditRepository struct{}

func NewAuditRepository() audit.Repository {
	return &AuditRepository{}
}

func (r *AuditRepository) Append(ctx context.Context, rec *audit.Record) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}

	var old pgtype.Text
	if len(rec.OldSnapshot) > 0 && string(rec.OldSnapshot) != "null" {
		old = pgtype.Text{String: string(rec.OldSnapshot), Valid: true}
	}

	_, err = tx.Exec(ctx, insertAuditQuery,
		pgUUID(rec.ID),
		pgUUID(rec.RequestID),
		rec.Version,
		string(rec.Operation),
		old,
		string(rec.NewSnapshot),
		string(rec.Diff),
		rec.ActorID,
		rec.ActorRole,
		pgText(rec.Transition),
		rec.CreatedAt.UTC(),
	)
	if isConstraintViolation(err, pgUniqueViolation, auditVersionConstraint) {
		return request.ErrStaleVersion
	}
	if err != nil {
		return errors.Wrap(err, "append audit record")
	}
	return nil
}

func (r *AuditRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]*audit.Record, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listAuditQuery, pgUUID(requestID))
	if err != nil {
		return nil, errors.Wrap(err, "list audit records")
	}
	defer rows.Close()

	var out []*audit.Record
	for rows.Next() {
		var (
			rec          audit.Record
			id, reqID    pgtype.UUID
			operation    string
			old, nw, dif []byte
		)
		if err := rows.Scan(
			&id, &reqID, &rec.Version, &operation, &old, &nw, &dif,
			&rec.ActorID, &rec.ActorRole, &rec.Transition, &rec.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan audit record")
		}
		rec.ID = uuid.UUID(id.Bytes)
		rec.RequestID = uuid.UUID(reqID.Bytes)
		rec.Operation = audit.Operation(operation)
		rec.OldSnapshot = old
		if len(old) == 0 {
			rec.OldSnapshot = []byte("null")
		}
		rec.NewSnapshot = nw
		rec.Diff = dif
		rec.CreatedAt = rec.CreatedAt.UTC()
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "list audit records")
	}
	return out, nil
}
