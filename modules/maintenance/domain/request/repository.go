package request

import (
	"context"

	"github.com/google/uuid"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

var (
	ErrNotFound     = serrors.NewError("MAINT_NOT_FOUND", "maintenance request not found", "Maintenance.Errors.NotFound")
	ErrStaleVersion = serrors.NewError("MAINT_STALE_VERSION", "request was modified concurrently", "Maintenance.Errors.StaleVersion")
)

type FindParams struct {
	CompanyID uuid.UUID
	Status    Status
	Limit     int
	Offset    int
}

type Repository interface {
	Insert(ctx context.Context, r *Request) error
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)
	List(ctx context.Context, params FindParams) ([]*Request, error)
	// CompareAndSwap stores next only if the stored version still equals
	// expectedVersion; otherwise it returns ErrStaleVersion and writes nothing.
	CompareAndSwap(ctx context.Context, next *Request, expectedVersion int64) error
	// CountActiveByTechnician counts requests in an active status that reference technicianID.
	CountActiveByTechnician(ctx context.Context, technicianID uuid.UUID) (int, error)
}
