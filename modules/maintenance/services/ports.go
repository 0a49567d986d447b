package services

import (
	"context"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
)

// Transactor runs fn atomically. Repositories called with the ctx passed to
// fn take part in the same transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(context.Context) error) error
}

// EventSink records an event inside the current transaction; it is delivered
// only if the transaction commits.
type EventSink interface {
	Enqueue(ctx context.Context, ev events.RequestEventV1) error
}

type Repositories struct {
	Requests    request.Repository
	Technicians technician.Repository
	Audit       audit.Repository
	Tx          Transactor
}

type Actor struct {
	ID   string
	Role lifecycle.Role
}

// SystemActor is used for automatic dispatch.
var SystemActor = Actor{ID: "system", Role: lifecycle.RoleSystem}
