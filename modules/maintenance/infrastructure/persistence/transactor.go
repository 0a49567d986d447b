package persistence

import (
	"context"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

// Transactor runs a unit of work in one pgx transaction taken from the pool
// bound to the context.
type Transactor struct{}

func NewTransactor() *Transactor {
	return &Transactor{}
}

func (t *Transactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	return composables.InTx(ctx, fn)
}
