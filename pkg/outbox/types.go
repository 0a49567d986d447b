package outbox

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Message is one row of an outbox table.
type Message struct {
	Topic       string
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Payload     json.RawMessage
	TraceParent string
}

// Meta travels with every dispatched message. EventID is the idempotency key.
type Meta struct {
	Table       pgx.Identifier
	Topic       string
	EventID     uuid.UUID
	AggregateID uuid.UUID
	Sequence    int64
	Attempts    int
	TraceParent string
}

type DispatchedMessage struct {
	Meta    Meta
	Payload json.RawMessage
}

// Dispatcher delivers one claimed row. On error the relay retries the row
// with backoff until MaxAttempts, then marks it dead.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg DispatchedMessage) error
}
