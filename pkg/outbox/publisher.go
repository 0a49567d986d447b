package outbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/AlazabDev/UberFix.shop-sub000/pkg/repo"
)

type Publisher interface {
	Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, msg Message) (sequence int64, err error)
}

type publisher struct {
	m *metrics
}

func NewPublisher() Publisher {
	return &publisher{m: getMetrics()}
}

// Enqueue writes msg inside the caller's transaction. Re-enqueueing the same
// EventID returns the existing sequence instead of a duplicate row.
func (p *publisher) Enqueue(ctx context.Context, tx repo.Tx, table pgx.Identifier, msg Message) (int64, error) {
	if err := msg.validate(); err != nil {
		return 0, err
	}
	if len(table) == 0 {
		return 0, invalidConfig("table is required")
	}

	q := fmt.Sprintf(
		`INSERT INTO %s (topic, event_id, aggregate_id, payload, trace_parent, available_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), now())
		 ON CONFLICT (event_id) DO UPDATE SET event_id = EXCLUDED.event_id
		 RETURNING sequence`,
		table.Sanitize(),
	)

	var sequence int64
	err := tx.QueryRow(ctx, q, msg.Topic, msg.EventID, msg.AggregateID, msg.Payload, msg.TraceParent).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("outbox enqueue: %w", err)
	}

	p.m.enqueueTotal.WithLabelValues(TableLabel(table), msg.Topic).Inc()
	return sequence, nil
}

func (m Message) validate() error {
	switch {
	case m.EventID == uuid.Nil:
		return invalidConfig("event_id is required")
	case m.Topic == "":
		return invalidConfig("topic is required")
	case len(m.Payload) == 0:
		return invalidConfig("payload is required")
	}
	return nil
}
