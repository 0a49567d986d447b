package persistence

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

// OutboxSink writes request events into the outbox table inside the caller's
// transaction, so an event exists if and only if its mutation committed.
type OutboxSink struct {
	publisher outbox.Publisher
	table     pgx.Identifier
}

func NewOutboxSink(table pgx.Identifier) *OutboxSink {
	return &OutboxSink{publisher: outbox.NewPublisher(), table: table}
}

func (s *OutboxSink) Enqueue(ctx context.Context, ev events.RequestEventV1) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal request event")
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	if _, err := s.publisher.Enqueue(ctx, tx, s.table, outbox.Message{
		Topic:       ev.Topic,
		EventID:     ev.EventID,
		AggregateID: ev.EntityID,
		Payload:     payload,
		TraceParent: carrier.Get("traceparent"),
	}); err != nil {
		return errors.Wrapf(err, "enqueue %s", ev.Topic)
	}
	return nil
}
