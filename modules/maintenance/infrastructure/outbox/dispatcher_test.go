package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

func message(t *testing.T, ev events.RequestEventV1) outbox.DispatchedMessage {
	t.Helper()
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	return outbox.DispatchedMessage{
		Meta:    outbox.Meta{Topic: ev.Topic, EventID: ev.EventID, AggregateID: ev.EntityID},
		Payload: payload,
	}
}

func TestDispatcher_DecodesAndPublishes(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	var got *events.RequestEventV1
	bus.Subscribe(func(meta *outbox.Meta, ev *events.RequestEventV1) error {
		got = ev
		return nil
	})

	ev := events.RequestEventV1{
		EventID:  uuid.New(),
		Topic:    events.TopicRequestAssignedV1,
		EntityID: uuid.New(),
		ToStatus: "assigned",
	}
	require.NoError(t, NewDispatcher(bus).Dispatch(context.Background(), message(t, ev)))
	require.NotNil(t, got)
	require.Equal(t, ev.EntityID, got.EntityID)
	require.Equal(t, "assigned", got.ToStatus)
}

func TestDispatcher_Rejects(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	bus.Subscribe(func(meta *outbox.Meta, ev *events.RequestEventV1) error { return nil })
	d := NewDispatcher(bus)

	t.Run("unknown topic", func(t *testing.T) {
		msg := message(t, events.RequestEventV1{EventID: uuid.New(), Topic: "org.changed.v1"})
		require.ErrorContains(t, d.Dispatch(context.Background(), msg), "unsupported topic")
	})

	t.Run("bad payload", func(t *testing.T) {
		msg := outbox.DispatchedMessage{
			Meta:    outbox.Meta{Topic: events.TopicRequestCreatedV1},
			Payload: json.RawMessage(`{"event_id":`),
		}
		require.ErrorContains(t, d.Dispatch(context.Background(), msg), "decode payload")
	})

	t.Run("event id mismatch", func(t *testing.T) {
		msg := message(t, events.RequestEventV1{EventID: uuid.New(), Topic: events.TopicRequestCreatedV1})
		msg.Meta.EventID = uuid.New()
		require.ErrorContains(t, d.Dispatch(context.Background(), msg), "does not match")
	})
}

func TestDispatcher_SurfacesHandlerError(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	boom := errors.New("gateway down")
	bus.Subscribe(func(meta *outbox.Meta, ev *events.RequestEventV1) error { return boom })

	msg := message(t, events.RequestEventV1{EventID: uuid.New(), Topic: events.TopicRequestCreatedV1})
	require.ErrorIs(t, NewDispatcher(bus).Dispatch(context.Background(), msg), boom)
}
