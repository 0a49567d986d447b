package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

// Dispatcher decodes maintenance request events and publishes them as
// (*outbox.Meta, *events.RequestEventV1) on the bus.
type Dispatcher struct {
	bus eventbus.EventBusWithError
}

func NewDispatcher(bus eventbus.EventBusWithError) *Dispatcher {
	return &Dispatcher{bus: bus}
}

func (d *Dispatcher) Dispatch(ctx context.Context, msg outbox.DispatchedMessage) error {
	if d == nil || d.bus == nil {
		return fmt.Errorf("maintenance outbox dispatcher: bus is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !slices.Contains(events.Topics, msg.Meta.Topic) {
		return fmt.Errorf("maintenance outbox dispatcher: unsupported topic %q", msg.Meta.Topic)
	}

	var ev events.RequestEventV1
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return fmt.Errorf("maintenance outbox dispatcher: decode payload: %w", err)
	}
	if ev.EventID != msg.Meta.EventID {
		return fmt.Errorf("maintenance outbox dispatcher: payload event %s does not match row %s", ev.EventID, msg.Meta.EventID)
	}
	return d.bus.PublishE(&msg.Meta, &ev)
}
