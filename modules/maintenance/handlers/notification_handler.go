package handlers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

// Notification is what the delivery side needs to tell people about a
// request. EventID is stable across redeliveries.
type Notification struct {
	EventID      uuid.UUID
	Topic        string
	RequestID    uuid.UUID
	CompanyID    uuid.UUID
	Status       string
	TechnicianID *uuid.UUID
	DistanceKm   string
	Text         string
}

// NotificationGateway delivers notifications (SMS, push, chat). Events may be
// delivered more than once; implementations dedupe on EventID.
type NotificationGateway interface {
	Notify(ctx context.Context, n Notification) error
}

// LoggingGateway only logs. It is the default until a delivery channel is configured.
type LoggingGateway struct {
	logger *logrus.Logger
}

func NewLoggingGateway(logger *logrus.Logger) *LoggingGateway {
	return &LoggingGateway{logger: logger}
}

func (g *LoggingGateway) Notify(_ context.Context, n Notification) error {
	fields := logrus.Fields{
		"event_id":   n.EventID.String(),
		"topic":      n.Topic,
		"request_id": n.RequestID.String(),
		"status":     n.Status,
	}
	if n.TechnicianID != nil {
		fields["technician_id"] = n.TechnicianID.String()
	}
	g.logger.WithFields(fields).Info(n.Text)
	return nil
}

type NotificationEventsHandler struct {
	gateway NotificationGateway
	logger  *logrus.Logger
}

func NewNotificationEventsHandler(gateway NotificationGateway, logger *logrus.Logger) *NotificationEventsHandler {
	return &NotificationEventsHandler{gateway: gateway, logger: logger}
}

func RegisterNotificationHandlers(app application.Application, gateway NotificationGateway) *NotificationEventsHandler {
	handler := NewNotificationEventsHandler(gateway, app.Logger())
	app.EventPublisher().Subscribe(handler.onRequestEventV1)
	return handler
}

// onRequestEventV1 returns the gateway error so the outbox retries the event.
func (h *NotificationEventsHandler) onRequestEventV1(meta *outbox.Meta, ev *events.RequestEventV1) error {
	if h == nil || h.gateway == nil || meta == nil || ev == nil {
		return nil
	}
	n := Notification{
		EventID:   ev.EventID,
		Topic:     ev.Topic,
		RequestID: ev.EntityID,
		CompanyID: ev.CompanyID,
		Status:    ev.ToStatus,
		Text:      describe(ev),
	}
	if ev.Assignment != nil {
		id := ev.Assignment.TechnicianID
		n.TechnicianID = &id
		if ev.Assignment.DistanceKm != nil {
			n.DistanceKm = *ev.Assignment.DistanceKm
		}
	}
	if err := h.gateway.Notify(context.Background(), n); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"event_id": ev.EventID.String(),
			"topic":    ev.Topic,
			"attempts": meta.Attempts,
		}).Warn("maintenance.notification.failed")
		return err
	}
	return nil
}

func describe(ev *events.RequestEventV1) string {
	to := request.Status(ev.ToStatus).Label()
	switch ev.Topic {
	case events.TopicRequestCreatedV1:
		return "Maintenance request received"
	case events.TopicRequestAssignedV1:
		if ev.Assignment != nil && ev.Assignment.DistanceKm != nil {
			return fmt.Sprintf("Technician assigned, %s km away", *ev.Assignment.DistanceKm)
		}
		return "Technician assigned"
	case events.TopicRequestTransitionedV1:
		return fmt.Sprintf("Request moved from %s to %s", request.Status(ev.FromStatus).Label(), to)
	case events.TopicRequestUpdatedV1:
		return "Request details updated"
	}
	return "Request " + to
}
