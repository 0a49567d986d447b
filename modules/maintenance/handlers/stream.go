package handlers

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

// StreamChannelAll carries every request event; company channels carry one
// tenant's events.
const StreamChannelAll = "requests"

func StreamCompanyChannel(companyID uuid.UUID) string {
	return "requests/company/" + companyID.String()
}

type Broadcaster interface {
	Broadcast(channel string, msg []byte) int
}

// StreamEventsHandler pushes committed request events to live dashboards.
type StreamEventsHandler struct {
	broadcaster Broadcaster
	logger      *logrus.Logger
}

func RegisterStreamHandlers(app application.Application, b Broadcaster) *StreamEventsHandler {
	h := &StreamEventsHandler{broadcaster: b, logger: app.Logger()}
	app.EventPublisher().Subscribe(h.onRequestEventV1)
	return h
}

// onRequestEventV1 never fails: a dashboard that misses an event reloads
// from the API, so the outbox must not retry for it.
func (h *StreamEventsHandler) onRequestEventV1(_ *outbox.Meta, ev *events.RequestEventV1) error {
	if ev == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).WithField("event_id", ev.EventID.String()).Warn("maintenance.stream.encode_failed")
		return nil
	}
	h.broadcaster.Broadcast(StreamChannelAll, payload)
	h.broadcaster.Broadcast(StreamCompanyChannel(ev.CompanyID), payload)
	return nil
}
