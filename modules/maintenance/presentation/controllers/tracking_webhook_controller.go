package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/services"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/webhooks"
)

// TrackingWebhookController takes GPS pings for technicians from a signed
// tracking feed.
type TrackingWebhookController struct {
	requests *services.RequestService
	verifier webhooks.HMACVerifier
	tracker  *webhooks.DeliveryTracker
	prefix   string
}

type TrackingWebhookOptions struct {
	Secret    string
	MaxSkew   time.Duration
	ReplayTTL time.Duration
}

type trackingPing struct {
	TechnicianID uuid.UUID `json:"technician_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
}

func NewTrackingWebhookController(app application.Application, opts TrackingWebhookOptions) application.Controller {
	return NewTrackingWebhookControllerWithService(app.Service(services.RequestService{}).(*services.RequestService), opts)
}

func NewTrackingWebhookControllerWithService(svc *services.RequestService, opts TrackingWebhookOptions) *TrackingWebhookController {
	if opts.MaxSkew <= 0 {
		opts.MaxSkew = 5 * time.Minute
	}
	return &TrackingWebhookController{
		requests: svc,
		verifier: webhooks.HMACVerifier{Secret: []byte(opts.Secret), MaxSkew: opts.MaxSkew},
		tracker:  webhooks.NewDeliveryTracker(opts.ReplayTTL),
		prefix:   "/maintenance/webhooks/tracking",
	}
}

func (c *TrackingWebhookController) Key() string {
	return c.prefix
}

func (c *TrackingWebhookController) Register(r *mux.Router) {
	sub := webhooks.Bind(r, c.prefix, c.verifier, c.tracker)
	sub.HandleFunc("/locations", c.ReceiveLocation).Methods(http.MethodPost)
}

func (c *TrackingWebhookController) ReceiveLocation(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var ping trackingPing
	if err := decodeJSON(r.Body, &ping); err != nil || ping.TechnicianID == uuid.Nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "technician_id, latitude and longitude are required")
		return
	}
	if err := c.requests.UpdateTechnicianLocation(r.Context(), ping.TechnicianID, ping.Latitude, ping.Longitude); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
