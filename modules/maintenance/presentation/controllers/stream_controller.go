package controllers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/handlers"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/ws"
)

// StreamController upgrades dispatcher dashboards to a websocket feed of
// request events. Browsers cannot set headers on the upgrade, so the actor
// may also come from actor_id and actor_role query parameters.
type StreamController struct {
	hub *ws.Hub
}

func NewStreamController(opts ws.HubOptions) *StreamController {
	opts.OnConnect = joinStreamChannel
	return &StreamController{hub: ws.NewHub(opts)}
}

// Hub is what the stream event handler broadcasts into.
func (c *StreamController) Hub() *ws.Hub {
	return c.hub
}

func (c *StreamController) Key() string {
	return "/maintenance/api/stream"
}

func (c *StreamController) Register(r *mux.Router) {
	r.HandleFunc("/maintenance/api/stream", c.Stream).Methods(http.MethodGet)
}

func (c *StreamController) Stream(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	q := r.URL.Query()
	if r.Header.Get(ActorRoleHeader) == "" && q.Get("actor_role") != "" {
		r.Header.Set(ActorRoleHeader, q.Get("actor_role"))
		r.Header.Set(ActorIDHeader, q.Get("actor_id"))
	}
	actor, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !canManageTechnicians(actor.Role) {
		writeAPIError(w, http.StatusForbidden, requestID, "MAINT_FORBIDDEN", "role may not watch the request stream")
		return
	}
	if raw := q.Get("company_id"); raw != "" {
		if _, err := uuid.Parse(raw); err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_QUERY", "company_id is invalid")
			return
		}
	}
	c.hub.ServeHTTP(w, r)
}

func joinStreamChannel(r *http.Request, hub *ws.Hub, conn *ws.Connection) error {
	if id, err := uuid.Parse(r.URL.Query().Get("company_id")); err == nil {
		hub.JoinChannel(handlers.StreamCompanyChannel(id), conn)
		return nil
	}
	hub.JoinChannel(handlers.StreamChannelAll, conn)
	return nil
}
