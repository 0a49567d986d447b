package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/presentation/controllers/dtos"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/services"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/application"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/httpapi"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"

	defaultListLimit = 50
	maxListLimit     = 500
)

type MaintenanceAPIController struct {
	requests  *services.RequestService
	retry     services.RetryPolicy
	apiPrefix string
}

type ControllerOption func(*MaintenanceAPIController)

// WithRetryPolicy sets how auto-dispatch retries a stale write.
func WithRetryPolicy(p services.RetryPolicy) ControllerOption {
	return func(c *MaintenanceAPIController) { c.retry = p }
}

func NewMaintenanceAPIController(app application.Application, opts ...ControllerOption) application.Controller {
	return NewMaintenanceAPIControllerWithService(app.Service(services.RequestService{}).(*services.RequestService), opts...)
}

func NewMaintenanceAPIControllerWithService(svc *services.RequestService, opts ...ControllerOption) *MaintenanceAPIController {
	c := &MaintenanceAPIController{requests: svc, retry: services.DefaultRetryPolicy, apiPrefix: "/maintenance/api"}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *MaintenanceAPIController) Key() string {
	return c.apiPrefix
}

func (c *MaintenanceAPIController) Register(r *mux.Router) {
	api := r.PathPrefix(c.apiPrefix).Subrouter()

	api.HandleFunc("/requests", c.CreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests", c.ListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", c.GetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", c.UpdateDetails).Methods(http.MethodPatch)
	api.HandleFunc("/requests/{id}:transition", c.Transition).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:reprioritize", c.Reprioritize).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}:dispatch", c.Dispatch).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/audit", c.GetAuditTrail).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/audit:replay", c.ReplayAuditTrail).Methods(http.MethodGet)

	api.HandleFunc("/technicians", c.RegisterTechnician).Methods(http.MethodPost)
	api.HandleFunc("/technicians/{id}", c.GetTechnician).Methods(http.MethodGet)
	api.HandleFunc("/technicians/{id}/capacity", c.CheckTechnicianCapacity).Methods(http.MethodGet)
	api.HandleFunc("/technicians/{id}/location", c.UpdateTechnicianLocation).Methods(http.MethodPut)

	api.HandleFunc("/dispatch:preview", c.PreviewDispatch).Methods(http.MethodPost)
}

func (c *MaintenanceAPIController) CreateRequest(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}

	var req dtos.CreateRequestDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}

	created, err := c.requests.CreateRequest(r.Context(), actor, req.ToCommand())
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}

	resp := dtos.CreateRequestResponse{
		RequestResponse: dtos.RequestResponse{Request: created, SLA: c.requests.EvaluateSLA(created)},
	}
	if req.AutoDispatch && created.HasLocation() {
		var res *services.DispatchResult
		err := services.RetryOnStale(r.Context(), c.retry, func(ctx context.Context) error {
			var dispatchErr error
			res, dispatchErr = c.requests.Dispatch(ctx, services.SystemActor, services.DispatchCommand{RequestID: created.ID})
			return dispatchErr
		})
		switch {
		case err == nil:
			d := dtos.NewDispatchResponse(res)
			resp.Dispatch = &d
			resp.Request = res.Request
			resp.SLA = c.requests.EvaluateSLA(res.Request)
		case errors.Is(err, dispatch.ErrNoAvailableTechnician):
			d := dtos.NewDispatchResponse(nil)
			resp.Dispatch = &d
		default:
			// The request exists; a failed dispatch is reported, not rolled back.
			composables.UseLogger(r.Context()).WithError(err).WithFields(logrus.Fields{
				"request_id": created.ID,
			}).Warn("maintenance.dispatch.auto_failed")
			d := dtos.DispatchResponse{Assigned: false, Message: err.Error()}
			resp.Dispatch = &d
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (c *MaintenanceAPIController) ListRequests(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	q := r.URL.Query()

	params := request.FindParams{Limit: defaultListLimit}
	if v := strings.TrimSpace(q.Get("company_id")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_QUERY", "company_id is invalid")
			return
		}
		params.CompanyID = id
	}
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		st, err := request.ParseStatus(v)
		if err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_QUERY", "status is invalid")
			return
		}
		params.Status = st
	}
	var err error
	if params.Limit, err = parseIntQuery(q.Get("limit"), defaultListLimit); err != nil || params.Limit <= 0 || params.Limit > maxListLimit {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_QUERY", "limit is invalid")
		return
	}
	if params.Offset, err = parseIntQuery(q.Get("offset"), 0); err != nil || params.Offset < 0 {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_QUERY", "offset is invalid")
		return
	}

	items, err := c.requests.ListRequests(r.Context(), params)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	out := make([]dtos.RequestResponse, 0, len(items))
	for _, it := range items {
		out = append(out, dtos.RequestResponse{Request: it, SLA: c.requests.EvaluateSLA(it)})
	}
	writeJSON(w, http.StatusOK, dtos.ListResponse[dtos.RequestResponse]{Items: out, Limit: params.Limit, Offset: params.Offset})
}

func (c *MaintenanceAPIController) GetRequest(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := parsePathID(w, r, requestID)
	if !ok {
		return
	}
	req, err := c.requests.GetRequest(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dtos.RequestResponse{Request: req, SLA: c.requests.EvaluateSLA(req)})
}

func (c *MaintenanceAPIController) UpdateDetails(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, id, ok := requireActorAndID(w, r, requestID)
	if !ok {
		return
	}
	var req dtos.UpdateDetailsDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}
	updated, err := c.requests.UpdateDetails(r.Context(), actor, req.ToCommand(id))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dtos.RequestResponse{Request: updated, SLA: c.requests.EvaluateSLA(updated)})
}

func (c *MaintenanceAPIController) Transition(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, id, ok := requireActorAndID(w, r, requestID)
	if !ok {
		return
	}
	var req dtos.TransitionDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}
	updated, err := c.requests.Transition(r.Context(), actor, req.ToCommand(id))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dtos.RequestResponse{Request: updated, SLA: c.requests.EvaluateSLA(updated)})
}

func (c *MaintenanceAPIController) Reprioritize(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, id, ok := requireActorAndID(w, r, requestID)
	if !ok {
		return
	}
	var req dtos.ReprioritizeDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}
	updated, err := c.requests.Reprioritize(r.Context(), actor, req.ToCommand(id))
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dtos.RequestResponse{Request: updated, SLA: c.requests.EvaluateSLA(updated)})
}

// Dispatch answers 200 with assigned=false when nobody is available; that is
// an expected outcome, not a failure.
func (c *MaintenanceAPIController) Dispatch(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, id, ok := requireActorAndID(w, r, requestID)
	if !ok {
		return
	}
	var req dtos.DispatchDTO
	if r.ContentLength != 0 {
		if err := decodeJSON(r.Body, &req); err != nil {
			writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
			return
		}
	}
	res, err := c.requests.Dispatch(r.Context(), actor, services.DispatchCommand{
		RequestID:       id,
		ExpectedVersion: req.ExpectedVersion,
		Specialization:  req.Specialization,
	})
	if err != nil && !errors.Is(err, dispatch.ErrNoAvailableTechnician) {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dtos.NewDispatchResponse(res))
}

func (c *MaintenanceAPIController) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := parsePathID(w, r, requestID)
	if !ok {
		return
	}
	records, err := c.requests.GetAuditTrail(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}
	writeJSON(w, http.StatusOK, dtos.AuditTrailResponse{RequestID: id, Records: records})
}

func (c *MaintenanceAPIController) ReplayAuditTrail(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := parsePathID(w, r, requestID)
	if !ok {
		return
	}
	snapshot, err := c.requests.ReplayAuditTrail(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(snapshot))
}

func (c *MaintenanceAPIController) RegisterTechnician(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, ok := requireActor(w, r, requestID)
	if !ok {
		return
	}
	if !canManageTechnicians(actor.Role) {
		writeAPIError(w, http.StatusForbidden, requestID, "MAINT_FORBIDDEN", "role may not manage technicians")
		return
	}
	var req dtos.TechnicianDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}
	t, err := c.requests.RegisterTechnician(r.Context(), req.ToCommand())
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (c *MaintenanceAPIController) GetTechnician(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := parsePathID(w, r, requestID)
	if !ok {
		return
	}
	t, err := c.requests.GetTechnician(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (c *MaintenanceAPIController) CheckTechnicianCapacity(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, ok := parsePathID(w, r, requestID)
	if !ok {
		return
	}
	report, err := c.requests.CheckTechnicianCapacity(r.Context(), id)
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (c *MaintenanceAPIController) UpdateTechnicianLocation(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	actor, id, ok := requireActorAndID(w, r, requestID)
	if !ok {
		return
	}
	if actor.Role != lifecycle.RoleTechnician && !canManageTechnicians(actor.Role) {
		writeAPIError(w, http.StatusForbidden, requestID, "MAINT_FORBIDDEN", "role may not move technicians")
		return
	}
	var req dtos.LocationDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}
	if err := c.requests.UpdateTechnicianLocation(r.Context(), id, req.Latitude, req.Longitude); err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *MaintenanceAPIController) PreviewDispatch(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var req dtos.PreviewDispatchDTO
	if err := decodeJSON(r.Body, &req); err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_BODY", "invalid json body")
		return
	}
	res, err := c.requests.PreviewDispatch(r.Context(), req.Latitude, req.Longitude, req.Specialization)
	if errors.Is(err, dispatch.ErrNoAvailableTechnician) {
		writeJSON(w, http.StatusOK, dtos.NewDispatchResponse(nil))
		return
	}
	if err != nil {
		writeServiceError(w, requestID, err)
		return
	}
	writeJSON(w, http.StatusOK, dtos.NewPreviewResponse(res))
}

func canManageTechnicians(role lifecycle.Role) bool {
	return role == lifecycle.RoleDispatcher || role == lifecycle.RoleManager || role == lifecycle.RoleSystem
}

func requireActor(w http.ResponseWriter, r *http.Request, requestID string) (services.Actor, bool) {
	roleHeader := strings.TrimSpace(r.Header.Get(ActorRoleHeader))
	actorID := strings.TrimSpace(r.Header.Get(ActorIDHeader))
	if roleHeader == "" || actorID == "" {
		writeAPIError(w, http.StatusUnauthorized, requestID, "MAINT_NO_ACTOR", "X-Actor-ID and X-Actor-Role are required")
		return services.Actor{}, false
	}
	role, err := lifecycle.ParseRole(roleHeader)
	if err != nil {
		writeAPIError(w, http.StatusUnauthorized, requestID, "MAINT_NO_ACTOR", "unknown actor role")
		return services.Actor{}, false
	}
	return services.Actor{ID: actorID, Role: role}, true
}

func requireActorAndID(w http.ResponseWriter, r *http.Request, requestID string) (services.Actor, uuid.UUID, bool) {
	actor, ok := requireActor(w, r, requestID)
	if !ok {
		return services.Actor{}, uuid.Nil, false
	}
	id, ok := parsePathID(w, r, requestID)
	return actor, id, ok
}

func parsePathID(w http.ResponseWriter, r *http.Request, requestID string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, requestID, "MAINT_INVALID_ID", "id is invalid")
		return uuid.Nil, false
	}
	return id, true
}

func parseIntQuery(v string, def int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func decodeJSON(body io.ReadCloser, out any) error {
	defer func() { _ = body.Close() }()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func writeServiceError(w http.ResponseWriter, requestID string, err error) {
	var svcErr *services.ServiceError
	if !errors.As(err, &svcErr) {
		writeAPIError(w, http.StatusInternalServerError, requestID, "MAINT_INTERNAL", err.Error())
		return
	}
	apiErr := httpapi.NewError(svcErr.Code, svcErr.Message).WithRequestID(requestID)
	var fields serrors.ValidationErrors
	if errors.As(err, &fields) {
		apiErr.WithFields(fields)
	}
	_ = apiErr.Write(w, svcErr.Status)
}

func writeAPIError(w http.ResponseWriter, status int, requestID, code, message string) {
	_ = httpapi.NewError(code, message).WithRequestID(requestID).Write(w, status)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	_ = httpapi.WriteJSON(w, status, payload)
}
