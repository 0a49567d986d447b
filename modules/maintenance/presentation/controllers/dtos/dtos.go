package dtos

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/services"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/httpapi"
)

type APIError = httpapi.ErrorEnvelope

type LocationDTO struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (l *LocationDTO) toDomain() *request.Location {
	if l == nil {
		return nil
	}
	return &request.Location{Latitude: l.Latitude, Longitude: l.Longitude}
}

type CreateRequestDTO struct {
	CompanyID   uuid.UUID    `json:"company_id"`
	BranchID    uuid.UUID    `json:"branch_id"`
	CustomerID  uuid.UUID    `json:"customer_id"`
	Priority    string       `json:"priority"`
	Category    string       `json:"category"`
	Description string       `json:"description"`
	Location    *LocationDTO `json:"location"`
	// AutoDispatch runs dispatch right after creation when a location is given.
	AutoDispatch bool `json:"auto_dispatch"`
}

func (d *CreateRequestDTO) ToCommand() services.CreateRequestCommand {
	return services.CreateRequestCommand{
		CompanyID:   d.CompanyID,
		BranchID:    d.BranchID,
		CustomerID:  d.CustomerID,
		Priority:    request.Priority(d.Priority),
		Category:    d.Category,
		Description: d.Description,
		Location:    d.Location.toDomain(),
	}
}

type TransitionDTO struct {
	Target          string     `json:"target_status"`
	ExpectedVersion int64      `json:"expected_version"`
	TechnicianID    *uuid.UUID `json:"technician_id"`
	Priority        *string    `json:"priority"`
	Category        *string    `json:"category"`
}

func (d *TransitionDTO) ToCommand(id uuid.UUID) services.TransitionCommand {
	cmd := services.TransitionCommand{
		RequestID:       id,
		Target:          request.Status(strings.ToLower(strings.TrimSpace(d.Target))),
		ExpectedVersion: d.ExpectedVersion,
		TechnicianID:    d.TechnicianID,
		Category:        d.Category,
	}
	if d.Priority != nil {
		p := request.Priority(strings.ToLower(strings.TrimSpace(*d.Priority)))
		cmd.Priority = &p
	}
	return cmd
}

type ReprioritizeDTO struct {
	ExpectedVersion int64   `json:"expected_version"`
	Priority        string  `json:"priority"`
	Category        *string `json:"category"`
}

func (d *ReprioritizeDTO) ToCommand(id uuid.UUID) services.ReprioritizeCommand {
	return services.ReprioritizeCommand{
		RequestID:       id,
		ExpectedVersion: d.ExpectedVersion,
		Priority:        request.Priority(strings.ToLower(strings.TrimSpace(d.Priority))),
		Category:        d.Category,
	}
}

type UpdateDetailsDTO struct {
	ExpectedVersion int64        `json:"expected_version"`
	Description     *string      `json:"description"`
	Location        *LocationDTO `json:"location"`
}

func (d *UpdateDetailsDTO) ToCommand(id uuid.UUID) services.UpdateDetailsCommand {
	return services.UpdateDetailsCommand{
		RequestID:       id,
		ExpectedVersion: d.ExpectedVersion,
		Description:     d.Description,
		Location:        d.Location.toDomain(),
	}
}

type DispatchDTO struct {
	ExpectedVersion int64  `json:"expected_version"`
	Specialization  string `json:"specialization"`
}

type PreviewDispatchDTO struct {
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Specialization string  `json:"specialization"`
}

type TechnicianDTO struct {
	ID                *uuid.UUID `json:"id"`
	Name              string     `json:"name"`
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	Specializations   []string   `json:"specializations"`
	IsActive          *bool      `json:"is_active"`
	IsAvailable       *bool      `json:"is_available"`
	Rating            float64    `json:"rating"`
	MaxConcurrentJobs int        `json:"max_concurrent_jobs"`
}

// ToCommand treats missing is_active / is_available as true.
func (d *TechnicianDTO) ToCommand() services.RegisterTechnicianCommand {
	cmd := services.RegisterTechnicianCommand{
		Name:              strings.TrimSpace(d.Name),
		Latitude:          d.Latitude,
		Longitude:         d.Longitude,
		Specializations:   d.Specializations,
		IsActive:          d.IsActive == nil || *d.IsActive,
		IsAvailable:       d.IsAvailable == nil || *d.IsAvailable,
		Rating:            d.Rating,
		MaxConcurrentJobs: d.MaxConcurrentJobs,
	}
	if d.ID != nil {
		cmd.ID = *d.ID
	}
	return cmd
}

type RequestResponse struct {
	*request.Request
	SLA sla.Report `json:"sla"`
}

type DispatchResponse struct {
	Assigned     bool             `json:"assigned"`
	TechnicianID *uuid.UUID       `json:"technician_id,omitempty"`
	DistanceKm   *decimal.Decimal `json:"distance_km,omitempty"`
	Message      string           `json:"message,omitempty"`
	Request      *request.Request `json:"request,omitempty"`
}

// NoTechnicianMessage is shown when dispatch finds nobody; the request stays
// open for manual assignment.
const NoTechnicianMessage = "no technician currently available"

func NewDispatchResponse(res *services.DispatchResult) DispatchResponse {
	if res == nil {
		return DispatchResponse{Assigned: false, Message: NoTechnicianMessage}
	}
	id := res.Match.TechnicianID
	d := res.Match.RoundedDistance()
	return DispatchResponse{Assigned: true, TechnicianID: &id, DistanceKm: &d, Request: res.Request}
}

func NewPreviewResponse(res dispatch.Result) DispatchResponse {
	id := res.TechnicianID
	d := res.RoundedDistance()
	return DispatchResponse{Assigned: false, TechnicianID: &id, DistanceKm: &d}
}

type CreateRequestResponse struct {
	RequestResponse
	Dispatch *DispatchResponse `json:"dispatch,omitempty"`
}

type AuditTrailResponse struct {
	RequestID uuid.UUID       `json:"request_id"`
	Records   []*audit.Record `json:"records"`
}

type ListResponse[T any] struct {
	Items  []T `json:"items"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}
