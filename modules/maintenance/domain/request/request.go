package request

import (
	"time"

	"github.com/google/uuid"
)

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Request is the materialized current state of a maintenance request. It is
// only ever written through the versioned commit path.
type Request struct {
	ID                   uuid.UUID  `json:"id"`
	CompanyID            uuid.UUID  `json:"company_id"`
	BranchID             uuid.UUID  `json:"branch_id"`
	CustomerID           uuid.UUID  `json:"customer_id"`
	Status               Status     `json:"status"`
	Priority             Priority   `json:"priority"`
	Category             string     `json:"category"`
	Description          string     `json:"description"`
	AssignedTechnicianID *uuid.UUID `json:"assigned_technician_id"`
	Location             *Location  `json:"location"`

	SLAAcceptDue   time.Time `json:"sla_accept_due"`
	SLAArriveDue   time.Time `json:"sla_arrive_due"`
	SLACompleteDue time.Time `json:"sla_complete_due"`

	AcceptedAt  *time.Time `json:"accepted_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	ClosedAt    *time.Time `json:"closed_at"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so a mutation can be staged without touching the
// snapshot it was read from.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	if r.AssignedTechnicianID != nil {
		id := *r.AssignedTechnicianID
		cp.AssignedTechnicianID = &id
	}
	if r.Location != nil {
		loc := *r.Location
		cp.Location = &loc
	}
	cp.AcceptedAt = cloneTime(r.AcceptedAt)
	cp.StartedAt = cloneTime(r.StartedAt)
	cp.CompletedAt = cloneTime(r.CompletedAt)
	cp.ClosedAt = cloneTime(r.ClosedAt)
	return &cp
}

func (r *Request) HasLocation() bool {
	return r.Location != nil
}

// HoldsTechnician reports whether the request currently occupies a slot of its
// assigned technician.
func (r *Request) HoldsTechnician() bool {
	return r.AssignedTechnicianID != nil && r.Status.IsActive()
}

// Advance moves the request to target and stamps the matching milestone.
func (r *Request) Advance(target Status, at time.Time) {
	switch target {
	case StatusAssigned:
		if r.AcceptedAt == nil {
			r.AcceptedAt = &at
		}
	case StatusInProgress:
		if r.StartedAt == nil {
			r.StartedAt = &at
		}
	case StatusCompleted:
		r.CompletedAt = &at
	}
	if target.IsTerminal() {
		r.ClosedAt = &at
	}
	r.Status = target
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
