package sla

import (
	"time"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
)

type State string

const (
	StatePending  State = "pending"
	StateMet      State = "met"
	StateBreached State = "breached"
)

type Report struct {
	Accept   State `json:"accept"`
	Arrive   State `json:"arrive"`
	Complete State `json:"complete"`
}

// Evaluate compares a request's milestones with its deadlines at now. Arrival
// is the first move to in-progress. A request closed without completion leaves
// the open deadlines pending forever.
func Evaluate(r *request.Request, now time.Time) Report {
	closed := r.ClosedAt != nil && r.CompletedAt == nil
	return Report{
		Accept:   state(r.SLAAcceptDue, r.AcceptedAt, now, closed),
		Arrive:   state(r.SLAArriveDue, r.StartedAt, now, closed),
		Complete: state(r.SLACompleteDue, r.CompletedAt, now, closed),
	}
}

func state(due time.Time, reached *time.Time, now time.Time, closed bool) State {
	if due.IsZero() {
		return StatePending
	}
	if reached != nil {
		if reached.After(due) {
			return StateBreached
		}
		return StateMet
	}
	if closed {
		return StatePending
	}
	if now.After(due) {
		return StateBreached
	}
	return StatePending
}
