package request

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusWaiting    Status = "waiting"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

var statusLabels = map[Status]string{
	StatusOpen:       "Open",
	StatusAssigned:   "Assigned",
	StatusInProgress: "InProgress",
	StatusWaiting:    "Waiting",
	StatusCompleted:  "Completed",
	StatusRejected:   "Rejected",
	StatusCancelled:  "Cancelled",
}

func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := statusLabels[st]; !ok {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

func (s Status) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

// Label is the display form used in audit transitions, e.g. "InProgress".
func (s Status) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether a request in this status holds a technician slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusAssigned, StatusInProgress, StatusWaiting:
		return true
	default:
		return false
	}
}

// TransitionLabel renders an edge the way audit records store it: "Open→Assigned".
func TransitionLabel(from, to Status) string {
	return from.Label() + "→" + to.Label()
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Priorities lists every priority from most to least severe.
var Priorities = []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}

func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

func (p Priority) Valid() bool {
	return p.Severity() > 0
}

// Severity orders priorities; higher is more urgent, zero means unknown.
func (p Priority) Severity() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityUrgent:
		return 4
	default:
		return 0
	}
}

// NormalizeCategory folds a category into its lookup form. Empty means "no category".
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
