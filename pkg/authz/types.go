package authz

import (
	"strings"
)

const (
	rolePrefix       = "role"
	objectSeparator  = ":"
	subjectSeparator = ":"
	defaultAction    = "*"
)

// Request encapsulates all parameters required to evaluate a Casbin rule.
type Request struct {
	Subject string
	Object  string
	Action  string
}

func NewRequest(subject, object, action string) Request {
	return Request{
		Subject: subject,
		Object:  object,
		Action:  NormalizeAction(action),
	}
}

// SubjectForRole returns the canonical identifier for a role-based subject,
// e.g. "role:dispatcher".
func SubjectForRole(roleSlug string) string {
	roleSlug = strings.ToLower(strings.TrimSpace(roleSlug))
	if roleSlug == "" {
		roleSlug = "anonymous"
	}
	if strings.HasPrefix(roleSlug, rolePrefix+subjectSeparator) {
		return roleSlug
	}
	return rolePrefix + subjectSeparator + roleSlug
}

// ObjectName joins a resource and its state, e.g. "request:open".
func ObjectName(resource, state string) string {
	resource = strings.ToLower(strings.TrimSpace(resource))
	state = strings.ToLower(strings.TrimSpace(state))
	if state == "" {
		return resource
	}
	return resource + objectSeparator + state
}

// NormalizeAction returns a normalized action string.
func NormalizeAction(action string) string {
	action = strings.ToLower(strings.TrimSpace(action))
	if action == "" {
		return defaultAction
	}
	return action
}
