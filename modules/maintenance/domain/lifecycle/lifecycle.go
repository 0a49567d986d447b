package lifecycle

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/authz"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

//go:embed access_model.conf
var ModelText string

//go:embed access_policy.csv
var PolicyText string

var (
	ErrInvalidTransition = serrors.NewError("MAINT_INVALID_TRANSITION", "transition is not allowed from the current status", "Maintenance.Errors.InvalidTransition")
	ErrForbidden         = serrors.NewError("MAINT_FORBIDDEN", "role is not permitted to perform this action", "Maintenance.Errors.Forbidden")
)

type Role string

const (
	RoleCustomer   Role = "customer"
	RoleDispatcher Role = "dispatcher"
	RoleTechnician Role = "technician"
	RoleManager    Role = "manager"
	RoleSystem     Role = "system"
)

var Roles = []Role{RoleCustomer, RoleDispatcher, RoleTechnician, RoleManager, RoleSystem}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Action names a same-status mutation gated by the role matrix.
type Action string

const (
	ActionReprioritize  Action = "reprioritize"
	ActionUpdateDetails Action = "update_details"
)

var edges = map[request.Status][]request.Status{
	request.StatusOpen:       {request.StatusAssigned, request.StatusRejected, request.StatusCancelled},
	request.StatusAssigned:   {request.StatusInProgress, request.StatusRejected, request.StatusCancelled},
	request.StatusInProgress: {request.StatusWaiting, request.StatusCompleted},
	request.StatusWaiting:    {request.StatusInProgress, request.StatusCompleted},
}

// Targets lists the statuses reachable from from in one step.
func Targets(from request.Status) []request.Status {
	out := make([]request.Status, len(edges[from]))
	copy(out, edges[from])
	return out
}

func HasEdge(from, to request.Status) bool {
	for _, t := range edges[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Machine validates edges against the fixed graph and roles against the
// casbin matrix.
type Machine struct {
	authz *authz.Service
}

func NewMachine(svc *authz.Service) *Machine {
	return &Machine{authz: svc}
}

// NewDefaultMachine builds a Machine over the embedded role matrix in enforce mode.
func NewDefaultMachine(logger *logrus.Logger) (*Machine, error) {
	svc, err := authz.NewService(authz.Config{
		ModelText:  ModelText,
		PolicyText: PolicyText,
		FlagMode:   authz.ModeEnforce,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	return NewMachine(svc), nil
}

// CheckTransition validates from→to for role. Terminal sources and unknown
// edges fail with ErrInvalidTransition before the role is looked at.
func (m *Machine) CheckTransition(ctx context.Context, from, to request.Status, role Role) error {
	if from.IsTerminal() {
		return invalidTransition(from, to, "status is terminal")
	}
	if !to.Valid() {
		return invalidTransition(from, to, "unknown target status")
	}
	if !HasEdge(from, to) {
		return invalidTransition(from, to, "edge not in lifecycle graph")
	}
	return m.authorize(ctx, role, from, string(to))
}

// CheckAction validates a same-status mutation such as reprioritize.
func (m *Machine) CheckAction(ctx context.Context, status request.Status, action Action, role Role) error {
	if status.IsTerminal() {
		return ErrInvalidTransition.WithTemplateData(map[string]string{
			"from":   string(status),
			"action": string(action),
			"reason": "status is terminal",
		})
	}
	return m.authorize(ctx, role, status, string(action))
}

func (m *Machine) authorize(ctx context.Context, role Role, status request.Status, action string) error {
	req := authz.NewRequest(authz.SubjectForRole(string(role)), authz.ObjectName("request", string(status)), action)
	if err := m.authz.Authorize(ctx, req); err != nil {
		if errors.Is(err, authz.ErrForbidden) {
			return ErrForbidden.WithTemplateData(map[string]string{
				"role":   string(role),
				"from":   string(status),
				"action": action,
			})
		}
		return err
	}
	return nil
}

func invalidTransition(from, to request.Status, reason string) error {
	return ErrInvalidTransition.WithTemplateData(map[string]string{
		"from":   string(from),
		"to":     string(to),
		"reason": reason,
	})
}
