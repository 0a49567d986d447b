package lifecycle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
)

func newMachine(t *testing.T) *Machine {
	t.Helper()
	m, err := NewDefaultMachine(nil)
	require.NoError(t, err)
	return m
}

func TestMachine_AllowedEdges(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	cases := []struct {
		from, to request.Status
		role     Role
	}{
		{request.StatusOpen, request.StatusAssigned, RoleDispatcher},
		{request.StatusOpen, request.StatusAssigned, RoleSystem},
		{request.StatusOpen, request.StatusAssigned, RoleManager},
		{request.StatusOpen, request.StatusRejected, RoleDispatcher},
		{request.StatusOpen, request.StatusCancelled, RoleCustomer},
		{request.StatusAssigned, request.StatusInProgress, RoleTechnician},
		{request.StatusAssigned, request.StatusRejected, RoleTechnician},
		{request.StatusAssigned, request.StatusCancelled, RoleCustomer},
		{request.StatusInProgress, request.StatusWaiting, RoleTechnician},
		{request.StatusWaiting, request.StatusInProgress, RoleDispatcher},
		{request.StatusInProgress, request.StatusCompleted, RoleTechnician},
		{request.StatusWaiting, request.StatusCompleted, RoleManager},
	}
	for _, tc := range cases {
		t.Run(request.TransitionLabel(tc.from, tc.to)+"/"+string(tc.role), func(t *testing.T) {
			require.NoError(t, m.CheckTransition(ctx, tc.from, tc.to, tc.role))
		})
	}
}

func TestMachine_Forbidden(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	cases := []struct {
		from, to request.Status
		role     Role
	}{
		{request.StatusOpen, request.StatusAssigned, RoleCustomer},
		{request.StatusOpen, request.StatusAssigned, RoleTechnician},
		{request.StatusOpen, request.StatusRejected, RoleCustomer},
		{request.StatusAssigned, request.StatusInProgress, RoleCustomer},
		{request.StatusInProgress, request.StatusCompleted, RoleDispatcher},
		{request.StatusInProgress, request.StatusCompleted, RoleSystem},
	}
	for _, tc := range cases {
		t.Run(request.TransitionLabel(tc.from, tc.to)+"/"+string(tc.role), func(t *testing.T) {
			err := m.CheckTransition(ctx, tc.from, tc.to, tc.role)
			require.ErrorIs(t, err, ErrForbidden)
		})
	}
}

func TestMachine_InvalidTransitions(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	// Unknown edges fail regardless of role.
	require.ErrorIs(t, m.CheckTransition(ctx, request.StatusOpen, request.StatusCompleted, RoleManager), ErrInvalidTransition)
	require.ErrorIs(t, m.CheckTransition(ctx, request.StatusOpen, request.StatusInProgress, RoleManager), ErrInvalidTransition)
	require.ErrorIs(t, m.CheckTransition(ctx, request.StatusInProgress, request.StatusCancelled, RoleManager), ErrInvalidTransition)
	require.ErrorIs(t, m.CheckTransition(ctx, request.StatusOpen, request.Status("archived"), RoleManager), ErrInvalidTransition)

	for _, terminal := range []request.Status{request.StatusCompleted, request.StatusRejected, request.StatusCancelled} {
		for _, target := range []request.Status{request.StatusOpen, request.StatusAssigned, request.StatusCancelled} {
			for _, role := range Roles {
				require.ErrorIs(t, m.CheckTransition(ctx, terminal, target, role), ErrInvalidTransition)
			}
		}
	}
}

func TestMachine_CheckAction(t *testing.T) {
	m := newMachine(t)
	ctx := context.Background()

	require.NoError(t, m.CheckAction(ctx, request.StatusAssigned, ActionReprioritize, RoleDispatcher))
	require.NoError(t, m.CheckAction(ctx, request.StatusWaiting, ActionReprioritize, RoleManager))
	require.ErrorIs(t, m.CheckAction(ctx, request.StatusOpen, ActionReprioritize, RoleCustomer), ErrForbidden)

	require.NoError(t, m.CheckAction(ctx, request.StatusOpen, ActionUpdateDetails, RoleCustomer))
	require.ErrorIs(t, m.CheckAction(ctx, request.StatusAssigned, ActionUpdateDetails, RoleCustomer), ErrForbidden)

	require.ErrorIs(t, m.CheckAction(ctx, request.StatusCompleted, ActionReprioritize, RoleManager), ErrInvalidTransition)
}

func TestTargetsAndParseRole(t *testing.T) {
	require.ElementsMatch(t,
		[]request.Status{request.StatusWaiting, request.StatusCompleted},
		Targets(request.StatusInProgress))
	require.Empty(t, Targets(request.StatusCancelled))

	r, err := ParseRole(" Technician ")
	require.NoError(t, err)
	require.Equal(t, RoleTechnician, r)
	_, err = ParseRole("vendor")
	require.Error(t, err)
}
