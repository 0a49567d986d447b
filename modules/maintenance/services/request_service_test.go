package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/infrastructure/memory"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

var (
	t0         = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	dispatcher = Actor{ID: "disp-1", Role: lifecycle.RoleDispatcher}
	customer   = Actor{ID: "cust-1", Role: lifecycle.RoleCustomer}
	tech       = Actor{ID: "tech-1", Role: lifecycle.RoleTechnician}
	manager    = Actor{ID: "mgr-1", Role: lifecycle.RoleManager}
)

type fixture struct {
	svc   *RequestService
	store *memory.Store
	bus   eventbus.EventBusWithError
	repos Repositories
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWith(t, sla.DefaultTable(), nil, opts...)
}

// newFixtureWith lets a test swap the technician repository.
func newFixtureWith(t *testing.T, table *sla.Table, wrapTechs func(technician.Repository) technician.Repository, opts ...Option) *fixture {
	t.Helper()
	machine, err := lifecycle.NewDefaultMachine(nil)
	require.NoError(t, err)

	bus := eventbus.NewEventPublisher(logging.Nop().Logger)
	store := memory.New(memory.WithEventBus(bus))
	repos := Repositories{
		Requests:    store.Requests(),
		Technicians: store.Technicians(),
		Audit:       store.Audit(),
		Tx:          store,
	}
	if wrapTechs != nil {
		repos.Technicians = wrapTechs(repos.Technicians)
	}
	base := []Option{WithEventSink(store.Events()), WithClock(func() time.Time { return t0 })}
	svc := NewRequestService(repos, machine, table, append(base, opts...)...)
	return &fixture{svc: svc, store: store, bus: bus, repos: repos}
}

func (f *fixture) create(t *testing.T, priority request.Priority, loc *request.Location) *request.Request {
	t.Helper()
	req, err := f.svc.CreateRequest(context.Background(), customer, CreateRequestCommand{
		CompanyID:   uuid.New(),
		BranchID:    uuid.New(),
		CustomerID:  uuid.New(),
		Priority:    priority,
		Description: "leaking pipe under the sink",
		Location:    loc,
	})
	require.NoError(t, err)
	return req
}

func (f *fixture) technician(t *testing.T, lat, lng, rating float64, capacity int, specs ...string) *technician.Technician {
	t.Helper()
	tt, err := f.svc.RegisterTechnician(context.Background(), RegisterTechnicianCommand{
		Name:              "tech",
		Latitude:          lat,
		Longitude:         lng,
		Specializations:   specs,
		IsActive:          true,
		IsAvailable:       true,
		Rating:            rating,
		MaxConcurrentJobs: capacity,
	})
	require.NoError(t, err)
	return tt
}

func requireServiceError(t *testing.T, err error, status int, code string) {
	t.Helper()
	var svcErr *ServiceError
	require.True(t, errors.As(err, &svcErr), "expected ServiceError, got %T: %v", err, err)
	require.Equal(t, status, svcErr.Status)
	require.Equal(t, code, svcErr.Code)
}

func TestCreateAndAssign_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := f.create(t, request.PriorityHigh, nil)
	require.Equal(t, request.StatusOpen, req.Status)
	require.Equal(t, int64(1), req.Version)
	require.Equal(t, t0.Add(30*time.Minute), req.SLAAcceptDue)
	require.Equal(t, t0.Add(120*time.Minute), req.SLAArriveDue)
	require.Equal(t, t0.Add(1440*time.Minute), req.SLACompleteDue)

	worker := f.technician(t, 30.0, 31.0, 4.5, 2)
	next, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{
		RequestID:       req.ID,
		Target:          request.StatusAssigned,
		ExpectedVersion: 1,
		TechnicianID:    &worker.ID,
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), next.Version)
	require.Equal(t, request.StatusAssigned, next.Status)
	require.Equal(t, worker.ID, *next.AssignedTechnicianID)
	require.NotNil(t, next.AcceptedAt)

	trail, err := f.svc.GetAuditTrail(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, audit.OperationCreate, trail[0].Operation)
	require.Equal(t, "Open→Assigned", trail[1].Transition)
	require.Equal(t, int64(2), trail[1].Version)

	_, err = f.svc.Transition(ctx, dispatcher, TransitionCommand{
		RequestID:       req.ID,
		Target:          request.StatusAssigned,
		ExpectedVersion: 1,
		TechnicianID:    &worker.ID,
	})
	require.ErrorIs(t, err, request.ErrStaleVersion)
	requireServiceError(t, err, http.StatusConflict, "MAINT_STALE_VERSION")

	_, err = f.svc.Transition(ctx, dispatcher, TransitionCommand{
		RequestID:       req.ID,
		Target:          request.StatusCancelled,
		ExpectedVersion: 1,
	})
	require.ErrorIs(t, err, request.ErrStaleVersion)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
}

func TestCreateRequest_PolicyNotFoundWritesNothing(t *testing.T) {
	table, err := sla.NewTable([]sla.Policy{
		{Priority: request.PriorityHigh, AcceptWithinMin: 30, ArriveWithinMin: 120, CompleteWithinMin: 1440},
	})
	require.NoError(t, err)
	f := newFixtureWith(t, table, nil)

	_, err = f.svc.CreateRequest(context.Background(), customer, CreateRequestCommand{
		CompanyID:   uuid.New(),
		BranchID:    uuid.New(),
		CustomerID:  uuid.New(),
		Priority:    request.PriorityLow,
		Description: "broken window",
	})
	require.ErrorIs(t, err, sla.ErrPolicyNotFound)
	requireServiceError(t, err, http.StatusInternalServerError, "MAINT_SLA_POLICY_NOT_FOUND")

	items, err := f.svc.ListRequests(context.Background(), request.FindParams{})
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestCreateRequest_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]CreateRequestCommand{
		"missing description": {CompanyID: uuid.New(), BranchID: uuid.New(), CustomerID: uuid.New(), Priority: request.PriorityLow},
		"unknown priority":    {CompanyID: uuid.New(), BranchID: uuid.New(), CustomerID: uuid.New(), Priority: "critical", Description: "x"},
		"missing company":     {BranchID: uuid.New(), CustomerID: uuid.New(), Priority: request.PriorityLow, Description: "x"},
		"latitude out of range": {
			CompanyID: uuid.New(), BranchID: uuid.New(), CustomerID: uuid.New(),
			Priority: request.PriorityLow, Description: "x", Location: &request.Location{Latitude: 91},
		},
	}
	for name, cmd := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.CreateRequest(context.Background(), customer, cmd)
			require.ErrorIs(t, err, serrors.ErrValidation)
			requireServiceError(t, err, http.StatusBadRequest, "MAINT_INVALID_BODY")
		})
	}
}

func TestCreateRequest_CategoryFallsBackToPriorityDefault(t *testing.T) {
	table, err := sla.NewTable([]sla.Policy{
		{Priority: request.PriorityMedium, AcceptWithinMin: 60, ArriveWithinMin: 240, CompleteWithinMin: 2880},
		{Priority: request.PriorityMedium, Category: "electrical", AcceptWithinMin: 20, ArriveWithinMin: 90, CompleteWithinMin: 600},
	})
	require.NoError(t, err)
	f := newFixtureWith(t, table, nil)

	mk := func(category string) *request.Request {
		req, err := f.svc.CreateRequest(context.Background(), customer, CreateRequestCommand{
			CompanyID: uuid.New(), BranchID: uuid.New(), CustomerID: uuid.New(),
			Priority: request.PriorityMedium, Category: category, Description: "no power",
		})
		require.NoError(t, err)
		return req
	}

	require.Equal(t, t0.Add(20*time.Minute), mk(" Electrical ").SLAAcceptDue)
	require.Equal(t, t0.Add(60*time.Minute), mk("plumbing").SLAAcceptDue)
}

func TestTransition_CheckOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("unknown edge is invalid", func(t *testing.T) {
		req := f.create(t, request.PriorityLow, nil)
		_, err := f.svc.Transition(ctx, manager, TransitionCommand{RequestID: req.ID, Target: request.StatusCompleted, ExpectedVersion: 1})
		require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
		requireServiceError(t, err, http.StatusConflict, "MAINT_INVALID_TRANSITION")
	})

	t.Run("version is checked before edge and role", func(t *testing.T) {
		req := f.create(t, request.PriorityLow, nil)
		_, err := f.svc.Transition(ctx, customer, TransitionCommand{RequestID: req.ID, Target: request.StatusRejected, ExpectedVersion: 7})
		require.ErrorIs(t, err, request.ErrStaleVersion)
		_, err = f.svc.Transition(ctx, manager, TransitionCommand{RequestID: req.ID, Target: request.StatusCompleted, ExpectedVersion: 7})
		require.ErrorIs(t, err, request.ErrStaleVersion)
	})

	t.Run("role is checked on the current version", func(t *testing.T) {
		req := f.create(t, request.PriorityLow, nil)
		_, err := f.svc.Transition(ctx, customer, TransitionCommand{RequestID: req.ID, Target: request.StatusRejected, ExpectedVersion: 1})
		require.ErrorIs(t, err, lifecycle.ErrForbidden)
		requireServiceError(t, err, http.StatusForbidden, "MAINT_FORBIDDEN")
	})

	t.Run("terminal wins over version", func(t *testing.T) {
		req := f.create(t, request.PriorityLow, nil)
		_, err := f.svc.Transition(ctx, customer, TransitionCommand{RequestID: req.ID, Target: request.StatusCancelled, ExpectedVersion: 1})
		require.NoError(t, err)
		_, err = f.svc.Transition(ctx, dispatcher, TransitionCommand{RequestID: req.ID, Target: request.StatusAssigned, ExpectedVersion: 1})
		require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	})

	t.Run("unknown request", func(t *testing.T) {
		_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{RequestID: uuid.New(), Target: request.StatusRejected, ExpectedVersion: 1})
		require.ErrorIs(t, err, request.ErrNotFound)
		requireServiceError(t, err, http.StatusNotFound, "MAINT_NOT_FOUND")
	})

	t.Run("assigned needs a technician", func(t *testing.T) {
		req := f.create(t, request.PriorityLow, nil)
		_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{RequestID: req.ID, Target: request.StatusAssigned, ExpectedVersion: 1})
		require.ErrorIs(t, err, serrors.ErrValidation)
		got, err := f.svc.GetRequest(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, int64(1), got.Version)
	})
}

func TestTransition_FullLifecycleKeepsVersionAndAuditInStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, request.PriorityUrgent, nil)
	worker := f.technician(t, 0, 0, 5, 1)

	steps := []struct {
		actor  Actor
		target request.Status
	}{
		{dispatcher, request.StatusAssigned},
		{tech, request.StatusInProgress},
		{tech, request.StatusWaiting},
		{dispatcher, request.StatusInProgress},
		{tech, request.StatusCompleted},
	}
	version := req.Version
	for _, step := range steps {
		next, err := f.svc.Transition(ctx, step.actor, TransitionCommand{
			RequestID:       req.ID,
			Target:          step.target,
			ExpectedVersion: version,
			TechnicianID:    &worker.ID,
		})
		require.NoError(t, err, "to %s", step.target)
		require.Equal(t, version+1, next.Version)
		version = next.Version
	}

	trail, err := f.svc.GetAuditTrail(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, trail, int(version))
	for i, rec := range trail {
		require.Equal(t, int64(i+1), rec.Version)
	}

	final, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)
	require.NotNil(t, final.ClosedAt)
	require.Equal(t, sla.StateMet, f.svc.EvaluateSLA(final).Complete)

	for _, target := range []request.Status{
		request.StatusOpen, request.StatusAssigned, request.StatusInProgress,
		request.StatusWaiting, request.StatusRejected, request.StatusCancelled,
	} {
		_, err := f.svc.Transition(ctx, manager, TransitionCommand{RequestID: req.ID, Target: target, ExpectedVersion: version})
		require.ErrorIs(t, err, lifecycle.ErrInvalidTransition, "to %s", target)
	}
	_, err = f.svc.Reprioritize(ctx, manager, ReprioritizeCommand{RequestID: req.ID, ExpectedVersion: version, Priority: request.PriorityLow})
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)

	replayed, err := f.svc.ReplayAuditTrail(ctx, req.ID)
	require.NoError(t, err)
	current, err := json.Marshal(final)
	require.NoError(t, err)
	require.JSONEq(t, string(current), string(replayed))

	stored, err := f.svc.GetTechnician(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, 0, stored.ActiveJobCount)
}

func TestReprioritize_ConcurrentSameVersionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, request.PriorityLow, nil)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		stale   int
		unknown []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Reprioritize(ctx, dispatcher, ReprioritizeCommand{
				RequestID:       req.ID,
				ExpectedVersion: 1,
				Priority:        request.PriorityUrgent,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, request.ErrStaleVersion):
				stale++
			default:
				unknown = append(unknown, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, unknown)
	require.Equal(t, 1, wins)
	require.Equal(t, n-1, stale)

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	trail, err := f.svc.GetAuditTrail(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
}

func TestTransition_ConcurrentAssignReservesOneSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, request.PriorityMedium, nil)
	worker := f.technician(t, 0, 0, 4, 5)

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		stale  int
		others []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{
				RequestID:       req.ID,
				Target:          request.StatusAssigned,
				ExpectedVersion: 1,
				TechnicianID:    &worker.ID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, request.ErrStaleVersion):
				stale++
			default:
				others = append(others, err)
			}
		}()
	}
	wg.Wait()

	require.Empty(t, others)
	require.Equal(t, 1, wins)
	require.Equal(t, n-1, stale)
	stored, err := f.svc.GetTechnician(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, 1, stored.ActiveJobCount)
}

func TestTransition_TechnicianCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.technician(t, 0, 0, 4, 1)
	first := f.create(t, request.PriorityHigh, nil)
	second := f.create(t, request.PriorityHigh, nil)

	assign := func(id uuid.UUID, version int64) error {
		_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{
			RequestID: id, Target: request.StatusAssigned, ExpectedVersion: version, TechnicianID: &worker.ID,
		})
		return err
	}

	require.NoError(t, assign(first.ID, 1))
	err := assign(second.ID, 1)
	require.ErrorIs(t, err, technician.ErrNoCapacity)
	requireServiceError(t, err, http.StatusConflict, "MAINT_TECHNICIAN_UNAVAILABLE")

	got, err := f.svc.GetRequest(ctx, second.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.Version)

	_, err = f.svc.Transition(ctx, tech, TransitionCommand{RequestID: first.ID, Target: request.StatusRejected, ExpectedVersion: 2})
	require.NoError(t, err)
	require.NoError(t, assign(second.ID, 1))
}

func TestTransition_ClassificationChangeNeedsReprioritize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.create(t, request.PriorityUrgent, nil)
	worker := f.technician(t, 0, 0, 4, 2)
	_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{
		RequestID: req.ID, Target: request.StatusAssigned, ExpectedVersion: 1, TechnicianID: &worker.ID,
	})
	require.NoError(t, err)

	low := request.PriorityLow
	_, err = f.svc.Transition(ctx, tech, TransitionCommand{
		RequestID: req.ID, Target: request.StatusInProgress, ExpectedVersion: 2, Priority: &low,
	})
	require.ErrorIs(t, err, lifecycle.ErrForbidden)
	requireServiceError(t, err, http.StatusForbidden, "MAINT_FORBIDDEN")

	got, err := f.svc.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), got.Version)
	require.Equal(t, request.PriorityUrgent, got.Priority)
	require.Equal(t, req.SLACompleteDue, got.SLACompleteDue)

	urgent := request.PriorityUrgent
	next, err := f.svc.Transition(ctx, tech, TransitionCommand{
		RequestID: req.ID, Target: request.StatusInProgress, ExpectedVersion: 2, Priority: &urgent,
	})
	require.NoError(t, err, "an unchanged priority needs no extra permission")
	require.Equal(t, int64(3), next.Version)

	next, err = f.svc.Transition(ctx, dispatcher, TransitionCommand{
		RequestID: req.ID, Target: request.StatusWaiting, ExpectedVersion: 3, Priority: &low,
	})
	require.NoError(t, err)
	require.Equal(t, request.PriorityLow, next.Priority)
}

func TestCheckTechnicianCapacity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	worker := f.technician(t, 0, 0, 4, 3)
	req := f.create(t, request.PriorityHigh, nil)
	_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{
		RequestID: req.ID, Target: request.StatusAssigned, ExpectedVersion: 1, TechnicianID: &worker.ID,
	})
	require.NoError(t, err)

	report, err := f.svc.CheckTechnicianCapacity(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, 1, report.ActiveJobCount)
	require.Equal(t, 1, report.HeldByRequests)
	require.Equal(t, 3, report.MaxConcurrentJobs)
	require.True(t, report.Consistent)

	require.NoError(t, f.repos.Technicians.ReserveSlot(ctx, worker.ID))
	report, err = f.svc.CheckTechnicianCapacity(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, 2, report.ActiveJobCount)
	require.Equal(t, 1, report.HeldByRequests)
	require.False(t, report.Consistent)

	_, err = f.svc.Transition(ctx, tech, TransitionCommand{RequestID: req.ID, Target: request.StatusRejected, ExpectedVersion: 2})
	require.NoError(t, err)
	report, err = f.svc.CheckTechnicianCapacity(ctx, worker.ID)
	require.NoError(t, err)
	require.Equal(t, 0, report.HeldByRequests)

	_, err = f.svc.CheckTechnicianCapacity(ctx, uuid.New())
	require.ErrorIs(t, err, technician.ErrNotFound)
}

func TestReprioritize_RecomputesFromCreatedAt(t *testing.T) {
	later := t0.Add(3 * time.Hour)
	clock := t0
	f := newFixture(t, WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	req := f.create(t, request.PriorityLow, nil)

	clock = later
	_, err := f.svc.Reprioritize(ctx, customer, ReprioritizeCommand{RequestID: req.ID, ExpectedVersion: 1, Priority: request.PriorityUrgent})
	require.ErrorIs(t, err, lifecycle.ErrForbidden)

	next, err := f.svc.Reprioritize(ctx, dispatcher, ReprioritizeCommand{RequestID: req.ID, ExpectedVersion: 1, Priority: request.PriorityUrgent})
	require.NoError(t, err)
	require.Equal(t, request.PriorityUrgent, next.Priority)
	require.Equal(t, request.StatusOpen, next.Status)
	require.Equal(t, t0.Add(15*time.Minute), next.SLAAcceptDue)
	require.Equal(t, t0.Add(240*time.Minute), next.SLACompleteDue)
	require.Equal(t, later, next.UpdatedAt)

	desc := "water everywhere"
	edited, err := f.svc.UpdateDetails(ctx, customer, UpdateDetailsCommand{RequestID: req.ID, ExpectedVersion: 2, Description: &desc})
	require.NoError(t, err)
	require.Equal(t, desc, edited.Description)
	require.Equal(t, next.SLAAcceptDue, edited.SLAAcceptDue)
	require.Equal(t, int64(3), edited.Version)

	trail, err := f.svc.GetAuditTrail(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, audit.OperationReprioritize, trail[1].Operation)
	require.Empty(t, trail[1].Transition)
	require.Equal(t, audit.OperationUpdateDetails, trail[2].Operation)
}

func TestGetAuditTrail_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetAuditTrail(context.Background(), uuid.New())
	require.ErrorIs(t, err, request.ErrNotFound)
}

func TestEvents_PublishedOnCommit(t *testing.T) {
	f := newFixture(t)
	var (
		mu     sync.Mutex
		topics []string
		last   *events.RequestEventV1
	)
	f.bus.Subscribe(func(meta *outbox.Meta, ev *events.RequestEventV1) error {
		mu.Lock()
		defer mu.Unlock()
		topics = append(topics, meta.Topic)
		last = ev
		return nil
	})

	worker := f.technician(t, 30.05, 31.24, 4, 1)
	req := f.create(t, request.PriorityHigh, &request.Location{Latitude: 30.04, Longitude: 31.23})
	_, err := f.svc.Dispatch(context.Background(), SystemActor, DispatchCommand{RequestID: req.ID})
	require.NoError(t, err)

	// A rejected transition emits nothing.
	_, err = f.svc.Transition(context.Background(), customer, TransitionCommand{RequestID: req.ID, Target: request.StatusCompleted, ExpectedVersion: 2})
	require.Error(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{events.TopicRequestCreatedV1, events.TopicRequestAssignedV1}, topics)
	require.NotNil(t, last.Assignment)
	require.Equal(t, worker.ID, last.Assignment.TechnicianID)
	require.NotNil(t, last.Assignment.DistanceKm)
	require.Equal(t, "open", last.FromStatus)
	require.Equal(t, "assigned", last.ToStatus)
	require.Equal(t, int64(2), last.EntityVersion)
}

func TestRetryOnStale(t *testing.T) {
	policy := RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 2 * time.Millisecond}

	t.Run("retries until success", func(t *testing.T) {
		calls := 0
		err := RetryOnStale(context.Background(), policy, func(context.Context) error {
			calls++
			if calls < 3 {
				return mapError(request.ErrStaleVersion)
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 3, calls)
	})

	t.Run("gives up after the budget", func(t *testing.T) {
		calls := 0
		err := RetryOnStale(context.Background(), policy, func(context.Context) error {
			calls++
			return request.ErrStaleVersion
		})
		require.ErrorIs(t, err, request.ErrStaleVersion)
		require.Equal(t, 3, calls)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		calls := 0
		err := RetryOnStale(context.Background(), policy, func(context.Context) error {
			calls++
			return lifecycle.ErrForbidden
		})
		require.ErrorIs(t, err, lifecycle.ErrForbidden)
		require.Equal(t, 1, calls)
	})

	t.Run("read modify retry against the store", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		req := f.create(t, request.PriorityLow, nil)
		_, err := f.svc.Reprioritize(ctx, dispatcher, ReprioritizeCommand{RequestID: req.ID, ExpectedVersion: 1, Priority: request.PriorityHigh})
		require.NoError(t, err)

		version := int64(1)
		err = RetryOnStale(ctx, policy, func(ctx context.Context) error {
			_, err := f.svc.Transition(ctx, dispatcher, TransitionCommand{RequestID: req.ID, Target: request.StatusRejected, ExpectedVersion: version})
			if errors.Is(err, request.ErrStaleVersion) {
				cur, getErr := f.svc.GetRequest(ctx, req.ID)
				require.NoError(t, getErr)
				version = cur.Version
			}
			return err
		})
		require.NoError(t, err)
	})
}

func TestPreviewDispatch_NoCandidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PreviewDispatch(context.Background(), 30, 31, "")
	require.ErrorIs(t, err, dispatch.ErrNoAvailableTechnician)
}
