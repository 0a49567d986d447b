package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

func newRequest() *request.Request {
	now := time.Now().UTC()
	return &request.Request{
		ID:        uuid.New(),
		Status:    request.StatusOpen,
		Priority:  request.PriorityMedium,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_InTx_RollbackDiscardsWrites(t *testing.T) {
	store := New()
	ctx := context.Background()
	req := newRequest()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Requests().Insert(ctx, req))
		got, err := store.Requests().GetByID(ctx, req.ID)
		require.NoError(t, err)
		require.Equal(t, req.ID, got.ID)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Requests().GetByID(ctx, req.ID)
	require.ErrorIs(t, err, request.ErrNotFound)
}

func TestStore_InTx_PanicReleasesLock(t *testing.T) {
	store := New()
	ctx := context.Background()
	req := newRequest()

	require.Panics(t, func() {
		_ = store.InTx(ctx, func(ctx context.Context) error {
			require.NoError(t, store.Requests().Insert(ctx, req))
			panic("boom")
		})
	})

	_, err := store.Requests().GetByID(ctx, req.ID)
	require.ErrorIs(t, err, request.ErrNotFound)

	done := make(chan error, 1)
	go func() {
		done <- store.InTx(ctx, func(ctx context.Context) error {
			return store.Requests().Insert(ctx, req)
		})
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("store stayed locked after a panic")
	}
	got, err := store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, req.ID, got.ID)
}

func TestStore_InTx_NestedJoinsOuter(t *testing.T) {
	store := New()
	ctx := context.Background()
	req := newRequest()

	err := store.InTx(ctx, func(ctx context.Context) error {
		return store.InTx(ctx, func(ctx context.Context) error {
			return store.Requests().Insert(ctx, req)
		})
	})
	require.NoError(t, err)

	_, err = store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
}

func TestRequestRepository_CompareAndSwap(t *testing.T) {
	store := New()
	ctx := context.Background()
	req := newRequest()
	require.NoError(t, store.Requests().Insert(ctx, req))

	next := req.Clone()
	next.Status = request.StatusAssigned
	next.Version = 2
	require.NoError(t, store.Requests().CompareAndSwap(ctx, next, 1))

	again := req.Clone()
	again.Status = request.StatusCancelled
	again.Version = 2
	require.ErrorIs(t, store.Requests().CompareAndSwap(ctx, again, 1), request.ErrStaleVersion)

	got, err := store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusAssigned, got.Status)
	require.Equal(t, int64(2), got.Version)
}

func TestRequestRepository_ReturnedValuesAreCopies(t *testing.T) {
	store := New()
	ctx := context.Background()
	req := newRequest()
	require.NoError(t, store.Requests().Insert(ctx, req))

	got, err := store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	got.Status = request.StatusCompleted

	again, err := store.Requests().GetByID(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, request.StatusOpen, again.Status)
}

func TestRequestRepository_ListFiltersAndPages(t *testing.T) {
	store := New()
	ctx := context.Background()
	company := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		req := newRequest()
		req.CompanyID = company
		req.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.Requests().Insert(ctx, req))
	}
	require.NoError(t, store.Requests().Insert(ctx, newRequest()))

	page, err := store.Requests().List(ctx, request.FindParams{CompanyID: company, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, base.Add(3*time.Hour), page[0].CreatedAt)
	require.Equal(t, base.Add(2*time.Hour), page[1].CreatedAt)
}

func TestTechnicianRepository_Capacity(t *testing.T) {
	store := New()
	ctx := context.Background()
	tech := &technician.Technician{
		ID:                uuid.New(),
		IsActive:          true,
		IsAvailable:       true,
		MaxConcurrentJobs: 1,
		Specializations:   []string{" Plumbing "},
	}
	require.NoError(t, store.Technicians().Upsert(ctx, tech))

	candidates, err := store.Technicians().ListCandidates(ctx, technician.CandidateFilter{Specialization: "plumbing"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)

	require.NoError(t, store.Technicians().ReserveSlot(ctx, tech.ID))
	require.ErrorIs(t, store.Technicians().ReserveSlot(ctx, tech.ID), technician.ErrNoCapacity)

	candidates, err = store.Technicians().ListCandidates(ctx, technician.CandidateFilter{})
	require.NoError(t, err)
	require.Empty(t, candidates)

	// Re-registering keeps the live job count.
	require.NoError(t, store.Technicians().Upsert(ctx, tech))
	got, err := store.Technicians().GetByID(ctx, tech.ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.ActiveJobCount)

	require.NoError(t, store.Technicians().ReleaseSlot(ctx, tech.ID))
	require.NoError(t, store.Technicians().ReleaseSlot(ctx, tech.ID))
	got, err = store.Technicians().GetByID(ctx, tech.ID)
	require.NoError(t, err)
	require.Zero(t, got.ActiveJobCount)

	require.ErrorIs(t, store.Technicians().ReserveSlot(ctx, uuid.New()), technician.ErrNotFound)
}

func TestAuditRepository_OnlyNextVersion(t *testing.T) {
	store := New()
	ctx := context.Background()
	requestID := uuid.New()

	rec := func(v int64) *audit.Record {
		return &audit.Record{ID: uuid.New(), RequestID: requestID, Version: v}
	}
	require.NoError(t, store.Audit().Append(ctx, rec(1)))
	require.ErrorIs(t, store.Audit().Append(ctx, rec(1)), request.ErrStaleVersion)
	require.ErrorIs(t, store.Audit().Append(ctx, rec(3)), request.ErrStaleVersion)
	require.NoError(t, store.Audit().Append(ctx, rec(2)))

	trail, err := store.Audit().ListByRequest(ctx, requestID)
	require.NoError(t, err)
	require.NoError(t, audit.VerifySequence(trail))
	require.Len(t, trail, 2)
}

func TestEventSink_PublishesOnlyAfterCommit(t *testing.T) {
	bus := eventbus.NewEventPublisher(nil)
	var got []string
	bus.Subscribe(func(meta *outbox.Meta, ev *events.RequestEventV1) error {
		got = append(got, meta.Topic)
		return nil
	})
	store := New(WithEventBus(bus))
	ctx := context.Background()

	_ = store.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Events().Enqueue(ctx, events.RequestEventV1{Topic: events.TopicRequestCreatedV1}))
		return errors.New("rollback")
	})
	require.Empty(t, got)

	err := store.InTx(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Events().Enqueue(ctx, events.RequestEventV1{Topic: events.TopicRequestCreatedV1}))
		require.Empty(t, got)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{events.TopicRequestCreatedV1}, got)
}
