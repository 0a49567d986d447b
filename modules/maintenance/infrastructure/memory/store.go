// Package memory is an in-process implementation of the maintenance
// repositories. Transactions are serialised by one mutex and work on a cloned
// state that replaces the committed state only when fn succeeds.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/eventbus"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/logging"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/outbox"
)

type state struct {
	requests    map[uuid.UUID]*request.Request
	technicians map[uuid.UUID]*technician.Technician
	audit       map[uuid.UUID][]*audit.Record
}

func newState() state {
	return state{
		requests:    map[uuid.UUID]*request.Request{},
		technicians: map[uuid.UUID]*technician.Technician{},
		audit:       map[uuid.UUID][]*audit.Record{},
	}
}

// clone copies the maps. Stored values are never mutated in place, so
// sharing pointers between the copies is safe.
func (s state) clone() state {
	out := state{
		requests:    make(map[uuid.UUID]*request.Request, len(s.requests)),
		technicians: make(map[uuid.UUID]*technician.Technician, len(s.technicians)),
		audit:       make(map[uuid.UUID][]*audit.Record, len(s.audit)),
	}
	for k, v := range s.requests {
		out.requests[k] = v
	}
	for k, v := range s.technicians {
		out.technicians[k] = v
	}
	for k, v := range s.audit {
		out.audit[k] = v[:len(v):len(v)]
	}
	return out
}

type Store struct {
	mu    sync.Mutex
	state state
	bus   eventbus.EventBusWithError
	log   *logrus.Entry
}

type Option func(*Store)

// WithEventBus publishes committed events as (*outbox.Meta, *events.RequestEventV1).
func WithEventBus(bus eventbus.EventBusWithError) Option {
	return func(s *Store) { s.bus = bus }
}

func WithLogger(log *logrus.Entry) Option {
	return func(s *Store) { s.log = log }
}

func New(opts ...Option) *Store {
	s := &Store{state: newState(), log: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type txKey struct{}

type tx struct {
	store  *Store
	state  state
	events []events.RequestEventV1
}

func (s *Store) txFrom(ctx context.Context) *tx {
	t, ok := ctx.Value(txKey{}).(*tx)
	if !ok || t.store != s {
		return nil
	}
	return t
}

// InTx runs fn with exclusive access to a private copy of the store. Nested
// calls join the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(context.Context) error) error {
	if s.txFrom(ctx) != nil {
		return fn(ctx)
	}

	committed, err := s.run(ctx, fn)
	if err != nil {
		return err
	}
	s.publish(committed)
	return nil
}

// run holds the lock for the whole of fn, including when fn panics, and
// returns the events of a committed transaction.
func (s *Store) run(ctx context.Context, fn func(context.Context) error) ([]events.RequestEventV1, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{store: s, state: s.state.clone()}
	if err := fn(context.WithValue(ctx, txKey{}, t)); err != nil {
		return nil, err
	}
	s.state = t.state
	return t.events, nil
}

// view runs a read against the transaction in ctx, or the committed state.
func (s *Store) view(ctx context.Context, fn func(st *state) error) error {
	if t := s.txFrom(ctx); t != nil {
		return fn(&t.state)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

// update runs a write in the transaction in ctx, or in its own transaction.
func (s *Store) update(ctx context.Context, fn func(t *tx) error) error {
	return s.InTx(ctx, func(ctx context.Context) error {
		return fn(s.txFrom(ctx))
	})
}

func (s *Store) publish(evs []events.RequestEventV1) {
	if s.bus == nil {
		return
	}
	for i := range evs {
		ev := evs[i]
		meta := &outbox.Meta{Topic: ev.Topic, EventID: ev.EventID, AggregateID: ev.EntityID}
		if err := s.bus.PublishE(meta, &ev); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"topic":    ev.Topic,
				"event_id": ev.EventID.String(),
			}).Warn("memory: publish committed event failed")
		}
	}
}

func (s *Store) Requests() request.Repository {
	return &requestRepository{store: s}
}

func (s *Store) Technicians() technician.Repository {
	return &technicianRepository{store: s}
}

func (s *Store) Audit() audit.Repository {
	return &auditRepository{store: s}
}

// Events buffers events on the current transaction.
func (s *Store) Events() *EventSink {
	return &EventSink{store: s}
}

type EventSink struct {
	store *Store
}

func (e *EventSink) Enqueue(ctx context.Context, ev events.RequestEventV1) error {
	return e.store.update(ctx, func(t *tx) error {
		t.events = append(t.events, ev)
		return nil
	})
}
