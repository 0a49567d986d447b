package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/composables"
)

// mutation describes one versioned change. Exactly one of target and action
// is set.
type mutation struct {
	operation audit.Operation
	target    request.Status
	action    lifecycle.Action
	// expectedVersion of zero accepts the version read inside the transaction.
	expectedVersion int64
	apply           func(ctx context.Context, cur, next *request.Request) error
	topic           string
	assignment      *events.AssignmentV1
}

func (m *mutation) label() string {
	if m.target != "" {
		return string(m.target)
	}
	return string(m.action)
}

// commit reads the request, validates the mutation, applies it and writes the
// next version, its audit record and its event in one transaction. Checks run
// in a fixed order: existence, terminal status, version, edge, then role.
func (s *RequestService) commit(ctx context.Context, actor Actor, id uuid.UUID, m *mutation) (*request.Request, error) {
	var (
		from request.Status
		next *request.Request
	)
	err := s.repos.Tx.InTx(ctx, func(txCtx context.Context) error {
		cur, err := s.repos.Requests.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		from = cur.Status

		// A terminal request rejects every mutation whatever the version;
		// the machine reports that below.
		if !cur.Status.IsTerminal() && m.expectedVersion != 0 && cur.Version != m.expectedVersion {
			return request.ErrStaleVersion
		}
		if m.target != "" {
			err = s.machine.CheckTransition(txCtx, cur.Status, m.target, actor.Role)
		} else {
			err = s.machine.CheckAction(txCtx, cur.Status, m.action, actor.Role)
		}
		if err != nil {
			return err
		}

		next = cur.Clone()
		if err := m.apply(txCtx, cur, next); err != nil {
			return err
		}
		now := s.clock()
		next.Version = cur.Version + 1
		next.UpdatedAt = now

		if err := s.repos.Requests.CompareAndSwap(txCtx, next, cur.Version); err != nil {
			return err
		}

		entry := audit.Entry{
			RequestID: next.ID,
			Version:   next.Version,
			Operation: m.operation,
			Old:       cur,
			New:       next,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			At:        now,
		}
		if m.target != "" {
			entry.Transition = request.TransitionLabel(cur.Status, next.Status)
		}
		rec, err := audit.NewRecord(entry)
		if err != nil {
			return err
		}
		if err := s.repos.Audit.Append(txCtx, rec); err != nil {
			return err
		}
		return s.emit(txCtx, m.topic, actor, cur, next, m.assignment)
	})

	fields := logrus.Fields{
		"request_id": id,
		"operation":  m.operation,
		"from":       from,
		"to":         m.label(),
		"actor_role": actor.Role,
	}
	if err != nil {
		recordTransition(string(from), m.label(), "rejected")
		err = mapError(err)
		logRejected(ctx, "maintenance.transition.rejected", err, fields)
		return nil, err
	}

	recordTransition(string(from), m.label(), "accepted")
	fields["version"] = next.Version
	logWithFields(ctx, logrus.InfoLevel, "maintenance.transition.accepted", fields)
	return next, nil
}

func (s *RequestService) emit(ctx context.Context, topic string, actor Actor, old, next *request.Request, assignment *events.AssignmentV1) error {
	if s.sink == nil {
		return nil
	}
	newValues, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal event values: %w", err)
	}
	ev := events.RequestEventV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		Topic:           topic,
		RequestID:       composables.UseRequestID(ctx),
		TransactionTime: next.UpdatedAt,
		ActorID:         actor.ID,
		ActorRole:       string(actor.Role),
		EntityID:        next.ID,
		EntityVersion:   next.Version,
		CompanyID:       next.CompanyID,
		ToStatus:        string(next.Status),
		Assignment:      assignment,
		NewValues:       newValues,
	}
	if old != nil {
		ev.FromStatus = string(old.Status)
		if ev.OldValues, err = json.Marshal(old); err != nil {
			return fmt.Errorf("marshal event values: %w", err)
		}
	}
	return s.sink.Enqueue(ctx, ev)
}
