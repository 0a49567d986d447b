package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/lifecycle"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/sla"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

var tracer = otel.Tracer("maintenance-services")

const (
	defaultDispatchAttempts = 3
	defaultSearchRadiusKm   = 50
	defaultCapacity         = 1
)

// RequestService is the only writer of maintenance requests. Every accepted
// mutation goes through commit, which bumps the version by one, appends the
// matching audit record and enqueues an event in a single transaction.
type RequestService struct {
	repos    Repositories
	machine  *lifecycle.Machine
	policies *sla.Table
	sink     EventSink
	locator  dispatch.Locator
	now      func() time.Time

	dispatchAttempts int
	searchRadiusKm   float64
	defaultCapacity  int
}

type Option func(*RequestService)

func WithEventSink(sink EventSink) Option {
	return func(s *RequestService) { s.sink = sink }
}

// WithLocator enables the geo pre-filter for dispatch. Without it every
// eligible technician is scanned.
func WithLocator(l dispatch.Locator) Option {
	return func(s *RequestService) { s.locator = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *RequestService) { s.now = now }
}

func WithDispatchAttempts(n int) Option {
	return func(s *RequestService) {
		if n > 0 {
			s.dispatchAttempts = n
		}
	}
}

func WithSearchRadius(km float64) Option {
	return func(s *RequestService) {
		if km > 0 {
			s.searchRadiusKm = km
		}
	}
}

func WithDefaultCapacity(n int) Option {
	return func(s *RequestService) {
		if n > 0 {
			s.defaultCapacity = n
		}
	}
}

func NewRequestService(repos Repositories, machine *lifecycle.Machine, policies *sla.Table, opts ...Option) *RequestService {
	s := &RequestService{
		repos:            repos,
		machine:          machine,
		policies:         policies,
		now:              time.Now,
		dispatchAttempts: defaultDispatchAttempts,
		searchRadiusKm:   defaultSearchRadiusKm,
		defaultCapacity:  defaultCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RequestService) clock() time.Time {
	return s.now().UTC()
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "maintenance."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil && !errors.Is(err, dispatch.ErrNoAvailableTechnician) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CreateRequest computes the SLA deadlines and stores the request at version 1
// together with its create audit record. A missing SLA policy fails the call
// before anything is written.
func (s *RequestService) CreateRequest(ctx context.Context, actor Actor, cmd CreateRequestCommand) (_ *request.Request, err error) {
	ctx, span := startSpan(ctx, "CreateRequest", attribute.String("maintenance.priority", string(cmd.Priority)))
	defer func() { endSpan(span, err) }()

	cmd.Normalize()
	if err := cmd.Ok(ctx); err != nil {
		return nil, mapError(err)
	}

	now := s.clock()
	deadlines, err := s.deadlines(cmd.Priority, cmd.Category, now)
	if err != nil {
		logRejected(ctx, "maintenance.create.rejected", mapError(err), logrus.Fields{
			"priority": cmd.Priority,
			"category": cmd.Category,
		})
		return nil, mapError(err)
	}

	req := &request.Request{
		ID:          uuid.New(),
		CompanyID:   cmd.CompanyID,
		BranchID:    cmd.BranchID,
		CustomerID:  cmd.CustomerID,
		Status:      request.StatusOpen,
		Priority:    cmd.Priority,
		Category:    cmd.Category,
		Description: cmd.Description,
		Location:    cmd.Location,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	deadlines.Apply(req)

	err = s.repos.Tx.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repos.Requests.Insert(txCtx, req); err != nil {
			return err
		}
		rec, err := audit.NewRecord(audit.Entry{
			RequestID: req.ID,
			Version:   req.Version,
			Operation: audit.OperationCreate,
			New:       req,
			ActorID:   actor.ID,
			ActorRole: string(actor.Role),
			At:        now,
		})
		if err != nil {
			return err
		}
		if err := s.repos.Audit.Append(txCtx, rec); err != nil {
			return err
		}
		return s.emit(txCtx, events.TopicRequestCreatedV1, actor, nil, req, nil)
	})
	if err != nil {
		return nil, mapError(err)
	}

	span.SetAttributes(attribute.String("maintenance.request_id", req.ID.String()))
	logWithFields(ctx, logrus.InfoLevel, "maintenance.request.created", logrus.Fields{
		"request_id":   req.ID,
		"priority":     req.Priority,
		"category":     req.Category,
		"sla_complete": req.SLACompleteDue,
	})
	return req, nil
}

// Transition moves a request along one lifecycle edge. Moving to assigned
// reserves a slot of cmd.TechnicianID; leaving the active set frees the slot
// held by the request. A priority or category change carried by the command
// also needs the reprioritize permission and recomputes all three deadlines
// from created_at.
func (s *RequestService) Transition(ctx context.Context, actor Actor, cmd TransitionCommand) (_ *request.Request, err error) {
	ctx, span := startSpan(ctx, "Transition",
		attribute.String("maintenance.request_id", cmd.RequestID.String()),
		attribute.String("maintenance.target", string(cmd.Target)),
	)
	defer func() { endSpan(span, err) }()

	if err := validate(ctx, cmd); err != nil {
		return nil, mapError(err)
	}
	if cmd.Priority != nil && !cmd.Priority.Valid() {
		return nil, mapError(serrors.ValidationErrors{"Priority": "must be one of: urgent high medium low"})
	}

	m := mutation{
		operation:       audit.OperationTransition,
		target:          cmd.Target,
		expectedVersion: cmd.ExpectedVersion,
		topic:           events.TopicRequestTransitionedV1,
	}
	if cmd.Target == request.StatusAssigned {
		m.topic = events.TopicRequestAssignedV1
	}
	m.apply = func(txCtx context.Context, cur, next *request.Request) error {
		if err := s.applyStatus(txCtx, cur, next, cmd.Target, cmd.TechnicianID); err != nil {
			return err
		}
		if next.AssignedTechnicianID != nil && cmd.Target == request.StatusAssigned {
			m.assignment = &events.AssignmentV1{TechnicianID: *next.AssignedTechnicianID}
		}
		if classificationChanges(cur, cmd.Priority, cmd.Category) {
			if err := s.machine.CheckAction(txCtx, cur.Status, lifecycle.ActionReprioritize, actor.Role); err != nil {
				return err
			}
		}
		return s.applyClassification(next, cmd.Priority, cmd.Category)
	}

	next, err := s.commit(ctx, actor, cmd.RequestID, &m)
	if err != nil {
		return nil, err
	}
	return next, nil
}

// Reprioritize changes priority and optionally category without moving the
// status, and recomputes the deadlines.
func (s *RequestService) Reprioritize(ctx context.Context, actor Actor, cmd ReprioritizeCommand) (_ *request.Request, err error) {
	ctx, span := startSpan(ctx, "Reprioritize", attribute.String("maintenance.request_id", cmd.RequestID.String()))
	defer func() { endSpan(span, err) }()

	if err := validate(ctx, cmd); err != nil {
		return nil, mapError(err)
	}
	priority := cmd.Priority
	m := mutation{
		operation:       audit.OperationReprioritize,
		action:          lifecycle.ActionReprioritize,
		expectedVersion: cmd.ExpectedVersion,
		topic:           events.TopicRequestUpdatedV1,
		apply: func(_ context.Context, _, next *request.Request) error {
			return s.applyClassification(next, &priority, cmd.Category)
		},
	}
	return s.commit(ctx, actor, cmd.RequestID, &m)
}

// UpdateDetails edits description or location. Deadlines are left alone.
func (s *RequestService) UpdateDetails(ctx context.Context, actor Actor, cmd UpdateDetailsCommand) (_ *request.Request, err error) {
	ctx, span := startSpan(ctx, "UpdateDetails", attribute.String("maintenance.request_id", cmd.RequestID.String()))
	defer func() { endSpan(span, err) }()

	if err := cmd.Ok(ctx); err != nil {
		return nil, mapError(err)
	}
	m := mutation{
		operation:       audit.OperationUpdateDetails,
		action:          lifecycle.ActionUpdateDetails,
		expectedVersion: cmd.ExpectedVersion,
		topic:           events.TopicRequestUpdatedV1,
		apply: func(_ context.Context, _, next *request.Request) error {
			if cmd.Description != nil {
				next.Description = *cmd.Description
			}
			if cmd.Location != nil {
				loc := *cmd.Location
				next.Location = &loc
			}
			return nil
		},
	}
	return s.commit(ctx, actor, cmd.RequestID, &m)
}

func (s *RequestService) GetRequest(ctx context.Context, id uuid.UUID) (_ *request.Request, err error) {
	ctx, span := startSpan(ctx, "GetRequest", attribute.String("maintenance.request_id", id.String()))
	defer func() { endSpan(span, err) }()

	req, err := s.repos.Requests.GetByID(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	return req, nil
}

// EvaluateSLA reports each deadline of req as pending, met or breached now.
func (s *RequestService) EvaluateSLA(req *request.Request) sla.Report {
	return sla.Evaluate(req, s.clock())
}

func (s *RequestService) ListRequests(ctx context.Context, params request.FindParams) ([]*request.Request, error) {
	items, err := s.repos.Requests.List(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}
	return items, nil
}

// GetAuditTrail returns the audit records of a request ordered by version. A
// trail that is not gap-free is reported as an error rather than returned.
func (s *RequestService) GetAuditTrail(ctx context.Context, id uuid.UUID) (_ []*audit.Record, err error) {
	ctx, span := startSpan(ctx, "GetAuditTrail", attribute.String("maintenance.request_id", id.String()))
	defer func() { endSpan(span, err) }()

	if _, err := s.repos.Requests.GetByID(ctx, id); err != nil {
		return nil, mapError(err)
	}
	records, err := s.repos.Audit.ListByRequest(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}
	if err := audit.VerifySequence(records); err != nil {
		logWithFields(ctx, logrus.ErrorLevel, "maintenance.audit.sequence_broken", logrus.Fields{
			"request_id": id,
			"error":      err.Error(),
		})
		return nil, mapError(err)
	}
	return records, nil
}

// ReplayAuditTrail folds the audit patches back into the latest snapshot.
func (s *RequestService) ReplayAuditTrail(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	records, err := s.GetAuditTrail(ctx, id)
	if err != nil {
		return nil, err
	}
	out, err := audit.Replay(records)
	if err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *RequestService) deadlines(priority request.Priority, category string, createdAt time.Time) (sla.Deadlines, error) {
	_, fallback, err := s.policies.Lookup(priority, category)
	if err != nil {
		return sla.Deadlines{}, err
	}
	if fallback {
		recordSLAFallback(string(priority))
	}
	return s.policies.ComputeDeadlines(priority, category, createdAt)
}

// applyStatus advances next to target and keeps technician slots in step.
func (s *RequestService) applyStatus(ctx context.Context, cur, next *request.Request, target request.Status, technicianID *uuid.UUID) error {
	if target == request.StatusAssigned {
		if technicianID == nil || *technicianID == uuid.Nil {
			return serrors.NewFieldRequiredError("TechnicianID")
		}
		if err := s.repos.Technicians.ReserveSlot(ctx, *technicianID); err != nil {
			return err
		}
		id := *technicianID
		next.AssignedTechnicianID = &id
	}
	if cur.HoldsTechnician() && !target.IsActive() {
		if err := s.repos.Technicians.ReleaseSlot(ctx, *cur.AssignedTechnicianID); err != nil {
			return err
		}
	}
	next.Advance(target, s.clock())
	return nil
}

// applyClassification recomputes the deadlines when priority or category
// actually change.
// classificationChanges reports whether priority or category differ from cur.
func classificationChanges(cur *request.Request, priority *request.Priority, category *string) bool {
	if priority != nil && *priority != cur.Priority {
		return true
	}
	return category != nil && request.NormalizeCategory(*category) != cur.Category
}

func (s *RequestService) applyClassification(next *request.Request, priority *request.Priority, category *string) error {
	p, c := next.Priority, next.Category
	if priority != nil {
		p = *priority
	}
	if category != nil {
		c = request.NormalizeCategory(*category)
	}
	if p == next.Priority && c == next.Category {
		return nil
	}
	d, err := s.deadlines(p, c, next.CreatedAt)
	if err != nil {
		return err
	}
	next.Priority, next.Category = p, c
	d.Apply(next)
	return nil
}
