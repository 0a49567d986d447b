package services

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/audit"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/dispatch"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/events"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/technician"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

type DispatchResult struct {
	Request *request.Request
	Match   dispatch.Result
}

// Dispatch assigns the nearest eligible technician to an open, located
// request through the regular assigned transition. When a technician's last
// slot is taken concurrently the match is repeated without them, up to the
// configured number of attempts. dispatch.ErrNoAvailableTechnician is
// returned unwrapped: the request simply stays open.
func (s *RequestService) Dispatch(ctx context.Context, actor Actor, cmd DispatchCommand) (_ *DispatchResult, err error) {
	ctx, span := startSpan(ctx, "Dispatch", attribute.String("maintenance.request_id", cmd.RequestID.String()))
	defer func() { endSpan(span, err) }()

	if err := validate(ctx, cmd); err != nil {
		return nil, mapError(err)
	}

	exclude := map[uuid.UUID]struct{}{}
	for attempt := 1; ; attempt++ {
		res, err := s.dispatchOnce(ctx, actor, cmd, exclude)
		switch {
		case err == nil:
			recordDispatch("assigned", res.Match.DistanceKm)
			span.SetAttributes(attribute.String("maintenance.technician_id", res.Match.TechnicianID.String()))
			return res, nil
		case errors.Is(err, dispatch.ErrNoAvailableTechnician):
			recordDispatch("no_candidate", 0)
			logWithFields(ctx, logrus.InfoLevel, "maintenance.dispatch.no_candidate", logrus.Fields{
				"request_id": cmd.RequestID,
				"attempt":    attempt,
				"excluded":   len(exclude),
			})
			return nil, dispatch.ErrNoAvailableTechnician
		case errors.Is(err, technician.ErrNoCapacity) && res != nil && attempt < s.dispatchAttempts:
			exclude[res.Match.TechnicianID] = struct{}{}
			logWithFields(ctx, logrus.InfoLevel, "maintenance.dispatch.slot_lost", logrus.Fields{
				"request_id":    cmd.RequestID,
				"technician_id": res.Match.TechnicianID,
				"attempt":       attempt,
			})
			continue
		default:
			recordDispatch("failed", 0)
			return nil, err
		}
	}
}

// dispatchOnce runs one match-and-assign commit. On failure the returned
// result still names the technician that was picked, if any.
func (s *RequestService) dispatchOnce(ctx context.Context, actor Actor, cmd DispatchCommand, exclude map[uuid.UUID]struct{}) (*DispatchResult, error) {
	var picked *dispatch.Result
	m := mutation{
		operation:       audit.OperationTransition,
		target:          request.StatusAssigned,
		expectedVersion: cmd.ExpectedVersion,
		topic:           events.TopicRequestAssignedV1,
	}
	m.apply = func(txCtx context.Context, cur, next *request.Request) error {
		if !cur.HasLocation() {
			return serrors.ValidationErrors{"Location": "request has no coordinates"}
		}
		specialization := cmd.Specialization
		if specialization == "" {
			specialization = cur.Category
		}
		res, err := s.match(txCtx, cur.Location.Latitude, cur.Location.Longitude, specialization, exclude)
		if err != nil {
			return err
		}
		picked = &res
		distance := res.RoundedDistance().String()
		m.assignment = &events.AssignmentV1{TechnicianID: res.TechnicianID, DistanceKm: &distance}
		return s.applyStatus(txCtx, cur, next, request.StatusAssigned, &res.TechnicianID)
	}

	next, err := s.commit(ctx, actor, cmd.RequestID, &m)
	if picked == nil {
		return nil, err
	}
	return &DispatchResult{Request: next, Match: *picked}, err
}

// PreviewDispatch runs the matcher without committing anything.
func (s *RequestService) PreviewDispatch(ctx context.Context, lat, lng float64, specialization string) (_ dispatch.Result, err error) {
	ctx, span := startSpan(ctx, "PreviewDispatch")
	defer func() { endSpan(span, err) }()

	if err := validateLocation(&request.Location{Latitude: lat, Longitude: lng}); err != nil {
		return dispatch.Result{}, mapError(err)
	}
	res, err := s.match(ctx, lat, lng, specialization, nil)
	if err != nil {
		if errors.Is(err, dispatch.ErrNoAvailableTechnician) {
			return dispatch.Result{}, err
		}
		return dispatch.Result{}, mapError(err)
	}
	return res, nil
}

// match narrows the pool through the locator when one is configured and falls
// back to a full scan when the index yields nothing usable.
func (s *RequestService) match(ctx context.Context, lat, lng float64, specialization string, exclude map[uuid.UUID]struct{}) (dispatch.Result, error) {
	q := dispatch.Query{Latitude: lat, Longitude: lng, Specialization: specialization, Exclude: exclude}
	filter := technician.CandidateFilter{Specialization: specialization}

	if s.locator != nil {
		ids, err := s.locator.Nearby(ctx, lat, lng, s.searchRadiusKm)
		if err != nil {
			logWithFields(ctx, logrus.WarnLevel, "maintenance.dispatch.locator_failed", logrus.Fields{"error": err.Error()})
		} else if len(ids) > 0 {
			filter.IDs = ids
			pool, err := s.repos.Technicians.ListCandidates(ctx, filter)
			if err != nil {
				return dispatch.Result{}, err
			}
			res, err := dispatch.FindNearest(q, pool)
			if !errors.Is(err, dispatch.ErrNoAvailableTechnician) {
				return res, err
			}
			filter.IDs = nil
		}
	}

	pool, err := s.repos.Technicians.ListCandidates(ctx, filter)
	if err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.FindNearest(q, pool)
}
