package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/constants"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/intl"
	"github.com/AlazabDev/UberFix.shop-sub000/pkg/serrors"
)

type CreateRequestCommand struct {
	CompanyID   uuid.UUID         `validate:"required"`
	BranchID    uuid.UUID         `validate:"required"`
	CustomerID  uuid.UUID         `validate:"required"`
	Priority    request.Priority  `validate:"required,oneof=urgent high medium low"`
	Category    string            `validate:"max=64"`
	Description string            `validate:"required,max=4000"`
	Location    *request.Location `validate:"omitempty"`
}

type TransitionCommand struct {
	RequestID       uuid.UUID      `validate:"required"`
	Target          request.Status `validate:"required"`
	ExpectedVersion int64          `validate:"gte=1"`
	// TechnicianID is required when Target is assigned.
	TechnicianID *uuid.UUID
	Priority     *request.Priority
	Category     *string
}

type ReprioritizeCommand struct {
	RequestID       uuid.UUID        `validate:"required"`
	ExpectedVersion int64            `validate:"gte=1"`
	Priority        request.Priority `validate:"required,oneof=urgent high medium low"`
	Category        *string
}

type UpdateDetailsCommand struct {
	RequestID       uuid.UUID `validate:"required"`
	ExpectedVersion int64     `validate:"gte=1"`
	Description     *string
	Location        *request.Location
}

type DispatchCommand struct {
	RequestID uuid.UUID `validate:"required"`
	// ExpectedVersion of zero dispatches against whatever version is current.
	ExpectedVersion int64 `validate:"gte=0"`
	// Specialization overrides the request category as the required skill.
	Specialization string
}

type RegisterTechnicianCommand struct {
	ID                uuid.UUID
	Name              string   `validate:"required,max=200"`
	Latitude          float64  `validate:"gte=-90,lte=90"`
	Longitude         float64  `validate:"gte=-180,lte=180"`
	Specializations   []string `validate:"dive,max=64"`
	IsActive          bool
	IsAvailable       bool
	Rating            float64 `validate:"gte=0,lte=5"`
	MaxConcurrentJobs int     `validate:"gte=0"`
}

func validate(ctx context.Context, cmd any) error {
	return intl.LocalizeValidation(ctx, constants.Validate.Struct(cmd))
}

func validateLocation(loc *request.Location) error {
	if loc == nil {
		return nil
	}
	errs := serrors.ValidationErrors{}
	if loc.Latitude < -90 || loc.Latitude > 90 {
		errs["Latitude"] = "must be between -90 and 90"
	}
	if loc.Longitude < -180 || loc.Longitude > 180 {
		errs["Longitude"] = "must be between -180 and 180"
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func (c *CreateRequestCommand) Normalize() {
	c.Priority = request.Priority(strings.ToLower(strings.TrimSpace(string(c.Priority))))
	c.Category = request.NormalizeCategory(c.Category)
	c.Description = strings.TrimSpace(c.Description)
}

func (c *CreateRequestCommand) Ok(ctx context.Context) error {
	if err := validate(ctx, c); err != nil {
		return err
	}
	return validateLocation(c.Location)
}

func (c *UpdateDetailsCommand) Ok(ctx context.Context) error {
	if err := validate(ctx, c); err != nil {
		return err
	}
	if c.Description == nil && c.Location == nil {
		return serrors.ValidationErrors{"Description": "description or location must be set"}
	}
	if c.Description != nil && strings.TrimSpace(*c.Description) == "" {
		return serrors.NewFieldRequiredError("Description")
	}
	return validateLocation(c.Location)
}
