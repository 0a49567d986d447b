package persistence

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/AlazabDev/UberFix.shop-sub000/modules/maintenance/domain/request"
)

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgNullUUID(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return pgUUID(*id)
}

func asUUIDPtr(v pgtype.UUID) *uuid.UUID {
	if !v.Valid {
		return nil
	}
	id := uuid.UUID(v.Bytes)
	return &id
}

func pgTime(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func asTimePtr(v pgtype.Timestamptz) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func pgLocation(loc *request.Location) (pgtype.Float8, pgtype.Float8) {
	if loc == nil {
		return pgtype.Float8{}, pgtype.Float8{}
	}
	return pgtype.Float8{Float64: loc.Latitude, Valid: true}, pgtype.Float8{Float64: loc.Longitude, Valid: true}
}

func asLocation(lat, lng pgtype.Float8) *request.Location {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &request.Location{Latitude: lat.Float64, Longitude: lng.Float64}
}

func pgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
