// Package redisgeo keeps technician positions in a Redis GEO set so dispatch
// can narrow its candidate pool before the exact haversine ranking.
package redisgeo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultKey = "maintenance:technicians:geo"

type Locator struct {
	redis *redis.Client
	key   string
}

func NewLocator(client *redis.Client, key string) *Locator {
	if key == "" {
		key = DefaultKey
	}
	return &Locator{redis: client, key: key}
}

// Nearby returns technician ids within radiusKm, closest first. Members that
// are not valid UUIDs are skipped.
func (l *Locator) Nearby(ctx context.Context, lat, lng, radiusKm float64) ([]uuid.UUID, error) {
	members, err := l.redis.GeoSearch(ctx, l.key, &redis.GeoSearchQuery{
		Longitude:  lng,
		Latitude:   lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("geo search %s: %w", l.key, err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (l *Locator) Update(ctx context.Context, id uuid.UUID, lat, lng float64) error {
	if err := l.redis.GeoAdd(ctx, l.key, &redis.GeoLocation{
		Name:      id.String(),
		Longitude: lng,
		Latitude:  lat,
	}).Err(); err != nil {
		return fmt.Errorf("geo add %s: %w", id, err)
	}
	return nil
}

func (l *Locator) Remove(ctx context.Context, id uuid.UUID) error {
	if err := l.redis.ZRem(ctx, l.key, id.String()).Err(); err != nil {
		return fmt.Errorf("geo remove %s: %w", id, err)
	}
	return nil
}
