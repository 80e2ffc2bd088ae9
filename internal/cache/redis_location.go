package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	geoKeyPrefix    = "drivers:locations:"
	pingKeyPrefix   = "driver:ping:"
	metaKeyPrefix   = "driver:meta:"
	pingTTL         = 5 * time.Minute
	nearbyOverfetch = 3
)

// RedisLocationCache backs the location cache with a shared redis instance so
// multiple dispatch processes see the same driver positions. Geo sets are
// keyed per vehicle type; the candidate query is a single GEOSEARCH.
type RedisLocationCache struct {
	redis *redis.Client
}

func NewRedisLocationCache(redisClient *redis.Client) *RedisLocationCache {
	return &RedisLocationCache{redis: redisClient}
}

func (c *RedisLocationCache) UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) (bool, error) {
	// Latest-wins: drop pings older than the cached one.
	prev, err := c.GetLocation(ctx, driverID)
	if err != nil {
		return false, err
	}
	if prev != nil && at.Before(prev.UpdatedAt) {
		return false, nil
	}

	meta, err := c.redis.HGetAll(ctx, metaKeyPrefix+driverID).Result()
	if err != nil {
		return false, err
	}
	// Geo sets are keyed per vehicle type; without meta there is no key to
	// place the driver under, so only the raw ping is stored. The driver
	// becomes searchable once SetDriverMeta lands and the next ping arrives.
	if vehicleType := meta["vehicle_type"]; vehicleType != "" {
		if err := c.redis.GeoAdd(ctx, geoKeyPrefix+vehicleType, &redis.GeoLocation{
			Name:      driverID,
			Longitude: lng,
			Latitude:  lat,
		}).Err(); err != nil {
			return false, err
		}
	}

	ping := DriverPing{DriverID: driverID, Lat: lat, Lng: lng, UpdatedAt: at}
	data, err := json.Marshal(ping)
	if err != nil {
		return false, err
	}
	return true, c.redis.Set(ctx, pingKeyPrefix+driverID, data, pingTTL).Err()
}

func (c *RedisLocationCache) GetLocation(ctx context.Context, driverID string) (*DriverPing, error) {
	data, err := c.redis.Get(ctx, pingKeyPrefix+driverID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var ping DriverPing
	if err := json.Unmarshal(data, &ping); err != nil {
		return nil, err
	}
	return &ping, nil
}

func (c *RedisLocationCache) SetDriverMeta(ctx context.Context, driverID, status, vehicleType string) error {
	return c.redis.HSet(ctx, metaKeyPrefix+driverID, map[string]interface{}{
		"status":       status,
		"vehicle_type": vehicleType,
	}).Err()
}

func (c *RedisLocationCache) Remove(ctx context.Context, driverID string) error {
	meta, err := c.redis.HGetAll(ctx, metaKeyPrefix+driverID).Result()
	if err != nil {
		return err
	}
	if vt := meta["vehicle_type"]; vt != "" {
		if err := c.redis.ZRem(ctx, geoKeyPrefix+vt, driverID).Err(); err != nil {
			return err
		}
	}
	return c.redis.Del(ctx, pingKeyPrefix+driverID).Err()
}

func (c *RedisLocationCache) Nearby(ctx context.Context, lat, lng, radiusKm float64, vehicleType string, limit int) ([]DriverDistance, error) {
	// Overfetch because offline drivers are filtered out after the geo query.
	count := limit * nearbyOverfetch
	if count <= 0 {
		count = 50
	}
	locations, err := c.redis.GeoRadius(ctx, geoKeyPrefix+vehicleType, lng, lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    count,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]DriverDistance, 0, len(locations))
	for _, loc := range locations {
		meta, err := c.redis.HGetAll(ctx, metaKeyPrefix+loc.Name).Result()
		if err != nil {
			continue
		}
		if meta["status"] != "online" {
			continue
		}
		result = append(result, DriverDistance{DriverID: loc.Name, DistanceKm: loc.Dist})
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}
