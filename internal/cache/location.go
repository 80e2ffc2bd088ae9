package cache

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"
)

// DriverPing is the most recent coordinate seen for a driver. It is a
// performance cache, not authoritative: on restart the cache starts empty and
// refills as drivers reconnect and re-announce their location.
type DriverPing struct {
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DriverDistance struct {
	DriverID   string
	DistanceKm float64
}

// LocationCache tracks driver coordinates and serves the geospatial candidate
// query. Implementations must apply updates latest-wins: an update carrying
// an older timestamp than the cached one is dropped.
type LocationCache interface {
	// UpdateLocation records a ping. Returns false when the ping was stale
	// and dropped.
	UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) (bool, error)
	GetLocation(ctx context.Context, driverID string) (*DriverPing, error)
	// SetDriverMeta records online/offline status and vehicle type, used to
	// filter candidates.
	SetDriverMeta(ctx context.Context, driverID, status, vehicleType string) error
	Remove(ctx context.Context, driverID string) error
	// Nearby returns online drivers of the given vehicle type within radiusKm
	// of the point, nearest first, at most limit entries.
	Nearby(ctx context.Context, lat, lng, radiusKm float64, vehicleType string, limit int) ([]DriverDistance, error)
}

type memoryEntry struct {
	ping        *DriverPing
	status      string
	vehicleType string
}

// MemoryLocationCache is the default single-process implementation. A
// multi-process deployment swaps in the redis-backed cache without touching
// call sites.
type MemoryLocationCache struct {
	mu      sync.RWMutex
	drivers map[string]*memoryEntry
}

func NewMemoryLocationCache() *MemoryLocationCache {
	return &MemoryLocationCache{drivers: make(map[string]*memoryEntry)}
}

func (c *MemoryLocationCache) UpdateLocation(ctx context.Context, driverID string, lat, lng float64, at time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.drivers[driverID]
	if !ok {
		e = &memoryEntry{}
		c.drivers[driverID] = e
	}
	if e.ping != nil && at.Before(e.ping.UpdatedAt) {
		return false, nil
	}
	e.ping = &DriverPing{DriverID: driverID, Lat: lat, Lng: lng, UpdatedAt: at}
	return true, nil
}

func (c *MemoryLocationCache) GetLocation(ctx context.Context, driverID string) (*DriverPing, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.drivers[driverID]
	if !ok || e.ping == nil {
		return nil, nil
	}
	ping := *e.ping
	return &ping, nil
}

func (c *MemoryLocationCache) SetDriverMeta(ctx context.Context, driverID, status, vehicleType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.drivers[driverID]
	if !ok {
		e = &memoryEntry{}
		c.drivers[driverID] = e
	}
	e.status = status
	e.vehicleType = vehicleType
	return nil
}

func (c *MemoryLocationCache) Remove(ctx context.Context, driverID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.drivers, driverID)
	return nil
}

func (c *MemoryLocationCache) Nearby(ctx context.Context, lat, lng, radiusKm float64, vehicleType string, limit int) ([]DriverDistance, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]DriverDistance, 0, limit)
	for id, e := range c.drivers {
		if e.ping == nil || e.status != "online" || e.vehicleType != vehicleType {
			continue
		}
		dist := haversineKm(lat, lng, e.ping.Lat, e.ping.Lng)
		if dist > radiusKm {
			continue
		}
		out = append(out, DriverDistance{DriverID: id, DistanceKm: dist})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// haversineKm calculates the great-circle distance between two points
func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
