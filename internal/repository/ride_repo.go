package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rideflow/dispatch/internal/models"
)

// RideRepository mutates ride records exclusively through atomic conditional
// updates: every transition names the status it expects to find, and a false
// return means the record had already moved on. There is no row lock held
// across calls; races between concurrent accepts, cancels and timer fires are
// settled by whichever conditional UPDATE lands first.
type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id string) (*models.Ride, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.Ride, error)
	GetActiveByRiderID(ctx context.Context, riderID string) (*models.Ride, error)
	GetActiveByDriverID(ctx context.Context, driverID string) (*models.Ride, error)
	ListByRiderID(ctx context.Context, riderID string, limit int) ([]*models.Ride, error)

	// TransitionStatus applies from -> to and stamps the matching timestamp
	// column. Returns false when the ride was not in `from`.
	TransitionStatus(ctx context.Context, id, from, to string) (bool, error)
	// AssignDriverIf attaches a driver only while the ride is still biddable,
	// unassigned, and the driver is not on the exclusion list.
	AssignDriverIf(ctx context.Context, id, driverID string) (bool, error)
	// ReleaseDriver returns an assigned ride to searching_driver and adds the
	// departing driver to the exclusion list for the next fan-out round.
	ReleaseDriver(ctx context.Context, id, driverID, from string) (bool, error)
	// CancelIf moves the ride to a cancelled status with reason and charge,
	// only if it is still in `from`.
	CancelIf(ctx context.Context, id, from, to, reason string, charge float64) (bool, error)
	// CompleteIf finishes an in-progress ride with the realized fare.
	CompleteIf(ctx context.Context, id string, actualDistKm, actualFare float64) (bool, error)
}

type rideRepository struct {
	db *sqlx.DB
}

func NewRideRepository(db *sqlx.DB) RideRepository {
	return &rideRepository{db: db}
}

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = uuid.New().String()
	}
	now := time.Now()
	ride.CreatedAt = now
	ride.UpdatedAt = now
	ride.RequestedAt = now
	ride.Status = models.RideStatusRequested
	if ride.ExcludedDrivers == nil {
		ride.ExcludedDrivers = pq.StringArray{}
	}

	query := `
		INSERT INTO rides (id, rider_id, pickup_lat, pickup_lng, pickup_address,
			dest_lat, dest_lng, dest_address, vehicle_type, status,
			estimated_fare, estimated_dist_km, excluded_drivers, idempotency_key,
			requested_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := r.db.ExecContext(ctx, query,
		ride.ID, ride.RiderID, ride.PickupLat, ride.PickupLng, ride.PickupAddress,
		ride.DestLat, ride.DestLng, ride.DestAddress, ride.VehicleType, ride.Status,
		ride.EstimatedFare, ride.EstimatedDistKm, ride.ExcludedDrivers, ride.IdempotencyKey,
		ride.RequestedAt, ride.CreatedAt, ride.UpdatedAt)
	return err
}

func (r *rideRepository) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	var ride models.Ride
	query := `SELECT * FROM rides WHERE id = $1`
	err := r.db.GetContext(ctx, &ride, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ride, err
}

func (r *rideRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.Ride, error) {
	var ride models.Ride
	query := `SELECT * FROM rides WHERE idempotency_key = $1`
	err := r.db.GetContext(ctx, &ride, query, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ride, err
}

func (r *rideRepository) GetActiveByRiderID(ctx context.Context, riderID string) (*models.Ride, error) {
	var ride models.Ride
	query := `
		SELECT * FROM rides
		WHERE rider_id = $1 AND status NOT IN ($2, $3, $4, $5)
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &ride, query, riderID,
		models.RideStatusCompleted, models.RideStatusCancelledByRider,
		models.RideStatusCancelledByDriver, models.RideStatusCancelledBySystem)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ride, err
}

func (r *rideRepository) GetActiveByDriverID(ctx context.Context, driverID string) (*models.Ride, error) {
	var ride models.Ride
	query := `
		SELECT * FROM rides
		WHERE driver_id = $1 AND status NOT IN ($2, $3, $4, $5)
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &ride, query, driverID,
		models.RideStatusCompleted, models.RideStatusCancelledByRider,
		models.RideStatusCancelledByDriver, models.RideStatusCancelledBySystem)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &ride, err
}

func (r *rideRepository) ListByRiderID(ctx context.Context, riderID string, limit int) ([]*models.Ride, error) {
	if limit <= 0 {
		limit = 20
	}
	var rides []*models.Ride
	query := `SELECT * FROM rides WHERE rider_id = $1 ORDER BY created_at DESC LIMIT $2`
	err := r.db.SelectContext(ctx, &rides, query, riderID, limit)
	return rides, err
}

// stampColumn maps a destination status to the timestamp column it stamps.
func stampColumn(to string) string {
	switch to {
	case models.RideStatusDriverAssigned:
		return "assigned_at"
	case models.RideStatusDriverArrived:
		return "arrived_at"
	case models.RideStatusInProgress:
		return "started_at"
	case models.RideStatusCompleted:
		return "completed_at"
	case models.RideStatusCancelledByRider, models.RideStatusCancelledByDriver, models.RideStatusCancelledBySystem:
		return "cancelled_at"
	}
	return ""
}

func (r *rideRepository) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	query := `UPDATE rides SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	if col := stampColumn(to); col != "" {
		query = `UPDATE rides SET status = $1, updated_at = $2, ` + col + ` = $2 WHERE id = $3 AND status = $4`
	}
	res, err := r.db.ExecContext(ctx, query, to, time.Now(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *rideRepository) AssignDriverIf(ctx context.Context, id, driverID string) (bool, error) {
	now := time.Now()
	// The NOT EXISTS clause makes the at-most-one-active-ride-per-driver
	// invariant atomic with the assignment; the partial unique index on
	// driver_id is the backstop if two assignments still interleave.
	query := `
		UPDATE rides
		SET driver_id = $1, status = $2, assigned_at = $3, updated_at = $3
		WHERE id = $4
		  AND status IN ($5, $6)
		  AND driver_id IS NULL
		  AND NOT ($1 = ANY(excluded_drivers))
		  AND NOT EXISTS (
		      SELECT 1 FROM rides other
		      WHERE other.driver_id = $1
		        AND other.status NOT IN ($7, $8, $9, $10)
		  )
	`
	res, err := r.db.ExecContext(ctx, query,
		driverID, models.RideStatusDriverAssigned, now, id,
		models.RideStatusRequested, models.RideStatusSearchingDriver,
		models.RideStatusCompleted, models.RideStatusCancelledByRider,
		models.RideStatusCancelledByDriver, models.RideStatusCancelledBySystem)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *rideRepository) ReleaseDriver(ctx context.Context, id, driverID, from string) (bool, error) {
	query := `
		UPDATE rides
		SET driver_id = NULL, status = $1, assigned_at = NULL,
		    excluded_drivers = array_append(excluded_drivers, $2), updated_at = $3
		WHERE id = $4 AND status = $5 AND driver_id = $2
	`
	res, err := r.db.ExecContext(ctx, query,
		models.RideStatusSearchingDriver, driverID, time.Now(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *rideRepository) CancelIf(ctx context.Context, id, from, to, reason string, charge float64) (bool, error) {
	query := `
		UPDATE rides
		SET status = $1, cancellation_reason = $2, cancellation_charge = $3,
		    cancelled_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query, to, reason, charge, time.Now(), id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *rideRepository) CompleteIf(ctx context.Context, id string, actualDistKm, actualFare float64) (bool, error) {
	now := time.Now()
	query := `
		UPDATE rides
		SET status = $1, actual_dist_km = $2, actual_fare = $3,
		    completed_at = $4, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	res, err := r.db.ExecContext(ctx, query,
		models.RideStatusCompleted, actualDistKm, actualFare, now, id, models.RideStatusInProgress)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
