package service

import (
	"context"
	"log"

	"github.com/rideflow/dispatch/internal/cache"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/notify"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/repository"
)

// EventPublisher is the slice of the realtime hub the services need: targeted,
// per-ride and role-broadcast delivery. Satisfied by *realtime.Hub.
type EventPublisher interface {
	ToUser(userID string, event string, payload interface{})
	ToRide(rideID string, event string, payload interface{})
	ToRole(role string, event string, payload interface{})
}

// RideCloser is implemented by the hub to tear down per-ride state once a
// ride reaches a terminal status.
type RideCloser interface {
	CloseRide(rideID string)
}

// Dispatcher re-runs candidate fan-out for a ride; implemented by the
// matching service. Needed when a driver cancels before arrival and the ride
// returns to searching_driver.
type Dispatcher interface {
	Dispatch(ctx context.Context, ride *models.Ride)
	CancelTimer(rideID string)
}

type RideService interface {
	CreateRide(ctx context.Context, req *models.CreateRideRequest, idempotencyKey string) (*models.Ride, error)
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	GetActiveRide(ctx context.Context, riderID string) (*models.Ride, error)
	ListRideHistory(ctx context.Context, riderID string, limit int) ([]*models.Ride, error)
	// ApplyTransition moves a ride from the status the caller expects to the
	// requested one; a stale expectation yields invalid_status_transition and
	// mutates nothing.
	ApplyTransition(ctx context.Context, rideID, fromExpected, to, actorID string) (*models.Ride, error)
	CompleteRide(ctx context.Context, rideID, driverID string, actualDistKm *float64) (*models.Ride, error)
	CancelRide(ctx context.Context, rideID string, req *models.CancelRideRequest) (*models.Ride, error)
}

type rideService struct {
	rideRepo   repository.RideRepository
	driverRepo repository.DriverRepository
	userRepo   repository.UserRepository
	pricing    PricingService
	locations  cache.LocationCache
	events     EventPublisher
	closer     RideCloser
	dispatcher Dispatcher
	notifier   notify.Notifier
}

func NewRideService(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	userRepo repository.UserRepository,
	pricing PricingService,
	locations cache.LocationCache,
	events EventPublisher,
	closer RideCloser,
	notifier notify.Notifier,
) *rideService {
	return &rideService{
		rideRepo:   rideRepo,
		driverRepo: driverRepo,
		userRepo:   userRepo,
		pricing:    pricing,
		locations:  locations,
		events:     events,
		closer:     closer,
		notifier:   notifier,
	}
}

// SetDispatcher breaks the construction cycle between ride and matching
// services; called once during wiring.
func (s *rideService) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *rideService) CreateRide(ctx context.Context, req *models.CreateRideRequest, idempotencyKey string) (*models.Ride, error) {
	// Check idempotency
	if idempotencyKey != "" {
		existing, err := s.rideRepo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
	}

	user, err := s.userRepo.GetByID(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("rider")
	}

	// At most one non-terminal ride per rider.
	active, err := s.rideRepo.GetActiveByRiderID(ctx, req.RiderID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.RiderHasActiveRide()
	}

	distanceKm := s.pricing.EstimateDistance(
		req.Pickup.Lat, req.Pickup.Lng,
		req.Destination.Lat, req.Destination.Lng,
	)
	fare := s.pricing.EstimateFare(req.VehicleType, distanceKm)

	ride := &models.Ride{
		RiderID:     req.RiderID,
		PickupLat:   req.Pickup.Lat,
		PickupLng:   req.Pickup.Lng,
		DestLat:     req.Destination.Lat,
		DestLng:     req.Destination.Lng,
		VehicleType: req.VehicleType,
	}
	if req.Pickup.Address != "" {
		ride.PickupAddress = &req.Pickup.Address
	}
	if req.Destination.Address != "" {
		ride.DestAddress = &req.Destination.Address
	}
	if idempotencyKey != "" {
		ride.IdempotencyKey = &idempotencyKey
	}
	ride.EstimatedFare = &fare
	ride.EstimatedDistKm = &distanceKm

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, err
	}

	s.events.ToUser(ride.RiderID, realtime.EventRideUpdate, realtime.RideUpdatePayload{
		RideID: ride.ID,
		Status: ride.Status,
	})
	return ride, nil
}

func (s *rideService) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	return ride, nil
}

func (s *rideService) GetActiveRide(ctx context.Context, riderID string) (*models.Ride, error) {
	ride, err := s.rideRepo.GetActiveByRiderID(ctx, riderID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("active ride")
	}
	return ride, nil
}

func (s *rideService) ListRideHistory(ctx context.Context, riderID string, limit int) ([]*models.Ride, error) {
	return s.rideRepo.ListByRiderID(ctx, riderID, limit)
}

func (s *rideService) ApplyTransition(ctx context.Context, rideID, fromExpected, to, actorID string) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}

	// Only the assigned driver advances a ride through the trip states.
	if ride.DriverID == nil || *ride.DriverID != actorID {
		return nil, apperrors.NotRideParty()
	}

	allowed := false
	for _, next := range models.ValidRideTransitions[fromExpected] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, apperrors.InvalidTransition(fromExpected, to)
	}

	ok, err := s.rideRepo.TransitionStatus(ctx, rideID, fromExpected, to)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The persisted status no longer matches what the caller saw.
		return nil, apperrors.InvalidTransition(fromExpected, to)
	}

	ride.Status = to
	s.publishStatus(ride)
	return ride, nil
}

func (s *rideService) CompleteRide(ctx context.Context, rideID, driverID string, actualDistKm *float64) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}
	if ride.DriverID == nil || *ride.DriverID != driverID {
		return nil, apperrors.NotRideParty()
	}

	distKm := s.pricing.EstimateDistance(ride.PickupLat, ride.PickupLng, ride.DestLat, ride.DestLng)
	if actualDistKm != nil {
		distKm = *actualDistKm
	} else if ride.EstimatedDistKm != nil {
		distKm = *ride.EstimatedDistKm
	}
	fare := s.pricing.ActualFare(ride.VehicleType, distKm)

	ok, err := s.rideRepo.CompleteIf(ctx, rideID, distKm, fare)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InvalidTransition(ride.Status, models.RideStatusCompleted)
	}

	ride.Status = models.RideStatusCompleted
	ride.ActualDistKm = &distKm
	ride.ActualFare = &fare

	s.freeDriver(ctx, driverID)
	if err := s.driverRepo.IncrementTotalTrips(ctx, driverID); err != nil {
		log.Printf("failed to increment driver trips: %v", err)
	}

	s.publishStatus(ride)
	s.closer.CloseRide(rideID)

	// Settlement is owned by the payment collaborator; hand it off and move on.
	s.notifier.NotifyUser(ctx, ride.RiderID, "payment_due", map[string]interface{}{
		"ride_id": ride.ID,
		"amount":  fare,
	})
	return ride, nil
}

func (s *rideService) CancelRide(ctx context.Context, rideID string, req *models.CancelRideRequest) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}

	// Only the ride's parties (or the system) may cancel.
	switch req.CancelledBy {
	case "rider":
		if ride.RiderID != req.ActorID {
			return nil, apperrors.NotRideParty()
		}
	case "driver":
		if ride.DriverID == nil || *ride.DriverID != req.ActorID {
			return nil, apperrors.NotRideParty()
		}
	}

	if ride.Status == models.RideStatusInProgress {
		return nil, apperrors.CancelInProgressRejected()
	}
	if models.IsTerminalRideStatus(ride.Status) {
		return nil, apperrors.InvalidTransition(ride.Status, "cancelled")
	}

	// A driver bailing before arrival puts the ride back on the market with
	// that driver excluded, rather than killing it.
	if req.CancelledBy == "driver" &&
		(ride.Status == models.RideStatusDriverAssigned || ride.Status == models.RideStatusDriverArriving) {
		return s.requeueAfterDriverCancel(ctx, ride, req.ActorID)
	}

	to := models.RideStatusCancelledByRider
	switch req.CancelledBy {
	case "driver":
		to = models.RideStatusCancelledByDriver
	case "system":
		to = models.RideStatusCancelledBySystem
	}

	var estimate float64
	if ride.EstimatedFare != nil {
		estimate = *ride.EstimatedFare
	}
	charge := s.pricing.CancellationCharge(ride.Status, estimate)

	ok, err := s.rideRepo.CancelIf(ctx, rideID, ride.Status, to, req.Reason, charge)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InvalidTransition(ride.Status, to)
	}

	if s.dispatcher != nil {
		s.dispatcher.CancelTimer(rideID)
	}
	if ride.DriverID != nil {
		s.freeDriver(ctx, *ride.DriverID)
	}

	ride.Status = to
	ride.CancellationCharge = &charge
	if req.Reason != "" {
		reason := req.Reason
		ride.CancellationReason = &reason
	}

	payload := realtime.RideCancelledPayload{
		RideID: ride.ID,
		Status: to,
		Reason: req.Reason,
		Charge: &charge,
	}
	s.events.ToUser(ride.RiderID, realtime.EventRideCancelled, payload)
	if ride.DriverID != nil {
		s.events.ToUser(*ride.DriverID, realtime.EventRideCancelled, payload)
	}
	s.events.ToRide(ride.ID, realtime.EventRideCancelled, payload)
	s.closer.CloseRide(rideID)

	return ride, nil
}

func (s *rideService) requeueAfterDriverCancel(ctx context.Context, ride *models.Ride, driverID string) (*models.Ride, error) {
	ok, err := s.rideRepo.ReleaseDriver(ctx, ride.ID, driverID, ride.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InvalidTransition(ride.Status, models.RideStatusSearchingDriver)
	}

	s.freeDriver(ctx, driverID)

	ride.Status = models.RideStatusSearchingDriver
	ride.DriverID = nil
	ride.ExcludedDrivers = append(ride.ExcludedDrivers, driverID)

	s.publishStatus(ride)
	if s.dispatcher != nil {
		s.dispatcher.Dispatch(ctx, ride)
	}
	return ride, nil
}

// freeDriver returns a driver to the candidate pool: durable status back to
// online and the cached meta reset, since Nearby filters on the cached status.
func (s *rideService) freeDriver(ctx context.Context, driverID string) {
	if err := s.driverRepo.UpdateStatus(ctx, driverID, models.DriverStatusOnline); err != nil {
		log.Printf("failed to free driver %s: %v", driverID, err)
	}
	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil || driver == nil {
		log.Printf("failed to load driver %s for cache meta reset: %v", driverID, err)
		return
	}
	if err := s.locations.SetDriverMeta(ctx, driverID, models.DriverStatusOnline, driver.VehicleType); err != nil {
		log.Printf("failed to reset cache meta for driver %s: %v", driverID, err)
	}
}

// publishStatus fans a status change out to both parties and the ride room.
// The hub preserves the order transitions were applied in.
func (s *rideService) publishStatus(ride *models.Ride) {
	payload := realtime.RideStatusUpdatePayload{RideID: ride.ID, Status: ride.Status}
	s.events.ToRide(ride.ID, realtime.EventRideStatusUpdate, payload)
	s.events.ToUser(ride.RiderID, realtime.EventRideStatusUpdate, payload)
	if ride.DriverID != nil {
		s.events.ToUser(*ride.DriverID, realtime.EventRideStatusUpdate, payload)
	}
}
