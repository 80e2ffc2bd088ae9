package service

import (
	"context"
	"log"
	"time"

	"github.com/rideflow/dispatch/internal/cache"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/notify"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/repository"
	"github.com/rideflow/dispatch/internal/scheduler"
)

const noDriversReason = "no drivers available"

// MatchingService owns the search-and-assign phase of a ride: candidate
// fan-out, the acceptance race, and the no-driver timeout. Exactly one driver
// wins a ride; everyone else is told it is gone.
type MatchingService interface {
	// Dispatch moves a fresh ride into searching_driver, fans the offer out to
	// nearby candidates, and arms the no-driver timer. Also used to re-run the
	// search after a driver cancels before arrival.
	Dispatch(ctx context.Context, ride *models.Ride)
	// HandleDriverResponse settles an accept or reject from a candidate.
	// On accept the ride is won atomically or the driver gets
	// ride_no_longer_available.
	HandleDriverResponse(ctx context.Context, driverID string, req *models.DriverResponseRequest) (*models.Ride, error)
	CancelTimer(rideID string)
}

type matchingService struct {
	rideRepo   repository.RideRepository
	driverRepo repository.DriverRepository
	locations  cache.LocationCache
	events     EventPublisher
	closer     RideCloser
	notifier   notify.Notifier
	sched      *scheduler.Scheduler

	radiusKm      float64
	maxCandidates int
	searchTimeout time.Duration
}

func NewMatchingService(
	rideRepo repository.RideRepository,
	driverRepo repository.DriverRepository,
	locations cache.LocationCache,
	events EventPublisher,
	closer RideCloser,
	notifier notify.Notifier,
	sched *scheduler.Scheduler,
	radiusKm float64,
	maxCandidates int,
	searchTimeout time.Duration,
) MatchingService {
	return &matchingService{
		rideRepo:      rideRepo,
		driverRepo:    driverRepo,
		locations:     locations,
		events:        events,
		closer:        closer,
		notifier:      notifier,
		sched:         sched,
		radiusKm:      radiusKm,
		maxCandidates: maxCandidates,
		searchTimeout: searchTimeout,
	}
}

func rideTimerKey(rideID string) string {
	return "ride:" + rideID
}

func (s *matchingService) Dispatch(ctx context.Context, ride *models.Ride) {
	if ride.Status == models.RideStatusRequested {
		ok, err := s.rideRepo.TransitionStatus(ctx, ride.ID, models.RideStatusRequested, models.RideStatusSearchingDriver)
		if err != nil {
			log.Printf("matching: failed to start search for ride %s: %v", ride.ID, err)
			return
		}
		if !ok {
			// Cancelled before the search even started.
			return
		}
		ride.Status = models.RideStatusSearchingDriver
		s.events.ToUser(ride.RiderID, realtime.EventRideUpdate, realtime.RideUpdatePayload{
			RideID: ride.ID,
			Status: ride.Status,
		})
	}

	candidates, err := s.locations.Nearby(ctx, ride.PickupLat, ride.PickupLng, s.radiusKm, ride.VehicleType, s.maxCandidates)
	if err != nil {
		log.Printf("matching: nearby lookup failed for ride %s: %v", ride.ID, err)
		candidates = nil
	}

	offer := realtime.NewRideRequestPayload{
		RideID:        ride.ID,
		Pickup:        models.Location{Lat: ride.PickupLat, Lng: ride.PickupLng},
		Destination:   models.Location{Lat: ride.DestLat, Lng: ride.DestLng},
		VehicleType:   ride.VehicleType,
		EstimatedFare: ride.EstimatedFare,
	}
	if ride.PickupAddress != nil {
		offer.Pickup.Address = *ride.PickupAddress
	}
	if ride.DestAddress != nil {
		offer.Destination.Address = *ride.DestAddress
	}

	notified := 0
	for _, c := range candidates {
		if ride.IsExcluded(c.DriverID) {
			continue
		}
		offer.DistanceToPickupKm = c.DistanceKm
		s.events.ToUser(c.DriverID, realtime.EventNewRideRequest, offer)
		s.notifier.NotifyUser(ctx, c.DriverID, realtime.EventNewRideRequest, offer)
		notified++
	}
	log.Printf("matching: ride %s offered to %d drivers", ride.ID, notified)

	// Even with zero candidates the timer runs: drivers coming online inside
	// the window can still accept.
	s.sched.Schedule(rideTimerKey(ride.ID), s.searchTimeout, func() {
		s.expireSearch(ride)
	})
}

// expireSearch fires when the no-driver window closes. The conditional update
// is the stale-timer guard: a ride that was assigned or cancelled inside the
// window no longer matches searching_driver and is left alone.
func (s *matchingService) expireSearch(ride *models.Ride) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := s.rideRepo.CancelIf(ctx, ride.ID, models.RideStatusSearchingDriver,
		models.RideStatusCancelledBySystem, noDriversReason, 0)
	if err != nil {
		log.Printf("matching: timeout cancel failed for ride %s: %v", ride.ID, err)
		return
	}
	if !ok {
		return
	}

	payload := realtime.RideCancelledPayload{
		RideID: ride.ID,
		Status: models.RideStatusCancelledBySystem,
		Reason: noDriversReason,
	}
	s.events.ToUser(ride.RiderID, realtime.EventRideCancelled, payload)
	s.events.ToRide(ride.ID, realtime.EventRideCancelled, payload)
	s.closer.CloseRide(ride.ID)
	s.notifier.NotifyUser(ctx, ride.RiderID, realtime.EventRideCancelled, payload)
}

func (s *matchingService) HandleDriverResponse(ctx context.Context, driverID string, req *models.DriverResponseRequest) (*models.Ride, error) {
	ride, err := s.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.NotFound("ride")
	}

	if req.Response == "reject" {
		// A reject carries no state: the driver simply drops out of the race.
		log.Printf("matching: driver %s rejected ride %s", driverID, ride.ID)
		return ride, nil
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}

	active, err := s.rideRepo.GetActiveByDriverID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.DriverHasActiveRide()
	}

	won, err := s.rideRepo.AssignDriverIf(ctx, ride.ID, driverID)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, apperrors.RideNoLongerAvailable()
	}

	s.sched.Cancel(rideTimerKey(ride.ID))

	ride.Status = models.RideStatusDriverAssigned
	ride.DriverID = &driverID

	if err := s.driverRepo.UpdateStatus(ctx, driverID, models.DriverStatusBusy); err != nil {
		log.Printf("matching: failed to mark driver %s busy: %v", driverID, err)
	}
	if err := s.locations.SetDriverMeta(ctx, driverID, models.DriverStatusBusy, driver.VehicleType); err != nil {
		log.Printf("matching: failed to update driver %s meta: %v", driverID, err)
	}

	s.events.ToUser(ride.RiderID, realtime.EventDriverAssigned, realtime.DriverAssignedPayload{
		RideID:   ride.ID,
		DriverID: driverID,
		Name:     driver.Name,
		Phone:    driver.Phone,
		Vehicle:  driver.VehicleNumber,
		Rating:   driver.Rating,
	})
	s.events.ToUser(driverID, realtime.EventRideAssigned, realtime.RideAssignedPayload{
		RideID:  ride.ID,
		RiderID: ride.RiderID,
		Pickup: models.Location{
			Lat: ride.PickupLat,
			Lng: ride.PickupLng,
		},
		Destination: models.Location{
			Lat: ride.DestLat,
			Lng: ride.DestLng,
		},
	})

	return ride, nil
}

func (s *matchingService) CancelTimer(rideID string) {
	s.sched.Cancel(rideTimerKey(rideID))
}
