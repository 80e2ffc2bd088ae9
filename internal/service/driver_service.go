package service

import (
	"context"
	"time"

	"github.com/rideflow/dispatch/internal/cache"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/repository"
)

type DriverService interface {
	RegisterDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error)
	GetDriver(ctx context.Context, id string) (*models.Driver, error)
	// SetAvailability flips a driver online or offline. Going offline while on
	// an active ride is refused; the ride must finish or be cancelled first.
	SetAvailability(ctx context.Context, driverID, status string) (*models.Driver, error)
	// UpdateLocation records a ping latest-wins and, when the driver is on an
	// assigned ride, relays the position to the ride room.
	UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error
}

type driverService struct {
	driverRepo repository.DriverRepository
	rideRepo   repository.RideRepository
	locations  cache.LocationCache
	events     EventPublisher
}

func NewDriverService(
	driverRepo repository.DriverRepository,
	rideRepo repository.RideRepository,
	locations cache.LocationCache,
	events EventPublisher,
) DriverService {
	return &driverService{
		driverRepo: driverRepo,
		rideRepo:   rideRepo,
		locations:  locations,
		events:     events,
	}
}

func (s *driverService) RegisterDriver(ctx context.Context, req *models.CreateDriverRequest) (*models.Driver, error) {
	existing, err := s.driverRepo.GetByPhone(ctx, req.Phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("driver with this phone already exists")
	}

	driver := &models.Driver{
		Phone:         req.Phone,
		Name:          req.Name,
		LicenseNumber: req.LicenseNumber,
		VehicleType:   req.VehicleType,
		VehicleNumber: req.VehicleNumber,
	}
	if err := s.driverRepo.Create(ctx, driver); err != nil {
		return nil, err
	}
	return driver, nil
}

func (s *driverService) GetDriver(ctx context.Context, id string) (*models.Driver, error) {
	driver, err := s.driverRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}
	return driver, nil
}

func (s *driverService) SetAvailability(ctx context.Context, driverID, status string) (*models.Driver, error) {
	if status != models.DriverStatusOnline && status != models.DriverStatusOffline {
		return nil, apperrors.BadRequest("status must be online or offline")
	}

	driver, err := s.driverRepo.GetByID(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, apperrors.NotFound("driver")
	}

	if status == models.DriverStatusOffline {
		active, err := s.rideRepo.GetActiveByDriverID(ctx, driverID)
		if err != nil {
			return nil, err
		}
		if active != nil {
			return nil, apperrors.Conflict("cannot go offline with an active ride")
		}
	}

	if err := s.driverRepo.UpdateStatus(ctx, driverID, status); err != nil {
		return nil, err
	}

	if status == models.DriverStatusOffline {
		if err := s.locations.Remove(ctx, driverID); err != nil {
			return nil, err
		}
	} else {
		if err := s.locations.SetDriverMeta(ctx, driverID, status, driver.VehicleType); err != nil {
			return nil, err
		}
	}

	driver.Status = status
	return driver, nil
}

func (s *driverService) UpdateLocation(ctx context.Context, driverID string, req *models.UpdateDriverLocationRequest) error {
	at := time.Now()
	if req.Timestamp != nil {
		at = *req.Timestamp
	}

	fresh, err := s.locations.UpdateLocation(ctx, driverID, req.Lat, req.Lng, at)
	if err != nil {
		return err
	}
	if !fresh {
		// Stale ping, already superseded.
		return nil
	}

	ride, err := s.rideRepo.GetActiveByDriverID(ctx, driverID)
	if err != nil {
		return err
	}
	if ride == nil || ride.DriverID == nil {
		return nil
	}

	s.events.ToRide(ride.ID, realtime.EventDriverLocation, realtime.DriverLocationPayload{
		RideID:    ride.ID,
		DriverID:  driverID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Timestamp: at,
	})
	s.events.ToUser(ride.RiderID, realtime.EventDriverLocation, realtime.DriverLocationPayload{
		RideID:    ride.ID,
		DriverID:  driverID,
		Lat:       req.Lat,
		Lng:       req.Lng,
		Timestamp: at,
	})
	return nil
}
