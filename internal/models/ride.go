package models

import (
	"time"

	"github.com/lib/pq"
)

// Ride status constants
const (
	RideStatusRequested         = "requested"
	RideStatusSearchingDriver   = "searching_driver"
	RideStatusDriverAssigned    = "driver_assigned"
	RideStatusDriverArriving    = "driver_arriving"
	RideStatusDriverArrived     = "driver_arrived"
	RideStatusInProgress        = "in_progress"
	RideStatusCompleted         = "completed"
	RideStatusCancelledByRider  = "cancelled_by_rider"
	RideStatusCancelledByDriver = "cancelled_by_driver"
	RideStatusCancelledBySystem = "cancelled_by_system"
)

// Valid ride state transitions. Cancellation states are reachable from every
// non-terminal status except in_progress, where cancellation is refused.
var ValidRideTransitions = map[string][]string{
	RideStatusRequested: {RideStatusSearchingDriver,
		RideStatusCancelledByRider, RideStatusCancelledBySystem},
	RideStatusSearchingDriver: {RideStatusDriverAssigned,
		RideStatusCancelledByRider, RideStatusCancelledBySystem},
	RideStatusDriverAssigned: {RideStatusDriverArriving, RideStatusSearchingDriver,
		RideStatusCancelledByRider, RideStatusCancelledByDriver, RideStatusCancelledBySystem},
	RideStatusDriverArriving: {RideStatusDriverArrived, RideStatusSearchingDriver,
		RideStatusCancelledByRider, RideStatusCancelledByDriver, RideStatusCancelledBySystem},
	RideStatusDriverArrived: {RideStatusInProgress,
		RideStatusCancelledByRider, RideStatusCancelledByDriver, RideStatusCancelledBySystem},
	RideStatusInProgress:        {RideStatusCompleted},
	RideStatusCompleted:         {},
	RideStatusCancelledByRider:  {},
	RideStatusCancelledByDriver: {},
	RideStatusCancelledBySystem: {},
}

// Statuses from which a driver accept may still win the ride.
var BiddableStatuses = []string{RideStatusRequested, RideStatusSearchingDriver}

type Location struct {
	Lat     float64 `json:"lat" validate:"required,latitude"`
	Lng     float64 `json:"lng" validate:"required,longitude"`
	Address string  `json:"address,omitempty"`
}

type Ride struct {
	ID                 string         `db:"id" json:"id"`
	RiderID            string         `db:"rider_id" json:"rider_id"`
	DriverID           *string        `db:"driver_id" json:"driver_id,omitempty"`
	PickupLat          float64        `db:"pickup_lat" json:"pickup_lat"`
	PickupLng          float64        `db:"pickup_lng" json:"pickup_lng"`
	PickupAddress      *string        `db:"pickup_address" json:"pickup_address,omitempty"`
	DestLat            float64        `db:"dest_lat" json:"dest_lat"`
	DestLng            float64        `db:"dest_lng" json:"dest_lng"`
	DestAddress        *string        `db:"dest_address" json:"dest_address,omitempty"`
	VehicleType        string         `db:"vehicle_type" json:"vehicle_type"`
	Status             string         `db:"status" json:"status"`
	EstimatedFare      *float64       `db:"estimated_fare" json:"estimated_fare,omitempty"`
	ActualFare         *float64       `db:"actual_fare" json:"actual_fare,omitempty"`
	EstimatedDistKm    *float64       `db:"estimated_dist_km" json:"estimated_dist_km,omitempty"`
	ActualDistKm       *float64       `db:"actual_dist_km" json:"actual_dist_km,omitempty"`
	ExcludedDrivers    pq.StringArray `db:"excluded_drivers" json:"-"`
	CancellationReason *string        `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CancellationCharge *float64       `db:"cancellation_charge" json:"cancellation_charge,omitempty"`
	IdempotencyKey     *string        `db:"idempotency_key" json:"idempotency_key,omitempty"`
	RequestedAt        time.Time      `db:"requested_at" json:"requested_at"`
	AssignedAt         *time.Time     `db:"assigned_at" json:"assigned_at,omitempty"`
	ArrivedAt          *time.Time     `db:"arrived_at" json:"arrived_at,omitempty"`
	StartedAt          *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt        *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CancelledAt        *time.Time     `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt          time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at" json:"updated_at"`
}

type CreateRideRequest struct {
	RiderID     string   `json:"rider_id" validate:"required,uuid"`
	Pickup      Location `json:"pickup" validate:"required"`
	Destination Location `json:"destination" validate:"required"`
	VehicleType string   `json:"vehicle_type" validate:"required,oneof=auto mini sedan suv"`
}

type CancelRideRequest struct {
	CancelledBy string `json:"cancelled_by" validate:"required,oneof=rider driver system"`
	ActorID     string `json:"actor_id" validate:"required,uuid"`
	Reason      string `json:"reason,omitempty"`
}

type RideStatusUpdateRequest struct {
	Status   string `json:"status" validate:"required"`
	DriverID string `json:"driver_id" validate:"required,uuid"`
}

type DriverResponseRequest struct {
	RideID   string `json:"ride_id" validate:"required,uuid"`
	Response string `json:"response" validate:"required,oneof=accept reject"`
}

type RideResponse struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	RiderID            string    `json:"rider_id"`
	DriverID           *string   `json:"driver_id,omitempty"`
	Pickup             Location  `json:"pickup"`
	Destination        Location  `json:"destination"`
	VehicleType        string    `json:"vehicle_type"`
	EstimatedFare      *float64  `json:"estimated_fare,omitempty"`
	ActualFare         *float64  `json:"actual_fare,omitempty"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	CancellationCharge *float64  `json:"cancellation_charge,omitempty"`
	RequestedAt        time.Time `json:"requested_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (r *Ride) ToResponse() *RideResponse {
	resp := &RideResponse{
		ID:       r.ID,
		Status:   r.Status,
		RiderID:  r.RiderID,
		DriverID: r.DriverID,
		Pickup: Location{
			Lat: r.PickupLat,
			Lng: r.PickupLng,
		},
		Destination: Location{
			Lat: r.DestLat,
			Lng: r.DestLng,
		},
		VehicleType:        r.VehicleType,
		EstimatedFare:      r.EstimatedFare,
		ActualFare:         r.ActualFare,
		CancellationReason: r.CancellationReason,
		CancellationCharge: r.CancellationCharge,
		RequestedAt:        r.RequestedAt,
		UpdatedAt:          r.UpdatedAt,
	}

	if r.PickupAddress != nil {
		resp.Pickup.Address = *r.PickupAddress
	}
	if r.DestAddress != nil {
		resp.Destination.Address = *r.DestAddress
	}

	return resp
}

// CanTransitionTo checks if a ride can transition to a new status
func (r *Ride) CanTransitionTo(newStatus string) bool {
	validNextStates, exists := ValidRideTransitions[r.Status]
	if !exists {
		return false
	}

	for _, state := range validNextStates {
		if state == newStatus {
			return true
		}
	}
	return false
}

// IsActive returns true if the ride is not in a terminal state
func (r *Ride) IsActive() bool {
	return !IsTerminalRideStatus(r.Status)
}

// IsBiddable reports whether a driver accept may still win this ride.
func (r *Ride) IsBiddable() bool {
	for _, s := range BiddableStatuses {
		if r.Status == s {
			return true
		}
	}
	return false
}

func IsTerminalRideStatus(status string) bool {
	switch status {
	case RideStatusCompleted, RideStatusCancelledByRider,
		RideStatusCancelledByDriver, RideStatusCancelledBySystem:
		return true
	}
	return false
}

func IsCancelledRideStatus(status string) bool {
	switch status {
	case RideStatusCancelledByRider, RideStatusCancelledByDriver, RideStatusCancelledBySystem:
		return true
	}
	return false
}

// IsExcluded reports whether the driver sat out of this ride's fan-out,
// e.g. after cancelling a previous assignment on the same ride.
func (r *Ride) IsExcluded(driverID string) bool {
	for _, id := range r.ExcludedDrivers {
		if id == driverID {
			return true
		}
	}
	return false
}
