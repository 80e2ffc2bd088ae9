package realtime

import (
	"time"

	"github.com/rideflow/dispatch/internal/models"
)

// Event names carried over the wire. Each name has exactly one payload type;
// clients switch on Envelope.Type and decode Data accordingly.
const (
	// client -> server
	EventAuthenticate     = "authenticate"
	EventRequestRide      = "request_ride"
	EventDriverResponse   = "driver_response"
	EventLocationUpdate   = "location_update"
	EventRideStatusUpdate = "ride_status_update"
	EventJoinRide         = "join_ride"
	EventRideMessage      = "ride_message"
	EventSOSAlert         = "sos_alert"
	EventCancel           = "cancel"

	// server -> client
	EventAuthenticated  = "authenticated"
	EventAuthError      = "auth_error"
	EventNewRideRequest = "new_ride_request"
	EventRideUpdate     = "ride_update"
	EventDriverAssigned = "driver_assigned"
	EventRideAssigned   = "ride_assigned"
	EventDriverLocation = "driver_location"
	EventRideCancelled  = "ride_cancelled"
	EventSOSAlertSent   = "sos_alert_sent"
	EventSOSUpdate      = "sos_update"
	EventConflict       = "conflict"
	EventError          = "error"
)

// Envelope wraps every server-to-client frame. Seq is monotonic per ride so
// recipients can detect that status events arrived in apply order.
type Envelope struct {
	Type string      `json:"type"`
	Seq  int64       `json:"seq,omitempty"`
	At   time.Time   `json:"at"`
	Data interface{} `json:"data,omitempty"`
}

// AuthenticatePayload binds an identity and role to a connection.
type AuthenticatePayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Token  string `json:"token"`
}

type AuthenticatedPayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// NewRideRequestPayload is the offer fanned out to each candidate driver.
type NewRideRequestPayload struct {
	RideID             string          `json:"ride_id"`
	Pickup             models.Location `json:"pickup"`
	Destination        models.Location `json:"destination"`
	VehicleType        string          `json:"vehicle_type"`
	EstimatedFare      *float64        `json:"estimated_fare,omitempty"`
	DistanceToPickupKm float64         `json:"distance_to_pickup_km"`
}

type RideUpdatePayload struct {
	RideID   string  `json:"ride_id"`
	Status   string  `json:"status"`
	DriverID *string `json:"driver_id,omitempty"`
}

type DriverAssignedPayload struct {
	RideID   string  `json:"ride_id"`
	DriverID string  `json:"driver_id"`
	Name     string  `json:"name,omitempty"`
	Phone    string  `json:"phone,omitempty"`
	Vehicle  string  `json:"vehicle,omitempty"`
	Rating   float64 `json:"rating,omitempty"`
}

type RideAssignedPayload struct {
	RideID      string          `json:"ride_id"`
	RiderID     string          `json:"rider_id"`
	Pickup      models.Location `json:"pickup"`
	Destination models.Location `json:"destination"`
}

type LocationUpdatePayload struct {
	Lat       float64    `json:"lat"`
	Lng       float64    `json:"lng"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

type DriverLocationPayload struct {
	RideID    string    `json:"ride_id"`
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

type RideStatusUpdatePayload struct {
	RideID string `json:"ride_id"`
	Status string `json:"status"`
}

type JoinRidePayload struct {
	RideID string `json:"ride_id"`
}

// RideMessagePayload is in-trip chat relayed over the per-ride channel.
type RideMessagePayload struct {
	RideID string `json:"ride_id"`
	From   string `json:"from"`
	Text   string `json:"text"`
}

type RideCancelledPayload struct {
	RideID string   `json:"ride_id"`
	Status string   `json:"status"`
	Reason string   `json:"reason,omitempty"`
	Charge *float64 `json:"charge,omitempty"`
}

type SOSAlertPayload struct {
	AlertID  string  `json:"alert_id"`
	UserID   string  `json:"user_id"`
	RideID   *string `json:"ride_id,omitempty"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Severity string  `json:"severity"`
	Message  string  `json:"message,omitempty"`
}

type SOSAlertSentPayload struct {
	AlertID          string `json:"alert_id"`
	Status           string `json:"status"`
	ContactsNotified int    `json:"contacts_notified"`
	DriversNotified  int    `json:"drivers_notified"`
}

type SOSUpdatePayload struct {
	AlertID string `json:"alert_id"`
	Status  string `json:"status"`
}

type ConflictPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	RideID  string `json:"ride_id,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
