package handler

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rideflow/dispatch/internal/cache"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/service"
)

// WSHandler owns the websocket endpoint: one read loop per connection,
// dispatching client frames to the services. A connection is mute until its
// authenticate frame lands; every other frame type before that gets
// auth_error.
type WSHandler struct {
	hub             *realtime.Hub
	rideService     service.RideService
	matchingService service.MatchingService
	driverService   service.DriverService
	sosService      service.SOSService
	locations       cache.LocationCache
	validate        *validator.Validate
	upgrader        websocket.Upgrader
}

func NewWSHandler(
	hub *realtime.Hub,
	rideService service.RideService,
	matchingService service.MatchingService,
	driverService service.DriverService,
	sosService service.SOSService,
	locations cache.LocationCache,
) *WSHandler {
	return &WSHandler{
		hub:             hub,
		rideService:     rideService,
		matchingService: matchingService,
		driverService:   driverService,
		sosService:      sosService,
		locations:       locations,
		validate:        validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// clientFrame is the wire shape of every client-to-server message.
type clientFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// GET /ws
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	session := realtime.NewWSSession(conn)
	var userID, role string

	defer func() {
		if userID != "" {
			h.hub.Unbind(userID)
			if role == models.RoleDriver {
				// A gone driver must not receive offers; presence drops but
				// the durable ride state is untouched.
				if err := h.locations.Remove(context.Background(), userID); err != nil {
					log.Printf("ws: failed to drop driver %s location: %v", userID, err)
				}
			}
		}
		session.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			h.sendError(session, "bad_frame", "malformed message")
			continue
		}

		if frame.Type == realtime.EventAuthenticate {
			userID, role = h.handleAuthenticate(r.Context(), session, frame.Data)
			continue
		}
		if userID == "" {
			session.SendEvent(realtime.Envelope{
				Type: realtime.EventAuthError,
				Data: realtime.ErrorPayload{Code: "unauthenticated", Message: "authenticate first"},
			})
			continue
		}

		h.dispatch(r.Context(), session, userID, role, &frame)
	}
}

func (h *WSHandler) handleAuthenticate(ctx context.Context, session realtime.Sender, data json.RawMessage) (string, string) {
	var p realtime.AuthenticatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" || p.Role == "" {
		session.SendEvent(realtime.Envelope{
			Type: realtime.EventAuthError,
			Data: realtime.ErrorPayload{Code: "invalid_auth", Message: "user_id and role are required"},
		})
		return "", ""
	}
	if p.Role != models.RoleRider && p.Role != models.RoleDriver && p.Role != models.RoleAdmin {
		session.SendEvent(realtime.Envelope{
			Type: realtime.EventAuthError,
			Data: realtime.ErrorPayload{Code: "invalid_auth", Message: "unknown role"},
		})
		return "", ""
	}

	vehicleType := ""
	if p.Role == models.RoleDriver {
		driver, err := h.driverService.GetDriver(ctx, p.UserID)
		if err != nil {
			session.SendEvent(realtime.Envelope{
				Type: realtime.EventAuthError,
				Data: realtime.ErrorPayload{Code: "invalid_auth", Message: "unknown driver"},
			})
			return "", ""
		}
		vehicleType = driver.VehicleType
		// Disconnect drops the cached meta; restore it from durable state so
		// a reconnecting driver is searchable again without a status round-trip.
		if driver.Status != models.DriverStatusOffline {
			if err := h.locations.SetDriverMeta(ctx, p.UserID, driver.Status, driver.VehicleType); err != nil {
				log.Printf("ws: failed to restore driver %s meta: %v", p.UserID, err)
			}
		}
	}

	h.hub.Bind(p.UserID, p.Role, vehicleType, session)
	session.SendEvent(realtime.Envelope{
		Type: realtime.EventAuthenticated,
		Data: realtime.AuthenticatedPayload{UserID: p.UserID, Role: p.Role},
	})
	return p.UserID, p.Role
}

func (h *WSHandler) dispatch(ctx context.Context, session realtime.Sender, userID, role string, frame *clientFrame) {
	switch frame.Type {
	case realtime.EventRequestRide:
		h.handleRequestRide(ctx, session, userID, frame.Data)
	case realtime.EventDriverResponse:
		h.handleDriverResponse(ctx, session, userID, role, frame.Data)
	case realtime.EventLocationUpdate:
		h.handleLocationUpdate(ctx, session, userID, role, frame.Data)
	case realtime.EventRideStatusUpdate:
		h.handleRideStatusUpdate(ctx, session, userID, frame.Data)
	case realtime.EventJoinRide:
		h.handleJoinRide(ctx, session, userID, frame.Data)
	case realtime.EventRideMessage:
		h.handleRideMessage(ctx, session, userID, frame.Data)
	case realtime.EventSOSAlert:
		h.handleSOSAlert(ctx, session, userID, frame.Data)
	case realtime.EventCancel:
		h.handleCancel(ctx, session, userID, role, frame.Data)
	default:
		h.sendError(session, "unknown_event", "unsupported event type: "+frame.Type)
	}
}

func (h *WSHandler) handleRequestRide(ctx context.Context, session realtime.Sender, userID string, data json.RawMessage) {
	var req models.CreateRideRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(session, "bad_frame", "malformed request_ride payload")
		return
	}
	req.RiderID = userID
	if err := h.validate.Struct(req); err != nil {
		h.sendError(session, "validation_error", err.Error())
		return
	}

	ride, err := h.rideService.CreateRide(ctx, &req, "")
	if err != nil {
		h.sendServiceError(session, err, "")
		return
	}
	go h.matchingService.Dispatch(context.WithoutCancel(ctx), ride)
}

func (h *WSHandler) handleDriverResponse(ctx context.Context, session realtime.Sender, userID, role string, data json.RawMessage) {
	if role != models.RoleDriver {
		h.sendError(session, "authorization_error", "only drivers respond to offers")
		return
	}
	var req models.DriverResponseRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(session, "bad_frame", "malformed driver_response payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.sendError(session, "validation_error", err.Error())
		return
	}

	if _, err := h.matchingService.HandleDriverResponse(ctx, userID, &req); err != nil {
		h.sendServiceError(session, err, req.RideID)
	}
}

func (h *WSHandler) handleLocationUpdate(ctx context.Context, session realtime.Sender, userID, role string, data json.RawMessage) {
	if role != models.RoleDriver {
		h.sendError(session, "authorization_error", "only drivers publish locations")
		return
	}
	var req models.UpdateDriverLocationRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(session, "bad_frame", "malformed location_update payload")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.sendError(session, "validation_error", err.Error())
		return
	}

	if err := h.driverService.UpdateLocation(ctx, userID, &req); err != nil {
		h.sendServiceError(session, err, "")
	}
}

func (h *WSHandler) handleRideStatusUpdate(ctx context.Context, session realtime.Sender, userID string, data json.RawMessage) {
	var p struct {
		RideID string `json:"ride_id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" || p.Status == "" {
		h.sendError(session, "bad_frame", "malformed ride_status_update payload")
		return
	}

	if p.Status == models.RideStatusCompleted {
		if _, err := h.rideService.CompleteRide(ctx, p.RideID, userID, nil); err != nil {
			h.sendServiceError(session, err, p.RideID)
		}
		return
	}

	ride, err := h.rideService.GetRide(ctx, p.RideID)
	if err != nil {
		h.sendServiceError(session, err, p.RideID)
		return
	}
	if _, err := h.rideService.ApplyTransition(ctx, p.RideID, ride.Status, p.Status, userID); err != nil {
		h.sendServiceError(session, err, p.RideID)
	}
}

func (h *WSHandler) handleJoinRide(ctx context.Context, session realtime.Sender, userID string, data json.RawMessage) {
	var p realtime.JoinRidePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
		h.sendError(session, "bad_frame", "malformed join_ride payload")
		return
	}

	ride, err := h.rideService.GetRide(ctx, p.RideID)
	if err != nil {
		h.sendServiceError(session, err, p.RideID)
		return
	}
	if ride.RiderID != userID && (ride.DriverID == nil || *ride.DriverID != userID) {
		h.sendError(session, "authorization_error", "not a party to this ride")
		return
	}

	h.hub.JoinRide(p.RideID, userID)
	// Snapshot on join so a reconnecting client resyncs from durable state.
	session.SendEvent(realtime.Envelope{
		Type: realtime.EventRideUpdate,
		Data: realtime.RideUpdatePayload{RideID: ride.ID, Status: ride.Status, DriverID: ride.DriverID},
	})
}

func (h *WSHandler) handleRideMessage(ctx context.Context, session realtime.Sender, userID string, data json.RawMessage) {
	var p realtime.RideMessagePayload
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" || p.Text == "" {
		h.sendError(session, "bad_frame", "malformed ride_message payload")
		return
	}

	ride, err := h.rideService.GetRide(ctx, p.RideID)
	if err != nil {
		h.sendServiceError(session, err, p.RideID)
		return
	}
	if ride.RiderID != userID && (ride.DriverID == nil || *ride.DriverID != userID) {
		h.sendError(session, "authorization_error", "not a party to this ride")
		return
	}

	p.From = userID
	h.hub.ToRide(p.RideID, realtime.EventRideMessage, p)
}

func (h *WSHandler) handleSOSAlert(ctx context.Context, session realtime.Sender, userID string, data json.RawMessage) {
	var req models.TriggerSOSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.sendError(session, "bad_frame", "malformed sos_alert payload")
		return
	}
	req.UserID = userID
	if err := h.validate.Struct(req); err != nil {
		h.sendError(session, "validation_error", err.Error())
		return
	}

	if _, err := h.sosService.Trigger(ctx, &req); err != nil {
		h.sendServiceError(session, err, "")
	}
}

func (h *WSHandler) handleCancel(ctx context.Context, session realtime.Sender, userID, role string, data json.RawMessage) {
	var p struct {
		RideID string `json:"ride_id"`
		Reason string `json:"reason,omitempty"`
	}
	if err := json.Unmarshal(data, &p); err != nil || p.RideID == "" {
		h.sendError(session, "bad_frame", "malformed cancel payload")
		return
	}

	cancelledBy := "rider"
	if role == models.RoleDriver {
		cancelledBy = "driver"
	}
	req := &models.CancelRideRequest{
		CancelledBy: cancelledBy,
		ActorID:     userID,
		Reason:      p.Reason,
	}
	if _, err := h.rideService.CancelRide(ctx, p.RideID, req); err != nil {
		h.sendServiceError(session, err, p.RideID)
	}
}

func (h *WSHandler) sendError(session realtime.Sender, code, message string) {
	session.SendEvent(realtime.Envelope{
		Type: realtime.EventError,
		At:   time.Now(),
		Data: realtime.ErrorPayload{Code: code, Message: message},
	})
}

// sendServiceError distinguishes expected races from faults: a losing accept
// or stale transition comes back as a conflict event, not an error.
func (h *WSHandler) sendServiceError(session realtime.Sender, err error, rideID string) {
	if apiErr, ok := err.(*apperrors.APIError); ok {
		if apiErr.StatusCode == http.StatusConflict {
			session.SendEvent(realtime.Envelope{
				Type: realtime.EventConflict,
				At:   time.Now(),
				Data: realtime.ConflictPayload{Code: apiErr.Code, Message: apiErr.Message, RideID: rideID},
			})
			return
		}
		h.sendError(session, apiErr.Code, apiErr.Message)
		return
	}
	h.sendError(session, "internal_error", "internal server error")
}
