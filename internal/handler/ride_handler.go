package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/middleware"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/service"
	"github.com/rideflow/dispatch/pkg/utils"
)

type RideHandler struct {
	rideService     service.RideService
	matchingService service.MatchingService
	validate        *validator.Validate
}

func NewRideHandler(rideService service.RideService, matchingService service.MatchingService) *RideHandler {
	return &RideHandler{
		rideService:     rideService,
		matchingService: matchingService,
		validate:        validator.New(),
	}
}

func (h *RideHandler) RegisterRoutes(r chi.Router) {
	r.Post("/rides", h.CreateRide)
	r.Get("/rides/{id}", h.GetRide)
	r.Get("/riders/{riderId}/rides/active", h.GetActiveRide)
	r.Get("/riders/{riderId}/rides", h.ListRideHistory)
	r.Post("/rides/{id}/status", h.UpdateRideStatus)
	r.Post("/rides/{id}/complete", h.CompleteRide)
	r.Post("/rides/{id}/cancel", h.CancelRide)
	r.Post("/rides/respond", h.DriverResponse)
}

// POST /v1/rides
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	idempotencyKey := r.Header.Get(middleware.IdempotencyHeader)

	ride, err := h.rideService.CreateRide(r.Context(), &req, idempotencyKey)
	if err != nil {
		handleError(w, err)
		return
	}

	// Fan-out runs off the request path; the rider learns the outcome over
	// their realtime channel.
	if ride.Status == models.RideStatusRequested {
		go h.matchingService.Dispatch(detachedContext(r), ride)
	}

	utils.Created(w, ride.ToResponse())
}

// GET /v1/rides/{id}
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !utils.IsValidUUID(id) {
		utils.BadRequest(w, "invalid ride id")
		return
	}

	ride, err := h.rideService.GetRide(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride.ToResponse())
}

// GET /v1/riders/{riderId}/rides/active
func (h *RideHandler) GetActiveRide(w http.ResponseWriter, r *http.Request) {
	riderID := chi.URLParam(r, "riderId")

	ride, err := h.rideService.GetActiveRide(r.Context(), riderID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride.ToResponse())
}

// GET /v1/riders/{riderId}/rides?limit=20
func (h *RideHandler) ListRideHistory(w http.ResponseWriter, r *http.Request) {
	riderID := chi.URLParam(r, "riderId")

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			utils.BadRequest(w, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	rides, err := h.rideService.ListRideHistory(r.Context(), riderID, limit)
	if err != nil {
		handleError(w, err)
		return
	}

	out := make([]*models.RideResponse, 0, len(rides))
	for _, ride := range rides {
		out = append(out, ride.ToResponse())
	}
	utils.Success(w, http.StatusOK, out)
}

// POST /v1/rides/{id}/status
func (h *RideHandler) UpdateRideStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.RideStatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	ride, err := h.rideService.GetRide(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	updated, err := h.rideService.ApplyTransition(r.Context(), id, ride.Status, req.Status, req.DriverID)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, updated.ToResponse())
}

// POST /v1/rides/{id}/complete
func (h *RideHandler) CompleteRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		DriverID     string   `json:"driver_id" validate:"required,uuid"`
		ActualDistKm *float64 `json:"actual_dist_km,omitempty" validate:"omitempty,gt=0"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	ride, err := h.rideService.CompleteRide(r.Context(), id, req.DriverID, req.ActualDistKm)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride.ToResponse())
}

// POST /v1/rides/{id}/cancel
func (h *RideHandler) CancelRide(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !utils.IsValidUUID(id) {
		utils.BadRequest(w, "invalid ride id")
		return
	}

	var req models.CancelRideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	ride, err := h.rideService.CancelRide(r.Context(), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride.ToResponse())
}

// POST /v1/rides/respond
func (h *RideHandler) DriverResponse(w http.ResponseWriter, r *http.Request) {
	driverID := r.Header.Get("X-Driver-ID")
	if driverID == "" {
		utils.BadRequest(w, "X-Driver-ID header is required")
		return
	}

	var req models.DriverResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	ride, err := h.matchingService.HandleDriverResponse(r.Context(), driverID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, ride.ToResponse())
}

// detachedContext keeps request values but outlives the request, for work
// that continues after the response is written.
func detachedContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func handleError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apperrors.APIError); ok {
		utils.Error(w, apiErr)
		return
	}

	switch err {
	case apperrors.ErrNoDriversAvailable:
		utils.Error(w, apperrors.NoDriversAvailable())
	case apperrors.ErrRideNoLongerAvailable:
		utils.Error(w, apperrors.RideNoLongerAvailable())
	case apperrors.ErrRiderHasActiveRide:
		utils.Error(w, apperrors.RiderHasActiveRide())
	case apperrors.ErrDriverHasActiveRide:
		utils.Error(w, apperrors.DriverHasActiveRide())
	default:
		utils.InternalError(w, "internal server error")
	}
}
