package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/service"
	"github.com/rideflow/dispatch/pkg/utils"
)

type DriverHandler struct {
	driverService service.DriverService
	validate      *validator.Validate
}

func NewDriverHandler(driverService service.DriverService) *DriverHandler {
	return &DriverHandler{
		driverService: driverService,
		validate:      validator.New(),
	}
}

func (h *DriverHandler) RegisterRoutes(r chi.Router) {
	r.Post("/drivers", h.RegisterDriver)
	r.Get("/drivers/{id}", h.GetDriver)
	r.Put("/drivers/{id}/availability", h.SetAvailability)
	r.Put("/drivers/{id}/location", h.UpdateLocation)
}

// POST /v1/drivers
func (h *DriverHandler) RegisterDriver(w http.ResponseWriter, r *http.Request) {
	var req models.CreateDriverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	driver, err := h.driverService.RegisterDriver(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, driver.ToResponse())
}

// GET /v1/drivers/{id}
func (h *DriverHandler) GetDriver(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !utils.IsValidUUID(id) {
		utils.BadRequest(w, "invalid driver id")
		return
	}

	driver, err := h.driverService.GetDriver(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, driver.ToResponse())
}

// PUT /v1/drivers/{id}/availability
func (h *DriverHandler) SetAvailability(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Status string `json:"status" validate:"required,oneof=online offline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	driver, err := h.driverService.SetAvailability(r.Context(), id, req.Status)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, driver.ToResponse())
}

// PUT /v1/drivers/{id}/location
func (h *DriverHandler) UpdateLocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateDriverLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	if err := h.driverService.UpdateLocation(r.Context(), id, &req); err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, map[string]string{"status": "ok"})
}
