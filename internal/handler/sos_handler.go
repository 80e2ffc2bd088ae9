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

type SOSHandler struct {
	sosService service.SOSService
	validate   *validator.Validate
}

func NewSOSHandler(sosService service.SOSService) *SOSHandler {
	return &SOSHandler{
		sosService: sosService,
		validate:   validator.New(),
	}
}

func (h *SOSHandler) RegisterRoutes(r chi.Router) {
	r.Post("/sos", h.Trigger)
	r.Get("/sos/{id}", h.GetAlert)
	r.Put("/sos/{id}/status", h.UpdateStatus)
}

// POST /v1/sos
func (h *SOSHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req models.TriggerSOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	alert, err := h.sosService.Trigger(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, alert)
}

// GET /v1/sos/{id}
func (h *SOSHandler) GetAlert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !utils.IsValidUUID(id) {
		utils.BadRequest(w, "invalid alert id")
		return
	}

	alert, err := h.sosService.GetAlert(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, alert)
}

// PUT /v1/sos/{id}/status
func (h *SOSHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.UpdateSOSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	alert, err := h.sosService.UpdateStatus(r.Context(), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, alert)
}
