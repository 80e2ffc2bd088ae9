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

type UserHandler struct {
	userService service.UserService
	validate    *validator.Validate
}

func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{
		userService: userService,
		validate:    validator.New(),
	}
}

func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Post("/users", h.CreateUser)
	r.Get("/users/{id}", h.GetUser)
	r.Post("/users/{id}/contacts", h.AddContact)
	r.Get("/users/{id}/contacts", h.ListContacts)
	r.Delete("/users/{id}/contacts/{contactId}", h.DeleteContact)
}

// POST /v1/users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	user, err := h.userService.CreateUser(r.Context(), &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, user.ToResponse())
}

// GET /v1/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !utils.IsValidUUID(id) {
		utils.BadRequest(w, "invalid user id")
		return
	}

	user, err := h.userService.GetUser(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, user.ToResponse())
}

// POST /v1/users/{id}/contacts
func (h *UserHandler) AddContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req models.CreateContactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		utils.BadRequest(w, err.Error())
		return
	}

	contact, err := h.userService.AddContact(r.Context(), id, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Created(w, contact)
}

// GET /v1/users/{id}/contacts
func (h *UserHandler) ListContacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	contacts, err := h.userService.ListContacts(r.Context(), id)
	if err != nil {
		handleError(w, err)
		return
	}

	utils.Success(w, http.StatusOK, contacts)
}

// DELETE /v1/users/{id}/contacts/{contactId}
func (h *UserHandler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	contactID := chi.URLParam(r, "contactId")

	if err := h.userService.DeleteContact(r.Context(), id, contactID); err != nil {
		handleError(w, err)
		return
	}

	utils.NoContent(w)
}
