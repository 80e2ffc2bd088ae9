package service

import (
	"context"

	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/repository"
)

type UserService interface {
	CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error)
	GetUser(ctx context.Context, id string) (*models.User, error)
	AddContact(ctx context.Context, userID string, req *models.CreateContactRequest) (*models.EmergencyContact, error)
	ListContacts(ctx context.Context, userID string) ([]*models.EmergencyContact, error)
	DeleteContact(ctx context.Context, userID, contactID string) error
}

type userService struct {
	userRepo    repository.UserRepository
	contactRepo repository.ContactRepository
}

func NewUserService(userRepo repository.UserRepository, contactRepo repository.ContactRepository) UserService {
	return &userService{userRepo: userRepo, contactRepo: contactRepo}
}

func (s *userService) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	existing, err := s.userRepo.GetByPhone(ctx, req.Phone)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.Conflict("user with this phone already exists")
	}

	user := &models.User{
		Phone: req.Phone,
		Name:  req.Name,
		Role:  req.Role,
	}
	if req.Email != "" {
		email := req.Email
		user.Email = &email
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *userService) GetUser(ctx context.Context, id string) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}
	return user, nil
}

func (s *userService) AddContact(ctx context.Context, userID string, req *models.CreateContactRequest) (*models.EmergencyContact, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}

	contact := &models.EmergencyContact{
		UserID:               userID,
		Name:                 req.Name,
		Phone:                req.Phone,
		NotificationsEnabled: true,
	}
	if req.NotificationsEnabled != nil {
		contact.NotificationsEnabled = *req.NotificationsEnabled
	}
	if err := s.contactRepo.Create(ctx, contact); err != nil {
		return nil, err
	}
	return contact, nil
}

func (s *userService) ListContacts(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	return s.contactRepo.ListByUserID(ctx, userID)
}

func (s *userService) DeleteContact(ctx context.Context, userID, contactID string) error {
	ok, err := s.contactRepo.Delete(ctx, contactID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("contact")
	}
	return nil
}
