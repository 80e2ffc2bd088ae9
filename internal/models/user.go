package models

import (
	"time"
)

// Roles bound during the authenticate exchange
const (
	RoleRider  = "rider"
	RoleDriver = "driver"
	RoleAdmin  = "admin"
)

type User struct {
	ID        string    `db:"id" json:"id"`
	Phone     string    `db:"phone" json:"phone"`
	Name      string    `db:"name" json:"name"`
	Email     *string   `db:"email" json:"email,omitempty"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

type CreateUserRequest struct {
	Phone string `json:"phone" validate:"required,min=10,max=15"`
	Name  string `json:"name" validate:"required,min=2,max=100"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
	Role  string `json:"role,omitempty" validate:"omitempty,oneof=rider driver admin"`
}

type UserResponse struct {
	ID    string `json:"id"`
	Phone string `json:"phone"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:    u.ID,
		Phone: u.Phone,
		Name:  u.Name,
		Role:  u.Role,
	}
}

// EmergencyContact is notified when its owner triggers an SOS alert.
type EmergencyContact struct {
	ID                   string    `db:"id" json:"id"`
	UserID               string    `db:"user_id" json:"user_id"`
	Name                 string    `db:"name" json:"name"`
	Phone                string    `db:"phone" json:"phone"`
	NotificationsEnabled bool      `db:"notifications_enabled" json:"notifications_enabled"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

type CreateContactRequest struct {
	Name                 string `json:"name" validate:"required,min=2,max=100"`
	Phone                string `json:"phone" validate:"required,min=10,max=15"`
	NotificationsEnabled *bool  `json:"notifications_enabled,omitempty"`
}
