package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rideflow/dispatch/internal/models"
)

type ContactRepository interface {
	Create(ctx context.Context, contact *models.EmergencyContact) error
	ListByUserID(ctx context.Context, userID string) ([]*models.EmergencyContact, error)
	// ListNotifiable returns only contacts that opted into notifications;
	// the SOS fan-out reads this list.
	ListNotifiable(ctx context.Context, userID string) ([]*models.EmergencyContact, error)
	Delete(ctx context.Context, id, userID string) (bool, error)
}

type contactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) ContactRepository {
	return &contactRepository{db: db}
}

func (r *contactRepository) Create(ctx context.Context, contact *models.EmergencyContact) error {
	if contact.ID == "" {
		contact.ID = uuid.New().String()
	}
	contact.CreatedAt = time.Now()

	query := `
		INSERT INTO emergency_contacts (id, user_id, name, phone, notifications_enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		contact.ID, contact.UserID, contact.Name, contact.Phone,
		contact.NotificationsEnabled, contact.CreatedAt)
	return err
}

func (r *contactRepository) ListByUserID(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	var contacts []*models.EmergencyContact
	query := `SELECT * FROM emergency_contacts WHERE user_id = $1 ORDER BY created_at ASC`
	err := r.db.SelectContext(ctx, &contacts, query, userID)
	return contacts, err
}

func (r *contactRepository) ListNotifiable(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	var contacts []*models.EmergencyContact
	query := `SELECT * FROM emergency_contacts WHERE user_id = $1 AND notifications_enabled = TRUE`
	err := r.db.SelectContext(ctx, &contacts, query, userID)
	return contacts, err
}

func (r *contactRepository) Delete(ctx context.Context, id, userID string) (bool, error) {
	query := `DELETE FROM emergency_contacts WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}
