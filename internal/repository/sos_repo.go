package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rideflow/dispatch/internal/models"
)

// SOSRepository persists alerts as append-and-update audit records; rows are
// never deleted. Status moves use the same conditional-update discipline as
// the ride store so the escalation sweep and user updates cannot double-fire.
type SOSRepository interface {
	Create(ctx context.Context, alert *models.SOSAlert) error
	GetByID(ctx context.Context, id string) (*models.SOSAlert, error)
	// UpdateStatusIf applies from -> to; false means the alert had moved on.
	UpdateStatusIf(ctx context.Context, id, from, to string) (bool, error)
	// EscalateIf marks the alert escalated only from an escalatable status.
	EscalateIf(ctx context.Context, id string) (bool, error)
	// ListEscalatable returns alerts still active/acknowledged and triggered
	// before the cutoff, for the periodic SLA sweep.
	ListEscalatable(ctx context.Context, cutoff time.Time) ([]*models.SOSAlert, error)
	SetFanOutCounts(ctx context.Context, id string, contacts, drivers int) error
}

type sosRepository struct {
	db *sqlx.DB
}

func NewSOSRepository(db *sqlx.DB) SOSRepository {
	return &sosRepository{db: db}
}

func (r *sosRepository) Create(ctx context.Context, alert *models.SOSAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	now := time.Now()
	alert.CreatedAt = now
	alert.UpdatedAt = now
	alert.TriggeredAt = now
	alert.Status = models.SOSStatusActive

	query := `
		INSERT INTO sos_alerts (id, user_id, ride_id, lat, lng, severity, status,
			message, contacts_notified, drivers_notified, triggered_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		alert.ID, alert.UserID, alert.RideID, alert.Lat, alert.Lng, alert.Severity,
		alert.Status, alert.Message, alert.ContactsNotified, alert.DriversNotified,
		alert.TriggeredAt, alert.CreatedAt, alert.UpdatedAt)
	return err
}

func (r *sosRepository) GetByID(ctx context.Context, id string) (*models.SOSAlert, error) {
	var alert models.SOSAlert
	query := `SELECT * FROM sos_alerts WHERE id = $1`
	err := r.db.GetContext(ctx, &alert, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return &alert, err
}

func (r *sosRepository) UpdateStatusIf(ctx context.Context, id, from, to string) (bool, error) {
	now := time.Now()
	query := `UPDATE sos_alerts SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	switch to {
	case models.SOSStatusAcknowledged:
		query = `UPDATE sos_alerts SET status = $1, updated_at = $2, acknowledged_at = $2 WHERE id = $3 AND status = $4`
	case models.SOSStatusResolved, models.SOSStatusFalseAlarm:
		query = `UPDATE sos_alerts SET status = $1, updated_at = $2, resolved_at = $2 WHERE id = $3 AND status = $4`
	}
	res, err := r.db.ExecContext(ctx, query, to, now, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *sosRepository) EscalateIf(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE sos_alerts
		SET status = $1, escalated_at = $2, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5)
	`
	res, err := r.db.ExecContext(ctx, query,
		models.SOSStatusEscalated, time.Now(), id,
		models.SOSStatusActive, models.SOSStatusAcknowledged)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (r *sosRepository) ListEscalatable(ctx context.Context, cutoff time.Time) ([]*models.SOSAlert, error) {
	var alerts []*models.SOSAlert
	query := `
		SELECT * FROM sos_alerts
		WHERE status IN ($1, $2) AND triggered_at <= $3
		ORDER BY triggered_at ASC
	`
	err := r.db.SelectContext(ctx, &alerts, query,
		models.SOSStatusActive, models.SOSStatusAcknowledged, cutoff)
	return alerts, err
}

func (r *sosRepository) SetFanOutCounts(ctx context.Context, id string, contacts, drivers int) error {
	query := `UPDATE sos_alerts SET contacts_notified = $1, drivers_notified = $2, updated_at = $3 WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, contacts, drivers, time.Now(), id)
	return err
}
