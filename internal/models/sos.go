package models

import (
	"time"
)

// SOS alert status constants
const (
	SOSStatusActive       = "active"
	SOSStatusAcknowledged = "acknowledged"
	SOSStatusResponding   = "responding"
	SOSStatusResolved     = "resolved"
	SOSStatusFalseAlarm   = "false_alarm"
	SOSStatusCancelled    = "cancelled"
	SOSStatusEscalated    = "escalated"
)

// SOS severity levels
const (
	SOSSeverityLow      = "low"
	SOSSeverityMedium   = "medium"
	SOSSeverityHigh     = "high"
	SOSSeverityCritical = "critical"
)

// Valid SOS alert state transitions. cancelled is only reachable by the
// triggering user, escalated only by the SLA sweep; both guards live in the
// service, the table only declares shape.
var ValidSOSTransitions = map[string][]string{
	SOSStatusActive: {SOSStatusAcknowledged, SOSStatusResponding,
		SOSStatusResolved, SOSStatusFalseAlarm, SOSStatusCancelled, SOSStatusEscalated},
	SOSStatusAcknowledged: {SOSStatusResponding,
		SOSStatusResolved, SOSStatusFalseAlarm, SOSStatusCancelled, SOSStatusEscalated},
	SOSStatusResponding: {SOSStatusResolved, SOSStatusFalseAlarm},
	SOSStatusResolved:   {},
	SOSStatusFalseAlarm: {},
	SOSStatusCancelled:  {},
	SOSStatusEscalated:  {},
}

type SOSAlert struct {
	ID               string     `db:"id" json:"id"`
	UserID           string     `db:"user_id" json:"user_id"`
	RideID           *string    `db:"ride_id" json:"ride_id,omitempty"`
	Lat              float64    `db:"lat" json:"lat"`
	Lng              float64    `db:"lng" json:"lng"`
	Severity         string     `db:"severity" json:"severity"`
	Status           string     `db:"status" json:"status"`
	Message          *string    `db:"message" json:"message,omitempty"`
	ContactsNotified int        `db:"contacts_notified" json:"contacts_notified"`
	DriversNotified  int        `db:"drivers_notified" json:"drivers_notified"`
	TriggeredAt      time.Time  `db:"triggered_at" json:"triggered_at"`
	AcknowledgedAt   *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	EscalatedAt      *time.Time `db:"escalated_at" json:"escalated_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

type TriggerSOSRequest struct {
	UserID   string   `json:"user_id" validate:"required,uuid"`
	RideID   string   `json:"ride_id,omitempty" validate:"omitempty,uuid"`
	Location Location `json:"location" validate:"required"`
	Severity string   `json:"severity" validate:"required,oneof=low medium high critical"`
	Message  string   `json:"message,omitempty" validate:"max=500"`
}

type UpdateSOSRequest struct {
	Status  string `json:"status" validate:"required,oneof=acknowledged responding resolved false_alarm cancelled"`
	ActorID string `json:"actor_id" validate:"required,uuid"`
}

// CanTransitionTo checks if an alert can transition to a new status
func (a *SOSAlert) CanTransitionTo(newStatus string) bool {
	validNextStates, exists := ValidSOSTransitions[a.Status]
	if !exists {
		return false
	}

	for _, state := range validNextStates {
		if state == newStatus {
			return true
		}
	}
	return false
}

// IsActive returns true if the alert is not in a terminal state
func (a *SOSAlert) IsActive() bool {
	return !IsTerminalSOSStatus(a.Status)
}

func IsTerminalSOSStatus(status string) bool {
	switch status {
	case SOSStatusResolved, SOSStatusFalseAlarm, SOSStatusCancelled, SOSStatusEscalated:
		return true
	}
	return false
}

// IsEscalatable reports whether the SLA sweep may still move this alert to
// escalated. Only active and acknowledged alerts qualify; responding means a
// human took over.
func (a *SOSAlert) IsEscalatable() bool {
	return a.Status == SOSStatusActive || a.Status == SOSStatusAcknowledged
}
