package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rideflow/dispatch/internal/cache"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/notify"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/repository"
	"github.com/rideflow/dispatch/internal/scheduler"
)

// SOSService owns the emergency alert machine and its fan-out. Alert rows are
// an audit trail; nothing here ever deletes one.
type SOSService interface {
	Trigger(ctx context.Context, req *models.TriggerSOSRequest) (*models.SOSAlert, error)
	GetAlert(ctx context.Context, id string) (*models.SOSAlert, error)
	// UpdateStatus moves an alert through its machine. Cancellation is
	// restricted to the triggering user while the alert is still active or
	// acknowledged.
	UpdateStatus(ctx context.Context, alertID string, req *models.UpdateSOSRequest) (*models.SOSAlert, error)
	// RunEscalationSweep escalates every alert past the response SLA. Returns
	// how many alerts were escalated this pass.
	RunEscalationSweep(ctx context.Context) int
}

type sosService struct {
	sosRepo     repository.SOSRepository
	contactRepo repository.ContactRepository
	rideRepo    repository.RideRepository
	userRepo    repository.UserRepository
	locations   cache.LocationCache
	events      EventPublisher
	notifier    notify.Notifier
	sched       *scheduler.Scheduler

	escalationSLA  time.Duration
	nearbyRadiusKm float64
}

func NewSOSService(
	sosRepo repository.SOSRepository,
	contactRepo repository.ContactRepository,
	rideRepo repository.RideRepository,
	userRepo repository.UserRepository,
	locations cache.LocationCache,
	events EventPublisher,
	notifier notify.Notifier,
	sched *scheduler.Scheduler,
	escalationSLA time.Duration,
	nearbyRadiusKm float64,
) SOSService {
	return &sosService{
		sosRepo:        sosRepo,
		contactRepo:    contactRepo,
		rideRepo:       rideRepo,
		userRepo:       userRepo,
		locations:      locations,
		events:         events,
		notifier:       notifier,
		sched:          sched,
		escalationSLA:  escalationSLA,
		nearbyRadiusKm: nearbyRadiusKm,
	}
}

func alertTimerKey(alertID string) string {
	return "sos:" + alertID
}

func (s *sosService) Trigger(ctx context.Context, req *models.TriggerSOSRequest) (*models.SOSAlert, error) {
	user, err := s.userRepo.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperrors.NotFound("user")
	}

	alert := &models.SOSAlert{
		UserID:   req.UserID,
		Lat:      req.Location.Lat,
		Lng:      req.Location.Lng,
		Severity: req.Severity,
	}
	if req.RideID != "" {
		rideID := req.RideID
		alert.RideID = &rideID
	}
	if req.Message != "" {
		msg := req.Message
		alert.Message = &msg
	}

	if err := s.sosRepo.Create(ctx, alert); err != nil {
		return nil, err
	}

	contacts, drivers := s.fanOut(ctx, alert, user.Role)
	alert.ContactsNotified = contacts
	alert.DriversNotified = drivers
	if err := s.sosRepo.SetFanOutCounts(ctx, alert.ID, contacts, drivers); err != nil {
		log.Printf("sos: failed to record fan-out counts for alert %s: %v", alert.ID, err)
	}

	s.events.ToUser(alert.UserID, realtime.EventSOSAlertSent, realtime.SOSAlertSentPayload{
		AlertID:          alert.ID,
		Status:           alert.Status,
		ContactsNotified: contacts,
		DriversNotified:  drivers,
	})

	// Per-alert SLA timer; the sweep is the backstop if this process dies.
	s.sched.Schedule(alertTimerKey(alert.ID), s.escalationSLA, func() {
		s.escalate(alert.ID)
	})

	return alert, nil
}

// fanOut notifies everyone who should know: emergency contacts that opted in,
// nearby online drivers when the triggering user is a rider, the ride's
// counter-party, and every connected admin.
func (s *sosService) fanOut(ctx context.Context, alert *models.SOSAlert, role string) (contacts, drivers int) {
	payload := realtime.SOSAlertPayload{
		AlertID:  alert.ID,
		UserID:   alert.UserID,
		RideID:   alert.RideID,
		Lat:      alert.Lat,
		Lng:      alert.Lng,
		Severity: alert.Severity,
	}
	if alert.Message != nil {
		payload.Message = *alert.Message
	}

	notifiable, err := s.contactRepo.ListNotifiable(ctx, alert.UserID)
	if err != nil {
		log.Printf("sos: failed to load contacts for alert %s: %v", alert.ID, err)
	}
	if len(notifiable) > 0 {
		numbers := make([]string, 0, len(notifiable))
		for _, c := range notifiable {
			numbers = append(numbers, c.Phone)
		}
		s.notifier.NotifyContacts(ctx, numbers,
			fmt.Sprintf("emergency alert (%s severity) triggered at %.5f,%.5f", alert.Severity, alert.Lat, alert.Lng))
		contacts = len(numbers)
	}

	if role == models.RoleRider {
		for _, vt := range models.VehicleTypes {
			nearby, err := s.locations.Nearby(ctx, alert.Lat, alert.Lng, s.nearbyRadiusKm, vt, 0)
			if err != nil {
				log.Printf("sos: nearby driver lookup failed for alert %s: %v", alert.ID, err)
				continue
			}
			for _, d := range nearby {
				s.events.ToUser(d.DriverID, realtime.EventSOSAlert, payload)
				drivers++
			}
		}
	}

	if alert.RideID != nil {
		ride, err := s.rideRepo.GetByID(ctx, *alert.RideID)
		if err != nil {
			log.Printf("sos: failed to load ride for alert %s: %v", alert.ID, err)
		} else if ride != nil {
			if ride.RiderID != alert.UserID {
				s.events.ToUser(ride.RiderID, realtime.EventSOSAlert, payload)
			}
			if ride.DriverID != nil && *ride.DriverID != alert.UserID {
				s.events.ToUser(*ride.DriverID, realtime.EventSOSAlert, payload)
			}
		}
	}

	s.events.ToRole(models.RoleAdmin, realtime.EventSOSAlert, payload)
	s.notifier.NotifyBroadcast(ctx, models.RoleAdmin, realtime.EventSOSAlert, payload)

	return contacts, drivers
}

func (s *sosService) GetAlert(ctx context.Context, id string) (*models.SOSAlert, error) {
	alert, err := s.sosRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, apperrors.NotFound("sos alert")
	}
	return alert, nil
}

func (s *sosService) UpdateStatus(ctx context.Context, alertID string, req *models.UpdateSOSRequest) (*models.SOSAlert, error) {
	alert, err := s.sosRepo.GetByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, apperrors.NotFound("sos alert")
	}

	if req.Status == models.SOSStatusCancelled && alert.UserID != req.ActorID {
		return nil, apperrors.NewAPIError("authorization_error",
			"only the user who triggered the alert may cancel it", 403)
	}

	if !alert.CanTransitionTo(req.Status) {
		return nil, apperrors.InvalidTransition(alert.Status, req.Status)
	}

	ok, err := s.sosRepo.UpdateStatusIf(ctx, alertID, alert.Status, req.Status)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.InvalidTransition(alert.Status, req.Status)
	}

	alert.Status = req.Status
	if models.IsTerminalSOSStatus(req.Status) {
		s.sched.Cancel(alertTimerKey(alertID))
	}

	s.publishUpdate(alert)
	return alert, nil
}

// escalate fires the per-alert SLA timer. The conditional update is the
// exactly-once guard: an alert someone resolved inside the window no longer
// matches an escalatable status and nothing happens.
func (s *sosService) escalate(alertID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := s.sosRepo.EscalateIf(ctx, alertID)
	if err != nil {
		log.Printf("sos: escalation failed for alert %s: %v", alertID, err)
		return
	}
	if !ok {
		return
	}
	log.Printf("sos: alert %s escalated after SLA expiry", alertID)

	alert, err := s.sosRepo.GetByID(ctx, alertID)
	if err != nil || alert == nil {
		return
	}
	s.publishUpdate(alert)
	s.notifier.NotifyBroadcast(ctx, models.RoleAdmin, realtime.EventSOSUpdate, realtime.SOSUpdatePayload{
		AlertID: alert.ID,
		Status:  alert.Status,
	})
}

func (s *sosService) RunEscalationSweep(ctx context.Context) int {
	cutoff := time.Now().Add(-s.escalationSLA)
	alerts, err := s.sosRepo.ListEscalatable(ctx, cutoff)
	if err != nil {
		log.Printf("sos: escalation sweep query failed: %v", err)
		return 0
	}

	escalated := 0
	for _, a := range alerts {
		ok, err := s.sosRepo.EscalateIf(ctx, a.ID)
		if err != nil {
			log.Printf("sos: sweep escalation failed for alert %s: %v", a.ID, err)
			continue
		}
		if !ok {
			continue
		}
		escalated++
		s.sched.Cancel(alertTimerKey(a.ID))
		a.Status = models.SOSStatusEscalated
		s.publishUpdate(a)
	}
	return escalated
}

func (s *sosService) publishUpdate(alert *models.SOSAlert) {
	payload := realtime.SOSUpdatePayload{AlertID: alert.ID, Status: alert.Status}
	s.events.ToUser(alert.UserID, realtime.EventSOSUpdate, payload)
	s.events.ToRole(models.RoleAdmin, realtime.EventSOSUpdate, payload)
}
