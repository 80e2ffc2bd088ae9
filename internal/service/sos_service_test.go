package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rideflow/dispatch/internal/cache"
	apperrors "github.com/rideflow/dispatch/internal/errors"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/realtime"
	"github.com/rideflow/dispatch/internal/scheduler"
)

type sosFixture struct {
	svc       SOSService
	alerts    *fakeSOSRepo
	contacts  *fakeContactRepo
	rides     *fakeRideRepo
	users     *fakeUserRepo
	locations *cache.MemoryLocationCache
	pub       *fakePublisher
	notifier  *fakeNotifier
	sched     *scheduler.Scheduler
}

func newSOSFixture(t *testing.T, sla time.Duration) *sosFixture {
	t.Helper()
	f := &sosFixture{
		alerts:    newFakeSOSRepo(),
		contacts:  newFakeContactRepo(),
		rides:     newFakeRideRepo(),
		users:     newFakeUserRepo(),
		locations: cache.NewMemoryLocationCache(),
		pub:       newFakePublisher(),
		notifier:  newFakeNotifier(),
		sched:     scheduler.New(),
	}
	t.Cleanup(f.sched.Stop)
	f.svc = NewSOSService(f.alerts, f.contacts, f.rides, f.users, f.locations, f.pub, f.notifier, f.sched,
		sla, 5.0)
	return f
}

func (f *sosFixture) seedUser(t *testing.T, role string) *models.User {
	t.Helper()
	user := &models.User{Phone: "9876500000", Name: "Asha", Role: role}
	if err := f.users.Create(context.Background(), user); err != nil {
		t.Fatal(err)
	}
	return user
}

func triggerRequest(userID string) *models.TriggerSOSRequest {
	return &models.TriggerSOSRequest{
		UserID:   userID,
		Location: models.Location{Lat: 12.9716, Lng: 77.5946},
		Severity: models.SOSSeverityHigh,
		Message:  "need help",
	}
}

func TestTriggerSOSFanOut(t *testing.T) {
	f := newSOSFixture(t, time.Hour)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	enabled := true
	disabled := false
	f.contacts.Create(ctx, &models.EmergencyContact{UserID: user.ID, Name: "Mom", Phone: "111", NotificationsEnabled: enabled})
	f.contacts.Create(ctx, &models.EmergencyContact{UserID: user.ID, Name: "Dad", Phone: "222", NotificationsEnabled: enabled})
	f.contacts.Create(ctx, &models.EmergencyContact{UserID: user.ID, Name: "Quiet", Phone: "333", NotificationsEnabled: disabled})

	// Two online drivers in range, different vehicle types; one far away.
	f.locations.SetDriverMeta(ctx, "d1", models.DriverStatusOnline, "sedan")
	f.locations.UpdateLocation(ctx, "d1", 12.9720, 77.5950, time.Now())
	f.locations.SetDriverMeta(ctx, "d2", models.DriverStatusOnline, "auto")
	f.locations.UpdateLocation(ctx, "d2", 12.9700, 77.5940, time.Now())
	f.locations.SetDriverMeta(ctx, "d3", models.DriverStatusOnline, "sedan")
	f.locations.UpdateLocation(ctx, "d3", 13.5, 78.2, time.Now())

	alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if alert.Status != models.SOSStatusActive {
		t.Errorf("status = %s, want active", alert.Status)
	}
	if alert.ContactsNotified != 2 {
		t.Errorf("contacts notified = %d, want 2 (opted-in only)", alert.ContactsNotified)
	}
	if alert.DriversNotified != 2 {
		t.Errorf("drivers notified = %d, want 2 (in range only)", alert.DriversNotified)
	}

	if n := len(f.pub.eventsFor("role", models.RoleAdmin)); n == 0 {
		t.Error("admins never received the alert")
	}
	sent := false
	for _, e := range f.pub.eventsFor("user", user.ID) {
		if e.Event == realtime.EventSOSAlertSent {
			sent = true
		}
	}
	if !sent {
		t.Error("triggering user never received sos_alert_sent")
	}
}

func TestTriggerSOSNotifiesRideCounterparty(t *testing.T) {
	f := newSOSFixture(t, time.Hour)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	driverID := "driver-9"
	ride := &models.Ride{RiderID: user.ID, VehicleType: "sedan"}
	f.rides.Create(ctx, ride)
	f.rides.TransitionStatus(ctx, ride.ID, models.RideStatusRequested, models.RideStatusSearchingDriver)
	f.rides.AssignDriverIf(ctx, ride.ID, driverID)

	req := triggerRequest(user.ID)
	req.RideID = ride.ID
	if _, err := f.svc.Trigger(ctx, req); err != nil {
		t.Fatal(err)
	}

	got := false
	for _, e := range f.pub.eventsFor("user", driverID) {
		if e.Event == realtime.EventSOSAlert {
			got = true
		}
	}
	if !got {
		t.Error("assigned driver never received the rider's sos_alert")
	}
}

func TestSOSCancelOwnerOnly(t *testing.T) {
	f := newSOSFixture(t, time.Hour)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
	if err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.UpdateStatus(ctx, alert.ID, &models.UpdateSOSRequest{
		Status:  models.SOSStatusCancelled,
		ActorID: "someone-else",
	})
	apiErr, ok := err.(*apperrors.APIError)
	if !ok || apiErr.Code != "authorization_error" {
		t.Fatalf("stranger cancel error = %v, want authorization_error", err)
	}

	got, err := f.svc.UpdateStatus(ctx, alert.ID, &models.UpdateSOSRequest{
		Status:  models.SOSStatusCancelled,
		ActorID: user.ID,
	})
	if err != nil {
		t.Fatalf("owner cancel error = %v", err)
	}
	if got.Status != models.SOSStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestSOSTransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		path    []string
		to      string
		wantErr bool
	}{
		{"ack then respond then resolve", []string{models.SOSStatusAcknowledged, models.SOSStatusResponding}, models.SOSStatusResolved, false},
		{"straight to false alarm", nil, models.SOSStatusFalseAlarm, false},
		{"cancel after responding", []string{models.SOSStatusAcknowledged, models.SOSStatusResponding}, models.SOSStatusCancelled, true},
		{"reopen resolved", []string{models.SOSStatusAcknowledged, models.SOSStatusResolved}, models.SOSStatusResponding, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSOSFixture(t, time.Hour)
			ctx := context.Background()
			user := f.seedUser(t, models.RoleRider)

			alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
			if err != nil {
				t.Fatal(err)
			}
			for _, step := range tt.path {
				if _, err := f.svc.UpdateStatus(ctx, alert.ID, &models.UpdateSOSRequest{Status: step, ActorID: user.ID}); err != nil {
					t.Fatalf("path step %s error = %v", step, err)
				}
			}

			_, err = f.svc.UpdateStatus(ctx, alert.ID, &models.UpdateSOSRequest{Status: tt.to, ActorID: user.ID})
			if tt.wantErr && err == nil {
				t.Errorf("transition to %s succeeded, want rejection", tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("transition to %s error = %v", tt.to, err)
			}
		})
	}
}

func TestEscalationSweepExactlyOnce(t *testing.T) {
	f := newSOSFixture(t, time.Hour)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
	if err != nil {
		t.Fatal(err)
	}
	// Backdate past the SLA so the sweep picks it up.
	f.alerts.mu.Lock()
	f.alerts.alerts[alert.ID].TriggeredAt = time.Now().Add(-2 * time.Hour)
	f.alerts.mu.Unlock()

	var wg sync.WaitGroup
	var mu sync.Mutex
	total := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := f.svc.RunEscalationSweep(ctx)
			mu.Lock()
			total += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	if total != 1 {
		t.Errorf("escalations across concurrent sweeps = %d, want exactly 1", total)
	}
	got, _ := f.alerts.GetByID(ctx, alert.ID)
	if got.Status != models.SOSStatusEscalated {
		t.Errorf("status = %s, want escalated", got.Status)
	}
	if got.EscalatedAt == nil {
		t.Error("escalated_at not stamped")
	}
}

func TestSweepSkipsResolvedAlerts(t *testing.T) {
	f := newSOSFixture(t, time.Hour)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateStatus(ctx, alert.ID, &models.UpdateSOSRequest{Status: models.SOSStatusResolved, ActorID: user.ID}); err != nil {
		t.Fatal(err)
	}
	f.alerts.mu.Lock()
	f.alerts.alerts[alert.ID].TriggeredAt = time.Now().Add(-2 * time.Hour)
	f.alerts.mu.Unlock()

	if n := f.svc.RunEscalationSweep(ctx); n != 0 {
		t.Errorf("sweep escalated %d resolved alerts, want 0", n)
	}
}

func TestEscalationTimerFires(t *testing.T) {
	f := newSOSFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		got, _ := f.alerts.GetByID(ctx, alert.ID)
		if got.Status == models.SOSStatusEscalated {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alert never escalated, status = %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResolvedAlertNeverEscalates(t *testing.T) {
	f := newSOSFixture(t, 30*time.Millisecond)
	ctx := context.Background()
	user := f.seedUser(t, models.RoleRider)

	alert, err := f.svc.Trigger(ctx, triggerRequest(user.ID))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.UpdateStatus(ctx, alert.ID, &models.UpdateSOSRequest{Status: models.SOSStatusResolved, ActorID: user.ID}); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	got, _ := f.alerts.GetByID(ctx, alert.ID)
	if got.Status != models.SOSStatusResolved {
		t.Errorf("status = %s, resolved must stay resolved", got.Status)
	}
}
