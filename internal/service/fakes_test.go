package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rideflow/dispatch/internal/models"
)

// In-memory fakes with the same conditional-update semantics as the SQL
// repositories, so the race-sensitive paths can be tested for real.

type fakeRideRepo struct {
	mu    sync.Mutex
	seq   int
	rides map[string]*models.Ride
}

func newFakeRideRepo() *fakeRideRepo {
	return &fakeRideRepo{rides: make(map[string]*models.Ride)}
}

func (r *fakeRideRepo) Create(ctx context.Context, ride *models.Ride) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ride.ID == "" {
		r.seq++
		ride.ID = fmt.Sprintf("ride-%d", r.seq)
	}
	now := time.Now()
	ride.Status = models.RideStatusRequested
	ride.RequestedAt = now
	ride.CreatedAt = now
	ride.UpdatedAt = now
	cp := *ride
	r.rides[ride.ID] = &cp
	return nil
}

func (r *fakeRideRepo) get(id string) *models.Ride {
	if ride, ok := r.rides[id]; ok {
		cp := *ride
		return &cp
	}
	return nil
}

func (r *fakeRideRepo) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id), nil
}

func (r *fakeRideRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ride := range r.rides {
		if ride.IdempotencyKey != nil && *ride.IdempotencyKey == key {
			cp := *ride
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRideRepo) GetActiveByRiderID(ctx context.Context, riderID string) (*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ride := range r.rides {
		if ride.RiderID == riderID && !models.IsTerminalRideStatus(ride.Status) {
			cp := *ride
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRideRepo) GetActiveByDriverID(ctx context.Context, driverID string) (*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ride := range r.rides {
		if ride.DriverID != nil && *ride.DriverID == driverID && !models.IsTerminalRideStatus(ride.Status) {
			cp := *ride
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeRideRepo) ListByRiderID(ctx context.Context, riderID string, limit int) ([]*models.Ride, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Ride
	for _, ride := range r.rides {
		if ride.RiderID == riderID {
			cp := *ride
			out = append(out, &cp)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *fakeRideRepo) TransitionStatus(ctx context.Context, id, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.rides[id]
	if !ok || ride.Status != from {
		return false, nil
	}
	ride.Status = to
	ride.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRideRepo) AssignDriverIf(ctx context.Context, id, driverID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.rides[id]
	if !ok || ride.DriverID != nil {
		return false, nil
	}
	if ride.Status != models.RideStatusRequested && ride.Status != models.RideStatusSearchingDriver {
		return false, nil
	}
	for _, ex := range ride.ExcludedDrivers {
		if ex == driverID {
			return false, nil
		}
	}
	// Same invariant the SQL enforces: a driver with a non-terminal ride
	// cannot win another.
	for _, other := range r.rides {
		if other.ID != id && other.DriverID != nil && *other.DriverID == driverID &&
			!models.IsTerminalRideStatus(other.Status) {
			return false, nil
		}
	}
	now := time.Now()
	ride.DriverID = &driverID
	ride.Status = models.RideStatusDriverAssigned
	ride.AssignedAt = &now
	ride.UpdatedAt = now
	return true, nil
}

func (r *fakeRideRepo) ReleaseDriver(ctx context.Context, id, driverID, from string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.rides[id]
	if !ok || ride.Status != from || ride.DriverID == nil || *ride.DriverID != driverID {
		return false, nil
	}
	ride.DriverID = nil
	ride.AssignedAt = nil
	ride.Status = models.RideStatusSearchingDriver
	ride.ExcludedDrivers = append(ride.ExcludedDrivers, driverID)
	ride.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeRideRepo) CancelIf(ctx context.Context, id, from, to, reason string, charge float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.rides[id]
	if !ok || ride.Status != from {
		return false, nil
	}
	now := time.Now()
	ride.Status = to
	ride.CancellationReason = &reason
	ride.CancellationCharge = &charge
	ride.CancelledAt = &now
	ride.UpdatedAt = now
	return true, nil
}

func (r *fakeRideRepo) CompleteIf(ctx context.Context, id string, actualDistKm, actualFare float64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ride, ok := r.rides[id]
	if !ok || ride.Status != models.RideStatusInProgress {
		return false, nil
	}
	now := time.Now()
	ride.Status = models.RideStatusCompleted
	ride.ActualDistKm = &actualDistKm
	ride.ActualFare = &actualFare
	ride.CompletedAt = &now
	ride.UpdatedAt = now
	return true, nil
}

type fakeDriverRepo struct {
	mu      sync.Mutex
	drivers map[string]*models.Driver
	trips   map[string]int
}

func newFakeDriverRepo() *fakeDriverRepo {
	return &fakeDriverRepo{drivers: make(map[string]*models.Driver), trips: make(map[string]int)}
}

func (r *fakeDriverRepo) Create(ctx context.Context, driver *models.Driver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if driver.ID == "" {
		driver.ID = fmt.Sprintf("driver-%d", len(r.drivers)+1)
	}
	driver.Status = models.DriverStatusOffline
	cp := *driver
	r.drivers[driver.ID] = &cp
	return nil
}

func (r *fakeDriverRepo) GetByID(ctx context.Context, id string) (*models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[id]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeDriverRepo) GetByPhone(ctx context.Context, phone string) (*models.Driver, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.drivers {
		if d.Phone == phone {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeDriverRepo) UpdateStatus(ctx context.Context, id string, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.drivers[id]; ok {
		d.Status = status
	}
	return nil
}

func (r *fakeDriverRepo) IncrementTotalTrips(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trips[id]++
	return nil
}

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]*models.User)}
}

func (r *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user.ID == "" {
		user.ID = fmt.Sprintf("user-%d", len(r.users)+1)
	}
	if user.Role == "" {
		user.Role = models.RoleRider
	}
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeUserRepo) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Phone == phone {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

type fakeSOSRepo struct {
	mu     sync.Mutex
	seq    int
	alerts map[string]*models.SOSAlert
}

func newFakeSOSRepo() *fakeSOSRepo {
	return &fakeSOSRepo{alerts: make(map[string]*models.SOSAlert)}
}

func (r *fakeSOSRepo) Create(ctx context.Context, alert *models.SOSAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if alert.ID == "" {
		r.seq++
		alert.ID = fmt.Sprintf("sos-%d", r.seq)
	}
	now := time.Now()
	alert.Status = models.SOSStatusActive
	alert.TriggeredAt = now
	alert.CreatedAt = now
	alert.UpdatedAt = now
	cp := *alert
	r.alerts[alert.ID] = &cp
	return nil
}

func (r *fakeSOSRepo) GetByID(ctx context.Context, id string) (*models.SOSAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.alerts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeSOSRepo) UpdateStatusIf(ctx context.Context, id, from, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeSOSRepo) EscalateIf(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok {
		return false, nil
	}
	if a.Status != models.SOSStatusActive && a.Status != models.SOSStatusAcknowledged {
		return false, nil
	}
	now := time.Now()
	a.Status = models.SOSStatusEscalated
	a.EscalatedAt = &now
	a.UpdatedAt = now
	return true, nil
}

func (r *fakeSOSRepo) ListEscalatable(ctx context.Context, cutoff time.Time) ([]*models.SOSAlert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SOSAlert
	for _, a := range r.alerts {
		if (a.Status == models.SOSStatusActive || a.Status == models.SOSStatusAcknowledged) && !a.TriggeredAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeSOSRepo) SetFanOutCounts(ctx context.Context, id string, contacts, drivers int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.alerts[id]; ok {
		a.ContactsNotified = contacts
		a.DriversNotified = drivers
	}
	return nil
}

type fakeContactRepo struct {
	mu       sync.Mutex
	contacts map[string][]*models.EmergencyContact
}

func newFakeContactRepo() *fakeContactRepo {
	return &fakeContactRepo{contacts: make(map[string][]*models.EmergencyContact)}
}

func (r *fakeContactRepo) Create(ctx context.Context, contact *models.EmergencyContact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if contact.ID == "" {
		contact.ID = fmt.Sprintf("contact-%d", len(r.contacts[contact.UserID])+1)
	}
	cp := *contact
	r.contacts[contact.UserID] = append(r.contacts[contact.UserID], &cp)
	return nil
}

func (r *fakeContactRepo) ListByUserID(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.EmergencyContact(nil), r.contacts[userID]...), nil
}

func (r *fakeContactRepo) ListNotifiable(ctx context.Context, userID string) ([]*models.EmergencyContact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.EmergencyContact
	for _, c := range r.contacts[userID] {
		if c.NotificationsEnabled {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeContactRepo) Delete(ctx context.Context, id, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.contacts[userID]
	for i, c := range list {
		if c.ID == id {
			r.contacts[userID] = append(list[:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// recordedEvent captures one publish for assertions.
type recordedEvent struct {
	Kind    string // "user", "ride", "role"
	Target  string
	Event   string
	Payload interface{}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
	closed []string
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{}
}

func (p *fakePublisher) ToUser(userID string, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Kind: "user", Target: userID, Event: event, Payload: payload})
}

func (p *fakePublisher) ToRide(rideID string, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Kind: "ride", Target: rideID, Event: event, Payload: payload})
}

func (p *fakePublisher) ToRole(role string, event string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{Kind: "role", Target: role, Event: event, Payload: payload})
}

func (p *fakePublisher) CloseRide(rideID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = append(p.closed, rideID)
}

func (p *fakePublisher) eventsFor(kind, target string) []recordedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []recordedEvent
	for _, e := range p.events {
		if e.Kind == kind && e.Target == target {
			out = append(out, e)
		}
	}
	return out
}

func (p *fakePublisher) countEvent(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

type fakeNotifier struct {
	mu       sync.Mutex
	users    []string
	contacts [][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{}
}

func (n *fakeNotifier) NotifyUser(ctx context.Context, userID, event string, payload interface{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, userID)
}

func (n *fakeNotifier) NotifyContacts(ctx context.Context, numbers []string, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.contacts = append(n.contacts, numbers)
}

func (n *fakeNotifier) NotifyBroadcast(ctx context.Context, role, event string, payload interface{}) {}
