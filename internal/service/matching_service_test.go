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

type matchingFixture struct {
	svc       MatchingService
	rides     *fakeRideRepo
	drivers   *fakeDriverRepo
	locations *cache.MemoryLocationCache
	pub       *fakePublisher
	sched     *scheduler.Scheduler
}

func newMatchingFixture(t *testing.T, timeout time.Duration) *matchingFixture {
	t.Helper()
	f := &matchingFixture{
		rides:     newFakeRideRepo(),
		drivers:   newFakeDriverRepo(),
		locations: cache.NewMemoryLocationCache(),
		pub:       newFakePublisher(),
		sched:     scheduler.New(),
	}
	t.Cleanup(f.sched.Stop)
	f.svc = NewMatchingService(f.rides, f.drivers, f.locations, f.pub, f.pub, newFakeNotifier(), f.sched,
		10.0, 20, timeout)
	return f
}

func (f *matchingFixture) onlineDriver(t *testing.T, vehicleType string, lat, lng float64) *models.Driver {
	t.Helper()
	ctx := context.Background()
	driver := &models.Driver{Phone: "9", Name: "d", VehicleType: vehicleType, VehicleNumber: "KA01"}
	if err := f.drivers.Create(ctx, driver); err != nil {
		t.Fatal(err)
	}
	if err := f.drivers.UpdateStatus(ctx, driver.ID, models.DriverStatusOnline); err != nil {
		t.Fatal(err)
	}
	if err := f.locations.SetDriverMeta(ctx, driver.ID, models.DriverStatusOnline, vehicleType); err != nil {
		t.Fatal(err)
	}
	if _, err := f.locations.UpdateLocation(ctx, driver.ID, lat, lng, time.Now()); err != nil {
		t.Fatal(err)
	}
	return driver
}

func (f *matchingFixture) newRide(t *testing.T, riderID string) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		RiderID:     riderID,
		PickupLat:   12.9716,
		PickupLng:   77.5946,
		DestLat:     12.9352,
		DestLng:     77.6245,
		VehicleType: "sedan",
	}
	fare := 200.0
	ride.EstimatedFare = &fare
	if err := f.rides.Create(context.Background(), ride); err != nil {
		t.Fatal(err)
	}
	return ride
}

func TestDispatchFansOutToCandidates(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	near := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	wrongType := f.onlineDriver(t, "auto", 12.9720, 77.5950)
	farAway := f.onlineDriver(t, "sedan", 13.5, 78.2)

	ride := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, ride)

	got, _ := f.rides.GetByID(ctx, ride.ID)
	if got.Status != models.RideStatusSearchingDriver {
		t.Errorf("status = %s, want searching_driver", got.Status)
	}

	if n := len(f.pub.eventsFor("user", near.ID)); n != 1 {
		t.Errorf("near sedan driver got %d offers, want 1", n)
	}
	if n := len(f.pub.eventsFor("user", wrongType.ID)); n != 0 {
		t.Errorf("auto driver got %d offers, want 0", n)
	}
	if n := len(f.pub.eventsFor("user", farAway.ID)); n != 0 {
		t.Errorf("out-of-radius driver got %d offers, want 0", n)
	}
}

func TestDispatchSkipsExcludedDrivers(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	excluded := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	ride := f.newRide(t, "rider-1")
	f.rides.mu.Lock()
	f.rides.rides[ride.ID].ExcludedDrivers = append(f.rides.rides[ride.ID].ExcludedDrivers, excluded.ID)
	f.rides.mu.Unlock()
	ride.ExcludedDrivers = append(ride.ExcludedDrivers, excluded.ID)

	f.svc.Dispatch(ctx, ride)

	if n := len(f.pub.eventsFor("user", excluded.ID)); n != 0 {
		t.Errorf("excluded driver got %d offers, want 0", n)
	}
}

func TestAcceptRaceHasOneWinner(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	const contenders = 8
	drivers := make([]*models.Driver, 0, contenders)
	for i := 0; i < contenders; i++ {
		drivers = append(drivers, f.onlineDriver(t, "sedan", 12.9720, 77.5950))
	}

	ride := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, ride)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	losers := 0

	for _, d := range drivers {
		wg.Add(1)
		go func(driverID string) {
			defer wg.Done()
			_, err := f.svc.HandleDriverResponse(ctx, driverID, &models.DriverResponseRequest{
				RideID:   ride.ID,
				Response: "accept",
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
				return
			}
			if apiErr, ok := err.(*apperrors.APIError); ok && apiErr.Code == "ride_no_longer_available" {
				losers++
				return
			}
			t.Errorf("unexpected error from losing accept: %v", err)
		}(d.ID)
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if losers != contenders-1 {
		t.Errorf("losers = %d, want %d", losers, contenders-1)
	}

	got, _ := f.rides.GetByID(ctx, ride.ID)
	if got.Status != models.RideStatusDriverAssigned || got.DriverID == nil {
		t.Errorf("ride = %s/%v, want driver_assigned with a driver", got.Status, got.DriverID)
	}

	winner, _ := f.drivers.GetByID(ctx, *got.DriverID)
	if winner.Status != models.DriverStatusBusy {
		t.Errorf("winning driver status = %s, want busy", winner.Status)
	}
}

func TestAcceptRefusedWithActiveRide(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	driver := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	first := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, first)
	if _, err := f.svc.HandleDriverResponse(ctx, driver.ID, &models.DriverResponseRequest{RideID: first.ID, Response: "accept"}); err != nil {
		t.Fatal(err)
	}

	second := f.newRide(t, "rider-2")
	f.svc.Dispatch(ctx, second)
	_, err := f.svc.HandleDriverResponse(ctx, driver.ID, &models.DriverResponseRequest{RideID: second.ID, Response: "accept"})
	apiErr, ok := err.(*apperrors.APIError)
	if !ok || apiErr.Code != "driver_busy" {
		t.Fatalf("error = %v, want driver_busy", err)
	}
}

func TestConcurrentAcceptsAcrossRidesWinAtMostOne(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	driver := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	rides := []*models.Ride{f.newRide(t, "rider-1"), f.newRide(t, "rider-2"), f.newRide(t, "rider-3")}
	for _, ride := range rides {
		f.svc.Dispatch(ctx, ride)
	}

	var wg sync.WaitGroup
	for _, ride := range rides {
		wg.Add(1)
		go func(rideID string) {
			defer wg.Done()
			f.svc.HandleDriverResponse(ctx, driver.ID, &models.DriverResponseRequest{
				RideID:   rideID,
				Response: "accept",
			})
		}(ride.ID)
	}
	wg.Wait()

	assigned := 0
	for _, ride := range rides {
		got, _ := f.rides.GetByID(ctx, ride.ID)
		if got.DriverID != nil {
			if *got.DriverID != driver.ID {
				t.Fatalf("ride %s assigned to %s", ride.ID, *got.DriverID)
			}
			assigned++
		}
	}
	if assigned != 1 {
		t.Errorf("driver holds %d rides, want exactly 1", assigned)
	}
}

func TestDriverOfferedAgainAfterCompletingRide(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	rideSvc := NewRideService(f.rides, f.drivers, newFakeUserRepo(), NewPricingService(10.0),
		f.locations, f.pub, f.pub, newFakeNotifier())
	rideSvc.SetDispatcher(&fakeDispatcher{})

	driver := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	first := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, first)
	if _, err := f.svc.HandleDriverResponse(ctx, driver.ID, &models.DriverResponseRequest{RideID: first.ID, Response: "accept"}); err != nil {
		t.Fatal(err)
	}

	path := []struct{ from, to string }{
		{models.RideStatusDriverAssigned, models.RideStatusDriverArriving},
		{models.RideStatusDriverArriving, models.RideStatusDriverArrived},
		{models.RideStatusDriverArrived, models.RideStatusInProgress},
	}
	for _, step := range path {
		if _, err := f.rides.TransitionStatus(ctx, first.ID, step.from, step.to); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := rideSvc.CompleteRide(ctx, first.ID, driver.ID, nil); err != nil {
		t.Fatalf("CompleteRide() error = %v", err)
	}

	offersBefore := 0
	for _, e := range f.pub.eventsFor("user", driver.ID) {
		if e.Event == realtime.EventNewRideRequest {
			offersBefore++
		}
	}

	second := f.newRide(t, "rider-2")
	f.svc.Dispatch(ctx, second)

	offersAfter := 0
	for _, e := range f.pub.eventsFor("user", driver.ID) {
		if e.Event == realtime.EventNewRideRequest {
			offersAfter++
		}
	}
	if offersAfter != offersBefore+1 {
		t.Errorf("driver offers after completion = %d, want %d", offersAfter, offersBefore+1)
	}
}

func TestRejectLeavesRideSearchable(t *testing.T) {
	f := newMatchingFixture(t, time.Minute)
	ctx := context.Background()

	driver := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	ride := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, ride)

	if _, err := f.svc.HandleDriverResponse(ctx, driver.ID, &models.DriverResponseRequest{RideID: ride.ID, Response: "reject"}); err != nil {
		t.Fatalf("reject error = %v", err)
	}

	got, _ := f.rides.GetByID(ctx, ride.ID)
	if got.Status != models.RideStatusSearchingDriver {
		t.Errorf("status = %s, reject must not move the ride", got.Status)
	}
}

func TestNoDriverTimeoutCancelsRide(t *testing.T) {
	f := newMatchingFixture(t, 30*time.Millisecond)
	ctx := context.Background()

	ride := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, ride)

	deadline := time.Now().Add(time.Second)
	for {
		got, _ := f.rides.GetByID(ctx, ride.ID)
		if got.Status == models.RideStatusCancelledBySystem {
			if got.CancellationReason == nil || *got.CancellationReason != "no drivers available" {
				t.Errorf("reason = %v, want no drivers available", got.CancellationReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ride never timed out, status = %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	found := false
	for _, e := range f.pub.eventsFor("user", "rider-1") {
		if e.Event == realtime.EventRideCancelled {
			found = true
		}
	}
	if !found {
		t.Error("rider never received ride_cancelled")
	}
}

func TestStaleTimerLeavesAssignedRideAlone(t *testing.T) {
	f := newMatchingFixture(t, 30*time.Millisecond)
	ctx := context.Background()

	driver := f.onlineDriver(t, "sedan", 12.9720, 77.5950)
	ride := f.newRide(t, "rider-1")
	f.svc.Dispatch(ctx, ride)

	if _, err := f.svc.HandleDriverResponse(ctx, driver.ID, &models.DriverResponseRequest{RideID: ride.ID, Response: "accept"}); err != nil {
		t.Fatal(err)
	}

	// Well past the window; even a timer that lost the Cancel race must not
	// touch the assigned ride.
	time.Sleep(100 * time.Millisecond)

	got, _ := f.rides.GetByID(ctx, ride.ID)
	if got.Status != models.RideStatusDriverAssigned {
		t.Errorf("status = %s, want driver_assigned", got.Status)
	}
}
