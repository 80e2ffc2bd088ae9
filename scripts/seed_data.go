//go:build ignore

package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/rideflow/dispatch/internal/cache"
	"github.com/rideflow/dispatch/internal/config"
	"github.com/rideflow/dispatch/internal/database"
	"github.com/rideflow/dispatch/internal/models"
	"github.com/rideflow/dispatch/internal/repository"
)

// Bangalore coordinates
const (
	baseLat = 12.9716
	baseLng = 77.5946
)

var (
	firstNames = []string{"Rahul", "Priya", "Amit", "Sneha", "Vikram", "Anita", "Raj", "Neha", "Suresh", "Kavita",
		"Arun", "Deepa", "Kiran", "Meera", "Sanjay", "Ritu", "Vijay", "Pooja", "Manoj", "Swati"}
	lastNames = []string{"Kumar", "Sharma", "Patel", "Singh", "Reddy", "Rao", "Gupta", "Joshi", "Nair", "Menon"}
)

func randomName() string {
	return fmt.Sprintf("%s %s", firstNames[rand.Intn(len(firstNames))], lastNames[rand.Intn(len(lastNames))])
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.DatabaseURL, cfg.DBMaxConnections, cfg.DBMaxIdleConnections)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	var locations cache.LocationCache = cache.NewMemoryLocationCache()
	if cfg.RedisEnabled {
		redis, err := database.NewRedis(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redis.Close()
		locations = cache.NewRedisLocationCache(redis.Client)
	}

	ctx := context.Background()

	userRepo := repository.NewUserRepository(db.DB)
	driverRepo := repository.NewDriverRepository(db.DB)
	contactRepo := repository.NewContactRepository(db.DB)

	// Riders with emergency contacts
	log.Println("Creating 50 riders...")
	created := 0
	for i := 0; i < 50; i++ {
		user := &models.User{
			Phone: fmt.Sprintf("98%08d", rand.Intn(100000000)),
			Name:  randomName(),
			Role:  models.RoleRider,
		}
		if err := userRepo.Create(ctx, user); err != nil {
			log.Printf("Failed to create user: %v", err)
			continue
		}
		created++

		for c := 0; c < 1+rand.Intn(2); c++ {
			contact := &models.EmergencyContact{
				UserID:               user.ID,
				Name:                 randomName(),
				Phone:                fmt.Sprintf("97%08d", rand.Intn(100000000)),
				NotificationsEnabled: rand.Intn(10) > 1,
			}
			if err := contactRepo.Create(ctx, contact); err != nil {
				log.Printf("Failed to create contact: %v", err)
			}
		}
	}
	log.Printf("Created %d riders", created)

	// One admin for the SOS console
	admin := &models.User{Phone: "9800000000", Name: "Ops Admin", Role: models.RoleAdmin}
	if err := userRepo.Create(ctx, admin); err != nil {
		log.Printf("Failed to create admin: %v", err)
	}

	// Drivers, most of them online around the city center
	log.Println("Creating 100 drivers...")
	created = 0
	for i := 0; i < 100; i++ {
		vt := models.VehicleTypes[rand.Intn(len(models.VehicleTypes))]
		driver := &models.Driver{
			Phone:         fmt.Sprintf("91%08d", rand.Intn(100000000)),
			Name:          randomName(),
			LicenseNumber: fmt.Sprintf("KA%02d%08d", rand.Intn(60), rand.Intn(100000000)),
			VehicleType:   vt,
			VehicleNumber: fmt.Sprintf("KA%02d%c%c%04d", rand.Intn(60), 'A'+rand.Intn(26), 'A'+rand.Intn(26), rand.Intn(10000)),
		}
		if err := driverRepo.Create(ctx, driver); err != nil {
			log.Printf("Failed to create driver: %v", err)
			continue
		}
		created++

		if rand.Intn(10) < 8 {
			if err := driverRepo.UpdateStatus(ctx, driver.ID, models.DriverStatusOnline); err != nil {
				log.Printf("Failed to bring driver online: %v", err)
				continue
			}
			lat := baseLat + (rand.Float64()-0.5)*0.1
			lng := baseLng + (rand.Float64()-0.5)*0.1
			if err := locations.SetDriverMeta(ctx, driver.ID, models.DriverStatusOnline, vt); err != nil {
				log.Printf("Failed to set driver meta: %v", err)
				continue
			}
			if _, err := locations.UpdateLocation(ctx, driver.ID, lat, lng, time.Now()); err != nil {
				log.Printf("Failed to place driver: %v", err)
			}
		}
	}
	log.Printf("Created %d drivers", created)

	log.Println("Seed complete")
}
