package service

import (
	"math"

	"github.com/rideflow/dispatch/internal/models"
)

// FareConfig holds pricing configuration for each vehicle type
type FareConfig struct {
	BaseFare  float64
	PerKmRate float64
	MinFare   float64
}

var fareConfigs = map[string]FareConfig{
	models.VehicleTypeAuto:  {BaseFare: 25, PerKmRate: 12, MinFare: 30},
	models.VehicleTypeMini:  {BaseFare: 40, PerKmRate: 14, MinFare: 50},
	models.VehicleTypeSedan: {BaseFare: 50, PerKmRate: 17, MinFare: 80},
	models.VehicleTypeSUV:   {BaseFare: 80, PerKmRate: 22, MinFare: 120},
}

type PricingService interface {
	EstimateFare(vehicleType string, distanceKm float64) float64
	ActualFare(vehicleType string, actualDistanceKm float64) float64
	// CancellationCharge computes the fee owed for cancelling a ride in the
	// given status: nothing at or before driver_arriving, a configured
	// percentage of the estimate once the driver has arrived.
	CancellationCharge(statusAtCancel string, estimatedFare float64) float64
	EstimateDistance(pickupLat, pickupLng, destLat, destLng float64) float64
}

type pricingService struct {
	chargePct float64
}

func NewPricingService(cancellationChargePct float64) PricingService {
	return &pricingService{chargePct: cancellationChargePct}
}

func (s *pricingService) EstimateFare(vehicleType string, distanceKm float64) float64 {
	return s.fare(vehicleType, distanceKm)
}

func (s *pricingService) ActualFare(vehicleType string, actualDistanceKm float64) float64 {
	return s.fare(vehicleType, actualDistanceKm)
}

func (s *pricingService) fare(vehicleType string, distanceKm float64) float64 {
	config, exists := fareConfigs[vehicleType]
	if !exists {
		config = fareConfigs[models.VehicleTypeSedan] // default
	}

	total := config.BaseFare + distanceKm*config.PerKmRate
	if total < config.MinFare {
		total = config.MinFare
	}
	return round(total)
}

func (s *pricingService) CancellationCharge(statusAtCancel string, estimatedFare float64) float64 {
	if statusAtCancel == models.RideStatusDriverArrived {
		return round(estimatedFare * s.chargePct / 100)
	}
	return 0
}

// EstimateDistance calculates straight-line distance and multiplies by road factor
func (s *pricingService) EstimateDistance(pickupLat, pickupLng, destLat, destLng float64) float64 {
	straightLine := haversineDistance(pickupLat, pickupLng, destLat, destLng)
	// Multiply by 1.3 to account for actual road distance
	return round(straightLine * 1.3)
}

// haversineDistance calculates the distance between two points on Earth
func haversineDistance(lat1, lng1, lat2, lng2 float64) float64 {
	const earthRadius = 6371 // km

	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLng := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLng/2)*math.Sin(deltaLng/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}

func round(f float64) float64 {
	return math.Round(f*100) / 100
}
