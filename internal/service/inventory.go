package service

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"bikefleet-backend/internal/domain"
	"bikefleet-backend/internal/logger"
	"bikefleet-backend/internal/repository"
)

type inventoryService struct {
	bikes repository.BikeRepository

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewInventoryService builds the allocator. A nil rnd uses a time-seeded source;
// tests pass a fixed seed to make the candidate order reproducible.
func NewInventoryService(bikes repository.BikeRepository, rnd *rand.Rand) InventoryService {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>32))
	}
	return &inventoryService{bikes: bikes, rnd: rnd}
}

func (s *inventoryService) SelectBike(ctx context.Context, tariffID int64, city, requiredCode string) (*domain.Bike, error) {
	if requiredCode != "" {
		bike, err := s.bikes.GetByCode(ctx, requiredCode)
		if err != nil {
			return nil, storeErr(err, "bike "+requiredCode)
		}
		if err := checkRentable(bike, tariffID); err != nil {
			return nil, err
		}
		return bike, nil
	}

	candidates, err := s.candidates(ctx, tariffID, city)
	if err != nil {
		return nil, err
	}
	return &candidates[0], nil
}

func (s *inventoryService) Reserve(ctx context.Context, bikeID int64) error {
	err := s.bikes.CompareAndSetStatus(ctx, bikeID, domain.BikeStatusAvailable, domain.BikeStatusRented, "")
	if errors.Is(err, repository.ErrStaleState) {
		return domain.Conflictf("bike %d is no longer available", bikeID)
	}
	return storeErr(err, "bike")
}

// Release returns a rented bike to the pool. Releasing a bike that is already
// available succeeds, so compensations can run more than once.
func (s *inventoryService) Release(ctx context.Context, bikeID int64) error {
	err := s.bikes.CompareAndSetStatus(ctx, bikeID, domain.BikeStatusRented, domain.BikeStatusAvailable, "")
	if !errors.Is(err, repository.ErrStaleState) {
		return storeErr(err, "bike")
	}
	bike, getErr := s.bikes.GetByID(ctx, bikeID)
	if getErr != nil {
		return storeErr(getErr, "bike")
	}
	if bike.Status == domain.BikeStatusAvailable {
		return nil
	}
	return domain.Conflictf("bike %d is %s, cannot release", bikeID, bike.Status)
}

func (s *inventoryService) Allocate(ctx context.Context, tariffID int64, city, requiredCode string) (*domain.Bike, error) {
	if requiredCode != "" {
		bike, err := s.SelectBike(ctx, tariffID, city, requiredCode)
		if err != nil {
			return nil, err
		}
		if err := s.Reserve(ctx, bike.ID); err != nil {
			return nil, err
		}
		bike.Status = domain.BikeStatusRented
		return bike, nil
	}

	candidates, err := s.candidates(ctx, tariffID, city)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		bike := &candidates[i]
		err := s.Reserve(ctx, bike.ID)
		if err == nil {
			bike.Status = domain.BikeStatusRented
			logger.Debug("Bike allocated", "bike_id", bike.ID, "bike_code", bike.Code, "tariff_id", tariffID, "city", city)
			return bike, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
	}
	return nil, domain.Conflictf("no bike available for tariff %d in %s", tariffID, city)
}

// candidates lists available bikes in a random order
func (s *inventoryService) candidates(ctx context.Context, tariffID int64, city string) ([]domain.Bike, error) {
	bikes, err := s.bikes.ListAvailable(ctx, tariffID, city)
	if err != nil {
		return nil, storeErr(err, "bikes")
	}
	if len(bikes) == 0 {
		return nil, domain.Conflictf("no bike available for tariff %d in %s", tariffID, city)
	}
	s.mu.Lock()
	s.rnd.Shuffle(len(bikes), func(i, j int) { bikes[i], bikes[j] = bikes[j], bikes[i] })
	s.mu.Unlock()
	return bikes, nil
}

func checkRentable(bike *domain.Bike, tariffID int64) error {
	if bike.Status != domain.BikeStatusAvailable {
		return domain.Conflictf("bike %s is %s", bike.Code, bike.Status)
	}
	if bike.TariffID != nil && *bike.TariffID != tariffID {
		return domain.Conflictf("bike %s is not rented on tariff %d", bike.Code, tariffID)
	}
	return nil
}
