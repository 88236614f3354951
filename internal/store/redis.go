package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"shuttle-tracker/internal/models"

	"github.com/go-redis/redis/v8"
)

const keyPrefix = "location:"

// LiveStore keeps the latest location per driver in Redis. Entries expire
// after the configured TTL so a crashed driver drops off the map on its own.
type LiveStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLiveStore(addr string, ttl time.Duration) (*LiveStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Println("✅ Connected to Redis")
	return &LiveStore{rdb: rdb, ttl: ttl}, nil
}

// Update stores the sample unless a newer one is already present. Returns
// false when the write was dropped as stale. Updates from multiple devices
// of the same driver can arrive out of order; the timestamp decides.
func (s *LiveStore) Update(ctx context.Context, sample models.LocationSample) (bool, error) {
	key := keyPrefix + sample.DriverID

	existing, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil && err != redis.Nil {
		return false, fmt.Errorf("failed to read current location: %w", err)
	}
	if err == nil {
		var current models.LocationSample
		if jsonErr := json.Unmarshal(existing, &current); jsonErr == nil {
			if current.CapturedAtMs > sample.CapturedAtMs {
				return false, nil
			}
		}
	}

	data, err := json.Marshal(sample)
	if err != nil {
		return false, fmt.Errorf("failed to marshal location: %w", err)
	}

	if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return false, fmt.Errorf("failed to store location: %w", err)
	}
	return true, nil
}

// Remove deletes the driver's live location. Missing keys are not an error.
func (s *LiveStore) Remove(ctx context.Context, driverID string) error {
	if err := s.rdb.Del(ctx, keyPrefix+driverID).Err(); err != nil {
		return fmt.Errorf("failed to remove location: %w", err)
	}
	return nil
}

// Get returns the driver's live location, or nil if none is stored.
func (s *LiveStore) Get(ctx context.Context, driverID string) (*models.LocationSample, error) {
	data, err := s.rdb.Get(ctx, keyPrefix+driverID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read location: %w", err)
	}

	var sample models.LocationSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, fmt.Errorf("failed to unmarshal location: %w", err)
	}
	return &sample, nil
}

// All returns every live location currently stored.
func (s *LiveStore) All(ctx context.Context) ([]models.LocationSample, error) {
	var samples []models.LocationSample

	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			// Expired between SCAN and GET.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read location: %w", err)
		}

		var sample models.LocationSample
		if err := json.Unmarshal(data, &sample); err != nil {
			log.Printf("⚠️ Skipping corrupt location entry %s: %v", iter.Val(), err)
			continue
		}
		samples = append(samples, sample)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan locations: %w", err)
	}

	return samples, nil
}

func (s *LiveStore) Close() error {
	return s.rdb.Close()
}
