package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"reconciler-svc/models"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func InitRedis(logger *zap.Logger) (*redis.Client, error) {
	host := getEnv("REDIS_HOST", "localhost")
	port := getEnv("REDIS_PORT", "6379")
	password := getEnv("REDIS_PASSWORD", "")

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Redis connection established")
	return rdb, nil
}

const eventRecordTTL = 24 * time.Hour

// EventRecords keeps webhook event processing records keyed by provider
// event id. Records expire after 24 hours, past the provider's
// redelivery horizon.
type EventRecords struct {
	rdb *redis.Client
}

func NewEventRecords(rdb *redis.Client) *EventRecords {
	return &EventRecords{rdb: rdb}
}

// Get returns the record for an event id, or nil when none exists.
func (e *EventRecords) Get(ctx context.Context, eventID string) (*models.EventRecord, error) {
	data, err := e.rdb.Get(ctx, eventKey(eventID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var record models.EventRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (e *EventRecords) Put(ctx context.Context, record *models.EventRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return e.rdb.Set(ctx, eventKey(record.EventID), data, eventRecordTTL).Err()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("stripe_event:%s", eventID)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
