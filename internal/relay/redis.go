// Package relay forwards realtime events to external systems. The Redis
// relay publishes every bus event as JSON on a pub/sub channel so other
// services can consume attendance activity without touching the HTTP
// stream.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"attendance-bridge/internal/events"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Config selects the Redis endpoint and the pub/sub channel name.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// RedisRelay consumes one bus subscription and republishes events to
// Redis. Publish failures are logged and dropped; the relay never
// applies backpressure to the bus.
type RedisRelay struct {
	client  *redis.Client
	channel string
	sub     *events.Subscriber
	log     *logrus.Entry
	done    chan struct{}
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, bus *events.Bus, logger *logrus.Logger) (*RedisRelay, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "attendance.events"
	}

	return &RedisRelay{
		client:  client,
		channel: channel,
		sub:     bus.Subscribe(""),
		log:     logger.WithField("component", "relay"),
		done:    make(chan struct{}),
	}, nil
}

// Start launches the forwarding loop. It returns immediately; the loop
// runs until Close.
func (r *RedisRelay) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-r.sub.Events():
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					r.log.WithError(err).Error("Failed to marshal event")
					continue
				}
				if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
					r.log.WithError(err).Warn("Failed to publish event to Redis")
				}
			}
		}
	}()
	r.log.WithField("channel", r.channel).Info("Redis relay started")
}

// Health checks the Redis connection.
func (r *RedisRelay) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close unsubscribes from the bus, waits for the loop to drain, and
// closes the Redis connection.
func (r *RedisRelay) Close() error {
	r.sub.Close()
	<-r.done
	return r.client.Close()
}
