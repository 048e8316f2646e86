package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/sistem/judge/internal/types"
)

type Event struct {
	SubmissionID string       `json:"submission_id"`
	ProblemID    string       `json:"problem_id"`
	Status       types.Status `json:"status"`
	Result       types.Result `json:"result"`
	Score        int          `json:"score"`
	// Test the submission is currently on, empty when idle
	CurrentTestID string          `json:"current_test_id,omitempty"`
	Timestamp     types.UnixMilli `json:"timestamp"`
}

//go:generate mockgen -destination ./mock/mock.go -package mock . Publisher
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

type RedisPublisher struct {
	db      *redis.Client
	channel string
}

type RedisPublisherConfig struct {
	RedisClient *redis.Client
	Channel     string
}

func NewRedisPublisher(config RedisPublisherConfig) *RedisPublisher {
	return &RedisPublisher{
		db:      config.RedisClient,
		channel: config.Channel,
	}
}

func (p *RedisPublisher) Publish(ctx context.Context, evt Event) error {
	if evt.Timestamp == 0 {
		evt.Timestamp = types.Now()
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("error serializing event: %w", err)
	}

	if err := p.db.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("error publishing to %s: %w", p.channel, err)
	}

	return nil
}

// Used when no redis address is configured
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) error {
	return nil
}
