package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Topic names mirrored by the frontend socket client.
const (
	TopicEventUpdated        = "eventUpdated"
	TopicRegistrationCreated = "registrationCreated"
	TopicPromotion           = "promotion"
)

// EventUpdate carries the live seat state pushed after every mutation.
type EventUpdate struct {
	EventID         string `json:"event_id"`
	SeatsAvailable  int    `json:"seats_available"`
	TotalRegistered int    `json:"total_registered"`
	CancelledRegID  string `json:"cancelled_registration_id,omitempty"`
}

// RegistrationCreated announces a new registration or waitlist entry.
type RegistrationCreated struct {
	RegistrationID string `json:"registration_id"`
	EventID        string `json:"event_id"`
	StudentID      string `json:"student_id"`
	Status         string `json:"status"`
}

// Promotion announces a waitlisted student gaining a seat.
type Promotion struct {
	EventID        string `json:"event_id"`
	RegistrationID string `json:"registration_id"`
	StudentID      string `json:"student_id"`
}

// Publisher fans state changes out to connected clients. Implementations are
// fire-and-forget: the absence of a listener is not an error and failures
// never block the state transition that triggered them.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

type envelope struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// RedisPublisher pushes envelopes onto a redis pub/sub channel the socket
// gateway subscribes to.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher constructs a RedisPublisher.
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish serialises and publishes one envelope.
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := json.Marshal(envelope{Topic: topic, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal realtime envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// NoopPublisher drops every message. Used in tests.
type NoopPublisher struct{}

// Publish discards the payload.
func (NoopPublisher) Publish(context.Context, string, any) error { return nil }
