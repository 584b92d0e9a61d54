// Package events publishes domain events. With a NATS connection events go
// to the broker as JSON; otherwise they are only logged.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const (
	OrderCreated       = "shop.order.created"
	OrderStatusChanged = "shop.order.status_changed"
	OrderPaid          = "shop.order.paid"
	CommentCreated     = "shop.comment.created"
	SurveySubmitted    = "shop.survey.submitted"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

type envelope struct {
	Topic      string    `json:"topic"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// LogPublisher writes events to the logger at debug level.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(_ context.Context, topic string, payload any) {
	p.Logger.Debug().Str("topic", topic).Interface("payload", payload).Msg("event")
}

type NATSPublisher struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func ConnectNATS(url string, logger zerolog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("supplement-shop"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// Publish never fails the caller; broker errors are logged.
func (p *NATSPublisher) Publish(_ context.Context, topic string, payload any) {
	data, err := json.Marshal(envelope{Topic: topic, OccurredAt: time.Now().UTC(), Payload: payload})
	if err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("encode event")
		return
	}
	if err := p.conn.Publish(topic, data); err != nil {
		p.logger.Error().Err(err).Str("topic", topic).Msg("publish event")
	}
}

func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Recorder keeps published events in memory; used by tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Recorded
}

type Recorded struct {
	Topic   string
	Payload any
}

func (r *Recorder) Publish(_ context.Context, topic string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Recorded{Topic: topic, Payload: payload})
}

// Topics returns the recorded topics in publish order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.Events))
	for i, e := range r.Events {
		out[i] = e.Topic
	}
	return out
}
