package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
)

// Subscriber consumes map layer events and the search analytics stream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber on an existing connection.
func NewSubscriber(conn *nats.Conn) (*Subscriber, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribeMap delivers the raw JSON layer events of one map session until
// the returned function is called.
func (s *Subscriber) SubscribeMap(sessionID string, handler func(data []byte)) (func(), error) {
	sub, err := s.conn.Subscribe(MapSubject(sessionID), func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe map %s: %w", sessionID, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// SubscribeHeatmapWarmed delivers the signatures refreshed by the warmer.
// It is a plain subscription: every API replica sees every announcement.
func (s *Subscriber) SubscribeHeatmapWarmed(handler func(signature string)) error {
	sub, err := s.conn.Subscribe(SubjectHeatmapWarmed, func(msg *nats.Msg) {
		handler(string(msg.Data))
	})
	if err != nil {
		return fmt.Errorf("subscribe heatmap warmed: %w", err)
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

// SubscribeSearchEvents consumes executed searches with a durable consumer.
// Handler errors trigger redelivery, at most three times.
func (s *Subscriber) SubscribeSearchEvents(ctx context.Context, durable string, handler func(ctx context.Context, ev *domain.SearchEvent) error) error {
	sub, err := s.js.Subscribe(SubjectSearchExecuted, func(msg *nats.Msg) {
		var ev domain.SearchEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Warn("discarding malformed search event", "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, &ev); err != nil {
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return nil
}

// Close unsubscribes long-lived subscriptions. The connection is owned by the caller.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}
