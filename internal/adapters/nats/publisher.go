package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tvdoutor/screenfinder/internal/core/domain"
	"github.com/tvdoutor/screenfinder/internal/pkg/mapview"
	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// Subjects
const (
	SubjectSearchExecuted = "screens.search.executed"
	SubjectHeatmapWarmed  = "screens.heatmap.warmed"
	subjectMapPrefix      = "screens.map."
)

// MapSubject returns the subject carrying the layer events of a map session.
func MapSubject(sessionID string) string {
	return subjectMapPrefix + sessionID
}

// Publisher implements ports.EventPublisher using NATS JetStream.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// NewPublisher connects to NATS and enables JetStream.
func NewPublisher(url string) (*Publisher, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	// Ensure streams exist. Map layer events are core NATS: they are only
	// useful to a browser that is connected right now.
	streams := []nats.StreamConfig{
		{
			Name:      "SCREEN_SEARCHES",
			Subjects:  []string{"screens.search.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "HEATMAP_WARMUPS",
			Subjects:  []string{"screens.heatmap.>"},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		},
	}

	for _, cfg := range streams {
		if _, err := js.AddStream(&cfg); err != nil {
			// Stream may already exist — try update
			if _, err := js.UpdateStream(&cfg); err != nil {
				return nil, fmt.Errorf("ensure stream %s: %w", cfg.Name, err)
			}
		}
	}

	return &Publisher{conn: conn, js: js}, nil
}

// PublishSearchExecuted records an executed search on the analytics stream.
func (p *Publisher) PublishSearchExecuted(ctx context.Context, ev *domain.SearchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = p.js.Publish(SubjectSearchExecuted, data, nats.Context(ctx))
	metrics.EventsPublished.WithLabelValues("SCREEN_SEARCHES", outcome(err)).Inc()
	return err
}

// PublishHeatmapWarmed announces a refreshed heatmap signature.
func (p *Publisher) PublishHeatmapWarmed(ctx context.Context, signature string) error {
	_, err := p.js.Publish(SubjectHeatmapWarmed, []byte(signature), nats.Context(ctx))
	metrics.EventsPublished.WithLabelValues("HEATMAP_WARMUPS", outcome(err)).Inc()
	return err
}

// MapSink returns the sink of a map session: every renderer event is
// published to the session subject for the WebSocket relay.
func (p *Publisher) MapSink(sessionID string) mapview.Sink {
	subject := MapSubject(sessionID)
	return mapview.SinkFunc(func(_ context.Context, ev mapview.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return p.conn.Publish(subject, data)
	})
}

// Conn exposes the shared connection for subscribers in the same process.
func (p *Publisher) Conn() *nats.Conn {
	return p.conn
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	_ = p.conn.Drain()
}

// RawConn creates a plain NATS connection for subscribing (e.g. WebSocket relay).
func RawConn(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name("screenfinder"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
