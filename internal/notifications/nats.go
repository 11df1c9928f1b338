package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// envelope is the JSON document published for every event.
type envelope struct {
	Event     Event     `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Payload   Payload   `json:"payload"`
}

// natsPublisher connects on first use and reconnects after the connection
// closes.
type natsPublisher struct {
	url     string
	subject string
	timeout time.Duration

	mu   sync.Mutex
	conn *nats.Conn
}

func newNATSPublisher(url, subject string, timeout time.Duration) *natsPublisher {
	return &natsPublisher{url: url, subject: subject, timeout: timeout}
}

func (p *natsPublisher) connection() (*nats.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn, nil
	}
	conn, err := nats.Connect(p.url, nats.Name("intake"), nats.Timeout(p.timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	p.conn = conn
	return conn, nil
}

func (p *natsPublisher) Publish(ctx context.Context, event Event, payload Payload) error {
	data, err := json.Marshal(envelope{Event: event, Timestamp: time.Now().UTC(), Payload: normalizePayload(payload)})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	conn, err := p.connection()
	if err != nil {
		return err
	}
	if err := conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	flushCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := conn.FlushWithContext(flushCtx); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

func (p *natsPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
}

// normalizePayload converts values that do not marshal usefully, such as
// errors, into strings.
func normalizePayload(payload Payload) Payload {
	out := make(Payload, len(payload))
	for key, value := range payload {
		switch v := value.(type) {
		case error:
			out[key] = v.Error()
		case time.Duration:
			out[key] = v.String()
		default:
			out[key] = v
		}
	}
	return out
}
