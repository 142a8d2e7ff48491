package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"git.home.luguber.info/inful/rulebuilder/internal/eventstore"
	foundation "git.home.luguber.info/inful/rulebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/rulebuilder/internal/logfields"
)

// Publisher is the subset of *nats.Conn used for forwarding.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// envelope is the message body sent for each event.
type envelope struct {
	BuildID   string            `json:"build_id"`
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NATSForwarder forwards events to <subject>.<EventType>.
type NATSForwarder struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
}

// NewNATSForwarder wraps an existing publisher.
func NewNATSForwarder(pub Publisher, subject string) *NATSForwarder {
	return &NATSForwarder{pub: pub, subject: subject}
}

// ConnectNATS dials url and returns a forwarder owning the connection.
func ConnectNATS(url, subject string) (*NATSForwarder, error) {
	conn, err := nats.Connect(url,
		nats.Name("rulebuilder"),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, foundation.NetworkError("failed to connect to NATS").
			WithCause(err).
			WithContext("url", url).
			Build()
	}
	slog.Info("NATS event forwarding enabled", slog.String("url", url), logfields.Subject(subject))
	return &NATSForwarder{pub: conn, conn: conn, subject: subject}, nil
}

// Subject returns the subject events of eventType are published on.
func (f *NATSForwarder) Subject(eventType string) string {
	return f.subject + "." + eventType
}

// Handle publishes e. It satisfies Handler.
func (f *NATSForwarder) Handle(_ context.Context, e eventstore.Event) error {
	payload := e.Payload()
	if len(payload) == 0 {
		payload = []byte("null")
	}
	data, err := json.Marshal(envelope{
		BuildID:   e.BuildID(),
		Type:      e.Type(),
		Timestamp: e.Timestamp(),
		Payload:   json.RawMessage(payload),
		Metadata:  e.Metadata(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := f.pub.Publish(f.Subject(e.Type()), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type(), err)
	}
	return nil
}

// Close flushes and closes the connection when the forwarder owns it.
func (f *NATSForwarder) Close() error {
	if f.conn == nil {
		return nil
	}
	err := f.conn.Flush()
	f.conn.Close()
	return err
}
