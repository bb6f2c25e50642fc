// Package transport defines the carrier-neutral pub/sub connection the
// connection manager drives. Concrete carriers live in the subpackages.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrClosed is reported by Conn.Err after a local Close.
var ErrClosed = errors.New("transport: connection closed")

// Message is one text payload pushed by the server on a topic.
type Message struct {
	Topic   string
	Payload []byte
}

// Conn is one live connection. Messages from every subscription arrive on a
// single channel which is closed when the connection ends; Err then reports
// why (nil or ErrClosed for a local Close).
type Conn interface {
	Subscribe(topic string) error
	Messages() <-chan Message
	Err() error
	Close() error
}

// Transport opens connections. Dial blocks until the connection is
// established or ctx is done.
type Transport interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// Envelope is the carrier-neutral JSON form of a Message, used for recorded
// traffic and for queues that carry no topic of their own. Payload may be
// the raw JSON document or a string holding it.
type Envelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses one Envelope.
func DecodeEnvelope(b []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Message{}, fmt.Errorf("envelope: %w", err)
	}
	if env.Topic == "" {
		return Message{}, errors.New("envelope: missing topic")
	}
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) > 0 && payload[0] == '"' {
		var s string
		if err := json.Unmarshal(payload, &s); err != nil {
			return Message{}, fmt.Errorf("envelope payload: %w", err)
		}
		payload = []byte(s)
	}
	return Message{Topic: env.Topic, Payload: payload}, nil
}

// EncodeEnvelope renders m as an Envelope. Payloads that are not valid JSON
// are stored as a string.
func EncodeEnvelope(m Message) ([]byte, error) {
	payload := json.RawMessage(m.Payload)
	if !json.Valid(m.Payload) {
		quoted, err := json.Marshal(string(m.Payload))
		if err != nil {
			return nil, err
		}
		payload = quoted
	}
	return json.Marshal(Envelope{Topic: m.Topic, Payload: payload})
}
