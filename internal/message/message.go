// Package message defines the in-flight message record that flows
// between hosts: identity, routing, body, and lazily-parsed view.
package message

import (
	"time"

	"github.com/google/uuid"

	"hie/internal/hl7"
)

// Status is the lifecycle status of an in-flight message.
type Status string

const (
	StatusCreated   Status = "created"
	StatusQueued    Status = "queued"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusDiscarded Status = "discarded"
)

// Message is the record that flows between hosts. RawBytes is never
// mutated in place — edits to the parsed view produce new bytes and a
// new Message via WithRawBytes.
type Message struct {
	ID               string
	CorrelationID    string
	SessionID        string
	SequenceNum      int
	RawBytes         []byte
	ContentType      string
	Encoding         string
	SourceConfigName string
	TargetConfigName string
	MessageType      string
	Status           Status
	RetryCount       int
	ExpiresAt        *time.Time
	CreatedAt        time.Time

	schema *hl7.Schema
	parsed *hl7.ParsedView
}

// New creates a Message with a fresh ID, defaulting SessionID and
// CorrelationID to the new ID when the caller doesn't supply one (the
// first leg of a business event establishes both).
func New(rawBytes []byte, contentType, sourceConfigName string) *Message {
	id := uuid.NewString()
	return &Message{
		ID:               id,
		CorrelationID:    id,
		SessionID:        id,
		RawBytes:         rawBytes,
		ContentType:      contentType,
		SourceConfigName: sourceConfigName,
		Status:           StatusCreated,
		CreatedAt:        time.Now().UTC(),
	}
}

// WithSchema binds schema s to the message; subsequent calls to Parsed
// lazily parse RawBytes against it.
func (m *Message) WithSchema(s *hl7.Schema) {
	m.schema = s
	m.parsed = nil
}

// Parsed returns the lazily-parsed view of RawBytes, or nil if no
// schema has been bound.
func (m *Message) Parsed() *hl7.ParsedView {
	if m.schema == nil {
		return nil
	}
	if m.parsed == nil {
		m.parsed = m.schema.Parse(m.RawBytes)
	}
	return m.parsed
}

// Derive creates a new leg for the next hop: same SessionID/
// CorrelationID, a fresh ID, SequenceNum incremented, and the given
// raw bytes/content type/target. Used when a process or operation host
// hands the message onward.
func (m *Message) Derive(rawBytes []byte, contentType, targetConfigName string) *Message {
	source := m.TargetConfigName
	if source == "" {
		source = m.SourceConfigName
	}
	return &Message{
		ID:               uuid.NewString(),
		CorrelationID:    m.CorrelationID,
		SessionID:        m.SessionID,
		SequenceNum:      m.SequenceNum + 1,
		RawBytes:         rawBytes,
		ContentType:      contentType,
		Encoding:         m.Encoding,
		SourceConfigName: source,
		TargetConfigName: targetConfigName,
		MessageType:      m.MessageType,
		Status:           StatusCreated,
		CreatedAt:        time.Now().UTC(),
		schema:           m.schema,
	}
}

// WithRawBytes returns a copy of m with RawBytes replaced and any cached
// parsed view invalidated. RawBytes on m itself is left untouched.
func (m *Message) WithRawBytes(rawBytes []byte) *Message {
	cp := *m
	cp.RawBytes = rawBytes
	cp.parsed = nil
	return &cp
}
