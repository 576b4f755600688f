// Package store implements the durable message store: content-addressed
// bodies shared across repeated legs, headers carrying routing/status
// metadata, and a query surface for dashboards and housekeeping.
package store

import (
	"context"
	"time"
)

// Status is the lifecycle status of a persisted message leg.
type Status string

const (
	StatusCreated   Status = "created"
	StatusQueued    Status = "queued"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusDiscarded Status = "discarded"
)

// LegDetails is the input to StoreHeader: everything needed to create one
// header row (and, if its body hash is new, the backing body row).
type LegDetails struct {
	CorrelationID    string
	SessionID        string
	SequenceNum      int
	SourceConfigName string
	TargetConfigName string
	MessageType      string
	Direction        string
	RawBytes         []byte
	ContentType      string
	ControlID        string
	ExpiresAt        *time.Time
}

// Header is one persisted message leg. Body is resolved lazily via
// GetContent to avoid loading potentially large payloads on list views.
type Header struct {
	ID               string
	CorrelationID    string
	SessionID        string
	SequenceNum      int
	SourceConfigName string
	TargetConfigName string
	MessageType      string
	Direction        string
	Status           Status
	RetryCount       int
	BodyHash         string
	AckContent       string
	ErrorMessage     string
	ReceivedAt       time.Time
	UpdatedAt        time.Time
	Latency          time.Duration
	ExpiresAt        *time.Time
}

// Query selects headers by any combination of fields; zero values are
// ignored. Results are ordered by OrderBy (defaulting to received_at) and
// paginated via Limit/Offset.
type Query struct {
	SourceConfigName string
	TargetConfigName string
	MessageType      string
	Status           Status
	CorrelationID    string
	ReceivedAfter    *time.Time
	ReceivedBefore   *time.Time
	Limit            int
	Offset           int
	OrderBy          string
	OrderDesc        bool
}

// Store is the durable message store's contract. Implementations: a
// Postgres-backed store for production, an in-memory store for tests and
// the embedded/no-database deployment mode.
type Store interface {
	// StoreHeader persists one leg, deduplicating its body by content hash,
	// and returns the new header's ID.
	StoreHeader(ctx context.Context, leg LegDetails) (string, error)

	// UpdateStatus transitions a header's status, optionally recording an
	// ACK or error string.
	UpdateStatus(ctx context.Context, id string, status Status, ackContent, errMessage string) error

	// GetByID returns the header for id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Header, error)

	// GetContent returns the raw bytes and content type of id's body.
	GetContent(ctx context.Context, id string) ([]byte, string, error)

	// ListByProject lists headers for a project/tenant scope, applying
	// filters and pagination; returns the page and the total matching count.
	ListByProject(ctx context.Context, projectID string, filters Query, limit, offset int) ([]*Header, int, error)

	// Query runs a multi-field selector over headers.
	Query(ctx context.Context, q Query) ([]*Header, error)

	// DeleteOlderThan removes headers (and any now-orphaned bodies) older
	// than the given number of days, returning the count removed.
	DeleteOlderThan(ctx context.Context, days int) (int64, error)

	// Close releases any underlying resources (pool, file handles).
	Close() error
}
