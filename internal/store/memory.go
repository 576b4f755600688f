package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"hie/internal/apperror"
	"hie/internal/cache"
)

type memoryBody struct {
	rawBytes    []byte
	contentType string
}

// MemoryStore is an in-memory Store, used for tests and the embedded/
// no-database deployment mode. It keeps the same header/body split and
// content-addressed dedup as PostgresStore.
type MemoryStore struct {
	mu      sync.RWMutex
	headers map[string]*Header
	bodies  map[string]memoryBody
	order   []string // header IDs in insertion order, for stable Query results
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		headers: make(map[string]*Header),
		bodies:  make(map[string]memoryBody),
	}
}

func (s *MemoryStore) StoreHeader(ctx context.Context, leg LegDetails) (string, error) {
	hash := cache.QuickHash(append(append([]byte{}, leg.RawBytes...), []byte(leg.ContentType)...))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bodies[hash]; !ok {
		s.bodies[hash] = memoryBody{rawBytes: leg.RawBytes, contentType: leg.ContentType}
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	s.headers[id] = &Header{
		ID:               id,
		CorrelationID:    leg.CorrelationID,
		SessionID:        leg.SessionID,
		SequenceNum:      leg.SequenceNum,
		SourceConfigName: leg.SourceConfigName,
		TargetConfigName: leg.TargetConfigName,
		MessageType:      leg.MessageType,
		Direction:        leg.Direction,
		Status:           StatusCreated,
		BodyHash:         hash,
		ReceivedAt:       now,
		UpdatedAt:        now,
		ExpiresAt:        leg.ExpiresAt,
	}
	s.order = append(s.order, id)

	return id, nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, status Status, ackContent, errMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.headers[id]
	if !ok {
		return apperror.NewWithField(apperror.CodeNotFound, "header not found", id)
	}

	h.Status = status
	h.AckContent = ackContent
	h.ErrorMessage = errMessage
	h.UpdatedAt = time.Now().UTC()
	h.Latency = h.UpdatedAt.Sub(h.ReceivedAt)

	return nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.headers[id]
	if !ok {
		return nil, apperror.NewWithField(apperror.CodeNotFound, "header not found", id)
	}
	cp := *h
	return &cp, nil
}

func (s *MemoryStore) GetContent(ctx context.Context, id string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.headers[id]
	if !ok {
		return nil, "", apperror.NewWithField(apperror.CodeNotFound, "header not found", id)
	}
	body, ok := s.bodies[h.BodyHash]
	if !ok {
		return nil, "", apperror.NewWithField(apperror.CodeNotFound, "body not found", h.BodyHash)
	}

	raw := make([]byte, len(body.rawBytes))
	copy(raw, body.rawBytes)
	return raw, body.contentType, nil
}

func (s *MemoryStore) ListByProject(ctx context.Context, projectID string, filters Query, limit, offset int) ([]*Header, int, error) {
	if filters.SourceConfigName == "" {
		filters.SourceConfigName = projectID
	}
	filters.Limit = limit
	filters.Offset = offset

	all := s.matching(filters, true)
	total := len(all)

	page := s.paginate(all, filters)
	return page, total, nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Header, error) {
	matches := s.matching(q, false)
	return s.paginate(matches, q), nil
}

// matching returns every header satisfying q's filters, in insertion
// order — sorting/pagination happens in paginate so ListByProject can
// compute total count against the same set. paginate sorts by ReceivedAt
// (descending when OrderDesc is set); OrderBy is not consulted.
func (s *MemoryStore) matching(q Query, ignoreOrder bool) []*Header {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Header
	for _, id := range s.order {
		h := s.headers[id]
		if q.SourceConfigName != "" && h.SourceConfigName != q.SourceConfigName {
			continue
		}
		if q.TargetConfigName != "" && h.TargetConfigName != q.TargetConfigName {
			continue
		}
		if q.MessageType != "" && h.MessageType != q.MessageType {
			continue
		}
		if q.Status != "" && h.Status != q.Status {
			continue
		}
		if q.CorrelationID != "" && h.CorrelationID != q.CorrelationID {
			continue
		}
		if q.ReceivedAfter != nil && h.ReceivedAt.Before(*q.ReceivedAfter) {
			continue
		}
		if q.ReceivedBefore != nil && h.ReceivedAt.After(*q.ReceivedBefore) {
			continue
		}
		cp := *h
		results = append(results, &cp)
	}
	return results
}

func (s *MemoryStore) paginate(headers []*Header, q Query) []*Header {
	sort.Slice(headers, func(i, j int) bool {
		if q.OrderDesc {
			return headers[i].ReceivedAt.After(headers[j].ReceivedAt)
		}
		return headers[i].ReceivedAt.Before(headers[j].ReceivedAt)
	})

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	if offset >= len(headers) {
		return []*Header{}
	}
	end := offset + limit
	if end > len(headers) {
		end = len(headers)
	}
	return headers[offset:end]
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	remaining := s.order[:0]
	for _, id := range s.order {
		h := s.headers[id]
		if h.ReceivedAt.Before(cutoff) {
			delete(s.headers, id)
			deleted++
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining

	s.pruneOrphanedBodiesLocked()

	return deleted, nil
}

func (s *MemoryStore) pruneOrphanedBodiesLocked() {
	referenced := make(map[string]bool, len(s.headers))
	for _, h := range s.headers {
		referenced[h.BodyHash] = true
	}
	for hash := range s.bodies {
		if !referenced[hash] {
			delete(s.bodies, hash)
		}
	}
}

func (s *MemoryStore) Close() error {
	return nil
}
