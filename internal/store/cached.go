package store

import (
	"context"
	"encoding/json"
	"time"

	"hie/internal/cache"
	"hie/internal/logging"
)

// CachedStore wraps a Store with a read-through cache over GetContent.
// Bodies are content-addressed and immutable once written (StoreHeader
// dedups by hash), so a cached body for a given header id never goes
// stale — it only ever needs evicting for space, which c's own TTL/LRU
// policy handles.
type CachedStore struct {
	Store
	cache cache.Cache
	ttl   time.Duration
}

// NewCachedStore wraps inner with c, caching GetContent results for ttl.
func NewCachedStore(inner Store, c cache.Cache, ttl time.Duration) *CachedStore {
	return &CachedStore{Store: inner, cache: c, ttl: ttl}
}

type cachedBody struct {
	Raw         []byte `json:"raw"`
	ContentType string `json:"content_type"`
}

func (s *CachedStore) GetContent(ctx context.Context, id string) ([]byte, string, error) {
	key := "body:" + id

	if raw, ok := s.get(ctx, key); ok {
		return raw.Raw, raw.ContentType, nil
	}

	rawBytes, contentType, err := s.Store.GetContent(ctx, id)
	if err != nil {
		return nil, "", err
	}

	s.set(ctx, key, cachedBody{Raw: rawBytes, ContentType: contentType})
	return rawBytes, contentType, nil
}

func (s *CachedStore) get(ctx context.Context, key string) (cachedBody, bool) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return cachedBody{}, false
	}
	var body cachedBody
	if err := json.Unmarshal(data, &body); err != nil {
		logging.Log.Warn("cached body unmarshal failed, treating as miss", "key", key, "error", err)
		return cachedBody{}, false
	}
	return body, true
}

func (s *CachedStore) set(ctx context.Context, key string, body cachedBody) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		logging.Log.Warn("cache body failed", "key", key, "error", err)
	}
}
