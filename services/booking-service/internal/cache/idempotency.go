package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyKeyPrefix = "idempotency:"
	pendingMarker        = "pending"
)

var (
	// ErrInProgress means another request with the same key has not finished yet.
	ErrInProgress = errors.New("request with this idempotency key is in progress")
	// ErrKeyReused means the key already completed for a request with a different body.
	ErrKeyReused = errors.New("idempotency key was used for a different request")
)

// StoredResponse is the replayable result of a completed request.
type StoredResponse struct {
	StatusCode  int             `json:"status_code"`
	Body        json.RawMessage `json:"body"`
	RequestHash string          `json:"request_hash,omitempty"`
}

type IdempotencyStore struct {
	rdb        redis.Cmdable
	prefix     string
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotencyStore(rdb redis.Cmdable, prefix string, ttl time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyStore{rdb: rdb, prefix: prefix, ttl: ttl, pendingTTL: time.Minute}
}

func (s *IdempotencyStore) key(scope, key string) string {
	return s.prefix + idempotencyKeyPrefix + scope + ":" + key
}

// Reserve claims key for scope. It returns the stored response when the key already completed for
// the same requestHash, ErrKeyReused when it completed for another one, ErrInProgress while another
// request holds it, and (nil, nil) once the caller owns the key.
func (s *IdempotencyStore) Reserve(ctx context.Context, scope, key, requestHash string) (*StoredResponse, error) {
	k := s.key(scope, key)
	ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.pendingTTL).Result()
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}

	raw, err := s.rdb.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; try once more.
		ok, err = s.rdb.SetNX(ctx, k, pendingMarker, s.pendingTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return nil, nil
		}
		return nil, ErrInProgress
	}
	if err != nil {
		return nil, err
	}
	if raw == pendingMarker {
		return nil, ErrInProgress
	}
	var resp StoredResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, err
	}
	if resp.RequestHash != requestHash {
		return nil, ErrKeyReused
	}
	return &resp, nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(scope, key), raw, s.ttl).Err()
}

// Release frees a reservation so a failed request can be retried with the same key.
func (s *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, s.key(scope, key)).Err()
}
