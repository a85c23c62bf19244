package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"backend-triptrack/internal/shared/apperr"

	"github.com/redis/go-redis/v9"
)

const source = "redis"

// Store wraps an injected redis client with the typed primitives the session
// layer needs: expiring JSON values, a score-ordered set, JSON hash fields,
// integer counters and key scans. Every failure surfaces as a StoreError
// once the client's retry budget is exhausted.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// RankedMember is one entry of a score-ordered set, highest score first when
// returned from RankedMembers.
type RankedMember struct {
	Member string
	Score  float64
}

func New(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// TTL reports the expiry applied to session values.
func (s *Store) TTL() time.Duration { return s.ttl }

func (s *Store) SetJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, source, err)
	}
	return wrap(s.client.Set(ctx, key, raw, s.ttl).Err())
}

// GetJSON reads key into dest, reporting whether the key existed.
func (s *Store) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperr.Wrap(apperr.KindStore, source, err)
	}
	return true, nil
}

// Del removes keys and returns how many existed.
func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	n, err := s.client.Del(ctx, keys...).Result()
	return n, wrap(err)
}

// SetRank writes member into the sorted set at key with the given score,
// inserting or replacing in place.
func (s *Store) SetRank(ctx context.Context, key, member string, score float64) error {
	return wrap(s.client.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err())
}

// RemoveRank deletes member from the sorted set, reporting whether it was
// present.
func (s *Store) RemoveRank(ctx context.Context, key, member string) (bool, error) {
	n, err := s.client.ZRem(ctx, key, member).Result()
	return n > 0, wrap(err)
}

// RankedMembers returns all members of the sorted set, descending by score.
func (s *Store) RankedMembers(ctx context.Context, key string) ([]RankedMember, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, wrap(err)
	}
	members := make([]RankedMember, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		members = append(members, RankedMember{Member: name, Score: z.Score})
	}
	return members, nil
}

func (s *Store) HSetJSON(ctx context.Context, key, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, source, err)
	}
	return wrap(s.client.HSet(ctx, key, field, raw).Err())
}

// HGetJSON reads a single hash field into dest, reporting whether the field
// existed.
func (s *Store) HGetJSON(ctx context.Context, key, field string, dest any) (bool, error) {
	raw, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, apperr.Wrap(apperr.KindStore, source, err)
	}
	return true, nil
}

// HDel removes a hash field, reporting whether it was present.
func (s *Store) HDel(ctx context.Context, key, field string) (bool, error) {
	n, err := s.client.HDel(ctx, key, field).Result()
	return n > 0, wrap(err)
}

// HGetAllRaw returns every field of the hash with its raw JSON value.
func (s *Store) HGetAllRaw(ctx context.Context, key string) (map[string]string, error) {
	fields, err := s.client.HGetAll(ctx, key).Result()
	return fields, wrap(err)
}

// HSetEachJSON writes the same JSON value under every given field in one
// pipelined round trip.
func (s *Store) HSetEachJSON(ctx context.Context, key string, fields []string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, source, err)
	}
	pipe := s.client.TxPipeline()
	for _, field := range fields {
		pipe.HSet(ctx, key, field, raw)
	}
	_, err = pipe.Exec(ctx)
	return wrap(err)
}

func (s *Store) SetInt(ctx context.Context, key string, value int64) error {
	return wrap(s.client.Set(ctx, key, value, s.ttl).Err())
}

// GetInt reads an integer key, reporting whether it existed.
func (s *Store) GetInt(ctx context.Context, key string) (int64, bool, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrap(err)
	}
	return n, true, nil
}

// Incr atomically increments the integer at key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, wrap(err)
}

// ScanKeys collects every key matching pattern via a full cursor sweep.
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, wrap(err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return apperr.Wrap(apperr.KindStore, source, err)
}
