package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/torosent/quicperf/internal/measurement"
)

// RedisStore keeps each measurement as JSON under <prefix>:measurement:<id>,
// lists identifiers in insertion order under <prefix>:measurements and pushes
// diagnostic logs onto <prefix>:qlog:<id>.
type RedisStore struct {
	client *redis.Client
	prefix string
	policy ConflictPolicy
}

// NewRedis creates a RedisStore. The connection is checked by Initialize.
func NewRedis(opts Options) (*RedisStore, error) {
	if strings.TrimSpace(opts.RedisAddr) == "" {
		return nil, errors.New("redis store: address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	})
	return NewRedisWithClient(client, opts.RedisPrefix, opts.OnConflict), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, policy ConflictPolicy) *RedisStore {
	if prefix == "" {
		prefix = "quicperf"
	}
	if policy == "" {
		policy = ConflictFail
	}
	return &RedisStore{client: client, prefix: prefix, policy: policy}
}

// MeasurementKey returns the key holding the measurement with id.
func (s *RedisStore) MeasurementKey(id string) string {
	return s.prefix + ":measurement:" + id
}

// IndexKey returns the key of the identifier list.
func (s *RedisStore) IndexKey() string {
	return s.prefix + ":measurements"
}

// QLogKey returns the list key holding diagnostic logs for id.
func (s *RedisStore) QLogKey(id string) string {
	return s.prefix + ":qlog:" + id
}

// Initialize checks that the server is reachable.
func (s *RedisStore) Initialize(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Append stores m according to the store's conflict policy.
func (s *RedisStore) Append(ctx context.Context, m measurement.Measurement) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := s.MeasurementKey(m.ID)

	if s.policy == ConflictReplace {
		existed, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("redis exists: %w", err)
		}
		if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
			return fmt.Errorf("redis set: %w", err)
		}
		if existed > 0 {
			return nil
		}
		return s.index(ctx, m.ID)
	}

	created, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !created {
		if s.policy == ConflictSkip {
			log.Info().Str("id", m.ID).Msg("measurement already stored, skipped")
			return nil
		}
		return fmt.Errorf("%w: %s", ErrDuplicate, m.ID)
	}
	return s.index(ctx, m.ID)
}

func (s *RedisStore) index(ctx context.Context, id string) error {
	if err := s.client.RPush(ctx, s.IndexKey(), id).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// AppendDiagnosticLog pushes the log onto the measurement's qlog list.
func (s *RedisStore) AppendDiagnosticLog(ctx context.Context, l measurement.DiagnosticLog) error {
	n, err := s.client.Exists(ctx, s.MeasurementKey(l.MeasurementID)).Result()
	if err != nil {
		return fmt.Errorf("redis exists: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownMeasurement, l.MeasurementID)
	}
	if err := s.client.RPush(ctx, s.QLogKey(l.MeasurementID), l.Log).Err(); err != nil {
		return fmt.Errorf("redis rpush: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
