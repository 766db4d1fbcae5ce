// Package sessionstore implements the Redis-backed session/group snapshot
// described in SPEC_FULL.md §3.1 (SessionSnapshot): an optional mirror of
// WebSocketSessionManager's (session_id, groups) state, written on every
// group mutation so other processes can see it. LoadAll reads the snapshots
// back, but the manager does not call it: a restarted manager starts with
// empty sessions and groups. The manager degrades to in-memory-only when no Store is configured,
// exactly as the teacher's cache package degrades when Redis is disabled.
package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dispatchkit/dispatch/internal/logging"
)

// Config mirrors the teacher's cache.Config (Host/Port/Password/DB/Enabled).
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

func (c Config) addr() string {
	if c.Port == "" {
		return c.Host
	}
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}

// Store is a thin Redis-backed key/value mirror of session group membership.
// Disabled stores are no-ops, so callers never need to branch on Config.Enabled
// themselves.
type Store struct {
	client  *redis.Client
	log     *zerolog.Logger
	enabled bool
}

const keyPrefix = "dispatch:session:"

// New connects a Store per cfg. A disabled config returns a Store whose
// every method is a no-op, so the session manager can hold it unconditionally.
func New(cfg Config) *Store {
	if !cfg.Enabled {
		return &Store{enabled: false}
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   3,
	})
	return &Store{client: client, log: logging.Component("sessionstore"), enabled: true}
}

// SaveGroups mirrors sessionID's current group membership. Failures are
// logged, never returned to the caller: a snapshot write is best-effort and
// must never block or fail the in-memory group mutation it shadows.
func (s *Store) SaveGroups(sessionID string, groups []string) {
	if !s.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	data, err := json.Marshal(groups)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("marshal session snapshot")
		return
	}
	if err := s.client.Set(ctx, keyPrefix+sessionID, data, 24*time.Hour).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("write session snapshot")
	}
}

// Forget removes sessionID's snapshot, called on unregister.
func (s *Store) Forget(sessionID string) {
	if !s.enabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, keyPrefix+sessionID).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("delete session snapshot")
	}
}

// LoadAll returns every surviving snapshot as sessionID -> groups. Nothing
// in this module calls it; SessionManager does not restore group membership
// from the store. Returns an empty map, not an error, if disabled.
func (s *Store) LoadAll(ctx context.Context) (map[string][]string, error) {
	out := map[string][]string{}
	if !s.enabled {
		return out, nil
	}
	keys, err := s.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("sessionstore: list snapshots: %w", err)
	}
	for _, key := range keys {
		raw, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		var groups []string
		if err := json.Unmarshal(raw, &groups); err != nil {
			continue
		}
		out[key[len(keyPrefix):]] = groups
	}
	return out, nil
}

// Close releases the underlying Redis client. A no-op on a disabled Store.
func (s *Store) Close() error {
	if !s.enabled || s.client == nil {
		return nil
	}
	return s.client.Close()
}
