// Package session keeps per-conversation identity and booking stage between turns.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL is how long a session survives without writes.
const DefaultTTL = time.Hour

// Stage tracks where the patient is in the booking flow.
type Stage string

const (
	StageNew                Stage = "new"
	StageCollectingIdentity Stage = "collecting_identity"
	StageIdentified         Stage = "identified"
	StageSlotsOffered       Stage = "slots_offered"
	StageBooked             Stage = "booked"
)

// ErrSessionIDRequired is returned when a record has no session id.
var ErrSessionIDRequired = errors.New("session: session id required")

// Record is the captured state of one conversation.
type Record struct {
	SessionID string    `json:"session_id"`
	Name      string    `json:"name,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Stage     Stage     `json:"stage"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasIdentity reports whether both name and phone are captured.
func (r Record) HasIdentity() bool {
	return r.Name != "" && r.Phone != ""
}

// Merge fills empty fields from name and phone and reports whether anything changed.
// Captured values are never overwritten.
func (r *Record) Merge(name, phone string) bool {
	changed := false
	if r.Name == "" && name != "" {
		r.Name = name
		changed = true
	}
	if r.Phone == "" && phone != "" {
		r.Phone = phone
		changed = true
	}
	if !changed {
		return false
	}
	switch {
	case r.HasIdentity() && (r.Stage == "" || r.Stage == StageNew || r.Stage == StageCollectingIdentity):
		r.Stage = StageIdentified
	case !r.HasIdentity() && (r.Stage == "" || r.Stage == StageNew):
		r.Stage = StageCollectingIdentity
	}
	return true
}

// Expired reports whether the record is older than ttl at now.
func (r Record) Expired(now time.Time, ttl time.Duration) bool {
	return !r.UpdatedAt.IsZero() && now.Sub(r.UpdatedAt) > ttl
}

// Store persists session records. Get treats expired records as absent and clears them.
type Store interface {
	Get(ctx context.Context, sessionID string) (Record, bool, error)
	Set(ctx context.Context, rec Record) error
	Expire(ctx context.Context, sessionID string) error
}

// RedisStore keeps sessions in Redis with a key TTL matching the staleness window.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore builds a RedisStore. ttl <= 0 means DefaultTTL.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if client == nil {
		panic("session: redis client required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("session: get: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("session: unmarshal: %w", err)
	}
	if rec.Expired(s.now(), s.ttl) {
		if err := s.Expire(ctx, sessionID); err != nil {
			return Record{}, false, err
		}
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Set implements Store and stamps UpdatedAt.
func (s *RedisStore) Set(ctx context.Context, rec Record) error {
	if rec.SessionID == "" {
		return ErrSessionIDRequired
	}
	rec.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: set: %w", err)
	}
	return nil
}

// Expire implements Store.
func (s *RedisStore) Expire(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("session: expire: %w", err)
	}
	return nil
}

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore builds a MemoryStore. ttl <= 0 means DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{records: make(map[string]Record), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source and returns the store.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[sessionID]
	if !ok {
		return Record{}, false, nil
	}
	if rec.Expired(s.now(), s.ttl) {
		delete(s.records, sessionID)
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Set implements Store and stamps UpdatedAt.
func (s *MemoryStore) Set(_ context.Context, rec Record) error {
	if rec.SessionID == "" {
		return ErrSessionIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = s.now().UTC()
	s.records[rec.SessionID] = rec
	return nil
}

// Expire implements Store.
func (s *MemoryStore) Expire(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, sessionID)
	return nil
}
