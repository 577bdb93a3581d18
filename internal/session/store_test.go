package session

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMergeFillsOnlyEmptyFields(t *testing.T) {
	rec := Record{SessionID: "s1", Name: "João Silva", Stage: StageCollectingIdentity}

	if rec.Merge("Maria Souza", "") {
		t.Fatal("expected no change when name already captured")
	}
	if rec.Name != "João Silva" {
		t.Fatalf("name overwritten: %q", rec.Name)
	}
	if !rec.Merge("Maria Souza", "11988887777") {
		t.Fatal("expected phone to be merged")
	}
	if rec.Phone != "11988887777" || rec.Name != "João Silva" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Stage != StageIdentified {
		t.Fatalf("expected identified stage, got %s", rec.Stage)
	}

	partial := Record{SessionID: "s2"}
	partial.Merge("", "11988887777")
	if partial.Stage != StageCollectingIdentity {
		t.Fatalf("expected collecting stage, got %s", partial.Stage)
	}

	booked := Record{SessionID: "s3", Name: "Ana Lima", Stage: StageBooked}
	booked.Merge("", "11988887777")
	if booked.Stage != StageBooked {
		t.Fatalf("merge must not regress stage, got %s", booked.Stage)
	}
}

func TestRedisStoreRoundTripAndTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, 0)
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected absent session, got ok=%v err=%v", ok, err)
	}

	if err := store.Set(ctx, Record{SessionID: "abc", Name: "João Silva", Stage: StageCollectingIdentity}); err != nil {
		t.Fatalf("set: %v", err)
	}
	rec, ok, err := store.Get(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if rec.Name != "João Silva" || rec.UpdatedAt.IsZero() {
		t.Fatalf("unexpected record %+v", rec)
	}
	if ttl := mr.TTL("session:abc"); ttl != DefaultTTL {
		t.Fatalf("expected key ttl %s, got %s", DefaultTTL, ttl)
	}

	mr.FastForward(DefaultTTL + time.Second)
	if _, ok, _ := store.Get(ctx, "abc"); ok {
		t.Fatal("expected session to expire with key ttl")
	}
}

func TestRedisStoreClearsStaleRecords(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	base := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	if err := store.Set(ctx, Record{SessionID: "abc", Phone: "11988887777"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	store.now = func() time.Time { return base.Add(3601 * time.Second) }
	if _, ok, err := store.Get(ctx, "abc"); err != nil || ok {
		t.Fatalf("expected stale record treated as absent, ok=%v err=%v", ok, err)
	}
	if mr.Exists("session:abc") {
		t.Fatal("expected stale key to be deleted")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Hour).WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := store.Set(ctx, Record{}); err != ErrSessionIDRequired {
		t.Fatalf("expected ErrSessionIDRequired, got %v", err)
	}
	if err := store.Set(ctx, Record{SessionID: "abc", Name: "Ana Lima"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	now = now.Add(59 * time.Minute)
	if _, ok, _ := store.Get(ctx, "abc"); !ok {
		t.Fatal("expected live session")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := store.Get(ctx, "abc"); ok {
		t.Fatal("expected stale session to be absent")
	}

	if err := store.Set(ctx, Record{SessionID: "abc"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Expire(ctx, "abc"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "abc"); ok {
		t.Fatal("expected expired session to be gone")
	}
}
