package tokens

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), 10*time.Minute)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCreateAndConsume(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Create(ctx, "kody@example.com", "grant_1", "123456"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	data, err := store.Consume(ctx, "grant_1", "123456")
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if data.Email != "kody@example.com" {
		t.Errorf("expected email kody@example.com, got %s", data.Email)
	}
	if data.GrantID != "grant_1" {
		t.Errorf("expected grant grant_1, got %s", data.GrantID)
	}
}

func TestConsumeIsSingleUse(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Create(ctx, "kody@example.com", "grant_1", "123456"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.Consume(ctx, "grant_1", "123456"); err != nil {
		t.Fatalf("first Consume failed: %v", err)
	}
	if _, err := store.Consume(ctx, "grant_1", "123456"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second consume, got %v", err)
	}
}

func TestConsumeWrongCodeKeepsToken(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Create(ctx, "kody@example.com", "grant_1", "123456"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.Consume(ctx, "grant_1", "654321"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}

	// A failed guess must not burn the real token.
	if _, err := store.Consume(ctx, "grant_1", "123456"); err != nil {
		t.Errorf("Consume after wrong guess failed: %v", err)
	}
}

func TestConsumeUnknownGrant(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	if _, err := store.Consume(context.Background(), "grant_missing", "123456"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSupersedesPrevious(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Create(ctx, "kody@example.com", "grant_1", "111111"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := store.Create(ctx, "hannah@example.com", "grant_1", "222222"); err != nil {
		t.Fatalf("second Create failed: %v", err)
	}

	if _, err := store.Consume(ctx, "grant_1", "111111"); !errors.Is(err, ErrCodeMismatch) {
		t.Errorf("expected superseded code to mismatch, got %v", err)
	}
	data, err := store.Consume(ctx, "grant_1", "222222")
	if err != nil {
		t.Fatalf("Consume of latest token failed: %v", err)
	}
	if data.Email != "hannah@example.com" {
		t.Errorf("expected latest email, got %s", data.Email)
	}
}

func TestTokenExpiry(t *testing.T) {
	store, s := setupTestStore(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.Create(ctx, "kody@example.com", "grant_1", "123456"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	s.FastForward(11 * time.Minute)

	if _, err := store.Consume(ctx, "grant_1", "123456"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}
