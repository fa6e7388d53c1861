package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// openTestDB connects to the database named by TEST_DATABASE_URL and applies
// migrations. Tests using it are skipped when the variable is unset.
func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Open(ctx, databaseURL)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	migrationsDir := filepath.Join("..", "..", "db", "migrations")
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

func testUser(t *testing.T, s *PostgresStore) User {
	t.Helper()
	email := fmt.Sprintf("it-%d@example.com", time.Now().UnixNano())
	user, err := s.EnsureUserByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	return user
}

func TestGrantLifecycleIntegration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	grantID := fmt.Sprintf("grant_it_%d", time.Now().UnixNano())
	if err := s.CreateUnclaimedGrant(ctx, grantID); err != nil {
		t.Fatalf("create grant: %v", err)
	}
	// Re-creating the same grant must not fail or reset ownership state.
	if err := s.CreateUnclaimedGrant(ctx, grantID); err != nil {
		t.Fatalf("re-create grant: %v", err)
	}

	grant, err := s.GetGrant(ctx, grantID)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if grant.Claimed() {
		t.Fatal("fresh grant should be unclaimed")
	}

	user := testUser(t, s)
	if err := s.SetGrantOwner(ctx, grantID, user.ID); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	grant, err = s.GetGrant(ctx, grantID)
	if err != nil {
		t.Fatalf("get grant: %v", err)
	}
	if !grant.Claimed() || *grant.UserID != user.ID {
		t.Fatalf("grant owner = %v, want %d", grant.UserID, user.ID)
	}

	if err := s.UnclaimGrant(ctx, grantID); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if err := s.UnclaimGrant(ctx, grantID); err != nil {
		t.Fatalf("second unclaim: %v", err)
	}
	grant, _ = s.GetGrant(ctx, grantID)
	if grant.Claimed() {
		t.Fatal("grant should be unclaimed again")
	}

	if err := s.SetGrantOwner(ctx, "grant_it_missing", user.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("set owner on missing grant err = %v, want sql.ErrNoRows", err)
	}
}

func TestEntryTagRoundtripIntegration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	user := testUser(t, s)

	mood := "calm"
	entry, err := s.CreateEntry(ctx, user.ID, NewEntry{
		Title:   "Trip to Japan",
		Content: "We took the train to Kyoto.",
		Mood:    &mood,
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}
	if !entry.IsPrivate {
		t.Fatal("entries default to private")
	}

	tag, err := s.CreateTag(ctx, user.ID, NewTag{Name: "travel"})
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}
	// Same name resolves to the same tag.
	again, err := s.CreateTag(ctx, user.ID, NewTag{Name: "travel"})
	if err != nil {
		t.Fatalf("re-create tag: %v", err)
	}
	if again.ID != tag.ID {
		t.Fatalf("duplicate name created tag %d, want %d", again.ID, tag.ID)
	}

	if err := s.AddTagToEntry(ctx, user.ID, entry.ID, tag.ID); err != nil {
		t.Fatalf("link tag: %v", err)
	}
	if err := s.AddTagToEntry(ctx, user.ID, entry.ID, tag.ID); err != nil {
		t.Fatalf("re-link tag: %v", err)
	}

	got, err := s.GetEntry(ctx, user.ID, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "travel" {
		t.Fatalf("entry tags = %+v", got.Tags)
	}

	// Another user must not see or link to this entry.
	other := testUser(t, s)
	if _, err := s.GetEntry(ctx, other.ID, entry.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("cross-user get err = %v, want sql.ErrNoRows", err)
	}
	if err := s.AddTagToEntry(ctx, other.ID, entry.ID, tag.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("cross-user link err = %v, want sql.ErrNoRows", err)
	}

	filtered, err := s.ListEntries(ctx, user.ID, EntryFilter{TagIDs: []int64{tag.ID}})
	if err != nil {
		t.Fatalf("list entries: %v", err)
	}
	found := false
	for _, e := range filtered {
		if e.ID == entry.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("tag filter should include the linked entry")
	}

	if err := s.DeleteEntry(ctx, user.ID, entry.ID); err != nil {
		t.Fatalf("delete entry: %v", err)
	}
	if _, err := s.GetEntry(ctx, user.ID, entry.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("deleted entry err = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateEntryIntegration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	user := testUser(t, s)

	mood := "calm"
	entry, err := s.CreateEntry(ctx, user.ID, NewEntry{
		Title:   "Before",
		Content: "Original content.",
		Mood:    &mood,
	})
	if err != nil {
		t.Fatalf("create entry: %v", err)
	}

	title := "After"
	clear := ""
	favorite := true
	updated, err := s.UpdateEntry(ctx, user.ID, entry.ID, UpdateEntry{
		Title:      &title,
		Mood:       &clear,
		IsFavorite: &favorite,
	})
	if err != nil {
		t.Fatalf("update entry: %v", err)
	}
	if updated.Title != "After" || !updated.IsFavorite {
		t.Fatalf("updated = %+v", updated)
	}
	if updated.Mood != nil {
		t.Fatalf("mood = %v, empty string must clear it", *updated.Mood)
	}
	if updated.Content != "Original content." {
		t.Fatalf("content = %q, omitted field must be unchanged", updated.Content)
	}
	if updated.UpdatedAt.Before(entry.UpdatedAt) {
		t.Fatalf("updated_at %v must not precede %v", updated.UpdatedAt, entry.UpdatedAt)
	}

	got, err := s.GetEntry(ctx, user.ID, entry.ID)
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if got.Title != "After" || got.Mood != nil || got.Content != "Original content." {
		t.Fatalf("persisted entry = %+v", got)
	}

	other := testUser(t, s)
	if _, err := s.UpdateEntry(ctx, other.ID, entry.ID, UpdateEntry{Title: &title}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("cross-user update err = %v, want sql.ErrNoRows", err)
	}
}

func TestUpdateTagIntegration(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	user := testUser(t, s)

	tag, err := s.CreateTag(ctx, user.ID, NewTag{Name: "travel"})
	if err != nil {
		t.Fatalf("create tag: %v", err)
	}

	name := "trips"
	description := "Away from home"
	updated, err := s.UpdateTag(ctx, user.ID, tag.ID, UpdateTag{
		Name:        &name,
		Description: &description,
	})
	if err != nil {
		t.Fatalf("update tag: %v", err)
	}
	if updated.Name != "trips" || updated.Description == nil || *updated.Description != "Away from home" {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := s.UpdateTag(ctx, user.ID, tag.ID+9999, UpdateTag{Name: &name}); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("missing tag update err = %v, want sql.ErrNoRows", err)
	}
}
