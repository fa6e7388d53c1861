package store

import "time"

type User struct {
	ID        int64
	Email     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Grant is an OAuth authorization record. UserID is nil until the grant is
// claimed through a validated one-time code.
type Grant struct {
	ID        string
	UserID    *int64
	CreatedAt time.Time
}

// Claimed reports whether the grant is bound to a user.
func (g Grant) Claimed() bool {
	return g.UserID != nil
}

type Entry struct {
	ID         int64
	UserID     int64
	Title      string
	Content    string
	Mood       *string
	Location   *string
	Weather    *string
	IsPrivate  bool
	IsFavorite bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Tags       []EntryTagRef
}

// EntryTagRef is the compact tag view embedded in an entry.
type EntryTagRef struct {
	ID   int64
	Name string
}

type Tag struct {
	ID          int64
	UserID      int64
	Name        string
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type NewEntry struct {
	Title      string
	Content    string
	Mood       *string
	Location   *string
	Weather    *string
	IsPrivate  *bool
	IsFavorite *bool
}

// UpdateEntry is a partial update. Nil fields are left unchanged; setting an
// optional text field to the empty string clears it.
type UpdateEntry struct {
	Title      *string
	Content    *string
	Mood       *string
	Location   *string
	Weather    *string
	IsPrivate  *bool
	IsFavorite *bool
}

type NewTag struct {
	Name        string
	Description *string
}

// UpdateTag is a partial update. Nil fields are left unchanged.
type UpdateTag struct {
	Name        *string
	Description *string
}

// EntryFilter narrows ListEntries. Zero value means "everything".
type EntryFilter struct {
	TagIDs []int64
	From   string // YYYY-MM-DD, inclusive
	To     string // YYYY-MM-DD, inclusive
}
