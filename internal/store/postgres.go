package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByEmail(ctx context.Context, email string) (User, error) {
	const findUser = `SELECT id, email, created_at, updated_at FROM users WHERE email = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, email).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (email)
		VALUES ($1)
		ON CONFLICT (email) DO UPDATE SET updated_at = NOW()
		RETURNING id, email, created_at, updated_at
	`
	if err := s.db.QueryRowContext(ctx, insertUser, email).Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, updated_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.Email, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUnclaimedGrant(ctx context.Context, grantID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO grants (id, user_id)
		VALUES ($1, NULL)
		ON CONFLICT (id) DO NOTHING
	`, grantID)
	if err != nil {
		return fmt.Errorf("insert grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGrant(ctx context.Context, grantID string) (Grant, error) {
	var grant Grant
	err := s.db.QueryRowContext(ctx, `SELECT id, user_id, created_at FROM grants WHERE id=$1`, grantID).
		Scan(&grant.ID, &grant.UserID, &grant.CreatedAt)
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (s *PostgresStore) SetGrantOwner(ctx context.Context, grantID string, userID int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE grants SET user_id=$2 WHERE id=$1`, grantID, userID)
	if err != nil {
		return fmt.Errorf("set grant owner: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set grant owner: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UnclaimGrant releases the grant back to unclaimed. Unclaiming an already
// unclaimed grant is a no-op success.
func (s *PostgresStore) UnclaimGrant(ctx context.Context, grantID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE grants SET user_id=NULL WHERE id=$1`, grantID)
	if err != nil {
		return fmt.Errorf("unclaim grant: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateEntry(ctx context.Context, userID int64, input NewEntry) (Entry, error) {
	isPrivate := true
	if input.IsPrivate != nil {
		isPrivate = *input.IsPrivate
	}
	isFavorite := false
	if input.IsFavorite != nil {
		isFavorite = *input.IsFavorite
	}

	var entry Entry
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO entries (user_id, title, content, mood, location, weather, is_private, is_favorite)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, user_id, title, content, mood, location, weather, is_private, is_favorite, created_at, updated_at
	`, userID, input.Title, input.Content, input.Mood, input.Location, input.Weather, isPrivate, isFavorite).Scan(
		&entry.ID, &entry.UserID, &entry.Title, &entry.Content,
		&entry.Mood, &entry.Location, &entry.Weather,
		&entry.IsPrivate, &entry.IsFavorite, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert entry: %w", err)
	}
	entry.Tags = []EntryTagRef{}
	return entry, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, userID, entryID int64) (Entry, error) {
	var entry Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, content, mood, location, weather, is_private, is_favorite, created_at, updated_at
		FROM entries
		WHERE id=$1 AND user_id=$2
	`, entryID, userID).Scan(
		&entry.ID, &entry.UserID, &entry.Title, &entry.Content,
		&entry.Mood, &entry.Location, &entry.Weather,
		&entry.IsPrivate, &entry.IsFavorite, &entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return Entry{}, err
	}
	tags, err := s.GetEntryTags(ctx, userID, entryID)
	if err != nil {
		return Entry{}, err
	}
	entry.Tags = make([]EntryTagRef, 0, len(tags))
	for _, tag := range tags {
		entry.Tags = append(entry.Tags, EntryTagRef{ID: tag.ID, Name: tag.Name})
	}
	return entry, nil
}

func (s *PostgresStore) ListEntries(ctx context.Context, userID int64, filter EntryFilter) ([]Entry, error) {
	query := `
		SELECT DISTINCT e.id, e.user_id, e.title, e.content, e.mood, e.location, e.weather,
			e.is_private, e.is_favorite, e.created_at, e.updated_at
		FROM entries e
	`
	args := []any{userID}
	conditions := []string{"e.user_id = $1"}

	if len(filter.TagIDs) > 0 {
		placeholders := make([]string, 0, len(filter.TagIDs))
		for _, tagID := range filter.TagIDs {
			args = append(args, tagID)
			placeholders = append(placeholders, "$"+strconv.Itoa(len(args)))
		}
		query += ` JOIN entry_tags et ON et.entry_id = e.id`
		conditions = append(conditions, "et.tag_id IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.From != "" {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("e.created_at >= $%d::date", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("e.created_at < $%d::date + INTERVAL '1 day'", len(args)))
	}

	query += " WHERE " + strings.Join(conditions, " AND ") + " ORDER BY e.created_at DESC, e.id DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(
			&entry.ID, &entry.UserID, &entry.Title, &entry.Content,
			&entry.Mood, &entry.Location, &entry.Weather,
			&entry.IsPrivate, &entry.IsFavorite, &entry.CreatedAt, &entry.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return items, nil
}

// UpdateEntry overlays the non-nil fields of input onto the stored entry.
// Optional text fields set to the empty string are cleared to NULL.
func (s *PostgresStore) UpdateEntry(ctx context.Context, userID, entryID int64, input UpdateEntry) (Entry, error) {
	entry, err := s.GetEntry(ctx, userID, entryID)
	if err != nil {
		return Entry{}, err
	}
	if input.Title != nil {
		entry.Title = *input.Title
	}
	if input.Content != nil {
		entry.Content = *input.Content
	}
	if input.Mood != nil {
		entry.Mood = emptyToNil(*input.Mood)
	}
	if input.Location != nil {
		entry.Location = emptyToNil(*input.Location)
	}
	if input.Weather != nil {
		entry.Weather = emptyToNil(*input.Weather)
	}
	if input.IsPrivate != nil {
		entry.IsPrivate = *input.IsPrivate
	}
	if input.IsFavorite != nil {
		entry.IsFavorite = *input.IsFavorite
	}

	err = s.db.QueryRowContext(ctx, `
		UPDATE entries
		SET title=$3, content=$4, mood=$5, location=$6, weather=$7, is_private=$8, is_favorite=$9, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING updated_at
	`, entryID, userID, entry.Title, entry.Content, entry.Mood, entry.Location, entry.Weather,
		entry.IsPrivate, entry.IsFavorite).Scan(&entry.UpdatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("update entry: %w", err)
	}
	return entry, nil
}

func emptyToNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PostgresStore) DeleteEntry(ctx context.Context, userID, entryID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id=$1 AND user_id=$2`, entryID, userID)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateTag(ctx context.Context, userID int64, input NewTag) (Tag, error) {
	var tag Tag
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tags (user_id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, name) DO UPDATE SET
			description = COALESCE(EXCLUDED.description, tags.description),
			updated_at = NOW()
		RETURNING id, user_id, name, description, created_at, updated_at
	`, userID, input.Name, input.Description).Scan(
		&tag.ID, &tag.UserID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt,
	)
	if err != nil {
		return Tag{}, fmt.Errorf("insert tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) GetTag(ctx context.Context, userID, tagID int64) (Tag, error) {
	var tag Tag
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM tags
		WHERE id=$1 AND user_id=$2
	`, tagID, userID).Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt)
	if err != nil {
		return Tag{}, err
	}
	return tag, nil
}

func (s *PostgresStore) GetTags(ctx context.Context, userID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, created_at, updated_at
		FROM tags
		WHERE user_id=$1
		ORDER BY name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return items, nil
}

// UpdateTag overlays the non-nil fields of input onto the stored tag.
// Renaming onto an existing tag name fails on the unique constraint.
func (s *PostgresStore) UpdateTag(ctx context.Context, userID, tagID int64, input UpdateTag) (Tag, error) {
	tag, err := s.GetTag(ctx, userID, tagID)
	if err != nil {
		return Tag{}, err
	}
	if input.Name != nil {
		tag.Name = *input.Name
	}
	if input.Description != nil {
		tag.Description = emptyToNil(*input.Description)
	}

	err = s.db.QueryRowContext(ctx, `
		UPDATE tags
		SET name=$3, description=$4, updated_at=NOW()
		WHERE id=$1 AND user_id=$2
		RETURNING updated_at
	`, tagID, userID, tag.Name, tag.Description).Scan(&tag.UpdatedAt)
	if err != nil {
		return Tag{}, fmt.Errorf("update tag: %w", err)
	}
	return tag, nil
}

func (s *PostgresStore) DeleteTag(ctx context.Context, userID, tagID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tags WHERE id=$1 AND user_id=$2`, tagID, userID)
	if err != nil {
		return fmt.Errorf("delete tag: %w", err)
	}
	return nil
}

// AddTagToEntry links a tag to an entry. Linking an already-linked tag is a
// no-op success, so retries after partial failures are always safe.
func (s *PostgresStore) AddTagToEntry(ctx context.Context, userID, entryID, tagID int64) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO entry_tags (entry_id, tag_id)
		SELECT e.id, t.id
		FROM entries e, tags t
		WHERE e.id=$1 AND e.user_id=$3 AND t.id=$2 AND t.user_id=$3
		ON CONFLICT (entry_id, tag_id) DO NOTHING
	`, entryID, tagID, userID)
	if err != nil {
		return fmt.Errorf("add tag to entry: %w", err)
	}
	// Zero rows means either the pair already exists (fine) or the entry/tag
	// does not belong to the user. Distinguish by checking the link exists.
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("add tag to entry: %w", err)
	}
	if affected == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM entry_tags et
				JOIN entries e ON e.id = et.entry_id
				WHERE et.entry_id=$1 AND et.tag_id=$2 AND e.user_id=$3
			)
		`, entryID, tagID, userID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check entry tag: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
	}
	return nil
}

func (s *PostgresStore) GetEntryTags(ctx context.Context, userID, entryID int64) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.user_id, t.name, t.description, t.created_at, t.updated_at
		FROM entry_tags et
		JOIN tags t ON t.id = et.tag_id
		JOIN entries e ON e.id = et.entry_id
		WHERE et.entry_id=$1 AND e.user_id=$2 AND t.user_id=$2
		ORDER BY t.name
	`, entryID, userID)
	if err != nil {
		return nil, fmt.Errorf("list entry tags: %w", err)
	}
	defer rows.Close()

	items := make([]Tag, 0)
	for rows.Next() {
		var tag Tag
		if err := rows.Scan(&tag.ID, &tag.UserID, &tag.Name, &tag.Description, &tag.CreatedAt, &tag.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan entry tag: %w", err)
		}
		items = append(items, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entry tags: %w", err)
	}
	return items, nil
}
