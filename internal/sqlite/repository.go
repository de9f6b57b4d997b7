// Package sqlite implements the relational mirror of the post store. The
// mirror enables indexed queries, search, and foreign-key integrity that the
// primary key-value store cannot provide.
//
// The mirror is optional by contract: if the database cannot be opened the
// repository disables itself and every subsequent call degrades to a no-op
// returning empty results, so the application keeps working on the primary
// store alone.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blackmichael/mushimap/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	email        TEXT UNIQUE,
	avatar       TEXT NOT NULL DEFAULT '',
	bio          TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS posts (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	scientific_name TEXT NOT NULL DEFAULT '',
	location        TEXT NOT NULL DEFAULT '',
	description     TEXT NOT NULL DEFAULT '',
	environment     TEXT NOT NULL DEFAULT '',
	is_public       INTEGER NOT NULL DEFAULT 1,
	timestamp       TEXT NOT NULL,
	user_id         TEXT NOT NULL REFERENCES users(id),
	likes_count     INTEGER NOT NULL DEFAULT 0,
	created_at      TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	post_id     TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	uri         TEXT NOT NULL,
	order_index INTEGER NOT NULL,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS post_tags (
	post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
	tag_id  INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
	PRIMARY KEY (post_id, tag_id)
);

CREATE TABLE IF NOT EXISTS likes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL REFERENCES users(id),
	post_id    TEXT NOT NULL REFERENCES posts(id),
	created_at TEXT NOT NULL,
	UNIQUE (user_id, post_id)
);

CREATE INDEX IF NOT EXISTS idx_posts_timestamp ON posts (timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_posts_user_id ON posts (user_id);
CREATE INDEX IF NOT EXISTS idx_images_post_id ON images (post_id);
CREATE INDEX IF NOT EXISTS idx_likes_post_id ON likes (post_id);
CREATE INDEX IF NOT EXISTS idx_likes_user_id ON likes (user_id);
`

// timeLayout is RFC 3339 with fixed-width nanoseconds so stored timestamps
// sort lexicographically, which ORDER BY on a TEXT column relies on.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Repository implements domain.PostMirror on a single SQLite database file.
type Repository struct {
	db       *sql.DB
	logger   *slog.Logger
	disabled bool
}

// New opens (or creates) the database at path and applies the schema. The
// DDL is all IF NOT EXISTS, so opening an existing database is safe and
// there is no separate migration step.
//
// New never fails: if the database cannot be opened the repository comes
// back disabled and operates in degraded mode.
func New(path string, logger *slog.Logger) *Repository {
	db, err := open(path)
	if err != nil {
		logger.Warn("mirror database unavailable, running degraded", "path", path, "error", err)
		return &Repository{logger: logger, disabled: true}
	}
	return &Repository{db: db, logger: logger}
}

func open(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

// Available reports whether the mirror opened successfully.
func (r *Repository) Available() bool {
	return !r.disabled
}

// Close closes the underlying database connection.
func (r *Repository) Close() error {
	if r.disabled {
		return nil
	}
	return r.db.Close()
}

// CreateUser inserts a full user row. An empty email is stored as NULL so
// the uniqueness constraint only bites on real duplicates.
func (r *Repository) CreateUser(ctx context.Context, user domain.User) error {
	if r.disabled {
		return nil
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, avatar, bio, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.DisplayName, nullable(user.Email), user.Avatar, user.Bio,
		user.CreatedAt.UTC().Format(timeLayout), now,
	)
	if err != nil {
		return mapConstraintErr(fmt.Errorf("insert user %s: %w", user.ID, err))
	}
	return nil
}

// EnsureUser inserts a minimal user row from an author snapshot if none
// exists. Backfilled posts only carry the snapshot, so the row has no email
// or bio.
func (r *Repository) EnsureUser(ctx context.Context, ref domain.UserRef) error {
	if r.disabled {
		return nil
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (id, display_name, email, avatar, bio, created_at, updated_at)
		VALUES (?, ?, NULL, ?, '', ?, ?)`,
		ref.ID, ref.DisplayName, ref.Avatar, now, now,
	)
	if err != nil {
		return mapConstraintErr(fmt.Errorf("ensure user %s: %w", ref.ID, err))
	}
	return nil
}

// CreatePost transactionally inserts the post row, one row per image in
// order, and the tag associations. Inserting an ID that already exists is a
// no-op. Any failure rolls the whole transaction back.
func (r *Repository) CreatePost(ctx context.Context, post domain.Post) error {
	if r.disabled {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts WHERE id = ?`, post.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check post %s: %w", post.ID, err)
	}
	if exists > 0 {
		return nil
	}

	now := time.Now().UTC().Format(timeLayout)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO posts (id, name, scientific_name, location, description, environment,
			is_public, timestamp, user_id, likes_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		post.ID, post.Name, post.ScientificName, post.Location, post.Description,
		post.Environment, post.IsPublic, post.Timestamp.UTC().Format(timeLayout),
		post.User.ID, post.LikesCount, now, now,
	)
	if err != nil {
		return mapConstraintErr(fmt.Errorf("insert post %s: %w", post.ID, err))
	}

	for i, uri := range post.Images {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO images (post_id, uri, order_index, created_at)
			VALUES (?, ?, ?, ?)`,
			post.ID, uri, i, now,
		)
		if err != nil {
			return mapConstraintErr(fmt.Errorf("insert image %d of post %s: %w", i, post.ID, err))
		}
	}

	for _, tag := range post.Tags {
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO tags (name, created_at) VALUES (?, ?)`,
			tag, now,
		)
		if err != nil {
			return fmt.Errorf("upsert tag %q: %w", tag, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO post_tags (post_id, tag_id)
			SELECT ?, id FROM tags WHERE name = ?`,
			post.ID, tag,
		)
		if err != nil {
			return mapConstraintErr(fmt.Errorf("associate tag %q with post %s: %w", tag, post.ID, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit post %s: %w", post.ID, err)
	}
	return nil
}

const postColumns = `
	p.id, p.name, p.scientific_name, p.location, p.description, p.environment,
	p.is_public, p.timestamp, p.likes_count, u.id, u.display_name, u.avatar`

// Posts returns posts ordered by timestamp descending, joined to their
// author and hydrated with images and tags. limit <= 0 means no limit.
//
// Images and tags are fetched with one query per post. At on-device scale
// that is fine; revisit if the store ever grows past a few thousand rows.
func (r *Repository) Posts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	if r.disabled {
		return nil, nil
	}

	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN users u ON u.id = p.user_id
		ORDER BY p.timestamp DESC, p.id DESC
		LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	return r.collectPosts(ctx, rows)
}

// PostsByUser returns one author's posts, newest first.
func (r *Repository) PostsByUser(ctx context.Context, userID string) ([]domain.Post, error) {
	if r.disabled {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+postColumns+`
		FROM posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.user_id = ?
		ORDER BY p.timestamp DESC, p.id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query posts by user %s: %w", userID, err)
	}
	return r.collectPosts(ctx, rows)
}

// SearchPosts matches q against the post's text fields and its tag names,
// deduplicated by post ID.
func (r *Repository) SearchPosts(ctx context.Context, q string) ([]domain.Post, error) {
	if r.disabled {
		return nil, nil
	}

	pattern := "%" + q + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT `+postColumns+`
		FROM posts p
		JOIN users u ON u.id = p.user_id
		LEFT JOIN post_tags pt ON pt.post_id = p.id
		LEFT JOIN tags t ON t.id = pt.tag_id
		WHERE p.name LIKE ?
			OR p.scientific_name LIKE ?
			OR p.location LIKE ?
			OR p.description LIKE ?
			OR p.environment LIKE ?
			OR t.name LIKE ?
		ORDER BY p.timestamp DESC, p.id DESC`,
		pattern, pattern, pattern, pattern, pattern, pattern,
	)
	if err != nil {
		return nil, fmt.Errorf("search posts %q: %w", q, err)
	}
	return r.collectPosts(ctx, rows)
}

// LikePost records the like membership row (deduplicated per user and post)
// and increments the post's counter. The increment is unconditional: liking
// the same post twice bumps the counter twice while leaving a single
// membership row. The counter and the membership set can therefore diverge;
// that matches the behavior the rest of the system expects.
func (r *Repository) LikePost(ctx context.Context, userID, postID string) error {
	if r.disabled {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Increment first so an unknown post surfaces as ErrNotFound rather
	// than a foreign key violation from the likes insert.
	now := time.Now().UTC().Format(timeLayout)
	res, err := tx.ExecContext(ctx, `
		UPDATE posts SET likes_count = likes_count + 1, updated_at = ?
		WHERE id = ?`,
		now, postID,
	)
	if err != nil {
		return fmt.Errorf("increment likes of post %s: %w", postID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO likes (user_id, post_id, created_at)
		VALUES (?, ?, ?)`,
		userID, postID, now,
	)
	if err != nil {
		return mapConstraintErr(fmt.Errorf("insert like: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit like: %w", err)
	}
	return nil
}

// UpdatePost applies a field patch to the post row.
func (r *Repository) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) error {
	if r.disabled {
		return nil
	}

	var sets []string
	var args []any
	set := func(column string, v any) {
		sets = append(sets, column+" = ?")
		args = append(args, v)
	}
	if patch.Name != nil {
		set("name", *patch.Name)
	}
	if patch.ScientificName != nil {
		set("scientific_name", *patch.ScientificName)
	}
	if patch.Location != nil {
		set("location", *patch.Location)
	}
	if patch.Description != nil {
		set("description", *patch.Description)
	}
	if patch.Environment != nil {
		set("environment", *patch.Environment)
	}
	if patch.IsPublic != nil {
		set("is_public", *patch.IsPublic)
	}
	if len(sets) == 0 {
		return nil
	}
	set("updated_at", time.Now().UTC().Format(timeLayout))
	args = append(args, id)

	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update post %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeletePost removes the post, its likes, and (via cascade) its images and
// tag associations.
func (r *Repository) DeletePost(ctx context.Context, id string) error {
	if r.disabled {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM likes WHERE post_id = ?`, id); err != nil {
		return fmt.Errorf("delete likes of post %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete of post %s: %w", id, err)
	}
	return nil
}

// Statistics returns aggregate counts over the mirror.
func (r *Repository) Statistics(ctx context.Context) (*domain.Statistics, error) {
	if r.disabled {
		return &domain.Statistics{}, nil
	}

	stats := &domain.Statistics{}
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(likes_count), 0),
			COUNT(DISTINCT name),
			COUNT(DISTINCT user_id)
		FROM posts`,
	).Scan(&stats.TotalPosts, &stats.TotalLikes, &stats.UniqueSpecies, &stats.UniqueUsers)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	return stats, nil
}

// ClearAll wipes every table, children first. For tests and debugging.
func (r *Repository) ClearAll(ctx context.Context) error {
	if r.disabled {
		return nil
	}

	for _, table := range []string{"likes", "post_tags", "images", "tags", "posts", "users"} {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

// collectPosts scans the joined rows and hydrates each post's images and
// tags.
func (r *Repository) collectPosts(ctx context.Context, rows *sql.Rows) ([]domain.Post, error) {
	defer rows.Close()

	var posts []domain.Post
	for rows.Next() {
		var p domain.Post
		var ts string
		err := rows.Scan(
			&p.ID, &p.Name, &p.ScientificName, &p.Location, &p.Description,
			&p.Environment, &p.IsPublic, &ts, &p.LikesCount,
			&p.User.ID, &p.User.DisplayName, &p.User.Avatar,
		)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		p.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp of post %s: %w", p.ID, err)
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}

	for i := range posts {
		if err := r.hydratePost(ctx, &posts[i]); err != nil {
			return nil, err
		}
	}
	return posts, nil
}

func (r *Repository) hydratePost(ctx context.Context, p *domain.Post) error {
	imgRows, err := r.db.QueryContext(ctx, `
		SELECT uri FROM images WHERE post_id = ? ORDER BY order_index`, p.ID)
	if err != nil {
		return fmt.Errorf("query images of post %s: %w", p.ID, err)
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var uri string
		if err := imgRows.Scan(&uri); err != nil {
			return fmt.Errorf("scan image of post %s: %w", p.ID, err)
		}
		p.Images = append(p.Images, uri)
	}
	if err := imgRows.Err(); err != nil {
		return fmt.Errorf("iterate images of post %s: %w", p.ID, err)
	}

	tagRows, err := r.db.QueryContext(ctx, `
		SELECT t.name FROM tags t
		JOIN post_tags pt ON pt.tag_id = t.id
		WHERE pt.post_id = ?
		ORDER BY t.id`, p.ID)
	if err != nil {
		return fmt.Errorf("query tags of post %s: %w", p.ID, err)
	}
	defer tagRows.Close()
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return fmt.Errorf("scan tag of post %s: %w", p.ID, err)
		}
		p.Tags = append(p.Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return fmt.Errorf("iterate tags of post %s: %w", p.ID, err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mapConstraintErr translates SQLite constraint failures into domain errors
// so callers can branch with errors.Is.
func mapConstraintErr(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: users.email"):
		return fmt.Errorf("%w: %v", domain.ErrDuplicateEmail, err)
	case strings.Contains(msg, "constraint failed"):
		return fmt.Errorf("%w: %v", domain.ErrIntegrity, err)
	}
	return err
}
