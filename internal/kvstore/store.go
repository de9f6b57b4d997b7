// Package kvstore implements the primary post store on an embedded Badger
// database. It is the source of truth for the application: it must always be
// available, and its failures are surfaced to callers.
//
// Every value is a JSON document. Posts are keyed individually under the
// post/ prefix rather than as one whole-document array, so writes are
// per-record upserts and concurrent writers cannot overwrite each other's
// additions.
package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger"

	"github.com/blackmichael/mushimap/internal/domain"
)

const (
	postKeyPrefix  = "post/"
	currentUserKey = "profile/current"
)

// Store is a Badger-backed implementation of domain.PrimaryStore plus the
// current-user profile slot.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) the store in dir. The caller should Close it when
// done.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open key-value store %q: %w", dir, err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func postKey(id string) []byte {
	return []byte(postKeyPrefix + id)
}

// Posts returns every stored post. Records that fail to decode are skipped;
// if any were skipped, the decodable posts are returned together with an
// error wrapping domain.ErrCorrupt naming the offending keys, so the caller
// can decide whether to treat them as absent.
func (s *Store) Posts(ctx context.Context) ([]domain.Post, error) {
	var posts []domain.Post
	var corrupt []string

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(postKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", item.Key(), err)
			}

			var p domain.Post
			if err := json.Unmarshal(val, &p); err != nil {
				corrupt = append(corrupt, string(item.KeyCopy(nil)))
				continue
			}
			posts = append(posts, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan posts: %w", err)
	}
	if len(corrupt) > 0 {
		return posts, fmt.Errorf("%w: %s", domain.ErrCorrupt, strings.Join(corrupt, ", "))
	}
	return posts, nil
}

// Post returns one post by ID.
func (s *Store) Post(ctx context.Context, id string) (*domain.Post, error) {
	var p domain.Post
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(postKey(id))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &p)
	})
	if err == badger.ErrKeyNotFound {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read post %s: %w", id, err)
	}
	return &p, nil
}

// PutPost upserts a single post.
func (s *Store) PutPost(ctx context.Context, post domain.Post) error {
	val, err := json.Marshal(post)
	if err != nil {
		return fmt.Errorf("encode post %s: %w", post.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(postKey(post.ID), val)
	})
	if err != nil {
		return fmt.Errorf("write post %s: %w", post.ID, err)
	}
	return nil
}

// PutPosts upserts a batch of posts in one transaction.
func (s *Store) PutPosts(ctx context.Context, posts []domain.Post) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, p := range posts {
			val, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode post %s: %w", p.ID, err)
			}
			if err := txn.Set(postKey(p.ID), val); err != nil {
				return fmt.Errorf("write post %s: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write posts: %w", err)
	}
	return nil
}

// DeletePost removes a post. Deleting an absent ID is not an error.
func (s *Store) DeletePost(ctx context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(postKey(id))
	})
	if err != nil {
		return fmt.Errorf("delete post %s: %w", id, err)
	}
	return nil
}

// CurrentUser returns the stored profile, or domain.ErrNoCurrentUser when
// nobody is signed in.
func (s *Store) CurrentUser(ctx context.Context) (*domain.User, error) {
	var u domain.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(currentUserKey))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(val, &u)
	})
	if err == badger.ErrKeyNotFound {
		return nil, domain.ErrNoCurrentUser
	}
	if err != nil {
		return nil, fmt.Errorf("read current user: %w", err)
	}
	return &u, nil
}

// SetCurrentUser stores the profile under the current-user key.
func (s *Store) SetCurrentUser(ctx context.Context, user domain.User) error {
	val, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(currentUserKey), val)
	})
	if err != nil {
		return fmt.Errorf("write current user: %w", err)
	}
	return nil
}

// ClearCurrentUser signs the current user out.
func (s *Store) ClearCurrentUser(ctx context.Context) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(currentUserKey))
	})
	if err != nil {
		return fmt.Errorf("clear current user: %w", err)
	}
	return nil
}
