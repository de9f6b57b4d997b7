package sqlite

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/blackmichael/mushimap/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(filepath.Join(t.TempDir(), "mushimap.db"), logger)
	if !r.Available() {
		t.Fatal("expected repository to open")
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func seedUser(t *testing.T, r *Repository, id, email string) domain.User {
	t.Helper()
	user := domain.User{
		ID:          id,
		DisplayName: "むし太郎",
		Email:       email,
		CreatedAt:   time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := r.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser(%s): %v", id, err)
	}
	return user
}

func testPost(id string, ts time.Time) domain.Post {
	return domain.Post{
		ID:             id,
		Name:           "カブトムシ",
		ScientificName: "Trypoxylus dichotomus",
		Location:       "井の頭公園",
		Description:    "クヌギの樹液に来ていた",
		Environment:    "公園の雑木林",
		IsPublic:       true,
		Images:         []string{"a.jpg", "b.jpg"},
		Timestamp:      ts,
		Tags:           []string{"甲虫", "夏", "成虫"},
		User:           domain.UserRef{ID: "u1", DisplayName: "むし太郎"},
	}
}

func TestCreatePostRoundTrip(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")

	want := testPost("100", time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC))
	if err := r.CreatePost(ctx, want); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	posts, err := r.Posts(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected 1 post, got %d", len(posts))
	}

	got := posts[0]
	if diff := cmp.Diff(want.Images, got.Images); diff != "" {
		t.Errorf("image order not preserved (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want.Tags, got.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	if got.User.DisplayName != "むし太郎" {
		t.Errorf("author snapshot not joined: %+v", got.User)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.ScientificName != want.ScientificName {
		t.Errorf("scientific name = %q, want %q", got.ScientificName, want.ScientificName)
	}
}

func TestCreatePostIdempotent(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")

	p := testPost("100", time.Now().UTC())
	if err := r.CreatePost(ctx, p); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if err := r.CreatePost(ctx, p); err != nil {
		t.Fatalf("CreatePost (repeat): %v", err)
	}

	posts, err := r.Posts(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("repeat insert duplicated the post: %d rows", len(posts))
	}

	var images int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&images); err != nil {
		t.Fatalf("count images: %v", err)
	}
	if images != 2 {
		t.Errorf("expected 2 image rows, got %d", images)
	}
}

func TestCreatePostUnknownUser(t *testing.T) {
	r := newTestRepo(t)

	err := r.CreatePost(context.Background(), testPost("100", time.Now().UTC()))
	if !errors.Is(err, domain.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for missing user row, got %v", err)
	}

	// The transaction must have rolled back in full.
	var images int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&images); err != nil {
		t.Fatalf("count images: %v", err)
	}
	if images != 0 {
		t.Errorf("rollback left %d image rows", images)
	}
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	r := newTestRepo(t)
	seedUser(t, r, "u1", "taro@example.com")

	err := r.CreateUser(context.Background(), domain.User{
		ID:          "u2",
		DisplayName: "別の人",
		Email:       "taro@example.com",
		CreatedAt:   time.Now().UTC(),
	})
	if !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestEnsureUserNoEmailCollision(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	// Snapshot rows carry no email; two of them must not trip the
	// uniqueness constraint, and re-ensuring is a no-op.
	for _, ref := range []domain.UserRef{
		{ID: "u1", DisplayName: "むし太郎"},
		{ID: "u2", DisplayName: "別の人"},
		{ID: "u1", DisplayName: "むし太郎"},
	} {
		if err := r.EnsureUser(ctx, ref); err != nil {
			t.Fatalf("EnsureUser(%s): %v", ref.ID, err)
		}
	}

	var users int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&users); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if users != 2 {
		t.Errorf("expected 2 user rows, got %d", users)
	}
}

func TestLikeCounterDiverges(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")
	if err := r.CreatePost(ctx, testPost("100", time.Now().UTC())); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	// The counter increments on every call while the membership row is
	// deduplicated: after three likes from the same user the two disagree.
	for i := 0; i < 3; i++ {
		if err := r.LikePost(ctx, "u1", "100"); err != nil {
			t.Fatalf("LikePost #%d: %v", i+1, err)
		}
	}

	posts, err := r.Posts(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if posts[0].LikesCount != 3 {
		t.Errorf("likes_count = %d, want 3", posts[0].LikesCount)
	}

	var rows int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM likes WHERE user_id = 'u1' AND post_id = '100'`).Scan(&rows); err != nil {
		t.Fatalf("count likes: %v", err)
	}
	if rows != 1 {
		t.Errorf("expected exactly 1 like row, got %d", rows)
	}
}

func TestLikeUnknownPost(t *testing.T) {
	r := newTestRepo(t)
	seedUser(t, r, "u1", "taro@example.com")

	if err := r.LikePost(context.Background(), "u1", "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPostsOrderAndPagination(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")

	base := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"100", "200", "300"} {
		p := testPost(id, base.Add(time.Duration(i)*time.Hour))
		if err := r.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost(%s): %v", id, err)
		}
	}

	posts, err := r.Posts(ctx, 2, 0)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != "300" || posts[1].ID != "200" {
		t.Fatalf("unexpected first page: %v", postIDs(posts))
	}

	posts, err = r.Posts(ctx, 2, 2)
	if err != nil {
		t.Fatalf("Posts (page 2): %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "100" {
		t.Fatalf("unexpected second page: %v", postIDs(posts))
	}
}

func TestPostsByUser(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")
	seedUser(t, r, "u2", "jiro@example.com")

	base := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	mine := testPost("100", base)
	other := testPost("200", base.Add(time.Hour))
	other.User = domain.UserRef{ID: "u2", DisplayName: "別の人"}
	if err := r.CreatePost(ctx, mine); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if err := r.CreatePost(ctx, other); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	posts, err := r.PostsByUser(ctx, "u1")
	if err != nil {
		t.Fatalf("PostsByUser: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "100" {
		t.Fatalf("expected only u1's post, got %v", postIDs(posts))
	}
}

func TestSearchPosts(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")

	base := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	beetle := testPost("100", base)
	dragonfly := testPost("200", base.Add(time.Hour))
	dragonfly.Name = "オニヤンマ"
	dragonfly.ScientificName = "Anotogaster sieboldii"
	dragonfly.Tags = []string{"トンボ", "夏", "成虫"}
	if err := r.CreatePost(ctx, beetle); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if err := r.CreatePost(ctx, dragonfly); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	// Name match.
	posts, err := r.SearchPosts(ctx, "カブト")
	if err != nil {
		t.Fatalf("SearchPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "100" {
		t.Fatalf("name search: got %v", postIDs(posts))
	}

	// Tag match, deduplicated by post ID even though both tag rows and text
	// columns can match.
	posts, err = r.SearchPosts(ctx, "トンボ")
	if err != nil {
		t.Fatalf("SearchPosts: %v", err)
	}
	if len(posts) != 1 || posts[0].ID != "200" {
		t.Fatalf("tag search: got %v", postIDs(posts))
	}

	// No match.
	posts, err = r.SearchPosts(ctx, "クモ")
	if err != nil {
		t.Fatalf("SearchPosts: %v", err)
	}
	if len(posts) != 0 {
		t.Fatalf("expected no matches, got %v", postIDs(posts))
	}
}

func TestUpdatePost(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")
	if err := r.CreatePost(ctx, testPost("100", time.Now().UTC())); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	name := "ヘラクレスオオカブト"
	private := false
	err := r.UpdatePost(ctx, "100", domain.PostPatch{Name: &name, IsPublic: &private})
	if err != nil {
		t.Fatalf("UpdatePost: %v", err)
	}

	posts, err := r.Posts(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if posts[0].Name != name {
		t.Errorf("Name = %q, want %q", posts[0].Name, name)
	}
	if posts[0].IsPublic {
		t.Error("IsPublic not updated")
	}
}

func TestDeletePostCascades(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")
	if err := r.CreatePost(ctx, testPost("100", time.Now().UTC())); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	if err := r.LikePost(ctx, "u1", "100"); err != nil {
		t.Fatalf("LikePost: %v", err)
	}

	if err := r.DeletePost(ctx, "100"); err != nil {
		t.Fatalf("DeletePost: %v", err)
	}

	for _, table := range []string{"posts", "images", "post_tags", "likes"} {
		var n int
		if err := r.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 0 {
			t.Errorf("%s still has %d row(s) after delete", table, n)
		}
	}
}

func TestStatistics(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")
	seedUser(t, r, "u2", "jiro@example.com")

	base := time.Date(2024, time.July, 1, 12, 0, 0, 0, time.UTC)
	a := testPost("100", base)
	b := testPost("200", base.Add(time.Hour)) // same species as a
	c := testPost("300", base.Add(2*time.Hour))
	c.Name = "オニヤンマ"
	c.User = domain.UserRef{ID: "u2", DisplayName: "別の人"}
	for _, p := range []domain.Post{a, b, c} {
		if err := r.CreatePost(ctx, p); err != nil {
			t.Fatalf("CreatePost(%s): %v", p.ID, err)
		}
	}
	if err := r.LikePost(ctx, "u1", "100"); err != nil {
		t.Fatalf("LikePost: %v", err)
	}
	if err := r.LikePost(ctx, "u2", "100"); err != nil {
		t.Fatalf("LikePost: %v", err)
	}

	stats, err := r.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	want := &domain.Statistics{TotalPosts: 3, TotalLikes: 2, UniqueSpecies: 2, UniqueUsers: 2}
	if diff := cmp.Diff(want, stats); diff != "" {
		t.Errorf("statistics mismatch (-want +got):\n%s", diff)
	}
}

func TestClearAll(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	seedUser(t, r, "u1", "taro@example.com")
	if err := r.CreatePost(ctx, testPost("100", time.Now().UTC())); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}

	if err := r.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	stats, err := r.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	if stats.TotalPosts != 0 || stats.UniqueUsers != 0 {
		t.Errorf("expected empty database, got %+v", stats)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mushimap.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	r := New(path, logger)
	seedUser(t, r, "u1", "taro@example.com")
	if err := r.CreatePost(ctx, testPost("100", time.Now().UTC())); err != nil {
		t.Fatalf("CreatePost: %v", err)
	}
	r.Close()

	// Reopening re-runs the DDL; existing data must survive.
	r = New(path, logger)
	defer r.Close()
	if !r.Available() {
		t.Fatal("expected reopen to succeed")
	}

	posts, err := r.Posts(ctx, 0, 0)
	if err != nil {
		t.Fatalf("Posts: %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("expected data to survive reopen, got %d posts", len(posts))
	}
}

func TestDegradedMode(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	// A database file inside a directory that does not exist cannot be
	// created, so the repository must come back disabled.
	r := New(filepath.Join(t.TempDir(), "missing", "sub", "mushimap.db"), logger)
	if r.Available() {
		t.Fatal("expected repository to be degraded")
	}
	ctx := context.Background()

	if err := r.CreateUser(ctx, domain.User{ID: "u1"}); err != nil {
		t.Errorf("degraded CreateUser returned %v", err)
	}
	if err := r.CreatePost(ctx, testPost("100", time.Now().UTC())); err != nil {
		t.Errorf("degraded CreatePost returned %v", err)
	}
	posts, err := r.Posts(ctx, 0, 0)
	if err != nil || len(posts) != 0 {
		t.Errorf("degraded Posts = (%v, %v), want empty and nil", posts, err)
	}
	stats, err := r.Statistics(ctx)
	if err != nil {
		t.Errorf("degraded Statistics returned %v", err)
	}
	if stats.TotalPosts != 0 {
		t.Errorf("degraded Statistics = %+v, want zeroes", stats)
	}
	if err := r.LikePost(ctx, "u1", "100"); err != nil {
		t.Errorf("degraded LikePost returned %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("degraded Close returned %v", err)
	}
}

func postIDs(posts []domain.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
