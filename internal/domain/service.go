package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

// PostService presents one logical post store over the two physical ones.
//
// The primary store is authoritative: an operation succeeds once its primary
// write commits, and a primary failure is surfaced to the caller. Every
// mirror call is best-effort — failures are logged and swallowed, and once a
// primary write has committed nothing is rolled back.
type PostService struct {
	primary  PrimaryStore
	mirror   PostMirror
	users    CurrentUserProvider
	notifier Notifier
	logger   *slog.Logger
	validate *validator.Validate

	// now is swappable in tests; tag derivation depends on the month.
	now func() time.Time
}

// NewPostService wires the service to its stores. notifier may be nil.
func NewPostService(primary PrimaryStore, mirror PostMirror, users CurrentUserProvider, notifier Notifier, logger *slog.Logger) *PostService {
	return &PostService{
		primary:  primary,
		mirror:   mirror,
		users:    users,
		notifier: notifier,
		logger:   logger,
		validate: validator.New(),
		now:      time.Now,
	}
}

// AddPost validates the input, resolves the current user, builds the full
// record, and writes it to the primary store. The mirror write that follows
// is best-effort.
func (s *PostService) AddPost(ctx context.Context, input AddPostInput) (*Post, error) {
	if err := s.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	user, err := s.users.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	post := Post{
		ID:             strconv.FormatInt(now.UnixNano(), 10),
		Name:           input.Name,
		ScientificName: input.ScientificName,
		Location:       input.Location,
		Description:    input.Description,
		Environment:    input.Environment,
		IsPublic:       input.IsPublic,
		Images:         input.Images,
		Timestamp:      now,
		Tags:           DeriveTags(input.Name, input.Environment, now),
		User:           user.Ref(),
	}

	if err := s.primary.PutPost(ctx, post); err != nil {
		return nil, fmt.Errorf("save post: %w", err)
	}

	s.mirrorPost(ctx, post)

	if s.notifier != nil {
		s.notifier.Notify(ctx, "新しい投稿", post.Name+"を記録しました", "post")
	}

	return &post, nil
}

// GetPosts reads both stores and returns the merged view, ordered by
// timestamp descending. For an ID present in both stores the primary
// store's record wins wholesale; the mirror's copy of a field is only
// visible when the primary store has no record with that ID at all.
func (s *PostService) GetPosts(ctx context.Context) ([]Post, error) {
	var (
		primary   []Post
		mirrored  []Post
		mirrorErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primary, err = s.readPrimary(gctx)
		return err
	})
	g.Go(func() error {
		mirrored, mirrorErr = s.mirror.Posts(gctx, 0, 0)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if mirrorErr != nil {
		s.logger.Warn("mirror read failed, serving primary store only", "error", mirrorErr)
		return sortPosts(primary), nil
	}

	return mergePosts(primary, mirrored), nil
}

// PostsByUser returns the merged view filtered to one author.
func (s *PostService) PostsByUser(ctx context.Context, userID string) ([]Post, error) {
	posts, err := s.GetPosts(ctx)
	if err != nil {
		return nil, err
	}
	filtered := posts[:0:0]
	for _, p := range posts {
		if p.User.ID == userID {
			filtered = append(filtered, p)
		}
	}
	return filtered, nil
}

// LikePost increments the post's like counter in the primary store and
// records the (user, post) like row in the mirror.
func (s *PostService) LikePost(ctx context.Context, postID string) (*Post, error) {
	user, err := s.users.CurrentUser(ctx)
	if err != nil {
		return nil, err
	}

	post, err := s.primary.Post(ctx, postID)
	if err != nil {
		return nil, err
	}
	post.LikesCount++
	if err := s.primary.PutPost(ctx, *post); err != nil {
		return nil, fmt.Errorf("save like: %w", err)
	}

	if err := s.mirror.LikePost(ctx, user.ID, postID); err != nil {
		s.logger.Warn("mirror like failed", "post_id", postID, "error", err)
	}

	return post, nil
}

// UpdatePost applies a field patch in the primary store and mirrors it
// best-effort.
func (s *PostService) UpdatePost(ctx context.Context, postID string, patch PostPatch) (*Post, error) {
	post, err := s.primary.Post(ctx, postID)
	if err != nil {
		return nil, err
	}
	patch.Apply(post)
	if err := s.primary.PutPost(ctx, *post); err != nil {
		return nil, fmt.Errorf("save update: %w", err)
	}

	if err := s.mirror.UpdatePost(ctx, postID, patch); err != nil {
		s.logger.Warn("mirror update failed", "post_id", postID, "error", err)
	}

	return post, nil
}

// DeletePost removes the post from the primary store and, best-effort, from
// the mirror. Without the mirror delete the next sync pass would resurrect
// the post, so the propagation is not optional in spirit even though its
// failure is tolerated.
func (s *PostService) DeletePost(ctx context.Context, postID string) error {
	if err := s.primary.DeletePost(ctx, postID); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	if err := s.mirror.DeletePost(ctx, postID); err != nil {
		s.logger.Warn("mirror delete failed", "post_id", postID, "error", err)
	}
	return nil
}

// SearchPosts uses the mirror's indexed search when available and falls back
// to an in-memory scan of the primary store otherwise.
func (s *PostService) SearchPosts(ctx context.Context, q string) ([]Post, error) {
	if s.mirror.Available() {
		posts, err := s.mirror.SearchPosts(ctx, q)
		if err == nil {
			return posts, nil
		}
		s.logger.Warn("mirror search failed, falling back to primary scan", "error", err)
	}

	primary, err := s.readPrimary(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(q)
	matched := primary[:0:0]
	for _, p := range primary {
		if postMatches(p, needle) {
			matched = append(matched, p)
		}
	}
	return sortPosts(matched), nil
}

// Statistics returns the mirror's aggregates when available, otherwise
// counts computed from the primary store.
func (s *PostService) Statistics(ctx context.Context) (*Statistics, error) {
	if s.mirror.Available() {
		stats, err := s.mirror.Statistics(ctx)
		if err == nil {
			return stats, nil
		}
		s.logger.Warn("mirror statistics failed, computing from primary store", "error", err)
	}

	primary, err := s.readPrimary(ctx)
	if err != nil {
		return nil, err
	}
	species := make(map[string]struct{})
	authors := make(map[string]struct{})
	stats := &Statistics{TotalPosts: len(primary)}
	for _, p := range primary {
		stats.TotalLikes += p.LikesCount
		species[p.Name] = struct{}{}
		authors[p.User.ID] = struct{}{}
	}
	stats.UniqueSpecies = len(species)
	stats.UniqueUsers = len(authors)
	return stats, nil
}

// Sync runs one reconciliation pass: posts missing from the mirror are
// copied there, posts missing from the primary store are backfilled. Each
// record is written independently, so a crash mid-pass leaves already-copied
// records in place and the next pass picks up where it stopped. Running the
// pass twice with no intervening writes changes nothing.
func (s *PostService) Sync(ctx context.Context) (*SyncReport, error) {
	report := &SyncReport{}

	primary, err := s.readPrimary(ctx)
	if err != nil {
		return nil, err
	}

	if !s.mirror.Available() {
		return report, nil
	}

	mirrored, err := s.mirror.Posts(ctx, 0, 0)
	if err != nil {
		s.logger.Warn("mirror read failed, skipping sync pass", "error", err)
		return report, nil
	}

	inMirror := make(map[string]struct{}, len(mirrored))
	for _, p := range mirrored {
		inMirror[p.ID] = struct{}{}
	}
	inPrimary := make(map[string]struct{}, len(primary))
	for _, p := range primary {
		inPrimary[p.ID] = struct{}{}
	}

	for _, p := range primary {
		if _, ok := inMirror[p.ID]; ok {
			continue
		}
		if s.mirrorPost(ctx, p) {
			report.MirroredPosts++
		}
	}

	var backfill []Post
	for _, p := range mirrored {
		if _, ok := inPrimary[p.ID]; !ok {
			backfill = append(backfill, p)
		}
	}
	if len(backfill) > 0 {
		if err := s.primary.PutPosts(ctx, backfill); err != nil {
			return report, fmt.Errorf("backfill primary store: %w", err)
		}
		report.BackfilledPosts = len(backfill)
	}

	if report.MirroredPosts > 0 || report.BackfilledPosts > 0 {
		s.logger.Info("sync pass complete",
			"mirrored", report.MirroredPosts,
			"backfilled", report.BackfilledPosts,
		)
	}
	return report, nil
}

// StartSyncJob runs Sync immediately and then at the given interval until
// ctx is cancelled.
func (s *PostService) StartSyncJob(ctx context.Context, interval time.Duration) {
	s.runSync(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runSync(ctx)
		}
	}
}

func (s *PostService) runSync(ctx context.Context) {
	if _, err := s.Sync(ctx); err != nil {
		s.logger.Error("sync pass failed", "error", err)
	}
}

// readPrimary reads the primary store, downgrading ErrCorrupt to a warning:
// the decodable records are served and the corrupt ones treated as absent.
// Any other primary failure is fatal.
func (s *PostService) readPrimary(ctx context.Context) ([]Post, error) {
	posts, err := s.primary.Posts(ctx)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			s.logger.Warn("primary store has corrupt records, serving the rest", "error", err)
			return posts, nil
		}
		return nil, fmt.Errorf("read primary store: %w", err)
	}
	return posts, nil
}

// mirrorPost writes a post and its author row to the mirror. Returns whether
// the post landed; failures are logged, never propagated.
func (s *PostService) mirrorPost(ctx context.Context, post Post) bool {
	if err := s.mirror.EnsureUser(ctx, post.User); err != nil {
		s.logger.Warn("mirror user write failed", "user_id", post.User.ID, "error", err)
		return false
	}
	if err := s.mirror.CreatePost(ctx, post); err != nil {
		s.logger.Warn("mirror post write failed", "post_id", post.ID, "error", err)
		return false
	}
	return true
}

// mergePosts builds the merged view: a map seeded from the mirror's records
// with every primary record overlaid on top.
func mergePosts(primary, mirrored []Post) []Post {
	byID := make(map[string]Post, len(primary)+len(mirrored))
	for _, p := range mirrored {
		byID[p.ID] = p
	}
	for _, p := range primary {
		byID[p.ID] = p
	}

	merged := make([]Post, 0, len(byID))
	for _, p := range byID {
		merged = append(merged, p)
	}
	return sortPosts(merged)
}

// sortPosts orders posts by timestamp descending, with the ID as a
// deterministic tie-breaker.
func sortPosts(posts []Post) []Post {
	sort.Slice(posts, func(i, j int) bool {
		if !posts[i].Timestamp.Equal(posts[j].Timestamp) {
			return posts[i].Timestamp.After(posts[j].Timestamp)
		}
		return posts[i].ID > posts[j].ID
	})
	return posts
}

func postMatches(p Post, needle string) bool {
	if needle == "" {
		return true
	}
	for _, field := range []string{p.Name, p.ScientificName, p.Location, p.Description, p.Environment} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
