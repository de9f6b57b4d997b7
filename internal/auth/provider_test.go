package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/blackmichael/mushimap/internal/domain"
)

type fakeProfiles struct {
	user *domain.User
}

func (f *fakeProfiles) CurrentUser(ctx context.Context) (*domain.User, error) {
	if f.user == nil {
		return nil, domain.ErrNoCurrentUser
	}
	u := *f.user
	return &u, nil
}

func (f *fakeProfiles) SetCurrentUser(ctx context.Context, user domain.User) error {
	f.user = &user
	return nil
}

func (f *fakeProfiles) ClearCurrentUser(ctx context.Context) error {
	f.user = nil
	return nil
}

type stubMirror struct {
	createUserErr error
	created       []domain.User
}

func (m *stubMirror) Available() bool { return true }

func (m *stubMirror) CreateUser(ctx context.Context, user domain.User) error {
	if m.createUserErr != nil {
		return m.createUserErr
	}
	m.created = append(m.created, user)
	return nil
}

func (m *stubMirror) EnsureUser(ctx context.Context, ref domain.UserRef) error { return nil }
func (m *stubMirror) CreatePost(ctx context.Context, post domain.Post) error   { return nil }
func (m *stubMirror) Posts(ctx context.Context, limit, offset int) ([]domain.Post, error) {
	return nil, nil
}
func (m *stubMirror) LikePost(ctx context.Context, userID, postID string) error { return nil }
func (m *stubMirror) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) error {
	return nil
}
func (m *stubMirror) DeletePost(ctx context.Context, id string) error { return nil }
func (m *stubMirror) SearchPosts(ctx context.Context, q string) ([]domain.Post, error) {
	return nil, nil
}
func (m *stubMirror) Statistics(ctx context.Context) (*domain.Statistics, error) {
	return &domain.Statistics{}, nil
}

func newTestProvider(mirror *stubMirror) (*Provider, *fakeProfiles) {
	profiles := &fakeProfiles{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProvider(profiles, mirror, logger), profiles
}

func TestRegisterSignsIn(t *testing.T) {
	mirror := &stubMirror{}
	p, _ := newTestProvider(mirror)

	user, err := p.Register(context.Background(), RegisterInput{
		DisplayName: "むし太郎",
		Email:       "taro@example.com",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == "" {
		t.Error("expected a generated user ID")
	}
	if user.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}

	got, err := p.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got.ID != user.ID {
		t.Errorf("current user = %s, want %s", got.ID, user.ID)
	}
	if len(mirror.created) != 1 || mirror.created[0].Email != "taro@example.com" {
		t.Errorf("expected the user to be mirrored, got %v", mirror.created)
	}
}

func TestRegisterValidation(t *testing.T) {
	p, _ := newTestProvider(&stubMirror{})

	cases := []RegisterInput{
		{DisplayName: "", Email: "taro@example.com"},
		{DisplayName: "むし太郎", Email: ""},
		{DisplayName: "むし太郎", Email: "not-an-email"},
	}
	for _, input := range cases {
		if _, err := p.Register(context.Background(), input); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Register(%+v): expected ErrInvalidInput, got %v", input, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	mirror := &stubMirror{createUserErr: domain.ErrDuplicateEmail}
	p, profiles := newTestProvider(mirror)

	_, err := p.Register(context.Background(), RegisterInput{
		DisplayName: "むし太郎",
		Email:       "taro@example.com",
	})
	if !errors.Is(err, domain.ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
	if profiles.user != nil {
		t.Error("duplicate registration must not sign in")
	}
}

func TestRegisterToleratesMirrorFailure(t *testing.T) {
	mirror := &stubMirror{createUserErr: errors.New("disk full")}
	p, _ := newTestProvider(mirror)

	user, err := p.Register(context.Background(), RegisterInput{
		DisplayName: "むし太郎",
		Email:       "taro@example.com",
	})
	if err != nil {
		t.Fatalf("Register with failing mirror: %v", err)
	}
	if user == nil {
		t.Fatal("expected a user despite the mirror failure")
	}
}

func TestLoginAndLogout(t *testing.T) {
	p, _ := newTestProvider(&stubMirror{})
	ctx := context.Background()

	if err := p.Login(ctx, domain.User{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty ID, got %v", err)
	}

	user := domain.User{ID: "u1", DisplayName: "むし太郎", CreatedAt: time.Now().UTC()}
	if err := p.Login(ctx, user); err != nil {
		t.Fatalf("Login: %v", err)
	}
	got, err := p.CurrentUser(ctx)
	if err != nil {
		t.Fatalf("CurrentUser: %v", err)
	}
	if got.ID != "u1" {
		t.Errorf("current user = %s, want u1", got.ID)
	}

	if err := p.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, err := p.CurrentUser(ctx); !errors.Is(err, domain.ErrNoCurrentUser) {
		t.Fatalf("expected ErrNoCurrentUser after logout, got %v", err)
	}
}
