// Package auth resolves and manages the device's current user. The profile
// lives in the primary store; the mirror gets a best-effort user row so
// posts can satisfy their foreign key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/blackmichael/mushimap/internal/domain"
)

// ProfileStore is the slice of the primary store the provider needs.
type ProfileStore interface {
	CurrentUser(ctx context.Context) (*domain.User, error)
	SetCurrentUser(ctx context.Context, user domain.User) error
	ClearCurrentUser(ctx context.Context) error
}

// RegisterInput is the payload for creating a new account profile.
type RegisterInput struct {
	DisplayName string `json:"displayName" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Avatar      string `json:"avatar"`
	Bio         string `json:"bio"`
}

// Provider implements domain.CurrentUserProvider.
type Provider struct {
	profiles ProfileStore
	mirror   domain.PostMirror
	logger   *slog.Logger
	validate *validator.Validate
}

func NewProvider(profiles ProfileStore, mirror domain.PostMirror, logger *slog.Logger) *Provider {
	return &Provider{
		profiles: profiles,
		mirror:   mirror,
		logger:   logger,
		validate: validator.New(),
	}
}

// CurrentUser returns the signed-in user, or domain.ErrNoCurrentUser.
func (p *Provider) CurrentUser(ctx context.Context) (*domain.User, error) {
	return p.profiles.CurrentUser(ctx)
}

// Register creates a profile, signs it in, and mirrors the user row. A
// duplicate email in the mirror is surfaced because it means the identity
// already exists; any other mirror failure is logged and tolerated.
func (p *Provider) Register(ctx context.Context, input RegisterInput) (*domain.User, error) {
	if err := p.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	user := domain.User{
		ID:          uuid.NewString(),
		DisplayName: input.DisplayName,
		Email:       input.Email,
		Avatar:      input.Avatar,
		Bio:         input.Bio,
		CreatedAt:   time.Now().UTC(),
	}

	if err := p.mirror.CreateUser(ctx, user); err != nil {
		if errors.Is(err, domain.ErrDuplicateEmail) {
			return nil, err
		}
		p.logger.Warn("mirror user write failed", "user_id", user.ID, "error", err)
	}

	if err := p.profiles.SetCurrentUser(ctx, user); err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}
	return &user, nil
}

// Login signs in an existing profile.
func (p *Provider) Login(ctx context.Context, user domain.User) error {
	if user.ID == "" {
		return fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	if err := p.profiles.SetCurrentUser(ctx, user); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// Logout clears the current user.
func (p *Provider) Logout(ctx context.Context) error {
	return p.profiles.ClearCurrentUser(ctx)
}
