// Package auth verifies session tokens and implements credential sign-in and
// sign-up against the user store.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/syncboard/syncboard/internal/store"
	"github.com/syncboard/syncboard/pkg/models"
)

var (
	ErrAuthDisabled       = errors.New("auth disabled")
	ErrInvalidToken       = errors.New("invalid token")
	ErrNotAuthenticated   = errors.New("Not authenticated")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
)

// UserStore is the slice of the domain store auth needs.
type UserStore interface {
	// CreateUser inserts a new user with a pre-hashed password and returns
	// the created profile.
	CreateUser(ctx context.Context, email, passwordHash, fullName string) (models.Profile, error)

	// Credentials returns the stored password hash and profile for an
	// email, or store.ErrNotFound.
	Credentials(ctx context.Context, email string) (passwordHash string, profile models.Profile, err error)
}

// Config configures the auth service.
type Config struct {
	JWTSecret   string
	TokenExpiry time.Duration
}

// Service verifies tokens and performs credential auth.
type Service struct {
	jwt   *JWTService
	users UserStore
}

// NewService constructs an auth service. users may be nil when only token
// verification is needed.
func NewService(cfg Config, users UserStore) *Service {
	return &Service{
		jwt:   NewJWTService(cfg.JWTSecret, cfg.TokenExpiry),
		users: users,
	}
}

// Verify validates a token and returns the user embedded in it. This is the
// single entry point the router uses on every request carrying a token.
func (s *Service) Verify(token string) (models.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.User{}, ErrNotAuthenticated
	}
	return s.jwt.Validate(token)
}

// SignIn checks credentials and issues a token.
func (s *Service) SignIn(ctx context.Context, email, password string) (models.User, string, error) {
	if s.users == nil {
		return models.User{}, "", ErrAuthDisabled
	}
	email = normalizeEmail(email)
	hash, profile, err := s.users.Credentials(ctx, email)
	if err != nil {
		// Do not reveal whether the account exists.
		return models.User{}, "", ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return models.User{}, "", ErrInvalidCredentials
	}

	user := userFromProfile(profile)
	token, err := s.jwt.Generate(user)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

// SignUp registers a new user and issues a token.
func (s *Service) SignUp(ctx context.Context, email, password, fullName string) (models.User, string, error) {
	if s.users == nil {
		return models.User{}, "", ErrAuthDisabled
	}
	email = normalizeEmail(email)
	if email == "" || len(password) < 8 {
		return models.User{}, "", errors.New("email and a password of at least 8 characters are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, "", err
	}
	profile, err := s.users.CreateUser(ctx, email, string(hash), strings.TrimSpace(fullName))
	if errors.Is(err, store.ErrDuplicateEmail) {
		return models.User{}, "", ErrEmailTaken
	}
	if err != nil {
		return models.User{}, "", err
	}

	user := userFromProfile(profile)
	token, err := s.jwt.Generate(user)
	if err != nil {
		return models.User{}, "", err
	}
	return user, token, nil
}

func userFromProfile(p models.Profile) models.User {
	return models.User{
		ID:        p.ID,
		Email:     p.Email,
		Name:      p.FullName,
		AvatarURL: p.AvatarURL,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
