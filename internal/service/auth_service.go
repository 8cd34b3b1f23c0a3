package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chatbackend/internal/domain"
	"chatbackend/internal/security"
)

// AuthService handles registration, login, credential versioning, and the
// token check shared by REST requests and realtime handshakes.
type AuthService struct {
	users  domain.UserRepository
	tokens *security.TokenService
	hash   *security.PasswordHasher
}

func NewAuthService(users domain.UserRepository, tokens *security.TokenService, hash *security.PasswordHasher) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
		hash:   hash,
	}
}

type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
}

type LoginInput struct {
	Email    string
	Password string
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
}

// UpdateProfileInput carries the fields to change. Empty fields are left as
// they are. CurrentPassword is required only when the email changes.
type UpdateProfileInput struct {
	FirstName       string
	LastName        string
	Email           string
	CurrentPassword string
}

type TokenResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	User        *domain.User `json:"user"`
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*TokenResponse, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "email and password are required")
	}

	existing, err := s.users.GetByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		return nil, domain.Errorf(domain.ErrConflict, "email already registered")
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("check email: %w", err)
	}

	hashed, err := s.hash.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &domain.User{
		FirstName:      strings.TrimSpace(in.FirstName),
		LastName:       strings.TrimSpace(in.LastName),
		Email:          email,
		HashedPassword: hashed,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return s.issue(user)
}

func (s *AuthService) Login(ctx context.Context, in LoginInput) (*TokenResponse, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "incorrect email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := s.hash.Verify(in.Password, user.HashedPassword); err != nil {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "incorrect email or password")
	}
	return s.issue(user)
}

// Authenticate resolves a bearer token to its user. The token's version claim
// must equal the user's current token version.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "missing credentials")
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "invalid or expired token")
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "user no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if claims.Version != user.TokenVersion {
		return nil, domain.Errorf(domain.ErrUnauthenticated, "token has been revoked")
	}
	return user, nil
}

func (s *AuthService) Profile(ctx context.Context, userID string) (*domain.User, error) {
	return s.users.GetByID(ctx, userID)
}

// LogoutAll invalidates every token issued to the user so far.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) error {
	if _, err := s.users.BumpTokenVersion(ctx, userID); err != nil {
		return fmt.Errorf("bump token version: %w", err)
	}
	return nil
}

// ChangePassword stores the new password, revokes all existing tokens and
// returns a fresh one for the caller.
func (s *AuthService) ChangePassword(ctx context.Context, userID string, in ChangePasswordInput) (*TokenResponse, error) {
	if in.NewPassword == "" {
		return nil, domain.Errorf(domain.ErrInvalidInput, "new password is required")
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.hash.Verify(in.CurrentPassword, user.HashedPassword); err != nil {
		return nil, domain.Errorf(domain.ErrForbidden, "current password is incorrect")
	}

	hashed, err := s.hash.Hash(in.NewPassword)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	version, err := s.users.UpdatePassword(ctx, userID, hashed)
	if err != nil {
		return nil, fmt.Errorf("update password: %w", err)
	}
	user.HashedPassword = hashed
	user.TokenVersion = version
	return s.issue(user)
}

// UpdateProfile edits the caller's names and email. An email change needs the
// current password and revokes every token issued so far; the response then
// carries a fresh token and Revoked is set.
func (s *AuthService) UpdateProfile(ctx context.Context, userID string, in UpdateProfileInput) (*ProfileResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if name := strings.TrimSpace(in.FirstName); name != "" {
		user.FirstName = name
	}
	if name := strings.TrimSpace(in.LastName); name != "" {
		user.LastName = name
	}

	email := strings.ToLower(strings.TrimSpace(in.Email))
	emailChanged := email != "" && email != user.Email
	if emailChanged {
		if in.CurrentPassword == "" {
			return nil, domain.Errorf(domain.ErrInvalidInput, "current password is required to change email")
		}
		if err := s.hash.Verify(in.CurrentPassword, user.HashedPassword); err != nil {
			return nil, domain.Errorf(domain.ErrForbidden, "current password is incorrect")
		}
		existing, err := s.users.GetByEmail(ctx, email)
		switch {
		case err == nil && existing != nil:
			return nil, domain.Errorf(domain.ErrConflict, "email is already taken")
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, fmt.Errorf("check email: %w", err)
		}
		user.Email = email
	}

	if err := s.users.UpdateProfile(ctx, user, emailChanged); err != nil {
		return nil, err
	}

	resp := &ProfileResponse{User: user}
	if emailChanged {
		tok, err := s.issue(user)
		if err != nil {
			return nil, err
		}
		resp.Revoked = true
		resp.AccessToken, resp.TokenType = tok.AccessToken, tok.TokenType
	}
	return resp, nil
}

// ProfileResponse is returned by UpdateProfile. The token fields are set only
// when the update revoked earlier tokens.
type ProfileResponse struct {
	User        *domain.User `json:"user"`
	Revoked     bool         `json:"logout"`
	AccessToken string       `json:"access_token,omitempty"`
	TokenType   string       `json:"token_type,omitempty"`
}

// DeleteAccount removes the caller's account. Tokens of a deleted user no
// longer authenticate.
func (s *AuthService) DeleteAccount(ctx context.Context, userID string) error {
	if err := s.users.Delete(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *AuthService) issue(user *domain.User) (*TokenResponse, error) {
	token, err := s.tokens.CreateForUser(user.ID, user.TokenVersion)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return &TokenResponse{
		AccessToken: token,
		TokenType:   "bearer",
		User:        user,
	}, nil
}
