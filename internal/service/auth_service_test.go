package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chatbackend/internal/domain"
	"chatbackend/internal/security"
	"chatbackend/internal/service"
)

func newAuthService(repo *MockUserRepo) (*service.AuthService, *security.TokenService, *security.PasswordHasher) {
	tokens := security.NewTokenService("secret", time.Hour)
	hasher := security.NewPasswordHasher(4) // low cost for tests
	return service.NewAuthService(repo, tokens, hasher), tokens, hasher
}

func TestRegister(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc, _, _ := newAuthService(mockRepo)

		mockRepo.On("GetByEmail", mock.Anything, "new@example.com").Return(nil, domain.ErrNotFound)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.Email == "new@example.com" && u.HashedPassword != "Password1!"
		})).Run(func(args mock.Arguments) {
			args.Get(1).(*domain.User).ID = "u1"
		}).Return(nil)

		resp, err := svc.Register(context.Background(), service.RegisterInput{
			FirstName: "New",
			LastName:  "User",
			Email:     " New@Example.com ",
			Password:  "Password1!",
		})
		require.NoError(t, err)
		assert.Equal(t, "bearer", resp.TokenType)
		assert.NotEmpty(t, resp.AccessToken)
		assert.Equal(t, "u1", resp.User.ID)
		mockRepo.AssertExpectations(t)
	})

	t.Run("EmailTaken", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc, _, _ := newAuthService(mockRepo)

		mockRepo.On("GetByEmail", mock.Anything, "taken@example.com").Return(&domain.User{ID: "u9"}, nil)

		resp, err := svc.Register(context.Background(), service.RegisterInput{Email: "taken@example.com", Password: "x"})
		assert.Nil(t, resp)
		assert.ErrorIs(t, err, domain.ErrConflict)
		mockRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}

func TestLogin(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, _, hasher := newAuthService(mockRepo)
	hashed, err := hasher.Hash("right")
	require.NoError(t, err)

	mockRepo.On("GetByEmail", mock.Anything, "a@example.com").Return(&domain.User{ID: "u1", HashedPassword: hashed}, nil)
	mockRepo.On("GetByEmail", mock.Anything, "ghost@example.com").Return(nil, domain.ErrNotFound)

	resp, err := svc.Login(context.Background(), service.LoginInput{Email: "a@example.com", Password: "right"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)

	_, err = svc.Login(context.Background(), service.LoginInput{Email: "a@example.com", Password: "wrong"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)

	_, err = svc.Login(context.Background(), service.LoginInput{Email: "ghost@example.com", Password: "right"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("CurrentVersion", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc, tokens, _ := newAuthService(mockRepo)
		mockRepo.On("GetByID", mock.Anything, "u1").Return(&domain.User{ID: "u1", TokenVersion: 2}, nil)

		tok, err := tokens.CreateForUser("u1", 2)
		require.NoError(t, err)

		user, err := svc.Authenticate(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, "u1", user.ID)
	})

	t.Run("StaleVersion", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc, tokens, _ := newAuthService(mockRepo)
		mockRepo.On("GetByID", mock.Anything, "u1").Return(&domain.User{ID: "u1", TokenVersion: 3}, nil)

		tok, err := tokens.CreateForUser("u1", 2)
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("MissingUser", func(t *testing.T) {
		mockRepo := new(MockUserRepo)
		svc, tokens, _ := newAuthService(mockRepo)
		mockRepo.On("GetByID", mock.Anything, "gone").Return(nil, domain.ErrNotFound)

		tok, err := tokens.CreateForUser("gone", 0)
		require.NoError(t, err)

		_, err = svc.Authenticate(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})

	t.Run("BadToken", func(t *testing.T) {
		svc, tokens, _ := newAuthService(new(MockUserRepo))

		_, err := svc.Authenticate(ctx, "")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)

		_, err = svc.Authenticate(ctx, "garbage")
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)

		expired, err := tokens.CreateWithTTL("u1", 0, -time.Minute)
		require.NoError(t, err)
		_, err = svc.Authenticate(ctx, expired)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	})
}

func TestLogoutAll(t *testing.T) {
	mockRepo := new(MockUserRepo)
	svc, _, _ := newAuthService(mockRepo)
	mockRepo.On("BumpTokenVersion", mock.Anything, "u1").Return(1, nil)

	require.NoError(t, svc.LogoutAll(context.Background(), "u1"))
	mockRepo.AssertExpectations(t)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockUserRepo)
	svc, tokens, hasher := newAuthService(mockRepo)
	hashed, err := hasher.Hash("old")
	require.NoError(t, err)

	mockRepo.On("GetByID", mock.Anything, "u1").Return(&domain.User{ID: "u1", HashedPassword: hashed, TokenVersion: 0}, nil)
	mockRepo.On("UpdatePassword", mock.Anything, "u1", mock.AnythingOfType("string")).Return(1, nil)

	_, err = svc.ChangePassword(ctx, "u1", service.ChangePasswordInput{CurrentPassword: "nope", NewPassword: "new"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	resp, err := svc.ChangePassword(ctx, "u1", service.ChangePasswordInput{CurrentPassword: "old", NewPassword: "new"})
	require.NoError(t, err)

	claims, err := tokens.Parse(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, 1, claims.Version)
	assert.NoError(t, hasher.Verify("new", resp.User.HashedPassword))
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*MockUserRepo, *service.AuthService, *security.TokenService) {
		mockRepo := new(MockUserRepo)
		svc, tokens, hasher := newAuthService(mockRepo)
		hashed, err := hasher.Hash("secret-pw")
		require.NoError(t, err)
		mockRepo.On("GetByID", mock.Anything, "u1").Return(&domain.User{
			ID: "u1", FirstName: "Ann", LastName: "Lee", Email: "ann@example.com", HashedPassword: hashed, TokenVersion: 2,
		}, nil)
		return mockRepo, svc, tokens
	}

	t.Run("NamesOnly", func(t *testing.T) {
		mockRepo, svc, _ := setup(t)
		mockRepo.On("UpdateProfile", mock.Anything, mock.MatchedBy(func(u *domain.User) bool {
			return u.FirstName == "Anna" && u.LastName == "Lee" && u.Email == "ann@example.com"
		}), false).Return(nil)

		resp, err := svc.UpdateProfile(ctx, "u1", service.UpdateProfileInput{FirstName: " Anna "})
		require.NoError(t, err)
		assert.False(t, resp.Revoked)
		assert.Empty(t, resp.AccessToken)
		mockRepo.AssertExpectations(t)
	})

	t.Run("EmailChangeNeedsCurrentPassword", func(t *testing.T) {
		_, svc, _ := setup(t)
		_, err := svc.UpdateProfile(ctx, "u1", service.UpdateProfileInput{Email: "new@example.com"})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		_, err = svc.UpdateProfile(ctx, "u1", service.UpdateProfileInput{Email: "new@example.com", CurrentPassword: "wrong"})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("EmailTaken", func(t *testing.T) {
		mockRepo, svc, _ := setup(t)
		mockRepo.On("GetByEmail", mock.Anything, "bob@example.com").Return(&domain.User{ID: "u2"}, nil)

		_, err := svc.UpdateProfile(ctx, "u1", service.UpdateProfileInput{Email: "Bob@Example.com", CurrentPassword: "secret-pw"})
		assert.ErrorIs(t, err, domain.ErrConflict)
		mockRepo.AssertNotCalled(t, "UpdateProfile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("EmailChangeRevokesTokens", func(t *testing.T) {
		mockRepo, svc, tokens := setup(t)
		mockRepo.On("GetByEmail", mock.Anything, "new@example.com").Return(nil, domain.ErrNotFound)
		mockRepo.On("UpdateProfile", mock.Anything, mock.Anything, true).
			Run(func(args mock.Arguments) { args.Get(1).(*domain.User).TokenVersion = 3 }).
			Return(nil)

		resp, err := svc.UpdateProfile(ctx, "u1", service.UpdateProfileInput{Email: "new@example.com", CurrentPassword: "secret-pw"})
		require.NoError(t, err)
		assert.True(t, resp.Revoked)
		assert.Equal(t, "new@example.com", resp.User.Email)

		claims, err := tokens.Parse(resp.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, 3, claims.Version)
	})
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	mockRepo := new(MockUserRepo)
	svc, _, _ := newAuthService(mockRepo)
	mockRepo.On("Delete", mock.Anything, "u1").Return(nil)
	mockRepo.On("Delete", mock.Anything, "gone").Return(domain.ErrNotFound)

	require.NoError(t, svc.DeleteAccount(ctx, "u1"))
	assert.ErrorIs(t, svc.DeleteAccount(ctx, "gone"), domain.ErrNotFound)
}
