package service_test

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stretchr/testify/mock"

	"chatbackend/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) Create(ctx context.Context, u *domain.User) error {
	args := m.Called(ctx, u)
	return args.Error(0)
}

func (m *MockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockUserRepo) Search(ctx context.Context, query string, limit int) ([]*domain.User, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.User), args.Error(1)
}

func (m *MockUserRepo) UpdatePassword(ctx context.Context, id, hashedPassword string) (int, error) {
	args := m.Called(ctx, id, hashedPassword)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepo) BumpTokenVersion(ctx context.Context, id string) (int, error) {
	args := m.Called(ctx, id)
	return args.Int(0), args.Error(1)
}

func (m *MockUserRepo) UpdateProfile(ctx context.Context, u *domain.User, bumpVersion bool) error {
	args := m.Called(ctx, u, bumpVersion)
	return args.Error(0)
}

func (m *MockUserRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockConversationRepo struct {
	mock.Mock
}

func (m *MockConversationRepo) GetOrCreatePrivate(ctx context.Context, a, b string) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, a, b)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*domain.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockConversationRepo) GetByID(ctx context.Context, id string) (*domain.Conversation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) ListForUser(ctx context.Context, userID string) ([]*domain.Conversation, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Conversation), args.Error(1)
}

func (m *MockConversationRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockGroupRepo struct {
	mock.Mock
}

func (m *MockGroupRepo) Create(ctx context.Context, g *domain.GroupChat) error {
	args := m.Called(ctx, g)
	return args.Error(0)
}

func (m *MockGroupRepo) GetByID(ctx context.Context, id string) (*domain.GroupChat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GroupChat), args.Error(1)
}

func (m *MockGroupRepo) ListForUser(ctx context.Context, userID string) ([]*domain.GroupChat, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.GroupChat), args.Error(1)
}

func (m *MockGroupRepo) AddMember(ctx context.Context, groupID, userID string) error {
	args := m.Called(ctx, groupID, userID)
	return args.Error(0)
}

func (m *MockGroupRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockMessageRepo struct {
	mock.Mock
}

func (m *MockMessageRepo) Append(ctx context.Context, msg *domain.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) ListByRoom(ctx context.Context, room domain.RoomRef) ([]*domain.Message, error) {
	args := m.Called(ctx, room)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageRepo) UpdateContent(ctx context.Context, id, content string, at time.Time) error {
	args := m.Called(ctx, id, content, at)
	return args.Error(0)
}

func (m *MockMessageRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockMessageRepo) DeleteByRoom(ctx context.Context, room domain.RoomRef) (int64, error) {
	args := m.Called(ctx, room)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageRepo) MarkRoomRead(ctx context.Context, room domain.RoomRef, userID string) (int64, error) {
	args := m.Called(ctx, room, userID)
	return args.Get(0).(int64), args.Error(1)
}

type MockAuthorizer struct {
	mock.Mock
}

func (m *MockAuthorizer) Authorize(ctx context.Context, room domain.RoomRef, userID string) error {
	args := m.Called(ctx, room, userID)
	return args.Error(0)
}
