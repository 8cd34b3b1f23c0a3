package service

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"chatbackend/internal/domain"
)

const searchLimit = 20

type UserService struct {
	users domain.UserRepository
}

func NewUserService(users domain.UserRepository) *UserService {
	return &UserService{users: users}
}

// Search matches first name, last name or email, case-insensitively, and
// leaves the caller out of the results.
func (s *UserService) Search(ctx context.Context, query, callerID string) ([]*domain.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []*domain.User{}, nil
	}
	users, err := s.users.Search(ctx, query, searchLimit+1)
	if err != nil {
		return nil, err
	}
	users = lo.Filter(users, func(u *domain.User, _ int) bool { return u.ID != callerID })
	if len(users) > searchLimit {
		users = users[:searchLimit]
	}
	return users, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*domain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, "user not found")
	}
	return u, nil
}
