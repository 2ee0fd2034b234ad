package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User represents an authenticated principal returned to handlers.
type User struct {
	ID        string
	Username  string
	Role      string
	CreatedAt time.Time
}

// ErrInvalidCredentials is returned when username/password is wrong.
var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService defines authentication behaviour.
type AuthService interface {
	Authenticate(ctx context.Context, username, password string) (User, error)
}

// RepositoryAuthService verifies credentials against the user repository.
type RepositoryAuthService struct {
	users UserRepository
}

func NewRepositoryAuthService(users UserRepository) *RepositoryAuthService {
	return &RepositoryAuthService{users: users}
}

func (s *RepositoryAuthService) Authenticate(ctx context.Context, username, password string) (User, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return User{}, ErrInvalidCredentials
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil || u == nil {
		return User{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return User{}, ErrInvalidCredentials
	}
	return User{
		ID:        u.ID,
		Username:  u.Username,
		Role:      u.Role,
		CreatedAt: u.CreatedAt,
	}, nil
}
