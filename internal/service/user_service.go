package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"ticket-manager/internal/auth"
	"ticket-manager/internal/domain"
	"ticket-manager/internal/repository"
)

var (
	// ErrInvalidInput indicates a missing username or password.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRegistrationConflict is returned when registering a username that already exists.
	ErrRegistrationConflict = errors.New("registration conflict")
	// ErrAuthenticationFailed covers both unknown users and wrong passwords.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// TokenIssuer mints session tokens for authenticated users.
type TokenIssuer interface {
	Issue(identity auth.Identity) (auth.Token, error)
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	User  *domain.User
	Token auth.Token
}

// UserService describes registration and login.
type UserService interface {
	Register(ctx context.Context, username, password string) (*domain.User, error)
	Authenticate(ctx context.Context, username, password string) (*domain.User, error)
	Login(ctx context.Context, username, password string) (*LoginResult, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
}

type userService struct {
	users  repository.UserRepository
	hasher auth.PasswordHasher
	tokens TokenIssuer
	log    logrus.FieldLogger
}

func NewUserService(users repository.UserRepository, hasher auth.PasswordHasher, tokens TokenIssuer, log logrus.FieldLogger) UserService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &userService{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		log:    log.WithField("component", "user_service"),
	}
}

// Register trims the username but stores the password exactly as the hasher returns it.
func (s *userService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if password == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}

	stored, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		Username: username,
		Password: stored,
	}
	if _, err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUsername) {
			s.log.WithField("username", username).Warn("registration rejected: username taken")
			return nil, ErrRegistrationConflict
		}
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": username}).Info("user registered")
	return sanitizeUser(user), nil
}

func (s *userService) Authenticate(ctx context.Context, username, password string) (*domain.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrAuthenticationFailed
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.WithField("username", username).Warn("login rejected: unknown user")
			return nil, ErrAuthenticationFailed
		}
		return nil, err
	}

	ok, err := s.hasher.Verify(password, user.Password)
	if err != nil {
		return nil, fmt.Errorf("verify password for user %d: %w", user.ID, err)
	}
	if !ok {
		s.log.WithField("user_id", user.ID).Warn("login rejected: password mismatch")
		return nil, ErrAuthenticationFailed
	}

	return sanitizeUser(user), nil
}

func (s *userService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Issue(auth.Identity{UserID: user.ID, Username: user.Username})
	if err != nil {
		return nil, fmt.Errorf("issue token for user %d: %w", user.ID, err)
	}

	s.log.WithField("user_id", user.ID).Info("user logged in")
	return &LoginResult{User: user, Token: token}, nil
}

func (s *userService) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return sanitizeUser(user), nil
}

func sanitizeUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	return &domain.User{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
