package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/knowledge-hub/server/internal/auth"
	"github.com/knowledge-hub/server/internal/store"
)

// UserService registers users and turns credentials or tokens into principals.
type UserService struct {
	users   UserStore
	tokens  *auth.TokenManager
	isAdmin func(email string) bool
}

func NewUserService(users UserStore, tokens *auth.TokenManager, isAdmin func(email string) bool) *UserService {
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &UserService{users: users, tokens: tokens, isAdmin: isAdmin}
}

// Session is what register and login hand back to the client.
type Session struct {
	User  *store.User `json:"user"`
	Token string      `json:"token"`
}

func (s *UserService) Register(ctx context.Context, name, email, password string) (*Session, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	switch {
	case name == "":
		return nil, &ValidationError{Field: "name"}
	case email == "":
		return nil, &ValidationError{Field: "email"}
	case password == "":
		return nil, &ValidationError{Field: "password"}
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := store.RoleUser
	if s.isAdmin(email) {
		role = store.RoleAdmin
	}
	user := &store.User{Name: name, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	logrus.WithField("user_id", user.ID).Infof("Registered user with role %s", user.Role)

	return s.issue(user)
}

func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrUnauthorized
	}
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrUnauthorized
	}
	return s.issue(user)
}

// Authenticate resolves a bearer token to the principal it was issued for.
// The user must still exist; the role is read from the store, not the token.
func (s *UserService) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.tokens.ValidateJWT(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := s.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		return Principal{}, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return Principal{}, ErrUnauthorized
	}
	return Principal{UserID: user.ID, Role: user.Role}, nil
}

func (s *UserService) issue(user *store.User) (*Session, error) {
	token, err := s.tokens.GenerateJWT(user.ID, user.Role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &Session{User: user, Token: token}, nil
}
