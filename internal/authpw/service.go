// Package authpw provides email/password authentication.
package authpw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"semilla/api/internal/store"
	"semilla/api/internal/util"
)

// Service handles credential checks and password resets.
type Service struct {
	store UserStore
}

// UserStore is the storage surface authpw needs.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	GetUserByID(ctx context.Context, id string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	GetPasswordReset(ctx context.Context, token string) (string, error)
	MarkPasswordResetUsed(ctx context.Context, token string) error
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates a new user account with the default editor role.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	if req.Email == "" || req.Password == "" || req.DisplayName == "" {
		return store.User{}, errors.New("email, password, and display name are required")
	}

	if len(req.Password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(ctx, req.Email); err == nil {
		return store.User{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewUserID(),
		DisplayName:  req.DisplayName,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         "editor",
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return store.User{}, fmt.Errorf("create user: %w", err)
	}

	return user, nil
}

// SignIn authenticates a user by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	if email == "" || password == "" {
		return store.User{}, errors.New("email and password are required")
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, errors.New("invalid email or password")
	}

	return user, nil
}

// RequestPasswordReset creates a password reset token. The empty-token
// success on an unknown email keeps account existence private.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return "", nil
	}

	token, err := generateToken()
	if err != nil {
		return "", err
	}

	expiresAt := time.Now().Add(1 * time.Hour)
	if err := s.store.CreatePasswordReset(ctx, user.ID, token, expiresAt); err != nil {
		return "", err
	}

	return token, nil
}

// ResetPassword resets a user's password using a reset token.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" || newPassword == "" {
		return errors.New("token and new password are required")
	}

	if len(newPassword) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	userID, err := s.store.GetPasswordReset(ctx, token)
	if err != nil {
		return errors.New("invalid or expired reset token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.store.UpdateUserPassword(ctx, userID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	// Best effort: the password already changed.
	_ = s.store.MarkPasswordResetUsed(ctx, token)

	return nil
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
