// Package authpw verifies user credentials and manages password lifecycle.
package authpw

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/marwahaha/snap-server/internal/store"
)

var (
	ErrNoSuchUser        = errors.New("user does not exist")
	ErrIncorrectPassword = errors.New("incorrect password")
	ErrUserExists        = errors.New("username already in use")
	ErrInvalidUsername   = errors.New("invalid username")
	ErrNoEmail           = errors.New("cannot reset password without email")
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// UserStore defines the storage surface the credential service needs.
type UserStore interface {
	GetUser(ctx context.Context, userName string) (store.User, error)
	UserExists(ctx context.Context, userName string) (bool, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserPassword(ctx context.Context, userName, passwordHash string) error
}

type Service struct {
	store UserStore
}

func NewService(userStore UserStore) *Service {
	return &Service{store: userStore}
}

// ValidUsername reports whether name is acceptable as an identity.
func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// CreateUser registers a new user. When password is empty and an email is
// given, a random password is generated; the caller is expected to mail it.
// The returned string is the plaintext password actually set.
func (s *Service) CreateUser(ctx context.Context, userName, password, email string) (string, error) {
	if !ValidUsername(userName) {
		return "", ErrInvalidUsername
	}
	exists, err := s.store.UserExists(ctx, userName)
	if err != nil {
		return "", fmt.Errorf("check username: %w", err)
	}
	if exists {
		return "", ErrUserExists
	}
	if password == "" {
		if email == "" {
			return "", fmt.Errorf("password or email required")
		}
		password = GeneratePassword()
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.CreateUser(ctx, store.User{
		UserName:     userName,
		PasswordHash: string(hash),
		Email:        email,
	}); err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return password, nil
}

// Verify checks the given plaintext password against the stored hash and
// returns the user record on success.
func (s *Service) Verify(ctx context.Context, userName, password string) (store.User, error) {
	user, err := s.store.GetUser(ctx, userName)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, ErrNoSuchUser
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return store.User{}, ErrIncorrectPassword
	}
	return user, nil
}

// ChangePassword sets a new password for an already-verified user.
func (s *Service) ChangePassword(ctx context.Context, userName, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userName, string(hash)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNoSuchUser
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// ResetPassword generates a fresh password for the user and returns it along
// with the user record, so the caller can send the reset email. Users without
// an email on file cannot be reset.
func (s *Service) ResetPassword(ctx context.Context, userName string) (store.User, string, error) {
	user, err := s.store.GetUser(ctx, userName)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, "", ErrNoSuchUser
	}
	if err != nil {
		return store.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if user.Email == "" {
		return store.User{}, "", ErrNoEmail
	}

	password := GeneratePassword()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateUserPassword(ctx, userName, string(hash)); err != nil {
		return store.User{}, "", fmt.Errorf("update password: %w", err)
	}
	return user, password, nil
}

const passwordCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GeneratePassword returns a random 10-character temporary password.
func GeneratePassword() string {
	b := make([]byte, 10)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	for i := range b {
		b[i] = passwordCharset[int(b[i])%len(passwordCharset)]
	}
	return string(b)
}
