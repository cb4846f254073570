package authpw

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/marwahaha/snap-server/internal/store"
)

type fakeUserStore struct {
	users map[string]store.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{users: make(map[string]store.User)}
}

func (f *fakeUserStore) GetUser(ctx context.Context, userName string) (store.User, error) {
	user, ok := f.users[userName]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeUserStore) UserExists(ctx context.Context, userName string) (bool, error) {
	_, ok := f.users[userName]
	return ok, nil
}

func (f *fakeUserStore) CreateUser(ctx context.Context, user store.User) error {
	f.users[user.UserName] = user
	return nil
}

func (f *fakeUserStore) UpdateUserPassword(ctx context.Context, userName, passwordHash string) error {
	user, ok := f.users[userName]
	if !ok {
		return sql.ErrNoRows
	}
	user.PasswordHash = passwordHash
	f.users[userName] = user
	return nil
}

func TestCreateUserAndVerify(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "alice", "hunter22", "alice@example.edu"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	user, err := svc.Verify(ctx, "alice", "hunter22")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if user.UserName != "alice" {
		t.Errorf("expected alice, got %q", user.UserName)
	}

	if _, err := svc.Verify(ctx, "alice", "wrong"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if _, err := svc.Verify(ctx, "nobody", "hunter22"); !errors.Is(err, ErrNoSuchUser) {
		t.Fatalf("expected ErrNoSuchUser, got %v", err)
	}
}

func TestCreateUserGeneratesPasswordWithEmailOnly(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	password, err := svc.CreateUser(ctx, "bob", "", "bob@example.edu")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if password == "" {
		t.Fatal("expected a generated password")
	}
	if _, err := svc.Verify(ctx, "bob", password); err != nil {
		t.Fatalf("Verify with generated password failed: %v", err)
	}
}

func TestCreateUserRejectsDuplicatesAndBadNames(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "carol", "pw123456", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := svc.CreateUser(ctx, "carol", "pw123456", ""); !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
	if _, err := svc.CreateUser(ctx, "bad name!", "pw123456", ""); !errors.Is(err, ErrInvalidUsername) {
		t.Fatalf("expected ErrInvalidUsername, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "dave", "original1", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := svc.ChangePassword(ctx, "dave", "changed11"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := svc.Verify(ctx, "dave", "original1"); !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("old password should no longer verify, got %v", err)
	}
	if _, err := svc.Verify(ctx, "dave", "changed11"); err != nil {
		t.Fatalf("Verify with new password failed: %v", err)
	}
}

func TestResetPasswordRequiresEmail(t *testing.T) {
	svc := NewService(newFakeUserStore())
	ctx := context.Background()

	if _, err := svc.CreateUser(ctx, "erin", "secret12", ""); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, _, err := svc.ResetPassword(ctx, "erin"); !errors.Is(err, ErrNoEmail) {
		t.Fatalf("expected ErrNoEmail, got %v", err)
	}

	if _, err := svc.CreateUser(ctx, "frank", "secret12", "frank@example.edu"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	user, password, err := svc.ResetPassword(ctx, "frank")
	if err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if user.Email != "frank@example.edu" {
		t.Errorf("unexpected user record: %+v", user)
	}
	if _, err := svc.Verify(ctx, "frank", password); err != nil {
		t.Fatalf("Verify with reset password failed: %v", err)
	}
}
