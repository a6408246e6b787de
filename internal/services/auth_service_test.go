package services

import (
	"context"
	"errors"
	"testing"
	"time"
)

type authStubStore struct {
	users   map[string]*User
	findErr error
}

func newAuthStubStore() *authStubStore {
	return &authStubStore{users: map[string]*User{}}
}

func (s *authStubStore) FindUserByEmail(_ context.Context, email string) (*User, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if u, ok := s.users[email]; ok {
		copy := *u
		return &copy, nil
	}
	return nil, nil
}

func (s *authStubStore) AddUser(_ context.Context, u *User) error {
	if _, ok := s.users[u.Email]; ok {
		return errors.New("duplicate user")
	}
	copy := *u
	s.users[u.Email] = &copy
	return nil
}

func newTestAuthService(store AuthStore) *AuthService {
	svc := NewAuthService(store, func(uid, email string, ttl time.Duration) (string, error) {
		return "token:" + uid + ":" + email, nil
	})
	svc.now = func() time.Time { return time.Unix(0, 0) }
	svc.idGen = func() string { return "u1234567" }
	return svc
}

func TestAuthRegisterAndLogin(t *testing.T) {
	store := newAuthStubStore()
	svc := newTestAuthService(store)
	ctx := context.Background()

	res, err := svc.Register(ctx, " User@Example.com ", "Secret123", "Sam")
	if err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	if res.UserID != "u1234567" {
		t.Fatalf("unexpected user id: %+v", res)
	}
	if res.Token != "token:u1234567:user@example.com" {
		t.Fatalf("unexpected token %q", res.Token)
	}
	if store.users["user@example.com"].DisplayName != "Sam" {
		t.Fatalf("display name not stored")
	}

	_, err = svc.Register(ctx, "user@example.com", "Secret123", "")
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorConflict {
		t.Fatalf("expected conflict error on duplicate registration, got %v", err)
	}

	loginRes, err := svc.Login(ctx, "USER@example.com", "Secret123")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if loginRes.Token == "" {
		t.Fatalf("expected token in login response")
	}

	if _, err := svc.Login(ctx, "user@example.com", "wrong-pass"); !IsCode(err, ErrorUnauthorized) {
		t.Fatalf("expected unauthorized for wrong password, got %v", err)
	}
	if _, err := svc.Login(ctx, "missing@example.com", "Secret123"); !IsCode(err, ErrorUnauthorized) {
		t.Fatalf("expected unauthorized for missing user, got %v", err)
	}
}

func TestAuthValidation(t *testing.T) {
	svc := newTestAuthService(newAuthStubStore())
	ctx := context.Background()

	cases := []struct{ email, password string }{
		{"", ""},
		{"no-at-sign", "Secret123"},
		{"a@b.c", "short"},
	}
	for _, c := range cases {
		if _, err := svc.Register(ctx, c.email, c.password, ""); !IsCode(err, ErrorInvalid) {
			t.Fatalf("Register(%q, %q): expected invalid error, got %v", c.email, c.password, err)
		}
	}
	if _, err := svc.Login(ctx, "", ""); !IsCode(err, ErrorInvalid) {
		t.Fatalf("expected validation error on login")
	}
}

func TestAuthStoreFailure(t *testing.T) {
	store := newAuthStubStore()
	cause := errors.New("db offline")
	store.findErr = cause
	svc := newTestAuthService(store)

	_, err := svc.Login(context.Background(), "user@example.com", "Secret123")
	if !IsCode(err, ErrorPersistenceFailed) || !errors.Is(err, cause) {
		t.Fatalf("expected wrapped persistence error, got %v", err)
	}
}

func TestAuthWithoutSigner(t *testing.T) {
	svc := NewAuthService(newAuthStubStore(), nil)
	if _, err := svc.Register(context.Background(), "user@example.com", "Secret123", ""); !IsCode(err, ErrorInvalid) {
		t.Fatalf("expected invalid error without signer, got %v", err)
	}
}
