package auth

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"authd/internal/domain/models"
	"authd/internal/lib/handlers/slogdiscard"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfAndMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		msg  string
	}{
		{name: "validation", err: fmt.Errorf("op: %w", &ValidationError{Fields: []string{"email", "password"}}), kind: KindValidation, msg: "missing required fields: email, password"},
		{name: "validation reason", err: &ValidationError{Fields: []string{"password"}, Reason: "too long"}, kind: KindValidation, msg: "too long"},
		{name: "conflict", err: fmt.Errorf("op: %w", ErrUserExists), kind: KindConflict, msg: "user already exists"},
		{name: "bad password", err: fmt.Errorf("op: %w", ErrInvalidCredentials), kind: KindAuthentication, msg: "incorrect password"},
		{name: "bad token", err: fmt.Errorf("op: %w", ErrInvalidToken), kind: KindAuthentication, msg: "invalid token"},
		{name: "reused token", err: fmt.Errorf("op: %w", ErrTokenReused), kind: KindAuthentication, msg: "refresh token is expired or used"},
		{name: "not found", err: fmt.Errorf("op: %w", ErrUserNotFound), kind: KindNotFound, msg: "user not found"},
		{name: "internal", err: errors.New("disk on fire"), kind: KindInternal, msg: "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.msg, Message(tt.err))
		})
	}
}

var errStore = errors.New("store unavailable")

type brokenStore struct {
	user *models.User
}

func (s *brokenStore) SaveUser(context.Context, models.User) (int64, error) { return 0, errStore }

func (s *brokenStore) UserByLogin(context.Context, string, string) (*models.User, error) {
	if s.user != nil {
		return s.user, nil
	}
	return nil, errStore
}

func (s *brokenStore) UserByID(context.Context, int64) (*models.User, error) {
	if s.user != nil {
		return s.user, nil
	}
	return nil, errStore
}

func (s *brokenStore) SetRefreshToken(context.Context, int64, string) error { return errStore }
func (s *brokenStore) SwapRefreshToken(context.Context, int64, string, string) error { return errStore }
func (s *brokenStore) ClearRefreshToken(context.Context, int64) error { return errStore }
func (s *brokenStore) UpdatePassHash(context.Context, int64, []byte) error { return errStore }

type plainHasher struct{}

func (plainHasher) Hash(plain string) ([]byte, error) { return []byte(plain), nil }
func (plainHasher) Verify(plain string, hash []byte) bool { return plain == string(hash) }

type stubIssuer struct{}

func (stubIssuer) IssuePair(int64) (models.TokenPair, error) {
	return models.TokenPair{AccessToken: "access", RefreshToken: "refresh-2"}, nil
}

func (stubIssuer) Verify(token string, _ models.TokenKind) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	return 1, nil
}

func TestStoreFailuresAreInternal(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: 1, Username: "alice", PassHash: []byte("pw1"), RefreshToken: "refresh-1"}

	newSvc := func(u *models.User) *Auth {
		s := &brokenStore{user: u}
		return New(slogdiscard.NewDiscardLogger(), s, s, s, s, plainHasher{}, stubIssuer{})
	}

	_, err := newSvc(nil).Register(ctx, RegisterInput{FullName: "A", Username: "a", Email: "a@x.com", Password: "pw", Avatar: "u"})
	require.ErrorIs(t, err, errStore)
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = newSvc(nil).Login(ctx, LoginInput{Username: "alice", Password: "pw1"})
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = newSvc(user).Login(ctx, LoginInput{Username: "alice", Password: "pw1"})
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = newSvc(nil).Refresh(ctx, "refresh-1")
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = newSvc(user).Refresh(ctx, "refresh-1")
	assert.Equal(t, KindInternal, KindOf(err))

	err = newSvc(user).Logout(ctx, 1)
	assert.Equal(t, KindInternal, KindOf(err))

	err = newSvc(user).ChangePassword(ctx, 1, ChangePasswordInput{OldPassword: "pw1", NewPassword: "pw2"})
	assert.Equal(t, KindInternal, KindOf(err))

	_, err = newSvc(nil).Authenticate(ctx, "access")
	assert.Equal(t, KindInternal, KindOf(err))
}
