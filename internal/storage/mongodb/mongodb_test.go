package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStorage connects to the server named by MONGO_TEST_URI using a throwaway database.
func newStorage(t *testing.T) (context.Context, *Storage) {
	t.Helper()

	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	database := "authd_test_" + gofakeit.LetterN(8)
	s, err := New(ctx, uri, database)
	require.NoError(t, err)

	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cleanupCancel()
		_ = s.client.Database(database).Drop(cleanupCtx)
		_ = s.Close(cleanupCtx)
	})

	return ctx, s
}

func fakeUser() models.User {
	return models.User{
		Username: gofakeit.Username(),
		Email:    gofakeit.Email(),
		FullName: gofakeit.Name(),
		Avatar:   gofakeit.URL(),
		PassHash: []byte("hash"),
	}
}

func TestStorage_Users(t *testing.T) {
	ctx, s := newStorage(t)

	in := fakeUser()
	id, err := s.SaveUser(ctx, in)
	require.NoError(t, err)
	require.NotZero(t, id)

	second, err := s.SaveUser(ctx, fakeUser())
	require.NoError(t, err)
	assert.Equal(t, id+1, second)

	byLogin, err := s.UserByLogin(ctx, in.Username, "")
	require.NoError(t, err)
	assert.Equal(t, id, byLogin.ID)
	assert.Equal(t, in.PassHash, byLogin.PassHash)

	byEmail, err := s.UserByLogin(ctx, "", in.Email)
	require.NoError(t, err)
	assert.Equal(t, id, byEmail.ID)

	_, err = s.UserByLogin(ctx, "", "")
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = s.UserByID(ctx, 1_000_000)
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	dup := fakeUser()
	dup.Email = in.Email
	_, err = s.SaveUser(ctx, dup)
	require.ErrorIs(t, err, storage.ErrUserExists)

	require.NoError(t, s.Ping(ctx))
}

func TestStorage_RefreshTokens(t *testing.T) {
	ctx, s := newStorage(t)

	id, err := s.SaveUser(ctx, fakeUser())
	require.NoError(t, err)

	require.NoError(t, s.SetRefreshToken(ctx, id, "rt-1"))

	err = s.SwapRefreshToken(ctx, id, "rt-0", "rt-2")
	require.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)

	require.NoError(t, s.SwapRefreshToken(ctx, id, "rt-1", "rt-2"))

	user, err := s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "rt-2", user.RefreshToken)

	require.NoError(t, s.ClearRefreshToken(ctx, id))
	require.NoError(t, s.ClearRefreshToken(ctx, id))

	user, err = s.UserByID(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, user.RefreshToken)

	err = s.SwapRefreshToken(ctx, id, "", "rt-3")
	require.ErrorIs(t, err, storage.ErrRefreshTokenMismatch)

	require.NoError(t, s.UpdatePassHash(ctx, id, []byte("new")))
	err = s.UpdatePassHash(ctx, 1_000_000, []byte("new"))
	require.ErrorIs(t, err, storage.ErrUserNotFound)

	err = s.SetRefreshToken(ctx, 1_000_000, "rt")
	require.ErrorIs(t, err, storage.ErrUserNotFound)
}
