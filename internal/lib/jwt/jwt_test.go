package jwt

import (
	"strings"
	"testing"
	"time"

	"authd/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	accessSecret  = "access-secret"
	refreshSecret = "refresh-secret"
	accessTTL     = 15 * time.Minute
	refreshTTL    = 24 * time.Hour
)

func newIssuer(t *testing.T) *Issuer {
	t.Helper()

	i, err := NewIssuer(accessSecret, accessTTL, refreshSecret, refreshTTL)
	require.NoError(t, err)

	return i
}

func TestIssuePair_Claims(t *testing.T) {
	i := newIssuer(t)
	issuedAt := time.Now()

	pair, err := i.IssuePair(42)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	tests := []struct {
		name   string
		token  string
		secret string
		kind   models.TokenKind
		ttl    time.Duration
	}{
		{name: "access", token: pair.AccessToken, secret: accessSecret, kind: models.TokenKindAccess, ttl: accessTTL},
		{name: "refresh", token: pair.RefreshToken, secret: refreshSecret, kind: models.TokenKindRefresh, ttl: refreshTTL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims := &Claims{}
			_, err := jwt.ParseWithClaims(tt.token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(tt.secret), nil
			})
			require.NoError(t, err)

			assert.Equal(t, "42", claims.Subject)
			assert.Equal(t, tt.kind, claims.Kind)
			assert.NotEmpty(t, claims.ID)
			assert.InDelta(t, issuedAt.Add(tt.ttl).Unix(), claims.ExpiresAt.Unix(), 1)
		})
	}
}

func TestIssuePair_Unique(t *testing.T) {
	i := newIssuer(t)
	fixed := time.Now()
	i.now = func() time.Time { return fixed }

	first, err := i.IssuePair(1)
	require.NoError(t, err)
	second, err := i.IssuePair(1)
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
}

func TestVerify_Success(t *testing.T) {
	i := newIssuer(t)

	pair, err := i.IssuePair(7)
	require.NoError(t, err)

	uid, err := i.Verify(pair.AccessToken, models.TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)

	uid, err = i.Verify(pair.RefreshToken, models.TokenKindRefresh)
	require.NoError(t, err)
	assert.Equal(t, int64(7), uid)
}

func TestVerify_WrongKind(t *testing.T) {
	i := newIssuer(t)

	pair, err := i.IssuePair(7)
	require.NoError(t, err)

	_, err = i.Verify(pair.AccessToken, models.TokenKindRefresh)
	require.ErrorIs(t, err, ErrWrongKind)

	_, err = i.Verify(pair.RefreshToken, models.TokenKindAccess)
	require.ErrorIs(t, err, ErrWrongKind)
}

func TestVerify_Expired(t *testing.T) {
	i := newIssuer(t)
	i.now = func() time.Time { return time.Now().Add(-2 * refreshTTL) }

	pair, err := i.IssuePair(7)
	require.NoError(t, err)

	i.now = time.Now

	_, err = i.Verify(pair.RefreshToken, models.TokenKindRefresh)
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestVerify_Invalid(t *testing.T) {
	i := newIssuer(t)

	pair, err := i.IssuePair(7)
	require.NoError(t, err)

	other, err := NewIssuer("other-access", accessTTL, "other-refresh", refreshTTL)
	require.NoError(t, err)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind: models.TokenKindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	// signed with the access secret while claiming to be a refresh token
	forgedString, err := forged.SignedString([]byte(accessSecret))
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind:             models.TokenKindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "7"},
	})
	noExpString, err := noExp.SignedString([]byte(refreshSecret))
	require.NoError(t, err)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind: models.TokenKindRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	badSubjectString, err := badSubject.SignedString([]byte(refreshSecret))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "malformed", token: "not.a.jwt"},
		{name: "tampered", token: tamper(pair.RefreshToken)},
		{name: "foreign secret", token: mustIssue(t, other).RefreshToken},
		{name: "kind forged", token: forgedString},
		{name: "no expiry", token: noExpString},
		{name: "bad subject", token: badSubjectString},
		{name: "none alg", token: strings.Join([]string{"eyJhbGciOiJub25lIn0", "eyJzdWIiOiI3In0", ""}, ".")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := i.Verify(tt.token, models.TokenKindRefresh)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestNewIssuer_Validation(t *testing.T) {
	tests := []struct {
		name          string
		accessSecret  string
		refreshSecret string
		accessTTL     time.Duration
		refreshTTL    time.Duration
	}{
		{name: "empty access secret", refreshSecret: "r", accessTTL: time.Minute, refreshTTL: time.Hour},
		{name: "empty refresh secret", accessSecret: "a", accessTTL: time.Minute, refreshTTL: time.Hour},
		{name: "same secrets", accessSecret: "s", refreshSecret: "s", accessTTL: time.Minute, refreshTTL: time.Hour},
		{name: "zero access ttl", accessSecret: "a", refreshSecret: "r", refreshTTL: time.Hour},
		{name: "negative refresh ttl", accessSecret: "a", refreshSecret: "r", accessTTL: time.Minute, refreshTTL: -time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewIssuer(tt.accessSecret, tt.accessTTL, tt.refreshSecret, tt.refreshTTL)
			require.Error(t, err)
		})
	}
}

func mustIssue(t *testing.T, i *Issuer) models.TokenPair {
	t.Helper()

	pair, err := i.IssuePair(7)
	require.NoError(t, err)

	return pair
}

// tamper rewrites the first signature character so the signature no longer matches.
func tamper(token string) string {
	dot := strings.LastIndex(token, ".")
	replacement := "A"
	if token[dot+1] == 'A' {
		replacement = "B"
	}
	return token[:dot+1] + replacement + token[dot+2:]
}
