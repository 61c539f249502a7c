package jwt

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"authd/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrWrongKind    = errors.New("wrong token kind")
)

// Claims is the payload of both token kinds.
type Claims struct {
	Kind models.TokenKind `json:"kind"`
	jwt.RegisteredClaims
}

type key struct {
	secret []byte
	ttl    time.Duration
}

// Issuer mints and verifies access/refresh token pairs. Each kind has its own secret and TTL.
type Issuer struct {
	keys map[models.TokenKind]key
	now  func() time.Time
}

func NewIssuer(
	accessSecret string,
	accessTTL time.Duration,
	refreshSecret string,
	refreshTTL time.Duration,
) (*Issuer, error) {
	const op = "jwt.NewIssuer"

	switch {
	case accessSecret == "" || refreshSecret == "":
		return nil, fmt.Errorf("%s: secrets must not be empty", op)
	case accessSecret == refreshSecret:
		return nil, fmt.Errorf("%s: access and refresh secrets must differ", op)
	case accessTTL <= 0 || refreshTTL <= 0:
		return nil, fmt.Errorf("%s: token TTLs must be positive", op)
	}

	return &Issuer{
		keys: map[models.TokenKind]key{
			models.TokenKindAccess:  {secret: []byte(accessSecret), ttl: accessTTL},
			models.TokenKindRefresh: {secret: []byte(refreshSecret), ttl: refreshTTL},
		},
		now: time.Now,
	}, nil
}

// IssuePair creates an access and a refresh token for userID.
func (i *Issuer) IssuePair(userID int64) (models.TokenPair, error) {
	const op = "jwt.IssuePair"

	access, err := i.sign(userID, models.TokenKindAccess)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	refresh, err := i.sign(userID, models.TokenKindRefresh)
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	return models.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// Verify checks signature, expiry and kind and returns the token's subject.
func (i *Issuer) Verify(tokenString string, kind models.TokenKind) (int64, error) {
	const op = "jwt.Verify"

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			c, ok := t.Claims.(*Claims)
			if !ok {
				return nil, ErrInvalidToken
			}
			k, ok := i.keys[c.Kind]
			if !ok {
				return nil, fmt.Errorf("unknown token kind %q", c.Kind)
			}
			return k.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %w", op, ErrInvalidToken, err)
	}

	if claims.Kind != kind {
		return 0, fmt.Errorf("%s: %w: got %q, want %q", op, ErrWrongKind, claims.Kind, kind)
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: bad subject: %w", op, ErrInvalidToken, err)
	}

	return userID, nil
}

func (i *Issuer) sign(userID int64, kind models.TokenKind) (string, error) {
	k := i.keys[kind]
	now := i.now()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Kind: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(k.ttl)),
		},
	})

	return token.SignedString(k.secret)
}
