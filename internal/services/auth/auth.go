package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"authd/internal/domain/models"
	"authd/internal/lib/password"
	"authd/internal/lib/sl"
	"authd/internal/storage"
)

type Auth struct {
	logger         *slog.Logger
	userSaver      UserSaver
	userProvider   UserProvider
	sessions       SessionStore
	credentials    CredentialUpdater
	hasher         Hasher
	tokens         TokenIssuer
	keepOnPassword bool
}

type UserSaver interface {
	SaveUser(ctx context.Context, user models.User) (uid int64, err error)
}

type UserProvider interface {
	UserByLogin(ctx context.Context, username, email string) (*models.User, error)
	UserByID(ctx context.Context, userID int64) (*models.User, error)
}

type SessionStore interface {
	SetRefreshToken(ctx context.Context, userID int64, token string) error
	SwapRefreshToken(ctx context.Context, userID int64, oldToken, newToken string) error
	ClearRefreshToken(ctx context.Context, userID int64) error
}

type CredentialUpdater interface {
	UpdatePassHash(ctx context.Context, userID int64, passHash []byte) error
}

type Hasher interface {
	Hash(plain string) ([]byte, error)
	Verify(plain string, hash []byte) bool
}

type TokenIssuer interface {
	IssuePair(userID int64) (models.TokenPair, error)
	Verify(token string, kind models.TokenKind) (int64, error)
}

// Option tweaks optional behaviour of the service.
type Option func(*Auth)

// KeepSessionsOnPasswordChange leaves the stored refresh token valid after a password change.
func KeepSessionsOnPasswordChange(keep bool) Option {
	return func(a *Auth) {
		a.keepOnPassword = keep
	}
}

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	sessions SessionStore,
	credentials CredentialUpdater,
	hasher Hasher,
	tokens TokenIssuer,
	opts ...Option,
) *Auth {
	a := &Auth{
		logger:       logger,
		userSaver:    userSaver,
		userProvider: userProvider,
		sessions:     sessions,
		credentials:  credentials,
		hasher:       hasher,
		tokens:       tokens,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type RegisterInput struct {
	FullName   string `json:"fullName"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	Avatar     string `json:"avatar"`
	CoverImage string `json:"coverImage"`
}

type LoginInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ChangePasswordInput struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// Register creates a user. Username and email are stored lower-cased.
func (a *Auth) Register(ctx context.Context, in RegisterInput) (models.PublicUser, error) {
	const op = "auth.Register"

	in.FullName = strings.TrimSpace(in.FullName)
	in.Username = normalize(in.Username)
	in.Email = normalize(in.Email)
	in.Avatar = strings.TrimSpace(in.Avatar)
	in.CoverImage = strings.TrimSpace(in.CoverImage)

	log := a.logger.With(
		slog.String("op", op),
		slog.String("username", in.Username),
	)
	log.Info("register request")

	if missing := missingFields(
		field{"fullName", in.FullName},
		field{"username", in.Username},
		field{"email", in.Email},
		field{"password", in.Password},
		field{"avatar", in.Avatar},
	); len(missing) > 0 {
		log.Warn("invalid register request", slog.Any("missing", missing))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, &ValidationError{Fields: missing})
	}

	passHash, err := a.hasher.Hash(in.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return models.PublicUser{}, fmt.Errorf("%s: %w", op, &ValidationError{
				Fields: []string{"password"},
				Reason: password.ErrTooLong.Error(),
			})
		}
		log.Error("failed to generate password hash", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	user := models.User{
		Username:   in.Username,
		Email:      in.Email,
		FullName:   in.FullName,
		Avatar:     in.Avatar,
		CoverImage: in.CoverImage,
		PassHash:   passHash,
	}

	user.ID, err = a.userSaver.SaveUser(ctx, user)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			log.Warn("user already exists", sl.Err(err))
			return models.PublicUser{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	created, err := a.userProvider.UserByID(ctx, user.ID)
	if err != nil {
		log.Error("failed to read back registered user", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.Int64("userID", created.ID))

	return created.Public(), nil
}

// Login checks credentials, issues a token pair and stores the refresh token,
// replacing whatever session the user had before.
func (a *Auth) Login(ctx context.Context, in LoginInput) (models.Session, error) {
	const op = "auth.Login"

	in.Username = normalize(in.Username)
	in.Email = normalize(in.Email)

	log := a.logger.With(slog.String("op", op))
	log.Info("login request", slog.String("username", in.Username), slog.String("email", in.Email))

	var missing []string
	if in.Username == "" && in.Email == "" {
		missing = append(missing, "username", "email")
	}
	if in.Password == "" {
		missing = append(missing, "password")
	}
	if len(missing) > 0 {
		log.Warn("invalid login request", slog.Any("missing", missing))
		return models.Session{}, fmt.Errorf("%s: %w", op, &ValidationError{Fields: missing})
	}

	user, err := a.userProvider.UserByLogin(ctx, in.Username, in.Email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return models.Session{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(in.Password, user.PassHash) {
		log.Warn("invalid password", slog.Int64("userID", user.ID))
		return models.Session{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := a.tokens.IssuePair(user.ID)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.SetRefreshToken(ctx, user.ID, pair.RefreshToken); err != nil {
		log.Error("failed to save refresh token", sl.Err(err))
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.Int64("userID", user.ID))

	return models.Session{User: user.Public(), TokenPair: pair}, nil
}

// Refresh exchanges the current refresh token for a new pair. The presented token must
// equal the stored one, and the replacement is only written if nobody rotated it meanwhile.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.logger.With(slog.String("op", op))
	log.Info("refresh request")

	if refreshToken == "" {
		log.Warn("refresh token missing")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	userID, err := a.tokens.Verify(refreshToken, models.TokenKindRefresh)
	if err != nil {
		log.Warn("refresh token rejected", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	log = log.With(slog.Int64("userID", userID))

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("refresh token subject not found", sl.Err(err))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if !sameToken(refreshToken, user.RefreshToken) {
		log.Warn("refresh token does not match current session")
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenReused)
	}

	pair, err := a.tokens.IssuePair(userID)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.sessions.SwapRefreshToken(ctx, userID, refreshToken, pair.RefreshToken); err != nil {
		if errors.Is(err, storage.ErrRefreshTokenMismatch) {
			log.Warn("refresh token rotated concurrently", sl.Err(err))
			return models.TokenPair{}, fmt.Errorf("%s: %w", op, ErrTokenReused)
		}
		log.Error("failed to rotate refresh token", sl.Err(err))
		return models.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed")

	return pair, nil
}

// Logout ends the user's session. Logging out twice is not an error.
func (a *Auth) Logout(ctx context.Context, userID int64) error {
	const op = "auth.Logout"

	log := a.logger.With(slog.String("op", op), slog.Int64("userID", userID))
	log.Info("logout request")

	if err := a.sessions.ClearRefreshToken(ctx, userID); err != nil {
		log.Error("failed to clear refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out")

	return nil
}

func (a *Auth) ChangePassword(ctx context.Context, userID int64, in ChangePasswordInput) error {
	const op = "auth.ChangePassword"

	log := a.logger.With(slog.String("op", op), slog.Int64("userID", userID))
	log.Info("change password request")

	if missing := missingFields(
		field{"oldPassword", in.OldPassword},
		field{"newPassword", in.NewPassword},
	); len(missing) > 0 {
		log.Warn("invalid change password request", slog.Any("missing", missing))
		return fmt.Errorf("%s: %w", op, &ValidationError{Fields: missing})
	}

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if !a.hasher.Verify(in.OldPassword, user.PassHash) {
		log.Warn("invalid old password")
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	passHash, err := a.hasher.Hash(in.NewPassword)
	if err != nil {
		if errors.Is(err, password.ErrTooLong) {
			return fmt.Errorf("%s: %w", op, &ValidationError{
				Fields: []string{"newPassword"},
				Reason: password.ErrTooLong.Error(),
			})
		}
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.credentials.UpdatePassHash(ctx, userID, passHash); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if !a.keepOnPassword {
		if err := a.sessions.ClearRefreshToken(ctx, userID); err != nil {
			log.Error("failed to revoke session after password change", sl.Err(err))
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	log.Info("password changed", slog.Bool("sessionRevoked", !a.keepOnPassword))

	return nil
}

// Authenticate resolves the user behind an access token.
func (a *Auth) Authenticate(ctx context.Context, accessToken string) (models.PublicUser, error) {
	const op = "auth.Authenticate"

	log := a.logger.With(slog.String("op", op))

	if accessToken == "" {
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	userID, err := a.tokens.Verify(accessToken, models.TokenKindAccess)
	if err != nil {
		log.Debug("access token rejected", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
	}

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("access token subject not found", slog.Int64("userID", userID))
			return models.PublicUser{}, fmt.Errorf("%s: %w", op, ErrInvalidToken)
		}
		log.Error("failed to get user", sl.Err(err))
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	return user.Public(), nil
}

type field struct {
	name  string
	value string
}

func missingFields(fields ...field) []string {
	var missing []string
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameToken(presented, stored string) bool {
	if stored == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(stored)) == 1
}
