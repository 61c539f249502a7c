package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New opens the database at storagePath. Schema is managed by Migrate.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"

	db, err := sql.Open("sqlite3", dsn(storagePath))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// one writer at a time keeps updates to a record strictly ordered
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{db: db}, nil
}

func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_busy_timeout=5000&_foreign_keys=on"
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Storage) Close(_ context.Context) error {
	return s.db.Close()
}

func (s *Storage) SaveUser(ctx context.Context, user models.User) (int64, error) {
	const op = "storage.sqlite.SaveUser"

	stmt, err := s.db.PrepareContext(ctx, `
		INSERT INTO users (username, email, full_name, avatar, cover_image, pass_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	result, err := stmt.ExecContext(ctx,
		user.Username, user.Email, user.FullName, user.Avatar, user.CoverImage, user.PassHash, now, now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%s: %w", op, storage.ErrUserExists)
		}
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

const selectUser = `
	SELECT id, username, email, full_name, avatar, cover_image, pass_hash, refresh_token, created_at, updated_at
	FROM users`

// UserByLogin finds a user by username or email. Empty values never match.
func (s *Storage) UserByLogin(ctx context.Context, username, email string) (*models.User, error) {
	const op = "storage.sqlite.UserByLogin"

	row := s.db.QueryRowContext(ctx,
		selectUser+` WHERE (username = ? AND ? <> '') OR (email = ? AND ? <> '') ORDER BY id LIMIT 1`,
		username, username, email, email,
	)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) UserByID(ctx context.Context, userID int64) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx, selectUser+` WHERE id = ?`, userID)

	user, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *Storage) SetRefreshToken(ctx context.Context, userID int64, token string) error {
	const op = "storage.sqlite.SetRefreshToken"

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ?`,
		token, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrUserNotFound)
}

// SwapRefreshToken replaces the stored token only while it still equals oldToken.
func (s *Storage) SwapRefreshToken(ctx context.Context, userID int64, oldToken, newToken string) error {
	const op = "storage.sqlite.SwapRefreshToken"

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = ?, updated_at = ? WHERE id = ? AND refresh_token = ?`,
		newToken, time.Now().UTC(), userID, oldToken,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrRefreshTokenMismatch)
}

func (s *Storage) ClearRefreshToken(ctx context.Context, userID int64) error {
	const op = "storage.sqlite.ClearRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET refresh_token = NULL, updated_at = ? WHERE id = ? AND refresh_token IS NOT NULL`,
		time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) UpdatePassHash(ctx context.Context, userID int64, passHash []byte) error {
	const op = "storage.sqlite.UpdatePassHash"

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET pass_hash = ?, updated_at = ? WHERE id = ?`,
		passHash, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return expectOne(op, res, storage.ErrUserNotFound)
}

func scanUser(row *sql.Row) (*models.User, error) {
	var (
		user         models.User
		refreshToken sql.NullString
	)

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.FullName, &user.Avatar, &user.CoverImage,
		&user.PassHash, &refreshToken, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	user.RefreshToken = refreshToken.String

	return &user, nil
}

func expectOne(op string, res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, errNone)
	}
	return nil
}
