package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	httpapp "authd/internal/app/http"
	"authd/internal/config"
	authhttp "authd/internal/http/auth"
	"authd/internal/http/middleware"
	"authd/internal/lib/api/response"
	"authd/internal/lib/jwt"
	"authd/internal/lib/password"
	"authd/internal/lib/sl"
	"authd/internal/services/auth"
	"authd/internal/storage/mongodb"
	"authd/internal/storage/sqlite"

	"github.com/gorilla/mux"
)

const readyTimeout = 2 * time.Second

// Storage is everything the application needs from a credential store backend.
type Storage interface {
	auth.UserSaver
	auth.UserProvider
	auth.SessionStore
	auth.CredentialUpdater
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type App struct {
	HTTPSrv *httpapp.App

	logger  *slog.Logger
	storage Storage
}

func New(logger *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	storage, err := openStorage(logger, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	issuer, err := jwt.NewIssuer(
		cfg.Tokens.AccessSecret, cfg.Tokens.AccessTTL,
		cfg.Tokens.RefreshSecret, cfg.Tokens.RefreshTTL,
	)
	if err != nil {
		_ = storage.Close(context.Background())
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	hasher, err := password.NewHasher(cfg.Security.BcryptCost)
	if err != nil {
		_ = storage.Close(context.Background())
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	authService := auth.New(logger, storage, storage, storage, storage, hasher, issuer,
		auth.KeepSessionsOnPasswordChange(cfg.Session.KeepOnPasswordChange),
	)

	router := newRouter(logger, storage, authService, authhttp.Cookies{
		Secure:     !cfg.Session.InsecureCookies,
		AccessTTL:  cfg.Tokens.AccessTTL,
		RefreshTTL: cfg.Tokens.RefreshTTL,
	})

	return &App{
		HTTPSrv: httpapp.New(logger, router, cfg.HTTP),
		logger:  logger,
		storage: storage,
	}, nil
}

// Stop shuts the HTTP server down and then closes the store.
func (a *App) Stop(ctx context.Context) error {
	const op = "app.Stop"

	var errs []error

	if err := a.HTTPSrv.Stop(ctx); err != nil {
		errs = append(errs, err)
	}

	if err := a.storage.Close(ctx); err != nil {
		a.logger.Error("failed to close storage", slog.String("op", op), sl.Err(err))
		errs = append(errs, fmt.Errorf("%s: %w", op, err))
	}

	return errors.Join(errs...)
}

func openStorage(logger *slog.Logger, cfg config.StorageConfig) (Storage, error) {
	log := logger.With(slog.String("driver", cfg.Driver))

	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}

		s, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, err
		}

		version, err := s.Migrate()
		if err != nil {
			_ = s.Close(context.Background())
			return nil, err
		}
		log.Info("storage ready", slog.String("path", cfg.Path), slog.Uint64("schema_version", uint64(version)))

		return s, nil

	case config.DriverMongoDB:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()

		s, err := mongodb.New(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, err
		}
		log.Info("storage ready", slog.String("database", cfg.Mongo.Database))

		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newRouter(logger *slog.Logger, storage Storage, authService authhttp.Auth, cookies authhttp.Cookies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		response.OK(w, logger, http.StatusOK, "ok", nil)
	}).Methods(http.MethodGet)

	r.HandleFunc("/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readyTimeout)
		defer cancel()

		if err := storage.Ping(ctx); err != nil {
			logger.Warn("storage is not ready", sl.Err(err))
			response.Error(w, logger, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		response.OK(w, logger, http.StatusOK, "ready", nil)
	}).Methods(http.MethodGet)

	authhttp.Register(r, logger, authService, cookies)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, logger, http.StatusNotFound, "route not found")
	})

	return r
}
