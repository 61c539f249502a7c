package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"authd/internal/domain/models"
	"authd/internal/http/middleware"
	"authd/internal/lib/api/response"
	"authd/internal/lib/sl"
	authservice "authd/internal/services/auth"

	"github.com/gorilla/mux"
)

const (
	AccessTokenCookie  = "accessToken"
	RefreshTokenCookie = "refreshToken"

	maxBodyBytes = 1 << 20
)

type Auth interface {
	Register(ctx context.Context, in authservice.RegisterInput) (models.PublicUser, error)
	Login(ctx context.Context, in authservice.LoginInput) (models.Session, error)
	Refresh(ctx context.Context, refreshToken string) (models.TokenPair, error)
	Logout(ctx context.Context, userID int64) error
	ChangePassword(ctx context.Context, userID int64, in authservice.ChangePasswordInput) error
	Authenticate(ctx context.Context, accessToken string) (models.PublicUser, error)
}

// Cookies controls the session cookies written on login and refresh.
type Cookies struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type handler struct {
	log     *slog.Logger
	auth    Auth
	cookies Cookies
}

// Register mounts the user routes under /api/v1/users.
func Register(router *mux.Router, log *slog.Logger, auth Auth, cookies Cookies) {
	h := &handler{
		log:     log,
		auth:    auth,
		cookies: cookies,
	}

	users := router.PathPrefix("/api/v1/users").Subrouter()

	users.HandleFunc("/register", h.register).Methods(http.MethodPost)
	users.HandleFunc("/login", h.login).Methods(http.MethodPost)
	users.HandleFunc("/refresh", h.refresh).Methods(http.MethodPost, http.MethodGet)

	// secured routes
	users.Handle("/logout", h.requireUser(http.HandlerFunc(h.logout))).Methods(http.MethodPost)
	users.Handle("/change-password", h.requireUser(http.HandlerFunc(h.changePassword))).Methods(http.MethodPost)
	users.Handle("/current-user", h.requireUser(http.HandlerFunc(h.currentUser))).Methods(http.MethodGet)
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	const op = "http.auth.register"
	log := h.logger(r, op)

	var in authservice.RegisterInput
	if !h.decode(w, r, log, &in) {
		return
	}

	user, err := h.auth.Register(r.Context(), in)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	response.OK(w, log, http.StatusCreated, "user created", user)
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	const op = "http.auth.login"
	log := h.logger(r, op)

	var in authservice.LoginInput
	if !h.decode(w, r, log, &in) {
		return
	}

	session, err := h.auth.Login(r.Context(), in)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	h.setSessionCookies(w, session.TokenPair)
	response.OK(w, log, http.StatusOK, "login success", session)
}

func (h *handler) refresh(w http.ResponseWriter, r *http.Request) {
	const op = "http.auth.refresh"
	log := h.logger(r, op)

	var token string
	if c, err := r.Cookie(RefreshTokenCookie); err == nil {
		token = c.Value
	}

	if token == "" && r.Body != nil {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&body)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			log.Warn("failed to decode request body", sl.Err(err))
			response.Error(w, log, http.StatusBadRequest, "malformed request body")
			return
		default:
			token = body.RefreshToken
		}
	}

	pair, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		h.fail(w, log, err)
		return
	}

	h.setSessionCookies(w, pair)
	response.OK(w, log, http.StatusOK, "tokens refreshed", pair)
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	const op = "http.auth.logout"
	log := h.logger(r, op)

	user, _ := UserFromContext(r.Context())

	if err := h.auth.Logout(r.Context(), user.ID); err != nil {
		h.fail(w, log, err)
		return
	}

	h.clearSessionCookies(w)
	response.OK(w, log, http.StatusOK, "user logged out", struct{}{})
}

func (h *handler) changePassword(w http.ResponseWriter, r *http.Request) {
	const op = "http.auth.changePassword"
	log := h.logger(r, op)

	user, _ := UserFromContext(r.Context())

	var in authservice.ChangePasswordInput
	if !h.decode(w, r, log, &in) {
		return
	}

	if err := h.auth.ChangePassword(r.Context(), user.ID, in); err != nil {
		h.fail(w, log, err)
		return
	}

	response.OK(w, log, http.StatusOK, "password changed successfully", struct{}{})
}

func (h *handler) currentUser(w http.ResponseWriter, r *http.Request) {
	const op = "http.auth.currentUser"
	log := h.logger(r, op)

	user, _ := UserFromContext(r.Context())

	response.OK(w, log, http.StatusOK, "current user fetched", user)
}

func (h *handler) logger(r *http.Request, op string) *slog.Logger {
	return h.log.With(
		slog.String("op", op),
		slog.String("request_id", middleware.RequestID(r.Context())),
	)
}

func (h *handler) decode(w http.ResponseWriter, r *http.Request, log *slog.Logger, dst any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		log.Warn("failed to decode request body", sl.Err(err))
		response.Error(w, log, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

// fail writes err as an error envelope with the status its kind maps to.
func (h *handler) fail(w http.ResponseWriter, log *slog.Logger, err error) {
	kind := authservice.KindOf(err)
	if kind == authservice.KindInternal {
		log.Error("request failed", sl.Err(err))
	}

	var fields []string
	var ve *authservice.ValidationError
	if errors.As(err, &ve) {
		fields = ve.Fields
	}

	response.Error(w, log, statusOf(kind), authservice.Message(err), fields...)
}

func statusOf(kind authservice.Kind) int {
	switch kind {
	case authservice.KindValidation:
		return http.StatusBadRequest
	case authservice.KindAuthentication:
		return http.StatusUnauthorized
	case authservice.KindNotFound:
		return http.StatusNotFound
	case authservice.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *handler) setSessionCookies(w http.ResponseWriter, pair models.TokenPair) {
	http.SetCookie(w, h.cookie(AccessTokenCookie, pair.AccessToken, h.cookies.AccessTTL))
	http.SetCookie(w, h.cookie(RefreshTokenCookie, pair.RefreshToken, h.cookies.RefreshTTL))
}

func (h *handler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(AccessTokenCookie, "", -1))
	http.SetCookie(w, h.cookie(RefreshTokenCookie, "", -1))
}

// cookie builds a session cookie. A negative ttl deletes it.
func (h *handler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	maxAge := int(ttl / time.Second)
	if ttl < 0 {
		maxAge = -1
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func bearerToken(r *http.Request) string {
	if c, err := r.Cookie(AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}

	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return ""
}
