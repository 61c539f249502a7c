package auth

import (
	"context"
	"net/http"

	"authd/internal/domain/models"
)

type userKey struct{}

// UserFromContext returns the user attached by requireUser.
func UserFromContext(ctx context.Context) (models.PublicUser, bool) {
	user, ok := ctx.Value(userKey{}).(models.PublicUser)
	return user, ok
}

// requireUser rejects requests without a valid access token, taken from the
// accessToken cookie or an Authorization: Bearer header.
func (h *handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "http.auth.requireUser"
		log := h.logger(r, op)

		user, err := h.auth.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			h.fail(w, log, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, user)))
	})
}
