package auth

import (
	"net/http"
	"strings"

	"github.com/odyssey-erp/taskdesk/internal/platform/httpx"
	"github.com/odyssey-erp/taskdesk/internal/shared"
)

// LoginPath is where RequireSession sends anonymous visitors.
const LoginPath = "/auth/login"

// RequireToken authenticates API requests by their bearer token.
func RequireToken(tokens *TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "No token")
				return
			}
			claims, err := tokens.Parse(raw)
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), claims.ID)))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// RequireSession lets signed-in sessions through and redirects everyone else
// to the login page.
func RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}
		id, ok := sess.UserID()
		if !ok {
			sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: "Please sign in first"})
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithUserID(r.Context(), id)))
	})
}
