package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/dukerupert/questboard/internal/auth"
	"github.com/dukerupert/questboard/internal/store"
)

const sessionCookieName = "questboard_session"

// RequireAuth validates the session cookie and populates AuthContext.
// Members without a house are still authenticated; handlers that need a
// house check AuthContext.HouseID themselves.
func RequireAuth(sessionStore *store.SessionStore, memberStore *store.MemberStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w)
				return
			}

			sess, err := sessionStore.GetByToken(cookie.Value)
			if err != nil || sess == nil {
				unauthorized(w)
				return
			}

			member, err := memberStore.GetByID(sess.UserID)
			if err != nil || member == nil {
				unauthorized(w)
				return
			}

			ac := auth.AuthContext{
				UserID:    member.ID,
				Role:      member.Role,
				SessionID: sess.ID,
			}
			if member.HouseID != nil {
				ac.HouseID = *member.HouseID
			}

			ctx := auth.WithAuth(r.Context(), ac)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireParent checks that the authenticated member has the parent role.
func RequireParent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !auth.IsParent(r.Context()) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "parent role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "authentication required"})
}
