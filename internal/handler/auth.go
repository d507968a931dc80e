package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/questboard/internal/auth"
	"github.com/dukerupert/questboard/internal/household"
	"github.com/dukerupert/questboard/internal/invite"
	"github.com/dukerupert/questboard/internal/store"
)

const sessionCookieName = "questboard_session"

type AuthHandler struct {
	users      *store.UserStore
	members    *store.MemberStore
	sessions   *store.SessionStore
	households *household.Service
	invites    *invite.Manager
	logger     *slog.Logger
}

func NewAuthHandler(us *store.UserStore, ms *store.MemberStore, ss *store.SessionStore, hs *household.Service, im *invite.Manager, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		users:      us,
		members:    ms,
		sessions:   ss,
		households: hs,
		invites:    im,
		logger:     logger.With("component", "auth"),
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	InviteToken string `json:"invite_token"`
}

// Register creates a user account plus its member row and opens a session.
// If an invite token is supplied, the new member joins that house right away.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.FullName = strings.TrimSpace(req.FullName)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid email address"})
		return
	}
	if len(req.Password) < 8 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "password must be at least 8 characters"})
		return
	}
	if req.FullName == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "full_name is required"})
		return
	}

	existing, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("register user lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if existing != nil {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.logger.Error("hash password", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	user, err := h.users.Create(req.Email, string(hash))
	if err != nil {
		h.logger.Error("create user", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if _, err := h.members.CreateForUser(user.ID, req.FullName); err != nil {
		h.logger.Error("create member", "error", err, "user_id", user.ID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	if req.InviteToken != "" {
		claims, err := h.invites.Parse(req.InviteToken)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invite token"})
			return
		}
		if err := h.households.ResolvePendingInvite(r.Context(), user.ID, claims.HouseID, claims.Role); err != nil {
			h.logger.Error("resolve invite on register", "error", err, "user_id", user.ID)
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not join house"})
			return
		}
	}

	h.openSession(w, r, user.ID, http.StatusCreated)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	user, err := h.users.GetByEmail(req.Email)
	if err != nil {
		h.logger.Error("login user lookup", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if user == nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid email or password"})
		return
	}

	h.openSession(w, r, user.ID, http.StatusOK)
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if ac, ok := auth.FromContext(r.Context()); ok {
		if err := h.sessions.Delete(ac.SessionID); err != nil {
			h.logger.Error("delete session", "error", err, "session_id", ac.SessionID)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated member.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ac, ok := auth.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}

	member, err := h.members.GetByID(ac.UserID)
	if err != nil || member == nil {
		h.logger.Error("me member lookup", "error", err, "user_id", ac.UserID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *AuthHandler) openSession(w http.ResponseWriter, r *http.Request, userID int64, status int) {
	sess, err := h.sessions.Create(userID)
	if err != nil {
		h.logger.Error("create session", "error", err, "user_id", userID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sess.Token,
		Path:     "/",
		MaxAge:   90 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})

	member, err := h.members.GetByID(userID)
	if err != nil || member == nil {
		h.logger.Error("session member lookup", "error", err, "user_id", userID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, member)
}
