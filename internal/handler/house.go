package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dukerupert/questboard/internal/auth"
	"github.com/dukerupert/questboard/internal/household"
	"github.com/dukerupert/questboard/internal/invite"
	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/quest"
)

type HouseHandler struct {
	households *household.Service
	invites    *invite.Manager
	logger     *slog.Logger
}

func NewHouseHandler(hs *household.Service, im *invite.Manager, logger *slog.Logger) *HouseHandler {
	return &HouseHandler{households: hs, invites: im, logger: logger.With("component", "house")}
}

func (h *HouseHandler) Create(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())
	if ac.HouseID != 0 {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "already a member of a house"})
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	house, err := h.households.CreateHouse(r.Context(), ac.UserID, req.Name)
	if err != nil {
		h.writeServiceError(w, err, "create house")
		return
	}
	writeJSON(w, http.StatusCreated, house)
}

func (h *HouseHandler) Get(w http.ResponseWriter, r *http.Request) {
	houseID := auth.HouseID(r.Context())
	if houseID == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not a member of a house"})
		return
	}

	house, err := h.households.GetHouse(r.Context(), houseID)
	if err != nil {
		h.writeServiceError(w, err, "get house")
		return
	}
	writeJSON(w, http.StatusOK, house)
}

func (h *HouseHandler) Rename(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	house, err := h.households.RenameHouse(r.Context(), actorFromContext(r), req.Name)
	if err != nil {
		h.writeServiceError(w, err, "rename house")
		return
	}
	writeJSON(w, http.StatusOK, house)
}

func (h *HouseHandler) Members(w http.ResponseWriter, r *http.Request) {
	houseID := auth.HouseID(r.Context())
	if houseID == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not a member of a house"})
		return
	}

	members, err := h.households.ListMembers(r.Context(), houseID)
	if err != nil {
		h.writeServiceError(w, err, "list members")
		return
	}
	if members == nil {
		members = []model.Member{}
	}
	writeJSON(w, http.StatusOK, members)
}

// CreateInvite issues a signed join link for the caller's house. Parent only,
// enforced by the router.
func (h *HouseHandler) CreateInvite(w http.ResponseWriter, r *http.Request) {
	houseID := auth.HouseID(r.Context())
	if houseID == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not a member of a house"})
		return
	}

	var req struct {
		Role model.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if !req.Role.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "role must be parent or child"})
		return
	}

	token, err := h.invites.Generate(houseID, req.Role)
	if err != nil {
		h.logger.Error("generate invite", "error", err, "house_id", houseID)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"token":    token,
		"join_url": h.invites.JoinURL(token),
	})
}

// Join adds the authenticated member to the house named in an invite token.
func (h *HouseHandler) Join(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	claims, err := h.invites.Parse(req.Token)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid invite token"})
		return
	}

	if err := h.households.ResolvePendingInvite(r.Context(), ac.UserID, claims.HouseID, claims.Role); err != nil {
		h.writeServiceError(w, err, "join house")
		return
	}

	house, err := h.households.GetHouse(r.Context(), claims.HouseID)
	if err != nil {
		h.writeServiceError(w, err, "get joined house")
		return
	}
	writeJSON(w, http.StatusOK, house)
}

func (h *HouseHandler) writeServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, quest.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrPermission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		h.logger.Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
