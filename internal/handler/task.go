package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukerupert/questboard/internal/auth"
	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/quest"
	"github.com/dukerupert/questboard/internal/store"
)

// maxProofSize caps proof photo uploads at 10 MiB.
const maxProofSize = 10 << 20

type TaskHandler struct {
	engine *quest.Engine
	logger *slog.Logger
}

func NewTaskHandler(engine *quest.Engine, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{engine: engine, logger: logger.With("component", "task")}
}

type taskRequest struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	RewardPoints     int    `json:"reward_points"`
	PunishmentDesc   string `json:"punishment_desc"`
	Deadline         string `json:"deadline"`
	RequiresProof    bool   `json:"requires_proof"`
	NotifyAllParents bool   `json:"notify_all_parents"`
	AssignedTo       *int64 `json:"assigned_to"`
}

func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	var deadline *time.Time
	if req.Deadline != "" {
		t, err := parseDeadline(req.Deadline)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid deadline"})
			return
		}
		deadline = &t
	}

	task, err := h.engine.CreateTask(r.Context(), actorFromContext(r), quest.CreateTaskInput{
		Title:            req.Title,
		Description:      req.Description,
		RewardPoints:     req.RewardPoints,
		PunishmentDesc:   req.PunishmentDesc,
		Deadline:         deadline,
		RequiresProof:    req.RequiresProof,
		NotifyAllParents: req.NotifyAllParents,
		AssignedTo:       req.AssignedTo,
	})
	if err != nil {
		h.writeEngineError(w, err, "create task")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// List supports ?status= and ?assignee= (a member id, or "me") filters.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r)

	var filter store.TaskFilter
	filter.Status = model.TaskStatus(r.URL.Query().Get("status"))
	switch assignee := r.URL.Query().Get("assignee"); assignee {
	case "":
	case "me":
		filter.AssigneeID = actor.MemberID
	default:
		id, err := strconv.ParseInt(assignee, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid assignee"})
			return
		}
		filter.AssigneeID = id
	}

	tasks, err := h.engine.List(r.Context(), actor, filter)
	if err != nil {
		h.writeEngineError(w, err, "list tasks")
		return
	}
	if tasks == nil {
		tasks = []model.TaskWithAssignee{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	task, err := h.engine.Get(r.Context(), actorFromContext(r), id)
	if err != nil {
		h.writeEngineError(w, err, "get task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Submit accepts an optional multipart proof photo under the "photo" field.
// A bare POST without a body is a submission without proof.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var photo []byte
	var contentType string
	if err := r.ParseMultipartForm(maxProofSize); err == nil {
		file, header, err := r.FormFile("photo")
		if err == nil {
			defer file.Close()
			photo, err = io.ReadAll(io.LimitReader(file, maxProofSize))
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read photo"})
				return
			}
			contentType = header.Header.Get("Content-Type")
		}
	}

	task, err := h.engine.SubmitCompletion(r.Context(), actorFromContext(r), id, photo, contentType)
	if err != nil {
		h.writeEngineError(w, err, "submit task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	task, err := h.engine.Approve(r.Context(), actorFromContext(r), id)
	if err != nil {
		h.writeEngineError(w, err, "approve task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	task, err := h.engine.Reject(r.Context(), actorFromContext(r), id, req.Reason)
	if err != nil {
		h.writeEngineError(w, err, "reject task")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) ExtendDeadline(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	var req struct {
		Deadline string `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	task, err := h.engine.ExtendDeadline(r.Context(), actorFromContext(r), id, req.Deadline)
	if err != nil {
		h.writeEngineError(w, err, "extend deadline")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return
	}

	if err := h.engine.Delete(r.Context(), actorFromContext(r), id); err != nil {
		h.writeEngineError(w, err, "delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeEngineError maps the engine's error kinds onto HTTP statuses.
func (h *TaskHandler) writeEngineError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, quest.ErrValidation):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrPermission):
		writeJSON(w, http.StatusForbidden, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, quest.ErrStorage):
		h.logger.Error(op, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "storage unavailable"})
	default:
		h.logger.Error(op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func actorFromContext(r *http.Request) quest.Actor {
	ac, _ := auth.FromContext(r.Context())
	return quest.Actor{
		MemberID: ac.UserID,
		HouseID:  ac.HouseID,
		Role:     ac.Role,
	}
}

func parseIDParam(r *http.Request) (int64, error) {
	idStr := r.PathValue("id")
	return strconv.ParseInt(idStr, 10, 64)
}

func parseDeadline(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04", raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
