package quest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/questboard/internal/metrics"
	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/store"
)

// Uploader stores a photo proof and returns its retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Notifier receives lifecycle events for best-effort delivery to members.
// Implementations must not block the calling operation on delivery.
type Notifier interface {
	TaskSubmitted(ctx context.Context, task *model.Task)
	TaskApproved(ctx context.Context, task *model.Task)
	TaskRejected(ctx context.Context, task *model.Task)
}

// Engine owns the task state machine. Status never changes outside its
// operations: every transition is a conditional write keyed on the expected
// prior status, and the point award is a server-side increment.
type Engine struct {
	tasks    *store.TaskStore
	members  *store.MemberStore
	proofs   Uploader
	notifier Notifier
	logger   *slog.Logger
}

func NewEngine(tasks *store.TaskStore, members *store.MemberStore, proofs Uploader, notifier Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		tasks:    tasks,
		members:  members,
		proofs:   proofs,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateTaskInput holds the creation-time fields of a task.
type CreateTaskInput struct {
	Title            string
	Description      string
	RewardPoints     int
	PunishmentDesc   string
	Deadline         *time.Time
	RequiresProof    bool
	NotifyAllParents bool
	AssignedTo       *int64
}

// CreateTask creates a task in status todo. Parent only.
func (e *Engine) CreateTask(ctx context.Context, actor Actor, in CreateTaskInput) (*model.Task, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents can create tasks", ErrPermission)
	}

	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.RewardPoints <= 0 {
		return nil, fmt.Errorf("%w: reward points must be positive", ErrValidation)
	}

	if in.AssignedTo != nil {
		assignee, err := e.members.GetByID(*in.AssignedTo)
		if err != nil {
			return nil, fmt.Errorf("check assignee: %w", err)
		}
		if assignee == nil || assignee.HouseID == nil || *assignee.HouseID != actor.HouseID {
			return nil, fmt.Errorf("%w: assignee is not a member of this house", ErrNotFound)
		}
	}

	task, err := e.tasks.Create(store.TaskParams{
		HouseID:          actor.HouseID,
		Title:            in.Title,
		Description:      in.Description,
		RewardPoints:     in.RewardPoints,
		PunishmentDesc:   in.PunishmentDesc,
		Deadline:         in.Deadline,
		RequiresProof:    in.RequiresProof,
		NotifyAllParents: in.NotifyAllParents,
		AssignedTo:       in.AssignedTo,
		CreatedBy:        actor.MemberID,
	})
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	metrics.TaskTransitions.WithLabelValues("create").Inc()
	e.logger.Info("task created", "task_id", task.ID, "house_id", task.HouseID, "reward", task.RewardPoints)
	return task, nil
}

// SubmitCompletion moves a todo task to pending_approval, claiming it for the
// submitting member. If the task requires proof, photo bytes must be supplied
// and the upload must succeed before the status write is attempted. The write
// itself is conditional on the status still being todo; a losing racer gets
// ErrConflict.
func (e *Engine) SubmitCompletion(ctx context.Context, actor Actor, taskID int64, photo []byte, photoContentType string) (*model.Task, error) {
	task, err := e.getHouseTask(actor, taskID)
	if err != nil {
		return nil, err
	}

	if task.Status != model.StatusTodo {
		return nil, fmt.Errorf("%w: task is not open for completion", ErrConflict)
	}
	if task.RequiresProof && len(photo) == 0 {
		return nil, fmt.Errorf("%w: this task requires a photo proof", ErrValidation)
	}

	var proofURL string
	if len(photo) > 0 {
		key := proofKey(taskID, photoContentType)
		proofURL, err = e.proofs.Upload(ctx, key, photo, photoContentType)
		if err != nil {
			return nil, fmt.Errorf("%w: upload photo proof: %v", ErrStorage, err)
		}
	}

	updated, err := e.tasks.SubmitCompletion(taskID, actor.MemberID, proofURL)
	if err != nil {
		return nil, fmt.Errorf("submit completion: %w", err)
	}
	if updated == nil {
		// Zero rows matched: the task vanished or a racer got there first.
		// The upload, if any, stays orphaned in object storage.
		if proofURL != "" {
			e.logger.Warn("proof uploaded for lost submission", "task_id", taskID, "proof_url", proofURL)
		}
		current, err := e.tasks.GetByID(taskID)
		if err != nil {
			return nil, fmt.Errorf("recheck task: %w", err)
		}
		if current == nil {
			return nil, fmt.Errorf("%w: task no longer exists", ErrNotFound)
		}
		return nil, fmt.Errorf("%w: someone else already claimed this task", ErrConflict)
	}

	metrics.TaskTransitions.WithLabelValues("submit").Inc()
	e.logger.Info("completion submitted", "task_id", taskID, "member_id", actor.MemberID, "proof", proofURL != "")

	if updated.NotifyAllParents {
		e.notifier.TaskSubmitted(ctx, updated)
	}
	return updated, nil
}

// Approve moves a pending_approval task to done and awards the reward points
// to the assignee. Parent only. The award is a single atomic increment on the
// member row; concurrent approvals of different tasks for the same member
// cannot lose an update, and a second approval of the same task loses the
// status CAS before any award happens.
func (e *Engine) Approve(ctx context.Context, actor Actor, taskID int64) (*model.Task, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents can approve tasks", ErrPermission)
	}

	if _, err := e.getHouseTask(actor, taskID); err != nil {
		return nil, err
	}

	updated, err := e.tasks.Approve(taskID)
	if err != nil {
		return nil, fmt.Errorf("approve task: %w", err)
	}
	if updated == nil {
		return nil, e.conflictOrGone(taskID, "task is not awaiting approval")
	}

	metrics.TaskTransitions.WithLabelValues("approve").Inc()

	if updated.AssignedTo != nil {
		member, err := e.members.AddPoints(*updated.AssignedTo, updated.RewardPoints)
		if err != nil {
			return nil, fmt.Errorf("award points: %w", err)
		}
		if member == nil {
			return nil, fmt.Errorf("%w: assignee no longer exists, points not awarded", ErrNotFound)
		}
		metrics.PointsAwarded.Add(float64(updated.RewardPoints))
		e.logger.Info("points awarded", "task_id", taskID, "member_id", member.ID, "points", updated.RewardPoints, "balance", member.Points)
	}

	e.notifier.TaskApproved(ctx, updated)
	return updated, nil
}

// Reject moves a pending_approval task back to todo with a reason. An empty
// reason is allowed and treated as "no reason given". The assignee keeps the
// claim.
func (e *Engine) Reject(ctx context.Context, actor Actor, taskID int64, reason string) (*model.Task, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents can reject tasks", ErrPermission)
	}

	if _, err := e.getHouseTask(actor, taskID); err != nil {
		return nil, err
	}

	updated, err := e.tasks.Reject(taskID, reason)
	if err != nil {
		return nil, fmt.Errorf("reject task: %w", err)
	}
	if updated == nil {
		return nil, e.conflictOrGone(taskID, "task is not awaiting approval")
	}

	metrics.TaskTransitions.WithLabelValues("reject").Inc()
	e.logger.Info("task rejected", "task_id", taskID, "reason", reason)

	e.notifier.TaskRejected(ctx, updated)
	return updated, nil
}

// Deadline layouts accepted by ExtendDeadline. RFC 3339 is the API contract;
// the second form is what an HTML datetime-local control submits.
var deadlineLayouts = []string{time.RFC3339, "2006-01-02T15:04"}

// ExtendDeadline sets a new deadline on a task in any status. Parent only.
// An unparseable value fails validation and leaves the task untouched.
func (e *Engine) ExtendDeadline(ctx context.Context, actor Actor, taskID int64, raw string) (*model.Task, error) {
	if !actor.isParent() {
		return nil, fmt.Errorf("%w: only parents can change deadlines", ErrPermission)
	}

	var deadline time.Time
	var parseErr error
	parsed := false
	for _, layout := range deadlineLayouts {
		deadline, parseErr = time.Parse(layout, strings.TrimSpace(raw))
		if parseErr == nil {
			parsed = true
			break
		}
	}
	if !parsed {
		return nil, fmt.Errorf("%w: %q is not a valid deadline", ErrValidation, raw)
	}

	if _, err := e.getHouseTask(actor, taskID); err != nil {
		return nil, err
	}

	updated, err := e.tasks.UpdateDeadline(taskID, deadline)
	if err != nil {
		return nil, fmt.Errorf("extend deadline: %w", err)
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: task no longer exists", ErrNotFound)
	}

	metrics.TaskTransitions.WithLabelValues("extend_deadline").Inc()
	return updated, nil
}

// Delete removes a task in any status. Parent only. Irreversible, no point
// side effects.
func (e *Engine) Delete(ctx context.Context, actor Actor, taskID int64) error {
	if !actor.isParent() {
		return fmt.Errorf("%w: only parents can delete tasks", ErrPermission)
	}

	if _, err := e.getHouseTask(actor, taskID); err != nil {
		return err
	}

	deleted, err := e.tasks.Delete(taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if !deleted {
		return fmt.Errorf("%w: task no longer exists", ErrNotFound)
	}

	metrics.TaskTransitions.WithLabelValues("delete").Inc()
	e.logger.Info("task deleted", "task_id", taskID)
	return nil
}

// List returns the actor's house's tasks with assignee names, deadline order.
// A non-empty filter status must be a known lifecycle state.
func (e *Engine) List(ctx context.Context, actor Actor, filter store.TaskFilter) ([]model.TaskWithAssignee, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	tasks, err := e.tasks.ListWithAssignees(actor.HouseID, filter)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// Get returns a single task scoped to the actor's house.
func (e *Engine) Get(ctx context.Context, actor Actor, taskID int64) (*model.Task, error) {
	return e.getHouseTask(actor, taskID)
}

// getHouseTask loads a task and enforces house-scoped visibility: a task in
// another house is indistinguishable from a missing one.
func (e *Engine) getHouseTask(actor Actor, taskID int64) (*model.Task, error) {
	task, err := e.tasks.GetByID(taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil || task.HouseID != actor.HouseID {
		return nil, fmt.Errorf("%w: task %d", ErrNotFound, taskID)
	}
	return task, nil
}

func (e *Engine) conflictOrGone(taskID int64, msg string) error {
	current, err := e.tasks.GetByID(taskID)
	if err != nil {
		return fmt.Errorf("recheck task: %w", err)
	}
	if current == nil {
		return fmt.Errorf("%w: task no longer exists", ErrNotFound)
	}
	return fmt.Errorf("%w: %s", ErrConflict, msg)
}

func proofKey(taskID int64, contentType string) string {
	ext := ".jpg"
	switch contentType {
	case "image/png":
		ext = ".png"
	case "image/webp":
		ext = ".webp"
	}
	return path.Join("proofs", fmt.Sprintf("%d", taskID), uuid.NewString()+ext)
}
