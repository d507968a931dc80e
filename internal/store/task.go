package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/questboard/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var deadline sql.NullTime
	var assignedTo sql.NullInt64
	var requiresProof, notifyParents int

	err := scanner.Scan(
		&t.ID, &t.HouseID, &t.Title, &t.Description, &t.RewardPoints,
		&t.PunishmentDesc, &deadline, &requiresProof, &notifyParents,
		&assignedTo, &t.CreatedBy, &t.Status, &t.ProofURL, &t.RejectionReason,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if deadline.Valid {
		d := deadline.Time
		t.Deadline = &d
	}
	if assignedTo.Valid {
		t.AssignedTo = &assignedTo.Int64
	}
	t.RequiresProof = requiresProof != 0
	t.NotifyAllParents = notifyParents != 0
	return &t, nil
}

const taskCols = `id, house_id, title, description, reward_points, punishment_desc, deadline, requires_proof, notify_all_parents, assigned_to, created_by, status, proof_url, rejection_reason, created_at, updated_at`

// TaskParams holds the creation-time fields of a task.
type TaskParams struct {
	HouseID          int64
	Title            string
	Description      string
	RewardPoints     int
	PunishmentDesc   string
	Deadline         *time.Time
	RequiresProof    bool
	NotifyAllParents bool
	AssignedTo       *int64
	CreatedBy        int64
}

func (s *TaskStore) Create(p TaskParams) (*model.Task, error) {
	var deadline sql.NullTime
	if p.Deadline != nil {
		deadline = sql.NullTime{Time: p.Deadline.UTC(), Valid: true}
	}
	var assignedTo sql.NullInt64
	if p.AssignedTo != nil {
		assignedTo = sql.NullInt64{Int64: *p.AssignedTo, Valid: true}
	}
	var requiresProof, notifyParents int
	if p.RequiresProof {
		requiresProof = 1
	}
	if p.NotifyAllParents {
		notifyParents = 1
	}

	result, err := s.db.Exec(
		`INSERT INTO tasks (house_id, title, description, reward_points, punishment_desc, deadline, requires_proof, notify_all_parents, assigned_to, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.HouseID, p.Title, p.Description, p.RewardPoints, p.PunishmentDesc,
		deadline, requiresProof, notifyParents, assignedTo, p.CreatedBy,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TaskFilter narrows a task listing. Zero values mean no filter.
type TaskFilter struct {
	Status     model.TaskStatus
	AssigneeID int64
}

// ListWithAssignees returns the house's tasks joined with assignee names for
// dashboard rendering, optionally narrowed by status or assignee.
func (s *TaskStore) ListWithAssignees(houseID int64, f TaskFilter) ([]model.TaskWithAssignee, error) {
	query := `SELECT ` + taskColsPrefixed + `, COALESCE(m.full_name, '')
		 FROM tasks t LEFT JOIN members m ON t.assigned_to = m.id
		 WHERE t.house_id = ?`
	args := []any{houseID}
	if f.Status != "" {
		query += ` AND t.status = ?`
		args = append(args, f.Status)
	}
	if f.AssigneeID != 0 {
		query += ` AND t.assigned_to = ?`
		args = append(args, f.AssigneeID)
	}
	query += ` ORDER BY t.deadline IS NULL, t.deadline ASC, t.id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks with assignees: %w", err)
	}
	defer rows.Close()

	var tasks []model.TaskWithAssignee
	for rows.Next() {
		var tw model.TaskWithAssignee
		var deadline sql.NullTime
		var assignedTo sql.NullInt64
		var requiresProof, notifyParents int

		err := rows.Scan(
			&tw.ID, &tw.HouseID, &tw.Title, &tw.Description, &tw.RewardPoints,
			&tw.PunishmentDesc, &deadline, &requiresProof, &notifyParents,
			&assignedTo, &tw.CreatedBy, &tw.Status, &tw.ProofURL, &tw.RejectionReason,
			&tw.CreatedAt, &tw.UpdatedAt, &tw.AssigneeName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan task with assignee: %w", err)
		}
		if deadline.Valid {
			d := deadline.Time
			tw.Deadline = &d
		}
		if assignedTo.Valid {
			tw.AssignedTo = &assignedTo.Int64
		}
		tw.RequiresProof = requiresProof != 0
		tw.NotifyAllParents = notifyParents != 0
		tasks = append(tasks, tw)
	}
	return tasks, rows.Err()
}

const taskColsPrefixed = `t.id, t.house_id, t.title, t.description, t.reward_points, t.punishment_desc, t.deadline, t.requires_proof, t.notify_all_parents, t.assigned_to, t.created_by, t.status, t.proof_url, t.rejection_reason, t.created_at, t.updated_at`

// SubmitCompletion is the claim-on-submit conditional write: the transition
// to pending_approval succeeds only if the row's status is still 'todo' at
// write time. The store is the sole arbiter of which concurrent submitter
// wins. Returns (nil, nil) if no row matched, either because the id does not
// exist or because a racer already moved the task out of 'todo'; the caller
// disambiguates.
func (s *TaskStore) SubmitCompletion(id, memberID int64, proofURL string) (*model.Task, error) {
	result, err := s.db.Exec(
		`UPDATE tasks
		 SET status = 'pending_approval', assigned_to = ?, proof_url = ?, rejection_reason = '', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'todo'`,
		memberID, proofURL, id,
	)
	if err != nil {
		return nil, fmt.Errorf("submit completion: %w", err)
	}
	return s.afterConditionalUpdate(result, id)
}

// Approve moves a task from pending_approval to done. Conditional on the
// prior status, so a second concurrent approval affects zero rows.
func (s *TaskStore) Approve(id int64) (*model.Task, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET status = 'done', updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending_approval'`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("approve task: %w", err)
	}
	return s.afterConditionalUpdate(result, id)
}

// Reject moves a task from pending_approval back to todo, recording the
// reason and keeping the assignee.
func (s *TaskStore) Reject(id int64, reason string) (*model.Task, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET status = 'todo', rejection_reason = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = 'pending_approval'`,
		reason, id,
	)
	if err != nil {
		return nil, fmt.Errorf("reject task: %w", err)
	}
	return s.afterConditionalUpdate(result, id)
}

func (s *TaskStore) afterConditionalUpdate(result sql.Result, id int64) (*model.Task, error) {
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}

func (s *TaskStore) UpdateDeadline(id int64, deadline time.Time) (*model.Task, error) {
	_, err := s.db.Exec(
		`UPDATE tasks SET deadline = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		deadline.UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update deadline: %w", err)
	}
	return s.GetByID(id)
}

// Delete removes the task row. Returns false if no row matched.
func (s *TaskStore) Delete(id int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows > 0, nil
}

// MarkFailedPastDeadline flips todo tasks whose deadline has passed to
// failed. Used by the sweeper; the status guard keeps it from touching
// submissions that landed in the meantime.
func (s *TaskStore) MarkFailedPastDeadline(now time.Time) (int64, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET status = 'failed', updated_at = CURRENT_TIMESTAMP
		 WHERE status = 'todo' AND deadline IS NOT NULL AND deadline < ?`,
		now.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("mark failed past deadline: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rows, nil
}
