package quest

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/questboard/internal/database"
	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/store"
)

type fakeUploader struct {
	mu      sync.Mutex
	uploads int
	fail    error
}

func (f *fakeUploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return "", f.fail
	}
	f.uploads++
	return "https://proofs.example/" + key, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	submitted []int64
	approved  []int64
	rejected  []int64
}

func (f *fakeNotifier) TaskSubmitted(ctx context.Context, task *model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, task.ID)
}

func (f *fakeNotifier) TaskApproved(ctx context.Context, task *model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, task.ID)
}

func (f *fakeNotifier) TaskRejected(ctx context.Context, task *model.Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, task.ID)
}

type testEnv struct {
	db       *sql.DB
	engine   *Engine
	tasks    *store.TaskStore
	members  *store.MemberStore
	uploader *fakeUploader
	notifier *fakeNotifier
	house    *model.House
	parent   Actor
	child    Actor
	childID  int64
}

func setupEngine(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	members := store.NewMemberStore(db)
	houses := store.NewHouseStore(db)
	tasks := store.NewTaskStore(db)

	pu, err := users.Create("parent@example.com", "hash")
	if err != nil {
		t.Fatalf("create parent user: %v", err)
	}
	if _, err := members.CreateForUser(pu.ID, "Parent"); err != nil {
		t.Fatalf("create parent member: %v", err)
	}
	house, err := houses.Create("Bag End", pu.ID)
	if err != nil {
		t.Fatalf("create house: %v", err)
	}
	if _, err := members.AssignHouse(pu.ID, house.ID, model.RoleParent); err != nil {
		t.Fatalf("assign parent: %v", err)
	}

	cu, err := users.Create("child@example.com", "hash")
	if err != nil {
		t.Fatalf("create child user: %v", err)
	}
	if _, err := members.CreateForUser(cu.ID, "Frodo"); err != nil {
		t.Fatalf("create child member: %v", err)
	}
	if _, err := members.AssignHouse(cu.ID, house.ID, model.RoleChild); err != nil {
		t.Fatalf("assign child: %v", err)
	}

	uploader := &fakeUploader{}
	notifier := &fakeNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return &testEnv{
		db:       db,
		engine:   NewEngine(tasks, members, uploader, notifier, logger),
		tasks:    tasks,
		members:  members,
		uploader: uploader,
		notifier: notifier,
		house:    house,
		parent:   Actor{MemberID: pu.ID, HouseID: house.ID, Role: model.RoleParent},
		child:    Actor{MemberID: cu.ID, HouseID: house.ID, Role: model.RoleChild},
		childID:  cu.ID,
	}
}

func (env *testEnv) addChild(t *testing.T, email, name string) Actor {
	t.Helper()
	u, err := store.NewUserStore(env.db).Create(email, "hash")
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	if _, err := env.members.CreateForUser(u.ID, name); err != nil {
		t.Fatalf("create member %s: %v", name, err)
	}
	if _, err := env.members.AssignHouse(u.ID, env.house.ID, model.RoleChild); err != nil {
		t.Fatalf("assign %s: %v", name, err)
	}
	return Actor{MemberID: u.ID, HouseID: env.house.ID, Role: model.RoleChild}
}

func TestCreateTask(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, err := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{
		Title:        "Vyluxovat obývák",
		RewardPoints: 10,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != model.StatusTodo {
		t.Errorf("Status = %q, want %q", task.Status, model.StatusTodo)
	}
	if task.CreatedBy != env.parent.MemberID {
		t.Errorf("CreatedBy = %d, want %d", task.CreatedBy, env.parent.MemberID)
	}
}

func TestCreateTaskChildForbidden(t *testing.T) {
	env := setupEngine(t)

	_, err := env.engine.CreateTask(context.Background(), env.child, CreateTaskInput{Title: "x", RewardPoints: 1})
	if !errors.Is(err, ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	if _, err := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "  ", RewardPoints: 5}); !errors.Is(err, ErrValidation) {
		t.Errorf("blank title: err = %v, want ErrValidation", err)
	}
	if _, err := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "x", RewardPoints: 0}); !errors.Is(err, ErrValidation) {
		t.Errorf("zero reward: err = %v, want ErrValidation", err)
	}
	if _, err := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "x", RewardPoints: -3}); !errors.Is(err, ErrValidation) {
		t.Errorf("negative reward: err = %v, want ErrValidation", err)
	}
}

func TestCreateTaskAssigneeOutsideHouse(t *testing.T) {
	env := setupEngine(t)

	outsider, err := store.NewUserStore(env.db).Create("outsider@example.com", "hash")
	if err != nil {
		t.Fatalf("create outsider: %v", err)
	}
	if _, err := env.members.CreateForUser(outsider.ID, "Outsider"); err != nil {
		t.Fatalf("create outsider member: %v", err)
	}

	_, err = env.engine.CreateTask(context.Background(), env.parent, CreateTaskInput{
		Title:        "x",
		RewardPoints: 1,
		AssignedTo:   &outsider.ID,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSubmitApproveAwardsPoints(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, err := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 10})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	submitted, err := env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != model.StatusPendingApproval {
		t.Errorf("Status = %q, want %q", submitted.Status, model.StatusPendingApproval)
	}
	if submitted.AssignedTo == nil || *submitted.AssignedTo != env.childID {
		t.Errorf("AssignedTo = %v, want %d", submitted.AssignedTo, env.childID)
	}

	approved, err := env.engine.Approve(ctx, env.parent, task.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != model.StatusDone {
		t.Errorf("Status = %q, want %q", approved.Status, model.StatusDone)
	}

	member, err := env.members.GetByID(env.childID)
	if err != nil {
		t.Fatalf("get member: %v", err)
	}
	if member.Points != 10 {
		t.Errorf("Points = %d, want 10", member.Points)
	}
	if len(env.notifier.approved) != 1 {
		t.Errorf("approved notifications = %d, want 1", len(env.notifier.approved))
	}
}

func TestSubmitRequiresProof(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5, RequiresProof: true})

	_, err := env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("submit without photo: err = %v, want ErrValidation", err)
	}

	got, _ := env.tasks.GetByID(task.ID)
	if got.Status != model.StatusTodo {
		t.Errorf("Status = %q, want unchanged todo", got.Status)
	}

	submitted, err := env.engine.SubmitCompletion(ctx, env.child, task.ID, []byte("jpeg-bytes"), "image/jpeg")
	if err != nil {
		t.Fatalf("submit with photo: %v", err)
	}
	if submitted.ProofURL == "" {
		t.Error("ProofURL is empty, want uploaded URL")
	}
	if env.uploader.uploads != 1 {
		t.Errorf("uploads = %d, want 1", env.uploader.uploads)
	}
}

func TestSubmitUploadFailure(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	env.uploader.fail = errors.New("bucket unreachable")

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5, RequiresProof: true})

	_, err := env.engine.SubmitCompletion(ctx, env.child, task.ID, []byte("jpeg-bytes"), "image/jpeg")
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}

	// Status must not have moved when the upload failed.
	got, _ := env.tasks.GetByID(task.ID)
	if got.Status != model.StatusTodo {
		t.Errorf("Status = %q, want todo", got.Status)
	}
}

func TestSubmitConflictLoser(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()
	sam := env.addChild(t, "sam@example.com", "Sam")

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})

	if _, err := env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, ""); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	_, err := env.engine.SubmitCompletion(ctx, sam, task.ID, nil, "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second submit: err = %v, want ErrConflict", err)
	}
}

func TestSubmitConcurrentExactlyOneWins(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})

	const racers = 6
	actors := make([]Actor, racers)
	for i := range actors {
		actors[i] = env.addChild(t, "racer"+string(rune('a'+i))+"@example.com", "Racer")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var successes, conflicts int
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(actor Actor) {
			defer wg.Done()
			_, err := env.engine.SubmitCompletion(ctx, actor, task.ID, nil, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(actors[i])
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if conflicts != racers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, racers-1)
	}
}

func TestApproveTwiceConflicts(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 10})
	env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")

	if _, err := env.engine.Approve(ctx, env.parent, task.ID); err != nil {
		t.Fatalf("first approve: %v", err)
	}
	_, err := env.engine.Approve(ctx, env.parent, task.ID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("second approve: err = %v, want ErrConflict", err)
	}

	// The award happened exactly once.
	member, _ := env.members.GetByID(env.childID)
	if member.Points != 10 {
		t.Errorf("Points = %d, want 10", member.Points)
	}
}

func TestApproveChildForbidden(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})
	env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")

	_, err := env.engine.Approve(ctx, env.child, task.ID)
	if !errors.Is(err, ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}

func TestApproveTodoTaskConflicts(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})

	_, err := env.engine.Approve(ctx, env.parent, task.ID)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("err = %v, want ErrConflict", err)
	}
}

func TestRejectAndResubmit(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})
	env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")

	rejected, err := env.engine.Reject(ctx, env.parent, task.ID, "still dirty")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.Status != model.StatusTodo {
		t.Errorf("Status = %q, want %q", rejected.Status, model.StatusTodo)
	}
	if rejected.RejectionReason != "still dirty" {
		t.Errorf("RejectionReason = %q", rejected.RejectionReason)
	}
	if rejected.AssignedTo == nil || *rejected.AssignedTo != env.childID {
		t.Errorf("AssignedTo = %v, want kept", rejected.AssignedTo)
	}
	if len(env.notifier.rejected) != 1 {
		t.Errorf("rejected notifications = %d, want 1", len(env.notifier.rejected))
	}

	// No points on reject.
	member, _ := env.members.GetByID(env.childID)
	if member.Points != 0 {
		t.Errorf("Points = %d, want 0", member.Points)
	}

	resubmitted, err := env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if resubmitted.RejectionReason != "" {
		t.Errorf("RejectionReason = %q, want cleared", resubmitted.RejectionReason)
	}
}

func TestExtendDeadline(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})

	updated, err := env.engine.ExtendDeadline(ctx, env.parent, task.ID, "2026-09-15T18:00:00Z")
	if err != nil {
		t.Fatalf("extend deadline: %v", err)
	}
	want := time.Date(2026, 9, 15, 18, 0, 0, 0, time.UTC)
	if updated.Deadline == nil || !updated.Deadline.Equal(want) {
		t.Errorf("Deadline = %v, want %v", updated.Deadline, want)
	}
}

func TestExtendDeadlineInvalidValue(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	deadline := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5, Deadline: &deadline})

	_, err := env.engine.ExtendDeadline(ctx, env.parent, task.ID, "not-a-date")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}

	got, _ := env.tasks.GetByID(task.ID)
	if got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Errorf("Deadline = %v, want unchanged %v", got.Deadline, deadline)
	}
}

func TestDeleteTask(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})

	if err := env.engine.Delete(ctx, env.parent, task.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := env.engine.Get(ctx, env.parent, task.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete: err = %v, want ErrNotFound", err)
	}

	_, err = env.engine.SubmitCompletion(ctx, env.child, task.ID, nil, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("submit after delete: err = %v, want ErrNotFound", err)
	}
}

func TestHouseScoping(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	task, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})

	// A parent from another house sees NotFound, not Permission.
	stranger := Actor{MemberID: 999, HouseID: env.house.ID + 1, Role: model.RoleParent}
	if _, err := env.engine.Get(ctx, stranger, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get: err = %v, want ErrNotFound", err)
	}
	if _, err := env.engine.Approve(ctx, stranger, task.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("approve: err = %v, want ErrNotFound", err)
	}
}

func TestSubmitNotifiesWhenEnabled(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	quiet, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "quiet", RewardPoints: 5})
	loud, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "loud", RewardPoints: 5, NotifyAllParents: true})

	env.engine.SubmitCompletion(ctx, env.child, quiet.ID, nil, "")
	env.engine.SubmitCompletion(ctx, env.child, loud.ID, nil, "")

	if len(env.notifier.submitted) != 1 || env.notifier.submitted[0] != loud.ID {
		t.Errorf("submitted notifications = %v, want [%d]", env.notifier.submitted, loud.ID)
	}
}

func TestListFilters(t *testing.T) {
	env := setupEngine(t)
	ctx := context.Background()

	claimed, _ := env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Dishes", RewardPoints: 5})
	env.engine.CreateTask(ctx, env.parent, CreateTaskInput{Title: "Laundry", RewardPoints: 5})
	if _, err := env.engine.SubmitCompletion(ctx, env.child, claimed.ID, nil, ""); err != nil {
		t.Fatalf("submit: %v", err)
	}

	all, err := env.engine.List(ctx, env.parent, store.TaskFilter{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len(all) = %d, want 2", len(all))
	}

	pending, err := env.engine.List(ctx, env.parent, store.TaskFilter{Status: model.StatusPendingApproval})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Title != "Dishes" {
		t.Errorf("pending = %+v, want only Dishes", pending)
	}

	mine, err := env.engine.List(ctx, env.child, store.TaskFilter{AssigneeID: env.childID})
	if err != nil {
		t.Fatalf("list mine: %v", err)
	}
	if len(mine) != 1 || mine[0].Title != "Dishes" {
		t.Errorf("mine = %+v, want only Dishes", mine)
	}

	if _, err := env.engine.List(ctx, env.parent, store.TaskFilter{Status: "bogus"}); !errors.Is(err, ErrValidation) {
		t.Errorf("bogus status: err = %v, want ErrValidation", err)
	}
}
