package household

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dukerupert/questboard/internal/database"
	"github.com/dukerupert/questboard/internal/model"
	"github.com/dukerupert/questboard/internal/quest"
	"github.com/dukerupert/questboard/internal/store"
)

func setupService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(store.NewHouseStore(db), store.NewMemberStore(db), logger), db
}

func newMember(t *testing.T, db *sql.DB, email, name string) *model.Member {
	t.Helper()
	u, err := store.NewUserStore(db).Create(email, "hash")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	m, err := store.NewMemberStore(db).CreateForUser(u.ID, name)
	if err != nil {
		t.Fatalf("create member: %v", err)
	}
	return m
}

func TestCreateHouseAssignsFounderAsParent(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")

	house, err := svc.CreateHouse(ctx, founder.ID, "  Bag End  ")
	if err != nil {
		t.Fatalf("create house: %v", err)
	}
	if house.Name != "Bag End" {
		t.Errorf("Name = %q, want trimmed %q", house.Name, "Bag End")
	}
	if house.OwnerID != founder.ID {
		t.Errorf("OwnerID = %d, want %d", house.OwnerID, founder.ID)
	}

	m, err := store.NewMemberStore(db).GetByID(founder.ID)
	if err != nil {
		t.Fatalf("get founder: %v", err)
	}
	if m.HouseID == nil || *m.HouseID != house.ID {
		t.Errorf("founder HouseID = %v, want %d", m.HouseID, house.ID)
	}
	if m.Role != model.RoleParent {
		t.Errorf("founder Role = %q, want %q", m.Role, model.RoleParent)
	}
}

func TestCreateHouseEmptyName(t *testing.T) {
	svc, db := setupService(t)
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")

	_, err := svc.CreateHouse(context.Background(), founder.ID, "   ")
	if !errors.Is(err, quest.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestCreateHouseMissingFounder(t *testing.T) {
	svc, _ := setupService(t)

	_, err := svc.CreateHouse(context.Background(), 9999, "Bag End")
	if !errors.Is(err, quest.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRenameHouse(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")
	house, _ := svc.CreateHouse(ctx, founder.ID, "Bag End")

	actor := quest.Actor{MemberID: founder.ID, HouseID: house.ID, Role: model.RoleParent}
	got, err := svc.RenameHouse(ctx, actor, "Crickhollow")
	if err != nil {
		t.Fatalf("rename house: %v", err)
	}
	if got.Name != "Crickhollow" {
		t.Errorf("Name = %q, want Crickhollow", got.Name)
	}
}

func TestRenameHouseChildForbidden(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")
	house, _ := svc.CreateHouse(ctx, founder.ID, "Bag End")

	actor := quest.Actor{MemberID: founder.ID, HouseID: house.ID, Role: model.RoleChild}
	_, err := svc.RenameHouse(ctx, actor, "Crickhollow")
	if !errors.Is(err, quest.ErrPermission) {
		t.Errorf("err = %v, want ErrPermission", err)
	}
}

func TestResolvePendingInvite(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")
	house, _ := svc.CreateHouse(ctx, founder.ID, "Bag End")
	invitee := newMember(t, db, "frodo@example.com", "Frodo")

	if err := svc.ResolvePendingInvite(ctx, invitee.ID, house.ID, model.RoleChild); err != nil {
		t.Fatalf("resolve invite: %v", err)
	}

	m, _ := store.NewMemberStore(db).GetByID(invitee.ID)
	if m.HouseID == nil || *m.HouseID != house.ID {
		t.Errorf("HouseID = %v, want %d", m.HouseID, house.ID)
	}
	if m.Role != model.RoleChild {
		t.Errorf("Role = %q, want %q", m.Role, model.RoleChild)
	}

	// Replaying the invite is harmless.
	if err := svc.ResolvePendingInvite(ctx, invitee.ID, house.ID, model.RoleChild); err != nil {
		t.Fatalf("replay invite: %v", err)
	}
}

func TestResolvePendingInviteBadInputs(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")
	house, _ := svc.CreateHouse(ctx, founder.ID, "Bag End")
	invitee := newMember(t, db, "frodo@example.com", "Frodo")

	if err := svc.ResolvePendingInvite(ctx, invitee.ID, house.ID, "wizard"); !errors.Is(err, quest.ErrValidation) {
		t.Errorf("bad role: err = %v, want ErrValidation", err)
	}
	if err := svc.ResolvePendingInvite(ctx, invitee.ID, 9999, model.RoleChild); !errors.Is(err, quest.ErrNotFound) {
		t.Errorf("missing house: err = %v, want ErrNotFound", err)
	}
	if err := svc.ResolvePendingInvite(ctx, 9999, house.ID, model.RoleChild); !errors.Is(err, quest.ErrNotFound) {
		t.Errorf("missing member: err = %v, want ErrNotFound", err)
	}
}

func TestListMembers(t *testing.T) {
	svc, db := setupService(t)
	ctx := context.Background()
	founder := newMember(t, db, "bilbo@example.com", "Bilbo")
	house, _ := svc.CreateHouse(ctx, founder.ID, "Bag End")
	invitee := newMember(t, db, "frodo@example.com", "Frodo")
	svc.ResolvePendingInvite(ctx, invitee.ID, house.ID, model.RoleChild)

	members, err := svc.ListMembers(ctx, house.ID)
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("len = %d, want 2", len(members))
	}
}
