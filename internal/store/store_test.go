package store

import (
	"database/sql"
	"testing"

	"github.com/dukerupert/questboard/internal/database"
	"github.com/dukerupert/questboard/internal/model"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// seedMember creates a user, its member row, and optionally assigns it to a
// house with the given role.
func seedMember(t *testing.T, db *sql.DB, email, name string, houseID int64, role model.Role) *model.Member {
	t.Helper()
	u, err := NewUserStore(db).Create(email, "hash")
	if err != nil {
		t.Fatalf("seed user %s: %v", email, err)
	}
	ms := NewMemberStore(db)
	m, err := ms.CreateForUser(u.ID, name)
	if err != nil {
		t.Fatalf("seed member %s: %v", name, err)
	}
	if houseID != 0 {
		m, err = ms.AssignHouse(u.ID, houseID, role)
		if err != nil {
			t.Fatalf("assign member %s to house: %v", name, err)
		}
	}
	return m
}

// seedHouse creates a parent member and a house owned by them.
func seedHouse(t *testing.T, db *sql.DB, name string) (*model.House, *model.Member) {
	t.Helper()
	owner := seedMember(t, db, name+"-owner@example.com", "Owner", 0, "")
	house, err := NewHouseStore(db).Create(name, owner.ID)
	if err != nil {
		t.Fatalf("seed house %s: %v", name, err)
	}
	owner, err = NewMemberStore(db).AssignHouse(owner.ID, house.ID, model.RoleParent)
	if err != nil {
		t.Fatalf("assign owner to house: %v", err)
	}
	return house, owner
}
