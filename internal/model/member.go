package model

import "time"

// Role is a member's role within their house.
type Role string

const (
	RoleParent Role = "parent"
	RoleChild  Role = "child"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleChild
}

// Member is a user's profile within at most one house. HouseID is nil for
// freshly registered users who have not created or joined a house yet.
// Points is mutated only by the approval side effect in the quest engine.
type Member struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	HouseID   *int64    `json:"house_id"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
