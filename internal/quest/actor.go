package quest

import "github.com/dukerupert/questboard/internal/model"

// Actor identifies who is performing an operation. It is passed explicitly
// into every engine call rather than read from ambient session state.
type Actor struct {
	MemberID int64
	HouseID  int64
	Role     model.Role
}

func (a Actor) isParent() bool {
	return a.Role == model.RoleParent
}
