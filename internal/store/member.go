package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/questboard/internal/model"
)

type MemberStore struct {
	db *sql.DB
}

func NewMemberStore(db *sql.DB) *MemberStore {
	return &MemberStore{db: db}
}

func scanMember(scanner interface{ Scan(...any) error }) (*model.Member, error) {
	var m model.Member
	var houseID sql.NullInt64

	err := scanner.Scan(&m.ID, &m.FullName, &m.Role, &houseID, &m.Points, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if houseID.Valid {
		m.HouseID = &houseID.Int64
	}
	return &m, nil
}

const memberCols = `id, full_name, role, house_id, points, created_at, updated_at`

// CreateForUser inserts the profile row for a freshly registered user.
// The member starts unassigned (house_id NULL) until house setup or join.
func (s *MemberStore) CreateForUser(userID int64, fullName string) (*model.Member, error) {
	_, err := s.db.Exec(
		`INSERT INTO members (id, full_name) VALUES (?, ?)`,
		userID, fullName,
	)
	if err != nil {
		return nil, fmt.Errorf("insert member: %w", err)
	}
	return s.GetByID(userID)
}

func (s *MemberStore) GetByID(id int64) (*model.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberCols+` FROM members WHERE id = ?`, id)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get member: %w", err)
	}
	return m, nil
}

func (s *MemberStore) ListByHouse(houseID int64) ([]model.Member, error) {
	rows, err := s.db.Query(
		`SELECT `+memberCols+` FROM members WHERE house_id = ? ORDER BY full_name ASC`,
		houseID,
	)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, *m)
	}
	return members, rows.Err()
}

// AssignHouse sets the member's house and role. Re-applying the same
// arguments is a no-op in effect, so invite resolution can replay safely.
func (s *MemberStore) AssignHouse(id, houseID int64, role model.Role) (*model.Member, error) {
	_, err := s.db.Exec(
		`UPDATE members SET house_id = ?, role = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		houseID, role, id,
	)
	if err != nil {
		return nil, fmt.Errorf("assign house: %w", err)
	}
	return s.GetByID(id)
}

func (s *MemberStore) UpdateFullName(id int64, fullName string) (*model.Member, error) {
	_, err := s.db.Exec(
		`UPDATE members SET full_name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		fullName, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update member name: %w", err)
	}
	return s.GetByID(id)
}

// AddPoints increments the member's point balance server-side. The increment
// happens in a single UPDATE so concurrent awards never lose an update.
// Returns (nil, nil) if no member row matched.
func (s *MemberStore) AddPoints(id int64, delta int) (*model.Member, error) {
	result, err := s.db.Exec(
		`UPDATE members SET points = points + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		delta, id,
	)
	if err != nil {
		return nil, fmt.Errorf("add points: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return nil, nil
	}
	return s.GetByID(id)
}
