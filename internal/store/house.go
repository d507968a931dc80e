package store

import (
	"database/sql"
	"fmt"

	"github.com/dukerupert/questboard/internal/model"
)

type HouseStore struct {
	db *sql.DB
}

func NewHouseStore(db *sql.DB) *HouseStore {
	return &HouseStore{db: db}
}

func scanHouse(scanner interface{ Scan(...any) error }) (*model.House, error) {
	var h model.House
	err := scanner.Scan(&h.ID, &h.Name, &h.OwnerID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

const houseCols = `id, name, owner_id, created_at, updated_at`

func (s *HouseStore) Create(name string, ownerID int64) (*model.House, error) {
	result, err := s.db.Exec(
		`INSERT INTO houses (name, owner_id) VALUES (?, ?)`,
		name, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("insert house: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *HouseStore) GetByID(id int64) (*model.House, error) {
	row := s.db.QueryRow(`SELECT `+houseCols+` FROM houses WHERE id = ?`, id)
	h, err := scanHouse(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get house: %w", err)
	}
	return h, nil
}

func (s *HouseStore) UpdateName(id int64, name string) (*model.House, error) {
	_, err := s.db.Exec(
		`UPDATE houses SET name = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		name, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update house: %w", err)
	}
	return s.GetByID(id)
}
