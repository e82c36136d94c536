package employee

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hrleave/internal/platform/querier"
)

var ErrNotFound = errors.New("employee not found")

type Store struct {
	DB querier.Querier
}

func NewStore(db querier.Querier) *Store {
	return &Store{DB: db}
}

func (s *Store) Insert(ctx context.Context, e Employee) (Employee, error) {
	if e.Status == "" {
		e.Status = StatusActive
	}
	err := s.DB.QueryRow(ctx, `
    INSERT INTO employees (org_id, first_name, last_name, email, status)
    VALUES ($1,$2,$3,$4,$5)
    RETURNING id, created_at
  `, e.OrgID, e.FirstName, e.LastName, e.Email, e.Status).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Employee{}, err
	}
	return e, nil
}

func (s *Store) Get(ctx context.Context, orgID, employeeID string) (Employee, error) {
	var e Employee
	err := s.DB.QueryRow(ctx, `
    SELECT id, org_id, first_name, last_name, email, status, created_at
    FROM employees
    WHERE org_id = $1 AND id = $2
  `, orgID, employeeID).Scan(&e.ID, &e.OrgID, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Employee{}, ErrNotFound
	}
	if err != nil {
		return Employee{}, err
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, orgID string) ([]Employee, error) {
	return s.list(ctx, orgID, "")
}

// ListActive returns the roster considered for balance initialization and
// full-organization sync.
func (s *Store) ListActive(ctx context.Context, orgID string) ([]Employee, error) {
	return s.list(ctx, orgID, StatusActive)
}

func (s *Store) list(ctx context.Context, orgID, status string) ([]Employee, error) {
	query := `
    SELECT id, org_id, first_name, last_name, email, status, created_at
    FROM employees
    WHERE org_id = $1
  `
	args := []any{orgID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY last_name, first_name"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Employee
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.OrgID, &e.FirstName, &e.LastName, &e.Email, &e.Status, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SetStatus(ctx context.Context, orgID, employeeID, status string) error {
	if status != StatusActive && status != StatusInactive {
		return fmt.Errorf("invalid employee status %q", status)
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE employees SET status = $1 WHERE org_id = $2 AND id = $3
  `, status, orgID, employeeID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
