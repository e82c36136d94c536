package leave

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

func (s *Store) InsertPolicy(ctx context.Context, p LeavePolicy) (LeavePolicy, error) {
	if p.Status == "" {
		p.Status = PolicyActive
	}
	err := s.DB.QueryRow(ctx, `
    INSERT INTO leave_policies (org_id, leave_type, default_allowance, carry_forward, max_carry_forward, status)
    VALUES ($1,$2,$3,$4,$5,$6)
    RETURNING id, created_at, updated_at
  `, p.OrgID, p.LeaveType, p.DefaultAllowance, p.CarryForward, p.MaxCarryForward, p.Status).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return LeavePolicy{}, fmt.Errorf("%w: active policy for %q already exists", ErrValidation, p.LeaveType)
	}
	if err != nil {
		return LeavePolicy{}, err
	}
	return p, nil
}

func (s *Store) GetPolicy(ctx context.Context, orgID, policyID string) (LeavePolicy, error) {
	var p LeavePolicy
	err := s.DB.QueryRow(ctx, `
    SELECT id, org_id, leave_type, default_allowance, carry_forward, max_carry_forward, status, created_at, updated_at
    FROM leave_policies
    WHERE org_id = $1 AND id = $2
  `, orgID, policyID).Scan(&p.ID, &p.OrgID, &p.LeaveType, &p.DefaultAllowance, &p.CarryForward, &p.MaxCarryForward, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeavePolicy{}, fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}
	if err != nil {
		return LeavePolicy{}, err
	}
	return p, nil
}

func (s *Store) ActivePolicyByType(ctx context.Context, orgID, leaveType string) (LeavePolicy, error) {
	var p LeavePolicy
	err := s.DB.QueryRow(ctx, `
    SELECT id, org_id, leave_type, default_allowance, carry_forward, max_carry_forward, status, created_at, updated_at
    FROM leave_policies
    WHERE org_id = $1 AND leave_type = $2 AND status = $3
  `, orgID, leaveType, PolicyActive).Scan(&p.ID, &p.OrgID, &p.LeaveType, &p.DefaultAllowance, &p.CarryForward, &p.MaxCarryForward, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeavePolicy{}, fmt.Errorf("%w: no active policy for %q", ErrNotFound, leaveType)
	}
	if err != nil {
		return LeavePolicy{}, err
	}
	return p, nil
}

func (s *Store) ListActivePolicies(ctx context.Context, orgID string) ([]LeavePolicy, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT id, org_id, leave_type, default_allowance, carry_forward, max_carry_forward, status, created_at, updated_at
    FROM leave_policies
    WHERE org_id = $1 AND status = $2
    ORDER BY leave_type
  `, orgID, PolicyActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeavePolicy
	for rows.Next() {
		var p LeavePolicy
		if err := rows.Scan(&p.ID, &p.OrgID, &p.LeaveType, &p.DefaultAllowance, &p.CarryForward, &p.MaxCarryForward, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePolicy(ctx context.Context, p LeavePolicy) (LeavePolicy, error) {
	err := s.DB.QueryRow(ctx, `
    UPDATE leave_policies
    SET default_allowance = $1, carry_forward = $2, max_carry_forward = $3, updated_at = now()
    WHERE org_id = $4 AND id = $5 AND status = $6
    RETURNING updated_at
  `, p.DefaultAllowance, p.CarryForward, p.MaxCarryForward, p.OrgID, p.ID, PolicyActive).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeavePolicy{}, fmt.Errorf("%w: policy %s", ErrNotFound, p.ID)
	}
	if err != nil {
		return LeavePolicy{}, err
	}
	return p, nil
}

func (s *Store) RetirePolicy(ctx context.Context, orgID, policyID string) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE leave_policies SET status = $1, updated_at = now()
    WHERE org_id = $2 AND id = $3 AND status = $4
  `, PolicyRetired, orgID, policyID, PolicyActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: policy %s", ErrNotFound, policyID)
	}
	return nil
}

func (s *Store) GetBalance(ctx context.Context, orgID, employeeID, leaveType string, year int) (LeaveBalance, error) {
	var b LeaveBalance
	err := s.DB.QueryRow(ctx, `
    SELECT id, org_id, employee_id, leave_type, year, total_allowed, used, remaining, version, status, created_at, updated_at
    FROM leave_balances
    WHERE org_id = $1 AND employee_id = $2 AND leave_type = $3 AND year = $4 AND status = $5
  `, orgID, employeeID, leaveType, year, BalanceActive).Scan(
		&b.ID, &b.OrgID, &b.EmployeeID, &b.LeaveType, &b.Year,
		&b.TotalAllowed, &b.Used, &b.Remaining, &b.Version, &b.Status, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeaveBalance{}, fmt.Errorf("%w: balance %s/%s/%d", ErrNotFound, employeeID, leaveType, year)
	}
	if err != nil {
		return LeaveBalance{}, err
	}
	return b, nil
}

func (s *Store) ListBalances(ctx context.Context, orgID string, filter BalanceFilter) ([]LeaveBalance, error) {
	query := `
    SELECT id, org_id, employee_id, leave_type, year, total_allowed, used, remaining, version, status, created_at, updated_at
    FROM leave_balances
    WHERE org_id = $1 AND status = $2
  `
	args := []any{orgID, BalanceActive}
	if filter.EmployeeID != "" {
		args = append(args, filter.EmployeeID)
		query += fmt.Sprintf(" AND employee_id = $%d", len(args))
	}
	if filter.LeaveType != "" {
		args = append(args, filter.LeaveType)
		query += fmt.Sprintf(" AND leave_type = $%d", len(args))
	}
	if filter.Year != 0 {
		args = append(args, filter.Year)
		query += fmt.Sprintf(" AND year = $%d", len(args))
	}
	query += " ORDER BY employee_id, leave_type, year"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaveBalance
	for rows.Next() {
		var b LeaveBalance
		if err := rows.Scan(&b.ID, &b.OrgID, &b.EmployeeID, &b.LeaveType, &b.Year,
			&b.TotalAllowed, &b.Used, &b.Remaining, &b.Version, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) InsertBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, error) {
	if b.Status == "" {
		b.Status = BalanceActive
	}
	b.Version = 1
	err := s.DB.QueryRow(ctx, `
    INSERT INTO leave_balances (org_id, employee_id, leave_type, year, total_allowed, used, remaining, version, status)
    VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
    RETURNING id, created_at, updated_at
  `, b.OrgID, b.EmployeeID, b.LeaveType, b.Year, b.TotalAllowed, b.Used, b.Remaining, b.Version, b.Status).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if isUniqueViolation(err) {
		// A concurrent initializer already created this row.
		return LeaveBalance{}, fmt.Errorf("%w: balance %s/%s/%d already exists", ErrConcurrencyConflict, b.EmployeeID, b.LeaveType, b.Year)
	}
	if err != nil {
		return LeaveBalance{}, err
	}
	return b, nil
}

func (s *Store) UpdateBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, error) {
	return s.updateBalance(ctx, s.DB, b)
}

func (s *Store) UpdateBalanceWithAdjustment(ctx context.Context, b LeaveBalance, adj BalanceAdjustment) (LeaveBalance, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return LeaveBalance{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	updated, err := s.updateBalance(ctx, tx, b)
	if err != nil {
		return LeaveBalance{}, err
	}
	if _, err := tx.Exec(ctx, `
    INSERT INTO balance_adjustments (org_id, employee_id, leave_type, year, delta, reason, actor_id)
    VALUES ($1,$2,$3,$4,$5,$6,$7)
  `, adj.OrgID, adj.EmployeeID, adj.LeaveType, adj.Year, adj.Delta, adj.Reason, adj.ActorID); err != nil {
		return LeaveBalance{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return LeaveBalance{}, err
	}
	return updated, nil
}

type execQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) updateBalance(ctx context.Context, q execQuerier, b LeaveBalance) (LeaveBalance, error) {
	err := q.QueryRow(ctx, `
    UPDATE leave_balances
    SET total_allowed = $1, used = $2, remaining = $3, version = version + 1, updated_at = now()
    WHERE id = $4 AND version = $5
    RETURNING version, updated_at
  `, b.TotalAllowed, b.Used, b.Remaining, b.ID, b.Version).Scan(&b.Version, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return LeaveBalance{}, fmt.Errorf("%w: balance %s version %d", ErrConcurrencyConflict, b.ID, b.Version)
	}
	if err != nil {
		return LeaveBalance{}, err
	}
	return b, nil
}

func (s *Store) ListAdjustments(ctx context.Context, orgID, employeeID string, limit, offset int) ([]BalanceAdjustment, error) {
	query := `
    SELECT id, org_id, employee_id, leave_type, year, delta, reason, actor_id, created_at
    FROM balance_adjustments
    WHERE org_id = $1
  `
	args := []any{orgID}
	if employeeID != "" {
		query += " AND employee_id = $2"
		args = append(args, employeeID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if offset > 0 {
		args = append(args, offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceAdjustment
	for rows.Next() {
		var a BalanceAdjustment
		if err := rows.Scan(&a.ID, &a.OrgID, &a.EmployeeID, &a.LeaveType, &a.Year, &a.Delta, &a.Reason, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
