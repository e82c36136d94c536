// Package leavetest provides in-memory implementations of the leave store
// and employee directory for tests that exercise the layers above them.
package leavetest

import (
	"context"
	"fmt"
	"sort"

	"hrleave/internal/domain/employee"
	"hrleave/internal/domain/leave"
)

// Store implements leave.StoreAPI with the same version-check semantics as
// the database-backed store.
type Store struct {
	nextID      int
	Policies    map[string]leave.LeavePolicy
	Balances    map[string]leave.LeaveBalance
	Adjustments []leave.BalanceAdjustment
}

func NewStore() *Store {
	return &Store{
		Policies: make(map[string]leave.LeavePolicy),
		Balances: make(map[string]leave.LeaveBalance),
	}
}

// BalanceKey is the Balances map key for a row.
func BalanceKey(orgID, employeeID, leaveType string, year int) string {
	return fmt.Sprintf("%s/%s/%s/%d", orgID, employeeID, leaveType, year)
}

func (s *Store) id() string {
	s.nextID++
	return fmt.Sprintf("id-%d", s.nextID)
}

func (s *Store) InsertPolicy(_ context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	for _, existing := range s.Policies {
		if existing.OrgID == p.OrgID && existing.LeaveType == p.LeaveType && existing.Status == leave.PolicyActive {
			return leave.LeavePolicy{}, fmt.Errorf("%w: active policy for %s already exists", leave.ErrValidation, p.LeaveType)
		}
	}
	p.ID = s.id()
	s.Policies[p.ID] = p
	return p, nil
}

func (s *Store) GetPolicy(_ context.Context, orgID, policyID string) (leave.LeavePolicy, error) {
	p, ok := s.Policies[policyID]
	if !ok || p.OrgID != orgID {
		return leave.LeavePolicy{}, fmt.Errorf("%w: policy %s", leave.ErrNotFound, policyID)
	}
	return p, nil
}

func (s *Store) ActivePolicyByType(_ context.Context, orgID, leaveType string) (leave.LeavePolicy, error) {
	for _, p := range s.Policies {
		if p.OrgID == orgID && p.LeaveType == leaveType && p.Status == leave.PolicyActive {
			return p, nil
		}
	}
	return leave.LeavePolicy{}, fmt.Errorf("%w: no active %s policy", leave.ErrNotFound, leaveType)
}

func (s *Store) ListActivePolicies(_ context.Context, orgID string) ([]leave.LeavePolicy, error) {
	var out []leave.LeavePolicy
	for _, p := range s.Policies {
		if p.OrgID == orgID && p.Status == leave.PolicyActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LeaveType < out[j].LeaveType })
	return out, nil
}

func (s *Store) UpdatePolicy(_ context.Context, p leave.LeavePolicy) (leave.LeavePolicy, error) {
	if _, ok := s.Policies[p.ID]; !ok {
		return leave.LeavePolicy{}, fmt.Errorf("%w: policy %s", leave.ErrNotFound, p.ID)
	}
	s.Policies[p.ID] = p
	return p, nil
}

func (s *Store) RetirePolicy(_ context.Context, orgID, policyID string) error {
	p, ok := s.Policies[policyID]
	if !ok || p.OrgID != orgID || p.Status != leave.PolicyActive {
		return fmt.Errorf("%w: policy %s", leave.ErrNotFound, policyID)
	}
	p.Status = leave.PolicyRetired
	s.Policies[policyID] = p
	return nil
}

func (s *Store) GetBalance(_ context.Context, orgID, employeeID, leaveType string, year int) (leave.LeaveBalance, error) {
	b, ok := s.Balances[BalanceKey(orgID, employeeID, leaveType, year)]
	if !ok {
		return leave.LeaveBalance{}, fmt.Errorf("%w: balance %s/%s/%d", leave.ErrNotFound, employeeID, leaveType, year)
	}
	return b, nil
}

func (s *Store) ListBalances(_ context.Context, orgID string, filter leave.BalanceFilter) ([]leave.LeaveBalance, error) {
	var out []leave.LeaveBalance
	for _, b := range s.Balances {
		if b.OrgID != orgID {
			continue
		}
		if filter.EmployeeID != "" && b.EmployeeID != filter.EmployeeID {
			continue
		}
		if filter.LeaveType != "" && b.LeaveType != filter.LeaveType {
			continue
		}
		if filter.Year != 0 && b.Year != filter.Year {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EmployeeID != out[j].EmployeeID {
			return out[i].EmployeeID < out[j].EmployeeID
		}
		return out[i].LeaveType < out[j].LeaveType
	})
	return out, nil
}

func (s *Store) InsertBalance(_ context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	key := BalanceKey(b.OrgID, b.EmployeeID, b.LeaveType, b.Year)
	if _, ok := s.Balances[key]; ok {
		return leave.LeaveBalance{}, fmt.Errorf("%w: balance already exists", leave.ErrConcurrencyConflict)
	}
	b.ID = s.id()
	b.Version = 1
	s.Balances[key] = b
	return b, nil
}

func (s *Store) UpdateBalance(_ context.Context, b leave.LeaveBalance) (leave.LeaveBalance, error) {
	key := BalanceKey(b.OrgID, b.EmployeeID, b.LeaveType, b.Year)
	stored, ok := s.Balances[key]
	if !ok {
		return leave.LeaveBalance{}, fmt.Errorf("%w: balance %s", leave.ErrNotFound, b.ID)
	}
	if stored.Version != b.Version {
		return leave.LeaveBalance{}, fmt.Errorf("%w: version %d is stale", leave.ErrConcurrencyConflict, b.Version)
	}
	b.Version++
	s.Balances[key] = b
	return b, nil
}

func (s *Store) UpdateBalanceWithAdjustment(ctx context.Context, b leave.LeaveBalance, adj leave.BalanceAdjustment) (leave.LeaveBalance, error) {
	updated, err := s.UpdateBalance(ctx, b)
	if err != nil {
		return leave.LeaveBalance{}, err
	}
	adj.ID = s.id()
	s.Adjustments = append(s.Adjustments, adj)
	return updated, nil
}

func (s *Store) ListAdjustments(_ context.Context, orgID, employeeID string, limit, offset int) ([]leave.BalanceAdjustment, error) {
	// Newest first, matching the SQL store's created_at DESC ordering.
	var out []leave.BalanceAdjustment
	for i := len(s.Adjustments) - 1; i >= 0; i-- {
		a := s.Adjustments[i]
		if a.OrgID != orgID {
			continue
		}
		if employeeID != "" && a.EmployeeID != employeeID {
			continue
		}
		out = append(out, a)
	}
	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Directory is an in-memory employee roster.
type Directory struct {
	Employees []employee.Employee
}

func (d *Directory) ListActive(_ context.Context, orgID string) ([]employee.Employee, error) {
	var out []employee.Employee
	for _, e := range d.Employees {
		if e.OrgID == orgID && e.Status == employee.StatusActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *Directory) List(_ context.Context, orgID string) ([]employee.Employee, error) {
	var out []employee.Employee
	for _, e := range d.Employees {
		if e.OrgID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}
