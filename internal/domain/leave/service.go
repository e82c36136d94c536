package leave

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"hrleave/internal/domain/employee"
)

// EmployeeDirectory is the read-only roster consumed by bulk operations.
type EmployeeDirectory interface {
	ListActive(ctx context.Context, orgID string) ([]employee.Employee, error)
}

type Service struct {
	Store     StoreAPI
	Employees EmployeeDirectory

	// Now is the clock used to resolve "current year"; tests pin it.
	Now func() time.Time
}

func NewService(store StoreAPI, employees EmployeeDirectory) *Service {
	return &Service{Store: store, Employees: employees, Now: time.Now}
}

const (
	minYear = 2000
	maxYear = 2100
)

type PolicyInput struct {
	LeaveType        string `json:"leaveType"`
	DefaultAllowance int    `json:"defaultAllowance"`
	CarryForward     bool   `json:"carryForward"`
	MaxCarryForward  int    `json:"maxCarryForward"`
}

// PolicyUpdate patches an active policy; nil fields are left unchanged.
type PolicyUpdate struct {
	DefaultAllowance *int  `json:"defaultAllowance"`
	CarryForward     *bool `json:"carryForward"`
	MaxCarryForward  *int  `json:"maxCarryForward"`
}

type RowFailure struct {
	EmployeeID string `json:"employeeId"`
	LeaveType  string `json:"leaveType"`
	Reason     string `json:"reason"`
}

type InitSummary struct {
	EmployeesProcessed  int          `json:"employeesProcessed"`
	BalancesInitialized int          `json:"balancesInitialized"`
	Skipped             int          `json:"skipped"`
	Failures            []RowFailure `json:"failures,omitempty"`
}

type PropagationSummary struct {
	BalancesUpdated int          `json:"balancesUpdated"`
	Failures        []RowFailure `json:"failures,omitempty"`
}

type SyncSummary struct {
	Message            string       `json:"message"`
	EmployeesProcessed int          `json:"employeesProcessed"`
	BalancesCreated    int          `json:"balancesCreated"`
	BalancesReconciled int          `json:"balancesReconciled"`
	Unchanged          int          `json:"unchanged"`
	Failures           []RowFailure `json:"failures,omitempty"`
}

func (s *Service) currentYear() int {
	return s.Now().UTC().Year()
}

func validatePolicy(leaveType string, allowance int, carryForward bool, maxCarryForward int) error {
	if !IsKnownLeaveType(leaveType) {
		return fmt.Errorf("%w: unknown leave type %q", ErrValidation, leaveType)
	}
	if allowance < 0 {
		return fmt.Errorf("%w: defaultAllowance must be non-negative", ErrValidation)
	}
	if maxCarryForward < 0 {
		return fmt.Errorf("%w: maxCarryForward must be non-negative", ErrValidation)
	}
	if carryForward && maxCarryForward > allowance {
		return fmt.Errorf("%w: maxCarryForward %d exceeds defaultAllowance %d", ErrValidation, maxCarryForward, allowance)
	}
	return nil
}

// CreatePolicy creates the single active policy for (org, leave type) and
// backfills the current year's balance for every active employee missing
// one. Backfill problems are reported in the summary, not as a failure of
// the creation itself.
func (s *Service) CreatePolicy(ctx context.Context, orgID string, in PolicyInput) (LeavePolicy, InitSummary, error) {
	if err := validatePolicy(in.LeaveType, in.DefaultAllowance, in.CarryForward, in.MaxCarryForward); err != nil {
		return LeavePolicy{}, InitSummary{}, err
	}

	policy, err := s.Store.InsertPolicy(ctx, LeavePolicy{
		OrgID:            orgID,
		LeaveType:        in.LeaveType,
		DefaultAllowance: in.DefaultAllowance,
		CarryForward:     in.CarryForward,
		MaxCarryForward:  in.MaxCarryForward,
		Status:           PolicyActive,
	})
	if err != nil {
		return LeavePolicy{}, InitSummary{}, err
	}

	summary, err := s.initializeForPolicies(ctx, orgID, s.currentYear(), []LeavePolicy{policy})
	if err != nil {
		return policy, summary, err
	}
	return policy, summary, nil
}

// UpdatePolicy patches an active policy and, when the allowance changed,
// propagates the delta to every current-year balance of that leave type.
func (s *Service) UpdatePolicy(ctx context.Context, orgID, policyID string, upd PolicyUpdate) (LeavePolicy, PropagationSummary, error) {
	policy, err := s.Store.GetPolicy(ctx, orgID, policyID)
	if err != nil {
		return LeavePolicy{}, PropagationSummary{}, err
	}
	if policy.Status != PolicyActive {
		return LeavePolicy{}, PropagationSummary{}, fmt.Errorf("%w: policy %s is retired", ErrNotFound, policyID)
	}

	oldAllowance := policy.DefaultAllowance
	if upd.DefaultAllowance != nil {
		policy.DefaultAllowance = *upd.DefaultAllowance
	}
	if upd.CarryForward != nil {
		policy.CarryForward = *upd.CarryForward
	}
	if upd.MaxCarryForward != nil {
		policy.MaxCarryForward = *upd.MaxCarryForward
	}
	if err := validatePolicy(policy.LeaveType, policy.DefaultAllowance, policy.CarryForward, policy.MaxCarryForward); err != nil {
		return LeavePolicy{}, PropagationSummary{}, err
	}

	policy, err = s.Store.UpdatePolicy(ctx, policy)
	if err != nil {
		return LeavePolicy{}, PropagationSummary{}, err
	}

	summary, err := s.PropagatePolicyChange(ctx, policy, oldAllowance, policy.DefaultAllowance)
	return policy, summary, err
}

// RetirePolicy takes a policy out of active use. Existing balances stay as
// historical records and are never touched retroactively.
func (s *Service) RetirePolicy(ctx context.Context, orgID, policyID string) error {
	return s.Store.RetirePolicy(ctx, orgID, policyID)
}

func (s *Service) GetPolicy(ctx context.Context, orgID, policyID string) (LeavePolicy, error) {
	return s.Store.GetPolicy(ctx, orgID, policyID)
}

func (s *Service) ListActivePolicies(ctx context.Context, orgID string) ([]LeavePolicy, error) {
	return s.Store.ListActivePolicies(ctx, orgID)
}

// PropagatePolicyChange applies the allowance delta uniformly to every
// current-year balance of the policy's leave type. Each row gets the same
// delta rather than a recomputed allocation, so manual adjustments made
// since initialization survive. Rows where the new allowance would drop
// below days already used are left untouched and reported via
// ErrInvariantViolation; all other rows are still updated (per-row
// atomicity only).
func (s *Service) PropagatePolicyChange(ctx context.Context, policy LeavePolicy, oldAllowance, newAllowance int) (PropagationSummary, error) {
	var summary PropagationSummary

	delta := AllowanceDelta(oldAllowance, newAllowance)
	if delta == 0 {
		return summary, nil
	}

	balances, err := s.Store.ListBalances(ctx, policy.OrgID, BalanceFilter{LeaveType: policy.LeaveType, Year: s.currentYear()})
	if err != nil {
		return summary, err
	}

	violations := 0
	for _, b := range balances {
		updated, err := ApplyDelta(b, delta)
		if err != nil {
			summary.Failures = append(summary.Failures, RowFailure{EmployeeID: b.EmployeeID, LeaveType: b.LeaveType, Reason: err.Error()})
			if errors.Is(err, ErrInvariantViolation) {
				violations++
			}
			continue
		}
		if _, err := s.Store.UpdateBalance(ctx, updated); err != nil {
			summary.Failures = append(summary.Failures, RowFailure{EmployeeID: b.EmployeeID, LeaveType: b.LeaveType, Reason: err.Error()})
			continue
		}
		summary.BalancesUpdated++
	}

	if violations > 0 {
		return summary, fmt.Errorf("%w: %d balance(s) have more days used than the new allowance grants", ErrInvariantViolation, violations)
	}
	return summary, nil
}

// InitializeOrganizationBalances creates the year's balance for every
// (active employee, active policy) pair that does not have one yet.
// Existing balances are never overwritten, so the operation is idempotent.
// Problems with one pair are recorded and do not block the rest.
func (s *Service) InitializeOrganizationBalances(ctx context.Context, orgID string, year int) (InitSummary, error) {
	if year < minYear || year > maxYear {
		return InitSummary{}, fmt.Errorf("%w: year %d outside [%d, %d]", ErrValidation, year, minYear, maxYear)
	}
	policies, err := s.Store.ListActivePolicies(ctx, orgID)
	if err != nil {
		return InitSummary{}, err
	}
	return s.initializeForPolicies(ctx, orgID, year, policies)
}

func (s *Service) initializeForPolicies(ctx context.Context, orgID string, year int, policies []LeavePolicy) (InitSummary, error) {
	var summary InitSummary

	employees, err := s.Employees.ListActive(ctx, orgID)
	if err != nil {
		return summary, err
	}

	for _, emp := range employees {
		summary.EmployeesProcessed++
		for _, policy := range policies {
			created, err := s.ensureBalance(ctx, orgID, emp.ID, policy, year)
			if err != nil {
				summary.Failures = append(summary.Failures, RowFailure{EmployeeID: emp.ID, LeaveType: policy.LeaveType, Reason: err.Error()})
				continue
			}
			if created {
				summary.BalancesInitialized++
			} else {
				summary.Skipped++
			}
		}
	}
	return summary, nil
}

// ensureBalance inserts the (employee, leaveType, year) balance if missing,
// seeding it from the prior year's remaining. Never mutates an existing row.
func (s *Service) ensureBalance(ctx context.Context, orgID, employeeID string, policy LeavePolicy, year int) (bool, error) {
	_, err := s.Store.GetBalance(ctx, orgID, employeeID, policy.LeaveType, year)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, err
	}

	prior, err := s.priorBalance(ctx, orgID, employeeID, policy.LeaveType, year-1)
	if err != nil {
		return false, err
	}

	alloc := InitialAllocation(policy, prior)
	_, err = s.Store.InsertBalance(ctx, LeaveBalance{
		OrgID:        orgID,
		EmployeeID:   employeeID,
		LeaveType:    policy.LeaveType,
		Year:         year,
		TotalAllowed: alloc.TotalAllowed,
		Used:         alloc.Used,
		Remaining:    alloc.Remaining,
		Status:       BalanceActive,
	})
	if errors.Is(err, ErrConcurrencyConflict) {
		// Another initializer won the race; the row exists, which is all
		// this operation promises.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) priorBalance(ctx context.Context, orgID, employeeID, leaveType string, year int) (*LeaveBalance, error) {
	prior, err := s.Store.GetBalance(ctx, orgID, employeeID, leaveType, year)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &prior, nil
}

// AdjustEmployeeBalance applies a signed manual adjustment to the
// employee's current-year balance and appends the audit record in the same
// transaction. The balance must already be initialized.
func (s *Service) AdjustEmployeeBalance(ctx context.Context, orgID, employeeID, leaveType string, days int, reason, actorID string) (LeaveBalance, error) {
	if !IsKnownLeaveType(leaveType) {
		return LeaveBalance{}, fmt.Errorf("%w: unknown leave type %q", ErrValidation, leaveType)
	}
	if strings.TrimSpace(reason) == "" {
		return LeaveBalance{}, fmt.Errorf("%w: adjustment reason is required", ErrValidation)
	}

	year := s.currentYear()
	balance, err := s.Store.GetBalance(ctx, orgID, employeeID, leaveType, year)
	if err != nil {
		return LeaveBalance{}, err
	}

	updated, err := ApplyAdjustment(balance, days)
	if err != nil {
		return LeaveBalance{}, err
	}

	return s.Store.UpdateBalanceWithAdjustment(ctx, updated, BalanceAdjustment{
		OrgID:      orgID,
		EmployeeID: employeeID,
		LeaveType:  leaveType,
		Year:       year,
		Delta:      days,
		Reason:     reason,
		ActorID:    actorID,
	})
}

// SyncAllEmployeeLeaveBalances is the authoritative consistency pass: it
// creates any missing current-year balance and re-baselines totalAllowed to
// defaultAllowance + current carry-forward for rows that drifted (missed
// propagation). Running it twice with no intervening change reports zero
// changes on the second run.
func (s *Service) SyncAllEmployeeLeaveBalances(ctx context.Context, orgID string) (SyncSummary, error) {
	var summary SyncSummary
	year := s.currentYear()

	employees, err := s.Employees.ListActive(ctx, orgID)
	if err != nil {
		return summary, err
	}
	policies, err := s.Store.ListActivePolicies(ctx, orgID)
	if err != nil {
		return summary, err
	}

	for _, emp := range employees {
		summary.EmployeesProcessed++
		for _, policy := range policies {
			balance, err := s.Store.GetBalance(ctx, orgID, emp.ID, policy.LeaveType, year)
			if errors.Is(err, ErrNotFound) {
				created, err := s.ensureBalance(ctx, orgID, emp.ID, policy, year)
				if err != nil {
					summary.Failures = append(summary.Failures, RowFailure{EmployeeID: emp.ID, LeaveType: policy.LeaveType, Reason: err.Error()})
					continue
				}
				if created {
					summary.BalancesCreated++
				} else {
					summary.Unchanged++
				}
				continue
			}
			if err != nil {
				summary.Failures = append(summary.Failures, RowFailure{EmployeeID: emp.ID, LeaveType: policy.LeaveType, Reason: err.Error()})
				continue
			}

			prior, err := s.priorBalance(ctx, orgID, emp.ID, policy.LeaveType, year-1)
			if err != nil {
				summary.Failures = append(summary.Failures, RowFailure{EmployeeID: emp.ID, LeaveType: policy.LeaveType, Reason: err.Error()})
				continue
			}
			expected := policy.DefaultAllowance + CarryForwardDays(policy, prior)
			if balance.TotalAllowed == expected {
				summary.Unchanged++
				continue
			}

			updated, err := ApplyDelta(balance, expected-balance.TotalAllowed)
			if err != nil {
				summary.Failures = append(summary.Failures, RowFailure{EmployeeID: emp.ID, LeaveType: policy.LeaveType, Reason: err.Error()})
				continue
			}
			if _, err := s.Store.UpdateBalance(ctx, updated); err != nil {
				summary.Failures = append(summary.Failures, RowFailure{EmployeeID: emp.ID, LeaveType: policy.LeaveType, Reason: err.Error()})
				continue
			}
			summary.BalancesReconciled++
		}
	}

	summary.Message = fmt.Sprintf("reconciled %d employees against %d active policies: %d created, %d corrected, %d unchanged",
		summary.EmployeesProcessed, len(policies), summary.BalancesCreated, summary.BalancesReconciled, summary.Unchanged)
	return summary, nil
}

// GetBalances lists balances for an organization, scoped to the current
// year unless a year is given. employeeID narrows to one employee.
func (s *Service) GetBalances(ctx context.Context, orgID, employeeID string, year int) ([]LeaveBalance, error) {
	if year == 0 {
		year = s.currentYear()
	}
	if year < minYear || year > maxYear {
		return nil, fmt.Errorf("%w: year %d outside [%d, %d]", ErrValidation, year, minYear, maxYear)
	}
	return s.Store.ListBalances(ctx, orgID, BalanceFilter{EmployeeID: employeeID, Year: year})
}

func (s *Service) ListAdjustments(ctx context.Context, orgID, employeeID string, limit, offset int) ([]BalanceAdjustment, error) {
	return s.Store.ListAdjustments(ctx, orgID, employeeID, limit, offset)
}
