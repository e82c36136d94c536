package leave

import "context"

// BalanceFilter narrows ListBalances. Zero values mean "any".
type BalanceFilter struct {
	EmployeeID string
	LeaveType  string
	Year       int
}

// StoreAPI is the persistence port for policies, balances and the
// adjustment log. The pgx implementation lives in store_data.go; service
// tests use an in-memory fake.
type StoreAPI interface {
	InsertPolicy(ctx context.Context, p LeavePolicy) (LeavePolicy, error)
	GetPolicy(ctx context.Context, orgID, policyID string) (LeavePolicy, error)
	ActivePolicyByType(ctx context.Context, orgID, leaveType string) (LeavePolicy, error)
	ListActivePolicies(ctx context.Context, orgID string) ([]LeavePolicy, error)
	UpdatePolicy(ctx context.Context, p LeavePolicy) (LeavePolicy, error)
	RetirePolicy(ctx context.Context, orgID, policyID string) error

	GetBalance(ctx context.Context, orgID, employeeID, leaveType string, year int) (LeaveBalance, error)
	ListBalances(ctx context.Context, orgID string, filter BalanceFilter) ([]LeaveBalance, error)
	InsertBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, error)
	// UpdateBalance persists b where the stored version still matches
	// b.Version; returns ErrConcurrencyConflict on a version miss.
	UpdateBalance(ctx context.Context, b LeaveBalance) (LeaveBalance, error)
	// UpdateBalanceWithAdjustment persists the balance and its adjustment
	// record in one transaction.
	UpdateBalanceWithAdjustment(ctx context.Context, b LeaveBalance, adj BalanceAdjustment) (LeaveBalance, error)
	// ListAdjustments returns newest first; limit <= 0 means no limit.
	ListAdjustments(ctx context.Context, orgID, employeeID string, limit, offset int) ([]BalanceAdjustment, error)
}
