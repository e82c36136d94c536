package leave

import "time"

// Policy and balance rows use a single status column instead of paired
// isActive/deletedAt flags, so "in active use" is one predicate everywhere.
const (
	PolicyActive  = "active"
	PolicyRetired = "retired"

	BalanceActive = "active"
	BalanceClosed = "closed"
)

// KnownLeaveTypes is the accepted leave_type vocabulary. One active policy
// may exist per (organization, leave type).
var KnownLeaveTypes = []string{"annual", "sick", "casual", "unpaid"}

type LeavePolicy struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"orgId"`
	LeaveType        string    `json:"leaveType"`
	DefaultAllowance int       `json:"defaultAllowance"`
	CarryForward     bool      `json:"carryForward"`
	MaxCarryForward  int       `json:"maxCarryForward"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// LeaveBalance is one employee's entitlement for a leave type in a year.
// Invariant for every active row: remaining = totalAllowed - used, and
// used >= 0, remaining >= 0. Version backs optimistic concurrency: every
// update carries the version it read, and a miss means a concurrent writer
// won.
type LeaveBalance struct {
	ID           string    `json:"id"`
	OrgID        string    `json:"orgId"`
	EmployeeID   string    `json:"employeeId"`
	LeaveType    string    `json:"leaveType"`
	Year         int       `json:"year"`
	TotalAllowed int       `json:"totalAllowed"`
	Used         int       `json:"used"`
	Remaining    int       `json:"remaining"`
	Version      int       `json:"version"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// BalanceAdjustment is the append-only audit record of a manual adjustment.
type BalanceAdjustment struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"orgId"`
	EmployeeID string    `json:"employeeId"`
	LeaveType  string    `json:"leaveType"`
	Year       int       `json:"year"`
	Delta      int       `json:"delta"`
	Reason     string    `json:"reason"`
	ActorID    string    `json:"actorId"`
	CreatedAt  time.Time `json:"createdAt"`
}

func IsKnownLeaveType(leaveType string) bool {
	for _, t := range KnownLeaveTypes {
		if t == leaveType {
			return true
		}
	}
	return false
}
