package leave

import "fmt"

// Pure balance arithmetic. No I/O; the service owns loading and persisting.

// MaxAdjustmentDays bounds a single manual adjustment in either direction.
const MaxAdjustmentDays = 365

type Allocation struct {
	TotalAllowed int
	Used         int
	Remaining    int
}

// CarryForwardDays returns the days carried into a new year: the prior
// year's remaining, capped by the policy, or zero when the policy does not
// carry forward or there is no prior balance (new hire, first policy year).
func CarryForwardDays(p LeavePolicy, prior *LeaveBalance) int {
	if !p.CarryForward || prior == nil {
		return 0
	}
	if prior.Remaining <= 0 {
		return 0
	}
	if prior.Remaining < p.MaxCarryForward {
		return prior.Remaining
	}
	return p.MaxCarryForward
}

// InitialAllocation computes a fresh year's balance from the policy and the
// employee's prior-year balance. Only the prior year's remaining is read.
func InitialAllocation(p LeavePolicy, prior *LeaveBalance) Allocation {
	total := p.DefaultAllowance + CarryForwardDays(p, prior)
	return Allocation{TotalAllowed: total, Used: 0, Remaining: total}
}

func AllowanceDelta(oldAllowance, newAllowance int) int {
	return newAllowance - oldAllowance
}

// ApplyDelta shifts a balance by an allowance change. Remaining absorbs the
// delta, floored at zero; days already used are never recovered. If the new
// total would drop below used, the balance is returned unchanged with
// ErrInvariantViolation.
func ApplyDelta(b LeaveBalance, delta int) (LeaveBalance, error) {
	if delta == 0 {
		return b, nil
	}
	total := b.TotalAllowed + delta
	if total < b.Used {
		return b, fmt.Errorf("%w: allowance %d below %d days already used (%s/%s/%d)",
			ErrInvariantViolation, total, b.Used, b.EmployeeID, b.LeaveType, b.Year)
	}
	b.TotalAllowed = total
	b.Remaining += delta
	if b.Remaining < 0 {
		b.Remaining = 0
	}
	return b, nil
}

// ApplyAdjustment applies a signed manual adjustment. The adjustment moves
// the allocation itself, so totalAllowed - used == remaining is preserved.
func ApplyAdjustment(b LeaveBalance, days int) (LeaveBalance, error) {
	if days < -MaxAdjustmentDays || days > MaxAdjustmentDays {
		return b, fmt.Errorf("%w: adjustment %d outside [-%d, %d]", ErrValidation, days, MaxAdjustmentDays, MaxAdjustmentDays)
	}
	if b.Remaining+days < 0 {
		return b, fmt.Errorf("%w: adjustment %d exceeds remaining %d (%s/%s/%d)",
			ErrInsufficientBalance, days, b.Remaining, b.EmployeeID, b.LeaveType, b.Year)
	}
	b.TotalAllowed += days
	b.Remaining += days
	return b, nil
}
