package leave

import (
	"context"
	"fmt"
)

// ConsumeBalance deducts an approved leave request's days from the
// employee's current-year balance. Callers check availability before
// approving; this re-checks under the row's version so a concurrent
// approval of overlapping requests cannot oversell the balance.
func (s *Service) ConsumeBalance(ctx context.Context, orgID, employeeID, leaveType string, totalDays int) (LeaveBalance, error) {
	if totalDays <= 0 {
		return LeaveBalance{}, fmt.Errorf("%w: totalDays must be positive, got %d", ErrValidation, totalDays)
	}
	if !IsKnownLeaveType(leaveType) {
		return LeaveBalance{}, fmt.Errorf("%w: unknown leave type %q", ErrValidation, leaveType)
	}

	balance, err := s.Store.GetBalance(ctx, orgID, employeeID, leaveType, s.currentYear())
	if err != nil {
		return LeaveBalance{}, err
	}
	if totalDays > balance.Remaining {
		return LeaveBalance{}, fmt.Errorf("%w: requested %d days, %d remaining", ErrInsufficientBalance, totalDays, balance.Remaining)
	}

	balance.Used += totalDays
	balance.Remaining -= totalDays
	return s.Store.UpdateBalance(ctx, balance)
}

// ReleaseBalance returns days to the balance when an approved request is
// cancelled or rejected after the fact. It refuses to release more days
// than were ever consumed.
func (s *Service) ReleaseBalance(ctx context.Context, orgID, employeeID, leaveType string, totalDays int) (LeaveBalance, error) {
	if totalDays <= 0 {
		return LeaveBalance{}, fmt.Errorf("%w: totalDays must be positive, got %d", ErrValidation, totalDays)
	}
	if !IsKnownLeaveType(leaveType) {
		return LeaveBalance{}, fmt.Errorf("%w: unknown leave type %q", ErrValidation, leaveType)
	}

	balance, err := s.Store.GetBalance(ctx, orgID, employeeID, leaveType, s.currentYear())
	if err != nil {
		return LeaveBalance{}, err
	}
	if totalDays > balance.Used {
		return LeaveBalance{}, fmt.Errorf("%w: releasing %d days would drop used below zero (used %d)", ErrInvariantViolation, totalDays, balance.Used)
	}

	balance.Used -= totalDays
	balance.Remaining += totalDays
	return s.Store.UpdateBalance(ctx, balance)
}
