package leave_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"hrleave/internal/domain/employee"
	"hrleave/internal/domain/leave"
	"hrleave/internal/domain/leave/leavetest"
)

const testOrg = "org-1"

func testService(emps ...string) (*leave.Service, *leavetest.Store) {
	store := leavetest.NewStore()
	dir := &leavetest.Directory{}
	for _, id := range emps {
		dir.Employees = append(dir.Employees, employee.Employee{ID: id, OrgID: testOrg, Status: employee.StatusActive})
	}
	svc := leave.NewService(store, dir)
	svc.Now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func mustCreatePolicy(t *testing.T, svc *leave.Service, in leave.PolicyInput) leave.LeavePolicy {
	t.Helper()
	p, _, err := svc.CreatePolicy(context.Background(), testOrg, in)
	if err != nil {
		t.Fatalf("CreatePolicy(%s): %v", in.LeaveType, err)
	}
	return p
}

func TestCreatePolicyBackfillsCurrentYear(t *testing.T) {
	svc, store := testService("emp-1", "emp-2")

	p, summary, err := svc.CreatePolicy(context.Background(), testOrg, leave.PolicyInput{
		LeaveType:        "annual",
		DefaultAllowance: 20,
		CarryForward:     true,
		MaxCarryForward:  5,
	})
	if err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if p.Status != leave.PolicyActive {
		t.Fatalf("status = %q, want %q", p.Status, leave.PolicyActive)
	}
	if summary.BalancesInitialized != 2 {
		t.Fatalf("initialized = %d, want 2", summary.BalancesInitialized)
	}

	b, err := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.TotalAllowed != 20 || b.Used != 0 || b.Remaining != 20 {
		t.Fatalf("balance = %d/%d/%d, want 20/0/20", b.TotalAllowed, b.Used, b.Remaining)
	}
}

func TestCreatePolicyRejectsBadInput(t *testing.T) {
	svc, _ := testService("emp-1")

	cases := []leave.PolicyInput{
		{LeaveType: "sabbatical", DefaultAllowance: 10},
		{LeaveType: "annual", DefaultAllowance: -1},
		{LeaveType: "annual", DefaultAllowance: 10, CarryForward: true, MaxCarryForward: 11},
		{LeaveType: "annual", DefaultAllowance: 10, MaxCarryForward: -1},
	}
	for _, in := range cases {
		if _, _, err := svc.CreatePolicy(context.Background(), testOrg, in); !errors.Is(err, leave.ErrValidation) {
			t.Fatalf("CreatePolicy(%+v) err = %v, want ErrValidation", in, err)
		}
	}
}

func TestCreatePolicyDuplicateActiveType(t *testing.T) {
	svc, _ := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	_, _, err := svc.CreatePolicy(context.Background(), testOrg, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 15})
	if !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("duplicate policy err = %v, want ErrValidation", err)
	}

	// Retiring the old one frees the slot.
	pols, err := svc.ListActivePolicies(context.Background(), testOrg)
	if err != nil || len(pols) != 1 {
		t.Fatalf("ListActivePolicies = %v, %v", pols, err)
	}
	if err := svc.RetirePolicy(context.Background(), testOrg, pols[0].ID); err != nil {
		t.Fatalf("RetirePolicy: %v", err)
	}
	if _, _, err := svc.CreatePolicy(context.Background(), testOrg, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 15}); err != nil {
		t.Fatalf("CreatePolicy after retire: %v", err)
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	svc, _ := testService("emp-1", "emp-2", "emp-3")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "sick", DefaultAllowance: 10})

	first, err := svc.InitializeOrganizationBalances(context.Background(), testOrg, 2025)
	if err != nil {
		t.Fatalf("first init: %v", err)
	}
	// CreatePolicy already backfilled, so the explicit init finds everything.
	if first.BalancesInitialized != 0 || first.Skipped != 6 {
		t.Fatalf("first init = %+v, want 0 initialized / 6 skipped", first)
	}

	second, err := svc.InitializeOrganizationBalances(context.Background(), testOrg, 2025)
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if second.BalancesInitialized != 0 || second.Skipped != 6 {
		t.Fatalf("second init = %+v, want identical skip counts", second)
	}
}

func TestInitializeRejectsYearOutOfRange(t *testing.T) {
	svc, _ := testService("emp-1")
	if _, err := svc.InitializeOrganizationBalances(context.Background(), testOrg, 1999); !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("year 1999 err = %v, want ErrValidation", err)
	}
	if _, err := svc.InitializeOrganizationBalances(context.Background(), testOrg, 2101); !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("year 2101 err = %v, want ErrValidation", err)
	}
}

func TestInitializeAppliesCappedCarryForward(t *testing.T) {
	svc, store := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{
		LeaveType:        "annual",
		DefaultAllowance: 20,
		CarryForward:     true,
		MaxCarryForward:  5,
	})

	// 2024 balance ends the year with 12 days remaining; only 5 carry over.
	if _, err := store.InsertBalance(context.Background(), leave.LeaveBalance{
		OrgID: testOrg, EmployeeID: "emp-1", LeaveType: "annual", Year: 2024,
		TotalAllowed: 20, Used: 8, Remaining: 12, Status: leave.BalanceActive,
	}); err != nil {
		t.Fatalf("seed 2024 balance: %v", err)
	}
	// Remove the 2025 row the policy backfill created so init re-derives it.
	delete(store.Balances, leavetest.BalanceKey(testOrg, "emp-1", "annual", 2025))

	summary, err := svc.InitializeOrganizationBalances(context.Background(), testOrg, 2025)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if summary.BalancesInitialized != 1 {
		t.Fatalf("initialized = %d, want 1", summary.BalancesInitialized)
	}

	b, err := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.TotalAllowed != 25 || b.Remaining != 25 {
		t.Fatalf("2025 balance = %d/%d, want 25/25 (20 + capped 5)", b.TotalAllowed, b.Remaining)
	}
}

func TestUpdatePolicyPropagatesAllowanceDelta(t *testing.T) {
	svc, store := testService("emp-1", "emp-2")
	p := mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "sick", DefaultAllowance: 10})

	// emp-1 has used some days; the delta must preserve used.
	if _, err := svc.ConsumeBalance(context.Background(), testOrg, "emp-1", "annual", 4); err != nil {
		t.Fatalf("consume: %v", err)
	}

	// A closed prior-year balance must not be touched by propagation.
	if _, err := store.InsertBalance(context.Background(), leave.LeaveBalance{
		OrgID: testOrg, EmployeeID: "emp-1", LeaveType: "annual", Year: 2024,
		TotalAllowed: 20, Used: 20, Remaining: 0, Status: leave.BalanceActive,
	}); err != nil {
		t.Fatalf("seed 2024 balance: %v", err)
	}

	newAllowance := 25
	_, summary, err := svc.UpdatePolicy(context.Background(), testOrg, p.ID, leave.PolicyUpdate{DefaultAllowance: &newAllowance})
	if err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	if summary.BalancesUpdated != 2 {
		t.Fatalf("updated = %d, want 2", summary.BalancesUpdated)
	}

	b, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if b.TotalAllowed != 25 || b.Used != 4 || b.Remaining != 21 {
		t.Fatalf("emp-1 annual = %d/%d/%d, want 25/4/21", b.TotalAllowed, b.Used, b.Remaining)
	}
	// Other leave types are untouched.
	sick, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "sick", 2025)
	if sick.TotalAllowed != 10 {
		t.Fatalf("sick totalAllowed = %d, want 10", sick.TotalAllowed)
	}
	// Prior-year balances are history and keep their allowance.
	old, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2024)
	if old.TotalAllowed != 20 {
		t.Fatalf("2024 totalAllowed = %d, want 20 untouched", old.TotalAllowed)
	}
}

func TestUpdatePolicyNoopWithoutAllowanceChange(t *testing.T) {
	svc, _ := testService("emp-1")
	p := mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	cf := true
	maxCF := 3
	updated, summary, err := svc.UpdatePolicy(context.Background(), testOrg, p.ID, leave.PolicyUpdate{CarryForward: &cf, MaxCarryForward: &maxCF})
	if err != nil {
		t.Fatalf("UpdatePolicy: %v", err)
	}
	if !updated.CarryForward || updated.MaxCarryForward != 3 {
		t.Fatalf("patch not applied: %+v", updated)
	}
	if summary.BalancesUpdated != 0 {
		t.Fatalf("updated = %d, want 0 when allowance is unchanged", summary.BalancesUpdated)
	}
}

func TestUpdateRetiredPolicyNotFound(t *testing.T) {
	svc, _ := testService("emp-1")
	p := mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})
	if err := svc.RetirePolicy(context.Background(), testOrg, p.ID); err != nil {
		t.Fatalf("RetirePolicy: %v", err)
	}

	newAllowance := 30
	if _, _, err := svc.UpdatePolicy(context.Background(), testOrg, p.ID, leave.PolicyUpdate{DefaultAllowance: &newAllowance}); !errors.Is(err, leave.ErrNotFound) {
		t.Fatalf("update retired err = %v, want ErrNotFound", err)
	}
}

func TestPropagationSkipsRowsBelowUsed(t *testing.T) {
	svc, store := testService("emp-1", "emp-2")
	p := mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	// emp-1 has used 18 days; dropping the allowance to 15 would leave
	// total < used, so that row must be skipped and reported.
	if _, err := svc.ConsumeBalance(context.Background(), testOrg, "emp-1", "annual", 18); err != nil {
		t.Fatalf("consume: %v", err)
	}

	newAllowance := 15
	_, summary, err := svc.UpdatePolicy(context.Background(), testOrg, p.ID, leave.PolicyUpdate{DefaultAllowance: &newAllowance})
	if !errors.Is(err, leave.ErrInvariantViolation) {
		t.Fatalf("err = %v, want ErrInvariantViolation", err)
	}
	if summary.BalancesUpdated != 1 || len(summary.Failures) != 1 {
		t.Fatalf("summary = %+v, want 1 updated / 1 failure", summary)
	}
	if summary.Failures[0].EmployeeID != "emp-1" {
		t.Fatalf("failure employee = %s, want emp-1", summary.Failures[0].EmployeeID)
	}

	// The violating row is untouched; the clean row got the delta.
	b1, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if b1.TotalAllowed != 20 || b1.Used != 18 {
		t.Fatalf("emp-1 = %d/%d, want untouched 20/18", b1.TotalAllowed, b1.Used)
	}
	b2, _ := store.GetBalance(context.Background(), testOrg, "emp-2", "annual", 2025)
	if b2.TotalAllowed != 15 || b2.Remaining != 15 {
		t.Fatalf("emp-2 = %d/%d, want 15/15", b2.TotalAllowed, b2.Remaining)
	}
}

func TestAdjustEmployeeBalance(t *testing.T) {
	svc, _ := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	b, err := svc.AdjustEmployeeBalance(context.Background(), testOrg, "emp-1", "annual", 3, "relocation bonus days", "hr-1")
	if err != nil {
		t.Fatalf("adjust +3: %v", err)
	}
	if b.TotalAllowed != 23 || b.Remaining != 23 || b.Used != 0 {
		t.Fatalf("balance = %d/%d/%d, want 23/0/23", b.TotalAllowed, b.Used, b.Remaining)
	}

	b, err = svc.AdjustEmployeeBalance(context.Background(), testOrg, "emp-1", "annual", -5, "correction", "hr-1")
	if err != nil {
		t.Fatalf("adjust -5: %v", err)
	}
	if b.TotalAllowed != 18 || b.Remaining != 18 {
		t.Fatalf("balance = %d/%d, want 18/18", b.TotalAllowed, b.Remaining)
	}

	adjs, err := svc.ListAdjustments(context.Background(), testOrg, "emp-1", 0, 0)
	if err != nil {
		t.Fatalf("ListAdjustments: %v", err)
	}
	if len(adjs) != 2 {
		t.Fatalf("adjustments = %d, want 2", len(adjs))
	}
	// Newest entry leads.
	if adjs[0].Delta != -5 || adjs[0].Reason != "correction" {
		t.Fatalf("first adjustment = %+v, want the -5 correction", adjs[0])
	}
	if adjs[1].Delta != 3 || adjs[1].Reason != "relocation bonus days" || adjs[1].ActorID != "hr-1" {
		t.Fatalf("second adjustment = %+v", adjs[1])
	}
}

func TestAdjustRejections(t *testing.T) {
	svc, _ := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	ctx := context.Background()
	if _, err := svc.AdjustEmployeeBalance(ctx, testOrg, "emp-1", "annual", 3, "   ", "hr-1"); !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("blank reason err = %v, want ErrValidation", err)
	}
	if _, err := svc.AdjustEmployeeBalance(ctx, testOrg, "emp-1", "parental", 3, "x", "hr-1"); !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("unknown type err = %v, want ErrValidation", err)
	}
	if _, err := svc.AdjustEmployeeBalance(ctx, testOrg, "emp-1", "annual", 400, "x", "hr-1"); !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("out-of-bounds err = %v, want ErrValidation", err)
	}
	if _, err := svc.AdjustEmployeeBalance(ctx, testOrg, "emp-1", "annual", -25, "x", "hr-1"); !errors.Is(err, leave.ErrInsufficientBalance) {
		t.Fatalf("over-deduct err = %v, want ErrInsufficientBalance", err)
	}
	if _, err := svc.AdjustEmployeeBalance(ctx, testOrg, "emp-2", "annual", 3, "x", "hr-1"); !errors.Is(err, leave.ErrNotFound) {
		t.Fatalf("missing balance err = %v, want ErrNotFound", err)
	}
}

func TestSyncCreatesCorrectsAndSettles(t *testing.T) {
	svc, store := testService("emp-1", "emp-2")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "sick", DefaultAllowance: 10})

	// Simulate a missed propagation: emp-1's annual row drifted low, and
	// emp-2's sick row was never created.
	key := leavetest.BalanceKey(testOrg, "emp-1", "annual", 2025)
	drifted := store.Balances[key]
	drifted.TotalAllowed = 15
	drifted.Remaining = 15
	store.Balances[key] = drifted
	delete(store.Balances, leavetest.BalanceKey(testOrg, "emp-2", "sick", 2025))

	summary, err := svc.SyncAllEmployeeLeaveBalances(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.BalancesCreated != 1 || summary.BalancesReconciled != 1 || summary.Unchanged != 2 {
		t.Fatalf("sync = %+v, want 1 created / 1 corrected / 2 unchanged", summary)
	}

	fixed, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if fixed.TotalAllowed != 20 || fixed.Remaining != 20 {
		t.Fatalf("corrected balance = %d/%d, want 20/20", fixed.TotalAllowed, fixed.Remaining)
	}

	again, err := svc.SyncAllEmployeeLeaveBalances(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if again.BalancesCreated != 0 || again.BalancesReconciled != 0 || again.Unchanged != 4 {
		t.Fatalf("second sync = %+v, want all unchanged", again)
	}
}

func TestSyncPreservesUsedDays(t *testing.T) {
	svc, store := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	if _, err := svc.ConsumeBalance(context.Background(), testOrg, "emp-1", "annual", 7); err != nil {
		t.Fatalf("consume: %v", err)
	}

	summary, err := svc.SyncAllEmployeeLeaveBalances(context.Background(), testOrg)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if summary.Unchanged != 1 {
		t.Fatalf("sync = %+v, want consumption left alone", summary)
	}
	b, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if b.Used != 7 || b.Remaining != 13 {
		t.Fatalf("balance = %d used / %d remaining, want 7/13", b.Used, b.Remaining)
	}
}

func TestYearRolloverEndToEnd(t *testing.T) {
	svc, store := testService("emp-1")
	svc.Now = func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) }

	mustCreatePolicy(t, svc, leave.PolicyInput{
		LeaveType:        "annual",
		DefaultAllowance: 20,
		CarryForward:     true,
		MaxCarryForward:  5,
	})
	if _, err := svc.ConsumeBalance(context.Background(), testOrg, "emp-1", "annual", 8); err != nil {
		t.Fatalf("consume 2024: %v", err)
	}

	// The year turns; initialization for 2025 carries min(12, 5) forward.
	svc.Now = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	summary, err := svc.InitializeOrganizationBalances(context.Background(), testOrg, 2025)
	if err != nil {
		t.Fatalf("init 2025: %v", err)
	}
	if summary.BalancesInitialized != 1 {
		t.Fatalf("initialized = %d, want 1", summary.BalancesInitialized)
	}

	b, err := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2025)
	if err != nil {
		t.Fatalf("GetBalance 2025: %v", err)
	}
	if b.TotalAllowed != 25 || b.Used != 0 || b.Remaining != 25 {
		t.Fatalf("2025 balance = %d/%d/%d, want 25/0/25", b.TotalAllowed, b.Used, b.Remaining)
	}

	// The 2024 row is history and stays exactly as the year ended.
	prior, _ := store.GetBalance(context.Background(), testOrg, "emp-1", "annual", 2024)
	if prior.Used != 8 || prior.Remaining != 12 {
		t.Fatalf("2024 balance = %d/%d, want 8/12 untouched", prior.Used, prior.Remaining)
	}
}

func TestGetBalancesDefaultsToCurrentYear(t *testing.T) {
	svc, _ := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	balances, err := svc.GetBalances(context.Background(), testOrg, "", 0)
	if err != nil {
		t.Fatalf("GetBalances: %v", err)
	}
	if len(balances) != 1 || balances[0].Year != 2025 {
		t.Fatalf("balances = %+v, want one 2025 row", balances)
	}

	if _, err := svc.GetBalances(context.Background(), testOrg, "", 3000); !errors.Is(err, leave.ErrValidation) {
		t.Fatalf("year 3000 err = %v, want ErrValidation", err)
	}
}

func TestStaleWriterGetsConcurrencyConflict(t *testing.T) {
	svc, store := testService("emp-1")
	mustCreatePolicy(t, svc, leave.PolicyInput{LeaveType: "annual", DefaultAllowance: 20})

	ctx := context.Background()
	stale, err := store.GetBalance(ctx, testOrg, "emp-1", "annual", 2025)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}

	// Another writer lands first and bumps the version.
	if _, err := svc.ConsumeBalance(ctx, testOrg, "emp-1", "annual", 3); err != nil {
		t.Fatalf("consume: %v", err)
	}

	stale.Remaining = 0
	stale.Used = stale.TotalAllowed
	if _, err := store.UpdateBalance(ctx, stale); !errors.Is(err, leave.ErrConcurrencyConflict) {
		t.Fatalf("stale update err = %v, want ErrConcurrencyConflict", err)
	}

	// The winning writer's state survives untouched.
	b, err := store.GetBalance(ctx, testOrg, "emp-1", "annual", 2025)
	if err != nil {
		t.Fatalf("GetBalance after conflict: %v", err)
	}
	if b.Used != 3 || b.Remaining != 17 {
		t.Fatalf("balance = %d/%d, want 3/17", b.Used, b.Remaining)
	}
}
