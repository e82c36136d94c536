package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"hrleave/internal/platform/config"
)

// Seed creates a demo organization with a small roster and the two standard
// policies, so a fresh environment has data to exercise. It is a no-op when
// the organization already exists.
func Seed(ctx context.Context, pool *pgxpool.Pool, cfg config.Config) error {
	orgID, created, err := ensureOrganization(ctx, pool, cfg.SeedOrgName)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	employees := [][2]string{
		{"Amara", "Osei"},
		{"Jonas", "Lindqvist"},
		{"Priya", "Raman"},
	}
	for _, name := range employees {
		email := firstLower(name[0]) + "." + firstLower(name[1]) + "@example.com"
		if _, err := pool.Exec(ctx, `
      INSERT INTO employees (org_id, first_name, last_name, email, status)
      VALUES ($1,$2,$3,$4,'active')
      ON CONFLICT (org_id, email) DO NOTHING
    `, orgID, name[0], name[1], email); err != nil {
			return err
		}
	}

	policies := []struct {
		leaveType    string
		allowance    int
		carryForward bool
		maxCarry     int
	}{
		{"annual", 20, true, 5},
		{"sick", 10, false, 0},
	}
	for _, p := range policies {
		if _, err := pool.Exec(ctx, `
      INSERT INTO leave_policies (org_id, leave_type, default_allowance, carry_forward, max_carry_forward, status)
      VALUES ($1,$2,$3,$4,$5,'active')
      ON CONFLICT DO NOTHING
    `, orgID, p.leaveType, p.allowance, p.carryForward, p.maxCarry); err != nil {
			return err
		}
	}

	return nil
}

func ensureOrganization(ctx context.Context, pool *pgxpool.Pool, name string) (string, bool, error) {
	var id string
	err := pool.QueryRow(ctx, "SELECT id FROM organizations WHERE name = $1", name).Scan(&id)
	if err == nil {
		return id, false, nil
	}
	if err != pgx.ErrNoRows {
		return "", false, err
	}

	if err := pool.QueryRow(ctx, "INSERT INTO organizations (name) VALUES ($1) RETURNING id", name).Scan(&id); err != nil {
		return "", false, err
	}
	return id, true, nil
}

func firstLower(s string) string {
	if s == "" {
		return s
	}
	b := []byte(s)
	if b[0] >= 'A' && b[0] <= 'Z' {
		b[0] += 'a' - 'A'
	}
	return string(b)
}
