package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"hrleave/internal/domain/leave"
	"hrleave/internal/platform/config"
)

const JobBalanceSync = "balance_sync"

// BalanceSyncer is the reconciliation entry point the scheduler drives.
type BalanceSyncer interface {
	SyncAllEmployeeLeaveBalances(ctx context.Context, orgID string) (leave.SyncSummary, error)
}

type Service struct {
	DB     *pgxpool.Pool
	Cfg    config.Config
	Syncer BalanceSyncer
	queue  chan job
}

type job struct {
	Type  string
	OrgID string
	Run   func(context.Context) (any, error)
}

func New(db *pgxpool.Pool, cfg config.Config, syncer BalanceSyncer) *Service {
	return &Service{
		DB:     db,
		Cfg:    cfg,
		Syncer: syncer,
		queue:  make(chan job, 128),
	}
}

func (s *Service) Start(ctx context.Context) {
	go s.worker(ctx)
	if s.Cfg.BalanceSyncInterval > 0 {
		go s.scheduleBalanceSync(ctx, s.Cfg.BalanceSyncInterval)
	}
}

func (s *Service) Enqueue(jobType, orgID string, run func(context.Context) (any, error)) {
	select {
	case s.queue <- job{Type: jobType, OrgID: orgID, Run: run}:
	default:
		slog.Warn("job queue full", "jobType", jobType, "orgId", orgID)
	}
}

func (s *Service) RunNow(ctx context.Context, jobType, orgID string, run func(context.Context) (any, error)) (any, error) {
	return s.runJob(ctx, job{Type: jobType, OrgID: orgID, Run: run})
}

func (s *Service) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			if _, err := s.runJob(ctx, j); err != nil {
				slog.Warn("job run failed", "jobType", j.Type, "orgId", j.OrgID, "err", err)
			}
		}
	}
}

func (s *Service) runJob(ctx context.Context, j job) (any, error) {
	runID := ""
	if err := s.DB.QueryRow(ctx, `
    INSERT INTO job_runs (org_id, job_type, status)
    VALUES ($1,$2,$3)
    RETURNING id
  `, j.OrgID, j.Type, "running").Scan(&runID); err != nil {
		slog.Warn("job run insert failed", "err", err)
	}

	details, err := j.Run(ctx)
	status := "completed"
	if err != nil {
		status = "failed"
	}
	detailsJSON, marshalErr := json.Marshal(details)
	if marshalErr != nil {
		slog.Warn("job details marshal failed", "err", marshalErr)
		detailsJSON = []byte("{}")
	}
	if runID != "" {
		if _, updErr := s.DB.Exec(ctx, `
      UPDATE job_runs
      SET status = $1, details_json = $2, completed_at = now()
      WHERE id = $3
    `, status, detailsJSON, runID); updErr != nil {
			slog.Warn("job run update failed", "err", updErr)
		}
	}
	return details, err
}

func (s *Service) scheduleBalanceSync(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			orgs, err := s.listOrganizations(ctx)
			if err != nil {
				slog.Warn("sync scheduler org lookup failed", "err", err)
				continue
			}
			for _, orgID := range orgs {
				org := orgID
				s.Enqueue(JobBalanceSync, org, func(ctx context.Context) (any, error) {
					return s.Syncer.SyncAllEmployeeLeaveBalances(ctx, org)
				})
			}
		}
	}
}

func (s *Service) listOrganizations(ctx context.Context) ([]string, error) {
	rows, err := s.DB.Query(ctx, `SELECT id FROM organizations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
