package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harnessforge/harnessforge/internal/domain/session"
	"github.com/harnessforge/harnessforge/internal/domain/target"
	"github.com/harnessforge/harnessforge/internal/port/progress"
)

// Runner executes one session.
type Runner interface {
	Run(ctx context.Context, task target.Task, iteration int) *session.Session
}

// Job is one (task, iteration) session to run.
type Job struct {
	Task      target.Task
	Iteration int
}

// Summary counts the outcomes of a scheduler run.
type Summary struct {
	Planned        int `json:"planned"`
	Skipped        int `json:"skipped"`
	Succeeded      int `json:"succeeded"`
	Failed         int `json:"failed"`
	BudgetExceeded int `json:"budget_exceeded"`
	Interrupted    int `json:"interrupted"`
}

// Scheduler expands tasks into session jobs and runs them on a bounded
// worker pool. Solved signatures and completed iterations are skipped, so an
// interrupted run resumes where it stopped.
type Scheduler struct {
	runner     Runner
	store      progress.Store
	workers    int
	iterations int
}

// NewScheduler creates a Scheduler.
func NewScheduler(runner Runner, store progress.Store, workers, iterations int) *Scheduler {
	return &Scheduler{
		runner:     runner,
		store:      store,
		workers:    max(workers, 1),
		iterations: max(iterations, 1),
	}
}

// Plan returns the jobs still to run for tasks, in task order.
func (s *Scheduler) Plan(ctx context.Context, tasks []target.Task) ([]Job, error) {
	var jobs []Job
	for _, t := range tasks {
		solved, err := s.store.Solved(ctx, t.Key)
		if err != nil {
			return nil, fmt.Errorf("check %s/%s: %w", t.Project, t.Function, err)
		}
		if solved {
			slog.Info("skipping solved function", "project", t.Project, "function", t.Function)
			continue
		}
		last, err := s.store.LastIteration(ctx, t.Project, t.Key)
		if err != nil {
			return nil, fmt.Errorf("progress of %s/%s: %w", t.Project, t.Function, err)
		}
		for it := last + 1; it < s.iterations; it++ {
			jobs = append(jobs, Job{Task: t, Iteration: it})
		}
	}
	return jobs, nil
}

// Run plans and executes every pending job. It returns when all jobs are done
// or ctx is cancelled. Sessions interrupted by cancellation are not recorded
// and run again on the next start.
func (s *Scheduler) Run(ctx context.Context, tasks []target.Task) (Summary, error) {
	jobs, err := s.Plan(ctx, tasks)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Planned: len(jobs)}
	slog.Info("scheduling sessions", "jobs", len(jobs), "workers", s.workers)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if solved, err := s.store.Solved(ctx, job.Task.Key); err == nil && solved {
				mu.Lock()
				sum.Skipped++
				mu.Unlock()
				return nil
			}

			sess := s.runner.Run(ctx, job.Task, job.Iteration)

			mu.Lock()
			defer mu.Unlock()
			if ctx.Err() != nil && sess.Result.Status != session.StatusSuccess {
				sum.Interrupted++
				return nil
			}
			switch sess.Result.Status {
			case session.StatusSuccess:
				sum.Succeeded++
			case session.StatusBudgetExceeded:
				sum.BudgetExceeded++
			default:
				sum.Failed++
			}
			return s.record(context.WithoutCancel(ctx), sess)
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}
	if ctx.Err() != nil {
		return sum, ctx.Err()
	}
	return sum, nil
}

func (s *Scheduler) record(ctx context.Context, sess *session.Session) error {
	rec := progress.Record{
		Project:    sess.Task.Project,
		Function:   sess.Task.Function,
		Signature:  sess.Task.Signature,
		Key:        sess.Task.Key,
		Iteration:  sess.Iteration,
		SessionID:  sess.ID,
		Status:     string(sess.Result.Status),
		Reason:     sess.Result.Reason,
		FixCount:   sess.Budgets.FixCount,
		FinishedAt: sess.FinishedAt,
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	if sess.Result.Status == session.StatusSuccess {
		rec.Harness = sess.Harness
	}
	if err := s.store.Complete(ctx, rec); err != nil {
		return fmt.Errorf("record session %s: %w", sess.ID, err)
	}
	return nil
}
