// Package pipeline runs the batch jobs that keep forecasts, matches,
// accuracy snapshots, stages and threshold proposals up to date.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rajasatyajit/ferrycast/config"
	apperrors "github.com/rajasatyajit/ferrycast/internal/errors"
	"github.com/rajasatyajit/ferrycast/internal/logger"
	"github.com/rajasatyajit/ferrycast/internal/metrics"
)

// Job is one named batch task. A zero Interval means the job only runs
// on demand.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

type funcJob struct {
	name     string
	interval time.Duration
	fn       func(ctx context.Context) error
}

// NewJob adapts a function into a Job.
func NewJob(name string, interval time.Duration, fn func(ctx context.Context) error) Job {
	return &funcJob{name: name, interval: interval, fn: fn}
}

func (j *funcJob) Name() string                  { return j.name }
func (j *funcJob) Interval() time.Duration       { return j.interval }
func (j *funcJob) Run(ctx context.Context) error { return j.fn(ctx) }

// Config tunes the runner.
type Config struct {
	WorkerCount   int
	RetryAttempts int
	RetryDelay    time.Duration
}

// ConfigFrom maps the jobs configuration.
func ConfigFrom(cfg config.JobsConfig) Config {
	return Config{WorkerCount: cfg.WorkerCount, RetryAttempts: cfg.RetryAttempts, RetryDelay: cfg.RetryDelay}
}

// RunResult describes the last execution of a job.
type RunResult struct {
	Job       string        `json:"job"`
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Attempts  int           `json:"attempts"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
}

// Runner schedules jobs on their intervals and serializes every execution,
// scheduled or manual, through a weighted semaphore.
type Runner struct {
	jobs    map[string]Job
	cfg     Config
	clock   clock.Clock
	sem     *semaphore.Weighted
	mu      sync.RWMutex
	running bool
	last    map[string]RunResult
}

// NewRunner creates a runner for jobs.
func NewRunner(cfg Config, clk clock.Clock, jobs ...Job) *Runner {
	if clk == nil {
		clk = clock.NewClock()
	}
	if cfg.WorkerCount < 1 {
		cfg.WorkerCount = 1
	}
	r := &Runner{
		jobs:  make(map[string]Job, len(jobs)),
		cfg:   cfg,
		clock: clk,
		sem:   semaphore.NewWeighted(int64(cfg.WorkerCount)),
		last:  make(map[string]RunResult),
	}
	for _, j := range jobs {
		r.jobs[j.Name()] = j
	}
	logger.Info("Job runner initialized", "jobs", len(r.jobs), "workers", cfg.WorkerCount)
	return r
}

// Jobs returns the registered job names, sorted.
func (r *Runner) Jobs() []string {
	names := make([]string, 0, len(r.jobs))
	for n := range r.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Run starts a poller per scheduled job and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner already running")
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	logger.Info("Starting job runner")

	var wg sync.WaitGroup
	for _, name := range r.Jobs() {
		job := r.jobs[name]
		if job.Interval() <= 0 {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.poll(ctx, job)
		}()
	}
	wg.Wait()

	logger.Info("Job runner stopped")
	return nil
}

// poll runs job immediately and then on every tick.
func (r *Runner) poll(ctx context.Context, job Job) {
	logger.Info("Starting job poller", "job", job.Name(), "interval", job.Interval())

	ticker := r.clock.NewTicker(job.Interval())
	defer ticker.Stop()

	if _, err := r.RunJob(ctx, job.Name()); err != nil {
		logger.Error("Initial job run failed", "job", job.Name(), "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("Job poller stopping", "job", job.Name())
			return
		case <-ticker.C():
			if _, err := r.RunJob(ctx, job.Name()); err != nil {
				logger.Error("Job run failed", "job", job.Name(), "error", err)
			}
		}
	}
}

// RunJob executes the named job once, retrying failed attempts with a
// linearly growing delay.
func (r *Runner) RunJob(ctx context.Context, name string) (RunResult, error) {
	job, ok := r.jobs[name]
	if !ok {
		return RunResult{}, fmt.Errorf("job %q: %w", name, apperrors.ErrNotFound)
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return RunResult{}, fmt.Errorf("acquire semaphore: %w", err)
	}
	defer r.sem.Release(1)

	res := RunResult{Job: name, RunID: uuid.NewString(), StartedAt: r.clock.Now().UTC()}
	ctx = logger.WithRun(ctx, name, res.RunID)
	log := logger.WithContext(ctx)

	var err error
	for attempt := 0; attempt <= r.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * r.cfg.RetryDelay
			log.Debug("Retrying job", "attempt", attempt, "delay", delay)
			if !r.sleep(ctx, delay) {
				break
			}
		}
		res.Attempts = attempt + 1
		if err = job.Run(ctx); err == nil {
			break
		}
		log.Warn("Job attempt failed", "attempt", attempt+1, "error", err)
	}

	res.Duration = r.clock.Since(res.StartedAt)
	res.Status = "success"
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		err = apperrors.JobError{Job: name, Stage: "run", Err: err}
	}
	metrics.RecordJobRun(name, res.Status, res.Duration)

	r.mu.Lock()
	r.last[name] = res
	r.mu.Unlock()

	if err == nil {
		log.Info("Job completed", "attempts", res.Attempts, "duration_ms", res.Duration.Milliseconds())
	}
	return res, err
}

// sleep waits for d on the runner clock; false means ctx ended first.
func (r *Runner) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-r.clock.After(d):
		return true
	}
}

// LastRuns returns the most recent result of every job that has run.
func (r *Runner) LastRuns() []RunResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RunResult, 0, len(r.last))
	for _, res := range r.last {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Job < out[j].Job })
	return out
}

// IsRunning returns whether the scheduler loop is active.
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}
