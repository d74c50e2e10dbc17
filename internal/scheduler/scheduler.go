// Package scheduler runs registered jobs on fixed intervals with a bounded
// worker pool. Job bookkeeping (last run, next run, paused) is persisted in
// SQLite so intervals survive restarts: a run missed while the process was
// down is coalesced into one catch-up run, and runs missed by more than the
// grace window are skipped to the next boundary instead.
package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

var (
	// ErrDuplicateJob is returned when a job id is registered twice.
	ErrDuplicateJob = errors.New("scheduler: duplicate job")
	// ErrUnknownJob is returned for operations on unregistered job ids.
	ErrUnknownJob = errors.New("scheduler: unknown job")
	// ErrJobRunning is returned when a manual trigger would overlap a run.
	ErrJobRunning = errors.New("scheduler: job already running")
)

const (
	defaultWorkers = 4
	defaultTick    = time.Second
	defaultGrace   = 5 * time.Minute
	workQueueSize  = 16
)

// JobFunc is the unit of scheduled work. The context is cancelled when the
// scheduler stops.
type JobFunc func(ctx context.Context) error

type job struct {
	id       string
	fn       JobFunc
	interval time.Duration
	lastRun  time.Time
	nextRun  time.Time
	paused   bool
	running  bool
}

// JobStatus is a snapshot of one registered job.
type JobStatus struct {
	ID       string        `json:"id"`
	Interval time.Duration `json:"interval"`
	LastRun  time.Time     `json:"last_run"`
	NextRun  time.Time     `json:"next_run"`
	Paused   bool          `json:"paused"`
	Running  bool          `json:"running"`
}

// Scheduler dispatches due jobs onto a fixed pool of workers. At most one
// instance of a job runs at any time.
type Scheduler struct {
	db     *sql.DB
	logger *slog.Logger

	workers int
	tick    time.Duration
	grace   time.Duration

	mu   sync.Mutex
	jobs map[string]*job

	work chan *job
	stop chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	// nowFunc is used for testing; defaults to time.Now.
	nowFunc func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTickInterval sets how often due jobs are checked.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithGrace sets the catch-up window for runs missed during downtime.
func WithGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.grace = d
		}
	}
}

// New creates a Scheduler persisting job state to db. The table is created
// on the spot so callers share the metric store's handle.
func New(db *sql.DB, logger *slog.Logger, opts ...Option) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		db:      db,
		logger:  logger,
		workers: defaultWorkers,
		tick:    defaultTick,
		grace:   defaultGrace,
		jobs:    make(map[string]*job),
		work:    make(chan *job, workQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		nowFunc: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduler_jobs (
			id TEXT PRIMARY KEY,
			interval_seconds INTEGER NOT NULL,
			last_run TEXT,
			next_run TEXT,
			paused INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("migrate scheduler_jobs: %w", err)
	}
	return nil
}

// AddJob registers a job. Persisted state from a previous process takes
// precedence over runImmediately: the next run is derived from the recorded
// last run, with missed runs coalesced per the grace window.
func (s *Scheduler) AddJob(id string, interval time.Duration, runImmediately bool, fn JobFunc) error {
	if interval <= 0 {
		return fmt.Errorf("scheduler: job %q: interval must be positive", id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, id)
	}

	now := s.nowFunc()
	j := &job{id: id, fn: fn, interval: interval}

	lastRun, paused, found, err := s.loadJob(id)
	if err != nil {
		return err
	}
	switch {
	case found && !lastRun.IsZero():
		j.lastRun = lastRun
		j.paused = paused
		j.nextRun = s.reschedule(lastRun.Add(interval), interval, now)
	case found:
		j.paused = paused
		j.nextRun = now.Add(interval)
	case runImmediately:
		j.nextRun = now
	default:
		j.nextRun = now.Add(interval)
	}

	if err := s.saveJob(j); err != nil {
		return err
	}
	s.jobs[id] = j
	s.logger.Info("job registered", "job_id", id, "interval", interval.String(),
		"next_run", j.nextRun.Format(time.RFC3339), "paused", j.paused)
	return nil
}

// reschedule applies the catch-up policy to an overdue next-run time. Any
// number of missed runs collapses into one; beyond the grace window the
// missed run is skipped entirely.
func (s *Scheduler) reschedule(next time.Time, interval time.Duration, now time.Time) time.Time {
	if next.After(now) {
		return next
	}
	if now.Sub(next) <= s.grace {
		return now
	}
	return now.Add(interval)
}

// RemoveJob unregisters a job and drops its bookkeeping. A run already in
// flight finishes but records nothing.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	delete(s.jobs, id)
	if _, err := s.db.Exec(`DELETE FROM scheduler_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return nil
}

// Pause keeps a job registered but stops scheduling it. An in-flight run
// finishes normally.
func (s *Scheduler) Pause(id string) error {
	return s.setPaused(id, true)
}

// Resume re-enables a paused job, applying the catch-up policy to any run
// that came due while paused.
func (s *Scheduler) Resume(id string) error {
	return s.setPaused(id, false)
}

func (s *Scheduler) setPaused(id string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	j.paused = paused
	if !paused {
		j.nextRun = s.reschedule(j.nextRun, j.interval, s.nowFunc())
	}
	return s.saveJob(j)
}

// RunNow triggers a job out of schedule, paused or not. Overlapping an
// in-flight run is refused with ErrJobRunning.
func (s *Scheduler) RunNow(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if j.running {
		return fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	j.running = true
	select {
	case s.work <- j:
		return nil
	default:
		j.running = false
		return fmt.Errorf("scheduler: job %q: worker queue full", id)
	}
}

// ListJobs returns all registered jobs sorted by id.
func (s *Scheduler) ListJobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, JobStatus{
			ID:       j.id,
			Interval: j.interval,
			LastRun:  j.lastRun,
			NextRun:  j.nextRun,
			Paused:   j.paused,
			Running:  j.running,
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Start launches the worker pool and the dispatch loop.
func (s *Scheduler) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	go s.run()
}

// Stop halts dispatching, cancels in-flight jobs, and waits for the pool to
// drain.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
	s.cancel()
	close(s.work)
	s.wg.Wait()
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.dispatch()
		}
	}
}

// dispatch hands every due job to the pool. A full queue leaves the job due;
// the next tick retries.
func (s *Scheduler) dispatch() {
	now := s.nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.paused || j.running || j.nextRun.After(now) {
			continue
		}
		j.running = true
		select {
		case s.work <- j:
		default:
			j.running = false
		}
	}
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for j := range s.work {
		s.runJob(j)
	}
}

func (s *Scheduler) runJob(j *job) {
	start := s.nowFunc()
	err := j.fn(s.ctx)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error("job failed", "job_id", j.id, "error", err, "duration", elapsed.String())
	} else {
		s.logger.Debug("job completed", "job_id", j.id, "duration", elapsed.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A job removed mid-run records nothing.
	if current, ok := s.jobs[j.id]; !ok || current != j {
		return
	}
	j.lastRun = start
	j.nextRun = start.Add(j.interval)
	j.running = false
	if err := s.saveJob(j); err != nil {
		s.logger.Error("job bookkeeping write failed", "job_id", j.id, "error", err)
	}
}

func (s *Scheduler) loadJob(id string) (lastRun time.Time, paused, found bool, err error) {
	var last sql.NullString
	var pausedInt int
	row := s.db.QueryRow(`SELECT last_run, paused FROM scheduler_jobs WHERE id = ?`, id)
	if scanErr := row.Scan(&last, &pausedInt); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return time.Time{}, false, false, nil
		}
		return time.Time{}, false, false, fmt.Errorf("load job %q: %w", id, scanErr)
	}
	if last.Valid {
		t, parseErr := time.Parse(time.RFC3339, last.String)
		if parseErr != nil {
			return time.Time{}, false, false, fmt.Errorf("load job %q: %w", id, parseErr)
		}
		lastRun = t
	}
	return lastRun, pausedInt != 0, true, nil
}

func (s *Scheduler) saveJob(j *job) error {
	var last any
	if !j.lastRun.IsZero() {
		last = j.lastRun.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduler_jobs (id, interval_seconds, last_run, next_run, paused)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			interval_seconds = excluded.interval_seconds,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			paused = excluded.paused`,
		j.id, int64(j.interval.Seconds()), last,
		j.nextRun.UTC().Format(time.RFC3339), boolToInt(j.paused))
	if err != nil {
		return fmt.Errorf("save job %q: %w", j.id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
