package plugin

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const manageEvery = time.Minute

// Scheduler runs interval plugins from a single background worker. The job
// set lives in a SQLite file under the working directory so schedules
// survive restarts, and is reconciled against the registry once a minute:
// new plugins are added, removed ones unscheduled, and changed trigger
// descriptions rescheduled. Missed runs coalesce to one, and at most one
// run per plugin is in flight at a time.
type Scheduler struct {
	registry *Registry
	state    *State
	db       *sql.DB
	now      func() time.Time

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	inFlight map[string]bool
}

// NewScheduler opens (or creates) the job store at
// <workingDir>/plugin/scheduler/jobs.db.
func NewScheduler(workingDir string, registry *Registry, state *State) (*Scheduler, error) {
	dir := filepath.Join(workingDir, "plugin", "scheduler")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create scheduler dir: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "jobs.db"))
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			name TEXT PRIMARY KEY,
			trigger_description TEXT NOT NULL,
			interval_seconds INTEGER NOT NULL,
			next_run TIMESTAMP NOT NULL
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create job table: %w", err)
	}

	return &Scheduler{
		registry: registry,
		state:    state,
		db:       db,
		now:      time.Now,
		inFlight: make(map[string]bool),
	}, nil
}

// Start launches the background worker. It reconciles immediately and then
// polls for due jobs every second.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	if err := s.reconcile(ctx); err != nil {
		log.Printf("scheduler: initial reconcile: %v", err)
	}

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the worker and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.db.Close()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	manage := time.NewTicker(manageEvery)
	defer manage.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-manage.C:
			if err := s.reconcile(ctx); err != nil {
				log.Printf("scheduler: reconcile: %v", err)
			}
		case <-tick.C:
			if err := s.runDue(ctx); err != nil {
				log.Printf("scheduler: run due jobs: %v", err)
			}
		}
	}
}

// reconcile aligns the job table with the registry.
func (s *Scheduler) reconcile(ctx context.Context) error {
	want := make(map[string]Trigger)
	for _, p := range s.registry.Plugins() {
		t := p.Trigger()
		if t.Interval <= 0 {
			continue // cron-only plugin
		}
		if !p.Enabled() {
			continue
		}
		want[p.Name()] = t
	}

	rows, err := s.db.QueryContext(ctx, `SELECT name, trigger_description FROM jobs`)
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	have := make(map[string]string)
	for rows.Next() {
		var name, desc string
		if err := rows.Scan(&name, &desc); err != nil {
			rows.Close()
			return fmt.Errorf("scan job: %w", err)
		}
		have[name] = desc
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate jobs: %w", err)
	}

	now := s.now().UTC()
	for name, trigger := range want {
		desc, exists := have[name]
		switch {
		case !exists:
			log.Printf("scheduler: scheduling plugin %s (%s)", name, trigger.Description())
			if _, err := s.db.ExecContext(ctx, `
				INSERT INTO jobs (name, trigger_description, interval_seconds, next_run)
				VALUES (?, ?, ?, ?)`,
				name, trigger.Description(), int64(trigger.Interval.Seconds()), now.Add(trigger.Interval)); err != nil {
				return fmt.Errorf("insert job %s: %w", name, err)
			}
		case desc != trigger.Description():
			log.Printf("scheduler: rescheduling plugin %s (%s)", name, trigger.Description())
			if _, err := s.db.ExecContext(ctx, `
				UPDATE jobs SET trigger_description = ?, interval_seconds = ?, next_run = ?
				WHERE name = ?`,
				trigger.Description(), int64(trigger.Interval.Seconds()), now.Add(trigger.Interval), name); err != nil {
				return fmt.Errorf("update job %s: %w", name, err)
			}
		}
	}
	for name := range have {
		if _, ok := want[name]; !ok {
			log.Printf("scheduler: unscheduling plugin %s", name)
			if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE name = ?`, name); err != nil {
				return fmt.Errorf("delete job %s: %w", name, err)
			}
		}
	}
	return nil
}

// runDue launches every job whose next_run has passed. Advancing next_run
// before the run starts coalesces missed ticks into a single execution.
func (s *Scheduler) runDue(ctx context.Context) error {
	now := s.now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, interval_seconds FROM jobs WHERE next_run <= ?`, now)
	if err != nil {
		return fmt.Errorf("query due jobs: %w", err)
	}
	type due struct {
		name     string
		interval time.Duration
	}
	var dues []due
	for rows.Next() {
		var d due
		var secs int64
		if err := rows.Scan(&d.name, &secs); err != nil {
			rows.Close()
			return fmt.Errorf("scan due job: %w", err)
		}
		d.interval = time.Duration(secs) * time.Second
		dues = append(dues, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate due jobs: %w", err)
	}

	for _, d := range dues {
		if _, err := s.db.ExecContext(ctx, `UPDATE jobs SET next_run = ? WHERE name = ?`,
			now.Add(d.interval), d.name); err != nil {
			return fmt.Errorf("advance job %s: %w", d.name, err)
		}
		s.launch(ctx, d.name)
	}
	return nil
}

func (s *Scheduler) launch(ctx context.Context, name string) {
	p, ok := s.registry.Get(name)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.inFlight[name] {
		s.mu.Unlock()
		return
	}
	s.inFlight[name] = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.inFlight, name)
			s.mu.Unlock()
		}()

		if !p.Enabled() {
			return
		}
		started := s.now().UTC()
		if err := p.Run(ctx); err != nil {
			log.Printf("scheduler: plugin %s: %v", name, err)
			return
		}
		if err := s.state.MarkRun(name, started); err != nil {
			log.Printf("scheduler: mark run %s: %v", name, err)
		}
	}()
}
