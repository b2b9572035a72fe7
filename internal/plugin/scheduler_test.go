package plugin

import (
	"context"
	"testing"
	"time"
)

func newTestScheduler(t *testing.T, r *Registry) *Scheduler {
	t.Helper()
	dir := t.TempDir()
	state, err := NewState(dir)
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	s, err := NewScheduler(dir, r, state)
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	t.Cleanup(func() { s.db.Close() })
	return s
}

func (s *Scheduler) jobCount(t *testing.T) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&n); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	return n
}

func TestSchedulerReconcile(t *testing.T) {
	p := &fakePlugin{name: "worker", enabled: true, trigger: Trigger{Interval: time.Minute}}
	r := NewRegistry()
	r.Register(p)
	r.Register(&fakePlugin{name: "cron-only", enabled: true, trigger: Trigger{CronExpr: "0 1 * * *"}})
	r.Register(&fakePlugin{name: "disabled", enabled: false, trigger: Trigger{Interval: time.Minute}})

	s := newTestScheduler(t, r)
	if err := s.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := s.jobCount(t); got != 1 {
		t.Fatalf("job count = %d, want 1 (interval plugins only)", got)
	}

	// Changed trigger description reschedules rather than duplicating.
	p.trigger = Trigger{Interval: 2 * time.Minute}
	if err := s.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	var desc string
	if err := s.db.QueryRow(`SELECT trigger_description FROM jobs WHERE name = 'worker'`).Scan(&desc); err != nil {
		t.Fatalf("load job: %v", err)
	}
	if desc != "interval:2m0s" {
		t.Fatalf("trigger description = %q after reschedule", desc)
	}

	// A plugin that disappears from the registry is unscheduled.
	p.enabled = false
	if err := s.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if got := s.jobCount(t); got != 0 {
		t.Fatalf("job count = %d after disable, want 0", got)
	}
}

func TestSchedulerRunsDueJobs(t *testing.T) {
	p := &fakePlugin{name: "worker", enabled: true, trigger: Trigger{Interval: time.Minute}}
	r := NewRegistry()
	r.Register(p)

	s := newTestScheduler(t, r)
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// Not due yet.
	if err := s.runDue(context.Background()); err != nil {
		t.Fatalf("runDue: %v", err)
	}
	s.wg.Wait()
	if p.runs != 0 {
		t.Fatalf("plugin ran before its schedule (%d runs)", p.runs)
	}

	// Several missed ticks coalesce into one run.
	s.now = func() time.Time { return base.Add(10 * time.Minute) }
	if err := s.runDue(context.Background()); err != nil {
		t.Fatalf("runDue: %v", err)
	}
	s.wg.Wait()
	if p.runs != 1 {
		t.Fatalf("plugin runs = %d, want 1", p.runs)
	}

	last, err := s.state.LastRun("worker")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !last.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("LastRun = %v, want run start", last)
	}
}

func TestSchedulerSingleFlight(t *testing.T) {
	p := &fakePlugin{name: "worker", enabled: true, trigger: Trigger{Interval: time.Minute}}
	r := NewRegistry()
	r.Register(p)

	s := newTestScheduler(t, r)
	s.mu.Lock()
	s.inFlight["worker"] = true
	s.mu.Unlock()

	s.launch(context.Background(), "worker")
	s.wg.Wait()
	if p.runs != 0 {
		t.Fatalf("overlapping run launched (%d runs)", p.runs)
	}
}
