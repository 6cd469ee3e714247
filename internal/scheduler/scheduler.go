// Package scheduler provides wall-clock triggers for AlterEgo.
//
// Jobs are registered with standard 5-field cron expressions and evaluated in
// the scheduler's time zone.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	loc  *time.Location

	mu    sync.Mutex
	named map[string]cron.EntryID
}

// Option configures a Scheduler.
type Option func(*schedulerOpts)

type schedulerOpts struct {
	loc *time.Location
}

// WithLocation evaluates cron expressions in loc instead of the local zone.
func WithLocation(loc *time.Location) Option {
	return func(o *schedulerOpts) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	cfg := schedulerOpts{loc: time.Local}
	for _, opt := range opts {
		opt(&cfg)
	}
	// Use standard 5-field cron parser (min, hour, dom, month, dow) and enable recovery
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(cfg.loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	c.Start()
	return &Scheduler{cron: c, loc: cfg.loc, named: make(map[string]cron.EntryID)}
}

// Location returns the zone cron expressions are evaluated in.
func (s *Scheduler) Location() *time.Location {
	return s.loc
}

// AddNamedJob schedules a task under a unique name so its next run can be queried.
func (s *Scheduler) AddNamedJob(name, expr string, task func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.named[name]; exists {
		return fmt.Errorf("job %q already scheduled", name)
	}
	id, err := s.cron.AddFunc(expr, task)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q for job %q: %w", expr, name, err)
	}
	s.named[name] = id
	return nil
}

// Next returns the next activation time of a named job.
func (s *Scheduler) Next(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.named[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	e := s.cron.Entry(id)
	if !e.Valid() {
		return time.Time{}, false
	}
	return e.Next, true
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
