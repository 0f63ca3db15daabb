package cron

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"appcore/api/logger"
)

var log = logger.NewLogger("appcore.cron")

// Job is one periodic control-plane task.
type Job func(ctx context.Context) error

// Status describes a registered job for health and debugging endpoints.
type Status struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	LastRun   time.Time `json:"lastRun,omitempty"`
	LastError string    `json:"lastError,omitempty"`
	Runs      int       `json:"runs"`
}

type job struct {
	name string
	spec string
	fn   Job
	id   cron.EntryID

	running sync.Mutex
	lastRun time.Time
	lastErr error
	runs    int
}

// Scheduler runs named jobs on cron specs. A job never overlaps with
// itself; a tick that arrives while the previous run is still going is
// skipped.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]*job
}

func New() *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger{}))),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]*job),
	}
}

func (s *Scheduler) Register(name, spec string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("job %s already registered", name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.run(j) })
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", name, spec, err)
	}
	j.id = id
	s.jobs[name] = j
	log.Debugf("registered %s with %q", name, spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	log.Infof("scheduler started with %d jobs", len(s.Statuses()))
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	log.Infof("scheduler stopped")
}

// Trigger runs a job immediately on the calling goroutine. It reports
// false when the job is unknown or already running.
func (s *Scheduler) Trigger(name string) bool {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.run(j)
}

func (s *Scheduler) run(j *job) bool {
	if !j.running.TryLock() {
		log.Debugf("%s still running, skipping", j.name)
		return false
	}
	defer j.running.Unlock()

	start := time.Now()
	err := j.fn(s.ctx)

	s.mu.Lock()
	j.lastRun = start
	j.lastErr = err
	j.runs++
	s.mu.Unlock()

	if err != nil {
		log.WithFields(map[string]any{"job": j.name}).Warnf("run failed after %s: %v", time.Since(start), err)
	}
	return true
}

func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := Status{
			Name:    j.name,
			Spec:    j.spec,
			Next:    s.cron.Entry(j.id).Next,
			LastRun: j.lastRun,
			Runs:    j.runs,
		}
		if j.lastErr != nil {
			st.LastError = j.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// cronLogger routes robfig/cron's own messages into the scoped logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	log.Debugf("%s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	log.Errorf("%s %v: %v", msg, keysAndValues, err)
}
