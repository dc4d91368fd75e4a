// Package scheduler fires periodic per-tenant tasks in process.
//
// A tenant task never overlaps itself: a tick that finds the previous run for
// the same tenant still in flight is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

var ErrTaskExists = errors.New("scheduler: task already exists")

// TenantLister returns the tenants to fan out to on each tick.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]storage.Tenant, error)
}

// TenantFunc runs one task for one tenant.
type TenantFunc func(ctx context.Context, tenantID string) error

type Task struct {
	Name       string
	Interval   time.Duration
	Timeout    time.Duration
	RunOnStart bool
	Run        TenantFunc
}

// Status is the last observed outcome of a task for one tenant.
type Status struct {
	Task      string        `json:"task"`
	TenantID  string        `json:"tenantId"`
	Runs      int64         `json:"runs"`
	Skipped   int64         `json:"skipped"`
	LastStart time.Time     `json:"lastStart"`
	LastTook  time.Duration `json:"lastTook"`
	LastError string        `json:"lastError,omitempty"`
}

type Scheduler struct {
	tenants TenantLister
	logger  *slog.Logger

	mu       sync.Mutex
	tasks    []Task
	inflight map[string]bool
	status   map[string]*Status
	wg       sync.WaitGroup
}

func New(tenants TenantLister, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tenants:  tenants,
		logger:   logger,
		inflight: make(map[string]bool),
		status:   make(map[string]*Status),
	}
}

// Register adds a task. It must be called before Run.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return fmt.Errorf("scheduler: task needs a name and a run func")
	}
	if t.Interval <= 0 {
		return fmt.Errorf("scheduler: task %s: interval must be positive", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.tasks {
		if existing.Name == t.Name {
			return fmt.Errorf("%w: %s", ErrTaskExists, t.Name)
		}
	}
	s.tasks = append(s.tasks, t)
	return nil
}

// Run ticks every registered task until ctx is cancelled, then waits for
// in-flight runs to return.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	var loops sync.WaitGroup
	for _, t := range tasks {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.loop(ctx, t)
		}()
	}
	loops.Wait()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	s.logger.Info("scheduled task started", "task", t.Name, "interval", t.Interval)
	if t.RunOnStart {
		s.Tick(ctx, t)
	}
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx, t)
		}
	}
}

// Tick starts t for every tenant that has no run of t in flight. It returns
// without waiting for the runs.
func (s *Scheduler) Tick(ctx context.Context, t Task) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		s.logger.Error("listing tenants", "task", t.Name, "error", err)
		return
	}
	for _, tn := range tenants {
		key := t.Name + "/" + tn.ID
		if !s.acquire(key, t.Name, tn.ID) {
			s.logger.Warn("previous run still in flight; tick skipped", "task", t.Name, "tenant_id", tn.ID)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runOne(ctx, t, tn.ID, key)
		}()
	}
}

// Wait blocks until every run started by Tick has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

// Snapshot returns the status of every task and tenant pair seen so far.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Status, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	return out
}

func (s *Scheduler) acquire(key, task, tenantID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.status[key]
	if !ok {
		st = &Status{Task: task, TenantID: tenantID}
		s.status[key] = st
	}
	if s.inflight[key] {
		st.Skipped++
		return false
	}
	s.inflight[key] = true
	st.Runs++
	st.LastStart = time.Now()
	return true
}

func (s *Scheduler) runOne(ctx context.Context, t Task, tenantID, key string) {
	start := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled task panicked", "task", t.Name, "tenant_id", tenantID,
				"panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
		s.mu.Lock()
		delete(s.inflight, key)
		st := s.status[key]
		st.LastTook = time.Since(start)
		st.LastError = ""
		if err != nil {
			st.LastError = err.Error()
		}
		s.mu.Unlock()
	}()

	if t.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.Timeout)
		defer cancel()
	}
	err = t.Run(ctx, tenantID)
	if err != nil {
		s.logger.Error("scheduled task failed", "task", t.Name, "tenant_id", tenantID, "error", err)
	}
}
