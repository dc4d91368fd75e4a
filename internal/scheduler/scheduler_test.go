package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codetix2020-hash/marketingdios-sub000/internal/storage"
)

type staticTenants []string

func (s staticTenants) ListTenants(ctx context.Context) ([]storage.Tenant, error) {
	out := make([]storage.Tenant, 0, len(s))
	for _, id := range s {
		out = append(out, storage.Tenant{ID: id})
	}
	return out, nil
}

type failingTenants struct{}

func (failingTenants) ListTenants(context.Context) ([]storage.Tenant, error) {
	return nil, errors.New("db locked")
}

func TestTickSkipsOverlappingRunPerTenant(t *testing.T) {
	s := New(staticTenants{"t1", "t2"}, nil)
	release := make(chan struct{})
	var mu sync.Mutex
	calls := map[string]int{}
	task := Task{Name: "orchestrate", Interval: time.Hour, Run: func(ctx context.Context, tenantID string) error {
		mu.Lock()
		calls[tenantID]++
		mu.Unlock()
		if tenantID == "t1" {
			<-release
		}
		return nil
	}}

	s.Tick(context.Background(), task)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls["t2"] == 1
	}, time.Second, 5*time.Millisecond)
	// Let t2 finish before ticking again.
	require.Eventually(t, func() bool {
		for _, st := range s.Snapshot() {
			if st.TenantID == "t2" && st.LastTook > 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	s.Tick(context.Background(), task)
	close(release)
	s.Wait()

	assert.Equal(t, 1, calls["t1"], "t1 was still running and must be skipped")
	assert.Equal(t, 2, calls["t2"])

	var skipped int64
	for _, st := range s.Snapshot() {
		if st.TenantID == "t1" {
			skipped = st.Skipped
		}
	}
	assert.EqualValues(t, 1, skipped)
}

func TestRunOneRecordsErrorAndPanic(t *testing.T) {
	s := New(staticTenants{"bad", "worse"}, nil)
	s.Tick(context.Background(), Task{Name: "learn", Interval: time.Hour, Run: func(ctx context.Context, tenantID string) error {
		if tenantID == "worse" {
			panic("boom")
		}
		return errors.New("upstream down")
	}})
	s.Wait()

	errs := map[string]string{}
	for _, st := range s.Snapshot() {
		errs[st.TenantID] = st.LastError
	}
	assert.Equal(t, "upstream down", errs["bad"])
	assert.Equal(t, "panic: boom", errs["worse"])
}

func TestTickListErrorRunsNothing(t *testing.T) {
	s := New(failingTenants{}, nil)
	var calls atomic.Int32
	s.Tick(context.Background(), Task{Name: "x", Interval: time.Hour, Run: func(context.Context, string) error {
		calls.Add(1)
		return nil
	}})
	s.Wait()
	assert.Zero(t, calls.Load())
}

func TestRegisterValidates(t *testing.T) {
	s := New(staticTenants{}, nil)
	noop := func(context.Context, string) error { return nil }

	assert.Error(t, s.Register(Task{Name: "a", Run: noop}))
	assert.Error(t, s.Register(Task{Interval: time.Second, Run: noop}))
	require.NoError(t, s.Register(Task{Name: "a", Interval: time.Second, Run: noop}))
	assert.ErrorIs(t, s.Register(Task{Name: "a", Interval: time.Second, Run: noop}), ErrTaskExists)
}

func TestRunTicksUntilCancelled(t *testing.T) {
	s := New(staticTenants{"t1"}, nil)
	var calls atomic.Int32
	require.NoError(t, s.Register(Task{
		Name:       "drain",
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
		Run: func(context.Context, string) error {
			calls.Add(1)
			return nil
		},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
