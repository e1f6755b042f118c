package cron

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cardvault/marketplace-backend/pkg/logger"
)

type countingJob struct {
	name string
	err  error
	runs int
}

func (j *countingJob) Name() string { return j.name }

func (j *countingJob) Run(context.Context) error {
	j.runs++
	return j.err
}

type memLockStore struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemLockStore() *memLockStore { return &memLockStore{vals: map[string]string{}} }

func (m *memLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = value.(string)
	return true, nil
}

func (m *memLockStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memLockStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
	}
	return nil
}

func (m *memLockStore) LockKey(name string) string { return "cv:lock:" + name }

func newCronService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	registry := NewRegistry()
	for _, job := range jobs {
		if err := registry.Register(job); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: registry,
		Lock:     lock,
		Interval: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestRunOnceRunsEveryJobAndAggregatesFailures(t *testing.T) {
	store := newMemLockStore()
	lock, err := NewRedisLock(store, "cron", time.Minute)
	if err != nil {
		t.Fatalf("NewRedisLock: %v", err)
	}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	healthy := &countingJob{name: "healthy"}
	svc := newCronService(t, lock, failing, healthy)

	ran, err := svc.RunOnce(context.Background())
	if !ran {
		t.Fatal("expected cycle to run")
	}
	if err == nil || !strings.Contains(err.Error(), "failing") {
		t.Fatalf("expected aggregated failure, got %v", err)
	}
	if failing.runs != 1 || healthy.runs != 1 {
		t.Fatalf("runs = %d/%d, want 1/1", failing.runs, healthy.runs)
	}
	if _, held := store.vals["cv:lock:cron"]; held {
		t.Fatal("lock not released after cycle")
	}
}

func TestRunOnceSkipsWhenLockHeld(t *testing.T) {
	store := newMemLockStore()
	other, _ := NewRedisLock(store, "cron", time.Minute)
	if ok, _ := other.Acquire(context.Background()); !ok {
		t.Fatal("setup: expected to acquire")
	}
	mine, _ := NewRedisLock(store, "cron", time.Minute)
	job := &countingJob{name: "sweep"}
	svc := newCronService(t, mine, job)

	ran, err := svc.RunOnce(context.Background())
	if err != nil || ran {
		t.Fatalf("RunOnce = %v, %v; want skip", ran, err)
	}
	if job.runs != 0 {
		t.Fatal("job ran without the lock")
	}
}

func TestRedisLockReleaseKeepsForeignHolder(t *testing.T) {
	store := newMemLockStore()
	lock, _ := NewRedisLock(store, "cron", time.Minute)
	if ok, _ := lock.Acquire(context.Background()); !ok {
		t.Fatal("expected to acquire")
	}
	// Lease expired and another replica took over.
	store.vals["cv:lock:cron"] = "someone-else"

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if store.vals["cv:lock:cron"] != "someone-else" {
		t.Fatal("released a lock owned by another replica")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	lock, _ := NewRedisLock(newMemLockStore(), "cron", time.Minute)
	job := &countingJob{name: "sweep"}
	svc := newCronService(t, lock, job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v, want context.Canceled", err)
	}
}
