package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/cardvault/marketplace-backend/pkg/logger"
)

type recordingPruner struct {
	cutoff   time.Time
	attempts int
	calls    int
	err      error
}

func (p *recordingPruner) DeletePublishedBefore(_ context.Context, _ *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	p.calls++
	p.cutoff = cutoff
	p.attempts = minAttemptCount
	return 3, p.err
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

func newRetentionJob(t *testing.T, pruner *recordingPruner, now time.Time) *OutboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionParams{
		Logger:         logger.Nop(),
		DB:             passthroughTx{},
		Outbox:         pruner,
		Retention:      30 * 24 * time.Hour,
		ParkedAttempts: 10,
		Now:            func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return job
}

func TestOutboxRetentionUsesRetentionWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	pruner := &recordingPruner{}
	job := newRetentionJob(t, pruner, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-30 * 24 * time.Hour); !pruner.cutoff.Equal(want) {
		t.Fatalf("cutoff = %s, want %s", pruner.cutoff, want)
	}
	if pruner.attempts != 10 {
		t.Fatalf("attempts = %d, want 10", pruner.attempts)
	}
	if pruner.calls != 1 {
		t.Fatalf("calls = %d, want 1", pruner.calls)
	}
}

func TestOutboxRetentionWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	job := newRetentionJob(t, &recordingPruner{err: boom}, time.Now())

	if err := job.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want wrapped boom", err)
	}
}

func TestOutboxRetentionValidatesParams(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionParams{
		Logger: logger.Nop(),
		DB:     passthroughTx{},
		Outbox: &recordingPruner{},
	})
	if err == nil {
		t.Fatal("expected error for zero retention")
	}
}
