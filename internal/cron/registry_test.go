package cron

import (
	"context"
	"testing"
)

type namedJob string

func (n namedJob) Name() string              { return string(n) }
func (n namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"sweep", "retention"} {
		if err := registry.Register(namedJob(name)); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	if err := registry.Register(namedJob("sweep")); err == nil {
		t.Fatal("expected duplicate name to be rejected")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected nil job to be rejected")
	}

	jobs := registry.Jobs()
	if len(jobs) != 2 || jobs[0].Name() != "sweep" || jobs[1].Name() != "retention" {
		t.Fatalf("unexpected jobs %v", jobs)
	}
	jobs[0] = nil
	if registry.Jobs()[0] == nil {
		t.Fatal("Jobs leaked the internal slice")
	}
}
