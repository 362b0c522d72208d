package ledger

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPrune(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	old := now.Add(-60 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	jobs := []struct {
		id        string
		submitted time.Time
		finish    func(string) error
	}{
		{"old-done", old, func(id string) error { return l.RecordCompleted(ctx, id) }},
		{"old-failed", old, func(id string) error { return l.RecordFailed(ctx, id, "boom") }},
		{"old-queued", old, nil},
		{"recent-done", recent, func(id string) error { return l.RecordCompleted(ctx, id) }},
	}
	for _, j := range jobs {
		if err := l.RecordSubmitted(ctx, Job{PromptID: j.id, ClientID: "c", SubmittedAt: j.submitted}); err != nil {
			t.Fatalf("RecordSubmitted(%s) failed: %v", j.id, err)
		}
		if j.finish != nil {
			if err := j.finish(j.id); err != nil {
				t.Fatalf("finish(%s) failed: %v", j.id, err)
			}
		}
	}
	artifacts := []ArtifactRecord{
		{PromptID: "old-done", NodeID: "9", Filename: "a.png"},
		{PromptID: "old-done", NodeID: "9", Filename: "b.png"},
		{PromptID: "recent-done", NodeID: "9", Filename: "a.png"},
	}
	for _, rec := range artifacts {
		if _, err := l.RecordArtifact(ctx, rec); err != nil {
			t.Fatalf("RecordArtifact failed: %v", err)
		}
	}

	result, err := l.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if result.JobsDeleted != 2 || result.ArtifactsDeleted != 2 {
		t.Errorf("Unexpected result %+v", result)
	}

	for _, id := range []string{"old-done", "old-failed"} {
		if _, err := l.GetJob(ctx, id); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("Expected %s to be pruned, got %v", id, err)
		}
	}
	for _, id := range []string{"old-queued", "recent-done"} {
		if _, err := l.GetJob(ctx, id); err != nil {
			t.Errorf("Expected %s to survive, got %v", id, err)
		}
	}

	records, err := l.ListArtifacts(ctx, "old-done")
	if err != nil {
		t.Fatalf("ListArtifacts failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected artifacts to cascade, got %d", len(records))
	}
}

func TestPrune_Validation(t *testing.T) {
	l := openTestLedger(t)

	if _, err := l.Prune(context.Background(), -time.Hour); err == nil {
		t.Error("Expected error for negative age")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := l.Prune(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	l.Close()
	if _, err := l.Prune(context.Background(), time.Hour); err == nil {
		t.Error("Expected error after Close")
	}
}
