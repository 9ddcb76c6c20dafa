package service

import (
	"errors"
	"testing"
	"time"
)

// fakeClock drives the reporter's simulated stages without sleeping.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter() (*Reporter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r := NewReporter()
	r.now = clock.Now
	return r, clock
}

func TestReporterIdleBeforeStart(t *testing.T) {
	r, _ := newTestReporter()
	if got := r.Snapshot().Stage; got != StageIdle {
		t.Fatalf("Snapshot().Stage = %q, want idle", got)
	}
}

func TestReporterAdvancesThroughStages(t *testing.T) {
	r, clock := newTestReporter()
	r.Start()

	steps := []struct {
		advance time.Duration
		want    Stage
	}{
		{0, StageUploading},
		{2 * time.Second, StageChunking},   // t=2s
		{4 * time.Second, StageIndexing},   // t=6s
		{6 * time.Second, StageStoring},    // t=12s
		{4 * time.Second, StageProcessing}, // t=16s, past the timed steps
		{time.Minute, StageProcessing},
	}
	for _, step := range steps {
		clock.Advance(step.advance)
		if got := r.Snapshot().Stage; got != step.want {
			t.Fatalf("Snapshot().Stage at %v = %q, want %q", clock.t, got, step.want)
		}
	}
}

func TestReporterCompleteShortCircuits(t *testing.T) {
	r, clock := newTestReporter()
	r.Start()
	clock.Advance(time.Second)

	r.Observe("sess-1")
	r.Complete()

	p := r.Snapshot()
	if p.Stage != StageComplete {
		t.Fatalf("Snapshot().Stage = %q, want complete", p.Stage)
	}
	if p.SessionID != "sess-1" {
		t.Fatalf("Snapshot().SessionID = %q, want sess-1", p.SessionID)
	}
	// The simulated sequence no longer advances.
	clock.Advance(time.Hour)
	if got := r.Snapshot().Stage; got != StageComplete {
		t.Fatalf("Snapshot().Stage after advance = %q, want complete", got)
	}
}

func TestReporterFailCarriesMessage(t *testing.T) {
	r, clock := newTestReporter()
	r.Start()
	clock.Advance(3 * time.Second)

	r.Fail(errors.New("upload rejected"))

	p := r.Snapshot()
	if p.Stage != StageError {
		t.Fatalf("Snapshot().Stage = %q, want error", p.Stage)
	}
	if p.Error != "upload rejected" {
		t.Fatalf("Snapshot().Error = %q, want upload rejected", p.Error)
	}
}

func TestReporterStartResets(t *testing.T) {
	r, clock := newTestReporter()
	r.Start()
	r.Observe("sess-1")
	r.Fail(errors.New("boom"))

	clock.Advance(time.Minute)
	r.Start()

	p := r.Snapshot()
	if p.Stage != StageUploading {
		t.Fatalf("Snapshot().Stage after restart = %q, want uploading", p.Stage)
	}
	if p.SessionID != "" || p.Error != "" {
		t.Fatalf("Snapshot() after restart = %+v, want cleared session and error", p)
	}
}
