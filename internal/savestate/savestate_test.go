package savestate

import (
	"errors"
	"testing"
	"time"
)

func TestTrackerTransitions(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tr := New(func() time.Time { return now })
	if tr.Snapshot().State != Idle {
		t.Fatalf("expected idle")
	}
	var seen []State
	tr.OnChange(func(s Snapshot) { seen = append(seen, s.State) })

	tr.Begin()
	tr.Begin()
	tr.Done(nil)
	if s := tr.Snapshot(); s.State != Saving || s.InFlight != 1 {
		t.Fatalf("expected saving with one in flight, got %+v", s)
	}
	tr.Done(nil)
	s := tr.Snapshot()
	if s.State != Saved || s.LastSaved == nil || !s.LastSaved.Equal(now) {
		t.Fatalf("expected saved at %s, got %+v", now, s)
	}
	if err := tr.Track(func() error { return errors.New("boom") }); err == nil {
		t.Fatalf("track should return fn error")
	}
	s = tr.Snapshot()
	if s.State != Error || s.LastError != "boom" {
		t.Fatalf("expected error state, got %+v", s)
	}
	if s.LastSaved == nil {
		t.Fatalf("last saved should survive a failure")
	}
	want := []State{Saving, Saving, Saving, Saved, Saving, Error}
	if len(seen) != len(want) {
		t.Fatalf("listener saw %v", seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("listener saw %v, want %v", seen, want)
		}
	}
}

func TestNilTracker(t *testing.T) {
	var tr *Tracker
	tr.Begin()
	tr.Done(nil)
	if err := tr.Track(func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if tr.Snapshot().State != Idle {
		t.Fatalf("nil tracker should report idle")
	}
}

func TestErrorSticksUntilSuccess(t *testing.T) {
	tr := New(nil)
	tr.Begin()
	tr.Done(errors.New("disk full"))

	tr.Begin()
	if s := tr.Snapshot(); s.State != Error || s.LastError != "disk full" || s.InFlight != 1 {
		t.Fatalf("failure hidden by the next save: %+v", s)
	}
	tr.Begin()
	tr.Done(errors.New("still full"))
	if s := tr.Snapshot(); s.State != Error || s.LastError != "still full" {
		t.Fatalf("expected latest failure, got %+v", s)
	}
	tr.Done(nil)
	if s := tr.Snapshot(); s.State != Saved || s.LastError != "" || s.InFlight != 0 {
		t.Fatalf("success should clear the failure, got %+v", s)
	}
}
