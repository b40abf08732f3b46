package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunAllOrderAndIsolation(t *testing.T) {
	s := New()
	var order []string

	if err := s.Register("first", "@daily", func(ctx context.Context) error {
		order = append(order, "first")
		return errors.New("boom")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := s.Register("second", "@daily", func(ctx context.Context) error {
		order = append(order, "second")
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	s.RunAll(context.Background())

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	s := New()
	if err := s.Register("bad", "not a cron spec", func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestRegisterAfterStart(t *testing.T) {
	s := New()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Register("late", "@daily", func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error registering after start")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}
}

func TestOverlappingTriggerSkipped(t *testing.T) {
	s := New()
	release := make(chan struct{})
	runs := 0
	var mu sync.Mutex

	if err := s.Register("slow", "@daily", func(ctx context.Context) error {
		mu.Lock()
		runs++
		mu.Unlock()
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunAll(context.Background())
	}()

	// Wait until the first run is in flight, then trigger again.
	deadline := time.After(time.Second)
	for {
		mu.Lock()
		started := runs == 1
		mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("job never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	s.RunAll(context.Background()) // should skip, not block

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if runs != 1 {
		t.Errorf("runs = %d, want 1 (overlap must be skipped)", runs)
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := New()
	s.Stop() // must not panic
}
