package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeSweeper struct {
	mu      sync.Mutex
	calls   int
	n       int
	err     error
	ran     chan struct{}
	order   *[]string
	label   string
	orderMu *sync.Mutex
}

func (f *fakeSweeper) run() (int, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.order != nil {
		f.orderMu.Lock()
		*f.order = append(*f.order, f.label)
		f.orderMu.Unlock()
	}
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	return f.n, f.err
}

func (f *fakeSweeper) SweepOverdue(context.Context) (int, error) { return f.run() }
func (f *fakeSweeper) SweepExpired(context.Context) (int, error) { return f.run() }

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnce(t *testing.T) {
	var (
		order []string
		mu    sync.Mutex
	)
	overdue := &fakeSweeper{n: 2, order: &order, orderMu: &mu, label: "overdue"}
	expiry := &fakeSweeper{n: 1, order: &order, orderMu: &mu, label: "expired"}
	s := NewScheduler(overdue, expiry, time.Hour, discard())

	r, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if r.Escalated != 2 || r.Expired != 1 {
		t.Errorf("report = %+v, want 1 expired and 2 escalated", r)
	}
	if strings.Join(order, ",") != "expired,overdue" {
		t.Errorf("order = %v, want expiry before overdue", order)
	}
}

func TestRunOnceContinuesAfterError(t *testing.T) {
	overdue := &fakeSweeper{n: 3}
	expiry := &fakeSweeper{err: errors.New("db locked")}
	s := NewScheduler(overdue, expiry, time.Hour, discard())

	r, err := s.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "db locked") {
		t.Fatalf("err = %v, want the expiry failure", err)
	}
	if overdue.count() != 1 || r.Escalated != 3 {
		t.Errorf("overdue calls = %d, escalated = %d; want the overdue pass to run", overdue.count(), r.Escalated)
	}
}

func TestStartStop(t *testing.T) {
	overdue := &fakeSweeper{ran: make(chan struct{}, 1)}
	expiry := &fakeSweeper{}
	s := NewScheduler(overdue, expiry, 5*time.Millisecond, discard())

	s.Start(context.Background())
	for i := 0; i < 2; i++ {
		select {
		case <-overdue.ran:
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not run")
		}
	}
	s.Stop()

	after := overdue.count()
	time.Sleep(20 * time.Millisecond)
	if overdue.count() != after {
		t.Error("scheduler kept running after Stop")
	}
	if expiry.count() < 2 {
		t.Errorf("expiry calls = %d, want at least 2", expiry.count())
	}
}

func TestStopWithoutStart(t *testing.T) {
	s := NewScheduler(&fakeSweeper{}, &fakeSweeper{}, time.Hour, discard())
	s.Stop()
}
