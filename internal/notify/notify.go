// Package notify delivers fire-and-forget notices about the points economy
// to a family. Delivery happens after the domain transaction commits and a
// failed sink never surfaces to the caller.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	ConsequenceTriggered Kind = "consequence_triggered"
	ConsequenceResolved  Kind = "consequence_resolved"
	RedemptionPending    Kind = "redemption_pending"
	RedemptionApproved   Kind = "redemption_approved"
	TaskCompleted        Kind = "task_completed"
)

// Notice is one message for a family. UserID is the member it concerns and
// RefID the entity that caused it.
type Notice struct {
	Kind   Kind   `json:"kind"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	UserID int64  `json:"user_id,omitempty"`
	RefID  int64  `json:"ref_id,omitempty"`
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, familyID int64, n Notice) error
}

// Notifier is what the engines call.
type Notifier interface {
	Notify(ctx context.Context, familyID int64, n Notice)
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, int64, Notice) {}

const defaultTimeout = 10 * time.Second

// Dispatcher fans each notice out to its sinks in the background.
type Dispatcher struct {
	sinks   []Sink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		logger:  logger.With("component", "notify"),
		timeout: defaultTimeout,
	}
}

// Notify returns immediately. Sinks run concurrently with their own timeout,
// detached from the caller's cancellation.
func (d *Dispatcher) Notify(ctx context.Context, familyID int64, n Notice) {
	if len(d.sinks) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()

		var wg sync.WaitGroup
		for _, s := range d.sinks {
			wg.Add(1)
			go func(s Sink) {
				defer wg.Done()
				if err := s.Deliver(ctx, familyID, n); err != nil {
					d.logger.Warn("notice delivery failed", "sink", s.Name(), "family_id", familyID, "kind", n.Kind, "error", err)
				}
			}(s)
		}
		wg.Wait()
	}()
}

// Wait blocks until every in-flight notice has been delivered or dropped.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
