// Package timer runs the one long-lived countdown per active round. Ticks
// broadcast remaining seconds; expiry triggers the same end-round sequence an
// operator would, whose active-flag check makes a late fire a no-op.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
)

const defaultInterval = time.Second

type Config struct {
	EventBus *event.Bus
	Clock    clockwork.Clock
	Interval time.Duration
}

type Runner struct {
	eb       *event.Bus
	clock    clockwork.Clock
	interval time.Duration

	mu    sync.Mutex
	stops map[string]chan struct{}
}

func NewRunner(c Config) *Runner {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}

	return &Runner{
		eb:       c.EventBus,
		clock:    c.Clock,
		interval: c.Interval,
		stops:    make(map[string]chan struct{}),
	}
}

// Start launches the countdown for one round, replacing any countdown still
// running for the session. onExpire runs once when the duration elapses.
func (r *Runner) Start(ctx context.Context, code string, round int, d time.Duration, onExpire func(ctx context.Context)) {
	stop := make(chan struct{})

	r.mu.Lock()
	if old, ok := r.stops[code]; ok {
		close(old)
	}
	r.stops[code] = stop
	r.mu.Unlock()

	ctx = context.WithoutCancel(ctx)

	go func() {
		ticker := r.clock.NewTicker(r.interval)
		defer ticker.Stop()

		deadline := r.clock.Now().Add(d)
		for {
			select {
			case <-stop:
				return
			case now := <-ticker.Chan():
				remaining := int(deadline.Sub(now).Round(time.Second) / time.Second)
				if remaining > 0 {
					r.eb.Publish(ctx, domain.EventTimerUpdate{
						SessionCode: code,
						RoundNumber: round,
						Remaining:   remaining,
					})
					continue
				}

				r.remove(code, stop)
				slog.InfoContext(ctx, "timer: round expired", "session", code, "round", round)
				onExpire(ctx)
				return
			}
		}
	}()
}

// Stop cancels the session's running countdown, if any. Safe to call when
// none is running.
func (r *Runner) Stop(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if stop, ok := r.stops[code]; ok {
		close(stop)
		delete(r.stops, code)
	}
}

// remove drops the entry only if it still belongs to this countdown, so an
// expiring timer never cancels a replacement that already took its slot.
func (r *Runner) remove(code string, own chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stops[code] == own {
		delete(r.stops, code)
	}
}
