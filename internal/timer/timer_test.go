package timer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/victornm/partyquiz/internal/domain"
	"github.com/victornm/partyquiz/internal/event"
	"github.com/victornm/partyquiz/internal/timer"
)

func TestRunner_TicksAndExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	eb := event.NewBus()

	var mu sync.Mutex
	var updates []int
	eb.Subscribe(domain.EventNameTimerUpdate, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		updates = append(updates, e.(domain.EventTimerUpdate).Remaining)
		mu.Unlock()
		return nil
	})

	r := timer.NewRunner(timer.Config{EventBus: eb, Clock: clock})

	expired := make(chan struct{})
	r.Start(context.Background(), "AB12CD", 1, 3*time.Second, func(ctx context.Context) {
		close(expired)
	})

	advance := func(wantUpdates int) {
		clock.BlockUntil(1)
		clock.Advance(time.Second)
		require.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(updates) >= wantUpdates
		}, time.Second, time.Millisecond)
	}

	advance(1)
	advance(2)
	clock.BlockUntil(1)
	clock.Advance(time.Second)

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("timer did not expire")
	}
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2, 1}, updates, "each tick should broadcast the remaining seconds")
}

func TestRunner_Stop(t *testing.T) {
	clock := clockwork.NewFakeClock()
	eb := event.NewBus()
	r := timer.NewRunner(timer.Config{EventBus: eb, Clock: clock})

	expired := make(chan struct{})
	r.Start(context.Background(), "AB12CD", 1, 2*time.Second, func(ctx context.Context) {
		close(expired)
	})

	clock.BlockUntil(1)
	r.Stop("AB12CD")
	clock.Advance(5 * time.Second)

	select {
	case <-expired:
		t.Fatal("stopped timer must not expire")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRunner_Restart_ReplacesCountdown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	eb := event.NewBus()
	r := timer.NewRunner(timer.Config{EventBus: eb, Clock: clock})

	var mu sync.Mutex
	fired := map[int]bool{}
	onExpire := func(round int) func(context.Context) {
		return func(context.Context) {
			mu.Lock()
			fired[round] = true
			mu.Unlock()
		}
	}

	r.Start(context.Background(), "AB12CD", 1, time.Hour, onExpire(1))
	r.Start(context.Background(), "AB12CD", 2, time.Second, onExpire(2))

	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		mu.Lock()
		defer mu.Unlock()
		return fired[2]
	}, time.Second, 10*time.Millisecond, "replacement countdown should run")

	mu.Lock()
	defer mu.Unlock()
	require.False(t, fired[1], "replaced countdown must not fire")
}
