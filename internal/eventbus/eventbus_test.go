package eventbus_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Homiakus/motto/internal/eventbus"
	"github.com/Homiakus/motto/internal/model"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishDispatchesMatchingHandler(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Events["alarm_raised"] = &model.Event{ID: "alarm_raised"}
	cfg.Handlers["h1"] = &model.Handler{ID: "h1", EventRef: "alarm_raised", Actions: []model.HandlerAction{{Builtin: "noop"}}, Priority: 1}

	var mu sync.Mutex
	var ran []string
	bus := eventbus.NewBus(cfg, func(ctx context.Context, action model.HandlerAction, pub eventbus.Publication) error {
		mu.Lock()
		ran = append(ran, action.Builtin)
		mu.Unlock()
		return nil
	}, nil, nil)
	defer bus.Stop()

	bus.Publish(eventbus.Publication{EventID: "alarm_raised"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 1
	})
}

func TestPublishRespectsFilter(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Events["sensor"] = &model.Event{ID: "sensor", Filter: `payload.code == 1`}
	cfg.Handlers["h1"] = &model.Handler{ID: "h1", EventRef: "sensor", Actions: []model.HandlerAction{{Builtin: "noop"}}}

	var mu sync.Mutex
	count := 0
	bus := eventbus.NewBus(cfg, func(ctx context.Context, action model.HandlerAction, pub eventbus.Publication) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, nil, nil)
	defer bus.Stop()

	bus.Publish(eventbus.Publication{EventID: "sensor", Payload: map[string]any{"code": float64(2)}})
	bus.Publish(eventbus.Publication{EventID: "sensor", Payload: map[string]any{"code": float64(1)}})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestDebounceDropsRapidRepeats(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Events["tick"] = &model.Event{ID: "tick"}
	cfg.Handlers["h1"] = &model.Handler{ID: "h1", EventRef: "tick", Actions: []model.HandlerAction{{Builtin: "noop"}}, DebounceMS: 10000}

	var mu sync.Mutex
	count := 0
	bus := eventbus.NewBus(cfg, func(ctx context.Context, action model.HandlerAction, pub eventbus.Publication) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}, nil, nil)
	defer bus.Stop()

	for i := 0; i < 5; i++ {
		bus.Publish(eventbus.Publication{EventID: "tick"})
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	})
}

func TestPublishDispatchesByPriorityDescThenIDAsc(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Events["alarm_raised"] = &model.Event{ID: "alarm_raised"}
	// "aaa" sorts first alphabetically but has the lower priority; a
	// correct dispatch order must still run "zzz" first.
	cfg.Handlers["aaa"] = &model.Handler{ID: "aaa", EventRef: "alarm_raised", Actions: []model.HandlerAction{{Builtin: "aaa"}}, Priority: 1}
	cfg.Handlers["zzz"] = &model.Handler{ID: "zzz", EventRef: "alarm_raised", Actions: []model.HandlerAction{{Builtin: "zzz"}}, Priority: 100}

	var mu sync.Mutex
	var order []string
	bus := eventbus.NewBus(cfg, func(ctx context.Context, action model.HandlerAction, pub eventbus.Publication) error {
		mu.Lock()
		order = append(order, action.Builtin)
		mu.Unlock()
		return nil
	}, nil, nil)
	defer bus.Stop()

	bus.Publish(eventbus.Publication{EventID: "alarm_raised"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"zzz", "aaa"}, order)
}

func TestOverflowDropsOldestAndCounts(t *testing.T) {
	cfg := model.NewConfiguration()
	cfg.Events["spam"] = &model.Event{ID: "spam"}
	cfg.Handlers["h1"] = &model.Handler{ID: "h1", EventRef: "spam", Actions: []model.HandlerAction{{Builtin: "noop"}}}

	block := make(chan struct{})
	started := make(chan struct{}, 1)
	bus := eventbus.NewBus(cfg, func(ctx context.Context, action model.HandlerAction, pub eventbus.Publication) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, nil, nil)
	defer bus.Stop()

	for i := 0; i < eventbus.DefaultQueueCapacity+10; i++ {
		bus.Publish(eventbus.Publication{EventID: "spam"})
	}
	close(block)

	require.GreaterOrEqual(t, bus.OverflowCount("h1"), int64(1))
	assert.LessOrEqual(t, bus.PendingCount("h1"), eventbus.DefaultQueueCapacity)
}
