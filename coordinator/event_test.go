package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEventBus_PublishSubscribe(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	defer bus.Stop()

	received := make(chan Event, 1)
	bus.Subscribe(EventTaskSubmitted, func(e Event) {
		received <- e
	})

	now := time.Now()
	bus.Publish(&TaskSubmittedEvent{TaskID: "t1", Priority: PriorityHigh, Timestamp_: now})

	select {
	case e := <-received:
		ev, ok := e.(*TaskSubmittedEvent)
		require.True(t, ok)
		assert.Equal(t, "t1", ev.TaskID)
		assert.Equal(t, PriorityHigh, ev.Priority)
		assert.Equal(t, now, e.Timestamp())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestEventBus_TypeIsolation(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	defer bus.Stop()

	completed := make(chan Event, 1)
	bus.Subscribe(EventTaskCompleted, func(e Event) {
		completed <- e
	})

	bus.Publish(&TaskFailedEvent{TaskID: "t1", Timestamp_: time.Now()})
	bus.Publish(&TaskCompletedEvent{TaskID: "t2", Timestamp_: time.Now()})

	select {
	case e := <-completed:
		assert.Equal(t, "t2", e.(*TaskCompletedEvent).TaskID)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case e := <-completed:
		t.Fatalf("unexpected extra event: %v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	defer bus.Stop()

	var mu sync.Mutex
	count := 0
	id := bus.Subscribe(EventTaskSubmitted, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	bus.Unsubscribe(id)

	bus.Publish(&TaskSubmittedEvent{TaskID: "t1", Timestamp_: time.Now()})
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestEventBus_HandlerPanicIsIsolated(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	defer bus.Stop()

	received := make(chan struct{}, 1)
	bus.Subscribe(EventTaskSubmitted, func(e Event) {
		panic("handler bug")
	})
	bus.Subscribe(EventTaskSubmitted, func(e Event) {
		received <- struct{}{}
	})

	bus.Publish(&TaskSubmittedEvent{TaskID: "t1", Timestamp_: time.Now()})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("surviving handler not invoked")
	}
}

func TestEventBus_PublishAfterStop(t *testing.T) {
	bus := NewEventBus(zap.NewNop())
	bus.Stop()

	// Must not block or panic.
	bus.Publish(&TaskSubmittedEvent{TaskID: "t1", Timestamp_: time.Now()})
	bus.Stop()
}
