package coordinator

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// EventType identifies one of the closed set of coordination events.
type EventType string

const (
	EventWorkerRegistered    EventType = "worker_registered"
	EventWorkerUnregistered  EventType = "worker_unregistered"
	EventWorkerAvailability  EventType = "worker_availability_changed"
	EventWorkerUnresponsive  EventType = "worker_unresponsive"
	EventTaskSubmitted       EventType = "task_submitted"
	EventTaskAssigned        EventType = "task_assigned"
	EventTaskCompleted       EventType = "task_completed"
	EventTaskFailed          EventType = "task_failed"
	EventTaskHandoff         EventType = "task_handoff"
)

// subscriptionCounter generates unique subscription ids.
var subscriptionCounter int64

// Event is one coordination event.
type Event interface {
	Timestamp() time.Time
	Type() EventType
}

// EventHandler consumes events.
type EventHandler func(Event)

// EventBus is the publish/subscribe surface shared by the scheduler, the
// handoff engine, the health monitor, and embedding callers.
type EventBus interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) string
	Unsubscribe(subscriptionID string)
	Stop()
}

// SimpleEventBus is a buffered in-process event bus.
type SimpleEventBus struct {
	mu           sync.RWMutex
	handlers     map[EventType]map[string]EventHandler
	eventChannel chan Event
	done         chan struct{}
	stopOnce     sync.Once
	logger       *zap.Logger
}

// NewEventBus creates a new event bus.
func NewEventBus(logger ...*zap.Logger) EventBus {
	var l *zap.Logger
	if len(logger) > 0 && logger[0] != nil {
		l = logger[0]
	} else {
		l = zap.NewNop()
	}
	bus := &SimpleEventBus{
		handlers:     make(map[EventType]map[string]EventHandler),
		eventChannel: make(chan Event, 256),
		done:         make(chan struct{}),
		logger:       l,
	}
	go bus.processEvents()
	return bus
}

// Publish enqueues an event. Events are dropped when the channel is full so
// a slow subscriber can never stall the scheduling loop.
func (b *SimpleEventBus) Publish(event Event) {
	select {
	case b.eventChannel <- event:
	case <-b.done:
	default:
	}
}

// Subscribe registers a handler for one event type.
func (b *SimpleEventBus) Subscribe(eventType EventType, handler EventHandler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[string]EventHandler)
	}

	id := fmt.Sprintf("%s-%d", eventType, atomic.AddInt64(&subscriptionCounter, 1))
	b.handlers[eventType][id] = handler
	return id
}

// Unsubscribe removes a subscription.
func (b *SimpleEventBus) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, handlers := range b.handlers {
		if _, ok := handlers[subscriptionID]; ok {
			delete(handlers, subscriptionID)
			if len(handlers) == 0 {
				delete(b.handlers, eventType)
			}
			return
		}
	}
}

func (b *SimpleEventBus) processEvents() {
	for {
		select {
		case event := <-b.eventChannel:
			b.mu.RLock()
			src := b.handlers[event.Type()]
			handlers := make([]EventHandler, 0, len(src))
			for _, h := range src {
				handlers = append(handlers, h)
			}
			b.mu.RUnlock()

			for _, handler := range handlers {
				h := handler
				go func() {
					defer func() {
						if r := recover(); r != nil {
							b.logger.Error("event handler panicked", zap.Any("recover", r))
						}
					}()
					h(event)
				}()
			}
		case <-b.done:
			return
		}
	}
}

// Stop shuts the bus down.
func (b *SimpleEventBus) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
	})
}

// WorkerRegisteredEvent fires when a worker joins the registry.
type WorkerRegisteredEvent struct {
	WorkerID     string
	WorkerType   string
	Capabilities []string
	Timestamp_   time.Time
}

func (e *WorkerRegisteredEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *WorkerRegisteredEvent) Type() EventType      { return EventWorkerRegistered }

// WorkerUnregisteredEvent fires when a worker is removed.
type WorkerUnregisteredEvent struct {
	WorkerID   string
	Timestamp_ time.Time
}

func (e *WorkerUnregisteredEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *WorkerUnregisteredEvent) Type() EventType      { return EventWorkerUnregistered }

// WorkerAvailabilityEvent fires on every availability transition. The
// scheduler consumes it as its wake signal.
type WorkerAvailabilityEvent struct {
	WorkerID   string
	From       Availability
	To         Availability
	Timestamp_ time.Time
}

func (e *WorkerAvailabilityEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *WorkerAvailabilityEvent) Type() EventType      { return EventWorkerAvailability }

// WorkerUnresponsiveEvent fires when the health monitor demotes a worker.
type WorkerUnresponsiveEvent struct {
	WorkerID     string
	LastActivity time.Time
	Timestamp_   time.Time
}

func (e *WorkerUnresponsiveEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *WorkerUnresponsiveEvent) Type() EventType      { return EventWorkerUnresponsive }

// TaskSubmittedEvent fires when a task enters the queue.
type TaskSubmittedEvent struct {
	TaskID     string
	Priority   Priority
	Timestamp_ time.Time
}

func (e *TaskSubmittedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskSubmittedEvent) Type() EventType      { return EventTaskSubmitted }

// TaskAssignedEvent fires when the assignment loop commits a task to a worker.
type TaskAssignedEvent struct {
	TaskID     string
	WorkerID   string
	Timestamp_ time.Time
}

func (e *TaskAssignedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskAssignedEvent) Type() EventType      { return EventTaskAssigned }

// TaskCompletedEvent fires when a task reaches completed.
type TaskCompletedEvent struct {
	TaskID     string
	WorkerID   string
	DurationMs int64
	Timestamp_ time.Time
}

func (e *TaskCompletedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskCompletedEvent) Type() EventType      { return EventTaskCompleted }

// TaskFailedEvent fires when a task reaches failed, including failures that
// will be retried.
type TaskFailedEvent struct {
	TaskID     string
	WorkerID   string
	Error      string
	WillRetry  bool
	Timestamp_ time.Time
}

func (e *TaskFailedEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskFailedEvent) Type() EventType      { return EventTaskFailed }

// TaskHandoffEvent fires when a task transfers between workers.
type TaskHandoffEvent struct {
	TaskID     string
	FromWorker string
	ToWorker   string
	Reason     HandoffReason
	Timestamp_ time.Time
}

func (e *TaskHandoffEvent) Timestamp() time.Time { return e.Timestamp_ }
func (e *TaskHandoffEvent) Type() EventType      { return EventTaskHandoff }
