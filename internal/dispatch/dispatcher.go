// Package dispatch provides the process-wide task queue that bridges code
// running on arbitrary goroutines (GUI callbacks, websocket read loops, chat
// library callbacks) onto the single pump goroutine that owns session and
// command-registration state. Every mutation of that state funnels through
// here, which is what makes the rest of the core lock-free.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/WolfwithSword/TwitchChatDND/internal/metrics"
)

// DefaultCapacity bounds the task queue. On overflow the oldest task is
// dropped with a warning rather than blocking the producer.
const DefaultCapacity = 1024

// Task is one unit of work executed on the pump goroutine.
type Task func()

// Dispatcher is a bounded multi-producer single-consumer FIFO drained by Run.
// Tasks enqueued before Run starts accumulate up to the capacity bound.
type Dispatcher struct {
	mu       sync.Mutex
	tasks    []Task
	notify   chan struct{}
	capacity int
}

// New creates a dispatcher with the given capacity. capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Dispatcher {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Dispatcher{
		notify:   make(chan struct{}, 1),
		capacity: capacity,
	}
}

// Enqueue schedules a task for execution on the pump goroutine. It never
// blocks: when the queue is full the oldest task is dropped and counted.
func (d *Dispatcher) Enqueue(task Task) {
	if task == nil {
		return
	}

	d.mu.Lock()
	if len(d.tasks) >= d.capacity {
		d.tasks = d.tasks[1:]
		metrics.DispatcherDroppedTasksTotal.Inc()
		slog.Warn("Dispatch queue full, dropping oldest task", "capacity", d.capacity)
	}
	d.tasks = append(d.tasks, task)
	depth := len(d.tasks)
	d.mu.Unlock()

	metrics.DispatcherQueueDepth.Set(float64(depth))

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks currently waiting.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.tasks)
}

// Run drains the queue until ctx is cancelled, executing tasks one at a time.
// A panicking task is logged and never halts the pump or drops later tasks.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		task, ok := d.pop()
		if ok {
			d.invoke(task)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.notify:
		}
	}
}

func (d *Dispatcher) pop() (Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.tasks) == 0 {
		return nil, false
	}
	task := d.tasks[0]
	d.tasks = d.tasks[1:]
	metrics.DispatcherQueueDepth.Set(float64(len(d.tasks)))
	return task, true
}

func (d *Dispatcher) invoke(task Task) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DispatcherTaskPanicsTotal.Inc()
			slog.Error("Dispatched task panicked", "panic", r)
		}
	}()
	task()
}
