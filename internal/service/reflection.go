package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/sectormem/sectormem/internal/engine"
)

// ReflectionWorkers executes queued reflection tasks on a fixed pool of
// goroutines. The queue is bounded; Enqueue never blocks the caller, so a
// full queue surfaces as an error and the task stays pending in the store.
type ReflectionWorkers struct {
	engine  *engine.Engine
	queue   chan string
	workers int

	mu     sync.Mutex
	closed bool
}

// NewReflectionWorkers creates a worker pool. It implements engine.Scheduler.
func NewReflectionWorkers(eng *engine.Engine, workers, queueSize int) *ReflectionWorkers {
	if workers <= 0 {
		workers = 2
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &ReflectionWorkers{
		engine:  eng,
		queue:   make(chan string, queueSize),
		workers: workers,
	}
}

// Enqueue hands a task id to the pool without blocking.
func (p *ReflectionWorkers) Enqueue(taskID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("reflection workers: shutting down")
	}
	select {
	case p.queue <- taskID:
		return nil
	default:
		return fmt.Errorf("reflection workers: queue full (%d pending)", cap(p.queue))
	}
}

// Start runs the workers until ctx is cancelled, then drains whatever is
// already queued so accepted tasks are not abandoned mid-flight.
func (p *ReflectionWorkers) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					p.drain(worker)
					return
				case taskID := <-p.queue:
					p.run(worker, taskID)
				}
			}
		}(i)
	}
	wg.Wait()
}

func (p *ReflectionWorkers) drain(worker int) {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	for {
		select {
		case taskID := <-p.queue:
			p.run(worker, taskID)
		default:
			return
		}
	}
}

// run executes one task under its own context, never the serving one. A task
// dequeued in the same select round as a shutdown must still reach a terminal
// state instead of being stranded pending by a cancelled context.
func (p *ReflectionWorkers) run(worker int, taskID string) {
	log.Debug("Reflection: executing", "worker", worker, "taskId", taskID)
	if err := p.engine.ExecuteReflectionTask(context.Background(), taskID); err != nil {
		log.Error("Reflection: task failed", "worker", worker, "taskId", taskID, "err", err)
	}
}
