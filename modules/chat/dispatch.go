package chat

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/go-monolith/mono/pkg/types"
)

// Task is a unit of fire-and-forget background work. Tasks sharing a Key
// run in submission order.
type Task struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// DispatcherConfig holds dispatcher configuration.
type DispatcherConfig struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
}

// DefaultDispatcherConfig returns the default dispatcher configuration.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:     2,
		QueueSize:   1024,
		TaskTimeout: 10 * time.Second,
	}
}

// Dispatcher runs tasks on a fixed pool of workers, each with its own queue.
// Submit never blocks.
type Dispatcher struct {
	config  DispatcherConfig
	logger  types.Logger
	queues  []chan Task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
	failed  uint64
}

// NewDispatcher creates a dispatcher. Call Start before submitting tasks.
func NewDispatcher(cfg DispatcherConfig, logger types.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	return &Dispatcher{
		config: cfg,
		logger: logger,
	}
}

// Start launches the workers.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return fmt.Errorf("dispatcher is already running")
	}
	d.queues = make([]chan Task, d.config.Workers)
	d.running = true

	for i := range d.queues {
		d.queues[i] = make(chan Task, d.config.QueueSize)
		d.wg.Add(1)
		go func(id int, queue <-chan Task) {
			defer d.wg.Done()
			d.work(ctx, id, queue)
		}(i+1, d.queues[i])
	}
	d.logger.Debug("Dispatcher started", "workers", d.config.Workers)
	return nil
}

// Submit queues a task. It reports false when the queue is full or the
// dispatcher is not running.
func (d *Dispatcher) Submit(task Task) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		d.logger.Warn("Dropping task, dispatcher not running", "task", task.Name)
		return false
	}
	select {
	case d.queues[d.shard(task.Key)] <- task:
		return true
	default:
		d.logger.Warn("Dropping task, queue full", "task", task.Name)
		return false
	}
}

// Stop drains queued tasks and waits for the workers to finish.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("timeout waiting for dispatcher: %w", ctx.Err())
	}
}

// Failed returns the number of tasks that returned an error.
func (d *Dispatcher) Failed() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failed
}

func (d *Dispatcher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.queues)))
}

func (d *Dispatcher) work(ctx context.Context, id int, queue <-chan Task) {
	for task := range queue {
		taskCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.TaskTimeout)
		err := task.Run(taskCtx)
		cancel()
		if err != nil {
			d.mu.Lock()
			d.failed++
			d.mu.Unlock()
			d.logger.Error("Background task failed",
				"task", task.Name,
				"worker", id,
				"error", fmt.Errorf("%w: %v", ErrPersistenceFailure, err))
		}
	}
}
