package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/smukkama/signaltrail/internal/grid"
	"github.com/smukkama/signaltrail/internal/metrics"
	"github.com/smukkama/signaltrail/internal/model"
)

var (
	ErrQueueFull   = errors.New("aggregation queue full")
	ErrPoolStopped = errors.New("aggregation pool stopped")
)

// CellAggregator recomputes the aggregate of a single cell.
type CellAggregator interface {
	AggregateCell(ctx context.Context, cell grid.CellID) (model.CellOutcome, error)
}

// Result is the outcome of one aggregation job
type Result struct {
	CellID   grid.CellID
	Outcome  model.CellOutcome
	Err      error
	Duration time.Duration
}

// ResultHandler receives the result of every job. It is called from worker
// goroutines and must be safe for concurrent use.
type ResultHandler func(Result)

// Pool runs aggregation jobs on a fixed number of workers fed by a bounded queue.
type Pool struct {
	aggregator  CellAggregator
	handler     ResultHandler
	jobQueue    chan grid.CellID
	workerCount int

	mu       sync.RWMutex
	started  bool
	stopped  bool
	quit     chan struct{}
	quitOnce sync.Once

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new aggregation worker pool
func NewPool(aggregator CellAggregator, workerCount, queueSize int, handler ResultHandler) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	if workerCount <= 0 {
		workerCount = 4
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &Pool{
		aggregator:  aggregator,
		handler:     handler,
		jobQueue:    make(chan grid.CellID, queueSize),
		workerCount: workerCount,
		quit:        make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the workers
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("[Pool] Started %d aggregation workers", p.workerCount)
}

// Stop stops accepting jobs, waits for queued jobs to finish and releases the workers.
// Submit calls blocked on a full queue return ErrPoolStopped.
func (p *Pool) Stop() {
	p.quitOnce.Do(func() { close(p.quit) })

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobQueue)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	log.Println("[Pool] Stopped")
}

// Enqueue queues cells without blocking. Cells that do not fit are dropped
// and reported with ErrQueueFull.
func (p *Pool) Enqueue(ctx context.Context, cells []grid.CellID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	dropped := 0
	for _, cell := range cells {
		select {
		case p.jobQueue <- cell:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		metrics.QueueDropped.Add(float64(dropped))
		return fmt.Errorf("%w: dropped %d of %d cells", ErrQueueFull, dropped, len(cells))
	}
	return nil
}

// Submit queues one cell, blocking until there is room, ctx is done or the
// pool is stopped.
func (p *Pool) Submit(ctx context.Context, cell grid.CellID) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.jobQueue <- cell:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// QueueLength returns the number of jobs waiting for a worker
func (p *Pool) QueueLength() int {
	return len(p.jobQueue)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for cell := range p.jobQueue {
		start := time.Now()
		outcome, err := p.aggregator.AggregateCell(p.ctx, cell)
		if err != nil {
			log.Printf("[Pool] Worker %d: cell %s failed: %v", id, cell, err)
		}

		if p.handler != nil {
			p.handler(Result{
				CellID:   cell,
				Outcome:  outcome,
				Err:      err,
				Duration: time.Since(start),
			})
		}
	}
}
