// Package scheduler runs one-shot and periodic maintenance jobs off a min-heap
// ordered by due time.
package scheduler

import (
	"container/heap"
	"errors"
	"log"
	"sync"
	"time"
)

var ErrSchedulerStopped = errors.New("scheduler is stopped")

// task is a job due at runAt. Periodic tasks have a positive interval.
type task struct {
	id       string
	runAt    time.Time
	interval time.Duration
	fn       func()
	index    int // heap position, -1 while running or removed
}

// taskHeap is a min-heap of tasks ordered by runAt
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].runAt.Before(h[j].runAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	t := x.(*task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Scheduler executes tasks when they become due. A periodic task is not
// rescheduled until its previous run has returned, so runs never overlap.
type Scheduler struct {
	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*task
	wakeup  chan struct{}
	stopCh  chan struct{}
	started bool
	stopped bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// New creates an idle scheduler
func New() *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*task),
		wakeup: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		now:    time.Now,
	}
}

// Schedule runs fn once at runAt. Scheduling an existing id replaces it.
func (s *Scheduler) Schedule(id string, runAt time.Time, fn func()) error {
	return s.add(&task{id: id, runAt: runAt, fn: fn})
}

// Every runs fn every interval, starting one interval from now.
func (s *Scheduler) Every(id string, interval time.Duration, fn func()) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	return s.add(&task{id: id, runAt: s.now().Add(interval), interval: interval, fn: fn})
}

func (s *Scheduler) add(t *task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	s.removeLocked(t.id)
	heap.Push(&s.heap, t)
	s.tasks[t.id] = t

	if s.heap[0] == t {
		s.notify()
	}
	return nil
}

// Cancel removes a task. A run already in progress completes but a periodic
// task is not rescheduled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) bool {
	existing, ok := s.tasks[id]
	if !ok {
		return false
	}
	if existing.index >= 0 {
		heap.Remove(&s.heap, existing.index)
	}
	delete(s.tasks, id)
	return true
}

// Pending returns the number of registered tasks
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Start begins dispatching due tasks
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true

	s.wg.Add(1)
	go s.run()
}

// Stop stops dispatching and waits for running tasks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("[Scheduler] Stopped")
}

func (s *Scheduler) notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	for {
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}

		wait := 24 * time.Hour
		if s.heap.Len() > 0 {
			next := s.heap[0]
			wait = next.runAt.Sub(s.now())

			if wait <= 0 {
				t := heap.Pop(&s.heap).(*task)
				if t.interval <= 0 {
					delete(s.tasks, t.id)
				}
				s.wg.Add(1)
				go s.execute(t)

				s.mu.Unlock()
				continue
			}
		}
		s.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(t *task) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Scheduler] Task %s panicked: %v", t.id, r)
		}
		if t.interval > 0 {
			s.reschedule(t)
		}
	}()

	t.fn()
}

func (s *Scheduler) reschedule(t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.tasks[t.id] != t {
		return
	}
	t.runAt = s.now().Add(t.interval)
	heap.Push(&s.heap, t)
	if s.heap[0] == t {
		s.notify()
	}
}
