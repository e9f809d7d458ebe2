package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"orientation-refiner/internal/domain"
)

// ErrJobNotFound is returned when acting on an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// ErrManagerClosed is returned when submitting to a closed manager.
var ErrManagerClosed = errors.New("job manager is closed")

// Job is one unit of background work: a title, the callable, its
// output destination, and execution policy flags. Logging and cleanup
// are on by default; a job opts out per flag.
type Job struct {
	Title      string
	OutputPath string
	// Run executes the work. All console output goes through the sink;
	// the context carries cooperative cancellation.
	Run func(ctx context.Context, sink *OutputSink) error
	// Cleanup releases large transient inputs held by the job. Called
	// after completion regardless of outcome unless DisableCleanup is
	// set.
	Cleanup        func()
	DisableCleanup bool
	DisableLogging bool
}

// Snapshot is an immutable view of one job's state.
type Snapshot struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	OutputPath string          `json:"outputPath"`
	State      domain.JobState `json:"state"`
	Err        string          `json:"error,omitempty"`
}

// Observer receives job lifecycle and output notifications. Started
// and Finished fire exactly once per job; Output fires per line.
type Observer interface {
	JobStarted(job Snapshot)
	JobFinished(job Snapshot)
	JobOutput(line Line)
}

// entry is the manager's mutable record for one submitted job.
type entry struct {
	job    Job
	snap   Snapshot
	cancel context.CancelFunc
	done   bool
}

// Manager runs submitted jobs on a bounded worker pool. Submissions
// never block: excess jobs queue FIFO until a worker frees up.
type Manager struct {
	mu       sync.Mutex
	cond     *sync.Cond
	observer Observer
	queue    []string
	jobs     map[string]*entry
	order    []string
	closed   bool
	wg       sync.WaitGroup
}

// NewManager creates a manager with the given worker count, defaulting
// to the hardware concurrency when workers is not positive.
func NewManager(workers int, observer Observer) *Manager {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	m := &Manager{
		observer: observer,
		jobs:     map[string]*entry{},
	}
	m.cond = sync.NewCond(&m.mu)

	m.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go m.worker()
	}
	return m
}

// Submit queues a job and returns immediately with its queued snapshot.
func (m *Manager) Submit(job Job) (Snapshot, error) {
	if job.Title == "" {
		return Snapshot{}, fmt.Errorf("job title is required")
	}
	if job.Run == nil {
		return Snapshot{}, fmt.Errorf("job %q has no callable", job.Title)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Snapshot{}, ErrManagerClosed
	}

	id := uuid.NewString()
	e := &entry{
		job: job,
		snap: Snapshot{
			ID:         id,
			Title:      job.Title,
			OutputPath: job.OutputPath,
			State:      domain.JobStateQueued,
		},
	}
	m.jobs[id] = e
	m.order = append(m.order, id)
	m.queue = append(m.queue, id)
	m.cond.Signal()
	return e.snap, nil
}

// Cancel requests cooperative cancellation of a queued or running job.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()

	e, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	if e.snap.State.Terminal() {
		title := e.snap.Title
		m.mu.Unlock()
		return fmt.Errorf("job %q already finished", title)
	}
	if e.cancel != nil {
		e.cancel()
		m.mu.Unlock()
		return nil
	}

	// Still queued: mark it failed without ever starting the callable.
	for i, queued := range m.queue {
		if queued == id {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			break
		}
	}
	e.snap.State = domain.JobStateFailed
	e.snap.Err = "cancelled before start"
	e.done = true
	finished := e.snap
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.JobFinished(finished)
	}
	return nil
}

// Job returns a snapshot of the job with the given id.
func (m *Manager) Job(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return e.snap, true
}

// Jobs returns snapshots of all jobs in submission order.
func (m *Manager) Jobs() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id].snap)
	}
	return out
}

// Close stops accepting submissions and waits for workers to drain.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
	m.wg.Wait()
}

// worker pops queued jobs and runs them until the manager closes.
func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 && m.closed {
			m.mu.Unlock()
			return
		}

		id := m.queue[0]
		m.queue = m.queue[1:]
		e := m.jobs[id]
		ctx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.snap.State = domain.JobStateRunning
		started := e.snap
		m.mu.Unlock()

		if m.observer != nil {
			m.observer.JobStarted(started)
		}
		err := m.runJob(ctx, e)
		cancel()
		m.finish(e, err)
	}
}

// runJob invokes the callable with a scoped output sink, converting
// panics into errors so a crashing job cannot kill the pool.
func (m *Manager) runJob(ctx context.Context, e *entry) (err error) {
	var forward func(Line)
	if !e.job.DisableLogging && m.observer != nil {
		forward = m.observer.JobOutput
	}
	sink := NewOutputSink(e.snap.ID, e.snap.Title, forward)

	// The sink is released on every exit path, including panics, so a
	// finished job can never route output anywhere again.
	defer sink.Detach()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return e.job.Run(ctx, sink)
}

// finish records the terminal state and notifies the observer exactly
// once, then runs the cleanup hook when permitted.
func (m *Manager) finish(e *entry, err error) {
	m.mu.Lock()
	if e.done {
		m.mu.Unlock()
		return
	}
	e.done = true
	if err != nil {
		e.snap.State = domain.JobStateFailed
		e.snap.Err = err.Error()
	} else {
		e.snap.State = domain.JobStateSucceeded
	}
	finished := e.snap
	m.mu.Unlock()

	if m.observer != nil {
		m.observer.JobFinished(finished)
	}
	if !e.job.DisableCleanup && e.job.Cleanup != nil {
		e.job.Cleanup()
	}
}
