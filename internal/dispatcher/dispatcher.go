// Package dispatcher implements the bounded-concurrency agent dispatcher:
// a semaphore-bounded pool of goroutines with a bounded in-flight set,
// per-task timeouts, and monotonic AgentRun lifecycle records.
//
// A naive fan-out launches every task unconditionally with a bare
// sync.WaitGroup/sync.Mutex pair and no bound. Hydra generalizes that into
// a semaphore-bounded pool, the same idiom a job-processing channel
// semaphore uses, because the dispatcher needs an explicit, testable
// concurrency ceiling that "launch every goroutine" cannot provide.
package dispatcher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hydra-audit/hydra/internal/core"
)

// DefaultMaxConcurrent is the default bound on simultaneously running
// tasks, overridden by HYDRA_MAX_CONCURRENT_AGENTS.
const DefaultMaxConcurrent = 3

// DefaultTimeout is the per-task deadline for a Task with no Timeout of its
// own. It is fixed: the HYDRA_AGENT_TIMEOUT_MS value that config.Load reads
// is not applied to dispatcher tasks.
const DefaultTimeout = 90 * time.Second

// LLMTimeout is the deadline applied to LLM-backed scanner tasks.
const LLMTimeout = 300 * time.Second

// Task is one unit of work handed to the Dispatcher: an agent id, an
// executor, and an optional timeout override.
type Task struct {
	AgentID string
	Timeout time.Duration // zero means DefaultTimeout
	Execute func(ctx context.Context) ([]core.Finding, error)
}

func (t Task) timeout() time.Duration {
	if t.Timeout <= 0 {
		return DefaultTimeout
	}
	return t.Timeout
}

// Dispatcher runs a queue of Tasks with bounded concurrency.
type Dispatcher struct {
	MaxConcurrent int
}

// New creates a Dispatcher with the given concurrency bound. A
// non-positive value falls back to DefaultMaxConcurrent.
func New(maxConcurrent int) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Dispatcher{MaxConcurrent: maxConcurrent}
}

// Result is the outcome of running one queue of tasks: the concatenated
// findings in completion order and the terminal AgentRun record for every
// task, in start (queue) order.
type Result struct {
	Findings []core.Finding
	Runs     []core.AgentRun
}

// Run executes tasks against target, honoring ctx for orchestrator-level
// cancellation: once ctx is done, no further tasks are dequeued, but
// in-flight tasks are allowed to settle. Run always returns
// (never leaves a task in a non-terminal state) once every launched task's
// goroutine has finished.
func (d *Dispatcher) Run(ctx context.Context, tasks []Task) Result {
	sem := semaphore.NewWeighted(int64(d.MaxConcurrent))

	var (
		mu       sync.Mutex
		findings []core.Finding
		runs     = make([]core.AgentRun, len(tasks))
		wg       sync.WaitGroup
	)

	now := time.Now().UTC()
	for i, t := range tasks {
		runs[i] = core.AgentRun{
			ID:       fmt.Sprintf("run-%d", i),
			AgentID:  t.AgentID,
			Status:   core.AgentQueued,
			QueuedAt: now,
		}
	}

	for i, t := range tasks {
		select {
		case <-ctx.Done():
			// Cancellation before dequeue: every AgentRun must reach a
			// terminal state, so mark remaining tasks failed immediately
			// without launching.
			mu.Lock()
			runs[i].Status = core.AgentFailed
			runs[i].Error = ctx.Err().Error()
			completed := time.Now().UTC()
			runs[i].CompletedAt = &completed
			mu.Unlock()
			continue
		default:
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			runs[i].Status = core.AgentFailed
			runs[i].Error = err.Error()
			completed := time.Now().UTC()
			runs[i].CompletedAt = &completed
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(idx int, task Task) {
			defer wg.Done()
			defer sem.Release(1)
			d.runOne(ctx, task, &runs[idx], &mu, &findings)
		}(i, t)
	}

	wg.Wait()
	return Result{Findings: findings, Runs: runs}
}

func (d *Dispatcher) runOne(ctx context.Context, t Task, run *core.AgentRun, mu *sync.Mutex, findings *[]core.Finding) {
	mu.Lock()
	started := time.Now().UTC()
	run.Status = core.AgentRunning
	run.StartedAt = &started
	mu.Unlock()

	taskCtx, cancel := context.WithTimeout(ctx, t.timeout())
	defer cancel()

	type outcome struct {
		findings []core.Finding
		err      error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		fs, err := t.Execute(taskCtx)
		done <- outcome{findings: fs, err: err}
	}()

	var (
		status core.AgentStatus
		errMsg string
		result []core.Finding
	)

	select {
	case <-taskCtx.Done():
		// Timeout (or parent cancellation): the underlying goroutine's
		// side effects are not forcibly interrupted, but its findings are
		// discarded.
		status = core.AgentTimedOut
		if ctx.Err() != nil && taskCtx.Err() == context.Canceled {
			status = core.AgentFailed
			errMsg = ctx.Err().Error()
		}
	case o := <-done:
		if o.err != nil {
			status = core.AgentFailed
			errMsg = o.err.Error()
		} else {
			status = core.AgentCompleted
			result = o.findings
		}
	}

	completed := time.Now().UTC()
	durationMs := completed.Sub(started).Milliseconds()

	mu.Lock()
	run.Status = status
	run.CompletedAt = &completed
	run.DurationMs = &durationMs
	if errMsg != "" {
		run.Error = errMsg
	}
	if status == core.AgentCompleted {
		n := len(result)
		run.FindingCount = &n
		*findings = append(*findings, result...)
	}
	mu.Unlock()
}
