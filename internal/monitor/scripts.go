package monitor

import (
	"context"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// scriptJob is one queued subprocess invocation, spec.md §4.7.
type scriptJob struct {
	argv      []string
	retryNum  int
	startTime time.Time
	running   bool
	cmd       *exec.Cmd
	startedAt time.Time
}

// scriptExecutor runs the two scheduled script kinds (notification,
// client-reconfig) off a single FIFO queue with bounded concurrency,
// exponential retry backoff and a hard per-job runtime cap. Concurrency
// is capped with golang.org/x/sync/semaphore rather than a hand-rolled
// counting channel, matching how the wider joeycumines-go-utilpkg pack
// already depends on golang.org/x/sync for this exact kind of bound.
type scriptExecutor struct {
	mu    sync.Mutex
	queue []*scriptJob
	sem   *semaphore.Weighted

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newScriptExecutor() *scriptExecutor {
	return &scriptExecutor{
		sem:    semaphore.NewWeighted(MaxRunning),
		stopCh: make(chan struct{}),
	}
}

func (se *scriptExecutor) enqueueNotification(path, eventType, message string) {
	se.enqueue([]string{path, eventType, message})
}

func (se *scriptExecutor) enqueueClientReconfig(path, primaryName, role, state, fromIP string, fromPort int, toIP string, toPort int) {
	se.enqueue([]string{
		path, primaryName, role, state,
		fromIP, strconv.Itoa(fromPort), toIP, strconv.Itoa(toPort),
	})
}

func (se *scriptExecutor) enqueue(argv []string) {
	if len(argv) == 0 || argv[0] == "" {
		return
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	if len(se.queue) >= MaxQueue {
		// evict the oldest non-running job to make room, per spec.md §4.7.
		for i, j := range se.queue {
			if !j.running {
				se.queue = append(se.queue[:i], se.queue[i+1:]...)
				break
			}
		}
	}
	se.queue = append(se.queue, &scriptJob{argv: argv, startTime: time.Now()})
}

// tick launches ready jobs, reaps finished ones and kills runaways. It
// is called once per Supervisor.Tick.
func (se *scriptExecutor) tick(now time.Time) {
	se.mu.Lock()
	ready := make([]*scriptJob, 0)
	for _, j := range se.queue {
		if !j.running && !now.Before(j.startTime) {
			ready = append(ready, j)
		}
	}
	se.mu.Unlock()

	for _, j := range ready {
		if !se.sem.TryAcquire(1) {
			break
		}
		se.mu.Lock()
		j.running = true
		j.startedAt = now
		se.mu.Unlock()
		se.wg.Add(1)
		go se.run(j)
	}

	se.mu.Lock()
	for _, j := range se.queue {
		if j.running && now.Sub(j.startedAt) > MaxRuntime && j.cmd != nil && j.cmd.Process != nil {
			_ = j.cmd.Process.Kill()
		}
	}
	se.mu.Unlock()
}

func (se *scriptExecutor) run(j *scriptJob) {
	defer se.wg.Done()
	defer se.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), MaxRuntime)
	defer cancel()

	cmd := exec.CommandContext(ctx, j.argv[0], j.argv[1:]...)
	se.mu.Lock()
	j.cmd = cmd
	se.mu.Unlock()

	err := cmd.Run()

	se.mu.Lock()
	defer se.mu.Unlock()
	j.running = false

	if err == nil {
		se.removeLocked(j)
		return
	}

	if ctx.Err() == context.DeadlineExceeded {
		logf().WithField("argv", j.argv).Warn("script-timeout")
		se.removeLocked(j)
		return
	}

	exitCode := -1
	if exitErr, ok := err.(*exec.ExitError); ok {
		exitCode = exitErr.ExitCode()
	}

	if exitCode == 1 || exitCode == -1 {
		// signal death (-1 via ExitCode when killed/errored) or exit
		// code 1: retry with exponential backoff, spec.md §4.7.
		j.retryNum++
		if j.retryNum > MaxRetry {
			logf().WithField("argv", j.argv).Warn("script-error: max retries exceeded, dropping")
			se.removeLocked(j)
			return
		}
		delay := RetryDelay << uint(j.retryNum-1)
		j.startTime = time.Now().Add(delay)
		logf().WithFields(map[string]interface{}{"argv": j.argv, "retry": j.retryNum, "delay": delay}).Warn("script-child: rescheduling after failure")
		return
	}

	logf().WithFields(map[string]interface{}{"argv": j.argv, "exit": exitCode}).Warn("script-error: non-retryable exit code")
	se.removeLocked(j)
}

func (se *scriptExecutor) removeLocked(j *scriptJob) {
	for i, q := range se.queue {
		if q == j {
			se.queue = append(se.queue[:i], se.queue[i+1:]...)
			return
		}
	}
}

// pending returns a snapshot for `SENTINEL pending-scripts`.
func (se *scriptExecutor) pending() []*scriptJob {
	se.mu.Lock()
	defer se.mu.Unlock()
	out := make([]*scriptJob, len(se.queue))
	copy(out, se.queue)
	return out
}

func (se *scriptExecutor) stop() {
	close(se.stopCh)
	se.wg.Wait()
}

