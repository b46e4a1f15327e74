package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fwoerister/vdstore/internal/metrics"
)

// DefaultMaxAttempts bounds how often a hash task runs before it is given
// up. A given-up query keeps an unset hash until Resume re-enqueues it.
const DefaultMaxAttempts = 3

// DefaultRetryDelay is the pause before a failed task runs again.
const DefaultRetryDelay = 500 * time.Millisecond

// ResultHashFunc computes the result-set hash of a registered query by
// replaying it.
type ResultHashFunc func(ctx context.Context, q Query) (string, error)

// HashWorker attaches result-set hashes to registered queries in the
// background. Delivery is at-least-once: a failed task is re-enqueued until
// its attempt budget is spent, and Resume re-enqueues every query still
// lacking a hash.
//
// Thread-safety: Enqueue and Len may be called from any goroutine while
// Run is active. Run and Drain must not run concurrently.
type HashWorker struct {
	registry    *Registry
	hash        ResultHashFunc
	queue       *taskQueue
	maxAttempts int
	retryDelay  time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// WorkerOption configures a HashWorker.
type WorkerOption func(*HashWorker)

// WithMaxAttempts sets the attempt budget per task. Values below 1 are
// ignored.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *HashWorker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithRetryDelay sets the pause before a failed task runs again under Run.
func WithRetryDelay(d time.Duration) WorkerOption {
	return func(w *HashWorker) { w.retryDelay = d }
}

// WithWorkerLogger sets the logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *HashWorker) { w.logger = l }
}

// WithWorkerMetrics sets the metrics sink.
func WithWorkerMetrics(m *metrics.Metrics) WorkerOption {
	return func(w *HashWorker) { w.metrics = m }
}

// NewHashWorker creates a worker that attaches hashes computed by hash to
// queries of reg.
func NewHashWorker(reg *Registry, hash ResultHashFunc, opts ...WorkerOption) *HashWorker {
	w := &HashWorker{
		registry:    reg,
		hash:        hash,
		queue:       newTaskQueue(),
		maxAttempts: DefaultMaxAttempts,
		retryDelay:  DefaultRetryDelay,
		logger:      reg.logger,
		metrics:     reg.metrics,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Enqueue schedules the hash of query id. Returns false once the worker is
// closed.
func (w *HashWorker) Enqueue(id int64) bool {
	return w.enqueue(HashTask{QueryID: id})
}

func (w *HashWorker) enqueue(t HashTask) bool {
	ok := w.queue.Enqueue(t)
	w.metrics.SetHashQueueLength(w.queue.Len())
	return ok
}

// Resume enqueues every query still lacking a result-set hash and returns
// how many were enqueued.
func (w *HashWorker) Resume(ctx context.Context) (int, error) {
	pending, err := w.registry.Pending(ctx)
	if err != nil {
		return 0, fmt.Errorf("resume: %w", err)
	}
	n := 0
	for _, q := range pending {
		if w.Enqueue(q.ID) {
			n++
		}
	}
	if n > 0 {
		w.logger.Info("hash tasks resumed", "count", n)
	}
	return n, nil
}

// Len returns the number of queued tasks.
func (w *HashWorker) Len() int {
	return w.queue.Len()
}

// Close stops accepting tasks. Run returns once the queue is drained and
// every scheduled retry has run.
func (w *HashWorker) Close() {
	w.queue.Close()
}

// Run processes tasks until ctx is canceled or the worker is closed and
// drained. Failed tasks run again after the retry delay; Run waits for
// those retries before returning after Close.
func (w *HashWorker) Run(ctx context.Context) error {
	var retries []scheduledTask // In due order: the delay is constant
	for {
		if err := ctx.Err(); err != nil {
			if len(retries) > 0 {
				w.logger.Warn("hash retries abandoned, left pending", "tasks", len(retries))
			}
			return err
		}

		if t, ok := w.next(&retries, time.Now()); ok {
			w.metrics.SetHashQueueLength(w.queue.Len())
			if retry, ok := w.process(ctx, t); ok {
				retries = append(retries, scheduledTask{task: retry, due: time.Now().Add(w.retryDelay)})
			}
			continue
		}

		closed := w.queue.Closed()
		if closed && len(retries) == 0 && w.queue.Len() == 0 {
			return nil
		}

		var wake <-chan struct{}
		if !closed {
			wake = w.queue.Wait()
		}
		var timer *time.Timer
		var due <-chan time.Time
		if len(retries) > 0 {
			timer = time.NewTimer(time.Until(retries[0].due))
			due = timer.C
		}
		select {
		case <-ctx.Done():
		case <-wake:
		case <-due:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// scheduledTask is a failed task waiting out the retry delay.
type scheduledTask struct {
	task HashTask
	due  time.Time
}

// next returns the first retry due at now, else the front of the queue.
func (w *HashWorker) next(retries *[]scheduledTask, now time.Time) (HashTask, bool) {
	if len(*retries) > 0 && !(*retries)[0].due.After(now) {
		t := (*retries)[0].task
		*retries = (*retries)[1:]
		return t, true
	}
	return w.queue.TryDequeue()
}

// Drain processes queued tasks on the calling goroutine until the queue is
// empty, retrying failed tasks immediately within their attempt budget.
func (w *HashWorker) Drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, ok := w.queue.TryDequeue()
		if !ok {
			w.metrics.SetHashQueueLength(0)
			return nil
		}
		if retry, ok := w.process(ctx, t); ok {
			w.enqueue(retry)
		}
	}
}

// process runs one task. It returns the follow-up task and true when the
// task failed and has attempts left.
func (w *HashWorker) process(ctx context.Context, t HashTask) (HashTask, bool) {
	ref := strconv.FormatInt(t.QueryID, 10)
	q, err := w.registry.Resolve(ctx, ref)
	if err != nil {
		if IsQueryNotFound(err) {
			// Purged after enqueueing.
			w.metrics.RecordHashTask("failed")
			return HashTask{}, false
		}
		return w.failed(t, err)
	}
	if q.ResultSetHash != "" {
		w.metrics.RecordHashTask("ok")
		return HashTask{}, false
	}

	hash, err := w.hash(ctx, q)
	if err != nil {
		return w.failed(t, err)
	}
	if _, err := w.registry.UpdateResultHash(ctx, ref, hash); err != nil {
		return w.failed(t, err)
	}
	w.metrics.RecordHashTask("ok")
	w.logger.Debug("result hash attached", "query_id", t.QueryID, "attempt", t.Attempt+1)
	return HashTask{}, false
}

func (w *HashWorker) failed(t HashTask, err error) (HashTask, bool) {
	t.Attempt++
	if t.Attempt >= w.maxAttempts {
		w.metrics.RecordHashTask("failed")
		w.logger.Error("result hash task given up",
			"query_id", t.QueryID, "attempts", t.Attempt, "error", err)
		return HashTask{}, false
	}
	w.metrics.RecordHashTask("retry")
	w.logger.Warn("result hash task failed, retrying",
		"query_id", t.QueryID, "attempt", t.Attempt, "error", err)
	return t, true
}
