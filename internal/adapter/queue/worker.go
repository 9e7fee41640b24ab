package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"autopilot/internal/domain"
	"autopilot/internal/infra/metrics"
	"autopilot/internal/infra/tracer"
)

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	// Concurrency is the number of jobs run in parallel per queue.
	Concurrency  map[string]int
	PollInterval time.Duration
}

// semaphore bounds in-flight jobs for one queue.
type semaphore chan struct{}

func (s semaphore) acquire(ctx context.Context) bool {
	select {
	case s <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s semaphore) release() { <-s }

// Worker reserves jobs and runs the handler registered for their kind.
type Worker struct {
	queue    *Queue
	cfg      WorkerConfig
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[string]domain.JobHandler
}

// NewWorker creates a worker pool over q.
func NewWorker(q *Queue, cfg WorkerConfig, logger *slog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if len(cfg.Concurrency) == 0 {
		cfg.Concurrency = map[string]int{QueueDefault: 1}
	}
	return &Worker{
		queue:    q,
		cfg:      cfg,
		logger:   logger,
		handlers: make(map[string]domain.JobHandler),
	}
}

// Handle registers h for jobs of kind. A later registration replaces an
// earlier one.
func (w *Worker) Handle(kind string, h domain.JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = h
}

func (w *Worker) handler(kind string) (domain.JobHandler, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	h, ok := w.handlers[kind]
	return h, ok
}

// Queues returns the configured queue names in sorted order.
func (w *Worker) Queues() []string {
	names := make([]string, 0, len(w.cfg.Concurrency))
	for name := range w.cfg.Concurrency {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run polls every configured queue until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range w.Queues() {
		n := max(w.cfg.Concurrency[name], 1)
		g.Go(func() error {
			w.pollQueue(ctx, name, n)
			return nil
		})
	}
	w.logger.Info("queue workers started", "queues", w.Queues())
	return g.Wait()
}

func (w *Worker) pollQueue(ctx context.Context, name string, concurrency int) {
	slots := make(semaphore, concurrency)
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		if !slots.acquire(ctx) {
			return
		}
		job, err := w.queue.Reserve(ctx, name)
		if err != nil || job == nil {
			slots.release()
			if err != nil && ctx.Err() == nil {
				w.logger.WarnContext(ctx, "reserve failed", "queue", name, "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			defer slots.release()
			// Finishing bookkeeping must survive shutdown of the poll loop.
			w.process(context.WithoutCancel(ctx), job)
		}()
	}
}

// RunOnce reserves and processes a single job from queueName. It reports
// whether a job was found.
func (w *Worker) RunOnce(ctx context.Context, queueName string) (bool, error) {
	job, err := w.queue.Reserve(ctx, queueName)
	if err != nil || job == nil {
		return false, err
	}
	w.process(ctx, job)
	return true, nil
}

// Drain processes queueName until no job is available now. Jobs released
// with a backoff delay are left for later.
func (w *Worker) Drain(ctx context.Context, queueName string) (int, error) {
	n := 0
	for {
		ok, err := w.RunOnce(ctx, queueName)
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

func (w *Worker) process(ctx context.Context, job *domain.Job) {
	start := time.Now()
	log := w.logger.With("queue", job.Queue, "kind", job.Kind, "attempt", job.Attempts)

	ctx = domain.ContextWithJobUUID(ctx, job.UUID)
	ctx, span := tracer.StartSpan(ctx, "queue.job",
		trace.WithAttributes(tracer.JobAttrs(job.UUID, job.Queue, job.Kind, job.Attempts)...))
	defer span.End()

	err := w.invoke(ctx, job)
	elapsed := time.Since(start)
	tracer.Finish(span, err)

	switch {
	case err == nil:
		if derr := w.queue.Delete(ctx, job); derr != nil {
			log.ErrorContext(ctx, "delete finished job", "error", derr)
		}
		metrics.RecordJob(job.Queue, job.Kind, "done", elapsed)
		log.DebugContext(ctx, "job done", "duration", elapsed)

	case job.Attempts < job.MaxTries:
		delay := w.queue.defaults.Backoff * time.Duration(job.Attempts)
		if rerr := w.queue.Release(ctx, job, delay); rerr != nil {
			log.ErrorContext(ctx, "release job", "error", rerr)
		}
		metrics.RecordJob(job.Queue, job.Kind, "retry", elapsed)
		log.WarnContext(ctx, "job failed, will retry", "error", err, "delay", delay)

	default:
		if berr := w.queue.Bury(ctx, job, err.Error()); berr != nil {
			log.ErrorContext(ctx, "move job to failed_jobs", "error", berr)
		}
		metrics.RecordJob(job.Queue, job.Kind, "failed", elapsed)
		log.ErrorContext(ctx, "job failed permanently", "error", err)
	}
}

// invoke runs the handler under the job timeout. A handler that outlives its
// deadline fails with ErrJobTimeout; a panic fails the attempt.
func (w *Worker) invoke(ctx context.Context, job *domain.Job) (err error) {
	h, ok := w.handler(job.Kind)
	if !ok {
		// Retrying cannot help an unknown kind.
		job.Attempts = job.MaxTries
		return fmt.Errorf("no handler registered for job kind %q", job.Kind)
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v\n%s", job.Kind, r, debug.Stack())
		}
	}()

	err = h(ctx, *job)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewSubSystemError("queue", "Worker.Run", domain.ErrJobTimeout,
			fmt.Sprintf("%s after %s", job.Kind, job.Timeout))
	}
	return err
}
