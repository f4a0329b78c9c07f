package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/DolevBitran/dynamic-products-scraper/pkg/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Recorder receives job outcome metrics. *metrics.Metrics satisfies it.
type Recorder interface {
	RecordJob(kind, status string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordJob(string, string, time.Duration) {}

// Config tunes the queue.
type Config struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	MaxWait      time.Duration
	JobTimeout   time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Workers:      2,
		QueueSize:    100,
		PollInterval: 500 * time.Millisecond,
		MaxWait:      2 * time.Minute,
		JobTimeout:   30 * time.Minute,
	}
}

// ErrJobTimeout matches, via errors.Is, the error Wait returns when a job does
// not finish within MaxWait.
var ErrJobTimeout = apperrors.New(apperrors.ErrCodeJobTimeout, "job did not finish in time")

// Queue dispatches jobs to a fixed pool of workers and mirrors their state into a Store.
type Queue struct {
	cfg      Config
	store    Store
	logger   *zap.Logger
	recorder Recorder

	jobs    chan *Job
	workers []*worker

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers map[string]Handler
	active   map[string]Handle
	done     map[string]chan struct{}
	started  bool
	stopped  bool
}

// NewQueue creates a queue. Workers do not run until Start is called.
func NewQueue(cfg Config, store Store, logger *zap.Logger, recorder Recorder) *Queue {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		recorder: recorder,
		jobs:     make(chan *Job, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
		active:   make(map[string]Handle),
		done:     make(map[string]chan struct{}),
	}
}

// Define registers the handler for a job kind.
func (q *Queue) Define(kind string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Start launches the worker pool.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true
	q.workers = make([]*worker, q.cfg.Workers)
	for i := range q.workers {
		q.workers[i] = newWorker(i, q)
		q.workers[i].start()
	}
	q.logger.Info("Job queue started", zap.Int("workers", q.cfg.Workers))
}

// Stop cancels running jobs and waits for the workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	workers := q.workers
	close(q.jobs)
	q.mu.Unlock()

	q.cancel()
	for _, w := range workers {
		<-w.exited
	}
	q.logger.Info("Job queue stopped")
}

// Ping checks the backing store.
func (q *Queue) Ping(ctx context.Context) error {
	return q.store.Ping(ctx)
}

// Schedule enqueues a new job of kind.
func (q *Queue) Schedule(ctx context.Context, kind string, payload any) (Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.scheduleLocked(ctx, kind, payload)
}

// RunOnce enqueues a job of kind unless one is already queued or running, in
// which case the existing job's handle is returned.
func (q *Queue) RunOnce(ctx context.Context, kind string, payload any) (Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.active[kind]; ok {
		return h, nil
	}
	h, err := q.scheduleLocked(ctx, kind, payload)
	if err != nil {
		return Handle{}, err
	}
	q.active[kind] = h
	return h, nil
}

func (q *Queue) scheduleLocked(ctx context.Context, kind string, payload any) (Handle, error) {
	if q.stopped {
		return Handle{}, apperrors.New(apperrors.ErrCodeQueueError, "job queue is stopped")
	}
	if _, ok := q.handlers[kind]; !ok {
		return Handle{}, apperrors.Newf(apperrors.ErrCodeQueueError, "no handler defined for job kind %q", kind)
	}
	raw, err := encodePayload(payload)
	if err != nil {
		return Handle{}, apperrors.Wrap(err, apperrors.ErrCodeQueueError, "encode job payload")
	}

	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   raw,
		Status:    StatusQueued,
		CreatedAt: time.Now().UTC(),
	}
	if err := q.store.Save(ctx, job); err != nil {
		return Handle{}, apperrors.Wrap(err, apperrors.ErrCodeQueueError, "save job")
	}

	select {
	case q.jobs <- job:
	default:
		q.record(job, nil, fmt.Errorf("job queue is full"))
		return Handle{}, apperrors.New(apperrors.ErrCodeQueueError, "job queue is full")
	}
	q.done[job.ID] = make(chan struct{})

	q.logger.Debug("Job scheduled", zap.String("job_id", job.ID), zap.String("kind", kind))
	return Handle{ID: job.ID, Kind: kind}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	case []byte:
		return json.RawMessage(p), nil
	default:
		return json.Marshal(p)
	}
}

// Get returns the stored state of a job.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	return q.store.Get(ctx, id)
}

// IsComplete reports whether the job has finished, successfully or not.
func (q *Queue) IsComplete(ctx context.Context, h Handle) (bool, error) {
	job, err := q.store.Get(ctx, h.ID)
	if err != nil {
		return false, err
	}
	return job.Status.Done(), nil
}

// Result returns the job's result payload, or nil while it is still pending.
func (q *Queue) Result(ctx context.Context, h Handle) (json.RawMessage, error) {
	job, err := q.store.Get(ctx, h.ID)
	if err != nil {
		return nil, err
	}
	if job.Status == StatusFailed {
		return nil, fmt.Errorf("job %s failed: %s", job.ID, job.Error)
	}
	return job.Result, nil
}

// Wait blocks until the job finishes or MaxWait elapses. Jobs run by this
// process are awaited directly; others are polled from the store.
func (q *Queue) Wait(ctx context.Context, id string) (*Job, error) {
	ctx, cancel := context.WithTimeout(ctx, q.cfg.MaxWait)
	defer cancel()

	q.mu.Lock()
	done := q.done[id]
	q.mu.Unlock()

	if done != nil {
		select {
		case <-done:
			return q.store.Get(context.WithoutCancel(ctx), id)
		case <-ctx.Done():
			return nil, waitErr(ctx)
		}
	}

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		job, err := q.store.Get(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, waitErr(ctx)
			}
			return nil, err
		}
		if job.Status.Done() {
			return job, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, waitErr(ctx)
		}
	}
}

func waitErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperrors.New(apperrors.ErrCodeJobTimeout, "job did not finish in time")
	}
	return ctx.Err()
}

func (q *Queue) handler(kind string) Handler {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.handlers[kind]
}

func (q *Queue) run(job *Job) {
	start := time.Now()
	started := start.UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	if err := q.store.Save(q.ctx, job); err != nil {
		q.logger.Warn("Failed to record job start", zap.String("job_id", job.ID), zap.Error(err))
	}

	ctx := q.ctx
	if q.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.JobTimeout)
		defer cancel()
	}

	result, err := q.invoke(ctx, job)
	q.finish(job, result, err)

	status := string(job.Status)
	q.recorder.RecordJob(job.Kind, status, time.Since(start))
	if err != nil {
		q.logger.Error("Job failed", zap.String("job_id", job.ID), zap.String("kind", job.Kind), zap.Error(err))
		return
	}
	q.logger.Info("Job processed",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Duration("duration", time.Since(start)))
}

func (q *Queue) invoke(ctx context.Context, job *Job) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	h := q.handler(job.Kind)
	if h == nil {
		return nil, fmt.Errorf("no handler defined for job kind %q", job.Kind)
	}
	return h(ctx, job.Payload)
}

// finish stores the terminal state, then releases waiters and the single-flight slot.
func (q *Queue) finish(job *Job, result json.RawMessage, err error) {
	q.record(job, result, err)

	q.mu.Lock()
	defer q.mu.Unlock()
	if ch, ok := q.done[job.ID]; ok {
		close(ch)
		delete(q.done, job.ID)
	}
	if h, ok := q.active[job.Kind]; ok && h.ID == job.ID {
		delete(q.active, job.Kind)
	}
}

func (q *Queue) record(job *Job, result json.RawMessage, err error) {
	finished := time.Now().UTC()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
	} else {
		job.Status = StatusCompleted
		job.Result = result
	}
	if serr := q.store.Save(context.Background(), job); serr != nil {
		q.logger.Error("Failed to record job result", zap.String("job_id", job.ID), zap.Error(serr))
	}
}

type worker struct {
	id     int
	queue  *Queue
	exited chan struct{}
}

func newWorker(id int, q *Queue) *worker {
	return &worker{id: id, queue: q, exited: make(chan struct{})}
}

func (w *worker) start() {
	go func() {
		defer close(w.exited)
		for {
			select {
			case job, ok := <-w.queue.jobs:
				if !ok {
					return
				}
				w.queue.run(job)
			case <-w.queue.ctx.Done():
				return
			}
		}
	}()
}
