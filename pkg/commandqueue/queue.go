package commandqueue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	// LaneRead carries tools that only list or get
	LaneRead = "read"
	// LaneWrite carries tools that create, update or delete
	LaneWrite = "write"

	// DefaultReadConcurrency and DefaultWriteConcurrency apply when a lane
	// limit is not configured
	DefaultReadConcurrency  = 8
	DefaultWriteConcurrency = 2

	// DefaultWarnAfter is how long a call may wait in a lane before a warning
	DefaultWarnAfter = 5 * time.Second
)

// ErrClosed is returned by Enqueue after Close
var ErrClosed = errors.New("command queue is closed")

// Task is one unit of work run inside a lane
type Task func(ctx context.Context) (json.RawMessage, error)

// Config configures a CommandQueue
type Config struct {
	// Lanes maps lane name to its concurrency limit. Values <= 0 use the
	// lane default.
	Lanes     map[string]int
	WarnAfter time.Duration
	Metrics   *metrics.Metrics
}

type taskRecord struct {
	id         string
	task       Task
	ctx        context.Context
	enqueuedAt time.Time
	started    chan struct{}
	result     chan taskResult
}

type taskResult struct {
	value json.RawMessage
	err   error
}

// laneState holds the queue and running count of one lane
type laneState struct {
	concurrency int
	queue       []*taskRecord
	running     int
	mu          sync.Mutex
}

// CommandQueue runs tasks in lanes with per-lane concurrency limits
type CommandQueue struct {
	lanes     map[string]*laneState
	taskIDSeq int
	warnAfter time.Duration
	metrics   *metrics.Metrics
	mu        sync.RWMutex
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
}

// New creates a queue with the read and write lanes plus any extra lanes
// named in cfg
func New(cfg Config) *CommandQueue {
	ctx, cancel := context.WithCancel(context.Background())

	warnAfter := cfg.WarnAfter
	if warnAfter <= 0 {
		warnAfter = DefaultWarnAfter
	}

	cq := &CommandQueue{
		lanes:     make(map[string]*laneState),
		warnAfter: warnAfter,
		metrics:   cfg.Metrics,
		ctx:       ctx,
		cancel:    cancel,
	}

	cq.initLane(LaneRead, laneLimit(cfg.Lanes[LaneRead], DefaultReadConcurrency))
	cq.initLane(LaneWrite, laneLimit(cfg.Lanes[LaneWrite], DefaultWriteConcurrency))
	for lane, limit := range cfg.Lanes {
		cq.initLane(lane, laneLimit(limit, 1))
	}

	return cq
}

func laneLimit(n, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

func (cq *CommandQueue) initLane(lane string, concurrency int) {
	cq.mu.Lock()
	defer cq.mu.Unlock()

	if _, exists := cq.lanes[lane]; !exists {
		cq.lanes[lane] = &laneState{
			concurrency: concurrency,
			queue:       make([]*taskRecord, 0),
		}
		log.Debug().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane initialized")
	}
}

// lane returns the state of a lane, creating it with concurrency 1 when
// it was never configured
func (cq *CommandQueue) lane(name string) *laneState {
	cq.mu.RLock()
	ls, exists := cq.lanes[name]
	cq.mu.RUnlock()
	if exists {
		return ls
	}
	cq.initLane(name, 1)
	cq.mu.RLock()
	defer cq.mu.RUnlock()
	return cq.lanes[name]
}

// Enqueue runs task in lane once a slot is free and returns its result.
// If ctx ends while the task is still queued, the task is dropped and the
// context error returned. A task that already started sees the cancellation
// through its own context.
func (cq *CommandQueue) Enqueue(ctx context.Context, lane string, task Task) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(ctx, "commandqueue.enqueue", attribute.String("lane", lane))
	defer span.End()

	if cq.closed.Load() {
		return nil, ErrClosed
	}
	cq.mu.Lock()
	cq.taskIDSeq++
	record := &taskRecord{
		id:         strconv.Itoa(cq.taskIDSeq),
		task:       task,
		ctx:        ctx,
		enqueuedAt: time.Now(),
		started:    make(chan struct{}),
		result:     make(chan taskResult, 1),
	}
	cq.mu.Unlock()

	ls := cq.lane(lane)
	ls.mu.Lock()
	if cq.closed.Load() {
		ls.mu.Unlock()
		return nil, ErrClosed
	}
	ls.queue = append(ls.queue, record)
	depth := len(ls.queue)
	ls.mu.Unlock()

	cq.metrics.SetQueueDepth(lane, depth)
	span.SetAttributes(attribute.Int("queue.depth", depth))

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("lane", lane).
		Str("taskId", record.id).
		Int("queueSize", depth).
		Msg("Task enqueued")

	go cq.warnIfWaiting(record, lane)
	cq.processLane(lane)

	select {
	case res := <-record.result:
		if res.err != nil {
			span.RecordError(res.err)
			span.SetStatus(codes.Error, res.err.Error())
		}
		return res.value, res.err
	case <-ctx.Done():
		if cq.remove(lane, record) {
			return nil, ctx.Err()
		}
		res := <-record.result
		return res.value, res.err
	}
}

// remove drops a still-queued record. It reports false when the record
// has already started.
func (cq *CommandQueue) remove(lane string, record *taskRecord) bool {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	for i, r := range ls.queue {
		if r == record {
			ls.queue = append(ls.queue[:i], ls.queue[i+1:]...)
			cq.metrics.SetQueueDepth(lane, len(ls.queue))
			return true
		}
	}
	return false
}

// processLane starts queued tasks while the lane has free slots. Nothing
// starts once the queue is closed.
func (cq *CommandQueue) processLane(lane string) {
	ls := cq.lane(lane)
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if cq.closed.Load() {
		return
	}

	for ls.running < ls.concurrency && len(ls.queue) > 0 {
		record := ls.queue[0]
		ls.queue = ls.queue[1:]
		ls.running++
		close(record.started)

		cq.metrics.SetQueueDepth(lane, len(ls.queue))
		cq.metrics.RecordQueueWait(lane, time.Since(record.enqueuedAt))

		logger := tracing.LoggerFromContext(record.ctx, log.Logger)
		logger.Debug().
			Str("lane", lane).
			Str("taskId", record.id).
			Int("running", ls.running).
			Msg("Task started")

		cq.wg.Add(1)
		go cq.executeTask(lane, record)
	}
}

func (cq *CommandQueue) executeTask(lane string, record *taskRecord) {
	defer cq.wg.Done()

	taskCtx, span := tracing.StartSpan(record.ctx, "commandqueue.execute_task",
		attribute.String("lane", lane),
		attribute.String("task_id", record.id),
	)
	defer span.End()

	runCtx, cancel := context.WithCancel(taskCtx)
	stopCancel := context.AfterFunc(cq.ctx, cancel)
	defer func() {
		stopCancel()
		cancel()
	}()

	startTime := time.Now()
	value, err := cq.run(runCtx, record.task)
	duration := time.Since(startTime)

	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.running--
	ls.mu.Unlock()

	record.result <- taskResult{value: value, err: err}

	logger := tracing.LoggerFromContext(taskCtx, log.Logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug().Str("lane", lane).Str("taskId", record.id).Dur("duration", duration).Err(err).Msg("Task failed")
	} else {
		logger.Debug().Str("lane", lane).Str("taskId", record.id).Dur("duration", duration).Msg("Task completed")
	}

	cq.processLane(lane)
}

// run invokes task and turns a panic into an error so the lane slot is
// always released
func (cq *CommandQueue) run(ctx context.Context, task Task) (value json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return task(ctx)
}

// PanicError wraps a value recovered from a panicking task
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return "task panicked: " + toString(e.Value)
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case error:
		return val.Error()
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "unknown panic"
		}
		return string(b)
	}
}

// warnIfWaiting logs once if record is still queued after warnAfter
func (cq *CommandQueue) warnIfWaiting(record *taskRecord, lane string) {
	timer := time.NewTimer(cq.warnAfter)
	defer timer.Stop()

	select {
	case <-timer.C:
		ls := cq.lane(lane)
		ls.mu.Lock()
		queuePos := -1
		for i, r := range ls.queue {
			if r == record {
				queuePos = i
				break
			}
		}
		ls.mu.Unlock()

		if queuePos >= 0 {
			logger := tracing.LoggerFromContext(record.ctx, log.Logger)
			logger.Warn().
				Str("lane", lane).
				Str("taskId", record.id).
				Int64("waitMs", time.Since(record.enqueuedAt).Milliseconds()).
				Int("queuePos", queuePos).
				Msg("Task waiting longer than expected")
		}
	case <-record.started:
	case <-record.ctx.Done():
	case <-cq.ctx.Done():
	}
}

// GetQueueSize returns the number of queued tasks for a lane
func (cq *CommandQueue) GetQueueSize(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.queue)
}

// GetRunningCount returns the number of running tasks for a lane
func (cq *CommandQueue) GetRunningCount(lane string) int {
	cq.mu.RLock()
	ls, exists := cq.lanes[lane]
	cq.mu.RUnlock()
	if !exists {
		return 0
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return ls.running
}

// GetStats returns queued, running and concurrency per lane
func (cq *CommandQueue) GetStats() map[string]map[string]int {
	cq.mu.RLock()
	defer cq.mu.RUnlock()

	stats := make(map[string]map[string]int, len(cq.lanes))
	for name, ls := range cq.lanes {
		ls.mu.Lock()
		stats[name] = map[string]int{
			"queued":      len(ls.queue),
			"running":     ls.running,
			"concurrency": ls.concurrency,
		}
		ls.mu.Unlock()
	}
	return stats
}

// SetConcurrency changes a lane's limit and starts any tasks the new limit
// allows
func (cq *CommandQueue) SetConcurrency(lane string, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	ls := cq.lane(lane)
	ls.mu.Lock()
	ls.concurrency = concurrency
	ls.mu.Unlock()

	log.Info().Str("lane", lane).Int("concurrency", concurrency).Msg("Lane concurrency updated")
	cq.processLane(lane)
}

// Close rejects new tasks, fails queued ones with ErrClosed, cancels
// running ones and waits for them to return
func (cq *CommandQueue) Close() error {
	if !cq.closed.CompareAndSwap(false, true) {
		return nil
	}

	cq.mu.RLock()
	lanes := make(map[string]*laneState, len(cq.lanes))
	for name, ls := range cq.lanes {
		lanes[name] = ls
	}
	cq.mu.RUnlock()

	for name, ls := range lanes {
		ls.mu.Lock()
		pending := ls.queue
		ls.queue = nil
		ls.mu.Unlock()

		for _, record := range pending {
			record.result <- taskResult{err: ErrClosed}
		}
		if len(pending) > 0 {
			cq.metrics.SetQueueDepth(name, 0)
			log.Debug().Str("lane", name).Int("dropped", len(pending)).Msg("Queued tasks rejected on close")
		}
	}

	cq.cancel()
	cq.wg.Wait()
	return nil
}
