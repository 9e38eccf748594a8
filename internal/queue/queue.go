// Package queue is the build queue in front of the gate. Items wait in FIFO
// order; each admission pass starts every item that neither the host's
// native blocking nor the final-job gate holds back.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/blockgate/internal/config"
	"github.com/gyaneshwarpardhi/blockgate/internal/gate"
	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/metrics"
	"github.com/gyaneshwarpardhi/blockgate/internal/registry"
)

var (
	ErrAlreadyQueued = errors.New("job is already queued")
	ErrBuilding      = errors.New("job is building")
	ErrNotBuilding   = errors.New("job is not building")
	ErrQueueFull     = errors.New("queue is full")
	ErrPreviewBusy   = errors.New("preview workers busy")
	ErrShutdown      = errors.New("queue is shut down")
)

// Item is a queued build request.
type Item struct {
	ID         uuid.UUID `json:"id"`
	Job        string    `json:"job"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Blocked    bool      `json:"blocked"`
	Reason     string    `json:"reason,omitempty"`

	job *registry.Job
}

// Decision is the outcome of evaluating one item.
type Decision struct {
	ID       uuid.UUID      `json:"id"`
	Job      string         `json:"job"`
	Blocked  bool           `json:"blocked"`
	Native   bool           `json:"native,omitempty"`
	Blockage *gate.Blockage `json:"blockage,omitempty"`
}

// Queue holds pending build requests and admits them through the gate.
type Queue struct {
	reg    *registry.Registry
	gate   *gate.Gate
	conf   atomic.Pointer[config.GateConf]
	logger *slog.Logger

	mu    sync.Mutex
	items []*Item

	preview *workerPool[*Item, Decision]
}

// New creates a Queue and starts the preview workers. They stop when ctx is
// cancelled or Shutdown is called.
func New(ctx context.Context, reg *registry.Registry, g *gate.Gate, conf config.GateConf, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{reg: reg, gate: g, logger: logger}
	q.conf.Store(&conf)
	q.preview = newWorkerPool[*Item, Decision](
		ctx,
		max(conf.PreviewWorkers, 1),
		max(conf.QueueDepth, 1),
		func(_ context.Context, it *Item) (Decision, error) {
			return q.evaluate(it, false), nil
		},
	)
	reg.OnDelete(q.forget)
	return q
}

// Reconfigure applies new gate settings. The preview worker count is fixed
// at construction.
func (q *Queue) Reconfigure(conf config.GateConf) {
	q.conf.Store(&conf)
}

// Enqueue adds a build request for the named job.
func (q *Queue) Enqueue(name string) (Item, error) {
	j, ok := q.reg.Lookup(name)
	if !ok {
		return Item{}, fmt.Errorf("enqueue %q: %w", name, registry.ErrUnknownJob)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	switch j.State() {
	case registry.Queued:
		return Item{}, fmt.Errorf("enqueue %q: %w", name, ErrAlreadyQueued)
	case registry.Building:
		return Item{}, fmt.Errorf("enqueue %q: %w", name, ErrBuilding)
	}
	if depth := q.conf.Load().QueueDepth; depth > 0 && len(q.items) >= depth {
		return Item{}, fmt.Errorf("enqueue %q: %w (capacity %d)", name, ErrQueueFull, depth)
	}
	if err := q.reg.SetState(j, registry.Queued); err != nil {
		return Item{}, fmt.Errorf("enqueue %q: %w", name, err)
	}
	it := &Item{ID: uuid.New(), Job: name, EnqueuedAt: time.Now(), job: j}
	q.items = append(q.items, it)
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.logger.Debug("job queued", "job", name, "id", it.ID)
	return it.view(), nil
}

// Items returns the queued items in FIFO order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, it := range q.items {
		out = append(out, it.view())
	}
	return out
}

// Admit runs one admission pass over the queue in FIFO order and returns
// the decisions. Items are evaluated one at a time, so an item admitted or
// blocked earlier in the pass is already reflected when later items are
// checked.
func (q *Queue) Admit() []Decision {
	q.mu.Lock()
	defer q.mu.Unlock()

	decisions := make([]Decision, 0, len(q.items))
	remaining := q.items[:0]
	for _, it := range q.items {
		d := q.evaluate(it, true)
		decisions = append(decisions, d)
		if d.Blocked {
			q.reg.SetBlocked(it.job, true)
			it.Blocked = true
			it.Reason = d.Blockage.Description()
			remaining = append(remaining, it)
			metrics.Admissions.WithLabelValues("blocked").Inc()
			continue
		}
		if err := q.reg.SetState(it.job, registry.Building); err != nil {
			// Deleted while queued.
			q.logger.Warn("dropping queue item", "job", it.Job, "err", err)
			metrics.Admissions.WithLabelValues("dropped").Inc()
			continue
		}
		metrics.Admissions.WithLabelValues("admitted").Inc()
		q.logger.Info("job admitted", "job", it.job.Name(), "id", it.ID)
	}
	clear(q.items[len(remaining):])
	q.items = remaining
	metrics.QueueDepth.Set(float64(len(q.items)))
	return decisions
}

// Complete marks a building job finished and queues the jobs it triggers.
// It returns the names of the jobs that were queued.
func (q *Queue) Complete(name string) ([]string, error) {
	j, ok := q.reg.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("complete %q: %w", name, registry.ErrUnknownJob)
	}
	if j.State() != registry.Building {
		return nil, fmt.Errorf("complete %q: %w", name, ErrNotBuilding)
	}
	if err := q.reg.SetState(j, registry.Idle); err != nil {
		return nil, fmt.Errorf("complete %q: %w", name, err)
	}

	var triggered []string
	for _, down := range q.reg.DirectDownstream(j) {
		if _, err := q.Enqueue(down.Name()); err != nil {
			q.logger.Info("downstream not queued", "job", name, "downstream", down.Name(), "err", err)
			continue
		}
		triggered = append(triggered, down.Name())
	}
	q.logger.Info("job completed", "job", name, "triggered", triggered)
	return triggered, nil
}

// Preview evaluates every queued item concurrently without changing any
// state. It gives up after the configured preview timeout.
func (q *Queue) Preview(ctx context.Context) ([]Decision, error) {
	items := q.snapshot()
	resultC := make(chan taskResult[Decision], len(items))
	for _, it := range items {
		if !q.preview.Submit(it, resultC) {
			if q.preview.Closed() {
				return nil, ErrShutdown
			}
			return nil, ErrPreviewBusy
		}
	}

	timeout := time.Duration(q.conf.Load().PreviewTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	byID := make(map[uuid.UUID]Decision, len(items))
	for len(byID) < len(items) {
		select {
		case res := <-resultC:
			byID[res.value.ID] = res.value
		case <-timer.C:
			return nil, fmt.Errorf("preview timeout after %v", timeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	out := make([]Decision, 0, len(items))
	for _, it := range items {
		out = append(out, byID[it.ID])
	}
	return out, nil
}

// Run calls Admit on every admission tick until ctx is done.
func (q *Queue) Run(ctx context.Context) {
	interval := q.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.Admit()
			if next := q.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Utilization returns queue length / configured depth, from 0 to 1.
func (q *Queue) Utilization() float64 {
	depth := q.conf.Load().QueueDepth
	if depth <= 0 {
		return 0
	}
	q.mu.Lock()
	n := len(q.items)
	q.mu.Unlock()
	return float64(n) / float64(depth)
}

// Shutdown stops the preview workers. Preview then fails with ErrShutdown.
// It is safe to call more than once.
func (q *Queue) Shutdown() {
	q.preview.Drain()
}

func (q *Queue) interval() time.Duration {
	ms := q.conf.Load().AdmitIntervalMs
	if ms <= 0 {
		ms = 1000
	}
	return time.Duration(ms) * time.Millisecond
}

// evaluate checks the host's native blocking and then the gate. count
// selects CanRun (with metrics) over the side-effect free CheckAll.
func (q *Queue) evaluate(it *Item, count bool) Decision {
	d := Decision{ID: it.ID, Job: it.job.Name()}
	if b := q.nativeBlockage(it.job); b != nil {
		d.Blocked, d.Native, d.Blockage = true, true, b
		return d
	}
	var b *gate.Blockage
	if count {
		b = q.gate.CanRun(it.job)
	} else {
		b = q.gate.CheckAll(it.job)
	}
	if b != nil {
		d.Blocked, d.Blockage = true, b
	}
	return d
}

// nativeBlockage mirrors the host scheduler's own options: block while any
// job in the full transitive closure is building or queued and unblocked.
func (q *Queue) nativeBlockage(j *registry.Job) *gate.Blockage {
	up, down := j.Native()
	if !up && !down {
		return nil
	}
	live := q.reg.LiveBuildingOrQueued()
	for _, dir := range []graph.Direction{graph.Upstream, graph.Downstream} {
		if (dir == graph.Upstream && !up) || (dir == graph.Downstream && !down) {
			continue
		}
		for _, other := range graph.Closure(q.reg, j, dir) {
			if q.reg.IsBuilding(other) || live.Contains(other) {
				return &gate.Blockage{Direction: dir, Job: other}
			}
		}
	}
	return nil
}

func (q *Queue) snapshot() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Item, len(q.items))
	copy(out, q.items)
	return out
}

// forget drops queue items of a job that is being deleted.
func (q *Queue) forget(gj graph.Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	remaining := q.items[:0]
	for _, it := range q.items {
		if graph.Job(it.job) == gj {
			continue
		}
		remaining = append(remaining, it)
	}
	clear(q.items[len(remaining):])
	q.items = remaining
	metrics.QueueDepth.Set(float64(len(q.items)))
}

func (it *Item) view() Item {
	v := *it
	v.Job = it.job.Name()
	v.job = nil
	return v
}
