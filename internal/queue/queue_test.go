package queue

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/blockgate/internal/config"
	"github.com/gyaneshwarpardhi/blockgate/internal/gate"
	"github.com/gyaneshwarpardhi/blockgate/internal/graph"
	"github.com/gyaneshwarpardhi/blockgate/internal/registry"
)

// newTestQueue builds a registry from a catalog and a queue over it.
func newTestQueue(t *testing.T, conf config.GateConf, jobs ...config.JobDef) (*Queue, *registry.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	reg := registry.New(logger)
	require.NoError(t, reg.Sync(&config.Catalog{Version: "v1", Jobs: jobs}))

	ctx, cancel := context.WithCancel(context.Background())
	q := New(ctx, reg, gate.New(reg, logger), conf, logger)
	t.Cleanup(func() {
		cancel()
		q.Shutdown()
	})
	return q, reg
}

func state(t *testing.T, reg *registry.Registry, name string) registry.State {
	t.Helper()
	j, ok := reg.Lookup(name)
	require.True(t, ok)
	return j.State()
}

func TestEnqueue(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{QueueDepth: 2},
		config.JobDef{Name: "a"}, config.JobDef{Name: "b"}, config.JobDef{Name: "c"})

	it, err := q.Enqueue("a")
	require.NoError(t, err)
	assert.Equal(t, "a", it.Job)
	assert.NotEqual(t, uuid.Nil, it.ID)
	assert.Equal(t, registry.Queued, state(t, reg, "a"))

	_, err = q.Enqueue("a")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
	_, err = q.Enqueue("ghost")
	assert.ErrorIs(t, err, registry.ErrUnknownJob)

	_, err = q.Enqueue("b")
	require.NoError(t, err)
	_, err = q.Enqueue("c")
	assert.ErrorIs(t, err, ErrQueueFull)

	assert.Equal(t, []string{"a", "b"}, jobNames(q.Items()))
}

func TestAdmitHonoursFinalJobBlocking(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{},
		config.JobDef{Name: "build", Downstream: []string{"test"}},
		config.JobDef{Name: "test", Pipeline: &config.PipelineDef{BlockUpstream: true, FinalUpstream: "build"}},
	)
	_, err := q.Enqueue("build")
	require.NoError(t, err)
	_, err = q.Enqueue("test")
	require.NoError(t, err)

	decisions := q.Admit()
	require.Len(t, decisions, 2)
	assert.False(t, decisions[0].Blocked)
	assert.True(t, decisions[1].Blocked)
	assert.Equal(t, graph.Upstream, decisions[1].Blockage.Direction)
	assert.Equal(t, "build", decisions[1].Blockage.Job.Name())

	assert.Equal(t, registry.Building, state(t, reg, "build"))
	items := q.Items()
	require.Len(t, items, 1)
	assert.True(t, items[0].Blocked)
	assert.Equal(t, "Upstream project build is already building.", items[0].Reason)

	triggered, err := q.Complete("build")
	require.NoError(t, err)
	assert.Empty(t, triggered, "test is already queued")

	decisions = q.Admit()
	require.Len(t, decisions, 1)
	assert.False(t, decisions[0].Blocked)
	assert.Equal(t, registry.Building, state(t, reg, "test"))
	assert.Empty(t, q.Items())
}

func TestAdmitMutualBlockingMakesProgress(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{},
		config.JobDef{Name: "a", Downstream: []string{"b"},
			Pipeline: &config.PipelineDef{BlockDownstream: true, FinalDownstream: "b"}},
		config.JobDef{Name: "b",
			Pipeline: &config.PipelineDef{BlockUpstream: true, FinalUpstream: "a"}},
	)
	_, err := q.Enqueue("a")
	require.NoError(t, err)
	_, err = q.Enqueue("b")
	require.NoError(t, err)

	decisions := q.Admit()
	require.Len(t, decisions, 2)
	assert.True(t, decisions[0].Blocked, "b is queued and unblocked")
	assert.False(t, decisions[1].Blocked, "a was blocked earlier in the pass")
	assert.Equal(t, registry.Building, state(t, reg, "b"))
	assert.Equal(t, registry.Queued, state(t, reg, "a"))
}

func TestAdmitNativeBlocking(t *testing.T) {
	q, _ := newTestQueue(t, config.GateConf{},
		config.JobDef{Name: "a", Downstream: []string{"b"}},
		config.JobDef{Name: "b", Downstream: []string{"c"}},
		config.JobDef{Name: "c", BlockWhenUpstreamBuilding: true},
	)
	_, err := q.Enqueue("a")
	require.NoError(t, err)
	q.Admit()

	_, err = q.Enqueue("c")
	require.NoError(t, err)
	decisions := q.Admit()
	require.Len(t, decisions, 1)
	assert.True(t, decisions[0].Blocked)
	assert.True(t, decisions[0].Native)
	assert.Equal(t, "a", decisions[0].Blockage.Job.Name(), "native check covers the full closure")
}

func TestCompleteTriggersDownstream(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{},
		config.JobDef{Name: "a", Downstream: []string{"b", "c"}},
		config.JobDef{Name: "b"}, config.JobDef{Name: "c"},
	)
	_, err := q.Complete("a")
	assert.ErrorIs(t, err, ErrNotBuilding)

	_, err = q.Enqueue("a")
	require.NoError(t, err)
	q.Admit()

	triggered, err := q.Complete("a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, triggered)
	assert.Equal(t, registry.Idle, state(t, reg, "a"))
	assert.Equal(t, []string{"b", "c"}, jobNames(q.Items()))
}

func TestDeleteDropsQueuedItems(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{}, config.JobDef{Name: "a"}, config.JobDef{Name: "b"})
	_, err := q.Enqueue("a")
	require.NoError(t, err)
	_, err = q.Enqueue("b")
	require.NoError(t, err)

	require.NoError(t, reg.Delete("a"))
	assert.Equal(t, []string{"b"}, jobNames(q.Items()))
}

func TestPreviewDoesNotChangeState(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{PreviewWorkers: 4, QueueDepth: 10},
		config.JobDef{Name: "build", Downstream: []string{"test"}},
		config.JobDef{Name: "test", Pipeline: &config.PipelineDef{BlockUpstream: true, FinalUpstream: "build"}},
	)
	_, err := q.Enqueue("build")
	require.NoError(t, err)
	_, err = q.Enqueue("test")
	require.NoError(t, err)

	decisions, err := q.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	assert.Equal(t, "build", decisions[0].Job)
	assert.False(t, decisions[0].Blocked)
	assert.True(t, decisions[1].Blocked, "build is queued and unblocked")

	assert.Equal(t, registry.Queued, state(t, reg, "build"))
	for _, it := range q.Items() {
		assert.False(t, it.Blocked)
	}
}

func TestPreviewEmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t, config.GateConf{})
	decisions, err := q.Preview(context.Background())
	require.NoError(t, err)
	assert.Empty(t, decisions)
}

func TestPreviewAfterShutdown(t *testing.T) {
	q, _ := newTestQueue(t, config.GateConf{QueueDepth: 10}, config.JobDef{Name: "a"})
	_, err := q.Enqueue("a")
	require.NoError(t, err)

	q.Shutdown()
	_, err = q.Preview(context.Background())
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestRunAdmitsOnTick(t *testing.T) {
	q, reg := newTestQueue(t, config.GateConf{AdmitIntervalMs: 5}, config.JobDef{Name: "a"})
	_, err := q.Enqueue("a")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		j, _ := reg.Lookup("a")
		return j.State() == registry.Building
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func jobNames(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Job)
	}
	return out
}
