package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/internal/testutil"
	"github.com/hupe1980/canvasflow/plan"
	"github.com/hupe1980/canvasflow/scheduler"
	"github.com/hupe1980/canvasflow/session"
	"github.com/hupe1980/canvasflow/store"
	"github.com/hupe1980/canvasflow/stream"
)

// notifySink collects notifications thread-safely.
type notifySink struct {
	mu    sync.Mutex
	notes []core.Notification
}

func (n *notifySink) add(note core.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
}

func (n *notifySink) kinds() []core.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]core.NotificationKind, 0, len(n.notes))
	for _, note := range n.notes {
		kinds = append(kinds, note.Kind)
	}
	return kinds
}

type fixture struct {
	rc      *core.RunContext
	backend *testutil.ScriptedBackend
	store   *store.InMemoryStore
}

func newFixture(t *testing.T, backend *testutil.ScriptedBackend) *fixture {
	t.Helper()
	client, server := stream.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	go backend.Serve(ctx, server)

	registry := session.NewRegistry()
	mux := stream.NewMux(registry, client)
	st := store.NewInMemoryStore()
	t.Cleanup(func() {
		cancel()
		_ = mux.Close()
	})

	return &fixture{
		rc:      core.NewRunContext("g", registry, mux, st, nil),
		backend: backend,
		store:   st,
	}
}

func buildPlan(t *testing.T, specs []plan.Spec) *plan.Plan {
	t.Helper()
	p, err := plan.Build(specs, plan.Request{GraphID: "g", Scope: plan.ScopeAll})
	require.NoError(t, err)
	return p
}

func waitState(t *testing.T, s *scheduler.Scheduler) core.RunState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	state, err := s.Wait(ctx)
	require.NoError(t, err)
	return state
}

func diamondSpecs() []plan.Spec {
	return testutil.NewPlanBuilder("g").
		Node("a").
		Node("b", "a").
		Node("c", "a").
		Node("d", "b", "c").
		Specs()
}

func TestScheduler_DiamondCompletes(t *testing.T) {
	backend := testutil.NewScriptedBackend().
		ScriptNode("a", testutil.Script{Chunks: []string{"ra"}, Usage: &core.TokenUsage{TotalTokens: 1}}).
		ScriptNode("b", testutil.Script{Chunks: []string{"rb"}}).
		ScriptNode("c", testutil.Script{Chunks: []string{"rc"}}).
		ScriptNode("d", testutil.Script{Chunks: []string{"rd"}})
	f := newFixture(t, backend)
	p := buildPlan(t, diamondSpecs())

	sink := &notifySink{}
	s := scheduler.New(p, f.rc, func(o *scheduler.Options) { o.Notify = sink.add })
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, core.RunCompleted, waitState(t, s))

	for _, nodeID := range []string{"a", "b", "c", "d"} {
		step, ok := p.Step(nodeID)
		require.True(t, ok)
		assert.Equal(t, core.StepDone, step.Status(), nodeID)
	}
	completed, total := p.Progress()
	assert.Equal(t, 4, completed)
	assert.Equal(t, 4, total)

	// The sink node launches only after both parents settle.
	started := f.backend.Started()
	require.Len(t, started, 4)
	assert.Equal(t, "a", started[0])
	assert.Equal(t, "d", started[3])

	assert.Equal(t, []core.NotificationKind{core.NotifyRunCompleted}, sink.kinds())
}

func TestScheduler_PersistsBeforeDone(t *testing.T) {
	backend := testutil.NewScriptedBackend().
		ScriptNode("a", testutil.Script{Chunks: []string{"answer"}, Usage: &core.TokenUsage{TotalTokens: 9}})
	f := newFixture(t, backend)
	p := buildPlan(t, testutil.NewPlanBuilder("g").Node("a").Specs())

	s := scheduler.New(p, f.rc)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, core.RunCompleted, waitState(t, s))

	result, ok := f.store.GetStep("g", "a")
	require.True(t, ok)
	assert.Equal(t, "answer", result.Response)
	assert.Equal(t, 9, result.Usage.TotalTokens)
	assert.False(t, result.FinishedAt.IsZero())
}

func TestScheduler_StepFailureStrandsDependents(t *testing.T) {
	backend := testutil.NewScriptedBackend().
		ScriptNode("a", testutil.Script{Chunks: []string{"ra"}}).
		ScriptNode("b", testutil.Script{Err: "boom"}).
		ScriptNode("c", testutil.Script{Chunks: []string{"rc"}}).
		ScriptNode("d", testutil.Script{Chunks: []string{"rd"}})
	f := newFixture(t, backend)
	p := buildPlan(t, diamondSpecs())

	sink := &notifySink{}
	s := scheduler.New(p, f.rc, func(o *scheduler.Options) { o.Notify = sink.add })
	require.NoError(t, s.Start(context.Background()))

	assert.Equal(t, core.RunFailed, waitState(t, s))

	b, _ := p.Step("b")
	assert.Equal(t, core.StepFailed, b.Status())
	c, _ := p.Step("c")
	assert.Equal(t, core.StepDone, c.Status())
	// d never starts; its dependency chain is broken.
	d, _ := p.Step("d")
	assert.Equal(t, core.StepNotStarted, d.Status())

	kinds := sink.kinds()
	require.Len(t, kinds, 2)
	assert.Equal(t, core.NotifyStepFailed, kinds[0])
	assert.Equal(t, core.NotifyRunFailed, kinds[1])

	// The step failure is wrapped so callers can identify the node.
	var stepErr *core.StepError
	require.ErrorAs(t, sink.notes[0].Err, &stepErr)
	assert.Equal(t, "b", stepErr.NodeID)
}

func TestScheduler_Cancel(t *testing.T) {
	backend := testutil.NewScriptedBackend().
		ScriptNode("a", testutil.Script{Silent: true})
	f := newFixture(t, backend)
	p := buildPlan(t, testutil.NewPlanBuilder("g").Node("a").Node("b", "a").Specs())

	sink := &notifySink{}
	s := scheduler.New(p, f.rc, func(o *scheduler.Options) { o.Notify = sink.add })
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(f.backend.Started()) == 1
	}, time.Second, 10*time.Millisecond)

	s.Cancel()
	s.Cancel() // idempotent

	assert.Equal(t, core.RunCancelled, waitState(t, s))
	assert.Equal(t, []core.NotificationKind{core.NotifyRunCancelled}, sink.kinds())

	assert.Eventually(t, func() bool {
		return len(f.backend.Cancelled()) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_ContextCancellation(t *testing.T) {
	backend := testutil.NewScriptedBackend().
		ScriptNode("a", testutil.Script{Silent: true})
	f := newFixture(t, backend)
	p := buildPlan(t, testutil.NewPlanBuilder("g").Node("a").Specs())

	ctx, cancel := context.WithCancel(context.Background())
	s := scheduler.New(p, f.rc)
	require.NoError(t, s.Start(ctx))

	assert.Eventually(t, func() bool {
		return len(f.backend.Started()) == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.Equal(t, core.RunCancelled, waitState(t, s))
}

func TestScheduler_ConcurrencyBound(t *testing.T) {
	backend := testutil.NewScriptedBackend().
		ScriptNode("a", testutil.Script{Silent: true}).
		ScriptNode("b", testutil.Script{Silent: true})
	f := newFixture(t, backend)
	p := buildPlan(t, testutil.NewPlanBuilder("g").Node("a").Node("b").Specs())

	s := scheduler.New(p, f.rc, func(o *scheduler.Options) { o.MaxConcurrentSteps = 1 })
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool {
		return len(f.backend.Started()) == 1
	}, time.Second, 10*time.Millisecond)

	// The second independent step must not launch while the first holds the
	// only slot.
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, f.backend.Started(), 1)

	s.Cancel()
	waitState(t, s)
}

func TestScheduler_StartTwiceRejected(t *testing.T) {
	backend := testutil.NewScriptedBackend()
	f := newFixture(t, backend)
	p := buildPlan(t, testutil.NewPlanBuilder("g").Node("a").Specs())

	s := scheduler.New(p, f.rc)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	waitState(t, s)
}
