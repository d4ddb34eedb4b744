package executor

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/hupe1980/canvasflow/core"
	"github.com/hupe1980/canvasflow/internal/util"
	"github.com/hupe1980/canvasflow/logging"
	"github.com/hupe1980/canvasflow/model"
	"github.com/hupe1980/canvasflow/stream"
)

// Options configures an Executor.
type Options struct {
	// Logger defaults to a NoOpLogger.
	Logger logging.Logger
}

// Executor runs node operations. It keeps one cancel function per in-flight
// node so cancel_stream frames can abort the matching generation.
type Executor struct {
	model  model.Model
	logger logging.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// New constructs an Executor over the given model.
func New(m model.Model, optFns ...func(o *Options)) *Executor {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Executor{
		model:   m,
		logger:  opts.Logger,
		running: make(map[string]context.CancelFunc),
	}
}

// Serve connects the transport and processes its frames until the connection
// closes or ctx expires. Each start frame runs on its own goroutine so slow
// operations never block the control loop.
func (e *Executor) Serve(ctx context.Context, t stream.Transport) error {
	if err := t.Connect(ctx); err != nil {
		return fmt.Errorf("executor connect: %w", err)
	}

	frames := t.Frames()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			switch f.Type {
			case core.FrameStartStream:
				go e.run(ctx, t, f.Payload)
			case core.FrameCancelStream:
				e.cancel(f.Payload.NodeID)
			default:
				e.logger.Warn("Executor ignoring frame", "frame_type", string(f.Type))
			}
		}
	}
}

// cancel aborts the in-flight operation for nodeID, if any.
func (e *Executor) cancel(nodeID string) {
	e.mu.Lock()
	cancel, ok := e.running[nodeID]
	delete(e.running, nodeID)
	e.mu.Unlock()
	if ok {
		e.logger.Debug("Cancelling node operation", "node_id", nodeID)
		cancel()
	}
}

// run executes one node operation and emits its frames. The node's stored
// configuration supplies the prompt, an optional system instruction and an
// optional fan_out count for parallel sub-streams.
func (e *Executor) run(ctx context.Context, t stream.Transport, p core.FramePayload) {
	nodeID := p.NodeID

	opCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if _, dup := e.running[nodeID]; dup {
		// The multiplexer never double-starts a node; a duplicate start frame
		// means a confused client, not a second operation.
		e.mu.Unlock()
		cancel()
		e.logger.Warn("Duplicate start frame ignored", "node_id", nodeID)
		return
	}
	e.running[nodeID] = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.running, nodeID)
		e.mu.Unlock()
	}()

	prompt := configString(p.Config, "prompt")
	if prompt == "" {
		prompt = p.Title
	}
	prompt, err := util.RenderPrompt(prompt, p.Config)
	if err != nil {
		e.sendError(t, nodeID, err)
		return
	}

	req := model.Request{
		System: configString(p.Config, "system"),
		Prompt: prompt,
		Stream: true,
	}

	if n := configInt(p.Config, "fan_out"); n > 1 {
		e.runFanOut(opCtx, t, nodeID, req, n)
		return
	}

	usage, err := e.generate(opCtx, t, nodeID, "", req)
	if err != nil {
		e.sendError(t, nodeID, err)
		return
	}
	e.send(t, core.NewEndFrame(nodeID, "", usage))
}

// runFanOut runs n parallel generations as sub-streams of the node, then
// terminates the primary stream with the aggregated usage.
func (e *Executor) runFanOut(ctx context.Context, t stream.Transport, nodeID string, req model.Request, n int) {
	var wg sync.WaitGroup
	usages := make([]*core.TokenUsage, n)
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subID := strconv.Itoa(i + 1)
			usage, err := e.generate(ctx, t, nodeID, subID, req)
			if err != nil {
				errs[i] = err
				return
			}
			usages[i] = usage
			e.send(t, core.NewEndFrame(nodeID, subID, usage))
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			e.sendError(t, nodeID, err)
			return
		}
	}

	total := &core.TokenUsage{}
	for _, u := range usages {
		if u == nil {
			continue
		}
		total.PromptTokens += u.PromptTokens
		total.CompletionTokens += u.CompletionTokens
		total.TotalTokens += u.TotalTokens
	}
	e.send(t, core.NewEndFrame(nodeID, "", total))
}

// generate streams one model call as chunk frames and returns its usage.
func (e *Executor) generate(ctx context.Context, t stream.Transport, nodeID, subID string, req model.Request) (*core.TokenUsage, error) {
	respCh, errCh := e.model.Generate(ctx, req)

	var usage *core.TokenUsage
	for r := range respCh {
		if r.Partial {
			if r.Text != "" {
				e.send(t, core.NewChunkFrame(nodeID, subID, r.Text))
			}
			continue
		}
		usage = r.Usage
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return usage, nil
}

func (e *Executor) sendError(t stream.Transport, nodeID string, err error) {
	e.logger.Error("Node operation failed", "node_id", nodeID, "error", err)
	e.send(t, core.NewErrorFrame(nodeID, err.Error()))
}

func (e *Executor) send(t stream.Transport, f core.Frame) {
	if err := t.Send(context.Background(), f); err != nil {
		e.logger.Warn("Failed to send frame", "frame_type", string(f.Type), "node_id", f.Payload.NodeID, "error", err)
	}
}

func configString(cfg map[string]any, key string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return ""
}

func configInt(cfg map[string]any, key string) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case float64:
		// JSON numbers decode as float64.
		return int(v)
	default:
		return 0
	}
}
