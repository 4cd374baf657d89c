package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/util"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/validation"
)

// Broker invokes tools uniformly. It never returns an error for a tool
// failure: every call yields a ToolResult.
type Broker struct {
	timeout        time.Duration
	maxOutputChars int
	maxConcurrency int
	logger         *zap.Logger

	mu     sync.RWMutex
	tools  map[string]Tool
	cache  *resultCache
	flight singleflight.Group
}

// NewBroker creates a broker with no tools registered.
func NewBroker(cfg config.ToolsConfig, logger *zap.Logger) *Broker {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Broker{
		timeout:        config.Millis(cfg.TimeoutMs, 5*time.Second),
		maxOutputChars: cfg.MaxOutputChars,
		maxConcurrency: cfg.MaxConcurrency,
		logger:         logger,
		tools:          make(map[string]Tool),
		cache:          newResultCache(cfg.CacheSize, cfg.CacheTTL),
	}
	if b.maxOutputChars <= 0 {
		b.maxOutputChars = 4000
	}
	if b.maxConcurrency <= 0 {
		b.maxConcurrency = 4
	}
	return b
}

// Register adds or replaces a tool.
func (b *Broker) Register(t Tool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[t.Name()] = t
}

// Has reports whether name is registered.
func (b *Broker) Has(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.tools[name]
	return ok
}

// Names lists registered tools.
func (b *Broker) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.tools))
	for n := range b.tools {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Execute runs one call under the per-tool timeout.
func (b *Broker) Execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	start := time.Now()
	res := b.execute(ctx, call)
	res.CallID = call.ID
	res.ToolName = call.ToolName
	res.LatencyMs = time.Since(start).Milliseconds()

	metrics.ToolInvocations.WithLabelValues(call.ToolName, string(res.Status)).Inc()
	metrics.ToolLatency.WithLabelValues(call.ToolName).Observe(float64(res.LatencyMs))
	if !res.OK() {
		b.logger.Warn("Tool call did not succeed",
			zap.String("call_id", call.ID),
			zap.String("tool", call.ToolName),
			zap.String("status", string(res.Status)),
			zap.String("error", res.Error),
		)
	}
	return res
}

func (b *Broker) execute(ctx context.Context, call models.ToolCall) models.ToolResult {
	b.mu.RLock()
	tool, ok := b.tools[call.ToolName]
	b.mu.RUnlock()
	if !ok {
		return failed(fmt.Errorf("%w: %s", models.ErrToolNotRegistered, call.ToolName))
	}

	key, cacheable := cacheKey(call.ToolName, call.Arguments)
	if cacheable {
		if ent, hit := b.cache.Get(key); hit {
			metrics.ToolCacheHits.Inc()
			return models.ToolResult{Status: models.ToolSuccess, Payload: ent.payload, Truncated: ent.truncated}
		}
		metrics.ToolCacheMisses.Inc()
	}

	invoke := func() (interface{}, error) {
		tctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		payload, err := tool.Invoke(tctx, call.Arguments)
		if err == nil && tctx.Err() != nil {
			err = tctx.Err()
		}
		return payload, err
	}

	var (
		v   interface{}
		err error
	)
	if cacheable {
		// Identical concurrent calls share one invocation.
		v, err, _ = b.flight.Do(key, invoke)
	} else {
		v, err = invoke()
	}

	switch {
	case err == nil:
	case errors.Is(err, ErrSkipped):
		return models.ToolResult{Status: models.ToolSkipped, Error: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return models.ToolResult{
			Status: models.ToolTimeout,
			Error:  (&models.ToolFailure{Tool: call.ToolName, Timeout: true, Cause: err}).Error(),
		}
	default:
		return failed(&models.ToolFailure{Tool: call.ToolName, Cause: err})
	}

	payload, _ := v.(string)
	truncated := false
	if len([]rune(payload)) > b.maxOutputChars {
		payload = util.TruncateString(payload, b.maxOutputChars, true)
		truncated = true
	}
	if cacheable {
		b.cache.Set(key, payload, truncated)
	}
	return models.ToolResult{Status: models.ToolSuccess, Payload: payload, Truncated: truncated}
}

func failed(err error) models.ToolResult {
	return models.ToolResult{Status: models.ToolFailed, Error: err.Error()}
}

// ExecuteBatch runs calls in dependency order. Calls without a dependency
// relation run concurrently up to the configured limit. Results keep the
// order of calls.
func (b *Broker) ExecuteBatch(ctx context.Context, calls []models.ToolCall) []models.ToolResult {
	results := make([]models.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	index := make(map[string]int, len(calls))
	nodes := make([]validation.Node, len(calls))
	for i, c := range calls {
		index[c.ID] = i
		nodes[i] = validation.Node{ID: c.ID, Dependencies: dependencies(c)}
	}

	// Structural problems fail the affected calls up front.
	settled := make([]bool, len(calls))
	for i, c := range calls {
		if _, dup := index[c.ID]; dup && index[c.ID] != i {
			results[i] = b.settle(c, models.ToolFailed, fmt.Sprintf("duplicate call id %q", c.ID))
			settled[i] = true
			continue
		}
		for _, d := range nodes[i].Dependencies {
			if _, ok := index[d]; !ok || d == c.ID {
				results[i] = b.settle(c, models.ToolFailed, fmt.Sprintf("invalid dependency %q", d))
				settled[i] = true
				break
			}
		}
	}
	for _, id := range cycleMembers(nodes) {
		i := index[id]
		if !settled[i] {
			results[i] = b.settle(calls[i], models.ToolFailed, "dependency cycle")
			settled[i] = true
		}
	}

	done := make([]chan struct{}, len(calls))
	for i := range done {
		done[i] = make(chan struct{})
		if settled[i] {
			close(done[i])
		}
	}

	sem := semaphore.NewWeighted(int64(b.maxConcurrency))
	g, gctx := errgroup.WithContext(ctx)
	for i := range calls {
		if settled[i] {
			continue
		}
		i := i
		g.Go(func() error {
			defer close(done[i])
			call := calls[i]

			for _, d := range nodes[i].Dependencies {
				j := index[d]
				select {
				case <-done[j]:
				case <-gctx.Done():
					results[i] = b.settle(call, models.ToolTimeout, gctx.Err().Error())
					return nil
				}
				if !results[j].OK() {
					results[i] = b.settle(call, models.ToolSkipped, fmt.Sprintf("dependency %s %s", d, results[j].Status))
					return nil
				}
			}

			call.Arguments = bind(call, results, index)
			if err := sem.Acquire(gctx, 1); err != nil {
				results[i] = b.settle(call, models.ToolTimeout, err.Error())
				return nil
			}
			defer sem.Release(1)
			results[i] = b.Execute(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (b *Broker) settle(call models.ToolCall, status models.ToolStatus, reason string) models.ToolResult {
	metrics.ToolInvocations.WithLabelValues(call.ToolName, string(status)).Inc()
	return models.ToolResult{CallID: call.ID, ToolName: call.ToolName, Status: status, Error: reason}
}

// dependencies merges explicit DependsOn with binding references.
func dependencies(c models.ToolCall) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range c.DependsOn {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, ref := range c.Bindings {
		id := bindingID(ref)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

func bindingID(ref string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(ref), "<"), ">")
}

// bind substitutes resolved payloads into a copy of the call's arguments.
func bind(call models.ToolCall, results []models.ToolResult, index map[string]int) map[string]interface{} {
	if len(call.Bindings) == 0 {
		return call.Arguments
	}
	args := make(map[string]interface{}, len(call.Arguments)+len(call.Bindings))
	for k, v := range call.Arguments {
		args[k] = v
	}
	for name, ref := range call.Bindings {
		args[name] = results[index[bindingID(ref)]].Payload
	}
	return args
}

// cycleMembers returns every node that sits on a dependency cycle.
func cycleMembers(nodes []validation.Node) []string {
	var members []string
	remaining := nodes
	for {
		res := validation.DetectCycles(remaining)
		if !res.HasCycle {
			return members
		}
		on := make(map[string]bool)
		for _, id := range res.CyclePath {
			if !on[id] {
				on[id] = true
				members = append(members, id)
			}
		}
		next := make([]validation.Node, 0, len(remaining))
		for _, n := range remaining {
			if !on[n.ID] {
				next = append(next, n)
			}
		}
		if len(next) == len(remaining) {
			return members
		}
		remaining = next
	}
}
