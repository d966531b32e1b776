package traversal

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"instancegraph/application/ports"
	"instancegraph/domain/core/valueobjects"
	"instancegraph/domain/filters"
	pkgerrors "instancegraph/pkg/errors"
	"instancegraph/pkg/observability"
)

// Limits bound traversal execution
type Limits struct {
	MaxHops         int
	DefaultPageSize int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	Concurrency     int
}

// DefaultLimits returns the limits used when no configuration is supplied
func DefaultLimits() Limits {
	return Limits{
		MaxHops:         8,
		DefaultPageSize: 100,
		MaxRetries:      3,
		RetryBaseDelay:  100 * time.Millisecond,
		Concurrency:     1,
	}
}

// LimitsProvider supplies the current limits. It is consulted on every
// Execute call so limits can change at runtime.
type LimitsProvider interface {
	Limits() Limits
}

// StaticLimits is a LimitsProvider that never changes
type StaticLimits Limits

// Limits implements LimitsProvider
func (l StaticLimits) Limits() Limits {
	return Limits(l)
}

// Result is one executed batch: the page of every step that ran, keyed by
// step name, and the cursor map resuming after it. Steps that did not run in
// this batch have no entry in Pages.
type Result struct {
	Pages map[string][]ports.RawItem
	Next  CursorMap
}

// Done reports whether the traversal is exhausted
func (r *Result) Done() bool {
	return r.Next.Exhausted()
}

// Executor runs one list call per planned step, joining each step to the
// page of the step it hangs from
type Executor struct {
	store   ports.Store
	limits  LimitsProvider
	metrics *observability.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithExecutorMetrics records per-step metrics
func WithExecutorMetrics(metrics *observability.Collector) ExecutorOption {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// NewExecutor creates an executor over store
func NewExecutor(store ports.Store, limits LimitsProvider, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if limits == nil {
		limits = StaticLimits(DefaultLimits())
	}
	e := &Executor{
		store:  store,
		limits: limits,
		tracer: otel.Tracer("instancegraph/traversal"),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type action int

const (
	actIdle action = iota
	actFresh
	actReplay
	actAdvance
)

func (a action) String() string {
	switch a {
	case actFresh:
		return "fresh"
	case actReplay:
		return "replay"
	case actAdvance:
		return "advance"
	}
	return "idle"
}

type plan struct {
	kept   []bool
	levels [][]int
}

type stepPage struct {
	items  []ports.RawItem
	cursor *position
	next   *position
}

// Execute runs one batch of the traversal declared by b. A nil or empty cursor
// map starts from the first page of every step; passing back Result.Next
// resumes.
//
// Resumption is nested-loop: a step moves to its next page only once none of
// its descendants has pages left for the current one, and otherwise replays
// its current page so descendants can continue joining against it. Node hops
// are drained within the batch since their join set is bounded by the
// parent edge page.
func (e *Executor) Execute(ctx context.Context, b *Builder, cursors CursorMap) (*Result, error) {
	if b == nil || b.Len() == 0 {
		return nil, pkgerrors.NewValidationError("traversal has no steps")
	}

	limits := e.limits.Limits()
	p, err := e.plan(b, limits)
	if err != nil {
		return nil, err
	}

	result := &Result{Pages: make(map[string][]ports.RawItem), Next: make(CursorMap)}
	for i, kept := range p.kept {
		if kept {
			result.Next[b.steps[i].Name] = nil
		}
	}
	if cursors.Exhausted() {
		return result, nil
	}

	resume := len(cursors) > 0
	tokens := make([]*stepToken, b.Len())
	if resume {
		for i, kept := range p.kept {
			if !kept {
				continue
			}
			if tokens[i], err = decodeToken(b.steps[i].Name, cursors[b.steps[i].Name]); err != nil {
				return nil, err
			}
		}
	}

	actions := e.decide(b, p, tokens, resume)
	if actions[0] == actIdle {
		return result, nil
	}

	ctx, span := e.tracer.Start(ctx, "traversal.Execute", trace.WithAttributes(
		attribute.String("root.kind", b.Root().NodeKind),
		attribute.Int("steps", b.Len()),
		attribute.Bool("resume", resume),
	))
	defer span.End()

	pages := make([]*stepPage, b.Len())
	for _, level := range p.levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(max(1, limits.Concurrency))
		for _, i := range level {
			if actions[i] == actIdle {
				continue
			}
			g.Go(func() error {
				page, err := e.runStep(gctx, b, i, actions[i], tokens[i], pages, limits)
				if err != nil {
					return err
				}
				pages[i] = page
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	out := make([]*stepToken, b.Len())
	for i, page := range pages {
		if page == nil {
			continue
		}
		result.Pages[b.steps[i].Name] = page.items
		out[i] = &stepToken{Page: page.cursor, Next: page.next}
	}

	pendingBelow := subtreePending(b, p, out)
	for i, kept := range p.kept {
		if !kept || (!out[i].pending() && !pendingBelow[i]) {
			continue
		}
		token, err := encodeToken(*out[i])
		if err != nil {
			return nil, pkgerrors.NewInternalError("failed to encode cursor").WithCause(err)
		}
		result.Next[b.steps[i].Name] = token
	}

	e.logger.Debug("Executed traversal batch",
		zap.String("root", b.Root().Name),
		zap.Int("steps", len(result.Pages)),
		zap.Bool("done", result.Done()))

	return result, nil
}

// plan elides steps that the configured fidelities make unnecessary and
// enforces the hop limit before any store call
func (e *Executor) plan(b *Builder, limits Limits) (*plan, error) {
	p := &plan{kept: make([]bool, b.Len())}
	level := make([]int, b.Len())

	for i, step := range b.steps {
		if i == 0 {
			p.kept[i] = true
		} else {
			parent := b.parent[i]
			switch {
			case !p.kept[parent]:
			case step.Kind == StepKindEdge:
				p.kept[i] = step.Fidelity >= valueobjects.FidelityIdentifier
			default:
				p.kept[i] = step.Fidelity == valueobjects.FidelityFull &&
					b.steps[parent].Fidelity == valueobjects.FidelityFull
			}
			level[i] = level[parent] + 1
		}
		if !p.kept[i] {
			continue
		}

		if limits.MaxHops > 0 && b.depth[i] > limits.MaxHops {
			return nil, pkgerrors.NewDepthExceededError(step.Name, b.depth[i], limits.MaxHops)
		}
		for len(p.levels) <= level[i] {
			p.levels = append(p.levels, nil)
		}
		p.levels[level[i]] = append(p.levels[level[i]], i)
	}
	return p, nil
}

// decide picks what every planned step does in this batch. Steps are visited
// in declaration order, so a parent is always decided before its children.
func (e *Executor) decide(b *Builder, p *plan, tokens []*stepToken, resume bool) []action {
	actions := make([]action, b.Len())
	pendingBelow := subtreePending(b, p, tokens)

	choose := func(i int) action {
		switch {
		case pendingBelow[i]:
			return actReplay
		case tokens[i].pending():
			return actAdvance
		}
		return actIdle
	}

	if resume {
		actions[0] = choose(0)
	} else {
		actions[0] = actFresh
	}
	for i := 1; i < b.Len(); i++ {
		if !p.kept[i] {
			continue
		}
		switch actions[b.parent[i]] {
		case actFresh, actAdvance:
			actions[i] = actFresh
		case actReplay:
			actions[i] = choose(i)
		}
	}
	return actions
}

func subtreePending(b *Builder, p *plan, tokens []*stepToken) []bool {
	pending := make([]bool, b.Len())
	for i := b.Len() - 1; i > 0; i-- {
		if !p.kept[i] {
			continue
		}
		if tokens[i].pending() || pending[i] {
			pending[b.parent[i]] = true
		}
	}
	return pending
}

func (e *Executor) runStep(ctx context.Context, b *Builder, i int, act action, tok *stepToken, pages []*stepPage, limits Limits) (*stepPage, error) {
	step := b.steps[i]
	ctx, span := e.tracer.Start(ctx, "traversal.step", trace.WithAttributes(
		attribute.String("step.name", step.Name),
		attribute.String("step.kind", step.Kind.String()),
		attribute.String("step.action", act.String()),
	))
	defer span.End()
	start := time.Now()

	var from *position
	if tok != nil {
		switch act {
		case actReplay:
			from = tok.Page
		case actAdvance:
			from = tok.Next
		}
	}

	j, ok := joinFor(b, i, pages)
	if !ok {
		span.SetAttributes(attribute.Bool("step.empty_join", true))
		return &stepPage{cursor: from}, nil
	}
	chunk, cursor := 0, (*string)(nil)
	if from != nil {
		if from.Chunk < 0 || from.Chunk >= j.chunks() {
			return nil, pkgerrors.NewValidationError(fmt.Sprintf("malformed cursor for step %q", step.Name))
		}
		chunk, cursor = from.Chunk, from.Cursor
	}

	kind := ports.ItemKindNode
	if step.Kind == StepKindEdge {
		kind = ports.ItemKindEdge
	}
	limit := step.Limit
	if limit <= 0 {
		limit = limits.DefaultPageSize
	}
	req := ports.ListRequest{
		Kind:       kind,
		Sort:       step.Sort,
		Properties: step.Properties,
		Limit:      limit,
	}

	page := &stepPage{cursor: from}
	drain := step.Kind == StepKindNode && !step.IsRoot()
	span.SetAttributes(attribute.Int("step.chunks", j.chunks()))
listing:
	for ; chunk < j.chunks(); chunk++ {
		req.Filter = j.filter(chunk)
		req.Cursor, cursor = cursor, nil
		for {
			if !drain {
				req.Limit = limit - len(page.items)
			}
			listed, err := e.list(ctx, step, req, limits)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			page.items = append(page.items, listed.Items...)
			if listed.NextCursor == nil {
				break
			}
			if !drain {
				page.next = &position{Chunk: chunk, Cursor: listed.NextCursor}
				break listing
			}
			req.Cursor = listed.NextCursor
		}
		if !drain && len(page.items) >= limit && chunk+1 < j.chunks() {
			page.next = &position{Chunk: chunk + 1}
			break
		}
	}

	span.SetAttributes(attribute.Int("step.items", len(page.items)))
	e.metrics.RecordStep(step.Name, step.Kind.String(), len(page.items), time.Since(start))
	return page, nil
}

// list issues one list call, retrying StoreUnavailable with the same cursor
func (e *Executor) list(ctx context.Context, step Step, req ports.ListRequest, limits Limits) (*ports.ListPage, error) {
	policy := backoff.NewExponentialBackOff()
	if limits.RetryBaseDelay > 0 {
		policy.InitialInterval = limits.RetryBaseDelay
	}

	operation := func() (*ports.ListPage, error) {
		page, err := e.store.List(ctx, req)
		if err == nil {
			return page, nil
		}
		if pkgerrors.IsRetryable(err) {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(max(0, limits.MaxRetries))+1),
		backoff.WithNotify(func(err error, wait time.Duration) {
			e.metrics.RecordStepRetry(step.Name)
			e.logger.Warn("Retrying list call",
				zap.String("step", step.Name),
				zap.Duration("wait", wait),
				zap.Error(err))
		}),
	)
}

// maxJoinKeys bounds the parent keys joined in one list call. Larger join
// sets are listed chunk by chunk so store filter expressions stay within
// backend size limits.
const maxJoinKeys = 200

// join is a step's filter split into the step's own conditions and the keys
// joining it to its parent's page
type join struct {
	base     []filters.Expr
	property string
	keys     []string
}

func (j *join) chunks() int {
	if j.property == "" {
		return 1
	}
	return (len(j.keys) + maxJoinKeys - 1) / maxJoinKeys
}

func (j *join) filter(chunk int) filters.Expr {
	exprs := append([]filters.Expr{}, j.base...)
	if j.property != "" {
		lo := chunk * maxJoinKeys
		hi := min(lo+maxJoinKeys, len(j.keys))
		exprs = append(exprs, filters.InStrings(j.property, j.keys[lo:hi]))
	}
	return filters.AndOf(exprs...)
}

// joinFor restricts a step to what is reachable from its parent's page.
// It reports false when the join set is empty and no call is needed.
func joinFor(b *Builder, i int, pages []*stepPage) (*join, bool) {
	step := b.steps[i]
	if step.IsRoot() {
		return &join{base: []filters.Expr{filters.Equals{Property: filters.PropKind, Value: step.NodeKind}, step.Filter}}, true
	}

	parentIdx := b.parent[i]
	parent := pages[parentIdx]
	if parent == nil || len(parent.items) == 0 {
		return nil, false
	}

	seen := make(map[valueobjects.EntityRef]struct{}, len(parent.items))
	keys := make([]string, 0, len(parent.items))
	add := func(ref valueobjects.EntityRef) {
		if _, dup := seen[ref]; dup {
			return
		}
		seen[ref] = struct{}{}
		keys = append(keys, ref.Key())
	}

	if step.Kind == StepKindEdge {
		for _, item := range parent.items {
			add(item.Ref)
		}
		endpoint := filters.PropStartNode
		if step.Direction == valueobjects.DirectionInwards {
			endpoint = filters.PropEndNode
		}
		return &join{
			base:     []filters.Expr{step.Filter, filters.Equals{Property: filters.PropType, Value: step.EdgeType.Key()}},
			property: endpoint,
			keys:     keys,
		}, true
	}

	inwards := b.steps[parentIdx].Direction == valueobjects.DirectionInwards
	for _, item := range parent.items {
		if inwards {
			add(item.Start)
		} else {
			add(item.End)
		}
	}
	var kind filters.Expr
	if step.NodeKind != "" {
		kind = filters.Equals{Property: filters.PropKind, Value: step.NodeKind}
	}
	return &join{base: []filters.Expr{step.Filter, kind}, property: filters.PropRef, keys: keys}, true
}
