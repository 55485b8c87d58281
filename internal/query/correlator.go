// Package query correlates fan-out requests: one logical query is split into
// one backend call per target, each completing independently, and a single
// aggregated completion fires once every slot has reported.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
)

var tracer = otel.Tracer("query")

// Options configures a Correlator. A zero Timeout disables the deadline.
type Options struct {
	Timeout time.Duration
	Logger  *zap.Logger
}

// Result is the aggregated outcome of a fan-out query. Errors is parallel to
// Targets; an empty entry means that slot succeeded.
type Result struct {
	ID      uint64
	Success bool
	Targets []identity.Identity
	Errors  []string
	Message string
	Err     error
}

// DispatchFunc issues the backend call for one target. It must arrange for
// t.Done to be called exactly once when that call completes.
type DispatchFunc func(t Ticket, target identity.Identity)

type pendingQuery struct {
	mu         sync.Mutex
	id         uint64
	localUser  int
	targets    []identity.Identity
	completed  []bool
	errors     []string
	remaining  int
	fired      bool
	onComplete func(Result)
	timer      *time.Timer
	span       trace.Span
}

// Correlator owns the arena of in-flight queries.
type Correlator struct {
	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingQuery

	timeout time.Duration
	logger  *zap.Logger
}

// NewCorrelator creates an empty correlator.
func NewCorrelator(opts Options) *Correlator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		pending: make(map[uint64]*pendingQuery),
		timeout: opts.Timeout,
		logger:  logger,
	}
}

// Ticket is the correlation context handed across the async boundary for
// one slot of one query.
type Ticket struct {
	c     *Correlator
	id    uint64
	index int
}

// QueryID returns the owning query's id.
func (t Ticket) QueryID() uint64 { return t.id }

// Index returns the slot position within the query's targets.
func (t Ticket) Index() int { return t.index }

// Done records the slot's outcome. Calls after the slot or the query has
// already completed are ignored.
func (t Ticket) Done(err error) {
	t.c.record(t.id, t.index, err)
}

// Begin starts a fan-out over targets on behalf of localUser. The query is
// registered before dispatch is called for each target, so completions
// arriving synchronously from dispatch are accounted for. An empty target
// list completes synchronously with success.
func (c *Correlator) Begin(ctx context.Context, localUser int, local identity.Identity, targets []identity.Identity, dispatch DispatchFunc, onComplete func(Result)) (uint64, error) {
	if !local.IsValid() {
		return 0, errs.ErrInvalidLocalUser
	}
	if onComplete == nil {
		onComplete = func(Result) {}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	if len(targets) == 0 {
		c.mu.Unlock()
		onComplete(Result{ID: id, Success: true})
		return id, nil
	}

	_, span := tracer.Start(ctx, "Query.Correlator.FanOut", trace.WithAttributes(
		attribute.Int64("query.id", int64(id)),
		attribute.Int("query.local_user", localUser),
		attribute.Int("query.targets", len(targets)),
	))
	q := &pendingQuery{
		id:         id,
		localUser:  localUser,
		targets:    append([]identity.Identity(nil), targets...),
		completed:  make([]bool, len(targets)),
		errors:     make([]string, len(targets)),
		remaining:  len(targets),
		onComplete: onComplete,
		span:       span,
	}
	c.pending[id] = q
	c.mu.Unlock()

	if c.timeout > 0 {
		q.mu.Lock()
		if !q.fired {
			q.timer = time.AfterFunc(c.timeout, func() { c.expire(id) })
		}
		q.mu.Unlock()
	}

	c.logger.Debug("query started",
		zap.Uint64("query_id", id),
		zap.Int("local_user", localUser),
		zap.Int("targets", len(targets)),
	)

	for i, target := range q.targets {
		dispatch(Ticket{c: c, id: id, index: i}, target)
	}
	return id, nil
}

// Pending reports how many queries are in flight.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Correlator) lookup(id uint64) *pendingQuery {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

func (c *Correlator) record(id uint64, index int, err error) {
	q := c.lookup(id)
	if q == nil {
		c.logger.Debug("late result for finished query", zap.Uint64("query_id", id), zap.Int("index", index))
		return
	}

	q.mu.Lock()
	if q.fired || index < 0 || index >= len(q.completed) || q.completed[index] {
		q.mu.Unlock()
		c.logger.Warn("duplicate result ignored", zap.Uint64("query_id", id), zap.Int("index", index))
		return
	}
	q.completed[index] = true
	if err != nil {
		q.errors[index] = nonEmpty(err.Error())
	}
	q.remaining--
	if q.remaining > 0 {
		q.mu.Unlock()
		return
	}
	q.fired = true
	res := q.resultLocked()
	q.mu.Unlock()

	c.finish(q, res)
}

func (c *Correlator) expire(id uint64) {
	q := c.lookup(id)
	if q == nil {
		return
	}

	q.mu.Lock()
	if q.fired {
		q.mu.Unlock()
		return
	}
	for i, done := range q.completed {
		if !done {
			q.completed[i] = true
			q.errors[i] = errs.ErrTimedOut.Error()
		}
	}
	q.remaining = 0
	q.fired = true
	res := q.resultLocked()
	q.mu.Unlock()

	c.logger.Warn("query deadline expired", zap.Uint64("query_id", id), zap.Duration("timeout", c.timeout))
	c.finish(q, res)
}

// finish runs once per query, by whichever caller set fired.
func (c *Correlator) finish(q *pendingQuery, res Result) {
	c.mu.Lock()
	delete(c.pending, q.id)
	c.mu.Unlock()

	if q.timer != nil {
		q.timer.Stop()
	}
	if res.Err != nil {
		q.span.RecordError(res.Err)
		q.span.SetStatus(codes.Error, res.Message)
	}
	q.span.End()

	c.logger.Debug("query completed",
		zap.Uint64("query_id", q.id),
		zap.Int("local_user", q.localUser),
		zap.Bool("success", res.Success),
	)
	q.onComplete(res)
}

func (q *pendingQuery) resultLocked() Result {
	res := Result{
		ID:      q.id,
		Success: true,
		Targets: append([]identity.Identity(nil), q.targets...),
		Errors:  append([]string(nil), q.errors...),
	}
	var items []errs.ItemError
	var parts []string
	for i, e := range q.errors {
		if e == "" {
			continue
		}
		res.Success = false
		items = append(items, errs.ItemError{Index: i, Target: q.targets[i].String(), Message: e})
		parts = append(parts, fmt.Sprintf("%d: %s", i, e))
	}
	if !res.Success {
		res.Message = strings.Join(parts, ";")
		res.Err = &errs.PartialFailureError{Total: len(q.targets), Items: items}
	}
	return res
}

// nonEmpty keeps a failed slot distinguishable from a successful one when
// the error text is blank.
func nonEmpty(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}
