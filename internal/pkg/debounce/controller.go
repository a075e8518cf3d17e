// Package debounce turns a stream of keystrokes into at most one search per
// quiet period and guarantees that only the newest search result is applied.
//
// A Controller moves through Idle -> Pending -> InFlight -> Settled. Every
// dispatch gets a monotonically increasing sequence number; a result is applied
// only when its number is still the newest one issued and it has not been
// superseded by later input. Results are handed to the consumer one at a time,
// in issuance order.
package debounce

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/facebookgo/clock"

	"github.com/tvdoutor/screenfinder/internal/pkg/metrics"
)

// State is the lifecycle position of a Controller.
type State int

const (
	Idle State = iota
	Pending
	InFlight
	Settled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// ErrTooShort is delivered when an explicit submit carries less than MinLength runes.
var ErrTooShort = errors.New("input too short")

// SearchFunc performs the request for one settled input value.
type SearchFunc[T any] func(ctx context.Context, value string) (T, error)

// Outcome is what the consumer receives for an applied dispatch.
type Outcome[T any] struct {
	Seq      uint64
	Input    string
	Result   T
	Err      error
	Explicit bool
	// Cleared is set when the input was emptied; the consumer should drop
	// its current result set.
	Cleared bool
}

// Config parameterizes a Controller.
type Config struct {
	Name      string
	Interval  time.Duration
	MinLength int
	Timeout   time.Duration
	// IsFatal reports errors that must stop automatic dispatch, such as
	// rejected credentials. Only an explicit Submit dispatches afterwards.
	IsFatal func(error) bool
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Controller debounces one input field. It is safe for concurrent use.
type Controller[T any] struct {
	cfg      Config
	search   SearchFunc[T]
	onResult func(Outcome[T])
	logger   *slog.Logger

	base       context.Context
	baseCancel context.CancelFunc

	mu       sync.Mutex
	state    State
	value    string
	timer    *clock.Timer
	gen      uint64
	seq      uint64
	minValid uint64
	cancel   context.CancelFunc
	applied  string
	hasValue bool
	halted   bool
	closed   bool

	// serializes delivery so a late result can never overtake a newer one
	applyMu sync.Mutex
}

// New creates a controller. onResult is called sequentially, never concurrently.
func New[T any](cfg Config, search SearchFunc[T], onResult func(Outcome[T])) *Controller[T] {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller[T]{
		cfg:        cfg,
		search:     search,
		onResult:   onResult,
		base:       base,
		baseCancel: cancel,
		logger:     cfg.Logger.With("controller", cfg.Name),
	}
}

// State returns the current state.
func (c *Controller[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Value returns the latest input value.
func (c *Controller[T]) Value() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Halted reports whether automatic dispatch was stopped by a fatal error.
func (c *Controller[T]) Halted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.halted
}

// Input records a keystroke-level change and restarts the quiet period.
func (c *Controller[T]) Input(value string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resetLocked(value)

	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		s := c.clearLocked()
		c.mu.Unlock()
		c.settle(s, Outcome[T]{Input: value, Cleared: true})
		return
	case utf8.RuneCountInString(trimmed) < c.cfg.MinLength:
		c.state = Idle
		c.mu.Unlock()
		return
	}

	c.state = Pending
	gen := c.gen
	c.timer = c.cfg.Clock.AfterFunc(c.cfg.Interval, func() { c.fire(gen) })
	c.mu.Unlock()
}

// Submit dispatches immediately, bypassing the quiet period, duplicate
// suppression and the fatal-error halt.
func (c *Controller[T]) Submit(value string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.resetLocked(value)

	trimmed := strings.TrimSpace(value)
	switch {
	case trimmed == "":
		s := c.clearLocked()
		c.mu.Unlock()
		c.settle(s, Outcome[T]{Input: value, Cleared: true, Explicit: true})
		return
	case utf8.RuneCountInString(trimmed) < c.cfg.MinLength:
		c.seq++
		c.minValid = c.seq
		c.state = Idle
		s := c.seq
		c.mu.Unlock()
		c.settle(s, Outcome[T]{Input: value, Err: ErrTooShort, Explicit: true})
		return
	}

	c.dispatchLocked(trimmed, true)
	c.mu.Unlock()
}

// Close stops the timer and abandons any request in flight. Results that
// arrive afterwards are dropped.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.baseCancel()
	c.state = Idle
}

// resetLocked stops the pending timer and supersedes any request in flight.
func (c *Controller[T]) resetLocked(value string) {
	c.value = value
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.state == InFlight {
		c.minValid = c.seq + 1
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		metrics.SupersededRequests.WithLabelValues(c.cfg.Name).Inc()
		c.logger.Debug("in-flight request superseded", "seq", c.seq)
	}
}

func (c *Controller[T]) clearLocked() uint64 {
	c.seq++
	c.minValid = c.seq
	c.state = Idle
	c.hasValue = false
	c.applied = ""
	return c.seq
}

func (c *Controller[T]) fire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.gen || c.state != Pending {
		return
	}
	c.timer = nil

	value := strings.TrimSpace(c.value)
	if c.halted {
		c.state = Idle
		c.logger.Debug("auto dispatch halted", "value", value)
		return
	}
	if c.hasValue && value == c.applied {
		c.state = Settled
		c.logger.Debug("duplicate input skipped", "value", value)
		return
	}
	c.dispatchLocked(value, false)
}

func (c *Controller[T]) dispatchLocked(value string, explicit bool) {
	c.seq++
	s := c.seq
	ctx, cancel := context.WithTimeout(c.base, c.cfg.Timeout)
	c.cancel = cancel
	c.state = InFlight

	c.logger.Debug("dispatch", "seq", s, "value", value, "explicit", explicit)
	go func() {
		defer cancel()
		res, err := c.search(ctx, value)
		c.settle(s, Outcome[T]{Input: value, Result: res, Err: err, Explicit: explicit})
	}()
}

// settle applies o if s is still the newest valid sequence number.
func (c *Controller[T]) settle(s uint64, o Outcome[T]) {
	c.applyMu.Lock()
	defer c.applyMu.Unlock()

	c.mu.Lock()
	if c.closed || s != c.seq || s < c.minValid {
		c.mu.Unlock()
		c.logger.Debug("stale result discarded", "seq", s)
		return
	}
	o.Seq = s
	deliver := c.resolveLocked(&o)
	c.mu.Unlock()

	if deliver && c.onResult != nil {
		c.onResult(o)
	}
}

// resolveLocked moves to the post-request state and decides whether the
// consumer sees the outcome.
func (c *Controller[T]) resolveLocked(o *Outcome[T]) bool {
	c.cancel = nil
	if o.Cleared {
		return true
	}

	if o.Err == nil {
		c.state = Settled
		c.applied = o.Input
		c.hasValue = true
		c.halted = false
		return true
	}

	c.state = Idle
	fatal := c.cfg.IsFatal != nil && c.cfg.IsFatal(o.Err)
	if o.Explicit {
		c.halted = c.halted || fatal
		return true
	}
	if fatal && !c.halted {
		c.halted = true
		c.logger.Warn("auto dispatch halted by fatal error", "error", o.Err)
		return true
	}
	c.logger.Debug("auto search failed", "value", o.Input, "error", o.Err)
	return false
}
