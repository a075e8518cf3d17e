package debounce_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvdoutor/screenfinder/internal/pkg/debounce"
)

const interval = 800 * time.Millisecond

type reply struct {
	v   string
	err error
}

type call struct {
	value string
	ctx   context.Context
	reply chan reply
}

// fakeSearch hands every request to the test, which answers it whenever it
// likes. It ignores cancellation so late answers can be simulated.
type fakeSearch struct {
	calls chan call
}

func (f *fakeSearch) search(ctx context.Context, value string) (string, error) {
	c := call{value: value, ctx: ctx, reply: make(chan reply, 1)}
	f.calls <- c
	r := <-c.reply
	return r.v, r.err
}

var errFatal = errors.New("credentials rejected")

type harness struct {
	clk  *clock.Mock
	fake *fakeSearch
	out  chan debounce.Outcome[string]
	ctrl *debounce.Controller[string]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clk:  clock.NewMock(),
		fake: &fakeSearch{calls: make(chan call, 16)},
		out:  make(chan debounce.Outcome[string], 16),
	}
	h.ctrl = debounce.New(debounce.Config{
		Name:      "address",
		Interval:  interval,
		MinLength: 5,
		Timeout:   time.Minute,
		IsFatal:   func(err error) bool { return errors.Is(err, errFatal) },
		Clock:     h.clk,
	}, h.fake.search, func(o debounce.Outcome[string]) { h.out <- o })
	t.Cleanup(h.ctrl.Close)
	return h
}

func (h *harness) nextCall(t *testing.T) call {
	t.Helper()
	select {
	case c := <-h.fake.calls:
		return c
	case <-time.After(time.Second):
		t.Fatal("expected a search request")
		return call{}
	}
}

func (h *harness) noCall(t *testing.T) {
	t.Helper()
	select {
	case c := <-h.fake.calls:
		t.Fatalf("unexpected search request for %q", c.value)
	case <-time.After(30 * time.Millisecond):
	}
}

func (h *harness) nextOutcome(t *testing.T) debounce.Outcome[string] {
	t.Helper()
	select {
	case o := <-h.out:
		return o
	case <-time.After(time.Second):
		t.Fatal("expected an outcome")
		return debounce.Outcome[string]{}
	}
}

func (h *harness) noOutcome(t *testing.T) {
	t.Helper()
	select {
	case o := <-h.out:
		t.Fatalf("unexpected outcome %+v", o)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestController_DispatchesAfterQuietPeriod(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Av Paulista")
	assert.Equal(t, debounce.Pending, h.ctrl.State())
	h.clk.Add(interval - time.Millisecond)
	h.noCall(t)

	h.ctrl.Input("Av Paulista 1000")
	h.clk.Add(interval - time.Millisecond)
	h.noCall(t)
	h.clk.Add(time.Millisecond)

	c := h.nextCall(t)
	assert.Equal(t, "Av Paulista 1000", c.value)
	assert.Equal(t, debounce.InFlight, h.ctrl.State())

	c.reply <- reply{v: "results"}
	o := h.nextOutcome(t)
	assert.Equal(t, "results", o.Result)
	assert.NoError(t, o.Err)
	assert.False(t, o.Explicit)
	assert.Equal(t, debounce.Settled, h.ctrl.State())
}

func TestController_OneRequestPerBurst(t *testing.T) {
	h := newHarness(t)

	text := "Rua da Consolação 2000"
	for i := 5; i <= len([]rune(text)); i++ {
		h.ctrl.Input(string([]rune(text)[:i]))
		h.clk.Add(100 * time.Millisecond)
	}
	h.noCall(t)

	h.clk.Add(interval)
	c := h.nextCall(t)
	assert.Equal(t, text, c.value)
	c.reply <- reply{v: "ok"}
	h.nextOutcome(t)
	h.noCall(t)
}

func TestController_SupersededResultDiscarded(t *testing.T) {
	for _, lateFirst := range []bool{true, false} {
		h := newHarness(t)

		h.ctrl.Input("Rua Augusta")
		h.clk.Add(interval)
		first := h.nextCall(t)

		h.ctrl.Input("Rua Oscar Freire")
		require.Error(t, first.ctx.Err(), "superseded request context must be cancelled")
		h.clk.Add(interval)
		second := h.nextCall(t)

		if lateFirst {
			second.reply <- reply{v: "B"}
			assert.Equal(t, "B", h.nextOutcome(t).Result)
			first.reply <- reply{v: "A"}
		} else {
			first.reply <- reply{v: "A"}
			h.noOutcome(t)
			second.reply <- reply{v: "B"}
			assert.Equal(t, "B", h.nextOutcome(t).Result)
		}
		h.noOutcome(t)
		assert.Equal(t, debounce.Settled, h.ctrl.State())
	}
}

func TestController_MinLengthAndClear(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Rua")
	assert.Equal(t, debounce.Idle, h.ctrl.State())
	h.clk.Add(2 * interval)
	h.noCall(t)

	h.ctrl.Input("   ")
	o := h.nextOutcome(t)
	assert.True(t, o.Cleared)
	h.noCall(t)
}

func TestController_ClearSupersedesInFlight(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Rua Augusta")
	h.clk.Add(interval)
	c := h.nextCall(t)

	h.ctrl.Input("")
	assert.True(t, h.nextOutcome(t).Cleared)

	c.reply <- reply{v: "late"}
	h.noOutcome(t)
}

func TestController_SubmitDispatchesImmediately(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Rua Augusta")
	h.ctrl.Submit("Rua Augusta 500")
	c := h.nextCall(t)
	assert.Equal(t, "Rua Augusta 500", c.value)

	// the pending auto dispatch was cancelled by the submit
	h.clk.Add(2 * interval)
	h.noCall(t)

	c.reply <- reply{v: "ok"}
	o := h.nextOutcome(t)
	assert.True(t, o.Explicit)
	assert.Equal(t, "ok", o.Result)

	h.ctrl.Submit("abc")
	o = h.nextOutcome(t)
	assert.ErrorIs(t, o.Err, debounce.ErrTooShort)
	assert.True(t, o.Explicit)
	h.noCall(t)
}

func TestController_DuplicateInputSkipped(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Rua Augusta")
	h.clk.Add(interval)
	h.nextCall(t).reply <- reply{v: "ok"}
	h.nextOutcome(t)

	h.ctrl.Input("Rua Augusta ")
	h.clk.Add(interval)
	h.noCall(t)
	assert.Equal(t, debounce.Settled, h.ctrl.State())

	// an explicit submit always goes out
	h.ctrl.Submit("Rua Augusta")
	h.nextCall(t).reply <- reply{v: "again"}
	assert.Equal(t, "again", h.nextOutcome(t).Result)
}

func TestController_AutoFailureIsSilent(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Rua Augusta")
	h.clk.Add(interval)
	h.nextCall(t).reply <- reply{err: errors.New("timeout")}
	h.noOutcome(t)
	require.Eventually(t, func() bool { return h.ctrl.State() == debounce.Idle }, time.Second, time.Millisecond)

	h.ctrl.Submit("Rua Augusta")
	h.nextCall(t).reply <- reply{err: errors.New("timeout")}
	o := h.nextOutcome(t)
	assert.Error(t, o.Err)
	assert.True(t, o.Explicit)
}

func TestController_FatalErrorHaltsAutoDispatch(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Input("Rua Augusta")
	h.clk.Add(interval)
	h.nextCall(t).reply <- reply{err: errFatal}
	o := h.nextOutcome(t)
	assert.ErrorIs(t, o.Err, errFatal)
	assert.True(t, h.ctrl.Halted())

	h.ctrl.Input("Rua Augusta 10")
	h.clk.Add(interval)
	h.noCall(t)
	assert.Equal(t, debounce.Idle, h.ctrl.State())

	h.ctrl.Submit("Rua Augusta 10")
	h.nextCall(t).reply <- reply{v: "ok"}
	assert.Equal(t, "ok", h.nextOutcome(t).Result)
	assert.False(t, h.ctrl.Halted())
}

func TestController_CloseDropsLateResults(t *testing.T) {
	h := newHarness(t)

	h.ctrl.Submit("Rua Augusta")
	c := h.nextCall(t)
	h.ctrl.Close()
	assert.Error(t, c.ctx.Err())

	c.reply <- reply{v: "late"}
	h.noOutcome(t)

	h.ctrl.Input("Rua Augusta 10")
	h.clk.Add(interval)
	h.noCall(t)
}
