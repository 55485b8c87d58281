package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/netid/internal/errs"
	"github.com/matheus3301/netid/internal/identity"
)

var local = identity.MustNew("me", "")

func targets(n int) []identity.Identity {
	out := make([]identity.Identity, n)
	for i := range out {
		out[i] = identity.MustNew(fmt.Sprintf("user%d", i), "")
	}
	return out
}

// collect returns a dispatch that stores tickets instead of completing them.
func collect(tickets *[]Ticket) DispatchFunc {
	return func(t Ticket, _ identity.Identity) {
		*tickets = append(*tickets, t)
	}
}

func permutations(n int) [][]int {
	if n == 1 {
		return [][]int{{0}}
	}
	var out [][]int
	for _, p := range permutations(n - 1) {
		for pos := 0; pos <= len(p); pos++ {
			perm := append([]int{}, p[:pos]...)
			perm = append(perm, n-1)
			perm = append(perm, p[pos:]...)
			out = append(out, perm)
		}
	}
	return out
}

func TestCompletionIndependentOfArrivalOrder(t *testing.T) {
	outcomes := []error{nil, errors.New("not found"), nil}

	for _, perm := range permutations(3) {
		t.Run(fmt.Sprint(perm), func(t *testing.T) {
			c := NewCorrelator(Options{})
			var tickets []Ticket
			var results []Result

			_, err := c.Begin(context.Background(), 0, local, targets(3), collect(&tickets), func(r Result) {
				results = append(results, r)
			})
			require.NoError(t, err)
			require.Len(t, tickets, 3)
			assert.Equal(t, 1, c.Pending())

			for _, i := range perm {
				require.Empty(t, results)
				tickets[i].Done(outcomes[i])
			}

			require.Len(t, results, 1)
			r := results[0]
			assert.False(t, r.Success)
			assert.Equal(t, []string{"", "not found", ""}, r.Errors)
			assert.Equal(t, "1: not found", r.Message)
			var pf *errs.PartialFailureError
			require.ErrorAs(t, r.Err, &pf)
			assert.Equal(t, 3, pf.Total)
			require.Len(t, pf.Items, 1)
			assert.Equal(t, 1, pf.Items[0].Index)
			assert.Zero(t, c.Pending())
		})
	}
}

func TestEmptyTargetsCompleteSynchronously(t *testing.T) {
	c := NewCorrelator(Options{})
	called := 0
	dispatched := 0

	_, err := c.Begin(context.Background(), 0, local, nil, func(Ticket, identity.Identity) { dispatched++ }, func(r Result) {
		called++
		assert.True(t, r.Success)
		assert.Empty(t, r.Targets)
		assert.Empty(t, r.Message)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, called)
	assert.Zero(t, dispatched)
	assert.Zero(t, c.Pending())
}

func TestInvalidLocalUser(t *testing.T) {
	c := NewCorrelator(Options{})
	dispatched := false
	completed := false

	_, err := c.Begin(context.Background(), 0, identity.Invalid, targets(2), func(Ticket, identity.Identity) { dispatched = true }, func(Result) { completed = true })
	require.ErrorIs(t, err, errs.ErrInvalidLocalUser)
	assert.False(t, dispatched)
	assert.False(t, completed)
}

func TestDuplicateAndLateDoneIgnored(t *testing.T) {
	c := NewCorrelator(Options{})
	var tickets []Ticket
	calls := 0

	_, err := c.Begin(context.Background(), 1, local, targets(2), collect(&tickets), func(r Result) {
		calls++
		assert.True(t, r.Success)
	})
	require.NoError(t, err)

	tickets[0].Done(nil)
	tickets[0].Done(errors.New("again"))
	assert.Zero(t, calls)

	tickets[1].Done(nil)
	tickets[1].Done(nil)
	tickets[0].Done(nil)
	assert.Equal(t, 1, calls)
}

func TestSynchronousDispatch(t *testing.T) {
	c := NewCorrelator(Options{})
	var got Result

	_, err := c.Begin(context.Background(), 0, local, targets(4), func(tk Ticket, _ identity.Identity) {
		tk.Done(nil)
	}, func(r Result) { got = r })
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Len(t, got.Targets, 4)
}

func TestConcurrentCompletionsFireOnce(t *testing.T) {
	c := NewCorrelator(Options{})
	var fired atomic.Int32
	var wg sync.WaitGroup
	done := make(chan Result, 2)

	_, err := c.Begin(context.Background(), 0, local, targets(64), func(tk Ticket, _ identity.Identity) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			if tk.Index()%8 == 0 {
				err = errors.New("busy")
			}
			tk.Done(err)
		}()
	}, func(r Result) {
		fired.Add(1)
		done <- r
	})
	require.NoError(t, err)
	wg.Wait()

	r := <-done
	assert.Equal(t, int32(1), fired.Load())
	assert.False(t, r.Success)
	var pf *errs.PartialFailureError
	require.ErrorAs(t, r.Err, &pf)
	assert.Len(t, pf.Items, 8)
	assert.Zero(t, c.Pending())
}

func TestIdsAreMonotonic(t *testing.T) {
	c := NewCorrelator(Options{})
	var prev uint64
	for i := 0; i < 5; i++ {
		id, err := c.Begin(context.Background(), 0, local, nil, nil, nil)
		require.NoError(t, err)
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestDeadlineMarksIncompleteSlots(t *testing.T) {
	c := NewCorrelator(Options{Timeout: 20 * time.Millisecond})
	var tickets []Ticket
	done := make(chan Result, 1)

	_, err := c.Begin(context.Background(), 0, local, targets(3), collect(&tickets), func(r Result) { done <- r })
	require.NoError(t, err)
	tickets[1].Done(nil)

	select {
	case r := <-done:
		assert.False(t, r.Success)
		assert.Equal(t, errs.ErrTimedOut.Error(), r.Errors[0])
		assert.Empty(t, r.Errors[1])
		assert.Equal(t, errs.ErrTimedOut.Error(), r.Errors[2])
	case <-time.After(2 * time.Second):
		t.Fatal("deadline never fired")
	}

	tickets[0].Done(nil)
	assert.Zero(t, c.Pending())
}
