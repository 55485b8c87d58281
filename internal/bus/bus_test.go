package bus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain returns the kinds buffered on ch without blocking.
func drain(ch <-chan Event) []string {
	var kinds []string
	for {
		select {
		case evt := <-ch:
			kinds = append(kinds, evt.Kind)
		default:
			return kinds
		}
	}
}

func TestPrefixRouting(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe("", 8)
	defer unsubAll()
	friends, unsubFriends := b.Subscribe("friends.", 8)
	defer unsubFriends()
	sessions, unsubSessions := b.Subscribe("session.", 8)
	defer unsubSessions()

	b.Emit(KindFriendsChanged, nil)
	b.Emit(KindSessionState, map[string]any{"session": "Arena"})
	b.Emit(KindFriendshipChanged, nil)
	b.Emit(KindPresenceChanged, nil)

	assert.Equal(t, []string{KindFriendsChanged, KindSessionState, KindFriendshipChanged, KindPresenceChanged}, drain(all))
	assert.Equal(t, []string{KindFriendsChanged, KindFriendshipChanged}, drain(friends))
	assert.Equal(t, []string{KindSessionState}, drain(sessions))
}

func TestEmitStampsEvent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 2)
	defer unsub()

	b.Emit(KindAuthQR, "code")
	b.Emit(KindAuthQR, "code2")

	first, second := <-ch, <-ch
	assert.Equal(t, "code", first.Payload)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, first.Seq+1, second.Seq)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("session.", 4)
	require.Equal(t, 1, b.Subscribers())

	unsub()
	unsub()
	b.Emit(KindSessionState, nil)

	assert.Empty(t, drain(ch))
	assert.Equal(t, 0, b.Subscribers())
}

func TestFullSubscriberMissesEvents(t *testing.T) {
	b := New()
	slow, unsubSlow := b.Subscribe("", 1)
	defer unsubSlow()
	fast, unsubFast := b.Subscribe("", 8)
	defer unsubFast()

	b.Emit("test.one", nil)
	b.Emit("test.two", nil)
	b.Emit("test.three", nil)

	assert.Equal(t, uint64(2), b.Dropped())
	assert.Len(t, drain(fast), 3)

	got := <-slow
	assert.Equal(t, "test.one", got.Kind)

	// The next delivery shows the gap.
	b.Emit("test.four", nil)
	next := <-slow
	assert.Equal(t, got.Seq+3, next.Seq)
}

func TestConcurrentPublishUniqueSeq(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe("", 400)
	defer unsub()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Emit(KindPresenceChanged, nil)
			}
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for len(seen) < 400 {
		evt := <-ch
		require.False(t, seen[evt.Seq], "duplicate seq %d", evt.Seq)
		seen[evt.Seq] = true
	}
	assert.Zero(t, b.Dropped())
}

func TestEmitOnNilBus(t *testing.T) {
	var b *Bus
	assert.NotPanics(t, func() { b.Emit(KindFriendsChanged, nil) })
}
