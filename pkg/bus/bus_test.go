package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshchat/pkg/event"
	"github.com/tinyland-inc/meshchat/pkg/model"
)

func post(t *testing.T, b *Bus, ids ...model.ID) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, b.Post(event.ConnectionOpened{ProducerID: id}))
	}
}

func collect(t *testing.T, sub *Subscription, n int) []model.ID {
	t.Helper()
	out := make([]model.ID, 0, n)
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case e, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")
			out = append(out, e.Producer())
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New(0)
	defer b.Close()

	s1 := b.Subscribe()
	s2 := b.Subscribe()
	defer s1.Cancel()
	defer s2.Cancel()

	post(t, b, 1, 2, 3)

	assert.Equal(t, []model.ID{1, 2, 3}, collect(t, s1, 3))
	assert.Equal(t, []model.ID{1, 2, 3}, collect(t, s2, 3))
}

func TestReplayForLateSubscriber(t *testing.T) {
	b := New(0)
	defer b.Close()

	post(t, b, 1, 2, 3)

	sub := b.Subscribe()
	defer sub.Cancel()
	assert.Equal(t, []model.ID{1, 2, 3}, collect(t, sub, 3))
}

func TestReplayWindowBounded(t *testing.T) {
	b := New(2)
	defer b.Close()

	post(t, b, 1, 2, 3, 4)

	sub := b.Subscribe()
	defer sub.Cancel()
	assert.Equal(t, []model.ID{3, 4}, collect(t, sub, 2))
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := New(0)
	defer b.Close()

	slow := b.Subscribe()
	defer slow.Cancel()
	fast := b.Subscribe()
	defer fast.Cancel()

	// The slow subscriber never reads; posts must still reach the fast one.
	for i := model.ID(1); i <= 100; i++ {
		post(t, b, i)
	}
	got := collect(t, fast, 100)
	assert.Len(t, got, 100)
	assert.Equal(t, model.ID(1), got[0])
	assert.Equal(t, model.ID(100), got[99])
}

func TestCancelStopsDelivery(t *testing.T) {
	b := New(0)
	defer b.Close()

	sub := b.Subscribe()
	sub.Cancel()

	post(t, b, 1)

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestWaitForMatchesReplayedEvent(t *testing.T) {
	b := New(0)
	defer b.Close()

	post(t, b, 42)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := b.WaitFor(ctx, func(e event.Event) bool { return e.Producer() == 42 })
	require.NoError(t, err)
	assert.Equal(t, model.ID(42), e.Producer())
}

func TestWaitForTimesOut(t *testing.T) {
	b := New(0)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := b.WaitFor(ctx, func(event.Event) bool { return false })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPostAfterClose(t *testing.T) {
	b := New(0)
	b.Close()
	assert.ErrorIs(t, b.Post(event.ConnectionOpened{ProducerID: 1}), ErrBusClosed)
}

func TestSubscribeAfterClose(t *testing.T) {
	b := New(0)
	b.Close()

	sub := b.Subscribe()
	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed on closed bus")
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := New(0)
	sub := b.Subscribe()
	b.Close()

	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("subscriber channel never closed")
		}
	}
}
