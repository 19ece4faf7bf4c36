package mqtt

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
)

// countingConn records transport-level subscribe calls.
type countingConn struct {
	*MemoryBroker
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
	failNext     atomic.Pointer[error]
	// unsubscribeDelay holds up transport unsubscribes.
	unsubscribeDelay time.Duration
}

func (c *countingConn) Subscribe(ctx context.Context, topic string, qos byte, h Handler) error {
	c.subscribes.Add(1)
	if errp := c.failNext.Swap(nil); errp != nil {
		return *errp
	}
	return c.MemoryBroker.Subscribe(ctx, topic, qos, h)
}

func (c *countingConn) Unsubscribe(ctx context.Context, topic string) error {
	c.unsubscribes.Add(1)
	time.Sleep(c.unsubscribeDelay)
	return c.MemoryBroker.Unsubscribe(ctx, topic)
}

func newTestClient(t *testing.T, opts ...Option) (*Client, *countingConn) {
	t.Helper()
	broker := NewMemoryBroker()
	t.Cleanup(broker.Close)
	conn := &countingConn{MemoryBroker: broker}
	c := New(conn, opts...)
	require.NoError(t, c.Connect(context.Background()))
	return c, conn
}

func next(t *testing.T, sub *Subscription) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, err := sub.Next(ctx)
	require.NoError(t, err)
	return msg
}

func TestSharedSubscription(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestClient(t)

	a, err := c.Subscribe(ctx, "lights/a")
	require.NoError(t, err)
	b, err := c.Subscribe(ctx, "lights/a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), conn.subscribes.Load())

	require.NoError(t, c.Publish(ctx, "lights/a", []byte("on"), AtLeastOnce, false))
	assert.Equal(t, "on", string(next(t, a).Payload))
	assert.Equal(t, "on", string(next(t, b).Payload))
}

func TestConcurrentSubscribeIsAtomicPerTopic(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestClient(t)

	var wg sync.WaitGroup
	subs := make([]*Subscription, 16)
	for i := range subs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := c.Subscribe(ctx, "busy/topic")
			assert.NoError(t, err)
			subs[i] = sub
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), conn.subscribes.Load())

	require.NoError(t, c.Publish(ctx, "busy/topic", []byte("x"), AtLeastOnce, false))
	for _, sub := range subs {
		assert.Equal(t, "x", string(next(t, sub).Payload))
	}
}

func TestRetainedDeliveredToLateSubscribers(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestClient(t)

	require.NoError(t, c.Publish(ctx, "state/kitchen", []byte(`{"type":"off"}`), AtLeastOnce, true))

	first, err := c.Subscribe(ctx, "state/kitchen")
	require.NoError(t, err)
	msg := next(t, first)
	assert.True(t, msg.Retained)
	assert.JSONEq(t, `{"type":"off"}`, string(msg.Payload))

	second, err := c.Subscribe(ctx, "state/kitchen")
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"off"}`, string(next(t, second).Payload))
	assert.Equal(t, int32(1), conn.subscribes.Load())
}

func TestReplayToLateSubscriberIsMarkedRetained(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	require.NoError(t, c.Publish(ctx, "switch/action", []byte("up_single"), AtLeastOnce, true))

	a, err := c.Subscribe(ctx, "switch/action")
	require.NoError(t, err)
	assert.True(t, next(t, a).Retained)

	require.NoError(t, c.Publish(ctx, "switch/action", []byte("down_single"), AtLeastOnce, false))
	live := next(t, a)
	assert.Equal(t, "down_single", string(live.Payload))
	assert.False(t, live.Retained)

	// The live press is history for anyone joining later.
	b, err := c.Subscribe(ctx, "switch/action")
	require.NoError(t, err)
	replayed := next(t, b)
	assert.Equal(t, "down_single", string(replayed.Payload))
	assert.True(t, replayed.Retained)
}

func TestLastSubscriberReleasesTopic(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestClient(t)

	a, err := c.Subscribe(ctx, "t")
	require.NoError(t, err)
	b, err := c.Subscribe(ctx, "t")
	require.NoError(t, err)

	a.Close()
	assert.True(t, c.Subscribed("t"))
	assert.Equal(t, int32(0), conn.unsubscribes.Load())

	b.Close()
	b.Close()
	assert.False(t, c.Subscribed("t"))
	assert.Equal(t, int32(1), conn.unsubscribes.Load())

	_, err = b.Next(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	// Subscribing again goes back to the transport.
	_, err = c.Subscribe(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, int32(2), conn.subscribes.Load())
}

func TestResubscribeWaitsForPendingUnsubscribe(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestClient(t)
	conn.unsubscribeDelay = 50 * time.Millisecond

	a, err := c.Subscribe(ctx, "t")
	require.NoError(t, err)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		a.Close()
	}()
	time.Sleep(10 * time.Millisecond)

	b, err := c.Subscribe(ctx, "t")
	require.NoError(t, err)
	<-closed
	assert.Equal(t, int32(2), conn.subscribes.Load())
	assert.Equal(t, int32(1), conn.unsubscribes.Load())

	require.NoError(t, c.Publish(ctx, "t", []byte("still here"), AtLeastOnce, false))
	assert.Equal(t, "still here", string(next(t, b).Payload))
}

func TestResubscribeHonorsContextWhileUnsubscribing(t *testing.T) {
	c, conn := newTestClient(t)
	conn.unsubscribeDelay = 200 * time.Millisecond

	a, err := c.Subscribe(context.Background(), "t")
	require.NoError(t, err)
	go a.Close()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Subscribe(ctx, "t")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlowSubscriberDoesNotStallOtherTopics(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t, WithBuffer(1))

	slow, err := c.Subscribe(ctx, "slow")
	require.NoError(t, err)
	fast, err := c.Subscribe(ctx, "fast")
	require.NoError(t, err)

	// slow is never read; its queue fills after the first message.
	for i := 0; i < 10; i++ {
		require.NoError(t, c.Publish(ctx, "slow", []byte(fmt.Sprint(i)), AtLeastOnce, false))
	}
	require.NoError(t, c.Publish(ctx, "fast", []byte("through"), AtLeastOnce, false))
	assert.Equal(t, "through", string(next(t, fast).Payload))

	// The stalled topic resumes in order once drained.
	for i := 0; i < 10; i++ {
		assert.Equal(t, fmt.Sprint(i), string(next(t, slow).Payload))
	}
	slow.Close()
}

func TestUnsubscribeClosesAllSubscribers(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	a, err := c.Subscribe(ctx, "t")
	require.NoError(t, err)
	b, err := c.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, c.Unsubscribe(ctx, "t"))
	for _, sub := range []*Subscription{a, b} {
		select {
		case <-sub.Done():
		case <-time.After(time.Second):
			t.Fatal("subscription not closed")
		}
	}
	assert.NoError(t, c.Unsubscribe(ctx, "t"))
}

func TestSubscribeFailureIsReportedAndRetryable(t *testing.T) {
	ctx := context.Background()
	c, conn := newTestClient(t)

	boom := errors.New("refused")
	conn.failNext.Store(&boom)

	_, err := c.Subscribe(ctx, "flaky")
	assert.ErrorIs(t, err, boom)
	assert.False(t, c.Subscribed("flaky"))

	other, err := c.Subscribe(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, c.Publish(ctx, "other", []byte("fine"), AtLeastOnce, false))
	assert.Equal(t, "fine", string(next(t, other).Payload))

	_, err = c.Subscribe(ctx, "flaky")
	assert.NoError(t, err)
}

func TestPublishWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	c.Disconnect()
	c.Disconnect()
	assert.False(t, c.IsConnected())

	err := c.Publish(ctx, "t", []byte("x"), AtLeastOnce, false)
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Connect(ctx))
	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())
}

func TestDeliveryOrder(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	sub, err := c.Subscribe(ctx, "ordered")
	require.NoError(t, err)

	const n = 200
	go func() {
		for i := 0; i < n; i++ {
			_ = c.Publish(ctx, "ordered", []byte(fmt.Sprint(i)), AtLeastOnce, false)
		}
	}()
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprint(i), string(next(t, sub).Payload))
	}
}

func TestSubscribeLatest(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	empty, err := c.SubscribeLatest(ctx, "nothing/here")
	require.NoError(t, err)
	_, ok := empty.Wait(ctx, 20*time.Millisecond)
	assert.False(t, ok)
	empty.Close()

	require.NoError(t, c.Publish(ctx, "temp", []byte("1"), AtLeastOnce, true))
	latest, err := c.SubscribeLatest(ctx, "temp")
	require.NoError(t, err)
	defer latest.Close()

	v, ok := latest.Wait(ctx, time.Second)
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	require.NoError(t, c.Publish(ctx, "temp", []byte("2"), AtLeastOnce, false))
	require.NoError(t, c.Publish(ctx, "temp", []byte("3"), AtLeastOnce, false))
	assert.Eventually(t, func() bool {
		v, _ := latest.Value()
		return string(v) == "3"
	}, time.Second, 5*time.Millisecond)
}

func TestMemoryBrokerHistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBroker()
	defer b.Close()
	b.historyLimit = 4
	require.NoError(t, b.Connect(ctx))

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish(ctx, "h", AtLeastOnce, false, []byte(fmt.Sprint(i))))
	}
	history := b.History("h")
	assert.LessOrEqual(t, len(history), 8)
	assert.GreaterOrEqual(t, len(history), 4)
	assert.Equal(t, "19", string(history[len(history)-1].Payload))
}

func TestTopicMatches(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"a/b", "a/b", true},
		{"a/b", "a/c", false},
		{"a/+", "a/b", true},
		{"a/+", "a/b/c", false},
		{"a/#", "a/b/c", true},
		{"#", "anything/at/all", true},
		{"+/action", "switch/action", true},
		{"a/b/c", "a/b", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, topicMatches(tt.filter, tt.topic), "%s vs %s", tt.filter, tt.topic)
	}
}

func TestBackoffGrowsToCap(t *testing.T) {
	b := BackoffConfig{MinBackoff: time.Second, MaxBackoff: 5 * time.Second, Multiplier: 2}
	d := b.MinBackoff
	var seen []time.Duration
	for i := 0; i < 4; i++ {
		d = b.next(d)
		seen = append(seen, d)
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, seen)
}
