package streamhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribePublish_DeliversInOrderWithIncreasingSeq(t *testing.T) {
	h := New(DefaultConfig())
	sub := h.Subscribe("client-1", "run-1")

	h.Publish("run-1", EventStart, nil, "req-1")
	h.Publish("run-1", EventToken, "hello", "req-1")
	h.Publish("run-1", EventDone, nil, "req-1")

	first := <-sub.Ch
	second := <-sub.Ch
	third := <-sub.Ch

	assert.Equal(t, EventStart, first.Type)
	assert.Equal(t, EventToken, second.Type)
	assert.Equal(t, EventDone, third.Type)
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, 3, third.Seq)

	_, ok := <-sub.Ch
	assert.False(t, ok, "a done event closes the subscriber channel")
}

func TestPublish_FansOutToMultipleSubscribers(t *testing.T) {
	h := New(DefaultConfig())
	subA := h.Subscribe("a", "run-1")
	subB := h.Subscribe("b", "run-1")

	h.Publish("run-1", EventProgress, 50, "")

	evtA := <-subA.Ch
	evtB := <-subB.Ch
	assert.Equal(t, evtA.Seq, evtB.Seq, "both subscribers see the same sequence number")
}

func TestUnsubscribe_RemovesEntryWhenSetEmpty(t *testing.T) {
	h := New(DefaultConfig())
	h.Subscribe("a", "run-1")
	assert.Equal(t, 1, h.SubscriberCount("run-1"))

	h.Unsubscribe("a", "run-1")
	assert.Equal(t, 0, h.SubscriberCount("run-1"))
}

func TestPublish_DoneClosesAllRemainingSubscribers(t *testing.T) {
	h := New(DefaultConfig())
	subA := h.Subscribe("a", "run-1")
	subB := h.Subscribe("b", "run-1")

	h.Publish("run-1", EventDone, nil, "")

	_, okA := <-subA.Ch
	_, okB := <-subB.Ch
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, h.SubscriberCount("run-1"))
}

func TestPublish_OverflowDisconnectsSlowSubscriberWithoutBlocking(t *testing.T) {
	h := New(Config{SubscriberBuffer: 1, SSEKeepalive: time.Second, WSPingInterval: time.Second, WSPongTimeout: time.Second})
	sub := h.Subscribe("slow", "run-1")

	h.Publish("run-1", EventToken, "1", "")
	h.Publish("run-1", EventToken, "2", "") // buffer full: this publish must disconnect, not block

	require.Eventually(t, func() bool {
		return h.SubscriberCount("run-1") == 0
	}, time.Second, 10*time.Millisecond)

	// the first buffered event is still readable even after disconnection
	evt, ok := <-sub.Ch
	if ok {
		assert.Equal(t, "1", evt.Data)
	}
}

func TestSubscribe_IndependentRunsDoNotInterfere(t *testing.T) {
	h := New(DefaultConfig())
	subRun1 := h.Subscribe("a", "run-1")
	subRun2 := h.Subscribe("a", "run-2")

	h.Publish("run-1", EventStart, nil, "")

	select {
	case <-subRun2.Ch:
		t.Fatal("run-2's subscriber should not receive run-1's events")
	default:
	}

	evt := <-subRun1.Ch
	assert.Equal(t, EventStart, evt.Type)
}
