package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishSubscribeOrder(t *testing.T) {
	bus := New(8)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	bus.Publish(KindJob, JobStateChanged{JobID: "1", From: "pending", To: "running"})
	bus.Publish(KindJob, JobStateChanged{JobID: "1", From: "running", To: "completed"})

	first := <-sub.Events()
	second := <-sub.Events()

	require.IsType(t, JobStateChanged{}, first.Payload)
	assert.Equal(t, "running", first.Payload.(JobStateChanged).To)
	assert.Equal(t, "completed", second.Payload.(JobStateChanged).To)
}

func TestLateSubscriberMissesPriorEvents(t *testing.T) {
	bus := New(8)
	bus.Publish(KindJob, JobStateChanged{JobID: "early"})

	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	select {
	case <-sub.Events():
		t.Fatal("subscriber should not see events published before it subscribed")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestOverrunDropsRatherThanBlocks(t *testing.T) {
	bus := New(1)
	sub := bus.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Publish(KindJob, JobStateChanged{JobID: "x"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	assert.Greater(t, sub.Overruns(), uint64(0))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(4)
	sub := bus.Subscribe()
	sub.Unsubscribe()

	_, ok := <-sub.Events()
	assert.False(t, ok)
}
