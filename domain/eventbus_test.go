package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversMatchingTopic(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe("process.spawn", 4)
	defer sub.Close()

	other := bus.Subscribe("process.exit", 4)
	defer other.Close()

	bus.Publish(Event{Topic: "process.spawn", Payload: "alias-a"})

	select {
	case ev := <-sub.Ch:
		assert.Equal(t, "alias-a", ev.Payload)
	case <-time.After(time.Second):
		t.Fatal("expected event on matching subscriber")
	}

	select {
	case <-other.Ch:
		t.Fatal("non-matching subscriber must not receive")
	default:
	}
}

func TestEventBusWildcardSubscriberReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe("", 4)
	defer sub.Close()

	bus.Publish(Event{Topic: "task.done"})
	bus.Publish(Event{Topic: "process.exit"})

	require.Len(t, sub.Ch, 2)
}

func TestEventBusCloseStopsDelivery(t *testing.T) {
	bus := NewEventBus()
	sub := bus.Subscribe("x", 1)
	sub.Close()

	assert.NotPanics(t, func() {
		bus.Publish(Event{Topic: "x"})
	})

	// closed channel: receive returns zero value immediately.
	_, ok := <-sub.Ch
	assert.False(t, ok)
}
