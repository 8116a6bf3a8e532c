package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSinkFunc(t *testing.T) {
	var got Event
	sink := SinkFunc(func(e Event) { got = e })

	sink.Emit(Event{Type: CircuitOpened, Source: "vision-api"})

	assert.Equal(t, CircuitOpened, got.Type)
	assert.Equal(t, "vision-api", got.Source)
}

func TestMultiFansOut(t *testing.T) {
	var a, b int
	sink := Multi(
		SinkFunc(func(Event) { a++ }),
		SinkFunc(func(Event) { b++ }),
	)

	sink.Emit(Event{Type: ResourceCreated})
	sink.Emit(Event{Type: ResourceDestroyed})

	assert.Equal(t, 2, a)
	assert.Equal(t, 2, b)
}

func TestNopDiscards(t *testing.T) {
	// Must not panic or block.
	Nop().Emit(Event{Type: BatchError, Err: errors.New("boom")})
}

func TestChannelSinkDelivers(t *testing.T) {
	sink := Channel(4)

	sink.Emit(Event{Type: ResourceAcquired, Resource: "res_1"})

	select {
	case e := <-sink.Events():
		assert.Equal(t, ResourceAcquired, e.Type)
		assert.Equal(t, "res_1", e.Resource)
	case <-time.After(time.Second):
		t.Fatal("expected event on channel")
	}
}

func TestChannelSinkDropsOnOverflow(t *testing.T) {
	sink := Channel(1)

	var dropped []Event
	sink.OnDrop(func(e Event) { dropped = append(dropped, e) })

	sink.Emit(Event{Type: BatchCompleted})
	sink.Emit(Event{Type: BatchCompleted}) // buffer full, must not block

	require.Len(t, dropped, 1)
	assert.Equal(t, BatchCompleted, dropped[0].Type)
}
