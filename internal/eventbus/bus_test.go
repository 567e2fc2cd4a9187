package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FanoutAndDrop(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: TypeTaskStarted})
	b.Publish(Event{Type: TypeTaskFinished})

	e := <-a
	assert.Equal(t, TypeTaskStarted, e.Type)
	assert.False(t, e.Time.IsZero())
	assert.Len(t, a, 0, "second event dropped for full subscriber")

	require.Len(t, c, 2)

	unsubA()
	unsubA()
	_, ok := <-a
	assert.False(t, ok)
	b.Publish(Event{Type: TypeTaskFailed})
	assert.Len(t, c, 3)
}
