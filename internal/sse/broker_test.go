package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker(t *testing.T) {
	b := NewBroker()
	first := b.Subscribe()
	second := b.Subscribe()
	assert.Equal(t, 2, b.TotalClients())

	t.Run("publish reaches every client", func(t *testing.T) {
		require.NoError(t, b.Publish("media_started", map[string]string{"mediaId": "m1"}))

		for _, c := range []*Client{first, second} {
			ev := <-c.Events
			assert.Equal(t, "media_started", ev.Type)
			assert.JSONEq(t, `{"mediaId":"m1"}`, string(ev.Data))
		}
	})

	t.Run("full buffer drops instead of blocking", func(t *testing.T) {
		for i := 0; i < clientBuffer+10; i++ {
			require.NoError(t, b.Publish("resolve_tick", i))
		}
		assert.Len(t, first.Events, clientBuffer)
	})

	t.Run("unsubscribe closes done", func(t *testing.T) {
		b.Unsubscribe(first)
		_, open := <-first.Done
		assert.False(t, open)
		assert.Equal(t, 1, b.TotalClients())

		b.Unsubscribe(first)
	})

	t.Run("close releases remaining clients", func(t *testing.T) {
		b.Close()
		_, open := <-second.Done
		assert.False(t, open)
		assert.Zero(t, b.TotalClients())

		late := b.Subscribe()
		_, open = <-late.Done
		assert.False(t, open)
	})

	t.Run("unmarshalable data", func(t *testing.T) {
		assert.Error(t, NewBroker().Publish("x", make(chan int)))
	})
}
