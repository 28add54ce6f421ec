package event

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue(t *testing.T) {
	t.Run("delivers in order", func(t *testing.T) {
		q := NewQueue()
		q.Post(ResolveTick{})
		q.Post(NoContent{Reason: "empty"})
		q.Post(Paired{ScreenID: "s1"})
		assert.Equal(t, 3, q.Len())

		ctx := context.Background()
		names := []string{}
		for i := 0; i < 3; i++ {
			e, err := q.Next(ctx)
			require.NoError(t, err)
			names = append(names, e.Name())
		}
		assert.Equal(t, []string{"resolve_tick", "no_content", "paired"}, names)
	})

	t.Run("next waits for a post", func(t *testing.T) {
		q := NewQueue()
		go func() {
			time.Sleep(10 * time.Millisecond)
			q.Post(SyncRecommended{Reason: "heartbeat"})
		}()

		e, err := q.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, SyncRecommended{Reason: "heartbeat"}, e)
	})

	t.Run("next honours cancellation", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := NewQueue().Next(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("concurrent posters lose nothing", func(t *testing.T) {
		q := NewQueue()
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					q.Post(ResolveTick{})
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1000, q.Len())
	})
}

func TestMarshalErrors(t *testing.T) {
	data, err := json.Marshal(MediaFailed{ScheduleID: "s1", MediaID: "m1", Err: errors.New("exit status 1"), Skipped: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"scheduleId":"s1","mediaId":"m1","error":"exit status 1","skipped":true}`, string(data))

	data, err = json.Marshal(Fault{Source: "loop"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"source":"loop","error":""}`, string(data))
}
