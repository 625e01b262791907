package api

import (
	"os"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	id := "s1"
	ch := b.Subscribe(id)

	evt := SSEEvent{Type: EventProgress, Data: map[string]any{"x": 1}}
	b.Publish(id, evt)
	b.Publish("other", SSEEvent{Type: EventProgress})

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["x"].(int) != 1 {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %+v", got)
	default:
	}

	b.Unsubscribe(id, ch)
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	// second unsubscribe is a no-op
	b.Unsubscribe(id, ch)
	b.Publish(id, evt)
}

func TestBrokerTerminalEventSurvivesFullBuffer(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("s1")
	defer b.Unsubscribe("s1", ch)

	for i := 0; i < cap(ch)+5; i++ {
		b.Publish("s1", SSEEvent{Type: EventProgress, Data: map[string]any{"iteration": i}})
	}
	b.Publish("s1", SSEEvent{Type: EventCompleted})

	var last SSEEvent
	for len(ch) > 0 {
		last = <-ch
	}
	assert.Equal(t, EventCompleted, last.Type)
}

func TestRedisBroker(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	b := NewRedisBroker(rdb, nil)
	ch := b.Subscribe("redis-test")
	b.Publish("redis-test", SSEEvent{Type: EventCompleted, Data: map[string]any{"id": "redis-test"}})
	select {
	case got := <-ch:
		assert.Equal(t, EventCompleted, got.Type)
		assert.Equal(t, "redis-test", got.Data["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for redis event")
	}
	b.Unsubscribe("redis-test", ch)
	require.NoError(t, b.Close())
}
