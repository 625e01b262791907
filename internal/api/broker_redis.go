package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type EventBroker interface {
	Subscribe(id string) chan SSEEvent
	Unsubscribe(id string, ch chan SSEEvent)
	Publish(id string, evt SSEEvent)
	Close() error
}

// RedisBroker implements EventBroker over Redis Pub/Sub so that streams
// work when solves run on another replica.
type RedisBroker struct {
	rdb *redis.Client
	log *zap.Logger

	mu   sync.Mutex
	subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(rdb *redis.Client, log *zap.Logger) *RedisBroker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, log: log, subs: map[chan SSEEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(id string) chan SSEEvent {
	ch := make(chan SSEEvent, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(id))
	// wait for the subscription to be confirmed so early publishes are not lost
	if _, err := ps.Receive(ctx); err != nil {
		b.log.Warn("redis subscribe", zap.String("solution", id), zap.Error(err))
	}
	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()
	msgs := ps.Channel()
	go func() {
		for msg := range msgs {
			var evt SSEEvent
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				b.log.Warn("redis event decode", zap.Error(err))
				continue
			}
			b.mu.Lock()
			if _, ok := b.subs[ch]; ok {
				select {
				case ch <- evt:
				default:
				}
			}
			b.mu.Unlock()
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(id string, ch chan SSEEvent) {
	b.mu.Lock()
	ps, ok := b.subs[ch]
	delete(b.subs, ch)
	if ok {
		close(ch)
	}
	b.mu.Unlock()
	if ok {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(id string, evt SSEEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := json.Marshal(evt)
	if err != nil {
		b.log.Warn("redis event encode", zap.Error(err))
		return
	}
	if err := b.rdb.Publish(ctx, b.chanName(id), data).Err(); err != nil {
		b.log.Warn("redis publish", zap.String("solution", id), zap.Error(err))
	}
}

func (b *RedisBroker) Close() error {
	b.mu.Lock()
	for ch, ps := range b.subs {
		_ = ps.Close()
		close(ch)
		delete(b.subs, ch)
	}
	b.mu.Unlock()
	return nil
}

func (b *RedisBroker) chanName(id string) string { return "solution:" + id }
