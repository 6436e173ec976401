package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
)

// EventType classifies a change-feed event.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event describes one row change in the record store. Payload carries the row
// after the change for update events; insert and delete events may omit it.
type Event struct {
	Type    EventType       `json:"type"`
	Table   string          `json:"table"`
	Key     string          `json:"key,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Feed is the abstraction over change-feed backends.
type Feed interface {
	Publish(ctx context.Context, evt Event) error
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// InMemory fans events out to every subscriber in-process. Slow subscribers
// lose events rather than block publishers; consumers that care resync from
// the store, which is the contract the sync bridge already follows.
type InMemory struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewInMemory creates an in-process fanout feed.
func NewInMemory() *InMemory {
	return &InMemory{subs: make(map[int]chan Event)}
}

// Publish delivers evt to all current subscribers.
func (f *InMemory) Publish(ctx context.Context, evt Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber released when ctx is cancelled.
func (f *InMemory) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 64)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// RedisFeed carries events over a redis pub/sub channel so every connected
// process sees the same stream.
type RedisFeed struct {
	client  *redis.Client
	channel string
}

// NewRedisFeed builds a feed on the given pub/sub channel.
func NewRedisFeed(client *redis.Client, channel string) *RedisFeed {
	if channel == "" {
		channel = "kidspresence:feed"
	}
	return &RedisFeed{client: client, channel: channel}
}

// Publish marshals and publishes evt.
func (f *RedisFeed) Publish(ctx context.Context, evt Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, f.channel, raw).Err()
}

// Subscribe streams events until ctx is cancelled.
func (f *RedisFeed) Subscribe(ctx context.Context) (<-chan Event, error) {
	ps := f.client.Subscribe(ctx, f.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
