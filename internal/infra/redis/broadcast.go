package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-room-service/internal/domain"
)

const (
	roomChannelPrefix = "trivia:room:"
	publishTimeout    = 2 * time.Second
)

// envelope is the wire form of a room event on the pub/sub channel.
type envelope struct {
	GameID  string          `json:"game_id"`
	Target  string          `json:"target,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster publishes room events on trivia:room:{id} so every instance
// holding sockets for that room can deliver them.
type Broadcaster struct {
	client *redis.Client
}

func NewBroadcaster(client *redis.Client) *Broadcaster {
	return &Broadcaster{client: client}
}

func (b *Broadcaster) Publish(e domain.Event) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		log.Printf("relay: encode %s payload: %v", e.Type, err)
		return
	}
	data, err := json.Marshal(envelope{GameID: e.GameID, Target: e.Target, Type: e.Type, Payload: payload})
	if err != nil {
		log.Printf("relay: encode %s: %v", e.Type, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, roomChannelPrefix+e.GameID, data).Err(); err != nil {
		log.Printf("relay: publish %s to %s: %v", e.Type, e.GameID, err)
	}
}

// Relay subscribes to every room channel and hands events to deliver.
type Relay struct {
	client  *redis.Client
	deliver func(domain.Event)
	ready   chan struct{}
}

func NewRelay(client *redis.Client, deliver func(domain.Event)) *Relay {
	return &Relay{client: client, deliver: deliver, ready: make(chan struct{})}
}

// Ready is closed once the subscription is confirmed.
func (r *Relay) Ready() <-chan struct{} {
	return r.ready
}

// Run relays until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.PSubscribe(ctx, roomChannelPrefix+"*")
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe room channels: %w", err)
	}
	close(r.ready)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("relay: drop malformed message on %s: %v", msg.Channel, err)
				continue
			}
			if env.GameID == "" {
				env.GameID = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			r.deliver(domain.Event{GameID: env.GameID, Target: env.Target, Type: env.Type, Payload: env.Payload})
		}
	}
}
