package http

import (
	"sync"

	"trivia-room-service/internal/domain"
)

const subscriberBuffer = 32

// Hub fans room events out to the sockets connected on this instance.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]map[*subscriber]struct{}
}

type subscriber struct {
	player string
	ch     chan domain.Event
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a socket of player in gameID. The caller must invoke
// the returned cancel function to avoid leaks.
func (h *Hub) Subscribe(gameID, player string) (<-chan domain.Event, func()) {
	sub := &subscriber{player: player, ch: make(chan domain.Event, subscriberBuffer)}

	h.mu.Lock()
	subs, ok := h.rooms[gameID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.rooms[gameID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs, ok := h.rooms[gameID]
		if !ok {
			return
		}
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub.ch)
		}
		if len(subs) == 0 {
			delete(h.rooms, gameID)
		}
	}
	return sub.ch, cancel
}

// Publish never blocks: a subscriber whose buffer is full loses its oldest
// pending event.
func (h *Hub) Publish(e domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.rooms[e.GameID] {
		if e.Target != "" && e.Target != sub.player {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- e
		}
	}
}

// Connections counts the sockets subscribed to gameID.
func (h *Hub) Connections(gameID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[gameID])
}
