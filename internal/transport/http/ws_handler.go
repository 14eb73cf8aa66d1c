package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"trivia-room-service/internal/domain"
)

type WSHandler struct {
	rooms    Rooms
	hub      *Hub
	upgrader websocket.Upgrader
}

func NewWSHandler(rooms Rooms, hub *Hub) *WSHandler {
	return &WSHandler{
		rooms: rooms,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type startRoundPayload struct {
	Topic string `json:"topic"`
}

type answerPayload struct {
	Answer string `json:"answer"`
}

type ratingPayload struct {
	Topic  string `json:"topic"`
	Rating int    `json:"rating"`
}

type outboundMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ServeWS upgrades GET /games/:id/ws?name= and turns inbound messages into
// room commands. Closing the socket disconnects the player.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	gameID := strings.ToUpper(ps.ByName("id"))
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeError(w, domain.ErrInvalidName)
		return
	}
	if err := h.rooms.Join(r.Context(), gameID, name); err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(gameID, name)
	defer cancel()

	if err := h.rooms.Connect(r.Context(), gameID, name); err != nil {
		_ = conn.WriteJSON(outboundMessage{Type: domain.EventError, Payload: domain.ErrorMessage{Message: messageFor(err)}})
		return
	}
	defer func() {
		if err := h.rooms.Disconnect(context.Background(), gameID, name); err != nil {
			log.Printf("ws: disconnect %s from %s: %v", name, gameID, err)
		}
	}()

	send := make(chan outboundMessage, subscriberBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws: write to %s in %s: %v", name, gameID, err)
				return
			}
		}
	}()

	if view, err := h.rooms.State(r.Context(), gameID); err == nil {
		send <- outboundMessage{Type: domain.EventGameState, Payload: view}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case e, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage{Type: e.Type, Payload: e.Payload}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		if err := h.dispatch(r.Context(), gameID, name, inbound); err != nil {
			h.hub.Publish(domain.Event{
				GameID:  gameID,
				Target:  name,
				Type:    domain.EventError,
				Payload: domain.ErrorMessage{Message: messageFor(err)},
			})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

var errUnsupported = &clientError{"unsupported message type"}

type clientError struct{ msg string }

func (e *clientError) Error() string { return e.msg }

func (h *WSHandler) dispatch(ctx context.Context, gameID, name string, in inboundMessage) error {
	switch in.Type {
	case "start_game":
		return h.rooms.StartGame(ctx, gameID, name)
	case "start_round":
		var p startRoundPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.rooms.StartRound(ctx, gameID, name, p.Topic)
	case "submit_answer":
		var p answerPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.rooms.SubmitAnswer(ctx, gameID, name, p.Answer)
	case "submit_rating":
		var p ratingPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return err
		}
		return h.rooms.SubmitRating(ctx, gameID, name, p.Topic, p.Rating)
	case "reset_game":
		return h.rooms.Reset(ctx, gameID, name)
	default:
		return errUnsupported
	}
}

// decodePayload accepts a missing payload as the zero value.
func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &clientError{"invalid message payload"}
	}
	return nil
}
