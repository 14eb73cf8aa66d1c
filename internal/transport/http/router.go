package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	qrcode "github.com/skip2/go-qrcode"

	"trivia-room-service/internal/domain"
)

// Rooms is the slice of game.Manager the transport drives.
type Rooms interface {
	Create(ctx context.Context, host string) (domain.GameView, error)
	Join(ctx context.Context, gameID, name string) error
	StartGame(ctx context.Context, gameID, requester string) error
	StartRound(ctx context.Context, gameID, requester, topic string) error
	SubmitAnswer(ctx context.Context, gameID, player, raw string) error
	SubmitRating(ctx context.Context, gameID, player, topic string, value int) error
	Connect(ctx context.Context, gameID, player string) error
	Disconnect(ctx context.Context, gameID, player string) error
	Reset(ctx context.Context, gameID, requester string) error
	State(ctx context.Context, gameID string) (domain.GameView, error)
}

const qrSize = 256

// NewRouter wires the REST routes and the room websocket. publicURL is the
// externally reachable base used in join links; when empty it is derived
// from the request.
func NewRouter(rooms Rooms, hub *Hub, publicURL string) http.Handler {
	api := &api{rooms: rooms, publicURL: strings.TrimRight(publicURL, "/")}
	ws := NewWSHandler(rooms, hub)

	router := httprouter.New()
	router.GET("/healthz", func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Write([]byte("ok"))
	})
	router.POST("/games", api.createGame)
	router.POST("/games/:id/players", api.joinGame)
	router.GET("/games/:id", api.gameState)
	router.GET("/games/:id/qr.png", api.joinQR)
	router.GET("/games/:id/ws", ws.ServeWS)
	return router
}

type api struct {
	rooms     Rooms
	publicURL string
}

type createRequest struct {
	Host string `json:"host"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type gameResponse struct {
	Game    domain.GameView `json:"game"`
	JoinURL string          `json:"join_url"`
}

func (a *api) createGame(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &clientError{"invalid request body"})
		return
	}
	view, err := a.rooms.Create(r.Context(), req.Host)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, gameResponse{Game: view, JoinURL: a.joinURL(r, view.ID)})
}

func (a *api) joinGame(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &clientError{"invalid request body"})
		return
	}
	id := strings.ToUpper(ps.ByName("id"))
	if err := a.rooms.Join(r.Context(), id, req.Name); err != nil {
		writeError(w, err)
		return
	}
	view, err := a.rooms.State(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Game: view, JoinURL: a.joinURL(r, view.ID)})
}

func (a *api) gameState(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view, err := a.rooms.State(r.Context(), strings.ToUpper(ps.ByName("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, gameResponse{Game: view, JoinURL: a.joinURL(r, view.ID)})
}

// joinQR renders the join link of a game as a PNG QR code.
func (a *api) joinQR(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	view, err := a.rooms.State(r.Context(), strings.ToUpper(ps.ByName("id")))
	if err != nil {
		writeError(w, err)
		return
	}
	png, err := qrcode.Encode(a.joinURL(r, view.ID), qrcode.Medium, qrSize)
	if err != nil {
		log.Printf("http: qr for %s: %v", view.ID, err)
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (a *api) joinURL(r *http.Request, gameID string) string {
	base := a.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = fmt.Sprintf("%s://%s", scheme, r.Host)
	}
	return base + "/?game=" + gameID
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: messageFor(err)})
}

// messageFor keeps internal detail away from clients.
func messageFor(err error) string {
	var ce *clientError
	if errors.As(err, &ce) {
		return ce.msg
	}
	return domain.PublicMessage(err)
}

func statusFor(err error) int {
	var ce *clientError
	switch {
	case errors.As(err, &ce),
		errors.Is(err, domain.ErrInvalidName),
		errors.Is(err, domain.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrGameNotFound), errors.Is(err, domain.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotHost), errors.Is(err, domain.ErrNotYourTurn):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNameTaken),
		errors.Is(err, domain.ErrGameFull),
		errors.Is(err, domain.ErrGameAlreadyStarted),
		errors.Is(err, domain.ErrGameNotInProgress),
		errors.Is(err, domain.ErrRoundInProgress),
		errors.Is(err, domain.ErrNoOpenRound),
		errors.Is(err, domain.ErrNoConnectedPlayers):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
