package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"keyracer/internal/errs"
	"keyracer/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// inboundMessage is what clients send over a race socket.
type inboundMessage struct {
	Type       string `json:"type"` // join, leave, progress, heartbeat
	CharsTyped int    `json:"charsTyped,omitempty"`
	Errors     int    `json:"errors,omitempty"`
}

// Handler handles WebSocket connections
type Handler struct {
	hub        *Hub
	authSvc    *service.AuthService
	raceSvc    *service.RaceService
	sendBuffer int
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, authSvc *service.AuthService, raceSvc *service.RaceService, sendBuffer int) *Handler {
	return &Handler{
		hub:        hub,
		authSvc:    authSvc,
		raceSvc:    raceSvc,
		sendBuffer: sendBuffer,
	}
}

// RaceWS handles GET /v1/ws/races/{roomId}
func (h *Handler) RaceWS(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	token := r.URL.Query().Get("token")

	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateRaceToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if claims.RoomID != roomID {
		http.Error(w, "token not valid for this room", http.StatusForbidden)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Connection{
		RoomID: roomID,
		UserID: claims.UserID,
		Send:   make(chan []byte, h.sendBuffer),
	}
	h.hub.Register(conn)

	// The hub snapshots from its own baseline on register; a room that
	// never broadcast yet still needs an initial resync.
	if snap, ok := h.raceSvc.Snapshot(roomID); ok {
		if data, err := marshalMessage(MsgStateSnapshot, SnapshotPayload{Session: snap, Version: snap.Version}); err == nil {
			conn.enqueue(data)
		}
	}

	log.Info().Str("room", roomID).Str("user", claims.UserID).Msg("racer connected")

	go h.writePump(wsConn, conn)
	go h.readRacePump(wsConn, conn, claims.Username)
}

// LeaderboardWS handles GET /v1/ws/leaderboard
func (h *Handler) LeaderboardWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Connection{Send: make(chan []byte, h.sendBuffer)}
	h.hub.Register(conn)

	go h.writePump(wsConn, conn)
	go h.readDiscardPump(wsConn, conn)
}

func (h *Handler) readRacePump(wsConn *websocket.Conn, conn *Connection, username string) {
	defer func() {
		h.hub.Unregister(conn)
		// Connection loss only touches this racer's connection state;
		// the session itself is unaffected.
		if err := h.raceSvc.Leave(context.Background(), conn.RoomID, conn.UserID); err != nil {
			log.Debug().Str("room", conn.RoomID).Str("user", conn.UserID).Err(err).Msg("leave on disconnect")
		}
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.sendError(conn, "malformed message")
			continue
		}
		h.dispatch(wsConn, conn, username, &msg)
	}
}

func (h *Handler) dispatch(wsConn *websocket.Conn, conn *Connection, username string, msg *inboundMessage) {
	ctx := context.Background()
	switch msg.Type {
	case "join":
		if _, err := h.raceSvc.Join(ctx, conn.RoomID, conn.UserID, username, ""); err != nil {
			h.sendError(conn, err.Error())
		}
	case "leave":
		if err := h.raceSvc.Leave(ctx, conn.RoomID, conn.UserID); err != nil {
			h.sendError(conn, err.Error())
		}
	case "progress":
		if _, err := h.raceSvc.Progress(ctx, conn.RoomID, conn.UserID, msg.CharsTyped, msg.Errors); err != nil {
			if errs.KindOf(err) == errs.KindValidation || errs.KindOf(err) == errs.KindConflict {
				h.sendError(conn, err.Error())
			} else {
				log.Warn().Str("room", conn.RoomID).Err(err).Msg("progress failed")
			}
		}
	case "heartbeat":
		h.raceSvc.Heartbeat(conn.RoomID)
	default:
		h.sendError(conn, "unknown message type")
	}
}

// sendError runs on the reader goroutine while the hub may be closing
// the connection; enqueue makes that harmless.
func (h *Handler) sendError(conn *Connection, message string) {
	data, err := marshalMessage(MsgError, map[string]string{"error": message})
	if err != nil {
		return
	}
	conn.enqueue(data)
}

func (h *Handler) readDiscardPump(wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		wsConn.Close()
	}()
	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := wsConn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
