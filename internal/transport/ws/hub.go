package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"keyracer/internal/model"
	"keyracer/internal/telemetry"
)

// MessageType defines the type of WebSocket message
type MessageType string

const (
	MsgStateSnapshot     MessageType = "state_snapshot"
	MsgDeltaUpdate       MessageType = "delta_update"
	MsgRaceFinished      MessageType = "race_finished"
	MsgLeaderboardUpdate MessageType = "leaderboard_update"
	MsgShutdown          MessageType = "shutdown"
	MsgError             MessageType = "error"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// SnapshotPayload is a full room resync.
type SnapshotPayload struct {
	Session *model.RaceSession `json:"session"`
	Version uint64             `json:"version"`
}

// ParticipantDelta carries the changed fields of one racer.
type ParticipantDelta struct {
	UserID     string                `json:"userId"`
	Username   string                `json:"username"`
	CharsTyped int                   `json:"charsTyped"`
	Errors     int                   `json:"errors"`
	Finished   bool                  `json:"finished"`
	Connection model.ConnectionState `json:"connection"`
}

// DeltaPayload describes what changed since the previous version.
// Subscribers that observe a version gap must request a snapshot.
type DeltaPayload struct {
	RoomID       string             `json:"roomId"`
	Version      uint64             `json:"version"`
	Status       model.RaceStatus   `json:"status,omitempty"`
	StartedAt    *time.Time         `json:"startedAt,omitempty"`
	DeadlineAt   *time.Time         `json:"deadlineAt,omitempty"`
	Participants []ParticipantDelta `json:"participants,omitempty"`
	Left         []string           `json:"left,omitempty"`
}

// FinishedPayload carries the final ranking and rating deltas.
type FinishedPayload struct {
	RoomID       string                    `json:"roomId"`
	Version      uint64                    `json:"version"`
	Ranking      []model.RankedParticipant `json:"ranking"`
	RatingDeltas map[string]float64        `json:"ratingDeltas"`
}

// Connection represents one subscriber. RoomID is empty for global
// leaderboard watchers. Send is closed exactly once, via closeSend;
// every producer goes through enqueue so a send can never race the
// close.
type Connection struct {
	RoomID string
	UserID string
	Send   chan []byte

	mu     sync.Mutex
	closed bool
}

// enqueue delivers without blocking. Returns false when the buffer is
// full or the connection is already closed.
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel. Safe to call more than once.
func (c *Connection) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

type finishedEvent struct {
	roomID  string
	version uint64
	ranking []model.RankedParticipant
	deltas  map[string]float64
}

// Hub fans cache mutations out to connected viewers. One goroutine
// owns all subscriber maps; per-room deltas are diffed against the
// last published snapshot and always carry non-decreasing versions.
// A subscriber whose send buffer is full is dropped, not waited on.
type Hub struct {
	roomConns   map[string]map[*Connection]bool
	globalConns map[*Connection]bool

	// Last published state per room, the baseline for delta diffs and
	// the version floor for ordering.
	lastSnapshot map[string]*model.RaceSession

	register    chan *Connection
	unregister  chan *Connection
	sessions    chan *model.RaceSession
	finished    chan finishedEvent
	leaderboard chan []model.LeaderboardEntry

	metrics *telemetry.Collector

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewHub creates and starts a hub.
func NewHub(buffer int, metrics *telemetry.Collector) *Hub {
	h := &Hub{
		roomConns:    make(map[string]map[*Connection]bool),
		globalConns:  make(map[*Connection]bool),
		lastSnapshot: make(map[string]*model.RaceSession),
		register:     make(chan *Connection),
		unregister:   make(chan *Connection),
		sessions:     make(chan *model.RaceSession, buffer),
		finished:     make(chan finishedEvent, buffer),
		leaderboard:  make(chan []model.LeaderboardEntry, buffer),
		metrics:      metrics,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	defer close(h.done)
	for {
		select {
		case conn := <-h.register:
			h.addConn(conn)

		case conn := <-h.unregister:
			h.removeConn(conn)

		case snap := <-h.sessions:
			h.publishSession(snap)

		case ev := <-h.finished:
			h.publishFinished(ev)

		case entries := <-h.leaderboard:
			h.publishLeaderboard(entries)

		case <-h.stop:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) addConn(conn *Connection) {
	if conn.RoomID == "" {
		h.globalConns[conn] = true
		return
	}
	if h.roomConns[conn.RoomID] == nil {
		h.roomConns[conn.RoomID] = make(map[*Connection]bool)
	}
	h.roomConns[conn.RoomID][conn] = true

	// Fresh subscribers start from a full snapshot so their first
	// delta has a known baseline.
	if snap, ok := h.lastSnapshot[conn.RoomID]; ok {
		h.send(conn, MsgStateSnapshot, SnapshotPayload{Session: snap, Version: snap.Version})
	}
}

func (h *Hub) removeConn(conn *Connection) {
	if conn.RoomID == "" {
		if h.globalConns[conn] {
			delete(h.globalConns, conn)
			conn.closeSend()
		}
		return
	}
	if conns, ok := h.roomConns[conn.RoomID]; ok {
		if conns[conn] {
			delete(conns, conn)
			conn.closeSend()
		}
		if len(conns) == 0 {
			delete(h.roomConns, conn.RoomID)
		}
	}
}

func (h *Hub) publishSession(snap *model.RaceSession) {
	prev := h.lastSnapshot[snap.RoomID]
	if prev != nil && snap.Version <= prev.Version {
		// Out-of-order arrival; subscribers already saw a newer state.
		return
	}
	h.lastSnapshot[snap.RoomID] = snap

	if prev == nil {
		h.broadcastRoom(snap.RoomID, MsgStateSnapshot, SnapshotPayload{Session: snap, Version: snap.Version})
		return
	}
	h.broadcastRoom(snap.RoomID, MsgDeltaUpdate, diff(prev, snap))
}

func (h *Hub) publishFinished(ev finishedEvent) {
	h.broadcastRoom(ev.roomID, MsgRaceFinished, FinishedPayload{
		RoomID:       ev.roomID,
		Version:      ev.version,
		Ranking:      ev.ranking,
		RatingDeltas: ev.deltas,
	})
	// The room is over; drop the diff baseline.
	delete(h.lastSnapshot, ev.roomID)
}

func (h *Hub) publishLeaderboard(entries []model.LeaderboardEntry) {
	data, err := marshalMessage(MsgLeaderboardUpdate, entries)
	if err != nil {
		return
	}
	for conn := range h.globalConns {
		h.trySend(conn, data)
	}
}

func (h *Hub) broadcastRoom(roomID string, msgType MessageType, payload interface{}) {
	data, err := marshalMessage(msgType, payload)
	if err != nil {
		return
	}
	for conn := range h.roomConns[roomID] {
		h.trySend(conn, data)
	}
}

func (h *Hub) send(conn *Connection, msgType MessageType, payload interface{}) {
	data, err := marshalMessage(msgType, payload)
	if err != nil {
		return
	}
	h.trySend(conn, data)
}

// trySend delivers without blocking. A full buffer means the consumer
// is too slow to keep up; it gets dropped and must resync on reconnect.
func (h *Hub) trySend(conn *Connection, data []byte) {
	if conn.enqueue(data) {
		if h.metrics != nil {
			h.metrics.BroadcastsSent.Add(1)
		}
		return
	}
	if h.metrics != nil {
		h.metrics.BroadcastsDropped.Add(1)
	}
	h.removeConn(conn)
	log.Debug().Str("room", conn.RoomID).Str("user", conn.UserID).Msg("slow subscriber dropped")
}

func (h *Hub) closeAll() {
	data, _ := marshalMessage(MsgShutdown, map[string]string{"reason": "server shutting down"})
	for _, conns := range h.roomConns {
		for conn := range conns {
			conn.enqueue(data)
			conn.closeSend()
		}
	}
	for conn := range h.globalConns {
		conn.enqueue(data)
		conn.closeSend()
	}
	h.roomConns = make(map[string]map[*Connection]bool)
	h.globalConns = make(map[*Connection]bool)
}

// Register adds a subscriber.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.stop:
		conn.closeSend()
	}
}

// Unregister removes a subscriber.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.stop:
	}
}

// PublishRoom implements service.Broadcaster. Called under the cache
// entry lock, so it must never block: when the hub queue is full the
// update is dropped and subscribers recover via version gap + resync.
func (h *Hub) PublishRoom(snapshot *model.RaceSession) {
	select {
	case h.sessions <- snapshot:
	default:
		if h.metrics != nil {
			h.metrics.BroadcastsDropped.Add(1)
		}
	}
}

// PublishRaceFinished implements service.Broadcaster.
func (h *Hub) PublishRaceFinished(roomID string, version uint64, ranking []model.RankedParticipant, deltas map[string]float64) {
	select {
	case h.finished <- finishedEvent{roomID: roomID, version: version, ranking: ranking, deltas: deltas}:
	default:
	}
}

// PublishLeaderboard implements service.Broadcaster.
func (h *Hub) PublishLeaderboard(entries []model.LeaderboardEntry) {
	select {
	case h.leaderboard <- entries:
	default:
	}
}

// Shutdown notifies every subscriber and closes all connections, then
// waits for the run loop to drain or the context-style deadline.
func (h *Hub) Shutdown(timeout time.Duration) {
	h.stopOnce.Do(func() { close(h.stop) })
	select {
	case <-h.done:
	case <-time.After(timeout):
		log.Warn().Msg("hub shutdown timed out")
	}
}

func marshalMessage(msgType MessageType, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(&Message{Type: msgType, Payload: raw})
}

// diff computes the minimal delta between two snapshots of one room.
func diff(prev, next *model.RaceSession) DeltaPayload {
	d := DeltaPayload{RoomID: next.RoomID, Version: next.Version}

	if next.Status != prev.Status {
		d.Status = next.Status
		d.StartedAt = next.StartedAt
		d.DeadlineAt = next.DeadlineAt
	}

	for id, p := range next.Participants {
		old, existed := prev.Participants[id]
		if existed &&
			old.CharsTyped == p.CharsTyped &&
			old.Errors == p.Errors &&
			old.Connection == p.Connection &&
			(old.FinishedAt == nil) == (p.FinishedAt == nil) {
			continue
		}
		d.Participants = append(d.Participants, ParticipantDelta{
			UserID:     p.UserID,
			Username:   p.Username,
			CharsTyped: p.CharsTyped,
			Errors:     p.Errors,
			Finished:   p.FinishedAt != nil,
			Connection: p.Connection,
		})
	}
	for id := range prev.Participants {
		if _, ok := next.Participants[id]; !ok {
			d.Left = append(d.Left, id)
		}
	}
	return d
}
