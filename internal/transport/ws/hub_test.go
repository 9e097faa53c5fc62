package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyracer/internal/model"
)

func roomState(t *testing.T, version uint64, chars int) *model.RaceSession {
	t.Helper()
	s := model.NewRaceSession("r1", "hello world", "en")
	require.NoError(t, s.Join("a", "alice"))
	require.NoError(t, s.Join("b", "bob"))
	s.Version = version
	s.Participants["a"].CharsTyped = chars
	return s
}

func recv(t *testing.T, send chan []byte) Message {
	t.Helper()
	select {
	case data, ok := <-send:
		require.True(t, ok, "connection closed while a message was expected")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a hub message")
		return Message{}
	}
}

func TestSubscriberGetsSnapshotThenDeltas(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	conn := &Connection{RoomID: "r1", UserID: "a", Send: make(chan []byte, 8)}
	hub.Register(conn)

	hub.PublishRoom(roomState(t, 1, 0))
	msg := recv(t, conn.Send)
	require.Equal(t, MsgStateSnapshot, msg.Type)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	assert.Equal(t, uint64(1), snap.Version)

	hub.PublishRoom(roomState(t, 2, 5))
	msg = recv(t, conn.Send)
	require.Equal(t, MsgDeltaUpdate, msg.Type)
	var delta DeltaPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &delta))
	assert.Equal(t, uint64(2), delta.Version)
	require.Len(t, delta.Participants, 1, "only the racer who moved is in the delta")
	assert.Equal(t, "a", delta.Participants[0].UserID)
	assert.Equal(t, 5, delta.Participants[0].CharsTyped)
}

func TestOutOfOrderVersionIgnored(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	conn := &Connection{RoomID: "r1", UserID: "a", Send: make(chan []byte, 8)}
	hub.Register(conn)

	hub.PublishRoom(roomState(t, 2, 5))
	recv(t, conn.Send)

	// A late arrival with an older version must not reach subscribers.
	hub.PublishRoom(roomState(t, 1, 0))
	hub.PublishRoom(roomState(t, 3, 7))

	msg := recv(t, conn.Send)
	require.Equal(t, MsgDeltaUpdate, msg.Type)
	var delta DeltaPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &delta))
	assert.Equal(t, uint64(3), delta.Version)
}

func TestLateSubscriberGetsBaselineSnapshot(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	first := &Connection{RoomID: "r1", UserID: "a", Send: make(chan []byte, 8)}
	hub.Register(first)
	hub.PublishRoom(roomState(t, 4, 3))
	recv(t, first.Send) // baseline is recorded once this arrives

	probe := &Connection{RoomID: "r1", UserID: "x", Send: make(chan []byte, 8)}
	hub.Register(probe)
	msg := recv(t, probe.Send)
	require.Equal(t, MsgStateSnapshot, msg.Type)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &snap))
	assert.Equal(t, uint64(4), snap.Version)
}

func TestSlowSubscriberDropped(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	// Buffer of one and a reader that never drains.
	slow := &Connection{RoomID: "r1", UserID: "slow", Send: make(chan []byte, 1)}
	fast := &Connection{RoomID: "r1", UserID: "fast", Send: make(chan []byte, 8)}
	hub.Register(slow)
	hub.Register(fast)

	for v := uint64(1); v <= 3; v++ {
		hub.PublishRoom(roomState(t, v, int(v)))
	}

	// The fast reader sees every update.
	for v := uint64(1); v <= 3; v++ {
		recv(t, fast.Send)
	}

	// The slow one got the first message, then was cut off.
	<-slow.Send
	select {
	case _, ok := <-slow.Send:
		assert.False(t, ok, "slow subscriber channel must be closed")
	case <-time.After(time.Second):
		t.Fatal("slow subscriber was not dropped")
	}
}

func TestSendToDroppedSubscriberIsSafe(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	slow := &Connection{RoomID: "r1", UserID: "slow", Send: make(chan []byte, 1)}
	hub.Register(slow)

	for v := uint64(1); v <= 3; v++ {
		hub.PublishRoom(roomState(t, v, int(v)))
	}

	// Drain until the hub closes the channel, i.e. the drop happened.
	deadline := time.After(time.Second)
	for open := true; open; {
		select {
		case _, ok := <-slow.Send:
			open = ok
		case <-deadline:
			t.Fatal("slow subscriber was not dropped")
		}
	}

	// A handler goroutine may still hold the connection and try to push
	// an error or snapshot at it. That must be a no-op, not a panic.
	assert.False(t, slow.enqueue([]byte(`{"type":"error"}`)), "no delivery after drop")
	slow.closeSend() // idempotent with the hub's close
}

func TestRaceFinishedResetsBaseline(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	conn := &Connection{RoomID: "r1", UserID: "a", Send: make(chan []byte, 8)}
	hub.Register(conn)

	hub.PublishRoom(roomState(t, 1, 0))
	recv(t, conn.Send)

	hub.PublishRaceFinished("r1", 2, []model.RankedParticipant{{UserID: "a", Rank: 1}}, map[string]float64{"a": 12})
	msg := recv(t, conn.Send)
	require.Equal(t, MsgRaceFinished, msg.Type)
	var fin FinishedPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &fin))
	assert.Equal(t, "a", fin.Ranking[0].UserID)
	assert.Equal(t, float64(12), fin.RatingDeltas["a"])

	// A new race in the same room starts from a snapshot again.
	hub.PublishRoom(roomState(t, 1, 0))
	msg = recv(t, conn.Send)
	assert.Equal(t, MsgStateSnapshot, msg.Type)
}

func TestLeaderboardFanout(t *testing.T) {
	hub := NewHub(16, nil)
	defer hub.Shutdown(time.Second)

	global := &Connection{Send: make(chan []byte, 8)}
	room := &Connection{RoomID: "r1", UserID: "a", Send: make(chan []byte, 8)}
	hub.Register(global)
	hub.Register(room)

	hub.PublishLeaderboard([]model.LeaderboardEntry{{UserID: "a", Username: "alice", Rank: 1}})

	msg := recv(t, global.Send)
	assert.Equal(t, MsgLeaderboardUpdate, msg.Type)

	select {
	case <-room.Send:
		t.Fatal("room subscriber must not receive leaderboard updates")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestShutdownNotifiesAndCloses(t *testing.T) {
	hub := NewHub(16, nil)

	conn := &Connection{RoomID: "r1", UserID: "a", Send: make(chan []byte, 8)}
	hub.Register(conn)

	hub.Shutdown(time.Second)

	msg := recv(t, conn.Send)
	assert.Equal(t, MsgShutdown, msg.Type)
	_, ok := <-conn.Send
	assert.False(t, ok)

	// Registering after shutdown just closes the channel.
	late := &Connection{RoomID: "r1", Send: make(chan []byte, 1)}
	hub.Register(late)
	_, ok = <-late.Send
	assert.False(t, ok)
}
