package signaling

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meetingID := r.URL.Query().Get("meeting")
		userID := r.URL.Query().Get("user")
		hub.Serve(meetingID, userID, w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server, meetingID, userID string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?meeting=" + meetingID + "&user=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_JoinAnnouncements(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	first := readMessage(t, alice)
	require.Equal(t, EventRoomPeers, first.Type)

	bob := dial(t, server, "m1", "bob")
	joined := readMessage(t, alice)
	require.Equal(t, EventPeerJoin, joined.Type)
	require.Equal(t, "bob", joined.From)

	roster := readMessage(t, bob)
	require.Equal(t, EventRoomPeers, roster.Type)
	var data struct {
		Peers []string `json:"peers"`
	}
	require.NoError(t, json.Unmarshal(roster.Data, &data))
	require.Equal(t, []string{"alice"}, data.Peers)

	require.ElementsMatch(t, []string{"alice", "bob"}, hub.Peers("m1"))
}

func TestHub_TargetedRelayOverwritesSender(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice) // room_peers
	bob := dial(t, server, "m1", "bob")
	readMessage(t, alice) // peer_join bob
	readMessage(t, bob)   // room_peers

	require.NoError(t, bob.WriteJSON(Message{
		Type: EventRTCOffer,
		To:   "alice",
		From: "mallory", // must be replaced server-side
		Data: json.RawMessage(`{"sdp":"offer"}`),
	}))

	offer := readMessage(t, alice)
	require.Equal(t, EventRTCOffer, offer.Type)
	require.Equal(t, "bob", offer.From)
	require.Equal(t, "m1", offer.MeetingID)
	require.JSONEq(t, `{"sdp":"offer"}`, string(offer.Data))
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice)
	other := dial(t, server, "m2", "carol")
	readMessage(t, other)

	require.NoError(t, other.WriteJSON(Message{Type: EventICECandidate}))

	// Nothing crosses between rooms.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var msg Message
	require.Error(t, alice.ReadJSON(&msg))

	require.Equal(t, []string{"alice"}, hub.Peers("m1"))
	require.Equal(t, []string{"carol"}, hub.Peers("m2"))
}

func TestHub_CloseRoomDisconnectsPeers(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice)

	hub.CloseRoom("m1")

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.Error(t, alice.ReadJSON(&msg))
	require.Empty(t, hub.Peers("m1"))
}

func TestHub_ChatBroadcastAndHistoryReplay(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice) // room_peers

	require.NoError(t, alice.WriteJSON(Message{
		Type: EventChatMessage,
		Data: json.RawMessage(`{"text":"hello"}`),
	}))

	// The sender receives the stamped copy too.
	echoed := readMessage(t, alice)
	require.Equal(t, EventChatMessage, echoed.Type)
	require.Equal(t, "alice", echoed.From)

	var entry ChatMessage
	require.NoError(t, json.Unmarshal(echoed.Data, &entry))
	require.Equal(t, "alice", entry.UserID)
	require.NotEmpty(t, entry.ID)
	require.JSONEq(t, `{"text":"hello"}`, string(entry.Body))

	// A newcomer gets the backlog before anything else.
	bob := dial(t, server, "m1", "bob")
	readMessage(t, bob) // room_peers
	history := readMessage(t, bob)
	require.Equal(t, EventChatHistory, history.Type)

	var replay struct {
		Messages []ChatMessage `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(history.Data, &replay))
	require.Len(t, replay.Messages, 1)
	require.Equal(t, entry.ID, replay.Messages[0].ID)
}

func TestHub_ChatHistoryIsBounded(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice)

	for i := 0; i < maxChatHistory+10; i++ {
		require.NoError(t, alice.WriteJSON(Message{
			Type: EventChatMessage,
			Data: json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		}))
		readMessage(t, alice)
	}

	history := hub.ChatHistory("m1")
	require.Len(t, history, maxChatHistory)

	var first struct {
		Seq int `json:"seq"`
	}
	require.NoError(t, json.Unmarshal(history[0].Body, &first))
	require.Equal(t, 10, first.Seq)
}

func TestHub_WhiteboardDrawUndoClear(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice)
	bob := dial(t, server, "m1", "bob")
	readMessage(t, alice) // peer_join bob
	readMessage(t, bob)   // room_peers

	require.NoError(t, alice.WriteJSON(Message{
		Type: EventWhiteboardDraw,
		Data: json.RawMessage(`{"points":[[0,0],[5,5]]}`),
	}))
	require.NoError(t, alice.WriteJSON(Message{
		Type: EventWhiteboardDraw,
		Data: json.RawMessage(`{"points":[[5,5],[9,2]]}`),
	}))

	update := readMessage(t, bob)
	require.Equal(t, EventWhiteboardUpdate, update.Type)
	require.Equal(t, "alice", update.From)
	var stroke BoardStroke
	require.NoError(t, json.Unmarshal(update.Data, &stroke))
	require.Equal(t, "alice", stroke.UserID)
	readMessage(t, bob) // second update

	require.Len(t, hub.BoardState("m1"), 2)

	// Undo removes the author's latest stroke only.
	require.NoError(t, alice.WriteJSON(Message{Type: EventWhiteboardUndo}))
	undo := readMessage(t, bob)
	require.Equal(t, EventWhiteboardUndo, undo.Type)
	require.Len(t, hub.BoardState("m1"), 1)
	require.Equal(t, stroke.ID, hub.BoardState("m1")[0].ID)

	// A latecomer receives the remaining state as a snapshot.
	carol := dial(t, server, "m1", "carol")
	readMessage(t, carol) // room_peers
	snapshot := readMessage(t, carol)
	require.Equal(t, EventWhiteboardState, snapshot.Type)
	var board struct {
		Strokes []BoardStroke `json:"strokes"`
	}
	require.NoError(t, json.Unmarshal(snapshot.Data, &board))
	require.Len(t, board.Strokes, 1)

	// Clear wipes the board for everyone.
	require.NoError(t, bob.WriteJSON(Message{Type: EventWhiteboardClear}))
	cleared := readMessage(t, carol)
	require.Equal(t, EventWhiteboardClear, cleared.Type)
	require.Equal(t, "bob", cleared.From)
	require.Empty(t, hub.BoardState("m1"))
}

func TestHub_UndoWithoutOwnStrokesIsNoOp(t *testing.T) {
	hub := NewHub()
	server := newTestServer(t, hub)

	alice := dial(t, server, "m1", "alice")
	readMessage(t, alice)
	bob := dial(t, server, "m1", "bob")
	readMessage(t, alice) // peer_join bob
	readMessage(t, bob)   // room_peers

	require.NoError(t, alice.WriteJSON(Message{
		Type: EventWhiteboardDraw,
		Data: json.RawMessage(`{"points":[[1,1]]}`),
	}))
	readMessage(t, bob) // update

	require.NoError(t, bob.WriteJSON(Message{Type: EventWhiteboardUndo}))

	// Nothing happens: bob has no strokes to retract.
	require.NoError(t, alice.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	var msg Message
	require.Error(t, alice.ReadJSON(&msg))
	require.Len(t, hub.BoardState("m1"), 1)
}
