package signaling

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/pkg/logger"
	"github.com/parleyhq/parley/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // 1 MiB

	defaultBufferSize = 64

	// maxChatHistory bounds the per-room chat backlog replayed to newcomers.
	maxChatHistory = 100
)

// Event types exchanged within one meeting room.
const (
	EventPeerJoin         = "peer_join"
	EventPeerLeave        = "peer_leave"
	EventRoomPeers        = "room_peers"
	EventRTCOffer         = "rtc_offer"
	EventRTCAnswer        = "rtc_answer"
	EventICECandidate     = "ice_candidate"
	EventMediaStreamStart = "media_stream_start"
	EventMediaStreamStop  = "media_stream_stop"

	EventChatMessage = "chat_message"
	EventChatHistory = "chat_history"
	EventUserTyping  = "user_typing"

	EventWhiteboardDraw   = "whiteboard_draw"
	EventWhiteboardUpdate = "whiteboard_update"
	EventWhiteboardClear  = "whiteboard_clear"
	EventWhiteboardUndo   = "whiteboard_undo"
	EventWhiteboardState  = "whiteboard_state"
)

// Message is the JSON envelope exchanged over a signaling socket. WebRTC
// negotiation payloads are forwarded opaquely, addressed by To or broadcast
// to the rest of the room when To is empty.
type Message struct {
	Type      string          `json:"type"`
	MeetingID string          `json:"meeting_id,omitempty"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ChatMessage is a hub-stamped chat entry. The body is client-defined: plain
// text or file-share metadata, forwarded opaquely.
type ChatMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Timestamp time.Time       `json:"timestamp"`
	Body      json.RawMessage `json:"body"`
}

// BoardStroke is one whiteboard drawing operation, attributed to its author
// so undo can remove the author's most recent stroke.
type BoardStroke struct {
	ID     string          `json:"id"`
	UserID string          `json:"user_id"`
	Data   json.RawMessage `json:"data"`
}

// room holds the live state of one meeting: connected peers, the bounded
// chat backlog, and the accumulated whiteboard strokes. State lives only as
// long as the room has peers.
type room struct {
	peers map[string]*peer
	chat  []ChatMessage
	board []BoardStroke
}

// Hub coordinates per-meeting rooms: WebRTC signaling relay, chat with a
// bounded history, and shared whiteboard state. Media itself never passes
// through the hub; negotiation happens entirely between clients.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a signaling hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		log:   logger.WithModule("signaling"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// Serve upgrades the HTTP connection and attaches the user to the meeting's
// room. One connection per (meeting, user); a newer connection replaces the
// older one. Blocks until the socket closes.
func (h *Hub) Serve(meetingID, userID string, w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.Error(err))
		return
	}

	p := &peer{
		hub:       h,
		socket:    conn,
		meetingID: meetingID,
		userID:    userID,
		send:      make(chan Message, defaultBufferSize),
		done:      make(chan struct{}),
	}

	h.register(p)
	metrics.SignalingClients.Inc()

	go p.writeLoop()
	p.readLoop()
}

// Peers returns the user ids currently connected to the meeting's room.
func (h *Hub) Peers(meetingID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[meetingID]
	if rm == nil {
		return nil
	}
	peers := make([]string, 0, len(rm.peers))
	for userID := range rm.peers {
		peers = append(peers, userID)
	}
	return peers
}

// ChatHistory returns the room's retained chat backlog, oldest first.
func (h *Hub) ChatHistory(meetingID string) []ChatMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[meetingID]
	if rm == nil {
		return nil
	}
	out := make([]ChatMessage, len(rm.chat))
	copy(out, rm.chat)
	return out
}

// BoardState returns the room's current whiteboard strokes in draw order.
func (h *Hub) BoardState(meetingID string) []BoardStroke {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rm := h.rooms[meetingID]
	if rm == nil {
		return nil
	}
	out := make([]BoardStroke, len(rm.board))
	copy(out, rm.board)
	return out
}

// CloseRoom disconnects every peer of a meeting and discards its chat and
// whiteboard state, used when the meeting ends or is deleted.
func (h *Hub) CloseRoom(meetingID string) {
	h.mu.Lock()
	rm := h.rooms[meetingID]
	delete(h.rooms, meetingID)
	h.mu.Unlock()

	if rm == nil {
		return
	}
	for _, p := range rm.peers {
		p.close()
	}
}

func (h *Hub) register(p *peer) {
	var replaced *peer
	var chat []ChatMessage
	var board []BoardStroke

	h.mu.Lock()
	rm := h.rooms[p.meetingID]
	if rm == nil {
		rm = &room{peers: make(map[string]*peer)}
		h.rooms[p.meetingID] = rm
	}
	replaced = rm.peers[p.userID]
	rm.peers[p.userID] = p

	peers := make([]string, 0, len(rm.peers))
	for userID := range rm.peers {
		if userID != p.userID {
			peers = append(peers, userID)
		}
	}
	chat = append(chat, rm.chat...)
	board = append(board, rm.board...)
	h.mu.Unlock()

	if replaced != nil {
		replaced.close()
	}

	// Tell the newcomer who is present and replay room state, then announce
	// the arrival.
	payload, _ := json.Marshal(map[string]any{"peers": peers})
	h.deliver(p, Message{Type: EventRoomPeers, MeetingID: p.meetingID, Data: payload})
	if len(chat) > 0 {
		payload, _ := json.Marshal(map[string]any{"messages": chat})
		h.deliver(p, Message{Type: EventChatHistory, MeetingID: p.meetingID, Data: payload})
	}
	if len(board) > 0 {
		payload, _ := json.Marshal(map[string]any{"strokes": board})
		h.deliver(p, Message{Type: EventWhiteboardState, MeetingID: p.meetingID, Data: payload})
	}
	h.broadcast(p.meetingID, p.userID, Message{
		Type:      EventPeerJoin,
		MeetingID: p.meetingID,
		From:      p.userID,
	})
}

func (h *Hub) unregister(p *peer) {
	h.mu.Lock()
	rm := h.rooms[p.meetingID]
	if rm != nil && rm.peers[p.userID] == p {
		delete(rm.peers, p.userID)
		if len(rm.peers) == 0 {
			delete(h.rooms, p.meetingID)
		}
	} else {
		// Replaced by a newer connection; the room entry is not ours.
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.broadcast(p.meetingID, p.userID, Message{
		Type:      EventPeerLeave,
		MeetingID: p.meetingID,
		From:      p.userID,
	})
}

// relay forwards a client message to its target peer, or to the whole room
// minus the sender when no target is set. The sender identity is always
// overwritten server-side.
func (h *Hub) relay(p *peer, msg Message) {
	msg.MeetingID = p.meetingID
	msg.From = p.userID

	if msg.To != "" {
		h.mu.RLock()
		var target *peer
		if rm := h.rooms[p.meetingID]; rm != nil {
			target = rm.peers[msg.To]
		}
		h.mu.RUnlock()
		if target != nil {
			h.deliver(target, msg)
		}
		return
	}

	h.broadcast(p.meetingID, p.userID, msg)
}

// handleChat stamps the message, appends it to the room's bounded history,
// and broadcasts it to the whole room, sender included, so every client
// renders the same authoritative entry.
func (h *Hub) handleChat(p *peer, msg Message) {
	entry := ChatMessage{
		ID:        uuid.NewString(),
		UserID:    p.userID,
		Timestamp: time.Now().UTC(),
		Body:      msg.Data,
	}

	h.mu.Lock()
	rm := h.rooms[p.meetingID]
	if rm == nil {
		h.mu.Unlock()
		return
	}
	rm.chat = append(rm.chat, entry)
	if len(rm.chat) > maxChatHistory {
		rm.chat = rm.chat[len(rm.chat)-maxChatHistory:]
	}
	h.mu.Unlock()

	payload, _ := json.Marshal(entry)
	h.broadcast(p.meetingID, "", Message{
		Type:      EventChatMessage,
		MeetingID: p.meetingID,
		From:      p.userID,
		Data:      payload,
	})
}

// handleDraw records the stroke and forwards it to the rest of the room.
func (h *Hub) handleDraw(p *peer, msg Message) {
	stroke := BoardStroke{
		ID:     uuid.NewString(),
		UserID: p.userID,
		Data:   msg.Data,
	}

	h.mu.Lock()
	rm := h.rooms[p.meetingID]
	if rm == nil {
		h.mu.Unlock()
		return
	}
	rm.board = append(rm.board, stroke)
	h.mu.Unlock()

	payload, _ := json.Marshal(stroke)
	h.broadcast(p.meetingID, p.userID, Message{
		Type:      EventWhiteboardUpdate,
		MeetingID: p.meetingID,
		From:      p.userID,
		Data:      payload,
	})
}

// handleClear wipes the room's whiteboard for everyone.
func (h *Hub) handleClear(p *peer) {
	h.mu.Lock()
	rm := h.rooms[p.meetingID]
	if rm == nil {
		h.mu.Unlock()
		return
	}
	rm.board = nil
	h.mu.Unlock()

	h.broadcast(p.meetingID, p.userID, Message{
		Type:      EventWhiteboardClear,
		MeetingID: p.meetingID,
		From:      p.userID,
	})
}

// handleUndo removes the sender's most recent stroke, if any, and tells the
// room which stroke disappeared.
func (h *Hub) handleUndo(p *peer) {
	var removed string

	h.mu.Lock()
	rm := h.rooms[p.meetingID]
	if rm == nil {
		h.mu.Unlock()
		return
	}
	for i := len(rm.board) - 1; i >= 0; i-- {
		if rm.board[i].UserID == p.userID {
			removed = rm.board[i].ID
			rm.board = append(rm.board[:i], rm.board[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	if removed == "" {
		return
	}
	payload, _ := json.Marshal(map[string]any{"stroke_id": removed})
	h.broadcast(p.meetingID, p.userID, Message{
		Type:      EventWhiteboardUndo,
		MeetingID: p.meetingID,
		From:      p.userID,
		Data:      payload,
	})
}

func (h *Hub) broadcast(meetingID, excludeUserID string, msg Message) {
	h.mu.RLock()
	rm := h.rooms[meetingID]
	var targets []*peer
	if rm != nil {
		targets = make([]*peer, 0, len(rm.peers))
		for userID, p := range rm.peers {
			if userID != excludeUserID {
				targets = append(targets, p)
			}
		}
	}
	h.mu.RUnlock()

	for _, p := range targets {
		h.deliver(p, msg)
	}
}

// deliver enqueues the message for the peer's write loop. The send channel is
// never closed; a closed peer is detected through its done channel, so a
// delivery racing a close cannot panic.
func (h *Hub) deliver(p *peer, msg Message) {
	select {
	case p.send <- msg:
	case <-p.done:
	default:
		h.log.Warn("dropping backpressured peer",
			zap.String("meeting_id", p.meetingID),
			zap.String("user_id", p.userID),
		)
		p.close()
	}
}

type peer struct {
	hub       *Hub
	socket    *websocket.Conn
	meetingID string
	userID    string
	send      chan Message
	done      chan struct{}
	once      sync.Once
}

func (p *peer) readLoop() {
	defer p.close()

	p.socket.SetReadLimit(maxMessageSize)
	_ = p.socket.SetReadDeadline(time.Now().Add(pongWait))
	p.socket.SetPongHandler(func(string) error {
		_ = p.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := p.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.hub.log.Warn("unexpected close",
					zap.String("user_id", p.userID),
					zap.Error(err),
				)
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.hub.log.Warn("invalid payload",
				zap.String("user_id", p.userID),
				zap.Error(err),
			)
			continue
		}

		switch msg.Type {
		case EventRTCOffer, EventRTCAnswer, EventICECandidate,
			EventMediaStreamStart, EventMediaStreamStop, EventUserTyping:
			p.hub.relay(p, msg)
		case EventChatMessage:
			p.hub.handleChat(p, msg)
		case EventWhiteboardDraw:
			p.hub.handleDraw(p, msg)
		case EventWhiteboardClear:
			p.hub.handleClear(p)
		case EventWhiteboardUndo:
			p.hub.handleUndo(p)
		default:
			p.hub.log.Warn("unsupported event type",
				zap.String("type", msg.Type),
				zap.String("user_id", p.userID),
			)
		}
	}
}

func (p *peer) writeLoop() {
	defer p.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			_ = p.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = p.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-p.send:
			_ = p.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.socket.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) close() {
	p.once.Do(func() {
		p.hub.unregister(p)
		close(p.done)
		_ = p.socket.Close()
		metrics.SignalingClients.Dec()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
