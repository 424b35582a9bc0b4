// Package realtime delivers transient events to live websocket connections,
// addressed by user id.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Server to client events
const (
	EventNotification = "notification"
	EventTypingUser   = "typing:user"
	EventUserStatus   = "user:status"
)

// Client to server events
const (
	EventUserOnline  = "user:online"
	EventTypingStart = "typing:start"
	EventTypingStop  = "typing:stop"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	defaultSendBuffer     = 64
	defaultEventsPerSec   = 10
	defaultEventBurst     = 20
	dropReasonBufferFull  = "buffer_full"
	dropReasonRateLimited = "rate_limited"
	dropReasonMalformed   = "malformed"

	defaultFanoutRetryMin = 500 * time.Millisecond
	defaultFanoutRetryMax = 30 * time.Second
)

// Message is the wire frame in both directions.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type StatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type TypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type typingRequest struct {
	RecipientID string `json:"recipientId"`
}

// Envelope addresses a message. An empty UserID means every live connection.
type Envelope struct {
	UserID        string  `json:"userId,omitempty"`
	ExcludeConnID string  `json:"excludeConnId,omitempty"`
	Message       Message `json:"message"`
}

// Fanout carries envelopes between hub instances. Without one, delivery is
// in-process only.
type Fanout interface {
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, deliver func(Envelope)) error
}

type Recorder interface {
	ConnectionOpened()
	ConnectionClosed()
	RecordEvent(event, direction string)
	RecordDropped(reason string)
	RecordHandshakeFailure()
}

type nopRecorder struct{}

func (nopRecorder) ConnectionOpened()          {}
func (nopRecorder) ConnectionClosed()          {}
func (nopRecorder) RecordEvent(string, string) {}
func (nopRecorder) RecordDropped(string)       {}
func (nopRecorder) RecordHandshakeFailure()    {}

const (
	directionInbound  = "inbound"
	directionOutbound = "outbound"
)

// Conn is one live connection. It belongs to exactly one user channel.
type Conn struct {
	ID      string
	UserID  string
	send    chan Message
	limiter *rate.Limiter
}

// Send yields outbound messages in emission order. It is closed when the
// connection leaves the hub.
func (c *Conn) Send() <-chan Message {
	return c.send
}

type Option func(*Hub)

func WithFanout(f Fanout) Option {
	return func(h *Hub) { h.fanout = f }
}

func WithRecorder(r Recorder) Option {
	return func(h *Hub) { h.recorder = r }
}

// WithInboundRate limits client frames per connection.
func WithInboundRate(perSecond float64, burst int) Option {
	return func(h *Hub) {
		h.inboundRate = rate.Limit(perSecond)
		h.inboundBurst = burst
	}
}

func WithSendBuffer(size int) Option {
	return func(h *Hub) { h.sendBuffer = size }
}

// WithFanoutRetry sets the backoff between fanout resubscribe attempts. The
// delay starts at initial and doubles up to limit.
func WithFanoutRetry(initial, limit time.Duration) Option {
	return func(h *Hub) {
		h.retryMin = initial
		h.retryMax = limit
	}
}

// Hub owns the table of live connections. Construct one per process and pass
// it to whatever needs to push events.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Conn]struct{} // userID -> connections

	fanout       Fanout
	recorder     Recorder
	inboundRate  rate.Limit
	inboundBurst int
	sendBuffer   int
	retryMin     time.Duration
	retryMax     time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(opts ...Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		channels:     make(map[string]map[*Conn]struct{}),
		recorder:     nopRecorder{},
		inboundRate:  defaultEventsPerSec,
		inboundBurst: defaultEventBurst,
		sendBuffer:   defaultSendBuffer,
		retryMin:     defaultFanoutRetryMin,
		retryMax:     defaultFanoutRetryMax,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Start begins consuming the fanout, if any. It returns immediately. A failed
// or dropped subscription is retried with backoff until the hub is closed.
func (h *Hub) Start() {
	if h.fanout == nil {
		return
	}
	go h.consumeFanout()
}

func (h *Hub) consumeFanout() {
	delay := h.retryMin
	for {
		started := time.Now()
		err := h.fanout.Subscribe(h.ctx, h.deliver)
		if h.ctx.Err() != nil {
			return
		}

		// A subscription that stayed up for a while starts the backoff over.
		if time.Since(started) >= h.retryMax {
			delay = h.retryMin
		}
		if err != nil {
			log.Error().Err(err).Dur("retryIn", delay).Msg("realtime fanout subscription failed")
		} else {
			log.Warn().Dur("retryIn", delay).Msg("realtime fanout subscription ended")
		}

		timer := time.NewTimer(delay)
		select {
		case <-h.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = min(delay*2, h.retryMax)
	}
}

// Join registers a connection for userID without announcing it.
func (h *Hub) Join(userID string) *Conn {
	c := &Conn{
		ID:      uuid.NewString(),
		UserID:  userID,
		send:    make(chan Message, h.sendBuffer),
		limiter: rate.NewLimiter(h.inboundRate, h.inboundBurst),
	}

	h.mu.Lock()
	if h.channels[userID] == nil {
		h.channels[userID] = make(map[*Conn]struct{})
	}
	h.channels[userID][c] = struct{}{}
	count := len(h.channels[userID])
	h.mu.Unlock()

	h.recorder.ConnectionOpened()
	log.Debug().Str("userId", userID).Str("connId", c.ID).Int("userConnections", count).Msg("realtime connection joined")
	return c
}

// Leave removes c and closes its send channel. Calling it again is a no-op.
func (h *Hub) Leave(c *Conn) {
	h.mu.Lock()
	conns, ok := h.channels[c.UserID]
	if ok {
		_, ok = conns[c]
	}
	if ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.channels, c.UserID)
		}
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.recorder.ConnectionClosed()
		log.Debug().Str("userId", c.UserID).Str("connId", c.ID).Msg("realtime connection left")
	}
}

// Connect joins userID and announces it online to every other connection.
func (h *Hub) Connect(ctx context.Context, userID string) *Conn {
	c := h.Join(userID)
	h.announce(ctx, c, StatusOnline)
	return c
}

// Disconnect announces c offline to every other connection, then removes it.
// Other live connections of the same user do not suppress the announcement.
func (h *Hub) Disconnect(ctx context.Context, c *Conn) {
	h.announce(ctx, c, StatusOffline)
	h.Leave(c)
}

func (h *Hub) announce(ctx context.Context, c *Conn, status string) {
	if err := h.Broadcast(ctx, c, EventUserStatus, StatusPayload{UserID: c.UserID, Status: status}); err != nil {
		log.Warn().Err(err).Str("userId", c.UserID).Str("status", status).Msg("failed to announce presence")
	}
}

// EmitToUser sends event to every live connection of userID. Nothing happens
// when the user has none.
func (h *Hub) EmitToUser(ctx context.Context, userID, event string, payload any) error {
	msg, err := newMessage(event, payload)
	if err != nil {
		return err
	}
	return h.publish(ctx, Envelope{UserID: userID, Message: msg})
}

// Broadcast sends event to every live connection except from.
func (h *Hub) Broadcast(ctx context.Context, from *Conn, event string, payload any) error {
	msg, err := newMessage(event, payload)
	if err != nil {
		return err
	}
	env := Envelope{Message: msg}
	if from != nil {
		env.ExcludeConnID = from.ID
	}
	return h.publish(ctx, env)
}

// HandleClientMessage processes one inbound frame from c. Bad frames are
// logged and dropped; they never affect other connections.
func (h *Hub) HandleClientMessage(ctx context.Context, c *Conn, raw []byte) {
	if !c.limiter.Allow() {
		h.recorder.RecordDropped(dropReasonRateLimited)
		log.Warn().Str("userId", c.UserID).Str("connId", c.ID).Msg("realtime inbound rate exceeded, dropping frame")
		return
	}

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Event == "" {
		h.recorder.RecordDropped(dropReasonMalformed)
		log.Warn().Str("userId", c.UserID).Msg("malformed realtime frame ignored")
		return
	}
	h.recorder.RecordEvent(msg.Event, directionInbound)

	var err error
	switch msg.Event {
	case EventUserOnline:
		h.announce(ctx, c, StatusOnline)

	case EventTypingStart, EventTypingStop:
		var req typingRequest
		if len(msg.Data) > 0 {
			err = json.Unmarshal(msg.Data, &req)
		}
		if err != nil || req.RecipientID == "" {
			h.recorder.RecordDropped(dropReasonMalformed)
			log.Warn().Str("userId", c.UserID).Str("event", msg.Event).Msg("typing event without recipient ignored")
			return
		}
		err = h.EmitToUser(ctx, req.RecipientID, EventTypingUser, TypingPayload{
			UserID:   c.UserID,
			IsTyping: msg.Event == EventTypingStart,
		})

	default:
		log.Debug().Str("userId", c.UserID).Str("event", msg.Event).Msg("unknown realtime event ignored")
	}

	if err != nil {
		log.Warn().Err(err).Str("userId", c.UserID).Str("event", msg.Event).Msg("failed to relay realtime event")
	}
}

func (h *Hub) publish(ctx context.Context, env Envelope) error {
	if h.fanout == nil {
		h.deliver(env)
		return nil
	}
	return h.fanout.Publish(ctx, env)
}

// deliver hands env to matching local connections. The read lock is held for
// the whole loop so no send channel can be closed underneath it.
func (h *Hub) deliver(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if env.UserID != "" {
		for c := range h.channels[env.UserID] {
			h.trySend(c, env)
		}
		return
	}
	for _, conns := range h.channels {
		for c := range conns {
			h.trySend(c, env)
		}
	}
}

func (h *Hub) trySend(c *Conn, env Envelope) {
	if c.ID == env.ExcludeConnID {
		return
	}
	select {
	case c.send <- env.Message:
		h.recorder.RecordEvent(env.Message.Event, directionOutbound)
	default:
		h.recorder.RecordDropped(dropReasonBufferFull)
		log.Warn().Str("userId", c.UserID).Str("connId", c.ID).Str("event", env.Message.Event).
			Msg("realtime send buffer full, dropping event")
	}
}

// Close stops the fanout subscription and closes every connection.
func (h *Hub) Close() {
	h.cancel()

	h.mu.Lock()
	closed := 0
	for _, conns := range h.channels {
		for c := range conns {
			close(c.send)
			closed++
		}
	}
	h.channels = make(map[string]map[*Conn]struct{})
	h.mu.Unlock()

	for i := 0; i < closed; i++ {
		h.recorder.ConnectionClosed()
	}
}

func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, conns := range h.channels {
		total += len(conns)
	}
	return total
}

func (h *Hub) UserConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[userID])
}

func newMessage(event string, payload any) (Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return Message{Event: event, Data: data}, nil
}
