package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, c *Conn) Message {
	t.Helper()
	select {
	case msg, ok := <-c.Send():
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatalf("no message for %s", c.UserID)
		return Message{}
	}
}

func assertNothing(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case msg, ok := <-c.Send():
		if ok {
			t.Fatalf("unexpected %s for %s", msg.Event, c.UserID)
		}
	default:
	}
}

func decode[T any](t *testing.T, msg Message) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(msg.Data, &v))
	return v
}

func frame(event string, data any) []byte {
	b, _ := json.Marshal(map[string]any{"event": event, "data": data})
	return b
}

func TestConnectAnnouncesOnlineToOthers(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := hub.Connect(ctx, "A")
	b := hub.Connect(ctx, "B")

	msg := receive(t, a)
	assert.Equal(t, EventUserStatus, msg.Event)
	assert.Equal(t, StatusPayload{UserID: "B", Status: StatusOnline}, decode[StatusPayload](t, msg))

	assertNothing(t, b)
}

func TestExplicitOnlineEvent(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := hub.Join("A")
	b := hub.Join("B")

	hub.HandleClientMessage(ctx, a, frame(EventUserOnline, nil))

	assert.Equal(t, StatusPayload{UserID: "A", Status: StatusOnline}, decode[StatusPayload](t, receive(t, b)))
	assertNothing(t, a)
}

func TestTypingGoesOnlyToRecipient(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := hub.Join("A")
	b1 := hub.Join("B")
	b2 := hub.Join("B")
	c := hub.Join("C")

	hub.HandleClientMessage(ctx, a, frame(EventTypingStart, map[string]string{"recipientId": "B"}))

	for _, conn := range []*Conn{b1, b2} {
		msg := receive(t, conn)
		assert.Equal(t, EventTypingUser, msg.Event)
		assert.Equal(t, TypingPayload{UserID: "A", IsTyping: true}, decode[TypingPayload](t, msg))
	}
	assertNothing(t, a)
	assertNothing(t, c)

	hub.HandleClientMessage(ctx, a, frame(EventTypingStop, map[string]string{"recipientId": "B"}))
	assert.False(t, decode[TypingPayload](t, receive(t, b1)).IsTyping)
}

func TestEmitToUser(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := hub.Join("A")
	b := hub.Join("B")

	require.NoError(t, hub.EmitToUser(ctx, "A", EventNotification, map[string]string{"id": "n1"}))
	msg := receive(t, a)
	assert.Equal(t, EventNotification, msg.Event)
	assert.JSONEq(t, `{"id":"n1"}`, string(msg.Data))
	assertNothing(t, b)

	assert.NoError(t, hub.EmitToUser(ctx, "nobody", EventNotification, map[string]string{"id": "n2"}))
}

func TestDisconnectAnnouncesOfflineEvenWithOtherConnections(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a1 := hub.Join("A")
	a2 := hub.Join("A")
	b := hub.Join("B")

	hub.Disconnect(ctx, a1)

	assert.Equal(t, StatusPayload{UserID: "A", Status: StatusOffline}, decode[StatusPayload](t, receive(t, b)))
	assert.Equal(t, StatusOffline, decode[StatusPayload](t, receive(t, a2)).Status)
	assert.Equal(t, 1, hub.UserConnectionCount("A"))

	_, ok := <-a1.Send()
	assert.False(t, ok, "left connection must be closed")
}

func TestNoDeliveryAfterLeave(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := hub.Join("A")
	hub.Leave(a)
	hub.Leave(a)

	require.NoError(t, hub.EmitToUser(ctx, "A", EventNotification, "x"))
	_, ok := <-a.Send()
	assert.False(t, ok)
	assert.Equal(t, 0, hub.ConnectionCount())
}

func TestMalformedFramesAreIgnored(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	defer hub.Close()

	a := hub.Join("A")
	b := hub.Join("B")

	hub.HandleClientMessage(ctx, a, []byte("not json"))
	hub.HandleClientMessage(ctx, a, []byte(`{"data":{}}`))
	hub.HandleClientMessage(ctx, a, frame(EventTypingStart, map[string]string{}))
	hub.HandleClientMessage(ctx, a, frame(EventTypingStart, "B"))
	hub.HandleClientMessage(ctx, a, frame("unknown:event", nil))

	assertNothing(t, b)
	assert.Equal(t, 2, hub.ConnectionCount())

	require.NoError(t, hub.EmitToUser(ctx, "B", EventNotification, "still works"))
	assert.Equal(t, EventNotification, receive(t, b).Event)
}

func TestInboundRateLimitDropsExcessFrames(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(WithInboundRate(0.001, 2))
	defer hub.Close()

	a := hub.Join("A")
	b := hub.Join("B")

	for i := 0; i < 5; i++ {
		hub.HandleClientMessage(ctx, a, frame(EventTypingStart, map[string]string{"recipientId": "B"}))
	}

	receive(t, b)
	receive(t, b)
	assertNothing(t, b)
}

func TestFullBufferDropsInsteadOfBlocking(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(WithSendBuffer(1))
	defer hub.Close()

	slow := hub.Join("A")
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.EmitToUser(ctx, "A", EventNotification, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a slow connection")
	}
	assert.JSONEq(t, "0", string(receive(t, slow).Data))
}

func TestCloseClosesEveryConnection(t *testing.T) {
	hub := NewHub()
	a := hub.Join("A")
	b := hub.Join("B")

	hub.Close()

	_, okA := <-a.Send()
	_, okB := <-b.Send()
	assert.False(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 0, hub.ConnectionCount())

	hub.Leave(a)
}

func TestConcurrentJoinLeaveBroadcast(t *testing.T) {
	ctx := context.Background()
	hub := NewHub(WithSendBuffer(4))
	defer hub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c := hub.Connect(ctx, fmt.Sprintf("user-%d", i%5))
				hub.Disconnect(ctx, c)
			}
		}(i)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				hub.EmitToUser(ctx, fmt.Sprintf("user-%d", i%5), EventNotification, j)
				hub.Broadcast(ctx, nil, EventUserStatus, StatusPayload{UserID: "x", Status: StatusOnline})
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.ConnectionCount())
}

type recordingFanout struct {
	mu      sync.Mutex
	sent    []Envelope
	deliver func(Envelope)
	ready   chan struct{}
}

func (f *recordingFanout) Publish(_ context.Context, env Envelope) error {
	f.mu.Lock()
	f.sent = append(f.sent, env)
	deliver := f.deliver
	f.mu.Unlock()
	if deliver != nil {
		deliver(env)
	}
	return nil
}

func (f *recordingFanout) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	f.mu.Lock()
	f.deliver = deliver
	f.mu.Unlock()
	close(f.ready)
	<-ctx.Done()
	return nil
}

func TestHubRoutesThroughFanout(t *testing.T) {
	ctx := context.Background()
	fanout := &recordingFanout{ready: make(chan struct{})}
	hub := NewHub(WithFanout(fanout))
	hub.Start()
	defer hub.Close()
	<-fanout.ready

	a := hub.Join("A")
	require.NoError(t, hub.EmitToUser(ctx, "A", EventNotification, "n"))
	assert.Equal(t, EventNotification, receive(t, a).Event)

	fanout.mu.Lock()
	defer fanout.mu.Unlock()
	require.Len(t, fanout.sent, 1)
	assert.Equal(t, "A", fanout.sent[0].UserID)
}

type flakyFanout struct {
	recordingFanout
	failures int

	attemptsMu sync.Mutex
	attempts   int
}

func (f *flakyFanout) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	f.attemptsMu.Lock()
	f.attempts++
	attempt := f.attempts
	f.attemptsMu.Unlock()

	if f.failures < 0 || attempt <= f.failures {
		return fmt.Errorf("subscribe attempt %d: connection refused", attempt)
	}
	return f.recordingFanout.Subscribe(ctx, deliver)
}

func (f *flakyFanout) Attempts() int {
	f.attemptsMu.Lock()
	defer f.attemptsMu.Unlock()
	return f.attempts
}

func TestHubResubscribesAfterFanoutFailure(t *testing.T) {
	ctx := context.Background()
	fanout := &flakyFanout{recordingFanout: recordingFanout{ready: make(chan struct{})}, failures: 3}
	hub := NewHub(WithFanout(fanout), WithFanoutRetry(time.Millisecond, 5*time.Millisecond))
	hub.Start()
	defer hub.Close()

	select {
	case <-fanout.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("fanout never resubscribed")
	}
	assert.Equal(t, 4, fanout.Attempts())

	a := hub.Join("A")
	require.NoError(t, hub.EmitToUser(ctx, "A", EventNotification, "n"))
	assert.Equal(t, EventNotification, receive(t, a).Event)
}

func TestHubStopsResubscribingOnClose(t *testing.T) {
	fanout := &flakyFanout{recordingFanout: recordingFanout{ready: make(chan struct{})}, failures: -1}
	hub := NewHub(WithFanout(fanout), WithFanoutRetry(time.Millisecond, 2*time.Millisecond))
	hub.Start()

	require.Eventually(t, func() bool { return fanout.Attempts() >= 2 }, 2*time.Second, time.Millisecond)
	hub.Close()

	// Let an in-flight attempt finish before sampling.
	time.Sleep(20 * time.Millisecond)
	settled := fanout.Attempts()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, fanout.Attempts())
}
