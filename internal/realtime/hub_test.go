package realtime

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(userID uuid.UUID) *Client {
	return &Client{ID: uuid.NewString(), UserID: userID, send: make(chan WSMessage, 256)}
}

// loopbackBridge delivers published events synchronously to every subscriber,
// like a single Redis shared by all hub instances.
type loopbackBridge struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]func(origin, event string, payload []byte)
}

func (l *loopbackBridge) PublishInboxEvent(userID uuid.UUID, origin, event string, payload []byte) error {
	l.mu.Lock()
	handlers := append([]func(origin, event string, payload []byte){}, l.subs[userID]...)
	l.mu.Unlock()
	for _, h := range handlers {
		h(origin, event, payload)
	}
	return nil
}

func (l *loopbackBridge) SubscribeInbox(userID uuid.UUID, handler func(origin, event string, payload []byte)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.subs == nil {
		l.subs = make(map[uuid.UUID][]func(origin, event string, payload []byte))
	}
	l.subs[userID] = append(l.subs[userID], handler)
	return func() {}, nil
}

func TestBroadcastDuringClientChurn(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	userID := uuid.New()

	// One persistent client keeps the user's entry alive while another
	// connects and disconnects under concurrent deliveries.
	persistent := newTestClient(userID)
	hub.Register(persistent)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			c := newTestClient(userID)
			hub.Register(c)
			hub.Unregister(c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			hub.MessageDelivered(userID, uuid.New())
		}
	}()
	wg.Wait()

	assert.NotEmpty(t, persistent.send)
	assert.Equal(t, 1, hub.ConnectionCount(userID))
}

func TestSelfOriginatedEventDeliveredOnce(t *testing.T) {
	loop := &loopbackBridge{}
	hub := NewHub(nil, loop, loop)
	userID := uuid.New()

	c := newTestClient(userID)
	hub.Register(c)

	// The loopback echoes the publish straight back; the hub must not
	// re-deliver its own event on top of the local broadcast.
	hub.MessageDelivered(userID, uuid.New())

	select {
	case msg := <-c.send:
		assert.Equal(t, "message_delivered", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
	assert.Empty(t, c.send, "event delivered twice")
}

func TestCrossInstanceEventDelivered(t *testing.T) {
	loop := &loopbackBridge{}
	hubA := NewHub(nil, loop, loop)
	hubB := NewHub(nil, loop, loop)
	userID := uuid.New()

	remote := newTestClient(userID)
	hubB.Register(remote)

	// An event raised on instance A reaches the client connected to B.
	hubA.MessageDeleted(userID, uuid.New())

	select {
	case msg := <-remote.send:
		assert.Equal(t, "message_deleted", msg.Event)
	case <-time.After(time.Second):
		t.Fatal("no event delivered across instances")
	}
	require.Empty(t, remote.send)
}
