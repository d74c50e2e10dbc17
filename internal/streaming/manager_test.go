package streaming

import (
	"io"
	"log/slog"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func recvChunk(t *testing.T, c *Client) Chunk {
	t.Helper()
	select {
	case data := <-c.Send:
		var chunk Chunk
		require.NoError(t, json.Unmarshal(data, &chunk))
		return chunk
	default:
		t.Fatal("expected a queued chunk")
		return Chunk{}
	}
}

func TestRegister_Capacity(t *testing.T) {
	m := NewManager(testLogger(), WithMaxClients(2))

	_, err := m.Register("a")
	require.NoError(t, err)
	_, err = m.Register("b")
	require.NoError(t, err)

	_, err = m.Register("c")
	assert.ErrorIs(t, err, ErrAtCapacity)

	// Freeing a slot admits the next client.
	m.Unregister("a")
	_, err = m.Register("c")
	assert.NoError(t, err)
}

func TestSend_UnknownClient(t *testing.T) {
	m := NewManager(testLogger())
	assert.ErrorIs(t, m.Send("ghost", Message{Type: MessageTypePing}), ErrUnknownClient)
}

func TestSend_FullQueueDisconnects(t *testing.T) {
	m := NewManager(testLogger())
	_, err := m.Register("slow")
	require.NoError(t, err)

	// Fill the queue without a consumer; the next send drops the client.
	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, m.Send("slow", Message{Type: MessageTypePing}))
	}
	assert.ErrorIs(t, m.Send("slow", Message{Type: MessageTypePing}), ErrUnknownClient)
	assert.Zero(t, m.Stats().Clients)
}

func TestUnregister_ReleasesSubscriptions(t *testing.T) {
	m := NewManager(testLogger())
	_, err := m.Register("c1")
	require.NoError(t, err)

	m.Subscribe("req-1", "c1")
	require.True(t, m.Cancel("req-1"))

	m.Unregister("c1")
	assert.False(t, m.Cancel("req-1"), "subscription is gone with the client")
	assert.False(t, m.IsCancelled("req-1"))
	assert.Zero(t, m.Stats().ActiveRequests)
}

func TestUnregister_KeepsRequestForRemainingSubscribers(t *testing.T) {
	m := NewManager(testLogger())
	_, err := m.Register("c1")
	require.NoError(t, err)
	c2, err := m.Register("c2")
	require.NoError(t, err)

	m.Subscribe("req-1", "c1")
	m.Subscribe("req-1", "c2")

	m.Unregister("c1")
	assert.Equal(t, 1, m.Stats().ActiveRequests, "a watcher is still attached")

	require.NoError(t, m.SendToRequest("req-1", Chunk{Type: MessageTypeChunk, RequestID: "req-1", Event: EventDelta}))
	assert.Equal(t, EventDelta, recvChunk(t, c2).Event)
}

func TestSendToRequest_FansOutToAllSubscribers(t *testing.T) {
	m := NewManager(testLogger())
	c1, err := m.Register("c1")
	require.NoError(t, err)
	c2, err := m.Register("c2")
	require.NoError(t, err)

	s := m.NewRequestStream("req-1", "c1")
	m.Subscribe("req-1", "c2")

	require.NoError(t, s.Start("gpt-4o"))
	require.NoError(t, s.Delta("hi"))

	for _, c := range []*Client{c1, c2} {
		start := recvChunk(t, c)
		assert.Equal(t, EventStart, start.Event)
		delta := recvChunk(t, c)
		assert.Equal(t, EventDelta, delta.Event)
		assert.Equal(t, "hi", delta.Delta)
	}
}

func TestSendToRequest_NoSubscribers(t *testing.T) {
	m := NewManager(testLogger())
	err := m.SendToRequest("ghost", Chunk{Type: MessageTypeChunk, RequestID: "ghost"})
	assert.ErrorIs(t, err, ErrUnknownClient)
}

func TestUnsubscribe_LastSubscriberReleasesRequest(t *testing.T) {
	m := NewManager(testLogger())
	_, err := m.Register("c1")
	require.NoError(t, err)
	c2, err := m.Register("c2")
	require.NoError(t, err)

	m.Subscribe("req-1", "c1")
	m.Subscribe("req-1", "c2")
	require.True(t, m.Cancel("req-1"))

	m.Unsubscribe("req-1", "c1")
	assert.Equal(t, 1, m.Stats().ActiveRequests)
	assert.True(t, m.IsCancelled("req-1"), "cancellation survives while subscribers remain")

	require.NoError(t, m.SendToRequest("req-1", Chunk{Type: MessageTypeChunk, RequestID: "req-1"}))
	recvChunk(t, c2)

	m.Unsubscribe("req-1", "c2")
	assert.Zero(t, m.Stats().ActiveRequests)
	assert.False(t, m.IsCancelled("req-1"), "cancellation mark released with the request")
}

func TestBroadcast_ReachesAllButExcluded(t *testing.T) {
	m := NewManager(testLogger())
	c1, err := m.Register("c1")
	require.NoError(t, err)
	c2, err := m.Register("c2")
	require.NoError(t, err)
	origin, err := m.Register("origin")
	require.NoError(t, err)

	n := m.Broadcast(Message{Type: MessageTypePing}, "origin")
	assert.Equal(t, 2, n)

	for _, c := range []*Client{c1, c2} {
		var msg Message
		require.NoError(t, json.Unmarshal(<-c.Send, &msg))
		assert.Equal(t, MessageTypePing, msg.Type)
	}
	assert.Len(t, origin.Send, 0, "excluded client hears nothing")
}

func TestCancel_UnknownRequest(t *testing.T) {
	m := NewManager(testLogger())
	assert.False(t, m.Cancel("nope"))
}

func TestOnDisconnectCallback(t *testing.T) {
	var gone []string
	m := NewManager(testLogger(), WithOnDisconnect(func(id string) { gone = append(gone, id) }))

	_, err := m.Register("c1")
	require.NoError(t, err)
	m.Unregister("c1")
	m.Unregister("c1") // second call is a no-op

	assert.Equal(t, []string{"c1"}, gone)
}

func TestSweep_HarvestsSilentClients(t *testing.T) {
	m := NewManager(testLogger(), WithHeartbeatInterval(30*time.Second))
	base := time.Now()
	m.nowFunc = func() time.Time { return base }

	_, err := m.Register("quiet")
	require.NoError(t, err)
	live, err := m.Register("live")
	require.NoError(t, err)

	// Only the live client answers before the next sweep.
	m.nowFunc = func() time.Time { return base.Add(45 * time.Second) }
	m.Touch("live")

	m.nowFunc = func() time.Time { return base.Add(90 * time.Second) }
	m.sweep()

	assert.Equal(t, 1, m.Stats().Clients)
	assert.ErrorIs(t, m.Send("quiet", Message{Type: MessageTypePing}), ErrUnknownClient)

	// Survivors get pinged.
	var msg Message
	require.NoError(t, json.Unmarshal(<-live.Send, &msg))
	assert.Equal(t, MessageTypePing, msg.Type)
}

func TestRequestStream_IndexSequence(t *testing.T) {
	m := NewManager(testLogger())
	c, err := m.Register("c1")
	require.NoError(t, err)

	s := m.NewRequestStream("req-1", "c1")
	require.NoError(t, s.Start("gpt-4o"))
	require.NoError(t, s.Delta("hel"))
	require.NoError(t, s.Delta("lo"))
	require.NoError(t, s.Done("stop"))

	events := []string{EventStart, EventDelta, EventDelta, EventDone}
	for i, want := range events {
		chunk := recvChunk(t, c)
		assert.Equal(t, i, chunk.Index, "indexes increase strictly from zero")
		assert.Equal(t, want, chunk.Event)
		assert.Equal(t, "req-1", chunk.RequestID)
	}
	assert.Zero(t, m.Stats().ActiveRequests, "terminal chunk releases the binding")
}

func TestRequestStream_CancelMidStream(t *testing.T) {
	m := NewManager(testLogger())
	c, err := m.Register("c1")
	require.NoError(t, err)

	s := m.NewRequestStream("req-1", "c1")
	require.NoError(t, s.Start("gpt-4o"))
	require.NoError(t, s.Delta("first"))

	require.True(t, m.Cancel("req-1"))

	// The next write observes the cancellation: a terminal cancelled chunk
	// goes out and the write reports ErrCancelled.
	assert.ErrorIs(t, s.Delta("second"), ErrCancelled)

	var last Chunk
	for i := 0; i < 3; i++ {
		last = recvChunk(t, c)
	}
	assert.Equal(t, EventCancelled, last.Event)
	assert.Equal(t, 2, last.Index)

	// Nothing further can be written.
	assert.ErrorIs(t, s.Done("stop"), ErrCancelled)
	assert.Len(t, c.Send, 0)
}

func TestRequestStream_FailEmitsErrorTerminal(t *testing.T) {
	m := NewManager(testLogger())
	c, err := m.Register("c1")
	require.NoError(t, err)

	s := m.NewRequestStream("req-1", "c1")
	require.NoError(t, s.Start("gpt-4o"))
	require.NoError(t, s.Fail(io.ErrUnexpectedEOF))

	recvChunk(t, c)
	last := recvChunk(t, c)
	assert.Equal(t, EventError, last.Event)
	assert.Contains(t, last.Error, "unexpected EOF")
	assert.Zero(t, m.Stats().ActiveRequests)
}
