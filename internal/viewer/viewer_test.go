package viewer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neboloop/canvas/internal/artifact"
	"github.com/neboloop/canvas/internal/protocol"
	"github.com/neboloop/canvas/internal/watch"
)

type fakeEvents struct {
	mu      sync.Mutex
	sinks   map[string]watch.Sink
	removed []string
	next    int
}

func newFakeEvents() *fakeEvents { return &fakeEvents{sinks: make(map[string]watch.Sink)} }

func (f *fakeEvents) Subscribe(sink watch.Sink, opts watch.SubscribeOptions, store *artifact.Store) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := string(rune('a' + f.next))
	f.sinks[id] = sink
	return id, nil
}

func (f *fakeEvents) Unsubscribe(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sinks[id]
	delete(f.sinks, id)
	f.removed = append(f.removed, id)
	return ok
}

func (f *fakeEvents) only(t *testing.T) watch.Sink {
	t.Helper()
	var sink watch.Sink
	require.Eventually(t, func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, s := range f.sinks {
			sink = s
		}
		return len(f.sinks) == 1
	}, 2*time.Second, 10*time.Millisecond)
	return sink
}

func (f *fakeEvents) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sinks)
}

func TestWebSocketReceivesEvents(t *testing.T) {
	events := newFakeEvents()
	v := New(events, nil)
	ts := httptest.NewServer(v.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)

	sink := events.only(t)
	require.NoError(t, sink.Send(protocol.Event{Event: "ui_ready", Subscription: "b", Data: map[string]any{"reason": "quiet"}}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev protocol.Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "ui_ready", ev.Event)
	assert.Equal(t, "quiet", ev.Data["reason"])

	conn.Close()
	require.Eventually(t, func() bool { return events.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestSlowClientIsRejected(t *testing.T) {
	c := &client{send: make(chan []byte, 1), done: make(chan struct{})}
	require.NoError(t, c.Send(protocol.Event{Event: "navigation"}))
	assert.ErrorIs(t, c.Send(protocol.Event{Event: "navigation"}), ErrSlowClient)
}

func TestLatestPNG(t *testing.T) {
	fs := afero.NewMemMapFs()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store := artifact.NewStore(fs, "/proj").WithClock(func() time.Time { return now })

	v := New(newFakeEvents(), nil)
	v.mu.Lock()
	v.store = store
	v.mu.Unlock()
	ts := httptest.NewServer(v.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/latest.png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	older, err := store.WriteScreenshot([]byte("older"))
	require.NoError(t, err)
	require.NoError(t, fs.Chtimes(older, now.Add(-time.Minute), now.Add(-time.Minute)))
	_, err = store.WriteLive(1, []byte("newest"))
	require.NoError(t, err)

	resp, err = http.Get(ts.URL + "/latest.png")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "newest", string(body))
}

func TestStartStop(t *testing.T) {
	v := New(newFakeEvents(), nil)
	store := artifact.NewStore(afero.NewMemMapFs(), "/proj")

	st, err := v.Start("127.0.0.1:0", store)
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "/proj", st.Root)

	resp, err := http.Get(st.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	again, err := v.Start("127.0.0.1:0", store)
	require.NoError(t, err)
	assert.Equal(t, st.URL, again.URL)

	require.NoError(t, v.Stop(context.Background()))
	assert.False(t, v.Status().Running)
	require.NoError(t, v.Stop(context.Background()))
}

func TestIsLocalOrigin(t *testing.T) {
	assert.True(t, isLocalOrigin(""))
	assert.True(t, isLocalOrigin("http://localhost:7357"))
	assert.True(t, isLocalOrigin("http://127.0.0.1"))
	assert.False(t, isLocalOrigin("http://localhost.evil.com"))
	assert.False(t, isLocalOrigin("https://example.com"))
}
