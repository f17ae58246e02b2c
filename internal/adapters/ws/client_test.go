package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dispatchhq/commshub/internal/core"
)

type recorder struct {
	mu     sync.Mutex
	frames []string
	states []core.ConnState
}

func (r *recorder) onFrame(f core.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, string(f))
}

func (r *recorder) onStatus(s core.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) snapshot() ([]string, []core.ConnState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...), append([]core.ConnState(nil), r.states...)
}

func (r *recorder) waitFrames(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		frames, _ := r.snapshot()
		if len(frames) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d frames", n)
}

func (r *recorder) waitState(t *testing.T, want core.ConnState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_, states := r.snapshot()
		for _, s := range states {
			if s == want {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s", want)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// pushServer hands each accepted connection to serve with its arrival index.
func pushServer(t *testing.T, serve func(n int, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	count := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		serve(n, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func testConfig() Config {
	return Config{
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		MaxAttempts: 3,
		ReadLimit:   32768,
	}
}

func TestDeliversFramesInArrivalOrder(t *testing.T) {
	req := require.New(t)
	srv := pushServer(t, func(_ int, conn *websocket.Conn) {
		for _, f := range []string{"f1", "f2", "f3"} {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		// Hold the connection open until the client hangs up.
		_, _, _ = conn.ReadMessage()
	})

	rec := &recorder{}
	c := NewClient(wsURL(srv), testConfig(), rec.onFrame, rec.onStatus)
	req.NoError(c.Connect(context.Background()))
	defer c.Close()

	rec.waitFrames(t, 3)
	frames, states := rec.snapshot()
	req.Equal([]string{"f1", "f2", "f3"}, frames)
	req.Equal(core.ConnConnecting, states[0])
	req.Equal(core.ConnOpen, states[1])
	req.Equal(core.ConnOpen, c.State())
}

func TestReconnectsAfterDrop(t *testing.T) {
	req := require.New(t)
	srv := pushServer(t, func(n int, conn *websocket.Conn) {
		if n == 1 {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("e1"))
			_ = conn.Close()
			return
		}
		// Provider re-sync redelivers e1 alongside e2.
		_ = conn.WriteMessage(websocket.TextMessage, []byte("e1"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte("e2"))
		_, _, _ = conn.ReadMessage()
	})

	rec := &recorder{}
	c := NewClient(wsURL(srv), testConfig(), rec.onFrame, rec.onStatus)
	req.NoError(c.Connect(context.Background()))
	defer c.Close()

	rec.waitFrames(t, 3)
	frames, states := rec.snapshot()
	req.Equal([]string{"e1", "e1", "e2"}, frames)

	// open -> errored -> connecting -> open, never falsely open while down.
	var after []core.ConnState
	seenErr := false
	for _, s := range states {
		if s == core.ConnErrored {
			seenErr = true
		}
		if seenErr {
			after = append(after, s)
		}
	}
	req.Equal([]core.ConnState{core.ConnErrored, core.ConnConnecting, core.ConnOpen}, after)
}

func TestCloseIsIdempotentAndFinal(t *testing.T) {
	req := require.New(t)
	srv := pushServer(t, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("f1"))
		_, _, _ = conn.ReadMessage()
	})

	rec := &recorder{}
	c := NewClient(wsURL(srv), testConfig(), rec.onFrame, rec.onStatus)
	req.NoError(c.Connect(context.Background()))
	rec.waitFrames(t, 1)

	c.Close()
	c.Close()

	frames, states := rec.snapshot()
	req.Equal(core.ConnIdle, c.State())
	req.Equal(core.ConnIdle, states[len(states)-1])

	// Nothing may arrive after Close returns.
	time.Sleep(50 * time.Millisecond)
	laterFrames, laterStates := rec.snapshot()
	req.Equal(frames, laterFrames)
	req.Equal(states, laterStates)
}

func TestGivesUpAfterCeilingUntilReconnectRequested(t *testing.T) {
	req := require.New(t)
	rec := &recorder{}
	c := NewClient("ws://127.0.0.1:1/rooms/r1/u1", testConfig(), rec.onFrame, rec.onStatus)
	req.NoError(c.Connect(context.Background()))

	rec.waitState(t, core.ConnErrored)
	req.Equal(core.ConnErrored, c.State())

	// The pump stops once the ceiling is hit; a fresh Connect is accepted.
	var err error
	deadline := time.Now().Add(time.Second)
	for {
		err = c.Connect(context.Background())
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	req.NoError(err)
	c.Close()
}

func TestEndpointURL(t *testing.T) {
	req := require.New(t)
	req.Equal("wss://rt.example.com/ws/room-1/driver%2012",
		EndpointURL("wss://rt.example.com/ws/", "room-1", "driver 12"))
}
