package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tunablelabs/codebase-rag/internal/config"
)

var upgrader = websocket.Upgrader{}

// newStreamClient starts a websocket server whose handler receives the
// upgraded connection after the envelope has been read back.
func newStreamClient(t *testing.T, handle func(conn *websocket.Conn, env QueryEnvelope)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/query/stream", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var env QueryEnvelope
		require.NoError(t, conn.ReadJSON(&env))
		handle(conn, env)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return NewClient(config.BackendConfig{
		BaseURL: srv.URL,
		WSURL:   wsURL,
		Timeout: 5 * time.Second,
	}, zap.NewNop())
}

func collectFrames(t *testing.T, s *QueryStream) []Frame {
	t.Helper()
	var frames []Frame
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-s.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-deadline:
			t.Fatal("timed out waiting for stream end")
		}
	}
}

func TestOpenQueryStreamDelivery(t *testing.T) {
	client := newStreamClient(t, func(conn *websocket.Conn, env QueryEnvelope) {
		assert.Equal(t, "how does auth work", env.Query)
		assert.Equal(t, "True", env.ASTFlag)
		assert.Equal(t, "False", env.UseLLM)

		conn.WriteJSON(Frame{PartialResponse: "Auth is "})
		conn.WriteJSON(Frame{PartialResponse: "token based."})
		conn.WriteJSON(Frame{Metric: map[string]any{"latency": 1.5}})
		conn.WriteJSON(Frame{Complete: true})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})

	stream, err := client.OpenQueryStream(context.Background(), QueryEnvelope{
		UserID:    "u1",
		SessionID: "s1",
		Query:     "how does auth work",
		ASTFlag:   "True",
		UseLLM:    "False",
		Limit:     5,
	})
	require.NoError(t, err)
	defer stream.Close()

	frames := collectFrames(t, stream)
	require.Len(t, frames, 4)
	assert.Equal(t, "Auth is ", frames[0].PartialResponse)
	assert.Equal(t, "token based.", frames[1].PartialResponse)
	assert.NotNil(t, frames[2].Metric)
	assert.True(t, frames[3].Complete)
	assert.NoError(t, stream.Err())
}

func TestStreamPeerCloseWithoutCompletion(t *testing.T) {
	client := newStreamClient(t, func(conn *websocket.Conn, env QueryEnvelope) {
		conn.WriteJSON(Frame{PartialResponse: "partial"})
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
	})

	stream, err := client.OpenQueryStream(context.Background(), QueryEnvelope{SessionID: "s1"})
	require.NoError(t, err)
	defer stream.Close()

	frames := collectFrames(t, stream)
	require.Len(t, frames, 1)
	// A going-away close is an orderly end, not a transport failure.
	assert.NoError(t, stream.Err())
}

func TestStreamAbruptDropReportsError(t *testing.T) {
	client := newStreamClient(t, func(conn *websocket.Conn, env QueryEnvelope) {
		conn.WriteJSON(Frame{PartialResponse: "partial"})
		// Kill the TCP connection without a close handshake.
		conn.NetConn().Close()
	})

	stream, err := client.OpenQueryStream(context.Background(), QueryEnvelope{SessionID: "s1"})
	require.NoError(t, err)
	defer stream.Close()

	frames := collectFrames(t, stream)
	require.Len(t, frames, 1)
	assert.Error(t, stream.Err())
}

func TestOpenQueryStreamDialFailure(t *testing.T) {
	client := NewClient(config.BackendConfig{
		BaseURL: "http://127.0.0.1:1",
		WSURL:   "ws://127.0.0.1:1",
	}, zap.NewNop())

	_, err := client.OpenQueryStream(context.Background(), QueryEnvelope{SessionID: "s1"})
	assert.Error(t, err)
}
