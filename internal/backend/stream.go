package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// QueryEnvelope is the outbound query message, sent once per stream. ASTFlag
// and UseLLM must already be in wire form ("True"/"False").
type QueryEnvelope struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	SysPrompt string `json:"sys_prompt"`
	ASTFlag   string `json:"ast_flag"`
	UseLLM    string `json:"use_llm"`
	Limit     int    `json:"limit"`
}

// Frame is one inbound unit of a query stream. Exactly one of the tags is
// meaningful per frame; the zero values of the others are ignored.
type Frame struct {
	PartialResponse string         `json:"partial_response"`
	Metric          map[string]any `json:"metric"`
	LimitReached    bool           `json:"limit_reached"`
	Message         string         `json:"message"`
	Error           string         `json:"error"`
	Complete        bool           `json:"complete"`
}

// QueryStream is one open duplex channel carrying the answer to a single
// question. Frames are delivered in receipt order on Frames(); the channel
// closes when the stream ends, after which Err reports a transport failure
// if one occurred. A peer close without a completion frame is not an error.
type QueryStream struct {
	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}

	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

// OpenQueryStream dials the backend's streaming endpoint and transmits the
// query envelope once the channel is established.
func (c *Client) OpenQueryStream(ctx context.Context, env QueryEnvelope) (*QueryStream, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, c.wsURL+"/query/stream", nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("open query stream: %w", err)
	}
	if err := conn.WriteJSON(env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send query envelope: %w", err)
	}
	c.logger.Debug("query stream opened", zap.String("session_id", env.SessionID))

	s := &QueryStream{
		conn:   conn,
		frames: make(chan Frame, 16),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

// Frames returns the inbound frame channel. It is closed on stream end.
func (s *QueryStream) Frames() <-chan Frame {
	return s.frames
}

// Err reports the transport failure that ended the stream, if any. Valid
// once Frames() is closed.
func (s *QueryStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close tears the channel down. Safe to call more than once and concurrently
// with the read loop.
func (s *QueryStream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		deadline := time.Now().Add(time.Second)
		s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		s.conn.Close()
	})
	return nil
}

func (s *QueryStream) readLoop() {
	defer close(s.frames)
	for {
		var f Frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if !isExpectedClose(err) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		select {
		case s.frames <- f:
		case <-s.done:
			return
		}
	}
}

// isExpectedClose distinguishes an orderly end of stream from a transport
// failure: a normal/going-away close from the peer, EOF, or a close we
// initiated ourselves.
func isExpectedClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	return false
}
