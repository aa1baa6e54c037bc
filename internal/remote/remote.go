// Package remote implements the outbound WebSocket client that relays a
// Terminal's I/O to a remote web UI: connect, a bounded send queue, a
// fragmented-frame receive loop, and control-protocol demultiplexing.
//
// Grounded on deprecated/go-hub/internal/tunnel/tunnel.go's
// Connect/messageLoop shape (gorilla/websocket dialer with a handshake
// timeout, a reader goroutine feeding a channel, a select loop driving
// state), generalized from tunnel's ActionCable JSON envelope to this
// spec's plain text/binary frames and internal/controlproto frames.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viberails/termbroker/internal/controlproto"
)

// Status is the RemoteConnection state machine (spec.md §3).
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	case StatusClosed:
		return "closed"
	default:
		return "disconnected"
	}
}

const (
	connectTimeout  = 10 * time.Second
	maxMessageBytes = controlproto.MaxMessageBytes
	sendQueueDepth  = 64
)

// FrameKind distinguishes outbound binary PTY output from text control
// frames.
type FrameKind int

const (
	KindBinary FrameKind = iota
	KindText
)

type outboundFrame struct {
	kind FrameKind
	data []byte
}

// Callbacks are invoked from the receive loop as control frames or
// plain input arrive. Implementations must not block.
type Callbacks struct {
	OnReplayRequested    func()
	OnBrowserDisconnected func()
	OnResizeRequested    func(cols, rows int)
	OnCommandReceived    func(name, payload string)
	OnInputReceived      func(p []byte)
}

// Connection is one outbound relay connection for a single session.
type Connection struct {
	logger    *slog.Logger
	frontendURL string
	apiKey    string
	callbacks Callbacks

	status atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	sendCh chan outboundFrame

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Connection targeting frontendURL (an http(s):// base
// URL), authenticating with apiKey.
func New(frontendURL, apiKey string, callbacks Callbacks, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		logger:      logger,
		frontendURL: frontendURL,
		apiKey:      apiKey,
		callbacks:   callbacks,
		sendCh:      make(chan outboundFrame, sendQueueDepth),
		done:        make(chan struct{}),
	}
}

// Status reports the current connection state.
func (c *Connection) Status() Status { return Status(c.status.Load()) }

func (c *Connection) setStatus(s Status) { c.status.Store(int32(s)) }

// ConnectAsync builds the WebSocket URL from frontendURL, dials with a
// 10s timeout and an X-Api-Key header, and starts the send and receive
// loops. It returns once the initial handshake completes (or fails);
// the loops continue running in the background until DisposeAsync.
func (c *Connection) ConnectAsync(ctx context.Context, sessionID string) error {
	c.setStatus(StatusConnecting)

	wsURL, err := buildWebSocketURL(c.frontendURL, sessionID)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("building websocket url: %w", err)
	}

	header := http.Header{}
	header.Set("X-Api-Key", c.apiKey)

	dialer := websocket.Dialer{HandshakeTimeout: connectTimeout}
	conn, _, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return fmt.Errorf("websocket connect failed: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	c.setStatus(StatusOpen)

	go c.sendLoop(loopCtx, conn)
	go c.receiveLoop(loopCtx, conn)

	return nil
}

// buildWebSocketURL swaps http(s) for ws(s) and appends the terminal
// websocket path with the session id (spec.md §4.9).
func buildWebSocketURL(frontendURL, sessionID string) (string, error) {
	u, err := url.Parse(frontendURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/v1/terminal"
	q := u.Query()
	q.Set("sessionId", sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SendOutputAsync queues p as a binary frame. Never blocks indefinitely:
// if the queue is full the frame is dropped and logged, so a stalled
// relay cannot back up PTY output delivery.
func (c *Connection) SendOutputAsync(p []byte) {
	c.enqueue(outboundFrame{kind: KindBinary, data: append([]byte(nil), p...)})
}

// SendControlAsync queues text as a text control frame.
func (c *Connection) SendControlAsync(text string) {
	c.enqueue(outboundFrame{kind: KindText, data: []byte(text)})
}

func (c *Connection) enqueue(f outboundFrame) {
	select {
	case c.sendCh <- f:
	default:
		c.logger.Warn("remote send queue full, dropping frame", "kind", f.kind)
	}
}

func (c *Connection) sendLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-c.sendCh:
			msgType := websocket.BinaryMessage
			if f.kind == KindText {
				msgType = websocket.TextMessage
			}
			if err := conn.WriteMessage(msgType, f.data); err != nil {
				c.logger.Error("remote send failed", "error", err)
				return
			}
		}
	}
}

func (c *Connection) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	defer close(c.done)
	conn.SetReadLimit(maxMessageBytes)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgType, data, err := conn.ReadMessage()
		if err != nil {
			c.logger.Info("remote connection read ended", "error", err)
			c.setStatus(StatusClosed)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			c.demux(string(data))
		case websocket.BinaryMessage:
			if c.callbacks.OnInputReceived != nil {
				c.callbacks.OnInputReceived(data)
			}
		}
	}
}

func (c *Connection) demux(text string) {
	frame := controlproto.Parse(text)
	switch frame.Kind {
	case controlproto.KindReplayRequest:
		if c.callbacks.OnReplayRequested != nil {
			c.callbacks.OnReplayRequested()
		}
	case controlproto.KindBrowserDisconnected:
		if c.callbacks.OnBrowserDisconnected != nil {
			c.callbacks.OnBrowserDisconnected()
		}
	case controlproto.KindResize:
		if c.callbacks.OnResizeRequested != nil {
			c.callbacks.OnResizeRequested(frame.Cols, frame.Rows)
		}
	case controlproto.KindCommand:
		if c.callbacks.OnCommandReceived != nil {
			c.callbacks.OnCommandReceived(frame.Name, frame.Payload)
		}
	default:
		if c.callbacks.OnInputReceived != nil {
			c.callbacks.OnInputReceived([]byte(frame.Input))
		}
	}
}

var errNotConnected = errors.New("remote: not connected")

// DisposeAsync cancels both loops, closes the socket with a normal
// closure frame, and waits for the receive loop to end.
func (c *Connection) DisposeAsync() error {
	c.setStatus(StatusClosing)

	c.mu.Lock()
	conn := c.conn
	cancel := c.cancel
	c.mu.Unlock()

	if conn == nil {
		return errNotConnected
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	if cancel != nil {
		cancel()
	}
	_ = conn.Close()

	<-c.done
	c.setStatus(StatusClosed)
	return nil
}
