package broker

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viberails/termbroker/internal/session"
	"github.com/viberails/termbroker/internal/sessionstore"
)

type echoPlanner struct{}

func (echoPlanner) Plan(sess *session.Session) (PlannedCommand, error) {
	return PlannedCommand{Cols: 80, Rows: 24}, nil
}

// fakeWSConn is an in-memory WSConn. Incoming messages are fed via in;
// outgoing writes land in out; closing sets closed and unblocks any
// pending ReadMessage.
type fakeWSConn struct {
	mu     sync.Mutex
	in     chan wsMsg
	out    []wsMsg
	closed bool
	closeCode int
	closeReason string
}

type wsMsg struct {
	msgType int
	data    []byte
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{in: make(chan wsMsg, 16)}
}

func (c *fakeWSConn) ReadMessage() (int, []byte, error) {
	m, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("fakeWSConn: closed")
	}
	return m.msgType, m.data, nil
}

func (c *fakeWSConn) WriteMessage(msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, wsMsg{msgType, data})
	return nil
}

func (c *fakeWSConn) WriteControl(msgType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode, c.closeReason = websocket.CloseNormalClosure, string(data)
	return nil
}

func (c *fakeWSConn) SetReadLimit(limit int64) {}

func (c *fakeWSConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.in)
	}
	return nil
}

func (c *fakeWSConn) outputs() []wsMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wsMsg(nil), c.out...)
}

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("bash-specific test")
	}
	return New(Config{
		Store:          sessionstore.NewMemoryStore(),
		Planner:        echoPlanner{},
		ReplayCapacity: 1024,
	})
}

func TestStartRejectsSecondStartWhileActive(t *testing.T) {
	b := newTestBroker(t)
	sess, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false); err != ErrAlreadyActive {
		t.Errorf("second Start() error = %v, want ErrAlreadyActive", err)
	}
	if sess.ID == "" {
		t.Error("session id is empty")
	}
}

func TestStopEndsSessionAndAllowsRestart(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && b.IsActive() {
		time.Sleep(10 * time.Millisecond)
	}
	if b.IsActive() {
		t.Fatal("broker still active after Stop()")
	}

	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false); err != nil {
		t.Fatalf("Start() after Stop() error = %v", err)
	}
	b.Stop()
}

func TestStopLeavesExternallyOwnedSessionRunning(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerExternal, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		term, _, err := b.ActiveTerminal()
		if err == nil {
			term.Dispose()
		}
	}()

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !b.IsActive() {
		t.Fatal("Stop() disposed an externally owned session")
	}
}

func TestAttachWebSocketWithoutActiveTerminalFails(t *testing.T) {
	b := newTestBroker(t)
	conn := newFakeWSConn()
	conn.Close()

	if err := b.AttachWebSocket(conn); err != ErrNoActiveTerminal {
		t.Errorf("AttachWebSocket() error = %v, want ErrNoActiveTerminal", err)
	}
}

func TestAttachWebSocketSendsReplaySnapshotFirst(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	conn := newFakeWSConn()
	done := make(chan error, 1)
	go func() { done <- b.AttachWebSocket(conn) }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(conn.outputs()) >= 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	outs := conn.outputs()
	if len(outs) == 0 {
		t.Fatal("no replay snapshot delivered")
	}
	if outs[0].msgType != websocket.BinaryMessage {
		t.Errorf("first frame type = %d, want BinaryMessage", outs[0].msgType)
	}

	conn.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AttachWebSocket never returned after conn closed")
	}
}

func TestAttachWebSocketTakeoverClosesPreviousViewer(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	connA := newFakeWSConn()
	doneA := make(chan error, 1)
	go func() { doneA <- b.AttachWebSocket(connA) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(connA.outputs()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	connB := newFakeWSConn()
	doneB := make(chan error, 1)
	go func() { doneB <- b.AttachWebSocket(connB) }()

	select {
	case <-doneA:
	case <-time.After(2 * time.Second):
		t.Fatal("prior viewer was not evicted")
	}

	connA.mu.Lock()
	reason := connA.closeReason
	connA.mu.Unlock()
	if reason == "" {
		t.Error("evicted viewer never received a close reason")
	}

	connB.Close()
	select {
	case <-doneB:
	case <-time.After(2 * time.Second):
		t.Fatal("second viewer's AttachWebSocket never returned")
	}
}

func TestAttachWebSocketRoutesResizeSeparatelyFromInput(t *testing.T) {
	b := newTestBroker(t)
	if _, err := b.Start(session.CLIClaude, "/tmp", "", session.OwnerLocal, false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop()

	conn := newFakeWSConn()
	done := make(chan error, 1)
	go func() { done <- b.AttachWebSocket(conn) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(conn.outputs()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}

	conn.in <- wsMsg{msgType: websocket.TextMessage, data: []byte("__resize__:100,30")}
	conn.in <- wsMsg{msgType: websocket.BinaryMessage, data: []byte("echo routed\r")}

	time.Sleep(200 * time.Millisecond)
	conn.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AttachWebSocket never returned")
	}
}
