// Package tabhost is the optional supervisor that spawns additional
// child broker processes ("tabs"), health-checks them, and proxies
// WebSocket connections through to them.
//
// Grounded on sshserver.Server.Serve's accept-loop plus
// hub.hub.go/lifecycle.go's os.Executable() self-respawn
// (deprecated/go-hub/internal/sshserver/sshserver.go,
// deprecated/go-hub/internal/hub/hub.go), and on
// brennhill-gasoline-mcp-ai-devtools's stop-then-taskkill cleanup idiom
// (cmd/dev-console/main_connection_stop.go) for the platform-aware
// tree-kill this package needs that the teacher never required.
package tabhost

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Limits from spec.md §4.12.
const (
	DefaultMaxTabs       = 8
	bootstrapLineTimeout = 30 * time.Second
	readinessPollCount   = 30
	readinessPollDelay   = 500 * time.Millisecond
	sessionCookieName    = "viberails_session"
)

// Tab is the cached state TabHost keeps for one spawned child process.
type Tab struct {
	TabID        string
	PID          int
	Port         int
	BootstrapURL string
	SessionToken string
	CreatedUTC   time.Time

	cmd *exec.Cmd
}

// Host spawns and supervises up to MaxTabs child processes of the
// current executable.
type Host struct {
	logger  *slog.Logger
	maxTabs int
	childArgs []string

	admission chan struct{}

	mu   sync.Mutex
	tabs map[string]*Tab
}

// Config configures a new Host.
type Config struct {
	MaxTabs int
	// ChildArgs are extra arguments appended after the child-mode flag
	// and parent PID ("--child", "<pid>") that every spawn already
	// passes, e.g. ["--child-cli", "codex"].
	ChildArgs []string
	Logger    *slog.Logger
}

// New creates a Host with no tabs running.
func New(cfg Config) *Host {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	max := cfg.MaxTabs
	if max <= 0 {
		max = DefaultMaxTabs
	}
	return &Host{
		logger:    logger,
		maxTabs:   max,
		childArgs: cfg.ChildArgs,
		admission: make(chan struct{}, max),
		tabs:      make(map[string]*Tab),
	}
}

// Count reports the number of currently running tabs.
func (h *Host) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.tabs)
}

// Snapshot returns a point-in-time copy of the running tabs, sorted by
// TabID, for a supervisor UI to render. The cmd field is never copied
// out; callers get only the data a viewer needs.
func (h *Host) Snapshot() []Tab {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Tab, 0, len(h.tabs))
	for _, t := range h.tabs {
		out = append(out, Tab{
			TabID:        t.TabID,
			PID:          t.PID,
			Port:         t.Port,
			BootstrapURL: t.BootstrapURL,
			SessionToken: t.SessionToken,
			CreatedUTC:   t.CreatedUTC,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// CreateTab spawns a new child process, waits for its bootstrap line,
// polls its readiness endpoint, and harvests its session cookie. Admission
// is gated by a single semaphore so at most MaxTabs children ever run
// concurrently; any failure along the way kills the child.
func (h *Host) CreateTab(ctx context.Context, tabID string) (*Tab, error) {
	select {
	case h.admission <- struct{}{}:
	default:
		return nil, fmt.Errorf("tabhost: at capacity (%d tabs)", h.maxTabs)
	}

	tab, err := h.spawnAndBootstrap(ctx, tabID)
	if err != nil {
		<-h.admission
		return nil, err
	}

	h.mu.Lock()
	h.tabs[tabID] = tab
	h.mu.Unlock()

	go h.watchExit(tabID, tab)

	return tab, nil
}

func (h *Host) spawnAndBootstrap(ctx context.Context, tabID string) (*Tab, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving own executable: %w", err)
	}

	args := append([]string{"--child", strconv.Itoa(os.Getpid())}, h.childArgs...)
	cmd := exec.Command(exe, args...)
	setDetachedProcess(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("opening child stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting child process: %w", err)
	}

	bootstrapURL, err := readBootstrapLine(stdout, bootstrapLineTimeout)
	if err != nil {
		killTree(cmd)
		return nil, fmt.Errorf("waiting for bootstrap line: %w", err)
	}

	port, err := portFromBootstrapURL(bootstrapURL)
	if err != nil {
		killTree(cmd)
		return nil, fmt.Errorf("parsing bootstrap url: %w", err)
	}

	if err := waitForReady(ctx, port); err != nil {
		killTree(cmd)
		return nil, fmt.Errorf("child never became ready: %w", err)
	}

	token, err := harvestSessionCookie(bootstrapURL)
	if err != nil {
		killTree(cmd)
		return nil, fmt.Errorf("harvesting session cookie: %w", err)
	}

	return &Tab{
		TabID:        tabID,
		PID:          cmd.Process.Pid,
		Port:         port,
		BootstrapURL: bootstrapURL,
		SessionToken: token,
		CreatedUTC:   time.Now().UTC(),
		cmd:          cmd,
	}, nil
}

// readBootstrapLine scans stdout for a line of the form
// "vs-code-v1=<bootstrap-url>", printed by the child within timeout.
func readBootstrapLine(r io.Reader, timeout time.Duration) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			line := scanner.Text()
			if rest, ok := strings.CutPrefix(line, "vs-code-v1="); ok {
				ch <- result{line: rest}
				return
			}
		}
		ch <- result{err: fmt.Errorf("child exited before printing bootstrap line")}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-time.After(timeout):
		return "", fmt.Errorf("timed out waiting for bootstrap line")
	}
}

func portFromBootstrapURL(bootstrapURL string) (int, error) {
	u, err := url.Parse(bootstrapURL)
	if err != nil {
		return 0, err
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0, fmt.Errorf("bootstrap url has no numeric port: %w", err)
	}
	return port, nil
}

func waitForReady(ctx context.Context, port int) error {
	client := &http.Client{Timeout: readinessPollDelay}
	isLocalURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/IsLocal", port)

	var lastErr error
	for i := 0; i < readinessPollCount; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, isLocalURL, nil)
		if err == nil {
			resp, err := client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
				lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			} else {
				lastErr = err
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readinessPollDelay):
		}
	}
	return fmt.Errorf("child not ready after %d polls: %w", readinessPollCount, lastErr)
}

// harvestSessionCookie GETs bootstrapURL and extracts, URL-unescapes,
// the viberails_session cookie value from the response.
func harvestSessionCookie(bootstrapURL string) (string, error) {
	resp, err := http.Get(bootstrapURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			token, err := url.QueryUnescape(c.Value)
			if err != nil {
				return "", err
			}
			return token, nil
		}
	}
	return "", fmt.Errorf("response did not set %s cookie", sessionCookieName)
}

func (h *Host) watchExit(tabID string, tab *Tab) {
	tab.cmd.Wait()
	h.mu.Lock()
	delete(h.tabs, tabID)
	h.mu.Unlock()
	select {
	case <-h.admission:
	default:
	}
	h.logger.Info("tab process exited", "tab_id", tabID, "pid", tab.PID)
}

// DeleteTab best-effort notifies the child to stop, then terminates it.
func (h *Host) DeleteTab(tabID string) error {
	h.mu.Lock()
	tab, ok := h.tabs[tabID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("tabhost: unknown tab %q", tabID)
	}

	stopURL := fmt.Sprintf("http://127.0.0.1:%d/api/v1/terminal/stop", tab.Port)
	req, err := http.NewRequest(http.MethodPost, stopURL, nil)
	if err == nil {
		req.Header.Set("Cookie", fmt.Sprintf("%s=%s", sessionCookieName, url.QueryEscape(tab.SessionToken)))
		if resp, err := http.DefaultClient.Do(req); err == nil {
			resp.Body.Close()
		}
	}

	return killTree(tab.cmd)
}

// WebSocketProxy opens a client WebSocket to the tab's terminal endpoint
// and relays frames bidirectionally with browserConn until either side
// closes.
func (h *Host) WebSocketProxy(tabID string, browserConn *websocket.Conn) error {
	h.mu.Lock()
	tab, ok := h.tabs[tabID]
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("tabhost: unknown tab %q", tabID)
	}

	header := http.Header{}
	header.Set("Cookie", fmt.Sprintf("%s=%s", sessionCookieName, url.QueryEscape(tab.SessionToken)))

	childURL := fmt.Sprintf("ws://127.0.0.1:%d/api/v1/terminal/ws", tab.Port)
	childConn, _, err := websocket.DefaultDialer.Dial(childURL, header)
	if err != nil {
		return fmt.Errorf("dialing child terminal websocket: %w", err)
	}
	defer childConn.Close()

	done := make(chan struct{})
	closeOnce := sync.OnceFunc(func() { close(done) })

	go relayFrames(browserConn, childConn, closeOnce)
	go relayFrames(childConn, browserConn, closeOnce)

	<-done
	return nil
}

func relayFrames(src, dst *websocket.Conn, onDone func()) {
	defer onDone()
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			return
		}
	}
}
