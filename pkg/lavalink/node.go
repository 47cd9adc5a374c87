package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// Workers have been observed dropping idle clients well inside their
	// nominal ping interval, so the keep-alive runs hot.
	keepaliveInterval = 2500 * time.Millisecond
	keepaliveTimeout  = 2 * time.Second

	// Handshake retry backoff, in integral seconds.
	handshakeBackoffBase = 5 * time.Second
	handshakeBackoffMax  = 300 * time.Second

	// REST track lookups retry with their own, shorter backoff.
	loadTracksAttempts    = 5
	loadTracksBackoffBase = 1 * time.Second
)

// Node is one remote audio worker. It owns a websocket session with a receive
// loop and a keep-alive goroutine, reconnects on transport failure, and serves
// REST track lookups. All methods are safe for concurrent use.
type Node struct {
	name    string
	wsURI   string
	restURI string
	header  http.Header
	client  *Client
	httpc   *http.Client

	// ctx spans the node's lifetime; cancelled only at client teardown.
	// It bounds reconnect backoff sleeps.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	conn       *websocket.Conn
	connCancel context.CancelFunc
	stats      *Stats
	links      map[int64]struct{} // guild ids assigned here; non-owning back-index
	available  bool
	closing    bool

	// wmu serializes socket writes so frames are delivered in call order.
	wmu sync.Mutex
}

func newNode(c *Client, name, wsURI, restURI, password string) *Node {
	header := http.Header{}
	header.Set("Authorization", password)
	header.Set("Num-Shards", strconv.Itoa(c.shardCount))
	header.Set("User-Id", strconv.FormatInt(c.userID, 10))

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		name:    name,
		wsURI:   wsURI,
		restURI: restURI,
		header:  header,
		client:  c,
		httpc:   &http.Client{},
		ctx:     ctx,
		cancel:  cancel,
		links:   make(map[int64]struct{}),
	}
}

// Name returns the node's unique name within its client.
func (n *Node) Name() string { return n.name }

// Available reports whether the handshake completed and the node is not in a
// reconnect cycle.
func (n *Node) Available() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.available
}

// Stats returns the latest stats snapshot, or nil if none arrived yet.
func (n *Node) Stats() *Stats {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stats
}

// Connect dials the node and blocks until the handshake completes, the node
// rejects the credentials, or ctx is cancelled. Transport failures are retried
// indefinitely with exponential backoff; an authentication rejection (401/403)
// is fatal and never retried.
func (n *Node) Connect(ctx context.Context) error {
	delay := handshakeBackoffBase
	for {
		slog.Info("connecting to node", "node", n.name, "uri", n.wsURI)

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, resp, err := websocket.Dial(dialCtx, n.wsURI, &websocket.DialOptions{
			HTTPHeader: n.header,
		})
		cancel()
		if err == nil {
			n.onOpen(conn)
			return nil
		}
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			slog.Error("node rejected credentials", "node", n.name, "status", resp.StatusCode)
			return &NodeError{Node: n.name, Err: fmt.Errorf("authentication rejected (status %d)", resp.StatusCode)}
		}

		slog.Warn("node handshake failed", "node", n.name, "err", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-n.ctx.Done():
			return n.ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > handshakeBackoffMax {
			delay = handshakeBackoffMax
		}
	}
}

// onOpen installs the fresh connection, spawns the session goroutines and
// notifies the load balancer so orphaned links can be re-homed here.
func (n *Node) onOpen(conn *websocket.Conn) {
	connCtx, connCancel := context.WithCancel(n.ctx)

	n.mu.Lock()
	n.conn = conn
	n.connCancel = connCancel
	n.available = true
	n.mu.Unlock()

	slog.Info("node connected", "node", n.name)
	n.client.metrics.nodeConnect(n.name)

	go n.receiveLoop(connCtx, conn)
	go n.keepaliveLoop(connCtx, conn)

	n.client.balancer.onNodeConnect(n)
}

// Disconnect initiates a graceful local close. The receive loop observes the
// closure and runs the usual close handling, minus the reconnect.
func (n *Node) Disconnect(ctx context.Context) error {
	n.mu.Lock()
	n.closing = true
	conn := n.conn
	n.mu.Unlock()

	if conn == nil {
		return nil
	}
	slog.Info("closing node connection", "node", n.name)
	return conn.Close(websocket.StatusNormalClosure, "client disconnect")
}

// Send serializes msg and writes it to the node's socket. Frames from
// concurrent callers are delivered in call order. Returns an error wrapping
// [ErrNodeUnavailable] when the socket is not open.
func (n *Node) Send(ctx context.Context, msg any) error {
	n.mu.Lock()
	conn, available := n.conn, n.available
	n.mu.Unlock()

	if conn == nil || !available {
		return &NodeError{Node: n.name, Err: ErrNodeUnavailable}
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("lavalink: marshal outbound frame: %w", err)
	}

	n.wmu.Lock()
	defer n.wmu.Unlock()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return &NodeError{Node: n.name, Err: err}
	}
	return nil
}

// ── Session goroutines ────────────────────────────────────────────────────────

// receiveLoop reads frames until the socket dies, then reports the closure.
func (n *Node) receiveLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				n.onClose(-1, "session cancelled", false)
				return
			}
			code := websocket.CloseStatus(err)
			if code != -1 {
				// Peer supplied an explicit close frame.
				n.onClose(int(code), err.Error(), false)
				return
			}
			// Socket exhausted without a close frame; ask for a reconnect.
			n.onClose(-1, err.Error(), true)
			return
		}
		n.handleMessage(data)
	}
}

// keepaliveLoop pings the node on a short interval for as long as the
// connection lives.
func (n *Node) keepaliveLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, keepaliveTimeout)
			_ = conn.Ping(pingCtx)
			cancel()
		}
	}
}

// onClose tears down the session state, lets the balancer re-home this node's
// links, and schedules a reconnect when the closure was not locally initiated.
func (n *Node) onClose(code int, reason string, reconnect bool) {
	n.mu.Lock()
	wasClosing := n.closing
	n.closing = false
	n.available = false
	n.conn = nil
	if n.connCancel != nil {
		n.connCancel()
		n.connCancel = nil
	}
	n.mu.Unlock()

	graceful := code == int(websocket.StatusNormalClosure)
	if graceful {
		slog.Info("node connection closed", "node", n.name, "reason", reason)
	} else {
		slog.Warn("node connection closed unexpectedly", "node", n.name, "code", code, "reason", reason)
	}
	n.client.metrics.nodeDisconnect(n.name, graceful || wasClosing)

	n.client.balancer.onNodeDisconnect(n)

	if reconnect && !wasClosing && n.ctx.Err() == nil {
		slog.Info("reconnecting to node", "node", n.name)
		go func() {
			if err := n.Connect(n.ctx); err != nil {
				slog.Error("node reconnect abandoned", "node", n.name, "err", err)
			}
		}()
	}
}

// ── Inbound dispatch ──────────────────────────────────────────────────────────

func (n *Node) handleMessage(data []byte) {
	var env inboundFrame
	if err := json.Unmarshal(data, &env); err != nil {
		slog.Warn("malformed node frame", "node", n.name, "err", err)
		return
	}
	n.client.metrics.wsMessage(n.name, env.Op)

	switch env.Op {
	case "playerUpdate":
		var msg playerUpdateMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed playerUpdate frame", "node", n.name, "err", err)
			return
		}
		gid, err := strconv.ParseInt(msg.GuildID, 10, 64)
		if err != nil {
			return
		}
		if link := n.client.existingLink(gid); link != nil {
			link.Player().provideState(msg.State)
		}
	case "stats":
		var msg statsMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("malformed stats frame", "node", n.name, "err", err)
			return
		}
		n.mu.Lock()
		n.stats = newStats(&msg)
		n.mu.Unlock()
	case "event":
		n.handleEvent(data)
	default:
		slog.Info("received unknown op", "node", n.name, "op", env.Op)
	}
}

// handleEvent maps an event-op frame to a tagged event and delivers it to the
// guild's player. Events for destroyed links are dropped.
func (n *Node) handleEvent(data []byte) {
	var msg eventMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("malformed event frame", "node", n.name, "err", err)
		return
	}
	gid, err := strconv.ParseInt(msg.GuildID, 10, 64)
	if err != nil {
		return
	}
	link := n.client.existingLink(gid)
	if link == nil {
		return // the link got destroyed
	}
	player := link.Player()

	var event Event
	switch msg.Type {
	case "TrackStartEvent":
		event = &TrackStartEvent{player: player, Track: player.Current()}
	case "TrackEndEvent":
		event = &TrackEndEvent{player: player, Track: player.Current(), Reason: TrackEndReason(msg.Reason)}
	case "TrackExceptionEvent":
		event = &TrackExceptionEvent{player: player, Track: player.Current(), Error: msg.Error}
	case "TrackStuckEvent":
		event = &TrackStuckEvent{player: player, Track: player.Current(), Threshold: time.Duration(msg.ThresholdMs) * time.Millisecond}
	case "WebSocketClosedEvent":
		// 4006: the voice session is unrecoverable; the link must go.
		if msg.Code == 4006 && msg.ByRemote {
			if err := link.Destroy(n.ctx); err != nil {
				slog.Warn("destroy after voice session loss", "node", n.name, "guild_id", gid, "err", err)
			}
		}
		return
	default:
		slog.Info("received unknown event", "node", n.name, "type", msg.Type)
		return
	}

	n.client.metrics.playerEvent(msg.Type)
	player.emit(event)
}

// ── REST ──────────────────────────────────────────────────────────────────────

// LoadTracks resolves identifier against the node's REST API. Failed requests
// are retried with exponential backoff up to five attempts when retry is
// enabled on the client; otherwise a single failure yields an empty result.
func (n *Node) LoadTracks(ctx context.Context, identifier string) (*Playlist, error) {
	reqURL := n.restURI + "/loadtracks?identifier=" + url.QueryEscape(identifier)
	delay := loadTracksBackoffBase

	for attempt := 1; attempt <= loadTracksAttempts; attempt++ {
		start := time.Now()
		body, status, err := n.loadTracksOnce(ctx, reqURL)
		if err == nil && status == http.StatusOK {
			n.client.metrics.loadTracks(n.name, time.Since(start))
			return decodePlaylist(body)
		}

		if !n.client.restRetry {
			slog.Error("track lookup failed, not retrying", "node", n.name, "status", status, "err", err)
			return emptyPlaylist(), nil
		}
		if attempt == loadTracksAttempts {
			break
		}
		slog.Error("track lookup failed, retrying",
			"node", n.name, "status", status, "err", err,
			"retry_in", delay, "attempt", fmt.Sprintf("%d/%d", attempt, loadTracksAttempts))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return nil, &NodeError{Node: n.name, Err: fmt.Errorf("track lookup failed after %d attempts", loadTracksAttempts)}
}

func (n *Node) loadTracksOnce(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", n.header.Get("Authorization"))

	resp, err := n.httpc.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

// ── Link back-index ───────────────────────────────────────────────────────────

func (n *Node) addLink(guildID int64) {
	n.mu.Lock()
	n.links[guildID] = struct{}{}
	n.mu.Unlock()
}

func (n *Node) removeLink(guildID int64) {
	n.mu.Lock()
	delete(n.links, guildID)
	n.mu.Unlock()
}

// linkIDs snapshots the guild ids currently assigned to this node.
func (n *Node) linkIDs() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int64, 0, len(n.links))
	for gid := range n.links {
		ids = append(ids, gid)
	}
	return ids
}

func (n *Node) clearLinks() {
	n.mu.Lock()
	n.links = make(map[int64]struct{})
	n.mu.Unlock()
}

// close tears the node down for good at client teardown.
func (n *Node) close(ctx context.Context) error {
	err := n.Disconnect(ctx)
	n.cancel()
	return err
}
