package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

const botUserID int64 = 424242

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// testWorker is a fake audio node: a websocket endpoint that sends an initial
// stats frame on accept and records every frame the client writes.
type testWorker struct {
	srv     *httptest.Server
	frames  chan map[string]any
	conns   chan *websocket.Conn
	headers chan http.Header
}

// startWorker launches a fake worker. Accepted connections immediately report
// idle stats so the node becomes eligible for load balancing.
func startWorker(t *testing.T) *testWorker {
	t.Helper()
	w := &testWorker{
		frames:  make(chan map[string]any, 64),
		conns:   make(chan *websocket.Conn, 4),
		headers: make(chan http.Header, 4),
	}
	w.srv = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		select {
		case w.headers <- r.Header.Clone():
		default:
		}
		conn, err := websocket.Accept(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		select {
		case w.conns <- conn:
		default:
		}
		writeFrame(t, conn, idleStatsFrame())

		for {
			_, data, err := conn.Read(context.Background())
			if err != nil {
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				w.frames <- m
			}
		}
	}))
	t.Cleanup(w.srv.Close)
	return w
}

// conn returns the most recently accepted server-side connection.
func (w *testWorker) conn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-w.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for worker connection")
		return nil
	}
}

// nextFrame returns the next frame the client wrote and asserts its op.
func (w *testWorker) nextFrame(t *testing.T, wantOp string) map[string]any {
	t.Helper()
	select {
	case m := <-w.frames:
		if m["op"] != wantOp {
			t.Fatalf("frame op = %v; want %q (frame: %v)", m["op"], wantOp, m)
		}
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("timeout waiting for %q frame", wantOp)
		return nil
	}
}

// expectNoFrame asserts that the client writes nothing for a short window.
func (w *testWorker) expectNoFrame(t *testing.T) {
	t.Helper()
	select {
	case m := <-w.frames:
		t.Fatalf("unexpected frame: %v", m)
	case <-time.After(250 * time.Millisecond):
	}
}

// writeFrame marshals v and sends it as a text frame from the worker side.
func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeFrame: %v (may be expected on close)", err)
	}
}

func idleStatsFrame() map[string]any {
	return map[string]any{
		"op": "stats", "players": 0, "playingPlayers": 0, "uptime": 60000,
		"memory": map[string]any{"free": 1024, "used": 2048, "allocated": 4096, "reservable": 8192},
		"cpu":    map[string]any{"cores": 4, "systemLoad": 0.1, "lavalinkLoad": 0.05},
	}
}

// newTestClient creates a client that is closed when the test finishes.
func newTestClient(t *testing.T, gw Gateway, opts ...Option) *Client {
	t.Helper()
	c := New(botUserID, 1, gw, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

// addWorker registers the worker as a node and waits for its first stats.
func addWorker(t *testing.T, c *Client, w *testWorker, name string) *Node {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	node, err := c.AddNode(ctx, name, wsURL(w.srv), w.srv.URL, "pw")
	if err != nil {
		t.Fatalf("AddNode(%q): %v", name, err)
	}
	waitFor(t, func() bool { return node.Available() && node.Stats() != nil },
		"node never became available with stats")
	return node
}

// wireVoice walks a link through the cold-connect choreography: a voice state
// update with session id "abc" followed by the voice server credentials. It
// consumes the resulting voiceUpdate frame.
func wireVoice(t *testing.T, c *Client, w *testWorker, guildID int64) *Link {
	t.Helper()
	link := c.Link(guildID)

	ctx := context.Background()
	state := fmt.Sprintf(`{"t":"VOICE_STATE_UPDATE","d":{"guild_id":"%d","user_id":"%d","session_id":"abc","channel_id":"555"}}`,
		guildID, botUserID)
	if err := c.HandleGatewayEvent(ctx, []byte(state)); err != nil {
		t.Fatalf("voice state update: %v", err)
	}
	server := fmt.Sprintf(`{"t":"VOICE_SERVER_UPDATE","d":{"guild_id":"%d","token":"tok","endpoint":"voice.example"}}`,
		guildID)
	if err := c.HandleGatewayEvent(ctx, []byte(server)); err != nil {
		t.Fatalf("voice server update: %v", err)
	}

	w.nextFrame(t, "voiceUpdate")
	return link
}

// waitFor polls cond until it holds or three seconds pass.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// newRecordingREST serves a canned search result and records every requested
// identifier into out.
func newRecordingREST(t *testing.T, out *[]string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		mu.Lock()
		*out = append(*out, r.URL.Query().Get("identifier"))
		mu.Unlock()
		rw.Write([]byte(`{"loadType":"SEARCH_RESULT","playlistInfo":{},
			"tracks":[{"track":"enc","info":{"title":"x"}}]}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── Fake gateway ──────────────────────────────────────────────────────────────

// fakeGateway is an in-memory Gateway where voice-state intents take effect
// immediately.
type fakeGateway struct {
	mu            sync.Mutex
	channels      map[int64]string
	canConnectErr error
	intents       []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{channels: make(map[int64]string)}
}

func (g *fakeGateway) SendVoiceState(_ context.Context, guildID int64, channelID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intents = append(g.intents, fmt.Sprintf("%d:%s", guildID, channelID))
	if channelID == "" {
		delete(g.channels, guildID)
	} else {
		g.channels[guildID] = channelID
	}
	return nil
}

func (g *fakeGateway) VoiceChannelID(guildID int64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.channels[guildID]
	return ch, ok
}

func (g *fakeGateway) CanConnect(int64, string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.canConnectErr
}

func (g *fakeGateway) sentIntents() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.intents...)
}
