package lavalink

import (
	"context"
	"errors"
	"testing"
	"time"
)

// registerStubNode puts a hand-built node into the client registry with the
// given availability and stats, bypassing the websocket handshake.
func registerStubNode(c *Client, name string, available bool, stats *Stats) *Node {
	n := newNode(c, name, "ws://unused", "http://unused", "pw")
	n.mu.Lock()
	n.available = available
	n.stats = stats
	n.mu.Unlock()

	c.mu.Lock()
	c.nodes[name] = n
	c.mu.Unlock()
	return n
}

func idleStats(playing int, load float64) *Stats {
	return &Stats{
		PlayingPlayers:   playing,
		SystemLoad:       load,
		AvgFramesSent:    -1,
		AvgFramesNulled:  -1,
		AvgFramesDeficit: -1,
	}
}

func TestBestNode_EmptyRegistry(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)

	if _, err := c.BestNode(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Errorf("BestNode on empty registry = %v; want ErrNoNodesAvailable", err)
	}
}

func TestBestNode_AllUnavailable(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	registerStubNode(c, "a", false, idleStats(0, 0))
	registerStubNode(c, "b", false, idleStats(0, 0))

	if _, err := c.BestNode(); !errors.Is(err, ErrNoNodesAvailable) {
		t.Errorf("BestNode with only unavailable nodes = %v; want ErrNoNodesAvailable", err)
	}
}

func TestBestNode_PicksLowestPenalty(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	light := registerStubNode(c, "light", true, idleStats(1, 0.1))
	registerStubNode(c, "crowded", true, idleStats(5, 0.1))

	got, err := c.BestNode()
	if err != nil {
		t.Fatalf("BestNode: %v", err)
	}
	if got != light {
		t.Errorf("BestNode = %q; want %q", got.Name(), light.Name())
	}
}

func TestBestNode_HighLoadFlipsSelection(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	a := registerStubNode(c, "a", true, idleStats(1, 0.1))
	b := registerStubNode(c, "b", true, idleStats(5, 0.1))

	if got, _ := c.BestNode(); got != a {
		t.Fatalf("precondition: BestNode should start at %q", a.Name())
	}

	// A 0.9 system load makes the exponential CPU term dwarf the player term.
	a.mu.Lock()
	a.stats = idleStats(1, 0.9)
	a.mu.Unlock()

	got, err := c.BestNode()
	if err != nil {
		t.Fatalf("BestNode: %v", err)
	}
	if got != b {
		t.Errorf("BestNode after load spike = %q; want %q", got.Name(), b.Name())
	}
}

func TestBestNode_SkipsNodesWithoutStats(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	registerStubNode(c, "fresh", true, nil)
	ready := registerStubNode(c, "ready", true, idleStats(10, 0.2))

	got, err := c.BestNode()
	if err != nil {
		t.Fatalf("BestNode: %v", err)
	}
	if got != ready {
		t.Errorf("BestNode = %q; a node without stats must never win", got.Name())
	}
}

func TestMigration_LinkMovesToSurvivingNode(t *testing.T) {
	t.Parallel()
	w1 := startWorker(t)
	w2 := startWorker(t)
	c := newTestClient(t, nil)

	n1 := addWorker(t, c, w1, "n1")
	n2 := addWorker(t, c, w2, "n2")

	// Bias n2 so the link lands on n1 first.
	busy := idleStatsFrame()
	busy["playingPlayers"] = 5
	writeFrame(t, w2.conn(t), busy)
	waitFor(t, func() bool {
		s := n2.Stats()
		return s != nil && s.PlayingPlayers == 5
	}, "n2 stats never updated")

	link := wireVoice(t, c, w1, 123)
	if link.Node() != n1 {
		t.Fatalf("link landed on %q; want n1", link.Node().Name())
	}

	if err := n1.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	// The voice session must be replayed to the survivor.
	frame := w2.nextFrame(t, "voiceUpdate")
	if frame["sessionId"] != "abc" || frame["guildId"] != "123" {
		t.Errorf("replayed voiceUpdate = %v; want original session for guild 123", frame)
	}

	waitFor(t, func() bool { return link.Node() == n2 }, "link never moved to n2")
	waitFor(t, func() bool { return len(n1.linkIDs()) == 0 }, "n1 still tracks the migrated guild")
	if ids := n2.linkIDs(); len(ids) != 1 || ids[0] != 123 {
		t.Errorf("n2 link table = %v; want [123]", ids)
	}
	if got := link.State(); got != StateConnected {
		t.Errorf("link state = %v after migration; want CONNECTED", got)
	}
}

func TestMigration_NoCandidateDestroysLink(t *testing.T) {
	t.Parallel()
	w := startWorker(t)
	c := newTestClient(t, nil)
	node := addWorker(t, c, w, "only")
	link := wireVoice(t, c, w, 123)

	if err := node.Disconnect(context.Background()); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	waitFor(t, func() bool { return c.existingLink(123) == nil },
		"orphaned link never destroyed")
	waitFor(t, func() bool { return link.State() == StateDestroyed },
		"orphaned link never reached DESTROYED")
	if ids := node.linkIDs(); len(ids) != 0 {
		t.Errorf("departed node still tracks guilds %v", ids)
	}
}

func TestReconnect_LinkKeepsHealthyNode(t *testing.T) {
	t.Parallel()
	w1 := startWorker(t)
	w2 := startWorker(t)
	c := newTestClient(t, nil)

	n1 := addWorker(t, c, w1, "n1")
	addWorker(t, c, w2, "n2")

	busy := idleStatsFrame()
	busy["playingPlayers"] = 5
	writeFrame(t, w2.conn(t), busy)
	waitFor(t, func() bool {
		s, _ := c.Node("n2")
		return s.Stats() != nil && s.Stats().PlayingPlayers == 5
	}, "n2 stats never updated")

	link := wireVoice(t, c, w1, 123)
	first := w1.conn(t) // consume the original connection

	// Drop n1's socket without a close frame: the link migrates to n2 before
	// the reconnect kicks in, so the returning n1 finds no orphans to claim.
	// (httptest's CloseClientConnections skips hijacked conns, so sever the
	// server-side socket directly.)
	_ = first.CloseNow()
	w2.nextFrame(t, "voiceUpdate")

	select {
	case <-w1.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("n1 never reconnected")
	}
	waitFor(t, func() bool { return n1.Available() }, "n1 unavailable after reconnect")

	// The link stays wherever it is currently healthy; it must still have an
	// available node and an intact voice session either way.
	current := link.Node()
	if current == nil || !current.Available() {
		t.Errorf("link has no healthy node after reconnect cycle")
	}
	if got := link.State(); got != StateConnected {
		t.Errorf("link state = %v; want CONNECTED", got)
	}
}
