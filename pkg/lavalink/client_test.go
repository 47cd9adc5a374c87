package lavalink

import (
	"context"
	"testing"
	"time"
)

func TestClient_LinkIsLazyAndStable(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)

	if c.existingLink(123) != nil {
		t.Error("link must not exist before first lookup")
	}
	l1 := c.Link(123)
	l2 := c.Link(123)
	if l1 != l2 {
		t.Error("Link must return the same instance per guild")
	}
	if l1.GuildID() != 123 {
		t.Errorf("GuildID = %d; want 123", l1.GuildID())
	}
}

func TestClient_HandleGatewayEvent_MalformedFrame(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)

	if err := c.HandleGatewayEvent(context.Background(), []byte(`{not json`)); err == nil {
		t.Error("malformed frame must error")
	}
}

func TestClient_HandleGatewayEvent_UnrelatedFrameIgnored(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)

	raw := `{"t":"MESSAGE_CREATE","d":{"content":"hi"}}`
	if err := c.HandleGatewayEvent(context.Background(), []byte(raw)); err != nil {
		t.Errorf("unrelated frame = %v; want nil", err)
	}
}

func TestClient_HandleGatewayEvent_NoLinkIsNoop(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)

	// Voice frames for guilds the bot never linked are dropped silently.
	raw := `{"t":"VOICE_SERVER_UPDATE","d":{"guild_id":"999","token":"x","endpoint":"y"}}`
	if err := c.HandleGatewayEvent(context.Background(), []byte(raw)); err != nil {
		t.Errorf("voice frame without link = %v; want nil", err)
	}
	if c.existingLink(999) != nil {
		t.Error("gateway events must not create links")
	}
}

func TestClient_HandleGatewayEvent_RecordsSessionID(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	link := c.Link(123)

	raw := `{"t":"VOICE_STATE_UPDATE","d":{"guild_id":"123","user_id":"424242","session_id":"sess-1","channel_id":"555"}}`
	if err := c.HandleGatewayEvent(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("HandleGatewayEvent: %v", err)
	}

	link.mu.Lock()
	sid := link.lastSessionID
	link.mu.Unlock()
	if sid != "sess-1" {
		t.Errorf("lastSessionID = %q; want sess-1", sid)
	}
}

func TestClient_PlayingGuilds(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	registerStubNode(c, "a", true, idleStats(3, 0))
	registerStubNode(c, "b", true, idleStats(4, 0))
	registerStubNode(c, "silent", true, nil) // no stats yet, omitted

	got := c.PlayingGuilds()
	if len(got) != 2 || got["a"] != 3 || got["b"] != 4 {
		t.Errorf("PlayingGuilds = %v; want a:3 b:4", got)
	}
	if total := c.TotalPlayingGuilds(); total != 7 {
		t.Errorf("TotalPlayingGuilds = %d; want 7", total)
	}
}

func TestClient_NodesSnapshot(t *testing.T) {
	t.Parallel()
	c := newTestClient(t, nil)
	registerStubNode(c, "a", true, nil)
	registerStubNode(c, "b", false, nil)

	if got := len(c.Nodes()); got != 2 {
		t.Errorf("len(Nodes) = %d; want 2", got)
	}
	if _, ok := c.Node("a"); !ok {
		t.Error("Node(a) not found")
	}
	if _, ok := c.Node("missing"); ok {
		t.Error("Node(missing) should not exist")
	}
}

func TestClient_CloseDisconnectsNodes(t *testing.T) {
	t.Parallel()
	w := startWorker(t)
	c := New(botUserID, 1, nil)
	node := addWorker(t, c, w, "main")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	waitFor(t, func() bool { return !node.Available() }, "node still available after Close")
}

func TestClient_Options(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, nil, WithoutRESTRetry())
	if c.restRetry {
		t.Error("WithoutRESTRetry must clear restRetry")
	}
	if New(botUserID, 1, nil).restRetry != true {
		t.Error("retry must default to on")
	}
}
