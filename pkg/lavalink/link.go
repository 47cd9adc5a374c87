package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

// State is the lifecycle phase of a [Link].
type State int

const (
	StateNotConnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateNotConnected:
		return "NOT_CONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateDisconnecting:
		return "DISCONNECTING"
	case StateDestroying:
		return "DESTROYING"
	case StateDestroyed:
		return "DESTROYED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

const (
	connectPollTimeout  = 10 * time.Second
	connectPollInterval = 100 * time.Millisecond
)

// Link coordinates one guild's voice session between the chat platform and
// whichever node currently owns it. Links are created lazily by
// [Client.Link] and live until destroyed.
type Link struct {
	client  *Client
	guildID int64

	mu              sync.Mutex
	state           State
	lastVoiceUpdate *voiceUpdateMsg
	lastSessionID   string
	node            *Node
	player          *Player
}

func newLink(c *Client, guildID int64) *Link {
	return &Link{client: c, guildID: guildID}
}

// GuildID returns the guild this link serves.
func (l *Link) GuildID() int64 { return l.guildID }

// State returns the link's current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Node returns the node currently assigned to this link, or nil.
func (l *Link) Node() *Node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.node
}

// Player returns the link's player, creating it on first access.
func (l *Link) Player() *Player {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.player == nil {
		l.player = newPlayer(l)
	}
	return l.player
}

// setStateLocked guards transitions: once the link is DESTROYING or DESTROYED
// the only legal next state is DESTROYED. Callers hold l.mu.
func (l *Link) setStateLocked(s State) error {
	if l.state > StateDisconnecting && s != StateDestroyed {
		return illegalActionf("cannot change state to %s when the state is %s", s, l.state)
	}
	l.state = s
	return nil
}

// ── Voice-update choreography ─────────────────────────────────────────────────

// UpdateVoice routes one raw voice-gateway frame to this link. Frames other
// than VOICE_SERVER_UPDATE and VOICE_STATE_UPDATE are ignored.
func (l *Link) UpdateVoice(ctx context.Context, raw []byte) error {
	var frame gatewayFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("lavalink: decode gateway frame: %w", err)
	}
	switch frame.T {
	case "VOICE_SERVER_UPDATE":
		return l.updateVoiceServer(ctx, frame.D)
	case "VOICE_STATE_UPDATE":
		var d voiceStateData
		if err := json.Unmarshal(frame.D, &d); err != nil {
			return fmt.Errorf("lavalink: decode voice state: %w", err)
		}
		return l.updateVoiceState(ctx, d)
	}
	return nil
}

// updateVoiceServer combines the worker endpoint credentials with the most
// recently observed session id and forwards the result to a node, selecting
// one if the link has none.
func (l *Link) updateVoiceServer(ctx context.Context, event json.RawMessage) error {
	if l.guildID == 0 {
		return illegalActionf("cannot start an audio connection for an unknown guild")
	}
	slog.Debug("voice server update", "guild_id", l.guildID)

	l.mu.Lock()
	defer l.mu.Unlock()

	node, err := l.nodeLocked(ctx, true)
	if err != nil {
		return err
	}

	msg := &voiceUpdateMsg{
		Op:        "voiceUpdate",
		GuildID:   strconv.FormatInt(l.guildID, 10),
		SessionID: l.lastSessionID,
		Event:     event,
	}
	l.lastVoiceUpdate = msg

	if err := node.Send(ctx, msg); err != nil {
		return err
	}
	return l.setStateLocked(StateConnected)
}

// updateVoiceState records the session id and detects the bot leaving the
// voice channel. Updates for other users are ignored.
func (l *Link) updateVoiceState(ctx context.Context, d voiceStateData) error {
	uid, err := strconv.ParseInt(d.UserID, 10, 64)
	if err != nil || uid != l.client.userID {
		return nil
	}

	l.mu.Lock()
	l.lastSessionID = d.SessionID
	if d.ChannelID != nil || l.state == StateDestroyed {
		l.mu.Unlock()
		return nil
	}
	// Bot left the channel: release the worker-side session.
	l.state = StateNotConnected
	node := l.node
	gid := strconv.FormatInt(l.guildID, 10)
	l.mu.Unlock()

	if node != nil {
		if err := node.Send(ctx, destroyMsg{Op: "destroy", GuildID: gid}); err != nil {
			slog.Warn("worker session release failed", "guild_id", l.guildID, "err", err)
		}
	}
	return nil
}

// ── Channel lifecycle ─────────────────────────────────────────────────────────

// Connect opens a voice session in the given channel. It validates guild and
// permission preconditions through the gateway, sends the voice-state intent,
// and waits up to ten seconds for the chat platform to place the bot in the
// channel.
func (l *Link) Connect(ctx context.Context, channelID string) error {
	gw := l.client.gateway
	if gw == nil {
		return illegalActionf("no gateway configured")
	}
	if err := gw.CanConnect(l.guildID, channelID); err != nil {
		return err
	}

	l.mu.Lock()
	if err := l.setStateLocked(StateConnecting); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	if err := gw.SendVoiceState(ctx, l.guildID, channelID); err != nil {
		return fmt.Errorf("lavalink: send voice state: %w", err)
	}

	deadline := time.NewTimer(connectPollTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(connectPollInterval)
	defer tick.Stop()
	for {
		if current, ok := gw.VoiceChannelID(l.guildID); ok && current == channelID {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return illegalActionf("couldn't connect to the channel within a reasonable timeframe")
		case <-tick.C:
		}
	}
}

// Disconnect leaves the current voice channel.
func (l *Link) Disconnect(ctx context.Context) error {
	gw := l.client.gateway
	if gw == nil {
		return illegalActionf("no gateway configured")
	}

	l.mu.Lock()
	if err := l.setStateLocked(StateDisconnecting); err != nil {
		l.mu.Unlock()
		return err
	}
	l.mu.Unlock()

	return gw.SendVoiceState(ctx, l.guildID, "")
}

// Destroy removes the link from the client's and the owning node's tables and
// tears down the player. Destroying an already-destroyed link is a no-op.
func (l *Link) Destroy(ctx context.Context) error {
	l.mu.Lock()
	if l.state >= StateDestroying {
		l.mu.Unlock()
		return nil
	}
	l.state = StateDestroying
	player := l.player
	node := l.node
	l.player = nil
	l.mu.Unlock()

	l.client.removeLink(l.guildID)
	if player != nil && node != nil {
		node.removeLink(l.guildID)
		player.destroy(ctx, node)
	}

	l.mu.Lock()
	l.state = StateDestroyed
	l.mu.Unlock()
	return nil
}

// ── Node assignment ───────────────────────────────────────────────────────────

// SelectedNode returns the link's node, selecting the best available one via
// the load balancer when selectIfAbsent is set and the current node is absent
// or unavailable.
func (l *Link) SelectedNode(ctx context.Context, selectIfAbsent bool) (*Node, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nodeLocked(ctx, selectIfAbsent)
}

func (l *Link) nodeLocked(ctx context.Context, selectIfAbsent bool) (*Node, error) {
	if selectIfAbsent && (l.node == nil || !l.node.Available()) {
		best, err := l.client.balancer.bestNode()
		if err != nil {
			return nil, err
		}
		if err := l.changeNodeLocked(ctx, best); err != nil {
			return nil, err
		}
	}
	if l.node == nil {
		return nil, ErrNoNodesAvailable
	}
	return l.node, nil
}

// changeNode moves the link onto node, replaying the last combined voice
// update so the worker can re-attach, then letting the player re-establish
// playback.
func (l *Link) changeNode(ctx context.Context, node *Node) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.changeNodeLocked(ctx, node)
}

func (l *Link) changeNodeLocked(ctx context.Context, node *Node) error {
	old := l.node
	l.node = node
	if old != nil && old != node {
		old.removeLink(l.guildID)
	}
	node.addLink(l.guildID)

	if l.lastVoiceUpdate != nil {
		if err := node.Send(ctx, l.lastVoiceUpdate); err != nil {
			return err
		}
	}
	if l.player != nil {
		l.player.nodeChanged(ctx, node)
	}
	return nil
}

// sendOp resolves the link's node and writes one frame to it. Player commands
// funnel through here so node resolution and the write happen under the
// link's lock, after any pending voice-update replay.
func (l *Link) sendOp(ctx context.Context, msg any, selectIfAbsent bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	node, err := l.nodeLocked(ctx, selectIfAbsent)
	if err != nil {
		return err
	}
	return node.Send(ctx, msg)
}

// ── Track queries ─────────────────────────────────────────────────────────────

// LoadTracks resolves query on the link's node, selecting one if needed.
func (l *Link) LoadTracks(ctx context.Context, query string) (*Playlist, error) {
	node, err := l.SelectedNode(ctx, true)
	if err != nil {
		return nil, err
	}
	return node.LoadTracks(ctx, query)
}

// SearchYouTube runs a YouTube search for query on the link's node.
func (l *Link) SearchYouTube(ctx context.Context, query string) (*Playlist, error) {
	return l.LoadTracks(ctx, "ytsearch:"+query)
}

// SearchSoundCloud runs a SoundCloud search for query on the link's node.
func (l *Link) SearchSoundCloud(ctx context.Context, query string) (*Playlist, error) {
	return l.LoadTracks(ctx, "scsearch:"+query)
}
