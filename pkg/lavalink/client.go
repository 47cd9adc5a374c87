// Package lavalink is a client for fleets of Lavalink-compatible audio worker
// nodes. The embedding bot obtains a per-guild [Link], which selects a node,
// forwards voice-gateway events to it, and exposes a [Player] whose commands
// are dispatched to whichever node currently owns the guild. Node failures
// are absorbed by penalty-weighted load balancing and link migration.
package lavalink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// Gateway is the client's hook back into the chat platform's main websocket.
// It sends voice-state intents (gateway op 4) and answers questions about the
// bot's current voice placement. Implementations live with the embedder; a
// discordgo-backed one ships in the discord subpackage.
type Gateway interface {
	// SendVoiceState asks the platform to move the bot into channelID in the
	// given guild. An empty channelID leaves voice entirely.
	SendVoiceState(ctx context.Context, guildID int64, channelID string) error

	// VoiceChannelID reports the channel the bot currently occupies in the
	// guild, if any.
	VoiceChannelID(guildID int64) (string, bool)

	// CanConnect validates that the guild is available and the bot has
	// permission to join channelID. A nil return means go ahead.
	CanConnect(guildID int64, channelID string) error
}

// Option configures a [Client].
type Option func(*Client)

// WithMeterProvider sets the OpenTelemetry meter provider used for the
// client's metrics. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Client) { c.meterProvider = mp }
}

// WithoutRESTRetry disables backoff retries on failed track lookups; a failed
// lookup then yields an empty result instead.
func WithoutRESTRetry() Option {
	return func(c *Client) { c.restRetry = false }
}

// Client is the registry of nodes and per-guild links, and the embedder's
// entry point. All methods are safe for concurrent use.
type Client struct {
	userID        int64
	shardCount    int
	gateway       Gateway
	balancer      *balancer
	metrics       *metrics
	meterProvider metric.MeterProvider
	restRetry     bool

	mu    sync.RWMutex
	nodes map[string]*Node
	links map[int64]*Link
}

// New creates a client for the bot identified by userID, spread over
// shardCount shards. gw may be nil when the embedder drives voice state
// itself and only needs event forwarding.
func New(userID int64, shardCount int, gw Gateway, opts ...Option) *Client {
	c := &Client{
		userID:        userID,
		shardCount:    shardCount,
		gateway:       gw,
		meterProvider: otel.GetMeterProvider(),
		restRetry:     true,
		nodes:         make(map[string]*Node),
		links:         make(map[int64]*Link),
	}
	for _, o := range opts {
		o(c)
	}
	c.balancer = &balancer{client: c}

	m, err := newMetrics(c.meterProvider)
	if err != nil {
		slog.Warn("metric instrument creation failed, metrics disabled", "err", err)
		m = nil
	}
	c.metrics = m
	return c
}

// AddNode registers a node and blocks until its handshake completes, the node
// rejects the credentials, or ctx is cancelled. On credential rejection the
// node stays registered but never becomes available.
func (c *Client) AddNode(ctx context.Context, name, wsURI, restURI, password string) (*Node, error) {
	c.mu.Lock()
	if _, exists := c.nodes[name]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("lavalink: node %q already registered", name)
	}
	node := newNode(c, name, wsURI, restURI, password)
	c.nodes[name] = node
	c.mu.Unlock()

	if err := node.Connect(ctx); err != nil {
		return node, err
	}
	return node, nil
}

// Node returns the registered node with the given name.
func (c *Client) Node(name string) (*Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[name]
	return n, ok
}

// Nodes returns a snapshot of all registered nodes.
func (c *Client) Nodes() []*Node {
	return c.nodeList()
}

// BestNode returns the available node with the lowest penalty score.
func (c *Client) BestNode() (*Node, error) {
	return c.balancer.bestNode()
}

// Link returns the guild's link, creating it on first lookup.
func (c *Client) Link(guildID int64) *Link {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.links[guildID]; ok {
		return l
	}
	l := newLink(c, guildID)
	c.links[guildID] = l
	c.metrics.linkDelta(1)
	return l
}

// HandleGatewayEvent feeds one raw chat-gateway frame into the client. The
// embedder should call this with every frame; anything but
// VOICE_SERVER_UPDATE and VOICE_STATE_UPDATE is ignored, as are frames for
// guilds without a link.
func (c *Client) HandleGatewayEvent(ctx context.Context, raw []byte) error {
	var frame gatewayFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return fmt.Errorf("lavalink: decode gateway frame: %w", err)
	}

	switch frame.T {
	case "VOICE_SERVER_UPDATE":
		var d voiceServerData
		if err := json.Unmarshal(frame.D, &d); err != nil {
			return fmt.Errorf("lavalink: decode voice server update: %w", err)
		}
		gid, err := strconv.ParseInt(d.GuildID, 10, 64)
		if err != nil {
			return fmt.Errorf("lavalink: voice server update guild id: %w", err)
		}
		return c.OnVoiceServerUpdate(ctx, gid, frame.D)
	case "VOICE_STATE_UPDATE":
		var d voiceStateData
		if err := json.Unmarshal(frame.D, &d); err != nil {
			return fmt.Errorf("lavalink: decode voice state update: %w", err)
		}
		gid, err := strconv.ParseInt(d.GuildID, 10, 64)
		if err != nil {
			return fmt.Errorf("lavalink: voice state update guild id: %w", err)
		}
		return c.OnVoiceStateUpdate(ctx, gid, d.UserID, d.SessionID, d.ChannelID)
	}
	return nil
}

// OnVoiceServerUpdate delivers voice-server credentials for a guild. event is
// the raw VOICE_SERVER_UPDATE payload, forwarded to the node verbatim.
func (c *Client) OnVoiceServerUpdate(ctx context.Context, guildID int64, event json.RawMessage) error {
	link := c.existingLink(guildID)
	if link == nil {
		return nil
	}
	return link.updateVoiceServer(ctx, event)
}

// OnVoiceStateUpdate delivers a voice-state session message for a guild.
// channelID nil means the user left voice.
func (c *Client) OnVoiceStateUpdate(ctx context.Context, guildID int64, userID, sessionID string, channelID *string) error {
	link := c.existingLink(guildID)
	if link == nil {
		return nil
	}
	return link.updateVoiceState(ctx, voiceStateData{
		GuildID:   strconv.FormatInt(guildID, 10),
		UserID:    userID,
		SessionID: sessionID,
		ChannelID: channelID,
	})
}

// PlayingGuilds maps each node name to the number of playing players it last
// reported. Nodes without stats are omitted.
func (c *Client) PlayingGuilds() map[string]int {
	out := make(map[string]int)
	for _, n := range c.nodeList() {
		if s := n.Stats(); s != nil {
			out[n.name] = s.PlayingPlayers
		}
	}
	return out
}

// TotalPlayingGuilds sums playing players across all nodes.
func (c *Client) TotalPlayingGuilds() int {
	total := 0
	for _, count := range c.PlayingGuilds() {
		total += count
	}
	return total
}

// Close disconnects every node concurrently and tears the client down.
func (c *Client) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, n := range c.nodeList() {
		g.Go(func() error { return n.close(ctx) })
	}
	return g.Wait()
}

// ── Registry internals ────────────────────────────────────────────────────────

func (c *Client) existingLink(guildID int64) *Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.links[guildID]
}

func (c *Client) removeLink(guildID int64) {
	c.mu.Lock()
	_, ok := c.links[guildID]
	delete(c.links, guildID)
	c.mu.Unlock()
	if ok {
		c.metrics.linkDelta(-1)
	}
}

func (c *Client) nodeList() []*Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]*Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	return nodes
}

func (c *Client) linkList() []*Link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	links := make([]*Link, 0, len(c.links))
	for _, l := range c.links {
		links = append(links, l)
	}
	return links
}
