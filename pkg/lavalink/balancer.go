package lavalink

import (
	"log/slog"
	"math"
)

// balancer selects the least-loaded node and moves links off nodes that
// disconnect. Selection follows Lavalink's reference penalty weighting.
type balancer struct {
	client *Client
}

// bestNode returns the registered node with the lowest penalty. It fails with
// [ErrNoNodesAvailable] when the registry is empty or the winner is not
// available.
func (b *balancer) bestNode() (*Node, error) {
	nodes := b.client.nodeList()
	if len(nodes) == 0 {
		return nil, ErrNoNodesAvailable
	}

	var best *Node
	record := math.Inf(1)
	for _, n := range nodes {
		if p := n.Penalty(); p < record {
			best = n
			record = p
		}
	}
	if best == nil || !best.Available() {
		return nil, ErrNoNodesAvailable
	}
	return best, nil
}

// onNodeConnect re-homes every link that has no usable node onto the node
// that just finished its handshake.
func (b *balancer) onNodeConnect(node *Node) {
	slog.Info("node available for links", "node", node.name)
	for _, link := range b.client.linkList() {
		current := link.Node()
		if current == nil || current == node || !current.Available() {
			if err := link.changeNode(node.ctx, node); err != nil {
				slog.Warn("link reassignment failed", "node", node.name, "guild_id", link.guildID, "err", err)
			}
		}
	}
}

// onNodeDisconnect migrates every link owned by the departing node onto the
// best surviving node, or destroys them when no candidate remains. The
// departing node's link table is cleared either way.
func (b *balancer) onNodeDisconnect(node *Node) {
	slog.Info("node disconnected, migrating links", "node", node.name)
	next, err := b.bestNode()

	for _, gid := range node.linkIDs() {
		link := b.client.existingLink(gid)
		if link == nil {
			continue
		}
		if err != nil {
			slog.Warn("no migration candidate, destroying link", "guild_id", gid)
			if derr := link.Destroy(node.ctx); derr != nil {
				slog.Warn("link destroy failed", "guild_id", gid, "err", derr)
			}
			continue
		}
		if cerr := link.changeNode(node.ctx, next); cerr != nil {
			slog.Warn("link migration failed", "guild_id", gid, "node", next.name, "err", cerr)
		}
	}
	node.clearLinks()
}
