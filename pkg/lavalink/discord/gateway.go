// Package discord implements the [lavalink.Gateway] interface on top of a
// bwmarrin/discordgo session and bridges the session's voice events into a
// [lavalink.Client]. The session (and its gateway connection) stays owned by
// the bot layer.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/bwmarrin/discordgo"

	"github.com/initzx/magma/pkg/lavalink"
)

// Compile-time interface assertion.
var _ lavalink.Gateway = (*Gateway)(nil)

// Gateway sends voice-state intents through a discordgo session and answers
// voice-placement queries from its state cache.
type Gateway struct {
	session *discordgo.Session
}

// NewGateway creates a Gateway for the given session. The session must have
// state tracking enabled (discordgo's default).
func NewGateway(session *discordgo.Session) *Gateway {
	return &Gateway{session: session}
}

// SendVoiceState sends a gateway op-4 frame for the guild. An empty channelID
// disconnects the bot from voice.
func (g *Gateway) SendVoiceState(_ context.Context, guildID int64, channelID string) error {
	gid := strconv.FormatInt(guildID, 10)
	if err := g.session.ChannelVoiceJoinManual(gid, channelID, false, false); err != nil {
		return fmt.Errorf("discord: voice state update for guild %s: %w", gid, err)
	}
	return nil
}

// VoiceChannelID reports the voice channel the bot currently occupies in the
// guild according to the session's state cache.
func (g *Gateway) VoiceChannelID(guildID int64) (string, bool) {
	gid := strconv.FormatInt(guildID, 10)
	vs, err := g.session.State.VoiceState(gid, g.session.State.User.ID)
	if err != nil || vs == nil || vs.ChannelID == "" {
		return "", false
	}
	return vs.ChannelID, true
}

// CanConnect checks that the guild is available, the channel belongs to it,
// and the bot may join: either connect permission with a free slot, or the
// move-members permission which overrides the user limit.
func (g *Gateway) CanConnect(guildID int64, channelID string) error {
	gid := strconv.FormatInt(guildID, 10)

	guild, err := g.session.State.Guild(gid)
	if err != nil {
		return &lavalink.IllegalActionError{Reason: fmt.Sprintf("unknown guild %s", gid)}
	}
	if guild.Unavailable {
		return &lavalink.IllegalActionError{Reason: fmt.Sprintf("guild %s is unavailable", gid)}
	}

	channel, err := g.session.State.Channel(channelID)
	if err != nil {
		return &lavalink.IllegalActionError{Reason: fmt.Sprintf("unknown channel %s", channelID)}
	}
	if channel.GuildID != gid {
		return &lavalink.IllegalActionError{Reason: fmt.Sprintf("channel %s does not belong to guild %s", channelID, gid)}
	}

	perms, err := g.session.State.UserChannelPermissions(g.session.State.User.ID, channelID)
	if err != nil {
		return fmt.Errorf("discord: resolve permissions for channel %s: %w", channelID, err)
	}
	if perms&discordgo.PermissionVoiceMoveMembers != 0 {
		return nil
	}
	if perms&discordgo.PermissionVoiceConnect == 0 {
		return &lavalink.IllegalActionError{Reason: fmt.Sprintf("missing connect permission for channel %s", channelID)}
	}
	if limit := channel.UserLimit; limit > 0 && g.channelOccupancy(guild, channelID) >= limit {
		return &lavalink.IllegalActionError{Reason: fmt.Sprintf("channel %s is full", channelID)}
	}
	return nil
}

func (g *Gateway) channelOccupancy(guild *discordgo.Guild, channelID string) int {
	count := 0
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID == channelID {
			count++
		}
	}
	return count
}

// Attach registers handlers on the session that forward VoiceServerUpdate and
// VoiceStateUpdate events into the client. The returned function removes the
// handlers again.
func Attach(session *discordgo.Session, client *lavalink.Client) func() {
	removeServer := session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceServerUpdate) {
		gid, err := strconv.ParseInt(e.GuildID, 10, 64)
		if err != nil {
			return
		}
		raw, err := json.Marshal(e)
		if err != nil {
			slog.Warn("marshal voice server update", "guild_id", e.GuildID, "err", err)
			return
		}
		if err := client.OnVoiceServerUpdate(context.Background(), gid, raw); err != nil {
			slog.Warn("voice server update rejected", "guild_id", e.GuildID, "err", err)
		}
	})
	removeState := session.AddHandler(func(_ *discordgo.Session, e *discordgo.VoiceStateUpdate) {
		gid, err := strconv.ParseInt(e.GuildID, 10, 64)
		if err != nil {
			return
		}
		var channelID *string
		if e.ChannelID != "" {
			channelID = &e.ChannelID
		}
		if err := client.OnVoiceStateUpdate(context.Background(), gid, e.UserID, e.SessionID, channelID); err != nil {
			slog.Warn("voice state update rejected", "guild_id", e.GuildID, "err", err)
		}
	})
	return func() {
		removeServer()
		removeState()
	}
}
