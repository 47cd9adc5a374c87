package lavalink

import "encoding/json"

// Wire frames exchanged with a node over its websocket. Every outbound frame
// carries the guild id as a decimal string.

// ── Outbound frames ───────────────────────────────────────────────────────────

// voiceUpdateMsg forwards the combined voice-server credentials and session id
// to the node so it can attach to the guild's voice channel. Event is the raw
// VOICE_SERVER_UPDATE payload from the chat gateway, passed through verbatim.
type voiceUpdateMsg struct {
	Op        string          `json:"op"` // "voiceUpdate"
	GuildID   string          `json:"guildId"`
	SessionID string          `json:"sessionId"`
	Event     json.RawMessage `json:"event"`
}

type playMsg struct {
	Op        string `json:"op"` // "play"
	GuildID   string `json:"guildId"`
	Track     string `json:"track"`
	StartTime int64  `json:"startTime"`
	NoReplace bool   `json:"noReplace"`
}

type pauseMsg struct {
	Op      string `json:"op"` // "pause"
	GuildID string `json:"guildId"`
	Pause   bool   `json:"pause"`
}

type stopMsg struct {
	Op      string `json:"op"` // "stop"
	GuildID string `json:"guildId"`
}

type seekMsg struct {
	Op       string `json:"op"` // "seek"
	GuildID  string `json:"guildId"`
	Position int64  `json:"position"`
}

type volumeMsg struct {
	Op      string `json:"op"` // "volume"
	GuildID string `json:"guildId"`
	Volume  int    `json:"volume"`
}

// Band is one equalizer band setting. Band indices run 0–14; gains are
// clamped into [-0.25, 1.0] before they reach the wire.
type Band struct {
	Band int     `json:"band"`
	Gain float64 `json:"gain"`
}

type equalizerMsg struct {
	Op      string `json:"op"` // "equalizer"
	GuildID string `json:"guildId"`
	Bands   []Band `json:"bands"`
}

type destroyMsg struct {
	Op      string `json:"op"` // "destroy"
	GuildID string `json:"guildId"`
}

// ── Inbound frames ────────────────────────────────────────────────────────────

// inboundFrame is the envelope of every node message; only Op is guaranteed.
type inboundFrame struct {
	Op string `json:"op"`
}

type playerUpdateMsg struct {
	GuildID string      `json:"guildId"`
	State   playerState `json:"state"`
}

// playerState is the periodic position report. Position is absent when the
// node has nothing to report for the guild.
type playerState struct {
	Time     int64  `json:"time"` // unix millis on the node
	Position *int64 `json:"position"`
}

type eventMsg struct {
	GuildID     string `json:"guildId"`
	Type        string `json:"type"`
	Reason      string `json:"reason"`
	Error       string `json:"error"`
	ThresholdMs int64  `json:"thresholdMs"`
	Code        int    `json:"code"`
	ByRemote    bool   `json:"byRemote"`
}

// statsMsg mirrors the node's periodic stats frame.
type statsMsg struct {
	Players        int        `json:"players"`
	PlayingPlayers int        `json:"playingPlayers"`
	Uptime         int64      `json:"uptime"`
	Memory         memStats   `json:"memory"`
	CPU            cpuStats   `json:"cpu"`
	FrameStats     *frameMsgs `json:"frameStats"`
}

type memStats struct {
	Free       int64 `json:"free"`
	Used       int64 `json:"used"`
	Allocated  int64 `json:"allocated"`
	Reservable int64 `json:"reservable"`
}

type cpuStats struct {
	Cores        int     `json:"cores"`
	SystemLoad   float64 `json:"systemLoad"`
	LavalinkLoad float64 `json:"lavalinkLoad"`
}

type frameMsgs struct {
	Sent    int `json:"sent"`
	Nulled  int `json:"nulled"`
	Deficit int `json:"deficit"`
}

// ── Chat gateway frames ───────────────────────────────────────────────────────

// gatewayFrame is the raw envelope the embedder forwards from the chat
// platform's main websocket. Only VOICE_SERVER_UPDATE and VOICE_STATE_UPDATE
// are acted on.
type gatewayFrame struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d"`
}

type voiceServerData struct {
	GuildID string `json:"guild_id"`
}

type voiceStateData struct {
	GuildID   string  `json:"guild_id"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
	ChannelID *string `json:"channel_id"`
}
