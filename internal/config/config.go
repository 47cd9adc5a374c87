// Package config provides the configuration schema and loader for the magma
// bot: the Discord identity, the audio node fleet, and server settings.
package config

import "fmt"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure, typically loaded from a YAML
// file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Discord DiscordConfig `yaml:"discord"`
	Nodes   []NodeConfig  `yaml:"nodes"`
}

// ServerConfig holds network and logging settings for the bot process.
type ServerConfig struct {
	// ListenAddr is the TCP address the metrics/health server listens on
	// (e.g., ":8080"). Empty disables the HTTP server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// DiscordConfig identifies the bot on the chat platform.
type DiscordConfig struct {
	// Token is the bot token used to open the gateway session.
	Token string `yaml:"token"`

	// ShardCount is the total number of gateway shards; forwarded to every
	// node on handshake. Defaults to 1.
	ShardCount int `yaml:"shard_count"`
}

// NodeConfig describes one audio worker node.
type NodeConfig struct {
	// Name uniquely identifies the node within the client.
	Name string `yaml:"name"`

	// Host and Port locate both the websocket and the REST endpoint.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// Password is the shared secret sent as the Authorization header.
	Password string `yaml:"password"`
}

// WSURI returns the node's websocket endpoint.
func (n NodeConfig) WSURI() string {
	return fmt.Sprintf("ws://%s:%d", n.Host, n.Port)
}

// RestURI returns the node's REST endpoint.
func (n NodeConfig) RestURI() string {
	return fmt.Sprintf("http://%s:%d", n.Host, n.Port)
}
