package config

import (
	"strings"
	"testing"
)

const validYAML = `
server:
  listen_addr: ":8080"
  log_level: "debug"
discord:
  token: "bot-token"
  shard_count: 2
nodes:
  - name: "main"
    host: "localhost"
    port: 2333
    password: "pw"
`

func TestLoadFromReader_Valid(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":8080" || cfg.Server.LogLevel != LogDebug {
		t.Errorf("server config = %+v", cfg.Server)
	}
	if cfg.Discord.Token != "bot-token" || cfg.Discord.ShardCount != 2 {
		t.Errorf("discord config = %+v", cfg.Discord)
	}
	if len(cfg.Nodes) != 1 || cfg.Nodes[0].Name != "main" {
		t.Fatalf("nodes = %+v", cfg.Nodes)
	}
	if got := cfg.Nodes[0].WSURI(); got != "ws://localhost:2333" {
		t.Errorf("WSURI = %q", got)
	}
	if got := cfg.Nodes[0].RestURI(); got != "http://localhost:2333" {
		t.Errorf("RestURI = %q", got)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadFromReader(strings.NewReader(`
discord:
  token: "t"
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("default log level = %q; want info", cfg.Server.LogLevel)
	}
	if cfg.Discord.ShardCount != 1 {
		t.Errorf("default shard count = %d; want 1", cfg.Discord.ShardCount)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
discord:
  token: "t"
  tokenn: "typo"
`))
	if err == nil {
		t.Error("unknown fields must be rejected")
	}
}

func TestValidate_CollectsAllFailures(t *testing.T) {
	t.Parallel()

	_, err := LoadFromReader(strings.NewReader(`
server:
  log_level: "verbose"
discord:
  token: ""
nodes:
  - name: "a"
    host: "h"
    port: 2333
    password: "pw"
  - name: "a"
    host: ""
    port: 99999
    password: ""
`))
	if err == nil {
		t.Fatal("invalid config must fail validation")
	}
	for _, want := range []string{
		"log_level", "discord.token", "name \"a\" is duplicated",
		"host must be set", "port 99999", "password must be set",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("missing file must error")
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()

	for _, l := range []LogLevel{LogDebug, LogInfo, LogWarn, LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if LogLevel("trace").IsValid() {
		t.Error("trace should be invalid")
	}
}
