package lavalink

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"
)

const (
	defaultVolume = 100
	minVolume     = 0
	maxVolume     = 150

	eqBands = 15
	minGain = -0.25
	maxGain = 1.0
)

// BassMode is a named 2-band bass-boost preset.
type BassMode string

const (
	BassOff     BassMode = "off"
	BassLow     BassMode = "low"
	BassMedium  BassMode = "medium"
	BassHigh    BassMode = "high"
	BassExtreme BassMode = "extreme"
	BassSicko   BassMode = "sicko"
)

// bassPresets maps each mode to its gains for bands 0 and 1.
var bassPresets = map[BassMode][]Band{
	BassOff:     {{Band: 0, Gain: 0}, {Band: 1, Gain: 0}},
	BassLow:     {{Band: 0, Gain: 0.25}, {Band: 1, Gain: 0.15}},
	BassMedium:  {{Band: 0, Gain: 0.50}, {Band: 1, Gain: 0.25}},
	BassHigh:    {{Band: 0, Gain: 0.75}, {Band: 1, Gain: 0.50}},
	BassExtreme: {{Band: 0, Gain: 1}, {Band: 1, Gain: 0.75}},
	BassSicko:   {{Band: 0, Gain: 1}, {Band: 1, Gain: 1}},
}

// Player is the command facade for one link's audio session. Commands are
// dispatched to whichever node currently owns the link; the play position is
// extrapolated locally between the node's periodic state reports.
type Player struct {
	link *Link

	mu         sync.Mutex
	current    *Track
	handler    EventHandler
	paused     bool
	volume     int
	equalizer  [eqBands]float64
	bassMode   BassMode
	updateTime time.Time
	position   time.Duration
}

func newPlayer(l *Link) *Player {
	return &Player{
		link:     l,
		volume:   defaultVolume,
		bassMode: BassOff,
	}
}

// Link returns the link that owns this player.
func (p *Player) Link() *Link { return p.link }

// Current returns the track the player believes is playing, or nil.
func (p *Player) Current() *Track {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// IsPlaying reports whether a track is current.
func (p *Player) IsPlaying() bool { return p.Current() != nil }

// Paused reports the local paused flag.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Volume returns the local volume (0–150).
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Equalizer returns a copy of the 15-band gain table.
func (p *Player) Equalizer() [eqBands]float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.equalizer
}

// Bass returns the active bass-boost preset.
func (p *Player) Bass() BassMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bassMode
}

// SetEventHandler installs the embedder's event handler. Errors and panics
// from the handler are logged, never propagated.
func (p *Player) SetEventHandler(h EventHandler) {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
}

// Position extrapolates the current play position from the last node report.
// It is bounded above by the track duration and holds still while paused.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return 0
	}
	pos := p.position
	if !p.paused && !p.updateTime.IsZero() {
		pos += time.Since(p.updateTime)
	}
	return min(pos, p.current.Duration)
}

// provideState ingests one playerUpdate frame from the node. A report without
// a position means the node has nothing playing for this guild.
func (p *Player) provideState(state playerState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateTime = time.Now()
	if state.Position == nil {
		p.resetLocked()
		return
	}
	p.position = time.Duration(*state.Position) * time.Millisecond
}

// reset drops the current track and position, e.g. after a terminal track end.
func (p *Player) reset() {
	p.mu.Lock()
	p.resetLocked()
	p.mu.Unlock()
}

func (p *Player) resetLocked() {
	p.current = nil
	p.updateTime = time.Time{}
	p.position = 0
}

func (p *Player) guildIDString() string {
	return strconv.FormatInt(p.link.guildID, 10)
}

// ── Commands ──────────────────────────────────────────────────────────────────

// PlayOption adjusts a single Play call.
type PlayOption func(*playOptions)

type playOptions struct {
	startTime time.Duration
	noReplace bool
}

// WithStartTime starts playback at the given offset into the track.
func WithStartTime(d time.Duration) PlayOption {
	return func(o *playOptions) { o.startTime = d }
}

// WithReplace lets the new track replace whatever is currently playing.
// By default a play command is dropped by the worker while a track plays.
func WithReplace() PlayOption {
	return func(o *playOptions) { o.noReplace = false }
}

// Play asks the owning node to play track, selecting a node if the link has
// none.
func (p *Player) Play(ctx context.Context, track *Track, opts ...PlayOption) error {
	o := playOptions{noReplace: true}
	for _, opt := range opts {
		opt(&o)
	}

	err := p.link.sendOp(ctx, playMsg{
		Op:        "play",
		GuildID:   p.guildIDString(),
		Track:     track.Encoded,
		StartTime: o.startTime.Milliseconds(),
		NoReplace: o.noReplace,
	}, true)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.current = track
	p.updateTime = time.Now()
	p.position = o.startTime
	p.mu.Unlock()

	p.emit(&TrackStartEvent{player: p, Track: track})
	return nil
}

// Stop asks the owning node to stop the current track.
func (p *Player) Stop(ctx context.Context) error {
	return p.link.sendOp(ctx, stopMsg{Op: "stop", GuildID: p.guildIDString()}, false)
}

// SeekTo jumps to the given position in the current track.
func (p *Player) SeekTo(ctx context.Context, position time.Duration) error {
	p.mu.Lock()
	current := p.current
	p.mu.Unlock()
	if current == nil {
		return illegalActionf("not playing anything right now")
	}
	if !current.Seekable {
		return illegalActionf("cannot seek in this track")
	}

	return p.link.sendOp(ctx, seekMsg{
		Op:       "seek",
		GuildID:  p.guildIDString(),
		Position: position.Milliseconds(),
	}, false)
}

// SetPaused pauses or resumes playback and fires the matching local event.
func (p *Player) SetPaused(ctx context.Context, pause bool) error {
	err := p.link.sendOp(ctx, pauseMsg{Op: "pause", GuildID: p.guildIDString(), Pause: pause}, false)
	if err != nil {
		return err
	}

	p.mu.Lock()
	// Fold the elapsed play time into the stored position before freezing it.
	if pause && !p.paused && !p.updateTime.IsZero() {
		p.position += time.Since(p.updateTime)
	}
	p.updateTime = time.Now()
	p.paused = pause
	p.mu.Unlock()

	if pause {
		p.emit(&TrackPauseEvent{player: p})
	} else {
		p.emit(&TrackResumeEvent{player: p})
	}
	return nil
}

// SetVolume sets the playback volume; v must be within 0–150.
func (p *Player) SetVolume(ctx context.Context, v int) error {
	if v < minVolume || v > maxVolume {
		return illegalActionf("volume must be between %d and %d, got %d", minVolume, maxVolume, v)
	}
	err := p.link.sendOp(ctx, volumeMsg{Op: "volume", GuildID: p.guildIDString(), Volume: v}, false)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
	return nil
}

// SetEqualizer applies gains to multiple bands. Gains are clamped into
// [-0.25, 1.0]; bands outside 0–14 are dropped.
func (p *Player) SetEqualizer(ctx context.Context, bands ...Band) error {
	cleaned := make([]Band, 0, len(bands))
	for _, b := range bands {
		if b.Band < 0 || b.Band >= eqBands {
			continue
		}
		b.Gain = max(min(b.Gain, maxGain), minGain)
		cleaned = append(cleaned, b)
	}

	err := p.link.sendOp(ctx, equalizerMsg{
		Op:      "equalizer",
		GuildID: p.guildIDString(),
		Bands:   cleaned,
	}, false)
	if err != nil {
		return err
	}

	p.mu.Lock()
	for _, b := range cleaned {
		p.equalizer[b.Band] = b.Gain
	}
	p.mu.Unlock()
	return nil
}

// SetGain sets one equalizer band.
func (p *Player) SetGain(ctx context.Context, band int, gain float64) error {
	return p.SetEqualizer(ctx, Band{Band: band, Gain: gain})
}

// SetBass applies a bass-boost preset to bands 0 and 1.
func (p *Player) SetBass(ctx context.Context, mode BassMode) error {
	preset, ok := bassPresets[mode]
	if !ok {
		return illegalActionf("unknown bass mode %q", mode)
	}
	if err := p.SetEqualizer(ctx, preset...); err != nil {
		return err
	}
	p.mu.Lock()
	p.bassMode = mode
	p.mu.Unlock()
	return nil
}

// destroy releases the worker-side player, best-effort, and drops the
// embedder's event handler. Called by Link.Destroy with the owning node.
func (p *Player) destroy(ctx context.Context, node *Node) {
	if node != nil && node.Available() {
		if err := node.Send(ctx, destroyMsg{Op: "destroy", GuildID: p.guildIDString()}); err != nil {
			slog.Warn("player destroy send failed", "guild_id", p.link.guildID, "err", err)
		}
	}
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()
}

// nodeChanged re-establishes playback on a new node after migration: the
// current track is replayed at its last known position, then pause and volume
// are re-applied. The equalizer is deliberately not restored.
func (p *Player) nodeChanged(ctx context.Context, node *Node) {
	p.mu.Lock()
	current := p.current
	position := p.position
	if !p.paused && !p.updateTime.IsZero() {
		position += time.Since(p.updateTime)
	}
	paused := p.paused
	volume := p.volume
	gid := p.guildIDString()
	p.mu.Unlock()

	if current != nil {
		err := node.Send(ctx, playMsg{
			Op:        "play",
			GuildID:   gid,
			Track:     current.Encoded,
			StartTime: position.Milliseconds(),
			NoReplace: false,
		})
		if err != nil {
			slog.Warn("playback migration failed", "guild_id", p.link.guildID, "node", node.name, "err", err)
			return
		}
		p.mu.Lock()
		p.updateTime = time.Now()
		p.mu.Unlock()

		if paused {
			if err := node.Send(ctx, pauseMsg{Op: "pause", GuildID: gid, Pause: true}); err != nil {
				slog.Warn("pause migration failed", "guild_id", p.link.guildID, "err", err)
			}
		}
	}
	if volume != defaultVolume {
		if err := node.Send(ctx, volumeMsg{Op: "volume", GuildID: gid, Volume: volume}); err != nil {
			slog.Warn("volume migration failed", "guild_id", p.link.guildID, "err", err)
		}
	}
}

// emit runs the built-in adapter, then the embedder's handler. Handler errors
// and panics are logged and never abort the event pipeline.
func (p *Player) emit(e Event) {
	internalAdapter(e)

	p.mu.Lock()
	handler := p.handler
	p.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked", "guild_id", p.link.guildID, "panic", r)
		}
	}()
	if err := handler.OnEvent(e); err != nil {
		slog.Error("event handler failed", "guild_id", p.link.guildID, "err", err)
	}
}
