package lavalink

import "time"

// Event is a tagged variant emitted by a node for one player. The concrete
// types below are the only implementations.
type Event interface {
	// EventPlayer returns the player the event belongs to.
	EventPlayer() *Player
}

// TrackEndReason is the worker-supplied reason for a TrackEndEvent.
type TrackEndReason string

const (
	TrackEndFinished   TrackEndReason = "FINISHED"
	TrackEndLoadFailed TrackEndReason = "LOAD_FAILED"
	TrackEndStopped    TrackEndReason = "STOPPED"
	TrackEndReplaced   TrackEndReason = "REPLACED"
	TrackEndCleanup    TrackEndReason = "CLEANUP"
)

// terminal reports whether the reason ends playback for good. REPLACED means
// a newer play command already superseded the track, so the player state must
// be left alone.
func (r TrackEndReason) terminal() bool {
	return r != TrackEndReplaced
}

// TrackStartEvent fires when the node begins playing a track.
type TrackStartEvent struct {
	player *Player
	Track  *Track
}

// TrackEndEvent fires when a track stops playing on the node.
type TrackEndEvent struct {
	player *Player
	Track  *Track
	Reason TrackEndReason
}

// TrackExceptionEvent fires when the node hit an error while playing.
type TrackExceptionEvent struct {
	player *Player
	Track  *Track
	Error  string
}

// TrackStuckEvent fires when the node could not provide audio for longer than
// its configured threshold.
type TrackStuckEvent struct {
	player    *Player
	Track     *Track
	Threshold time.Duration
}

// TrackPauseEvent fires locally when the player is paused.
type TrackPauseEvent struct {
	player *Player
}

// TrackResumeEvent fires locally when the player is resumed.
type TrackResumeEvent struct {
	player *Player
}

func (e *TrackStartEvent) EventPlayer() *Player     { return e.player }
func (e *TrackEndEvent) EventPlayer() *Player       { return e.player }
func (e *TrackExceptionEvent) EventPlayer() *Player { return e.player }
func (e *TrackStuckEvent) EventPlayer() *Player     { return e.player }
func (e *TrackPauseEvent) EventPlayer() *Player     { return e.player }
func (e *TrackResumeEvent) EventPlayer() *Player    { return e.player }

// EventHandler receives player events. Implementations run on the node's
// receive goroutine and should not block. Errors are logged and never abort
// the event pipeline.
type EventHandler interface {
	OnEvent(e Event) error
}

// EventHandlerFunc adapts a plain function to [EventHandler].
type EventHandlerFunc func(e Event) error

func (f EventHandlerFunc) OnEvent(e Event) error { return f(e) }

// internalAdapter resets the owning player's track and position when a track
// reaches a terminal end. It always runs before the embedder's handler.
func internalAdapter(e Event) {
	if end, ok := e.(*TrackEndEvent); ok && end.Reason.terminal() {
		end.player.reset()
	}
}
