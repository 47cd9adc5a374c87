package lavalink

import "math"

// Stats is a snapshot parsed from a node's periodic stats frame.
type Stats struct {
	// Players is the number of players the node currently hosts.
	Players int

	// PlayingPlayers is the subset of players actively producing audio.
	PlayingPlayers int

	// UptimeMillis is the node process uptime.
	UptimeMillis int64

	MemFree       int64
	MemUsed       int64
	MemAllocated  int64
	MemReservable int64

	CPUCores     int
	SystemLoad   float64
	LavalinkLoad float64

	// Per-minute frame statistics. All three are -1 when the node did not
	// include frame stats in the frame.
	AvgFramesSent    int
	AvgFramesNulled  int
	AvgFramesDeficit int
}

func newStats(msg *statsMsg) *Stats {
	s := &Stats{
		Players:          msg.Players,
		PlayingPlayers:   msg.PlayingPlayers,
		UptimeMillis:     msg.Uptime,
		MemFree:          msg.Memory.Free,
		MemUsed:          msg.Memory.Used,
		MemAllocated:     msg.Memory.Allocated,
		MemReservable:    msg.Memory.Reservable,
		CPUCores:         msg.CPU.Cores,
		SystemLoad:       msg.CPU.SystemLoad,
		LavalinkLoad:     msg.CPU.LavalinkLoad,
		AvgFramesSent:    -1,
		AvgFramesNulled:  -1,
		AvgFramesDeficit: -1,
	}
	if msg.FrameStats != nil {
		s.AvgFramesSent = msg.FrameStats.Sent
		s.AvgFramesNulled = msg.FrameStats.Nulled
		s.AvgFramesDeficit = msg.FrameStats.Deficit
	}
	return s
}

// penalty converts a stats snapshot into a scalar load score. Lower is better.
// The formula follows Lavalink's reference balancer: a linear player term, an
// exponential CPU term, and exponential frame-deficit terms that only apply
// when the node reports frame stats.
func (s *Stats) penalty() float64 {
	playerPenalty := float64(s.PlayingPlayers)
	cpuPenalty := math.Pow(1.05, 100*s.SystemLoad)*10 - 10

	var deficitPenalty, nullPenalty float64
	if s.AvgFramesDeficit != -1 {
		deficitPenalty = math.Pow(1.03, 500*float64(s.AvgFramesDeficit)/3000)*600 - 600
		nullPenalty = (math.Pow(1.03, 500*float64(s.AvgFramesNulled)/3000)*300 - 300) * 2
	}

	return playerPenalty + cpuPenalty + deficitPenalty + nullPenalty
}

// Penalty returns the node's current load score. An unavailable node, or one
// that has not yet reported stats, scores +Inf and is never selected.
func (n *Node) Penalty() float64 {
	n.mu.Lock()
	stats, available := n.stats, n.available
	n.mu.Unlock()

	if !available || stats == nil {
		return math.Inf(1)
	}
	return stats.penalty()
}
