package lavalink

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all magma metrics.
const meterName = "github.com/initzx/magma"

// metrics holds the OpenTelemetry instruments the client records. A nil
// *metrics is valid and records nothing, so instrument-creation failures
// degrade to silence instead of breaking the client.
type metrics struct {
	// NodeConnects counts completed node handshakes. Attributes:
	//   attribute.String("node", ...)
	NodeConnects metric.Int64Counter

	// NodeDisconnects counts node session closures. Attributes:
	//   attribute.String("node", ...), attribute.Bool("graceful", ...)
	NodeDisconnects metric.Int64Counter

	// WSMessages counts inbound websocket frames by op. Attributes:
	//   attribute.String("node", ...), attribute.String("op", ...)
	WSMessages metric.Int64Counter

	// LoadTracksDuration tracks REST track-lookup latency in seconds.
	LoadTracksDuration metric.Float64Histogram

	// ActiveLinks tracks the number of live per-guild links.
	ActiveLinks metric.Int64UpDownCounter

	// PlayerEvents counts node-emitted player events by type.
	PlayerEvents metric.Int64Counter
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	m := mp.Meter(meterName)
	met := &metrics{}
	var err error

	if met.NodeConnects, err = m.Int64Counter("magma.node.connects",
		metric.WithDescription("Completed node websocket handshakes."),
	); err != nil {
		return nil, err
	}
	if met.NodeDisconnects, err = m.Int64Counter("magma.node.disconnects",
		metric.WithDescription("Node websocket session closures."),
	); err != nil {
		return nil, err
	}
	if met.WSMessages, err = m.Int64Counter("magma.node.messages",
		metric.WithDescription("Inbound node websocket frames by op."),
	); err != nil {
		return nil, err
	}
	if met.LoadTracksDuration, err = m.Float64Histogram("magma.loadtracks.duration",
		metric.WithDescription("Latency of REST track lookups."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.ActiveLinks, err = m.Int64UpDownCounter("magma.links.active",
		metric.WithDescription("Live per-guild links."),
	); err != nil {
		return nil, err
	}
	if met.PlayerEvents, err = m.Int64Counter("magma.player.events",
		metric.WithDescription("Player events emitted by nodes, by type."),
	); err != nil {
		return nil, err
	}
	return met, nil
}

func (m *metrics) nodeConnect(node string) {
	if m == nil {
		return
	}
	m.NodeConnects.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("node", node)))
}

func (m *metrics) nodeDisconnect(node string, graceful bool) {
	if m == nil {
		return
	}
	m.NodeDisconnects.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("node", node), attribute.Bool("graceful", graceful)))
}

func (m *metrics) wsMessage(node, op string) {
	if m == nil {
		return
	}
	m.WSMessages.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("node", node), attribute.String("op", op)))
}

func (m *metrics) loadTracks(node string, d time.Duration) {
	if m == nil {
		return
	}
	m.LoadTracksDuration.Record(context.Background(), d.Seconds(),
		metric.WithAttributes(attribute.String("node", node)))
}

func (m *metrics) linkDelta(delta int64) {
	if m == nil {
		return
	}
	m.ActiveLinks.Add(context.Background(), delta)
}

func (m *metrics) playerEvent(eventType string) {
	if m == nil {
		return
	}
	m.PlayerEvents.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("type", eventType)))
}
