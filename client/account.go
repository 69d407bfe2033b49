package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RunCounters accumulate traffic totals across all workers of a run. They only
// grow, and are read once every worker has returned.
type RunCounters struct {
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	elapsedMicros   atomic.Uint64
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	malformed       atomic.Uint64
	sendErrors      atomic.Uint64
	untracked       atomic.Uint64
}

func (c *RunCounters) sent(n int, took time.Duration) {
	c.bytesSent.Add(uint64(n))
	c.packetsSent.Add(1)
	c.elapsedMicros.Add(uint64(took.Microseconds()))
}

func (c *RunCounters) received(n int) {
	c.bytesReceived.Add(uint64(n))
	c.packetsReceived.Add(1)
}

// Result is the outcome of one run.
type Result struct {
	Mode            Mode
	BytesSent       uint64
	BytesReceived   uint64
	PacketsSent     uint64
	PacketsReceived uint64
	Malformed       uint64
	SendErrors      uint64
	// Untracked counts requests sent after the session ids ran out. Their
	// round trips are not in the RTT table.
	Untracked uint64
	// Elapsed is the time spent inside send calls, summed over all senders.
	Elapsed time.Duration
	// Duration is the configured wall-clock length, zero for packet_count.
	Duration time.Duration

	ThroughputSent     float64
	ThroughputReceived float64
	Unit               string
}

// result freezes the counters and applies the normalization of mode. The modes
// normalize differently so numbers stay comparable with earlier runs:
// duration divides bytes by the run length, the bitrate mode reports bits over
// the run length, and packet_count and ping divide by the time spent sending.
func (c *RunCounters) result(mode Mode, d time.Duration) Result {
	r := Result{
		Mode:            mode,
		BytesSent:       c.bytesSent.Load(),
		BytesReceived:   c.bytesReceived.Load(),
		PacketsSent:     c.packetsSent.Load(),
		PacketsReceived: c.packetsReceived.Load(),
		Malformed:       c.malformed.Load(),
		SendErrors:      c.sendErrors.Load(),
		Untracked:       c.untracked.Load(),
		Elapsed:         time.Duration(c.elapsedMicros.Load()) * time.Microsecond,
		Duration:        d,
	}

	switch mode {
	case ByDuration:
		r.Unit = "B/s"
		r.ThroughputSent = perUnit(float64(r.BytesSent), d.Seconds())
		r.ThroughputReceived = perUnit(float64(r.BytesReceived), d.Seconds())
	case ByDurationCustomBitrate:
		r.Unit = "bit/s"
		r.ThroughputSent = perUnit(float64(r.BytesSent*8), d.Seconds())
		r.ThroughputReceived = perUnit(float64(r.BytesReceived*8), d.Seconds())
	default:
		r.Unit = "B/us"
		us := float64(c.elapsedMicros.Load())
		r.ThroughputSent = perUnit(float64(r.BytesSent), us)
		r.ThroughputReceived = perUnit(float64(r.BytesReceived), us)
	}
	return r
}

func perUnit(v, per float64) float64 {
	if per <= 0 {
		return 0
	}
	return v / per
}

const reportFormat = "%-22s %-24s rate: %9.2f Mbps %8d rcv/s loss: %6.2f%%"

// Mbps is the received rate in megabits per second over the run length.
func (r Result) Mbps() float64 {
	secs := r.seconds()
	if secs <= 0 {
		return 0
	}
	return float64(8*r.BytesReceived) / (1000000 * secs)
}

// seconds is the run length, or the time spent sending for modes that have
// no fixed length.
func (r Result) seconds() float64 {
	if secs := r.Duration.Seconds(); secs > 0 {
		return secs
	}
	return r.Elapsed.Seconds()
}

// Report renders r as one line for the terminal.
func (r Result) Report(server string) string {
	var cps int64
	if secs := r.seconds(); secs > 0 {
		cps = int64(float64(r.PacketsReceived) / secs)
	}
	return fmt.Sprintf(reportFormat, server, r.Mode, r.Mbps(), cps, 100*r.Loss())
}

// Loss is the fraction of sent packets that never came back.
func (r Result) Loss() float64 {
	if r.PacketsSent == 0 || r.PacketsReceived >= r.PacketsSent {
		return 0
	}
	return float64(r.PacketsSent-r.PacketsReceived) / float64(r.PacketsSent)
}

// Fields renders r for structured logging.
func (r Result) Fields() []zap.Field {
	return []zap.Field{
		zap.Stringer("mode", r.Mode),
		zap.Uint64("bytesSent", r.BytesSent),
		zap.Uint64("bytesReceived", r.BytesReceived),
		zap.Uint64("packetsSent", r.PacketsSent),
		zap.Uint64("packetsReceived", r.PacketsReceived),
		zap.Uint64("malformed", r.Malformed),
		zap.Uint64("sendErrors", r.SendErrors),
		zap.Uint64("untracked", r.Untracked),
		zap.Duration("elapsed", r.Elapsed),
		zap.Float64("throughputSent", r.ThroughputSent),
		zap.Float64("throughputReceived", r.ThroughputReceived),
		zap.String("unit", r.Unit),
		zap.Float64("loss", r.Loss()),
	}
}
