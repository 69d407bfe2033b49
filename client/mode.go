package client

import (
	"time"
)

// Mode selects the traffic pattern of a run.
type Mode int

const (
	ByDuration Mode = iota
	ByDurationCustomBitrate
	ByPacketCount
	Ping
)

// ParseMode maps a config name to a Mode. Unknown names fall back to ByDuration.
func ParseMode(s string) Mode {
	switch s {
	case "duration_custom_bitrate":
		return ByDurationCustomBitrate
	case "packet_count":
		return ByPacketCount
	case "ping":
		return Ping
	default:
		return ByDuration
	}
}

func (m Mode) String() string {
	switch m {
	case ByDurationCustomBitrate:
		return "duration_custom_bitrate"
	case ByPacketCount:
		return "packet_count"
	case Ping:
		return "ping"
	default:
		return "duration"
	}
}

// UsesTable reports whether the mode fills an RTT table.
func (m Mode) UsesTable() bool {
	return m != ByPacketCount
}

// BitrateScale multiplies the configured bitrate into bits per second.
type BitrateScale int64

const (
	Bps  BitrateScale = 1
	Kbps BitrateScale = 1024
	Mbps BitrateScale = 1048576
	Gbps BitrateScale = 1073741824
)

// ParseBitrateScale maps a unit name to its multiplier. Unknown units mean bps.
func ParseBitrateScale(s string) BitrateScale {
	switch s {
	case "kbps", "Kbps", "K":
		return Kbps
	case "mbps", "Mbps", "M":
		return Mbps
	case "gbps", "Gbps", "G":
		return Gbps
	default:
		return Bps
	}
}

func (s BitrateScale) String() string {
	switch s {
	case Kbps:
		return "Kbps"
	case Mbps:
		return "Mbps"
	case Gbps:
		return "Gbps"
	default:
		return "bps"
	}
}

// Interval is the gap between two sends that keeps payloadSize-byte packets at
// bitrate*scale bits per second. Zero when the rate is not positive.
func Interval(payloadSize int, bitrate int64, scale BitrateScale) time.Duration {
	rate := float64(bitrate) * float64(scale)
	if rate <= 0 {
		return 0
	}
	bits := float64(payloadSize * 8)
	return time.Duration(bits / rate * float64(time.Second))
}
