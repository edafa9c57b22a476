package domain

import "time"

// StreamMode is the delivery mode of a stream connection.
type StreamMode string

const (
	StreamModeIdle      StreamMode = "idle"
	StreamModeStreaming StreamMode = "streaming"
	StreamModePolling   StreamMode = "polling"
	StreamModeStopped   StreamMode = "stopped"
)

// StreamMessage is one inbound frame from a live feed. Payload is forwarded
// unmodified; OriginAt is set only when the source embeds a timestamp.
type StreamMessage struct {
	Feed       string
	Payload    []byte
	ReceivedAt time.Time
	OriginAt   time.Time
}

// Latency returns the one-way delay, or false when no origin timestamp is known.
func (m StreamMessage) Latency() (time.Duration, bool) {
	if m.OriginAt.IsZero() {
		return 0, false
	}
	return m.ReceivedAt.Sub(m.OriginAt), true
}
