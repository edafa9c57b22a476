package domain

// CircuitState is the derived health of the connections a monitor watches.
type CircuitState int

const (
	CircuitHealthy CircuitState = iota
	CircuitDegraded
	CircuitUnhealthy
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitHealthy:
		return "healthy"
	case CircuitDegraded:
		return "degraded"
	case CircuitUnhealthy:
		return "unhealthy"
	case CircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON payloads.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
