package domain

import "time"

// CycleStats aggregates the outcome of one orchestrator cycle.
type CycleStats struct {
	Seq                uint64        `json:"cycle"`
	StartedAt          time.Time     `json:"started_at"`
	Duration           time.Duration `json:"duration"`
	ActiveMarkets      int           `json:"active_markets"`
	StrategiesActive   int           `json:"strategies_active"`
	OpportunitiesFound int           `json:"opportunities_found"`
	TradesExecuted     int           `json:"trades_executed"`
	PositionsClosed    int           `json:"positions_closed"`
	Errors             int           `json:"errors"`
	SkippedCircuit     int           `json:"skipped_circuit_open"`
	SkippedNoCapital   int           `json:"skipped_no_capital"`
}
