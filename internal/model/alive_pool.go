package model

import "time"

// AlivePool is the in-memory, volatile record the Pool Controller keeps for
// every pool it is actively refreshing. It is created on discovery or on a
// live snapshot request and is never evicted in this version (spec §9 open
// question).
type AlivePool struct {
	Address         string
	ChainID         int
	Tier            Tier
	NextRefresh     time.Time
	LastBlockSeen   uint64
	LastPrice       float64
	RequestCount    int
	LastRequestTime time.Time
}

// DueForRefresh reports whether this pool's next-refresh deadline has passed.
func (p AlivePool) DueForRefresh(now time.Time) bool {
	return !p.NextRefresh.After(now)
}
