package models

import "go.uber.org/atomic"

// Metrics 定義指標統計
type Metrics struct {
	Hits         atomic.Int64
	Misses       atomic.Int64
	Refreshes    atomic.Int64
	Failures     atomic.Int64
	StaleServed  atomic.Int64
	RemoteHits   atomic.Int64
	RemoteMisses atomic.Int64
}

// NewMetrics 創建新的 Metrics 實例
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Snapshot is a point-in-time copy of Metrics.
type Snapshot struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Refreshes    int64 `json:"refreshes"`
	Failures     int64 `json:"failures"`
	StaleServed  int64 `json:"staleServed"`
	RemoteHits   int64 `json:"remoteHits"`
	RemoteMisses int64 `json:"remoteMisses"`
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		Hits:         m.Hits.Load(),
		Misses:       m.Misses.Load(),
		Refreshes:    m.Refreshes.Load(),
		Failures:     m.Failures.Load(),
		StaleServed:  m.StaleServed.Load(),
		RemoteHits:   m.RemoteHits.Load(),
		RemoteMisses: m.RemoteMisses.Load(),
	}
}
