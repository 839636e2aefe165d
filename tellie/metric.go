package tellie

import (
	"sync/atomic"
)

// SessionMetrics contains atomic metrics for a TELLIE session.
// Metrics can be used as the value of a prometheus CounterFunc or GaugeFunc.
type SessionMetrics struct {
	// CommandSendCount indicates the number of commands written to the wire.
	CommandSendCount atomic.Uint64
	// EchoMismatchCount indicates the number of echo mismatches (each triggers
	// one recovery cycle).
	EchoMismatchCount atomic.Uint64
	// CacheSkipCount indicates the number of setting calls satisfied from the
	// settings cache without wire traffic.
	CacheSkipCount atomic.Uint64
	// FireCount indicates the number of fire-family commands issued.
	FireCount atomic.Uint64
	// BytesDrainedCount indicates the total residual bytes discarded by drains.
	BytesDrainedCount atomic.Uint64
	// ResetCount indicates the number of reset pulses issued.
	ResetCount atomic.Uint32
}

func (m *SessionMetrics) incCommandSendCount() {
	m.CommandSendCount.Add(1)
}

func (m *SessionMetrics) incEchoMismatchCount() {
	m.EchoMismatchCount.Add(1)
}

func (m *SessionMetrics) incCacheSkipCount() {
	m.CacheSkipCount.Add(1)
}

func (m *SessionMetrics) incFireCount() {
	m.FireCount.Add(1)
}

func (m *SessionMetrics) addBytesDrained(n uint64) {
	m.BytesDrainedCount.Add(n)
}

func (m *SessionMetrics) incResetCount() {
	m.ResetCount.Add(1)
}
