// Package stats holds the process-wide telemetry counters and the
// value-distribution tracker used for repack size statistics.
//
// All counters are plain atomics: the page release callback runs on an
// unspecified transport thread and must be able to update them lock-free.
package stats

import "sync/atomic"

// Counters aggregates the telemetry of the transport consumer. A single
// instance is constructed at process init; components hold a pointer to the
// whole struct, never to individual fields.
type Counters struct {
	// PagesPending is the number of pages currently referenced by the
	// transport peer.
	PagesPending atomic.Int64
	// PagesReleased counts pages whose last transport reference was dropped.
	PagesReleased atomic.Uint64
	// PagesPendingTime accumulates microseconds between the first transport
	// reference of a page and its final release.
	PagesPendingTime atomic.Uint64

	// PayloadPendingBytes is the payload byte count of pending pages.
	PayloadPendingBytes atomic.Int64
	// MemoryPendingBytes is the allocated byte count of pending pages.
	MemoryPendingBytes atomic.Int64

	// BytesSent counts payload and header bytes submitted to the transport.
	BytesSent atomic.Uint64
	// TimeframeIDSent is the id of the latest timeframe submitted.
	TimeframeIDSent atomic.Uint64

	// PushSuccess and PushError count accepted and rejected data sets.
	PushSuccess atomic.Uint64
	PushError   atomic.Uint64

	// HBFRepacked counts heartbeat frames that needed a repack copy.
	HBFRepacked atomic.Uint64
	// BytesCopied counts bytes copied during repack.
	BytesCopied atomic.Uint64

	// Notify increments on every externally observable state change, for
	// cheap change detection by monitoring pollers.
	Notify atomic.Uint64
}

var global Counters

// Global returns the process-wide counter instance.
func Global() *Counters {
	return &global
}

// Snapshot is a plain-value copy of Counters, suitable for serialization.
type Snapshot struct {
	PagesPending        int64  `json:"pagesPending"`
	PagesReleased       uint64 `json:"pagesReleased"`
	PagesPendingTime    uint64 `json:"pagesPendingTimeUs"`
	PayloadPendingBytes int64  `json:"payloadPendingBytes"`
	MemoryPendingBytes  int64  `json:"memoryPendingBytes"`
	BytesSent           uint64 `json:"bytesSent"`
	TimeframeIDSent     uint64 `json:"timeframeIdSent"`
	PushSuccess         uint64 `json:"pushSuccess"`
	PushError           uint64 `json:"pushError"`
	HBFRepacked         uint64 `json:"hbfRepacked"`
	BytesCopied         uint64 `json:"bytesCopied"`
	Notify              uint64 `json:"notify"`
}

// Snapshot captures the current counter values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		PagesPending:        c.PagesPending.Load(),
		PagesReleased:       c.PagesReleased.Load(),
		PagesPendingTime:    c.PagesPendingTime.Load(),
		PayloadPendingBytes: c.PayloadPendingBytes.Load(),
		MemoryPendingBytes:  c.MemoryPendingBytes.Load(),
		BytesSent:           c.BytesSent.Load(),
		TimeframeIDSent:     c.TimeframeIDSent.Load(),
		PushSuccess:         c.PushSuccess.Load(),
		PushError:           c.PushError.Load(),
		HBFRepacked:         c.HBFRepacked.Load(),
		BytesCopied:         c.BytesCopied.Load(),
		Notify:              c.Notify.Load(),
	}
}
