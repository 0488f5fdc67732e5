package block

import (
	"sync/atomic"
	"time"

	"github.com/daqline/stfpipe/stats"
)

// Accounting magic sentinel values. A page is tracked only while ACTIVE;
// operations on an INACTIVE page are no-ops, which catches use after the
// final transport release.
const (
	magicActive   uint32 = 0xAA
	magicInactive uint32 = 0x00
)

// accounting is the per-page lifetime record kept in the reserved header
// area of a page. It decouples the page's logical lifetime (bounded by the
// pool handle) from its transport lifetime (bounded by the peer's release
// callback). All fields are single-word atomics; the release callback may
// run on any thread.
type accounting struct {
	magic            atomic.Uint32
	refs             atomic.Int32
	t0               atomic.Int64 // microseconds
	payloadAccounted atomic.Uint64
	memAccounted     atomic.Uint64
}

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

// InitAccounting arms the lifetime record: sets the ACTIVE sentinel, clears
// the reference count and records the allocated memory size.
func (b *DataBlock) InitAccounting(memSize uint64) {
	b.acct.refs.Store(0)
	b.acct.payloadAccounted.Store(0)
	b.acct.memAccounted.Store(memSize)
	b.acct.magic.Store(magicActive)
}

// AccountRef registers one outstanding transport reference carrying
// payloadDelta payload bytes. The 0->1 transition records the acquisition
// timestamp and adds the page to the global pending counters. No-op if the
// record is not ACTIVE.
func (b *DataBlock) AccountRef(c *stats.Counters, payloadDelta uint64) {
	if b.acct.magic.Load() != magicActive {
		return
	}
	if b.acct.refs.Add(1) == 1 {
		b.acct.t0.Store(nowMicros())
		c.PagesPending.Add(1)
		c.MemoryPendingBytes.Add(int64(b.acct.memAccounted.Load()))
		c.Notify.Add(1)
	}
	b.acct.payloadAccounted.Add(payloadDelta)
	c.PayloadPendingBytes.Add(int64(payloadDelta))
}

// ReleaseAccountedRef drops one outstanding transport reference. The final
// N->0 transition finalizes the statistics and clears the sentinel. No-op
// if the record is not ACTIVE.
func (b *DataBlock) ReleaseAccountedRef(c *stats.Counters) {
	if b.acct.magic.Load() != magicActive {
		return
	}
	if b.acct.refs.Add(-1) == 0 {
		c.PagesPending.Add(-1)
		c.PagesReleased.Add(1)
		elapsed := nowMicros() - b.acct.t0.Load()
		if elapsed > 0 {
			c.PagesPendingTime.Add(uint64(elapsed))
		}
		c.PayloadPendingBytes.Add(-int64(b.acct.payloadAccounted.Load()))
		c.MemoryPendingBytes.Add(-int64(b.acct.memAccounted.Load()))
		c.Notify.Add(1)
		b.acct.magic.Store(magicInactive)
	}
}

// AccountingActive reports whether the lifetime record is armed.
func (b *DataBlock) AccountingActive() bool {
	return b.acct.magic.Load() == magicActive
}

// AccountedRefs returns the current outstanding transport reference count.
func (b *DataBlock) AccountedRefs() int32 {
	return b.acct.refs.Load()
}
