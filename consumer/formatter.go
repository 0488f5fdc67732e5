package consumer

import (
	"github.com/daqline/stfpipe/block"
	"github.com/daqline/stfpipe/errs"
	"github.com/daqline/stfpipe/mempool"
	"github.com/daqline/stfpipe/rdh"
	"github.com/daqline/stfpipe/stf"
	"github.com/daqline/stfpipe/transport"
)

// ddMessage is one formatted sub-timeframe: the STF header part followed by
// payload parts, each carrying a release hint tied to the page accounting.
type ddMessage struct {
	header stf.Header
	msgs   []transport.Message

	dataSize   uint64 // payload bytes, header part excluded
	totalSize  uint64 // wire bytes, header part included
	memorySize uint64 // page bytes newly pinned by this message
}

// discard fires every hint of an unsent message, returning the referenced
// pages and undoing the pending accounting.
func (m *ddMessage) discard() {
	transport.ReleaseAll(m.msgs)
	m.msgs = nil
}

// pendingFrame is a byte range of one source page belonging to the heartbeat
// frame currently being grouped. The clone keeps the source page alive until
// the range is either attached to a zero-copy message or copied out.
type pendingFrame struct {
	ref  *block.Ref
	data []byte
}

// beginMessage starts a sub-timeframe message: it derives the STF header
// from the data set, acquires a pool page for it and serializes it as the
// first message part.
func (c *Consumer) beginMessage(ds block.DataSet) (*ddMessage, *mempool.PageRef, error) {
	first := ds.First()
	sh := stf.Header{
		TimeframeID:         first.Header.TimeframeID,
		RunNumber:           first.Header.RunNumber,
		SystemID:            first.Header.SystemID,
		FeeID:               first.Header.FeeID,
		EquipmentID:         first.Header.EquipmentID,
		LinkID:              first.Header.LinkID,
		TimeframeOrbitFirst: first.Header.TimeframeOrbitFirst,
		TimeframeOrbitLast:  first.Header.TimeframeOrbitLast,
		IsRdhFormat:         first.Header.IsRdhFormat,
	}
	if sh.RunNumber == 0 {
		sh.RunNumber = c.cfg.runNumber
	}

	var dataSize uint64
	for _, r := range ds {
		b := r.Block()
		if b.Header.TimeframeID != sh.TimeframeID {
			c.tfMismatchTok.Warn(c.log, "%s: TF %d: page with mismatching TF %d in same data set",
				c.cfg.name, sh.TimeframeID, b.Header.TimeframeID)
		}
		if b.Header.LinkID != sh.LinkID {
			c.linkMismatchTok.Warn(c.log, "%s: TF %d: page with mismatching link %d, expected %d",
				c.cfg.name, sh.TimeframeID, b.Header.LinkID, sh.LinkID)
		}
		if b.Header.FlagEndOfTimeframe {
			sh.LastTFMessage = true
		}
		dataSize += b.Header.DataSize
	}

	headerRef, err := c.pool.Acquire()
	if err != nil {
		return nil, nil, err
	}
	hb := headerRef.Block()
	if err := sh.WriteTo(hb.Data, c.engine); err != nil {
		headerRef.Release()
		return nil, nil, err
	}
	// the header bytes are written through the parent handle; reserve them
	// so child carving cannot overlap them
	c.pool.MarkUsed(headerRef, stf.HeaderSize)
	hb.Header.TimeframeID = sh.TimeframeID
	hb.Header.DataSize = stf.HeaderSize
	hb.InitAccounting(hb.BufferSize())
	hb.AccountRef(c.counters, stf.HeaderSize)

	hint := headerRef.Clone()
	ddm := &ddMessage{
		header: sh,
		msgs: []transport.Message{
			transport.NewMessage(hb.Data[:stf.HeaderSize], func() {
				hb.ReleaseAccountedRef(c.counters)
				hint.Release()
			}),
		},
		dataSize:   dataSize,
		totalSize:  stf.HeaderSize + dataSize,
		memorySize: hb.BufferSize(),
	}

	return ddm, headerRef, nil
}

// formatSuperpage builds the per-page layout: STF header followed by one
// part per source page, zero-copy.
func (c *Consumer) formatSuperpage(ds block.DataSet) (*ddMessage, error) {
	ddm, headerRef, err := c.beginMessage(ds)
	if err != nil {
		c.allocTok.Warn(c.log, "%s: no page left for STF header", c.cfg.name)
		return nil, err
	}
	defer headerRef.Release()

	for _, r := range ds {
		b := r.Block()
		if b.Header.DataSize == 0 {
			continue
		}
		b.InitAccounting(b.BufferSize())
		b.AccountRef(c.counters, b.Header.DataSize)
		ddm.memorySize += b.BufferSize()
		hint := r.Clone()
		ddm.msgs = append(ddm.msgs, transport.NewMessage(b.Data[:b.Header.DataSize], func() {
			b.ReleaseAccountedRef(c.counters)
			hint.Release()
		}))
	}

	return ddm, nil
}

// formatDataSet builds the heartbeat-frame-grouped layout: STF header
// followed by one part per heartbeat frame.
//
// Two passes: the first derives the STF header envelope; the second walks
// the RDH packet chains, groups consecutive packets sharing a heartbeat
// orbit and emits one part per group. A frame fully contained in one page
// is sent zero-copy. A frame straddling pages is repacked into a contiguous
// copy; with packed copy enabled the copies of successive frames share a
// repack page until it fills up, gets a new timeframe, or the end of the
// timeframe is reached.
func (c *Consumer) formatDataSet(ds block.DataSet) (*ddMessage, error) {
	ddm, headerRef, err := c.beginMessage(ds)
	if err != nil {
		c.allocTok.Warn(c.log, "%s: no page left for STF header", c.cfg.name)
		return nil, err
	}
	defer headerRef.Release()

	var (
		pending   []pendingFrame
		repackBuf *mempool.PageRef
	)

	dropPending := func(err error) error {
		for _, f := range pending {
			f.ref.Release()
		}
		pending = pending[:0]

		return err
	}

	fail := func(err error) (*ddMessage, error) {
		_ = dropPending(err)
		if repackBuf != nil {
			repackBuf.Release()
			repackBuf = nil
		}
		ddm.discard()

		return nil, err
	}

	// collect closes the current heartbeat frame and emits its message part.
	collect := func() error {
		n := len(pending)
		if n == 0 {
			return nil
		}

		if n == 1 {
			f := pending[0]
			sb := f.ref.Block()
			sb.AccountRef(c.counters, uint64(len(f.data)))
			ref := f.ref
			ddm.msgs = append(ddm.msgs, transport.NewMessage(f.data, func() {
				sb.ReleaseAccountedRef(c.counters)
				ref.Release()
			}))
			pending = pending[:0]

			return nil
		}

		// frame straddles pages: repack into one contiguous copy
		c.counters.HBFRepacked.Add(1)
		total := 0
		for _, f := range pending {
			total += len(f.data)
		}
		c.repackSizeStats.Set(uint64(total))

		if total > c.pool.PageSize() {
			c.allocTok.Warn(c.log, "%s: page size %d too small to repack a %d byte heartbeat frame",
				c.cfg.name, c.pool.PageSize(), total)

			return dropPending(errs.ErrNoRoom)
		}

		var copyRef *block.Ref
		var newMem uint64
		if c.cfg.packedCopy {
			for i := 0; i <= 2 && copyRef == nil; i++ {
				if repackBuf == nil {
					pr, err := c.pool.Acquire()
					if err != nil {
						break
					}
					repackBuf = pr
					newMem = pr.Block().BufferSize()
					c.pagesUsedForRepack.Add(1)
				}
				child, err := c.pool.AcquireChild(repackBuf, total)
				if err != nil {
					// current repack page full, retry with a fresh one
					repackBuf.Release()
					repackBuf = nil
					newMem = 0

					continue
				}
				copyRef = child
			}
		} else {
			pr, err := c.pool.Acquire()
			if err == nil {
				copyRef = pr.Ref
				newMem = pr.Block().BufferSize()
				c.pagesUsedForRepack.Add(1)
			}
		}
		if copyRef == nil {
			c.allocTok.Warn(c.log, "%s: no page left to repack heartbeat frame", c.cfg.name)
			return dropPending(errs.ErrPoolExhausted)
		}

		cb := copyRef.Block()
		ix := 0
		for _, f := range pending {
			copy(cb.Data[ix:], f.data)
			ix += len(f.data)
			f.ref.Release()
		}
		pending = pending[:0]
		c.counters.BytesCopied.Add(uint64(total))

		cb.Header.TimeframeID = ddm.header.TimeframeID
		cb.Header.EquipmentID = ddm.header.EquipmentID
		cb.Header.LinkID = ddm.header.LinkID
		cb.Header.DataSize = uint64(total)
		cb.InitAccounting(newMem)
		cb.AccountRef(c.counters, uint64(total))
		ddm.memorySize += newMem

		ref := copyRef
		ddm.msgs = append(ddm.msgs, transport.NewMessage(cb.Data[:total], func() {
			cb.ReleaseAccountedRef(c.counters)
			ref.Release()
		}))

		return nil
	}

	// heartbeat orbit continuity spans page boundaries
	var lastHB uint32
	haveHB := false
	lastTFID := uint64(block.UndefinedTimeframeID)

	for _, r := range ds {
		b := r.Block()
		b.InitAccounting(b.BufferSize())

		if b.Header.TimeframeID != lastTFID {
			lastTFID = b.Header.TimeframeID
			if repackBuf != nil {
				repackBuf.Release()
				repackBuf = nil
			}
		}

		data := b.Data[:b.Header.DataSize]
		hbStart := 0
		var scanErr error
		rdh.Walk(data, func(offset int, h rdh.RDH) bool {
			if h.LinkID != ddm.header.LinkID {
				c.linkMismatchTok.Warn(c.log, "%s: TF %d: RDH link id %d differs from %d at page offset %d",
					c.cfg.name, ddm.header.TimeframeID, h.LinkID, ddm.header.LinkID, offset)
			}
			if !haveHB || h.HeartbeatOrbit != lastHB {
				if offset > hbStart {
					pending = append(pending, pendingFrame{ref: r.Clone(), data: data[hbStart:offset]})
				}
				if err := collect(); err != nil {
					scanErr = err
					return false
				}
				hbStart = offset
				lastHB = h.HeartbeatOrbit
				haveHB = true
			}

			return true
		})
		if scanErr != nil {
			return fail(scanErr)
		}
		if hbStart < len(data) {
			pending = append(pending, pendingFrame{ref: r.Clone(), data: data[hbStart:]})
		}

		if b.Header.FlagEndOfTimeframe && repackBuf != nil {
			repackBuf.Release()
			repackBuf = nil
		}
	}

	if err := collect(); err != nil {
		return fail(err)
	}
	if repackBuf != nil {
		repackBuf.Release()
	}

	return ddm, nil
}
