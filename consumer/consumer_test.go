package consumer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daqline/stfpipe/block"
	"github.com/daqline/stfpipe/endian"
	"github.com/daqline/stfpipe/errs"
	"github.com/daqline/stfpipe/format"
	"github.com/daqline/stfpipe/internal/logging"
	"github.com/daqline/stfpipe/rdh"
	"github.com/daqline/stfpipe/stats"
	"github.com/daqline/stfpipe/stf"
	"github.com/daqline/stfpipe/transport"
)

// hbfChain builds a packet chain of n packets sharing one heartbeat orbit.
func hbfChain(orbit uint32, link uint8, n int, packetSize uint16) []byte {
	var data []byte
	for i := 0; i < n; i++ {
		h := rdh.RDH{
			Version:          rdh.Version,
			HeaderSize:       rdh.Size,
			LinkID:           link,
			PacketCounter:    uint8(i),
			OffsetNextPacket: packetSize,
			MemorySize:       packetSize,
			HeartbeatOrbit:   orbit,
		}
		data = h.AppendTo(data)
		data = append(data, make([]byte, int(packetSize)-rdh.Size)...)
	}

	return data
}

// sourcePage wraps chain data in a readout-style page handle; released
// reports when the page's last handle was dropped.
func sourcePage(data []byte, tfID uint64, link uint8, eotf bool) (*block.Ref, *bool) {
	released := new(bool)
	b := block.NewDataBlock(data, uint64(len(data)))
	b.Header.TimeframeID = tfID
	b.Header.EquipmentID = 10
	b.Header.LinkID = link
	b.Header.DataSize = uint64(len(data))
	b.Header.IsRdhFormat = true
	b.Header.FlagEndOfTimeframe = eotf

	return block.NewRef(b, func() { *released = true }), released
}

func newTestConsumer(t *testing.T, ch transport.Channel, opts ...Option) *Consumer {
	t.Helper()

	base := []Option{
		WithChannel(ch),
		WithLogger(logging.NopLogger{}),
		WithPageSize("4k"),
		WithPageCount(8),
	}
	c, err := New(append(base, opts...)...)
	require.NoError(t, err)
	c.counters = &stats.Counters{}

	return c
}

func receiveGroups(t *testing.T, ch *transport.PairChannel, n int) [][]transport.Message {
	t.Helper()

	var out [][]transport.Message
	deadline := time.Now().Add(5 * time.Second)
	for len(out) < n {
		if g, ok := ch.TryReceive(); ok {
			out = append(out, g)
			continue
		}
		require.False(t, time.Now().After(deadline), "got %d of %d message groups", len(out), n)
		time.Sleep(time.Millisecond)
	}

	return out
}

func parseSTFHeader(t *testing.T, part transport.Message) stf.Header {
	t.Helper()

	var h stf.Header
	require.NoError(t, h.Parse(part.Data, endian.Native()))

	return h
}

func TestConsumer_SinglePageSingleFrame(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch)
	defer c.Close()

	data := hbfChain(1, 4, 2, 128)
	ref, released := sourcePage(data, 42, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref}))

	groups := receiveGroups(t, ch, 1)
	parts := groups[0]
	require.Len(t, parts, 2, "STF header plus one heartbeat frame")

	h := parseSTFHeader(t, parts[0])
	require.Equal(t, uint64(42), h.TimeframeID)
	require.Equal(t, uint8(4), h.LinkID)
	require.Equal(t, uint16(10), h.EquipmentID)
	require.True(t, h.IsRdhFormat)
	require.True(t, h.LastTFMessage)

	// frame part is the whole chain, zero-copy
	require.Equal(t, data, parts[1].Data)
	require.Same(t, &data[0], &parts[1].Data[0])

	require.Equal(t, uint64(0), c.counters.HBFRepacked.Load())
	require.Equal(t, uint64(stf.HeaderSize+len(data)), c.counters.BytesSent.Load())
	require.Equal(t, uint64(42), c.counters.TimeframeIDSent.Load())
	require.Equal(t, uint64(1), c.counters.PushSuccess.Load())

	// header page and source page are pending until the peer releases
	require.Equal(t, int64(2), c.counters.PagesPending.Load())
	require.False(t, *released)

	transport.ReleaseAll(parts)
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
	require.Equal(t, uint64(2), c.counters.PagesReleased.Load())
	require.Equal(t, int64(0), c.counters.PayloadPendingBytes.Load())
	require.True(t, *released)

	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
}

func TestConsumer_StraddlingFrameIsRepacked(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch)
	defer c.Close()

	// page 1: frame A complete, first half of frame B
	// page 2: second half of frame B, frame C complete
	page1 := append(hbfChain(1, 4, 1, 128), hbfChain(2, 4, 1, 128)...)
	page2 := append(hbfChain(2, 4, 1, 128), hbfChain(3, 4, 1, 128)...)

	ref1, rel1 := sourcePage(page1, 7, 4, false)
	ref2, rel2 := sourcePage(page2, 7, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref1, ref2}))

	parts := receiveGroups(t, ch, 1)[0]
	require.Len(t, parts, 4, "header, frame A, repacked frame B, frame C")

	h := parseSTFHeader(t, parts[0])
	require.Equal(t, uint64(7), h.TimeframeID)
	require.True(t, h.LastTFMessage)

	require.Equal(t, page1[0:128], parts[1].Data)
	require.Same(t, &page1[0], &parts[1].Data[0], "contained frame must be zero-copy")

	// the straddling frame is one contiguous copy of both halves
	require.Len(t, parts[2].Data, 256)
	require.Equal(t, page1[128:256], parts[2].Data[0:128])
	require.Equal(t, page2[0:128], parts[2].Data[128:256])
	require.NotSame(t, &page1[128], &parts[2].Data[0])

	require.Equal(t, page2[128:256], parts[3].Data)
	require.Same(t, &page2[128], &parts[3].Data[0])

	require.Equal(t, uint64(1), c.counters.HBFRepacked.Load())
	require.Equal(t, uint64(256), c.counters.BytesCopied.Load())
	require.Equal(t, uint64(1), c.repackSizeStats.Count())
	require.Equal(t, uint64(256), c.repackSizeStats.Average())
	require.Equal(t, uint64(1), c.pagesUsedForRepack.Load())

	// header page, both source pages and the repack page are pending
	require.Equal(t, int64(4), c.counters.PagesPending.Load())

	transport.ReleaseAll(parts)
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
	require.True(t, *rel1)
	require.True(t, *rel2)

	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
}

func TestConsumer_PoolExhaustionDropsTimeframe(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithPageCount(1))
	defer c.Close()

	// the only pool page goes to the STF header; the straddling frame then
	// finds no repack page
	page1 := append(hbfChain(1, 4, 1, 128), hbfChain(2, 4, 1, 128)...)
	page2 := hbfChain(2, 4, 1, 128)

	ref1, rel1 := sourcePage(page1, 3, 4, false)
	ref2, rel2 := sourcePage(page2, 3, 4, true)
	err := c.Push(block.DataSet{ref1, ref2})
	require.ErrorIs(t, err, errs.ErrPoolExhausted)

	require.Equal(t, uint64(1), c.counters.PushError.Load())
	require.Equal(t, uint64(0), c.counters.PushSuccess.Load())
	require.Equal(t, 0, ch.Pending(), "no partial message may reach the peer")

	// everything was unwound: source pages freed, pool page back
	require.True(t, *rel1)
	require.True(t, *rel2)
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
}

func TestConsumer_PipelinePreservesTimeframeOrder(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithThreads(4), WithPageCount(64))

	const timeframes = 12
	for tf := uint64(10); tf < 10+timeframes; tf++ {
		ref, _ := sourcePage(hbfChain(uint32(tf), 4, 2, 128), tf, 4, true)
		require.NoError(t, c.Push(block.DataSet{ref}))
	}

	groups := receiveGroups(t, ch, timeframes)
	for i, parts := range groups {
		h := parseSTFHeader(t, parts[0])
		require.Equal(t, uint64(10+i), h.TimeframeID, "timeframes must leave in arrival order")
		transport.ReleaseAll(parts)
	}

	require.NoError(t, c.Close())
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
}

// gateChannel blocks every send until the gate opens.
type gateChannel struct {
	gate chan struct{}

	mu     sync.Mutex
	groups int
}

func (g *gateChannel) SendMulti(msgs []transport.Message) error {
	<-g.gate

	g.mu.Lock()
	g.groups++
	g.mu.Unlock()
	transport.ReleaseAll(msgs)

	return nil
}

func (g *gateChannel) Close() error { return nil }

func TestConsumer_PipelineFullDropsTimeframe(t *testing.T) {
	gate := &gateChannel{gate: make(chan struct{})}
	c := newTestConsumer(t, gate, WithThreads(1), WithFifoSize(1), WithPageCount(64))

	// with the sender blocked, the single lane backs up after a few
	// timeframes and further pushes must be dropped, not block
	var sawFull bool
	for tf := uint64(1); tf <= 20; tf++ {
		ref, _ := sourcePage(hbfChain(uint32(tf), 4, 1, 128), tf, 4, true)
		err := c.Push(block.DataSet{ref})
		if err != nil {
			require.ErrorIs(t, err, errs.ErrPipelineFull)
			sawFull = true
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.True(t, sawFull, "a full pipeline must reject timeframes")
	require.NotZero(t, c.counters.PushError.Load())

	close(gate.gate)
	require.NoError(t, c.Close())
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
}

func TestConsumer_RawPerPageMode(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithMode(format.ModeRawPerPage))
	defer c.Close()

	var ds block.DataSet
	var flags []*bool
	for i := 0; i < 3; i++ {
		ref, rel := sourcePage(hbfChain(uint32(i), 4, 1, 128), 5, 4, i == 2)
		ds = append(ds, ref)
		flags = append(flags, rel)
	}
	require.NoError(t, c.Push(ds))

	groups := receiveGroups(t, ch, 3)
	for _, parts := range groups {
		require.Len(t, parts, 1, "raw mode sends payload only")
		require.Len(t, parts[0].Data, 128)
		transport.ReleaseAll(parts)
	}
	for _, rel := range flags {
		require.True(t, *rel)
	}

	// raw mode draws nothing from the pool
	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
	require.Equal(t, uint64(3*128), c.counters.BytesSent.Load())
}

func TestConsumer_DataBlockPerPageMode(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithMode(format.ModeDataBlockPerPage))
	defer c.Close()

	ref, _ := sourcePage(hbfChain(9, 4, 1, 128), 77, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref}))

	parts := receiveGroups(t, ch, 1)[0]
	require.Len(t, parts, 2, "block header plus payload")

	var h block.Header
	require.NoError(t, h.Parse(parts[0].Data, endian.Native()))
	require.Equal(t, uint64(77), h.TimeframeID)
	require.Equal(t, uint8(4), h.LinkID)
	require.Equal(t, uint64(128), h.DataSize)

	transport.ReleaseAll(parts)
}

// faultyChannel delivers failAfter sends, then fails every SendMulti.
type faultyChannel struct {
	failAfter int
	sent      int
}

func (f *faultyChannel) SendMulti(msgs []transport.Message) error {
	if f.sent >= f.failAfter {
		return errors.New("downstream peer gone")
	}
	f.sent++
	transport.ReleaseAll(msgs)

	return nil
}

func (f *faultyChannel) Close() error { return nil }

func TestConsumer_RawPerPageSendFailureReleasesSet(t *testing.T) {
	c := newTestConsumer(t, &faultyChannel{failAfter: 1}, WithMode(format.ModeRawPerPage))
	defer c.Close()

	var ds block.DataSet
	var flags []*bool
	for i := 0; i < 3; i++ {
		ref, rel := sourcePage(hbfChain(uint32(i), 4, 1, 128), 6, 4, i == 2)
		ds = append(ds, ref)
		flags = append(flags, rel)
	}
	require.Error(t, c.Push(ds))

	// the page whose send failed and the pages never sent must all be freed
	for i, rel := range flags {
		require.True(t, *rel, "page %d leaked after failed send", i)
	}
	require.Equal(t, uint64(1), c.counters.PushError.Load())
	require.Equal(t, uint64(0), c.counters.PushSuccess.Load())
	require.Equal(t, uint64(128), c.counters.BytesSent.Load(), "only the delivered page counts")
}

func TestConsumer_DataBlockPerPageSendFailureReleasesSet(t *testing.T) {
	c := newTestConsumer(t, &faultyChannel{failAfter: 1}, WithMode(format.ModeDataBlockPerPage))
	defer c.Close()

	var ds block.DataSet
	var flags []*bool
	for i := 0; i < 3; i++ {
		ref, rel := sourcePage(hbfChain(uint32(i), 4, 1, 128), 6, 4, i == 2)
		ds = append(ds, ref)
		flags = append(flags, rel)
	}
	require.Error(t, c.Push(ds))

	for i, rel := range flags {
		require.True(t, *rel, "page %d leaked after failed send", i)
	}
	require.Equal(t, uint64(1), c.counters.PushError.Load())
	require.Equal(t, uint64(0), c.counters.PushSuccess.Load())
}

func TestConsumer_SuperpageMode(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithMode(format.ModeSTFPerPage))
	defer c.Close()

	ref1, _ := sourcePage(hbfChain(1, 4, 1, 128), 8, 4, false)
	ref2, _ := sourcePage(hbfChain(2, 4, 2, 128), 8, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref1, ref2}))

	parts := receiveGroups(t, ch, 1)[0]
	require.Len(t, parts, 3, "STF header plus one part per page")

	h := parseSTFHeader(t, parts[0])
	require.Equal(t, uint64(8), h.TimeframeID)
	require.True(t, h.LastTFMessage)
	require.Len(t, parts[1].Data, 128)
	require.Len(t, parts[2].Data, 256)

	transport.ReleaseAll(parts)
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
}

func TestConsumer_NonRdhFallsBackToSuperpage(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch)
	defer c.Close()

	ref, _ := sourcePage(make([]byte, 512), 4, 0, true)
	ref.Block().Header.IsRdhFormat = false
	require.NoError(t, c.Push(block.DataSet{ref}))

	parts := receiveGroups(t, ch, 1)[0]
	require.Len(t, parts, 2)
	h := parseSTFHeader(t, parts[0])
	require.False(t, h.IsRdhFormat)
	require.Len(t, parts[1].Data, 512)

	transport.ReleaseAll(parts)
}

func TestConsumer_DisableSending(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithDisableSending(true))
	defer c.Close()

	ref, released := sourcePage(hbfChain(1, 4, 1, 128), 1, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref}))

	require.True(t, *released)
	require.Equal(t, uint64(1), c.counters.PushSuccess.Load())
	require.Equal(t, 0, ch.Pending())
}

func TestConsumer_RejectsPerBlockPush(t *testing.T) {
	c := newTestConsumer(t, transport.NewPair())
	defer c.Close()

	ref, _ := sourcePage(hbfChain(1, 4, 1, 128), 1, 4, true)
	require.ErrorIs(t, c.PushBlock(ref), errs.ErrPerBlockPush)
	ref.Release()
}

func TestConsumer_RejectsMixedTimeframeSet(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch)
	defer c.Close()

	ref1, rel1 := sourcePage(hbfChain(1, 4, 1, 128), 5, 4, false)
	ref2, rel2 := sourcePage(hbfChain(1, 4, 1, 128), 6, 4, true)
	err := c.Push(block.DataSet{ref1, ref2})
	require.ErrorIs(t, err, errs.ErrTimeframeMismatch)

	require.True(t, *rel1)
	require.True(t, *rel2)
	require.Equal(t, uint64(1), c.counters.PushError.Load())
	require.Equal(t, 0, ch.Pending())
}

func TestConsumer_PushAfterClose(t *testing.T) {
	c := newTestConsumer(t, transport.NewPair())
	require.NoError(t, c.Close())

	ref, released := sourcePage(hbfChain(1, 4, 1, 128), 1, 4, true)
	require.ErrorIs(t, c.Push(block.DataSet{ref}), errs.ErrConsumerClosed)
	require.True(t, *released)

	// closing twice is fine
	require.NoError(t, c.Close())
}

func TestConsumer_RunNumberStamping(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithRunNumber(561000))
	defer c.Close()

	ref, _ := sourcePage(hbfChain(1, 4, 1, 128), 2, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref}))

	parts := receiveGroups(t, ch, 1)[0]
	h := parseSTFHeader(t, parts[0])
	require.Equal(t, uint32(561000), h.RunNumber)
	transport.ReleaseAll(parts)
}

func TestConsumer_PackedCopySharesRepackPage(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch)
	defer c.Close()

	// two straddling frames in one timeframe: packed copy puts both copies
	// on the same repack page
	page1 := append(hbfChain(1, 4, 1, 128), hbfChain(2, 4, 1, 128)...)
	page2 := append(hbfChain(2, 4, 1, 128), hbfChain(3, 4, 1, 128)...)
	page3 := append(hbfChain(3, 4, 1, 128), hbfChain(4, 4, 1, 128)...)

	ref1, _ := sourcePage(page1, 9, 4, false)
	ref2, _ := sourcePage(page2, 9, 4, false)
	ref3, _ := sourcePage(page3, 9, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref1, ref2, ref3}))

	parts := receiveGroups(t, ch, 1)[0]
	require.Len(t, parts, 5, "header plus frames 1..4, frames 2 and 3 repacked")
	require.Equal(t, uint64(2), c.counters.HBFRepacked.Load())
	require.Equal(t, uint64(512), c.counters.BytesCopied.Load())
	require.Equal(t, uint64(1), c.pagesUsedForRepack.Load(), "packed copies share one page")

	transport.ReleaseAll(parts)
	require.Equal(t, int64(0), c.counters.PagesPending.Load())
	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
}

func TestConsumer_UnpackedCopyUsesFreshPages(t *testing.T) {
	ch := transport.NewPair()
	c := newTestConsumer(t, ch, WithPackedCopy(false))
	defer c.Close()

	page1 := append(hbfChain(1, 4, 1, 128), hbfChain(2, 4, 1, 128)...)
	page2 := append(hbfChain(2, 4, 1, 128), hbfChain(3, 4, 1, 128)...)
	page3 := append(hbfChain(3, 4, 1, 128), hbfChain(4, 4, 1, 128)...)

	ref1, _ := sourcePage(page1, 9, 4, false)
	ref2, _ := sourcePage(page2, 9, 4, false)
	ref3, _ := sourcePage(page3, 9, 4, true)
	require.NoError(t, c.Push(block.DataSet{ref1, ref2, ref3}))

	parts := receiveGroups(t, ch, 1)[0]
	require.Len(t, parts, 5)
	require.Equal(t, uint64(2), c.pagesUsedForRepack.Load(), "every repack draws its own page")

	transport.ReleaseAll(parts)
	free, total, _ := c.pool.Stats()
	require.Equal(t, total, free)
}
