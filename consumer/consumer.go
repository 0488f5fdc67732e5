// Package consumer implements the sub-timeframe assembler and transport
// consumer: it ingests data sets of superpages from the readout equipment,
// formats them into sub-timeframe messages and ships them downstream while
// tracking page lifetimes across the asynchronous release boundary.
package consumer

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/daqline/stfpipe/block"
	"github.com/daqline/stfpipe/endian"
	"github.com/daqline/stfpipe/errs"
	"github.com/daqline/stfpipe/format"
	"github.com/daqline/stfpipe/internal/logging"
	"github.com/daqline/stfpipe/internal/options"
	"github.com/daqline/stfpipe/internal/units"
	"github.com/daqline/stfpipe/mempool"
	"github.com/daqline/stfpipe/stats"
	"github.com/daqline/stfpipe/statsink"
	"github.com/daqline/stfpipe/stf"
	"github.com/daqline/stfpipe/transport"
)

// Consumer is the public entry of the data path. One consumer owns one
// downstream channel, one paged pool and, when configured, the unmanaged
// shared region contributed to the memory bank.
//
// Push is single-producer: the threaded fast path keeps one current
// timeframe buffer on the producer side. Internal workers run in parallel;
// sends are confined to the single sender lane to preserve timeframe
// ordering on the wire.
type Consumer struct {
	cfg     *config
	log     logging.Logger
	engine  endian.Engine
	channel transport.Channel
	session transport.Session
	region  *transport.Region
	pool    *mempool.Pool

	counters *stats.Counters
	sink     *statsink.Sink

	repackSizeStats    stats.CounterStats
	stfCount           atomic.Uint64
	pagesUsedInput     atomic.Uint64
	pagesUsedForRepack atomic.Uint64

	// threaded pipeline state; producer-side fields are confined to the
	// Push caller
	lanes       []*lane
	laneWrite   int
	currentTFID uint64
	currentBuf  []block.DataSet

	shutdown atomic.Bool
	closed   atomic.Bool
	wg       sync.WaitGroup

	tfMismatchTok   *logging.MuteToken
	linkMismatchTok *logging.MuteToken
	orderTok        *logging.MuteToken
	allocTok        *logging.MuteToken
	pipeFullTok     *logging.MuteToken
	sendTok         *logging.MuteToken
}

// New builds a consumer from the given options. Configuration problems
// (bad URI, failed resource pre-check, page size unable to hold an STF
// header) are fatal and reported here.
func New(opts ...Option) (*Consumer, error) {
	cfg := defaultConfig()
	if err := options.Apply(cfg, opts...); err != nil {
		return nil, err
	}

	if cfg.pageSize <= stf.HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes cannot hold a %d byte STF header",
			errs.ErrPageTooSmall, cfg.pageSize, stf.HeaderSize)
	}

	c := &Consumer{
		cfg:             cfg,
		log:             cfg.logger,
		engine:          endian.Native(),
		counters:        stats.Global(),
		currentTFID:     block.UndefinedTimeframeID,
		tfMismatchTok:   logging.NewMuteToken(1, 10*time.Second),
		linkMismatchTok: logging.NewMuteToken(1, 10*time.Second),
		orderTok:        logging.NewMuteToken(1, 10*time.Second),
		allocTok:        logging.NewMuteToken(1, 10*time.Second),
		pipeFullTok:     logging.NewMuteToken(1, 10*time.Second),
		sendTok:         logging.NewMuteToken(1, 10*time.Second),
	}

	// transport channel
	if cfg.channel != nil {
		c.channel = cfg.channel
	} else {
		ch, session, err := transport.NewChannel(cfg.channelCfg)
		if err != nil {
			return nil, err
		}
		c.channel = ch
		c.session = session
		c.log.Info("%s: created channel %s type %s transport %s @ %s (session %s)",
			cfg.name, cfg.channelCfg.Name, cfg.channelCfg.Type, cfg.channelCfg.Transport,
			cfg.channelCfg.Address, c.session.Name)
	}

	// unmanaged shared region, checked against system resources first:
	// region creation itself does not verify available memory
	var poolRegion []byte
	if cfg.unmanagedMemorySize > 0 {
		if err := transport.CheckResources(cfg.checkResources, cfg.unmanagedMemorySize); err != nil {
			return nil, err
		}
		bankName := cfg.memoryBankName
		if bankName == "" {
			bankName = cfg.name
		}
		region, err := transport.NewRegion(bankName, cfg.unmanagedMemorySize)
		if err != nil {
			return nil, err
		}
		c.region = region
		c.log.Info("%s: created unmanaged region %s [%x], %s",
			cfg.name, region.Name(), region.ID(), units.FormatBytes(float64(region.Size())))
		if int64(cfg.pageSize)*int64(cfg.pageCount) <= cfg.unmanagedMemorySize {
			poolRegion = region.Data()
		}
	}

	pool, err := mempool.New(mempool.Config{
		PageSize:  cfg.pageSize,
		PageCount: cfg.pageCount,
		Region:    poolRegion,
	})
	if err != nil {
		return nil, err
	}
	c.pool = pool
	pool.SetWarningCallback(func(msg string) {
		c.log.Warn("%s: memory pool: %s", cfg.name, msg)
	})
	c.log.Info("%s: using memory pool: %d pages x %d bytes", cfg.name, cfg.pageCount, cfg.pageSize)

	if cfg.statsPath != "" {
		sink, err := statsink.New(cfg.statsPath, cfg.statsInterval, cfg.statsCodec, c.counters)
		if err != nil {
			return nil, err
		}
		c.sink = sink
	}

	if cfg.threads > 0 {
		c.startPipeline()
	}

	return c, nil
}

// PushBlock rejects per-page pushes; this consumer only accepts complete
// data sets.
func (c *Consumer) PushBlock(*block.Ref) error {
	return errs.ErrPerBlockPush
}

// Push ingests one data set: an ordered sequence of page handles sharing
// one (timeframe, equipment, link). The consumer takes ownership of the
// handles. Push never blocks; under pressure the offending timeframe is
// dropped and an error returned.
func (c *Consumer) Push(ds block.DataSet) error {
	if c.closed.Load() {
		ds.Release()
		return errs.ErrConsumerClosed
	}
	if len(ds) == 0 {
		return errs.ErrEmptyDataSet
	}

	c.pagesUsedInput.Add(uint64(len(ds)))

	if c.cfg.disableSending {
		ds.Release()
		c.counters.PushSuccess.Add(1)

		return nil
	}

	switch {
	case c.cfg.mode == format.ModeRawPerPage:
		return c.pushRawPerPage(ds)
	case c.cfg.mode == format.ModeDataBlockPerPage:
		return c.pushDataBlockPerPage(ds)
	case c.cfg.mode == format.ModeSTFPerPage || !ds.First().Header.IsRdhFormat:
		return c.pushSTFSuperpage(ds)
	default:
		return c.pushHBFGrouped(ds)
	}
}

// pushRawPerPage ships one message per incoming data page, payload only.
func (c *Consumer) pushRawPerPage(ds block.DataSet) error {
	for _, r := range ds {
		b := r.Block()
		if b == nil || len(b.Data) == 0 {
			r.Release()
			continue
		}
		hint := r.Clone()
		msg := transport.NewMessage(b.Data[:b.Header.DataSize], hint.Release)
		if err := c.channel.SendMulti([]transport.Message{msg}); err != nil {
			hint.Release()
			// the unsent remainder of the set must be freed too
			ds.Release()
			c.counters.PushError.Add(1)

			return err
		}
		c.counters.BytesSent.Add(b.Header.DataSize)
		c.counters.Notify.Add(1)
		r.Release()
	}
	c.counters.PushSuccess.Add(1)

	return nil
}

// pushDataBlockPerPage ships two messages per page: serialized block
// header, then payload.
func (c *Consumer) pushDataBlockPerPage(ds block.DataSet) error {
	for _, r := range ds {
		b := r.Block()
		hint := r.Clone()
		parts := []transport.Message{
			transport.NewMessage(b.Header.Bytes(c.engine), nil),
			transport.NewMessage(b.Data[:b.Header.DataSize], hint.Release),
		}
		if err := c.channel.SendMulti(parts); err != nil {
			hint.Release()
			// the unsent remainder of the set must be freed too
			ds.Release()
			c.counters.PushError.Add(1)

			return err
		}
		c.counters.BytesSent.Add(b.Header.DataSize + block.HeaderSize)
		c.counters.Notify.Add(1)
		r.Release()
	}
	c.counters.PushSuccess.Add(1)

	return nil
}

// pushSTFSuperpage ships one STF header plus one message part per data
// page. Also the fallback layout for streams without raw data headers.
func (c *Consumer) pushSTFSuperpage(ds block.DataSet) error {
	ddm, err := c.formatSuperpage(ds)
	ds.Release()
	if err != nil {
		c.counters.PushError.Add(1)
		return err
	}
	if err := c.sendDD(ddm); err != nil {
		ddm.discard()
		c.counters.PushError.Add(1)

		return err
	}

	return nil
}

// pushHBFGrouped is the default data-distribution path: one STF header plus
// one message per heartbeat frame. With worker lanes configured the data
// set is buffered per timeframe and dispatched to the pipeline; otherwise
// it is formatted and sent inline.
func (c *Consumer) pushHBFGrouped(ds block.DataSet) error {
	if err := ds.Validate(); err != nil {
		c.tfMismatchTok.Warn(c.log, "%s: found data set with data from TF %d and TF %d",
			c.cfg.name, ds.First().Header.TimeframeID, ds.Last().Header.TimeframeID)
		ds.Release()
		c.counters.PushError.Add(1)

		return err
	}

	if len(c.lanes) == 0 {
		ddm, err := c.formatDataSet(ds)
		ds.Release()
		if err != nil {
			c.counters.PushError.Add(1)
			return err
		}
		if err := c.sendDD(ddm); err != nil {
			ddm.discard()
			c.counters.PushError.Add(1)

			return err
		}

		return nil
	}

	return c.pushToPipeline(ds)
}

func (c *Consumer) sendDD(ddm *ddMessage) error {
	if err := c.channel.SendMulti(ddm.msgs); err != nil {
		c.sendTok.Error(c.log, "%s: sending failed: %v", c.cfg.name, err)
		return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}

	c.counters.BytesSent.Add(ddm.totalSize)
	c.counters.TimeframeIDSent.Store(ddm.header.TimeframeID)
	c.counters.Notify.Add(1)
	c.counters.PushSuccess.Add(1)
	c.stfCount.Add(1)

	return nil
}

// Counters returns the telemetry counters used by this consumer.
func (c *Consumer) Counters() *stats.Counters {
	return c.counters
}

// Pool returns the paged memory pool, e.g. for monitoring.
func (c *Consumer) Pool() *mempool.Pool {
	return c.pool
}

// Region returns the unmanaged shared region, or nil when none was
// configured.
func (c *Consumer) Region() *transport.Region {
	return c.region
}

// Close stops the worker pipeline, logs aggregate statistics and closes the
// channel. Messages already submitted to the transport are not cancelled;
// their release callbacks run whenever the peer finishes.
func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	c.stopPipeline()

	free, total, inFlight := c.pool.Stats()
	c.log.Info("%s: pool statistics: free=%d inFlight=%d total=%d", c.cfg.name, free, inFlight, total)
	received := c.pagesUsedInput.Load()
	repacked := c.pagesUsedForRepack.Load()
	pct := 0.0
	if received > 0 {
		pct = float64(repacked) * 100.0 / float64(received)
	}
	c.log.Info("%s: STF statistics: count=%d repack: number=%d avg=%d max=%d repacked/received=%d/%d=%.1f%%",
		c.cfg.name, c.stfCount.Load(),
		c.repackSizeStats.Count(), c.repackSizeStats.Average(), c.repackSizeStats.Maximum(),
		repacked, received, pct)

	err := c.channel.Close()
	if c.sink != nil {
		if serr := c.sink.Close(); err == nil {
			err = serr
		}
	}

	return err
}
