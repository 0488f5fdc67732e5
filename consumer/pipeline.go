package consumer

import (
	"time"

	"github.com/daqline/stfpipe/block"
	"github.com/daqline/stfpipe/errs"
)

// lane is one worker's pair of FIFOs. The input side holds complete
// timeframes (every data set of one timeframe id); the output side holds
// the formatted messages of those timeframes, still in order.
type lane struct {
	input  *fifo[[]block.DataSet]
	output *fifo[[]*ddMessage]
}

func (c *Consumer) startPipeline() {
	depth := c.cfg.fifoSize
	if depth <= 0 {
		depth = defaultFifoBudget / c.cfg.threads
		if depth < 1 {
			depth = 1
		}
	}

	c.lanes = make([]*lane, c.cfg.threads)
	for i := range c.lanes {
		c.lanes[i] = &lane{
			input:  newFifo[[]block.DataSet](depth),
			output: newFifo[[]*ddMessage](depth),
		}
	}

	c.wg.Add(len(c.lanes) + 1)
	for i := range c.lanes {
		go c.workerLoop(c.lanes[i])
	}
	go c.senderLoop()

	c.log.Info("%s: pipeline started: %d workers, fifo depth %d", c.cfg.name, len(c.lanes), depth)
}

// pushToPipeline buffers data sets per timeframe on the producer side and
// dispatches each complete timeframe to the next worker lane round-robin.
// Runs on the Push caller only.
func (c *Consumer) pushToPipeline(ds block.DataSet) error {
	tfID := ds.First().Header.TimeframeID

	// flushErr reports a dropped previous timeframe; the new one still
	// proceeds
	var flushErr error
	if tfID != c.currentTFID {
		flushErr = c.flushCurrentTimeframe()
		if c.currentTFID != block.UndefinedTimeframeID && tfID != c.currentTFID+1 {
			c.orderTok.Warn(c.log, "%s: non-contiguous timeframe ids: TF %d follows TF %d",
				c.cfg.name, tfID, c.currentTFID)
		}
		c.currentTFID = tfID
	}

	c.currentBuf = append(c.currentBuf, ds)

	if ds.Last().Header.FlagEndOfTimeframe {
		if err := c.flushCurrentTimeframe(); flushErr == nil {
			flushErr = err
		}
	}

	return flushErr
}

// flushCurrentTimeframe hands the buffered timeframe to the current write
// lane. When the lane's FIFO is full the whole timeframe is dropped.
func (c *Consumer) flushCurrentTimeframe() error {
	if len(c.currentBuf) == 0 {
		return nil
	}

	tf := c.currentBuf
	c.currentBuf = nil

	if !c.lanes[c.laneWrite].input.tryPush(tf) {
		c.pipeFullTok.Warn(c.log, "%s: pipeline full, dropping TF %d (%d data sets)",
			c.cfg.name, c.currentTFID, len(tf))
		for _, ds := range tf {
			ds.Release()
		}
		c.counters.PushError.Add(1)

		return errs.ErrPipelineFull
	}
	c.laneWrite = (c.laneWrite + 1) % len(c.lanes)

	return nil
}

// workerLoop formats complete timeframes from its lane's input FIFO. It
// keeps the output FIFO backpressured: formatting only proceeds when there
// is room for the result.
func (c *Consumer) workerLoop(l *lane) {
	defer c.wg.Done()

	for !c.shutdown.Load() {
		if l.output.full() {
			time.Sleep(c.cfg.pollDelay)
			continue
		}
		tf, ok := l.input.tryPop()
		if !ok {
			time.Sleep(c.cfg.pollDelay)
			continue
		}

		out := make([]*ddMessage, 0, len(tf))
		failed := false
		for _, ds := range tf {
			if failed {
				ds.Release()
				continue
			}
			ddm, err := c.formatDataSet(ds)
			ds.Release()
			if err != nil {
				c.counters.PushError.Add(1)
				failed = true

				continue
			}
			out = append(out, ddm)
		}
		if failed {
			for _, ddm := range out {
				ddm.discard()
			}

			continue
		}

		// cannot fail: output room was checked and this worker is the only
		// producer of its lane
		l.output.tryPush(out)
	}
}

// senderLoop drains the lanes' output FIFOs round-robin, matching the
// producer's dispatch order so timeframes leave in the order they arrived.
func (c *Consumer) senderLoop() {
	defer c.wg.Done()

	ir := 0
	for !c.shutdown.Load() {
		out, ok := c.lanes[ir].output.tryPop()
		if !ok {
			time.Sleep(c.cfg.pollDelay)
			continue
		}
		ir = (ir + 1) % len(c.lanes)

		for _, ddm := range out {
			if err := c.sendDD(ddm); err != nil {
				ddm.discard()
				c.counters.PushError.Add(1)
			}
		}
	}
}

// stopPipeline signals shutdown, joins the lanes and releases everything
// still queued.
func (c *Consumer) stopPipeline() {
	c.shutdown.Store(true)
	c.wg.Wait()

	for _, ds := range c.currentBuf {
		ds.Release()
	}
	c.currentBuf = nil

	for _, l := range c.lanes {
		for _, tf := range l.input.drain() {
			for _, ds := range tf {
				ds.Release()
			}
		}
		for _, out := range l.output.drain() {
			for _, ddm := range out {
				ddm.discard()
			}
		}
	}
}
