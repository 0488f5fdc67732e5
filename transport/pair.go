package transport

import (
	"sync"

	"github.com/daqline/stfpipe/errs"
)

// PairChannel is the in-process pair transport used with the shared-memory
// region: messages point into sender-owned memory and the receiving side
// releases them when done, mirroring shared-memory semantics where only
// descriptors travel and the payload stays in place.
type PairChannel struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]Message
	closed bool
}

var _ Channel = (*PairChannel)(nil)

// NewPair creates an in-process pair channel.
func NewPair() *PairChannel {
	c := &PairChannel{}
	c.cond = sync.NewCond(&c.mu)

	return c
}

// SendMulti queues the parts as one multi-part message.
func (c *PairChannel) SendMulti(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errs.ErrChannelClosed
	}

	group := make([]Message, len(msgs))
	copy(group, msgs)
	c.queue = append(c.queue, group)
	c.cond.Broadcast()

	return nil
}

// Receive pops the next multi-part message, blocking until one is queued or
// the channel closes. The caller owns the parts and must Release each when
// done. Returns ok=false after close once the queue drains.
func (c *PairChannel) Receive() ([]Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.queue) == 0 {
		return nil, false
	}

	group := c.queue[0]
	c.queue = c.queue[1:]

	return group, true
}

// TryReceive pops the next multi-part message without blocking.
func (c *PairChannel) TryReceive() ([]Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) == 0 {
		return nil, false
	}

	group := c.queue[0]
	c.queue = c.queue[1:]

	return group, true
}

// Pending returns the number of queued multi-part messages.
func (c *PairChannel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue)
}

// Close shuts the channel. Queued messages remain receivable; hints of
// messages never received are NOT fired by Close, matching the contract
// that in-flight releases happen whenever the peer finishes.
func (c *PairChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cond.Broadcast()

	return nil
}
