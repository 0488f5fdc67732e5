package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/daqline/stfpipe/errs"
)

// StreamChannel sends multi-part messages as framed byte groups over a
// stream socket. It binds a listener and serves the first connected peer.
// Message hints fire as soon as the bytes are written out, since the data
// is copied onto the wire.
//
// Frame layout, little-endian: u32 part count, then per part a u64 length
// followed by the raw bytes.
type StreamChannel struct {
	listener net.Listener

	mu     sync.Mutex
	cond   *sync.Cond
	conn   net.Conn
	closed bool
}

var _ Channel = (*StreamChannel)(nil)

var streamEndian = binary.LittleEndian

// BindStream parses address ("ipc:///path" for unix sockets, "tcp://host:port")
// and starts listening for one peer.
func BindStream(address string) (*StreamChannel, error) {
	network, target, err := splitAddress(address)
	if err != nil {
		return nil, err
	}

	ln, err := net.Listen(network, target)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", address, err)
	}

	c := &StreamChannel{listener: ln}
	c.cond = sync.NewCond(&c.mu)
	go c.acceptLoop()

	return c, nil
}

// Addr returns the bound listener address.
func (c *StreamChannel) Addr() net.Addr {
	return c.listener.Addr()
}

func (c *StreamChannel) acceptLoop() {
	for {
		conn, err := c.listener.Accept()
		if err != nil {
			return
		}

		c.mu.Lock()
		if c.closed || c.conn != nil {
			c.mu.Unlock()
			conn.Close()

			continue
		}
		c.conn = conn
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// SendMulti writes the parts as one frame group, blocking until a peer is
// connected. Hints fire after a fully successful write; a short or failed
// write leaves all hints unconsumed and returns ErrSendFailed.
func (c *StreamChannel) SendMulti(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}

	c.mu.Lock()
	for c.conn == nil && !c.closed {
		c.cond.Wait()
	}
	if c.closed {
		c.mu.Unlock()
		return errs.ErrChannelClosed
	}
	conn := c.conn
	c.mu.Unlock()

	var head [4]byte
	streamEndian.PutUint32(head[:], uint32(len(msgs)))
	if err := writeFull(conn, head[:]); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
	}

	var lenBuf [8]byte
	for _, m := range msgs {
		streamEndian.PutUint64(lenBuf[:], uint64(len(m.Data)))
		if err := writeFull(conn, lenBuf[:]); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
		}
		if err := writeFull(conn, m.Data); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrSendFailed, err)
		}
	}

	ReleaseAll(msgs)

	return nil
}

// Close shuts the listener and connection down.
func (c *StreamChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	return c.listener.Close()
}

func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}

	return nil
}

// ReadMultiPart reads one frame group from r, e.g. on the peer side of a
// StreamChannel.
func ReadMultiPart(r io.Reader) ([][]byte, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	count := streamEndian.Uint32(head[:])

	parts := make([][]byte, 0, count)
	var lenBuf [8]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		size := streamEndian.Uint64(lenBuf[:])
		part := make([]byte, size)
		if _, err := io.ReadFull(r, part); err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}

	return parts, nil
}

func splitAddress(address string) (network, target string, err error) {
	switch {
	case strings.HasPrefix(address, "ipc://"):
		return "unix", strings.TrimPrefix(address, "ipc://"), nil
	case strings.HasPrefix(address, "tcp://"):
		return "tcp", strings.TrimPrefix(address, "tcp://"), nil
	default:
		return "", "", fmt.Errorf("%w: unsupported channel address %q", errs.ErrBadOption, address)
	}
}
