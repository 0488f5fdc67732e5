// Package transport provides the downstream send channel: multi-part
// messages with release hints, an unmanaged shared region, and the channel
// implementations selected by configuration.
package transport

import "sync"

// ReleaseFunc is the hint callback invoked exactly once when the peer is
// done with a message. It runs on an unspecified goroutine at an
// unspecified time and must be safe to call from any thread.
type ReleaseFunc func()

// Message is one part of a multi-part send: a byte range plus an optional
// release hint. The referenced bytes must stay immutable until the hint
// fires.
type Message struct {
	Data []byte
	hint *hintBox
}

type hintBox struct {
	once sync.Once
	fn   ReleaseFunc
}

// NewMessage builds a message over data. hint may be nil for ranges without
// transport-extended lifetime.
func NewMessage(data []byte, hint ReleaseFunc) Message {
	m := Message{Data: data}
	if hint != nil {
		m.hint = &hintBox{fn: hint}
	}

	return m
}

// Release fires the hint. Safe to call multiple times; only the first call
// runs the callback.
func (m Message) Release() {
	if m.hint != nil {
		m.hint.once.Do(m.hint.fn)
	}
}

// ReleaseAll fires the hints of all messages.
func ReleaseAll(msgs []Message) {
	for _, m := range msgs {
		m.Release()
	}
}

// Channel is the downstream send channel. SendMulti submits the parts as
// one atomic multi-part message: either all parts are queued for the peer
// or none are. Implementations must be safe for use from a single sender
// goroutine; the consumer confines sends to its sender lane.
type Channel interface {
	// SendMulti submits the parts atomically. On success the transport owns
	// the message hints and fires them when the peer is done. On failure no
	// hint is consumed.
	SendMulti(msgs []Message) error

	// Close shuts the channel down. Hints of messages already queued still
	// fire when the peer finishes with them.
	Close() error
}
