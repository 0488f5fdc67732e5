package transport

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/daqline/stfpipe/errs"
)

// ChannelConfig is the transport wiring of a consumer.
type ChannelConfig struct {
	// Name of the channel (informational).
	Name string
	// Type of the channel; only "pair" is supported.
	Type string
	// Transport kind: "shmem" selects the in-process pair channel with
	// region-backed zero-copy semantics, "zeromq" the framed stream
	// transport.
	Transport string
	// Address of the channel for stream transports, e.g.
	// "ipc:///tmp/pipe-readout" or "tcp://127.0.0.1:7776".
	Address string
	// SessionName groups channels of one data-taking session. Empty picks
	// a fresh unique session id.
	SessionName string
	// ProgOptions carries additional transport options as key=value pairs.
	// Unknown keys are ignored.
	ProgOptions map[string]string
}

// Session identifies one transport instance.
type Session struct {
	Name string
	ID   string
}

// NewChannel builds the channel selected by cfg and returns it with its
// session identity.
func NewChannel(cfg ChannelConfig) (Channel, Session, error) {
	session := Session{Name: cfg.SessionName, ID: uuid.NewString()}
	if session.Name == "" {
		session.Name = "default"
	}

	if cfg.Type != "" && cfg.Type != "pair" {
		return nil, session, fmt.Errorf("%w: unsupported channel type %q", errs.ErrBadOption, cfg.Type)
	}

	switch cfg.Transport {
	case "", "shmem":
		return NewPair(), session, nil
	case "zeromq":
		ch, err := BindStream(cfg.Address)
		if err != nil {
			return nil, session, err
		}

		return ch, session, nil
	default:
		return nil, session, fmt.Errorf("%w: unsupported transport %q", errs.ErrBadOption, cfg.Transport)
	}
}
