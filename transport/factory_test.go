package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daqline/stfpipe/errs"
)

func TestNewChannel_DefaultsToPair(t *testing.T) {
	ch, session, err := NewChannel(ChannelConfig{Name: "readout"})
	require.NoError(t, err)
	require.IsType(t, &PairChannel{}, ch)
	require.Equal(t, "default", session.Name)
	require.NotEmpty(t, session.ID)
	require.NoError(t, ch.Close())
}

func TestNewChannel_Shmem(t *testing.T) {
	ch, session, err := NewChannel(ChannelConfig{
		Name:        "readout",
		Type:        "pair",
		Transport:   "shmem",
		SessionName: "run-561000",
	})
	require.NoError(t, err)
	require.IsType(t, &PairChannel{}, ch)
	require.Equal(t, "run-561000", session.Name)
	require.NoError(t, ch.Close())
}

func TestNewChannel_Stream(t *testing.T) {
	ch, _, err := NewChannel(ChannelConfig{
		Name:      "readout",
		Type:      "pair",
		Transport: "zeromq",
		Address:   "tcp://127.0.0.1:0",
	})
	require.NoError(t, err)
	require.IsType(t, &StreamChannel{}, ch)
	require.NoError(t, ch.Close())
}

func TestNewChannel_Invalid(t *testing.T) {
	_, _, err := NewChannel(ChannelConfig{Type: "pub"})
	require.ErrorIs(t, err, errs.ErrBadOption)

	_, _, err = NewChannel(ChannelConfig{Transport: "rdma"})
	require.ErrorIs(t, err, errs.ErrBadOption)

	_, _, err = NewChannel(ChannelConfig{Transport: "zeromq", Address: "bad"})
	require.ErrorIs(t, err, errs.ErrBadOption)
}

func TestNewChannel_UniqueSessionIDs(t *testing.T) {
	ch1, s1, err := NewChannel(ChannelConfig{})
	require.NoError(t, err)
	ch2, s2, err := NewChannel(ChannelConfig{})
	require.NoError(t, err)
	require.NotEqual(t, s1.ID, s2.ID)
	require.NoError(t, ch1.Close())
	require.NoError(t, ch2.Close())
}
