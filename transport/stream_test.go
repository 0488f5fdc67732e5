package transport

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daqline/stfpipe/errs"
)

func TestSplitAddress(t *testing.T) {
	network, target, err := splitAddress("ipc:///tmp/pipe-readout")
	require.NoError(t, err)
	require.Equal(t, "unix", network)
	require.Equal(t, "/tmp/pipe-readout", target)

	network, target, err = splitAddress("tcp://127.0.0.1:7776")
	require.NoError(t, err)
	require.Equal(t, "tcp", network)
	require.Equal(t, "127.0.0.1:7776", target)

	_, _, err = splitAddress("inproc://x")
	require.ErrorIs(t, err, errs.ErrBadOption)
}

func TestStream_SendMultiOverTCP(t *testing.T) {
	ch, err := BindStream("tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer ch.Close()

	conn, err := net.Dial("tcp", ch.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	released := 0
	msgs := []Message{
		NewMessage([]byte("header"), func() { released++ }),
		NewMessage([]byte("frame-1"), func() { released++ }),
		NewMessage([]byte("frame-2"), nil),
	}

	done := make(chan error, 1)
	go func() { done <- ch.SendMulti(msgs) }()

	parts, err := ReadMultiPart(conn)
	require.NoError(t, err)
	require.NoError(t, <-done)

	require.Equal(t, [][]byte{[]byte("header"), []byte("frame-1"), []byte("frame-2")}, parts)

	// stream transport copies onto the wire, hints fire at send completion
	require.Equal(t, 2, released)
}

func TestStream_SendMultiOverUnix(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "pipe.sock")
	ch, err := BindStream("ipc://" + sock)
	require.NoError(t, err)
	defer ch.Close()

	conn, err := net.Dial("unix", sock)
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan error, 1)
	go func() {
		done <- ch.SendMulti([]Message{NewMessage([]byte("payload"), nil)})
	}()

	parts, err := ReadMultiPart(conn)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, [][]byte{[]byte("payload")}, parts)
}

func TestStream_SendAfterClose(t *testing.T) {
	ch, err := BindStream("tcp://127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	err = ch.SendMulti([]Message{NewMessage([]byte("x"), nil)})
	require.ErrorIs(t, err, errs.ErrChannelClosed)
}

func TestStream_EmptyGroup(t *testing.T) {
	ch, err := BindStream("tcp://127.0.0.1:0")
	require.NoError(t, err)
	defer ch.Close()

	require.NoError(t, ch.SendMulti(nil))
}

func TestBindStream_BadAddress(t *testing.T) {
	_, err := BindStream("bogus://nowhere")
	require.ErrorIs(t, err, errs.ErrBadOption)
}
