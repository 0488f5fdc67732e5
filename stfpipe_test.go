package stfpipe

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/daqline/stfpipe/consumer"
	"github.com/daqline/stfpipe/internal/logging"
	"github.com/daqline/stfpipe/statsink"
	"github.com/daqline/stfpipe/transport"
)

func TestNewConsumer_Defaults(t *testing.T) {
	c, err := NewConsumer(
		WithChannel(transport.NewPair()),
		WithLogger(logging.NopLogger{}),
	)
	require.NoError(t, err)

	free, total, _ := c.Pool().Stats()
	require.Equal(t, consumer.DefaultPageCount, total)
	require.Equal(t, total, free)
	require.Nil(t, c.Region())

	require.NoError(t, c.Close())
}

func TestNewConsumer_MixedOptionSources(t *testing.T) {
	c, err := NewConsumer(
		WithChannel(transport.NewPair()),
		WithLogger(logging.NopLogger{}),
		WithPageCount(4),
		consumer.WithPackedCopy(false),
	)
	require.NoError(t, err)
	defer c.Close()

	_, total, _ := c.Pool().Stats()
	require.Equal(t, 4, total)
}

func TestNewBenchmarkConsumer(t *testing.T) {
	c, err := NewBenchmarkConsumer("1M")
	require.NoError(t, err)
	defer c.Close()

	require.NotNil(t, c.Region())
	require.Equal(t, int64(1<<20), c.Region().Size())
}

func TestNewStatsConsumer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stats.bin")
	c, err := NewStatsConsumer("", path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	// Close flushes a final snapshot
	snaps, err := statsink.ReadSnapshots(path)
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
}
