package consumer

import (
	"fmt"
	"time"

	"github.com/daqline/stfpipe/errs"
	"github.com/daqline/stfpipe/format"
	"github.com/daqline/stfpipe/internal/logging"
	"github.com/daqline/stfpipe/internal/options"
	"github.com/daqline/stfpipe/internal/units"
	"github.com/daqline/stfpipe/transport"
)

// Defaults mirroring the configuration surface.
const (
	DefaultPageSize  = 128 * 1024
	DefaultPageCount = 100

	// defaultFifoBudget sizes the per-lane FIFOs: roughly one second worth
	// of timeframes split across the lanes.
	defaultFifoBudget = 88
)

type config struct {
	name string

	disableSending bool
	mode           format.Mode

	channelCfg transport.ChannelConfig
	channel    transport.Channel // injected channel overrides channelCfg

	unmanagedMemorySize int64
	checkResources      []string
	memoryBankName      string

	pageSize    int
	pageCount   int
	packedCopy  bool
	threads     int
	fifoSize    int
	pollDelay   time.Duration
	logger      logging.Logger
	runNumber   uint32

	statsPath     string
	statsInterval time.Duration
	statsCodec    format.CompressionType
}

func defaultConfig() *config {
	return &config{
		name: "consumer-stf",
		channelCfg: transport.ChannelConfig{
			Name:      "readout",
			Type:      "pair",
			Transport: "shmem",
			Address:   "ipc:///tmp/pipe-readout",
		},
		mode:       format.ModeHBFGrouped,
		pageSize:   DefaultPageSize,
		pageCount:  DefaultPageCount,
		packedCopy: true,
		pollDelay:  time.Millisecond,
		logger:     logging.Default(),
		statsCodec: format.CompressionS2,
	}
}

// Option configures a Consumer.
type Option = options.Option[*config]

// WithName sets the consumer name used in log messages.
func WithName(name string) Option {
	return options.NoError(func(c *config) { c.name = name })
}

// WithDisableSending drops all input without building messages. Used for
// performance tests that only need the shared memory segment.
func WithDisableSending(disable bool) Option {
	return options.NoError(func(c *config) { c.disableSending = disable })
}

// WithMode selects the message format mode.
func WithMode(mode format.Mode) Option {
	return options.New(func(c *config) error {
		if !mode.Valid() {
			return fmt.Errorf("%w: unknown format mode %d", errs.ErrBadOption, mode)
		}
		c.mode = mode

		return nil
	})
}

// WithChannel injects a pre-built transport channel, bypassing the factory.
func WithChannel(ch transport.Channel) Option {
	return options.NoError(func(c *config) { c.channel = ch })
}

// WithSessionName sets the transport session name.
func WithSessionName(name string) Option {
	return options.NoError(func(c *config) { c.channelCfg.SessionName = name })
}

// WithTransport sets the transport kind ("shmem" or "zeromq").
func WithTransport(kind string) Option {
	return options.NoError(func(c *config) { c.channelCfg.Transport = kind })
}

// WithChannelName sets the channel name.
func WithChannelName(name string) Option {
	return options.NoError(func(c *config) { c.channelCfg.Name = name })
}

// WithChannelType sets the channel type (default "pair").
func WithChannelType(typ string) Option {
	return options.NoError(func(c *config) { c.channelCfg.Type = typ })
}

// WithChannelAddress sets the channel address URI.
func WithChannelAddress(addr string) Option {
	return options.NoError(func(c *config) { c.channelCfg.Address = addr })
}

// WithProgOptions parses a comma-separated key=value list of extra
// transport options.
func WithProgOptions(list string) Option {
	return options.New(func(c *config) error {
		kv, err := units.ParseKeyValues(list)
		if err != nil {
			return err
		}
		c.channelCfg.ProgOptions = kv

		return nil
	})
}

// WithUnmanagedMemorySize sets the size of the shared region created at
// start-up, as a byte count string with optional k/M/G/T/P suffix.
func WithUnmanagedMemorySize(size string) Option {
	return options.New(func(c *config) error {
		n, err := units.ParseBytes(size)
		if err != nil {
			return err
		}
		c.unmanagedMemorySize = n

		return nil
	})
}

// WithCheckResources lists filesystem paths and /proc/meminfo keys that
// must have at least the unmanaged region size free.
func WithCheckResources(list string) Option {
	return options.NoError(func(c *config) { c.checkResources = units.SplitList(list) })
}

// WithMemoryBankName names the memory bank contributed from the unmanaged
// region.
func WithMemoryBankName(name string) Option {
	return options.NoError(func(c *config) { c.memoryBankName = name })
}

// WithPageSize sets the pool page size, as a byte count string.
func WithPageSize(size string) Option {
	return options.New(func(c *config) error {
		n, err := units.ParseBytes(size)
		if err != nil {
			return err
		}
		if n <= 0 {
			return fmt.Errorf("%w: page size must be positive", errs.ErrBadOption)
		}
		c.pageSize = int(n)

		return nil
	})
}

// WithPageCount sets the number of pool pages.
func WithPageCount(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: page count must be positive", errs.ErrBadOption)
		}
		c.pageCount = n

		return nil
	})
}

// WithPackedCopy toggles reuse of a repack page for multiple copies
// (default on). When off, every repack draws a fresh page.
func WithPackedCopy(enable bool) Option {
	return options.NoError(func(c *config) { c.packedCopy = enable })
}

// WithThreads sets the number of worker lanes; 0 selects inline mode.
func WithThreads(n int) Option {
	return options.New(func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: thread count cannot be negative", errs.ErrBadOption)
		}
		c.threads = n

		return nil
	})
}

// WithFifoSize overrides the per-lane FIFO depth (default 88/threads).
func WithFifoSize(n int) Option {
	return options.New(func(c *config) error {
		if n <= 0 {
			return fmt.Errorf("%w: fifo size must be positive", errs.ErrBadOption)
		}
		c.fifoSize = n

		return nil
	})
}

// WithPollDelay overrides the worker/sender idle sleep (default 1ms).
func WithPollDelay(d time.Duration) Option {
	return options.NoError(func(c *config) {
		if d > 0 {
			c.pollDelay = d
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return options.NoError(func(c *config) {
		if l != nil {
			c.logger = l
		}
	})
}

// WithRunNumber sets the run number stamped into STF headers when the
// source blocks carry none.
func WithRunNumber(run uint32) Option {
	return options.NoError(func(c *config) { c.runNumber = run })
}

// WithStatsSink enables periodic counter snapshots to path.
func WithStatsSink(path string, interval time.Duration, codec format.CompressionType) Option {
	return options.NoError(func(c *config) {
		c.statsPath = path
		c.statsInterval = interval
		c.statsCodec = codec
	})
}
