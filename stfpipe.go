// Package stfpipe assembles detector readout superpages into sub-timeframe
// messages and ships them to a downstream data-distribution peer.
//
// The data path accepts data sets of reference-counted page handles, groups
// their packet chains by heartbeat frame, and emits multi-part messages
// (an STF header plus one part per frame) over a shared-memory style or
// stream channel. Pages are sent zero-copy whenever a frame is contained in
// one page; frames straddling pages are repacked into pool-backed copies.
//
// # Basic Usage
//
// Creating a consumer and pushing readout data:
//
//	import "github.com/daqline/stfpipe"
//
//	c, _ := stfpipe.NewConsumer(
//	    stfpipe.WithChannelAddress("ipc:///tmp/pipe-readout"),
//	    stfpipe.WithPageSize("128k"),
//	    stfpipe.WithPageCount(256),
//	    stfpipe.WithThreads(4),
//	)
//	defer c.Close()
//
//	// hand over one data set per (timeframe, equipment, link)
//	_ = c.Push(ds)
//
// # Package Structure
//
// This package provides top-level wrappers around the consumer package. For
// fine-grained control over the pool, transport and accounting, use the
// consumer, mempool, block and transport packages directly.
package stfpipe

import (
	"time"

	"github.com/daqline/stfpipe/consumer"
	"github.com/daqline/stfpipe/format"
)

// Option configures a Consumer. Alias of consumer.Option so callers can mix
// top-level and package-level options freely.
type Option = consumer.Option

// Re-exported consumer options for the common configuration surface.
var (
	WithName                = consumer.WithName
	WithMode                = consumer.WithMode
	WithChannel             = consumer.WithChannel
	WithChannelAddress      = consumer.WithChannelAddress
	WithTransport           = consumer.WithTransport
	WithSessionName         = consumer.WithSessionName
	WithUnmanagedMemorySize = consumer.WithUnmanagedMemorySize
	WithPageSize            = consumer.WithPageSize
	WithPageCount           = consumer.WithPageCount
	WithThreads             = consumer.WithThreads
	WithRunNumber           = consumer.WithRunNumber
	WithLogger              = consumer.WithLogger
)

// NewConsumer creates a sub-timeframe consumer with the given options.
//
// Defaults: heartbeat-frame-grouped format, in-process pair channel,
// 100 pages of 128 KiB, inline formatting (no worker lanes).
func NewConsumer(opts ...Option) (*consumer.Consumer, error) {
	return consumer.New(opts...)
}

// NewDefaultConsumer creates a consumer bound to addr with sensible
// production settings: heartbeat-frame grouping, packed repack copies and
// four worker lanes.
func NewDefaultConsumer(addr string) (*consumer.Consumer, error) {
	return consumer.New(
		consumer.WithChannelAddress(addr),
		consumer.WithMode(format.ModeHBFGrouped),
		consumer.WithPackedCopy(true),
		consumer.WithThreads(4),
	)
}

// NewBenchmarkConsumer creates a consumer that allocates the shared region
// and pool but drops all input, for memory and ingest benchmarks.
func NewBenchmarkConsumer(regionSize string) (*consumer.Consumer, error) {
	return consumer.New(
		consumer.WithDisableSending(true),
		consumer.WithUnmanagedMemorySize(regionSize),
	)
}

// NewStatsConsumer creates a consumer that additionally persists counter
// snapshots to path every interval.
func NewStatsConsumer(addr, path string, interval time.Duration) (*consumer.Consumer, error) {
	return consumer.New(
		consumer.WithChannelAddress(addr),
		consumer.WithStatsSink(path, interval, format.CompressionS2),
	)
}
