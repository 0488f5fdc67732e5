// Package errs defines the sentinel errors shared across stfpipe packages.
package errs

import "errors"

var (
	// ErrPoolExhausted is returned when the paged memory pool has no free page.
	ErrPoolExhausted = errors.New("memory pool exhausted")

	// ErrNoRoom is returned when a child allocation does not fit in the
	// remaining space of its parent page.
	ErrNoRoom = errors.New("no room left in parent page")

	// ErrPageTooSmall is returned at construction when the configured page
	// size cannot hold a single sub-timeframe header.
	ErrPageTooSmall = errors.New("memory pool page size too small")

	// ErrEmptyDataSet is returned when a pushed data set contains no blocks.
	ErrEmptyDataSet = errors.New("empty data set")

	// ErrTimeframeMismatch is returned when the first and last block of a
	// data set carry different timeframe ids.
	ErrTimeframeMismatch = errors.New("timeframe id mismatch within data set")

	// ErrPerBlockPush is returned by PushBlock: this consumer only accepts
	// complete data sets.
	ErrPerBlockPush = errors.New("per-block push not supported")

	// ErrPipelineFull is returned when the worker input FIFO is full and the
	// timeframe had to be dropped.
	ErrPipelineFull = errors.New("formatting pipeline full")

	// ErrSendFailed is returned when the transport rejected a multi-part send.
	ErrSendFailed = errors.New("transport send failed")

	// ErrChannelClosed is returned when sending on a closed channel.
	ErrChannelClosed = errors.New("transport channel closed")

	// ErrInvalidHeaderSize is returned when parsing a header from a byte
	// slice of the wrong length.
	ErrInvalidHeaderSize = errors.New("invalid header size")

	// ErrResourceCheck is returned when the pre-flight resource check finds
	// less free space than the requested unmanaged region size.
	ErrResourceCheck = errors.New("insufficient system resources for unmanaged region")

	// ErrBadOption is returned when a configuration option cannot be parsed.
	ErrBadOption = errors.New("invalid option value")

	// ErrConsumerClosed is returned when pushing data to a closed consumer.
	ErrConsumerClosed = errors.New("consumer closed")
)
