// Package statsink periodically persists counter snapshots so operators can
// review a run after the fact. Records are JSON-encoded, compressed with a
// configurable codec and appended to a single file.
//
// Record layout, little-endian: u8 compression type, u32 payload length,
// payload bytes.
package statsink

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/daqline/stfpipe/compress"
	"github.com/daqline/stfpipe/format"
	"github.com/daqline/stfpipe/stats"
)

var recEndian = binary.LittleEndian

// Sink writes one snapshot per interval plus a final one on Close.
type Sink struct {
	file     *os.File
	codec    compress.Codec
	ctype    format.CompressionType
	interval time.Duration
	counters *stats.Counters

	mu   sync.Mutex
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens (or creates) the snapshot file at path and starts the periodic
// writer. An interval of zero disables periodic writes; a final snapshot is
// still written on Close.
func New(path string, interval time.Duration, ctype format.CompressionType, counters *stats.Counters) (*Sink, error) {
	codec, err := compress.GetCodec(ctype)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	s := &Sink{
		file:     f,
		codec:    codec,
		ctype:    ctype,
		interval: interval,
		counters: counters,
		done:     make(chan struct{}),
	}

	if interval > 0 {
		s.wg.Add(1)
		go s.loop()
	}

	return s, nil
}

func (s *Sink) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			_ = s.WriteSnapshot()
		}
	}
}

// WriteSnapshot appends one snapshot record immediately.
func (s *Sink) WriteSnapshot() error {
	payload, err := json.Marshal(s.counters.Snapshot())
	if err != nil {
		return err
	}

	compressed, err := s.codec.Compress(payload)
	if err != nil {
		return err
	}

	var head [5]byte
	head[0] = byte(s.ctype)
	recEndian.PutUint32(head[1:], uint32(len(compressed)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Write(head[:]); err != nil {
		return err
	}
	if _, err := s.file.Write(compressed); err != nil {
		return err
	}

	return nil
}

// Close writes a final snapshot and closes the file.
func (s *Sink) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	s.wg.Wait()

	err := s.WriteSnapshot()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}

	return err
}

// ReadSnapshots decodes every record in the snapshot file at path.
func ReadSnapshots(path string) ([]stats.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []stats.Snapshot
	var head [5]byte
	for {
		if _, err := io.ReadFull(f, head[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}

			return nil, err
		}
		ctype := format.CompressionType(head[0])
		size := recEndian.Uint32(head[1:])
		compressed := make([]byte, size)
		if _, err := io.ReadFull(f, compressed); err != nil {
			return nil, err
		}

		codec, err := compress.GetCodec(ctype)
		if err != nil {
			return nil, fmt.Errorf("snapshot record: %w", err)
		}
		payload, err := codec.Decompress(compressed)
		if err != nil {
			return nil, err
		}

		var snap stats.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
}
