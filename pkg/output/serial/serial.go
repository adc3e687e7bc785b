// Package serial writes records to a serial link without letting a slow or
// stalled port block the acquisition loop.
package serial

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	bugst "go.bug.st/serial"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/ericogr/tms-daq/pkg/output"
	"github.com/ericogr/tms-daq/pkg/record"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("serial output closed")

// SerialOutput queues encoded records for a single writer goroutine. Publish
// waits at most the write timeout for queue space and otherwise drops the
// whole record, so framing on the wire is never broken.
type SerialOutput struct {
	w       io.WriteCloser
	binary  bool
	timeout time.Duration
	queue   chan []byte
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
	written atomic.Uint64
}

// Open opens the configured port (8N1) and starts the writer.
func Open(cfg config.SerialConfig) (*SerialOutput, error) {
	port, err := bugst.Open(cfg.Port, &bugst.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   bugst.NoParity,
		StopBits: bugst.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial %s: %w", cfg.Port, err)
	}
	slog.Info("serial output ready", "port", cfg.Port, "baud", cfg.BaudRate, "format", cfg.Format)
	return NewWriter(port, cfg), nil
}

// NewWriter starts a writer over any WriteCloser; Close closes w.
func NewWriter(w io.WriteCloser, cfg config.SerialConfig) *SerialOutput {
	s := &SerialOutput{
		w:       w,
		binary:  cfg.Format == config.FormatBinary,
		timeout: cfg.WriteTimeout(),
		queue:   make(chan []byte, max(cfg.QueueSize, 1)),
		done:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *SerialOutput) encode(c record.Cycle) []byte {
	if s.binary {
		return record.AppendPackets(make([]byte, 0, 2*record.PacketSize), c)
	}
	return record.AppendLine(make([]byte, 0, 48), c)
}

func (s *SerialOutput) Publish(c record.Cycle) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	b := s.encode(c)
	select {
	case s.queue <- b:
		return nil
	default:
	}
	if s.timeout > 0 {
		timer := time.NewTimer(s.timeout)
		defer timer.Stop()
		select {
		case s.queue <- b:
			return nil
		case <-s.done:
			return ErrClosed
		case <-timer.C:
		}
	}
	s.dropped.Add(1)
	return fmt.Errorf("%w: serial queue full", output.ErrDropped)
}

func (s *SerialOutput) run() {
	defer s.wg.Done()
	failing := false
	write := func(b []byte) {
		if _, err := s.w.Write(b); err != nil {
			if !failing {
				slog.Warn("serial write failed", "err", err)
				failing = true
			}
			return
		}
		if failing {
			slog.Info("serial write recovered")
			failing = false
		}
		s.written.Add(1)
	}
	for {
		select {
		case b := <-s.queue:
			write(b)
		case <-s.done:
			// flush what was accepted before Close
			for {
				select {
				case b := <-s.queue:
					write(b)
				default:
					return
				}
			}
		}
	}
}

// Dropped is the number of records discarded because the queue stayed full.
func (s *SerialOutput) Dropped() uint64 { return s.dropped.Load() }

// Written is the number of records handed to the port.
func (s *SerialOutput) Written() uint64 { return s.written.Load() }

// Close flushes queued records and closes the port.
func (s *SerialOutput) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.w.Close()
	})
	return err
}
