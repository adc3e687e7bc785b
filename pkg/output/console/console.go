package console

import (
	"io"
	"os"
	"sync"

	"github.com/ericogr/tms-daq/pkg/record"
)

// ConsoleOutput prints each cycle as a text record line.
type ConsoleOutput struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
}

// NewConsole writes to stdout.
func NewConsole() *ConsoleOutput { return NewConsoleWriter(os.Stdout) }

func NewConsoleWriter(w io.Writer) *ConsoleOutput { return &ConsoleOutput{w: w} }

func (c *ConsoleOutput) Publish(cycle record.Cycle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf = record.AppendLine(c.buf[:0], cycle)
	_, err := c.w.Write(c.buf)
	return err
}

func (c *ConsoleOutput) Close() error { return nil }
