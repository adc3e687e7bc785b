// daqmon reads records from the acquisition controller's serial link and
// logs them in engineering units.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	bugst "go.bug.st/serial"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/ericogr/tms-daq/pkg/record"
)

// gravity converts the load cell's grams to newtons.
const gravity = 9.8

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "Serial device of the controller link")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	format := flag.String("format", config.FormatText, "Record format: text|binary")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := monitor(ctx, *port, *baud, *format); err != nil {
		slog.Error("monitor stopped", "err", err)
		os.Exit(1)
	}
}

func monitor(ctx context.Context, port string, baud int, format string) error {
	decode, err := decoderFor(format)
	if err != nil {
		return err
	}
	p, err := bugst.Open(port, &bugst.Mode{BaudRate: baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", port, err)
	}
	slog.Info("connected", "port", port, "baud", baud, "format", format)
	_ = p.ResetInputBuffer()

	// closing the port unblocks the pending read
	go func() {
		<-ctx.Done()
		_ = p.Close()
	}()

	err = decode(p, logCycle)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func decoderFor(format string) (func(io.Reader, func(record.Cycle)) error, error) {
	switch format {
	case config.FormatText:
		return decodeText, nil
	case config.FormatBinary:
		return decodeBinary, nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func logCycle(c record.Cycle) {
	args := []any{"elapsed_ms", c.ElapsedMs()}
	for _, f := range record.Fields {
		r := c.Get(f)
		if !r.OK() {
			args = append(args, f.String(), record.FaultToken)
			continue
		}
		args = append(args, f.String(), r.Value)
	}
	if c.Force.OK() {
		args = append(args, "force_n", newtons(c.Force.Value))
	}
	slog.Info("record", args...)
}

func newtons(grams float64) float64 { return grams * gravity / 1000 }

// decodeText emits one cycle per well-formed line; malformed lines are logged
// and skipped.
func decodeText(r io.Reader, emit func(record.Cycle)) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		c, err := record.ParseLine(sc.Text())
		if err != nil {
			slog.Warn("skipping malformed record", "line", sc.Text(), "err", err)
			continue
		}
		emit(c)
	}
	return sc.Err()
}

// decodeBinary reassembles cycles from packet pairs. Bytes that cannot start
// a packet are skipped one at a time until framing is found again.
func decodeBinary(r io.Reader, emit func(record.Cycle)) error {
	br := bufio.NewReader(r)
	var asm record.Assembler
	for {
		head, err := br.Peek(record.PacketSize)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		p, err := record.DecodePacket(head)
		if err != nil {
			_, _ = br.Discard(1)
			continue
		}
		_, _ = br.Discard(record.PacketSize)
		if c, ok := asm.Add(p); ok {
			emit(c)
		}
	}
}
