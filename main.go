package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/ericogr/tms-daq/pkg/config"
	"github.com/ericogr/tms-daq/pkg/convert"
	"github.com/ericogr/tms-daq/pkg/daq"
	"github.com/ericogr/tms-daq/pkg/output"
	"github.com/ericogr/tms-daq/pkg/output/console"
	"github.com/ericogr/tms-daq/pkg/output/mqtt"
	"github.com/ericogr/tms-daq/pkg/output/serial"
	"github.com/ericogr/tms-daq/pkg/output/websocket"
	"github.com/ericogr/tms-daq/pkg/schedule"
	"github.com/ericogr/tms-daq/pkg/sensor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

// run wires config, drivers, conversion, outputs and the loop, and blocks
// until ctx is cancelled. Any error before the loop starts is fatal.
func run(ctx context.Context, args []string, stdout io.Writer) (err error) {
	cfg, err := config.LoadFromFlags(args)
	if err != nil {
		return err
	}
	initLogger(cfg.LogLevel)

	sensors, err := sensor.Open(cfg)
	if err != nil {
		return fmt.Errorf("sensor init: %w", err)
	}
	defer func() { err = multierr.Append(err, sensors.Close()) }()

	unit := convert.NewUnit(cfg, sensors)
	if err := unit.Tare(ctx); err != nil {
		return fmt.Errorf("load cell: %w", err)
	}

	reporter, err := initOutputs(cfg, stdout)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, reporter.Close()) }()

	mode := schedule.AnchorNow
	if cfg.PhaseLocked {
		mode = schedule.PhaseLocked
	}
	sched := schedule.New(cfg.SamplePeriod(), mode)
	loop := daq.New(sched, unit, reporter, daq.WithIdle(cfg.PollInterval()))

	slog.Info("acquisition started", "period", cfg.SamplePeriod(), "phase_locked", cfg.PhaseLocked,
		"read_timeout", cfg.ReadTimeout(), "outputs", reporter.Len())
	if err := loop.Run(ctx); err != nil {
		return err
	}
	loop.LogSummary()
	for _, s := range reporter.Stats() {
		slog.Info("output summary", "output", s.Name, "published", s.Published, "dropped", s.Dropped, "failed", s.Failed)
	}
	return nil
}

func initLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// initOutputs builds the reporter from cfg.Outputs. Outputs opened before a
// failure are closed again.
func initOutputs(cfg config.Config, stdout io.Writer) (*output.Reporter, error) {
	reporter := output.NewReporter()
	for _, oc := range cfg.Outputs {
		var (
			out output.Output
			err error
		)
		switch oc.Type {
		case config.OutputConsole:
			out = console.NewConsoleWriter(stdout)
		case config.OutputSerial:
			out, err = openSerial(cfg.Serial)
		case config.OutputMQTT:
			out, err = openMQTT(cfg, oc)
		case config.OutputWebsocket:
			out, err = openWebsocket(oc)
		default:
			err = fmt.Errorf("unknown output type %q", oc.Type)
		}
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("output %s: %w", oc.Type, err), reporter.Close())
		}
		reporter.Add(oc.Type, out, time.Duration(oc.IntervalMs)*time.Millisecond)
	}
	return reporter, nil
}

// The openers return the interface so a failed open never yields a typed nil.

func openSerial(cfg config.SerialConfig) (output.Output, error) {
	s, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openMQTT(cfg config.Config, oc config.OutputConfig) (output.Output, error) {
	if oc.MQTT == nil {
		return nil, errors.New("missing mqtt settings")
	}
	m, err := mqtt.NewMQTT(*oc.MQTT, mqtt.UnitsFromConfig(cfg), cfg.Serial.WriteTimeout())
	if err != nil {
		return nil, err
	}
	return m, nil
}

func openWebsocket(oc config.OutputConfig) (output.Output, error) {
	if oc.Websocket == nil {
		return nil, errors.New("missing websocket settings")
	}
	s, err := websocket.Listen(*oc.Websocket)
	if err != nil {
		return nil, err
	}
	return s, nil
}
