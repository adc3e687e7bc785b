package console

import (
	"bytes"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/ericogr/tms-daq/pkg/record"
	"github.com/ericogr/tms-daq/pkg/sensor"
)

func captureStdout(f func()) string {
	r, w, _ := os.Pipe()
	stdout := os.Stdout
	os.Stdout = w
	outC := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, r)
		outC <- buf.String()
	}()
	f()
	_ = w.Close()
	os.Stdout = stdout
	return <-outC
}

func TestConsolePublish(t *testing.T) {
	cycle := record.Cycle{
		Elapsed:      1234 * time.Millisecond,
		Pressure:     record.Valid(150.1234),
		Temperature1: record.Valid(21.5),
		Temperature2: record.Valid(425),
		Force:        record.Valid(-3.456),
	}
	out := captureStdout(func() { _ = NewConsole().Publish(cycle) })
	want := "1234,150.123,21.5,425.0,-3.46\n"
	if out != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", out, want)
	}
}

func TestConsoleFaultSentinel(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)
	cycle := record.Cycle{
		Elapsed:      20 * time.Millisecond,
		Pressure:     record.Valid(0),
		Temperature1: record.Faulted(sensor.ErrOpenThermocouple),
		Temperature2: record.Valid(425),
		Force:        record.Faulted(errors.New("hx711 read failed")),
	}
	if err := c.Publish(cycle); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := c.Publish(record.Cycle{Elapsed: 30 * time.Millisecond}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := "20,0.0,FAULT,425.0,FAULT\n30,0.0,0.0,0.0,0.0\n"
	if buf.String() != want {
		t.Fatalf("console output mismatch:\n got: %q\nwant: %q", buf.String(), want)
	}
}
