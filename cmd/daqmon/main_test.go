package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericogr/tms-daq/pkg/record"
)

func sample(ms int) record.Cycle {
	return record.Cycle{
		Elapsed:      time.Duration(ms) * time.Millisecond,
		Pressure:     record.Valid(150),
		Temperature1: record.Faulted(nil),
		Temperature2: record.Valid(425),
		Force:        record.Valid(1000),
	}
}

func TestDecodeText(t *testing.T) {
	in := "10,150.0,FAULT,425.0,1000.0\n" +
		"garbage\n" +
		"\n" +
		"20,150.0,FAULT,425.0,1000.0\r\n"
	var got []record.Cycle
	require.NoError(t, decodeText(strings.NewReader(in), func(c record.Cycle) { got = append(got, c) }))
	require.Len(t, got, 2)
	assert.Equal(t, int64(20), got[1].ElapsedMs())
	assert.False(t, got[0].Temperature1.OK())
	assert.Equal(t, 425.0, got[0].Temperature2.Value)
}

func TestDecodeBinaryResync(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(record.AppendPackets(nil, sample(10)))
	buf.Write([]byte{0x42, 0x13}) // line noise
	buf.Write(record.AppendPackets(nil, sample(20)))
	buf.Write([]byte{0x00, 0x01}) // truncated tail

	var got []record.Cycle
	require.NoError(t, decodeBinary(&buf, func(c record.Cycle) { got = append(got, c) }))
	require.Len(t, got, 2)
	assert.Equal(t, int64(10), got[0].ElapsedMs())
	assert.Equal(t, int64(20), got[1].ElapsedMs())
	assert.False(t, got[1].Temperature1.OK())
	assert.InDelta(t, 150, got[1].Pressure.Value, 1e-4)
	assert.InDelta(t, 1000, got[1].Force.Value, 1e-4)
}

func TestNewtons(t *testing.T) {
	assert.InDelta(t, 9.8, newtons(1000), 1e-12)
	assert.InDelta(t, 0, newtons(0), 1e-12)
}

func TestDecoderFor(t *testing.T) {
	_, err := decoderFor("text")
	assert.NoError(t, err)
	_, err = decoderFor("binary")
	assert.NoError(t, err)
	_, err = decoderFor("csv")
	assert.Error(t, err)
}
