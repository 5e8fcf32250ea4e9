package drbcc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRTC(t *testing.T) {
	// 2026-08-01 13:37:42, Saturday (wday 7), epoch 3
	data := []byte{0x42, 0x37, 0x13, 0x07, 0x01, 0x08, 0x26, 0x03}
	ts, epoch := decodeRTC(data)

	assert.Equal(t, time.Date(2026, time.August, 1, 13, 37, 42, 0, time.UTC), ts)
	assert.Equal(t, byte(3), epoch)
}

func TestDecodeRTCCenturyBit(t *testing.T) {
	// month byte carries the century bit: 2105-01-15
	data := []byte{0x00, 0x00, 0x00, 0x04, 0x15, 0x01 | 0x80, 0x05, 0x00}
	ts, _ := decodeRTC(data)
	assert.Equal(t, 2105, ts.Year())
	assert.Equal(t, time.January, ts.Month())
}

func TestDecodeRTCMasksClockModeBit(t *testing.T) {
	// bit 6 of the hour byte selects 12/24h mode and must not leak into
	// the decoded hour
	data := []byte{0x00, 0x00, 0x13 | 0x40, 0x01, 0x01, 0x01, 0x26, 0x00}
	ts, _ := decodeRTC(data)
	assert.Equal(t, 13, ts.Hour())
}

func TestEncodeRTC(t *testing.T) {
	ts := time.Date(2026, time.August, 1, 13, 37, 42, 0, time.UTC)
	enc := encodeRTC(ts)

	// Saturday is tm_wday 6, sent as 7
	assert.Equal(t, [7]byte{0x42, 0x37, 0x13, 0x07, 0x01, 0x08, 0x26}, enc)
}

func TestEncodeRTCCenturyBit(t *testing.T) {
	ts := time.Date(2105, time.January, 15, 0, 0, 0, 0, time.UTC)
	enc := encodeRTC(ts)
	assert.Equal(t, byte(0x01|0x80), enc[5])
	assert.Equal(t, byte(0x05), enc[6])
}

func TestRTCRoundTrip(t *testing.T) {
	times := []time.Time{
		time.Date(2024, time.February, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2103, time.December, 31, 12, 30, 15, 0, time.UTC),
	}
	for _, ts := range times {
		enc := encodeRTC(ts)
		payload := append(enc[:], 0x00)
		dec, _ := decodeRTC(payload)
		require.True(t, ts.Equal(dec), "round trip of %s yielded %s", ts, dec)
	}
}
