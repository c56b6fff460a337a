package rtc

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulawKnownValues(t *testing.T) {
	// Silence encodes to 0xFF and decodes back exactly.
	assert.Equal(t, byte(0xFF), mulawEncodeSample(0))
	assert.Equal(t, int16(0), mulawDecodeSample(0xFF))
	assert.Equal(t, int16(0), mulawDecodeSample(0x7F))
}

func TestMulawRoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 32124, -32124, 32767, -32768}
	for _, s := range samples {
		got := mulawDecodeSample(mulawEncodeSample(s))
		// G.711 quantization error grows with the segment; 3% of full
		// scale comfortably bounds the largest step.
		assert.InDelta(t, float64(s), float64(got), 1000, "sample %d", s)
	}
}

func TestMulawMonotonic(t *testing.T) {
	prev := mulawDecodeSample(mulawEncodeSample(-32000))
	for s := int32(-32000); s <= 32000; s += 500 {
		cur := mulawDecodeSample(mulawEncodeSample(int16(s)))
		assert.GreaterOrEqual(t, cur, prev, "decode not monotonic at %d", s)
		prev = cur
	}
}

func TestDecodeFrame(t *testing.T) {
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xFF
	}
	frame := decodeFrame(&rtp.Packet{Payload: payload})
	require.Len(t, frame, 160)
	assert.Equal(t, int16(0), frame[0])

	assert.Nil(t, decodeFrame(&rtp.Packet{}))
}

func TestMOSBounds(t *testing.T) {
	perfect := mos(0, 0)
	assert.Greater(t, perfect, 4.0)
	assert.LessOrEqual(t, perfect, 5.0)

	bad := mos(50, 0.5)
	assert.GreaterOrEqual(t, bad, 1.0)
	assert.Less(t, bad, perfect)

	// Quality degrades monotonically with loss.
	assert.Greater(t, mos(1, 0.01), mos(10, 0.01))
}

func TestBitrateDelta(t *testing.T) {
	s := &Session{}
	t0 := time.Unix(100, 0)

	// First sample only seeds the counter.
	assert.Zero(t, s.bitrate("in1", 1000, t0))

	// 1000 bytes over 1s is 8000 bps.
	assert.InDelta(t, 8000, s.bitrate("in1", 2000, t0.Add(time.Second)), 1e-9)

	// A counter reset (renegotiation) reports zero, not a negative rate.
	assert.Zero(t, s.bitrate("in1", 500, t0.Add(2*time.Second)))

	// Streams are tracked independently.
	assert.Zero(t, s.bitrate("in2", 4000, t0.Add(2*time.Second)))
	assert.InDelta(t, 8000*4, s.bitrate("in2", 8000, t0.Add(3*time.Second)), 1e-9)
}
