package rtc

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/adapters/audio"
	"github.com/nstepura/bridge/internal/core"
)

const sampleDuration = 20 * time.Millisecond

// connection adapts the peer connection's media plane to core.Connection.
type connection struct {
	s *Session
}

func (c *connection) Senders() []core.Sender {
	rtpSenders := c.s.pc.GetSenders()
	out := make([]core.Sender, 0, len(rtpSenders))
	for _, rs := range rtpSenders {
		out = append(out, &sender{sess: c.s, rs: rs})
	}
	return out
}

func (c *connection) Receivers() []core.Receiver {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	out := make([]core.Receiver, len(c.s.inbound))
	for i, in := range c.s.inbound {
		out[i] = in
	}
	return out
}

func (c *connection) AudioStats() []core.AudioStreamStats {
	report := c.s.pc.GetStats()
	now := time.Now()
	var out []core.AudioStreamStats
	for _, st := range report {
		switch v := st.(type) {
		case webrtc.InboundRTPStreamStats:
			if v.Kind != "audio" {
				continue
			}
			lossPct := 0.0
			total := int64(v.PacketsReceived) + int64(v.PacketsLost)
			if total > 0 {
				lossPct = float64(v.PacketsLost) / float64(total) * 100
			}
			out = append(out, core.AudioStreamStats{
				TrackID:         statTrackID(v.TrackID, v.ID),
				Direction:       core.StatInbound,
				PacketsReceived: int64(v.PacketsReceived),
				PacketsLost:     int64(v.PacketsLost),
				Jitter:          v.Jitter,
				Bitrate:         c.s.bitrate(v.ID, v.BytesReceived, now),
				MOS:             mos(lossPct, v.Jitter),
			})
		case webrtc.OutboundRTPStreamStats:
			if v.Kind != "audio" {
				continue
			}
			out = append(out, core.AudioStreamStats{
				TrackID:   statTrackID(v.TrackID, v.ID),
				Direction: core.StatOutbound,
				Bitrate:   c.s.bitrate(v.ID, v.BytesSent, now),
			})
		}
	}
	return out
}

func statTrackID(trackID, statID string) string {
	if trackID != "" {
		return trackID
	}
	return statID
}

type byteSample struct {
	bytes uint64
	at    time.Time
}

// bitrate derives bits per second from the byte counter delta since the
// previous probe of the same stream.
func (s *Session) bitrate(statID string, bytes uint64, now time.Time) float64 {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if s.lastBytes == nil {
		s.lastBytes = make(map[string]byteSample)
	}
	prev, ok := s.lastBytes[statID]
	s.lastBytes[statID] = byteSample{bytes: bytes, at: now}
	if !ok || bytes < prev.bytes {
		return 0
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes-prev.bytes) * 8 / elapsed
}

// mos estimates call quality on the 1..5 scale with the E-model
// approximation used by browser-side probes.
func mos(lossPct, jitterSec float64) float64 {
	effectiveLatency := jitterSec*1000*2 + 10
	r := 93.2
	if effectiveLatency < 160 {
		r -= effectiveLatency / 40
	} else {
		r -= (effectiveLatency - 120) / 10
	}
	r -= lossPct * 2.5
	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}
	return 1 + 0.035*r + 7e-6*r*(r-60)*(100-r)
}

// sender feeds one RTP sender from a PCM track. ReplaceTrack swaps the
// source: a static PCMU track is attached to the RTP sender and a pump
// goroutine encodes frames into it.
type sender struct {
	sess *Session
	rs   *webrtc.RTPSender
}

func (sn *sender) ReplaceTrack(t core.Track) error {
	src, ok := t.(*audio.Track)
	if !ok {
		return fmt.Errorf("replace track %s: unsupported track type %T", t.ID(), t)
	}
	local, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypePCMU,
		ClockRate: audio.SampleRate,
		Channels:  1,
	}, src.ID(), "bridge")
	if err != nil {
		return fmt.Errorf("new local track: %w", err)
	}
	if err := sn.rs.ReplaceTrack(local); err != nil {
		return fmt.Errorf("replace rtp track: %w", err)
	}

	s := sn.sess
	s.mu.Lock()
	if prev, ok := s.pumps[sn.rs]; ok {
		prev.stop()
	}
	if s.pumps == nil {
		s.pumps = make(map[*webrtc.RTPSender]*pump)
	}
	p := newPump(src, local)
	s.pumps[sn.rs] = p
	s.outbound = src
	src.SetEnabled(!s.held && !s.muted)
	s.mu.Unlock()

	go p.run()
	log.Debug().Str("module", "rtc").Str("call", string(s.id)).Str("track", src.ID()).Msg("outbound track replaced")
	return nil
}

// pump moves PCM frames from the graph into an RTP-bound local track.
type pump struct {
	src   *audio.Track
	dst   *webrtc.TrackLocalStaticSample
	stopc chan struct{}
	once  sync.Once
}

func newPump(src *audio.Track, dst *webrtc.TrackLocalStaticSample) *pump {
	return &pump{src: src, dst: dst, stopc: make(chan struct{})}
}

func (p *pump) stop() { p.once.Do(func() { close(p.stopc) }) }

func (p *pump) run() {
	sub := p.src.Subscribe()
	for {
		select {
		case <-p.stopc:
			return
		case frame, ok := <-sub:
			if !ok {
				return
			}
			payload := make([]byte, len(frame))
			for i, s := range frame {
				payload[i] = mulawEncodeSample(s)
			}
			if err := p.dst.WriteSample(media.Sample{Data: payload, Duration: sampleDuration}); err != nil {
				log.Warn().Str("module", "rtc").Str("track", p.src.ID()).Err(err).Msg("write sample")
				return
			}
		}
	}
}

// inboundTrack decodes a remote RTP audio track into a graph track.
type inboundTrack struct {
	remote *webrtc.TrackRemote
	out    *audio.Track
}

func newInboundTrack(remote *webrtc.TrackRemote) *inboundTrack {
	return &inboundTrack{
		remote: remote,
		out:    audio.NewTrack("in/" + remote.ID()),
	}
}

func (t *inboundTrack) Track() core.Track { return t.out }

func (t *inboundTrack) loop() {
	defer t.out.Close()
	for {
		pkt, _, err := t.remote.ReadRTP()
		if err != nil {
			return
		}
		frame := decodeFrame(pkt)
		if frame == nil {
			continue
		}
		t.out.Write(frame)
	}
}

// decodeFrame turns a PCMU packet into linear PCM. Other payload types are
// dropped; the transceiver only negotiates G.711 µ-law.
func decodeFrame(pkt *rtp.Packet) []int16 {
	if len(pkt.Payload) == 0 {
		return nil
	}
	frame := make([]int16, len(pkt.Payload))
	for i, b := range pkt.Payload {
		frame[i] = mulawDecodeSample(b)
	}
	return frame
}

const mulawBias = 0x84

func mulawEncodeSample(s int16) byte {
	v := int32(s)
	sign := byte(0)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	v += mulawBias
	if v > 0x7FFF {
		v = 0x7FFF
	}
	exp := byte(7)
	for mask := int32(0x4000); mask != 0 && v&mask == 0; mask >>= 1 {
		exp--
	}
	mant := byte((v >> (exp + 3)) & 0x0F)
	return ^(sign | exp<<4 | mant)
}

func mulawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exp := (b >> 4) & 0x07
	mant := b & 0x0F
	v := ((int32(mant) << 3) + mulawBias) << exp
	v -= mulawBias
	if sign != 0 {
		v = -v
	}
	return int16(v)
}
