package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstepura/bridge/internal/core"
)

func frame(v int16) []int16 {
	f := make([]int16, FrameSamples)
	for i := range f {
		f[i] = v
	}
	return f
}

func recv(t *testing.T, ch <-chan []int16) []int16 {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func TestTrackFanOut(t *testing.T) {
	tr := NewTrack("t1")
	a := tr.Subscribe()
	b := tr.Subscribe()

	tr.Write(frame(7))

	assert.Equal(t, frame(7), recv(t, a))
	assert.Equal(t, frame(7), recv(t, b))
}

func TestDisabledTrackWritesSilence(t *testing.T) {
	tr := NewTrack("t1")
	sub := tr.Subscribe()

	tr.SetEnabled(false)
	tr.Write(frame(1000))
	assert.Equal(t, frame(0), recv(t, sub))

	tr.SetEnabled(true)
	tr.Write(frame(1000))
	assert.Equal(t, frame(1000), recv(t, sub))
}

func TestTrackCloseEndsSubscriptions(t *testing.T) {
	tr := NewTrack("t1")
	sub := tr.Subscribe()
	tr.Close()

	_, ok := <-sub
	assert.False(t, ok)

	// Late subscribers get a closed channel, not a hang.
	_, ok = <-tr.Subscribe()
	assert.False(t, ok)
}

func TestSlowSubscriberDropsFrames(t *testing.T) {
	tr := NewTrack("t1")
	sub := tr.Subscribe()

	for i := 0; i < subBuffer+10; i++ {
		tr.Write(frame(int16(i)))
	}

	// The writer never blocked; the buffer holds the oldest frames.
	assert.Equal(t, frame(0), recv(t, sub))
	assert.Len(t, sub, subBuffer-1)
}

func TestGainScalesAndClips(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := NewGraph(ctx)

	src := NewTrack("src")
	out := g.Gain(NewStream(src), 2)
	require.Len(t, out.Tracks(), 1)
	sub := out.Tracks()[0].(*Track).Subscribe()

	src.Write(frame(100))
	assert.Equal(t, frame(200), recv(t, sub))

	src.Write(frame(30000))
	assert.Equal(t, frame(32767), recv(t, sub))
}

func TestMixerSumsSources(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := NewGraph(ctx)

	s1 := NewTrack("s1")
	s2 := NewTrack("s2")
	m := g.NewMixer()
	m.AddTrack(s1)
	m.AddTrack(s2)
	out := m.Stream()
	require.Len(t, out.Tracks(), 1)
	sub := out.Tracks()[0].(*Track).Subscribe()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s1.Write(frame(100))
				s2.Write(frame(200))
			}
		}
	}()

	require.Eventually(t, func() bool {
		select {
		case f := <-sub:
			return len(f) == FrameSamples && f[0] == 300
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond, "mixer never produced the summed frame")
}

func TestClip(t *testing.T) {
	assert.Equal(t, int16(32767), clip(1e9))
	assert.Equal(t, int16(-32768), clip(-1e9))
	assert.Equal(t, int16(42), clip(42))
}

func TestProviderRejectsUnknownDevice(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := NewProvider(NewGraph(ctx), nil, nil)

	_, err := p.AcquireMicrophone(ctx, core.MediaConstraints{DeviceID: "ghost"})
	var mae *core.MediaAcquisitionError
	require.ErrorAs(t, err, &mae)
	assert.Equal(t, "ghost", mae.DeviceID)

	stream, err := p.AcquireMicrophone(ctx, core.MediaConstraints{})
	require.NoError(t, err)
	assert.Len(t, stream.Tracks(), 1)
}

func TestSinkRebind(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g := NewGraph(ctx)
	sink := NewSinkProvider(g).NewSink().(*Sink)

	tr := NewTrack("t1")
	require.NoError(t, sink.Bind(NewStream(tr), "default"))
	assert.Equal(t, "default", sink.Device())

	tr2 := NewTrack("t2")
	require.NoError(t, sink.Bind(NewStream(tr2), "hdmi"))
	assert.Equal(t, "hdmi", sink.Device())

	sink.SetMuted(true)
	assert.True(t, sink.Muted())
	sink.SetVolume(0.25)
	assert.Equal(t, 0.25, sink.Volume())
}
