package audio

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nstepura/bridge/internal/core"
)

var errNoDevice = errors.New("no such capture device")

// Provider is a synthetic media provider: it enumerates configured virtual
// devices and serves capture streams that carry silence frames at the
// nominal rate. Deployments with a real sound stack plug their own
// core.MediaProvider; this one keeps the graph timed and is what the test
// and loopback setups run on.
type Provider struct {
	graph   *Graph
	inputs  []core.MediaDeviceInfo
	outputs []core.MediaDeviceInfo
}

func NewProvider(graph *Graph, inputs, outputs []core.MediaDeviceInfo) *Provider {
	if len(inputs) == 0 {
		inputs = []core.MediaDeviceInfo{{ID: "default", Label: "Default Input"}}
	}
	if len(outputs) == 0 {
		outputs = []core.MediaDeviceInfo{{ID: "default", Label: "Default Output"}}
	}
	return &Provider{graph: graph, inputs: inputs, outputs: outputs}
}

func (p *Provider) InputDevices() []core.MediaDeviceInfo  { return p.inputs }
func (p *Provider) OutputDevices() []core.MediaDeviceInfo { return p.outputs }

// AcquireMicrophone opens a fresh capture track on the requested device.
// An unknown device fails with *core.MediaAcquisitionError.
func (p *Provider) AcquireMicrophone(ctx context.Context, c core.MediaConstraints) (core.Stream, error) {
	deviceID := c.DeviceID
	if deviceID == "" {
		deviceID = "default"
	}
	found := false
	for _, d := range p.inputs {
		if d.ID == deviceID {
			found = true
			break
		}
	}
	if !found {
		return nil, &core.MediaAcquisitionError{DeviceID: deviceID, Err: errNoDevice}
	}

	track := NewTrack("mic/" + deviceID + "/" + time.Now().Format("150405.000"))
	go p.capture(ctx, track)
	log.Debug().Str("module", "audio").Str("device", deviceID).Str("track", track.ID()).Msg("capture opened")
	return NewStream(track), nil
}

func (p *Provider) capture(ctx context.Context, track *Track) {
	defer track.Close()
	ticker := time.NewTicker(framePeriod)
	defer ticker.Stop()
	silence := make([]int16, FrameSamples)
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.graph.ctx.Done():
			return
		case <-ticker.C:
			track.Write(silence)
		}
	}
}
