package core

import "context"

// Track is a single audio track inside a stream. Disabled tracks carry
// silence but keep their slot (the gate used for global mute).
type Track interface {
	ID() string
	Enabled() bool
	SetEnabled(bool)
}

// Stream groups tracks, mirroring a media stream of the underlying engine.
type Stream interface {
	ID() string
	Tracks() []Track
}

// MediaDeviceInfo describes one capture or playback device.
type MediaDeviceInfo struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// MediaConstraints selects the capture device for AcquireMicrophone.
type MediaConstraints struct {
	DeviceID string
}

// MediaProvider acquires microphone input and enumerates devices.
type MediaProvider interface {
	// AcquireMicrophone opens a fresh capture stream. Fails with a
	// *MediaAcquisitionError when permission is denied or no device matches.
	AcquireMicrophone(ctx context.Context, c MediaConstraints) (Stream, error)
	InputDevices() []MediaDeviceInfo
	OutputDevices() []MediaDeviceInfo
}

// Mixer combines several source tracks into one destination stream.
// A mixer is built once per member per reconfiguration and never reused.
type Mixer interface {
	AddTrack(Track)
	Stream() Stream
}

// AudioGraph is the generic source -> gain -> mixer -> sink primitive.
// Quality of the mixing itself is out of scope; the engine only wires it.
type AudioGraph interface {
	// Gain derives a stream whose tracks are scaled by level (0..2).
	Gain(s Stream, level float64) Stream
	NewMixer() Mixer
}

// PlaybackSink renders one call's inbound audio. Background-room sinks are
// muted, never unbound.
type PlaybackSink interface {
	Bind(s Stream, outputDeviceID string) error
	SetSinkDevice(outputDeviceID string) error
	SetMuted(bool)
	Muted() bool
	SetVolume(v float64)
}

// PlaybackProvider creates sinks, one per call.
type PlaybackProvider interface {
	NewSink() PlaybackSink
}

// PreferenceStore persists user device choices between runs.
type PreferenceStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

const (
	PrefInputDevice  = "selected_input_device"
	PrefOutputDevice = "selected_output_device"
)
