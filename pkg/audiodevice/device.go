package audiodevice

import "github.com/soundstage-audio/soundstage/pkg/frame"

type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// Interface for audio source devices: anything that produces PCM frames.
// A remote participant's decoded track, a wav file, or a test fixture
// all look the same to the rest of the pipeline.
//
// Source devices need only define some way to get data out of the device,
// which returns a channel (stream) of PCMFrames.
type AudioSourceDevice interface {
	// Get the stream of this audio device.
	//
	// Raw audio data (as PCMFrames) will arrive on the returned channel.
	// The channel is closed when the device shuts down, and consumers should
	// treat that close as the detach signal for anything built on top.
	GetStream() <-chan frame.PCMFrame

	// Meaningfully close the AudioSourceDevice, including any cleanup of
	// memory and closing of channels.
	//
	// It is assumed that once closed, this device will transmit no more information.
	Close()

	GetDeviceProperties() DeviceProperties
}

// Interface for audio sink devices: anything that consumes PCM frames,
// e.g. a hardware output, a wav file, or the conference mix bus.
//
// Sink devices need only define some way to consume data,
// taken as a channel (stream) of PCMFrames.
type AudioSinkDevice interface {
	// Set the source stream of this audio device.
	//
	// Raw audio data (as PCMFrames) will arrive on the given channel.
	//
	// When this stream is closed, it is assumed the device will be cleaned up
	// (memory will be freed, other channels will be closed, etc).
	// Sink devices therefore have no Close of their own: closures cascade
	// down a pipeline from its source.
	SetStream(sourceStream <-chan frame.PCMFrame)

	GetDeviceProperties() DeviceProperties
}

// An optional extension of AudioSinkDevice for outputs that cannot begin
// playback until something outside this package allows it (the hardware
// analogue of a browser's autoplay restriction: the output exists but is
// suspended until a user gesture).
//
// Sinks that do not implement StartableSinkDevice are assumed to be running
// as soon as their stream is set.
type StartableSinkDevice interface {
	AudioSinkDevice

	// Attempt to begin playback. Returns an error while starting is not yet
	// permitted; callers are expected to retry on the next user interaction.
	Start() error
}
