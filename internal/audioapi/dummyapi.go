package audioapi

import (
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice/device"
)

// An API that lists only one output device:
// a dummy output device that consumes all frames and does nothing.
//
// Used in testing, and stood up by the engine itself when the real output
// API reports no usable device.
type DummyAudioOutputAPI struct {
	properties audiodevice.DeviceProperties
}

func NewDummyAudioOutputAPI(properties audiodevice.DeviceProperties) DummyAudioOutputAPI {
	return DummyAudioOutputAPI{
		properties: properties,
	}
}

func (api DummyAudioOutputAPI) OutputDevices() []AudioIODevice {
	return []AudioIODevice{
		{
			ID:               0,
			Name:             "DummyOutput",
			DeviceProperties: api.properties,
		},
	}
}

func (api DummyAudioOutputAPI) InitOutputDeviceFromID(id AudioIODevice) (audiodevice.AudioSinkDevice, error) {
	if id.ID != 0 {
		return nil, errNoDeviceWithID
	}
	return device.NewDummyAudioSinkDevice(api.properties), nil
}

func (api DummyAudioOutputAPI) InitDefaultOutputDevice() (audiodevice.AudioSinkDevice, error) {
	return device.NewDummyAudioSinkDevice(api.properties), nil
}

// An API with no output devices at all.
//
// Every Init call fails, which is exactly how an environment without audio
// support presents itself. Used to exercise the degraded pass-through path.
type UnsupportedAudioOutputAPI struct{}

func (api UnsupportedAudioOutputAPI) OutputDevices() []AudioIODevice {
	return nil
}

func (api UnsupportedAudioOutputAPI) InitOutputDeviceFromID(AudioIODevice) (audiodevice.AudioSinkDevice, error) {
	return nil, errNoDeviceWithID
}

func (api UnsupportedAudioOutputAPI) InitDefaultOutputDevice() (audiodevice.AudioSinkDevice, error) {
	return nil, errNoDefaultDevice
}
