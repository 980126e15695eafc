package audioapi

import (
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
)

// An API whose single output device is a sink the caller already built.
//
// Useful when the caller needs to keep a handle on the concrete device, e.g.
// a FileAudioOutputDevice whose WaitForClose the caller blocks on after the
// conference shuts down.
type StaticAudioOutputAPI struct {
	name string
	sink audiodevice.AudioSinkDevice
}

func NewStaticAudioOutputAPI(name string, sink audiodevice.AudioSinkDevice) StaticAudioOutputAPI {
	return StaticAudioOutputAPI{
		name: name,
		sink: sink,
	}
}

func (api StaticAudioOutputAPI) OutputDevices() []AudioIODevice {
	return []AudioIODevice{
		{
			ID:               0,
			Name:             api.name,
			DeviceProperties: api.sink.GetDeviceProperties(),
		},
	}
}

func (api StaticAudioOutputAPI) InitOutputDeviceFromID(id AudioIODevice) (audiodevice.AudioSinkDevice, error) {
	if id.ID != 0 {
		return nil, errNoDeviceWithID
	}
	return api.sink, nil
}

func (api StaticAudioOutputAPI) InitDefaultOutputDevice() (audiodevice.AudioSinkDevice, error) {
	if api.sink == nil {
		return nil, errNoDefaultDevice
	}
	return api.sink, nil
}
