package audioapi

import (
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice/device"
)

// An API whose single output device renders the conference mix to a wav file.
//
// This is the output of choice for offline renders and for diagnosing what
// the spatializer actually produced, and it doubles as a fully functional
// sink in environments without audio hardware.
type WavFileAudioOutputAPI struct {
	audioFilePath string
	properties    audiodevice.DeviceProperties
}

func NewWavFileAudioOutputAPI(audioFilePath string, properties audiodevice.DeviceProperties) WavFileAudioOutputAPI {
	return WavFileAudioOutputAPI{
		audioFilePath: audioFilePath,
		properties:    properties,
	}
}

func (api WavFileAudioOutputAPI) OutputDevices() []AudioIODevice {
	return []AudioIODevice{
		{
			ID:               0,
			Name:             api.audioFilePath,
			DeviceProperties: api.properties,
		},
	}
}

func (api WavFileAudioOutputAPI) InitOutputDeviceFromID(id AudioIODevice) (audiodevice.AudioSinkDevice, error) {
	if id.ID != 0 {
		return nil, errNoDeviceWithID
	}
	return api.InitDefaultOutputDevice()
}

func (api WavFileAudioOutputAPI) InitDefaultOutputDevice() (audiodevice.AudioSinkDevice, error) {
	return device.NewFileAudioOutputDevice(
		api.audioFilePath,
		api.properties.SampleRate,
		api.properties.NumChannels,
	)
}
