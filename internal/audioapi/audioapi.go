package audioapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
)

var (
	errNoDefaultDevice = errors.New("no default output device available")
	errNoDeviceWithID  = errors.New("no output device with specified ID")
)

type AudioIODevice struct {
	// The ID of the device.
	//
	// Should come from the underlying platform audio API, but could be
	// defined in some programmatic way by the AudioOutputAPI.
	//
	// Intended to be the canonical way to reference the AudioIODevice,
	// such that when telling the API to open a device as the conference
	// output, it is this value that is used to identify the device.
	ID int

	// A human-readable name for the device, if one exists.
	// Not necessary, and not canonical.
	Name string

	// The device properties (sample rate and channels) of this device.
	// Only mono and stereo devices are supported.
	DeviceProperties audiodevice.DeviceProperties
}

func (device AudioIODevice) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "ID:          %d\n", device.ID)
	fmt.Fprintf(&sb, "Name:        %s\n", device.Name)
	fmt.Fprintf(&sb, "SampleRate:  %d\n", device.DeviceProperties.SampleRate)
	fmt.Fprintf(&sb, "NumChannels: %d\n", device.DeviceProperties.NumChannels)
	return sb.String()
}

// An abstract way to reach whatever can play the conference mix:
//   - query the available output devices (speakers, files, nothing at all)
//   - open one of them as an AudioSinkDevice
//
// Implementations may wrap a hardware audio library, write to a wav file,
// or discard everything (useful in testing and as the degraded fallback when
// no audio output exists). Audio capture has no place here: this subsystem
// only ever plays remote participants back.
//
// InitDefaultOutputDevice returning an error is the signal that the
// environment does not support audio output at all; callers are expected to
// degrade to a pass-through rather than fail.
type AudioOutputAPI interface {
	OutputDevices() []AudioIODevice
	InitOutputDeviceFromID(AudioIODevice) (audiodevice.AudioSinkDevice, error)
	InitDefaultOutputDevice() (audiodevice.AudioSinkDevice, error)
}
