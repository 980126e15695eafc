package spatial

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSourceDevice stands in for a remote participant's track: the test
// pushes frames into it by hand.
type fakeSourceDevice struct {
	properties audiodevice.DeviceProperties
	stream     chan frame.PCMFrame
	closeOnce  sync.Once
}

func newFakeSourceDevice(properties audiodevice.DeviceProperties) *fakeSourceDevice {
	return &fakeSourceDevice{
		properties: properties,
		stream:     make(chan frame.PCMFrame, 16),
	}
}

func (d *fakeSourceDevice) GetStream() <-chan frame.PCMFrame { return d.stream }

func (d *fakeSourceDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *fakeSourceDevice) Close() {
	d.closeOnce.Do(func() { close(d.stream) })
}

// Graph output format used throughout these tests.
var testOutputProperties = audiodevice.DeviceProperties{
	SampleRate:  48000,
	NumChannels: 2,
}

// newTestGraph builds a graph over a fake mono source already in the output
// rate, so the conversion stage passes frames through untouched.
func newTestGraph(id string, spatialEnabled bool, deregister func(string)) (*ParticipantGraph, *fakeSourceDevice) {
	if deregister == nil {
		deregister = func(string) {}
	}
	source := newFakeSourceDevice(audiodevice.DeviceProperties{
		SampleRate:  testOutputProperties.SampleRate,
		NumChannels: 1,
	})
	g := newParticipantGraph(id, source, testOutputProperties, spatialEnabled, deregister, nil)
	return g, source
}

// --------------------------------------------------------------------------------

func TestGraphDetachIsIdempotent(t *testing.T) {
	var deregisterCalls atomic.Int32
	g, source := newTestGraph("alice", true, func(id string) {
		assert.Equal(t, "alice", id)
		deregisterCalls.Add(1)
	})
	defer source.Close()

	g.Detach()
	g.Detach()
	g.Detach()

	assert.True(t, g.Detached())
	assert.Equal(t, int32(1), deregisterCalls.Load())
}

func TestGraphMutePreservesVolume(t *testing.T) {
	g, source := newTestGraph("alice", false, nil)
	defer source.Close()
	defer g.Detach()

	g.SetVolume(0.6)
	g.SetMuted(true)
	assert.True(t, g.Muted())
	assert.InDelta(t, 0.6, g.Volume(), 1e-6)

	g.SetMuted(false)
	assert.False(t, g.Muted())
	assert.InDelta(t, 0.6, g.Volume(), 1e-6)
}

func TestGraphVolumeClamped(t *testing.T) {
	g, source := newTestGraph("alice", false, nil)
	defer source.Close()
	defer g.Detach()

	g.SetVolume(-0.5)
	assert.Equal(t, 0.0, g.Volume())

	g.SetVolume(1.7)
	assert.Equal(t, 1.0, g.Volume())
}

func TestGraphIgnoresParameterChangesAfterDetach(t *testing.T) {
	g, source := newTestGraph("alice", true, nil)
	defer source.Close()

	g.SetVolume(0.4)
	g.Detach()

	g.SetVolume(0.9)
	assert.InDelta(t, 0.4, g.Volume(), 1e-6)

	g.SetMuted(true)
	assert.False(t, g.Muted())

	g.setPosition(0.5, 0.5)
	x, y := g.Position()
	assert.Equal(t, 0.0, x)
	assert.Equal(t, 1.0, y)

	g.setSpatial(false)
	assert.True(t, g.PannerWired())
}

func TestGraphProcessFramePansHardLeft(t *testing.T) {
	g, source := newTestGraph("alice", true, nil)
	defer source.Close()
	defer g.Detach()

	g.setPosition(-1, 0)
	stereo := g.processFrame(frame.PCMFrame{1.0, 1.0})

	require.Len(t, stereo, 4)
	assert.InDelta(t, 1.0, stereo[0], 1e-6)
	assert.InDelta(t, 0.0, stereo[1], 1e-6)
	assert.InDelta(t, 1.0, stereo[2], 1e-6)
	assert.InDelta(t, 0.0, stereo[3], 1e-6)
}

func TestGraphProcessFrameBypassDuplicatesToBothEars(t *testing.T) {
	g, source := newTestGraph("alice", false, nil)
	defer source.Close()
	defer g.Detach()

	// Position must have no effect while the bypass path is wired.
	g.setPosition(-1, 0)
	stereo := g.processFrame(frame.PCMFrame{0.5})

	require.Len(t, stereo, 2)
	assert.InDelta(t, 0.5, stereo[0], 1e-6)
	assert.InDelta(t, 0.5, stereo[1], 1e-6)
}

func TestGraphMuteRampsGainToZero(t *testing.T) {
	g, source := newTestGraph("alice", false, nil)
	defer source.Close()
	defer g.Detach()

	g.SetMuted(true)

	// First frame after the mute ramps down across its samples rather
	// than cutting to silence instantly.
	stereo := g.processFrame(frame.PCMFrame{1.0, 1.0, 1.0, 1.0})
	require.Len(t, stereo, 8)
	assert.InDelta(t, 0.75, stereo[0], 1e-6)
	assert.InDelta(t, 0.50, stereo[2], 1e-6)
	assert.InDelta(t, 0.25, stereo[4], 1e-6)
	assert.InDelta(t, 0.0, stereo[6], 1e-6)

	// Subsequent frames are fully silent.
	stereo = g.processFrame(frame.PCMFrame{1.0, 1.0})
	for _, sample := range stereo {
		assert.InDelta(t, 0.0, sample, 1e-6)
	}
}

func TestGraphRewireBetweenFrames(t *testing.T) {
	g, source := newTestGraph("alice", true, nil)
	defer source.Close()
	defer g.Detach()

	g.setPosition(-1, 0)
	assert.True(t, g.PannerWired())

	g.setSpatial(false)
	assert.False(t, g.PannerWired())
	stereo := g.processFrame(frame.PCMFrame{1.0})
	assert.InDelta(t, 1.0, stereo[0], 1e-6)
	assert.InDelta(t, 1.0, stereo[1], 1e-6)

	// Re-enabling resumes from the cached azimuth.
	g.setSpatial(true)
	stereo = g.processFrame(frame.PCMFrame{1.0})
	assert.InDelta(t, 1.0, stereo[0], 1e-6)
	assert.InDelta(t, 0.0, stereo[1], 1e-6)
}

func TestGraphSourceCloseDetachesGraph(t *testing.T) {
	var deregisterCalls atomic.Int32
	g, source := newTestGraph("alice", true, func(string) {
		deregisterCalls.Add(1)
	})

	source.Close()

	require.Eventually(t, func() bool {
		return g.Detached()
	}, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return deregisterCalls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	// The graph's output closes so the mix bus drops it on the next pass.
	_, open := <-g.GetStream()
	assert.False(t, open)
}

func TestGraphStreamsFramesEndToEnd(t *testing.T) {
	g, source := newTestGraph("alice", true, nil)
	defer g.Detach()

	// Dead ahead: both ears at 1/sqrt2.
	source.stream <- frame.PCMFrame{1.0, 1.0}
	source.Close()

	stereo, open := <-g.GetStream()
	require.True(t, open)
	require.Len(t, stereo, 4)
	assert.InDelta(t, 0.70710678, stereo[0], 1e-5)
	assert.InDelta(t, 0.70710678, stereo[1], 1e-5)
}
