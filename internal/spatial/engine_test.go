package spatial

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soundstage-audio/soundstage/internal/audioapi"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectorSink records every frame it receives, standing in for a real
// output device.
type collectorSink struct {
	properties audiodevice.DeviceProperties

	mu     sync.Mutex
	frames []frame.PCMFrame
}

func newCollectorSink(properties audiodevice.DeviceProperties) *collectorSink {
	return &collectorSink{properties: properties}
}

func (d *collectorSink) SetStream(sourceStream <-chan frame.PCMFrame) {
	go func() {
		for pcmFrame := range sourceStream {
			d.mu.Lock()
			d.frames = append(d.frames, pcmFrame)
			d.mu.Unlock()
		}
	}()
}

func (d *collectorSink) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

func (d *collectorSink) Frames() []frame.PCMFrame {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]frame.PCMFrame, len(d.frames))
	copy(out, d.frames)
	return out
}

// suspendedSink refuses to start until released, like an output device
// gated behind a user gesture.
type suspendedSink struct {
	collectorSink
	allowed atomic.Bool
}

func (d *suspendedSink) Start() error {
	if !d.allowed.Load() {
		return errors.New("output locked pending user gesture")
	}
	return nil
}

func newTestEngine(api audioapi.AudioOutputAPI) *Engine {
	return NewEngine(api, Config{
		FrameDuration:  time.Millisecond,
		SpatialEnabled: true,
	})
}

func stereoAPI() audioapi.AudioOutputAPI {
	return audioapi.NewDummyAudioOutputAPI(testOutputProperties)
}

// --------------------------------------------------------------------------------

func TestEngineStartsUninitialized(t *testing.T) {
	e := newTestEngine(stereoAPI())
	defer e.Close()
	assert.Equal(t, StateUninitialized, e.State())
}

func TestEngineAttachCreatesContextLazily(t *testing.T) {
	e := newTestEngine(stereoAPI())
	defer e.Close()

	source := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	defer source.Close()

	g := e.Attach("alice", source)
	require.NotNil(t, g)
	assert.Equal(t, StateRunning, e.State())
	assert.Equal(t, 1, e.Index().Len())
	assert.True(t, g.PannerWired())
}

func TestEngineDoubleAttachReplacesGraph(t *testing.T) {
	e := newTestEngine(stereoAPI())
	defer e.Close()

	source1 := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	defer source1.Close()
	source2 := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	defer source2.Close()

	g1 := e.Attach("alice", source1)
	g2 := e.Attach("alice", source2)

	assert.NotSame(t, g1, g2)
	assert.True(t, g1.Detached())
	assert.False(t, g2.Detached())
	assert.Equal(t, 1, e.Index().Len())

	got, ok := e.Graph("alice")
	require.True(t, ok)
	assert.Same(t, g2, got)
}

func TestEngineDetachUnknownIsNoOp(t *testing.T) {
	e := newTestEngine(stereoAPI())
	defer e.Close()

	e.Detach("nobody")
	assert.Equal(t, 0, e.Index().Len())
}

func TestEngineDegradesWhenOutputUnsupported(t *testing.T) {
	e := newTestEngine(audioapi.UnsupportedAudioOutputAPI{})
	defer e.Close()

	source := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	defer source.Close()

	// Attaching still works; audio just goes nowhere and spatialization
	// is pinned off.
	g := e.Attach("alice", source)
	require.NotNil(t, g)
	assert.Equal(t, StateUnsupported, e.State())
	assert.False(t, e.Mode().Enabled())

	assert.False(t, e.Mode().Toggle())
	assert.Equal(t, StateUnsupported, e.State())

	// Volume still behaves normally in the degraded mode.
	e.Volumes().SetVolume("alice", 0.5)
	volume, ok := e.Volumes().Volume("alice")
	require.True(t, ok)
	assert.InDelta(t, 0.5, volume, 1e-6)
}

func TestEngineEnsureRunningRetriesSuspendedOutput(t *testing.T) {
	sink := &suspendedSink{}
	sink.properties = testOutputProperties
	e := newTestEngine(audioapi.NewStaticAudioOutputAPI("locked", sink))
	defer e.Close()

	assert.False(t, e.EnsureRunning())
	assert.Equal(t, StateSuspended, e.State())

	// Still suspended on a retry that comes before the gesture.
	assert.False(t, e.EnsureRunning())

	sink.allowed.Store(true)
	assert.True(t, e.EnsureRunning())
	assert.Equal(t, StateRunning, e.State())
}

func TestEngineCloseDetachesEverything(t *testing.T) {
	e := newTestEngine(stereoAPI())

	source1 := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	defer source1.Close()
	source2 := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	defer source2.Close()

	g1 := e.Attach("alice", source1)
	g2 := e.Attach("bob", source2)

	e.Close()

	assert.True(t, g1.Detached())
	assert.True(t, g2.Detached())
	assert.Equal(t, 0, e.Index().Len())

	// Close is idempotent.
	e.Close()
}

func TestEngineRendersSpatializedMixToSink(t *testing.T) {
	sink := newCollectorSink(testOutputProperties)
	e := newTestEngine(audioapi.NewStaticAudioOutputAPI("collector", sink))
	defer e.Close()

	source := newFakeSourceDevice(audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 1})
	e.Attach("alice", source)

	// A lone participant sits dead ahead: equal power in both ears.
	source.stream <- frame.PCMFrame{1.0, 1.0}
	source.Close()

	require.Eventually(t, func() bool {
		return len(sink.Frames()) > 0
	}, time.Second, time.Millisecond)

	mixed := sink.Frames()[0]
	require.GreaterOrEqual(t, len(mixed), 2)
	assert.InDelta(t, 0.70710678, mixed[0], 1e-5)
	assert.InDelta(t, 0.70710678, mixed[1], 1e-5)
}
