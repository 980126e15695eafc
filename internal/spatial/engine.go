package spatial

import (
	"log/slog"
	"sync"
	"time"

	"github.com/soundstage-audio/soundstage/internal/audioapi"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice/device"
)

// ContextState describes the shared output context.
type ContextState string

const (
	// No graph has been attached yet; the context does not exist.
	StateUninitialized ContextState = "uninitialized"
	// The context exists and audio is flowing to the output device.
	StateRunning ContextState = "running"
	// The context exists but the output device has not been allowed to start
	// yet (the hardware analogue of an autoplay restriction). EnsureRunning
	// retries on the next user interaction.
	StateSuspended ContextState = "suspended"
	// No output device could be opened at all. The conference still runs,
	// unspatialized, into a dummy sink; this is never escalated to an error.
	StateUnsupported ContextState = "unsupported"
)

const (
	DefaultFrameDuration = 20 * time.Millisecond

	// Fallback mix format when the environment cannot even report device
	// properties (the unsupported path).
	fallbackSampleRate = 48000
)

// Config for an Engine. The zero value is usable: defaults are filled in by
// NewEngine.
type Config struct {
	// Duration of one mixing period. Also the pacing of the mix bus.
	FrameDuration time.Duration

	// Debounce window for azimuth recomputation under membership churn.
	// Zero means synchronous recomputation on every change.
	ReindexDebounce time.Duration

	// Initial spatialization state. The UI toggle flips it from here.
	SpatialEnabled bool

	Logger *slog.Logger
}

// The Engine owns the shared output context and everything attached to it:
// one context (output sink + mix bus + fixed listener orientation), one
// position index, one mode controller, one volume controller, and a graph
// per live participant.
//
// The context is created lazily on the first attach and lives for the
// conference: it is never torn down while any graph is alive. Individual
// graphs only ever read it.
type Engine struct {
	logger *slog.Logger
	api    audioapi.AudioOutputAPI
	config Config

	index   *PositionIndex
	mode    *ModeController
	volumes *VolumeController

	mu     sync.Mutex
	output *outputContext

	unsupportedOnce sync.Once
	closed          bool
}

// The process-wide output context: the single destination all participant
// graphs mix into. The listener is fixed at the origin facing forward;
// placement happens entirely in the graphs' panner stages.
type outputContext struct {
	// The format graphs must produce: always stereo, at the sink's rate.
	properties audiodevice.DeviceProperties

	sink   audiodevice.AudioSinkDevice
	mixBus *device.FanInDevice

	state ContextState
}

func NewEngine(api audioapi.AudioOutputAPI, config Config) *Engine {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.FrameDuration <= 0 {
		config.FrameDuration = DefaultFrameDuration
	}

	index := NewPositionIndex(config.ReindexDebounce, config.Logger)
	return &Engine{
		logger:  config.Logger,
		api:     api,
		config:  config,
		index:   index,
		mode:    newModeController(config.SpatialEnabled, index, config.Logger),
		volumes: newVolumeController(index, config.Logger),
	}
}

// Mode exposes the spatialization mode controller (the UI toggle target).
func (e *Engine) Mode() *ModeController {
	return e.mode
}

// Volumes exposes the per-participant volume controller.
func (e *Engine) Volumes() *VolumeController {
	return e.volumes
}

// Index exposes the participant position index (diagnostics and tests).
func (e *Engine) Index() *PositionIndex {
	return e.index
}

// --------------------------------------------------------------------------------
// Context lifecycle

// State reports the output context state without creating it.
func (e *Engine) State() ContextState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.output == nil {
		return StateUninitialized
	}
	return e.output.state
}

// EnsureRunning creates the output context if needed and, if it is
// suspended, attempts to start it. Returns whether audio is actually
// flowing afterwards. Never blocks on audio I/O; a failed start is retried
// on whatever user interaction comes next.
func (e *Engine) EnsureRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := e.ensureOutputLocked()
	if out.state == StateSuspended {
		startable, ok := out.sink.(audiodevice.StartableSinkDevice)
		if !ok {
			// Nothing startable behind a suspended state should not happen,
			// but treat it as running rather than wedging the conference.
			out.state = StateRunning
			return true
		}
		if err := startable.Start(); err != nil {
			e.logger.Debug("output device not ready to start yet", "err", err)
			return false
		}
		out.state = StateRunning
		e.logger.Info("output context resumed")
	}
	return out.state == StateRunning
}

// ensureOutputLocked creates the shared output context on first use.
//
// If no output device can be opened the engine degrades rather than fails:
// a dummy sink absorbs the mix, the mode controller pins spatialization off,
// and the condition is reported once, not once per participant.
func (e *Engine) ensureOutputLocked() *outputContext {
	if e.output != nil {
		return e.output
	}

	sink, err := e.api.InitDefaultOutputDevice()
	if err != nil {
		e.unsupportedOnce.Do(func() {
			e.logger.Warn(
				"no audio output available, conference degrades to unspatialized pass-through",
				"err", err,
			)
		})
		properties := audiodevice.DeviceProperties{
			SampleRate:  fallbackSampleRate,
			NumChannels: 2,
		}
		mixBus := device.NewFanInDevice(properties, e.config.FrameDuration)
		dummy := device.NewDummyAudioSinkDevice(properties)
		dummy.SetStream(mixBus.GetStream())
		e.mode.markUnsupported()
		e.output = &outputContext{
			properties: properties,
			sink:       dummy,
			mixBus:     mixBus,
			state:      StateUnsupported,
		}
		return e.output
	}

	sinkProperties := sink.GetDeviceProperties()

	// Graphs always mix in stereo; a mono output gets a down-mix stage
	// between the bus and the sink.
	mixProperties := audiodevice.DeviceProperties{
		SampleRate:  sinkProperties.SampleRate,
		NumChannels: 2,
	}
	mixBus := device.NewFanInDevice(mixProperties, e.config.FrameDuration)
	if sinkProperties.NumChannels == 2 {
		sink.SetStream(mixBus.GetStream())
	} else {
		downmix := device.NewAudioFormatConversionDevice(mixProperties, sinkProperties)
		downmix.SetStream(mixBus.GetStream())
		sink.SetStream(downmix.GetStream())
	}

	state := StateRunning
	if startable, ok := sink.(audiodevice.StartableSinkDevice); ok {
		if err := startable.Start(); err != nil {
			e.logger.Debug("output device suspended until a user gesture", "err", err)
			state = StateSuspended
		}
	}

	e.logger.Info(
		"output context created",
		"sampleRate", mixProperties.SampleRate,
		"state", state,
	)

	e.output = &outputContext{
		properties: mixProperties,
		sink:       sink,
		mixBus:     mixBus,
		state:      state,
	}
	return e.output
}

// --------------------------------------------------------------------------------
// Graph lifecycle

// Attach builds a processing graph for the participant's stream, wires it
// per the current spatialization state, registers it with the position index
// (repositioning everyone), and returns the handle.
//
// Attaching an id that already has a graph replaces the old graph: the
// previous one is detached first, exactly as if its track had been removed.
func (e *Engine) Attach(participantID string, source audiodevice.AudioSourceDevice) *ParticipantGraph {
	// Replace-on-double-attach. Detach before taking the engine lock: the
	// graph's teardown touches the index, which has its own lock.
	if old, ok := e.index.Graph(participantID); ok {
		e.logger.Debug("replacing existing graph for participant", "participantID", participantID)
		old.Detach()
	}

	e.mu.Lock()
	out := e.ensureOutputLocked()
	e.mu.Unlock()

	g := newParticipantGraph(
		participantID,
		source,
		out.properties,
		e.mode.Enabled(),
		e.index.Deregister,
		e.logger,
	)
	out.mixBus.SetStream(g.GetStream())
	e.index.Register(g)
	return g
}

// Detach tears down the participant's graph, if any. Detaching an id with no
// graph is a no-op.
func (e *Engine) Detach(participantID string) {
	g, ok := e.index.Graph(participantID)
	if !ok {
		return
	}
	g.Detach()
}

// Graph returns the live graph for a participant (diagnostics and tests).
func (e *Engine) Graph(participantID string) (*ParticipantGraph, bool) {
	return e.index.Graph(participantID)
}

// Close detaches every live graph and stops the mix bus. The sink finalizes
// itself when the bus output closes. The engine must not be used afterwards.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	out := e.output
	e.mu.Unlock()

	for _, g := range e.index.Snapshot() {
		g.Detach()
	}
	if out != nil {
		out.mixBus.Close()
	}
}
