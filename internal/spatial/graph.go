package spatial

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice/device"
	"github.com/soundstage-audio/soundstage/pkg/frame"
)

// The wiring of a graph's internal chain. Exactly one path is wired at any
// time: the source either reaches the gain stage through the panner
// (spatialized) or directly (conventional mono reproduction), never both
// and never neither.
type wiringPath int

const (
	pathBypass wiringPath = iota
	pathPanner
)

func (p wiringPath) String() string {
	if p == pathPanner {
		return "panner"
	}
	return "bypass"
}

// A ParticipantGraph is the per-participant processing chain:
//
//	remote source -> format conversion -> (panner | bypass) -> gain -> mix bus
//
// One exists per participant with an active remote audio stream, owned by
// that participant's media-track lifecycle: created when the stream is
// attached, fully disconnected when the stream is detached or the
// participant leaves.
//
// The format conversion stage normalizes whatever the remote end sends into
// mono at the output context's sample rate; the panner projects that mono
// voice onto the stereo field at the graph's current azimuth; the gain stage
// owns volume and mute and is the final stage before the conference mix bus.
//
// All parameter changes (position, volume, mute, wiring) take effect at the
// next frame boundary. After Detach every operation on the graph is a no-op,
// so a stale position or volume update can never resurrect a disconnected
// graph.
type ParticipantGraph struct {
	logger        *slog.Logger
	participantID string

	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	detachOnce    sync.Once

	// conversion bridges the participant's source format to graphProperties.
	// The graph reads its frames from conversion's output stream.
	conversion      *device.AudioFormatConversionDevice
	graphProperties audiodevice.DeviceProperties

	// sinkStream carries the graph's stereo output into the mix bus.
	// Closed exactly once, by the processing goroutine on its way out.
	sinkStream       chan frame.PCMFrame
	outputProperties audiodevice.DeviceProperties

	// deregister removes this graph from the position index. Installed by the
	// engine at attach time; called exactly once, during Detach.
	deregister func(participantID string)

	mu          sync.Mutex
	detached    bool
	path        wiringPath
	posX, posY  float64
	volume      float32
	muted       bool
	currentGain float32 // gain actually applied to the last sample, ramp origin
}

// newParticipantGraph wires a graph for the given source and starts its
// processing goroutine. spatialEnabled decides the initial wiring; the
// engine reads it from the mode controller at attach time.
func newParticipantGraph(
	participantID string,
	source audiodevice.AudioSourceDevice,
	outputProperties audiodevice.DeviceProperties,
	spatialEnabled bool,
	deregister func(participantID string),
	logger *slog.Logger,
) *ParticipantGraph {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		"participantID", participantID,
		"graph uuid", uuid.New(),
	)

	// The chain works in mono up to the panner; stereo only exists on the
	// far side of it.
	graphProperties := audiodevice.DeviceProperties{
		SampleRate:  outputProperties.SampleRate,
		NumChannels: 1,
	}
	conversion := device.NewAudioFormatConversionDevice(
		source.GetDeviceProperties(),
		graphProperties,
	)
	conversion.SetStream(source.GetStream())

	path := pathBypass
	if spatialEnabled {
		path = pathPanner
	}

	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	g := &ParticipantGraph{
		logger:           logger,
		participantID:    participantID,
		ctx:              ctx,
		ctxCancelFunc:    ctxCancelFunc,
		conversion:       conversion,
		graphProperties:  graphProperties,
		sinkStream:       make(chan frame.PCMFrame),
		outputProperties: outputProperties,
		deregister:       deregister,
		path:             path,
		posX:             0,
		posY:             1,
		volume:           1.0,
		muted:            false,
		currentGain:      1.0,
	}

	logger.Debug(
		"participant graph constructed",
		"path", path.String(),
		"sampleRate", graphProperties.SampleRate,
	)

	go g.run()
	return g
}

func (g *ParticipantGraph) ParticipantID() string {
	return g.participantID
}

// GetStream returns the graph's stereo output, destined for the mix bus.
func (g *ParticipantGraph) GetStream() <-chan frame.PCMFrame {
	return g.sinkStream
}

func (g *ParticipantGraph) GetDeviceProperties() audiodevice.DeviceProperties {
	return g.outputProperties
}

// --------------------------------------------------------------------------------
// Lifecycle

// Detach disconnects the graph: it is removed from the position index (which
// recomputes everyone else's azimuth), processing stops, and the output into
// the mix bus closes. Stages are released in reverse construction order.
//
// Detach is idempotent: a second call on an already-detached graph is a
// no-op, never an error. The participant's source device is NOT closed here;
// it belongs to the media-track lifecycle that created it.
func (g *ParticipantGraph) Detach() {
	g.detachOnce.Do(func() {
		g.mu.Lock()
		g.detached = true
		g.mu.Unlock()

		g.deregister(g.participantID)
		g.ctxCancelFunc()
		g.logger.Debug("participant graph detached")
	})
}

// Detached reports whether the graph has been torn down.
func (g *ParticipantGraph) Detached() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.detached
}

// --------------------------------------------------------------------------------
// Parameters

// SetVolume stores the participant's volume (clamped to 0..1) and applies it
// at the next frame with a short ramp to avoid clicks. No-op once detached.
func (g *ParticipantGraph) SetVolume(volume float64) {
	if volume < 0 {
		volume = 0
	} else if volume > 1 {
		volume = 1
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.detached {
		return
	}
	g.volume = float32(volume)
}

func (g *ParticipantGraph) Volume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return float64(g.volume)
}

// SetMuted drives the effective gain to zero while muted. The stored volume
// is untouched, so unmuting restores the previous level exactly.
func (g *ParticipantGraph) SetMuted(muted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.detached {
		return
	}
	g.muted = muted
}

func (g *ParticipantGraph) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// setPosition caches the graph's azimuth. The cached value only reaches the
// output while the panner path is wired, but it is always kept current so
// re-enabling spatialization resumes from the right position. Called by the
// position index; no-op once detached.
func (g *ParticipantGraph) setPosition(x, y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.detached {
		return
	}
	g.posX, g.posY = x, y
}

// Position returns the graph's current azimuth.
func (g *ParticipantGraph) Position() (x, y float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.posX, g.posY
}

// setSpatial rewires the internal chain: source to gain via the panner, or
// source to gain directly. The swap happens atomically between frames, so a
// disconnect always precedes the matching connect and no frame is ever
// processed by both paths (or neither). Gain and mute are untouched.
//
// A rewire racing participant departure silently skips the detached graph.
func (g *ParticipantGraph) setSpatial(enabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.detached {
		return
	}

	newPath := pathBypass
	if enabled {
		newPath = pathPanner
	}
	if newPath == g.path {
		return
	}
	g.path = newPath
	g.logger.Debug("participant graph rewired", "path", newPath.String())
}

// PannerWired reports whether the panner path is currently in the chain.
func (g *ParticipantGraph) PannerWired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.path == pathPanner
}

// --------------------------------------------------------------------------------
// Processing

func (g *ParticipantGraph) run() {
	defer close(g.sinkStream)

	converted := g.conversion.GetStream()
	for {
		select {
		case <-g.ctx.Done():
			// Keep the upstream conversion goroutine from blocking on a
			// send nobody will receive; it exits when the source closes.
			go func() {
				for range converted {
				}
			}()
			return
		case monoFrame, ok := <-converted:
			if !ok {
				// Source stream ended: the media layer detached the track.
				go g.Detach()
				return
			}

			stereoFrame := g.processFrame(monoFrame)
			select {
			case g.sinkStream <- stereoFrame:
			case <-g.ctx.Done():
				go func() {
					for range converted {
					}
				}()
				return
			}
		}
	}
}

// processFrame renders one mono input frame to stereo output, applying the
// currently wired path and the gain stage. Parameters are sampled once per
// frame under the graph lock.
func (g *ParticipantGraph) processFrame(monoFrame frame.PCMFrame) frame.PCMFrame {
	g.mu.Lock()
	defer g.mu.Unlock()

	var leftPan, rightPan float32
	switch g.path {
	case pathPanner:
		leftPan, rightPan = panGains(g.posX)
	default:
		// Conventional reproduction: the voice sits identically in both ears.
		leftPan, rightPan = 1.0, 1.0
	}

	targetGain := g.volume
	if g.muted {
		targetGain = 0
	}

	// Ramp linearly from the previously applied gain to the target across
	// this frame so volume and mute changes never click.
	startGain := g.currentGain
	n := len(monoFrame)
	stereoFrame := make(frame.PCMFrame, 2*n)
	for i, sample := range monoFrame {
		gain := startGain + (targetGain-startGain)*float32(i+1)/float32(n)
		stereoFrame[2*i] = sample * leftPan * gain
		stereoFrame[2*i+1] = sample * rightPan * gain
	}
	if n > 0 {
		g.currentGain = targetGain
	}
	return stereoFrame
}
