package device

import (
	"context"
	"sync"
	"time"

	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/frame"
)

// --------------------------------------------------------------------------------
// Fan In Device (Many to One)

// A FanInDevice is both an AudioSourceDevice and an AudioSinkDevice.
//
// Unlike other AudioSinkDevices, a call to SetStream does *not* replace the
// input, but instead adds a *new* source stream to be mixed into the single
// output. Every participant graph in a conference calls SetStream once, and
// the device sums whatever frames its sources have ready into one outgoing
// frame per mixing period (the waitLatency).
//
// A source is automatically removed once its channel is closed; the device
// itself stays alive until Close, since conference membership comes and goes
// while the output must not.
//
// All frames entering the device must already be in the device's format:
// the FanInDevice does no conversion, only summation with clipping protection.
type FanInDevice struct {
	deviceProperties audiodevice.DeviceProperties

	// How long to wait between mixing passes. Frames that arrive while a pass
	// is in flight are picked up on the next tick, so this bounds the added
	// output latency.
	waitLatency time.Duration

	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	shutdownOnce  sync.Once

	sourcesMutex sync.Mutex
	sources      []<-chan frame.PCMFrame

	sinkStream chan frame.PCMFrame
}

// Create a new FanInDevice mixing to the given properties, emitting a mixed
// frame at most once per waitLatency.
//
// The mixing loop starts immediately; sources are added with SetStream.
func NewFanInDevice(properties audiodevice.DeviceProperties, waitLatency time.Duration) *FanInDevice {
	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	d := &FanInDevice{
		deviceProperties: properties,
		waitLatency:      waitLatency,
		ctx:              ctx,
		ctxCancelFunc:    ctxCancelFunc,
		sources:          make([]<-chan frame.PCMFrame, 0),
		sinkStream:       make(chan frame.PCMFrame),
	}
	go d.mixLoop()
	return d
}

func (d *FanInDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.deviceProperties
}

// --------------------------------------------------------------------------------
// AudioSinkDevice Interface

// Add a source stream to the mix.
//
// May be called many times; each call contributes another stream. A closed
// stream is dropped from the mix on the next pass without affecting the others.
func (d *FanInDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourcesMutex.Lock()
	defer d.sourcesMutex.Unlock()
	d.sources = append(d.sources, sourceStream)
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

// Get the mixed output stream of this device.
func (d *FanInDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

// Stop mixing and close the output stream.
//
// Sources are not closed: they belong to their producers. Close only detaches
// the device from them.
func (d *FanInDevice) Close() {
	d.shutdownOnce.Do(func() {
		d.ctxCancelFunc()
	})
}

// --------------------------------------------------------------------------------

func (d *FanInDevice) mixLoop() {
	defer close(d.sinkStream)

	ticker := time.NewTicker(d.waitLatency)
	defer ticker.Stop()

	mixBuf := make(frame.PCMFrame, 0, conversionBufferSize)

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
		}

		mixed := d.mixOnePass(mixBuf)
		if len(mixed) == 0 {
			continue
		}

		// Hand the sink its own copy: mixBuf is reused on the next pass.
		select {
		case d.sinkStream <- mixed.Clone():
		case <-d.ctx.Done():
			return
		}
	}
}

// Collect at most one pending frame from every live source and sum them.
// Closed sources are spliced out. Returns the mix, which may be empty if no
// source had a frame ready.
func (d *FanInDevice) mixOnePass(mixBuf frame.PCMFrame) frame.PCMFrame {
	d.sourcesMutex.Lock()
	defer d.sourcesMutex.Unlock()

	mixBuf = mixBuf[:0]
	for i := 0; i < len(d.sources); i++ {
		select {
		case pcmFrame, ok := <-d.sources[i]:
			if !ok {
				numSources := len(d.sources)
				d.sources[i] = d.sources[numSources-1]
				d.sources = d.sources[:numSources-1]
				i--
				continue
			}
			mixBuf = sumInto(mixBuf, pcmFrame)
		default:
			// Nothing ready from this source, move on
		}
	}

	clip(mixBuf)
	return mixBuf
}

func sumInto(mix frame.PCMFrame, f frame.PCMFrame) frame.PCMFrame {
	for len(mix) < len(f) {
		mix = append(mix, 0)
	}
	for i, v := range f {
		mix[i] += v
	}
	return mix
}

// Saturating mix: simultaneous speakers can push the sum past full scale.
func clip(f frame.PCMFrame) {
	for i, v := range f {
		if v > 1.0 {
			f[i] = 1.0
		} else if v < -1.0 {
			f[i] = -1.0
		}
	}
}
