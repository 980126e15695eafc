package track

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var monoTrackProperties = audiodevice.DeviceProperties{
	SampleRate:  48000,
	NumChannels: 1,
}

// fakeReceiver serves a fixed sequence of packets, then an error.
type fakeReceiver struct {
	packets  []*rtp.Packet
	next     int
	finalErr error
}

func (r *fakeReceiver) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if r.next < len(r.packets) {
		pkt := r.packets[r.next]
		r.next++
		return pkt, nil, nil
	}
	if r.finalErr != nil {
		return nil, nil, r.finalErr
	}
	return nil, nil, io.EOF
}

// endlessReceiver serves the same packet forever.
type endlessReceiver struct {
	packet *rtp.Packet
}

func (r *endlessReceiver) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	time.Sleep(time.Millisecond)
	return r.packet, nil, nil
}

func collectUntilClosed(t *testing.T, stream <-chan frame.PCMFrame) []frame.PCMFrame {
	t.Helper()
	var frames []frame.PCMFrame
	timeout := time.After(time.Second)
	for {
		select {
		case pcmFrame, open := <-stream:
			if !open {
				return frames
			}
			frames = append(frames, pcmFrame)
		case <-timeout:
			t.Fatal("timed out waiting for the source stream to close")
			return nil
		}
	}
}

// --------------------------------------------------------------------------------

func TestRemoteTrackSourceClosesOnTrackEnd(t *testing.T) {
	s := newRemoteTrackSource(&fakeReceiver{}, monoTrackProperties)
	s.Run(context.Background())

	frames := collectUntilClosed(t, s.GetStream())
	assert.Empty(t, frames)
}

func TestRemoteTrackSourceClosesOnTransportError(t *testing.T) {
	s := newRemoteTrackSource(
		&fakeReceiver{finalErr: io.ErrUnexpectedEOF},
		monoTrackProperties,
	)
	s.Run(context.Background())

	frames := collectUntilClosed(t, s.GetStream())
	assert.Empty(t, frames)
}

func TestRemoteTrackSourceDropsUndecodablePackets(t *testing.T) {
	// 0xFF is a CELT-mode TOC byte the decoder rejects: the packet costs a
	// frame, not the track, so the loop runs on to the clean end-of-track.
	receiver := &fakeReceiver{
		packets: []*rtp.Packet{
			{Payload: []byte{0xFF, 0x01, 0x02, 0x03}},
			{Payload: []byte{0xFF, 0x04, 0x05, 0x06}},
		},
	}
	s := newRemoteTrackSource(receiver, monoTrackProperties)
	s.Run(context.Background())

	frames := collectUntilClosed(t, s.GetStream())
	assert.Empty(t, frames)
	assert.Equal(t, 2, receiver.next)
}

func TestRemoteTrackSourceSkipsEmptyPayloads(t *testing.T) {
	receiver := &fakeReceiver{
		packets: []*rtp.Packet{{Payload: nil}, {Payload: []byte{}}},
	}
	s := newRemoteTrackSource(receiver, monoTrackProperties)
	s.Run(context.Background())

	frames := collectUntilClosed(t, s.GetStream())
	assert.Empty(t, frames)
}

func TestRemoteTrackSourceStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newRemoteTrackSource(
		&endlessReceiver{packet: &rtp.Packet{Payload: []byte{0xFF, 0x00}}},
		monoTrackProperties,
	)
	s.Run(ctx)

	cancel()
	collectUntilClosed(t, s.GetStream())
}

func TestRemoteTrackSourceReportsDeclaredProperties(t *testing.T) {
	properties := audiodevice.DeviceProperties{SampleRate: 48000, NumChannels: 2}
	s := newRemoteTrackSource(&fakeReceiver{}, properties)
	defer s.Close()

	assert.Equal(t, properties, s.GetDeviceProperties())
}

func TestAdaptChannels(t *testing.T) {
	t.Run("same channel count passes through", func(t *testing.T) {
		in := frame.PCMFrame{0.1, 0.2}
		assert.Equal(t, in, adaptChannels(in, 1, 1))
	})

	t.Run("mono to stereo duplicates", func(t *testing.T) {
		out := adaptChannels(frame.PCMFrame{0.5, -0.5}, 1, 2)
		require.Len(t, out, 4)
		assert.Equal(t, frame.PCMFrame{0.5, 0.5, -0.5, -0.5}, out)
	})

	t.Run("stereo to mono averages", func(t *testing.T) {
		out := adaptChannels(frame.PCMFrame{0.4, 0.8, -0.2, -0.6}, 2, 1)
		require.Len(t, out, 2)
		assert.InDelta(t, 0.6, out[0], 1e-6)
		assert.InDelta(t, -0.4, out[1], 1e-6)
	})
}
