package track

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/frame"
)

var (
	errUnsupportedCodec = errors.New("remote track does not carry a supported codec")
)

// Conference tracks carry 20ms Opus frames: at the codec's fixed 48kHz
// decode rate that is 960 per-channel samples. The decoder writes 16-bit
// little-endian PCM.
const samplesPerPacket = 960

// rtpReceiver is the slice of webrtc.TrackRemote this package actually
// needs, kept as an interface so the decode pipeline is testable without a
// peer connection.
type rtpReceiver interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// A RemoteTrackSource adapts a remote participant's WebRTC audio track into
// an AudioSourceDevice: RTP packets in, PCM frames out. This is the boundary
// between the media/track layer and the spatial audio subsystem; transport
// and signaling happen entirely on the far side of it.
//
// The source produces frames only between Run and the first of: track end,
// context cancellation, or Close.
type RemoteTrackSource struct {
	logger *slog.Logger
	uuid   uuid.UUID

	receiver   rtpReceiver
	properties audiodevice.DeviceProperties

	decoder   opus.Decoder
	decodeBuf []byte

	shutdownOnce sync.Once
	sinkStream   chan frame.PCMFrame
}

// NewRemoteTrackSource wraps a remote Opus track. Tracks carrying anything
// other than Opus are rejected: the media layer negotiated something this
// subsystem cannot decode.
func NewRemoteTrackSource(tr *webrtc.TrackRemote) (*RemoteTrackSource, error) {
	codec := tr.Codec()
	if !strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
		return nil, errUnsupportedCodec
	}

	numChannels := int(codec.Channels)
	if numChannels != 2 {
		numChannels = 1
	}
	properties := audiodevice.DeviceProperties{
		SampleRate:  int(codec.ClockRate),
		NumChannels: numChannels,
	}
	return newRemoteTrackSource(tr, properties), nil
}

func newRemoteTrackSource(receiver rtpReceiver, properties audiodevice.DeviceProperties) *RemoteTrackSource {
	deviceUuid := uuid.New()
	return &RemoteTrackSource{
		logger: slog.Default().With(
			"remote track source uuid", deviceUuid,
		),
		uuid:       deviceUuid,
		receiver:   receiver,
		properties: properties,
		decoder:    opus.NewDecoder(),
		decodeBuf:  make([]byte, samplesPerPacket*2*2),
		sinkStream: make(chan frame.PCMFrame),
	}
}

// Run starts pulling packets from the track. Stops on track end, on a
// transport error, or when the context is canceled; in every case the
// device closes itself, cascading the closure downstream.
func (s *RemoteTrackSource) Run(ctx context.Context) {
	go func() {
		defer s.Close()
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			pkt, _, err := s.receiver.ReadRTP()
			if err != nil {
				if errors.Is(err, io.EOF) {
					s.logger.Debug("remote track ended")
				} else {
					s.logger.Error("error while reading from remote track", "err", err)
				}
				return
			}
			if len(pkt.Payload) == 0 {
				continue
			}

			pcmFrame, err := s.decodePacket(pkt.Payload)
			if err != nil {
				// A corrupt packet costs one frame, not the track.
				s.logger.Debug("dropping undecodable packet", "err", err)
				continue
			}

			select {
			case s.sinkStream <- pcmFrame:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// decodePacket decodes one Opus packet to a PCM frame in the device's
// declared format.
func (s *RemoteTrackSource) decodePacket(payload frame.EncodedFrame) (frame.PCMFrame, error) {
	_, isStereo, err := s.decoder.Decode(payload, s.decodeBuf)
	if err != nil {
		return nil, err
	}

	decodedChannels := 1
	if isStereo {
		decodedChannels = 2
	}

	// The decoder wrote 16-bit little-endian samples into decodeBuf:
	// 960 per channel for a 20ms packet.
	sampleCount := samplesPerPacket * decodedChannels
	pcmFrame := make(frame.PCMFrame, sampleCount)
	for i := range sampleCount {
		sample := int16(s.decodeBuf[2*i]) | int16(s.decodeBuf[2*i+1])<<8
		pcmFrame[i] = float32(sample) / 32768.0
	}

	return adaptChannels(pcmFrame, decodedChannels, s.properties.NumChannels), nil
}

// adaptChannels maps a decoded frame onto the channel count this device
// declared, so downstream stages can trust GetDeviceProperties.
func adaptChannels(pcmFrame frame.PCMFrame, haveChannels, wantChannels int) frame.PCMFrame {
	if haveChannels == wantChannels {
		return pcmFrame
	}

	if haveChannels == 1 && wantChannels == 2 {
		out := make(frame.PCMFrame, 2*len(pcmFrame))
		for i, v := range pcmFrame {
			out[2*i] = v
			out[2*i+1] = v
		}
		return out
	}

	// Stereo to mono
	out := make(frame.PCMFrame, len(pcmFrame)/2)
	for i := range out {
		out[i] = (pcmFrame[2*i] + pcmFrame[2*i+1]) / 2
	}
	return out
}

// --------------------------------------------------------------------------------
// AudioSourceDevice Interface

func (s *RemoteTrackSource) GetStream() <-chan frame.PCMFrame {
	return s.sinkStream
}

func (s *RemoteTrackSource) Close() {
	s.shutdownOnce.Do(func() {
		close(s.sinkStream)
	})
}

func (s *RemoteTrackSource) GetDeviceProperties() audiodevice.DeviceProperties {
	return s.properties
}
