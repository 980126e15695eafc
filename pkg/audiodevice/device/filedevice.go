package device

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
	"github.com/soundstage-audio/soundstage/pkg/frame"
)

// --------------------------------------------------------------------------------
// FileAudioInputDevice

// An AudioSourceDevice that reads from a .WAV file, pacing frames in real time.
//
// Useful for standing in for a remote participant: the offline demos and
// tests attach several of these to a conference instead of live tracks.
type FileAudioInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	shutdownOnce sync.Once

	decoder         *wav.Decoder
	fileHandle      *os.File
	frameDuration   time.Duration
	samplesPerFrame int
	sinkStream      chan frame.PCMFrame
}

// Make a new FileAudioInputDevice from a .WAV file (on the audioFilePath).
//
// The device will play audio from the .WAV file along the channel returned by
// GetStream once Play is called. The sample rate and channel count are
// determined by the file, but the duration between frames is determined by
// the frameDuration parameter (20ms is typical for conference audio).
func NewFileAudioInputDevice(
	audioFilePath string,
	frameDuration time.Duration,
) (*FileAudioInputDevice, error) {
	deviceUuid := uuid.New()
	logger := slog.Default().With(
		"file input device uuid", deviceUuid,
	)

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		f.Close()
		return nil, errors.New("error while decoding audio file")
	}

	samplesPerFrame := int(float64(decoder.NumChans) * float64(decoder.SampleRate) *
		float64(frameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 {
		logger.Error(
			"non-positive samples per frame during opening of file audio input",
			"audioFile", audioFilePath,
			"sampleRate", decoder.SampleRate,
			"channels", decoder.NumChans,
			"samplesPerFrame", samplesPerFrame,
		)
		f.Close()
		return nil, errors.New("non-positive samples per frame")
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"samplesPerFrame", samplesPerFrame,
	)

	return &FileAudioInputDevice{
		logger:          logger,
		uuid:            deviceUuid,
		decoder:         decoder,
		fileHandle:      f,
		frameDuration:   frameDuration,
		samplesPerFrame: samplesPerFrame,
		sinkStream:      make(chan frame.PCMFrame),
	}, nil
}

// Play the audio file loaded by this input device, one frame per frameDuration.
// If the context is canceled, playback stops. When the file runs out, the
// device closes itself, cascading the closure downstream.
func (d *FileAudioInputDevice) Play(ctx context.Context) {
	d.logger.Debug("playing audio")
	const maxInt16 = float32(math.MaxInt16)
	go func() {
		defer d.Close()

		buf, err := d.decoder.FullPCMBuffer()
		if err != nil {
			d.logger.Error(
				"could not get full PCM buffer from audio file",
				"err", err,
			)
			return
		}

		ticker := time.NewTicker(d.frameDuration)
		defer ticker.Stop()
		for frameStart := 0; frameStart < len(buf.Data); frameStart += d.samplesPerFrame {
			frameEnd := min(frameStart+d.samplesPerFrame, len(buf.Data))

			// Fresh memory per frame: downstream stages mutate frames in place.
			pcmFrame := make(frame.PCMFrame, frameEnd-frameStart)
			for i := range pcmFrame {
				pcmFrame[i] = float32(buf.Data[frameStart+i]) / maxInt16
			}

			select {
			case <-ticker.C:
				select {
				case d.sinkStream <- pcmFrame:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
		d.logger.Debug("finished playing")
	}()
}

func (d *FileAudioInputDevice) Close() {
	d.logger.Debug("shutdown called")
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
		d.fileHandle.Close()
	})
}

func (d *FileAudioInputDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *FileAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  int(d.decoder.SampleRate),
		NumChannels: int(d.decoder.NumChans),
	}
}

// --------------------------------------------------------------------------------
// FileAudioOutputDevice

// An AudioSinkDevice that writes incoming PCM frames to a .WAV file.
//
// Serves as the render target for offline demos and as a diagnostic output
// (dump the conference mix to disk). Note the resulting file is only valid
// once the source stream is closed.
type FileAudioOutputDevice struct {
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	logger        *slog.Logger
	uuid          uuid.UUID
	encoder       *wav.Encoder
	fileHandle    *os.File
	sourceStream  <-chan frame.PCMFrame
}

// Create a new FileAudioOutputDevice that writes incoming PCM frames to a
// .WAV file at the specified path, encoding 16-bit samples at the given
// rate and channel count.
func NewFileAudioOutputDevice(
	audioFilePath string,
	sampleRate int,
	numChannels int,
) (*FileAudioOutputDevice, error) {
	deviceUuid := uuid.New()
	logger := slog.Default().With(
		"file output device uuid", deviceUuid,
	)

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not create audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, sampleRate, 16, numChannels, 1)

	logger.Debug(
		"created output audio file",
		"audioFile", audioFilePath,
		"sampleRate", encoder.SampleRate,
		"channels", encoder.NumChans,
	)

	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	return &FileAudioOutputDevice{
		ctx:           ctx,
		ctxCancelFunc: ctxCancelFunc,
		logger:        logger,
		uuid:          deviceUuid,
		encoder:       encoder,
		fileHandle:    f,
	}, nil
}

// Wait for this device to be closed.
// Blocks until the source stream has closed and the file has been finalized.
func (d *FileAudioOutputDevice) WaitForClose() {
	<-d.ctx.Done()
}

func (d *FileAudioOutputDevice) close() {
	d.encoder.Close()
	d.fileHandle.Sync()
	d.fileHandle.Close()
	d.ctxCancelFunc()
}

// Set the source channel of this audio device, i.e. where data comes from.
// Raw audio data (as PCMFrames) will arrive on the given channel.
//
// When the stream is closed the wav file is finalized and the device shuts down.
func (d *FileAudioOutputDevice) SetStream(sourceStream <-chan frame.PCMFrame) {
	d.sourceStream = sourceStream
	const maxInt16 = float32(math.MaxInt16)
	go func() {
		bufFormat := &goaudio.Format{
			SampleRate:  d.encoder.SampleRate,
			NumChannels: d.encoder.NumChans,
		}
		for pcmFrame := range sourceStream {
			buf := &goaudio.IntBuffer{
				Format:         bufFormat,
				Data:           make([]int, len(pcmFrame)),
				SourceBitDepth: 16,
			}
			for i, sample := range pcmFrame {
				buf.Data[i] = int(sample * maxInt16)
			}

			if err := d.encoder.Write(buf); err != nil {
				d.logger.Error("error while writing frame to file", "err", err)
				continue
			}
		}
		d.logger.Debug("source stream closed, finalizing wav file")
		d.close()
	}()
}

func (d *FileAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  d.encoder.SampleRate,
		NumChannels: d.encoder.NumChans,
	}
}
