package frame

// A PCMFrame is a short run of interleaved float32 audio samples,
// normalized to [-1.0, 1.0].
//
// The frame itself carries no format information. The sample rate and channel
// count of a frame are defined by the device that produced it
// (see audiodevice.DeviceProperties), and every stage of a pipeline is
// expected to preserve that format unless it exists specifically to change it
// (e.g. a format conversion device).
type PCMFrame []float32

// An EncodedFrame is an opaque compressed audio payload,
// e.g. a single Opus packet.
type EncodedFrame []byte

// Clone returns a copy of the frame backed by fresh memory.
//
// Pipeline stages frequently mutate frames in place to avoid reallocation,
// so any stage that hands the same samples to more than one consumer
// must clone first.
func (f PCMFrame) Clone() PCMFrame {
	c := make(PCMFrame, len(f))
	copy(c, f)
	return c
}

// SampleFrames returns the number of per-channel sample frames held,
// given the channel count of the producing device.
// A 960-sample stereo PCMFrame holds 480 sample frames.
func (f PCMFrame) SampleFrames(numChannels int) int {
	if numChannels <= 0 {
		return 0
	}
	return len(f) / numChannels
}
