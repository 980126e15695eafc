package conference

import (
	"context"
	"log/slog"

	"github.com/pion/webrtc/v4"
	"github.com/soundstage-audio/soundstage/internal/spatial"
	"github.com/soundstage-audio/soundstage/internal/track"
	"github.com/soundstage-audio/soundstage/pkg/audiodevice"
)

// A Session maps the media/track layer's lifecycle notifications and the
// UI's commands onto the spatial audio engine.
//
// The media layer owns the participants' source devices: it creates them on
// track attach, hands them here, and closes them on detach. The session owns
// nothing but the mapping itself.
type Session struct {
	logger *slog.Logger
	engine *spatial.Engine
}

func NewSession(engine *spatial.Engine, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		logger: logger,
		engine: engine,
	}
}

// --------------------------------------------------------------------------------
// Media-track layer notifications

// TrackAttached builds the participant's graph. initialLevel is the volume
// the media layer read off its playback element when the track appeared;
// it is adopted once, here, and user commands take over from there.
//
// Attaching a participant that already has a graph replaces it (the old
// graph is torn down first), which is also how a replaced track arrives.
func (s *Session) TrackAttached(participantID string, source audiodevice.AudioSourceDevice, initialLevel float64) {
	s.logger.Debug("track attached", "participantID", participantID)
	s.engine.Attach(participantID, source)
	s.engine.Volumes().SetVolume(participantID, initialLevel)
}

// TrackDetached tears the participant's graph down. The media layer closes
// the source device itself; unknown participants are a no-op.
func (s *Session) TrackDetached(participantID string) {
	s.logger.Debug("track detached", "participantID", participantID)
	s.engine.Detach(participantID)
}

// HandleRemoteTrack adapts a fresh WebRTC remote audio track into a source
// device, starts its decode pipeline, and attaches it. Non-audio and
// non-Opus tracks are ignored. Intended as an OnTrack handler body.
func (s *Session) HandleRemoteTrack(ctx context.Context, participantID string, tr *webrtc.TrackRemote) {
	if tr.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}

	source, err := track.NewRemoteTrackSource(tr)
	if err != nil {
		s.logger.Warn(
			"ignoring remote track",
			"participantID", participantID,
			"mimeType", tr.Codec().MimeType,
			"err", err,
		)
		return
	}
	source.Run(ctx)
	s.TrackAttached(participantID, source, 1.0)
}

// --------------------------------------------------------------------------------
// UI commands

// ToggleSpatialAudio flips the conference between spatialized and
// conventional reproduction and returns the new state. Bound to the UI's
// toggle button or keyboard shortcut. It also opportunistically retries a
// suspended output: a toggle is exactly the kind of user gesture that
// unlocks playback.
func (s *Session) ToggleSpatialAudio() bool {
	s.engine.EnsureRunning()
	return s.engine.Mode().Toggle()
}

// SpatialAudioChanges delivers the new state after every mode change, for
// user-facing confirmation.
func (s *Session) SpatialAudioChanges() <-chan bool {
	return s.engine.Mode().Subscribe()
}

// SetParticipantVolume applies a 0..1 volume to one participant.
func (s *Session) SetParticipantVolume(participantID string, volume float64) {
	s.engine.EnsureRunning()
	s.engine.Volumes().SetVolume(participantID, volume)
}

// SetParticipantMuted mutes or unmutes one participant.
func (s *Session) SetParticipantMuted(participantID string, muted bool) {
	s.engine.Volumes().SetMuted(participantID, muted)
}

// --------------------------------------------------------------------------------
// Read-only accessors for diagnostics and UI state

func (s *Session) ParticipantVolume(participantID string) (float64, bool) {
	return s.engine.Volumes().Volume(participantID)
}

func (s *Session) ParticipantPosition(participantID string) (x, y float64, ok bool) {
	g, ok := s.engine.Graph(participantID)
	if !ok {
		return 0, 0, false
	}
	x, y = g.Position()
	return x, y, true
}

func (s *Session) SpatialAudioEnabled() bool {
	return s.engine.Mode().Enabled()
}
