package spatial

import "log/slog"

// The VolumeController maps UI-driven volume and mute commands onto
// participant graphs by id. It carries no spatialization logic: volume
// semantics are identical whichever path a graph has wired.
//
// Commands for unknown participants are no-ops, not errors: the participant
// may have left between the user's action and its processing here.
type VolumeController struct {
	logger *slog.Logger
	index  *PositionIndex
}

func newVolumeController(index *PositionIndex, logger *slog.Logger) *VolumeController {
	if logger == nil {
		logger = slog.Default()
	}
	return &VolumeController{
		logger: logger,
		index:  index,
	}
}

// SetVolume applies a 0..1 volume to the participant's gain stage. Also used
// to adopt the initial level the media layer read from its playback element
// when the track was first attached.
func (vc *VolumeController) SetVolume(participantID string, volume float64) {
	g, ok := vc.index.Graph(participantID)
	if !ok {
		vc.logger.Debug("volume change for unknown participant ignored", "participantID", participantID)
		return
	}
	g.SetVolume(volume)
}

// SetMuted mutes or unmutes the participant. The stored volume survives a
// mute/unmute round trip untouched.
func (vc *VolumeController) SetMuted(participantID string, muted bool) {
	g, ok := vc.index.Graph(participantID)
	if !ok {
		vc.logger.Debug("mute change for unknown participant ignored", "participantID", participantID)
		return
	}
	g.SetMuted(muted)
}

// Volume returns the participant's current volume setting.
func (vc *VolumeController) Volume(participantID string) (float64, bool) {
	g, ok := vc.index.Graph(participantID)
	if !ok {
		return 0, false
	}
	return g.Volume(), true
}

// Muted returns the participant's current mute state.
func (vc *VolumeController) Muted(participantID string) (bool, bool) {
	g, ok := vc.index.Graph(participantID)
	if !ok {
		return false, false
	}
	return g.Muted(), true
}
