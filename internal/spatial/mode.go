package spatial

import (
	"log/slog"
	"sync"
)

// The ModeController owns the single process-wide spatialization flag.
//
// Flipping it rewires every live participant graph between the panner path
// and the bypass path; all graphs observe a consistent boolean, there is no
// per-listener override. Rewire passes are serialized: a second toggle waits
// for the first to finish reconnecting all graphs, so no graph is ever left
// mid-rewire.
//
// State changes are announced on subscriber channels so the notification
// layer can tell the user; nothing here renders anything.
type ModeController struct {
	logger *slog.Logger
	index  *PositionIndex

	// mu serializes toggle/rewire passes and guards all fields below.
	mu          sync.Mutex
	enabled     bool
	unsupported bool
	subscribers []chan bool
}

func newModeController(initiallyEnabled bool, index *PositionIndex, logger *slog.Logger) *ModeController {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModeController{
		logger:  logger,
		index:   index,
		enabled: initiallyEnabled,
	}
}

// Enabled reports the current spatialization state. New graphs read this at
// construction time to pick their initial wiring.
func (mc *ModeController) Enabled() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.enabled
}

// Toggle flips the spatialization flag, rewires every live graph, and
// returns the new state.
func (mc *ModeController) Toggle() bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.applyLocked(!mc.enabled)
	return mc.enabled
}

// SetEnabled sets the spatialization flag to an explicit value. Setting the
// current value is a no-op: no rewire, no notification.
func (mc *ModeController) SetEnabled(enabled bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.applyLocked(enabled)
}

// Subscribe returns a channel delivering the state after each change.
// Sends never block: a subscriber that has not drained the previous
// notification simply misses intermediate states.
func (mc *ModeController) Subscribe() <-chan bool {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	ch := make(chan bool, 1)
	mc.subscribers = append(mc.subscribers, ch)
	return ch
}

// markUnsupported pins the flag to false: in an environment without audio
// support every graph is a plain pass-through and toggling has no effect.
// Called once by the engine when output context creation fails.
func (mc *ModeController) markUnsupported() {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.unsupported = true
	mc.enabled = false
}

// --------------------------------------------------------------------------------

func (mc *ModeController) applyLocked(enabled bool) {
	if mc.unsupported {
		mc.logger.Debug("spatialization toggle ignored, audio output unsupported")
		return
	}
	if enabled == mc.enabled {
		return
	}
	mc.enabled = enabled

	// Rewire every live graph. Graphs detached between the snapshot and the
	// rewire silently skip themselves.
	graphs := mc.index.Snapshot()
	for _, g := range graphs {
		g.setSpatial(enabled)
	}

	mc.logger.Info(
		"spatialization mode changed",
		"enabled", enabled,
		"rewiredGraphs", len(graphs),
	)

	for _, ch := range mc.subscribers {
		select {
		case ch <- enabled:
		default:
			// Subscriber not keeping up, drop rather than stall the rewire
		}
	}
}
