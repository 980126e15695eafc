package spatial

import (
	"log/slog"
	"sync"
	"time"
)

// The PositionIndex is the participant registry: the ordered collection of
// participants currently holding a live graph. Insertion order reflects join
// order, and a participant's position in the collection is its queue index,
// the sole input to its spatial placement.
//
// Membership changes trigger a recomputation of EVERY live graph's azimuth,
// because each azimuth depends on N and on everyone's relative place. Under
// rapid churn (a burst of joins and leaves) recomputation is debounced, so
// repositioning work is proportional to the number of distinct membership
// states rather than the number of individual events.
//
// The id→index map is maintained incrementally on every mutation; lookups
// never scan the ordered collection.
type PositionIndex struct {
	logger *slog.Logger

	// Zero disables debouncing: every mutation reindexes synchronously.
	// Offline rendering and tests want that determinism; a live conference
	// wants a small window (tens of milliseconds).
	debounce time.Duration

	mu           sync.Mutex
	order        []*ParticipantGraph
	byID         map[string]int
	reindexTimer *time.Timer
}

func NewPositionIndex(debounce time.Duration, logger *slog.Logger) *PositionIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionIndex{
		logger:   logger,
		debounce: debounce,
		order:    make([]*ParticipantGraph, 0),
		byID:     make(map[string]int),
	}
}

// Register appends a graph to the registry (its queue index is the current
// registry length) and schedules recomputation of all azimuths.
//
// The caller must guarantee the id is not already registered; the engine's
// replace-on-double-attach handling does so by detaching the old graph first.
func (ix *PositionIndex) Register(g *ParticipantGraph) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.order = append(ix.order, g)
	ix.byID[g.ParticipantID()] = len(ix.order) - 1
	ix.logger.Debug(
		"participant registered in position index",
		"participantID", g.ParticipantID(),
		"queueIndex", len(ix.order)-1,
		"participantCount", len(ix.order),
	)
	ix.scheduleReindexLocked()
}

// Deregister removes the graph with the given id, compacting the registry so
// remaining participants stay contiguous in join order. Unknown ids are a
// no-op: the participant may have left between request and processing.
func (ix *PositionIndex) Deregister(participantID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx, ok := ix.byID[participantID]
	if !ok {
		return
	}

	// Splice out preserving order; everything after shifts down one place.
	copy(ix.order[idx:], ix.order[idx+1:])
	ix.order = ix.order[:len(ix.order)-1]
	delete(ix.byID, participantID)
	for i := idx; i < len(ix.order); i++ {
		ix.byID[ix.order[i].ParticipantID()] = i
	}

	ix.logger.Debug(
		"participant deregistered from position index",
		"participantID", participantID,
		"participantCount", len(ix.order),
	)
	ix.scheduleReindexLocked()
}

// Graph returns the live graph for a participant id, if one is registered.
func (ix *PositionIndex) Graph(participantID string) (*ParticipantGraph, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	idx, ok := ix.byID[participantID]
	if !ok {
		return nil, false
	}
	return ix.order[idx], true
}

// QueueIndex returns a participant's current 0-based queue index.
func (ix *PositionIndex) QueueIndex(participantID string) (int, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	idx, ok := ix.byID[participantID]
	return idx, ok
}

func (ix *PositionIndex) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.order)
}

// Snapshot returns the registered graphs in join order. The returned slice is
// the caller's to keep; mutations of the registry do not affect it.
func (ix *PositionIndex) Snapshot() []*ParticipantGraph {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	snapshot := make([]*ParticipantGraph, len(ix.order))
	copy(snapshot, ix.order)
	return snapshot
}

// Flush forces any pending debounced recomputation to run now.
func (ix *PositionIndex) Flush() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.reindexTimer != nil {
		ix.reindexTimer.Stop()
		ix.reindexTimer = nil
	}
	ix.reindexLocked()
}

// --------------------------------------------------------------------------------

func (ix *PositionIndex) scheduleReindexLocked() {
	if ix.debounce <= 0 {
		ix.reindexLocked()
		return
	}

	// Restart the window: one reindex per burst of membership changes.
	if ix.reindexTimer != nil {
		ix.reindexTimer.Stop()
	}
	ix.reindexTimer = time.AfterFunc(ix.debounce, func() {
		ix.mu.Lock()
		defer ix.mu.Unlock()
		ix.reindexTimer = nil
		ix.reindexLocked()
	})
}

// Push a freshly computed azimuth into every live graph. N = 0 is a no-op.
func (ix *PositionIndex) reindexLocked() {
	n := len(ix.order)
	for i, g := range ix.order {
		x, y := PlacePosition(i+1, n)
		g.setPosition(x, y)
	}
	if n > 0 {
		ix.logger.Debug("recomputed participant azimuths", "participantCount", n)
	}
}
