package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/syncboard/syncboard/internal/observability"
	"github.com/syncboard/syncboard/internal/presence"
	"github.com/syncboard/syncboard/internal/registry"
	"github.com/syncboard/syncboard/pkg/models"
)

// Timers owns the two background loops: the periodic presence re-broadcast
// that masks the gap between a user going idle and other clients noticing,
// and the sweep that reaps entries from ungraceful disconnects the transport
// never reported.
type Timers struct {
	registry   *registry.Registry
	presence   *presence.Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *observability.Metrics

	rebroadcastEvery time.Duration
	sweepEvery       time.Duration
}

func NewTimers(reg *registry.Registry, pres *presence.Registry, disp *Dispatcher, logger *slog.Logger, metrics *observability.Metrics, rebroadcastEvery, sweepEvery time.Duration) *Timers {
	if logger == nil {
		logger = slog.Default()
	}
	if rebroadcastEvery <= 0 {
		rebroadcastEvery = 15 * time.Second
	}
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	return &Timers{
		registry:         reg,
		presence:         pres,
		dispatcher:       disp,
		logger:           logger,
		metrics:          metrics,
		rebroadcastEvery: rebroadcastEvery,
		sweepEvery:       sweepEvery,
	}
}

// Run blocks until ctx is cancelled.
func (t *Timers) Run(ctx context.Context) {
	rebroadcast := time.NewTicker(t.rebroadcastEvery)
	defer rebroadcast.Stop()
	sweep := time.NewTicker(t.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-rebroadcast.C:
			t.rebroadcast()
		case <-sweep.C:
			t.sweep()
		}
	}
}

// rebroadcast recomputes is_active server-side and pushes fresh snapshots so
// idle transitions surface without any client traffic. Empty contexts stay
// silent.
func (t *Timers) rebroadcast() {
	if users := t.presence.Snapshot(ContextApp, ""); len(users) > 0 {
		t.dispatcher.ToAll(models.Broadcast{
			Type: "presence:updated",
			Data: presenceUpdatedData{Context: ContextApp, Users: users},
		}, "")
	}
	for _, boardID := range t.registry.BoardIDs() {
		users := t.presence.Snapshot(ContextBoard, boardID)
		if len(users) == 0 {
			continue
		}
		id := boardID
		t.dispatcher.ToBoard(models.Broadcast{
			Type: "presence:updated",
			Data: presenceUpdatedData{Context: ContextBoard, ContextID: &id, Users: users},
		}, boardID, "")
	}
}

func (t *Timers) sweep() {
	removed := t.presence.Sweep()
	if removed > 0 {
		t.logger.Info("presence sweep removed stale entries", "removed", removed)
	}
	if t.metrics != nil {
		t.metrics.PresenceSweeps.Add(float64(removed))
		t.metrics.PresenceEntries.Set(float64(t.presence.Len()))
	}
}
