package gateway

import (
	"testing"
	"time"

	"github.com/syncboard/syncboard/internal/presence"
	"github.com/syncboard/syncboard/internal/registry"
	"github.com/syncboard/syncboard/pkg/models"
)

func timersFixture(t *testing.T) (*Timers, *registry.Registry, *presence.Registry, map[string]*memWriter) {
	t.Helper()
	reg := registry.New()
	pres := presence.New(presence.Config{
		ExistenceWindow: 300 * time.Second,
		ActiveWindow:    30 * time.Second,
	}, nil, nil)
	disp := NewDispatcher(reg, nil, nil)
	timers := NewTimers(reg, pres, disp, nil, nil, 15*time.Second, time.Minute)

	writers := make(map[string]*memWriter)
	for _, id := range []string{"c1", "c2"} {
		reg.Add(id)
		w := &memWriter{}
		writers[id] = w
		disp.Attach(id, w)
	}
	return timers, reg, pres, writers
}

func TestRebroadcastPushesAppSnapshot(t *testing.T) {
	timers, reg, pres, writers := timersFixture(t)
	reg.AttachUser("c1", models.User{ID: "alice"})
	reg.AttachUser("c2", models.User{ID: "bob"})
	pres.Join("c1", models.User{ID: "alice"}, ContextApp, "", nil)

	timers.rebroadcast()

	for _, id := range []string{"c1", "c2"} {
		if writers[id].lastType(t) != "presence:updated" {
			t.Errorf("%s did not receive the periodic snapshot", id)
		}
	}
}

func TestRebroadcastSkipsEmptyContexts(t *testing.T) {
	timers, reg, _, writers := timersFixture(t)
	reg.AttachUser("c1", models.User{ID: "alice"})

	timers.rebroadcast()

	if len(writers["c1"].frames) != 0 {
		t.Error("empty presence broadcast was sent")
	}
}

func TestRebroadcastBoardGoesToRoomOnly(t *testing.T) {
	timers, reg, pres, writers := timersFixture(t)
	reg.AttachUser("c1", models.User{ID: "alice"})
	reg.AttachUser("c2", models.User{ID: "bob"})
	reg.SetBoard("c1", "b1")
	pres.Join("c1", models.User{ID: "alice"}, ContextBoard, "b1", nil)

	timers.rebroadcast()

	if len(writers["c1"].frames) != 1 {
		t.Errorf("board member received %d frames, want 1", len(writers["c1"].frames))
	}
	if len(writers["c2"].frames) != 0 {
		t.Error("non-member received a board snapshot")
	}
}

func TestSweepUpdatesNothingWhenFresh(t *testing.T) {
	timers, _, pres, _ := timersFixture(t)
	pres.Join("c1", models.User{ID: "alice"}, ContextApp, "", nil)

	timers.sweep()
	if pres.Len() != 1 {
		t.Errorf("fresh entry swept: len = %d", pres.Len())
	}
}
