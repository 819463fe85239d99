package gateway

import (
	"encoding/json"
	"testing"

	"github.com/syncboard/syncboard/internal/registry"
	"github.com/syncboard/syncboard/pkg/models"
)

// memWriter collects enqueued frames in memory. full simulates a connection
// whose send buffer cannot accept the frame.
type memWriter struct {
	frames [][]byte
	full   bool
}

func (w *memWriter) Enqueue(frame []byte) bool {
	if w.full {
		return false
	}
	w.frames = append(w.frames, frame)
	return true
}

func (w *memWriter) lastType(t *testing.T) string {
	t.Helper()
	if len(w.frames) == 0 {
		t.Fatal("no frames delivered")
	}
	var msg models.Broadcast
	if err := json.Unmarshal(w.frames[len(w.frames)-1], &msg); err != nil {
		t.Fatalf("frame is not valid json: %v", err)
	}
	return msg.Type
}

func fanoutFixture(t *testing.T) (*Dispatcher, map[string]*memWriter) {
	t.Helper()
	reg := registry.New()
	d := NewDispatcher(reg, nil, nil)

	writers := make(map[string]*memWriter)
	attach := func(connID, userID, boardID string) {
		reg.Add(connID)
		if userID != "" {
			reg.AttachUser(connID, models.User{ID: userID})
		}
		if boardID != "" {
			reg.SetBoard(connID, boardID)
		}
		w := &memWriter{}
		writers[connID] = w
		d.Attach(connID, w)
	}

	attach("c1", "alice", "b1")
	attach("c2", "alice", "b2") // second tab
	attach("c3", "bob", "b1")
	attach("c4", "carol", "")
	attach("c5", "", "") // anonymous
	return d, writers
}

func TestToBoardTargetsOnlyThatBoard(t *testing.T) {
	d, writers := fanoutFixture(t)

	sent := d.ToBoard(models.Broadcast{Type: "task:created", Data: map[string]any{}}, "b1", "")
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if writers["c1"].lastType(t) != "task:created" {
		t.Error("b1 member missed the broadcast")
	}
	if len(writers["c2"].frames) != 0 {
		t.Error("b2 connection received a b1 broadcast")
	}
	if len(writers["c4"].frames) != 0 {
		t.Error("boardless connection received a board broadcast")
	}
}

func TestToBoardExcludesSender(t *testing.T) {
	d, writers := fanoutFixture(t)

	sent := d.ToBoard(models.Broadcast{Type: "task:updated"}, "b1", "c1")
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(writers["c1"].frames) != 0 {
		t.Error("excluded sender still received the frame")
	}
	if len(writers["c3"].frames) != 1 {
		t.Error("other board member missed the frame")
	}
}

func TestToAllSkipsAnonymous(t *testing.T) {
	d, writers := fanoutFixture(t)

	sent := d.ToAll(models.Broadcast{Type: "boards:invalidate"}, "")
	if sent != 4 {
		t.Fatalf("sent = %d, want 4", sent)
	}
	if len(writers["c5"].frames) != 0 {
		t.Error("anonymous connection received an authenticated-only broadcast")
	}
}

func TestToUserHitsEveryTab(t *testing.T) {
	d, writers := fanoutFixture(t)

	sent := d.ToUser("alice", models.Broadcast{Type: "presence:updated"})
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(writers["c1"].frames) != 1 || len(writers["c2"].frames) != 1 {
		t.Error("one of alice's tabs missed the frame")
	}
	if len(writers["c3"].frames) != 0 {
		t.Error("bob received alice's frame")
	}
}

func TestFullBufferIsSkippedNotFatal(t *testing.T) {
	d, writers := fanoutFixture(t)
	writers["c1"].full = true

	sent := d.ToBoard(models.Broadcast{Type: "task:created"}, "b1", "")
	if sent != 1 {
		t.Fatalf("sent = %d, want 1 (full buffer skipped)", sent)
	}
	if len(writers["c3"].frames) != 1 {
		t.Error("healthy connection penalized by a slow peer")
	}
}

func TestDetachedConnectionIsNoop(t *testing.T) {
	d, writers := fanoutFixture(t)
	d.Detach("c3")

	sent := d.ToBoard(models.Broadcast{Type: "task:created"}, "b1", "")
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
	if len(writers["c3"].frames) != 0 {
		t.Error("detached connection received a frame")
	}
}

func TestToConnection(t *testing.T) {
	d, writers := fanoutFixture(t)

	ok := d.ToConnection("c1", models.Response{ID: "req-1", Success: true})
	if !ok {
		t.Fatal("delivery to live connection failed")
	}
	var resp models.Response
	if err := json.Unmarshal(writers["c1"].frames[0], &resp); err != nil {
		t.Fatalf("bad frame: %v", err)
	}
	if resp.ID != "req-1" || !resp.Success {
		t.Errorf("resp = %+v", resp)
	}

	if d.ToConnection("c-ghost", models.Response{}) {
		t.Error("delivery to unknown connection reported success")
	}
}

func TestMarshalFailureDropsFanout(t *testing.T) {
	d, writers := fanoutFixture(t)

	sent := d.ToAll(models.Broadcast{Type: "bad", Data: map[string]any{"ch": make(chan int)}}, "")
	if sent != 0 {
		t.Fatalf("unserializable message was delivered to %d connections", sent)
	}
	if len(writers["c1"].frames) != 0 {
		t.Error("frame delivered despite marshal failure")
	}
}
