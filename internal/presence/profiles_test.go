package presence

import (
	"fmt"
	"testing"
	"time"

	"github.com/syncboard/syncboard/pkg/models"
)

func TestProfileCachePutGet(t *testing.T) {
	c := newProfileCache(10)

	if _, ok := c.get("alice"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.put("alice", models.Profile{ID: "alice", FullName: "Alice"})
	profile, ok := c.get("alice")
	if !ok || profile.FullName != "Alice" {
		t.Fatalf("get = %+v, %v", profile, ok)
	}
}

func TestProfileCacheRetain(t *testing.T) {
	c := newProfileCache(10)
	c.put("alice", models.Profile{ID: "alice"})
	c.put("bob", models.Profile{ID: "bob"})
	c.put("carol", models.Profile{ID: "carol"})

	c.retain(map[string]struct{}{"bob": {}})
	if c.len() != 1 {
		t.Fatalf("len = %d, want 1", c.len())
	}
	if _, ok := c.get("bob"); !ok {
		t.Error("retained profile was dropped")
	}
	if _, ok := c.get("alice"); ok {
		t.Error("inactive profile survived retain")
	}
}

func TestProfileCacheEvictsOldest(t *testing.T) {
	c := newProfileCache(3)
	for i := 0; i < 5; i++ {
		c.put(fmt.Sprintf("u%d", i), models.Profile{ID: fmt.Sprintf("u%d", i)})
		time.Sleep(time.Millisecond)
	}

	if c.len() != 3 {
		t.Fatalf("len = %d, want 3", c.len())
	}
	if _, ok := c.get("u0"); ok {
		t.Error("oldest entry survived eviction")
	}
	if _, ok := c.get("u4"); !ok {
		t.Error("newest entry was evicted")
	}
}
