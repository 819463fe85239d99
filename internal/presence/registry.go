// Package presence tracks which users are present in which named contexts:
// app-wide, per board, or any caller-defined (context, contextID) pair.
//
// Each membership carries two independent staleness clocks. lastSeen is
// bumped on every explicit update (heartbeats included) and decides whether
// the entry still exists; lastActivity is bumped only on substantive actions
// and decides whether the user is shown as active or idle. Presence lives
// purely in memory and self-heals through periodic re-broadcast, so every
// operation is best-effort: updates against missing entries are no-ops.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/syncboard/syncboard/pkg/models"
)

// ProfileFetcher loads display profiles from the backing store. Fetches are
// fire-and-forget: a snapshot taken before the fetch completes falls back to
// a profile synthesized from the auth identity.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, userID string) (models.Profile, error)
}

// Config bounds the registry. Zero values are replaced with the documented
// defaults.
type Config struct {
	// ExistenceWindow is how long an entry survives without any update.
	ExistenceWindow time.Duration

	// ActiveWindow is how recently lastActivity must have been bumped for
	// the entry to be classified active.
	ActiveWindow time.Duration

	// MaxEntries is a hard capacity; Sweep evicts oldest-lastSeen entries
	// beyond it.
	MaxEntries int

	// MaxProfileCache bounds the profile cache.
	MaxProfileCache int
}

func (c Config) withDefaults() Config {
	if c.ExistenceWindow <= 0 {
		c.ExistenceWindow = 5 * time.Minute
	}
	if c.ActiveWindow <= 0 {
		c.ActiveWindow = 30 * time.Second
	}
	if c.MaxEntries <= 0 {
		c.MaxEntries = 10000
	}
	if c.MaxProfileCache <= 0 {
		c.MaxProfileCache = 5000
	}
	return c
}

// key identifies one membership: at most one entry exists per key at any
// time, regardless of how many times the user reconnects.
type key struct {
	Context   string
	ContextID string
	UserID    string
}

type entry struct {
	user         models.User
	connID       string
	eventData    map[string]any
	lastSeen     time.Time
	lastActivity time.Time
}

// ContextSnapshot pairs a context with its membership snapshot, as returned
// by ForceRemoveAll for the caller to broadcast.
type ContextSnapshot struct {
	Context   string
	ContextID string
	Users     []models.PresenceSnapshot
}

// Registry is safe for concurrent use; every operation is atomic with
// respect to the others.
type Registry struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[key]*entry
	byConn   map[string]map[key]struct{}
	profiles *profileCache
	fetcher  ProfileFetcher
	logger   *slog.Logger

	nowFunc func() time.Time
}

// New builds a presence registry. fetcher may be nil, in which case every
// snapshot uses fallback profiles. A nil logger uses slog.Default().
func New(cfg Config, fetcher ProfileFetcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Registry{
		cfg:      cfg,
		entries:  make(map[key]*entry),
		byConn:   make(map[string]map[key]struct{}),
		profiles: newProfileCache(cfg.MaxProfileCache),
		fetcher:  fetcher,
		logger:   logger,
		nowFunc:  time.Now,
	}
}

// SetNowFunc replaces the clock, for tests.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
}

// Join creates or replaces the membership for (context, contextID, user.ID)
// and returns the full current snapshot for that context. If the same user
// already holds the membership through a different connection (a reconnect
// that raced the old transport's close), the stale entry is superseded in
// place: its back-reference is cleaned, no duplicate ever appears in a
// snapshot, and the displaced connection ID is returned so the caller can
// release any state it still holds for it. superseded is "" otherwise.
func (r *Registry) Join(connID string, user models.User, contextName, contextID string, eventData map[string]any) (users []models.PresenceSnapshot, superseded string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{Context: contextName, ContextID: contextID, UserID: user.ID}
	if old, ok := r.entries[k]; ok && old.connID != connID {
		r.dropBackRef(old.connID, k)
		superseded = old.connID
	}

	now := r.nowFunc()
	r.entries[k] = &entry{
		user:         user,
		connID:       connID,
		eventData:    cloneEventData(eventData),
		lastSeen:     now,
		lastActivity: now,
	}
	refs, ok := r.byConn[connID]
	if !ok {
		refs = make(map[key]struct{})
		r.byConn[connID] = refs
	}
	refs[k] = struct{}{}

	if r.fetcher != nil {
		if _, cached := r.profiles.get(user.ID); !cached {
			go r.fetchProfile(user.ID)
		}
	}

	return r.snapshotLocked(contextName, contextID, now), superseded
}

// Update merges eventData into the existing membership and bumps lastSeen.
// The merge is shallow: new keys overwrite, a nil value clears a key.
// Returns false when no matching entry exists; callers treat that as a
// no-op, since the client may have raced a server-side sweep.
func (r *Registry) Update(connID, contextName, contextID string, eventData map[string]any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, _, ok := r.findByConn(connID, contextName, contextID)
	if !ok {
		return false
	}
	for k, v := range eventData {
		if v == nil {
			delete(e.eventData, k)
			continue
		}
		e.eventData[k] = v
	}
	e.lastSeen = r.nowFunc()
	return true
}

// TouchActivity bumps lastActivity only; lastSeen is left alone, so activity
// touches never extend an entry's existence. Only explicit presence updates
// (client heartbeats) keep an entry alive. It returns true exactly when the
// entry crossed from idle back to active, signaling the caller to re-broadcast
// the context snapshot; touches within the active window return false so that
// steady activity does not trigger redundant broadcasts.
func (r *Registry) TouchActivity(connID, contextName, contextID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, _, ok := r.findByConn(connID, contextName, contextID)
	if !ok {
		return false
	}
	now := r.nowFunc()
	wasIdle := now.Sub(e.lastActivity) >= r.cfg.ActiveWindow
	e.lastActivity = now
	return wasIdle
}

// Leave removes the membership held by connID in the given context and
// returns the updated snapshot for that context. The second return is false
// when nothing was removed.
func (r *Registry) Leave(connID, contextName, contextID string) ([]models.PresenceSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, k, ok := r.findByConn(connID, contextName, contextID)
	if !ok {
		return nil, false
	}
	delete(r.entries, k)
	r.dropBackRef(connID, k)
	r.retainProfilesLocked()
	return r.snapshotLocked(contextName, contextID, r.nowFunc()), true
}

// ForceRemoveAll removes every membership the connection holds, one per
// context the connection had joined, and returns one snapshot per affected
// context for the caller to broadcast. Called on transport close.
func (r *Registry) ForceRemoveAll(connID string) []ContextSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	refs, ok := r.byConn[connID]
	if !ok {
		return nil
	}
	removed := make([]key, 0, len(refs))
	for k := range refs {
		delete(r.entries, k)
		removed = append(removed, k)
	}
	delete(r.byConn, connID)
	r.retainProfilesLocked()

	// Deterministic broadcast order for tests and logs.
	sort.Slice(removed, func(i, j int) bool {
		if removed[i].Context != removed[j].Context {
			return removed[i].Context < removed[j].Context
		}
		return removed[i].ContextID < removed[j].ContextID
	})

	now := r.nowFunc()
	out := make([]ContextSnapshot, 0, len(removed))
	for _, k := range removed {
		out = append(out, ContextSnapshot{
			Context:   k.Context,
			ContextID: k.ContextID,
			Users:     r.snapshotLocked(k.Context, k.ContextID, now),
		})
	}
	return out
}

// Snapshot returns all non-expired memberships for the context, each
// annotated with its active classification.
func (r *Registry) Snapshot(contextName, contextID string) []models.PresenceSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked(contextName, contextID, r.nowFunc())
}

// Sweep removes entries whose lastSeen exceeds the existence window, then
// enforces the hard capacity by evicting oldest-lastSeen entries first.
// Returns the number removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.nowFunc()
	removed := 0
	for k, e := range r.entries {
		if now.Sub(e.lastSeen) > r.cfg.ExistenceWindow {
			delete(r.entries, k)
			r.dropBackRef(e.connID, k)
			removed++
		}
	}

	if excess := len(r.entries) - r.cfg.MaxEntries; excess > 0 {
		type aged struct {
			k key
			e *entry
		}
		all := make([]aged, 0, len(r.entries))
		for k, e := range r.entries {
			all = append(all, aged{k, e})
		}
		sort.Slice(all, func(i, j int) bool {
			return all[i].e.lastSeen.Before(all[j].e.lastSeen)
		})
		for _, victim := range all[:excess] {
			delete(r.entries, victim.k)
			r.dropBackRef(victim.e.connID, victim.k)
			removed++
		}
	}

	if removed > 0 {
		r.retainProfilesLocked()
	}
	return removed
}

// Len returns the number of memberships currently tracked.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) findByConn(connID, contextName, contextID string) (*entry, key, bool) {
	for k := range r.byConn[connID] {
		if k.Context == contextName && k.ContextID == contextID {
			if e, ok := r.entries[k]; ok {
				return e, k, true
			}
		}
	}
	return nil, key{}, false
}

func (r *Registry) dropBackRef(connID string, k key) {
	refs, ok := r.byConn[connID]
	if !ok {
		return
	}
	delete(refs, k)
	if len(refs) == 0 {
		delete(r.byConn, connID)
	}
}

func (r *Registry) snapshotLocked(contextName, contextID string, now time.Time) []models.PresenceSnapshot {
	out := make([]models.PresenceSnapshot, 0, 4)
	for k, e := range r.entries {
		if k.Context != contextName || k.ContextID != contextID {
			continue
		}
		if now.Sub(e.lastSeen) > r.cfg.ExistenceWindow {
			continue
		}
		profile, ok := r.profiles.get(k.UserID)
		if !ok {
			profile = models.FallbackProfile(e.user)
		}
		out = append(out, models.PresenceSnapshot{
			UserID:       k.UserID,
			Context:      k.Context,
			ContextID:    optionalID(k.ContextID),
			LastSeen:     e.lastSeen,
			LastActivity: e.lastActivity,
			IsActive:     now.Sub(e.lastActivity) < r.cfg.ActiveWindow,
			EventData:    cloneEventData(e.eventData),
			Profile:      profile,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) retainProfilesLocked() {
	active := make(map[string]struct{}, len(r.entries))
	for k := range r.entries {
		active[k.UserID] = struct{}{}
	}
	r.profiles.retain(active)
}

func (r *Registry) fetchProfile(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	profile, err := r.fetcher.FetchProfile(ctx, userID)
	if err != nil {
		r.logger.Warn("profile fetch failed", "user_id", userID, "error", err)
		return
	}
	r.profiles.put(userID, profile)
}

func cloneEventData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func optionalID(id string) *string {
	if id == "" {
		return nil
	}
	return &id
}
