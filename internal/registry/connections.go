// Package registry maintains the bidirectional index between live transport
// connections and their metadata: the authenticated user, the single board
// room the connection has joined, and last-seen bookkeeping.
//
// Fanout resolution must not rescan every connection per message, so the
// registry keeps secondary indexes (board -> connections, user -> connections)
// updated incrementally on every mutation.
package registry

import (
	"sync"
	"time"

	"github.com/syncboard/syncboard/pkg/models"
)

// Connection is the metadata tracked for one transport session. User is nil
// until the client proves a valid token and is never cleared afterwards.
// BoardID is empty when the connection is not in a board room.
type Connection struct {
	ID       string
	User     *models.User
	BoardID  string
	LastSeen time.Time
}

// Registry is safe for concurrent use. Lookups for absent connections return
// zero values, never errors.
type Registry struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	byBoard map[string]map[string]struct{}
	byUser  map[string]map[string]struct{}

	nowFunc func() time.Time
}

func New() *Registry {
	return &Registry{
		conns:   make(map[string]*Connection),
		byBoard: make(map[string]map[string]struct{}),
		byUser:  make(map[string]map[string]struct{}),
		nowFunc: time.Now,
	}
}

// SetNowFunc replaces the clock, for tests.
func (r *Registry) SetNowFunc(fn func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nowFunc = fn
}

// Add registers a new connection with no user or board attached. Adding an
// already-registered id is a no-op.
func (r *Registry) Add(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[connID]; ok {
		return
	}
	r.conns[connID] = &Connection{
		ID:       connID,
		LastSeen: r.nowFunc(),
	}
}

// AttachUser sets the connection's identity once verified. Idempotent when
// called again with the same user; a different user replaces the index entry.
func (r *Registry) AttachUser(connID string, user models.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	if conn.User != nil {
		if conn.User.ID == user.ID {
			return
		}
		r.dropIndex(r.byUser, conn.User.ID, connID)
	}
	u := user
	conn.User = &u
	r.addIndex(r.byUser, user.ID, connID)
}

// SetBoard updates the single active board association. An empty boardID
// clears it. The board index is adjusted incrementally, never rescanned.
func (r *Registry) SetBoard(connID, boardID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok || conn.BoardID == boardID {
		return
	}
	if conn.BoardID != "" {
		r.dropIndex(r.byBoard, conn.BoardID, connID)
	}
	conn.BoardID = boardID
	if boardID != "" {
		r.addIndex(r.byBoard, boardID, connID)
	}
}

// Touch bumps the connection's last-seen timestamp.
func (r *Registry) Touch(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conn, ok := r.conns[connID]; ok {
		conn.LastSeen = r.nowFunc()
	}
}

// Remove drops the connection and every index referencing it.
func (r *Registry) Remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	if conn.BoardID != "" {
		r.dropIndex(r.byBoard, conn.BoardID, connID)
	}
	if conn.User != nil {
		r.dropIndex(r.byUser, conn.User.ID, connID)
	}
	delete(r.conns, connID)
}

// Get returns a copy of the connection's metadata.
func (r *Registry) Get(connID string) (Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return r.snapshot(conn), true
}

// ListByBoard returns the ids of connections whose active board is boardID.
func (r *Registry) ListByBoard(boardID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.byBoard[boardID])
}

// ListByUser returns the ids of connections authenticated as userID. A user
// with several tabs open holds several connections.
func (r *Registry) ListByUser(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.byUser[userID])
}

// ListAuthenticated returns every connection with an attached user.
func (r *Registry) ListAuthenticated() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		if conn.User != nil {
			out = append(out, r.snapshot(conn))
		}
	}
	return out
}

// ListAll returns every registered connection.
func (r *Registry) ListAll() []Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, r.snapshot(conn))
	}
	return out
}

// BoardIDs returns every board that currently has at least one connection.
func (r *Registry) BoardIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.byBoard))
	for boardID := range r.byBoard {
		out = append(out, boardID)
	}
	return out
}

// Counts returns the total and authenticated connection counts.
func (r *Registry) Counts() (total, authenticated int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	total = len(r.conns)
	for _, conn := range r.conns {
		if conn.User != nil {
			authenticated++
		}
	}
	return total, authenticated
}

func (r *Registry) snapshot(conn *Connection) Connection {
	out := *conn
	if conn.User != nil {
		u := *conn.User
		out.User = &u
	}
	return out
}

func (r *Registry) addIndex(index map[string]map[string]struct{}, key, connID string) {
	set, ok := index[key]
	if !ok {
		set = make(map[string]struct{})
		index[key] = set
	}
	set[connID] = struct{}{}
}

func (r *Registry) dropIndex(index map[string]map[string]struct{}, key, connID string) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(index, key)
	}
}

func keys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}
