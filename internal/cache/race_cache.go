package cache

import (
	"context"
	"sync"
	"time"

	"keyracer/internal/errs"
	"keyracer/internal/model"
	"keyracer/internal/telemetry"
)

// ResultStore is the narrow persistence contract the cache flushes
// through. Terminal sessions get a full result write, long-running
// active ones a lightweight checkpoint.
type ResultStore interface {
	SaveSessionResult(ctx context.Context, session *model.RaceSession) error
	SaveCheckpoint(ctx context.Context, session *model.RaceSession) error
}

// maxFlushAttempts bounds the optimistic retry loop when a session
// keeps advancing under a flush.
const maxFlushAttempts = 3

type entry struct {
	mu             sync.Mutex
	session        *model.RaceSession
	dirty          bool
	lastActivityAt time.Time
}

// EntryInfo is a lock-free view of an entry for the sweeper.
type EntryInfo struct {
	Status         model.RaceStatus
	Version        uint64
	Dirty          bool
	LastActivityAt time.Time
	DeadlineAt     *time.Time
	Participants   int
}

// RaceCache is the authoritative in-memory store for live race
// sessions. It is write-behind: mutations only touch memory, and the
// persistent store sees terminal results and periodic checkpoints.
// All mutation is serialized per room through the entry mutex.
type RaceCache struct {
	mu      sync.RWMutex
	entries map[string]*entry

	store   ResultStore
	metrics *telemetry.Collector

	// onCommit runs while the entry lock is still held, so committed
	// snapshots reach the hub in strict version order. It must not block.
	onCommit func(snapshot *model.RaceSession)

	draining bool
}

// NewRaceCache creates an empty cache backed by the given store.
func NewRaceCache(store ResultStore, metrics *telemetry.Collector) *RaceCache {
	return &RaceCache{
		entries: make(map[string]*entry),
		store:   store,
		metrics: metrics,
	}
}

// SetOnCommit installs the commit hook. Must be called before the
// cache receives traffic.
func (c *RaceCache) SetOnCommit(fn func(snapshot *model.RaceSession)) {
	c.onCommit = fn
}

// SetDraining makes the cache reject new sessions and mutations.
// Used by the shutdown sequence before the final flush pass.
func (c *RaceCache) SetDraining(v bool) {
	c.mu.Lock()
	c.draining = v
	c.mu.Unlock()
}

// GetOrCreate returns a snapshot of the room's session, creating a
// fresh one via create when the room is not cached. The second return
// reports whether a new session was created.
func (c *RaceCache) GetOrCreate(roomID string, create func() *model.RaceSession) (*model.RaceSession, bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[roomID]; ok {
		c.mu.Unlock()
		e.mu.Lock()
		snap := e.session.Clone()
		e.mu.Unlock()
		return snap, false, nil
	}
	if c.draining {
		c.mu.Unlock()
		return nil, false, errs.Conflict("cache.create", "server is shutting down")
	}
	e := &entry{
		session:        create(),
		dirty:          false,
		lastActivityAt: time.Now(),
	}
	c.entries[roomID] = e
	c.mu.Unlock()
	return e.session.Clone(), true, nil
}

// Mutate applies fn to the room's session under its lock. On success
// the version is bumped by exactly one, the entry is marked dirty and
// the commit hook fires with a snapshot. On error nothing changes.
func (c *RaceCache) Mutate(roomID string, fn func(*model.RaceSession) error) (*model.RaceSession, uint64, error) {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	draining := c.draining
	c.mu.RUnlock()
	if !ok {
		return nil, 0, errs.NotFound("cache.mutate", "no session for room")
	}
	if draining {
		return nil, 0, errs.Conflict("cache.mutate", "server is shutting down")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.session); err != nil {
		return nil, e.session.Version, err
	}

	e.session.Version++
	e.dirty = true
	e.lastActivityAt = time.Now()
	if c.metrics != nil {
		c.metrics.Mutations.Add(1)
	}

	snap := e.session.Clone()
	if c.onCommit != nil {
		c.onCommit(snap)
	}
	return snap, snap.Version, nil
}

// Heartbeat refreshes the activity clock without counting as a
// mutation; the version does not move.
func (c *RaceCache) Heartbeat(roomID string) bool {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	c.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	e.lastActivityAt = time.Now()
	e.mu.Unlock()
	return true
}

// Snapshot returns a read-only clone of the room's session.
func (c *RaceCache) Snapshot(roomID string) (*model.RaceSession, bool) {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	snap := e.session.Clone()
	e.mu.Unlock()
	return snap, true
}

// Info returns sweep-relevant entry metadata.
func (c *RaceCache) Info(roomID string) (EntryInfo, bool) {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	c.mu.RUnlock()
	if !ok {
		return EntryInfo{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	info := EntryInfo{
		Status:         e.session.Status,
		Version:        e.session.Version,
		Dirty:          e.dirty,
		LastActivityAt: e.lastActivityAt,
		Participants:   len(e.session.Participants),
	}
	if e.session.DeadlineAt != nil {
		t := *e.session.DeadlineAt
		info.DeadlineAt = &t
	}
	return info, true
}

// Flush persists the room's state if dirty. The store write happens
// outside the entry lock against a snapshot; the dirty flag is only
// cleared when the version did not advance during the write, otherwise
// the flush retries against the newer snapshot.
func (c *RaceCache) Flush(ctx context.Context, roomID string) error {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	c.mu.RUnlock()
	if !ok {
		return errs.NotFound("cache.flush", "no session for room")
	}

	for attempt := 0; attempt < maxFlushAttempts; attempt++ {
		e.mu.Lock()
		if !e.dirty {
			e.mu.Unlock()
			return nil
		}
		snap := e.session.Clone()
		e.mu.Unlock()

		var err error
		if snap.Terminal() {
			err = c.store.SaveSessionResult(ctx, snap)
		} else {
			err = c.store.SaveCheckpoint(ctx, snap)
		}
		if err != nil {
			if c.metrics != nil {
				c.metrics.FlushFailures.Add(1)
			}
			return errs.TransientStore("cache.flush", err)
		}

		e.mu.Lock()
		if e.session.Version == snap.Version {
			e.dirty = false
			e.mu.Unlock()
			if c.metrics != nil {
				c.metrics.FlushSuccesses.Add(1)
			}
			return nil
		}
		current := e.session.Version
		e.mu.Unlock()

		// Session advanced under the write; the persisted snapshot is
		// stale and the dirty flag must survive. Retry.
		if c.metrics != nil {
			c.metrics.FlushRetries.Add(1)
		}
		if attempt == maxFlushAttempts-1 {
			return errs.StaleVersion("cache.flush", snap.Version, current)
		}
	}
	return nil
}

// Evict removes the room's entry. Dirty entries are never evicted;
// the call is a no-op returning false until a flush clears the flag.
func (c *RaceCache) Evict(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[roomID]
	if !ok {
		return false
	}
	e.mu.Lock()
	dirty := e.dirty
	e.mu.Unlock()
	if dirty {
		return false
	}
	delete(c.entries, roomID)
	return true
}

// FlushAll runs one flush pass over every dirty entry and returns how
// many are still dirty afterwards, for retry decisions upstream.
func (c *RaceCache) FlushAll(ctx context.Context) int {
	remaining := 0
	for _, roomID := range c.Rooms() {
		if err := c.Flush(ctx, roomID); err != nil {
			if errs.KindOf(err) == errs.KindNotFound {
				continue
			}
			remaining++
		}
	}
	return remaining
}

// Rooms lists the cached room IDs.
func (c *RaceCache) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rooms := make([]string, 0, len(c.entries))
	for id := range c.entries {
		rooms = append(rooms, id)
	}
	return rooms
}

// Len returns the number of cached sessions.
func (c *RaceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
