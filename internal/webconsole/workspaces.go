// ABOUTME: Idle-expiring, size-bounded cache of operator workspaces
// ABOUTME: Keeps per-session console state in memory between requests

package webconsole

import (
	"container/list"
	"sync"
	"time"
)

type workspaceEntry struct {
	ws       *Workspace
	lastUsed time.Time
	element  *list.Element
}

// workspaceCache maps session ids to workspaces. Entries idle longer than ttl
// are dropped, and the least recently used entry makes room when full.
// Dropping a workspace loses only in-memory view state; the session itself
// lives in the store and a new workspace is built on the next request.
type workspaceCache struct {
	mu      sync.Mutex
	entries map[string]*workspaceEntry
	order   *list.List // least recently used at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

func newWorkspaceCache(ttl time.Duration, maxSize int) *workspaceCache {
	c := &workspaceCache{
		entries: make(map[string]*workspaceEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the workspace for id and marks it used.
func (c *workspaceCache) Get(id string) (*Workspace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	now := c.now()
	if now.Sub(e.lastUsed) > c.ttl {
		c.removeLocked(id)
		return nil, false
	}
	e.lastUsed = now
	c.order.MoveToBack(e.element)
	return e.ws, true
}

// Put stores ws under id, evicting the least recently used entry when full.
func (c *workspaceCache) Put(id string, ws *Workspace) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[id]; ok {
		e.ws = ws
		e.lastUsed = now
		c.order.MoveToBack(e.element)
		return
	}
	if len(c.entries) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(front.Value.(string))
		}
	}
	c.entries[id] = &workspaceEntry{ws: ws, lastUsed: now, element: c.order.PushBack(id)}
}

// Remove drops the workspace for id.
func (c *workspaceCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

func (c *workspaceCache) removeLocked(id string) {
	e, ok := c.entries[id]
	if !ok {
		return
	}
	c.order.Remove(e.element)
	delete(c.entries, id)
}

// Len returns the number of cached workspaces, expired ones included until
// the next sweep.
func (c *workspaceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *workspaceCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes every idle entry.
func (c *workspaceCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for id, e := range c.entries {
		if now.Sub(e.lastUsed) > c.ttl {
			c.removeLocked(id)
		}
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *workspaceCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
