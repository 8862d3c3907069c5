// ABOUTME: Operator-facing notices raised by console operations
// ABOUTME: Inbox buffers notices until the web UI or CLI drains them

package console

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notice.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notice is one short message for the operator.
type Notice struct {
	ID      string
	Level   Level
	Message string
	At      time.Time
}

// NewNotice builds a notice with a fresh id.
func NewNotice(level Level, format string, args ...any) Notice {
	return Notice{
		ID:      uuid.NewString(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		At:      time.Now(),
	}
}

// Sticky reports whether n stays pending until dismissed by id.
func (n Notice) Sticky() bool { return n.Level == LevelError }

// Notifier receives notices.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notice) { f(n) }

type discard struct{}

func (discard) Notify(Notice) {}

// DefaultInboxSize bounds an Inbox created with a non-positive size.
const DefaultInboxSize = 50

// Inbox collects notices until drained. When full the oldest notice is dropped.
type Inbox struct {
	mu      sync.Mutex
	notices []Notice
	max     int
}

// NewInbox creates an inbox holding at most size notices.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Inbox{max: size}
}

// Notify appends n.
func (i *Inbox) Notify(n Notice) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(i.notices) == i.max {
		i.notices = i.notices[1:]
	}
	i.notices = append(i.notices, n)
}

// Drain returns the buffered notices in arrival order and empties the inbox.
func (i *Inbox) Drain() []Notice {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.notices
	i.notices = nil
	return out
}

// Pending returns a copy of the buffered notices without removing them.
func (i *Inbox) Pending() []Notice {
	i.mu.Lock()
	defer i.mu.Unlock()
	return slices.Clone(i.notices)
}

// Dismiss removes the notices with the given ids and returns how many were
// removed. Unknown ids are ignored.
func (i *Inbox) Dismiss(ids ...string) int {
	if len(ids) == 0 {
		return 0
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	before := len(i.notices)
	i.notices = slices.DeleteFunc(i.notices, func(n Notice) bool {
		return slices.Contains(ids, n.ID)
	})
	return before - len(i.notices)
}

// Len returns the number of buffered notices.
func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.notices)
}
