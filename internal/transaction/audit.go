package transaction

import (
	"sync"
	"time"
)

// Event types recorded in the audit log.
const (
	EventBegin    = "BEGIN"
	EventCommit   = "COMMIT"
	EventRollback = "ROLLBACK"
)

// Event is one audit log entry.
type Event struct {
	TxID   string
	Type   string
	At     time.Time
	Detail string
}

// auditLogCapacity bounds the in-memory audit log. Oldest entries are
// evicted first; the log is an operational aid, not a durable journal.
const auditLogCapacity = 1000

// auditLog is a fixed-capacity ring of transaction events.
type auditLog struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

func newAuditLog() *auditLog {
	return &auditLog{events: make([]Event, auditLogCapacity)}
}

func (l *auditLog) record(txID, eventType, detail string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = Event{
		TxID:   txID,
		Type:   eventType,
		At:     time.Now().UTC(),
		Detail: detail,
	}
	l.next = (l.next + 1) % auditLogCapacity
	if l.next == 0 {
		l.full = true
	}
}

// snapshot returns events oldest first.
func (l *auditLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		out := make([]Event, l.next)
		copy(out, l.events[:l.next])
		return out
	}
	out := make([]Event, 0, auditLogCapacity)
	out = append(out, l.events[l.next:]...)
	out = append(out, l.events[:l.next]...)
	return out
}
