package session

import "sync"

type entry struct {
	mu      sync.Mutex
	session Session
	// removed is set once the entry has been dropped from the table; a
	// goroutine that acquired it concurrently must retry.
	removed bool
}

// Table holds the active sessions keyed by requester. Events for one
// requester are serialized; different requesters never contend beyond the
// brief table lookup.
type Table struct {
	mu      sync.Mutex
	entries map[int64]*entry
}

// NewTable creates an empty session table.
func NewTable() *Table {
	return &Table{entries: make(map[int64]*entry)}
}

// acquire returns the locked entry for requesterID. When create is set a
// missing entry is created in the Idle state; otherwise nil is returned.
func (t *Table) acquire(requesterID int64, create bool) *entry {
	for {
		t.mu.Lock()
		e, ok := t.entries[requesterID]
		if !ok {
			if !create {
				t.mu.Unlock()
				return nil
			}
			e = &entry{session: Session{RequesterID: requesterID, State: Idle}}
			t.entries[requesterID] = e
		}
		t.mu.Unlock()

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// release stores s and unlocks e. A session that is no longer active is
// removed from the table. The caller must hold e.mu.
func (t *Table) release(e *entry, s Session) {
	defer e.mu.Unlock()

	if s.State.Active() {
		e.session = s
		return
	}

	t.mu.Lock()
	if t.entries[s.RequesterID] == e {
		delete(t.entries, s.RequesterID)
	}
	t.mu.Unlock()
	e.session = Session{}
	e.removed = true
}

// Lookup returns a copy of the requester's session. It waits for any event
// currently being handled for that requester.
func (t *Table) Lookup(requesterID int64) (Session, bool) {
	e := t.acquire(requesterID, false)
	if e == nil {
		return Session{}, false
	}
	defer e.mu.Unlock()
	if !e.session.State.Active() {
		return Session{}, false
	}
	return e.session, true
}

// Destroy drops the requester's session, if any.
func (t *Table) Destroy(requesterID int64) bool {
	e := t.acquire(requesterID, false)
	if e == nil {
		return false
	}
	active := e.session.State.Active()
	t.release(e, Session{RequesterID: requesterID, State: Terminated})
	return active
}

// Len returns the number of sessions in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
