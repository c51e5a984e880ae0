package core

import (
	"sync"
	"time"
)

// entry is one appended message plus the ordered set of recipients it was
// delivered to (excluding the speaker).
type entry struct {
	msg        Message
	recipients []string
	delivered  map[string]struct{}
}

func (e *entry) has(name string) bool {
	_, ok := e.delivered[name]
	return ok
}

// Transcript is the append-only message store owned by one coordinator. It
// keeps the shared log in sequence order and, per participant, the receipt
// order of the messages that participant sent or received. Projected views
// are cached and invalidated for every participant touched by an append.
//
// A Transcript is safe for concurrent use; within one conversation access is
// sequential, the lock only protects observers reading from other goroutines.
type Transcript struct {
	mu       sync.RWMutex
	entries  []*entry
	bySeq    map[int64]*entry
	receipts map[string][]*entry
	order    []string
	lastSeq  int64

	viewCache map[string][]Message
	dyadCache map[string]map[string][]Message
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		bySeq:     make(map[int64]*entry),
		receipts:  make(map[string][]*entry),
		viewCache: make(map[string][]Message),
		dyadCache: make(map[string]map[string][]Message),
	}
}

// Append stores msg and delivers it to the speaker and every recipient. It
// fails with *DuplicateSequenceError when msg.Sequence does not strictly
// increase.
func (t *Transcript) Append(msg Message, recipients ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.appendLocked(msg, recipients)
}

// Deliver stamps a missing ID, sequence and timestamp on msg, appends it and
// returns the stored copy.
func (t *Transcript) Deliver(msg Message, recipients ...string) (Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg.ID == "" {
		msg.ID = NewID()
	}
	if msg.Sequence == 0 {
		msg.Sequence = t.lastSeq + 1
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	if msg.Role == "" {
		msg.Role = RoleAssistant
	}

	if err := t.appendLocked(msg, recipients); err != nil {
		return Message{}, err
	}
	return msg.Clone(), nil
}

func (t *Transcript) appendLocked(msg Message, recipients []string) error {
	if msg.Sequence <= t.lastSeq {
		return &DuplicateSequenceError{Sequence: msg.Sequence, Last: t.lastSeq}
	}
	if msg.ID == "" {
		msg.ID = NewID()
	}

	e := &entry{msg: msg.Clone(), delivered: make(map[string]struct{}, len(recipients))}
	t.entries = append(t.entries, e)
	t.bySeq[msg.Sequence] = e
	t.lastSeq = msg.Sequence

	t.receiveLocked(msg.Speaker, e)
	for _, r := range recipients {
		if r == msg.Speaker || e.has(r) {
			continue
		}
		e.delivered[r] = struct{}{}
		e.recipients = append(e.recipients, r)
		t.receiveLocked(r, e)
	}
	return nil
}

// Forward delivers an already appended message to additional recipients.
// Recipients that already hold the message are skipped.
func (t *Transcript) Forward(sequence int64, recipients ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.bySeq[sequence]
	if !ok {
		return NewConfigError("transcript", "unknown sequence %d", sequence)
	}
	for _, r := range recipients {
		if r == e.msg.Speaker || e.has(r) {
			continue
		}
		e.delivered[r] = struct{}{}
		e.recipients = append(e.recipients, r)
		t.receiveLocked(r, e)
	}
	return nil
}

func (t *Transcript) receiveLocked(name string, e *entry) {
	if name == "" {
		return
	}
	if _, seen := t.receipts[name]; !seen {
		t.order = append(t.order, name)
	}
	t.receipts[name] = append(t.receipts[name], e)
	delete(t.viewCache, name)
	delete(t.dyadCache, name)
}

// ViewFor returns exactly the messages the agent sent or received, in
// receipt order.
func (t *Transcript) ViewFor(agent string) []Message {
	t.mu.RLock()
	if cached, ok := t.viewCache[agent]; ok {
		t.mu.RUnlock()
		return cloneMessages(cached)
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	view := make([]Message, 0, len(t.receipts[agent]))
	for _, e := range t.receipts[agent] {
		view = append(view, e.msg)
	}
	t.viewCache[agent] = view
	return cloneMessages(view)
}

// Dyad returns the messages exchanged between a and b as seen from a's view:
// messages a sent to b and messages b sent to a, in a's receipt order.
func (t *Transcript) Dyad(a, b string) []Message {
	t.mu.RLock()
	if byPeer, ok := t.dyadCache[a]; ok {
		if cached, ok := byPeer[b]; ok {
			t.mu.RUnlock()
			return cloneMessages(cached)
		}
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	var view []Message
	for _, e := range t.receipts[a] {
		switch {
		case e.msg.Speaker == a && e.has(b):
			view = append(view, e.msg)
		case e.msg.Speaker == b && e.has(a):
			view = append(view, e.msg)
		}
	}
	if t.dyadCache[a] == nil {
		t.dyadCache[a] = make(map[string][]Message)
	}
	t.dyadCache[a][b] = view
	return cloneMessages(view)
}

// Messages returns the shared log in sequence order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.msg.Clone()
	}
	return out
}

// Tail returns the last n messages of the shared log. n <= 0 yields nil.
func (t *Transcript) Tail(n int) []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	start := len(t.entries) - n
	if start < 0 {
		start = 0
	}
	out := make([]Message, 0, len(t.entries)-start)
	for _, e := range t.entries[start:] {
		out = append(out, e.msg.Clone())
	}
	return out
}

// Last returns the most recent message, if any.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return Message{}, false
	}
	return t.entries[len(t.entries)-1].msg.Clone(), true
}

// Recipients returns the recipients a message was delivered to.
func (t *Transcript) Recipients(sequence int64) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.bySeq[sequence]
	if !ok {
		return nil
	}
	return append([]string(nil), e.recipients...)
}

// Participants returns every speaker or recipient in first-seen order.
func (t *Transcript) Participants() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]string(nil), t.order...)
}

// Len returns the number of appended messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// LastSequence returns the sequence of the most recent append (0 when empty).
func (t *Transcript) LastSequence() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeq
}

// NextSequence returns the next valid sequence number.
func (t *Transcript) NextSequence() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeq + 1
}

// Reset drops every message and cached view.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.bySeq = make(map[int64]*entry)
	t.receipts = make(map[string][]*entry)
	t.order = nil
	t.lastSeq = 0
	t.viewCache = make(map[string][]Message)
	t.dyadCache = make(map[string]map[string][]Message)
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	for i, m := range in {
		out[i] = m.Clone()
	}
	return out
}
