// Package reconcile maintains the display-ready ordered message list for
// a conversation, merging asynchronous stream events with optimistic
// local inserts.
package reconcile

import (
	"time"

	"github.com/google/uuid"

	"streamchat/internal/model"
)

// Event is one message-shaped stream event. Partial agent events carry
// only the new text fragment; final agent events carry the full
// authoritative text. User events are server echoes of locally sent
// messages and carry the client's correlation ref when available.
type Event struct {
	ID        string     `json:"id"`
	SessionID string     `json:"session_id"`
	ClientRef string     `json:"client_ref,omitempty"`
	Role      model.Role `json:"role"`
	Text      string     `json:"text"`
	Partial   bool       `json:"partial"`
}

// Message is the display form of a chat message. Partial is true while
// more fragments are expected; Loading is true while an in-progress
// indicator should show.
type Message struct {
	ID        string
	SessionID string
	ClientRef string
	Role      model.Role
	Text      string
	Partial   bool
	Loading   bool
	Timestamp time.Time
}

// Reconciler owns the ordered message list of the active conversation.
// It is not safe for concurrent use; callers serialize all access
// (the conversation controller is its single mutator).
type Reconciler struct {
	sessionID string
	messages  []Message
	index     map[string]int // message id -> position in messages
	streaming bool
	now       func() time.Time
}

func New() *Reconciler {
	return &Reconciler{
		index: make(map[string]int),
		now:   time.Now,
	}
}

// Bind links the reconciler to a session. Incoming events for the
// session carry its id; locally appended messages adopt it.
func (r *Reconciler) Bind(sessionID string) {
	r.sessionID = sessionID
}

func (r *Reconciler) SessionID() string {
	return r.sessionID
}

// Streaming reports whether an agent response is currently being
// streamed. Input-disabling logic keys off this flag.
func (r *Reconciler) Streaming() bool {
	return r.streaming
}

// Messages returns a copy of the list in arrival order.
func (r *Reconciler) Messages() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *Reconciler) Len() int {
	return len(r.messages)
}

// AppendLocal inserts a new message at the tail immediately, before any
// network confirmation. The returned message carries a fresh client
// correlation ref for matching the server echo.
func (r *Reconciler) AppendLocal(role model.Role, text string) Message {
	msg := Message{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		ClientRef: uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: r.now(),
	}
	r.insert(msg)
	return msg
}

// Apply merges one stream event into the list. Fragments for a known id
// update in place and never duplicate; updates do not change position.
func (r *Reconciler) Apply(ev Event) {
	switch {
	case ev.Role == model.RoleUser:
		r.applyEcho(ev)
	case ev.Role == model.RoleAgent && ev.Partial:
		r.applyFragment(ev)
	case ev.Role == model.RoleAgent:
		r.applyFinal(ev)
	default:
		if _, ok := r.index[ev.ID]; !ok {
			r.insert(r.fromEvent(ev, false, false))
		}
	}
}

// applyEcho reconciles a server echo of a user message. A pending local
// message with the same correlation ref adopts the server id in place;
// otherwise an id match is a duplicate and anything else is a distinct
// message.
func (r *Reconciler) applyEcho(ev Event) {
	if _, ok := r.index[ev.ID]; ok {
		return
	}
	if ev.ClientRef != "" {
		for i := range r.messages {
			if r.messages[i].Role == model.RoleUser && r.messages[i].ClientRef == ev.ClientRef {
				delete(r.index, r.messages[i].ID)
				r.messages[i].ID = ev.ID
				if ev.Text != "" {
					r.messages[i].Text = ev.Text
				}
				r.index[ev.ID] = i
				return
			}
		}
	}
	r.insert(r.fromEvent(ev, false, false))
}

func (r *Reconciler) applyFragment(ev Event) {
	if i, ok := r.index[ev.ID]; ok {
		r.messages[i].Text += ev.Text
		r.messages[i].Partial = true
		r.messages[i].Loading = true
	} else {
		r.insert(r.fromEvent(ev, true, true))
	}
	r.streaming = true
}

func (r *Reconciler) applyFinal(ev Event) {
	if i, ok := r.index[ev.ID]; ok {
		r.messages[i].Text = ev.Text
		r.messages[i].Partial = false
		r.messages[i].Loading = false
	} else {
		r.insert(r.fromEvent(ev, false, false))
	}
	r.streaming = false
}

// FinalizeOnStreamEnd force-finalizes the trailing agent message when
// the stream closed without an explicit final event, so nothing is left
// stuck in a loading state.
func (r *Reconciler) FinalizeOnStreamEnd() {
	r.streaming = false
	if n := len(r.messages); n > 0 {
		last := &r.messages[n-1]
		if last.Role == model.RoleAgent && last.Partial {
			last.Partial = false
			last.Loading = false
		}
	}
}

// ForceStop is the user-initiated cancellation path. It is purely
// local: the channel itself stays open, only the trailing partial
// message and the streaming flag are settled.
func (r *Reconciler) ForceStop() {
	r.FinalizeOnStreamEnd()
}

// Fail surfaces a stream fault as a synthetic system message and
// finalizes any trailing partial message, so the UI never shows an
// indefinitely spinning bubble after a channel error.
func (r *Reconciler) Fail(err error) {
	r.FinalizeOnStreamEnd()
	if err == nil {
		return
	}
	r.insert(Message{
		ID:        uuid.NewString(),
		SessionID: r.sessionID,
		Role:      model.RoleSystem,
		Text:      err.Error(),
		Timestamp: r.now(),
	})
}

// Clear empties the list and resets session linkage and the streaming
// flag. It is the only way messages are removed.
func (r *Reconciler) Clear() {
	r.messages = nil
	r.index = make(map[string]int)
	r.sessionID = ""
	r.streaming = false
}

// Replace swaps in a loaded history, keeping the session binding.
func (r *Reconciler) Replace(history []Message) {
	r.messages = nil
	r.index = make(map[string]int)
	r.streaming = false
	for _, msg := range history {
		if _, ok := r.index[msg.ID]; ok {
			continue
		}
		r.insert(msg)
	}
}

func (r *Reconciler) insert(msg Message) {
	r.index[msg.ID] = len(r.messages)
	r.messages = append(r.messages, msg)
}

func (r *Reconciler) fromEvent(ev Event, partial, loading bool) Message {
	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = r.sessionID
	}
	return Message{
		ID:        ev.ID,
		SessionID: sessionID,
		ClientRef: ev.ClientRef,
		Role:      ev.Role,
		Text:      ev.Text,
		Partial:   partial,
		Loading:   loading,
		Timestamp: r.now(),
	}
}
