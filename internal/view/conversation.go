// Package view holds the client-side conversation controller: the
// single mutator of the reconciler and the owner of the one live
// stream subscription.
package view

import (
	"context"
	"errors"
	"strings"
	"sync"

	"streamchat/internal/model"
	"streamchat/internal/reconcile"
	"streamchat/internal/stream"
)

var (
	ErrNoAgents       = errors.New("no agents available")
	ErrNoAgent        = errors.New("no agent selected")
	ErrMessageEmpty   = errors.New("message content is empty")
	ErrSendFailed     = errors.New("send message failed")
	ErrChannelConnect = errors.New("stream channel connect failed")
	ErrHistoryLoad    = errors.New("history load failed")
)

// SessionStore is the external session collaborator.
type SessionStore interface {
	CreateSession(ctx context.Context, userID, agentID, title string) (string, error)
	History(ctx context.Context, userID, sessionID string, limit int) ([]model.Message, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// SendChannel delivers outgoing messages. Fire-and-forget: the agent
// reply arrives via the stream, never through the send call itself.
type SendChannel interface {
	Send(ctx context.Context, userID, sessionID, text, clientRef string) error
}

// AgentDirectory lists the selectable agents in display order.
type AgentDirectory interface {
	ListAgents(ctx context.Context) ([]model.Agent, error)
}

// PreferenceStore persists the last selected agent per user.
type PreferenceStore interface {
	LastAgent(ctx context.Context, userID string) (string, error)
	SetLastAgent(ctx context.Context, userID, agentID string) error
}

// Subscription is the owned handle on a session's event stream.
type Subscription interface {
	Events() <-chan reconcile.Event
	Err() error
	Cancel()
}

// StreamSource establishes one subscription per session.
type StreamSource interface {
	Subscribe(sessionID string) (Subscription, error)
}

// HubSource adapts the in-process hub to the StreamSource port.
type HubSource struct {
	Hub *stream.Hub
}

func (s HubSource) Subscribe(sessionID string) (Subscription, error) {
	return s.Hub.Subscribe(sessionID), nil
}

// Conversation drives one user's active chat: agent selection, lazy
// session creation, optimistic sends, and the event pump that feeds
// the reconciler. All reconciler access is serialized through mu.
type Conversation struct {
	userID   string
	sessions SessionStore
	sender   SendChannel
	agents   AgentDirectory
	prefs    PreferenceStore
	source   StreamSource

	mu       sync.Mutex
	rec      *reconcile.Reconciler
	agentID  string
	sub      Subscription
	pumpDone chan struct{}
}

func NewConversation(
	userID string,
	sessions SessionStore,
	sender SendChannel,
	agents AgentDirectory,
	prefs PreferenceStore,
	source StreamSource,
) *Conversation {
	return &Conversation{
		userID:   userID,
		sessions: sessions,
		sender:   sender,
		agents:   agents,
		prefs:    prefs,
		source:   source,
		rec:      reconcile.New(),
	}
}

// Start restores the last selected agent, falling back to the first
// directory entry. No session is created until the first send.
func (c *Conversation) Start(ctx context.Context) error {
	agents, err := c.agents.ListAgents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return ErrNoAgents
	}

	agentID := ""
	if c.prefs != nil {
		if last, err := c.prefs.LastAgent(ctx, c.userID); err == nil && last != "" {
			for _, a := range agents {
				if a.ID == last {
					agentID = last
					break
				}
			}
		}
	}
	if agentID == "" {
		agentID = agents[0].ID
	}

	c.mu.Lock()
	c.agentID = agentID
	c.mu.Unlock()
	return nil
}

// SelectAgent switches the active agent: the prior subscription is
// cancelled before anything else, the list is cleared, and the choice
// is persisted. A new session is created lazily on the next send.
func (c *Conversation) SelectAgent(ctx context.Context, agentID string) error {
	c.dropSubscription()

	c.mu.Lock()
	c.agentID = agentID
	c.rec.Clear()
	c.mu.Unlock()

	if c.prefs != nil {
		if err := c.prefs.SetLastAgent(ctx, c.userID, agentID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Conversation) AgentID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentID
}

// Send appends the user message optimistically, then delivers it over
// the send channel. A send failure surfaces inline as a synthetic
// error message and never rolls back the optimistic insert. The
// returned error is a notice; the list already reflects the outcome.
func (c *Conversation) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrMessageEmpty
	}

	c.mu.Lock()
	if c.agentID == "" {
		c.mu.Unlock()
		return ErrNoAgent
	}
	local := c.rec.AppendLocal(model.RoleUser, text)
	c.mu.Unlock()

	sessionID, connectErr, err := c.ensureSession(ctx, text)
	if err != nil {
		c.fail(err)
		return ErrSendFailed
	}

	if err := c.sender.Send(ctx, c.userID, sessionID, text, local.ClientRef); err != nil {
		c.fail(err)
		return ErrSendFailed
	}
	if connectErr != nil {
		// Message went out but no reply can arrive; retried on the
		// next explicit trigger.
		return ErrChannelConnect
	}
	return nil
}

// Stop is the user-initiated cancellation: purely local, the channel
// stays open and remote generation is not guaranteed to halt.
func (c *Conversation) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.ForceStop()
}

// Clear empties the conversation and detaches from its stream.
func (c *Conversation) Clear() {
	c.dropSubscription()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Clear()
}

// DeleteSession removes the active session remotely and clears the
// conversation. Without an active session it is a no-op.
func (c *Conversation) DeleteSession(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.rec.SessionID()
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	c.dropSubscription()
	if err := c.sessions.DeleteSession(ctx, c.userID, sessionID); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Clear()
	return nil
}

// LoadHistory replaces the list with the stored session history. On
// failure the list is left unchanged.
func (c *Conversation) LoadHistory(ctx context.Context, limit int) error {
	c.mu.Lock()
	sessionID := c.rec.SessionID()
	c.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	stored, err := c.sessions.History(ctx, c.userID, sessionID, limit)
	if err != nil {
		return ErrHistoryLoad
	}

	history := make([]reconcile.Message, 0, len(stored))
	for _, m := range stored {
		history = append(history, reconcile.Message{
			ID:        m.ID,
			SessionID: m.SessionID,
			ClientRef: m.ClientRef,
			Role:      m.Role,
			Text:      m.Content,
			Timestamp: m.CreatedAt,
		})
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Replace(history)
	return nil
}

func (c *Conversation) Messages() []reconcile.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Messages()
}

func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.Streaming()
}

func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec.SessionID()
}

// Close cancels the subscription and waits for the pump to drain.
func (c *Conversation) Close() {
	c.dropSubscription()
}

// ensureSession lazily creates the session on first send and
// establishes the stream subscription. A connect failure is reported
// separately: the session is still usable for sending.
func (c *Conversation) ensureSession(ctx context.Context, title string) (sessionID string, connectErr, err error) {
	c.mu.Lock()
	sessionID = c.rec.SessionID()
	agentID := c.agentID
	subscribed := c.sub != nil
	c.mu.Unlock()

	if sessionID == "" {
		sessionID, err = c.sessions.CreateSession(ctx, c.userID, agentID, title)
		if err != nil {
			return "", nil, err
		}
		c.mu.Lock()
		c.rec.Bind(sessionID)
		c.mu.Unlock()
		subscribed = false
	}

	if !subscribed {
		if cerr := c.subscribe(sessionID); cerr != nil {
			return sessionID, ErrChannelConnect, nil
		}
	}
	return sessionID, nil, nil
}

// subscribe replaces the owned subscription, cancelling any prior one
// first so no stale session's events can leak in.
func (c *Conversation) subscribe(sessionID string) error {
	c.dropSubscription()

	sub, err := c.source.Subscribe(sessionID)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.sub = sub
	c.pumpDone = done
	c.mu.Unlock()

	go c.pump(sub, done)
	return nil
}

// pump drains the subscription into the reconciler one event at a
// time, then settles the tail according to how the stream ended.
func (c *Conversation) pump(sub Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.Events() {
		c.mu.Lock()
		if c.rec.SessionID() == ev.SessionID || ev.SessionID == "" {
			c.rec.Apply(ev)
		}
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub == sub {
		c.sub = nil
	}
	if err := sub.Err(); err != nil {
		c.rec.Fail(err)
	} else {
		c.rec.FinalizeOnStreamEnd()
	}
}

func (c *Conversation) dropSubscription() {
	c.mu.Lock()
	sub := c.sub
	done := c.pumpDone
	c.sub = nil
	c.pumpDone = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if done != nil {
		<-done
	}
}

func (c *Conversation) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rec.Fail(err)
}
