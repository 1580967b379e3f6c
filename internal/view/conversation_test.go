package view

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamchat/internal/model"
	"streamchat/internal/reconcile"
	"streamchat/internal/stream"
)

type memSessionStore struct {
	mu         sync.Mutex
	nextID     int
	createErr  error
	historyErr error
	history    map[string][]model.Message
	created    []string
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{history: make(map[string][]model.Message)}
}

func (s *memSessionStore) CreateSession(_ context.Context, _, _, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return "", s.createErr
	}
	s.nextID++
	id := fmt.Sprintf("session-%d", s.nextID)
	s.created = append(s.created, id)
	return id, nil
}

func (s *memSessionStore) History(_ context.Context, _, sessionID string, _ int) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history[sessionID], nil
}

func (s *memSessionStore) DeleteSession(_ context.Context, _, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, sessionID)
	return nil
}

type fakeSender struct {
	mu      sync.Mutex
	err     error
	sends   []string
	refs    []string
	session string
}

func (f *fakeSender) Send(_ context.Context, _, sessionID, text, clientRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sends = append(f.sends, text)
	f.refs = append(f.refs, clientRef)
	f.session = sessionID
	return nil
}

func (f *fakeSender) lastRef() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.refs) == 0 {
		return ""
	}
	return f.refs[len(f.refs)-1]
}

type fakeDirectory struct {
	agents []model.Agent
}

func (f fakeDirectory) ListAgents(context.Context) ([]model.Agent, error) {
	return f.agents, nil
}

type memPrefs struct {
	mu   sync.Mutex
	last map[string]string
}

func newMemPrefs() *memPrefs { return &memPrefs{last: make(map[string]string)} }

func (p *memPrefs) LastAgent(_ context.Context, userID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last[userID], nil
}

func (p *memPrefs) SetLastAgent(_ context.Context, userID, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last[userID] = agentID
	return nil
}

type failingSource struct{}

func (failingSource) Subscribe(string) (Subscription, error) {
	return nil, errors.New("refused")
}

type fixture struct {
	conv     *Conversation
	sessions *memSessionStore
	sender   *fakeSender
	prefs    *memPrefs
	hub      *stream.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessions := newMemSessionStore()
	sender := &fakeSender{}
	prefs := newMemPrefs()
	hub := stream.NewHub(16)
	dir := fakeDirectory{agents: []model.Agent{
		{ID: "helper", Name: "Helper"},
		{ID: "critic", Name: "Critic"},
	}}
	conv := NewConversation("user-1", sessions, sender, dir, prefs, HubSource{Hub: hub})
	t.Cleanup(conv.Close)
	require.NoError(t, conv.Start(context.Background()))
	return &fixture{conv: conv, sessions: sessions, sender: sender, prefs: prefs, hub: hub}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestStart_AgentSelection(t *testing.T) {
	t.Run("falls back to first agent", func(t *testing.T) {
		f := newFixture(t)
		assert.Equal(t, "helper", f.conv.AgentID())
	})

	t.Run("restores persisted preference", func(t *testing.T) {
		sessions := newMemSessionStore()
		prefs := newMemPrefs()
		prefs.last["user-1"] = "critic"
		dir := fakeDirectory{agents: []model.Agent{{ID: "helper"}, {ID: "critic"}}}
		conv := NewConversation("user-1", sessions, &fakeSender{}, dir, prefs, HubSource{Hub: stream.NewHub(16)})
		defer conv.Close()

		require.NoError(t, conv.Start(context.Background()))
		assert.Equal(t, "critic", conv.AgentID())
	})

	t.Run("stale preference ignored", func(t *testing.T) {
		prefs := newMemPrefs()
		prefs.last["user-1"] = "retired-agent"
		dir := fakeDirectory{agents: []model.Agent{{ID: "helper"}}}
		conv := NewConversation("user-1", newMemSessionStore(), &fakeSender{}, dir, prefs, HubSource{Hub: stream.NewHub(16)})
		defer conv.Close()

		require.NoError(t, conv.Start(context.Background()))
		assert.Equal(t, "helper", conv.AgentID())
	})

	t.Run("empty directory", func(t *testing.T) {
		conv := NewConversation("user-1", newMemSessionStore(), &fakeSender{}, fakeDirectory{}, newMemPrefs(), HubSource{Hub: stream.NewHub(16)})
		assert.ErrorIs(t, conv.Start(context.Background()), ErrNoAgents)
	})
}

func TestSend_OptimisticThenStreamedReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "hi"))

	msgs := f.conv.Messages()
	require.Len(t, msgs, 1, "local message visible before any stream event")
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "hi", msgs[0].Text)

	sessionID := f.conv.SessionID()
	require.NotEmpty(t, sessionID, "session created lazily on first send")
	assert.Equal(t, []string{sessionID}, f.sessions.created)

	// Server echo of the user message adopts the server id.
	f.hub.Publish(sessionID, reconcile.Event{
		ID: "srv-u1", SessionID: sessionID, ClientRef: f.sender.lastRef(),
		Role: model.RoleUser, Text: "hi",
	})
	waitFor(t, func() bool { return f.conv.Messages()[0].ID == "srv-u1" })
	assert.Len(t, f.conv.Messages(), 1, "echo did not duplicate")

	// Streamed agent reply.
	f.hub.Publish(sessionID, reconcile.Event{ID: "srv-a1", SessionID: sessionID, Role: model.RoleAgent, Text: "He", Partial: true})
	f.hub.Publish(sessionID, reconcile.Event{ID: "srv-a1", SessionID: sessionID, Role: model.RoleAgent, Text: "llo", Partial: true})
	waitFor(t, func() bool {
		msgs := f.conv.Messages()
		return len(msgs) == 2 && msgs[1].Text == "Hello"
	})
	assert.True(t, f.conv.Streaming())

	f.hub.Publish(sessionID, reconcile.Event{ID: "srv-a1", SessionID: sessionID, Role: model.RoleAgent, Text: "Hello there", Partial: false})
	waitFor(t, func() bool { return !f.conv.Streaming() })
	msgs = f.conv.Messages()
	assert.Equal(t, "Hello there", msgs[1].Text)
	assert.False(t, msgs[1].Partial)
}

func TestSend_SecondSendReusesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "first"))
	require.NoError(t, f.conv.Send(ctx, "second"))

	assert.Len(t, f.sessions.created, 1)
	assert.Len(t, f.conv.Messages(), 2)
}

func TestSend_FailureKeepsOptimisticInsert(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("broker unavailable")

	err := f.conv.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrSendFailed)

	msgs := f.conv.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "hi", msgs[0].Text, "optimistic insert is not rolled back")
	assert.Equal(t, model.RoleSystem, msgs[1].Role)
	assert.Equal(t, "broker unavailable", msgs[1].Text)
}

func TestSend_EmptyRejected(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.conv.Send(context.Background(), "   "), ErrMessageEmpty)
	assert.Empty(t, f.conv.Messages())
}

func TestSend_ConnectFailureIsNotice(t *testing.T) {
	sessions := newMemSessionStore()
	sender := &fakeSender{}
	dir := fakeDirectory{agents: []model.Agent{{ID: "helper"}}}
	conv := NewConversation("user-1", sessions, sender, dir, newMemPrefs(), failingSource{})
	defer conv.Close()
	require.NoError(t, conv.Start(context.Background()))

	err := conv.Send(context.Background(), "hi")
	assert.ErrorIs(t, err, ErrChannelConnect)
	assert.Equal(t, []string{"hi"}, sender.sends, "message still goes out")
}

func TestStreamError_SurfacedAsSystemMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	sessionID := f.conv.SessionID()

	f.hub.Publish(sessionID, reconcile.Event{ID: "a1", SessionID: sessionID, Role: model.RoleAgent, Text: "par", Partial: true})
	waitFor(t, func() bool { return f.conv.Streaming() })

	f.hub.Fail(sessionID, errors.New("generation failed"))

	waitFor(t, func() bool {
		msgs := f.conv.Messages()
		return len(msgs) == 3 && msgs[2].Role == model.RoleSystem
	})
	msgs := f.conv.Messages()
	assert.False(t, msgs[1].Partial, "partial reply finalized on fault")
	assert.Equal(t, "generation failed", msgs[2].Text)
	assert.False(t, f.conv.Streaming())
}

func TestStreamEnd_FinalizesTrailingPartial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	sessionID := f.conv.SessionID()

	f.hub.Publish(sessionID, reconcile.Event{ID: "a1", SessionID: sessionID, Role: model.RoleAgent, Text: "half a rep", Partial: true})
	waitFor(t, func() bool { return f.conv.Streaming() })

	f.hub.EndStream(sessionID)

	waitFor(t, func() bool { return !f.conv.Streaming() })
	msgs := f.conv.Messages()
	require.Len(t, msgs, 2, "clean end adds no error message")
	assert.False(t, msgs[1].Partial)
	assert.Equal(t, "half a rep", msgs[1].Text)
}

func TestStop_LocalOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	sessionID := f.conv.SessionID()
	f.hub.Publish(sessionID, reconcile.Event{ID: "a1", SessionID: sessionID, Role: model.RoleAgent, Text: "thi", Partial: true})
	waitFor(t, func() bool { return f.conv.Streaming() })

	f.conv.Stop()

	assert.False(t, f.conv.Streaming())
	msgs := f.conv.Messages()
	assert.False(t, msgs[len(msgs)-1].Partial)
}

func TestSelectAgent_ClearsAndPersists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	oldSession := f.conv.SessionID()
	require.NotEmpty(t, oldSession)

	require.NoError(t, f.conv.SelectAgent(ctx, "critic"))

	assert.Empty(t, f.conv.Messages())
	assert.Empty(t, f.conv.SessionID())
	assert.Equal(t, "critic", f.conv.AgentID())
	assert.Equal(t, "critic", f.prefs.last["user-1"])

	// Events for the old session must not leak into the new state.
	f.hub.Publish(oldSession, reconcile.Event{ID: "stale", SessionID: oldSession, Role: model.RoleAgent, Text: "late", Partial: true})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, f.conv.Messages())

	require.NoError(t, f.conv.Send(ctx, "again"))
	assert.NotEqual(t, oldSession, f.conv.SessionID())
}

func TestDeleteSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.conv.Send(ctx, "hi"))
	sessionID := f.conv.SessionID()
	f.sessions.history[sessionID] = []model.Message{{ID: "h1", SessionID: sessionID}}

	require.NoError(t, f.conv.DeleteSession(ctx))

	assert.Empty(t, f.conv.Messages())
	assert.Empty(t, f.conv.SessionID())
	f.sessions.mu.Lock()
	_, exists := f.sessions.history[sessionID]
	f.sessions.mu.Unlock()
	assert.False(t, exists)

	// Without an active session the call is a no-op.
	assert.NoError(t, f.conv.DeleteSession(ctx))
}

func TestLoadHistory(t *testing.T) {
	t.Run("replaces list", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		require.NoError(t, f.conv.Send(ctx, "hi"))
		sessionID := f.conv.SessionID()
		f.sessions.history[sessionID] = []model.Message{
			{ID: "h1", SessionID: sessionID, Role: model.RoleUser, Content: "hello"},
			{ID: "h2", SessionID: sessionID, Role: model.RoleAgent, Content: "hi there"},
		}

		require.NoError(t, f.conv.LoadHistory(ctx, 50))

		msgs := f.conv.Messages()
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello", msgs[0].Text)
		assert.Equal(t, sessionID, f.conv.SessionID())
	})

	t.Run("failure leaves list unchanged", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		require.NoError(t, f.conv.Send(ctx, "hi"))
		f.sessions.historyErr = errors.New("db down")

		err := f.conv.LoadHistory(ctx, 50)
		assert.ErrorIs(t, err, ErrHistoryLoad)
		require.Len(t, f.conv.Messages(), 1)
		assert.Equal(t, "hi", f.conv.Messages()[0].Text)
	})

	t.Run("no session is a no-op", func(t *testing.T) {
		f := newFixture(t)
		assert.NoError(t, f.conv.LoadHistory(context.Background(), 50))
	})
}
