package app

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"streamchat/internal/ai"
	"streamchat/internal/model"
	"streamchat/internal/reconcile"
	"streamchat/internal/repository"
	"streamchat/internal/stream"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrSessionNotFound = errors.New("session not found")
	ErrAgentNotFound   = errors.New("agent not found")
	ErrMessageEmpty    = errors.New("message content is empty")
	ErrLLMConfig       = errors.New("llm config is invalid")
	ErrMessageEnqueue  = errors.New("message enqueue failed")
)

type ChatService struct {
	sessionRepo  *repository.SessionRepository
	messageRepo  *repository.MessageRepository
	agentRepo    *repository.AgentRepository
	publisher    AsyncMessagePublisher
	historyCache HistoryCache
	hub          *stream.Hub
	llmClient    *ai.OpenAICompatibleClient
	defaultLLM   ai.ChatConfig
	maxContext   int
}

type AsyncMessagePublisher interface {
	Publish(ctx context.Context, msg model.Message) error
}

type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID string) error
	MarkDirty(ctx context.Context, sessionID string) error
	IsDirty(ctx context.Context, sessionID string) (bool, error)
}

type CreateSessionInput struct {
	UserID  string
	AgentID string
	Title   string
}

type SendInput struct {
	UserID    string
	SessionID string
	Content   string
	ClientRef string
}

func NewChatService(
	sessionRepo *repository.SessionRepository,
	messageRepo *repository.MessageRepository,
	agentRepo *repository.AgentRepository,
	publisher AsyncMessagePublisher,
	historyCache HistoryCache,
	hub *stream.Hub,
	defaultLLM ai.ChatConfig,
	maxContext int,
) *ChatService {
	if maxContext <= 0 {
		maxContext = 20
	}
	return &ChatService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		agentRepo:    agentRepo,
		publisher:    publisher,
		historyCache: historyCache,
		hub:          hub,
		llmClient:    ai.NewOpenAICompatibleClient(),
		defaultLLM:   defaultLLM,
		maxContext:   maxContext,
	}
}

func (s *ChatService) CreateSession(input CreateSessionInput) (*model.Session, error) {
	if input.UserID == "" || input.AgentID == "" {
		return nil, ErrInvalidInput
	}

	agent, err := s.agentRepo.GetByID(input.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}

	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "New Chat"
	}
	if len(title) > 128 {
		title = title[:128]
	}

	session := &model.Session{
		ID:       uuid.NewString(),
		UserID:   input.UserID,
		AgentID:  input.AgentID,
		Title:    title,
		IsActive: true,
	}
	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *ChatService) ListSessions(userID string) ([]model.Session, error) {
	if userID == "" {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

func (s *ChatService) GetSession(userID, sessionID string) (*model.Session, error) {
	if userID == "" || sessionID == "" {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *ChatService) DeleteSession(userID, sessionID string) error {
	if userID == "" || sessionID == "" {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if err := s.messageRepo.DeleteBySessionID(sessionID); err != nil {
		return err
	}
	if err := s.sessionRepo.DeleteByIDAndUserID(sessionID, userID); err != nil {
		return err
	}
	s.hub.EndStream(sessionID)
	if s.historyCache != nil {
		_ = s.historyCache.DeleteHistory(context.Background(), sessionID)
	}
	return nil
}

func (s *ChatService) GetHistory(userID, sessionID string, limit int) ([]model.Message, error) {
	if userID == "" || sessionID == "" {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	ctx := context.Background()
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID, limit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return messages, nil
}

// Send accepts a user message: it is enqueued for persistence, its
// echo is broadcast to the session's stream, and the agent reply is
// generated in the background. The returned message is the accepted
// user message only; the reply arrives exclusively over the stream.
func (s *ChatService) Send(ctx context.Context, input SendInput) (*model.Message, error) {
	if input.UserID == "" || input.SessionID == "" {
		return nil, ErrInvalidInput
	}
	content := strings.TrimSpace(input.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}

	session, err := s.sessionRepo.GetByIDAndUserID(input.SessionID, input.UserID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	agent, err := s.agentRepo.GetByID(session.AgentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}

	cfg, err := s.resolveLLM(agent)
	if err != nil {
		return nil, err
	}
	promptMessages, err := s.buildPromptMessages(input.SessionID, agent, content)
	if err != nil {
		return nil, err
	}

	userMessage := &model.Message{
		ID:        uuid.NewString(),
		SessionID: input.SessionID,
		UserID:    input.UserID,
		ClientRef: input.ClientRef,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if s.publisher == nil {
		return nil, ErrMessageEnqueue
	}
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, input.SessionID)
		_ = s.historyCache.DeleteHistory(ctx, input.SessionID)
	}
	if err := s.publisher.Publish(ctx, *userMessage); err != nil {
		return nil, ErrMessageEnqueue
	}
	_ = s.sessionRepo.Touch(input.SessionID)

	s.hub.Publish(input.SessionID, reconcile.Event{
		ID:        userMessage.ID,
		SessionID: input.SessionID,
		ClientRef: input.ClientRef,
		Role:      model.RoleUser,
		Text:      content,
	})

	// The reply outlives the request; detach it from the caller's context.
	go s.respond(context.Background(), session, cfg, promptMessages)

	return userMessage, nil
}

// respond streams the agent reply: every fragment goes out under a
// single reply id as a partial event, followed by one authoritative
// final event, and only the final text is persisted.
func (s *ChatService) respond(ctx context.Context, session *model.Session, cfg ai.ChatConfig, prompt []ai.ChatMessage) {
	replyID := uuid.NewString()

	full, err := s.llmClient.StreamComplete(ctx, cfg, prompt, func(chunk string) error {
		s.hub.Publish(session.ID, reconcile.Event{
			ID:        replyID,
			SessionID: session.ID,
			Role:      model.RoleAgent,
			Text:      chunk,
			Partial:   true,
		})
		return nil
	})
	if err != nil {
		log.Printf("agent reply failed for session %s: %v", session.ID, err)
		s.persistAsync(session, model.RoleSystem, "The agent failed to respond: "+err.Error())
		s.hub.Fail(session.ID, err)
		return
	}

	full = strings.TrimSpace(full)
	if full == "" {
		full = "The model returned an empty response."
	}

	s.hub.Publish(session.ID, reconcile.Event{
		ID:        replyID,
		SessionID: session.ID,
		Role:      model.RoleAgent,
		Text:      full,
	})
	s.persistAsync(session, model.RoleAgent, full)
}

func (s *ChatService) persistAsync(session *model.Session, role model.Role, content string) {
	ctx := context.Background()
	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, session.ID)
		_ = s.historyCache.DeleteHistory(ctx, session.ID)
	}
	msg := model.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		log.Printf("enqueue %s message failed for session %s: %v", role, session.ID, err)
	}
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

func (s *ChatService) resolveLLM(agent *model.Agent) (ai.ChatConfig, error) {
	cfg := s.defaultLLM
	if strings.TrimSpace(agent.Model) != "" {
		cfg.Model = strings.TrimSpace(agent.Model)
	}
	if cfg.BaseURL == "" || cfg.APIKey == "" || cfg.Model == "" {
		return ai.ChatConfig{}, ErrLLMConfig
	}
	return cfg, nil
}

func (s *ChatService) buildPromptMessages(sessionID string, agent *model.Agent, currentUserInput string) ([]ai.ChatMessage, error) {
	recent, err := s.messageRepo.ListRecentBySessionID(sessionID, s.maxContext)
	if err != nil {
		return nil, err
	}

	system := strings.TrimSpace(agent.System)
	if system == "" {
		system = "You are a concise and helpful AI assistant."
	}

	messages := make([]ai.ChatMessage, 0, len(recent)+2)
	messages = append(messages, ai.ChatMessage{
		Role:    "system",
		Content: system,
	})
	for _, item := range recent {
		if item.Role == model.RoleSystem {
			// Synthetic error notices are display-only.
			continue
		}
		role := "user"
		if item.Role == model.RoleAgent {
			role = "assistant"
		}
		messages = append(messages, ai.ChatMessage{
			Role:    role,
			Content: item.Content,
		})
	}
	messages = append(messages, ai.ChatMessage{
		Role:    "user",
		Content: currentUserInput,
	})
	return messages, nil
}
