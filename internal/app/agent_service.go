package app

import (
	"streamchat/internal/model"
	"streamchat/internal/repository"
)

// AgentService exposes the agent directory.
type AgentService struct {
	agentRepo *repository.AgentRepository
}

func NewAgentService(agentRepo *repository.AgentRepository) *AgentService {
	return &AgentService{agentRepo: agentRepo}
}

func (s *AgentService) ListAgents() ([]model.Agent, error) {
	return s.agentRepo.List()
}

func (s *AgentService) GetAgent(agentID string) (*model.Agent, error) {
	if agentID == "" {
		return nil, ErrInvalidInput
	}
	agent, err := s.agentRepo.GetByID(agentID)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrAgentNotFound
	}
	return agent, nil
}

// Seed upserts directory entries loaded from the seed file at boot.
func (s *AgentService) Seed(agents []model.Agent) error {
	for i := range agents {
		if err := s.agentRepo.Upsert(&agents[i]); err != nil {
			return err
		}
	}
	return nil
}
