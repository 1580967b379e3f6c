package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"streamchat/internal/model"
)

type AgentRepository struct {
	db *gorm.DB
}

func NewAgentRepository(db *gorm.DB) *AgentRepository {
	return &AgentRepository{db: db}
}

// Upsert inserts or refreshes a directory entry, keyed by agent id.
// Used when seeding the directory at boot.
func (r *AgentRepository) Upsert(agent *model.Agent) error {
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "model", "system", "is_default", "updated_at"}),
	}).Create(agent).Error
	if err != nil {
		return fmt.Errorf("upsert agent failed: %w", err)
	}
	return nil
}

func (r *AgentRepository) GetByID(agentID string) (*model.Agent, error) {
	var agent model.Agent
	if err := r.db.Where("id = ?", agentID).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get agent failed: %w", err)
	}
	return &agent, nil
}

// List returns the directory in display order: defaults first, then
// by name.
func (r *AgentRepository) List() ([]model.Agent, error) {
	var agents []model.Agent
	if err := r.db.Order("is_default DESC, name ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents failed: %w", err)
	}
	return agents, nil
}
