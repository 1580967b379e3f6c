package model

import "time"

// Agent is a directory entry for a selectable chat agent.
// System holds the agent's system prompt and is never serialized out.
type Agent struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	Name      string    `gorm:"size:128;not null" json:"name"`
	Model     string    `gorm:"size:128" json:"model,omitempty"`
	System    string    `gorm:"type:text" json:"-"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
