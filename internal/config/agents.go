package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentSeed is one directory entry from the agents seed file.
type AgentSeed struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Model   string `yaml:"model"`
	System  string `yaml:"system"`
	Default bool   `yaml:"default"`
}

type agentSeedFile struct {
	Agents []AgentSeed `yaml:"agents"`
}

// LoadAgentSeeds reads the agent directory seed file. A missing file
// is not an error; the directory then holds whatever is already in
// the database.
func LoadAgentSeeds(path string) ([]AgentSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read agent seed file failed: %w", err)
	}

	var parsed agentSeedFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse agent seed file failed: %w", err)
	}

	for i, seed := range parsed.Agents {
		if seed.ID == "" {
			return nil, fmt.Errorf("agent seed %d is missing an id", i)
		}
		if seed.Name == "" {
			parsed.Agents[i].Name = seed.ID
		}
	}
	return parsed.Agents, nil
}
