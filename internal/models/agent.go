package models

import (
	"time"

	"github.com/google/uuid"
)

// Character is the configuration an agent runtime is started with.
type Character struct {
	Name     string         `json:"name"`
	Username string         `json:"username,omitempty"`
	Bio      []string       `json:"bio,omitempty"`
	System   string         `json:"system,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// Agent represents a registered agent runtime.
type Agent struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Character *Character `json:"character,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Relationship is a directed, tagged link between two entities.
type Relationship struct {
	ID             uuid.UUID      `json:"id"`
	SourceEntityID string         `json:"source_entity_id"`
	TargetEntityID string         `json:"target_entity_id"`
	Tags           []string       `json:"tags"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
