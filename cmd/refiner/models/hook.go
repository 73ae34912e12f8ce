package models

import "time"

// Hook is a rhetorical opening pattern
type Hook struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Instruction string `yaml:"instruction" json:"instruction"`
}

// HookUsage records which hook a post used
// Maps to: hook_usage table
type HookUsage struct {
	OwnerID string    `db:"owner_id"`
	HookID  string    `db:"hook_id"`
	UsedAt  time.Time `db:"used_at"`
}
