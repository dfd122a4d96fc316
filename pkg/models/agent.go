package models

import "slices"

// Agent is a configured assistant backend: which provider and model answer,
// with which system prompt, and which tool permissions the caller holds.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Provider     string   `json:"provider"`
	Model        string   `json:"model"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Permissions  []string `json:"permissions,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`
}

// HasPermission reports whether the agent was granted perm.
func (a *Agent) HasPermission(perm string) bool {
	if a == nil {
		return false
	}
	return slices.Contains(a.Permissions, perm)
}

// DisplayName returns Name, falling back to ID.
func (a *Agent) DisplayName() string {
	if a == nil {
		return ""
	}
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
