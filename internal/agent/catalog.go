package agent

import (
	"fmt"

	"github.com/haasonsaas/agentbridge/pkg/models"
)

// Catalog is the ordered set of configured agents.
type Catalog struct {
	agents []models.Agent
	byID   map[string]int
}

// NewCatalog indexes agents by id. Order is preserved; the first agent is
// the default for new sessions.
func NewCatalog(agents []models.Agent) (*Catalog, error) {
	c := &Catalog{
		agents: make([]models.Agent, 0, len(agents)),
		byID:   make(map[string]int, len(agents)),
	}
	for _, a := range agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %q: missing id", a.Name)
		}
		if _, dup := c.byID[a.ID]; dup {
			return nil, fmt.Errorf("agent %q: duplicate id", a.ID)
		}
		a.Permissions = append([]string(nil), a.Permissions...)
		c.byID[a.ID] = len(c.agents)
		c.agents = append(c.agents, a)
	}
	return c, nil
}

// Get returns a copy of the agent with the given id.
func (c *Catalog) Get(id string) (*models.Agent, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	a := c.agents[i]
	return &a, true
}

// Default returns the first configured agent.
func (c *Catalog) Default() (*models.Agent, bool) {
	if c == nil || len(c.agents) == 0 {
		return nil, false
	}
	a := c.agents[0]
	return &a, true
}

// List returns all agents in configuration order.
func (c *Catalog) List() []models.Agent {
	if c == nil {
		return nil
	}
	return append([]models.Agent(nil), c.agents...)
}
