package multiagent

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"fleetcare/internal/domain"
)

// Registry holds registered agents keyed by routing name. The lock covers map
// access only; callers invoke agents outside it.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]domain.Agent
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]domain.Agent),
		logger: logger,
	}
}

// Register adds an agent. Returns ErrDuplicateName if the name is taken.
func (r *Registry) Register(agent domain.Agent) error {
	if agent == nil || agent.Name() == "" {
		return fmt.Errorf("register: agent with a name is required: %w", domain.ErrInvalidInput)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := agent.Name()
	if _, exists := r.agents[name]; exists {
		return fmt.Errorf("register %q: %w", name, domain.ErrDuplicateName)
	}
	r.agents[name] = agent
	r.logger.Info("agent registered", "agent", name, "agent_id", agent.ID())
	return nil
}

// Get returns the agent registered under name.
func (r *Registry) Get(name string) (domain.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[name]
	return agent, ok
}

// Agents returns the registered agents sorted by name.
func (r *Registry) Agents() []domain.Agent {
	r.mu.RLock()
	agents := make([]domain.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.RUnlock()

	sort.Slice(agents, func(i, j int) bool { return agents[i].Name() < agents[j].Name() })
	return agents
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	r.mu.RUnlock()
	return sortedStrings(names)
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Remove unregisters an agent. Returns ErrNotFound if not present. The agent
// is not stopped.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[name]; !ok {
		return fmt.Errorf("remove %q: %w", name, domain.ErrNotFound)
	}
	delete(r.agents, name)
	r.logger.Info("agent removed", "agent", name)
	return nil
}

func sortedStrings(s []string) []string {
	sort.Strings(s)
	return s
}
