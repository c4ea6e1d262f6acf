// Package registry owns the configured agent roster and its role
// invariants.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"parley/internal/domain"

	"github.com/google/uuid"
)

// RosterStore is the slice of the session state store the registry needs.
type RosterStore interface {
	GetRoster(ctx context.Context) ([]domain.Agent, error)
	PutRoster(ctx context.Context, roster []domain.Agent) error
}

// Registry is the single state-owner for the agent roster. Every mutation
// is a pure transformation over the full roster (read-modify-write, never
// a partial patch), so concurrent edits from different surfaces cannot
// produce lost updates.
type Registry struct {
	mu     sync.Mutex
	store  RosterStore
	logger *slog.Logger
}

// New loads the roster from storage, seeding a default roster when none
// has ever been saved.
func New(ctx context.Context, store RosterStore, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{store: store, logger: logger}

	roster, err := store.GetRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	if roster == nil {
		seed := DefaultRoster()
		if err := store.PutRoster(ctx, seed); err != nil {
			return nil, fmt.Errorf("seed roster: %w", err)
		}
		logger.Info("Seeded default agent roster", "agents", len(seed))
	}
	return r, nil
}

// DefaultRoster returns the roster used on first run: one Primary
// facilitator and one Observer critic.
func DefaultRoster() []domain.Agent {
	return []domain.Agent{
		{
			ID:            uuid.NewString(),
			Name:          "Facilitator",
			Color:         "#4f8cc9",
			Role:          domain.RolePrimary,
			IsActive:      true,
			Temperament:   50,
			Verbosity:     60,
			Participation: domain.ParticipationActive,
			SystemPrompt:  "You are the facilitator of this conversation. Answer the user directly and helpfully.",
		},
		{
			ID:            uuid.NewString(),
			Name:          "Critic",
			Color:         "#c94f4f",
			Role:          domain.RoleObserver,
			IsActive:      true,
			Temperament:   70,
			Verbosity:     30,
			Participation: domain.ParticipationActive,
			SystemPrompt:  "You observe the conversation and critique the primary answer. Stay silent unless you have a substantive point.",
		},
	}
}

// ListAgents returns a copy of the current roster.
func (r *Registry) ListAgents(ctx context.Context) ([]domain.Agent, error) {
	roster, err := r.store.GetRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return roster, nil
}

// Upsert inserts or replaces one agent by id and returns the new roster.
// A new agent without an id gets one assigned.
func (r *Registry) Upsert(ctx context.Context, agent domain.Agent) ([]domain.Agent, error) {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	return r.mutate(ctx, func(roster []domain.Agent) []domain.Agent {
		for i := range roster {
			if roster[i].ID == agent.ID {
				roster[i] = agent
				return enforceExclusivity(roster, agent.ID)
			}
		}
		roster = append(roster, agent)
		return enforceExclusivity(roster, agent.ID)
	})
}

// Remove drops an agent from the roster. Unknown ids are a no-op.
func (r *Registry) Remove(ctx context.Context, agentID string) ([]domain.Agent, error) {
	return r.mutate(ctx, func(roster []domain.Agent) []domain.Agent {
		out := roster[:0]
		for _, a := range roster {
			if a.ID != agentID {
				out = append(out, a)
			}
		}
		return out
	})
}

// Promote assigns role to the agent with agentID, demoting any prior
// holder of an exclusive role (Primary, Summarizer) to Observer in the
// same atomic replacement. Unknown ids are a no-op.
func (r *Registry) Promote(ctx context.Context, agentID string, role domain.Role) ([]domain.Agent, error) {
	if !role.IsValid() {
		return nil, fmt.Errorf("promote %s: unknown role %q", agentID, role)
	}
	return r.mutate(ctx, func(roster []domain.Agent) []domain.Agent {
		found := false
		for i := range roster {
			if roster[i].ID == agentID {
				roster[i].Role = role
				found = true
				break
			}
		}
		if !found {
			return roster
		}
		return enforceExclusivity(roster, agentID)
	})
}

// Merge appends agents to the roster, assigning ids where missing. An
// existing holder of an exclusive role keeps it; a merged-in holder is
// demoted to Observer when the role is already taken.
func (r *Registry) Merge(ctx context.Context, agents []domain.Agent) ([]domain.Agent, error) {
	return r.mutate(ctx, func(roster []domain.Agent) []domain.Agent {
		taken := make(map[domain.Role]bool)
		for _, a := range roster {
			if a.Role == domain.RolePrimary || a.Role == domain.RoleSummarizer {
				taken[a.Role] = true
			}
		}
		for _, a := range domain.CloneAgents(agents) {
			if a.ID == "" {
				a.ID = uuid.NewString()
			}
			if !a.Role.IsValid() {
				a.Role = domain.RoleObserver
			}
			if a.Role == domain.RolePrimary || a.Role == domain.RoleSummarizer {
				if taken[a.Role] {
					a.Role = domain.RoleObserver
				}
				taken[a.Role] = true
			}
			roster = append(roster, a)
		}
		return roster
	})
}

// mutate applies fn to a copy of the roster and persists the result.
// The mutex serializes read-modify-write cycles so concurrent edits from
// different surfaces cannot interleave.
func (r *Registry) mutate(ctx context.Context, fn func([]domain.Agent) []domain.Agent) ([]domain.Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roster, err := r.store.GetRoster(ctx)
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	next := fn(domain.CloneAgents(roster))
	if err := r.store.PutRoster(ctx, next); err != nil {
		return nil, fmt.Errorf("save roster: %w", err)
	}
	return next, nil
}

// enforceExclusivity demotes every holder of an exclusive role other than
// keepID to Observer. Primary and Summarizer each have at most one active
// holder.
func enforceExclusivity(roster []domain.Agent, keepID string) []domain.Agent {
	for _, exclusive := range []domain.Role{domain.RolePrimary, domain.RoleSummarizer} {
		keeper := ""
		for _, a := range roster {
			if a.ID == keepID && a.Role == exclusive {
				keeper = keepID
			}
		}
		if keeper == "" {
			continue
		}
		for i := range roster {
			if roster[i].ID != keeper && roster[i].Role == exclusive {
				roster[i].Role = domain.RoleObserver
			}
		}
	}
	return roster
}
