// Package agents resolves platform user ids to agent display data, backed by
// a cache so repeated lookups for the same agent stay off the platform API.
package agents

import (
	"context"
	"strings"

	"queue_dashboard_backend/internal/dashboard/domain"
	"queue_dashboard_backend/platform/logger"
	"queue_dashboard_backend/platform/sanitize"
)

// Lookup fetches an agent from the platform.
type Lookup interface {
	LookupAgent(ctx context.Context, userID string) (domain.Agent, error)
}

// Cache stores resolved agents by user id.
type Cache interface {
	Get(ctx context.Context, userID string) (domain.Agent, bool, error)
	Set(ctx context.Context, userID string, agent domain.Agent) error
}

// Directory resolves agents. Resolution never fails: on lookup errors it
// degrades to an empty agent so the conversation can still be shown.
type Directory struct {
	lookup Lookup
	cache  Cache
	log    *logger.Logger
}

// NewDirectory creates a directory. A nil cache disables caching.
func NewDirectory(lookup Lookup, cache Cache, log *logger.Logger) *Directory {
	return &Directory{lookup: lookup, cache: cache, log: log}
}

// Resolve returns the agent for userID, or an empty agent when the id is
// blank or the lookup fails.
func (d *Directory) Resolve(ctx context.Context, userID string) domain.Agent {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Agent{}
	}

	if d.cache != nil {
		agent, ok, err := d.cache.Get(ctx, userID)
		if err != nil {
			d.log.Warn("agent cache read failed", "user_id", userID, "error", err)
		} else if ok {
			return agent
		}
	}

	agent, err := d.lookup.LookupAgent(ctx, userID)
	if err != nil {
		d.log.Warn("agent lookup failed, continuing without agent", "user_id", userID, "error", err)
		return domain.Agent{}
	}
	agent.Name = sanitize.Text(agent.Name)

	if d.cache != nil {
		if err := d.cache.Set(ctx, userID, agent); err != nil {
			d.log.Warn("agent cache write failed", "user_id", userID, "error", err)
		}
	}
	return agent
}
