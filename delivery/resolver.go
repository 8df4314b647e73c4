package delivery

import (
	"context"
	"fmt"
	"strings"

	"rfqflow/agency"
)

// AgentDirectory is the slice of the agency catalog the resolver reads.
type AgentDirectory interface {
	GetByID(ctx context.Context, id string) (agency.Agency, error)
	ActiveAgentTargets(ctx context.Context, agencyID string) ([]string, error)
}

type Resolver struct {
	directory AgentDirectory
}

func NewResolver(directory AgentDirectory) *Resolver {
	return &Resolver{directory: directory}
}

// ResolveTargets returns the legacy target, the agency's broadcast targets and
// one target per active agent, in that order and without duplicates. Agents
// are read fresh on every call so deactivations take effect on retries.
func (r *Resolver) ResolveTargets(ctx context.Context, agencyID, legacy string) ([]string, error) {
	a, err := r.directory.GetByID(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("delivery: load agency: %w", err)
	}
	agents, err := r.directory.ActiveAgentTargets(ctx, agencyID)
	if err != nil {
		return nil, fmt.Errorf("delivery: load agents: %w", err)
	}

	seen := make(map[string]struct{})
	targets := make([]string, 0, 1+len(a.BroadcastTargets)+len(agents))
	add := func(t string) {
		t = strings.TrimSpace(t)
		if t == "" {
			return
		}
		if _, ok := seen[t]; ok {
			return
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}

	add(legacy)
	for _, t := range a.BroadcastTargets {
		add(t)
	}
	for _, t := range agents {
		add(t)
	}
	return targets, nil
}
