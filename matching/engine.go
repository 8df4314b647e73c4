package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"rfqflow/agency"
)

const (
	regionWeight         = 3.0
	specializationWeight = 2.0

	ReasonRegion         = "region"
	ReasonSpecialization = "specialization"
	ReasonRating         = "rating"
	ReasonFallback       = "fallback"
)

// AgencySource lists approved agencies ordered by rating desc, id asc.
type AgencySource interface {
	ListApproved(ctx context.Context) ([]agency.Agency, error)
}

type Criteria struct {
	Destination string
	TripType    string
	Regions     []string
	// ExcludeTarget drops any agency broadcasting to this target.
	ExcludeTarget string
}

type Result struct {
	AgencyID   string
	AgencyName string
	Targets    []string
	Score      float64
	Reasons    []string
}

type Engine struct {
	source AgencySource
}

func NewEngine(source AgencySource) *Engine {
	return &Engine{source: source}
}

// Match returns the agencies a request should go to, best first. When no
// agency scores at all, every eligible agency is returned so a reachable
// request is never dropped for lack of a taxonomy hit.
func (e *Engine) Match(ctx context.Context, c Criteria) ([]Result, error) {
	agencies, err := e.source.ListApproved(ctx)
	if err != nil {
		return nil, fmt.Errorf("matching: list agencies: %w", err)
	}

	eligible := make([]agency.Agency, 0, len(agencies))
	for _, a := range agencies {
		if isEligible(a, c.ExcludeTarget) {
			eligible = append(eligible, a)
		}
	}
	if len(eligible) == 0 {
		return []Result{}, nil
	}

	regions := wanted(c.Regions, c.Destination)
	results := make([]Result, 0, len(eligible))
	anyScored := false
	for _, a := range eligible {
		r := score(a, regions, c.TripType)
		if r.Score > 0 {
			anyScored = true
		}
		results = append(results, r)
	}

	if !anyScored {
		for i := range results {
			results[i].Score = 0
			results[i].Reasons = []string{ReasonFallback}
		}
		return results, nil
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	scored := results[:0]
	for _, r := range results {
		if r.Score > 0 {
			scored = append(scored, r)
		}
	}
	return scored, nil
}

// isEligible drops agencies that cannot take the request: no active agent
// (which also covers having no target at all) or a broadcast channel equal to
// the requester's own.
func isEligible(a agency.Agency, excludeTarget string) bool {
	if len(a.AgentTargets) == 0 {
		return false
	}
	if excludeTarget != "" {
		for _, t := range a.BroadcastTargets {
			if t == excludeTarget {
				return false
			}
		}
	}
	return true
}

func score(a agency.Agency, regions []string, tripType string) Result {
	r := Result{
		AgencyID:   a.ID,
		AgencyName: a.Name,
		Targets:    targets(a),
		Reasons:    []string{},
	}

	if containsFold(a.Regions, regions...) {
		r.Score += regionWeight
		r.Reasons = append(r.Reasons, ReasonRegion)
	}
	if normalize(tripType) != "" && containsFold(a.Specializations, tripType) {
		r.Score += specializationWeight
		r.Reasons = append(r.Reasons, ReasonSpecialization)
	}
	if bonus := ratingBonus(a.Rating); bonus > 0 {
		r.Score += bonus
		r.Reasons = append(r.Reasons, ReasonRating)
	}
	return r
}

func ratingBonus(rating float64) float64 {
	if rating <= 0 {
		return 0
	}
	return min(rating/5, 1)
}

// targets is the match-time view of an agency's reachable channels. The
// worker resolves again at delivery time.
func targets(a agency.Agency) []string {
	out := make([]string, 0, len(a.BroadcastTargets)+len(a.AgentTargets))
	seen := make(map[string]struct{}, cap(out))
	for _, list := range [][]string{a.BroadcastTargets, a.AgentTargets} {
		for _, t := range list {
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

func wanted(regions []string, destination string) []string {
	out := make([]string, 0, len(regions)+1)
	for _, r := range regions {
		if n := normalize(r); n != "" {
			out = append(out, n)
		}
	}
	if n := normalize(destination); n != "" {
		out = append(out, n)
	}
	return out
}

func containsFold(tags []string, values ...string) bool {
	for _, tag := range tags {
		t := normalize(tag)
		if t == "" {
			continue
		}
		for _, v := range values {
			if t == normalize(v) {
				return true
			}
		}
	}
	return false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
