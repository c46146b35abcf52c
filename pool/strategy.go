package pool

import "fmt"

// StrategyKind selects how a pool picks the member for the next job.
type StrategyKind string

const (
	// RoundRobin rotates over routable members, skipping quarantined
	// ones without consuming a slot so distribution stays even across
	// whoever is left.
	RoundRobin StrategyKind = "round_robin"
	// LoadBalance picks the routable member with the fewest jobs in
	// flight; ties go to declaration order.
	LoadBalance StrategyKind = "load_balance"
	// FailoverOnly sticks to the primary while it is routable and only
	// spills to the next member in declaration order while the primary
	// is quarantined. It never sticks to the failover member.
	FailoverOnly StrategyKind = "failover_only"
)

// ParseStrategy validates a strategy name from config.
func ParseStrategy(s string) (StrategyKind, error) {
	switch StrategyKind(s) {
	case RoundRobin, LoadBalance, FailoverOnly:
		return StrategyKind(s), nil
	default:
		return "", fmt.Errorf("unknown pool strategy %q", s)
	}
}

// selectMember implements the three strategies. Caller holds p.mu and has
// already run cool-down recovery. Members in skip are treated like
// quarantined ones. Returns nil when nothing is routable.
func selectMember(p *Pool, skip map[string]bool) *member {
	switch p.strategy {
	case LoadBalance:
		return selectLeastLoaded(p, skip)
	case FailoverOnly:
		return selectFailover(p, skip)
	default:
		return selectRoundRobin(p, skip)
	}
}

func selectRoundRobin(p *Pool, skip map[string]bool) *member {
	n := len(p.members)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		m := p.members[idx]
		if routable(m) && !skip[m.name] {
			p.cursor = (idx + 1) % n
			return m
		}
	}
	return nil
}

func selectLeastLoaded(p *Pool, skip map[string]bool) *member {
	var best *member
	for _, m := range p.members {
		if !routable(m) || skip[m.name] {
			continue
		}
		if best == nil || m.inFlight < best.inFlight {
			best = m
		}
	}
	return best
}

func selectFailover(p *Pool, skip map[string]bool) *member {
	for _, m := range p.members {
		if routable(m) && !skip[m.name] {
			return m
		}
	}
	return nil
}
