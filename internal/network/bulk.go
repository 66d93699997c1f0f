package network

import (
	"log"
	"sync"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// orderedGroups splits the member list into the phases a bulk operation
// runs through: members within a group run concurrently, groups run one
// after another. An unordered network is a single group; a proxied network
// is a backends group and a proxy group sequenced by the declared start
// order, mirrored when stopping.
func orderedGroups(n *domain.Network, members []domain.Membership, stopping bool) [][]domain.Membership {
	if n.Type != domain.NetworkProxied {
		if len(members) == 0 {
			return nil
		}
		return [][]domain.Membership{members}
	}

	var proxy, backends []domain.Membership
	for _, m := range members {
		if m.Role == domain.RoleProxy {
			proxy = append(proxy, m)
		} else {
			backends = append(backends, m)
		}
	}

	proxyFirst := n.StartOrder == domain.StartProxyFirst
	if stopping {
		proxyFirst = !proxyFirst
	}

	var groups [][]domain.Membership
	if proxyFirst {
		groups = [][]domain.Membership{proxy, backends}
	} else {
		groups = [][]domain.Membership{backends, proxy}
	}
	out := groups[:0]
	for _, g := range groups {
		if len(g) > 0 {
			out = append(out, g)
		}
	}
	return out
}

// runGroups applies op to each member, concurrently within a group, and
// collects exactly one result per member. A failure never blocks or
// cancels anyone else.
func runGroups(networkID string, groups [][]domain.Membership, op func(serverID string) error) *domain.BulkResult {
	result := &domain.BulkResult{
		NetworkID: networkID,
		Success:   true,
		Members:   []domain.MemberResult{},
	}

	for _, group := range groups {
		results := make([]domain.MemberResult, len(group))
		var wg sync.WaitGroup
		for i, m := range group {
			wg.Add(1)
			go func(i int, serverID string) {
				defer wg.Done()
				if err := op(serverID); err != nil {
					results[i] = domain.MemberResult{ServerID: serverID, Error: err.Error()}
					return
				}
				results[i] = domain.MemberResult{ServerID: serverID, Success: true}
			}(i, m.ServerID)
		}
		wg.Wait()

		for _, r := range results {
			if !r.Success {
				result.Success = false
			}
			result.Members = append(result.Members, r)
		}
	}
	return result
}

// StartNetwork starts every member: all at once for an unordered network,
// in declared phase order for a proxied one.
func (o *Orchestrator) StartNetwork(id string) (*domain.BulkResult, error) {
	n, err := o.GetNetwork(id)
	if err != nil {
		return nil, err
	}
	members, err := o.networks.ListMemberships(id)
	if err != nil {
		return nil, err
	}
	return runGroups(id, orderedGroups(n, members, false), o.fleet.Start), nil
}

// StopNetwork mirrors StartNetwork with the phase order reversed, so the
// proxy is never left pointing at backends that are already shutting down.
func (o *Orchestrator) StopNetwork(id string) (*domain.BulkResult, error) {
	n, err := o.GetNetwork(id)
	if err != nil {
		return nil, err
	}
	members, err := o.networks.ListMemberships(id)
	if err != nil {
		return nil, err
	}
	return runGroups(id, orderedGroups(n, members, true), o.fleet.Stop), nil
}

// RestartNetwork stops everything, pauses, then starts everything. A
// partial stop failure is surfaced in the returned stop result but does
// not prevent the start attempt.
func (o *Orchestrator) RestartNetwork(id string) (stop, start *domain.BulkResult, err error) {
	stop, err = o.StopNetwork(id)
	if err != nil {
		return nil, nil, err
	}
	if !stop.Success {
		log.Printf("network %s: partial stop during restart, starting anyway", id)
	}
	time.Sleep(o.restartPause)
	start, err = o.StartNetwork(id)
	return stop, start, err
}

// NetworkStatus derives the composite view from live per-member status. A
// member whose lookup fails reads unknown rather than failing the whole
// computation.
func (o *Orchestrator) NetworkStatus(id string) (*domain.NetworkStatus, error) {
	members, err := o.Members(id)
	if err != nil {
		return nil, err
	}

	out := &domain.NetworkStatus{
		NetworkID: id,
		Members:   make(map[string]domain.Status, len(members)),
	}
	for _, m := range members {
		snap, serr := o.fleet.Status(m.ServerID)
		if serr != nil || snap == nil {
			out.Members[m.ServerID] = domain.StatusUnknown
			continue
		}
		out.Members[m.ServerID] = snap.Status
	}
	out.Status = composite(out.Members)
	return out, nil
}

// composite favors transitional states over a mixed running/stopped
// reading; a fully uniform fleet reads as that state, anything else is
// partial.
func composite(members map[string]domain.Status) domain.Status {
	if len(members) == 0 {
		return domain.StatusStopped
	}
	allRunning, allStopped := true, true
	for _, s := range members {
		switch s {
		case domain.StatusStarting, domain.StatusStopping:
			return s
		case domain.StatusRunning:
			allStopped = false
		case domain.StatusStopped:
			allRunning = false
		default:
			allRunning, allStopped = false, false
		}
	}
	switch {
	case allRunning:
		return domain.StatusRunning
	case allStopped:
		return domain.StatusStopped
	default:
		return domain.StatusPartial
	}
}

// NetworkMetrics sums players and memory across members and averages CPU;
// the tick-rate average only counts members that reported a positive tick
// rate. Members whose sample fails are left out entirely.
func (o *Orchestrator) NetworkMetrics(id string) (*domain.NetworkMetrics, error) {
	members, err := o.Members(id)
	if err != nil {
		return nil, err
	}

	out := &domain.NetworkMetrics{
		NetworkID: id,
		Members:   make(map[string]domain.Metrics, len(members)),
	}
	var cpuSamples, tickSamples int
	var cpuSum, tickSum float64
	for _, m := range members {
		sample, merr := o.fleet.Metrics(m.ServerID)
		if merr != nil || sample == nil {
			log.Printf("network %s: no metrics for member %s: %v", id, m.ServerID, merr)
			continue
		}
		out.Members[m.ServerID] = *sample
		out.Players += sample.Players
		out.MemoryBytes += sample.MemoryBytes
		cpuSum += sample.CPUPercent
		cpuSamples++
		if sample.TickRate > 0 {
			tickSum += sample.TickRate
			tickSamples++
		}
	}
	if cpuSamples > 0 {
		out.CPUPercent = cpuSum / float64(cpuSamples)
	}
	if tickSamples > 0 {
		out.TickRate = tickSum / float64(tickSamples)
	}
	return out, nil
}
