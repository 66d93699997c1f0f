package network

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// Fleet is the slice of per-server operations bulk network actions are
// built from.
type Fleet interface {
	Start(id string) error
	Stop(id string) error
	Status(id string) (*domain.StatusSnapshot, error)
	Metrics(id string) (*domain.Metrics, error)
}

// Orchestrator groups servers into networks and runs ordered bulk
// operations over them. One member's failure never cancels the others;
// every bulk result enumerates all members.
type Orchestrator struct {
	networks domain.NetworkRepository
	servers  domain.ServerRepository
	fleet    Fleet

	// restartPause sits between the stop and start halves of a restart.
	restartPause time.Duration
}

func NewOrchestrator(store domain.Store, fleet Fleet) *Orchestrator {
	return &Orchestrator{
		networks:     store,
		servers:      store,
		fleet:        fleet,
		restartPause: 2 * time.Second,
	}
}

type CreateParams struct {
	Name        string
	Description string
	Type        domain.NetworkType
	StartOrder  domain.StartOrder
}

func (o *Orchestrator) CreateNetwork(params CreateParams) (*domain.Network, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("network name is required")
	}
	switch params.Type {
	case domain.NetworkUnordered:
		params.StartOrder = ""
	case domain.NetworkProxied:
		if params.StartOrder == "" {
			params.StartOrder = domain.StartBackendsFirst
		}
		if params.StartOrder != domain.StartProxyFirst && params.StartOrder != domain.StartBackendsFirst {
			return nil, fmt.Errorf("invalid start order %q", params.StartOrder)
		}
	default:
		return nil, fmt.Errorf("invalid network type %q", params.Type)
	}

	n := &domain.Network{
		ID:          uuid.New().String(),
		Name:        params.Name,
		Description: params.Description,
		Type:        params.Type,
		StartOrder:  params.StartOrder,
		CreatedAt:   time.Now(),
	}
	if err := o.networks.SaveNetwork(n); err != nil {
		return nil, fmt.Errorf("could not save network: %w", err)
	}
	return n, nil
}

func (o *Orchestrator) GetNetwork(id string) (*domain.Network, error) {
	n, err := o.networks.GetNetworkByID(id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrNetworkNotFound, id)
	}
	return n, nil
}

func (o *Orchestrator) ListNetworks() ([]domain.Network, error) {
	return o.networks.ListNetworks()
}

func (o *Orchestrator) Members(networkID string) ([]domain.Membership, error) {
	if _, err := o.GetNetwork(networkID); err != nil {
		return nil, err
	}
	return o.networks.ListMemberships(networkID)
}

func (o *Orchestrator) DeleteNetwork(id string) error {
	members, err := o.Members(id)
	if err != nil {
		return err
	}
	for _, m := range members {
		if rerr := o.networks.RemoveMembership(id, m.ServerID); rerr != nil {
			return fmt.Errorf("could not remove membership for server %s: %w", m.ServerID, rerr)
		}
	}
	return o.networks.DeleteNetwork(id)
}

// AddMember attaches a server to the network. A server joins one network
// at a time, a (network, server) pair is unique, and a proxied network has
// at most one proxy.
func (o *Orchestrator) AddMember(networkID, serverID string, role domain.Role) error {
	n, err := o.GetNetwork(networkID)
	if err != nil {
		return err
	}
	srv, err := o.servers.GetServerByID(serverID)
	if err != nil {
		return err
	}
	if srv == nil {
		return fmt.Errorf("%w: %s", domain.ErrServerNotFound, serverID)
	}

	switch n.Type {
	case domain.NetworkUnordered:
		if role != domain.RoleMember {
			return fmt.Errorf("%w: %q in an unordered network", domain.ErrInvalidRole, role)
		}
	case domain.NetworkProxied:
		if role != domain.RoleProxy && role != domain.RoleBackend {
			return fmt.Errorf("%w: %q in a proxied network", domain.ErrInvalidRole, role)
		}
	}
	if role == domain.RoleProxy && n.ProxyServerID != "" {
		return fmt.Errorf("%w: network %s already has proxy %s", domain.ErrInvalidRole, networkID, n.ProxyServerID)
	}

	if existing, gerr := o.networks.FindMembershipByServer(serverID); gerr != nil {
		return gerr
	} else if existing != nil {
		return fmt.Errorf("%w: server %s is in network %s", domain.ErrDuplicateMember, serverID, existing.NetworkID)
	}

	members, err := o.networks.ListMemberships(networkID)
	if err != nil {
		return err
	}
	m := &domain.Membership{
		NetworkID: networkID,
		ServerID:  serverID,
		Role:      role,
		Position:  len(members),
	}
	if err := o.networks.AddMembership(m); err != nil {
		return fmt.Errorf("could not add membership: %w", err)
	}
	if role == domain.RoleProxy {
		if err := o.networks.SetNetworkProxy(networkID, serverID); err != nil {
			return fmt.Errorf("could not record network proxy: %w", err)
		}
	}
	return nil
}

// RemoveMember detaches a server. Removing the proxy clears the network's
// proxy reference; remaining members get compacted positions.
func (o *Orchestrator) RemoveMember(networkID, serverID string) error {
	n, err := o.GetNetwork(networkID)
	if err != nil {
		return err
	}
	m, err := o.networks.GetMembership(networkID, serverID)
	if err != nil {
		return err
	}
	if m == nil {
		return fmt.Errorf("server %s is not a member of network %s", serverID, networkID)
	}

	if n.ProxyServerID == serverID {
		if err := o.networks.SetNetworkProxy(networkID, ""); err != nil {
			return fmt.Errorf("could not clear network proxy: %w", err)
		}
	}
	if err := o.networks.RemoveMembership(networkID, serverID); err != nil {
		return err
	}

	remaining, err := o.networks.ListMemberships(networkID)
	if err != nil {
		return err
	}
	order := make([]string, 0, len(remaining))
	for _, r := range remaining {
		order = append(order, r.ServerID)
	}
	return o.networks.UpdatePositions(networkID, order)
}

// Reorder assigns new contiguous positions following the given sequence.
// Every current member must appear exactly once.
func (o *Orchestrator) Reorder(networkID string, orderedServerIDs []string) error {
	members, err := o.Members(networkID)
	if err != nil {
		return err
	}
	if len(orderedServerIDs) != len(members) {
		return fmt.Errorf("reorder lists %d servers, network has %d members", len(orderedServerIDs), len(members))
	}
	current := make(map[string]bool, len(members))
	for _, m := range members {
		current[m.ServerID] = true
	}
	for _, id := range orderedServerIDs {
		if !current[id] {
			return fmt.Errorf("server %s is not a member of network %s", id, networkID)
		}
		delete(current, id)
	}
	return o.networks.UpdatePositions(networkID, orderedServerIDs)
}
