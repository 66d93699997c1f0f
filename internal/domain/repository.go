package domain

import "time"

// The repositories are the durable-storage boundary: the core reads and
// writes records through these and nothing else, so any store satisfying
// them is interchangeable. Lookups return (nil, nil) when no record exists.

type ServerRepository interface {
	SaveServer(srv *Server) error
	GetServerByID(id string) (*Server, error)
	ListServers() ([]Server, error)
	// ListRecoveryCandidates returns servers whose persisted status is
	// running, starting or orphaned and which have a recorded process id.
	ListRecoveryCandidates() ([]Server, error)
	DeleteServer(id string) error

	UpdateStatus(id string, status Status) error
	// UpdateProcess persists the recovery fields right after spawn.
	UpdateProcess(id string, pid int, startedAt time.Time) error
	// ClearProcess zeroes pid and start time so the server can never be
	// left looking "stuck running" in storage.
	ClearProcess(id string) error
	UpdateConsole(id string, port int, secret string) error
	UpdateLogPath(id string, path string) error
}

type NetworkRepository interface {
	SaveNetwork(n *Network) error
	GetNetworkByID(id string) (*Network, error)
	ListNetworks() ([]Network, error)
	DeleteNetwork(id string) error
	SetNetworkProxy(id string, serverID string) error

	AddMembership(m *Membership) error
	RemoveMembership(networkID, serverID string) error
	GetMembership(networkID, serverID string) (*Membership, error)
	// ListMemberships returns the network's members ordered by position.
	ListMemberships(networkID string) ([]Membership, error)
	// FindMembershipByServer returns the membership holding this server in
	// any network, for the one-network-at-a-time rule.
	FindMembershipByServer(serverID string) (*Membership, error)
	UpdatePositions(networkID string, orderedServerIDs []string) error
}

type BackupRepository interface {
	SaveBackup(b *Backup) error
	UpdateBackup(b *Backup) error
	GetBackupByID(id string) (*Backup, error)
	ListBackups(serverID string) ([]Backup, error)
	// ListCompletedByRule returns completed backups for a rule, newest first.
	ListCompletedByRule(ruleID string) ([]Backup, error)
	DeleteBackup(id string) error

	SaveNetworkBackup(nb *NetworkBackup) error
	UpdateNetworkBackupStatus(id string, status BackupStatus) error
	GetNetworkBackupByID(id string) (*NetworkBackup, error)
}

type RuleRepository interface {
	SaveRule(r *AutomationRule) error
	GetRuleByID(id string) (*AutomationRule, error)
	ListRules(serverID string) ([]AutomationRule, error)
	ListEnabledRules() ([]AutomationRule, error)
	DeleteRule(id string) error
	RecordRuleRun(id string, at time.Time, status string) error
}

type ContentRepository interface {
	SaveContent(c *ContentItem) error
	GetContentByID(id string) (*ContentItem, error)
	ListContent(serverID string) ([]ContentItem, error)
	UpdateContentFiles(id string, files []string, enabled bool) error
	DeleteContent(id string) error
}

// Store is the full persistence surface the manager is wired with.
type Store interface {
	ServerRepository
	NetworkRepository
	BackupRepository
	RuleRepository
	ContentRepository
}
