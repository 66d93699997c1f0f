package domain

import "time"

type NetworkType string

const (
	// NetworkUnordered groups servers with no start ordering between them.
	NetworkUnordered NetworkType = "unordered"
	// NetworkProxied groups backend servers behind a single proxy server.
	NetworkProxied NetworkType = "proxied"
)

type StartOrder string

const (
	StartProxyFirst    StartOrder = "proxy_first"
	StartBackendsFirst StartOrder = "backends_first"
)

type Role string

const (
	RoleMember  Role = "member"
	RoleProxy   Role = "proxy"
	RoleBackend Role = "backend"
)

// Network is a named grouping of servers operated as a unit. A proxied
// network has at most one proxy member; ProxyServerID is cleared when that
// member is removed.
type Network struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	Description   string      `json:"description,omitempty"`
	Type          NetworkType `json:"type"`
	StartOrder    StartOrder  `json:"startOrder,omitempty"`
	ProxyServerID string      `json:"proxyServerId,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// Membership ties one server into one network. (NetworkID, ServerID) is
// unique; Position orders members within the network.
type Membership struct {
	NetworkID string `json:"networkId"`
	ServerID  string `json:"serverId"`
	Role      Role   `json:"role"`
	Position  int    `json:"position"`
}

// MemberResult is one server's outcome within a bulk network operation.
type MemberResult struct {
	ServerID string `json:"serverId"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
}

// BulkResult reports a bulk network operation. Success is true only when
// every member result succeeded; partial failure is data, not an error.
type BulkResult struct {
	NetworkID string         `json:"networkId"`
	Success   bool           `json:"success"`
	Members   []MemberResult `json:"members"`
}

// NetworkStatus is the derived composite view of a network.
type NetworkStatus struct {
	NetworkID string            `json:"networkId"`
	Status    Status            `json:"status"`
	Members   map[string]Status `json:"members"`
}

// StatusPartial and StatusUnknown only appear in derived network views,
// never on a persisted server record.
const (
	StatusPartial Status = "partial"
	StatusUnknown Status = "unknown"
)

// NetworkMetrics aggregates member samples: player count and memory are
// summed, CPU is averaged over all members, tick rate is averaged over the
// members that reported a positive tick rate.
type NetworkMetrics struct {
	NetworkID   string             `json:"networkId"`
	Players     int                `json:"players"`
	MemoryBytes uint64             `json:"memoryBytes"`
	CPUPercent  float64            `json:"cpuPercent"`
	TickRate    float64            `json:"tickRate"`
	Members     map[string]Metrics `json:"members"`
}
