package fleet

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanities/hytale-server-manager-sub001/internal/adapter"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
)

// Orchestrator owns the fleet: server records, their adapters, and every
// per-server lifecycle operation. Server status is mutated only through
// adapter calls routed here.
type Orchestrator struct {
	servers  domain.ServerRepository
	networks domain.NetworkRepository
	content  domain.ContentRepository
	registry *Registry
	notifier notify.Notifier

	serversPath string
}

func NewOrchestrator(store domain.Store, registry *Registry, notifier notify.Notifier, serversPath string) *Orchestrator {
	return &Orchestrator{
		servers:     store,
		networks:    store,
		content:     store,
		registry:    registry,
		notifier:    notifier,
		serversPath: serversPath,
	}
}

// CreateParams describes a new managed server.
type CreateParams struct {
	Name        string
	Address     string
	Port        int
	MaxPlayers  int
	Version     string
	Executable  string
	Args        []string
	MemoryMB    int
	StopCommand string
	ReadyMarker string
}

func sanitizeDirName(name string) string {
	name = strings.ReplaceAll(name, " ", "_")
	reg := regexp.MustCompile(`[^a-zA-Z0-9_.-]`)
	sanitized := reg.ReplaceAllString(name, "")
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	return sanitized
}

func (o *Orchestrator) CreateServer(params CreateParams) (*domain.Server, error) {
	if strings.ContainsAny(params.Name, "\\/:*?\"<>|") || strings.Contains(params.Name, "..") {
		return nil, fmt.Errorf("invalid server name: contains forbidden characters")
	}
	if params.Executable == "" {
		return nil, fmt.Errorf("executable path is required")
	}

	id := uuid.New().String()
	folder := sanitizeDirName(params.Name)
	if folder == "" {
		folder = id[:8]
	}
	dataDir := filepath.Join(o.serversPath, folder)
	if _, err := os.Stat(dataDir); !os.IsNotExist(err) {
		folder = fmt.Sprintf("%s-%s", folder, id[:8])
		dataDir = filepath.Join(o.serversPath, folder)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("filesystem error: %w", err)
	}

	srv := &domain.Server{
		ID:         id,
		Name:       params.Name,
		Address:    params.Address,
		Port:       params.Port,
		MaxPlayers: params.MaxPlayers,
		Version:    params.Version,
		DataDir:    dataDir,
		Launch: domain.LaunchConfig{
			Kind: domain.AdapterProcess,
			Process: &domain.ProcessLaunch{
				Executable:  params.Executable,
				Args:        params.Args,
				MemoryMB:    params.MemoryMB,
				StopCommand: params.StopCommand,
				ReadyMarker: params.ReadyMarker,
			},
		},
		Status:    domain.StatusStopped,
		CreatedAt: time.Now(),
	}

	if err := o.servers.SaveServer(srv); err != nil {
		os.RemoveAll(dataDir)
		return nil, fmt.Errorf("could not save server: %w", err)
	}
	return srv, nil
}

// DeleteServer force-kills any running process, drops the adapter, cleans
// the server out of its network and removes record and files.
func (o *Orchestrator) DeleteServer(id string) error {
	srv, err := o.servers.GetServerByID(id)
	if err != nil {
		return err
	}
	if srv == nil {
		return fmt.Errorf("%w: %s", domain.ErrServerNotFound, id)
	}

	ad, err := o.registry.Get(srv)
	if err == nil {
		if kerr := ad.Kill(); kerr != nil {
			return fmt.Errorf("could not kill server before delete: %w", kerr)
		}
	}
	o.registry.Remove(id)

	if m, merr := o.networks.FindMembershipByServer(id); merr == nil && m != nil {
		if m.Role == domain.RoleProxy {
			if perr := o.networks.SetNetworkProxy(m.NetworkID, ""); perr != nil {
				return fmt.Errorf("could not clear network proxy: %w", perr)
			}
		}
		if rerr := o.networks.RemoveMembership(m.NetworkID, id); rerr != nil {
			return fmt.Errorf("could not remove network membership: %w", rerr)
		}
	}

	if srv.DataDir != "" {
		if rerr := os.RemoveAll(srv.DataDir); rerr != nil {
			return fmt.Errorf("error deleting server files: %w", rerr)
		}
	}
	if derr := o.servers.DeleteServer(id); derr != nil {
		return fmt.Errorf("error deleting server record: %w", derr)
	}
	return nil
}

func (o *Orchestrator) GetServer(id string) (*domain.Server, error) {
	srv, err := o.servers.GetServerByID(id)
	if err != nil {
		return nil, err
	}
	if srv == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, id)
	}
	return srv, nil
}

func (o *Orchestrator) ListServers() ([]domain.Server, error) {
	return o.servers.ListServers()
}

func (o *Orchestrator) adapterFor(id string) (adapter.Adapter, *domain.Server, error) {
	srv, err := o.GetServer(id)
	if err != nil {
		return nil, nil, err
	}
	ad, err := o.registry.Get(srv)
	if err != nil {
		return nil, nil, err
	}
	return ad, srv, nil
}

func (o *Orchestrator) Start(id string) error {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return err
	}
	return ad.Start()
}

func (o *Orchestrator) Stop(id string) error {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return err
	}
	return ad.Stop()
}

func (o *Orchestrator) Restart(id string) error {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return err
	}
	if err := ad.Restart(); err != nil {
		return err
	}
	if o.notifier != nil {
		o.notifier.Notify(notify.Event{Kind: domain.EventServerRestarted, ServerID: id, At: time.Now()})
	}
	return nil
}

func (o *Orchestrator) Kill(id string) error {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return err
	}
	return ad.Kill()
}

func (o *Orchestrator) Status(id string) (*domain.StatusSnapshot, error) {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return nil, err
	}
	snap := ad.Status()
	return &snap, nil
}

func (o *Orchestrator) Metrics(id string) (*domain.Metrics, error) {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return nil, err
	}
	return ad.Metrics()
}

func (o *Orchestrator) SendCommand(id, text string) (*domain.CommandResult, error) {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return nil, err
	}
	return ad.SendCommand(text)
}

// SubscribeLogs attaches fn to the server's log stream and returns the
// buffered history plus a cancel function.
func (o *Orchestrator) SubscribeLogs(id string, fn func(domain.LogLine)) ([]domain.LogLine, func(), error) {
	ad, _, err := o.adapterFor(id)
	if err != nil {
		return nil, nil, err
	}
	history, cancel := ad.Subscribe(fn)
	return history, cancel, nil
}

func (o *Orchestrator) InstallContent(serverID, title string, kind domain.ContentKind, fileName string, payload []byte) (*domain.ContentItem, error) {
	ad, _, err := o.adapterFor(serverID)
	if err != nil {
		return nil, err
	}
	item := &domain.ContentItem{
		ID:       uuid.New().String(),
		ServerID: serverID,
		Title:    title,
		Kind:     kind,
		FileName: fileName,
	}
	if err := ad.InstallContent(item, payload); err != nil {
		return nil, err
	}
	if err := o.content.SaveContent(item); err != nil {
		return nil, fmt.Errorf("content installed but not recorded: %w", err)
	}
	return item, nil
}

func (o *Orchestrator) UninstallContent(contentID string) error {
	item, err := o.content.GetContentByID(contentID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("content %s not found", contentID)
	}
	ad, _, err := o.adapterFor(item.ServerID)
	if err != nil {
		return err
	}
	if err := ad.UninstallContent(item); err != nil {
		return err
	}
	return o.content.DeleteContent(contentID)
}

func (o *Orchestrator) SetContentEnabled(contentID string, enabled bool) error {
	item, err := o.content.GetContentByID(contentID)
	if err != nil {
		return err
	}
	if item == nil {
		return fmt.Errorf("content %s not found", contentID)
	}
	ad, _, err := o.adapterFor(item.ServerID)
	if err != nil {
		return err
	}
	if err := ad.SetContentEnabled(item, enabled); err != nil {
		return err
	}
	return o.content.UpdateContentFiles(item.ID, item.Files, enabled)
}
