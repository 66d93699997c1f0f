package app

import (
	"fmt"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/adapter"
	"github.com/vanities/hytale-server-manager-sub001/internal/automation"
	"github.com/vanities/hytale-server-manager-sub001/internal/backup"
	"github.com/vanities/hytale-server-manager-sub001/internal/config"
	"github.com/vanities/hytale-server-manager-sub001/internal/console"
	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/fleet"
	"github.com/vanities/hytale-server-manager-sub001/internal/logtail"
	"github.com/vanities/hytale-server-manager-sub001/internal/network"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
	"github.com/vanities/hytale-server-manager-sub001/internal/storage"
)

// Container wires the manager together. Everything hangs off the store
// and the adapter registry; nothing here is package-level state.
type Container struct {
	Config    *config.Config
	Store     *storage.GormStore
	Console   *console.WebConsole
	Tailer    *logtail.Tailer
	Notifier  notify.Notifier
	Registry  *fleet.Registry
	Fleet     *fleet.Orchestrator
	Network   *network.Orchestrator
	Backups   *backup.Engine
	Scheduler *automation.Scheduler
}

func Build(cfg *config.Config) (*Container, error) {
	store, err := storage.NewGormStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	consoleClient := console.NewWebConsole()
	tailer := logtail.NewTailer()

	// The scheduler subscribes to lifecycle events but is built after the
	// fleet it drives, so its sink is bound late.
	var scheduler *automation.Scheduler
	notifier := notify.Multi{
		notify.LogNotifier{},
		notify.Func(func(ev notify.Event) {
			if scheduler != nil {
				scheduler.HandleEvent(ev)
			}
		}),
	}

	allocatePort := func() (int, error) {
		servers, lerr := store.ListServers()
		if lerr != nil {
			return 0, lerr
		}
		used := make(map[int]bool, len(servers))
		for _, s := range servers {
			if s.ConsolePort > 0 {
				used[s.ConsolePort] = true
			}
		}
		return console.AllocatePort(cfg.ConsolePortFrom, cfg.ConsolePortTo, used)
	}

	opts := adapter.Options{
		MonitorInterval: time.Duration(cfg.MonitorIntervalSeconds) * time.Second,
		StopTimeout:     time.Duration(cfg.StopTimeoutSeconds) * time.Second,
		ReadyTimeout:    time.Duration(cfg.ReadyTimeoutSeconds) * time.Second,
	}
	registry := fleet.NewRegistry(func(srv *domain.Server) (adapter.Adapter, error) {
		return adapter.New(srv, adapter.Deps{
			Store:               store,
			Console:             consoleClient,
			Tailer:              tailer,
			Notifier:            notifier,
			AllocateConsolePort: allocatePort,
		}, opts)
	})

	fleetOrch := fleet.NewOrchestrator(store, registry, notifier, cfg.ServersPath)
	networkOrch := network.NewOrchestrator(store, fleetOrch)

	var remote backup.RemoteStorage
	if cfg.RemoteBackupsPath != "" {
		dirStorage, derr := backup.NewDirStorage(cfg.RemoteBackupsPath)
		if derr != nil {
			return nil, derr
		}
		remote = dirStorage
	}
	engine := backup.NewEngine(store, cfg.BackupsPath, remote, notifier)

	scheduler = automation.NewScheduler(store, fleetOrch, engine)

	return &Container{
		Config:    cfg,
		Store:     store,
		Console:   consoleClient,
		Tailer:    tailer,
		Notifier:  notifier,
		Registry:  registry,
		Fleet:     fleetOrch,
		Network:   networkOrch,
		Backups:   engine,
		Scheduler: scheduler,
	}, nil
}
