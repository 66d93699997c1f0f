package fleet

import (
	"fmt"
	"log"
	"time"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
	"github.com/vanities/hytale-server-manager-sub001/internal/notify"
)

// RecoverAll runs at manager startup and re-attaches supervision to
// processes that may have survived a manager restart: every persisted
// server whose status is running, starting or orphaned and which still has
// a recorded pid. Servers whose process is gone are marked crashed, their
// process fields cleared and their adapter discarded so the next access
// builds a fresh one.
func (o *Orchestrator) RecoverAll() error {
	candidates, err := o.servers.ListRecoveryCandidates()
	if err != nil {
		return fmt.Errorf("could not list recovery candidates: %w", err)
	}
	for i := range candidates {
		o.recoverOne(&candidates[i])
	}
	return nil
}

func (o *Orchestrator) recoverOne(srv *domain.Server) {
	ad, err := o.registry.Get(srv)
	if err != nil {
		log.Printf("warning: could not build adapter for server %s during recovery: %v", srv.ID, err)
		o.markRecoveryFailed(srv.ID)
		return
	}

	if err := ad.Reconnect(srv.PID); err != nil {
		log.Printf("server %s: process %d not recoverable: %v", srv.ID, srv.PID, err)
		o.markRecoveryFailed(srv.ID)
		o.registry.Remove(srv.ID)
		if o.notifier != nil {
			o.notifier.Notify(notify.Event{
				Kind:     domain.EventServerCrashed,
				ServerID: srv.ID,
				Message:  "process not found during recovery",
				At:       time.Now(),
			})
		}
		return
	}
	log.Printf("server %s: supervision recovered (pid %d)", srv.ID, srv.PID)
}

func (o *Orchestrator) markRecoveryFailed(id string) {
	if err := o.servers.UpdateStatus(id, domain.StatusCrashed); err != nil {
		log.Printf("warning: could not mark server %s crashed: %v", id, err)
	}
	if err := o.servers.ClearProcess(id); err != nil {
		log.Printf("warning: could not clear process fields for server %s: %v", id, err)
	}
}

// OrphanAll runs at manager graceful shutdown. Managed processes are left
// alive: every supervised server is marked orphaned and its adapter
// detached, so supervision resumes through RecoverAll on the next start.
func (o *Orchestrator) OrphanAll() {
	for id, ad := range o.registry.All() {
		snap := ad.Status()
		if snap.Status != domain.StatusRunning && snap.Status != domain.StatusStarting {
			continue
		}
		ad.Disconnect()
		if err := o.servers.UpdateStatus(id, domain.StatusOrphaned); err != nil {
			log.Printf("warning: could not mark server %s orphaned: %v", id, err)
		}
		log.Printf("server %s: left running, supervision detached", id)
	}
}
