package adapter

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

// placeholderTickRate stands in for the game's internal tick rate until the
// server exposes a real counter over the console channel.
const placeholderTickRate = 20.0

func (a *processAdapter) Metrics() (*domain.Metrics, error) {
	a.mu.Lock()
	pid := a.pid
	status := a.status
	players := a.players
	startedAt := a.startedAt
	a.mu.Unlock()

	m := &domain.Metrics{
		ServerID:   a.srv.ID,
		Players:    players,
		MaxPlayers: a.srv.MaxPlayers,
	}
	if status != domain.StatusRunning || pid <= 0 {
		return m, nil
	}

	cpu, mem, err := sampleProcessTree(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to sample metrics for server %s: %w", a.srv.ID, err)
	}
	m.CPUPercent = cpu
	m.MemoryBytes = mem
	m.TickRate = placeholderTickRate
	if !startedAt.IsZero() {
		m.Uptime = time.Since(startedAt)
	}
	return m, nil
}

// sampleProcessTree sums CPU and resident memory over the process and all
// of its descendants; launchers commonly fork the real server as a child.
func sampleProcessTree(pid int) (float64, uint64, error) {
	root, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, 0, err
	}

	procs := append([]*process.Process{root}, descendants(root)...)
	var cpu float64
	var mem uint64
	for _, p := range procs {
		if c, err := p.CPUPercent(); err == nil {
			cpu += c
		}
		if info, err := p.MemoryInfo(); err == nil && info != nil {
			mem += info.RSS
		}
	}
	return cpu, mem, nil
}

func descendants(p *process.Process) []*process.Process {
	children, err := p.Children()
	if err != nil {
		return nil
	}
	var all []*process.Process
	for _, child := range children {
		all = append(all, child)
		all = append(all, descendants(child)...)
	}
	return all
}
