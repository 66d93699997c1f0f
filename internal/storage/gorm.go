package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vanities/hytale-server-manager-sub001/internal/domain"
)

type Server struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	Address       string
	Port          int
	MaxPlayers    int
	Version       string
	DataDir       string
	Launch        string // LaunchConfig as JSON
	Status        string
	PID           int `gorm:"column:pid"`
	ProcessStart  time.Time
	ConsolePort   int
	ConsoleSecret string
	LogPath       string
	CreatedAt     time.Time
}

type Network struct {
	ID            string `gorm:"primaryKey"`
	Name          string
	Description   string
	Type          string
	StartOrder    string
	ProxyServerID string
	CreatedAt     time.Time
}

type Membership struct {
	NetworkID string `gorm:"primaryKey"`
	ServerID  string `gorm:"primaryKey"`
	Role      string
	Position  int
}

type Backup struct {
	ID              string `gorm:"primaryKey"`
	ServerID        string `gorm:"index"`
	Name            string
	Storage         string
	Path            string
	Status          string
	SizeBytes       int64
	FilesScanned    int
	FilesArchived   int
	Skipped         string // []SkippedFile as JSON
	Error           string
	RuleID          string `gorm:"index"`
	NetworkBackupID string
	CreatedAt       time.Time
	CompletedAt     *time.Time
}

type NetworkBackup struct {
	ID        string `gorm:"primaryKey"`
	NetworkID string
	Status    string
	CreatedAt time.Time
}

type Rule struct {
	ID            string `gorm:"primaryKey"`
	ServerID      string `gorm:"index"`
	Name          string
	Trigger       string
	Schedule      string
	Event         string
	Condition     string // *Condition as JSON, empty when unset
	Actions       string // []Action as JSON
	Enabled       bool
	RetainBackups int
	LastRunAt     *time.Time
	LastStatus    string
	Runs          int
	CreatedAt     time.Time
}

type Content struct {
	ID          string `gorm:"primaryKey"`
	ServerID    string `gorm:"index"`
	Title       string
	Kind        string
	Files       string // []string as JSON
	Enabled     bool
	InstalledAt time.Time
}

type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	newLogger := gormlogger.New(
		log.New(os.Stdout, "", log.LstdFlags),
		gormlogger.Config{
			IgnoreRecordNotFoundError: true,
			LogLevel:                  gormlogger.Error,
		},
	)

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(&Server{}, &Network{}, &Membership{}, &Backup{}, &NetworkBackup{}, &Rule{}, &Content{})
	if err != nil {
		return nil, fmt.Errorf("error migrating database: %w", err)
	}

	return &GormStore{db: db}, nil
}

func serverToRecord(srv *domain.Server) (*Server, error) {
	launch, err := json.Marshal(srv.Launch)
	if err != nil {
		return nil, fmt.Errorf("error encoding launch config: %w", err)
	}
	return &Server{
		ID:            srv.ID,
		Name:          srv.Name,
		Address:       srv.Address,
		Port:          srv.Port,
		MaxPlayers:    srv.MaxPlayers,
		Version:       srv.Version,
		DataDir:       srv.DataDir,
		Launch:        string(launch),
		Status:        string(srv.Status),
		PID:           srv.PID,
		ProcessStart:  srv.ProcessStart,
		ConsolePort:   srv.ConsolePort,
		ConsoleSecret: srv.ConsoleSecret,
		LogPath:       srv.LogPath,
		CreatedAt:     srv.CreatedAt,
	}, nil
}

func recordToServer(gs *Server) (*domain.Server, error) {
	var launch domain.LaunchConfig
	if gs.Launch != "" {
		if err := json.Unmarshal([]byte(gs.Launch), &launch); err != nil {
			return nil, fmt.Errorf("error decoding launch config for %s: %w", gs.ID, err)
		}
	}
	return &domain.Server{
		ID:            gs.ID,
		Name:          gs.Name,
		Address:       gs.Address,
		Port:          gs.Port,
		MaxPlayers:    gs.MaxPlayers,
		Version:       gs.Version,
		DataDir:       gs.DataDir,
		Launch:        launch,
		Status:        domain.Status(gs.Status),
		PID:           gs.PID,
		ProcessStart:  gs.ProcessStart,
		ConsolePort:   gs.ConsolePort,
		ConsoleSecret: gs.ConsoleSecret,
		LogPath:       gs.LogPath,
		CreatedAt:     gs.CreatedAt,
	}, nil
}

func (s *GormStore) SaveServer(srv *domain.Server) error {
	rec, err := serverToRecord(srv)
	if err != nil {
		return err
	}
	return s.db.Save(rec).Error
}

func (s *GormStore) GetServerByID(id string) (*domain.Server, error) {
	var rec Server
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying server: %w", result.Error)
	}
	return recordToServer(&rec)
}

func (s *GormStore) ListServers() ([]domain.Server, error) {
	var recs []Server
	if err := s.db.Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}

	var servers []domain.Server
	for i := range recs {
		srv, err := recordToServer(&recs[i])
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, nil
}

func (s *GormStore) ListRecoveryCandidates() ([]domain.Server, error) {
	statuses := []string{
		string(domain.StatusRunning),
		string(domain.StatusStarting),
		string(domain.StatusOrphaned),
	}
	var recs []Server
	if err := s.db.Where("status IN ? AND pid > 0", statuses).Find(&recs).Error; err != nil {
		return nil, err
	}

	var servers []domain.Server
	for i := range recs {
		srv, err := recordToServer(&recs[i])
		if err != nil {
			return nil, err
		}
		servers = append(servers, *srv)
	}
	return servers, nil
}

func (s *GormStore) DeleteServer(id string) error {
	return s.db.Delete(&Server{}, "id = ?", id).Error
}

func (s *GormStore) UpdateStatus(id string, status domain.Status) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Update("status", string(status)).Error
}

func (s *GormStore) UpdateProcess(id string, pid int, startedAt time.Time) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Updates(map[string]interface{}{
		"pid":           pid,
		"process_start": startedAt,
	}).Error
}

func (s *GormStore) ClearProcess(id string) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Updates(map[string]interface{}{
		"pid":           0,
		"process_start": time.Time{},
	}).Error
}

func (s *GormStore) UpdateConsole(id string, port int, secret string) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Updates(map[string]interface{}{
		"console_port":   port,
		"console_secret": secret,
	}).Error
}

func (s *GormStore) UpdateLogPath(id string, path string) error {
	return s.db.Model(&Server{}).Where("id = ?", id).Update("log_path", path).Error
}

func (s *GormStore) SaveNetwork(n *domain.Network) error {
	return s.db.Save(&Network{
		ID:            n.ID,
		Name:          n.Name,
		Description:   n.Description,
		Type:          string(n.Type),
		StartOrder:    string(n.StartOrder),
		ProxyServerID: n.ProxyServerID,
		CreatedAt:     n.CreatedAt,
	}).Error
}

func recordToNetwork(rec *Network) *domain.Network {
	return &domain.Network{
		ID:            rec.ID,
		Name:          rec.Name,
		Description:   rec.Description,
		Type:          domain.NetworkType(rec.Type),
		StartOrder:    domain.StartOrder(rec.StartOrder),
		ProxyServerID: rec.ProxyServerID,
		CreatedAt:     rec.CreatedAt,
	}
}

func (s *GormStore) GetNetworkByID(id string) (*domain.Network, error) {
	var rec Network
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying network: %w", result.Error)
	}
	return recordToNetwork(&rec), nil
}

func (s *GormStore) ListNetworks() ([]domain.Network, error) {
	var recs []Network
	if err := s.db.Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	var networks []domain.Network
	for i := range recs {
		networks = append(networks, *recordToNetwork(&recs[i]))
	}
	return networks, nil
}

func (s *GormStore) DeleteNetwork(id string) error {
	if err := s.db.Delete(&Membership{}, "network_id = ?", id).Error; err != nil {
		return err
	}
	return s.db.Delete(&Network{}, "id = ?", id).Error
}

func (s *GormStore) SetNetworkProxy(id string, serverID string) error {
	return s.db.Model(&Network{}).Where("id = ?", id).Update("proxy_server_id", serverID).Error
}

func (s *GormStore) AddMembership(m *domain.Membership) error {
	return s.db.Create(&Membership{
		NetworkID: m.NetworkID,
		ServerID:  m.ServerID,
		Role:      string(m.Role),
		Position:  m.Position,
	}).Error
}

func (s *GormStore) RemoveMembership(networkID, serverID string) error {
	return s.db.Delete(&Membership{}, "network_id = ? AND server_id = ?", networkID, serverID).Error
}

func (s *GormStore) GetMembership(networkID, serverID string) (*domain.Membership, error) {
	var rec Membership
	result := s.db.First(&rec, "network_id = ? AND server_id = ?", networkID, serverID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying membership: %w", result.Error)
	}
	return &domain.Membership{
		NetworkID: rec.NetworkID,
		ServerID:  rec.ServerID,
		Role:      domain.Role(rec.Role),
		Position:  rec.Position,
	}, nil
}

func (s *GormStore) ListMemberships(networkID string) ([]domain.Membership, error) {
	var recs []Membership
	if err := s.db.Where("network_id = ?", networkID).Order("position").Find(&recs).Error; err != nil {
		return nil, err
	}
	var members []domain.Membership
	for _, rec := range recs {
		members = append(members, domain.Membership{
			NetworkID: rec.NetworkID,
			ServerID:  rec.ServerID,
			Role:      domain.Role(rec.Role),
			Position:  rec.Position,
		})
	}
	return members, nil
}

func (s *GormStore) FindMembershipByServer(serverID string) (*domain.Membership, error) {
	var rec Membership
	result := s.db.First(&rec, "server_id = ?", serverID)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying membership: %w", result.Error)
	}
	return &domain.Membership{
		NetworkID: rec.NetworkID,
		ServerID:  rec.ServerID,
		Role:      domain.Role(rec.Role),
		Position:  rec.Position,
	}, nil
}

func (s *GormStore) UpdatePositions(networkID string, orderedServerIDs []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		for i, serverID := range orderedServerIDs {
			err := tx.Model(&Membership{}).
				Where("network_id = ? AND server_id = ?", networkID, serverID).
				Update("position", i).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func backupToRecord(b *domain.Backup) (*Backup, error) {
	skipped, err := json.Marshal(b.Skipped)
	if err != nil {
		return nil, fmt.Errorf("error encoding skipped files: %w", err)
	}
	return &Backup{
		ID:              b.ID,
		ServerID:        b.ServerID,
		Name:            b.Name,
		Storage:         string(b.Storage),
		Path:            b.Path,
		Status:          string(b.Status),
		SizeBytes:       b.SizeBytes,
		FilesScanned:    b.FilesScanned,
		FilesArchived:   b.FilesArchived,
		Skipped:         string(skipped),
		Error:           b.Error,
		RuleID:          b.RuleID,
		NetworkBackupID: b.NetworkBackupID,
		CreatedAt:       b.CreatedAt,
		CompletedAt:     b.CompletedAt,
	}, nil
}

func recordToBackup(rec *Backup) (*domain.Backup, error) {
	var skipped []domain.SkippedFile
	if rec.Skipped != "" {
		if err := json.Unmarshal([]byte(rec.Skipped), &skipped); err != nil {
			return nil, fmt.Errorf("error decoding skipped files for %s: %w", rec.ID, err)
		}
	}
	return &domain.Backup{
		ID:              rec.ID,
		ServerID:        rec.ServerID,
		Name:            rec.Name,
		Storage:         domain.StorageKind(rec.Storage),
		Path:            rec.Path,
		Status:          domain.BackupStatus(rec.Status),
		SizeBytes:       rec.SizeBytes,
		FilesScanned:    rec.FilesScanned,
		FilesArchived:   rec.FilesArchived,
		Skipped:         skipped,
		Error:           rec.Error,
		RuleID:          rec.RuleID,
		NetworkBackupID: rec.NetworkBackupID,
		CreatedAt:       rec.CreatedAt,
		CompletedAt:     rec.CompletedAt,
	}, nil
}

func (s *GormStore) SaveBackup(b *domain.Backup) error {
	rec, err := backupToRecord(b)
	if err != nil {
		return err
	}
	return s.db.Create(rec).Error
}

func (s *GormStore) UpdateBackup(b *domain.Backup) error {
	rec, err := backupToRecord(b)
	if err != nil {
		return err
	}
	return s.db.Save(rec).Error
}

func (s *GormStore) GetBackupByID(id string) (*domain.Backup, error) {
	var rec Backup
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying backup: %w", result.Error)
	}
	return recordToBackup(&rec)
}

func (s *GormStore) ListBackups(serverID string) ([]domain.Backup, error) {
	var recs []Backup
	q := s.db.Order("created_at DESC")
	if serverID != "" {
		q = q.Where("server_id = ?", serverID)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	var backups []domain.Backup
	for i := range recs {
		b, err := recordToBackup(&recs[i])
		if err != nil {
			return nil, err
		}
		backups = append(backups, *b)
	}
	return backups, nil
}

func (s *GormStore) ListCompletedByRule(ruleID string) ([]domain.Backup, error) {
	var recs []Backup
	err := s.db.
		Where("rule_id = ? AND status = ?", ruleID, string(domain.BackupCompleted)).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}
	var backups []domain.Backup
	for i := range recs {
		b, err := recordToBackup(&recs[i])
		if err != nil {
			return nil, err
		}
		backups = append(backups, *b)
	}
	return backups, nil
}

func (s *GormStore) DeleteBackup(id string) error {
	return s.db.Delete(&Backup{}, "id = ?", id).Error
}

func (s *GormStore) SaveNetworkBackup(nb *domain.NetworkBackup) error {
	return s.db.Save(&NetworkBackup{
		ID:        nb.ID,
		NetworkID: nb.NetworkID,
		Status:    string(nb.Status),
		CreatedAt: nb.CreatedAt,
	}).Error
}

func (s *GormStore) UpdateNetworkBackupStatus(id string, status domain.BackupStatus) error {
	return s.db.Model(&NetworkBackup{}).Where("id = ?", id).Update("status", string(status)).Error
}

func (s *GormStore) GetNetworkBackupByID(id string) (*domain.NetworkBackup, error) {
	var rec NetworkBackup
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying network backup: %w", result.Error)
	}
	return &domain.NetworkBackup{
		ID:        rec.ID,
		NetworkID: rec.NetworkID,
		Status:    domain.BackupStatus(rec.Status),
		CreatedAt: rec.CreatedAt,
	}, nil
}

func ruleToRecord(r *domain.AutomationRule) (*Rule, error) {
	actions, err := json.Marshal(r.Actions)
	if err != nil {
		return nil, fmt.Errorf("error encoding actions: %w", err)
	}
	condition := ""
	if r.Condition != nil {
		raw, err := json.Marshal(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("error encoding condition: %w", err)
		}
		condition = string(raw)
	}
	return &Rule{
		ID:            r.ID,
		ServerID:      r.ServerID,
		Name:          r.Name,
		Trigger:       string(r.Trigger),
		Schedule:      r.Schedule,
		Event:         string(r.Event),
		Condition:     condition,
		Actions:       string(actions),
		Enabled:       r.Enabled,
		RetainBackups: r.RetainBackups,
		LastRunAt:     r.LastRunAt,
		LastStatus:    r.LastStatus,
		Runs:          r.Runs,
		CreatedAt:     r.CreatedAt,
	}, nil
}

func recordToRule(rec *Rule) (*domain.AutomationRule, error) {
	var actions []domain.Action
	if rec.Actions != "" {
		if err := json.Unmarshal([]byte(rec.Actions), &actions); err != nil {
			return nil, fmt.Errorf("error decoding actions for %s: %w", rec.ID, err)
		}
	}
	var condition *domain.Condition
	if rec.Condition != "" {
		condition = &domain.Condition{}
		if err := json.Unmarshal([]byte(rec.Condition), condition); err != nil {
			return nil, fmt.Errorf("error decoding condition for %s: %w", rec.ID, err)
		}
	}
	return &domain.AutomationRule{
		ID:            rec.ID,
		ServerID:      rec.ServerID,
		Name:          rec.Name,
		Trigger:       domain.TriggerKind(rec.Trigger),
		Schedule:      rec.Schedule,
		Event:         domain.EventKind(rec.Event),
		Condition:     condition,
		Actions:       actions,
		Enabled:       rec.Enabled,
		RetainBackups: rec.RetainBackups,
		LastRunAt:     rec.LastRunAt,
		LastStatus:    rec.LastStatus,
		Runs:          rec.Runs,
		CreatedAt:     rec.CreatedAt,
	}, nil
}

func (s *GormStore) SaveRule(r *domain.AutomationRule) error {
	rec, err := ruleToRecord(r)
	if err != nil {
		return err
	}
	return s.db.Save(rec).Error
}

func (s *GormStore) GetRuleByID(id string) (*domain.AutomationRule, error) {
	var rec Rule
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying rule: %w", result.Error)
	}
	return recordToRule(&rec)
}

func (s *GormStore) ListRules(serverID string) ([]domain.AutomationRule, error) {
	var recs []Rule
	q := s.db.Order("created_at")
	if serverID != "" {
		q = q.Where("server_id = ?", serverID)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	var rules []domain.AutomationRule
	for i := range recs {
		r, err := recordToRule(&recs[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, nil
}

func (s *GormStore) ListEnabledRules() ([]domain.AutomationRule, error) {
	var recs []Rule
	if err := s.db.Where("enabled = ?", true).Find(&recs).Error; err != nil {
		return nil, err
	}
	var rules []domain.AutomationRule
	for i := range recs {
		r, err := recordToRule(&recs[i])
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, nil
}

func (s *GormStore) DeleteRule(id string) error {
	return s.db.Delete(&Rule{}, "id = ?", id).Error
}

func (s *GormStore) RecordRuleRun(id string, at time.Time, status string) error {
	return s.db.Model(&Rule{}).Where("id = ?", id).Updates(map[string]interface{}{
		"last_run_at": at,
		"last_status": status,
		"runs":        gorm.Expr("runs + 1"),
	}).Error
}

func (s *GormStore) SaveContent(c *domain.ContentItem) error {
	files, err := json.Marshal(c.Files)
	if err != nil {
		return fmt.Errorf("error encoding content files: %w", err)
	}
	return s.db.Save(&Content{
		ID:          c.ID,
		ServerID:    c.ServerID,
		Title:       c.Title,
		Kind:        string(c.Kind),
		Files:       string(files),
		Enabled:     c.Enabled,
		InstalledAt: c.InstalledAt,
	}).Error
}

func recordToContent(rec *Content) (*domain.ContentItem, error) {
	var files []string
	if rec.Files != "" {
		if err := json.Unmarshal([]byte(rec.Files), &files); err != nil {
			return nil, fmt.Errorf("error decoding content files for %s: %w", rec.ID, err)
		}
	}
	return &domain.ContentItem{
		ID:          rec.ID,
		ServerID:    rec.ServerID,
		Title:       rec.Title,
		Kind:        domain.ContentKind(rec.Kind),
		Files:       files,
		Enabled:     rec.Enabled,
		InstalledAt: rec.InstalledAt,
	}, nil
}

func (s *GormStore) GetContentByID(id string) (*domain.ContentItem, error) {
	var rec Content
	result := s.db.First(&rec, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("error querying content: %w", result.Error)
	}
	return recordToContent(&rec)
}

func (s *GormStore) ListContent(serverID string) ([]domain.ContentItem, error) {
	var recs []Content
	if err := s.db.Where("server_id = ?", serverID).Order("installed_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	var items []domain.ContentItem
	for i := range recs {
		c, err := recordToContent(&recs[i])
		if err != nil {
			return nil, err
		}
		items = append(items, *c)
	}
	return items, nil
}

func (s *GormStore) UpdateContentFiles(id string, files []string, enabled bool) error {
	raw, err := json.Marshal(files)
	if err != nil {
		return fmt.Errorf("error encoding content files: %w", err)
	}
	return s.db.Model(&Content{}).Where("id = ?", id).Updates(map[string]interface{}{
		"files":   string(raw),
		"enabled": enabled,
	}).Error
}

func (s *GormStore) DeleteContent(id string) error {
	return s.db.Delete(&Content{}, "id = ?", id).Error
}
