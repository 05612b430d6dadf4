package service

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"
	"gopkg.in/go-playground/validator.v9"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/store"
)

// ServerInfo is the static identity of this server
type ServerInfo struct {
	ID       string
	Region   string
	Weight   int
	MaxPeers int
}

// Server reports status and moves whole-server backups in and out.
type Server struct {
	clients *Clients
	db      store.IStore
	info    ServerInfo
	// keep is the number of archived snapshots retained, 0 for all.
	keep     int
	monitor  *HostMonitor
	validate *validator.Validate
	now      func() time.Time
}

// NewServer returns a Server. db may be nil, which disables the archive;
// monitor may be nil, which disables load reports and reboots.
func NewServer(clients *Clients, db store.IStore, info ServerInfo, keep int, monitor *HostMonitor) *Server {
	return &Server{
		clients:  clients,
		db:       db,
		info:     info,
		keep:     keep,
		monitor:  monitor,
		validate: validator.New(),
		now:      time.Now,
	}
}

func (s *Server) Status(ctx context.Context) (model.ServerStatus, error) {
	total, err := s.clients.TotalPeers(ctx)
	if err != nil {
		return model.ServerStatus{}, err
	}
	return model.ServerStatus{
		ID:         s.info.ID,
		Region:     s.info.Region,
		Weight:     s.info.Weight,
		MaxPeers:   s.info.MaxPeers,
		TotalPeers: total,
		Protocols:  s.clients.EnabledProtocols(ctx),
	}, nil
}

// ExportBackup collects the backup of every enabled protocol. It has no
// side effects; ArchiveBackup also stores the result.
func (s *Server) ExportBackup(ctx context.Context) (model.ServerBackup, error) {
	enabled, err := s.clients.enabled(ctx)
	if err != nil {
		return model.ServerBackup{}, err
	}
	backup := model.ServerBackup{
		GeneratedAt: s.now().UTC(),
		Protocols:   enabled,
	}
	if s.info.ID != "" {
		id := s.info.ID
		backup.ServerID = &id
	}
	for _, p := range enabled {
		data, err := s.clients.services[p].ExportBackup(ctx)
		if err != nil {
			return model.ServerBackup{}, err
		}
		setBackupData(&backup, p, &data)
	}
	return backup, nil
}

// ArchiveBackup exports a backup, stores it as a snapshot and prunes the
// archive down to the retention. A failed prune is only logged.
func (s *Server) ArchiveBackup(ctx context.Context) (model.BackupSnapshot, error) {
	if s.db == nil {
		return model.BackupSnapshot{}, fmt.Errorf("%w: backup archive is disabled", model.ErrServiceUnavailable)
	}
	backup, err := s.ExportBackup(ctx)
	if err != nil {
		return model.BackupSnapshot{}, err
	}
	snapshot, err := s.db.SaveBackup(backup)
	if err != nil {
		return model.BackupSnapshot{}, fmt.Errorf("cannot archive backup: %w", err)
	}
	log.Infof("Archived backup %s", snapshot.ID)
	if removed, err := s.db.PruneBackups(s.keep); err != nil {
		log.Warnf("Cannot prune archived backups: %v", err)
	} else if removed > 0 {
		log.Debugf("Pruned %d archived backups", removed)
	}
	return snapshot, nil
}

// ImportBackup validates the whole bundle before any protocol is touched.
func (s *Server) ImportBackup(ctx context.Context, backup model.ServerBackup) error {
	if err := s.ValidateBackup(backup); err != nil {
		return err
	}
	for _, p := range backup.Protocols {
		service, ok := s.clients.services[p]
		if !ok {
			return fmt.Errorf("%w: protocol %s is not served", model.ErrValidation, p)
		}
		if err := service.ImportBackup(ctx, *backupData(backup, p)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBackup checks that the bundle is dated and that every listed
// protocol is known and carries a payload with a clients array. Empty
// config and key strings are accepted: a fresh backend exports them.
func (s *Server) ValidateBackup(backup model.ServerBackup) error {
	if backup.GeneratedAt.IsZero() {
		return fmt.Errorf("%w: backup has no generatedAt", model.ErrValidation)
	}
	if len(backup.Protocols) == 0 {
		return fmt.Errorf("%w: backup lists no protocols", model.ErrValidation)
	}
	for _, p := range backup.Protocols {
		if _, err := model.ParseProtocol(string(p)); err != nil {
			return err
		}
		data := backupData(backup, p)
		if data == nil {
			return fmt.Errorf("%w: backup lacks the %s payload", model.ErrValidation, p)
		}
		if err := s.validate.Struct(data); err != nil {
			return fmt.Errorf("%w: %s payload: %v", model.ErrValidation, p, err)
		}
	}
	return nil
}

func (s *Server) ListBackups() ([]model.BackupSnapshot, error) {
	if s.db == nil {
		return []model.BackupSnapshot{}, nil
	}
	return s.db.GetBackups()
}

// RestoreBackup imports an archived snapshot.
func (s *Server) RestoreBackup(ctx context.Context, backupID string) error {
	if s.db == nil {
		return fmt.Errorf("%w: backup %s", model.ErrNotFound, backupID)
	}
	snapshot, err := s.db.GetBackupByID(backupID)
	if err != nil {
		return err
	}
	log.Infof("Restoring backup %s from %s", snapshot.ID, snapshot.CreatedAt.Format(time.RFC3339))
	return s.ImportBackup(ctx, snapshot.Backup)
}

// Load samples the host and backend container load.
func (s *Server) Load(ctx context.Context) (model.ServerLoad, error) {
	if s.monitor == nil {
		return model.ServerLoad{}, fmt.Errorf("%w: load reports are disabled", model.ErrServiceUnavailable)
	}
	return s.monitor.Load(ctx), nil
}

// Reboot asks the host to reboot.
func (s *Server) Reboot(ctx context.Context) error {
	if s.monitor == nil {
		return fmt.Errorf("%w: host access is disabled", model.ErrServiceUnavailable)
	}
	return s.monitor.Reboot(ctx)
}

func backupData(b model.ServerBackup, p model.Protocol) *model.BackupData {
	switch p {
	case model.ProtocolAmneziaWG:
		return b.Amnezia
	case model.ProtocolAmneziaWG2:
		return b.AmneziaWg2
	}
	return nil
}

func setBackupData(b *model.ServerBackup, p model.Protocol, data *model.BackupData) {
	switch p {
	case model.ProtocolAmneziaWG:
		b.Amnezia = data
	case model.ProtocolAmneziaWG2:
		b.AmneziaWg2 = data
	}
}
