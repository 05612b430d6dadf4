package store

import (
	"github.com/awgpanel/awg-manager/model"
)

// IStore archives exported server backups.
type IStore interface {
	Init() error
	GetBackups() ([]model.BackupSnapshot, error)
	GetBackupByID(backupID string) (model.BackupSnapshot, error)
	SaveBackup(backup model.ServerBackup) (model.BackupSnapshot, error)
	DeleteBackup(backupID string) error
	// PruneBackups keeps the newest keep snapshots and returns how many were removed.
	PruneBackups(keep int) (int, error)
}
