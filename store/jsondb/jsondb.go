package jsondb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"time"

	"github.com/rs/xid"
	"github.com/sdomino/scribble"

	"github.com/awgpanel/awg-manager/model"
)

const backupsCollection = "backups"

type JsonDB struct {
	conn   *scribble.Driver
	dbPath string
	now    func() time.Time
}

// New returns a new pointer JsonDB
func New(dbPath string) (*JsonDB, error) {
	conn, err := scribble.New(dbPath, nil)
	if err != nil {
		return nil, err
	}
	ans := JsonDB{
		conn:   conn,
		dbPath: dbPath,
		now:    time.Now,
	}
	return &ans, nil
}

func (o *JsonDB) Init() error {
	var backupsPath string = path.Join(o.dbPath, backupsCollection)

	// create directories if they do not exist
	if _, err := os.Stat(backupsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(backupsPath, os.ModePerm); err != nil {
			return err
		}
	}
	return nil
}

// GetBackups func to query all archived backups, newest first
func (o *JsonDB) GetBackups() ([]model.BackupSnapshot, error) {
	var backups []model.BackupSnapshot

	records, err := o.conn.ReadAll(backupsCollection)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil
		}
		return backups, err
	}

	for _, f := range records {
		snapshot := model.BackupSnapshot{}
		if err := json.Unmarshal([]byte(f), &snapshot); err != nil {
			return backups, fmt.Errorf("cannot decode backup json structure: %v", err)
		}
		backups = append(backups, snapshot)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// GetBackupByID func to query a single archived backup
func (o *JsonDB) GetBackupByID(backupID string) (model.BackupSnapshot, error) {
	snapshot := model.BackupSnapshot{}
	if _, err := xid.FromString(backupID); err != nil {
		return snapshot, fmt.Errorf("%w: backup %s", model.ErrNotFound, backupID)
	}
	if err := o.conn.Read(backupsCollection, backupID, &snapshot); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snapshot, fmt.Errorf("%w: backup %s", model.ErrNotFound, backupID)
		}
		return snapshot, err
	}
	return snapshot, nil
}

// SaveBackup func to archive a backup under a new id
func (o *JsonDB) SaveBackup(backup model.ServerBackup) (model.BackupSnapshot, error) {
	snapshot := model.BackupSnapshot{
		ID:        xid.New().String(),
		CreatedAt: o.now().UTC(),
		Backup:    backup,
	}
	return snapshot, o.conn.Write(backupsCollection, snapshot.ID, snapshot)
}

// DeleteBackup func to remove an archived backup
func (o *JsonDB) DeleteBackup(backupID string) error {
	if _, err := o.GetBackupByID(backupID); err != nil {
		return err
	}
	return o.conn.Delete(backupsCollection, backupID)
}

func (o *JsonDB) PruneBackups(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	backups, err := o.GetBackups()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, b := range backups[min(keep, len(backups)):] {
		if err := o.conn.Delete(backupsCollection, b.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
