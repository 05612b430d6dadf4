package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BackupData is the exported state of one WireGuard-family backend. The
// string fields may be empty, as on a fresh backend, but their keys must be
// present in a decoded document.
type BackupData struct {
	WgConfig        string             `json:"wgConfig"`
	PresharedKey    string             `json:"presharedKey"`
	ServerPublicKey string             `json:"serverPublicKey"`
	Clients         []ClientTableEntry `json:"clients" validate:"required"`
}

func (d *BackupData) UnmarshalJSON(data []byte) error {
	if err := requireKeys(data, "backup payload", "wgConfig", "presharedKey", "serverPublicKey", "clients"); err != nil {
		return err
	}
	type plain BackupData
	return json.Unmarshal(data, (*plain)(d))
}

// ServerBackup bundles the backup data of every enabled protocol
type ServerBackup struct {
	GeneratedAt time.Time   `json:"generatedAt"`
	ServerID    *string     `json:"serverId"`
	Protocols   []Protocol  `json:"protocols"`
	Amnezia     *BackupData `json:"amnezia,omitempty"`
	AmneziaWg2  *BackupData `json:"amneziaWg2,omitempty"`
}

// UnmarshalJSON requires the generatedAt and serverId keys; serverId may be null.
func (b *ServerBackup) UnmarshalJSON(data []byte) error {
	if err := requireKeys(data, "backup", "generatedAt", "serverId", "protocols"); err != nil {
		return err
	}
	type plain ServerBackup
	return json.Unmarshal(data, (*plain)(b))
}

// requireKeys fails with ErrValidation when the JSON object data lacks one of keys.
func requireKeys(data []byte, what string, keys ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrValidation, what, err)
	}
	var missing []string
	for _, k := range keys {
		if _, ok := fields[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s lacks %s", ErrValidation, what, strings.Join(missing, ", "))
	}
	return nil
}

// ServerStatus model
type ServerStatus struct {
	ID         string     `json:"id"`
	Region     string     `json:"region"`
	Weight     int        `json:"weight"`
	MaxPeers   int        `json:"maxPeers"`
	TotalPeers int        `json:"totalPeers"`
	Protocols  []Protocol `json:"protocols"`
}

// BackupSnapshot is an archived ServerBackup kept in the local database
type BackupSnapshot struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	Backup    ServerBackup `json:"backup"`
}
