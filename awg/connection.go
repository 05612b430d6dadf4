package awg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/shell"
)

// Store is the persistence a Service works against.
type Store interface {
	ReadConfig(ctx context.Context) (string, error)
	WriteConfig(ctx context.Context, content string) error
	ReadClientTable(ctx context.Context) ([]model.ClientTableEntry, error)
	WriteClientTable(ctx context.Context, table []model.ClientTableEntry) error
	ReadServerPublicKey(ctx context.Context) (string, error)
	WriteServerPublicKey(ctx context.Context, key string) error
	ReadPresharedKey(ctx context.Context) (string, error)
	WritePresharedKey(ctx context.Context, key string) error
	// Dump returns the runtime peer dump, empty when the backend has no interface.
	Dump(ctx context.Context) (string, error)
	// Sync makes the running interface adopt the configuration document.
	Sync(ctx context.Context) error
	GenerateKeyPair(ctx context.Context) (privateKey, publicKey string, err error)
}

// Connection implements Store with shell commands run inside the backend runtime.
type Connection struct {
	backend Backend
	runner  shell.Runner
}

// NewConnection returns a Connection to b
func NewConnection(b Backend, runner shell.Runner) *Connection {
	return &Connection{backend: b, runner: runner}
}

var _ Store = (*Connection)(nil)

func (c *Connection) run(ctx context.Context, cmd string) (shell.Result, error) {
	return c.runner.Run(ctx, cmd, shell.Options{})
}

// ReadFile returns the content of path, or an empty string when it does not exist.
func (c *Connection) ReadFile(ctx context.Context, path string) (string, error) {
	res, err := c.run(ctx, fmt.Sprintf("cat %s 2>/dev/null || true", shell.Quote(path)))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// WriteFile replaces path with content, byte for byte.
func (c *Connection) WriteFile(ctx context.Context, path, content string) error {
	if content == "" {
		_, err := c.run(ctx, fmt.Sprintf(": > %s", shell.Quote(path)))
		return err
	}
	_, err := c.runner.Run(ctx, fmt.Sprintf("cat > %s", shell.Quote(path)), shell.Options{Stdin: content})
	return err
}

func (c *Connection) ReadConfig(ctx context.Context) (string, error) {
	return c.ReadFile(ctx, c.backend.Paths.Config)
}

func (c *Connection) WriteConfig(ctx context.Context, content string) error {
	return c.WriteFile(ctx, c.backend.Paths.Config, content)
}

func (c *Connection) ReadServerPublicKey(ctx context.Context) (string, error) {
	key, err := c.ReadFile(ctx, c.backend.Paths.ServerPublicKey)
	return strings.TrimSpace(key), err
}

func (c *Connection) WriteServerPublicKey(ctx context.Context, key string) error {
	return c.WriteFile(ctx, c.backend.Paths.ServerPublicKey, strings.TrimSpace(key)+"\n")
}

func (c *Connection) ReadPresharedKey(ctx context.Context) (string, error) {
	key, err := c.ReadFile(ctx, c.backend.Paths.PresharedKey)
	return strings.TrimSpace(key), err
}

func (c *Connection) WritePresharedKey(ctx context.Context, key string) error {
	return c.WriteFile(ctx, c.backend.Paths.PresharedKey, strings.TrimSpace(key)+"\n")
}

func (c *Connection) Dump(ctx context.Context) (string, error) {
	if c.backend.Interface == "" {
		return "", nil
	}
	res, err := c.run(ctx, fmt.Sprintf("%s show %s dump", c.backend.Tool, c.backend.Interface))
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

func (c *Connection) Sync(ctx context.Context) error {
	if c.backend.Interface == "" {
		return nil
	}
	// strip into a temp file: process substitution is not available in every sh
	cmd := fmt.Sprintf(`tmp=$(mktemp) && %s strip %s > "$tmp" && %s syncconf %s "$tmp"; rc=$?; rm -f "$tmp"; exit $rc`,
		c.backend.QuickTool, shell.Quote(c.backend.Paths.Config), c.backend.Tool, c.backend.Interface)
	_, err := c.run(ctx, cmd)
	return err
}

func (c *Connection) GenerateKeyPair(ctx context.Context) (string, string, error) {
	res, err := c.run(ctx, fmt.Sprintf("%s genkey", c.backend.Tool))
	if err != nil {
		return "", "", err
	}
	privateKey := strings.TrimSpace(res.Stdout)
	res, err = c.runner.Run(ctx, fmt.Sprintf("%s pubkey", c.backend.Tool), shell.Options{Stdin: privateKey + "\n"})
	if err != nil {
		return "", "", err
	}
	return privateKey, strings.TrimSpace(res.Stdout), nil
}

// ReadClientTable reads the client table. The legacy object-shaped table and
// entries keyed by the legacy publicKey field are normalized; when that
// changed anything the normalized table is written back once.
func (c *Connection) ReadClientTable(ctx context.Context) ([]model.ClientTableEntry, error) {
	raw, err := c.ReadFile(ctx, c.backend.Paths.ClientsTable)
	if err != nil {
		return nil, err
	}
	table, migrated, err := DecodeClientTable([]byte(raw))
	if err != nil {
		return nil, err
	}
	if migrated {
		log.Infof("Migrating legacy client table of %s to the current format", c.backend.Protocol)
		if err := c.WriteClientTable(ctx, table); err != nil {
			return nil, fmt.Errorf("cannot write migrated client table: %w", err)
		}
	}
	return table, nil
}

func (c *Connection) WriteClientTable(ctx context.Context, table []model.ClientTableEntry) error {
	if table == nil {
		table = []model.ClientTableEntry{}
	}
	data, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("cannot encode client table: %w", err)
	}
	return c.WriteFile(ctx, c.backend.Paths.ClientsTable, string(data))
}

// DecodeClientTable parses both table formats: the current JSON array and the
// legacy object keyed by client id. migrated is true when the result differs
// from the stored form.
func DecodeClientTable(data []byte) (table []model.ClientTableEntry, migrated bool, err error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return []model.ClientTableEntry{}, false, nil
	}
	switch data[0] {
	case '[':
		if err := json.Unmarshal(data, &table); err != nil {
			return nil, false, fmt.Errorf("cannot decode client table: %w", err)
		}
	case '{':
		table, err = decodeLegacyTable(data)
		if err != nil {
			return nil, false, err
		}
		migrated = true
	default:
		return nil, false, fmt.Errorf("cannot decode client table: unexpected %q", data[0])
	}
	if NormalizeClientTable(table) {
		migrated = true
	}
	if table == nil {
		table = []model.ClientTableEntry{}
	}
	return table, migrated, nil
}

// NormalizeClientTable folds the legacy publicKey field into clientId.
func NormalizeClientTable(table []model.ClientTableEntry) bool {
	changed := false
	for i := range table {
		e := &table[i]
		if e.PublicKey == "" {
			continue
		}
		if e.ClientID == "" {
			e.ClientID = e.PublicKey
		}
		e.PublicKey = ""
		changed = true
	}
	return changed
}

// decodeLegacyTable keeps the key order of the object.
func decodeLegacyTable(data []byte) ([]model.ClientTableEntry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("cannot decode legacy client table: %w", err)
	}
	table := []model.ClientTableEntry{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("cannot decode legacy client table: %w", err)
		}
		clientID, _ := tok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("cannot decode legacy client table entry %s: %w", clientID, err)
		}
		entry := model.ClientTableEntry{ClientID: clientID}
		value = bytes.TrimSpace(value)
		if len(value) > 0 && value[0] == '{' {
			userData := new(model.UserData)
			if err := json.Unmarshal(value, userData); err != nil {
				return nil, fmt.Errorf("cannot decode legacy client table entry %s: %w", clientID, err)
			}
			entry.UserData = userData
		}
		table = append(table, entry)
	}
	return table, nil
}
