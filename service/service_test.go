package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/awgpanel/awg-manager/awg"
	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/shell"
)

type fakeProtocol struct {
	protocol   model.Protocol
	records    []model.ClientRecord
	deleted    bool
	cleanup    int
	cleanupErr error
	backup     model.BackupData
	imported   *model.BackupData
	updated    awg.UpdateOptions
}

func (f *fakeProtocol) Protocol() model.Protocol { return f.protocol }

func (f *fakeProtocol) ListClients(context.Context) ([]model.ClientRecord, error) {
	return f.records, nil
}

func (f *fakeProtocol) CreateClient(_ context.Context, name string, _ awg.CreateOptions) (model.CreateClientResult, error) {
	return model.CreateClientResult{ID: name, Protocol: f.protocol}, nil
}

func (f *fakeProtocol) UpdateClient(_ context.Context, _ string, opts awg.UpdateOptions) error {
	f.updated = opts
	return nil
}

func (f *fakeProtocol) DeleteClient(context.Context, string) (bool, error) { return f.deleted, nil }

func (f *fakeProtocol) CleanupExpiredClients(context.Context, time.Time) (int, error) {
	return f.cleanup, f.cleanupErr
}

func (f *fakeProtocol) ExportBackup(context.Context) (model.BackupData, error) { return f.backup, nil }

func (f *fakeProtocol) ImportBackup(_ context.Context, data model.BackupData) error {
	f.imported = &data
	return nil
}

func peer(id string, p model.Protocol) model.PeerView {
	return model.PeerView{ID: id, AllowedIPs: []string{}, Status: model.PeerStatusActive, Protocol: p}
}

func fixture() (*fakeProtocol, *fakeProtocol) {
	v1 := &fakeProtocol{
		protocol: model.ProtocolAmneziaWG,
		records: []model.ClientRecord{
			{Username: "alice", Peers: []model.PeerView{peer("A1", model.ProtocolAmneziaWG)}},
			{Username: "bob", Peers: []model.PeerView{peer("B1", model.ProtocolAmneziaWG)}},
		},
		backup: model.BackupData{WgConfig: "v1", PresharedKey: "psk", ServerPublicKey: "pub", Clients: []model.ClientTableEntry{}},
	}
	v2 := &fakeProtocol{
		protocol: model.ProtocolAmneziaWG2,
		records: []model.ClientRecord{
			{Username: "alice", Peers: []model.PeerView{peer("A2", model.ProtocolAmneziaWG2)}},
		},
		backup: model.BackupData{WgConfig: "v2", PresharedKey: "psk", ServerPublicKey: "pub", Clients: []model.ClientTableEntry{}},
	}
	return v1, v2
}

func TestListClientsMergesProtocols(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)

	got, err := c.ListClients(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := []model.ClientRecord{
		{Username: "alice", Peers: []model.PeerView{peer("A1", model.ProtocolAmneziaWG), peer("A2", model.ProtocolAmneziaWG2)}},
		{Username: "bob", Peers: []model.PeerView{peer("B1", model.ProtocolAmneziaWG)}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListClients mismatch (-want +got):\n%s", diff)
	}
}

func TestEnabledProtocolsDetected(t *testing.T) {
	v1, v2 := fixture()
	detect := func(context.Context) []model.Protocol { return []model.Protocol{model.ProtocolAmneziaWG2} }
	c := NewClients([]ProtocolService{v1, v2}, nil, detect)

	if diff := cmp.Diff([]model.Protocol{model.ProtocolAmneziaWG2}, c.EnabledProtocols(context.Background())); diff != "" {
		t.Errorf("EnabledProtocols mismatch (-want +got):\n%s", diff)
	}
	_, err := c.CreateClient(context.Background(), model.CreateClientPayload{ClientName: "x", Protocol: model.ProtocolAmneziaWG})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("create on a disabled protocol = %v, want ErrValidation", err)
	}
}

func TestNoProtocolsAvailable(t *testing.T) {
	c := NewClients(nil, nil, func(context.Context) []model.Protocol { return nil })
	ctx := context.Background()
	if _, err := c.ListClients(ctx); !errors.Is(err, model.ErrServiceUnavailable) {
		t.Errorf("ListClients = %v, want ErrServiceUnavailable", err)
	}
	if _, err := c.CleanupExpiredClients(ctx, time.Now()); !errors.Is(err, model.ErrServiceUnavailable) {
		t.Errorf("CleanupExpiredClients = %v, want ErrServiceUnavailable", err)
	}
}

func TestUnknownProtocol(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)
	err := c.DeleteClient(context.Background(), model.DeleteClientPayload{ClientID: "A1", Protocol: "xray"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("DeleteClient = %v, want ErrValidation", err)
	}
}

func TestDeleteClientNotFound(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)
	err := c.DeleteClient(context.Background(), model.DeleteClientPayload{ClientID: "nope", Protocol: model.ProtocolAmneziaWG})
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("DeleteClient = %v, want ErrNotFound", err)
	}
	v1.deleted = true
	if err := c.DeleteClient(context.Background(), model.DeleteClientPayload{ClientID: "A1", Protocol: model.ProtocolAmneziaWG}); err != nil {
		t.Errorf("DeleteClient = %v", err)
	}
}

func TestUpdateClientPassesOptions(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)
	status := model.PeerStatusDisabled
	req := model.UpdateClientPayload{
		ClientID:  "A2",
		Protocol:  model.ProtocolAmneziaWG2,
		ExpiresAt: model.OptionalInt64{Set: true},
		Status:    &status,
	}
	if err := c.UpdateClient(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	want := awg.UpdateOptions{ExpiresAtSet: true, Status: &status}
	if diff := cmp.Diff(want, v2.updated); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}
}

func TestCleanupSkipsFailingBackend(t *testing.T) {
	v1, v2 := fixture()
	v1.cleanupErr = model.ErrTransportUnavailable
	v2.cleanup = 3
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)

	n, err := c.CleanupExpiredClients(context.Background(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("cleanup total = %d, want 3", n)
	}
}

// memArchive is an in-memory store.IStore.
type memArchive struct {
	saved []model.ServerBackup
	kept  int
}

func (m *memArchive) Init() error { return nil }

func (m *memArchive) GetBackups() ([]model.BackupSnapshot, error) {
	var out []model.BackupSnapshot
	for i, b := range m.saved {
		out = append(out, model.BackupSnapshot{ID: string(rune('a' + i)), Backup: b})
	}
	return out, nil
}

func (m *memArchive) GetBackupByID(id string) (model.BackupSnapshot, error) {
	backups, _ := m.GetBackups()
	for _, b := range backups {
		if b.ID == id {
			return b, nil
		}
	}
	return model.BackupSnapshot{}, model.ErrNotFound
}

func (m *memArchive) SaveBackup(b model.ServerBackup) (model.BackupSnapshot, error) {
	m.saved = append(m.saved, b)
	return model.BackupSnapshot{ID: string(rune('a' + len(m.saved) - 1)), Backup: b}, nil
}

func (m *memArchive) DeleteBackup(string) error { return nil }

func (m *memArchive) PruneBackups(keep int) (int, error) {
	m.kept = keep
	return 0, nil
}

func TestServerStatus(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)
	s := NewServer(c, nil, ServerInfo{ID: "srv-1", Region: "eu", Weight: 5, MaxPeers: 100}, 0, nil)

	got, err := s.Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := model.ServerStatus{ID: "srv-1", Region: "eu", Weight: 5, MaxPeers: 100, TotalPeers: 3, Protocols: model.Protocols}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Status mismatch (-want +got):\n%s", diff)
	}
}

func TestExportAndRestoreBackup(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, []model.Protocol{model.ProtocolAmneziaWG}, nil)
	archive := &memArchive{}
	s := NewServer(c, archive, ServerInfo{ID: "srv-1"}, 10, nil)
	s.now = func() time.Time { return time.Unix(100, 0) }
	ctx := context.Background()

	backup, err := s.ExportBackup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	id := "srv-1"
	want := model.ServerBackup{
		GeneratedAt: time.Unix(100, 0).UTC(),
		ServerID:    &id,
		Protocols:   []model.Protocol{model.ProtocolAmneziaWG},
		Amnezia:     &v1.backup,
	}
	if diff := cmp.Diff(want, backup); diff != "" {
		t.Errorf("ExportBackup mismatch (-want +got):\n%s", diff)
	}
	if len(archive.saved) != 0 {
		t.Errorf("export archived %d snapshots", len(archive.saved))
	}

	snapshot, err := s.ArchiveBackup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snapshot.ID != "a" || len(archive.saved) != 1 || archive.kept != 10 {
		t.Errorf("backup not archived: %+v, %d saved, keep %d", snapshot, len(archive.saved), archive.kept)
	}

	if err := s.RestoreBackup(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if v1.imported == nil || v1.imported.WgConfig != "v1" {
		t.Errorf("restore did not import: %+v", v1.imported)
	}
	if err := s.RestoreBackup(ctx, "zz"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("RestoreBackup unknown = %v, want ErrNotFound", err)
	}
}

func TestArchiveBackupWithoutStore(t *testing.T) {
	v1, v2 := fixture()
	s := NewServer(NewClients([]ProtocolService{v1, v2}, model.Protocols, nil), nil, ServerInfo{}, 0, nil)
	if _, err := s.ArchiveBackup(context.Background()); !errors.Is(err, model.ErrServiceUnavailable) {
		t.Errorf("ArchiveBackup = %v, want ErrServiceUnavailable", err)
	}
}

func TestImportBackupValidation(t *testing.T) {
	v1, v2 := fixture()
	c := NewClients([]ProtocolService{v1, v2}, model.Protocols, nil)
	s := NewServer(c, nil, ServerInfo{}, 0, nil)
	complete := &model.BackupData{WgConfig: "cfg", PresharedKey: "psk", ServerPublicKey: "pub", Clients: []model.ClientTableEntry{}}

	at := time.Unix(100, 0).UTC()

	tests := []struct {
		name   string
		backup model.ServerBackup
	}{
		{"no generatedAt", model.ServerBackup{Protocols: []model.Protocol{model.ProtocolAmneziaWG}, Amnezia: complete}},
		{"no protocols", model.ServerBackup{GeneratedAt: at, Amnezia: complete}},
		{"unknown protocol", model.ServerBackup{GeneratedAt: at, Protocols: []model.Protocol{"xray"}}},
		{"missing payload", model.ServerBackup{GeneratedAt: at, Protocols: []model.Protocol{model.ProtocolAmneziaWG, model.ProtocolAmneziaWG2}, Amnezia: complete}},
		{"missing clients", model.ServerBackup{
			GeneratedAt: at,
			Protocols:   []model.Protocol{model.ProtocolAmneziaWG},
			Amnezia:     &model.BackupData{WgConfig: "cfg", PresharedKey: "psk", ServerPublicKey: "pub"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.ImportBackup(context.Background(), tt.backup); !errors.Is(err, model.ErrValidation) {
				t.Errorf("ImportBackup = %v, want ErrValidation", err)
			}
			if v1.imported != nil || v2.imported != nil {
				t.Errorf("invalid backup was partially imported")
			}
		})
	}

	ok := model.ServerBackup{GeneratedAt: at, Protocols: []model.Protocol{model.ProtocolAmneziaWG2}, AmneziaWg2: complete}
	if err := s.ImportBackup(context.Background(), ok); err != nil {
		t.Fatal(err)
	}
	if v2.imported == nil || v1.imported != nil {
		t.Errorf("import went to the wrong protocol")
	}
}

func TestImportOwnExportWithEmptyStrings(t *testing.T) {
	v1, v2 := fixture()
	v1.backup.PresharedKey = ""
	v1.backup.WgConfig = ""
	c := NewClients([]ProtocolService{v1, v2}, []model.Protocol{model.ProtocolAmneziaWG}, nil)
	s := NewServer(c, nil, ServerInfo{}, 0, nil)
	ctx := context.Background()

	backup, err := s.ExportBackup(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// through the wire form, as the import route receives it
	data, err := json.Marshal(backup)
	if err != nil {
		t.Fatal(err)
	}
	var decoded model.ServerBackup
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("exported backup does not decode: %v", err)
	}
	if err := s.ImportBackup(ctx, decoded); err != nil {
		t.Fatalf("exported backup rejected on import: %v", err)
	}
	if v1.imported == nil || v1.imported.PresharedKey != "" {
		t.Errorf("unexpected import %+v", v1.imported)
	}
}

type inspectRunner struct{ running string }

func (r inspectRunner) Run(_ context.Context, cmd string, _ shell.Options) (shell.Result, error) {
	if strings.HasSuffix(cmd, "'"+r.running+"'") {
		return shell.Result{Stdout: "true\n"}, nil
	}
	return shell.Result{Stdout: "false\n"}, nil
}

func TestContainerDetector(t *testing.T) {
	detect := ContainerDetector(inspectRunner{running: "amnezia-awg2"}, awg.DefaultBackends())
	got := detect(context.Background())
	if diff := cmp.Diff([]model.Protocol{model.ProtocolAmneziaWG2}, got); diff != "" {
		t.Errorf("detected protocols mismatch (-want +got):\n%s", diff)
	}
}
