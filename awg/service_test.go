package awg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/sharelink"
	"github.com/awgpanel/awg-manager/wgconf"
)

// memStore is an in-memory Store. Its dump is derived from the config.
type memStore struct {
	config          string
	table           []model.ClientTableEntry
	serverPublicKey string
	presharedKey    string
	handshakes      map[string]int64

	configWrites int
	tableWrites  int
	syncs        int
	syncErr      error
}

func (m *memStore) ReadConfig(context.Context) (string, error) { return m.config, nil }

func (m *memStore) WriteConfig(_ context.Context, content string) error {
	m.configWrites++
	m.config = content
	return nil
}

func (m *memStore) ReadClientTable(context.Context) ([]model.ClientTableEntry, error) {
	// round trip through JSON so callers cannot alias the stored table
	data, _ := json.Marshal(m.table)
	table, _, err := DecodeClientTable(data)
	return table, err
}

func (m *memStore) WriteClientTable(_ context.Context, table []model.ClientTableEntry) error {
	m.tableWrites++
	data, _ := json.Marshal(table)
	m.table = nil
	return json.Unmarshal(data, &m.table)
}

func (m *memStore) ReadServerPublicKey(context.Context) (string, error) {
	return m.serverPublicKey, nil
}

func (m *memStore) WriteServerPublicKey(_ context.Context, key string) error {
	m.serverPublicKey = strings.TrimSpace(key)
	return nil
}

func (m *memStore) ReadPresharedKey(context.Context) (string, error) { return m.presharedKey, nil }

func (m *memStore) WritePresharedKey(_ context.Context, key string) error {
	m.presharedKey = strings.TrimSpace(key)
	return nil
}

func (m *memStore) Dump(context.Context) (string, error) {
	if m.config == "" {
		return "", nil
	}
	rows := []string{"privkey\tpubkey\t51820\toff"}
	for _, p := range wgconf.Parse(m.config).Peers() {
		key, _ := p.Value("PublicKey")
		allowed, _ := p.Value("AllowedIPs")
		rows = append(rows, fmt.Sprintf("%s\t(none)\t(none)\t%s\t%d\t10\t20\toff", key, allowed, m.handshakes[key]))
	}
	return strings.Join(rows, "\n") + "\n", nil
}

func (m *memStore) Sync(context.Context) error {
	m.syncs++
	return m.syncErr
}

func (m *memStore) GenerateKeyPair(context.Context) (string, string, error) {
	priv, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", "", err
	}
	return priv.String(), priv.PublicKey().String(), nil
}

func (m *memStore) writes() int {
	return m.configWrites + m.tableWrites + m.syncs
}

const (
	keyK1 = "K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1K1k="
	keyK2 = "K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2K2k="
)

const serverConfig = `[Interface]
PrivateKey = c2VydmVyLXByaXZhdGUta2V5LWZvci10ZXN0aW5nLW9rPQ==
Address = 10.8.1.1/24
ListenPort = 51820
Jc = 4
Jmin = 10
Jmax = 50
S1 = 117
S2 = 32
H1 = 1
H2 = 2
H3 = 3
H4 = 4

[Peer]
PublicKey = ` + keyK1 + `
PresharedKey = psk
AllowedIPs = 10.8.1.2/32
`

var fixedNow = time.Unix(1_700_000_000, 0)

func newTestService(store *memStore, settings Settings) *Service {
	s := NewService(DefaultBackends()[model.ProtocolAmneziaWG], store, settings)
	s.now = func() time.Time { return fixedNow }
	return s
}

func int64p(v int64) *int64 { return &v }

func statusp(s model.PeerStatus) *model.PeerStatus { return &s }

func peerAllowedIPs(t *testing.T, store *memStore, clientID string) string {
	t.Helper()
	v, ok := wgconf.Parse(store.config).FindAllowedIPs(clientID)
	if !ok {
		t.Fatalf("peer %s not found in config", clientID)
	}
	return v
}

func TestCreateClient(t *testing.T) {
	store := &memStore{config: serverConfig, presharedKey: "psk", serverPublicKey: "serverpub"}
	s := newTestService(store, Settings{PublicHost: "vpn.example.com", PrimaryDNS: "1.1.1.1", SecondaryDNS: "1.0.0.1"})

	res, err := s.CreateClient(context.Background(), "alice [phone]", CreateOptions{ExpiresAt: int64p(1_800_000_000)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Protocol != model.ProtocolAmneziaWG || res.QRCode == "" {
		t.Errorf("unexpected result %+v", res)
	}
	if got := peerAllowedIPs(t, store, res.ID); got != "10.8.1.3/32" {
		t.Errorf("AllowedIPs = %q, want 10.8.1.3/32", got)
	}
	if !strings.HasPrefix(store.config, serverConfig) {
		t.Errorf("existing config was modified:\n%s", store.config)
	}
	if store.syncs != 1 {
		t.Errorf("syncs = %d, want 1", store.syncs)
	}

	want := []model.ClientTableEntry{{
		ClientID: res.ID,
		UserData: &model.UserData{
			ClientName:   "alice [phone]",
			CreationDate: "Tue, 14 Nov 2023 22:13:20 GMT",
			ExpiresAt:    int64p(1_800_000_000),
			AllowedIP:    "10.8.1.3",
		},
	}}
	if diff := cmp.Diff(want, store.table); diff != "" {
		t.Errorf("client table mismatch (-want +got):\n%s", diff)
	}

	payload, size, err := sharelink.Decode(res.Config)
	if err != nil {
		t.Fatal(err)
	}
	if int(size) != len(payload) {
		t.Errorf("header %d, payload %d", size, len(payload))
	}
	var share SharePayload
	if err := json.Unmarshal(payload, &share); err != nil {
		t.Fatal(err)
	}
	if share.Description != "alice [phone] | AmneziaWG" || share.DefaultContainer != "amnezia-awg" || share.HostName != "vpn.example.com" {
		t.Errorf("unexpected share payload %+v", share)
	}
	var last map[string]interface{}
	if err := json.Unmarshal([]byte(share.Containers[0].AWG["last_config"].(string)), &last); err != nil {
		t.Fatal(err)
	}
	profile := last["config"].(string)
	for _, line := range []string{
		"Address = 10.8.1.3/32",
		"DNS = 1.1.1.1, 1.0.0.1",
		"Jc = 4",
		"H4 = 4",
		"PublicKey = serverpub",
		"PresharedKey = psk",
		"Endpoint = vpn.example.com:51820",
		"PersistentKeepalive = 25",
	} {
		if !strings.Contains(profile, line+"\n") {
			t.Errorf("profile lacks %q:\n%s", line, profile)
		}
	}
	if last["port"] != float64(51820) || last["client_pub_key"] != res.ID {
		t.Errorf("unexpected last_config %v", last)
	}
}

func TestCreateClientPeerLimit(t *testing.T) {
	store := &memStore{config: serverConfig}
	s := newTestService(store, Settings{MaxPeers: 1})

	_, err := s.CreateClient(context.Background(), "bob", CreateOptions{})
	if !errors.Is(err, model.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if store.writes() != 0 {
		t.Errorf("%d writes after a rejected create", store.writes())
	}
}

func TestCreateClientSyncFailure(t *testing.T) {
	store := &memStore{config: serverConfig, syncErr: model.ErrTransportUnavailable}
	s := newTestService(store, Settings{})

	_, err := s.CreateClient(context.Background(), "bob", CreateOptions{})
	if !errors.Is(err, model.ErrTransportUnavailable) {
		t.Fatalf("err = %v, want ErrTransportUnavailable", err)
	}
	if store.tableWrites != 0 {
		t.Errorf("table written although the config could not be applied")
	}
}

func TestUpdateClientDisableEnable(t *testing.T) {
	store := &memStore{
		config: serverConfig,
		table:  []model.ClientTableEntry{{ClientID: keyK1, UserData: &model.UserData{ClientName: "alice"}}},
	}
	s := newTestService(store, Settings{})
	ctx := context.Background()

	if err := s.UpdateClient(ctx, keyK1, UpdateOptions{Status: statusp(model.PeerStatusDisabled)}); err != nil {
		t.Fatal(err)
	}
	if got := peerAllowedIPs(t, store, keyK1); got != wgconf.DisabledAllowedIPs {
		t.Errorf("AllowedIPs = %q after disable", got)
	}
	if got := store.table[0].UserData.AllowedIP; got != "10.8.1.2" {
		t.Errorf("cached allowedIp = %q, want 10.8.1.2", got)
	}

	if err := s.UpdateClient(ctx, keyK1, UpdateOptions{Status: statusp(model.PeerStatusActive)}); err != nil {
		t.Fatal(err)
	}
	if store.config != serverConfig {
		t.Errorf("config not restored:\n%s", cmp.Diff(serverConfig, store.config))
	}
	if store.syncs != 2 {
		t.Errorf("syncs = %d, want 2", store.syncs)
	}
}

func TestUpdateClientExpiry(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name       string
		opts       UpdateOptions
		wantIPs    string
		wantExpiry *int64
	}{
		{
			name:       "past expiry disables",
			opts:       UpdateOptions{ExpiresAt: int64p(fixedNow.Unix()), ExpiresAtSet: true},
			wantIPs:    wgconf.DisabledAllowedIPs,
			wantExpiry: int64p(fixedNow.Unix()),
		},
		{
			name:       "future expiry keeps active",
			opts:       UpdateOptions{ExpiresAt: int64p(fixedNow.Unix() + 60), ExpiresAtSet: true},
			wantIPs:    "10.8.1.2/32",
			wantExpiry: int64p(fixedNow.Unix() + 60),
		},
		{
			name:       "explicit status wins",
			opts:       UpdateOptions{ExpiresAt: int64p(fixedNow.Unix() + 60), ExpiresAtSet: true, Status: statusp(model.PeerStatusDisabled)},
			wantIPs:    wgconf.DisabledAllowedIPs,
			wantExpiry: int64p(fixedNow.Unix() + 60),
		},
		{
			name:    "null expiry removes it",
			opts:    UpdateOptions{ExpiresAtSet: true},
			wantIPs: "10.8.1.2/32",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{
				config: serverConfig,
				table: []model.ClientTableEntry{{ClientID: keyK1, UserData: &model.UserData{
					ClientName: "alice",
					ExpiresAt:  int64p(1),
				}}},
			}
			s := newTestService(store, Settings{})
			if err := s.UpdateClient(ctx, keyK1, tt.opts); err != nil {
				t.Fatal(err)
			}
			if got := peerAllowedIPs(t, store, keyK1); got != tt.wantIPs {
				t.Errorf("AllowedIPs = %q, want %q", got, tt.wantIPs)
			}
			if diff := cmp.Diff(tt.wantExpiry, store.table[0].UserData.ExpiresAt); diff != "" {
				t.Errorf("expiresAt mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateClientNotFound(t *testing.T) {
	store := &memStore{config: serverConfig}
	s := newTestService(store, Settings{})
	err := s.UpdateClient(context.Background(), keyK2, UpdateOptions{Status: statusp(model.PeerStatusDisabled)})
	if !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if store.writes() != 0 {
		t.Errorf("%d writes for an unknown client", store.writes())
	}
}

func TestUpdateClientWithoutConfig(t *testing.T) {
	store := &memStore{table: []model.ClientTableEntry{{PublicKey: keyK1}}}
	s := newTestService(store, Settings{})
	err := s.UpdateClient(context.Background(), keyK1, UpdateOptions{ExpiresAt: int64p(5), ExpiresAtSet: true, Status: statusp(model.PeerStatusDisabled)})
	if err != nil {
		t.Fatal(err)
	}
	want := []model.ClientTableEntry{{ClientID: keyK1, UserData: &model.UserData{ExpiresAt: int64p(5)}}}
	if diff := cmp.Diff(want, store.table); diff != "" {
		t.Errorf("client table mismatch (-want +got):\n%s", diff)
	}
	if store.configWrites != 0 || store.syncs != 0 {
		t.Errorf("config touched without a document")
	}
}

func TestDeleteClient(t *testing.T) {
	store := &memStore{
		config: serverConfig,
		table: []model.ClientTableEntry{
			{ClientID: keyK1, UserData: &model.UserData{ClientName: "alice"}},
			{ClientID: keyK2, UserData: &model.UserData{ClientName: "bob"}},
		},
	}
	s := newTestService(store, Settings{})

	ok, err := s.DeleteClient(context.Background(), keyK1)
	if err != nil || !ok {
		t.Fatalf("DeleteClient = %v, %v", ok, err)
	}
	if strings.Contains(store.config, keyK1) || !strings.Contains(store.config, "ListenPort = 51820") {
		t.Errorf("unexpected config after delete:\n%s", store.config)
	}
	if len(store.table) != 1 || store.table[0].ClientID != keyK2 {
		t.Errorf("unexpected table %+v", store.table)
	}
	if store.syncs != 1 {
		t.Errorf("syncs = %d, want 1", store.syncs)
	}
}

func TestDeleteClientUnknown(t *testing.T) {
	store := &memStore{
		config: serverConfig,
		table:  []model.ClientTableEntry{{ClientID: keyK1}},
	}
	s := newTestService(store, Settings{})

	ok, err := s.DeleteClient(context.Background(), keyK2)
	if err != nil || ok {
		t.Fatalf("DeleteClient = %v, %v; want false, nil", ok, err)
	}
	if store.writes() != 0 {
		t.Errorf("%d writes for an unknown client", store.writes())
	}
}

func TestCleanupExpiredClients(t *testing.T) {
	config := serverConfig + `
[Peer]
PublicKey = ` + keyK2 + `
AllowedIPs = 10.8.1.3/32
`
	third := "K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3K3k="
	config += "\n[Peer]\nPublicKey = " + third + "\nAllowedIPs = 10.8.1.4/32\n"

	store := &memStore{
		config: config,
		table: []model.ClientTableEntry{
			{ClientID: keyK1, UserData: &model.UserData{ClientName: "alice", ExpiresAt: int64p(fixedNow.Unix())}},
			{ClientID: keyK2, UserData: &model.UserData{ClientName: "bob", ExpiresAt: int64p(fixedNow.Unix() + 1)}},
			{ClientID: third, UserData: &model.UserData{ClientName: "carol"}},
		},
	}
	s := newTestService(store, Settings{})

	n, err := s.CleanupExpiredClients(context.Background(), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("cleanup matched %d entries, want 1", n)
	}
	if got := peerAllowedIPs(t, store, keyK1); got != wgconf.DisabledAllowedIPs {
		t.Errorf("expired peer AllowedIPs = %q", got)
	}
	if got := peerAllowedIPs(t, store, keyK2); got != "10.8.1.3/32" {
		t.Errorf("unexpired peer AllowedIPs = %q", got)
	}
	if got := peerAllowedIPs(t, store, third); got != "10.8.1.4/32" {
		t.Errorf("peer without expiry AllowedIPs = %q", got)
	}
	if store.table[0].UserData.AllowedIP != "10.8.1.2" {
		t.Errorf("allowedIp cache not back-filled: %+v", store.table[0].UserData)
	}
	if store.configWrites != 1 || store.syncs != 1 || store.tableWrites != 1 {
		t.Errorf("writes: config %d, sync %d, table %d; want one each", store.configWrites, store.syncs, store.tableWrites)
	}

	// already disabled peers still count but cause no writes
	n, err = s.CleanupExpiredClients(context.Background(), fixedNow)
	if err != nil || n != 1 {
		t.Fatalf("second cleanup = %d, %v", n, err)
	}
	if store.configWrites != 1 || store.syncs != 1 || store.tableWrites != 1 {
		t.Errorf("second cleanup wrote again")
	}
}

func TestListClients(t *testing.T) {
	config := serverConfig + "\n[Peer]\nPublicKey = " + keyK2 + "\nAllowedIPs = 0.0.0.0/32\n"
	store := &memStore{
		config: config,
		table: []model.ClientTableEntry{
			{ClientID: keyK1, UserData: &model.UserData{ClientName: "alice [phone]"}},
			{ClientID: keyK2, UserData: &model.UserData{ClientName: "alice [laptop]", ExpiresAt: int64p(42)}},
		},
		handshakes: map[string]int64{keyK1: fixedNow.Unix() - 10, keyK2: (fixedNow.Unix() - 600) * 1_000_000_000},
	}
	s := newTestService(store, Settings{})

	got, err := s.ListClients(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	phone, laptop := "phone", "laptop"
	want := []model.ClientRecord{{
		Username: "alice",
		Peers: []model.PeerView{
			{
				ID:            keyK1,
				Name:          &phone,
				AllowedIPs:    []string{"10.8.1.2/32"},
				LastHandshake: fixedNow.Unix() - 10,
				Traffic:       model.Traffic{Received: 10, Sent: 20},
				Online:        true,
				Status:        model.PeerStatusActive,
				Protocol:      model.ProtocolAmneziaWG,
			},
			{
				ID:            keyK2,
				Name:          &laptop,
				AllowedIPs:    []string{"0.0.0.0/32"},
				LastHandshake: fixedNow.Unix() - 600,
				Traffic:       model.Traffic{Received: 10, Sent: 20},
				ExpiresAt:     int64p(42),
				Status:        model.PeerStatusDisabled,
				Protocol:      model.ProtocolAmneziaWG,
			},
		},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ListClients mismatch (-want +got):\n%s", diff)
	}
}

func TestListClientsUnknownPeer(t *testing.T) {
	store := &memStore{config: serverConfig}
	s := newTestService(store, Settings{})
	got, err := s.ListClients(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Username != keyK1 || got[0].Peers[0].Name != nil {
		t.Errorf("peer without table entry should be keyed by its id: %+v", got)
	}
}

func TestExportImportBackup(t *testing.T) {
	src := &memStore{
		config:          serverConfig,
		table:           []model.ClientTableEntry{{ClientID: keyK1, UserData: &model.UserData{ClientName: "alice"}}},
		serverPublicKey: "serverpub",
		presharedKey:    "psk",
	}
	data, err := newTestService(src, Settings{}).ExportBackup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := model.BackupData{
		WgConfig:        serverConfig,
		PresharedKey:    "psk",
		ServerPublicKey: "serverpub",
		Clients:         src.table,
	}
	if diff := cmp.Diff(want, data); diff != "" {
		t.Errorf("ExportBackup mismatch (-want +got):\n%s", diff)
	}

	dst := &memStore{}
	if err := newTestService(dst, Settings{}).ImportBackup(context.Background(), data); err != nil {
		t.Fatal(err)
	}
	if dst.config != serverConfig || dst.presharedKey != "psk" || dst.serverPublicKey != "serverpub" {
		t.Errorf("import did not restore the files: %+v", dst)
	}
	if diff := cmp.Diff(src.table, dst.table); diff != "" {
		t.Errorf("imported table mismatch (-want +got):\n%s", diff)
	}
	if dst.syncs != 1 {
		t.Errorf("syncs = %d, want 1", dst.syncs)
	}
}

func TestConcurrentCreateUpdateCleanup(t *testing.T) {
	const (
		seeded   = 5
		creators = 20
	)
	store := &memStore{config: serverConfig, presharedKey: "psk", serverPublicKey: "serverpub"}
	s := newTestService(store, Settings{PublicHost: "vpn.example.com"})
	ctx := context.Background()

	var expiring []string
	for i := 0; i < seeded; i++ {
		res, err := s.CreateClient(ctx, fmt.Sprintf("seed-%d", i), CreateOptions{ExpiresAt: int64p(fixedNow.Unix() - 1)})
		if err != nil {
			t.Fatal(err)
		}
		expiring = append(expiring, res.ID)
	}

	var wg sync.WaitGroup
	errs := make(chan error, creators+2*seeded)
	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.CreateClient(ctx, fmt.Sprintf("client-%d", i), CreateOptions{}); err != nil {
				errs <- err
			}
		}(i)
	}
	for _, id := range expiring {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			if err := s.UpdateClient(ctx, id, UpdateOptions{Status: statusp(model.PeerStatusDisabled)}); err != nil {
				errs <- err
			}
		}(id)
		go func() {
			defer wg.Done()
			if _, err := s.CleanupExpiredClients(ctx, fixedNow); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	peers := wgconf.Parse(store.config).Peers()
	if len(peers) != 1+seeded+creators {
		t.Fatalf("config has %d peers, want %d", len(peers), 1+seeded+creators)
	}
	if len(store.table) != seeded+creators {
		t.Fatalf("table has %d entries, want %d", len(store.table), seeded+creators)
	}

	owner := map[string]string{"10.8.1.1/32": "interface"}
	inConfig := map[string]bool{}
	for _, p := range peers {
		key, _ := p.Value("PublicKey")
		allowed, _ := p.Value("AllowedIPs")
		inConfig[key] = true
		if allowed == wgconf.DisabledAllowedIPs {
			continue
		}
		if prev, ok := owner[allowed]; ok {
			t.Errorf("%s and %s share AllowedIPs %s", prev, key, allowed)
		}
		owner[allowed] = key
	}
	seen := map[string]bool{}
	for _, e := range store.table {
		if seen[e.ClientID] {
			t.Errorf("duplicate table entry %s", e.ClientID)
		}
		seen[e.ClientID] = true
		if !inConfig[e.ClientID] {
			t.Errorf("table entry %s has no peer", e.ClientID)
		}
	}
	for _, id := range expiring {
		if got := peerAllowedIPs(t, store, id); got != wgconf.DisabledAllowedIPs {
			t.Errorf("expired peer %s AllowedIPs = %q", id, got)
		}
	}
}
