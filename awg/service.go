package awg

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/gommon/log"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/awgpanel/awg-manager/metrics"
	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/sharelink"
	"github.com/awgpanel/awg-manager/wgconf"
)

// Settings are the server wide values a Service needs.
type Settings struct {
	// MaxPeers is the peer ceiling, 0 for unlimited.
	MaxPeers     int
	PublicHost   string
	ServerName   string
	PrimaryDNS   string
	SecondaryDNS string
}

// CreateOptions of CreateClient
type CreateOptions struct {
	ExpiresAt *int64
}

// UpdateOptions of UpdateClient. ExpiresAt is only applied when
// ExpiresAtSet is true; a nil ExpiresAt then removes the expiry.
type UpdateOptions struct {
	ExpiresAt    *int64
	ExpiresAtSet bool
	Status       *model.PeerStatus
}

// Service manages the peers of one backend. Every exported operation holds
// the service lock for its whole read-modify-write span.
type Service struct {
	mu       sync.Mutex
	backend  Backend
	store    Store
	settings Settings
	now      func() time.Time
}

// NewService returns a Service for backend b persisted in store
func NewService(b Backend, store Store, settings Settings) *Service {
	return &Service{
		backend:  b,
		store:    store,
		settings: settings,
		now:      time.Now,
	}
}

func (s *Service) Protocol() model.Protocol {
	return s.backend.Protocol
}

func (s *Service) Backend() Backend {
	return s.backend
}

// ListClients returns the peers of the running interface grouped by username.
func (s *Service) ListClients(ctx context.Context) ([]model.ClientRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listClients(ctx)
}

func (s *Service) listClients(ctx context.Context) ([]model.ClientRecord, error) {
	dump, err := s.store.Dump(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dump) == "" {
		return []model.ClientRecord{}, nil
	}
	table, err := s.store.ReadClientTable(ctx)
	if err != nil {
		return nil, err
	}
	return mergePeers(dump, table, s.now().Unix(), s.backend.Protocol), nil
}

// TotalPeers returns the number of peers of the running interface.
func (s *Service) TotalPeers(ctx context.Context) (int, error) {
	records, err := s.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	return model.CountPeers(records), nil
}

// CreateClient provisions a new peer and returns its share link.
func (s *Service) CreateClient(ctx context.Context, clientName string, opts CreateOptions) (model.CreateClientResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.settings.MaxPeers > 0 {
		records, err := s.listClients(ctx)
		if err != nil {
			return model.CreateClientResult{}, err
		}
		if n := model.CountPeers(records); n >= s.settings.MaxPeers {
			return model.CreateClientResult{}, fmt.Errorf("%w: %d of %d peers in use", model.ErrConflict, n, s.settings.MaxPeers)
		}
	}

	privateKey, clientID, err := s.generateKeyPair(ctx)
	if err != nil {
		return model.CreateClientResult{}, err
	}

	config, err := s.store.ReadConfig(ctx)
	if err != nil {
		return model.CreateClientResult{}, err
	}
	doc := wgconf.Parse(config)
	address, err := doc.AllocateFreeAddress()
	if err != nil {
		return model.CreateClientResult{}, err
	}
	psk, err := s.store.ReadPresharedKey(ctx)
	if err != nil {
		return model.CreateClientResult{}, err
	}

	doc.AppendPeer(clientID, psk, wgconf.HostCIDR(address))
	if err := s.store.WriteConfig(ctx, doc.String()); err != nil {
		return model.CreateClientResult{}, err
	}
	if err := s.sync(ctx); err != nil {
		return model.CreateClientResult{}, err
	}

	table, err := s.store.ReadClientTable(ctx)
	if err != nil {
		return model.CreateClientResult{}, err
	}
	userData := &model.UserData{
		ClientName:   clientName,
		CreationDate: s.now().UTC().Format(http.TimeFormat),
		AllowedIP:    address,
	}
	if opts.ExpiresAt != nil && *opts.ExpiresAt != 0 {
		expiresAt := *opts.ExpiresAt
		userData.ExpiresAt = &expiresAt
	}
	table = append(table, model.ClientTableEntry{ClientID: clientID, UserData: userData})
	if err := s.store.WriteClientTable(ctx, table); err != nil {
		return model.CreateClientResult{}, err
	}

	serverPublicKey, err := s.store.ReadServerPublicKey(ctx)
	if err != nil {
		return model.CreateClientResult{}, err
	}
	listenPort, _ := doc.InterfaceValue("ListenPort")
	params := ProfileParams{
		Address:         address,
		PrivateKey:      privateKey,
		PublicKey:       clientID,
		PresharedKey:    psk,
		ServerPublicKey: serverPublicKey,
		ListenPort:      firstField(listenPort),
		Host:            s.settings.PublicHost,
		PrimaryDNS:      s.settings.PrimaryDNS,
		SecondaryDNS:    s.settings.SecondaryDNS,
		Tunables:        ReadTunables(doc, s.backend.Tunables),
	}
	payload, err := BuildSharePayload(s.backend, params, Description(s.settings.ServerName, clientName, s.backend.Protocol))
	if err != nil {
		return model.CreateClientResult{}, err
	}
	link, err := sharelink.Encode(payload)
	if err != nil {
		return model.CreateClientResult{}, err
	}

	result := model.CreateClientResult{ID: clientID, Config: link, Protocol: s.backend.Protocol}
	if result.QRCode, err = sharelink.QRCode(link); err != nil {
		log.Warnf("Cannot render QR code for client %s: %v", clientID, err)
	}
	metrics.ClientsCreated.WithLabelValues(string(s.backend.Protocol)).Inc()
	log.Infof("Created %s client %s (%s) at %s", s.backend.Protocol, clientName, clientID, address)
	return result, nil
}

// generateKeyPair asks the runtime for a key pair and checks that the
// public key belongs to the private one.
func (s *Service) generateKeyPair(ctx context.Context) (string, string, error) {
	privateKey, publicKey, err := s.store.GenerateKeyPair(ctx)
	if err != nil {
		return "", "", err
	}
	priv, err := wgtypes.ParseKey(privateKey)
	if err != nil {
		return "", "", fmt.Errorf("runtime generated an invalid private key: %w", err)
	}
	pub, err := wgtypes.ParseKey(publicKey)
	if err != nil {
		return "", "", fmt.Errorf("runtime generated an invalid public key: %w", err)
	}
	if priv.PublicKey() != pub {
		return "", "", fmt.Errorf("runtime public key %s does not match its private key", publicKey)
	}
	return privateKey, publicKey, nil
}

// UpdateClient changes the expiry and the activation state of a peer.
func (s *Service) UpdateClient(ctx context.Context, clientID string, opts UpdateOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.store.ReadClientTable(ctx)
	if err != nil {
		return err
	}
	entry := findEntry(table, clientID)
	if entry == nil {
		return fmt.Errorf("%w: %s", model.ErrNotFound, clientID)
	}
	if entry.UserData == nil {
		entry.UserData = &model.UserData{}
	}
	userData := entry.UserData

	if opts.ExpiresAtSet {
		if opts.ExpiresAt == nil {
			userData.ExpiresAt = nil
		} else {
			expiresAt := *opts.ExpiresAt
			userData.ExpiresAt = &expiresAt
		}
	}

	config, err := s.store.ReadConfig(ctx)
	if err != nil {
		return err
	}
	var (
		doc     *wgconf.Document
		current string
	)
	if config != "" {
		doc = wgconf.Parse(config)
		current, _ = doc.FindAllowedIPs(clientID)
		backfillAllowedIP(userData, current)
	}
	if err := s.store.WriteClientTable(ctx, table); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}

	target := s.targetAllowedIPs(userData, opts)
	if target == "" || target == current {
		return nil
	}
	if !doc.SetAllowedIPs(clientID, target) {
		return nil
	}
	if err := s.store.WriteConfig(ctx, doc.String()); err != nil {
		return err
	}
	return s.sync(ctx)
}

// targetAllowedIPs derives the AllowedIPs an update asks for, or "" when
// the routing state stays as it is. An explicit status wins over the one
// implied by a new expiry.
func (s *Service) targetAllowedIPs(userData *model.UserData, opts UpdateOptions) string {
	var status model.PeerStatus
	switch {
	case opts.Status != nil:
		status = *opts.Status
	case opts.ExpiresAtSet:
		status = model.PeerStatusActive
		if userData.ExpiresAt != nil && *userData.ExpiresAt <= s.now().Unix() {
			status = model.PeerStatusDisabled
		}
	default:
		return ""
	}
	switch status {
	case model.PeerStatusDisabled:
		return wgconf.DisabledAllowedIPs
	case model.PeerStatusActive:
		if userData.AllowedIP != "" {
			return wgconf.HostCIDR(userData.AllowedIP)
		}
	}
	return ""
}

// backfillAllowedIP caches the host address of an active peer so that it
// can be restored after the peer has been disabled.
func backfillAllowedIP(userData *model.UserData, current string) bool {
	if userData.AllowedIP != "" || current == "" || current == wgconf.DisabledAllowedIPs {
		return false
	}
	list := wgconf.SplitList(current)
	if len(list) == 0 {
		return false
	}
	ip, _, _ := strings.Cut(list[0], "/")
	userData.AllowedIP = ip
	return true
}

func findEntry(table []model.ClientTableEntry, clientID string) *model.ClientTableEntry {
	for i := range table {
		if table[i].Key() == clientID {
			return &table[i]
		}
	}
	return nil
}

// DeleteClient removes a peer from the table and the configuration. It
// returns false without writing anything when the table has no such peer.
func (s *Service) DeleteClient(ctx context.Context, clientID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.store.ReadClientTable(ctx)
	if err != nil {
		return false, err
	}
	kept := make([]model.ClientTableEntry, 0, len(table))
	for _, e := range table {
		if e.Key() != clientID {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(table) {
		return false, nil
	}
	if err := s.store.WriteClientTable(ctx, kept); err != nil {
		return false, err
	}

	config, err := s.store.ReadConfig(ctx)
	if err != nil {
		return false, err
	}
	if config != "" {
		doc := wgconf.Parse(config)
		if !doc.RemovePeer(clientID) {
			log.Warnf("Client %s has no [Peer] section in %s", clientID, s.backend.Paths.Config)
		}
		if err := s.store.WriteConfig(ctx, doc.String()); err != nil {
			return false, err
		}
		if err := s.sync(ctx); err != nil {
			return false, err
		}
	}
	metrics.ClientsDeleted.WithLabelValues(string(s.backend.Protocol)).Inc()
	log.Infof("Deleted %s client %s", s.backend.Protocol, clientID)
	return true, nil
}

// CleanupExpiredClients disables every peer whose expiry is not after now.
// All config changes are written and applied once. It returns the number of
// expired table entries, including those that were already disabled.
func (s *Service) CleanupExpiredClients(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table, err := s.store.ReadClientTable(ctx)
	if err != nil {
		return 0, err
	}
	var expired []*model.ClientTableEntry
	for i := range table {
		e := &table[i]
		if e.UserData != nil && e.UserData.ExpiresAt != nil && *e.UserData.ExpiresAt <= now.Unix() {
			expired = append(expired, e)
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}

	config, err := s.store.ReadConfig(ctx)
	if err != nil {
		return 0, err
	}
	tableChanged := false
	var doc *wgconf.Document
	if config != "" {
		doc = wgconf.Parse(config)
		for _, e := range expired {
			clientID := strings.TrimSpace(e.ClientID)
			if clientID == "" {
				continue
			}
			current, _ := doc.FindAllowedIPs(clientID)
			if backfillAllowedIP(e.UserData, current) {
				tableChanged = true
			}
			doc.SetAllowedIPs(clientID, wgconf.DisabledAllowedIPs)
		}
	}

	if tableChanged {
		if err := s.store.WriteClientTable(ctx, table); err != nil {
			return 0, err
		}
	}
	if doc != nil {
		if updated := doc.String(); updated != config {
			if err := s.store.WriteConfig(ctx, updated); err != nil {
				return 0, err
			}
			if err := s.sync(ctx); err != nil {
				return 0, err
			}
		}
	}
	metrics.ClientsExpired.WithLabelValues(string(s.backend.Protocol)).Add(float64(len(expired)))
	return len(expired), nil
}

// ExportBackup bundles the configuration, the keys and the client table.
func (s *Service) ExportBackup(ctx context.Context) (model.BackupData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var data model.BackupData
	var err error
	if data.WgConfig, err = s.store.ReadConfig(ctx); err != nil {
		return data, err
	}
	if data.Clients, err = s.store.ReadClientTable(ctx); err != nil {
		return data, err
	}
	if data.ServerPublicKey, err = s.store.ReadServerPublicKey(ctx); err != nil {
		return data, err
	}
	if data.PresharedKey, err = s.store.ReadPresharedKey(ctx); err != nil {
		return data, err
	}
	return data, nil
}

// ImportBackup overwrites the backend state with data and applies it.
func (s *Service) ImportBackup(ctx context.Context, data model.BackupData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.WriteConfig(ctx, data.WgConfig); err != nil {
		return err
	}
	if err := s.store.WriteClientTable(ctx, data.Clients); err != nil {
		return err
	}
	if err := s.store.WritePresharedKey(ctx, data.PresharedKey); err != nil {
		return err
	}
	if err := s.store.WriteServerPublicKey(ctx, data.ServerPublicKey); err != nil {
		return err
	}
	log.Infof("Imported %s backup with %d clients", s.backend.Protocol, len(data.Clients))
	return s.sync(ctx)
}

func (s *Service) sync(ctx context.Context) error {
	err := s.store.Sync(ctx)
	metrics.ConfigSyncs.WithLabelValues(string(s.backend.Protocol), metrics.Result(err)).Inc()
	if err != nil {
		return fmt.Errorf("cannot apply %s config: %w", s.backend.Protocol, err)
	}
	return nil
}
