// Package service orchestrates the protocol backends behind the API.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/awg"
	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/shell"
)

// ProtocolService is the lifecycle surface of one protocol backend.
type ProtocolService interface {
	Protocol() model.Protocol
	ListClients(ctx context.Context) ([]model.ClientRecord, error)
	CreateClient(ctx context.Context, clientName string, opts awg.CreateOptions) (model.CreateClientResult, error)
	UpdateClient(ctx context.Context, clientID string, opts awg.UpdateOptions) error
	DeleteClient(ctx context.Context, clientID string) (bool, error)
	CleanupExpiredClients(ctx context.Context, now time.Time) (int, error)
	ExportBackup(ctx context.Context) (model.BackupData, error)
	ImportBackup(ctx context.Context, data model.BackupData) error
}

var _ ProtocolService = (*awg.Service)(nil)

// Detector returns the protocols whose runtime is up.
type Detector func(ctx context.Context) []model.Protocol

// ContainerDetector checks the container of every backend through host.
func ContainerDetector(host shell.Runner, backends map[model.Protocol]awg.Backend) Detector {
	return func(ctx context.Context) []model.Protocol {
		var enabled []model.Protocol
		for _, p := range model.Protocols {
			b, ok := backends[p]
			if ok && shell.ContainerRunning(ctx, host, b.Container) {
				enabled = append(enabled, p)
			}
		}
		return enabled
	}
}

// Clients dispatches client operations to the enabled protocol services.
type Clients struct {
	services   map[model.Protocol]ProtocolService
	configured []model.Protocol
	detect     Detector
}

// NewClients returns the orchestrator. configured fixes the enabled
// protocols; when it is empty detect decides on every call.
func NewClients(services []ProtocolService, configured []model.Protocol, detect Detector) *Clients {
	c := &Clients{
		services:   make(map[model.Protocol]ProtocolService, len(services)),
		configured: configured,
		detect:     detect,
	}
	for _, s := range services {
		c.services[s.Protocol()] = s
	}
	return c
}

// EnabledProtocols returns the protocols that are configured or detected
// and have a service. It may be empty.
func (c *Clients) EnabledProtocols(ctx context.Context) []model.Protocol {
	candidates := c.configured
	if len(candidates) == 0 && c.detect != nil {
		candidates = c.detect(ctx)
	}
	enabled := []model.Protocol{}
	for _, p := range candidates {
		if _, ok := c.services[p]; ok {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

func (c *Clients) enabled(ctx context.Context) ([]model.Protocol, error) {
	enabled := c.EnabledProtocols(ctx)
	if len(enabled) == 0 {
		return nil, model.ErrServiceUnavailable
	}
	return enabled, nil
}

// service returns the service of p, which must be enabled.
func (c *Clients) service(ctx context.Context, p model.Protocol) (ProtocolService, error) {
	if _, err := model.ParseProtocol(string(p)); err != nil {
		return nil, err
	}
	enabled, err := c.enabled(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range enabled {
		if e == p {
			return c.services[p], nil
		}
	}
	return nil, fmt.Errorf("%w: protocol %s is not enabled", model.ErrValidation, p)
}

// ListClients returns the clients of every enabled protocol, merged by username.
func (c *Clients) ListClients(ctx context.Context) ([]model.ClientRecord, error) {
	enabled, err := c.enabled(ctx)
	if err != nil {
		return nil, err
	}
	records := []model.ClientRecord{}
	for _, p := range enabled {
		r, err := c.services[p].ListClients(ctx)
		if err != nil {
			return nil, err
		}
		records = awg.MergeRecords(records, r)
	}
	return records, nil
}

func (c *Clients) CreateClient(ctx context.Context, req model.CreateClientPayload) (model.CreateClientResult, error) {
	s, err := c.service(ctx, req.Protocol)
	if err != nil {
		return model.CreateClientResult{}, err
	}
	return s.CreateClient(ctx, req.ClientName, awg.CreateOptions{ExpiresAt: req.ExpiresAt})
}

func (c *Clients) UpdateClient(ctx context.Context, req model.UpdateClientPayload) error {
	s, err := c.service(ctx, req.Protocol)
	if err != nil {
		return err
	}
	return s.UpdateClient(ctx, req.ClientID, awg.UpdateOptions{
		ExpiresAt:    req.ExpiresAt.Value,
		ExpiresAtSet: req.ExpiresAt.Set,
		Status:       req.Status,
	})
}

func (c *Clients) DeleteClient(ctx context.Context, req model.DeleteClientPayload) error {
	s, err := c.service(ctx, req.Protocol)
	if err != nil {
		return err
	}
	ok, err := s.DeleteClient(ctx, req.ClientID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: client %s", model.ErrNotFound, req.ClientID)
	}
	return nil
}

// CleanupExpiredClients disables expired peers on every enabled protocol.
// A failing backend is logged and skipped; the count covers the others.
func (c *Clients) CleanupExpiredClients(ctx context.Context, now time.Time) (int, error) {
	enabled, err := c.enabled(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, p := range enabled {
		n, err := c.services[p].CleanupExpiredClients(ctx, now)
		if err != nil {
			log.Warnf("%s is not available, skipping expired clients cleanup: %v", p.DisplayName(), err)
			continue
		}
		total += n
	}
	return total, nil
}

// TotalPeers counts the peers of every enabled protocol.
func (c *Clients) TotalPeers(ctx context.Context) (int, error) {
	records, err := c.ListClients(ctx)
	if err != nil {
		return 0, err
	}
	return model.CountPeers(records), nil
}
