package awg

import (
	"regexp"
	"strings"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/wgconf"
)

// OnlineWindow is how recent a handshake must be, in seconds, for a peer to count as online.
const OnlineWindow = 180

var clientNamePattern = regexp.MustCompile(`^\s*(.*?)\s*(?:\[(.*)\])?\s*$`)

// ParseClientName splits "john [iphone]" into the username and the peer label.
func ParseClientName(clientName string) (username, label string) {
	m := clientNamePattern.FindStringSubmatch(clientName)
	if m == nil {
		return strings.TrimSpace(clientName), ""
	}
	username = strings.TrimSpace(m[1])
	if username == "" {
		username = strings.TrimSpace(clientName)
	}
	return username, strings.TrimSpace(m[2])
}

type peerMeta struct {
	username  string
	labels    []string
	expiresAt *int64
}

func tableIndex(table []model.ClientTableEntry) map[string]*peerMeta {
	index := make(map[string]*peerMeta)
	for _, e := range table {
		if e.ClientID == "" || e.UserData == nil || e.UserData.ClientName == "" {
			continue
		}
		username, label := ParseClientName(e.UserData.ClientName)
		m, ok := index[e.ClientID]
		if !ok {
			m = &peerMeta{username: username, expiresAt: e.UserData.ExpiresAt}
			index[e.ClientID] = m
		}
		if label != "" && !contains(m.labels, label) {
			m.labels = append(m.labels, label)
		}
		if e.UserData.ExpiresAt != nil && *e.UserData.ExpiresAt != 0 {
			m.expiresAt = e.UserData.ExpiresAt
		}
	}
	return index
}

// mergePeers joins the runtime dump with the client table and groups the
// peers by username, keeping dump order inside every group.
func mergePeers(dump string, table []model.ClientTableEntry, now int64, protocol model.Protocol) []model.ClientRecord {
	index := tableIndex(table)
	records := []model.ClientRecord{}
	positions := make(map[string]int)

	for _, p := range wgconf.ParseDump(dump) {
		view := model.PeerView{
			ID:            p.PublicKey,
			AllowedIPs:    p.AllowedIPs,
			LastHandshake: p.LastHandshake,
			Traffic:       model.Traffic{Received: p.Received, Sent: p.Sent},
			Online:        now-p.LastHandshake < OnlineWindow,
			Status:        model.PeerStatusActive,
			Protocol:      protocol,
		}
		if view.AllowedIPs == nil {
			view.AllowedIPs = []string{}
		}
		if p.Endpoint != "" {
			endpoint := p.Endpoint
			view.Endpoint = &endpoint
		}
		if wgconf.IsDisabled(p.AllowedIPs) {
			view.Status = model.PeerStatusDisabled
		}

		username := p.PublicKey
		if m, ok := index[p.PublicKey]; ok {
			if m.username != "" {
				username = m.username
			}
			if len(m.labels) > 0 {
				label := m.labels[0]
				view.Name = &label
			}
			if m.expiresAt != nil && *m.expiresAt != 0 {
				expiresAt := *m.expiresAt
				view.ExpiresAt = &expiresAt
			}
		}

		i, ok := positions[username]
		if !ok {
			i = len(records)
			positions[username] = i
			records = append(records, model.ClientRecord{Username: username, Peers: []model.PeerView{}})
		}
		records[i].Peers = append(records[i].Peers, view)
	}
	return records
}

// MergeRecords folds the records of src into dst by username.
func MergeRecords(dst, src []model.ClientRecord) []model.ClientRecord {
	positions := make(map[string]int, len(dst))
	for i, r := range dst {
		positions[r.Username] = i
	}
	for _, r := range src {
		if i, ok := positions[r.Username]; ok {
			dst[i].Peers = append(dst[i].Peers, r.Peers...)
			continue
		}
		positions[r.Username] = len(dst)
		dst = append(dst, model.ClientRecord{Username: r.Username, Peers: append([]model.PeerView{}, r.Peers...)})
	}
	return dst
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
