package model

// PeerStatus is the activation state of a peer, derived from its AllowedIPs.
type PeerStatus string

const (
	PeerStatusActive   PeerStatus = "active"
	PeerStatusDisabled PeerStatus = "disabled"
)

// ClientTableEntry model, one element of the clientsTable JSON array
type ClientTableEntry struct {
	ClientID string `json:"clientId"`
	// PublicKey is the legacy alias of ClientID. It is folded into ClientID on read.
	PublicKey string    `json:"publicKey,omitempty"`
	UserData  *UserData `json:"userData,omitempty"`
}

// Key returns the identifier of the entry, falling back to the legacy field.
func (e ClientTableEntry) Key() string {
	if e.ClientID != "" {
		return e.ClientID
	}
	return e.PublicKey
}

// UserData holds the human facing metadata of a peer
type UserData struct {
	ClientName   string `json:"clientName,omitempty"`
	CreationDate string `json:"creationDate,omitempty"`
	// ExpiresAt is an epoch timestamp in seconds.
	ExpiresAt *int64 `json:"expiresAt,omitempty"`
	// AllowedIP caches the host address of the peer while it is disabled.
	AllowedIP string `json:"allowedIp,omitempty"`
}

// Traffic counters of a peer as reported by the runtime dump
type Traffic struct {
	Received int64 `json:"received"`
	Sent     int64 `json:"sent"`
}

// PeerView is the runtime view of one peer. It is never persisted.
type PeerView struct {
	ID            string     `json:"id"`
	Name          *string    `json:"name"`
	AllowedIPs    []string   `json:"allowedIps"`
	LastHandshake int64      `json:"lastHandshake"`
	Traffic       Traffic    `json:"traffic"`
	Endpoint      *string    `json:"endpoint"`
	Online        bool       `json:"online"`
	ExpiresAt     *int64     `json:"expiresAt"`
	Status        PeerStatus `json:"status"`
	Protocol      Protocol   `json:"protocol"`
}

// ClientRecord groups the peers owned by one username
type ClientRecord struct {
	Username string     `json:"username"`
	Peers    []PeerView `json:"peers"`
}

// CreateClientResult is returned after a peer has been provisioned
type CreateClientResult struct {
	ID       string   `json:"id"`
	Config   string   `json:"config"`
	Protocol Protocol `json:"protocol"`
	QRCode   string   `json:"qrCode,omitempty"`
}

// CountPeers returns the number of peers across all records.
func CountPeers(records []ClientRecord) int {
	total := 0
	for _, r := range records {
		total += len(r.Peers)
	}
	return total
}
