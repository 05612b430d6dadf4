package awg

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/wgconf"
)

// ProfileParams are the inputs of a client profile.
type ProfileParams struct {
	Address         string
	PrivateKey      string
	PublicKey       string
	PresharedKey    string
	ServerPublicKey string
	ListenPort      string
	Host            string
	PrimaryDNS      string
	SecondaryDNS    string
	// Tunables holds the obfuscation values in the backend's key order.
	Tunables []Tunable
}

// Tunable is one obfuscation key copied from the server [Interface].
type Tunable struct {
	Key   string
	Value string
}

// ReadTunables returns the backend's tunables as set in the server document.
// Missing keys are kept with an empty value.
func ReadTunables(doc *wgconf.Document, keys []string) []Tunable {
	out := make([]Tunable, 0, len(keys))
	for _, k := range keys {
		v, _ := doc.InterfaceValue(k)
		out = append(out, Tunable{Key: k, Value: firstField(v)})
	}
	return out
}

func firstField(v string) string {
	if f := strings.Fields(v); len(f) > 0 {
		return f[0]
	}
	return ""
}

// BuildClientConfig renders the wg-quick profile of a client.
func BuildClientConfig(b Backend, p ProfileParams) string {
	var sb strings.Builder
	sb.WriteString("[Interface]\n")
	fmt.Fprintf(&sb, "Address = %s/32\n", p.Address)
	fmt.Fprintf(&sb, "DNS = %s, %s\n", p.PrimaryDNS, p.SecondaryDNS)
	fmt.Fprintf(&sb, "PrivateKey = %s\n", p.PrivateKey)
	for _, t := range p.Tunables {
		fmt.Fprintf(&sb, "%s = %s\n", t.Key, t.Value)
	}
	sb.WriteString("\n[Peer]\n")
	fmt.Fprintf(&sb, "PublicKey = %s\n", p.ServerPublicKey)
	if p.PresharedKey != "" {
		fmt.Fprintf(&sb, "PresharedKey = %s\n", p.PresharedKey)
	}
	sb.WriteString("AllowedIPs = 0.0.0.0/0, ::/0\n")
	if p.Host != "" && p.ListenPort != "" {
		fmt.Fprintf(&sb, "Endpoint = %s:%s\n", p.Host, p.ListenPort)
	}
	fmt.Fprintf(&sb, "PersistentKeepalive = %s\n", b.Keepalive)
	return sb.String()
}

// ShareContainer is one entry of the containers list of a share payload.
type ShareContainer struct {
	AWG       map[string]interface{} `json:"awg"`
	Container string                 `json:"container"`
}

// SharePayload is the server bootstrap document embedded in a vpn:// link.
type SharePayload struct {
	Containers       []ShareContainer `json:"containers"`
	DefaultContainer string           `json:"defaultContainer"`
	Description      string           `json:"description"`
	DNS1             string           `json:"dns1"`
	DNS2             string           `json:"dns2"`
	HostName         string           `json:"hostName"`
}

// BuildSharePayload assembles the bootstrap document of a new client.
func BuildSharePayload(b Backend, p ProfileParams, description string) (SharePayload, error) {
	config := BuildClientConfig(b, p)

	lastConfig := map[string]interface{}{
		"allowed_ips":           []string{"0.0.0.0/0", "::/0"},
		"clientId":              p.PublicKey,
		"client_ip":             p.Address,
		"client_priv_key":       p.PrivateKey,
		"client_pub_key":        p.PublicKey,
		"config":                config,
		"hostName":              p.Host,
		"mtu":                   b.MTU,
		"persistent_keep_alive": b.Keepalive,
		"psk_key":               p.PresharedKey,
		"server_pub_key":        p.ServerPublicKey,
	}
	if port, err := strconv.Atoi(p.ListenPort); err == nil {
		lastConfig["port"] = port
	}
	for _, t := range p.Tunables {
		lastConfig[t.Key] = t.Value
	}
	// the clients expect last_config as an indented JSON string
	last, err := json.MarshalIndent(lastConfig, "", "  ")
	if err != nil {
		return SharePayload{}, fmt.Errorf("cannot encode last_config: %w", err)
	}

	awg := map[string]interface{}{
		"last_config":     string(last),
		"port":            p.ListenPort,
		"transport_proto": b.Transport,
	}
	for _, t := range p.Tunables {
		awg[t.Key] = t.Value
	}

	return SharePayload{
		Containers:       []ShareContainer{{AWG: awg, Container: b.Container}},
		DefaultContainer: b.Container,
		Description:      description,
		DNS1:             p.PrimaryDNS,
		DNS2:             p.SecondaryDNS,
		HostName:         p.Host,
	}, nil
}

var (
	protocolPlaceholder = regexp.MustCompile(`(?i)\{protocol\}`)
	usernamePlaceholder = regexp.MustCompile(`(?i)\{username\}`)
)

// Description renders the server name shown by the client app. serverName
// may contain {protocol} and {username} placeholders; an empty name gives
// "<clientName> | <protocol>".
func Description(serverName, clientName string, protocol model.Protocol) string {
	name := protocol.DisplayName()
	switch {
	case serverName == "":
		return fmt.Sprintf("%s | %s", clientName, name)
	case protocolPlaceholder.MatchString(serverName) || usernamePlaceholder.MatchString(serverName):
		s := protocolPlaceholder.ReplaceAllLiteralString(serverName, name)
		return usernamePlaceholder.ReplaceAllLiteralString(s, clientName)
	}
	return serverName
}
