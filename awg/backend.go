// Package awg manages peers of the AmneziaWG family of backends. A Service
// keeps the peer configuration document and the client table of one
// backend consistent; a Connection reads and writes both through a
// shell.Runner.
package awg

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/awgpanel/awg-manager/model"
)

// Paths of the backend files inside the runtime
type Paths struct {
	Config          string `yaml:"config"`
	ServerPublicKey string `yaml:"server_public_key"`
	PresharedKey    string `yaml:"preshared_key"`
	ClientsTable    string `yaml:"clients_table"`
}

// Backend describes one protocol variant
type Backend struct {
	Protocol  model.Protocol `yaml:"-"`
	Container string         `yaml:"container"`
	Interface string         `yaml:"interface"`
	// Tool and QuickTool are the wg(8) and wg-quick(8) flavoured binaries.
	Tool      string `yaml:"tool"`
	QuickTool string `yaml:"quick_tool"`
	Paths     Paths  `yaml:"paths"`
	MTU       string `yaml:"mtu"`
	Keepalive string `yaml:"keepalive"`
	Transport string `yaml:"transport"`
	// Tunables are the obfuscation keys copied from [Interface] into client profiles.
	Tunables []string `yaml:"tunables"`
}

var awgTunables = []string{"Jc", "Jmin", "Jmax", "S1", "S2", "H1", "H2", "H3", "H4"}

var awg2Tunables = []string{"Jc", "Jmin", "Jmax", "S1", "S2", "S3", "S4", "H1", "H2", "H3", "H4", "I1", "I2", "I3", "I4", "I5"}

// DefaultBackends returns the stock layout of the Amnezia containers.
func DefaultBackends() map[model.Protocol]Backend {
	return map[model.Protocol]Backend{
		model.ProtocolAmneziaWG: {
			Protocol:  model.ProtocolAmneziaWG,
			Container: "amnezia-awg",
			Interface: "wg0",
			Tool:      "wg",
			QuickTool: "wg-quick",
			Paths: Paths{
				Config:          "/opt/amnezia/awg/wg0.conf",
				ServerPublicKey: "/opt/amnezia/awg/wireguard_server_public_key.key",
				PresharedKey:    "/opt/amnezia/awg/wireguard_psk.key",
				ClientsTable:    "/opt/amnezia/awg/clientsTable",
			},
			MTU:       "1376",
			Keepalive: "25",
			Transport: "udp",
			Tunables:  awgTunables,
		},
		model.ProtocolAmneziaWG2: {
			Protocol:  model.ProtocolAmneziaWG2,
			Container: "amnezia-awg2",
			Interface: "awg0",
			Tool:      "awg",
			QuickTool: "awg-quick",
			Paths: Paths{
				Config:          "/opt/amnezia/awg/awg0.conf",
				ServerPublicKey: "/opt/amnezia/awg/wireguard_server_public_key.key",
				PresharedKey:    "/opt/amnezia/awg/wireguard_psk.key",
				ClientsTable:    "/opt/amnezia/awg/clientsTable",
			},
			MTU:       "1376",
			Keepalive: "25",
			Transport: "udp",
			Tunables:  awg2Tunables,
		},
	}
}

// LoadBackends returns the default backends with the overrides of a YAML
// file applied. The file maps protocol names to partial Backend values:
//
//	amneziawg2:
//	  container: my-awg2
//	  paths:
//	    config: /etc/amnezia/awg0.conf
//
// An empty path returns the defaults.
func LoadBackends(path string) (map[model.Protocol]Backend, error) {
	backends := DefaultBackends()
	if path == "" {
		return backends, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read backends config: %w", err)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse backends config: %w", err)
	}
	for name, node := range raw {
		p, err := model.ParseProtocol(name)
		if err != nil {
			return nil, fmt.Errorf("backends config: %w", err)
		}
		b := backends[p]
		// decoding onto the default keeps every field the file leaves out
		if err := node.Decode(&b); err != nil {
			return nil, fmt.Errorf("backends config %s: %w", name, err)
		}
		b.Protocol = p
		backends[p] = b
	}
	return backends, nil
}
