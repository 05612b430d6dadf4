package model

import "fmt"

// Protocol identifies a VPN backend
type Protocol string

const (
	ProtocolAmneziaWG  Protocol = "amneziawg"
	ProtocolAmneziaWG2 Protocol = "amneziawg2"
)

// Protocols lists every supported backend in a stable order.
var Protocols = []Protocol{ProtocolAmneziaWG, ProtocolAmneziaWG2}

// DisplayName is the human readable protocol name used in share links.
func (p Protocol) DisplayName() string {
	switch p {
	case ProtocolAmneziaWG:
		return "AmneziaWG"
	case ProtocolAmneziaWG2:
		return "AmneziaWG 2.0"
	}
	return string(p)
}

// ParseProtocol validates a protocol name
func ParseProtocol(s string) (Protocol, error) {
	for _, p := range Protocols {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown protocol %q", ErrValidation, s)
}
