package wgconf

import (
	"fmt"
	"strings"
)

// DisabledAllowedIPs is the AllowedIPs value of a disabled peer. No other
// representation of "disabled" exists.
const DisabledAllowedIPs = "0.0.0.0/32"

// IsDisabled reports whether an AllowedIPs list marks the peer as disabled.
func IsDisabled(allowedIPs []string) bool {
	return len(allowedIPs) == 1 && allowedIPs[0] == DisabledAllowedIPs
}

// SplitList splits a comma separated value, trimming every element.
func SplitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// HostCIDR returns ip as a host route, keeping an explicit prefix if present.
func HostCIDR(ip string) string {
	if strings.Contains(ip, "/") {
		return ip
	}
	return ip + "/32"
}

// matches reports whether s is the [Peer] section of publicKey. The key must
// be equal to the PublicKey value, not merely contained in the section.
func (s *Section) matches(publicKey string) bool {
	if !s.IsPeer() || publicKey == "" {
		return false
	}
	v, ok := s.Value(keyPublicKey)
	return ok && v == publicKey
}

// Peer returns the first [Peer] section of publicKey, or nil.
func (d *Document) Peer(publicKey string) *Section {
	for _, s := range d.sections {
		if s.matches(publicKey) {
			return s
		}
	}
	return nil
}

// FindAllowedIPs returns the raw AllowedIPs value of the peer.
func (d *Document) FindAllowedIPs(publicKey string) (string, bool) {
	s := d.Peer(publicKey)
	if s == nil {
		return "", false
	}
	return s.Value(keyAllowedIPs)
}

// SetAllowedIPs rewrites the AllowedIPs of every section of publicKey,
// inserting the line after PublicKey when missing. It reports whether a
// section matched.
func (d *Document) SetAllowedIPs(publicKey, value string) bool {
	matched := false
	for _, s := range d.sections {
		if s.matches(publicKey) {
			s.Set(keyAllowedIPs, value, keyPublicKey)
			matched = true
		}
	}
	return matched
}

// RemovePeer drops every section of publicKey and reports whether one was found.
func (d *Document) RemovePeer(publicKey string) bool {
	kept := d.sections[:0]
	removed := false
	for _, s := range d.sections {
		if s.matches(publicKey) {
			removed = true
			continue
		}
		kept = append(kept, s)
	}
	d.sections = kept
	return removed
}

// AppendPeer adds a new [Peer] block at the end of the document, separated
// from the previous content by an empty line.
func (d *Document) AppendPeer(publicKey, presharedKey, allowedIPs string) {
	last := d.sections[len(d.sections)-1]
	if n := len(last.lines); n == 0 || last.lines[n-1] != "" {
		last.lines = append(last.lines, "")
	}
	peer := &Section{Name: sectionPeer, lines: []string{"[" + sectionPeer + "]"}}
	peer.lines = append(peer.lines, fmt.Sprintf("%s = %s", keyPublicKey, publicKey))
	if presharedKey != "" {
		peer.lines = append(peer.lines, fmt.Sprintf("%s = %s", keyPresharedKey, presharedKey))
	}
	peer.lines = append(peer.lines, fmt.Sprintf("%s = %s", keyAllowedIPs, allowedIPs), "")
	d.sections = append(d.sections, peer)
}
