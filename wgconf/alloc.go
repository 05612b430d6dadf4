package wgconf

import (
	"fmt"
	"net/netip"
	"strings"

	"github.com/awgpanel/awg-manager/model"
)

// DefaultAddressPrefix is used when [Interface] has no usable IPv4 Address.
const DefaultAddressPrefix = "10.8.1"

const (
	firstHost = 1
	lastHost  = 254
)

// AddressPrefix returns the first three octets of the interface address.
func (d *Document) AddressPrefix() string {
	prefix, _ := d.interfaceHost()
	return prefix
}

// interfaceHost returns the /24 prefix of the interface address and the
// interface's own host octet, or -1 when it has none.
func (d *Document) interfaceHost() (string, int) {
	value, ok := d.InterfaceValue(keyAddress)
	if !ok {
		return DefaultAddressPrefix, -1
	}
	for _, a := range SplitList(value) {
		addr, err := parseAddr(a)
		if err != nil || !addr.Is4() {
			continue
		}
		b := addr.As4()
		return fmt.Sprintf("%d.%d.%d", b[0], b[1], b[2]), int(b[3])
	}
	return DefaultAddressPrefix, -1
}

// AllocateFreeAddress returns the lowest free host address of the interface
// /24. Every IPv4 /32 in any peer's AllowedIPs counts as taken, and so does
// the interface's own host octet: with Address = 10.8.1.1/24 and no peers the
// result is 10.8.1.2, never 10.8.1.1. Allocation scans hosts 1 to 254 only.
func (d *Document) AllocateFreeAddress() (string, error) {
	prefix, own := d.interfaceHost()
	used := map[int]bool{own: true}
	for _, p := range d.Peers() {
		value, ok := p.Value(keyAllowedIPs)
		if !ok {
			continue
		}
		for _, cidr := range SplitList(value) {
			pfx, err := netip.ParsePrefix(cidr)
			if err != nil || !pfx.Addr().Is4() || pfx.Bits() != 32 {
				continue
			}
			used[int(pfx.Addr().As4()[3])] = true
		}
	}
	for host := firstHost; host <= lastHost; host++ {
		if !used[host] {
			return fmt.Sprintf("%s.%d", prefix, host), nil
		}
	}
	return "", fmt.Errorf("%w in %s.0/24", model.ErrResourceExhausted, prefix)
}

func parseAddr(s string) (netip.Addr, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Addr{}, err
		}
		return p.Addr(), nil
	}
	return netip.ParseAddr(s)
}
