package wgconf

import (
	"strconv"
	"strings"
)

// NanosecondThreshold separates handshake timestamps in nanoseconds from
// timestamps in seconds. Some builds of the userspace tools print the
// former; any value above the threshold is divided down to seconds.
const NanosecondThreshold int64 = 1_000_000_000_000

const (
	dumpFields   = 8
	noneEndpoint = "(none)"
)

// DumpPeer is one peer row of `wg show <iface> dump`.
type DumpPeer struct {
	PublicKey    string
	PresharedKey string
	// Endpoint is empty when the runtime reports "(none)".
	Endpoint      string
	AllowedIPs    []string
	LastHandshake int64
	Received      int64
	Sent          int64
	Keepalive     string
}

// ParseDump extracts peer rows from a runtime dump. The interface row and
// anything that does not look like a peer are skipped.
func ParseDump(text string) []DumpPeer {
	var peers []DumpPeer
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < dumpFields {
			continue
		}
		if !strings.Contains(parts[2], ":") && !strings.Contains(parts[3], "/") {
			continue
		}
		p := DumpPeer{
			PublicKey:     parts[0],
			PresharedKey:  parts[1],
			AllowedIPs:    SplitList(parts[3]),
			LastHandshake: NormalizeHandshake(parseInt(parts[4])),
			Received:      parseInt(parts[5]),
			Sent:          parseInt(parts[6]),
			Keepalive:     parts[7],
		}
		if parts[2] != noneEndpoint {
			p.Endpoint = parts[2]
		}
		peers = append(peers, p)
	}
	return peers
}

// NormalizeHandshake converts a handshake timestamp to epoch seconds.
func NormalizeHandshake(v int64) int64 {
	if v > NanosecondThreshold {
		return v / 1_000_000_000
	}
	return v
}

func parseInt(s string) int64 {
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return v
}
