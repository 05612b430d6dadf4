package service

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/model"
	"github.com/awgpanel/awg-manager/shell"
)

const (
	hostCommandTimeout = 1500 * time.Millisecond
	statsBufferBytes   = 1024 * 1024
	statsFormat        = `{{.Name}}\t{{.CPUPerc}}\t{{.MemUsage}}\t{{.NetIO}}\t{{.PIDs}}`
)

// HostMonitor samples the load of the host and of the backend containers
// through a host runner.
type HostMonitor struct {
	host       shell.Runner
	containers []string
	now        func() time.Time
}

func NewHostMonitor(host shell.Runner, containers []string) *HostMonitor {
	return &HostMonitor{host: host, containers: containers, now: time.Now}
}

// Load never fails. A section the host cannot report is left nil.
func (m *HostMonitor) Load(ctx context.Context) model.ServerLoad {
	load := model.ServerLoad{
		Timestamp: m.now().UTC(),
		CPU:       model.LoadCPU{Cores: m.cores(ctx)},
	}
	if out, ok := m.read(ctx, "cat /proc/uptime", 0); ok {
		load.UptimeSec = parseUptime(out)
	}
	if out, ok := m.read(ctx, "cat /proc/loadavg", 0); ok {
		load.LoadAvg = parseLoadAvg(out)
	}
	if out, ok := m.read(ctx, "cat /proc/meminfo", 0); ok {
		load.Memory = parseMeminfo(out)
	}
	if out, ok := m.read(ctx, "df -kP /", 0); ok {
		load.Disk = parseDf(out)
	}
	if out, ok := m.read(ctx, "cat /proc/net/dev", 0); ok {
		load.Network = parseNetDev(out)
	}
	load.Docker = m.docker(ctx)
	return load
}

// Reboot runs sudo reboot. The connection usually drops before the command
// returns, so failures are only logged.
func (m *HostMonitor) Reboot(ctx context.Context) error {
	log.Warn("Rebooting the host")
	if _, err := m.host.Run(ctx, "sudo reboot", shell.Options{Timeout: hostCommandTimeout}); err != nil {
		log.Warnf("Reboot command returned: %v", err)
	}
	return nil
}

func (m *HostMonitor) read(ctx context.Context, cmd string, limit int) (string, bool) {
	res, err := m.host.Run(ctx, cmd, shell.Options{Timeout: hostCommandTimeout, MaxBufferBytes: limit})
	if err != nil {
		log.Debugf("Load sample %q failed: %v", cmd, err)
		return "", false
	}
	return res.Stdout, true
}

func (m *HostMonitor) cores(ctx context.Context) int {
	if out, ok := m.read(ctx, "nproc", 0); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(out)); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}

func (m *HostMonitor) docker(ctx context.Context) *model.LoadDocker {
	var running []string
	for _, c := range m.containers {
		if shell.ContainerRunning(ctx, m.host, c) {
			running = append(running, c)
		}
	}
	if len(running) == 0 {
		return nil
	}
	quoted := make([]string, len(running))
	for i, c := range running {
		quoted[i] = shell.Quote(c)
	}
	cmd := fmt.Sprintf("docker stats --no-stream --format %s %s", shell.Quote(statsFormat), strings.Join(quoted, " "))
	out, ok := m.read(ctx, cmd, statsBufferBytes)
	if !ok {
		return nil
	}
	stats := parseDockerStats(out)
	if len(stats) == 0 {
		return nil
	}
	return &model.LoadDocker{Containers: stats}
}

func parseUptime(out string) *float64 {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return nil
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return nil
	}
	return &v
}

func parseLoadAvg(out string) *[3]float64 {
	fields := strings.Fields(out)
	if len(fields) < 3 {
		return nil
	}
	var avg [3]float64
	for i := range avg {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil
		}
		avg[i] = v
	}
	return &avg
}

// parseMeminfo reads MemTotal and MemAvailable, falling back to MemFree on
// kernels without MemAvailable.
func parseMeminfo(out string) *model.LoadMemory {
	kb := map[string]int64{}
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		key, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		if v, err := strconv.ParseInt(fields[0], 10, 64); err == nil {
			kb[key] = v
		}
	}
	total, ok := kb["MemTotal"]
	if !ok {
		return nil
	}
	free, ok := kb["MemAvailable"]
	if !ok {
		free = kb["MemFree"]
	}
	return &model.LoadMemory{
		TotalBytes: total * 1024,
		FreeBytes:  free * 1024,
		UsedBytes:  (total - free) * 1024,
	}
}

// parseDf reads the data line of `df -kP`.
func parseDf(out string) *model.LoadDisk {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return nil
	}
	fields := strings.Fields(lines[len(lines)-1])
	if len(fields) < 5 {
		return nil
	}
	var kb [3]int64
	for i := range kb {
		v, err := strconv.ParseInt(fields[i+1], 10, 64)
		if err != nil {
			return nil
		}
		kb[i] = v
	}
	percent, err := strconv.ParseFloat(strings.TrimSuffix(fields[4], "%"), 64)
	if err != nil {
		return nil
	}
	return &model.LoadDisk{
		TotalBytes:     kb[0] * 1024,
		UsedBytes:      kb[1] * 1024,
		AvailableBytes: kb[2] * 1024,
		UsedPercent:    percent,
	}
}

func parseNetDev(out string) *model.LoadNetwork {
	var n model.LoadNetwork
	seen := false
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		name, rest, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "lo" {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) < 9 {
			continue
		}
		rx, err1 := strconv.ParseInt(fields[0], 10, 64)
		tx, err2 := strconv.ParseInt(fields[8], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		n.RxBytes += rx
		n.TxBytes += tx
		seen = true
	}
	if !seen {
		return nil
	}
	return &n
}

func parseDockerStats(out string) []model.ContainerStats {
	var stats []model.ContainerStats
	for _, line := range strings.Split(out, "\n") {
		cols := strings.Split(strings.TrimSpace(line), "\t")
		if len(cols) < 5 || cols[0] == "" {
			continue
		}
		s := model.ContainerStats{Name: cols[0]}
		if v, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(cols[1]), "%"), 64); err == nil {
			s.CPUPercent = &v
		}
		s.MemUsageBytes, s.MemLimitBytes = parseBytePair(cols[2])
		s.NetRxBytes, s.NetTxBytes = parseBytePair(cols[3])
		if v, err := strconv.ParseInt(strings.TrimSpace(cols[4]), 10, 64); err == nil {
			s.PIDs = &v
		}
		stats = append(stats, s)
	}
	return stats
}

// parseBytePair splits docker's "used / limit" columns.
func parseBytePair(s string) (*int64, *int64) {
	left, right, _ := strings.Cut(s, "/")
	return parseBytes(left), parseBytes(right)
}

var (
	byteSizeRe = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*([a-zA-Z]+)?$`)
	byteUnits  = map[string]float64{
		"":      1,
		"b":     1,
		"bytes": 1,
		"k":     1e3,
		"kb":    1e3,
		"kib":   1 << 10,
		"mb":    1e6,
		"mib":   1 << 20,
		"gb":    1e9,
		"gib":   1 << 30,
		"tb":    1e12,
		"tib":   1 << 40,
	}
)

// parseBytes converts sizes such as "12.5MiB" or "3kB" to bytes.
func parseBytes(s string) *int64 {
	m := byteSizeRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return nil
	}
	unit, ok := byteUnits[strings.ToLower(m[2])]
	if !ok {
		return nil
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil
	}
	n := int64(v * unit)
	return &n
}
