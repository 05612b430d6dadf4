package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	externalip "github.com/glendc/go-external-ip"
	"github.com/labstack/gommon/log"

	"github.com/awgpanel/awg-manager/model"
)

// publicIPTimeout bounds the consensus of the external ip sources.
const publicIPTimeout = 5 * time.Second

// GetPublicIP returns the machine's public ip address as agreed on by a
// consensus of external sources.
func GetPublicIP() (string, error) {
	cfg := externalip.ConsensusConfig{Timeout: publicIPTimeout}
	consensus := externalip.NewConsensus(&cfg, nil)

	// add trusted voters
	consensus.AddVoter(externalip.NewHTTPSource("http://checkip.amazonaws.com/"), 1)
	consensus.AddVoter(externalip.NewHTTPSource("http://whatismyip.akamai.com"), 1)
	consensus.AddVoter(externalip.NewHTTPSource("http://ifconfig.top"), 1)

	ip, err := consensus.ExternalIP()
	if err != nil {
		return "", fmt.Errorf("cannot detect public ip address: %w", err)
	}
	return ip.String(), nil
}

// ResolvePublicHost returns the configured public host, detecting the
// machine's public address when none is set. Share links carry no endpoint
// when detection fails.
func ResolvePublicHost(configured string) string {
	if configured != "" {
		return configured
	}
	ip, err := GetPublicIP()
	if err != nil {
		log.Warn("Share links will have no endpoint: ", err)
		return ""
	}
	log.Infof("Detected public address %s", ip)
	return ip
}

func LookupEnvOrString(key string, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func LookupEnvOrBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		v, err := strconv.ParseBool(val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "LookupEnvOrBool[%s]: %v\n", key, err)
			return defaultVal
		}
		return v
	}
	return defaultVal
}

func LookupEnvOrInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		v, err := strconv.Atoi(val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "LookupEnvOrInt[%s]: %v\n", key, err)
			return defaultVal
		}
		return v
	}
	return defaultVal
}

func LookupEnvOrStrings(key string, defaultVal []string) []string {
	if val, ok := os.LookupEnv(key); ok {
		return SplitCSV(val)
	}
	return defaultVal
}

// SplitCSV splits a comma separated list, dropping empty elements.
func SplitCSV(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// ParseProtocols converts protocol names to model.Protocol values.
func ParseProtocols(names []string) ([]model.Protocol, error) {
	protocols := make([]model.Protocol, 0, len(names))
	for _, name := range names {
		p, err := model.ParseProtocol(strings.ToLower(name))
		if err != nil {
			return nil, err
		}
		protocols = append(protocols, p)
	}
	return protocols, nil
}

func ParseLogLevel(lvl string) (log.Lvl, error) {
	switch strings.ToLower(lvl) {
	case "debug":
		return log.DEBUG, nil
	case "info":
		return log.INFO, nil
	case "warn":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	default:
		return log.DEBUG, fmt.Errorf("not a valid log level: %s", lvl)
	}
}
