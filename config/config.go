// Package config parses the CLI's single `key:value` configuration
// string into a typed Configuration record. Grounded in shape on
// Rain168-server/configuration's JSON-to-Configuration translation
// (configuration/topology.go's ToConfiguration), adapted from JSON
// object fields to a flat colon-delimited token list: no library in the
// retrieved pack parses this bespoke format, so the parser itself is
// stdlib strings/strconv only (see DESIGN.md).
package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Configuration is the parsed form of the command line's configuration
// string.
type Configuration struct {
	MyAddr   string
	MyPaxos  string
	FailRate float64
	Replica  []string
	LogLevel string
	Recover  bool
}

// defaultLogLevel is used when the config string carries no log_level
// key, matching the original's quiet-by-default startup.
const defaultLogLevel = "info"

// Parse splits raw on whitespace into `key:value` tokens and builds a
// Configuration. `replica` may repeat; every other key must appear at
// most once. `my_addr` and `my_paxos` are required.
func Parse(raw string) (*Configuration, error) {
	cfg := &Configuration{LogLevel: defaultLogLevel}
	seen := make(map[string]bool)

	for _, tok := range strings.Fields(raw) {
		key, value, ok := strings.Cut(tok, ":")
		if !ok {
			return nil, fmt.Errorf("config: token %q is not in key:value form", tok)
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "my_addr":
			cfg.MyAddr = value
		case "my_paxos":
			cfg.MyPaxos = value
		case "fail_rate":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return nil, fmt.Errorf("config: fail_rate %q: %w", value, err)
			}
			cfg.FailRate = f
		case "replica":
			cfg.Replica = append(cfg.Replica, value)
			continue
		case "log_level":
			cfg.LogLevel = value
		case "recover":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("config: recover %q: %w", value, err)
			}
			cfg.Recover = b
		default:
			return nil, fmt.Errorf("config: unrecognised key %q", key)
		}

		if seen[key] {
			return nil, fmt.Errorf("config: key %q repeated", key)
		}
		seen[key] = true
	}

	if cfg.MyAddr == "" {
		return nil, fmt.Errorf("config: my_addr is required")
	}
	if cfg.MyPaxos == "" {
		return nil, fmt.Errorf("config: my_paxos is required")
	}
	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return nil, fmt.Errorf("config: fail_rate must be in [0,1], got %v", cfg.FailRate)
	}

	return cfg, nil
}
