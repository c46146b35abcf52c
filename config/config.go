package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/boothworks/printfleet/pool"
)

// Config is the process startup configuration.
type Config struct {
	// Booth/cluster identity.
	NodeID    string
	RaftAddr  string
	RaftDir   string
	HTTPAddr  string
	Bootstrap bool
	JoinAddr  string
	Peers     []string

	// Engine settings.
	PoolsFile    string
	SessionLimit int
	EventLimit   int
	Spooler      string
	Workers      int
	QueueDepth   int
}

// ParseFlags parses command line flags and returns a Config.
func ParseFlags() *Config {
	config := &Config{}

	flag.StringVar(&config.NodeID, "id", "", "Booth node ID (required)")
	flag.StringVar(&config.RaftAddr, "raft-addr", "", "Raft transport address (required)")
	flag.StringVar(&config.RaftDir, "raft-dir", "", "Raft storage directory (required)")
	flag.StringVar(&config.HTTPAddr, "http-addr", "", "HTTP API address (required)")
	flag.BoolVar(&config.Bootstrap, "bootstrap", false, "Bootstrap the cluster (single booth: always set)")
	flag.StringVar(&config.JoinAddr, "join", "", "Join address of an existing booth")
	peersStr := flag.String("peers", "", "Comma-separated list of peer raft addresses")

	flag.StringVar(&config.PoolsFile, "pools", "", "Path to the pools JSON file (required)")
	flag.IntVar(&config.SessionLimit, "session-limit", 0, "Prints per session, 0 for unlimited")
	flag.IntVar(&config.EventLimit, "event-limit", 0, "Prints per event, 0 for unlimited")
	flag.StringVar(&config.Spooler, "spooler", "cups", "Print spooler backend: cups or memory")
	flag.IntVar(&config.Workers, "workers", 2, "Concurrent print workers")
	flag.IntVar(&config.QueueDepth, "queue-depth", 16, "Pending submissions before callers block")

	flag.Parse()

	for _, req := range []struct{ name, val string }{
		{"id", config.NodeID},
		{"raft-addr", config.RaftAddr},
		{"raft-dir", config.RaftDir},
		{"http-addr", config.HTTPAddr},
		{"pools", config.PoolsFile},
	} {
		if req.val == "" {
			fmt.Fprintf(os.Stderr, "-%s is required\n", req.name)
			flag.Usage()
			os.Exit(1)
		}
	}

	if *peersStr != "" {
		config.Peers = strings.Split(*peersStr, ",")
	}

	return config
}

// poolsFile is the on-disk shape of the pools config the settings UI
// writes.
type poolsFile struct {
	CooldownSeconds int           `json:"cooldown_seconds,omitempty"`
	Pools           []pool.Config `json:"pools"`
}

// LoadPools reads the pools file and validates it: at most one pool per
// format (pools may share member printers).
func LoadPools(path string) ([]pool.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pools file: %w", err)
	}

	var pf poolsFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse pools file %s: %w", path, err)
	}
	if len(pf.Pools) == 0 {
		return nil, fmt.Errorf("pools file %s declares no pools", path)
	}

	seen := make(map[string]bool)
	for i := range pf.Pools {
		cfg := &pf.Pools[i]
		if seen[cfg.Format.String()] {
			return nil, fmt.Errorf("pools file %s declares two pools for %s", path, cfg.Format)
		}
		seen[cfg.Format.String()] = true
		if cfg.CooldownSecond == 0 {
			cfg.CooldownSecond = pf.CooldownSeconds
		}
		if _, err := pool.ParseStrategy(string(cfg.Strategy)); err != nil {
			return nil, fmt.Errorf("pools file %s: %w", path, err)
		}
	}
	return pf.Pools, nil
}
