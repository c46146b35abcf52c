// Package raft replicates the shared booth state (driver profiles and
// quota counters) across a multi-booth deployment. A single booth runs a
// single-node bootstrap; the machinery is the same either way.
package raft

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb/v2"
)

// Node is one member of the booth cluster.
type Node struct {
	raft      *raft.Raft
	fsm       *FSM
	transport *raft.NetworkTransport
}

// Config configures a Node.
type Config struct {
	NodeID    string
	RaftAddr  string
	RaftDir   string
	Bootstrap bool
	Peers     []string
}

const applyTimeout = 5 * time.Second

// NewNode builds the raft instance: boltdb log and stable stores, a file
// snapshot store, and a TCP transport, then bootstraps if asked.
func NewNode(config *Config) (*Node, error) {
	fsm := NewFSM()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(config.NodeID)
	raftConfig.SnapshotInterval = 20 * time.Second
	raftConfig.SnapshotThreshold = 1024

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(config.RaftDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create boltdb log store: %w", err)
	}

	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(config.RaftDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create boltdb stable store: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(config.RaftDir, 3, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	addr, err := net.ResolveTCPAddr("tcp", config.RaftAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve raft address: %w", err)
	}
	transport, err := raft.NewTCPTransport(config.RaftAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create TCP transport: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft instance: %w", err)
	}

	if config.Bootstrap {
		configuration := raft.Configuration{
			Servers: []raft.Server{
				{
					ID:      raft.ServerID(config.NodeID),
					Address: raft.ServerAddress(config.RaftAddr),
				},
			},
		}
		for _, peer := range config.Peers {
			if peer != config.RaftAddr {
				configuration.Servers = append(configuration.Servers, raft.Server{
					ID:      raft.ServerID(fmt.Sprintf("booth-%s", peer)),
					Address: raft.ServerAddress(peer),
				})
			}
		}
		f := r.BootstrapCluster(configuration)
		if err := f.Error(); err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
			return nil, fmt.Errorf("bootstrap cluster: %w", err)
		}
	}

	return &Node{
		raft:      r,
		fsm:       fsm,
		transport: transport,
	}, nil
}

// Apply replicates a command and returns the state machine's verdict.
// Command-level failures (including quota denials) come back unwrapped so
// callers can match on their types.
func (n *Node) Apply(cmd *Command) error {
	data, err := cmd.Marshal()
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}

	future := n.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("apply command to raft log: %w", err)
	}

	if appErr, ok := future.Response().(error); ok && appErr != nil {
		return appErr
	}
	return nil
}

// FSM returns the local state machine for reads.
func (n *Node) FSM() *FSM {
	return n.fsm
}

// Leader reports whether this node currently leads the cluster.
func (n *Node) Leader() bool {
	return n.raft.State() == raft.Leader
}

// LeaderAddress returns the current leader's raft address.
func (n *Node) LeaderAddress() string {
	return string(n.raft.Leader())
}

// State returns the raft state for the status endpoint.
func (n *Node) State() raft.RaftState {
	return n.raft.State()
}

// Shutdown closes the transport and stops raft.
func (n *Node) Shutdown() error {
	if n.transport != nil {
		n.transport.Close()
	}
	if n.raft != nil {
		return n.raft.Shutdown().Error()
	}
	return nil
}
