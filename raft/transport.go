package raft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/raft"
)

// Transport forwards write requests to the cluster leader and handles
// membership changes over HTTP.
type Transport struct {
	node *Node
	// LeaderHTTPAddr maps a raft address to the HTTP address of the same
	// booth. Defaults to same host, HTTP port = raft port + 1000.
	LeaderHTTPAddr func(raftAddr string) string
}

func NewTransport(node *Node) *Transport {
	return &Transport{
		node:           node,
		LeaderHTTPAddr: defaultLeaderHTTPAddr,
	}
}

// defaultLeaderHTTPAddr assumes the convention used by the deployment
// scripts: booth N listens for raft on :7N00 and HTTP on :8N00.
func defaultLeaderHTTPAddr(raftAddr string) string {
	host, port, ok := splitHostPort(raftAddr)
	if !ok {
		return ""
	}
	return fmt.Sprintf("http://%s:%d", host, port+1000)
}

func splitHostPort(addr string) (string, int, bool) {
	var host string
	var port int
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			host = addr[:i]
			if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil {
				return "", 0, false
			}
			if host == "" {
				host = "localhost"
			}
			return host, port, true
		}
	}
	return "", 0, false
}

// ForwardToLeader relays a request body to the same path on the leader's
// HTTP API. Returns the response body.
func (t *Transport) ForwardToLeader(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if t.node.Leader() {
		return nil, nil
	}

	leaderAddr := t.node.LeaderAddress()
	if leaderAddr == "" {
		return nil, fmt.Errorf("no leader available")
	}
	base := t.LeaderHTTPAddr(leaderAddr)
	if base == "" {
		return nil, fmt.Errorf("can not derive leader HTTP address from %s", leaderAddr)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, base+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("leader returned %d: %s", resp.StatusCode, respBody)
	}
	return respBody, nil
}

// JoinCluster asks the booth at joinAddr (an HTTP address) to add this
// booth as a voter. joinAddr does not have to be the leader; a follower
// answers 409 with the leader's address and the operator retries there.
func (t *Transport) JoinCluster(ctx context.Context, joinAddr, nodeID, nodeAddr string) error {
	body, err := json.Marshal(map[string]string{
		"node_id":   nodeID,
		"node_addr": nodeAddr,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		"http://"+joinAddr+"/raft/join", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("join via %s returned %d: %s", joinAddr, resp.StatusCode, respBody)
	}
	return nil
}

// LeaveCluster asks the leader to remove a booth.
func (t *Transport) LeaveCluster(ctx context.Context, nodeID string) error {
	body, err := json.Marshal(map[string]string{"node_id": nodeID})
	if err != nil {
		return err
	}
	_, err = t.ForwardToLeader(ctx, http.MethodPost, "/raft/leave", body)
	return err
}

// Handler serves the membership endpoints, leader only.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/join", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !t.node.Leader() {
			http.Error(w, "not the leader", http.StatusConflict)
			return
		}

		var req struct {
			NodeID   string `json:"node_id"`
			NodeAddr string `json:"node_addr"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}

		future := t.node.raft.AddVoter(raft.ServerID(req.NodeID), raft.ServerAddress(req.NodeAddr), 0, 0)
		if err := future.Error(); err != nil {
			http.Error(w, fmt.Sprintf("add voter: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !t.node.Leader() {
			http.Error(w, "not the leader", http.StatusConflict)
			return
		}

		var req struct {
			NodeID string `json:"node_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}

		future := t.node.raft.RemoveServer(raft.ServerID(req.NodeID), 0, 0)
		if err := future.Error(); err != nil {
			http.Error(w, fmt.Sprintf("remove server: %v", err), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	return mux
}
