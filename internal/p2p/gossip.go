// Package p2p gossips claim submissions between verifier agents over
// libp2p. Receipt never feeds the quorum decision directly — a gossiped
// claim is replayed through the same Submit entry point a direct
// submission uses, so a lying peer can waste other verifiers' time but
// cannot affect the outcome.
package p2p

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

const claimProtocol = protocol.ID("/triad-credits/claim/1.0.0")

// ClaimGossip is a claim submission relayed between verifier agents. It
// carries exactly the arguments Oracle.Submit needs; the receiving node
// still runs the full submission protocol (signature recovery, active-set
// check, etc.) — gossip is a transport convenience, not a trust decision.
type ClaimGossip struct {
	OracleKind   string `json:"oracleKind"`
	SubjectID    string `json:"subjectId"`
	HourID       uint64 `json:"hourId"`
	Wh           uint64 `json:"wh"`
	EvidenceRoot string `json:"evidenceRoot"`
	Signature    string `json:"signature"`
}

// Handler processes a gossiped claim, typically by replaying it into the
// matching Oracle's Submit.
type Handler func(ClaimGossip)

// Network wraps a libp2p host dedicated to claim gossip.
type Network struct {
	host    host.Host
	peers   map[peer.ID]struct{}
	mutex   sync.Mutex
	onClaim Handler
}

// New creates a libp2p host and registers the claim-gossip stream handler.
func New(onClaim Handler) (*Network, error) {
	h, err := libp2p.New()
	if err != nil {
		return nil, fmt.Errorf("p2p: create host: %w", err)
	}
	n := &Network{host: h, peers: make(map[peer.ID]struct{}), onClaim: onClaim}
	h.SetStreamHandler(claimProtocol, n.handleStream)
	return n, nil
}

// Close shuts down the host.
func (n *Network) Close() error { return n.host.Close() }

// Host returns the underlying libp2p host, e.g. for printing listen
// addresses at startup.
func (n *Network) Host() host.Host { return n.host }

// AddPeer dials and tracks a peer given its multiaddr string.
func (n *Network) AddPeer(multiaddr string) error {
	info, err := peer.AddrInfoFromString(multiaddr)
	if err != nil {
		return fmt.Errorf("p2p: parse peer address: %w", err)
	}
	if err := n.host.Connect(context.Background(), *info); err != nil {
		return fmt.Errorf("p2p: connect: %w", err)
	}
	n.mutex.Lock()
	n.peers[info.ID] = struct{}{}
	n.mutex.Unlock()
	slog.Info("p2p: connected to peer", "peer", info.ID.String())
	return nil
}

// Broadcast relays a claim submission to every known peer.
func (n *Network) Broadcast(claim ClaimGossip) {
	data, err := json.Marshal(claim)
	if err != nil {
		slog.Error("p2p: marshal claim", "error", err)
		return
	}
	n.mutex.Lock()
	peers := make([]peer.ID, 0, len(n.peers))
	for id := range n.peers {
		peers = append(peers, id)
	}
	n.mutex.Unlock()

	for _, id := range peers {
		stream, err := n.host.NewStream(context.Background(), id, claimProtocol)
		if err != nil {
			slog.Error("p2p: open stream", "peer", id, "error", err)
			continue
		}
		if _, err := stream.Write(append(data, '\n')); err != nil {
			slog.Error("p2p: write claim", "peer", id, "error", err)
		}
		stream.Close()
	}
}

func (n *Network) handleStream(stream network.Stream) {
	defer stream.Close()
	reader := bufio.NewReader(stream)
	line, err := reader.ReadBytes('\n')
	if err != nil {
		slog.Error("p2p: read claim", "error", err)
		return
	}
	var claim ClaimGossip
	if err := json.Unmarshal(line, &claim); err != nil {
		slog.Error("p2p: unmarshal claim", "peer", stream.Conn().RemotePeer().String(), "error", err)
		return
	}
	slog.Info("p2p: received claim", "peer", stream.Conn().RemotePeer().String(), "subjectId", claim.SubjectID)
	if n.onClaim != nil {
		n.onClaim(claim)
	}
}
