// Command triadnode runs one core instance: Registry, Treasury, and both
// Oracles behind an HTTP API, gossiping claim submissions to any peers
// given via -peer.
package main

import (
	"crypto/ecdsa"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/artfain/triad-credits/internal/api"
	"github.com/artfain/triad-credits/internal/config"
	"github.com/artfain/triad-credits/internal/node"
	"github.com/artfain/triad-credits/internal/p2p"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/wire"
	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	configPath := flag.String("config", "./triadnode.yaml", "path to the node's YAML config file")
	seed := flag.String("seed", "", "hex-encoded ECDSA private key seeding this node's identities (random if empty)")
	peer := flag.String("peer", "", "multiaddr of a peer to gossip claims with (optional, repeatable via comma)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("triadnode: load config", "error", err)
		os.Exit(1)
	}

	self, err := identity(*seed)
	if err != nil {
		slog.Error("triadnode: derive identity", "error", err)
		os.Exit(1)
	}

	ids := node.Identities{Self: self, ProductionOracle: self, ConsumptionOracle: self, Admin: self}
	stake := token.NewMemStakeToken(nil)
	credit := token.NewMemCreditToken()

	n, err := node.Open(cfg, ids, stake, credit)
	if err != nil {
		slog.Error("triadnode: open node", "error", err)
		os.Exit(1)
	}
	defer n.Close()

	net, err := p2p.New(func(claim p2p.ClaimGossip) {
		handleGossip(n, claim)
	})
	if err != nil {
		slog.Error("triadnode: start p2p network", "error", err)
		os.Exit(1)
	}
	defer net.Close()
	slog.Info("triadnode: p2p host listening", "id", net.Host().ID().String())

	for _, addr := range strings.Split(*peer, ",") {
		if addr == "" {
			continue
		}
		if err := net.AddPeer(addr); err != nil {
			slog.Warn("triadnode: add peer", "peer", addr, "error", err)
		}
	}

	srv := api.NewServer(n)
	srv.SetNetwork(net)
	mux := http.NewServeMux()
	srv.Routes(mux)

	slog.Info("triadnode: http server listening", "addr", cfg.ListenAddr)
	if err := http.ListenAndServe(cfg.ListenAddr, mux); err != nil {
		slog.Error("triadnode: http server", "error", err)
		os.Exit(1)
	}
}

// identity derives the node's address from seed, a hex-encoded ECDSA
// private key, generating a fresh one if seed is empty.
func identity(seed string) (wire.Address, error) {
	var priv *ecdsa.PrivateKey
	var err error
	if seed == "" {
		priv, err = crypto.GenerateKey()
	} else {
		priv, err = crypto.HexToECDSA(seed)
	}
	if err != nil {
		return wire.Address{}, fmt.Errorf("identity: %w", err)
	}
	return wire.AddressFromPublicKey(&priv.PublicKey), nil
}

// handleGossip replays a gossiped claim into the matching oracle's own
// Submit, which re-runs the full verification protocol — gossip only saves
// the receiving operator a manual submission, it never shortcuts trust.
func handleGossip(n *node.Node, claim p2p.ClaimGossip) {
	subjectID, err := wire.HashFromHex(claim.SubjectID)
	if err != nil {
		slog.Warn("triadnode: gossip: malformed subjectId", "error", err)
		return
	}
	evidenceRoot, err := wire.HashFromHex(claim.EvidenceRoot)
	if err != nil {
		slog.Warn("triadnode: gossip: malformed evidenceRoot", "error", err)
		return
	}
	sig, err := wire.BytesFromHex(claim.Signature)
	if err != nil {
		slog.Warn("triadnode: gossip: malformed signature", "error", err)
		return
	}

	var target interface {
		Submit(subjectID wire.Hash, hourID, wh uint64, evidenceRoot wire.Hash, signature []byte) error
	}
	switch claim.OracleKind {
	case "production":
		target = n.ProductionOracle
	case "consumption":
		target = n.ConsumptionOracle
	default:
		slog.Warn("triadnode: gossip: unknown oracle kind", "kind", claim.OracleKind)
		return
	}
	if err := target.Submit(subjectID, claim.HourID, claim.Wh, evidenceRoot, sig); err != nil {
		slog.Debug("triadnode: gossip: submit rejected", "error", err)
	}
}
