package node_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artfain/triad-credits/internal/config"
	"github.com/artfain/triad-credits/internal/node"
	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/wire"
)

func TestOpenWiresAuthoritiesAndAppliesConfiguredParams(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "state.db")
	cfg.EventLogDir = filepath.Join(t.TempDir(), "events")
	cfg.QuorumBps = 8000

	self := wire.Address{0x01}
	ids := node.Identities{Self: self, ProductionOracle: self, ConsumptionOracle: self}
	stake := token.NewMemStakeToken(nil)
	credit := token.NewMemCreditToken()

	n, err := node.Open(cfg, ids, stake, credit)
	require.NoError(t, err)
	t.Cleanup(func() { n.Close() })

	require.Equal(t, self, n.ProductionOracle.Self())
	require.Equal(t, self, n.ConsumptionOracle.Self())

	params, err := n.Registry.Params()
	require.NoError(t, err)
	require.Equal(t, uint32(8000), params.QuorumBps)
}

func TestOpenRejectsMalformedSingleVerifierOverride(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "state.db")
	cfg.EventLogDir = filepath.Join(t.TempDir(), "events")
	cfg.SingleVerifierOverride = "not-hex"

	self := wire.Address{0x01}
	ids := node.Identities{Self: self, ProductionOracle: self, ConsumptionOracle: self}

	_, err := node.Open(cfg, ids, token.NewMemStakeToken(nil), token.NewMemCreditToken())
	require.Error(t, err)
}

func TestRegistryOperationsFailAfterClose(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "state.db")
	cfg.EventLogDir = filepath.Join(t.TempDir(), "events")

	self := wire.Address{0x01}
	ids := node.Identities{Self: self, ProductionOracle: self, ConsumptionOracle: self}
	n, err := node.Open(cfg, ids, token.NewMemStakeToken(nil), token.NewMemCreditToken())
	require.NoError(t, err)

	require.NoError(t, n.Close())

	// Registry operations against the closed DB should fail rather than panic.
	_, err = n.Registry.RegisterProducer(wire.Address{0x02}, wire.Hash{0x10}, wire.Hash{0x11}, wire.Address{0x03})
	require.Error(t, err)
}
