package token_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/artfain/triad-credits/internal/token"
	"github.com/artfain/triad-credits/internal/wire"
)

func TestMemCreditTokenMintAndBurn(t *testing.T) {
	c := token.NewMemCreditToken()
	payout := wire.Address{0x01}

	require.NoError(t, c.Mint(payout, 1, 500, wire.Hash{0x10}))
	require.Equal(t, uint64(500), c.BalanceOf(payout, 1))
	require.Equal(t, uint64(0), c.BalanceOf(payout, 2))

	require.NoError(t, c.Mint(payout, 1, 100, wire.Hash{0x11}))
	require.Equal(t, uint64(600), c.BalanceOf(payout, 1))

	require.NoError(t, c.Burn(payout, 1, 600))
	require.Equal(t, uint64(0), c.BalanceOf(payout, 1))
}

func TestMemCreditTokenBurnInsufficientBalance(t *testing.T) {
	c := token.NewMemCreditToken()
	payout := wire.Address{0x01}

	err := c.Burn(payout, 1, 100)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)
}

func TestMemStakeTokenTransferFrom(t *testing.T) {
	a, b := wire.Address{0x01}, wire.Address{0x02}
	s := token.NewMemStakeToken(map[wire.Address]uint64{a: 1000})

	require.NoError(t, s.TransferFrom(a, b, 400))
	require.Equal(t, uint64(600), s.BalanceOf(a))
	require.Equal(t, uint64(400), s.BalanceOf(b))
}

func TestMemStakeTokenTransferFromInsufficientBalance(t *testing.T) {
	a, b := wire.Address{0x01}, wire.Address{0x02}
	s := token.NewMemStakeToken(map[wire.Address]uint64{a: 100})

	err := s.TransferFrom(a, b, 500)
	require.ErrorIs(t, err, token.ErrInsufficientBalance)
	require.Equal(t, uint64(100), s.BalanceOf(a))
	require.Equal(t, uint64(0), s.BalanceOf(b))
}

func TestMemStakeTokenNewWithNilInitialStartsAtZero(t *testing.T) {
	s := token.NewMemStakeToken(nil)
	require.Equal(t, uint64(0), s.BalanceOf(wire.Address{0x01}))
}
