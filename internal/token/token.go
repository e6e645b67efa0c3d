// Package token models the two external collaborators the core calls
// through a narrow contract rather than owning outright: the per-hour
// credit token (minted on finalized production claims) and the fungible
// stake token (escrowed by Registry, paid out by Treasury). The core is
// the sole minter of credit tokens and the sole recipient of staked
// tokens — these interfaces are that boundary.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/artfain/triad-credits/internal/wire"
)

// ErrInsufficientBalance is returned by StakeToken operations that would
// overdraw an account.
var ErrInsufficientBalance = errors.New("token: insufficient balance")

// CreditToken is the per-hour credit token collaborator. One unit equals
// one Watt-hour of verified energy.
type CreditToken interface {
	Mint(to wire.Address, hourID uint64, wh uint64, claimKey wire.Hash) error
	Burn(from wire.Address, hourID uint64, wh uint64) error
	BalanceOf(addr wire.Address, hourID uint64) uint64
}

// StakeToken is the fungible stake-token collaborator Registry escrows into
// and Treasury pays rewards out of. Every transfer names both sides
// explicitly (there is no implicit msg.sender in a Go-level contract), so
// Registry and Treasury each move funds to/from their own escrow address via
// TransferFrom rather than relying on an ambient caller identity.
type StakeToken interface {
	TransferFrom(from, to wire.Address, amount uint64) error
	BalanceOf(addr wire.Address) uint64
}

// MemCreditToken is an in-memory CreditToken reference implementation used
// by tests and the local cmd/triadnode demo.
type MemCreditToken struct {
	mu       sync.Mutex
	balances map[wire.Address]map[uint64]uint64
}

// NewMemCreditToken constructs an empty in-memory credit token ledger.
func NewMemCreditToken() *MemCreditToken {
	return &MemCreditToken{balances: make(map[wire.Address]map[uint64]uint64)}
}

func (m *MemCreditToken) Mint(to wire.Address, hourID uint64, wh uint64, claimKey wire.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[to] == nil {
		m.balances[to] = make(map[uint64]uint64)
	}
	m.balances[to][hourID] += wh
	return nil
}

func (m *MemCreditToken) Burn(from wire.Address, hourID uint64, wh uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	have := m.balances[from][hourID]
	if have < wh {
		return fmt.Errorf("token: burn %d at hour %d: %w", wh, hourID, ErrInsufficientBalance)
	}
	m.balances[from][hourID] = have - wh
	return nil
}

func (m *MemCreditToken) BalanceOf(addr wire.Address, hourID uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr][hourID]
}

// MemStakeToken is an in-memory StakeToken reference implementation.
type MemStakeToken struct {
	mu       sync.Mutex
	balances map[wire.Address]uint64
}

// NewMemStakeToken seeds every address in initial with its starting
// balance, letting tests fund verifiers before they stake.
func NewMemStakeToken(initial map[wire.Address]uint64) *MemStakeToken {
	balances := make(map[wire.Address]uint64, len(initial))
	for addr, bal := range initial {
		balances[addr] = bal
	}
	return &MemStakeToken{balances: balances}
}

func (m *MemStakeToken) TransferFrom(from, to wire.Address, amount uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[from] < amount {
		return fmt.Errorf("token: transferFrom %d from %x: %w", amount, from, ErrInsufficientBalance)
	}
	m.balances[from] -= amount
	m.balances[to] += amount
	return nil
}

func (m *MemStakeToken) BalanceOf(addr wire.Address) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[addr]
}
