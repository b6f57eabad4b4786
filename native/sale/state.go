package sale

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"vestvault/storage"
)

// engineState is the narrow persistence surface the engine mutates. The
// concrete State below stores records in the key-value database; tests may
// substitute an in-memory map implementation.
type engineState interface {
	CommitmentGet(holder [20]byte) (*big.Int, error)
	CommitmentPut(holder [20]byte, amount *big.Int) error
	PhasesGet() (*Phases, error)
	PhasesPut(*Phases) error
	RolesGet() (*Roles, error)
	RolesPut(*Roles) error
}

type storedCommitment struct {
	Amount *uint256.Int
}

type storedPhases struct {
	SaleDeadline  uint64
	VestingUnlock uint64
	SweepUnlock   uint64
}

type storedRoles struct {
	Administrator        [20]byte
	PendingAdministrator [20]byte
	Governance           [20]byte
	PendingGovernance    [20]byte
}

// State persists engine records in the key-value store under keccak-hashed
// prefixed keys.
type State struct {
	db storage.Database
}

// NewState binds engine state to the provided database.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

// CommitmentGet returns the holder's recorded commitment, zero when absent.
func (s *State) CommitmentGet(holder [20]byte) (*big.Int, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	raw, err := s.db.Get(commitmentKey(holder))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	var stored storedCommitment
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("sale: decode commitment: %w", err)
	}
	if stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return stored.Amount.ToBig(), nil
}

// CommitmentPut overwrites the holder's commitment. A zero commitment is
// stored as absence so both states read back identically.
func (s *State) CommitmentPut(holder [20]byte, amount *big.Int) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return s.db.Delete(commitmentKey(holder))
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("sale: commitment must not be negative")
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("sale: commitment overflow")
	}
	encoded, err := rlp.EncodeToBytes(&storedCommitment{Amount: value})
	if err != nil {
		return fmt.Errorf("sale: encode commitment: %w", err)
	}
	return s.db.Put(commitmentKey(holder), encoded)
}

// PhasesGet returns the stored phase timestamps, zero-valued when never set.
func (s *State) PhasesGet() (*Phases, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	raw, err := s.db.Get(phasesKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Phases{}, nil
		}
		return nil, err
	}
	var stored storedPhases
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("sale: decode phases: %w", err)
	}
	return &Phases{
		SaleDeadline:  int64(stored.SaleDeadline),
		VestingUnlock: int64(stored.VestingUnlock),
		SweepUnlock:   int64(stored.SweepUnlock),
	}, nil
}

// PhasesPut persists the phase timestamps.
func (s *State) PhasesPut(p *Phases) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if p == nil {
		return fmt.Errorf("sale: nil phases")
	}
	stored := storedPhases{
		SaleDeadline:  clampTimestamp(p.SaleDeadline),
		VestingUnlock: clampTimestamp(p.VestingUnlock),
		SweepUnlock:   clampTimestamp(p.SweepUnlock),
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("sale: encode phases: %w", err)
	}
	return s.db.Put(phasesKey, encoded)
}

// RolesGet returns the stored role assignments. A zero-valued record is
// returned when roles were never initialised.
func (s *State) RolesGet() (*Roles, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	raw, err := s.db.Get(rolesKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &Roles{}, nil
		}
		return nil, err
	}
	var stored storedRoles
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("sale: decode roles: %w", err)
	}
	roles := Roles(stored)
	return &roles, nil
}

// RolesPut persists the role assignments.
func (s *State) RolesPut(r *Roles) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if r == nil {
		return fmt.Errorf("sale: nil roles")
	}
	stored := storedRoles(*r)
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("sale: encode roles: %w", err)
	}
	return s.db.Put(rolesKey, encoded)
}

func clampTimestamp(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}
