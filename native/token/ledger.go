package token

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"vestvault/storage"
)

var (
	errNilStore            = errors.New("token ledger: store not configured")
	errUnknownToken        = errors.New("token ledger: unknown token")
	errTokenExists         = errors.New("token ledger: token already registered")
	errInvalidSymbol       = errors.New("token ledger: symbol required")
	errNegativeAmount      = errors.New("token ledger: amount must not be negative")
	errInsufficientBalance = errors.New("token ledger: insufficient balance")
	errInsufficientAllow   = errors.New("token ledger: insufficient allowance")
	errBalanceOverflow     = errors.New("token ledger: balance overflow")
	errSupplyUnderflow     = errors.New("token ledger: burn exceeds supply")
	errTransferRestricted  = errors.New("token ledger: token transfer restricted")
)

// Metadata describes a registered fungible token. Authority is the address
// allowed to move a transfer-restricted token; mint and burn are reserved to
// the in-process component that registered the token.
type Metadata struct {
	Symbol             string
	Name               string
	Decimals           uint8
	TransferRestricted bool
	Authority          [20]byte
}

type storedMetadata struct {
	Symbol             string
	Name               string
	Decimals           uint8
	TransferRestricted bool
	Authority          [20]byte
}

type storedAmount struct {
	Amount *uint256.Int
}

// Ledger keeps balances, allowances, and supplies for every registered token
// in the key-value store. All mutations fail loudly; a transfer that cannot
// be afforded returns an error and leaves both balances untouched.
type Ledger struct {
	db storage.Database
}

// NewLedger binds a ledger to the provided database.
func NewLedger(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

// Register persists the metadata of a new token. Registering an existing
// symbol fails.
func (l *Ledger) Register(meta Metadata) error {
	if l == nil || l.db == nil {
		return errNilStore
	}
	symbol := normalizeSymbol(meta.Symbol)
	if symbol == "" {
		return errInvalidSymbol
	}
	if _, err := l.loadMetadata(symbol); err == nil {
		return fmt.Errorf("%w: %s", errTokenExists, symbol)
	} else if !errors.Is(err, errUnknownToken) {
		return err
	}
	stored := storedMetadata{
		Symbol:             symbol,
		Name:               strings.TrimSpace(meta.Name),
		Decimals:           meta.Decimals,
		TransferRestricted: meta.TransferRestricted,
		Authority:          meta.Authority,
	}
	encoded, err := rlp.EncodeToBytes(&stored)
	if err != nil {
		return fmt.Errorf("token ledger: encode metadata: %w", err)
	}
	return l.db.Put(metadataKey(symbol), encoded)
}

// Registered reports whether a symbol has been registered.
func (l *Ledger) Registered(symbol string) (bool, error) {
	if l == nil || l.db == nil {
		return false, errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		if errors.Is(err, errUnknownToken) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MetadataOf returns the metadata stored for a symbol.
func (l *Ledger) MetadataOf(symbol string) (Metadata, error) {
	if l == nil || l.db == nil {
		return Metadata{}, errNilStore
	}
	stored, err := l.loadMetadata(symbol)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata(*stored), nil
}

func (l *Ledger) loadMetadata(symbol string) (*storedMetadata, error) {
	raw, err := l.db.Get(metadataKey(symbol))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", errUnknownToken, normalizeSymbol(symbol))
		}
		return nil, err
	}
	var stored storedMetadata
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("token ledger: decode metadata: %w", err)
	}
	return &stored, nil
}

// BalanceOf returns the holder's balance, zero when no balance is recorded.
func (l *Ledger) BalanceOf(symbol string, holder [20]byte) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return nil, err
	}
	return l.loadAmount(balanceKey(symbol, holder))
}

// TotalSupply returns the minted supply of a token.
func (l *Ledger) TotalSupply(symbol string) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return nil, err
	}
	return l.loadAmount(supplyKey(symbol))
}

// Allowance returns the remaining amount a spender may move on the owner's
// behalf.
func (l *Ledger) Allowance(symbol string, owner, spender [20]byte) (*big.Int, error) {
	if l == nil || l.db == nil {
		return nil, errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return nil, err
	}
	return l.loadAmount(allowanceKey(symbol, owner, spender))
}

// Approve records the amount a spender may move on the owner's behalf,
// overwriting any prior approval.
func (l *Ledger) Approve(symbol string, owner, spender [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	return l.storeAmount(allowanceKey(symbol, owner, spender), value)
}

// Mint credits newly issued units to the holder and grows the supply.
func (l *Ledger) Mint(symbol string, to [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	if err := l.credit(supplyKey(symbol), value); err != nil {
		return err
	}
	return l.credit(balanceKey(symbol, to), value)
}

// Burn destroys units held by the holder and shrinks the supply.
func (l *Ledger) Burn(symbol string, from [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	if err := l.debit(balanceKey(symbol, from), value, errInsufficientBalance); err != nil {
		return err
	}
	return l.debit(supplyKey(symbol), value, errSupplyUnderflow)
}

// Transfer moves units from one holder to another. Transfer-restricted tokens
// only move when the configured authority is on one side of the transfer.
func (l *Ledger) Transfer(symbol string, from, to [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilStore
	}
	meta, err := l.loadMetadata(symbol)
	if err != nil {
		return err
	}
	if meta.TransferRestricted && from != meta.Authority && to != meta.Authority {
		return fmt.Errorf("%w: %s", errTransferRestricted, meta.Symbol)
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	if err := l.debit(balanceKey(symbol, from), value, errInsufficientBalance); err != nil {
		return err
	}
	return l.credit(balanceKey(symbol, to), value)
}

// TransferFrom moves units out of the owner's balance using the spender's
// allowance. The allowance is decremented by the transferred amount.
func (l *Ledger) TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error {
	if l == nil || l.db == nil {
		return errNilStore
	}
	if _, err := l.loadMetadata(symbol); err != nil {
		return err
	}
	value, err := toUint256(amount)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return nil
	}
	if err := l.debit(allowanceKey(symbol, owner, spender), value, errInsufficientAllow); err != nil {
		return err
	}
	return l.Transfer(symbol, owner, to, amount)
}

func (l *Ledger) loadAmount(key []byte) (*big.Int, error) {
	raw, err := l.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	var stored storedAmount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("token ledger: decode amount: %w", err)
	}
	if stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return stored.Amount.ToBig(), nil
}

func (l *Ledger) storeAmount(key []byte, value *uint256.Int) error {
	if value == nil || value.IsZero() {
		return l.db.Delete(key)
	}
	encoded, err := rlp.EncodeToBytes(&storedAmount{Amount: value})
	if err != nil {
		return fmt.Errorf("token ledger: encode amount: %w", err)
	}
	return l.db.Put(key, encoded)
}

func (l *Ledger) credit(key []byte, value *uint256.Int) error {
	current, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	base, err := toUint256(current)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(base, value)
	if overflow {
		return errBalanceOverflow
	}
	return l.storeAmount(key, sum)
}

func (l *Ledger) debit(key []byte, value *uint256.Int, shortfall error) error {
	current, err := l.loadAmount(key)
	if err != nil {
		return err
	}
	base, err := toUint256(current)
	if err != nil {
		return err
	}
	if base.Lt(value) {
		return shortfall
	}
	return l.storeAmount(key, new(uint256.Int).Sub(base, value))
}

func toUint256(amount *big.Int) (*uint256.Int, error) {
	if amount == nil {
		return uint256.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, errNegativeAmount
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, errBalanceOverflow
	}
	return value, nil
}
