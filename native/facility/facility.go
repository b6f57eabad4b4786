package facility

import (
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"vestvault/native/token"
	"vestvault/storage"
)

var (
	errNilStore       = errors.New("facility: store not configured")
	errNegativeAmount = errors.New("facility: amount must not be negative")
)

var (
	capacityKey     = ethcrypto.Keccak256([]byte("facility/capacity"))
	seenBalanceKey  = ethcrypto.Keccak256([]byte("facility/seen-balance"))
	borrowKeyPrefix = []byte("facility/borrow/")
)

// Config fixes the facility wiring at construction time.
type Config struct {
	// PaymentSymbol is the token the facility accepts repayments in.
	PaymentSymbol string
	// Address is the account repayments are sent to.
	Address [20]byte
	// Borrower, when set, is the liability OnReceive amortises.
	Borrower [20]byte
}

type storedAmount struct {
	Amount *uint256.Int
}

// Facility is a reference debt-repayment collaborator. It reports a repayment
// capacity and per-borrower outstanding debt, and amortises both whenever
// OnReceive observes new inbound payment balance.
type Facility struct {
	ledger *token.Ledger
	db     storage.Database
	cfg    Config
}

// New constructs a facility over the ledger and store.
func New(ledger *token.Ledger, db storage.Database, cfg Config) *Facility {
	return &Facility{ledger: ledger, db: db, cfg: cfg}
}

// Address returns the account repayments are sent to.
func (f *Facility) Address() [20]byte { return f.cfg.Address }

func borrowKey(borrower [20]byte) []byte {
	buf := make([]byte, 0, len(borrowKeyPrefix)+len(borrower))
	buf = append(buf, borrowKeyPrefix...)
	buf = append(buf, borrower[:]...)
	return ethcrypto.Keccak256(buf)
}

// SetCapacity records the total repayment amount the facility will accept.
func (f *Facility) SetCapacity(amount *big.Int) error {
	return f.storeAmount(capacityKey, amount)
}

// Capacity reports the remaining repayment amount the facility accepts.
func (f *Facility) Capacity() (*big.Int, error) {
	return f.loadAmount(capacityKey)
}

// SetBorrowBalance records a borrower's outstanding debt.
func (f *Facility) SetBorrowBalance(borrower [20]byte, amount *big.Int) error {
	return f.storeAmount(borrowKey(borrower), amount)
}

// BorrowBalance reports a borrower's outstanding debt.
func (f *Facility) BorrowBalance(borrower [20]byte) (*big.Int, error) {
	return f.loadAmount(borrowKey(borrower))
}

// OnReceive acknowledges repayments pushed to the facility address since the
// last acknowledgement. Capacity and the configured borrower's debt shrink by
// the observed inflow, never below zero.
func (f *Facility) OnReceive() error {
	if f == nil || f.db == nil || f.ledger == nil {
		return errNilStore
	}
	balance, err := f.ledger.BalanceOf(f.cfg.PaymentSymbol, f.cfg.Address)
	if err != nil {
		return err
	}
	seen, err := f.loadAmount(seenBalanceKey)
	if err != nil {
		return err
	}
	delta := new(big.Int).Sub(balance, seen)
	if delta.Sign() <= 0 {
		return nil
	}
	if err := f.storeAmount(seenBalanceKey, balance); err != nil {
		return err
	}
	if err := f.amortise(capacityKey, delta); err != nil {
		return err
	}
	if f.cfg.Borrower != ([20]byte{}) {
		if err := f.amortise(borrowKey(f.cfg.Borrower), delta); err != nil {
			return err
		}
	}
	return nil
}

func (f *Facility) amortise(key []byte, delta *big.Int) error {
	current, err := f.loadAmount(key)
	if err != nil {
		return err
	}
	next := new(big.Int).Sub(current, delta)
	if next.Sign() < 0 {
		next = big.NewInt(0)
	}
	return f.storeAmount(key, next)
}

func (f *Facility) loadAmount(key []byte) (*big.Int, error) {
	if f == nil || f.db == nil {
		return nil, errNilStore
	}
	raw, err := f.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	var stored storedAmount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("facility: decode amount: %w", err)
	}
	if stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return stored.Amount.ToBig(), nil
}

func (f *Facility) storeAmount(key []byte, amount *big.Int) error {
	if f == nil || f.db == nil {
		return errNilStore
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return errNegativeAmount
	}
	if amount.Sign() == 0 {
		return f.db.Delete(key)
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return fmt.Errorf("facility: amount overflow")
	}
	encoded, err := rlp.EncodeToBytes(&storedAmount{Amount: value})
	if err != nil {
		return fmt.Errorf("facility: encode amount: %w", err)
	}
	return f.db.Put(key, encoded)
}
