package vault

import (
	"errors"
	"fmt"
	"math/big"

	"vestvault/native/token"
)

var (
	errNilLedger  = errors.New("vault: ledger not configured")
	errZeroAssets = errors.New("vault: asset amount must be positive")
	errZeroShares = errors.New("vault: share amount must be positive")
)

// Config fixes the vault wiring at construction time.
type Config struct {
	// AssetSymbol is the token the vault accepts and accrues yield in.
	AssetSymbol string
	// ShareSymbol is the token the vault issues against deposits.
	ShareSymbol string
	// Address is the account the vault custodies assets under.
	Address [20]byte
}

// Vault is a yield-bearing facility over the token ledger. Depositors receive
// shares at the current exchange rate; yield accrues whenever the vault's
// asset balance grows without share issuance (e.g. harvested rewards pushed
// directly to the vault address), which raises the redemption rate for every
// outstanding share.
type Vault struct {
	ledger *token.Ledger
	cfg    Config
}

// New constructs a vault over the ledger. Init must be called once per fresh
// deployment to register the share token.
func New(ledger *token.Ledger, cfg Config) *Vault {
	return &Vault{ledger: ledger, cfg: cfg}
}

// Init registers the vault's share token with the ledger.
func (v *Vault) Init() error {
	if v == nil || v.ledger == nil {
		return errNilLedger
	}
	return v.ledger.Register(token.Metadata{
		Symbol:    v.cfg.ShareSymbol,
		Name:      fmt.Sprintf("%s vault share", v.cfg.AssetSymbol),
		Decimals:  18,
		Authority: v.cfg.Address,
	})
}

// AssetSymbol returns the token the vault accepts.
func (v *Vault) AssetSymbol() string { return v.cfg.AssetSymbol }

// ShareSymbol returns the token the vault issues.
func (v *Vault) ShareSymbol() string { return v.cfg.ShareSymbol }

// Address returns the vault's custody account.
func (v *Vault) Address() [20]byte { return v.cfg.Address }

func (v *Vault) totalAssets() (*big.Int, error) {
	return v.ledger.BalanceOf(v.cfg.AssetSymbol, v.cfg.Address)
}

// TotalSupply returns the outstanding share supply.
func (v *Vault) TotalSupply() (*big.Int, error) {
	if v == nil || v.ledger == nil {
		return nil, errNilLedger
	}
	return v.ledger.TotalSupply(v.cfg.ShareSymbol)
}

// BalanceOf returns the holder's share balance.
func (v *Vault) BalanceOf(holder [20]byte) (*big.Int, error) {
	if v == nil || v.ledger == nil {
		return nil, errNilLedger
	}
	return v.ledger.BalanceOf(v.cfg.ShareSymbol, holder)
}

// PreviewDeposit returns the shares a deposit of the given asset amount would
// mint at the current exchange rate. Floor division; the depositor never
// receives more shares than the exact rate yields.
func (v *Vault) PreviewDeposit(assets *big.Int) (*big.Int, error) {
	if v == nil || v.ledger == nil {
		return nil, errNilLedger
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errZeroAssets
	}
	supply, err := v.TotalSupply()
	if err != nil {
		return nil, err
	}
	held, err := v.totalAssets()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 || held.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	shares := new(big.Int).Mul(assets, supply)
	return shares.Quo(shares, held), nil
}

// PreviewRedeem returns the asset amount redeeming the given shares would
// release at the current exchange rate.
func (v *Vault) PreviewRedeem(shares *big.Int) (*big.Int, error) {
	if v == nil || v.ledger == nil {
		return nil, errNilLedger
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, errZeroShares
	}
	supply, err := v.TotalSupply()
	if err != nil {
		return nil, err
	}
	if supply.Sign() == 0 {
		return big.NewInt(0), nil
	}
	held, err := v.totalAssets()
	if err != nil {
		return nil, err
	}
	assets := new(big.Int).Mul(shares, held)
	return assets.Quo(assets, supply), nil
}

// Deposit pulls assets from the depositor into vault custody and mints shares
// to the receiver at the pre-deposit exchange rate.
func (v *Vault) Deposit(assets *big.Int, from, receiver [20]byte) (*big.Int, error) {
	if v == nil || v.ledger == nil {
		return nil, errNilLedger
	}
	shares, err := v.PreviewDeposit(assets)
	if err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(v.cfg.AssetSymbol, from, v.cfg.Address, assets); err != nil {
		return nil, err
	}
	if err := v.ledger.Mint(v.cfg.ShareSymbol, receiver, shares); err != nil {
		return nil, err
	}
	return shares, nil
}

// Redeem burns the owner's shares and releases the corresponding assets to
// the receiver at the pre-burn exchange rate.
func (v *Vault) Redeem(shares *big.Int, receiver, owner [20]byte) (*big.Int, error) {
	if v == nil || v.ledger == nil {
		return nil, errNilLedger
	}
	assets, err := v.PreviewRedeem(shares)
	if err != nil {
		return nil, err
	}
	if err := v.ledger.Burn(v.cfg.ShareSymbol, owner, shares); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(v.cfg.AssetSymbol, v.cfg.Address, receiver, assets); err != nil {
		return nil, err
	}
	return assets, nil
}
