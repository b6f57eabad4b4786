package sale

import (
	"fmt"
	"math/big"
	"strings"
)

// Policy selects how a buyer's entitlement is consumed.
type Policy uint8

const (
	// PolicyExactMatch requires the buyer to submit exactly their recorded
	// commitment.
	PolicyExactMatch Policy = iota + 1
	// PolicyAllocationDraw takes no amount; the buyer's full outstanding
	// commitment is drawn.
	PolicyAllocationDraw
)

// ParsePolicy maps a configuration string onto a Policy.
func ParsePolicy(value string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "exact", "exact-match":
		return PolicyExactMatch, nil
	case "draw", "allocation-draw":
		return PolicyAllocationDraw, nil
	}
	return 0, fmt.Errorf("sale: unknown policy %q", value)
}

func (p Policy) String() string {
	switch p {
	case PolicyExactMatch:
		return "exact"
	case PolicyAllocationDraw:
		return "draw"
	}
	return "unknown"
}

// RedeemMode selects what a vesting receipt redeems into.
type RedeemMode uint8

const (
	// RedeemThroughVault redeems vault shares for the underlying asset,
	// delivered to the holder.
	RedeemThroughVault RedeemMode = iota + 1
	// RedeemShares transfers held vault shares directly to the holder.
	RedeemShares
)

// ParseRedeemMode maps a configuration string onto a RedeemMode.
func ParseRedeemMode(value string) (RedeemMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "vault", "underlying":
		return RedeemThroughVault, nil
	case "shares":
		return RedeemShares, nil
	}
	return 0, fmt.Errorf("sale: unknown redeem mode %q", value)
}

func (m RedeemMode) String() string {
	switch m {
	case RedeemThroughVault:
		return "vault"
	case RedeemShares:
		return "shares"
	}
	return "unknown"
}

// Config fixes the engine wiring at initialisation. None of these fields are
// reconfigurable after Initialize; operational levers (commitments, deadlines,
// roles) move through engine operations instead.
type Config struct {
	Administrator [20]byte
	Governance    [20]byte
	// ModuleAddress is the account the engine custodies assets under.
	ModuleAddress [20]byte
	// Funding is the issuer account reward assets are pulled from on each
	// purchase. It must hold an allowance for the module address.
	Funding [20]byte
	// Borrower is the liability the richer forwarding variant amortises.
	Borrower [20]byte

	PaymentSymbol string
	RewardSymbol  string
	ReceiptSymbol string

	// Price is the payment-asset cost of one reward-asset unit, scaled by
	// RateScale. rewardOut = paymentIn * RateScale / Price, floored.
	Price     *big.Int
	RateScale *big.Int

	Policy     Policy
	RedeemMode RedeemMode
	// PermissionlessForward lets anyone trigger proceeds forwarding of the
	// full balance. When false, forwarding is administrator-only with a
	// caller-chosen amount capped by the borrower's outstanding debt.
	PermissionlessForward bool

	// SweepOffset is the number of seconds after initialisation at which the
	// emergency sweep unlocks.
	SweepOffset int64
}

// Validate rejects configurations the engine cannot operate on.
func (c Config) Validate() error {
	if c.Administrator == ([20]byte{}) {
		return fmt.Errorf("sale: administrator address required")
	}
	if c.Governance == ([20]byte{}) {
		return fmt.Errorf("sale: governance address required")
	}
	if c.ModuleAddress == ([20]byte{}) {
		return fmt.Errorf("sale: module address required")
	}
	if c.Funding == ([20]byte{}) {
		return fmt.Errorf("sale: funding address required")
	}
	for name, symbol := range map[string]string{
		"payment": c.PaymentSymbol,
		"reward":  c.RewardSymbol,
		"receipt": c.ReceiptSymbol,
	} {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("sale: %s token symbol required", name)
		}
	}
	if c.Price == nil || c.Price.Sign() <= 0 {
		return fmt.Errorf("sale: price must be positive")
	}
	if c.RateScale == nil || c.RateScale.Sign() <= 0 {
		return fmt.Errorf("sale: rate scale must be positive")
	}
	switch c.Policy {
	case PolicyExactMatch, PolicyAllocationDraw:
	default:
		return fmt.Errorf("sale: commitment policy required")
	}
	switch c.RedeemMode {
	case RedeemThroughVault, RedeemShares:
	default:
		return fmt.Errorf("sale: redeem mode required")
	}
	if !c.PermissionlessForward && c.Borrower == ([20]byte{}) {
		return fmt.Errorf("sale: borrower address required for gated forwarding")
	}
	if c.SweepOffset <= 0 {
		return fmt.Errorf("sale: sweep offset must be positive")
	}
	return nil
}

// Phases holds the three timestamps gating engine operations. Zero means the
// phase was never armed.
type Phases struct {
	SaleDeadline  int64
	VestingUnlock int64
	SweepUnlock   int64
}

// Roles holds the active and pending holders of both transferable roles. The
// zero address marks a vacant pending slot.
type Roles struct {
	Administrator        [20]byte
	PendingAdministrator [20]byte
	Governance           [20]byte
	PendingGovernance    [20]byte
}

// Purchase records the outcome of a successful buy.
type Purchase struct {
	Buyer         [20]byte
	PaymentAmount *big.Int
	RewardAmount  *big.Int
	Shares        *big.Int
	At            int64
}

// Redemption records the outcome of a successful redeem.
type Redemption struct {
	Holder [20]byte
	Shares *big.Int
	// Assets is the underlying amount released when redeeming through the
	// vault; nil in share-transfer mode.
	Assets *big.Int
	Mode   RedeemMode
	At     int64
}
