package sale

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"vestvault/core/types"
)

const (
	EventTypeCommitmentSet        = "sale.commitment_set"
	EventTypeWindowExtended       = "sale.window_extended"
	EventTypeVestingStarted       = "sale.vesting_started"
	EventTypePurchased            = "sale.purchased"
	EventTypeRedeemed             = "sale.redeemed"
	EventTypeProceedsForwarded    = "sale.proceeds_forwarded"
	EventTypeSwept                = "sale.swept"
	EventTypeAdministratorOffered = "sale.administrator_proposed"
	EventTypeAdministratorChange  = "sale.administrator_changed"
	EventTypeGovernanceOffered    = "sale.governance_proposed"
	EventTypeGovernanceChange     = "sale.governance_changed"
	EventTypePauseChanged         = "sale.pause_changed"
)

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e saleEvent) Event() *types.Event { return e.evt }

func attrAddress(attrs map[string]string, key string, addr [20]byte) {
	attrs[key] = hex.EncodeToString(addr[:])
}

func attrAmount(attrs map[string]string, key string, amount *big.Int) {
	if amount == nil {
		attrs[key] = "0"
		return
	}
	attrs[key] = amount.String()
}

// NewCommitmentSetEvent reports an administrator assignment of a buyer's
// entitlement.
func NewCommitmentSetEvent(holder [20]byte, amount *big.Int) *types.Event {
	attrs := make(map[string]string)
	attrAddress(attrs, "holder", holder)
	attrAmount(attrs, "amount", amount)
	return &types.Event{Type: EventTypeCommitmentSet, Attributes: attrs}
}

// NewWindowExtendedEvent reports a (re-)armed buy deadline.
func NewWindowExtendedEvent(deadline int64) *types.Event {
	return &types.Event{Type: EventTypeWindowExtended, Attributes: map[string]string{
		"deadline": strconv.FormatInt(deadline, 10),
	}}
}

// NewVestingStartedEvent reports the single-shot arming of the vesting lock.
func NewVestingStartedEvent(unlock int64) *types.Event {
	return &types.Event{Type: EventTypeVestingStarted, Attributes: map[string]string{
		"unlock": strconv.FormatInt(unlock, 10),
	}}
}

// NewPurchasedEvent reports a completed buy.
func NewPurchasedEvent(p *Purchase) *types.Event {
	attrs := make(map[string]string)
	if p != nil {
		attrAddress(attrs, "buyer", p.Buyer)
		attrAmount(attrs, "paymentAmount", p.PaymentAmount)
		attrAmount(attrs, "rewardAmount", p.RewardAmount)
		attrAmount(attrs, "shares", p.Shares)
		attrs["at"] = strconv.FormatInt(p.At, 10)
	}
	return &types.Event{Type: EventTypePurchased, Attributes: attrs}
}

// NewRedeemedEvent reports a completed redemption.
func NewRedeemedEvent(r *Redemption) *types.Event {
	attrs := make(map[string]string)
	if r != nil {
		attrAddress(attrs, "holder", r.Holder)
		attrAmount(attrs, "shares", r.Shares)
		if r.Assets != nil {
			attrAmount(attrs, "assets", r.Assets)
		}
		attrs["mode"] = r.Mode.String()
		attrs["at"] = strconv.FormatInt(r.At, 10)
	}
	return &types.Event{Type: EventTypeRedeemed, Attributes: attrs}
}

// NewProceedsForwardedEvent reports a proceeds transfer to the debt facility.
func NewProceedsForwardedEvent(amount *big.Int, facility [20]byte) *types.Event {
	attrs := make(map[string]string)
	attrAmount(attrs, "amount", amount)
	attrAddress(attrs, "facility", facility)
	return &types.Event{Type: EventTypeProceedsForwarded, Attributes: attrs}
}

// NewSweptEvent reports an emergency sweep of a token balance to governance.
func NewSweptEvent(symbol string, amount *big.Int, recipient [20]byte) *types.Event {
	attrs := map[string]string{"token": symbol}
	attrAmount(attrs, "amount", amount)
	attrAddress(attrs, "recipient", recipient)
	return &types.Event{Type: EventTypeSwept, Attributes: attrs}
}

// NewRoleProposedEvent reports a proposed successor for a role.
func NewRoleProposedEvent(eventType string, successor [20]byte) *types.Event {
	attrs := make(map[string]string)
	attrAddress(attrs, "successor", successor)
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewRoleChangedEvent reports an accepted role handoff.
func NewRoleChangedEvent(eventType string, previous, current [20]byte) *types.Event {
	attrs := make(map[string]string)
	attrAddress(attrs, "previous", previous)
	attrAddress(attrs, "current", current)
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewPauseChangedEvent reports a governance pause toggle.
func NewPauseChangedEvent(module string, paused bool) *types.Event {
	return &types.Event{Type: EventTypePauseChanged, Attributes: map[string]string{
		"module": module,
		"paused": strconv.FormatBool(paused),
	}}
}
