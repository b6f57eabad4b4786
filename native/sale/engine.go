package sale

import (
	"fmt"
	"math/big"
	"time"

	"vestvault/core/events"
	"vestvault/core/types"
	nativecommon "vestvault/native/common"
	"vestvault/storage"
)

// Operation families governance can pause. Sweep is deliberately never
// pausable: it is the last-resort recovery path.
const (
	ModuleBuy     = "sale.buy"
	ModuleRedeem  = "sale.redeem"
	ModuleForward = "sale.forward"
)

// AssetLedger is the fungible-asset surface the engine depends on. Every
// method fails loudly; a transfer that cannot be afforded returns an error
// rather than silently succeeding.
type AssetLedger interface {
	Transfer(symbol string, from, to [20]byte, amount *big.Int) error
	TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error
	BalanceOf(symbol string, holder [20]byte) (*big.Int, error)
	TotalSupply(symbol string) (*big.Int, error)
	Mint(symbol string, to [20]byte, amount *big.Int) error
	Burn(symbol string, from [20]byte, amount *big.Int) error
}

// Vault is the external yield facility purchases are deposited into.
type Vault interface {
	Deposit(assets *big.Int, from, receiver [20]byte) (*big.Int, error)
	Redeem(shares *big.Int, receiver, owner [20]byte) (*big.Int, error)
	PreviewDeposit(assets *big.Int) (*big.Int, error)
	PreviewRedeem(shares *big.Int) (*big.Int, error)
	TotalSupply() (*big.Int, error)
	BalanceOf(holder [20]byte) (*big.Int, error)
	ShareSymbol() string
}

// Facility is the external debt-repayment collaborator proceeds flow to.
type Facility interface {
	Capacity() (*big.Int, error)
	BorrowBalance(borrower [20]byte) (*big.Int, error)
	OnReceive() error
	Address() [20]byte
}

// Engine is the escrow sale-and-vesting state machine. It holds commitments,
// phase timestamps, and role assignments in persistent state and custodies
// payment assets, reward assets, and vault shares under its module address.
//
// The engine is single-writer by contract: callers (the operator daemon, the
// test harness) serialise mutating operations. Collaborators may call back
// into the engine mid-operation; the defence is ordering, not locks — every
// bookkeeping mutation that guards a double spend (commitment zeroing,
// receipt burning) commits to the staged view before the external call that
// could re-enter.
type Engine struct {
	cfg      Config
	state    engineState
	ledger   AssetLedger
	vault    Vault
	facility Facility
	emitter  events.Emitter
	pauses   *nativecommon.Pauses
	kv       *storage.Atomic
	nowFn    func() int64
}

// NewEngine validates the configuration and constructs an engine with a no-op
// emitter. State, ledger, vault, and facility are wired via setters before
// Initialize.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}, nil
}

// Config returns the engine's fixed configuration.
func (e *Engine) Config() Config { return e.cfg }

// SetState configures the persistence backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger configures the fungible-asset ledger.
func (e *Engine) SetLedger(ledger AssetLedger) { e.ledger = ledger }

// SetVault configures the external yield vault.
func (e *Engine) SetVault(v Vault) { e.vault = v }

// SetFacility configures the debt-repayment facility.
func (e *Engine) SetFacility(f Facility) { e.facility = f }

// SetPauses configures the governance pause registry.
func (e *Engine) SetPauses(p *nativecommon.Pauses) { e.pauses = p }

// SetAtomic wires the staged-write view shared with the ledger-backed
// collaborators. When set, every mutating operation commits all of its writes
// or none of them.
func (e *Engine) SetAtomic(kv *storage.Atomic) { e.kv = kv }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(saleEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	switch {
	case e == nil || e.state == nil:
		return errNilState
	case e.ledger == nil:
		return errNilLedger
	case e.vault == nil:
		return errNilVault
	case e.facility == nil:
		return errNilFacility
	}
	return nil
}

// run executes fn against the staged view so any error leaves persisted state
// exactly as before the call. Without an atomic view writes apply directly.
func (e *Engine) run(fn func() error) error {
	if e.kv == nil {
		return fn()
	}
	if err := e.kv.Begin(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		e.kv.Rollback()
		return err
	}
	return e.kv.Commit()
}

// Initialize seeds roles from configuration and arms the sweep timeout as a
// fixed offset from the current time. Re-running against existing state is a
// no-op so restarts never re-arm the sweep clock.
func (e *Engine) Initialize() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.run(func() error {
		phases, err := e.state.PhasesGet()
		if err != nil {
			return err
		}
		if phases.SweepUnlock == 0 {
			phases.SweepUnlock = e.now() + e.cfg.SweepOffset
			if err := e.state.PhasesPut(phases); err != nil {
				return err
			}
		}
		roles, err := e.state.RolesGet()
		if err != nil {
			return err
		}
		if roles.Administrator == ([20]byte{}) {
			roles.Administrator = e.cfg.Administrator
			roles.Governance = e.cfg.Governance
			if err := e.state.RolesPut(roles); err != nil {
				return err
			}
		}
		return nil
	})
}

// Phases returns the current phase timestamps.
func (e *Engine) Phases() (*Phases, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.PhasesGet()
}

// Roles returns the current role assignments.
func (e *Engine) Roles() (*Roles, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.RolesGet()
}

// CommitmentOf returns the holder's outstanding commitment.
func (e *Engine) CommitmentOf(holder [20]byte) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.CommitmentGet(holder)
}

func (e *Engine) requireAdministrator(caller [20]byte) error {
	roles, err := e.state.RolesGet()
	if err != nil {
		return err
	}
	if caller != roles.Administrator {
		return ErrNotAdministrator
	}
	return nil
}

func (e *Engine) requireGovernance(caller [20]byte) error {
	roles, err := e.state.RolesGet()
	if err != nil {
		return err
	}
	if caller != roles.Governance {
		return ErrNotGovernance
	}
	return nil
}

// SetCommitment assigns the exact payment-asset amount the holder is entitled
// to spend. Each assignment fully overwrites the prior value; lowering or
// zeroing administratively is allowed.
func (e *Engine) SetCommitment(caller, holder [20]byte, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdministrator(caller); err != nil {
		return err
	}
	if amount != nil && amount.Sign() < 0 {
		return fmt.Errorf("sale: commitment must not be negative")
	}
	if err := e.run(func() error {
		return e.state.CommitmentPut(holder, amount)
	}); err != nil {
		return err
	}
	e.emit(NewCommitmentSetEvent(holder, amount))
	return nil
}

// ExtendSale arms or re-arms the buy deadline. Re-arming is unconditional on
// the current value; only the caller is gated.
func (e *Engine) ExtendSale(caller [20]byte, deadline int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireAdministrator(caller); err != nil {
		return err
	}
	if deadline <= 0 {
		return errBadDeadline
	}
	if err := e.run(func() error {
		phases, err := e.state.PhasesGet()
		if err != nil {
			return err
		}
		phases.SaleDeadline = deadline
		return e.state.PhasesPut(phases)
	}); err != nil {
		return err
	}
	e.emit(NewWindowExtendedEvent(deadline))
	return nil
}

// StartVesting arms the vesting unlock exactly once. Re-arming a running lock
// is rejected so an armed vesting clock can never be reset.
func (e *Engine) StartVesting(caller [20]byte, unlock int64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	if unlock <= 0 {
		return errBadDeadline
	}
	if err := e.run(func() error {
		phases, err := e.state.PhasesGet()
		if err != nil {
			return err
		}
		if phases.VestingUnlock != 0 {
			return ErrVestingAlreadyStarted
		}
		phases.VestingUnlock = unlock
		return e.state.PhasesPut(phases)
	}); err != nil {
		return err
	}
	e.emit(NewVestingStartedEvent(unlock))
	return nil
}

// resolveBuyAmount applies the commitment policy to the submitted amount and
// returns the payment amount to exchange.
func (e *Engine) resolveBuyAmount(buyer [20]byte, amount *big.Int) (*big.Int, error) {
	committed, err := e.state.CommitmentGet(buyer)
	if err != nil {
		return nil, err
	}
	switch e.cfg.Policy {
	case PolicyExactMatch:
		if amount == nil || amount.Sign() <= 0 {
			return nil, ErrAmountZero
		}
		if committed.Sign() == 0 {
			return nil, ErrNoCommitment
		}
		if amount.Cmp(committed) != 0 {
			return nil, ErrCommitmentMismatch
		}
		return new(big.Int).Set(amount), nil
	case PolicyAllocationDraw:
		if amount != nil {
			return nil, ErrAmountUnexpected
		}
		if committed.Sign() == 0 {
			return nil, ErrNoCommitment
		}
		return committed, nil
	}
	return nil, fmt.Errorf("sale: commitment policy not configured")
}

// Buy exchanges the buyer's committed payment amount for reward assets at the
// fixed rate, deposits the reward into the vault, and mints vesting receipts
// 1:1 with the shares received.
//
// Ordering is the security invariant here: the commitment is zeroed before
// the payment pull so a collaborator re-entering mid-call finds nothing left
// to spend, and the receipt mint happens last because only the completed
// deposit knows the share count.
func (e *Engine) Buy(buyer [20]byte, amount *big.Int) (*Purchase, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleBuy); err != nil {
		return nil, err
	}
	phases, err := e.state.PhasesGet()
	if err != nil {
		return nil, err
	}
	now := e.now()
	if phases.SaleDeadline == 0 || now > phases.SaleDeadline {
		return nil, ErrSaleClosed
	}
	payment, err := e.resolveBuyAmount(buyer, amount)
	if err != nil {
		return nil, err
	}
	reward := rewardAmount(payment, e.cfg.RateScale, e.cfg.Price)
	if reward.Sign() == 0 {
		return nil, ErrAmountZero
	}

	purchase := &Purchase{Buyer: buyer, PaymentAmount: payment, RewardAmount: reward, At: now}
	if err := e.run(func() error {
		if err := e.state.CommitmentPut(buyer, big.NewInt(0)); err != nil {
			return err
		}
		if err := e.ledger.TransferFrom(e.cfg.PaymentSymbol, e.cfg.ModuleAddress, buyer, e.cfg.ModuleAddress, payment); err != nil {
			return err
		}
		if err := e.ledger.TransferFrom(e.cfg.RewardSymbol, e.cfg.ModuleAddress, e.cfg.Funding, e.cfg.ModuleAddress, reward); err != nil {
			return err
		}
		preview, err := e.vault.PreviewDeposit(reward)
		if err != nil {
			return err
		}
		shares, err := e.vault.Deposit(reward, e.cfg.ModuleAddress, e.cfg.ModuleAddress)
		if err != nil {
			return err
		}
		if shares == nil || shares.Cmp(preview) < 0 {
			return ErrVaultShortfall
		}
		purchase.Shares = shares
		return e.ledger.Mint(e.cfg.ReceiptSymbol, buyer, shares)
	}); err != nil {
		return nil, err
	}
	e.emit(NewPurchasedEvent(purchase))
	return purchase, nil
}

// Redeem burns the holder's vesting receipts after the unlock time and
// releases the corresponding vault position. The burn precedes every external
// effect so a re-entered redeem cannot double-claim the same receipts.
func (e *Engine) Redeem(holder [20]byte, shares *big.Int) (*Redemption, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleRedeem); err != nil {
		return nil, err
	}
	phases, err := e.state.PhasesGet()
	if err != nil {
		return nil, err
	}
	now := e.now()
	if phases.VestingUnlock == 0 || now < phases.VestingUnlock {
		return nil, ErrVestingNotStarted
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrAmountZero
	}

	redemption := &Redemption{Holder: holder, Shares: new(big.Int).Set(shares), Mode: e.cfg.RedeemMode, At: now}
	if err := e.run(func() error {
		if err := e.ledger.Burn(e.cfg.ReceiptSymbol, holder, shares); err != nil {
			return err
		}
		switch e.cfg.RedeemMode {
		case RedeemThroughVault:
			preview, err := e.vault.PreviewRedeem(shares)
			if err != nil {
				return err
			}
			assets, err := e.vault.Redeem(shares, holder, e.cfg.ModuleAddress)
			if err != nil {
				return err
			}
			if assets == nil || assets.Cmp(preview) < 0 {
				return ErrVaultShortfall
			}
			redemption.Assets = assets
			return nil
		case RedeemShares:
			return e.ledger.Transfer(e.vault.ShareSymbol(), e.cfg.ModuleAddress, holder, shares)
		}
		return fmt.Errorf("sale: redeem mode not configured")
	}); err != nil {
		return nil, err
	}
	e.emit(NewRedeemedEvent(redemption))
	return redemption, nil
}

// ForwardProceeds sends accumulated payment-asset balance to the debt
// facility, capped by the facility's live capacity. In the permissionless
// variant anyone may trigger a full-balance forward; in the gated variant the
// administrator chooses the amount and the cap is the configured borrower's
// outstanding debt.
func (e *Engine) ForwardProceeds(caller [20]byte, requested *big.Int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(e.pauses, ModuleForward); err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(e.cfg.PaymentSymbol, e.cfg.ModuleAddress)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, ErrNothingToForward
	}
	send := new(big.Int).Set(balance)
	if e.cfg.PermissionlessForward {
		capacity, err := e.facility.Capacity()
		if err != nil {
			return nil, err
		}
		if capacity.Cmp(send) < 0 {
			send.Set(capacity)
		}
	} else {
		if err := e.requireAdministrator(caller); err != nil {
			return nil, err
		}
		if requested == nil || requested.Sign() <= 0 {
			return nil, ErrAmountZero
		}
		if requested.Cmp(send) < 0 {
			send.Set(requested)
		}
		debt, err := e.facility.BorrowBalance(e.cfg.Borrower)
		if err != nil {
			return nil, err
		}
		if debt.Cmp(send) < 0 {
			send.Set(debt)
		}
	}
	if send.Sign() == 0 {
		return nil, ErrNothingToForward
	}
	if err := e.run(func() error {
		if err := e.ledger.Transfer(e.cfg.PaymentSymbol, e.cfg.ModuleAddress, e.facility.Address(), send); err != nil {
			return err
		}
		return e.facility.OnReceive()
	}); err != nil {
		return nil, err
	}
	e.emit(NewProceedsForwardedEvent(send, e.facility.Address()))
	return send, nil
}

// Sweep transfers the module's entire balance of the named token to
// governance once the long-dated timeout has elapsed. The token is
// deliberately unrestricted: the purpose is last-resort recovery of anything
// stranded, including the vault share token itself.
func (e *Engine) Sweep(caller [20]byte, symbol string) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.requireGovernance(caller); err != nil {
		return nil, err
	}
	phases, err := e.state.PhasesGet()
	if err != nil {
		return nil, err
	}
	if phases.SweepUnlock == 0 || e.now() < phases.SweepUnlock {
		return nil, ErrSweepLocked
	}
	roles, err := e.state.RolesGet()
	if err != nil {
		return nil, err
	}
	balance, err := e.ledger.BalanceOf(symbol, e.cfg.ModuleAddress)
	if err != nil {
		return nil, err
	}
	if err := e.run(func() error {
		return e.ledger.Transfer(symbol, e.cfg.ModuleAddress, roles.Governance, balance)
	}); err != nil {
		return nil, err
	}
	e.emit(NewSweptEvent(symbol, balance, roles.Governance))
	return balance, nil
}

// ProposeAdministrator records a successor for the administrator role.
// Governance may also propose, covering operator replacement without the
// outgoing administrator's cooperation.
func (e *Engine) ProposeAdministrator(caller, successor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.run(func() error {
		roles, err := e.state.RolesGet()
		if err != nil {
			return err
		}
		if caller == roles.Governance && caller != roles.Administrator {
			roles.PendingAdministrator = successor
		} else if err := administratorRole(roles).propose(caller, successor); err != nil {
			return err
		}
		return e.state.RolesPut(roles)
	}); err != nil {
		return err
	}
	e.emit(NewRoleProposedEvent(EventTypeAdministratorOffered, successor))
	return nil
}

// AcceptAdministrator promotes the pending administrator.
func (e *Engine) AcceptAdministrator(caller [20]byte) error {
	return e.acceptRole(caller, administratorRole, EventTypeAdministratorChange)
}

// ProposeGovernance records a successor for the governance role.
func (e *Engine) ProposeGovernance(caller, successor [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.run(func() error {
		roles, err := e.state.RolesGet()
		if err != nil {
			return err
		}
		if err := governanceRole(roles).propose(caller, successor); err != nil {
			return err
		}
		return e.state.RolesPut(roles)
	}); err != nil {
		return err
	}
	e.emit(NewRoleProposedEvent(EventTypeGovernanceOffered, successor))
	return nil
}

// AcceptGovernance promotes the pending governance authority.
func (e *Engine) AcceptGovernance(caller [20]byte) error {
	return e.acceptRole(caller, governanceRole, EventTypeGovernanceChange)
}

func (e *Engine) acceptRole(caller [20]byte, role func(*Roles) transferableRole, eventType string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	var previous [20]byte
	if err := e.run(func() error {
		roles, err := e.state.RolesGet()
		if err != nil {
			return err
		}
		handle := role(roles)
		previous = *handle.active
		if err := handle.accept(caller); err != nil {
			return err
		}
		return e.state.RolesPut(roles)
	}); err != nil {
		return err
	}
	e.emit(NewRoleChangedEvent(eventType, previous, caller))
	return nil
}

// SetPaused toggles a governance pause on one operation family.
func (e *Engine) SetPaused(caller [20]byte, module string, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.pauses == nil {
		return fmt.Errorf("sale: pause registry not configured")
	}
	if err := e.requireGovernance(caller); err != nil {
		return err
	}
	switch module {
	case ModuleBuy, ModuleRedeem, ModuleForward:
	default:
		return fmt.Errorf("sale: unknown module %q", module)
	}
	if err := e.run(func() error {
		return e.pauses.SetPaused(module, paused)
	}); err != nil {
		return err
	}
	e.emit(NewPauseChangedEvent(module, paused))
	return nil
}
