package sale

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	nativecommon "vestvault/native/common"
	"vestvault/native/facility"
	"vestvault/native/token"
	"vestvault/native/vault"
	"vestvault/storage"
)

const (
	paySymbol     = "PAY"
	rewardSymbol  = "RWD"
	receiptSymbol = "VRT"
	shareSymbol   = "SRWD"
)

func testAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

var (
	adminAddr    = testAddress(0x01)
	govAddr      = testAddress(0x02)
	moduleAddr   = testAddress(0x03)
	fundingAddr  = testAddress(0x04)
	buyerAddr    = testAddress(0x05)
	vaultAddr    = testAddress(0x06)
	facilityAddr = testAddress(0x07)
	borrowerAddr = testAddress(0x08)
	strangerAddr = testAddress(0x09)
)

type testEnv struct {
	t      *testing.T
	kv     *storage.Atomic
	ledger *token.Ledger
	vault  *vault.Vault
	fac    *facility.Facility
	engine *Engine
	clock  int64
}

func defaultConfig() Config {
	return Config{
		Administrator:         adminAddr,
		Governance:            govAddr,
		ModuleAddress:         moduleAddr,
		Funding:               fundingAddr,
		Borrower:              borrowerAddr,
		PaymentSymbol:         paySymbol,
		RewardSymbol:          rewardSymbol,
		ReceiptSymbol:         receiptSymbol,
		Price:                 big.NewInt(25),
		RateScale:             big.NewInt(1),
		Policy:                PolicyExactMatch,
		RedeemMode:            RedeemThroughVault,
		PermissionlessForward: true,
		SweepOffset:           1_000_000,
	}
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	kv := storage.NewAtomic(storage.NewMemDB())
	ledger := token.NewLedger(kv)
	for _, meta := range []token.Metadata{
		{Symbol: paySymbol, Name: "Payment", Decimals: 18},
		{Symbol: rewardSymbol, Name: "Reward", Decimals: 18},
		{Symbol: receiptSymbol, Name: "Vesting Receipt", Decimals: 18, TransferRestricted: cfg.Policy == PolicyAllocationDraw, Authority: moduleAddr},
	} {
		if err := ledger.Register(meta); err != nil {
			t.Fatalf("register %s: %v", meta.Symbol, err)
		}
	}
	v := vault.New(ledger, vault.Config{AssetSymbol: rewardSymbol, ShareSymbol: shareSymbol, Address: vaultAddr})
	if err := v.Init(); err != nil {
		t.Fatalf("init vault: %v", err)
	}
	fac := facility.New(ledger, kv, facility.Config{PaymentSymbol: paySymbol, Address: facilityAddr, Borrower: borrowerAddr})

	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	env := &testEnv{t: t, kv: kv, ledger: ledger, vault: v, fac: fac, engine: engine, clock: 1_000}
	engine.SetState(NewState(kv))
	engine.SetLedger(ledger)
	engine.SetVault(v)
	engine.SetFacility(fac)
	engine.SetPauses(nativecommon.NewPauses(kv))
	engine.SetAtomic(kv)
	engine.SetNowFunc(func() int64 { return env.clock })
	if err := engine.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Fund the issuer and give the module its standing reward allowance.
	if err := ledger.Mint(rewardSymbol, fundingAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("fund issuer: %v", err)
	}
	if err := ledger.Approve(rewardSymbol, fundingAddr, moduleAddr, big.NewInt(1_000_000_000)); err != nil {
		t.Fatalf("approve issuer: %v", err)
	}
	return env
}

func (env *testEnv) fundBuyer(buyer [20]byte, amount int64) {
	env.t.Helper()
	if err := env.ledger.Mint(paySymbol, buyer, big.NewInt(amount)); err != nil {
		env.t.Fatalf("fund buyer: %v", err)
	}
	if err := env.ledger.Approve(paySymbol, buyer, moduleAddr, big.NewInt(amount)); err != nil {
		env.t.Fatalf("approve buyer: %v", err)
	}
}

func (env *testEnv) commit(buyer [20]byte, amount int64) {
	env.t.Helper()
	if err := env.engine.SetCommitment(adminAddr, buyer, big.NewInt(amount)); err != nil {
		env.t.Fatalf("set commitment: %v", err)
	}
}

func (env *testEnv) openSale(deadline int64) {
	env.t.Helper()
	if err := env.engine.ExtendSale(adminAddr, deadline); err != nil {
		env.t.Fatalf("extend sale: %v", err)
	}
}

func (env *testEnv) balance(symbol string, holder [20]byte) *big.Int {
	env.t.Helper()
	bal, err := env.ledger.BalanceOf(symbol, holder)
	if err != nil {
		env.t.Fatalf("balance %s: %v", symbol, err)
	}
	return bal
}

func TestBuyWorkedScenario(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 4*24*3600)

	purchase, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if purchase.RewardAmount.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("reward = %s, want 40000", purchase.RewardAmount)
	}
	// Bootstrap deposit previews 1:1.
	if purchase.Shares.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("shares = %s, want 40000", purchase.Shares)
	}
	if bal := env.balance(receiptSymbol, buyerAddr); bal.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("receipt balance = %s, want 40000", bal)
	}
	committed, err := env.engine.CommitmentOf(buyerAddr)
	if err != nil {
		t.Fatalf("commitment: %v", err)
	}
	if committed.Sign() != 0 {
		t.Fatalf("commitment = %s after buy, want 0", committed)
	}
	if bal := env.balance(paySymbol, moduleAddr); bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("module proceeds = %s, want 1000000", bal)
	}
}

func TestBuyRewardIsExactFloorDivision(t *testing.T) {
	cfg := defaultConfig()
	cfg.Price = big.NewInt(7)
	cfg.RateScale = big.NewInt(3)
	env := newTestEnv(t, cfg)
	env.fundBuyer(buyerAddr, 1_000)
	env.commit(buyerAddr, 1_000)
	env.openSale(env.clock + 100)

	purchase, err := env.engine.Buy(buyerAddr, big.NewInt(1_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	// floor(1000 * 3 / 7) = 428, never rounded up.
	if purchase.RewardAmount.Cmp(big.NewInt(428)) != 0 {
		t.Fatalf("reward = %s, want 428", purchase.RewardAmount)
	}
}

func TestBuyRequiresExactCommitment(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 2_000)
	env.commit(buyerAddr, 1_000)
	env.openSale(env.clock + 100)

	if _, err := env.engine.Buy(buyerAddr, big.NewInt(999)); !errors.Is(err, ErrCommitmentMismatch) {
		t.Fatalf("low amount: got %v, want mismatch", err)
	}
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_001)); !errors.Is(err, ErrCommitmentMismatch) {
		t.Fatalf("high amount: got %v, want mismatch", err)
	}
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("zero amount: got %v, want amount error", err)
	}
	if _, err := env.engine.Buy(strangerAddr, big.NewInt(1_000)); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("uncommitted buyer: got %v, want no commitment", err)
	}
}

func TestBuyTwiceCannotDoubleSpendCommitment(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 2_000)
	env.commit(buyerAddr, 1_000)
	env.openSale(env.clock + 100)

	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("second buy: got %v, want no commitment", err)
	}
}

func TestCommitmentResetRequiresNewExactValue(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 10_000)
	env.commit(buyerAddr, 1_000)
	env.openSale(env.clock + 100)
	env.commit(buyerAddr, 2_500)

	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); !errors.Is(err, ErrCommitmentMismatch) {
		t.Fatalf("stale value: got %v, want mismatch", err)
	}
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(2_500)); err != nil {
		t.Fatalf("current value: %v", err)
	}
}

func TestBuyWindowBoundaries(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 2_000)
	env.commit(buyerAddr, 1_000)
	deadline := env.clock + 500
	env.openSale(deadline)

	// Never armed: separate engine state exercised below via closed window.
	env.clock = deadline
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("buy at deadline: %v", err)
	}
	env.commit(buyerAddr, 1_000)
	env.clock = deadline + 1
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("buy after deadline: got %v, want sale closed", err)
	}
}

func TestBuyFailsBeforeWindowArmed(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000)
	env.commit(buyerAddr, 1_000)
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); !errors.Is(err, ErrSaleClosed) {
		t.Fatalf("got %v, want sale closed", err)
	}
}

// shortfallVault reports one share fewer than it actually minted, simulating
// a vault that silently under-delivers.
type shortfallVault struct {
	*vault.Vault
}

func (s shortfallVault) Deposit(assets *big.Int, from, receiver [20]byte) (*big.Int, error) {
	shares, err := s.Vault.Deposit(assets, from, receiver)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Sub(shares, big.NewInt(1)), nil
}

func TestVaultShortfallAbortsWithNoStateChange(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)
	env.engine.SetVault(shortfallVault{env.vault})

	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); !errors.Is(err, ErrVaultShortfall) {
		t.Fatalf("got %v, want vault shortfall", err)
	}
	// The whole call rolled back: commitment intact, no balances moved.
	committed, _ := env.engine.CommitmentOf(buyerAddr)
	if committed.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("commitment = %s after aborted buy, want 1000000", committed)
	}
	if bal := env.balance(paySymbol, buyerAddr); bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("buyer payment balance = %s, want untouched 1000000", bal)
	}
	if bal := env.balance(receiptSymbol, buyerAddr); bal.Sign() != 0 {
		t.Fatalf("receipt balance = %s after aborted buy, want 0", bal)
	}
	if bal := env.balance(rewardSymbol, vaultAddr); bal.Sign() != 0 {
		t.Fatalf("vault assets = %s after aborted buy, want 0", bal)
	}
}

func TestAllocationDrawPolicy(t *testing.T) {
	cfg := defaultConfig()
	cfg.Policy = PolicyAllocationDraw
	env := newTestEnv(t, cfg)
	env.fundBuyer(buyerAddr, 5_000)
	env.commit(buyerAddr, 5_000)
	env.openSale(env.clock + 100)

	if _, err := env.engine.Buy(buyerAddr, big.NewInt(5_000)); !errors.Is(err, ErrAmountUnexpected) {
		t.Fatalf("explicit amount: got %v, want amount unexpected", err)
	}
	purchase, err := env.engine.Buy(buyerAddr, nil)
	if err != nil {
		t.Fatalf("draw buy: %v", err)
	}
	if purchase.PaymentAmount.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("drawn = %s, want full 5000", purchase.PaymentAmount)
	}
	if _, err := env.engine.Buy(strangerAddr, nil); !errors.Is(err, ErrNoCommitment) {
		t.Fatalf("uncommitted draw: got %v, want no commitment", err)
	}
}

func TestRedeemBoundariesAndVaultMode(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}

	if _, err := env.engine.Redeem(buyerAddr, big.NewInt(40_000)); !errors.Is(err, ErrVestingNotStarted) {
		t.Fatalf("redeem before arming: got %v, want not started", err)
	}
	unlock := env.clock + 1_000
	if err := env.engine.StartVesting(govAddr, unlock); err != nil {
		t.Fatalf("start vesting: %v", err)
	}
	env.clock = unlock - 1
	if _, err := env.engine.Redeem(buyerAddr, big.NewInt(40_000)); !errors.Is(err, ErrVestingNotStarted) {
		t.Fatalf("redeem at unlock-1: got %v, want not started", err)
	}
	env.clock = unlock
	if _, err := env.engine.Redeem(buyerAddr, big.NewInt(0)); !errors.Is(err, ErrAmountZero) {
		t.Fatalf("zero redeem: got %v, want amount error", err)
	}
	redemption, err := env.engine.Redeem(buyerAddr, big.NewInt(40_000))
	if err != nil {
		t.Fatalf("redeem at unlock: %v", err)
	}
	if redemption.Assets.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("assets = %s, want 40000", redemption.Assets)
	}
	if bal := env.balance(rewardSymbol, buyerAddr); bal.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("buyer reward = %s, want 40000", bal)
	}
}

func TestRedeemSharesMode(t *testing.T) {
	cfg := defaultConfig()
	cfg.RedeemMode = RedeemShares
	env := newTestEnv(t, cfg)
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := env.engine.StartVesting(govAddr, env.clock+10); err != nil {
		t.Fatalf("start vesting: %v", err)
	}
	env.clock += 10
	redemption, err := env.engine.Redeem(buyerAddr, big.NewInt(40_000))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redemption.Assets != nil {
		t.Fatalf("share-mode redemption reported assets %s", redemption.Assets)
	}
	if bal := env.balance(shareSymbol, buyerAddr); bal.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("buyer shares = %s, want 40000", bal)
	}
	if bal := env.balance(receiptSymbol, buyerAddr); bal.Sign() != 0 {
		t.Fatalf("receipts = %s after redeem, want 0", bal)
	}
}

func TestReceiptSupplyMatchesHeldShares(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	second := testAddress(0x0A)
	env.fundBuyer(buyerAddr, 1_000_000)
	env.fundBuyer(second, 500_000)
	env.commit(buyerAddr, 1_000_000)
	env.commit(second, 500_000)
	env.openSale(env.clock + 100)

	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if _, err := env.engine.Buy(second, big.NewInt(500_000)); err != nil {
		t.Fatalf("second buy: %v", err)
	}
	supply, _ := env.ledger.TotalSupply(receiptSymbol)
	held := env.balance(shareSymbol, moduleAddr)
	if supply.Cmp(held) != 0 {
		t.Fatalf("receipt supply %s != held shares %s", supply, held)
	}

	if err := env.engine.StartVesting(govAddr, env.clock+10); err != nil {
		t.Fatalf("start vesting: %v", err)
	}
	env.clock += 10
	for _, holder := range [][20]byte{buyerAddr, second} {
		bal := env.balance(receiptSymbol, holder)
		if _, err := env.engine.Redeem(holder, bal); err != nil {
			t.Fatalf("redeem: %v", err)
		}
	}
	supply, _ = env.ledger.TotalSupply(receiptSymbol)
	held = env.balance(shareSymbol, moduleAddr)
	if supply.Sign() != 0 || held.Sign() != 0 {
		t.Fatalf("after full redemption supply=%s held=%s, want both 0", supply, held)
	}
}

func TestVestingCannotBeRearmed(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	if err := env.engine.StartVesting(govAddr, env.clock+100); err != nil {
		t.Fatalf("start vesting: %v", err)
	}
	if err := env.engine.StartVesting(govAddr, env.clock+999); !errors.Is(err, ErrVestingAlreadyStarted) {
		t.Fatalf("re-arm: got %v, want already started", err)
	}
	if err := env.engine.StartVesting(adminAddr, env.clock+100); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("admin arming: got %v, want not governance", err)
	}
}

func TestForwardProceedsPermissionless(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := env.fac.SetCapacity(big.NewInt(600_000)); err != nil {
		t.Fatalf("set capacity: %v", err)
	}

	sent, err := env.engine.ForwardProceeds(strangerAddr, nil)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if sent.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("sent = %s, want capacity-capped 600000", sent)
	}
	if bal := env.balance(paySymbol, facilityAddr); bal.Cmp(big.NewInt(600_000)) != 0 {
		t.Fatalf("facility balance = %s, want 600000", bal)
	}
	// OnReceive consumed the capacity, so the remainder cannot be forced out.
	if _, err := env.engine.ForwardProceeds(strangerAddr, nil); !errors.Is(err, ErrNothingToForward) {
		t.Fatalf("drained forward: got %v, want nothing to forward", err)
	}
}

func TestForwardProceedsGatedVariant(t *testing.T) {
	cfg := defaultConfig()
	cfg.PermissionlessForward = false
	env := newTestEnv(t, cfg)
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := env.fac.SetBorrowBalance(borrowerAddr, big.NewInt(250_000)); err != nil {
		t.Fatalf("set borrow balance: %v", err)
	}

	if _, err := env.engine.ForwardProceeds(strangerAddr, big.NewInt(100)); !errors.Is(err, ErrNotAdministrator) {
		t.Fatalf("stranger forward: got %v, want not administrator", err)
	}
	sent, err := env.engine.ForwardProceeds(adminAddr, big.NewInt(400_000))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	// Requested 400k, debt caps at 250k.
	if sent.Cmp(big.NewInt(250_000)) != 0 {
		t.Fatalf("sent = %s, want debt-capped 250000", sent)
	}
	debt, _ := env.fac.BorrowBalance(borrowerAddr)
	if debt.Sign() != 0 {
		t.Fatalf("debt = %s after repayment, want 0", debt)
	}
}

func TestForwardWithEmptyBalance(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	if _, err := env.engine.ForwardProceeds(strangerAddr, nil); !errors.Is(err, ErrNothingToForward) {
		t.Fatalf("got %v, want nothing to forward", err)
	}
}

func TestSweepBoundaries(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("buy: %v", err)
	}
	phases, err := env.engine.Phases()
	if err != nil {
		t.Fatalf("phases: %v", err)
	}

	if _, err := env.engine.Sweep(adminAddr, paySymbol); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("admin sweep: got %v, want not governance", err)
	}
	env.clock = phases.SweepUnlock - 1
	if _, err := env.engine.Sweep(govAddr, paySymbol); !errors.Is(err, ErrSweepLocked) {
		t.Fatalf("early sweep: got %v, want sweep locked", err)
	}
	env.clock = phases.SweepUnlock
	swept, err := env.engine.Sweep(govAddr, paySymbol)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("swept = %s, want 1000000", swept)
	}
	if bal := env.balance(paySymbol, moduleAddr); bal.Sign() != 0 {
		t.Fatalf("module balance = %s after sweep, want 0", bal)
	}
	if bal := env.balance(paySymbol, govAddr); bal.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("governance balance = %s, want 1000000", bal)
	}
	// Stranded share tokens are sweepable too.
	if _, err := env.engine.Sweep(govAddr, shareSymbol); err != nil {
		t.Fatalf("share sweep: %v", err)
	}
}

func TestPauseGatesBuyButNeverSweep(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 1_000)
	env.commit(buyerAddr, 1_000)
	env.openSale(env.clock + 100)

	if err := env.engine.SetPaused(adminAddr, ModuleBuy, true); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("admin pause: got %v, want not governance", err)
	}
	if err := env.engine.SetPaused(govAddr, ModuleBuy, true); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused buy: got %v, want module paused", err)
	}
	if err := env.engine.SetPaused(govAddr, ModuleBuy, false); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, err := env.engine.Buy(buyerAddr, big.NewInt(1_000)); err != nil {
		t.Fatalf("unpaused buy: %v", err)
	}

	phases, _ := env.engine.Phases()
	env.clock = phases.SweepUnlock
	if _, err := env.engine.Sweep(govAddr, paySymbol); err != nil {
		t.Fatalf("sweep must not be pausable: %v", err)
	}
}

// reenteringLedger re-enters Buy during the outer call's payment pull, like a
// malicious asset contract calling back into the engine.
type reenteringLedger struct {
	*token.Ledger
	engine  *Engine
	buyer   [20]byte
	amount  *big.Int
	entered bool
	inner   error
}

func (r *reenteringLedger) TransferFrom(symbol string, spender, owner, to [20]byte, amount *big.Int) error {
	if symbol == paySymbol && !r.entered {
		r.entered = true
		_, r.inner = r.engine.Buy(r.buyer, r.amount)
	}
	return r.Ledger.TransferFrom(symbol, spender, owner, to, amount)
}

func TestReentrantBuyCannotDoubleSpend(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	env.fundBuyer(buyerAddr, 2_000_000)
	env.commit(buyerAddr, 1_000_000)
	env.openSale(env.clock + 100)

	malicious := &reenteringLedger{Ledger: env.ledger, engine: env.engine, buyer: buyerAddr, amount: big.NewInt(1_000_000)}
	env.engine.SetLedger(malicious)

	purchase, err := env.engine.Buy(buyerAddr, big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("outer buy: %v", err)
	}
	if !malicious.entered {
		t.Fatal("re-entry did not trigger")
	}
	// The commitment was zeroed before the payment pull, so the nested call
	// found nothing left to spend.
	if !errors.Is(malicious.inner, ErrNoCommitment) {
		t.Fatalf("inner buy: got %v, want no commitment", malicious.inner)
	}
	if purchase.Shares.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("shares = %s, want single purchase of 40000", purchase.Shares)
	}
	if bal := env.balance(receiptSymbol, buyerAddr); bal.Cmp(big.NewInt(40_000)) != 0 {
		t.Fatalf("receipts = %s, want 40000 exactly once", bal)
	}
}
