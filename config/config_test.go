package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"vestvault/crypto"
	"vestvault/native/sale"
)

func testBech32(fill byte) string {
	return crypto.NewAddress(crypto.VestPrefix, bytes.Repeat([]byte{fill}, 20)).String()
}

func writeTestConfig(t *testing.T, overrides string) string {
	t.Helper()
	body := fmt.Sprintf(`
Administrator = %q
Governance = %q
ModuleAddress = %q
Funding = %q
Borrower = %q
VaultAddress = %q
FacilityAddress = %q
PaymentSymbol = "PAY"
RewardSymbol = "RWD"
ReceiptSymbol = "VRT"
Price = "25"
%s
[storage]
Backend = "memory"
`, testBech32(1), testBech32(2), testBech32(3), testBech32(4), testBech32(5), testBech32(6), testBech32(7), overrides)
	path := filepath.Join(t.TempDir(), "deployment.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RateScale != "1" {
		t.Fatalf("RateScale default = %q, want 1", cfg.RateScale)
	}
	if cfg.ShareSymbol != "SRWD" {
		t.Fatalf("ShareSymbol default = %q, want SRWD", cfg.ShareSymbol)
	}
	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		t.Fatalf("engine config: %v", err)
	}
	if engineCfg.Policy != sale.PolicyExactMatch {
		t.Fatalf("policy default = %v, want exact", engineCfg.Policy)
	}
	if engineCfg.RedeemMode != sale.RedeemThroughVault {
		t.Fatalf("redeem mode default = %v, want vault", engineCfg.RedeemMode)
	}
	if engineCfg.SweepOffset != 365*24*3600 {
		t.Fatalf("sweep offset default = %d", engineCfg.SweepOffset)
	}
}

func TestLoadRejectsBadPolicy(t *testing.T) {
	if _, err := Load(writeTestConfig(t, `Policy = "dutch-auction"`)); err == nil {
		t.Fatal("expected unknown policy to fail validation")
	}
}

func TestLoadRejectsBadAddress(t *testing.T) {
	body := `
Administrator = "not-an-address"
Governance = "also-bad"
`
	path := filepath.Join(t.TempDir(), "deployment.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected malformed addresses to fail validation")
	}
}

func TestLoadRejectsNonDecimalPrice(t *testing.T) {
	if _, err := Load(writeTestConfig(t, `RateScale = "1.5"`)); err == nil {
		t.Fatal("expected fractional rate scale to fail validation")
	}
}
