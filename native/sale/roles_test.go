package sale

import (
	"errors"
	"math/big"
	"testing"
)

func TestAdministratorHandoffProtocol(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	successor := testAddress(0x11)

	if err := env.engine.ProposeAdministrator(strangerAddr, successor); !errors.Is(err, ErrNotAdministrator) {
		t.Fatalf("stranger proposal: got %v, want not administrator", err)
	}
	if err := env.engine.ProposeAdministrator(adminAddr, successor); err != nil {
		t.Fatalf("proposal: %v", err)
	}
	// Proposing does not affect the active role.
	if err := env.engine.SetCommitment(adminAddr, buyerAddr, big.NewInt(1)); err != nil {
		t.Fatalf("admin still active: %v", err)
	}
	if err := env.engine.AcceptAdministrator(strangerAddr); !errors.Is(err, ErrNotPendingAdministrator) {
		t.Fatalf("stranger accept: got %v, want not pending", err)
	}
	if err := env.engine.AcceptAdministrator(successor); err != nil {
		t.Fatalf("accept: %v", err)
	}

	roles, err := env.engine.Roles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if roles.Administrator != successor {
		t.Fatal("successor did not become administrator")
	}
	if roles.PendingAdministrator != ([20]byte{}) {
		t.Fatal("pending slot not vacated after acceptance")
	}
	// The old administrator lost the role entirely.
	if err := env.engine.SetCommitment(adminAddr, buyerAddr, big.NewInt(2)); !errors.Is(err, ErrNotAdministrator) {
		t.Fatalf("old admin: got %v, want not administrator", err)
	}
	if err := env.engine.SetCommitment(successor, buyerAddr, big.NewInt(2)); err != nil {
		t.Fatalf("new admin: %v", err)
	}
}

func TestAcceptWithoutProposalFails(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	if err := env.engine.AcceptAdministrator(strangerAddr); !errors.Is(err, ErrNotPendingAdministrator) {
		t.Fatalf("got %v, want not pending administrator", err)
	}
	if err := env.engine.AcceptGovernance(strangerAddr); !errors.Is(err, ErrNotPendingGovernance) {
		t.Fatalf("got %v, want not pending governance", err)
	}
}

func TestGovernanceHandoffProtocol(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	successor := testAddress(0x12)

	if err := env.engine.ProposeGovernance(adminAddr, successor); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("admin proposal: got %v, want not governance", err)
	}
	if err := env.engine.ProposeGovernance(govAddr, successor); err != nil {
		t.Fatalf("proposal: %v", err)
	}
	if err := env.engine.AcceptGovernance(successor); err != nil {
		t.Fatalf("accept: %v", err)
	}
	roles, _ := env.engine.Roles()
	if roles.Governance != successor || roles.PendingGovernance != ([20]byte{}) {
		t.Fatal("governance handoff left inconsistent role state")
	}
	// Lifecycle powers follow the role.
	if err := env.engine.StartVesting(govAddr, env.clock+100); !errors.Is(err, ErrNotGovernance) {
		t.Fatalf("old governance: got %v, want not governance", err)
	}
	if err := env.engine.StartVesting(successor, env.clock+100); err != nil {
		t.Fatalf("new governance: %v", err)
	}
}

func TestGovernanceMayAppointAdministrator(t *testing.T) {
	env := newTestEnv(t, defaultConfig())
	operator := testAddress(0x13)
	if err := env.engine.ProposeAdministrator(govAddr, operator); err != nil {
		t.Fatalf("governance appointment: %v", err)
	}
	if err := env.engine.AcceptAdministrator(operator); err != nil {
		t.Fatalf("accept: %v", err)
	}
	roles, _ := env.engine.Roles()
	if roles.Administrator != operator {
		t.Fatal("appointed operator did not become administrator")
	}
}
