package sale

// transferableRole is a two-step handoff over one active/pending field pair.
// Proposing never affects the active holder; only the proposed successor may
// accept, which promotes it and vacates the pending slot. Both role pairs go
// through this one abstraction so the protocols cannot drift apart.
type transferableRole struct {
	active     *[20]byte
	pending    *[20]byte
	notHolder  error
	notPending error
}

func administratorRole(r *Roles) transferableRole {
	return transferableRole{
		active:     &r.Administrator,
		pending:    &r.PendingAdministrator,
		notHolder:  ErrNotAdministrator,
		notPending: ErrNotPendingAdministrator,
	}
}

func governanceRole(r *Roles) transferableRole {
	return transferableRole{
		active:     &r.Governance,
		pending:    &r.PendingGovernance,
		notHolder:  ErrNotGovernance,
		notPending: ErrNotPendingGovernance,
	}
}

func (t transferableRole) propose(caller, successor [20]byte) error {
	if caller != *t.active {
		return t.notHolder
	}
	*t.pending = successor
	return nil
}

// accept promotes the pending holder. The vacant pending slot (zero address)
// never matches a caller, so accept on an unproposed role always fails.
func (t transferableRole) accept(caller [20]byte) error {
	if *t.pending == ([20]byte{}) || caller != *t.pending {
		return t.notPending
	}
	*t.active = caller
	*t.pending = [20]byte{}
	return nil
}
