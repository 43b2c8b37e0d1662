package protocol

import "time"

// SetOwner transfers ownership. The new owner is also granted the provider
// role; the previous owner keeps any provider role it already had.
func (l *Ledger) SetOwner(caller, newOwner Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	old := l.owner
	l.owner = newOwner
	l.providers[newOwner] = true
	l.emit(OwnerChanged{Old: old, New: newOwner})
	return nil
}

// AddProvider grants addr the provider role.
func (l *Ledger) AddProvider(caller, addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	l.providers[addr] = true
	l.emit(ProviderAdded{Provider: addr})
	return nil
}

// RemoveProvider revokes addr's provider role. Prior submissions from addr
// stay aggregated; revocation is not retroactive.
func (l *Ledger) RemoveProvider(caller, addr Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	delete(l.providers, addr)
	l.emit(ProviderRemoved{Provider: addr})
	return nil
}

// SetPaused flips the pause switch. While paused, all state-mutating
// protocol operations are rejected.
func (l *Ledger) SetPaused(caller Address, paused bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	old := l.paused
	l.paused = paused
	l.emit(PauseChanged{Old: old, New: paused})
	return nil
}

// SetCooldown updates the per-address cooldown applied to submissions and
// decryption requests.
func (l *Ledger) SetCooldown(caller Address, cooldown time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}

	old := l.cooldown
	l.cooldown = cooldown
	l.emit(CooldownChanged{Old: old, New: cooldown})
	return nil
}

// cooldownElapsed reports whether addr may act again according to the given
// last-action record. Callers must hold l.mu.
func (l *Ledger) cooldownElapsed(last map[Address]time.Time, addr Address) bool {
	at, ok := last[addr]
	if !ok {
		return true
	}
	return !at.Add(l.cooldown).After(l.now())
}
