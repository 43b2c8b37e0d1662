package protocol

// OpenNewRound allocates currentID+1 as the new current round. The previous
// round keeps whatever state it is in; only the current round accepts
// submissions. Earlier rounds remain queryable.
func (l *Ledger) OpenNewRound(caller Address) (RoundID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return 0, ErrNotOwner
	}
	if l.paused {
		return 0, ErrPaused
	}

	l.currentRound++
	l.emit(RoundOpened{Round: l.currentRound})
	return l.currentRound, nil
}

// CloseCurrentRound closes the current round. Closed is terminal: the
// round's aggregates are frozen and no code path mutates them afterwards.
func (l *Ledger) CloseCurrentRound(caller Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return ErrNotOwner
	}
	if l.paused {
		return ErrPaused
	}
	if l.currentRound == 0 || l.closedRounds[l.currentRound] {
		return ErrAlreadyClosedOrInvalid
	}

	l.closedRounds[l.currentRound] = true
	l.emit(RoundClosed{Round: l.currentRound})
	return nil
}
