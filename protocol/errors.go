package protocol

import "errors"

// Authorization failures.
var (
	// ErrNotOwner rejects administrative calls from anyone but the owner.
	ErrNotOwner = errors.New("caller is not the owner")

	// ErrNotProvider rejects submissions from addresses without the
	// provider role.
	ErrNotProvider = errors.New("caller is not a provider")
)

// Lifecycle failures.
var (
	// ErrPaused rejects all state-mutating operations while the system is
	// paused.
	ErrPaused = errors.New("protocol is paused")

	// ErrRoundClosedOrInvalid rejects operations against a round that is
	// not in the required lifecycle state or does not exist.
	ErrRoundClosedOrInvalid = errors.New("round closed or invalid")

	// ErrAlreadyClosedOrInvalid rejects closing a round that is already
	// closed or does not exist.
	ErrAlreadyClosedOrInvalid = errors.New("round already closed or invalid")
)

// Rate-limit failures.
var (
	// ErrCooldownActive rejects a submission or decryption request before
	// the caller's cooldown has elapsed.
	ErrCooldownActive = errors.New("cooldown active")
)

// Integrity failures.
var (
	// ErrNotInitialized rejects decryption of a round with no aggregates,
	// and callbacks for unknown request ids.
	ErrNotInitialized = errors.New("not initialized")

	// ErrStateMismatch rejects a callback whose bound ciphertexts no
	// longer match the round's aggregates.
	ErrStateMismatch = errors.New("aggregate state does not match decryption request")

	// ErrInvalidProof rejects a callback whose cleartexts and proof do not
	// verify for the request id.
	ErrInvalidProof = errors.New("invalid decryption proof")

	// ErrReplayAttempt rejects a callback for a request id that was
	// already consumed.
	ErrReplayAttempt = errors.New("decryption request already processed")
)
