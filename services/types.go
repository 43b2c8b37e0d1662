package services

import (
	"log/slog"

	"github.com/ruteri/portfolio-oracle/protocol"
	"github.com/ruteri/portfolio-oracle/tdx"
)

// ServiceConfig configures the protocol HTTP service.
type ServiceConfig struct {
	// AdminToken authenticates the operator on /admin routes, in
	// "user:password" form for basic auth. Empty disables the admin
	// surface.
	AdminToken string

	// AttestationProvider verifies oracle registrations. May be nil to
	// skip attestation verification (tests, local runs).
	AttestationProvider tdx.Provider

	Log *slog.Logger
}

// SubmissionRequest is the body of a provider submission, wrapped in a
// Signed envelope. The signer's public key is the provider address.
type SubmissionRequest struct {
	Update protocol.PortfolioUpdate `json:"update"`
}

// SubmissionResponse acknowledges an accepted submission.
type SubmissionResponse struct {
	Round protocol.RoundID `json:"round"`
}

// RoundStatusResponse reports a round's lifecycle state.
type RoundStatusResponse struct {
	Round           protocol.RoundID `json:"round"`
	Current         bool             `json:"current"`
	Closed          bool             `json:"closed"`
	HasAggregates   bool             `json:"has_aggregates"`
	ResultPublished bool             `json:"result_published"`
}

// RoundOpenedResponse carries the id of a newly opened round.
type RoundOpenedResponse struct {
	Round protocol.RoundID `json:"round"`
}

// DecryptionRequestedResponse carries the oracle-issued request id.
type DecryptionRequestedResponse struct {
	RequestID protocol.RequestID `json:"request_id"`
}

type setOwnerRequest struct {
	NewOwner string `json:"new_owner"`
}

type providerRequest struct {
	Address string `json:"address"`
}

type setPausedRequest struct {
	Paused bool `json:"paused"`
}

type setCooldownRequest struct {
	Seconds int64 `json:"seconds"`
}
