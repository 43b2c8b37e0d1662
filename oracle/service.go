package oracle

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/portfolio-oracle/crypto"
	"github.com/ruteri/portfolio-oracle/protocol"
	"github.com/ruteri/portfolio-oracle/tdx"
)

// ServiceConfig configures the HTTP oracle service.
type ServiceConfig struct {
	// CallbackURL is the protocol service's oracle callback endpoint.
	CallbackURL string

	// PublicEndpoint is this oracle's externally reachable base URL,
	// bound into its attestation report data.
	PublicEndpoint string

	// AttestationProvider attests the oracle's identity. May be nil, in
	// which case registration data carries no attestation.
	AttestationProvider tdx.Provider

	Log *slog.Logger
}

// DecryptionRequestBody is the wire form of a decryption request.
type DecryptionRequestBody struct {
	Handles []crypto.Ciphertext `json:"handles"`
}

// DecryptionRequestResponse carries the oracle-issued request id.
type DecryptionRequestResponse struct {
	RequestID protocol.RequestID `json:"request_id"`
}

// Registration is the oracle's signed identity blob: an administrator
// fetches it from the oracle and forwards it to the protocol service, which
// verifies the attestation before trusting the identity for callbacks.
type Registration struct {
	PublicKey   string `json:"public_key"`
	Endpoint    string `json:"endpoint"`
	Attestation []byte `json:"attestation"`
}

// Service exposes the oracle over HTTP. Decryption requests are answered
// asynchronously: the service issues a request id immediately and delivers
// the proven result to the protocol's callback endpoint in the background.
type Service struct {
	oracle     *Oracle
	signingKey crypto.PrivateKey
	cfg        *ServiceConfig
	httpClient *http.Client
	log        *slog.Logger
}

// NewService creates the HTTP oracle service.
func NewService(o *Oracle, signingKey crypto.PrivateKey, cfg *ServiceConfig) (*Service, error) {
	if o == nil {
		return nil, fmt.Errorf("oracle cannot be nil")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		oracle:     o,
		signingKey: signingKey,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}, nil
}

// RegisterRoutes registers the oracle's routes.
func (s *Service) RegisterRoutes(r chi.Router) {
	r.Post("/decrypt", s.handleDecrypt)
	r.Get("/registration-data", s.handleRegistrationData)
}

func (s *Service) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var body DecryptionRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	requestID, err := s.oracle.RequestDecryption(r.Context(), body.Handles)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	go s.deliver(requestID)

	json.NewEncoder(w).Encode(&DecryptionRequestResponse{RequestID: requestID})
}

// deliver decrypts the request and posts the signed result to the callback
// endpoint. Failures are logged; the request stays pending so the protocol
// owner can trigger a fresh request against the same closed round.
func (s *Service) deliver(requestID protocol.RequestID) {
	result, err := s.oracle.Respond(requestID)
	if err != nil {
		s.log.Error("could not produce decryption result", "requestID", requestID, "err", err)
		return
	}

	signed, err := protocol.NewSigned(s.signingKey, result)
	if err != nil {
		s.log.Error("could not sign decryption result", "requestID", requestID, "err", err)
		return
	}

	body, _ := json.Marshal(signed)
	resp, err := s.httpClient.Post(s.cfg.CallbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.log.Error("callback delivery failed", "requestID", requestID, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.log.Error("callback rejected", "requestID", requestID, "status", resp.StatusCode)
		return
	}
	s.log.Info("decryption result delivered", "requestID", requestID)
}

func (s *Service) handleRegistrationData(w http.ResponseWriter, r *http.Request) {
	reg := &Registration{
		PublicKey: s.oracle.PublicKey().String(),
		Endpoint:  s.cfg.PublicEndpoint,
	}

	if s.cfg.AttestationProvider != nil {
		var reportData [64]byte
		copy(reportData[:], ReportDataForOracle(s.oracle.PublicKey(), s.cfg.PublicEndpoint))
		attestation, err := s.cfg.AttestationProvider.Attest(reportData)
		if err != nil {
			http.Error(w, fmt.Errorf("could not attest registration: %w", err).Error(), http.StatusInternalServerError)
			return
		}
		reg.Attestation = attestation
	}

	signed, err := protocol.NewSigned(s.signingKey, reg)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(signed)
}

// ReportDataForOracle computes the attestation report data binding the
// oracle's identity key and endpoint.
func ReportDataForOracle(pubKey crypto.PublicKey, endpoint string) []byte {
	hash := sha256.New()
	hash.Write(pubKey.Bytes())
	hash.Write([]byte(endpoint))
	return hash.Sum(nil)
}

// VerifyRegistration checks a signed oracle registration: the signer must be
// the claimed identity and, when a provider is configured, the attestation
// must verify for the report data binding that identity and endpoint.
func VerifyRegistration(provider tdx.Provider, signed *protocol.Signed[Registration]) (*Registration, error) {
	reg, signer, err := signed.Recover()
	if err != nil {
		return nil, fmt.Errorf("could not recover registration signature: %w", err)
	}
	if signer.String() != reg.PublicKey {
		return nil, fmt.Errorf("signer does not match claimed oracle key")
	}

	if provider != nil {
		if len(reg.Attestation) == 0 {
			return nil, fmt.Errorf("no attestation data")
		}
		pubKey, err := crypto.NewPublicKeyFromString(reg.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("invalid public key: %w", err)
		}
		var reportData [64]byte
		copy(reportData[:], ReportDataForOracle(pubKey, reg.Endpoint))
		if _, err := provider.Verify(reg.Attestation, reportData); err != nil {
			return nil, fmt.Errorf("could not verify attestation: %w", err)
		}
	}
	return reg, nil
}
