package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ruteri/portfolio-oracle/crypto"
	"github.com/ruteri/portfolio-oracle/oracle"
	"github.com/ruteri/portfolio-oracle/protocol"
)

// OracleClient implements protocol.DecryptionOracle against a remote HTTP
// oracle: requests go to the oracle's /decrypt endpoint and proofs are
// verified locally against the trusted oracle identity.
type OracleClient struct {
	baseURL    string
	httpClient *http.Client
	verifier   *oracle.Verifier
}

// NewOracleClient creates a client for the oracle at baseURL. The verifier
// is shared with the protocol service so oracle re-registration updates the
// trusted identity everywhere.
func NewOracleClient(baseURL string, verifier *oracle.Verifier) *OracleClient {
	return &OracleClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		verifier:   verifier,
	}
}

// RequestDecryption submits the ordered ciphertext handles to the oracle and
// returns the oracle-issued request id. The oracle delivers its response
// asynchronously to the protocol's callback endpoint.
func (c *OracleClient) RequestDecryption(ctx context.Context, handles []crypto.Ciphertext) (protocol.RequestID, error) {
	body, err := json.Marshal(&oracle.DecryptionRequestBody{Handles: handles})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/decrypt", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("oracle rejected request (%d): %s", resp.StatusCode, string(respBody))
	}

	decoded, err := protocol.DecodeMessage[oracle.DecryptionRequestResponse](resp.Body)
	if err != nil {
		return 0, fmt.Errorf("decoding oracle response: %w", err)
	}
	return decoded.RequestID, nil
}

// VerifyProof checks the oracle's proof against the trusted identity.
func (c *OracleClient) VerifyProof(requestID protocol.RequestID, cleartexts [][]byte, proof []byte) bool {
	return c.verifier.VerifyProof(requestID, cleartexts, proof)
}
