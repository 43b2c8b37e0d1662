// Command client is a provider-side CLI for the portfolio protocol.
//
// It encrypts the six portfolio values with the shared engine key, wraps
// them in a signed submission and posts it to the protocol service. The
// signing key is the provider's identity; its public key must have been
// added as a provider on the ledger.
//
// # Usage
//
//	go run ./cmd/client --service=http://localhost:8081 \
//	    --engine-key=<hex> --signing-key=<hex> \
//	    --value=100 --risk=3 --target1=60 --target2=40 --current1=50 --current2=50
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"time"

	"github.com/ruteri/portfolio-oracle/cmd/common"
	"github.com/ruteri/portfolio-oracle/crypto"
	"github.com/ruteri/portfolio-oracle/protocol"
	"github.com/ruteri/portfolio-oracle/services"
)

func main() {
	var (
		serviceURL    = flag.String("service", "http://localhost:8081", "Protocol service base URL")
		engineKeyHex  = flag.String("engine-key", "", "Shared engine key (hex)")
		signingKeyHex = flag.String("signing-key", "", "Ed25519 provider key (hex, generates if empty)")
		totalValue    = flag.Int64("value", 0, "Total portfolio value")
		risk          = flag.Int64("risk", 0, "Risk preference")
		target1       = flag.Int64("target1", 0, "Target allocation for asset 1")
		target2       = flag.Int64("target2", 0, "Target allocation for asset 2")
		current1      = flag.Int64("current1", 0, "Current allocation for asset 1")
		current2      = flag.Int64("current2", 0, "Current allocation for asset 2")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))

	engineKey, err := common.LoadEngineKey(*engineKeyHex)
	if err != nil {
		fatal(log, "engine key error", err)
	}
	engine, err := crypto.NewMaskedEngine(engineKey)
	if err != nil {
		fatal(log, "engine error", err)
	}

	signingKey, err := common.LoadOrGenerateSigningKey(*signingKeyHex)
	if err != nil {
		fatal(log, "signing key error", err)
	}
	pubKey, _ := signingKey.PublicKey()
	log.Info("submitting as provider", "address", pubKey.String())

	update := protocol.PortfolioUpdate{}
	for _, field := range []struct {
		dst   *crypto.Ciphertext
		value int64
	}{
		{&update.TotalValue, *totalValue},
		{&update.RiskPreference, *risk},
		{&update.TargetAllocation1, *target1},
		{&update.TargetAllocation2, *target2},
		{&update.CurrentAllocation1, *current1},
		{&update.CurrentAllocation2, *current2},
	} {
		ct, err := engine.Encrypt(big.NewInt(field.value))
		if err != nil {
			fatal(log, "encryption error", err)
		}
		*field.dst = ct
	}

	signed, err := protocol.NewSigned(signingKey, &services.SubmissionRequest{Update: update})
	if err != nil {
		fatal(log, "signing error", err)
	}

	body, err := json.Marshal(signed)
	if err != nil {
		fatal(log, "encoding error", err)
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Post(*serviceURL+"/submit", "application/json", bytes.NewReader(body))
	if err != nil {
		fatal(log, "submission failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		fatal(log, "submission rejected", fmt.Errorf("status %d: %s", resp.StatusCode, buf.String()))
	}

	var ack services.SubmissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		fatal(log, "decoding response", err)
	}
	log.Info("submission accepted", "round", ack.Round)
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
