// Command oracle runs the decryption oracle service.
//
// The oracle holds the shared engine key. It accepts decryption requests
// from the protocol service on /decrypt, issues request ids immediately and
// delivers signed results to the protocol's callback endpoint in the
// background. Its identity key and endpoint are published on
// /registration-data as a signed, optionally attested registration blob.
//
// # Usage
//
//	go run ./cmd/oracle --engine-key=<hex> \
//	    --callback-url=http://localhost:8081/oracle/callback \
//	    --public-endpoint=http://localhost:8082
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/portfolio-oracle/api/httpserver"
	"github.com/ruteri/portfolio-oracle/cmd/common"
	"github.com/ruteri/portfolio-oracle/crypto"
	"github.com/ruteri/portfolio-oracle/oracle"
)

func main() {
	var (
		addr           = flag.String("addr", ":8082", "HTTP listen address")
		metricsAddr    = flag.String("metrics-addr", "", "Metrics listen address (empty disables)")
		engineKeyHex   = flag.String("engine-key", "", "Shared engine key (hex)")
		signingKeyHex  = flag.String("signing-key", "", "Ed25519 identity key (hex, generates if empty)")
		callbackURL    = flag.String("callback-url", "", "Protocol service callback URL")
		publicEndpoint = flag.String("public-endpoint", "", "Externally reachable base URL of this oracle")
		useTDX         = flag.Bool("tdx", false, "Attest the oracle identity with real TDX quotes")
		remoteTDXURL   = flag.String("tdx-url", "", "Remote TDX attestation service URL")
		enablePprof    = flag.Bool("pprof", false, "Enable pprof debugging API")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "oracle")

	if *callbackURL == "" {
		fatal(log, "missing flag", fmt.Errorf("--callback-url is required"))
	}

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

	o, err := oracle.New(engine, signingKey)
	if err != nil {
		fatal(log, "oracle error", err)
	}
	log.Info("oracle identity", "publicKey", o.PublicKey().String())

	svc, err := oracle.NewService(o, signingKey, &oracle.ServiceConfig{
		CallbackURL:         *callbackURL,
		PublicEndpoint:      *publicEndpoint,
		AttestationProvider: common.NewAttestationProvider(*useTDX, *remoteTDXURL),
		Log:                 log,
	})
	if err != nil {
		fatal(log, "service error", err)
	}

	srv, err := httpserver.New(&httpserver.Config{
		ListenAddr:               *addr,
		MetricsAddr:              *metricsAddr,
		EnablePprof:              *enablePprof,
		Log:                      log,
		DrainDuration:            5 * time.Second,
		GracefulShutdownDuration: 10 * time.Second,
		ReadTimeout:              15 * time.Second,
		WriteTimeout:             15 * time.Second,
	}, svc)
	if err != nil {
		fatal(log, "server error", err)
	}

	srv.RunInBackground()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	srv.Shutdown()
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
