// Command server runs the portfolio aggregation protocol service.
//
// The service owns the ledger: provider submissions, round lifecycle,
// decryption requests and the oracle callback endpoint. Administrative
// routes under /admin act as the ledger owner and are guarded by the admin
// token.
//
// # Oracle trust
//
// The trusted oracle identity is configured with --oracle-pubkey, or
// registered at runtime through POST /admin/oracle with a signed, attested
// registration blob fetched from the oracle's /registration-data endpoint.
//
// # Usage
//
//	go run ./cmd/server --oracle=http://localhost:8082 --oracle-pubkey=<hex> \
//	    --engine-key=<hex> --admin-token=admin:secret
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
	"github.com/ruteri/portfolio-oracle/protocol"
	"github.com/ruteri/portfolio-oracle/services"
)

func main() {
	var (
		configPath    = flag.String("config", "", "Path to yaml config file")
		addr          = flag.String("addr", ":8081", "HTTP listen address")
		metricsAddr   = flag.String("metrics-addr", "", "Metrics listen address (empty disables)")
		adminToken    = flag.String("admin-token", "", "Admin token (user:password)")
		oracleURL     = flag.String("oracle", "", "Decryption oracle base URL")
		oraclePubkey  = flag.String("oracle-pubkey", "", "Trusted oracle public key (hex)")
		engineKeyHex  = flag.String("engine-key", "", "Shared engine key (hex)")
		signingKeyHex = flag.String("signing-key", "", "Ed25519 instance key (hex, generates if empty)")
		cooldownSecs  = flag.Int64("cooldown", 60, "Cooldown between submissions and decryption requests, in seconds")
		useTDX        = flag.Bool("tdx", false, "Verify oracle registrations with real TDX attestation")
		remoteTDXURL  = flag.String("tdx-url", "", "Remote TDX attestation service URL")
		enablePprof   = flag.Bool("pprof", false, "Enable pprof debugging API")
	)
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stderr, nil)).With("service", "protocol")

	fileCfg, err := common.LoadFileConfig(*configPath)
	if err != nil {
		fatal(log, "config error", err)
	}
	applyDefault(addr, fileCfg.ListenAddr)
	applyDefault(metricsAddr, fileCfg.MetricsAddr)
	applyDefault(adminToken, fileCfg.AdminToken)
	applyDefault(oracleURL, fileCfg.OracleURL)
	applyDefault(oraclePubkey, fileCfg.OraclePublicKey)
	applyDefault(engineKeyHex, fileCfg.EngineKey)
	if *cooldownSecs == 60 && fileCfg.CooldownSeconds != 0 {
		*cooldownSecs = fileCfg.CooldownSeconds
	}

	if *oracleURL == "" {
		fatal(log, "missing flag", fmt.Errorf("--oracle is required"))
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
	instanceKey, _ := signingKey.PublicKey()
	log.Info("protocol instance identity", "publicKey", instanceKey.String())

	var oraclePK crypto.PublicKey
	if *oraclePubkey != "" {
		if oraclePK, err = crypto.NewPublicKeyFromString(*oraclePubkey); err != nil {
			fatal(log, "oracle pubkey error", err)
		}
	}
	verifier := oracle.NewVerifier(oraclePK)
	oracleClient := services.NewOracleClient(*oracleURL, verifier)

	ledger, err := protocol.NewLedger(&protocol.Config{
		Owner:      protocol.Address(instanceKey.String()),
		Cooldown:   time.Duration(*cooldownSecs) * time.Second,
		InstanceID: instanceKey.Bytes(),
	}, engine, oracleClient)
	if err != nil {
		fatal(log, "ledger error", err)
	}

	var store services.ResultStore
	if fileCfg.Postgres != nil {
		if store, err = services.NewPostgresStore(fileCfg.Postgres); err != nil {
			fatal(log, "postgres error", err)
		}
	} else {
		log.Info("no postgres configured, using in-memory store")
		store = services.NewInMemoryStore()
	}
	defer store.Close()

	svc, err := services.NewService(ledger, store, verifier, &services.ServiceConfig{
		AdminToken:          *adminToken,
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

func applyDefault(flagValue *string, fileValue string) {
	if *flagValue == "" {
		*flagValue = fileValue
	}
}

func fatal(log *slog.Logger, msg string, err error) {
	log.Error(msg, "err", err)
	os.Exit(1)
}
