// Command vcpaudit runs the ingestion service: it loads configuration,
// initializes the signer, replays the persisted event log, and serves the
// HTTP API while the anchor scheduler runs in the background. Entrypoint
// wiring (flag-based config root, signal-driven graceful shutdown) is
// grounded on services/audit/cmd/audit/main.go.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ap3pp3rs94/vcp-audit/internal/anchor"
	"github.com/Ap3pp3rs94/vcp-audit/internal/chain"
	"github.com/Ap3pp3rs94/vcp-audit/internal/httpapi"
	"github.com/Ap3pp3rs94/vcp-audit/internal/merkle"
	"github.com/Ap3pp3rs94/vcp-audit/internal/signer"
	"github.com/Ap3pp3rs94/vcp-audit/internal/store"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcpconfig"
	"github.com/Ap3pp3rs94/vcp-audit/internal/vcplog"

	// The SQL mirror is optional and off by default (no sql_mirror_dsn
	// configured); the driver is blank-imported here, at the entrypoint,
	// never in internal/store, matching the teacher lineage's convention
	// of keeping storage packages database/sql-only.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
)

func main() {
	configRoot := flag.String("config", "./config", "configuration root directory")
	env := flag.String("env", "", "configuration environment overlay (e.g. prod)")
	tenant := flag.String("tenant", "", "configuration tenant overlay")
	flag.Parse()

	log := vcplog.NewDefaultLogger(os.Stdout, "vcpaudit")

	svc, _, err := vcpconfig.Load(vcpconfig.Options{
		Root:               *configRoot,
		Env:                *env,
		Tenant:             *tenant,
		EnableEnvOverrides: true,
	})
	if err != nil {
		log.Fatal("config load failed", vcplog.F("error", err.Error()))
	}
	if svc.ListenAddr == "" {
		svc.ListenAddr = ":8080"
	}
	if svc.DataDir == "" {
		svc.DataDir = "./data"
	}

	sgnr, err := loadOrGenerateSigner(svc, log)
	if err != nil {
		// Per spec section 7, an unreadable/missing private key at
		// startup is fatal: the pipeline must never accept events
		// without a ready signer.
		log.Fatal("signer initialization failed", vcplog.F("error", err.Error()))
	}

	eventLogPath := svc.DataDir + "/events.log"
	eventLog, err := store.OpenEventLog(eventLogPath)
	if err != nil {
		log.Fatal("failed to open event log", vcplog.F("error", err.Error()))
	}

	replayed, err := store.Replay(eventLogPath)
	if err != nil {
		// Corrupt log detected during replay is fatal, per spec section 7.
		log.Fatal("event log replay failed, refusing to start", vcplog.F("error", err.Error()))
	}
	acc, tail, nextIndex, err := chain.Rebuild(replayed)
	if err != nil {
		log.Fatal("event log failed re-verification on replay", vcplog.F("error", err.Error()))
	}
	if acc == nil {
		acc = merkle.New()
	}

	c := chain.New(sgnr, acc, eventLog)
	c.Resume(tail, nextIndex)
	log.Info("replay complete", vcplog.F("events_replayed", len(replayed)))

	anchorStore, err := store.OpenAnchorStore(svc.DataDir + "/anchors")
	if err != nil {
		log.Fatal("failed to open anchor store", vcplog.F("error", err.Error()))
	}

	providerID := svc.Anchor.Provider
	if providerID == "" {
		providerID = "local"
	}
	provider, err := anchor.New(providerID, anchor.Config{
		TSAURL:     svc.Anchor.TSAURL,
		BitcoinRPC: svc.Anchor.BitcoinRPC,
	})
	if err != nil {
		log.Fatal("unknown anchor provider", vcplog.F("provider", providerID))
	}

	sched := anchor.NewScheduler(c, anchorStore, provider, log)
	schedCtx, cancelSched := context.WithCancel(context.Background())
	defer cancelSched()
	if err := sched.Start(schedCtx, cronSpecForTier(svc.Anchor.IntervalCount)); err != nil {
		log.Fatal("failed to start anchor scheduler", vcplog.F("error", err.Error()))
	}

	srv := httpapi.NewServer(c, sched, sgnr, anchorStore, log, buildVersion, tierOrDefault(svc))
	srv.PolicyID = svc.PolicyID
	srv.WebhookSecret = svc.WebhookSecret
	if srv.WebhookSecret == "" {
		log.Warn("webhook_secret not configured, webhook signature check disabled")
	}
	srv.IndexReplayed(replayed)

	httpSrv := &http.Server{
		Addr:              svc.ListenAddr,
		Handler:           httpapi.NewRouter(srv),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("vcpaudit listening", vcplog.F("addr", httpSrv.Addr), vcplog.F("version", buildVersion), vcplog.F("commit", buildCommit))
		errCh <- httpSrv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", vcplog.F("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", vcplog.F("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	cancelSched()
	_ = eventLog.Close()
	log.Info("vcpaudit stopped")
}

func loadOrGenerateSigner(svc vcpconfig.Service, log *vcplog.Logger) (*signer.Signer, error) {
	if svc.SigningKey == "" {
		log.Warn("no signing_key_path configured, generating an ephemeral key (development only)")
		return signer.Generate()
	}
	sgnr, err := signer.LoadFromFiles(svc.SigningKey, svc.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("load signer from %s: %w", svc.SigningKey, err)
	}
	return sgnr, nil
}

// cronSpecForTier maps the configured anchor interval (in event count, not
// time) to a standard five-field cron spec. The scheduler itself is tick
// driven rather than count driven per spec section 4.E ("periodic task at
// a tier-configured interval"); interval_count is retained in config for
// providers that want to skip ticks with nothing new to cover (Scheduler's
// attempt() already no-ops when the tree hasn't grown), while the cron
// cadence below matches the Silver/Gold/Platinum defaults from spec
// section 4.E.
func cronSpecForTier(intervalCount int) string {
	switch {
	case intervalCount > 0 && intervalCount <= 100:
		return "*/5 * * * *" // Platinum: every 5 minutes
	case intervalCount > 100 && intervalCount <= 10000:
		return "0 * * * *" // Gold: hourly
	default:
		return "0 0 * * *" // Silver: daily
	}
}

func tierOrDefault(svc vcpconfig.Service) string {
	if svc.Tier != "" {
		return svc.Tier
	}
	return "GOLD"
}
