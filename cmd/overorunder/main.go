package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ozturkozgurm/overorunder/internal/api"
	"github.com/ozturkozgurm/overorunder/internal/billing"
	"github.com/ozturkozgurm/overorunder/internal/config"
	"github.com/ozturkozgurm/overorunder/internal/content"
	"github.com/ozturkozgurm/overorunder/internal/engine"
	"github.com/ozturkozgurm/overorunder/internal/entitlement"
	"github.com/ozturkozgurm/overorunder/internal/feed"
	"github.com/ozturkozgurm/overorunder/internal/logging"
	"github.com/ozturkozgurm/overorunder/internal/models"
	"github.com/ozturkozgurm/overorunder/internal/payments"
	livesignal "github.com/ozturkozgurm/overorunder/internal/signal"
	"github.com/ozturkozgurm/overorunder/internal/store"
	"github.com/ozturkozgurm/overorunder/internal/unlock"
	"github.com/ozturkozgurm/overorunder/internal/websocket"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "overorunder",
	Short:   "Over/Under content gating server",
	Long:    `Over/Under serves daily prediction content behind a trial, subscription and unlock-quota gate, with live signal delivery over WebSocket`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(keygenCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("overorunder %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an Ed25519 billing signing keypair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := billing.GenerateSigningKey()
		if err != nil {
			return err
		}
		fmt.Printf("OOU_BILLING_PUBLIC_KEY=%s\n", base64.StdEncoding.EncodeToString(pub))
		fmt.Printf("OOU_BILLING_SIGNING_KEY=%s\n", base64.StdEncoding.EncodeToString(priv))
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Baseline logger for early startup lines.
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "overorunder",
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "overorunder",
	})

	log.Info().Str("version", Version).Msg("Starting over/under gating server")

	persist, err := store.New(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to open state store")
	}

	mem, verifier, err := buildBilling(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up billing boundary")
	}

	var recorder entitlement.PaymentRecorder
	if cfg.PaymentSinkURL != "" {
		recorder = payments.NewSink(cfg.PaymentSinkURL)
	}

	svc, err := entitlement.NewService(entitlement.Options{
		Billing:       mem,
		Verifier:      verifier,
		Store:         persist,
		Recorder:      recorder,
		SettleTimeout: cfg.PurchaseSettleTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up entitlement store")
	}

	var source content.Source
	if cfg.ContentBaseURL != "" {
		source = content.NewHTTPSource(cfg.ContentBaseURL)
	} else {
		log.Warn().Msg("OOU_CONTENT_URL not set, every feed day will be empty")
		source = emptySource{}
	}

	ledger := unlock.NewLedger(persist)
	pipeline := livesignal.NewPipeline(persist, cfg.RecoveryGraceDelay)

	eng := engine.New(engine.Options{
		Store:        persist,
		Entitlements: svc,
		Ledger:       ledger,
		Pipeline:     pipeline,
		Assembler:    feed.NewAssembler(source, ledger, pipeline),
		TrialPeriod:  cfg.TrialPeriod,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	wsHub := websocket.NewHub(eng)
	go wsHub.Run(ctx)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.ListenHost, cfg.ListenPort),
		Handler:           api.NewRouter(eng, wsHub),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-engineDone:
		log.Error().Err(err).Msg("Engine stopped unexpectedly, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	cancel()

	log.Info().Msg("Shutdown complete")
}

// buildBilling wires the in-process billing boundary. With configured keys the
// verifier only trusts the operator's public key; without them a throwaway
// keypair is generated so dev instances work out of the box.
func buildBilling(cfg *config.Config) (*billing.Memory, *entitlement.Verifier, error) {
	signingKey := os.Getenv("OOU_BILLING_SIGNING_KEY")

	if signingKey != "" {
		raw, err := base64.StdEncoding.DecodeString(signingKey)
		if err != nil {
			return nil, nil, fmt.Errorf("decode OOU_BILLING_SIGNING_KEY: %w", err)
		}
		if len(raw) != ed25519.PrivateKeySize {
			return nil, nil, fmt.Errorf("billing signing key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
		}
		priv := ed25519.PrivateKey(raw)

		verifier, err := entitlement.NewVerifier(cfg.BillingPublicKey)
		if err != nil {
			return nil, nil, err
		}
		if cfg.BillingPublicKey == "" {
			verifier = entitlement.NewVerifierFromKey(priv.Public().(ed25519.PublicKey))
		}
		return billing.NewMemory(priv, nil), verifier, nil
	}

	log.Warn().Msg("OOU_BILLING_SIGNING_KEY not set, generating throwaway keypair")
	pub, priv, err := billing.GenerateSigningKey()
	if err != nil {
		return nil, nil, err
	}
	return billing.NewMemory(priv, nil), entitlement.NewVerifierFromKey(pub), nil
}

// emptySource stands in when no content URL is configured.
type emptySource struct{}

func (emptySource) Fetch(ctx context.Context, dateKey string) ([]models.ContentItem, error) {
	return nil, content.ErrNotFound
}
